package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/mapping"
)

// Snapshot renders the command texts of every scenario query in every
// dialect, in query order.
func Snapshot(m *mapping.Mapping, scenario *Scenario) ([]byte, error) {
	var sb strings.Builder
	for i := range scenario.Queries {
		step := &scenario.Queries[i]
		for _, name := range dialect.Names() {
			lang, err := dialect.ByName(name)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&sb, "-- %s (%s)\n", step.Name, lang.Name)
			texts, err := Translate(m, lang, step.Query.Query.Op(), step.NamedArgs()...)
			if err != nil {
				fmt.Fprintf(&sb, "-- error: %v\n\n", err)
				continue
			}
			sb.WriteString(strings.Join(texts, ";\n\n"))
			sb.WriteString("\n\n")
		}
	}
	return []byte(sb.String()), nil
}

// RunWithGolden executes a scenario, fails the test on any mismatch and
// compares the command texts against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden.sql
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}

	m, err := LoadMapping(scenario)
	if err != nil {
		return err
	}
	snapshot, err := Snapshot(m, scenario)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden.sql"),
	)
	g.Assert(t, scenario.Name, snapshot)
	return nil
}
