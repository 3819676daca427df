package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/query"
)

// Scenario defines an oracle test: a mapping, the rows to seed and the
// queries whose engine results are compared with the in-memory evaluator.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden
	// file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Mapping is the directory of CUE entity specs.
	// Relative paths are resolved against the scenario file location.
	Mapping string `yaml:"mapping,omitempty"`

	// Schema holds CUE entity specs inline. Exactly one of Mapping and
	// Schema is set.
	Schema string `yaml:"schema,omitempty"`

	// Seed maps an entity name to its rows, each keyed by member name.
	// Entities are seeded in mapping order.
	Seed map[string][]map[string]any `yaml:"seed"`

	// Queries are evaluated in order against the seeded store.
	Queries []QueryStep `yaml:"queries"`
}

// QueryStep is one query of a scenario.
type QueryStep struct {
	// Name identifies the query in errors and golden files.
	Name string `yaml:"name"`

	// Query is the operator tree in query document form.
	Query query.Document `yaml:"query"`

	// Args are the named arguments of the query.
	Args map[string]any `yaml:"args,omitempty"`

	// Ordered compares sequences element by element instead of as
	// multisets. Set it for queries whose order is defined.
	Ordered bool `yaml:"ordered,omitempty"`

	// Expect, when present, is the value the engine must return, in
	// addition to agreeing with the oracle.
	Expect *yaml.Node `yaml:"expect,omitempty"`

	// Error, when set, is a substring of the error both the engine and
	// the oracle must report.
	Error string `yaml:"error,omitempty"`
}

// NamedArgs returns the step's arguments in name order.
func (q *QueryStep) NamedArgs() []query.NamedArg {
	out := make([]query.NamedArg, 0, len(q.Args))
	for _, name := range sortedKeys(q.Args) {
		out = append(out, query.Named(name, q.Args[name]))
	}
	return out
}

// Expected decodes Expect. ok is false when the step has no expectation.
func (q *QueryStep) Expected() (v any, ok bool, err error) {
	if q.Expect == nil {
		return nil, false, nil
	}
	if err := q.Expect.Decode(&v); err != nil {
		return nil, false, fmt.Errorf("query %s: expect: %w", q.Name, err)
	}
	return v, true, nil
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	// Resolve the mapping directory relative to the scenario BEFORE validation
	if scenario.Mapping != "" && !filepath.IsAbs(scenario.Mapping) {
		scenario.Mapping = filepath.Join(filepath.Dir(path), scenario.Mapping)
	}
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario decodes scenario YAML without validating it.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Mapping == "" && s.Schema == "":
		return fmt.Errorf("mapping or schema is required")
	case s.Mapping != "" && s.Schema != "":
		return fmt.Errorf("mapping and schema are mutually exclusive")
	}

	if s.Mapping != "" {
		if _, err := os.Stat(s.Mapping); os.IsNotExist(err) {
			return fmt.Errorf("mapping directory not found: %s", s.Mapping)
		}
	}

	if len(s.Queries) == 0 {
		return fmt.Errorf("queries list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Queries))
	for i, q := range s.Queries {
		if q.Name == "" {
			return fmt.Errorf("queries[%d]: name is required", i)
		}
		if seen[q.Name] {
			return fmt.Errorf("queries[%d]: duplicate name %q", i, q.Name)
		}
		seen[q.Name] = true
		if q.Query.Query.Op() == nil {
			return fmt.Errorf("queries[%d]: query is required", i)
		}
		if q.Expect != nil && q.Error != "" {
			return fmt.Errorf("queries[%d]: expect and error are mutually exclusive", i)
		}
	}

	return nil
}
