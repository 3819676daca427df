package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/query"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "shop.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "shop", scenario.Name)
	assert.Equal(t, filepath.Join("testdata", "mapping"), scenario.Mapping, "resolved against the scenario file")
	assert.Len(t, scenario.Seed["Customer"], 4)

	byCity := scenario.Queries[1]
	assert.Equal(t, "by_city", byCity.Name)
	assert.True(t, byCity.Ordered)
	assert.Equal(t, []query.NamedArg{query.Named("city", "Oslo")}, byCity.NamedArgs())
	_, ok := byCity.Query.Query.Op().(query.OrderBy)
	assert.True(t, ok, "%s", byCity.Query.Query)

	want, ok, err := byCity.Expected()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, want, 2)
}

func TestLoadScenario_InlineSchema(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "filter.yaml"))
	require.NoError(t, err)
	assert.Empty(t, scenario.Mapping)
	assert.Contains(t, scenario.Schema, "entity: Customer")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "Misspelled field"
schema: "entity: A: {members: {id: {type: \"int\", pk: true}}}"
query:
  - name: q
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field query not found")
}

func TestLoadScenario_BadQueryDocument(t *testing.T) {
	path := writeScenario(t, `
name: bad
description: "Unknown op"
schema: "entity: A: {members: {id: {type: \"int\", pk: true}}}"
queries:
  - name: q
    query: {from: A, ops: [{frobnicate: 1}]}
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown op "frobnicate"`)
}

func TestValidateScenario(t *testing.T) {
	q := QueryStep{Name: "q", Query: query.Document{Query: query.FromEntity("A")}}
	tests := []struct {
		name     string
		scenario Scenario
		want     string
	}{
		{"no name", Scenario{Description: "d", Schema: "s", Queries: []QueryStep{q}}, "name is required"},
		{"no description", Scenario{Name: "n", Schema: "s", Queries: []QueryStep{q}}, "description is required"},
		{"no mapping", Scenario{Name: "n", Description: "d", Queries: []QueryStep{q}}, "mapping or schema is required"},
		{"both mappings", Scenario{Name: "n", Description: "d", Schema: "s", Mapping: ".", Queries: []QueryStep{q}}, "mutually exclusive"},
		{"missing dir", Scenario{Name: "n", Description: "d", Mapping: "/does/not/exist", Queries: []QueryStep{q}}, "mapping directory not found"},
		{"no queries", Scenario{Name: "n", Description: "d", Schema: "s"}, "queries list is required"},
		{"unnamed query", Scenario{Name: "n", Description: "d", Schema: "s", Queries: []QueryStep{{Query: q.Query}}}, "queries[0]: name is required"},
		{"duplicate query", Scenario{Name: "n", Description: "d", Schema: "s", Queries: []QueryStep{q, q}}, `duplicate name "q"`},
		{"empty query", Scenario{Name: "n", Description: "d", Schema: "s", Queries: []QueryStep{{Name: "q"}}}, "query is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateScenario(&tt.scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
