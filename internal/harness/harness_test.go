package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/query"
)

const tinySchema = `
entity: Item: {
	members: {
		id:    {type: "int", pk: true}
		label: {type: "string"}
		price: {type: "float", nullable: true}
	}
}
`

func tinyScenario(queries ...QueryStep) *Scenario {
	return &Scenario{
		Name:        "tiny",
		Description: "items",
		Schema:      tinySchema,
		Seed: map[string][]map[string]any{
			"Item": {
				{"id": 1, "label": "pen", "price": 1.5},
				{"id": 2, "label": "ink", "price": 4},
				{"id": 3, "label": "pad"},
			},
		},
		Queries: queries,
	}
}

func step(name string, q query.Query) QueryStep {
	return QueryStep{Name: name, Query: query.Document{Query: q}}
}

func TestRun_ShopScenario(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "shop.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	assert.True(t, result.Pass)
	assert.Len(t, result.Queries, len(scenario.Queries))
}

func TestRun_RecordsEngineAndOracle(t *testing.T) {
	result, err := Run(tinyScenario(
		step("labels", query.FromEntity("Item").
			Where(query.Fn("i", query.Ne(query.M("i.price"), nil))).
			Select(query.Fn("i", query.M("i.label")))),
	))
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)
	require.Len(t, result.Queries, 1)

	qr := result.Queries[0]
	assert.Equal(t, "labels", qr.Name)
	assert.Contains(t, qr.Text, `FROM "items"`)
	assert.Equal(t, []any{"ink", "pen"}, qr.Engine, "unordered results are sorted")
	assert.Equal(t, qr.Engine, qr.Oracle)
}

func TestRun_EmptyAggregatesAgree(t *testing.T) {
	none := query.FromEntity("Item").Where(query.Fn("i", query.Gt(query.M("i.price"), 100)))
	price := query.Fn("i", query.M("i.price"))
	label := query.Fn("i", query.M("i.label"))

	result, err := Run(tinyScenario(
		step("max", none.Max(price)),
		step("min", none.Min(price)),
		step("average", none.Average(price)),
		step("sum", none.Sum(price)),
		step("min_label", none.Select(label).Min()),
		step("first_label", none.Select(label).FirstOrDefault()),
		step("null_price", query.FromEntity("Item").
			Where(query.Fn("i", query.Eq(query.M("i.label"), "pad"))).Select(price).First()),
	))
	require.NoError(t, err)
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	require.Len(t, result.Queries, 7)
	for _, qr := range result.Queries[:4] {
		assert.Equal(t, int64(0), qr.Engine, qr.Name)
	}
	assert.Equal(t, "", result.Queries[4].Engine)
	assert.Equal(t, "", result.Queries[5].Engine)
	assert.Equal(t, int64(0), result.Queries[6].Engine)
}

func TestRun_ExpectationMismatchFails(t *testing.T) {
	s := step("count", query.FromEntity("Item").Count())
	s.Expect = yamlNode(t, "5")

	result, err := Run(tinyScenario(s))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "engine returned 3, expected 5")
}

func TestRun_ExpectedErrorMustOccur(t *testing.T) {
	s := step("first", query.FromEntity("Item").First())
	s.Error = "contains no elements"

	result, err := Run(tinyScenario(s))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 2, "neither side failed")
}

func TestRun_MissingArgument(t *testing.T) {
	s := step("priced", query.FromEntity("Item").Where(query.Fn("i", query.Gt(query.M("i.price"), query.Arg("min")))))
	s.Error = "missing argument"

	result, err := Run(tinyScenario(s))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_UnknownSeedEntity(t *testing.T) {
	s := tinyScenario(step("all", query.FromEntity("Item")))
	s.Seed["Widget"] = []map[string]any{{"id": 1}}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Widget")
}

func TestNormalized_FoldsFloatsAndSorts(t *testing.T) {
	got, err := normalized([]any{2.0, int64(1), 1.5}, false)
	require.NoError(t, err)
	want, err := normalized([]any{1.5, int64(2), 1.0}, false)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ordered, err := normalized([]any{int64(2), int64(1)}, true)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), int64(1)}, ordered)
}
