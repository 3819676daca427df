package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseDocument_MatchesBuilder(t *testing.T) {
	doc := `
from: Order
ops:
  - where: {fn: o, body: {gt: [{m: o.total}, 100]}}
  - orderby: {fn: o, body: {m: o.placed_at}}
  - take: 10
`
	q, err := ParseDocument([]byte(doc))
	require.NoError(t, err)

	want := FromEntity("Order").
		Where(Fn("o", Gt(M("o.total"), int64(100)))).
		OrderBy(Fn("o", M("o.placed_at"))).
		Take(int64(10))
	assert.True(t, Equal(want.Op(), q.Op()), "got %s", q)
}

func TestParseDocument_GroupJoinAndRecords(t *testing.T) {
	doc := `
from: Customer
ops:
  - groupjoin:
      inner: {from: Order}
      outer_key: {fn: c, body: {m: c.id}}
      inner_key: {fn: o, body: {m: o.customer_id}}
      result:
        fn: [c, os]
        body:
          rec:
            name: {m: c.name}
            orders: {sub: {of: {var: os}, ops: [{count: {}}]}}
  - where: {fn: r, body: {and: [{ne: [{m: r.name}, null]}, {startswith: [{m: r.name}, A]}]}}
  - first_or_default: {}
`
	q, err := ParseDocument([]byte(doc))
	require.NoError(t, err)

	el, ok := q.Op().(Element)
	require.True(t, ok)
	assert.Equal(t, FirstOrDefault, el.Kind)
	assert.True(t, el.Pred.IsZero())

	gj := Source(el).(Where).Source.(GroupJoin)
	rec := gj.Result.Body.(New)
	assert.Equal(t, []string{"name", "orders"}, rec.Names)
	assert.Equal(t, Subquery{Op: Aggregate{Source: Of{Expr: Var{Name: "os"}}, Kind: Count}}, rec.Args[1])

	pred := Source(el).(Where).Pred.Body.(Binary)
	assert.Equal(t, Call{Fn: "startswith", Args: []Expr{M("r.name"), Const{Value: "A"}}}, pred.R)
}

func TestParseDocument_Errors(t *testing.T) {
	cases := map[string]string{
		"no source":     "ops: []",
		"unknown op":    "from: A\nops: [{frobnicate: 1}]",
		"bad lambda":    "from: A\nops: [{where: {body: 1}}]",
		"unknown field": "from: A\nwhere: 1",
		"arity":         "from: A\nops: [{where: {fn: a, body: {eq: [1]}}}]",
		"unknown func":  "from: A\nops: [{select: {fn: a, body: {call: {fn: soundex, args: [1]}}}}]",
		"join no inner": "from: A\nops: [{join: {outer_key: {fn: a, body: 1}}}]",
	}
	for name, doc := range cases {
		_, err := ParseDocument([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestDocument_UnmarshalYAML(t *testing.T) {
	var holder struct {
		Query Document `yaml:"query"`
	}
	err := yaml.Unmarshal([]byte("query:\n  from: Product\n  ops:\n    - contains: {arg: sku}\n"), &holder)
	require.NoError(t, err)
	assert.Equal(t, Contains{Source: From{Entity: "Product"}, Value: Param{Slot: -1, Name: "sku"}}, holder.Query.Query.Op())
}

func TestDecodeExpr_LocalList(t *testing.T) {
	var n yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("[1, 2, x]"), &n))
	e, err := DecodeExpr(n.Content[0])
	require.NoError(t, err)
	assert.Equal(t, Const{Value: []any{int64(1), int64(2), "x"}}, e)
}
