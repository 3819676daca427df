package optimizer

import (
	"log/slog"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/binder"
	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/sqlir"
)

type customer struct {
	ID     int64   `relq:"id,pk"`
	Name   string
	City   *string
	Orders []order `relq:"orders,assoc,related=Order,keys=id,related_keys=customer_id"`
}

type order struct {
	ID         int64 `relq:"id,pk"`
	CustomerID int64
	Total      float64
	Customer   *customer `relq:"customer,assoc,related=Customer,keys=customer_id,related_keys=id"`
}

var stringType = reflect.TypeOf("")

func shop(t *testing.T) *mapping.Mapping {
	t.Helper()
	m := mapping.New()
	mapping.MustRegister[customer](m, "Customer")
	mapping.MustRegister[order](m, "Order")
	require.NoError(t, m.Validate())
	return m
}

func options(t *testing.T, lang *dialect.Language) Options {
	return Options{Lang: lang, Mapping: shop(t), Logger: slog.New(slog.DiscardHandler)}
}

func optimize(t *testing.T, q query.Query, opts Options) *sqlir.Projection {
	t.Helper()
	p, err := binder.Bind(opts.Mapping, opts.Lang, q.Op(), binder.Options{})
	require.NoError(t, err)
	out, err := Optimize(p, opts)
	require.NoError(t, err)
	res := sqlir.Validate(out)
	require.True(t, res.Valid, "%v\n%s", res.Problems, sqlir.Dump(out))
	return out.(*sqlir.Projection)
}

func find[T sqlir.Node](n sqlir.Node) []T {
	var out []T
	sqlir.Inspect(n, func(x sqlir.Node) bool {
		if v, ok := x.(T); ok {
			out = append(out, v)
		}
		return true
	})
	return out
}

func joinKinds(n sqlir.Node) []sqlir.JoinKind {
	var out []sqlir.JoinKind
	for _, j := range find[*sqlir.Join](n) {
		out = append(out, j.Kind)
	}
	return out
}

func TestOptimize_CollapsesFilterAndProjection(t *testing.T) {
	p := optimize(t, query.FromEntity("Customer").
		Where(query.Fn("c", query.Eq(query.M("c.city"), "Oslo"))).
		Select(query.Fn("c", query.M("c.name"))), options(t, dialect.SQLite))

	assert.Len(t, find[*sqlir.Select](p), 1, sqlir.Dump(p))
	assert.IsType(t, &sqlir.Table{}, p.Select.From)
	assert.NotNil(t, p.Select.Where)
	require.Len(t, p.Select.Columns, 1)
	assert.Equal(t, "name", p.Select.Columns[0].Name)
}

func idempotenceQueries() map[string]query.Query {
	name := query.Fn("c", query.M("c.name"))
	return map[string]query.Query{
		"filter": query.FromEntity("Customer").Where(query.Fn("c", query.Ne(query.M("c.city"), nil))),
		"page":   query.FromEntity("Customer").OrderBy(name).Skip(5).Take(10),
		"skip":   query.FromEntity("Customer").OrderBy(name).Skip(5),
		"take_where_skip": query.FromEntity("Customer").OrderBy(name).Take(2).
			Where(query.Fn("c", query.Ne(query.M("c.city"), nil))).Skip(1),
		"group": query.FromEntity("Order").GroupBy(query.Fn("o", query.M("o.customer_id"))).
			Select(query.Fn("g", query.New{
				Names: []string{"key", "total"},
				Args:  []query.Expr{query.M("g.Key"), query.Sub(query.OfExpr(query.V("g")).Sum(query.Fn("o", query.M("o.total"))))},
			})),
		"group_items": query.FromEntity("Order").GroupBy(query.Fn("o", query.M("o.customer_id"))),
		"reference": query.FromEntity("Order").Select(query.Fn("o", query.New{
			Names: []string{"total", "customer"},
			Args:  []query.Expr{query.M("o.total"), query.M("o.customer")},
		})),
		"navigation_where": query.FromEntity("Order").
			Where(query.Fn("o", query.Eq(query.M("o.customer.city"), "Oslo"))),
		"nested_first": query.FromEntity("Customer").Select(query.Fn("c", query.New{
			Names: []string{"name", "latest"},
			Args: []query.Expr{query.M("c.name"), query.Sub(query.OfExpr(query.M("c.orders")).
				OrderByDesc(query.Fn("o", query.M("o.id"))).FirstOrDefault())},
		})),
		"select_many": query.FromEntity("Customer").SelectMany(query.Fn("c", query.M("c.orders"))),
		"distinct":    query.FromEntity("Order").Select(query.Fn("o", query.M("o.customer_id"))).Distinct().Take(3),
	}
}

func TestOptimize_Idempotent(t *testing.T) {
	policies := map[string]binder.Policy{
		"no_include":     {},
		"include_orders": {Include: map[string][]string{"Customer": {"orders"}}},
	}
	pagings := map[string]Paging{"native": PagingNative, "row_number": PagingRowNumber}

	for _, lang := range []*dialect.Language{dialect.SQLite, dialect.TSQL} {
		for pagingName, paging := range pagings {
			for policyName, policy := range policies {
				for name, q := range idempotenceQueries() {
					t.Run(lang.Name+"/"+pagingName+"/"+policyName+"/"+name, func(t *testing.T) {
						opts := options(t, lang)
						opts.Paging = paging
						opts.Policy = policy
						once := optimize(t, q, opts)
						twice, err := Optimize(once, opts)
						require.NoError(t, err)
						assert.True(t, sqlir.Equal(once, twice), "once:\n%s\ntwice:\n%s", sqlir.Dump(once), sqlir.Dump(twice))
					})
				}
			}
		}
	}
}

func TestOptimize_RowNumberPagedIncludeStaysNested(t *testing.T) {
	opts := options(t, dialect.SQLite)
	opts.Paging = PagingRowNumber
	opts.Policy = binder.Policy{Include: map[string][]string{"Customer": {"orders"}}}
	p := optimize(t, query.FromEntity("Customer").OrderBy(query.Fn("c", query.M("c.name"))).Skip(5), opts)

	require.Len(t, find[*sqlir.RowNumber](p), 1, sqlir.Dump(p))
	assert.Empty(t, find[*sqlir.ClientJoin](p), sqlir.Dump(p))
	assert.Len(t, find[*sqlir.Projection](p.Projector), 1, "the included orders run per row")

	again, err := Optimize(p, opts)
	require.NoError(t, err)
	assert.Empty(t, find[*sqlir.ClientJoin](again), sqlir.Dump(again))
}

func TestOptimize_PagingStaysNative(t *testing.T) {
	p := optimize(t, query.FromEntity("Customer").OrderBy(query.Fn("c", query.M("c.name"))).Skip(5).Take(10),
		options(t, dialect.SQLite))

	assert.Len(t, find[*sqlir.Select](p), 1, sqlir.Dump(p))
	assert.Equal(t, 5, p.Select.Skip.(*sqlir.Constant).Value)
	assert.Equal(t, 10, p.Select.Take.(*sqlir.Constant).Value)
	assert.Len(t, p.Select.OrderBy, 1)
}

func TestOptimize_PagingLoweredToRowNumber(t *testing.T) {
	p := optimize(t, query.FromEntity("Customer").OrderBy(query.Fn("c", query.M("c.name"))).Skip(5).Take(10),
		options(t, dialect.TSQL))

	for _, s := range find[*sqlir.Select](p) {
		assert.Nil(t, s.Skip)
	}
	between := find[*sqlir.Between](p)
	require.Len(t, between, 1, sqlir.Dump(p))
	assert.Equal(t, int64(6), between[0].Lo.(*sqlir.Constant).Value)
	assert.Equal(t, int64(15), between[0].Hi.(*sqlir.Constant).Value)
	assert.Equal(t, RowNumberColumn, between[0].X.(*sqlir.Column).Name)
	require.Len(t, find[*sqlir.RowNumber](p), 1)
	assert.Len(t, p.Select.OrderBy, 1, "the outer select keeps the order")
	_, _, ok := p.Select.Column(RowNumberColumn)
	assert.False(t, ok, "the row number is not returned")
}

func TestOptimize_SkipOnlyLoweredToGreaterThan(t *testing.T) {
	opts := options(t, dialect.SQLite)
	opts.Paging = PagingRowNumber
	p := optimize(t, query.FromEntity("Customer").OrderBy(query.Fn("c", query.M("c.name"))).Skip(5), opts)

	for _, s := range find[*sqlir.Select](p) {
		assert.Nil(t, s.Skip)
	}
	var gt *sqlir.Binary
	for _, b := range find[*sqlir.Binary](p) {
		if b.Op == sqlir.OpGt {
			gt = b
		}
	}
	require.NotNil(t, gt, sqlir.Dump(p))
	assert.Equal(t, RowNumberColumn, gt.Left.(*sqlir.Column).Name)
	assert.Equal(t, 5, gt.Right.(*sqlir.Constant).Value)
}

func TestOptimize_HoistsGroupAggregates(t *testing.T) {
	p := optimize(t, query.FromEntity("Order").GroupBy(query.Fn("o", query.M("o.customer_id"))).
		Select(query.Fn("g", query.New{
			Names: []string{"key", "total"},
			Args:  []query.Expr{query.M("g.Key"), query.Sub(query.OfExpr(query.V("g")).Sum(query.Fn("o", query.M("o.total"))))},
		})), options(t, dialect.SQLite))

	assert.Empty(t, find[*sqlir.AggregateSubquery](p))
	assert.Empty(t, find[*sqlir.Scalar](p), "no correlated subquery is left")
	var grouped *sqlir.Select
	for _, s := range find[*sqlir.Select](p) {
		if s.HasGroupBy() {
			grouped = s
		}
	}
	require.NotNil(t, grouped, sqlir.Dump(p))
	sums := find[*sqlir.Aggregate](grouped)
	require.Len(t, sums, 1)
	assert.Equal(t, sqlir.Sum, sums[0].Kind)
}

func TestOptimize_ApplyBecomesJoin(t *testing.T) {
	p := optimize(t, query.FromEntity("Customer").SelectMany(query.Fn("c", query.M("c.orders"))),
		options(t, dialect.SQLite))
	assert.Equal(t, []sqlir.JoinKind{sqlir.InnerJoin}, joinKinds(p), sqlir.Dump(p))

	p = optimize(t, query.FromEntity("Customer").SelectMany(
		query.Fn("c", query.Sub(query.OfExpr(query.M("c.orders")).DefaultIfEmpty())),
		query.Fn2("c", "o", query.New{Names: []string{"name", "order"}, Args: []query.Expr{query.M("c.name"), query.V("o")}}),
	), options(t, dialect.SQLite))
	assert.Contains(t, joinKinds(p), sqlir.LeftOuterJoin, sqlir.Dump(p))
	assert.NotContains(t, joinKinds(p), sqlir.OuterApply)
}

func TestOptimize_CrossJoinPredicateBecomesCondition(t *testing.T) {
	p := optimize(t, query.FromEntity("Customer").SelectMany(
		query.Fn("c", query.Sub(query.FromEntity("Order"))),
		query.Fn2("c", "o", query.New{Names: []string{"c", "o"}, Args: []query.Expr{query.V("c"), query.V("o")}}),
	).Where(query.Fn("x", query.Eq(query.M("x.c.id"), query.M("x.o.customer_id")))), options(t, dialect.SQLite))

	joins := find[*sqlir.Join](p)
	require.Len(t, joins, 1, sqlir.Dump(p))
	assert.Equal(t, sqlir.InnerJoin, joins[0].Kind)
	assert.NotNil(t, joins[0].On)
}

func TestOptimize_SingletonReferenceIsJoined(t *testing.T) {
	p := optimize(t, query.FromEntity("Order").Select(query.Fn("o", query.New{
		Names: []string{"total", "customer"},
		Args:  []query.Expr{query.M("o.total"), query.M("o.customer")},
	})), options(t, dialect.SQLite))

	assert.Empty(t, find[*sqlir.Projection](p.Projector), "no per-row query is left")
	assert.Equal(t, []sqlir.JoinKind{sqlir.SingletonLeftOuterJoin}, joinKinds(p), sqlir.Dump(p))
	assert.Len(t, find[*sqlir.OuterJoined](p.Projector), 1)
}

func TestOptimize_UnreadSingletonJoinIsDropped(t *testing.T) {
	opts := options(t, dialect.SQLite)
	p := optimize(t, query.FromEntity("Order").Select(query.Fn("o", query.New{
		Names: []string{"total", "customer"},
		Args:  []query.Expr{query.M("o.total"), query.M("o.customer")},
	})), opts)
	require.Len(t, find[*sqlir.Join](p), 1)

	// Drop the reference from the projector; the join is no longer read.
	n := p.Projector.(*sqlir.New)
	trimmed := &sqlir.Projection{Select: p.Select, Projector: &sqlir.New{Typ: n.Typ, Names: n.Names[:1], Args: n.Args[:1]}}
	out, err := Optimize(trimmed, opts)
	require.NoError(t, err)
	assert.Empty(t, find[*sqlir.Join](out), sqlir.Dump(out))
}

func TestOptimize_FirstOrDefaultReferenceStaysNestedWithoutApply(t *testing.T) {
	q := query.FromEntity("Customer").Select(query.Fn("c", query.New{
		Names: []string{"name", "latest"},
		Args: []query.Expr{query.M("c.name"), query.Sub(query.OfExpr(query.M("c.orders")).
			OrderByDesc(query.Fn("o", query.M("o.id"))).FirstOrDefault())},
	}))

	p := optimize(t, q, options(t, dialect.SQLite))
	assert.Len(t, find[*sqlir.Projection](p.Projector), 1, "sqlite runs it per row")

	p = optimize(t, q, options(t, dialect.TSQL))
	assert.Empty(t, find[*sqlir.Projection](p.Projector), sqlir.Dump(p))
	assert.Contains(t, joinKinds(p), sqlir.OuterApply)
}

func TestOptimize_IncludedCollectionIsClientJoined(t *testing.T) {
	opts := options(t, dialect.SQLite)
	opts.Policy = binder.Policy{Include: map[string][]string{"Customer": {"orders"}}}
	p := optimize(t, query.FromEntity("Customer").Where(query.Fn("c", query.Eq(query.M("c.city"), "Oslo"))), opts)

	joins := find[*sqlir.ClientJoin](p)
	require.Len(t, joins, 1, sqlir.Dump(p))
	cj := joins[0]
	require.Len(t, cj.OuterKey, 1)
	assert.Equal(t, p.Select.Alias, cj.OuterKey[0].(*sqlir.Column).Alias)
	assert.Equal(t, cj.Projection.Select.Alias, cj.InnerKey[0].(*sqlir.Column).Alias)
	assert.Equal(t, []sqlir.JoinKind{sqlir.InnerJoin}, joinKinds(cj.Projection.Select))
	var filtered int
	for _, s := range find[*sqlir.Select](cj.Projection) {
		if s.Where != nil {
			filtered++
		}
	}
	assert.NotZero(t, filtered, "the owner filter is repeated in the child query")

	ent := p.Projector.(*sqlir.Entity)
	_, ok := ent.Expr.(*sqlir.New).Arg("Orders")
	assert.True(t, ok)
}

func TestOptimize_IncludeStopsAtCycles(t *testing.T) {
	opts := options(t, dialect.SQLite)
	opts.Policy = binder.Policy{Include: map[string][]string{"Customer": {"orders"}, "Order": {"customer"}}}
	p := optimize(t, query.FromEntity("Customer"), opts)

	var entities int
	sqlir.Inspect(p, func(x sqlir.Node) bool {
		if _, ok := x.(*sqlir.Entity); ok {
			entities++
		}
		return true
	})
	assert.Equal(t, 3, entities, "customer, its orders and each order's customer\n%s", sqlir.Dump(p))
}

func TestOptimize_UnknownIncludeFails(t *testing.T) {
	opts := options(t, dialect.SQLite)
	opts.Policy = binder.Policy{Include: map[string][]string{"Customer": {"invoices"}}}
	p, err := binder.Bind(opts.Mapping, opts.Lang, query.FromEntity("Customer").Op(), binder.Options{})
	require.NoError(t, err)
	_, err = Optimize(p, opts)
	assert.True(t, mapping.ErrUnknownMember.Is(err))
}

func TestRemoveRedundantColumns(t *testing.T) {
	tbl := &sqlir.Table{Alias: sqlir.NewAlias(), Entity: "Customer", Name: "customers"}
	name := func() sqlir.Node { return &sqlir.Column{Alias: tbl.Alias, Name: "name", Typ: stringType} }
	sel := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: "a", Expr: name()}, {Name: "b", Expr: name()}},
		From:    tbl,
	}
	p := &sqlir.Projection{Select: sel, Projector: &sqlir.New{
		Names: []string{"a", "b"},
		Args: []sqlir.Node{
			&sqlir.Column{Alias: sel.Alias, Name: "a", Typ: stringType},
			&sqlir.Column{Alias: sel.Alias, Name: "b", Typ: stringType},
		},
	}}

	out, err := Apply(p, RemoveRedundantColumns, Options{})
	require.NoError(t, err)
	got := out.(*sqlir.Projection)
	require.Len(t, got.Select.Columns, 1)
	for _, arg := range got.Projector.(*sqlir.New).Args {
		assert.Equal(t, "a", arg.(*sqlir.Column).Name)
	}

	again, err := Apply(out, RemoveRedundantColumns, Options{})
	require.NoError(t, err)
	assert.Same(t, out, again, "nothing left to merge")
}

func TestRemoveUnusedColumns_KeepsDistinctAndCountedRows(t *testing.T) {
	p := optimize(t, query.FromEntity("Order").Distinct().Count(), options(t, dialect.SQLite))
	inner := p.Select.From.(*sqlir.Select)
	assert.True(t, inner.Distinct)
	assert.Len(t, inner.Columns, 3, "distinctness depends on every column")
}

func TestCanMergeWithFrom_Guards(t *testing.T) {
	tbl := &sqlir.Table{Alias: sqlir.NewAlias(), Entity: "Order", Name: "orders"}
	total := &sqlir.Column{Alias: tbl.Alias, Name: "total"}
	inner := func(edit func(*sqlir.Select)) *sqlir.Select {
		s := &sqlir.Select{Alias: sqlir.NewAlias(), Columns: []sqlir.ColumnDecl{{Name: "total", Expr: total}}, From: tbl}
		edit(s)
		return s
	}
	outer := func(from *sqlir.Select, edit func(*sqlir.Select)) *sqlir.Select {
		s := &sqlir.Select{
			Alias:   sqlir.NewAlias(),
			Columns: []sqlir.ColumnDecl{{Name: "total", Expr: &sqlir.Column{Alias: from.Alias, Name: "total"}}},
			From:    from,
		}
		edit(s)
		return s
	}
	ten := sqlir.NewConstant(int64(10))
	pred := func(a sqlir.Alias) sqlir.Node {
		return &sqlir.Binary{Op: sqlir.OpGt, Left: &sqlir.Column{Alias: a, Name: "total"}, Right: sqlir.NewConstant(1.0)}
	}
	order := func(a sqlir.Alias) []sqlir.Ordering {
		return []sqlir.Ordering{{Expr: &sqlir.Column{Alias: a, Name: "total"}}}
	}

	tests := []struct {
		name  string
		inner func(*sqlir.Select)
		outer func(*sqlir.Select)
		merge bool
	}{
		{"plain", func(*sqlir.Select) {}, func(*sqlir.Select) {}, true},
		{"both ordered", func(s *sqlir.Select) { s.OrderBy = order(tbl.Alias) }, func(s *sqlir.Select) { s.OrderBy = order(s.From.(*sqlir.Select).Alias) }, false},
		{"take then where", func(s *sqlir.Select) { s.Take = ten }, func(s *sqlir.Select) { s.Where = pred(s.From.(*sqlir.Select).Alias) }, false},
		{"skip then where", func(s *sqlir.Select) { s.Skip = ten }, func(s *sqlir.Select) { s.Where = pred(s.From.(*sqlir.Select).Alias) }, false},
		{"where then take", func(s *sqlir.Select) { s.Where = pred(tbl.Alias) }, func(s *sqlir.Select) { s.Take = ten }, true},
		{"take then take", func(s *sqlir.Select) { s.Take = ten }, func(s *sqlir.Select) { s.Take = ten }, false},
		{"skip then take", func(s *sqlir.Select) { s.Skip = ten }, func(s *sqlir.Select) { s.Take = ten }, true},
		{"distinct then take", func(s *sqlir.Select) { s.Distinct = true }, func(s *sqlir.Select) { s.Take = ten }, false},
		{"distinct then order", func(s *sqlir.Select) { s.Distinct = true }, func(s *sqlir.Select) { s.OrderBy = order(s.From.(*sqlir.Select).Alias) }, true},
		{"ordered then distinct", func(s *sqlir.Select) { s.OrderBy = order(tbl.Alias) }, func(s *sqlir.Select) { s.Distinct = true }, false},
		{"grouped then where", func(s *sqlir.Select) { s.GroupBy = []sqlir.Node{total} }, func(s *sqlir.Select) { s.Where = pred(s.From.(*sqlir.Select).Alias) }, false},
		{"grouped then order", func(s *sqlir.Select) { s.GroupBy = []sqlir.Node{total} }, func(s *sqlir.Select) { s.OrderBy = order(s.From.(*sqlir.Select).Alias) }, true},
		{"reversed", func(s *sqlir.Select) { s.Reverse = true }, func(*sqlir.Select) {}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := outer(inner(tt.inner), tt.outer)
			assert.Equal(t, tt.merge, canMergeWithFrom(sel, true))
		})
	}
}

func TestRewriteOrderBy_LiftsNestedOrdering(t *testing.T) {
	tbl := &sqlir.Table{Alias: sqlir.NewAlias(), Entity: "Customer", Name: "customers"}
	name := &sqlir.Column{Alias: tbl.Alias, Name: "name", Typ: stringType}
	inner := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: "id", Expr: &sqlir.Column{Alias: tbl.Alias, Name: "id"}}},
		From:    tbl,
		OrderBy: []sqlir.Ordering{{Expr: name, Desc: true}},
	}
	outer := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: "id", Expr: &sqlir.Column{Alias: inner.Alias, Name: "id"}}},
		From:    inner,
		Reverse: true,
	}
	p := &sqlir.Projection{Select: outer, Projector: &sqlir.Column{Alias: outer.Alias, Name: "id"}}

	out, err := Apply(p, RewriteOrderBy, Options{})
	require.NoError(t, err)
	got := out.(*sqlir.Projection).Select
	assert.False(t, got.Reverse)
	require.Len(t, got.OrderBy, 1)
	assert.False(t, got.OrderBy[0].Desc, "reverse flips the lifted ordering")
	col := got.OrderBy[0].Expr.(*sqlir.Column)
	assert.Equal(t, inner.Alias, col.Alias)
	lifted := got.From.(*sqlir.Select)
	assert.Empty(t, lifted.OrderBy)
	_, _, ok := lifted.Column(col.Name)
	assert.True(t, ok, "the ordering column is projected by the inner select")
}
