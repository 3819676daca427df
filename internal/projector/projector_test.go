package projector

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/sqlir"
)

var (
	int64Type  = reflect.TypeOf(int64(0))
	stringType = reflect.TypeOf("")
)

func col(a sqlir.Alias, name string, t reflect.Type) *sqlir.Column {
	return &sqlir.Column{Alias: a, Name: name, Typ: t}
}

func names(cols []sqlir.ColumnDecl) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// readsOnly reports whether every Column under n reads one of aliases.
func readsOnly(n sqlir.Node, aliases ...sqlir.Alias) bool {
	ok := true
	for a := range sqlir.ReferencedAliases(n) {
		found := false
		for _, want := range aliases {
			found = found || a == want
		}
		ok = ok && found
	}
	return ok
}

func TestProject_ConstructorArgsBecomeColumns(t *testing.T) {
	src, out := sqlir.NewAlias(), sqlir.NewAlias()
	expr := &sqlir.New{
		Names: []string{"name", "double"},
		Args: []sqlir.Node{
			col(src, "name", stringType),
			&sqlir.Binary{Op: sqlir.OpMul, Left: col(src, "total", int64Type), Right: sqlir.NewConstant(int64(2)), Typ: int64Type},
		},
	}

	res := Project(dialect.SQLite, expr, nil, out, src)

	assert.Equal(t, []string{"name", "c0"}, names(res.Columns))
	n, ok := res.Projector.(*sqlir.New)
	require.True(t, ok, "constructor stays on the client")
	assert.True(t, readsOnly(n, out))
	assert.Equal(t, "c0", n.Args[1].(*sqlir.Column).Name)
	assert.Equal(t, int64Type, n.Args[1].Type())
}

func TestProject_ReusesExistingColumns(t *testing.T) {
	src, out := sqlir.NewAlias(), sqlir.NewAlias()
	existing := []sqlir.ColumnDecl{{Name: "label", Expr: col(src, "name", stringType)}}

	res := Project(dialect.SQLite, col(src, "name", stringType), existing, out, src)

	assert.Equal(t, []string{"label"}, names(res.Columns))
	assert.Equal(t, "label", res.Projector.(*sqlir.Column).Name)
}

func TestProject_DeduplicatesRepeatedExpressions(t *testing.T) {
	src, out := sqlir.NewAlias(), sqlir.NewAlias()
	lower := func() sqlir.Node {
		return &sqlir.Func{Name: "lower", Args: []sqlir.Node{col(src, "name", stringType)}, Typ: stringType}
	}
	expr := &sqlir.New{Names: []string{"a", "b"}, Args: []sqlir.Node{lower(), lower()}}

	res := Project(dialect.SQLite, expr, nil, out, src)

	assert.Equal(t, []string{"c0"}, names(res.Columns))
}

func TestProject_NameCollisions(t *testing.T) {
	left, right, out := sqlir.NewAlias(), sqlir.NewAlias(), sqlir.NewAlias()
	expr := &sqlir.New{
		Names: []string{"a", "b", "c"},
		Args: []sqlir.Node{
			col(left, "id", int64Type),
			col(right, "id", int64Type),
			&sqlir.Unary{Op: sqlir.OpNeg, X: col(left, "c0", int64Type)},
		},
	}
	existing := []sqlir.ColumnDecl{{Name: "c0", Expr: col(left, "c0", int64Type)}}

	res := Project(dialect.SQLite, expr, existing, out, left, right)

	assert.Equal(t, []string{"c0", "id", "id1", "c1"}, names(res.Columns))
}

func TestProject_LiteralsStayInline(t *testing.T) {
	src, out := sqlir.NewAlias(), sqlir.NewAlias()
	expr := &sqlir.New{Names: []string{"one"}, Args: []sqlir.Node{sqlir.NewConstant(int64(1))}}

	res := Project(dialect.SQLite, expr, nil, out, src)

	assert.Empty(t, res.Columns)
	assert.Same(t, expr, res.Projector)
}

func TestProject_OuterReferencesUntouched(t *testing.T) {
	src, outer, out := sqlir.NewAlias(), sqlir.NewAlias(), sqlir.NewAlias()
	ref := col(outer, "id", int64Type)
	expr := &sqlir.New{Names: []string{"x", "o"}, Args: []sqlir.Node{col(src, "x", int64Type), ref}}

	res := Project(dialect.SQLite, expr, nil, out, src)

	assert.Equal(t, []string{"x"}, names(res.Columns))
	assert.Same(t, ref, res.Projector.(*sqlir.New).Args[1])
}

func TestProject_MemberBlocksButOperandsProject(t *testing.T) {
	src, out := sqlir.NewAlias(), sqlir.NewAlias()
	inner := &sqlir.New{Names: []string{"v"}, Args: []sqlir.Node{col(src, "v", int64Type)}}
	expr := &sqlir.Binary{
		Op:    sqlir.OpAdd,
		Left:  &sqlir.Member{X: inner, Name: "v", Typ: int64Type},
		Right: col(src, "w", int64Type),
		Typ:   int64Type,
	}

	res := Project(dialect.SQLite, expr, nil, out, src)

	assert.Equal(t, []string{"v", "w"}, names(res.Columns))
	_, ok := res.Projector.(*sqlir.Binary)
	assert.True(t, ok, "a binary over a client member stays on the client")
}

func TestProject_NestedProjectionCorrelatesThroughNewSelect(t *testing.T) {
	customers, out := sqlir.NewAlias(), sqlir.NewAlias()
	orders := &sqlir.Table{Alias: sqlir.NewAlias(), Entity: "Order", Name: "orders"}
	child := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: "total", Expr: col(orders.Alias, "total", int64Type)}},
		From:    orders,
		Where:   sqlir.Eq(col(orders.Alias, "customer_id", int64Type), col(customers, "id", int64Type)),
	}
	nested := &sqlir.Projection{Select: child, Projector: col(child.Alias, "total", int64Type)}
	expr := &sqlir.New{Names: []string{"name", "totals"}, Args: []sqlir.Node{col(customers, "name", stringType), nested}}

	res := Project(dialect.SQLite, expr, nil, out, customers)

	assert.Equal(t, []string{"name", "id"}, names(res.Columns))
	p := res.Projector.(*sqlir.New).Args[1].(*sqlir.Projection)
	assert.True(t, sqlir.References(p.Select.Where, out), "correlation reads the new select")
	assert.False(t, sqlir.References(p, customers))
	assert.True(t, sqlir.Validate(&sqlir.Projection{
		Select:    &sqlir.Select{Alias: out, Columns: res.Columns, From: &sqlir.Table{Alias: customers, Name: "customers"}},
		Projector: res.Projector,
	}).Valid)
}

func TestProject_ClientJoinOuterKeys(t *testing.T) {
	customers, out := sqlir.NewAlias(), sqlir.NewAlias()
	orders := &sqlir.Table{Alias: sqlir.NewAlias(), Entity: "Order", Name: "orders"}
	child := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: "customer_id", Expr: col(orders.Alias, "customer_id", int64Type)}},
		From:    orders,
	}
	cj := &sqlir.ClientJoin{
		Projection: &sqlir.Projection{Select: child, Projector: col(child.Alias, "customer_id", int64Type)},
		OuterKey:   []sqlir.Node{col(customers, "id", int64Type)},
		InnerKey:   []sqlir.Node{col(child.Alias, "customer_id", int64Type)},
	}

	res := Project(dialect.SQLite, cj, nil, out, customers)

	assert.Equal(t, []string{"id"}, names(res.Columns))
	got := res.Projector.(*sqlir.ClientJoin)
	assert.Equal(t, out, got.OuterKey[0].(*sqlir.Column).Alias)
	assert.Same(t, cj.Projection, got.Projection)
}

func TestProject_AggregatesMustBeColumns(t *testing.T) {
	src, out := sqlir.NewAlias(), sqlir.NewAlias()
	count := &sqlir.Aggregate{Kind: sqlir.Count, Typ: int64Type}
	expr := &sqlir.New{Names: []string{"n"}, Args: []sqlir.Node{count}}

	res := Project(dialect.SQLite, expr, nil, out, src)

	require.Len(t, res.Columns, 1)
	assert.Same(t, count, res.Columns[0].Expr)
}

func TestProject_NestedCorrelationKeepsGroupExpressionWhole(t *testing.T) {
	src, out := sqlir.NewAlias(), sqlir.NewAlias()
	lower := func(a sqlir.Alias) sqlir.Node {
		return &sqlir.Func{Name: "lower", Args: []sqlir.Node{col(a, "name", stringType)}, Typ: stringType}
	}
	basis := &sqlir.Table{Alias: sqlir.NewAlias(), Entity: "Customer", Name: "customers"}
	elems := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: "id", Expr: col(basis.Alias, "id", int64Type)}},
		From:    basis,
		Where:   sqlir.NullsEqual(lower(basis.Alias), lower(src)),
	}
	expr := &sqlir.Grouping{
		Key:      lower(src),
		Elements: &sqlir.Projection{Select: elems, Projector: col(elems.Alias, "id", int64Type)},
	}

	res := Project(dialect.SQLite, expr, nil, out, src)

	require.Len(t, res.Columns, 1, "key and correlation share one column")
	assert.IsType(t, &sqlir.Func{}, res.Columns[0].Expr)
	g := res.Projector.(*sqlir.Grouping)
	assert.False(t, sqlir.References(g.Elements, src))
}
