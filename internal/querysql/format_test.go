package querysql

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/sqlir"
)

var (
	stringType  = reflect.TypeOf("")
	int64Type   = reflect.TypeOf(int64(0))
	float64Type = reflect.TypeOf(0.0)
	boolType    = reflect.TypeOf(false)
)

func table(name string) *sqlir.Table {
	return &sqlir.Table{Alias: sqlir.NewAlias(), Entity: name, Name: name}
}

func col(a sqlir.Alias, name string, t reflect.Type) *sqlir.Column {
	return &sqlir.Column{Alias: a, Name: name, Typ: t}
}

func decl(c *sqlir.Column) sqlir.ColumnDecl {
	return sqlir.ColumnDecl{Name: c.Name, Expr: c}
}

func filterPage() sqlir.Node {
	t := table("customers")
	return &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{decl(col(t.Alias, "id", int64Type)), decl(col(t.Alias, "name", stringType))},
		From:    t,
		Where:   sqlir.Eq(col(t.Alias, "city", stringType), sqlir.NewConstant("Oslo")),
		OrderBy: []sqlir.Ordering{{Expr: col(t.Alias, "name", stringType)}},
		Skip:    sqlir.NewConstant(5),
		Take:    sqlir.NewConstant(10),
	}
}

func nestedJoin() sqlir.Node {
	c, o := table("customers"), table("orders")
	big := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{decl(col(o.Alias, "customer_id", int64Type)), decl(col(o.Alias, "total", float64Type))},
		From:    o,
		Where:   &sqlir.Binary{Op: sqlir.OpGt, Left: col(o.Alias, "total", float64Type), Right: sqlir.NewConstant(10.0)},
	}
	return &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{decl(col(c.Alias, "name", stringType)), decl(col(big.Alias, "total", float64Type))},
		From: &sqlir.Join{
			Kind:  sqlir.LeftOuterJoin,
			Left:  c,
			Right: big,
			On:    sqlir.Eq(col(c.Alias, "id", int64Type), col(big.Alias, "customer_id", int64Type)),
		},
	}
}

func insertGenerated() sqlir.Node {
	t := table("customers")
	sel := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: "id", Expr: &sqlir.Variable{Name: "ID", Typ: int64Type}}},
	}
	return &sqlir.Block{Commands: []sqlir.Node{
		&sqlir.Insert{Table: t, Assignments: []sqlir.Assignment{
			{Column: "name", Expr: &sqlir.Constant{Value: "Ada", Typ: stringType}},
			{Column: "city", Expr: &sqlir.Constant{Typ: stringType}},
		}},
		&sqlir.Declare{Vars: []sqlir.VariableDecl{{Name: "ID", Expr: &sqlir.Func{Name: "last_insert_id", Typ: int64Type}}}},
		&sqlir.Projection{
			Select:     sel,
			Projector:  col(sel.Alias, "id", int64Type),
			Aggregator: &sqlir.Aggregator{Kind: sqlir.ScalarValue},
		},
	}}
}

func render(cmds []Command) []byte {
	var sb strings.Builder
	for i, c := range cmds {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(c.Text)
		sb.WriteString("\n")
		for _, p := range c.Params {
			fmt.Fprintf(&sb, "-- %s: %v\n", p.Name, p.Value)
		}
	}
	return []byte(sb.String())
}

func formatAll(t *testing.T, lang *dialect.Language, n sqlir.Node) []Command {
	t.Helper()
	n = Parameterize(n)
	if b, ok := n.(*sqlir.Block); ok {
		cmds, err := FormatBlock(lang, b)
		require.NoError(t, err)
		return cmds
	}
	cmd, err := Format(lang, n)
	require.NoError(t, err)
	return []Command{cmd}
}

func TestFormat_Golden(t *testing.T) {
	all := []*dialect.Language{dialect.SQLite, dialect.MySQL, dialect.Postgres, dialect.TSQL}
	tests := []struct {
		name  string
		build func() sqlir.Node
		langs []*dialect.Language
	}{
		{"filter_page", filterPage, all},
		{"nested_join", nestedJoin, all},
		{"insert_generated", insertGenerated, []*dialect.Language{dialect.SQLite, dialect.TSQL}},
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tt := range tests {
		for _, lang := range tt.langs {
			name := tt.name + "_" + lang.Name
			t.Run(name, func(t *testing.T) {
				g.Assert(t, name, render(formatAll(t, lang, tt.build())))
			})
		}
	}
}

func TestFormat_TopForTake(t *testing.T) {
	c := table("customers")
	sel := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{decl(col(c.Alias, "id", int64Type))},
		From:    c,
		Take:    sqlir.NewConstant(3),
	}
	cmd, err := Format(dialect.TSQL, sel)
	require.NoError(t, err)
	assert.Equal(t, "SELECT TOP (3) t0.[id]\nFROM [customers] AS t0", cmd.Text)

	cmd, err = Format(dialect.SQLite, sel)
	require.NoError(t, err)
	assert.Equal(t, "SELECT t0.\"id\"\nFROM \"customers\" AS t0\nLIMIT 3", cmd.Text)

	sel.Take, sel.Skip = nil, sqlir.NewConstant(2)
	cmd, err = Format(dialect.SQLite, sel)
	require.NoError(t, err)
	assert.Equal(t, "SELECT t0.\"id\"\nFROM \"customers\" AS t0\nLIMIT -1 OFFSET 2", cmd.Text)

	cmd, err = Format(dialect.Postgres, sel)
	require.NoError(t, err)
	assert.Equal(t, "SELECT t0.\"id\"\nFROM \"customers\" AS t0\nOFFSET 2", cmd.Text)
}

func TestFormat_BooleansWithoutBooleanValues(t *testing.T) {
	c := table("customers")
	sel := &sqlir.Select{
		Alias: sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{
			{Name: "no_city", Expr: &sqlir.IsNull{X: col(c.Alias, "city", stringType)}},
		},
		From:  c,
		Where: col(c.Alias, "active", boolType),
	}

	cmd, err := Format(dialect.TSQL, sel)
	require.NoError(t, err)
	assert.Equal(t, "SELECT CASE WHEN t0.[city] IS NULL THEN 1 ELSE 0 END AS [no_city]\nFROM [customers] AS t0\nWHERE t0.[active] = 1", cmd.Text)

	cmd, err = Format(dialect.SQLite, sel)
	require.NoError(t, err)
	assert.Equal(t, "SELECT t0.\"city\" IS NULL AS \"no_city\"\nFROM \"customers\" AS t0\nWHERE t0.\"active\"", cmd.Text)
}

func TestFormat_Precedence(t *testing.T) {
	c := table("t")
	a, b, x := col(c.Alias, "a", int64Type), col(c.Alias, "b", int64Type), col(c.Alias, "c", int64Type)
	one := sqlir.NewConstant(1)
	tests := []struct {
		name string
		expr sqlir.Node
		want string
	}{
		{"or under and", sqlir.And(sqlir.Or(sqlir.Eq(a, one), sqlir.Eq(b, one)), sqlir.Eq(x, one)),
			`(t0."a" = 1 OR t0."b" = 1) AND t0."c" = 1`},
		{"and under or", sqlir.Or(sqlir.And(sqlir.Eq(a, one), sqlir.Eq(b, one)), sqlir.Eq(x, one)),
			`t0."a" = 1 AND t0."b" = 1 OR t0."c" = 1`},
		{"right nested subtraction", &sqlir.Binary{Op: sqlir.OpSub, Left: a, Right: &sqlir.Binary{Op: sqlir.OpSub, Left: b, Right: x, Typ: int64Type}, Typ: int64Type},
			`t0."a" - (t0."b" - t0."c")`},
		{"sum times", &sqlir.Binary{Op: sqlir.OpMul, Left: &sqlir.Binary{Op: sqlir.OpAdd, Left: a, Right: b, Typ: int64Type}, Right: x, Typ: int64Type},
			`(t0."a" + t0."b") * t0."c"`},
		{"not", sqlir.Not(sqlir.Or(sqlir.Eq(a, one), &sqlir.IsNull{X: b})),
			`NOT (t0."a" = 1 OR t0."b" IS NULL)`},
		{"like", &sqlir.Func{Name: "like", Args: []sqlir.Node{a, sqlir.NewConstant("A%")}, Typ: boolType},
			`t0."a" LIKE 'A%'`},
		{"quote in string", sqlir.Eq(a, sqlir.NewConstant("O'Hara")), `t0."a" = 'O''Hara'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Format(dialect.SQLite, &sqlir.Select{
				Alias:   sqlir.NewAlias(),
				Columns: []sqlir.ColumnDecl{decl(a)},
				From:    c,
				Where:   tt.expr,
			})
			require.NoError(t, err)
			assert.Equal(t, "SELECT t0.\"a\"\nFROM \"t\" AS t0\nWHERE "+tt.want, cmd.Text)
		})
	}
}

func TestFormat_Apply(t *testing.T) {
	c, o := table("customers"), table("orders")
	right := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{decl(col(o.Alias, "total", float64Type))},
		From:    o,
		Where:   sqlir.Eq(col(o.Alias, "customer_id", int64Type), col(c.Alias, "id", int64Type)),
		Take:    sqlir.NewConstant(1),
	}
	sel := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{decl(col(right.Alias, "total", float64Type))},
		From:    &sqlir.Join{Kind: sqlir.OuterApply, Left: c, Right: right},
	}

	_, err := Format(dialect.SQLite, sel)
	require.Error(t, err)
	assert.True(t, ErrApplyUnsupported.Is(err))

	cmd, err := Format(dialect.TSQL, sel)
	require.NoError(t, err)
	assert.Contains(t, cmd.Text, "OUTER APPLY (\n  SELECT TOP (1) t2.[total]")

	cmd, err = Format(dialect.Postgres, sel)
	require.NoError(t, err)
	assert.Contains(t, cmd.Text, "LEFT OUTER JOIN LATERAL (")
	assert.True(t, strings.HasSuffix(cmd.Text, ") AS t1 ON TRUE"), cmd.Text)
}

func TestFormat_SingletonJoinIsLeftOuterJoin(t *testing.T) {
	o, c := table("orders"), table("customers")
	sel := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{decl(col(c.Alias, "name", stringType)), {Name: "test", Expr: sqlir.NewConstant(int64(1))}},
		From: &sqlir.Join{
			Kind:  sqlir.SingletonLeftOuterJoin,
			Left:  o,
			Right: c,
			On:    sqlir.Eq(col(o.Alias, "customer_id", int64Type), col(c.Alias, "id", int64Type)),
		},
	}
	cmd, err := Format(dialect.SQLite, Parameterize(sel))
	require.NoError(t, err)
	assert.Equal(t, "SELECT t1.\"name\", 1 AS \"test\"\nFROM \"orders\" AS t0\nLEFT OUTER JOIN \"customers\" AS t1\n  ON t0.\"customer_id\" = t1.\"id\"", cmd.Text)
	assert.Empty(t, cmd.Params, "the outer-join test stays literal")
}

func TestFormat_EmptyColumnList(t *testing.T) {
	c := table("customers")
	cmd, err := Format(dialect.SQLite, &sqlir.Select{Alias: sqlir.NewAlias(), From: c})
	require.NoError(t, err)
	assert.Equal(t, "SELECT NULL\nFROM \"customers\" AS t0", cmd.Text)
}

func TestFormat_Aggregates(t *testing.T) {
	o := table("orders")
	sel := &sqlir.Select{
		Alias: sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{
			{Name: "n", Expr: &sqlir.Aggregate{Kind: sqlir.Count, Typ: int64Type}},
			{Name: "customers", Expr: &sqlir.Aggregate{Kind: sqlir.Count, Arg: col(o.Alias, "customer_id", int64Type), Distinct: true, Typ: int64Type}},
			{Name: "mean", Expr: &sqlir.Aggregate{Kind: sqlir.Avg, Arg: col(o.Alias, "total", float64Type), Typ: float64Type}},
		},
		From: o,
	}
	cmd, err := Format(dialect.MySQL, sel)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) AS `n`, COUNT(DISTINCT t0.`customer_id`) AS `customers`, AVG(t0.`total`) AS `mean`\nFROM `orders` AS t0", cmd.Text)
}

func TestFormat_RowNumber(t *testing.T) {
	c := table("customers")
	sel := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: "_rownum", Expr: &sqlir.RowNumber{}}},
		From:    c,
	}
	cmd, err := Format(dialect.TSQL, sel)
	require.NoError(t, err)
	assert.Equal(t, "SELECT ROW_NUMBER() OVER (ORDER BY (SELECT 1)) AS [_rownum]\nFROM [customers] AS t0", cmd.Text)

	sel.Columns[0].Expr = &sqlir.RowNumber{OrderBy: []sqlir.Ordering{{Expr: col(c.Alias, "name", stringType), Desc: true}}}
	cmd, err = Format(dialect.SQLite, sel)
	require.NoError(t, err)
	assert.Equal(t, "SELECT ROW_NUMBER() OVER (ORDER BY t0.\"name\" DESC) AS \"_rownum\"\nFROM \"customers\" AS t0", cmd.Text)
}

func TestFormat_InAndExists(t *testing.T) {
	c, o := table("customers"), table("orders")
	ids := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{decl(col(o.Alias, "customer_id", int64Type))},
		From:    o,
	}
	sel := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{decl(col(c.Alias, "id", int64Type))},
		From:    c,
		Where: sqlir.And(
			&sqlir.In{X: col(c.Alias, "id", int64Type), Select: ids},
			&sqlir.In{X: col(c.Alias, "city", stringType), Values: []sqlir.Node{sqlir.NewConstant("Oslo"), sqlir.NewConstant("Rome")}},
		),
	}
	cmd, err := Format(dialect.SQLite, sel)
	require.NoError(t, err)
	assert.Equal(t, "SELECT t0.\"id\"\nFROM \"customers\" AS t0\nWHERE t0.\"id\" IN (\n  SELECT t1.\"customer_id\"\n  FROM \"orders\" AS t1\n) AND t0.\"city\" IN ('Oslo', 'Rome')", cmd.Text)

	none := &sqlir.Select{Alias: sqlir.NewAlias(), Columns: sel.Columns, From: c, Where: &sqlir.In{X: col(c.Alias, "id", int64Type)}}
	cmd, err = Format(dialect.SQLite, none)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(cmd.Text, "WHERE 1 = 0"), cmd.Text)

	exists := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: "value", Expr: &sqlir.Exists{Select: ids}}},
	}
	cmd, err = Format(dialect.SQLite, exists)
	require.NoError(t, err)
	assert.Equal(t, "SELECT EXISTS (\n  SELECT t0.\"customer_id\"\n  FROM \"orders\" AS t0\n) AS \"value\"", cmd.Text)
}

func TestFormat_Placeholders(t *testing.T) {
	c := table("customers")
	sel := Parameterize(&sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{decl(col(c.Alias, "id", int64Type))},
		From:    c,
		Where: sqlir.Or(
			sqlir.Eq(col(c.Alias, "name", stringType), sqlir.NewConstant("Oslo")),
			sqlir.Eq(col(c.Alias, "city", stringType), sqlir.NewConstant("Oslo")),
		),
	})

	cmd, err := Format(dialect.SQLite, sel)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(cmd.Text, "?"))
	require.Len(t, cmd.Params, 2, "positional placeholders bind once per occurrence")
	assert.Same(t, cmd.Params[0], cmd.Params[1])

	cmd, err = Format(dialect.Postgres, sel)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(cmd.Text, "$1"))
	assert.Len(t, cmd.Params, 1)

	cmd, err = Format(dialect.TSQL, sel)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(cmd.Text, "@p0"))
	assert.Len(t, cmd.Params, 1)
}

func TestFormat_Errors(t *testing.T) {
	c := table("customers")
	other := table("orders")

	_, err := Format(dialect.SQLite, &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{decl(col(other.Alias, "id", int64Type))},
		From:    c,
	})
	assert.True(t, ErrUnboundAlias.Is(err), "%v", err)

	_, err = Format(dialect.SQLite, &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: "x", Expr: &sqlir.New{Names: []string{"id"}, Args: []sqlir.Node{col(c.Alias, "id", int64Type)}}}},
		From:    c,
	})
	assert.True(t, ErrUnsupportedNode.Is(err), "%v", err)

	_, err = Format(dialect.SQLite, sqlir.NewConstant(1))
	assert.True(t, ErrUnsupportedNode.Is(err), "%v", err)

	_, err = Format(dialect.Postgres, &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: "n", Expr: &sqlir.Func{Name: "rows_affected", Typ: int64Type}}},
	})
	assert.True(t, ErrUnsupportedNode.Is(err), "%v", err)

	_, err = Format(dialect.SQLite, &sqlir.If{Check: sqlir.NewConstant(true), Then: &sqlir.Delete{Table: c}})
	assert.True(t, ErrUnsupportedNode.Is(err), "%v", err)
}

func TestFormat_WriteCommands(t *testing.T) {
	c := table("customers")
	key := sqlir.Eq(col(c.Alias, "id", int64Type), sqlir.NewConstant(int64(7)))

	cmd, err := Format(dialect.Postgres, Parameterize(&sqlir.Update{
		Table:       c,
		Where:       key,
		Assignments: []sqlir.Assignment{{Column: "name", Expr: sqlir.NewConstant("Ada")}},
	}))
	require.NoError(t, err)
	assert.Equal(t, "UPDATE \"customers\"\nSET \"name\" = $1\nWHERE \"id\" = $2", cmd.Text)
	require.Len(t, cmd.Params, 2)
	assert.Equal(t, "Ada", cmd.Params[0].Value)
	assert.Equal(t, int64(7), cmd.Params[1].Value)

	cmd, err = Format(dialect.SQLite, Parameterize(&sqlir.Delete{Table: c, Where: key}))
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM \"customers\"\nWHERE \"id\" = ?", cmd.Text)

	exists := &sqlir.Exists{Select: &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: "value", Expr: sqlir.NewConstant(int64(1))}},
		From:    c,
		Where:   key,
	}}
	upsert := &sqlir.If{
		Check: exists,
		Then:  &sqlir.Delete{Table: c, Where: key},
	}
	cmd, err = Format(dialect.TSQL, Parameterize(upsert))
	require.NoError(t, err)
	assert.Equal(t, "IF EXISTS (\n  SELECT 1 AS [value]\n  FROM [customers] AS t0\n  WHERE t0.[id] = @p0\n)\nBEGIN\n  DELETE FROM [customers]\n  WHERE [id] = @p0\nEND", cmd.Text)
}
