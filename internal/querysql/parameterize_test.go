package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/sqlir"
)

func namedValues(n sqlir.Node) []*sqlir.NamedValue {
	var out []*sqlir.NamedValue
	sqlir.Inspect(n, func(x sqlir.Node) bool {
		if v, ok := x.(*sqlir.NamedValue); ok {
			out = append(out, v)
		}
		return true
	})
	return out
}

func TestParameterize_SharesEqualLiterals(t *testing.T) {
	c := table("customers")
	sel := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{decl(col(c.Alias, "id", int64Type))},
		From:    c,
		Where: sqlir.And(
			sqlir.Eq(col(c.Alias, "name", stringType), sqlir.NewConstant("Oslo")),
			sqlir.Eq(col(c.Alias, "city", stringType), sqlir.NewConstant("Oslo")),
			sqlir.Eq(col(c.Alias, "id", int64Type), sqlir.NewConstant(int64(3))),
			sqlir.Eq(col(c.Alias, "code", stringType), sqlir.NewConstant("3")),
		),
	}

	values := namedValues(Parameterize(sel))
	require.Len(t, values, 4)
	assert.Equal(t, "p0", values[0].Name)
	assert.Same(t, values[0], values[1], "equal values share a parameter")
	assert.Equal(t, "p1", values[2].Name)
	assert.Equal(t, "p2", values[3].Name, "values of different types do not")
	assert.True(t, values[0].IsFixed())
	assert.Equal(t, "Oslo", values[0].Value)
}

func TestParameterize_KeepsStructuralLiterals(t *testing.T) {
	c := table("customers")
	sel := &sqlir.Select{
		Alias: sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{
			decl(col(c.Alias, "id", int64Type)),
			{Name: "test", Expr: sqlir.NewConstant(int64(1))},
		},
		From: c,
		Where: sqlir.And(
			&sqlir.IsNull{X: col(c.Alias, "city", stringType)},
			sqlir.Eq(col(c.Alias, "active", boolType), sqlir.NewConstant(true)),
			sqlir.Eq(col(c.Alias, "name", stringType), &sqlir.Constant{Typ: stringType}),
		),
		Skip: sqlir.NewConstant(5),
		Take: sqlir.NewSlotValue(0, int64Type),
	}

	out := Parameterize(sel).(*sqlir.Select)
	assert.IsType(t, &sqlir.Constant{}, out.Skip)
	assert.IsType(t, &sqlir.Constant{}, out.Columns[1].Expr)
	values := namedValues(out)
	require.Len(t, values, 1, "only the slot is a parameter")
	assert.Equal(t, 0, values[0].Slot)
	assert.Equal(t, "p0", values[0].Name)
}

func TestParameterize_SourcesKeepIdentity(t *testing.T) {
	c := table("customers")
	sel := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{decl(col(c.Alias, "id", int64Type))},
		From:    c,
		Where: sqlir.And(
			sqlir.Eq(col(c.Alias, "id", int64Type), sqlir.NewOuterValue(0, int64Type)),
			sqlir.Eq(col(c.Alias, "name", stringType), sqlir.NewArgValue("who", stringType)),
			sqlir.Eq(col(c.Alias, "city", stringType), sqlir.NewArgValue("who", stringType)),
			sqlir.Eq(col(c.Alias, "id", int64Type), sqlir.NewSlotValue(0, int64Type)),
		),
	}
	values := namedValues(Parameterize(sel))
	require.Len(t, values, 4)
	assert.Equal(t, 0, values[0].Outer)
	assert.Equal(t, "who", values[1].Arg)
	assert.Same(t, values[1], values[2])
	assert.Equal(t, []string{"p0", "p1", "p1", "p2"}, []string{values[0].Name, values[1].Name, values[2].Name, values[3].Name})
}

func TestParameterize_LeavesClientValues(t *testing.T) {
	c := table("customers")
	sel := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{decl(col(c.Alias, "name", stringType))},
		From:    c,
		Where:   sqlir.Eq(col(c.Alias, "city", stringType), sqlir.NewConstant("Oslo")),
	}
	p := &sqlir.Projection{Select: sel, Projector: &sqlir.New{
		Names: []string{"name", "tag"},
		Args:  []sqlir.Node{col(sel.Alias, "name", stringType), sqlir.NewConstant("vip")},
	}}

	out := Parameterize(p).(*sqlir.Projection)
	assert.IsType(t, &sqlir.Constant{}, out.Projector.(*sqlir.New).Args[1])
	assert.Len(t, namedValues(out.Select), 1)
}

func TestParameterize_Idempotent(t *testing.T) {
	n := Parameterize(filterPage())
	again := Parameterize(n)
	assert.True(t, sqlir.Equal(n, again))
	assert.Equal(t, namedValues(n)[0].Name, namedValues(again)[0].Name)
}
