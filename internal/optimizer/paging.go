package optimizer

import (
	"reflect"

	"github.com/roach88/relq/internal/projector"
	"github.com/roach88/relq/internal/sqlir"
)

// RowNumberColumn names the row-number column paging is lowered to.
const RowNumberColumn = "_rownum"

var int64Type = reflect.TypeOf(int64(0))

// lowerPagingToRowNumber replaces skip (and the take that goes with it) by
// a filter on a ROW_NUMBER() column over the select's ordering:
//
//	between skip+1 and skip+take   with a take
//	> skip                         without one
func lowerPagingToRowNumber(c *Context, n sqlir.Node) sqlir.Node {
	return sqlir.Transform(n, func(x sqlir.Node) sqlir.Node {
		s, ok := x.(*sqlir.Select)
		if !ok || s.Skip == nil {
			return x
		}
		return lowerPaging(c, s)
	})
}

func lowerPaging(c *Context, s *sqlir.Select) *sqlir.Select {
	inner := s.WithPaging(nil, nil)
	ordering := s.OrderBy
	if inner.Distinct || inner.HasGroupBy() {
		inner = inner.AddRedundantSelect(sqlir.NewAlias())
		below := inner.From.(*sqlir.Select)
		// The ordering read the grouped or distinct select's source; read
		// it through that select's columns instead.
		cols := below.Columns
		ordering = make([]sqlir.Ordering, len(s.OrderBy))
		for i, o := range s.OrderBy {
			pc := projector.Project(c.Lang, o.Expr, cols, below.Alias, sqlir.DeclaredAliases(below.From)...)
			cols = pc.Columns
			ordering[i] = sqlir.Ordering{Desc: o.Desc, Expr: pc.Projector}
		}
		if len(cols) != len(below.Columns) {
			inner = inner.WithFrom(below.WithColumns(cols))
		}
	}
	name := sqlir.UniqueColumnName(inner.Columns, RowNumberColumn)
	inner = inner.AddColumn(sqlir.ColumnDecl{Name: name, Expr: &sqlir.RowNumber{OrderBy: ordering}})

	outer := inner.AddRedundantSelect(sqlir.NewAlias()).RemoveColumn(name)
	rn := &sqlir.Column{Alias: outer.From.(*sqlir.Select).Alias, Name: name, Typ: int64Type}

	var where sqlir.Node
	if s.Take != nil {
		where = &sqlir.Between{X: rn, Lo: addInt(s.Skip, 1), Hi: add(s.Skip, s.Take)}
	} else {
		where = &sqlir.Binary{Op: sqlir.OpGt, Left: rn, Right: s.Skip}
	}
	return outer.WithWhere(sqlir.And(outer.Where, where))
}

func addInt(x sqlir.Node, n int64) sqlir.Node {
	return add(x, sqlir.NewConstant(n))
}

// add folds the sum of two integer constants and builds x + y otherwise.
func add(x, y sqlir.Node) sqlir.Node {
	a, aok := intConstant(x)
	b, bok := intConstant(y)
	if aok && bok {
		return sqlir.NewConstant(a + b)
	}
	return &sqlir.Binary{Op: sqlir.OpAdd, Left: x, Right: y, Typ: int64Type}
}

func intConstant(n sqlir.Node) (int64, bool) {
	c, ok := n.(*sqlir.Constant)
	if !ok {
		return 0, false
	}
	switch v := c.Value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}
