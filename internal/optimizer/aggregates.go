package optimizer

import (
	"strconv"

	"github.com/roach88/relq/internal/sqlir"
)

// hoistGroupAggregates computes aggregates over a group's elements inside
// the grouped select itself: each AggregateSubquery becomes an aggN column
// of the select named by its GroupByAlias, and the subquery a read of that
// column. Aggregates whose grouped select is gone fall back to the
// correlated subquery.
func hoistGroupAggregates(_ *Context, n sqlir.Node) sqlir.Node {
	pending := make(map[sqlir.Alias][]*sqlir.AggregateSubquery)
	sqlir.Inspect(n, func(x sqlir.Node) bool {
		if a, ok := x.(*sqlir.AggregateSubquery); ok {
			pending[a.GroupByAlias] = append(pending[a.GroupByAlias], a)
		}
		return true
	})
	if len(pending) == 0 {
		return n
	}

	type hoisted struct {
		expr sqlir.Node
		col  *sqlir.Column
	}
	columns := make(map[sqlir.Alias][]hoisted)
	return sqlir.Transform(n, func(x sqlir.Node) sqlir.Node {
		switch v := x.(type) {
		case *sqlir.Select:
			aggs := pending[v.Alias]
			if len(aggs) == 0 {
				return x
			}
			cols := append([]sqlir.ColumnDecl(nil), v.Columns...)
		next:
			for _, a := range aggs {
				for _, h := range columns[v.Alias] {
					if sqlir.Equal(h.expr, a.InGroupSelect) {
						continue next
					}
				}
				name := sqlir.UniqueColumnName(cols, "agg"+strconv.Itoa(len(cols)))
				cols = append(cols, sqlir.ColumnDecl{Name: name, Expr: a.InGroupSelect})
				columns[v.Alias] = append(columns[v.Alias], hoisted{
					expr: a.InGroupSelect,
					col:  &sqlir.Column{Alias: v.Alias, Name: name, Typ: a.Type()},
				})
			}
			return v.WithColumns(cols)
		case *sqlir.AggregateSubquery:
			for _, h := range columns[v.GroupByAlias] {
				if sqlir.Equal(h.expr, v.InGroupSelect) {
					return h.col
				}
			}
			return v.Subquery
		}
		return x
	})
}
