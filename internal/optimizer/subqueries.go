package optimizer

import (
	"github.com/roach88/relq/internal/sqlir"
)

// removeRedundantSubqueries splices out selects that only pass their source
// through, then merges each select with the leftmost select it reads from
// while that does not change the result.
func removeRedundantSubqueries(_ *Context, n sqlir.Node) sqlir.Node {
	var top sqlir.Alias
	if p, ok := n.(*sqlir.Projection); ok {
		top = p.Select.Alias
	}
	removed := make(map[sqlir.Alias]*sqlir.Select)
	var fn func(sqlir.Node) sqlir.Node
	fn = func(x sqlir.Node) sqlir.Node {
		switch v := x.(type) {
		case *sqlir.Column:
			if s, ok := removed[v.Alias]; ok {
				if d, _, ok := s.Column(v.Name); ok {
					return sqlir.Transform(d.Expr, fn)
				}
			}
		case *sqlir.Select:
			if redundant := gatherRedundant(v.From); len(redundant) > 0 {
				for _, r := range redundant {
					removed[r.Alias] = r
				}
				v = removeSelects(v, redundant...).(*sqlir.Select)
			}
			return mergeWithFrom(v, v.Alias == top)
		case *sqlir.Projection:
			if _, ok := v.Select.From.(*sqlir.Select); ok && isRedundant(v.Select) {
				removed[v.Select.Alias] = v.Select
				return removeSelects(v, v.Select)
			}
		}
		return x
	}
	return sqlir.Transform(n, fn)
}

// gatherRedundant collects the redundant selects among the row sources of
// a from clause, without looking inside them.
func gatherRedundant(source sqlir.Node) []*sqlir.Select {
	var out []*sqlir.Select
	var walk func(sqlir.Node)
	walk = func(n sqlir.Node) {
		switch s := n.(type) {
		case *sqlir.Select:
			if isRedundant(s) {
				out = append(out, s)
			}
		case *sqlir.Join:
			walk(s.Left)
			walk(s.Right)
		}
	}
	walk(source)
	return out
}

func isRedundant(s *sqlir.Select) bool {
	return s.From != nil &&
		(isSimpleProjection(s) || isNameMapProjection(s)) &&
		!s.Distinct && !s.Reverse &&
		s.Take == nil && s.Skip == nil && s.Where == nil &&
		!s.HasOrderBy() && !s.HasGroupBy()
}

// isSimpleProjection: every column reads a column of the same name.
func isSimpleProjection(s *sqlir.Select) bool {
	for _, c := range s.Columns {
		col, ok := c.Expr.(*sqlir.Column)
		if !ok || col.Name != c.Name {
			return false
		}
	}
	return true
}

// isNameMapProjection: column i reads column i of the select s reads from,
// possibly under another name.
func isNameMapProjection(s *sqlir.Select) bool {
	from, ok := s.From.(*sqlir.Select)
	if !ok || len(s.Columns) != len(from.Columns) {
		return false
	}
	for i, c := range s.Columns {
		col, ok := c.Expr.(*sqlir.Column)
		if !ok || col.Alias != from.Alias || col.Name != from.Columns[i].Name {
			return false
		}
	}
	return true
}

// removeSelects replaces each of selects under n with its source and every
// column read from it with the expression it declared.
func removeSelects(n sqlir.Node, selects ...*sqlir.Select) sqlir.Node {
	removed := make(map[sqlir.Alias]*sqlir.Select, len(selects))
	for _, s := range selects {
		removed[s.Alias] = s
	}
	var fn func(sqlir.Node) sqlir.Node
	fn = func(x sqlir.Node) sqlir.Node {
		switch v := x.(type) {
		case *sqlir.Select:
			if _, ok := removed[v.Alias]; ok {
				return v.From
			}
		case *sqlir.Column:
			if s, ok := removed[v.Alias]; ok {
				if d, _, ok := s.Column(v.Name); ok {
					return sqlir.Transform(d.Expr, fn)
				}
			}
		}
		return x
	}
	return sqlir.Transform(n, fn)
}

func leftmostSelect(source sqlir.Node) *sqlir.Select {
	switch s := source.(type) {
	case *sqlir.Select:
		return s
	case *sqlir.Join:
		return leftmostSelect(s.Left)
	}
	return nil
}

// isColumnProjection: every column is a plain column or a constant.
func isColumnProjection(s *sqlir.Select) bool {
	for _, c := range s.Columns {
		switch c.Expr.(type) {
		case *sqlir.Column, *sqlir.Constant:
		default:
			return false
		}
	}
	return true
}

func mergeWithFrom(sel *sqlir.Select, topLevel bool) *sqlir.Select {
	for canMergeWithFrom(sel, topLevel) {
		from := leftmostSelect(sel.From)
		merged := removeSelects(sel, from).(*sqlir.Select)

		ns := *merged
		ns.Where = sqlir.And(from.Where, merged.Where)
		if !merged.HasOrderBy() {
			ns.OrderBy = from.OrderBy
		}
		if !merged.HasGroupBy() {
			ns.GroupBy = from.GroupBy
		}
		if ns.Skip == nil {
			ns.Skip = from.Skip
		}
		if ns.Take == nil {
			ns.Take = from.Take
		}
		ns.Distinct = merged.Distinct || from.Distinct
		sel = &ns
	}
	return sel
}

// canMergeWithFrom decides whether sel may absorb the leftmost select of its
// source. The conditions are kept one per line; each guards a distinct
// interaction of ordering, grouping, paging and distinct.
func canMergeWithFrom(sel *sqlir.Select, topLevel bool) bool {
	from := leftmostSelect(sel.From)
	if from == nil || from.From == nil {
		return false
	}
	if !isColumnProjection(from) {
		return false
	}
	selHasNameMap := isNameMapProjection(sel)
	selHasOrderBy := sel.HasOrderBy()
	selHasGroupBy := sel.HasGroupBy()
	selHasAggregates := sqlir.HasAggregates(sel)
	_, selHasJoin := sel.From.(*sqlir.Join)
	fromHasOrderBy := from.HasOrderBy()
	fromHasGroupBy := from.HasGroupBy()
	fromHasAggregates := sqlir.HasAggregates(from)

	if selHasOrderBy && fromHasOrderBy {
		return false
	}
	if selHasGroupBy && fromHasGroupBy {
		return false
	}
	if sel.Reverse || from.Reverse {
		return false
	}
	if fromHasOrderBy && (selHasGroupBy || selHasAggregates || sel.Distinct) {
		return false
	}
	if fromHasGroupBy && (sel.Where != nil || selHasAggregates || selHasJoin) {
		return false
	}
	if from.Take != nil && (sel.Take != nil || sel.Skip != nil || sel.Distinct || selHasAggregates || selHasGroupBy || selHasJoin) {
		return false
	}
	if from.Skip != nil && (sel.Skip != nil || sel.Distinct || selHasAggregates || selHasGroupBy || selHasJoin) {
		return false
	}
	if from.Distinct && (sel.Take != nil || sel.Skip != nil || !selHasNameMap || selHasGroupBy || selHasAggregates || (selHasOrderBy && !topLevel) || selHasJoin) {
		return false
	}
	if fromHasAggregates && (sel.Take != nil || sel.Skip != nil || sel.Distinct || selHasAggregates || selHasGroupBy || selHasJoin) {
		return false
	}
	// An outer filter applies after the inner page, never before it.
	if from.Take != nil && sel.Where != nil {
		return false
	}
	if from.Skip != nil && sel.Where != nil {
		return false
	}
	return true
}
