package optimizer

import (
	"strconv"

	"github.com/roach88/relq/internal/sqlir"
)

// rewriteOrderBy moves orderings out of nested selects, where SQL does not
// keep them, to the outermost select or the nearest select that pages.
// Reverse is resolved by flipping the gathered orderings.
func rewriteOrderBy(_ *Context, n sqlir.Node) sqlir.Node {
	r := &orderings{outermost: true}
	return r.visit(n)
}

type orderings struct {
	outermost bool
	gathered  []sqlir.Ordering
}

func (r *orderings) visit(n sqlir.Node) sqlir.Node {
	switch x := n.(type) {
	case nil:
		return nil
	case *sqlir.Select:
		return r.visitSelect(x)
	case *sqlir.Join:
		left := r.visit(x.Left)
		leftOrders := r.gathered
		r.gathered = nil
		right := r.visit(x.Right)
		r.prepend(leftOrders)
		on := r.visit(x.On)
		if left == x.Left && right == x.Right && on == x.On {
			return x
		}
		return &sqlir.Join{Kind: x.Kind, Left: left, Right: right, On: on}
	case *sqlir.Scalar, *sqlir.Exists, *sqlir.In:
		saved, savedOuter := r.gathered, r.outermost
		r.gathered, r.outermost = nil, false
		out := sqlir.MapChildren(n, r.visit)
		r.gathered, r.outermost = saved, savedOuter
		return out
	case *sqlir.Projection:
		// A nested projection runs as its own query.
		saved, savedOuter := r.gathered, r.outermost
		r.gathered, r.outermost = nil, true
		sel := r.visit(x.Select).(*sqlir.Select)
		r.gathered, r.outermost = nil, true
		projector := r.visit(x.Projector)
		r.gathered, r.outermost = saved, savedOuter
		if sel == x.Select && projector == x.Projector {
			return x
		}
		return &sqlir.Projection{Select: sel, Projector: projector, Aggregator: x.Aggregator}
	}
	return sqlir.MapChildren(n, r.visit)
}

func (r *orderings) visitSelect(s *sqlir.Select) sqlir.Node {
	outermost := r.outermost
	r.outermost = false
	defer func() { r.outermost = outermost }()

	visited := sqlir.MapChildren(s, r.visit).(*sqlir.Select)

	hasOrderBy := visited.HasOrderBy()
	hasGroupBy := visited.HasGroupBy()
	canHaveOrderBy := outermost || visited.Take != nil || visited.Skip != nil
	canReceive := canHaveOrderBy && !hasGroupBy && !visited.Distinct && !sqlir.HasAggregates(visited)
	if hasOrderBy {
		r.prepend(visited.OrderBy)
	}
	if visited.Reverse {
		r.reverse()
	}

	var ords []sqlir.Ordering
	switch {
	case canReceive:
		ords = r.gathered
	case canHaveOrderBy:
		ords = visited.OrderBy
	}

	cols := visited.Columns
	colsChanged := false
	if r.gathered != nil {
		canPassOn := !outermost && !hasGroupBy && !visited.Distinct
		gathered := r.gathered
		r.gathered = nil
		if canPassOn {
			var rebound []sqlir.Ordering
			cols, rebound, colsChanged = rebindOrderings(gathered, visited.Alias, sqlir.DeclaredAliases(visited.From), cols)
			r.prepend(rebound)
		}
	}

	if sameOrderings(ords, visited.OrderBy) && !colsChanged && !visited.Reverse {
		return visited
	}
	ns := visited.WithColumns(cols)
	ns.OrderBy = append([]sqlir.Ordering(nil), ords...)
	if len(ns.OrderBy) == 0 {
		ns.OrderBy = nil
	}
	ns.Reverse = false
	return ns
}

// prepend puts ords in front of the gathered orderings and drops later
// repeats of the same column.
func (r *orderings) prepend(ords []sqlir.Ordering) {
	if ords == nil {
		return
	}
	all := append(append([]sqlir.Ordering(nil), ords...), r.gathered...)
	seen := make(map[colKey]bool, len(all))
	out := all[:0]
	for _, o := range all {
		if c, ok := o.Expr.(*sqlir.Column); ok {
			k := colKey{c.Alias, c.Name}
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		out = append(out, o)
	}
	r.gathered = out
}

func (r *orderings) reverse() {
	for i := range r.gathered {
		r.gathered[i].Desc = !r.gathered[i].Desc
	}
}

// rebindOrderings re-expresses orderings over the sources of a select as
// orderings over that select's columns, declaring columns as needed.
// Orderings over aliases the select cannot see are dropped.
func rebindOrderings(ords []sqlir.Ordering, alias sqlir.Alias, visible []sqlir.Alias, cols []sqlir.ColumnDecl) ([]sqlir.ColumnDecl, []sqlir.Ordering, bool) {
	vis := make(map[sqlir.Alias]bool, len(visible))
	for _, a := range visible {
		vis[a] = true
	}
	changed := false
	out := make([]sqlir.Ordering, 0, len(ords))
	for _, o := range ords {
		col, isColumn := o.Expr.(*sqlir.Column)
		if isColumn && !vis[col.Alias] {
			continue
		}
		var ref sqlir.Node
		for _, d := range cols {
			if sqlir.Equal(d.Expr, o.Expr) {
				ref = &sqlir.Column{Alias: alias, Name: d.Name, Typ: o.Expr.Type(), StoreType: d.StoreType}
				break
			}
		}
		if ref == nil {
			base := "c" + strconv.Itoa(len(cols))
			var storeType string
			if isColumn {
				base = col.Name
				storeType = col.StoreType
			}
			name := sqlir.UniqueColumnName(cols, base)
			cols = append(append([]sqlir.ColumnDecl(nil), cols...), sqlir.ColumnDecl{Name: name, Expr: o.Expr, StoreType: storeType})
			ref = &sqlir.Column{Alias: alias, Name: name, Typ: o.Expr.Type(), StoreType: storeType}
			changed = true
		}
		out = append(out, sqlir.Ordering{Desc: o.Desc, Expr: ref})
	}
	return cols, out, changed
}

func sameOrderings(a, b []sqlir.Ordering) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Desc != b[i].Desc || a[i].Expr != b[i].Expr {
			return false
		}
	}
	return true
}
