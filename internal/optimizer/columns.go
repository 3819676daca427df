package optimizer

import (
	"github.com/roach88/relq/internal/sqlir"
)

type colKey struct {
	alias sqlir.Alias
	name  string
}

// removeUnusedColumns drops select columns nothing reads. Usage is marked
// top-down: a projector before its select, a select's own clauses before
// its source, a join condition before the sides and the right side of a
// join before the left, so every reader is seen before the columns it
// reads are pruned.
func removeUnusedColumns(_ *Context, n sqlir.Node) sqlir.Node {
	u := &unusedColumns{used: make(map[colKey]bool), aliases: make(map[sqlir.Alias]bool)}
	return u.visit(n)
}

type unusedColumns struct {
	used    map[colKey]bool
	aliases map[sqlir.Alias]bool
	// retainAll keeps every column of the next select visited: the rows
	// of a COUNT(*) source must not collapse.
	retainAll bool
}

func (u *unusedColumns) mark(c *sqlir.Column) {
	u.used[colKey{c.Alias, c.Name}] = true
	u.aliases[c.Alias] = true
}

func (u *unusedColumns) visit(n sqlir.Node) sqlir.Node {
	switch x := n.(type) {
	case nil:
		return nil
	case *sqlir.Column:
		u.mark(x)
		return x
	case *sqlir.Aggregate:
		if x.Kind == sqlir.Count && x.Arg == nil {
			u.retainAll = true
		}
	case *sqlir.Scalar:
		if len(x.Select.Columns) > 0 {
			u.used[colKey{x.Select.Alias, x.Select.Columns[0].Name}] = true
		}
	case *sqlir.In:
		if x.Select != nil && len(x.Select.Columns) > 0 {
			u.used[colKey{x.Select.Alias, x.Select.Columns[0].Name}] = true
		}
	case *sqlir.Select:
		return u.visitSelect(x)
	case *sqlir.Join:
		return u.visitJoin(x)
	case *sqlir.Projection:
		projector := u.visit(x.Projector)
		sel := u.visit(x.Select).(*sqlir.Select)
		if projector == x.Projector && sel == x.Select {
			return x
		}
		return &sqlir.Projection{Select: sel, Projector: projector, Aggregator: x.Aggregator}
	case *sqlir.ClientJoin:
		outer := u.visitList(x.OuterKey)
		inner := u.visitList(x.InnerKey)
		proj := u.visit(x.Projection).(*sqlir.Projection)
		if proj == x.Projection && sameNodes(outer, x.OuterKey) && sameNodes(inner, x.InnerKey) {
			return x
		}
		return &sqlir.ClientJoin{Projection: proj, OuterKey: outer, InnerKey: inner}
	}
	return sqlir.MapChildren(n, u.visit)
}

func (u *unusedColumns) visitSelect(s *sqlir.Select) sqlir.Node {
	retained := u.retainAll
	u.retainAll = false
	defer func() { u.retainAll = retained }()

	changed := false
	cols := make([]sqlir.ColumnDecl, 0, len(s.Columns))
	for _, c := range s.Columns {
		if !retained && !s.Distinct && !u.used[colKey{s.Alias, c.Name}] {
			changed = true
			continue
		}
		e := u.visit(c.Expr)
		changed = changed || e != c.Expr
		cols = append(cols, sqlir.ColumnDecl{Name: c.Name, Expr: e, StoreType: c.StoreType})
	}

	take := u.visit(s.Take)
	skip := u.visit(s.Skip)
	group := u.visitList(s.GroupBy)
	order := make([]sqlir.Ordering, len(s.OrderBy))
	for i, o := range s.OrderBy {
		order[i] = sqlir.Ordering{Desc: o.Desc, Expr: u.visit(o.Expr)}
		changed = changed || order[i].Expr != o.Expr
	}
	where := u.visit(s.Where)
	from := u.visit(s.From)

	if !changed && take == s.Take && skip == s.Skip && where == s.Where && from == s.From && sameNodes(group, s.GroupBy) {
		return s
	}
	ns := s.WithColumns(cols)
	ns.Take, ns.Skip, ns.Where, ns.From = take, skip, where, from
	ns.GroupBy = group
	if len(order) > 0 {
		ns.OrderBy = order
	}
	return ns
}

func (u *unusedColumns) visitJoin(j *sqlir.Join) sqlir.Node {
	on := u.visit(j.On)
	right := u.visit(j.Right)
	left := u.visit(j.Left)
	if on == j.On && right == j.Right && left == j.Left {
		return j
	}
	return &sqlir.Join{Kind: j.Kind, Left: left, Right: right, On: on}
}

func (u *unusedColumns) visitList(ns []sqlir.Node) []sqlir.Node {
	if ns == nil {
		return nil
	}
	out := make([]sqlir.Node, len(ns))
	for i, n := range ns {
		out[i] = u.visit(n)
	}
	return out
}

func sameNodes(a, b []sqlir.Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// removeRedundantColumns merges columns of one select that compute the same
// expression; readers of a dropped column are pointed at the kept one.
func removeRedundantColumns(_ *Context, n sqlir.Node) sqlir.Node {
	renamed := make(map[colKey]string)
	return sqlir.Transform(n, func(x sqlir.Node) sqlir.Node {
		switch v := x.(type) {
		case *sqlir.Column:
			if to, ok := renamed[colKey{v.Alias, v.Name}]; ok {
				nc := *v
				nc.Name = to
				return &nc
			}
		case *sqlir.Select:
			var kept []sqlir.ColumnDecl
			dropped := false
		next:
			for _, c := range v.Columns {
				for _, k := range kept {
					if sqlir.Equal(k.Expr, c.Expr) {
						renamed[colKey{v.Alias, c.Name}] = k.Name
						dropped = true
						continue next
					}
				}
				kept = append(kept, c)
			}
			if dropped {
				return v.WithColumns(kept)
			}
		}
		return x
	})
}
