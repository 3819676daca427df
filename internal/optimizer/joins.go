package optimizer

import (
	"github.com/roach88/relq/internal/projector"
	"github.com/roach88/relq/internal/sqlir"
)

// removeRedundantJoins drops a join whose right side repeats a right side
// already joined on its left with the same kind and condition, and
// singleton outer joins whose right side nothing reads.
func removeRedundantJoins(_ *Context, n sqlir.Node) sqlir.Node {
	unread := unreadSingletonJoins(n)
	mapped := make(map[sqlir.Alias]sqlir.Alias)
	return sqlir.Transform(n, func(x sqlir.Node) sqlir.Node {
		switch v := x.(type) {
		case *sqlir.Column:
			if to, ok := mapped[v.Alias]; ok {
				nc := *v
				nc.Alias = to
				return &nc
			}
		case *sqlir.Join:
			right, ok := sqlir.SourceAlias(v.Right)
			if !ok {
				return x
			}
			if v.Kind == sqlir.SingletonLeftOuterJoin && unread[right] {
				return v.Left
			}
			left, _ := v.Left.(*sqlir.Join)
			if similar, ok := findSimilarRight(left, v); ok {
				mapped[right] = similar
				return v.Left
			}
		}
		return x
	})
}

// unreadSingletonJoins returns the right aliases of singleton outer joins
// that no column outside the join's right side and condition reads.
func unreadSingletonJoins(root sqlir.Node) map[sqlir.Alias]bool {
	out := make(map[sqlir.Alias]bool)
	sqlir.Inspect(root, func(x sqlir.Node) bool {
		if j, ok := x.(*sqlir.Join); ok && j.Kind == sqlir.SingletonLeftOuterJoin {
			if a, ok := sqlir.SourceAlias(j.Right); ok {
				out[a] = true
			}
		}
		return true
	})
	if len(out) == 0 {
		return out
	}
	var reads func(sqlir.Node)
	reads = func(n sqlir.Node) {
		sqlir.Inspect(n, func(x sqlir.Node) bool {
			switch v := x.(type) {
			case *sqlir.Join:
				if a, ok := sqlir.SourceAlias(v.Right); ok && v.Kind == sqlir.SingletonLeftOuterJoin && out[a] {
					reads(v.Left)
					// Outer references from inside the right side still
					// count for other joins.
					for ref := range sqlir.FreeAliases(v.Right) {
						if ref != a {
							delete(out, ref)
						}
					}
					for ref := range sqlir.ReferencedAliases(v.On) {
						if ref != a {
							delete(out, ref)
						}
					}
					return false
				}
			case *sqlir.Column:
				delete(out, v.Alias)
			}
			return true
		})
	}
	reads(root)
	return out
}

func findSimilarRight(j *sqlir.Join, compareTo *sqlir.Join) (sqlir.Alias, bool) {
	if j == nil {
		return sqlir.Alias{}, false
	}
	if j.Kind == compareTo.Kind && sqlir.Equal(j.Right, compareTo.Right) {
		a, _ := sqlir.SourceAlias(j.Right)
		b, _ := sqlir.SourceAlias(compareTo.Right)
		if sqlir.EqualScoped(j.On, compareTo.On, map[sqlir.Alias]sqlir.Alias{a: b}) {
			return a, true
		}
	}
	left, _ := j.Left.(*sqlir.Join)
	if a, ok := findSimilarRight(left, compareTo); ok {
		return a, true
	}
	right, _ := j.Right.(*sqlir.Join)
	return findSimilarRight(right, compareTo)
}

// rewriteApplyToJoin turns apply joins whose right side does not depend on
// the left outside its where clause into ordinary joins on that clause.
func rewriteApplyToJoin(_ *Context, n sqlir.Node) sqlir.Node {
	return sqlir.Transform(n, func(x sqlir.Node) sqlir.Node {
		if j, ok := x.(*sqlir.Join); ok {
			return applyToJoin(j)
		}
		return x
	})
}

// columnRefs nominates plain column reads only, so a predicate moved out
// of a select keeps its operators and only its operands become columns.
type columnRefs struct{}

func (columnRefs) MustBeColumn(n sqlir.Node) bool {
	_, ok := n.(*sqlir.Column)
	return ok
}

func (c columnRefs) CanBeColumn(n sqlir.Node) bool { return c.MustBeColumn(n) }

func applyToJoin(j *sqlir.Join) *sqlir.Join {
	if j.Kind != sqlir.CrossApply && j.Kind != sqlir.OuterApply {
		return j
	}
	if _, ok := j.Right.(*sqlir.Table); ok && j.Kind == sqlir.CrossApply {
		return &sqlir.Join{Kind: sqlir.CrossJoin, Left: j.Left, Right: j.Right}
	}
	sel, ok := j.Right.(*sqlir.Select)
	if !ok || sel.Take != nil || sel.Skip != nil || sqlir.HasAggregates(sel) || sel.HasGroupBy() {
		return j
	}
	// An outer apply keeps left rows with no match; without a condition to
	// put in a left join it stays an apply.
	if j.Kind == sqlir.OuterApply && sel.Where == nil {
		return j
	}
	without := sel.WithWhere(nil)
	if sqlir.References(without, sqlir.DeclaredAliases(j.Left)...) {
		return j
	}
	where := sel.Where
	if where != nil {
		pc := projector.Project(columnRefs{}, where, without.Columns, without.Alias, sqlir.DeclaredAliases(without.From)...)
		without = without.WithColumns(pc.Columns)
		where = pc.Projector
	}
	kind := sqlir.LeftOuterJoin
	switch {
	case where == nil:
		kind = sqlir.CrossJoin
	case j.Kind == sqlir.CrossApply:
		kind = sqlir.InnerJoin
	}
	return &sqlir.Join{Kind: kind, Left: j.Left, Right: without, On: where}
}

// rewriteCrossJoin moves the conjuncts of a select's where clause that
// read both sides of a cross join (and nothing else) into an inner join
// condition.
func rewriteCrossJoin(_ *Context, n sqlir.Node) sqlir.Node {
	r := &crossJoins{}
	return r.visit(n)
}

type crossJoins struct {
	where sqlir.Node
}

func (r *crossJoins) visit(n sqlir.Node) sqlir.Node {
	switch x := n.(type) {
	case nil:
		return nil
	case *sqlir.Select:
		return r.visitSelect(x)
	case *sqlir.Join:
		left := r.visit(x.Left)
		right := r.visit(x.Right)
		on := r.visit(x.On)
		j := x
		if left != x.Left || right != x.Right || on != x.On {
			j = &sqlir.Join{Kind: x.Kind, Left: left, Right: right, On: on}
		}
		if j.Kind != sqlir.CrossJoin || r.where == nil {
			return j
		}
		leftAliases := sqlir.DeclaredAliases(j.Left)
		rightAliases := sqlir.DeclaredAliases(j.Right)
		var good, rest []sqlir.Node
		for _, part := range sqlir.Split(r.where) {
			if canBeJoinCondition(part, leftAliases, rightAliases) {
				good = append(good, part)
			} else {
				rest = append(rest, part)
			}
		}
		if len(good) == 0 {
			return j
		}
		r.where = sqlir.And(rest...)
		return &sqlir.Join{Kind: sqlir.InnerJoin, Left: j.Left, Right: j.Right, On: sqlir.And(good...)}
	}
	return sqlir.MapChildren(n, r.visit)
}

func (r *crossJoins) visitSelect(s *sqlir.Select) sqlir.Node {
	saved := r.where
	defer func() { r.where = saved }()

	r.where = r.visit(s.Where)
	from := r.visit(s.From)
	cur := s
	if from != s.From || r.where != s.Where {
		cur = s.WithFrom(from).WithWhere(r.where)
	}
	return sqlir.MapChildren(cur, func(c sqlir.Node) sqlir.Node {
		if c == cur.From || c == cur.Where {
			return c
		}
		return r.visit(c)
	})
}

func canBeJoinCondition(pred sqlir.Node, left, right []sqlir.Alias) bool {
	refs := sqlir.ReferencedAliases(pred)
	if len(refs) == 0 {
		return false
	}
	inLeft, inRight := false, false
	all := make(map[sqlir.Alias]bool, len(left)+len(right))
	for _, a := range left {
		all[a] = true
		inLeft = inLeft || refs[a]
	}
	for _, a := range right {
		all[a] = true
		inRight = inRight || refs[a]
	}
	for a := range refs {
		if !all[a] {
			return false
		}
	}
	return inLeft && inRight
}
