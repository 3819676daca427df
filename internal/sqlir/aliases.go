package sqlir

// DeclaredAliases returns the aliases a row source makes visible: a Table or
// Select declares its own alias, a Join declares those of both sides.
func DeclaredAliases(source Node) []Alias {
	var out []Alias
	var walk func(Node)
	walk = func(n Node) {
		switch s := n.(type) {
		case *Table:
			out = append(out, s.Alias)
		case *Select:
			out = append(out, s.Alias)
		case *Join:
			walk(s.Left)
			walk(s.Right)
		}
	}
	walk(source)
	return out
}

// ReferencedAliases returns the set of aliases read by Column nodes
// anywhere under n.
func ReferencedAliases(n Node) map[Alias]bool {
	out := make(map[Alias]bool)
	Inspect(n, func(x Node) bool {
		if c, ok := x.(*Column); ok {
			out[c.Alias] = true
		}
		return true
	})
	return out
}

// References reports whether any Column under n reads one of aliases.
func References(n Node, aliases ...Alias) bool {
	if len(aliases) == 0 {
		return false
	}
	want := make(map[Alias]bool, len(aliases))
	for _, a := range aliases {
		want[a] = true
	}
	found := false
	Inspect(n, func(x Node) bool {
		if found {
			return false
		}
		if c, ok := x.(*Column); ok && want[c.Alias] {
			found = true
		}
		return !found
	})
	return found
}

// FreeAliases returns the aliases read under n that n does not declare
// itself: the outer references of a subquery.
func FreeAliases(n Node) map[Alias]bool {
	declared := make(map[Alias]bool)
	Inspect(n, func(x Node) bool {
		switch s := x.(type) {
		case *Table:
			declared[s.Alias] = true
		case *Select:
			declared[s.Alias] = true
		}
		return true
	})
	out := make(map[Alias]bool)
	for a := range ReferencedAliases(n) {
		if !declared[a] {
			out[a] = true
		}
	}
	return out
}

// HasAggregates reports whether the columns or orderings of s contain an
// aggregate that is not inside a nested subquery. A select has no HAVING,
// so its where clause never holds one.
func HasAggregates(s *Select) bool {
	found := false
	check := func(n Node) {
		Inspect(n, func(x Node) bool {
			if found {
				return false
			}
			switch x.(type) {
			case *Aggregate:
				found = true
				return false
			case *Select, *Scalar, *Exists, *In, *Projection, *AggregateSubquery:
				return false
			}
			return true
		})
	}
	for _, c := range s.Columns {
		check(c.Expr)
	}
	for _, o := range s.OrderBy {
		check(o.Expr)
	}
	return found
}

// Duplicate copies n, giving every Table and Select under it a fresh alias
// and rewriting the columns that read them.
func Duplicate(n Node) Node {
	fresh := make(map[Alias]Alias)
	Inspect(n, func(x Node) bool {
		switch s := x.(type) {
		case *Table:
			fresh[s.Alias] = NewAlias()
		case *Select:
			fresh[s.Alias] = NewAlias()
		}
		return true
	})
	return Transform(n, func(x Node) Node {
		switch s := x.(type) {
		case *Table:
			return &Table{Alias: fresh[s.Alias], Entity: s.Entity, Name: s.Name}
		case *Select:
			ns := s.clone()
			ns.Alias = fresh[s.Alias]
			return ns
		}
		return remapNode(x, fresh)
	})
}

// MapAliases rewrites column references (and group-by alias references) so
// that every alias in m is replaced by its image. Declarations are kept.
func MapAliases(n Node, m map[Alias]Alias) Node {
	if len(m) == 0 {
		return n
	}
	return Transform(n, func(x Node) Node { return remapNode(x, m) })
}

func remapNode(x Node, m map[Alias]Alias) Node {
	switch s := x.(type) {
	case *Column:
		if to, ok := m[s.Alias]; ok {
			nc := *s
			nc.Alias = to
			return &nc
		}
	case *AggregateSubquery:
		if to, ok := m[s.GroupByAlias]; ok {
			na := *s
			na.GroupByAlias = to
			return &na
		}
	}
	return x
}

// MapColumns replaces each Column under n whose alias is in from with the
// column of the same name on to.
func MapColumns(n Node, to Alias, from ...Alias) Node {
	m := make(map[Alias]Alias, len(from))
	for _, a := range from {
		m[a] = to
	}
	return MapAliases(n, m)
}

// And joins predicates with AND, skipping nils. It returns nil when all are
// nil.
func And(preds ...Node) Node {
	var out Node
	for _, p := range preds {
		if p == nil {
			continue
		}
		if out == nil {
			out = p
			continue
		}
		out = &Binary{Op: OpAnd, Left: out, Right: p}
	}
	return out
}

// Or joins predicates with OR, skipping nils.
func Or(preds ...Node) Node {
	var out Node
	for _, p := range preds {
		if p == nil {
			continue
		}
		if out == nil {
			out = p
			continue
		}
		out = &Binary{Op: OpOr, Left: out, Right: p}
	}
	return out
}

// Split returns the AND-ed conjuncts of pred in order.
func Split(pred Node) []Node {
	if pred == nil {
		return nil
	}
	if b, ok := pred.(*Binary); ok && b.Op == OpAnd {
		return append(Split(b.Left), Split(b.Right)...)
	}
	return []Node{pred}
}

// Eq returns a = b.
func Eq(a, b Node) Node {
	return &Binary{Op: OpEq, Left: a, Right: b}
}

// Not returns NOT x.
func Not(x Node) Node {
	return &Unary{Op: OpNot, X: x}
}

// NullsEqual returns a predicate that holds when a and b are equal or both
// null.
func NullsEqual(a, b Node) Node {
	return Or(
		And(&IsNull{X: a}, &IsNull{X: b}),
		And(Not(&IsNull{X: a}), Not(&IsNull{X: b}), Eq(a, b)),
	)
}
