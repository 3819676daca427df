package sqlir

import "fmt"

// ValidationResult lists structural problems found in a tree.
type ValidationResult struct {
	// Valid is true when Problems is empty.
	Valid bool

	// Problems describes each violated invariant, in walk order.
	Problems []string
}

// Validate checks the invariants every pass must preserve:
//  1. Column names are unique within a Select
//  2. Every Column reads an alias visible at its position
//  3. Ungrouped bare columns do not appear in a grouped Select
//  4. Projection and ClientJoin keys are well formed
//
// Validate is a pure function with no side effects.
func Validate(n Node) ValidationResult {
	v := &validator{}
	v.walk(n, nil)
	return ValidationResult{Valid: len(v.problems) == 0, Problems: v.problems}
}

type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func extend(scope map[Alias]bool, aliases ...Alias) map[Alias]bool {
	out := make(map[Alias]bool, len(scope)+len(aliases))
	for a := range scope {
		out[a] = true
	}
	for _, a := range aliases {
		out[a] = true
	}
	return out
}

// walk validates n with scope holding the aliases visible from outside.
func (v *validator) walk(n Node, scope map[Alias]bool) {
	switch x := n.(type) {
	case nil:
		return
	case *Column:
		if x.Alias.IsZero() {
			v.addProblem("column %q has no alias", x.Name)
		} else if !scope[x.Alias] {
			v.addProblem("column %q reads alias %s, which is not visible", x.Name, x.Alias)
		}
	case *Select:
		v.walkSelect(x, scope)
	case *Join:
		v.walk(x.Left, scope)
		right := scope
		if x.Kind == CrossApply || x.Kind == OuterApply {
			right = extend(scope, DeclaredAliases(x.Left)...)
		}
		v.walk(x.Right, right)
		v.walk(x.On, extend(scope, DeclaredAliases(x)...))
	case *Projection:
		v.walk(x.Select, scope)
		v.walk(x.Projector, extend(scope, x.Select.Alias))
	case *ClientJoin:
		if len(x.OuterKey) != len(x.InnerKey) {
			v.addProblem("client join has %d outer and %d inner key parts", len(x.OuterKey), len(x.InnerKey))
		}
		v.walk(x.Projection, scope)
		for _, k := range x.OuterKey {
			v.walk(k, scope)
		}
		inner := extend(scope, x.Projection.Select.Alias)
		for _, k := range x.InnerKey {
			v.walk(k, inner)
		}
	case *AggregateSubquery:
		// InGroupSelect reads the grouped select's source and is only
		// evaluated once hoisted there.
		v.walk(x.Subquery, scope)
	case *Insert:
		v.walkChildren(x, extend(scope, x.Table.Alias))
	case *Update:
		v.walkChildren(x, extend(scope, x.Table.Alias))
	case *Delete:
		v.walkChildren(x, extend(scope, x.Table.Alias))
	default:
		v.walkChildren(n, scope)
	}
}

func (v *validator) walkChildren(n Node, scope map[Alias]bool) {
	for _, c := range n.Children() {
		v.walk(c, scope)
	}
}

func (v *validator) walkSelect(s *Select, scope map[Alias]bool) {
	if s.Alias.IsZero() {
		v.addProblem("select has no alias")
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if seen[c.Name] {
			v.addProblem("select %s declares column %q twice", s.Alias, c.Name)
		}
		seen[c.Name] = true
	}
	v.walk(s.From, scope)
	inner := extend(scope, DeclaredAliases(s.From)...)
	for _, c := range s.Columns {
		v.walk(c.Expr, inner)
		if s.HasGroupBy() {
			if col, ok := c.Expr.(*Column); ok && !groupedBy(s, col) {
				v.addProblem("select %s column %q is neither grouped nor aggregated", s.Alias, c.Name)
			}
		}
	}
	v.walk(s.Where, inner)
	for _, o := range s.OrderBy {
		v.walk(o.Expr, inner)
	}
	for _, g := range s.GroupBy {
		v.walk(g, inner)
	}
	v.walk(s.Skip, inner)
	v.walk(s.Take, inner)
}

func groupedBy(s *Select, col *Column) bool {
	for _, g := range s.GroupBy {
		if Equal(g, col) {
			return true
		}
	}
	return false
}
