package sqlir

import "reflect"

// Equal reports whether a and b are structurally equal. Two trees that
// declare different aliases in the same positions are equal when every
// column reference agrees under that correspondence.
func Equal(a, b Node) bool {
	return EqualScoped(a, b, nil)
}

// EqualScoped is Equal with a starting alias correspondence from aliases of
// a to aliases of b. The map is not modified.
func EqualScoped(a, b Node, scope map[Alias]Alias) bool {
	c := comparer{aliases: make(map[Alias]Alias, len(scope))}
	for k, v := range scope {
		c.aliases[k] = v
	}
	return c.equal(a, b)
}

type comparer struct {
	aliases map[Alias]Alias
}

func (c *comparer) sameAlias(a, b Alias) bool {
	if m, ok := c.aliases[a]; ok {
		return m == b
	}
	return a == b
}

func (c *comparer) equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a == b {
		return true
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if !c.sameAttrs(a, b) {
		return false
	}
	ac, bc := a.Children(), b.Children()
	if len(ac) != len(bc) {
		return false
	}
	for i := range ac {
		if !c.equal(ac[i], bc[i]) {
			return false
		}
	}
	return true
}

// sameAttrs compares everything except the children. Declaring nodes map
// their alias here so later siblings resolve against it.
func (c *comparer) sameAttrs(a, b Node) bool {
	switch x := a.(type) {
	case *Table:
		y := b.(*Table)
		if x.Entity != y.Entity || x.Name != y.Name {
			return false
		}
		c.aliases[x.Alias] = y.Alias
		return true
	case *Select:
		y := b.(*Select)
		if x.Distinct != y.Distinct || x.Reverse != y.Reverse ||
			len(x.Columns) != len(y.Columns) || len(x.OrderBy) != len(y.OrderBy) ||
			len(x.GroupBy) != len(y.GroupBy) {
			return false
		}
		for i := range x.Columns {
			if x.Columns[i].Name != y.Columns[i].Name {
				return false
			}
		}
		for i := range x.OrderBy {
			if x.OrderBy[i].Desc != y.OrderBy[i].Desc {
				return false
			}
		}
		c.aliases[x.Alias] = y.Alias
		return true
	case *Join:
		return x.Kind == b.(*Join).Kind
	case *Column:
		y := b.(*Column)
		return x.Name == y.Name && c.sameAlias(x.Alias, y.Alias)
	case *Constant:
		y := b.(*Constant)
		return x.Type() == y.Type() && reflect.DeepEqual(x.Value, y.Value)
	case *NamedValue:
		y := b.(*NamedValue)
		return x.Slot == y.Slot && x.Arg == y.Arg && x.Outer == y.Outer &&
			reflect.DeepEqual(x.Value, y.Value)
	case *Binary:
		return x.Op == b.(*Binary).Op
	case *Unary:
		return x.Op == b.(*Unary).Op
	case *Func:
		return x.Name == b.(*Func).Name
	case *Aggregate:
		y := b.(*Aggregate)
		return x.Kind == y.Kind && x.Distinct == y.Distinct
	case *RowNumber:
		y := b.(*RowNumber)
		if len(x.OrderBy) != len(y.OrderBy) {
			return false
		}
		for i := range x.OrderBy {
			if x.OrderBy[i].Desc != y.OrderBy[i].Desc {
				return false
			}
		}
		return true
	case *In:
		y := b.(*In)
		return (x.Select == nil) == (y.Select == nil) && len(x.Values) == len(y.Values)
	case *AggregateSubquery:
		return c.sameAlias(x.GroupByAlias, b.(*AggregateSubquery).GroupByAlias)
	case *Variable:
		return x.Name == b.(*Variable).Name
	case *Entity:
		return x.Entity == b.(*Entity).Entity
	case *New:
		y := b.(*New)
		return x.Typ == y.Typ && reflect.DeepEqual(x.Names, y.Names)
	case *Member:
		return x.Name == b.(*Member).Name
	case *Projection:
		y := b.(*Projection)
		if (x.Aggregator == nil) != (y.Aggregator == nil) {
			return false
		}
		return x.Aggregator == nil || x.Aggregator.Kind == y.Aggregator.Kind
	case *ClientJoin:
		y := b.(*ClientJoin)
		return len(x.OuterKey) == len(y.OuterKey)
	case *Insert:
		y := b.(*Insert)
		return sameTable(c, x.Table, y.Table) && sameAssignments(x.Assignments, y.Assignments)
	case *Update:
		y := b.(*Update)
		return sameTable(c, x.Table, y.Table) && sameAssignments(x.Assignments, y.Assignments)
	case *Delete:
		return sameTable(c, x.Table, b.(*Delete).Table)
	case *Batch:
		return x.Size == b.(*Batch).Size
	case *Declare:
		y := b.(*Declare)
		if len(x.Vars) != len(y.Vars) {
			return false
		}
		for i := range x.Vars {
			if x.Vars[i].Name != y.Vars[i].Name {
				return false
			}
		}
		return true
	default:
		// Scalar, Exists, IsNull, Between, Conditional, Grouping,
		// OuterJoined, Block and If carry nothing beyond their children.
		return true
	}
}

func sameTable(c *comparer, a, b *Table) bool {
	if a.Entity != b.Entity || a.Name != b.Name {
		return false
	}
	c.aliases[a.Alias] = b.Alias
	return true
}

func sameAssignments(a, b []Assignment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Column != b[i].Column {
			return false
		}
	}
	return true
}
