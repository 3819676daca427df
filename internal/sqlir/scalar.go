package sqlir

import "reflect"

// Column reads a named column of the row source identified by Alias.
type Column struct {
	Alias     Alias
	Name      string
	Typ       reflect.Type
	StoreType string
}

func (c *Column) Type() reflect.Type { return c.Typ }
func (*Column) Children() []Node     { return nil }
func (c *Column) WithChildren(children ...Node) Node {
	checkArity(c, len(children), 0)
	return c
}
func (*Column) sqlNode() {}

// Constant is a literal value. A nil Value is SQL NULL.
type Constant struct {
	Value any
	Typ   reflect.Type
}

// NewConstant returns a constant typed after its value.
func NewConstant(v any) *Constant {
	return &Constant{Value: v, Typ: reflect.TypeOf(v)}
}

func (c *Constant) Type() reflect.Type {
	if c.Typ != nil {
		return c.Typ
	}
	return reflect.TypeOf(c.Value)
}
func (*Constant) Children() []Node { return nil }
func (c *Constant) WithChildren(children ...Node) Node {
	checkArity(c, len(children), 0)
	return c
}
func (*Constant) sqlNode() {}

// NamedValue is a bound parameter. Exactly one source applies:
//   - Slot >= 0: the value of plan-cache slot Slot, supplied per call
//   - Arg != "": the named argument supplied by the caller
//   - Outer >= 0: the Outer'th outer-row value of a nested query
//   - otherwise: the fixed Value
//
// Name is the parameter name assigned by the parameterizer; it is empty
// until parameterization.
type NamedValue struct {
	Name  string
	Slot  int
	Arg   string
	Outer int
	Value any
	Typ   reflect.Type
}

// NewSlotValue returns a parameter bound to plan-cache slot i.
func NewSlotValue(i int, t reflect.Type) *NamedValue {
	return &NamedValue{Slot: i, Outer: -1, Typ: t}
}

// NewArgValue returns a parameter bound to the caller's named argument.
func NewArgValue(name string, t reflect.Type) *NamedValue {
	return &NamedValue{Slot: -1, Arg: name, Outer: -1, Typ: t}
}

// NewOuterValue returns a parameter bound to outer-row value i.
func NewOuterValue(i int, t reflect.Type) *NamedValue {
	return &NamedValue{Slot: -1, Outer: i, Typ: t}
}

// NewFixedValue returns a parameter with a fixed value.
func NewFixedValue(name string, v any, t reflect.Type) *NamedValue {
	return &NamedValue{Name: name, Slot: -1, Outer: -1, Value: v, Typ: t}
}

// IsFixed reports whether the value is known at compile time.
func (v *NamedValue) IsFixed() bool {
	return v.Slot < 0 && v.Outer < 0 && v.Arg == ""
}

func (v *NamedValue) Type() reflect.Type { return v.Typ }
func (*NamedValue) Children() []Node     { return nil }
func (v *NamedValue) WithChildren(children ...Node) Node {
	checkArity(v, len(children), 0)
	return v
}
func (*NamedValue) sqlNode() {}

// Binary applies a binary operator.
type Binary struct {
	Op          BinaryOp
	Left, Right Node
	Typ         reflect.Type
}

func (b *Binary) Type() reflect.Type {
	if b.Op.IsComparison() || b.Op.IsLogical() {
		return boolType
	}
	return b.Typ
}
func (b *Binary) Children() []Node { return []Node{b.Left, b.Right} }
func (b *Binary) WithChildren(children ...Node) Node {
	checkArity(b, len(children), 2)
	nb := *b
	nb.Left, nb.Right = children[0], children[1]
	return &nb
}
func (*Binary) sqlNode() {}

// Unary applies a unary operator.
type Unary struct {
	Op  UnaryOp
	X   Node
	Typ reflect.Type
}

func (u *Unary) Type() reflect.Type {
	if u.Op == OpNot {
		return boolType
	}
	return u.Typ
}
func (u *Unary) Children() []Node { return []Node{u.X} }
func (u *Unary) WithChildren(children ...Node) Node {
	checkArity(u, len(children), 1)
	nu := *u
	nu.X = children[0]
	return &nu
}
func (*Unary) sqlNode() {}

// Func calls a scalar function by its portable name (lower, upper, length,
// trim, like, abs, round, last_insert_id). The dialect decides the spelling.
type Func struct {
	Name string
	Args []Node
	Typ  reflect.Type
}

func (f *Func) Type() reflect.Type { return f.Typ }
func (f *Func) Children() []Node   { return cloneNodes(f.Args) }
func (f *Func) WithChildren(children ...Node) Node {
	checkArity(f, len(children), len(f.Args))
	nf := *f
	nf.Args = cloneNodes(children)
	return &nf
}
func (*Func) sqlNode() {}

// Conditional is CASE WHEN Test THEN Then ELSE Else END.
type Conditional struct {
	Test, Then, Else Node
	Typ              reflect.Type
}

func (c *Conditional) Type() reflect.Type { return c.Typ }
func (c *Conditional) Children() []Node   { return []Node{c.Test, c.Then, c.Else} }
func (c *Conditional) WithChildren(children ...Node) Node {
	checkArity(c, len(children), 3)
	nc := *c
	nc.Test, nc.Then, nc.Else = children[0], children[1], children[2]
	return &nc
}
func (*Conditional) sqlNode() {}

// IsNull tests X IS NULL.
type IsNull struct {
	X Node
}

func (*IsNull) Type() reflect.Type  { return boolType }
func (n *IsNull) Children() []Node { return []Node{n.X} }
func (n *IsNull) WithChildren(children ...Node) Node {
	checkArity(n, len(children), 1)
	return &IsNull{X: children[0]}
}
func (*IsNull) sqlNode() {}

// Between tests Lo <= X <= Hi.
type Between struct {
	X, Lo, Hi Node
}

func (*Between) Type() reflect.Type  { return boolType }
func (b *Between) Children() []Node { return []Node{b.X, b.Lo, b.Hi} }
func (b *Between) WithChildren(children ...Node) Node {
	checkArity(b, len(children), 3)
	return &Between{X: children[0], Lo: children[1], Hi: children[2]}
}
func (*Between) sqlNode() {}

// Aggregate is an aggregate function call. A nil Arg means COUNT(*).
type Aggregate struct {
	Kind     AggregateKind
	Arg      Node
	Distinct bool
	Typ      reflect.Type
}

func (a *Aggregate) Type() reflect.Type { return a.Typ }
func (a *Aggregate) Children() []Node   { return []Node{a.Arg} }
func (a *Aggregate) WithChildren(children ...Node) Node {
	checkArity(a, len(children), 1)
	na := *a
	na.Arg = children[0]
	return &na
}
func (*Aggregate) sqlNode() {}

// RowNumber is ROW_NUMBER() OVER (ORDER BY ...).
type RowNumber struct {
	OrderBy []Ordering
}

func (*RowNumber) Type() reflect.Type { return int64Type }
func (r *RowNumber) Children() []Node {
	out := make([]Node, len(r.OrderBy))
	for i, o := range r.OrderBy {
		out[i] = o.Expr
	}
	return out
}
func (r *RowNumber) WithChildren(children ...Node) Node {
	checkArity(r, len(children), len(r.OrderBy))
	ords := cloneOrderings(r.OrderBy)
	for i := range ords {
		ords[i].Expr = children[i]
	}
	return &RowNumber{OrderBy: ords}
}
func (*RowNumber) sqlNode() {}

// Scalar is a subquery producing one value from its single column.
type Scalar struct {
	Select *Select
	Typ    reflect.Type
}

func (s *Scalar) Type() reflect.Type { return s.Typ }
func (s *Scalar) Children() []Node   { return []Node{s.Select} }
func (s *Scalar) WithChildren(children ...Node) Node {
	checkArity(s, len(children), 1)
	return &Scalar{Select: children[0].(*Select), Typ: s.Typ}
}
func (*Scalar) sqlNode() {}

// Exists tests whether its subquery produces any row.
type Exists struct {
	Select *Select
}

func (*Exists) Type() reflect.Type  { return boolType }
func (e *Exists) Children() []Node { return []Node{e.Select} }
func (e *Exists) WithChildren(children ...Node) Node {
	checkArity(e, len(children), 1)
	return &Exists{Select: children[0].(*Select)}
}
func (*Exists) sqlNode() {}

// In tests membership of X in either a single-column subquery or a list of
// values. Exactly one of Select and Values is used.
type In struct {
	X      Node
	Select *Select
	Values []Node
}

func (*In) Type() reflect.Type { return boolType }
func (in *In) Children() []Node {
	out := make([]Node, 0, 2+len(in.Values))
	out = append(out, in.X, selectOrNil(in.Select))
	return append(out, in.Values...)
}
func (in *In) WithChildren(children ...Node) Node {
	checkArity(in, len(children), 2+len(in.Values))
	var values []Node
	if in.Values != nil {
		values = cloneNodes(children[2:])
	}
	return &In{X: children[0], Select: asSelect(children[1]), Values: values}
}
func (*In) sqlNode() {}

// AggregateSubquery is an aggregate over a group's elements that can be
// hoisted into the grouped Select identified by GroupByAlias. Until hoisted
// it behaves as Subquery.
type AggregateSubquery struct {
	GroupByAlias  Alias
	InGroupSelect Node
	Subquery      *Scalar
}

func (a *AggregateSubquery) Type() reflect.Type { return a.Subquery.Type() }
func (a *AggregateSubquery) Children() []Node {
	return []Node{a.InGroupSelect, a.Subquery}
}
func (a *AggregateSubquery) WithChildren(children ...Node) Node {
	checkArity(a, len(children), 2)
	return &AggregateSubquery{
		GroupByAlias:  a.GroupByAlias,
		InGroupSelect: children[0],
		Subquery:      children[1].(*Scalar),
	}
}
func (*AggregateSubquery) sqlNode() {}

// Variable references a variable declared by Declare.
type Variable struct {
	Name string
	Typ  reflect.Type
}

func (v *Variable) Type() reflect.Type { return v.Typ }
func (*Variable) Children() []Node     { return nil }
func (v *Variable) WithChildren(children ...Node) Node {
	checkArity(v, len(children), 0)
	return v
}
func (*Variable) sqlNode() {}

func selectOrNil(s *Select) Node {
	if s == nil {
		return nil
	}
	return s
}

func asSelect(n Node) *Select {
	if n == nil {
		return nil
	}
	return n.(*Select)
}
