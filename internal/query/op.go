package query

// Op is one node of an operator tree: a row source or an operator applied
// to the result of another Op.
//
// This is a sealed interface: only types in this package implement it.
type Op interface {
	opNode()
}

// Lambda is a function of its named parameters. A Lambda with a nil Body is
// absent.
type Lambda struct {
	Params []string
	Body   Expr
}

// IsZero reports whether the lambda is absent.
func (l Lambda) IsZero() bool { return l.Body == nil }

// From reads every row of a mapped entity.
type From struct {
	Entity string
}

// Of turns a sequence-valued expression into a source: a group's elements,
// an association collection or a local slice.
type Of struct {
	Expr Expr
}

// Where keeps the elements for which Pred holds.
type Where struct {
	Source Op
	Pred   Lambda
}

// Select maps each element through Fn.
type Select struct {
	Source Op
	Fn     Lambda
}

// SelectMany flattens the sequence Coll returns for each element. Result,
// when present, combines the element and each item of its collection.
type SelectMany struct {
	Source Op
	Coll   Lambda
	Result Lambda
}

// Join pairs the elements of Outer and Inner whose keys are equal.
type Join struct {
	Outer, Inner       Op
	OuterKey, InnerKey Lambda
	Result             Lambda
}

// GroupJoin pairs each element of Outer with the sequence of Inner elements
// whose keys match. Result receives the outer element and the sequence.
type GroupJoin struct {
	Outer, Inner       Op
	OuterKey, InnerKey Lambda
	Result             Lambda
}

// GroupBy groups elements by Key. Elem maps each element before grouping;
// Result, when present, receives the key and the group's elements instead
// of a Grouping being produced.
type GroupBy struct {
	Source Op
	Key    Lambda
	Elem   Lambda
	Result Lambda
}

// OrderBy sorts by Key. Then marks a secondary ordering that refines the
// ordering of Source rather than replacing it.
type OrderBy struct {
	Source Op
	Key    Lambda
	Desc   bool
	Then   bool
}

// Distinct removes duplicate elements.
type Distinct struct {
	Source Op
}

// Reverse inverts the order of the sequence.
type Reverse struct {
	Source Op
}

// Skip drops the first N elements.
type Skip struct {
	Source Op
	N      Expr
}

// Take keeps the first N elements.
type Take struct {
	Source Op
	N      Expr
}

// DefaultIfEmpty yields one zero element when Source is empty.
type DefaultIfEmpty struct {
	Source Op
}

// ElementKind says which element a singleton operator picks.
type ElementKind int

const (
	First ElementKind = iota + 1
	FirstOrDefault
	Single
	SingleOrDefault
	Last
	LastOrDefault
)

var elementNames = map[ElementKind]string{
	First: "first", FirstOrDefault: "first_or_default",
	Single: "single", SingleOrDefault: "single_or_default",
	Last: "last", LastOrDefault: "last_or_default",
}

func (k ElementKind) String() string { return elementNames[k] }

// OrDefault reports whether an empty sequence yields the zero value.
func (k ElementKind) OrDefault() bool {
	return k == FirstOrDefault || k == SingleOrDefault || k == LastOrDefault
}

// Element reduces Source to one element, optionally filtered by Pred.
type Element struct {
	Source Op
	Kind   ElementKind
	Pred   Lambda
}

// AggregateKind enumerates aggregate operators.
type AggregateKind int

const (
	Count AggregateKind = iota + 1
	Sum
	Min
	Max
	Average
)

var aggregateNames = map[AggregateKind]string{
	Count: "count", Sum: "sum", Min: "min", Max: "max", Average: "average",
}

func (k AggregateKind) String() string { return aggregateNames[k] }

// Aggregate reduces Source to one value. Fn selects the aggregated value
// (for Count it is a predicate).
type Aggregate struct {
	Source Op
	Kind   AggregateKind
	Fn     Lambda
}

// Any tests whether some element (satisfying Pred, when present) exists.
type Any struct {
	Source Op
	Pred   Lambda
}

// All tests whether every element satisfies Pred.
type All struct {
	Source Op
	Pred   Lambda
}

// Contains tests whether Value is an element of Source.
type Contains struct {
	Source Op
	Value  Expr
}

func (From) opNode()           {}
func (Of) opNode()             {}
func (Where) opNode()          {}
func (Select) opNode()         {}
func (SelectMany) opNode()     {}
func (Join) opNode()           {}
func (GroupJoin) opNode()      {}
func (GroupBy) opNode()        {}
func (OrderBy) opNode()        {}
func (Distinct) opNode()       {}
func (Reverse) opNode()        {}
func (Skip) opNode()           {}
func (Take) opNode()           {}
func (DefaultIfEmpty) opNode() {}
func (Element) opNode()        {}
func (Aggregate) opNode()      {}
func (Any) opNode()            {}
func (All) opNode()            {}
func (Contains) opNode()       {}

// Source returns the input of op, or nil for From, Of, Join and GroupJoin.
func Source(op Op) Op {
	switch o := op.(type) {
	case Where:
		return o.Source
	case Select:
		return o.Source
	case SelectMany:
		return o.Source
	case GroupBy:
		return o.Source
	case OrderBy:
		return o.Source
	case Distinct:
		return o.Source
	case Reverse:
		return o.Source
	case Skip:
		return o.Source
	case Take:
		return o.Source
	case DefaultIfEmpty:
		return o.Source
	case Element:
		return o.Source
	case Aggregate:
		return o.Source
	case Any:
		return o.Source
	case All:
		return o.Source
	case Contains:
		return o.Source
	}
	return nil
}

// IsScalar reports whether op produces one value rather than a sequence.
func IsScalar(op Op) bool {
	switch op.(type) {
	case Element, Aggregate, Any, All, Contains:
		return true
	}
	return false
}
