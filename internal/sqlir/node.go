package sqlir

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// Node is a node of the relational AST.
//
// This is a sealed interface: only types in this package implement it.
type Node interface {
	// Type is the Go type of the value the node produces. Relational nodes
	// (Table, Select, Join) report RowType.
	Type() reflect.Type
	// Children returns the direct children at fixed positions; absent
	// optional children are nil.
	Children() []Node
	// WithChildren returns a copy of the node with its children replaced.
	// It panics if len(children) differs from len(Children()).
	WithChildren(children ...Node) Node

	sqlNode()
}

// RowType is the result type reported by relational nodes.
var RowType = reflect.TypeOf([]any(nil))

var (
	boolType  = reflect.TypeOf(false)
	int64Type = reflect.TypeOf(int64(0))
)

// Alias is an opaque identity for one row source.
// Two aliases are equal only if one was copied from the other.
type Alias struct {
	id uuid.UUID
}

// NewAlias returns a fresh alias.
func NewAlias() Alias {
	return Alias{id: uuid.Must(uuid.NewV7())}
}

// IsZero reports whether a is the zero alias.
func (a Alias) IsZero() bool {
	return a.id == uuid.Nil
}

// String returns a short debugging form. It is not used in SQL text.
func (a Alias) String() string {
	if a.IsZero() {
		return "a?"
	}
	s := a.id.String()
	return "a" + s[len(s)-6:]
}

// ColumnDecl declares one output column of a Select.
type ColumnDecl struct {
	Name      string
	Expr      Node
	StoreType string
}

// Ordering is one ORDER BY term.
type Ordering struct {
	Desc bool
	Expr Node
}

// JoinKind enumerates join operators.
type JoinKind int

const (
	CrossJoin JoinKind = iota + 1
	InnerJoin
	LeftOuterJoin
	CrossApply
	OuterApply
	// SingletonLeftOuterJoin is a left outer join whose right side matches at
	// most one row. Unreferenced singleton joins can be dropped.
	SingletonLeftOuterJoin
)

func (k JoinKind) String() string {
	switch k {
	case CrossJoin:
		return "CROSS JOIN"
	case InnerJoin:
		return "INNER JOIN"
	case LeftOuterJoin:
		return "LEFT OUTER JOIN"
	case CrossApply:
		return "CROSS APPLY"
	case OuterApply:
		return "OUTER APPLY"
	case SingletonLeftOuterJoin:
		return "SINGLETON LEFT OUTER JOIN"
	default:
		return fmt.Sprintf("JoinKind(%d)", int(k))
	}
}

// AggregateKind enumerates SQL aggregate functions.
type AggregateKind int

const (
	Count AggregateKind = iota + 1
	Sum
	Min
	Max
	Avg
)

func (k AggregateKind) String() string {
	switch k {
	case Count:
		return "COUNT"
	case Sum:
		return "SUM"
	case Min:
		return "MIN"
	case Max:
		return "MAX"
	case Avg:
		return "AVG"
	default:
		return fmt.Sprintf("AggregateKind(%d)", int(k))
	}
}

// BinaryOp enumerates binary operators.
type BinaryOp int

const (
	OpEq BinaryOp = iota + 1
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpConcat
	OpCoalesce
)

var binaryNames = map[BinaryOp]string{
	OpEq: "=", OpNe: "<>", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpAnd: "AND", OpOr: "OR",
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpConcat: "||", OpCoalesce: "COALESCE",
}

func (op BinaryOp) String() string {
	if s, ok := binaryNames[op]; ok {
		return s
	}
	return fmt.Sprintf("BinaryOp(%d)", int(op))
}

// IsComparison reports whether op yields a boolean from two scalars.
func (op BinaryOp) IsComparison() bool {
	return op >= OpEq && op <= OpGe
}

// IsLogical reports whether op is AND or OR.
func (op BinaryOp) IsLogical() bool {
	return op == OpAnd || op == OpOr
}

// UnaryOp enumerates unary operators.
type UnaryOp int

const (
	OpNot UnaryOp = iota + 1
	OpNeg
)

func (op UnaryOp) String() string {
	switch op {
	case OpNot:
		return "NOT"
	case OpNeg:
		return "-"
	default:
		return fmt.Sprintf("UnaryOp(%d)", int(op))
	}
}

// AggregatorKind says how a root projection reduces its rows.
type AggregatorKind int

const (
	First AggregatorKind = iota + 1
	FirstOrDefault
	Single
	SingleOrDefault
	// ScalarValue expects exactly one row and returns its value.
	ScalarValue
)

func (k AggregatorKind) String() string {
	switch k {
	case First:
		return "first"
	case FirstOrDefault:
		return "first_or_default"
	case Single:
		return "single"
	case SingleOrDefault:
		return "single_or_default"
	case ScalarValue:
		return "scalar"
	default:
		return fmt.Sprintf("AggregatorKind(%d)", int(k))
	}
}

// Aggregator reduces a projection's row sequence to one value.
type Aggregator struct {
	Kind AggregatorKind
}

// IsSingleton reports whether the aggregator yields one projected element.
func (a *Aggregator) IsSingleton() bool {
	return a != nil && a.Kind != ScalarValue
}

// OrDefault reports whether an empty sequence yields the zero value.
func (a *Aggregator) OrDefault() bool {
	return a != nil && (a.Kind == FirstOrDefault || a.Kind == SingleOrDefault)
}

func checkArity(n Node, got, want int) {
	if got != want {
		panic(fmt.Sprintf("sqlir: %T.WithChildren: got %d children, want %d", n, got, want))
	}
}

func cloneDecls(cols []ColumnDecl) []ColumnDecl {
	if cols == nil {
		return nil
	}
	out := make([]ColumnDecl, len(cols))
	copy(out, cols)
	return out
}

func cloneOrderings(ords []Ordering) []Ordering {
	if ords == nil {
		return nil
	}
	out := make([]Ordering, len(ords))
	copy(out, ords)
	return out
}

func cloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	copy(out, nodes)
	return out
}
