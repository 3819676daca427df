package query

import (
	"fmt"
	"reflect"
	"strings"
)

// Expr is an expression inside a Lambda.
//
// This is a sealed interface: only types in this package implement it.
type Expr interface {
	exprNode()
}

// Const is a literal value. Slices are local sequences usable by Of,
// Contains and membership tests.
type Const struct {
	Value any
}

// Param is a value supplied per call. A non-empty Name refers to a named
// argument passed with Named; otherwise Slot indexes the values extracted
// by Parameterize.
type Param struct {
	Slot int
	Name string
}

// Var references a lambda parameter.
type Var struct {
	Name string
}

// Member reads a field, column or association of X.
type Member struct {
	X    Expr
	Name string
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

var binaryOpNames = map[BinaryOp]string{
	OpEq: "eq", OpNe: "ne", OpLt: "lt", OpLe: "le", OpGt: "gt", OpGe: "ge",
	OpAnd: "and", OpOr: "or", OpAdd: "add", OpSub: "sub", OpMul: "mul",
	OpDiv: "div", OpMod: "mod", OpConcat: "concat", OpCoalesce: "coalesce",
}

func (op BinaryOp) String() string {
	if s, ok := binaryOpNames[op]; ok {
		return s
	}
	return fmt.Sprintf("BinaryOp(%d)", int(op))
}

// BinaryOpByName returns the operator spelled name.
func BinaryOpByName(name string) (BinaryOp, bool) {
	for op, n := range binaryOpNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}

// IsComparison reports whether op compares two values.
func (op BinaryOp) IsComparison() bool { return op >= OpEq && op <= OpGe }

// Binary applies a binary operator.
type Binary struct {
	Op   BinaryOp
	L, R Expr
}

// UnaryOp enumerates unary operators.
type UnaryOp int

const (
	OpNot UnaryOp = iota + 1
	OpNeg
)

func (op UnaryOp) String() string {
	if op == OpNot {
		return "not"
	}
	return "neg"
}

// Unary applies a unary operator.
type Unary struct {
	Op UnaryOp
	X  Expr
}

// Call calls a scalar function: lower, upper, length, trim, like,
// startswith, endswith, contains, abs or round.
type Call struct {
	Fn   string
	Args []Expr
}

// Functions lists the names Call accepts with their arity.
var Functions = map[string]int{
	"lower": 1, "upper": 1, "length": 1, "trim": 1, "abs": 1, "round": 1,
	"like": 2, "startswith": 2, "endswith": 2, "contains": 2,
}

// Cond is Then when Test holds, otherwise Else.
type Cond struct {
	Test, Then, Else Expr
}

// New constructs a value from named parts: a Record when Type is nil,
// otherwise a struct of Type whose fields are set by name.
type New struct {
	Type  reflect.Type `hash:"ignore"`
	Names []string
	Args  []Expr
}

// Subquery embeds an operator tree as a value: a sequence, or one value
// when Op is scalar.
type Subquery struct {
	Op Op
}

func (Const) exprNode()    {}
func (Param) exprNode()    {}
func (Var) exprNode()      {}
func (Member) exprNode()   {}
func (Binary) exprNode()   {}
func (Unary) exprNode()    {}
func (Call) exprNode()     {}
func (Cond) exprNode()     {}
func (New) exprNode()      {}
func (Subquery) exprNode() {}

// Record is the materialized form of untyped entities and of New without a
// Type.
type Record map[string]any

// Grouping is the materialized form of one group.
type Grouping struct {
	Key      any
	Elements []any
}

// NamedArg is an argument bound to Param{Name: Name}.
type NamedArg struct {
	Name  string
	Value any
}

// Named returns a named argument.
func Named(name string, value any) NamedArg {
	return NamedArg{Name: name, Value: value}
}

// String renders e in a compact functional form for error messages.
func String(e Expr) string {
	switch x := e.(type) {
	case nil:
		return "<nil>"
	case Const:
		return fmt.Sprintf("%#v", x.Value)
	case Param:
		if x.Name != "" {
			return "@" + x.Name
		}
		return fmt.Sprintf("$%d", x.Slot)
	case Var:
		return x.Name
	case Member:
		return String(x.X) + "." + x.Name
	case Binary:
		return x.Op.String() + "(" + String(x.L) + ", " + String(x.R) + ")"
	case Unary:
		return x.Op.String() + "(" + String(x.X) + ")"
	case Call:
		args := make([]string, len(x.Args))
		for i, a := range x.Args {
			args[i] = String(a)
		}
		return x.Fn + "(" + strings.Join(args, ", ") + ")"
	case Cond:
		return "if(" + String(x.Test) + ", " + String(x.Then) + ", " + String(x.Else) + ")"
	case New:
		parts := make([]string, len(x.Args))
		for i, a := range x.Args {
			parts[i] = x.Names[i] + ": " + String(a)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case Subquery:
		return "sub(" + OpString(x.Op) + ")"
	default:
		return fmt.Sprintf("%T", e)
	}
}

// OpString renders the operator chain of op, innermost first.
func OpString(op Op) string {
	var parts []string
	for o := op; o != nil; o = Source(o) {
		switch x := o.(type) {
		case From:
			parts = append(parts, "from("+x.Entity+")")
		case Of:
			parts = append(parts, "of("+String(x.Expr)+")")
		case Join:
			parts = append(parts, "join("+OpString(x.Outer)+", "+OpString(x.Inner)+")")
		case GroupJoin:
			parts = append(parts, "group_join("+OpString(x.Outer)+", "+OpString(x.Inner)+")")
		default:
			parts = append(parts, opName(o))
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

func opName(op Op) string {
	switch x := op.(type) {
	case Where:
		return "where"
	case Select:
		return "select"
	case SelectMany:
		return "select_many"
	case GroupBy:
		return "group_by"
	case OrderBy:
		switch {
		case x.Then && x.Desc:
			return "then_by_desc"
		case x.Then:
			return "then_by"
		case x.Desc:
			return "order_by_desc"
		}
		return "order_by"
	case Distinct:
		return "distinct"
	case Reverse:
		return "reverse"
	case Skip:
		return "skip"
	case Take:
		return "take"
	case DefaultIfEmpty:
		return "default_if_empty"
	case Element:
		return x.Kind.String()
	case Aggregate:
		return x.Kind.String()
	case Any:
		return "any"
	case All:
		return "all"
	case Contains:
		return "contains"
	}
	return fmt.Sprintf("%T", op)
}
