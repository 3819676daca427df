package query

import (
	"reflect"
	"strings"
)

// Query is the fluent builder over an operator tree. Every method returns
// a new Query; the receiver is unchanged.
type Query struct {
	op Op
}

// FromEntity starts a query over every row of entity.
func FromEntity(entity string) Query { return Query{op: From{Entity: entity}} }

// OfExpr starts a query over a sequence-valued expression.
func OfExpr(e Expr) Query { return Query{op: Of{Expr: e}} }

// Wrap returns a builder over an existing operator tree.
func Wrap(op Op) Query { return Query{op: op} }

// Op returns the operator tree.
func (q Query) Op() Op { return q.op }

func (q Query) String() string { return OpString(q.op) }

func (q Query) Where(pred Lambda) Query {
	return Query{op: Where{Source: q.op, Pred: pred}}
}

func (q Query) Select(fn Lambda) Query {
	return Query{op: Select{Source: q.op, Fn: fn}}
}

// SelectMany flattens coll; result, if given, combines each element with
// each item.
func (q Query) SelectMany(coll Lambda, result ...Lambda) Query {
	op := SelectMany{Source: q.op, Coll: coll}
	if len(result) > 0 {
		op.Result = result[0]
	}
	return Query{op: op}
}

func (q Query) Join(inner Query, outerKey, innerKey, result Lambda) Query {
	return Query{op: Join{Outer: q.op, Inner: inner.op, OuterKey: outerKey, InnerKey: innerKey, Result: result}}
}

func (q Query) GroupJoin(inner Query, outerKey, innerKey, result Lambda) Query {
	return Query{op: GroupJoin{Outer: q.op, Inner: inner.op, OuterKey: outerKey, InnerKey: innerKey, Result: result}}
}

func (q Query) GroupBy(key Lambda) Query {
	return Query{op: GroupBy{Source: q.op, Key: key}}
}

// GroupByElem groups the values elem selects.
func (q Query) GroupByElem(key, elem Lambda) Query {
	return Query{op: GroupBy{Source: q.op, Key: key, Elem: elem}}
}

// GroupByResult groups and maps each (key, elements) pair through result.
func (q Query) GroupByResult(key, result Lambda) Query {
	return Query{op: GroupBy{Source: q.op, Key: key, Result: result}}
}

func (q Query) OrderBy(key Lambda) Query {
	return Query{op: OrderBy{Source: q.op, Key: key}}
}

func (q Query) OrderByDesc(key Lambda) Query {
	return Query{op: OrderBy{Source: q.op, Key: key, Desc: true}}
}

func (q Query) ThenBy(key Lambda) Query {
	return Query{op: OrderBy{Source: q.op, Key: key, Then: true}}
}

func (q Query) ThenByDesc(key Lambda) Query {
	return Query{op: OrderBy{Source: q.op, Key: key, Desc: true, Then: true}}
}

func (q Query) Distinct() Query       { return Query{op: Distinct{Source: q.op}} }
func (q Query) Reverse() Query        { return Query{op: Reverse{Source: q.op}} }
func (q Query) DefaultIfEmpty() Query { return Query{op: DefaultIfEmpty{Source: q.op}} }

// Skip accepts an int, an Expr or any other literal.
func (q Query) Skip(n any) Query { return Query{op: Skip{Source: q.op, N: C(n)}} }

// Take accepts an int, an Expr or any other literal.
func (q Query) Take(n any) Query { return Query{op: Take{Source: q.op, N: C(n)}} }

func (q Query) element(kind ElementKind, pred []Lambda) Query {
	op := Element{Source: q.op, Kind: kind}
	if len(pred) > 0 {
		op.Pred = pred[0]
	}
	return Query{op: op}
}

func (q Query) First(pred ...Lambda) Query           { return q.element(First, pred) }
func (q Query) FirstOrDefault(pred ...Lambda) Query  { return q.element(FirstOrDefault, pred) }
func (q Query) Single(pred ...Lambda) Query          { return q.element(Single, pred) }
func (q Query) SingleOrDefault(pred ...Lambda) Query { return q.element(SingleOrDefault, pred) }
func (q Query) Last(pred ...Lambda) Query            { return q.element(Last, pred) }
func (q Query) LastOrDefault(pred ...Lambda) Query   { return q.element(LastOrDefault, pred) }

func (q Query) aggregate(kind AggregateKind, fn []Lambda) Query {
	op := Aggregate{Source: q.op, Kind: kind}
	if len(fn) > 0 {
		op.Fn = fn[0]
	}
	return Query{op: op}
}

func (q Query) Count(pred ...Lambda) Query { return q.aggregate(Count, pred) }
func (q Query) Sum(fn ...Lambda) Query     { return q.aggregate(Sum, fn) }
func (q Query) Min(fn ...Lambda) Query     { return q.aggregate(Min, fn) }
func (q Query) Max(fn ...Lambda) Query     { return q.aggregate(Max, fn) }
func (q Query) Average(fn ...Lambda) Query { return q.aggregate(Average, fn) }

func (q Query) Any(pred ...Lambda) Query {
	op := Any{Source: q.op}
	if len(pred) > 0 {
		op.Pred = pred[0]
	}
	return Query{op: op}
}

func (q Query) All(pred Lambda) Query { return Query{op: All{Source: q.op, Pred: pred}} }

// Contains accepts an Expr or a literal.
func (q Query) Contains(v any) Query { return Query{op: Contains{Source: q.op, Value: C(v)}} }

// Fn returns a one-parameter lambda.
func Fn(param string, body Expr) Lambda {
	return Lambda{Params: []string{param}, Body: body}
}

// Fn2 returns a two-parameter lambda.
func Fn2(p1, p2 string, body Expr) Lambda {
	return Lambda{Params: []string{p1, p2}, Body: body}
}

// C wraps a literal in Const. Values that already are expressions, and
// queries, are returned as expressions.
func C(v any) Expr {
	switch x := v.(type) {
	case Expr:
		return x
	case Query:
		return Subquery{Op: x.op}
	}
	return Const{Value: v}
}

// V references a lambda parameter.
func V(name string) Expr { return Var{Name: name} }

// M reads a dotted path: M("o.customer.name") reads name of customer of o.
func M(path string) Expr {
	parts := strings.Split(path, ".")
	var e Expr = Var{Name: parts[0]}
	for _, p := range parts[1:] {
		e = Member{X: e, Name: p}
	}
	return e
}

// Field reads name of x.
func Field(x Expr, name string) Expr { return Member{X: x, Name: name} }

// Arg references the named argument name.
func Arg(name string) Expr { return Param{Slot: -1, Name: name} }

// Sub embeds q as a value.
func Sub(q Query) Expr { return Subquery{Op: q.op} }

func bin(op BinaryOp, a, b any) Expr { return Binary{Op: op, L: C(a), R: C(b)} }

func Eq(a, b any) Expr       { return bin(OpEq, a, b) }
func Ne(a, b any) Expr       { return bin(OpNe, a, b) }
func Lt(a, b any) Expr       { return bin(OpLt, a, b) }
func Le(a, b any) Expr       { return bin(OpLe, a, b) }
func Gt(a, b any) Expr       { return bin(OpGt, a, b) }
func Ge(a, b any) Expr       { return bin(OpGe, a, b) }
func Add(a, b any) Expr      { return bin(OpAdd, a, b) }
func SubOp(a, b any) Expr    { return bin(OpSub, a, b) }
func Mul(a, b any) Expr      { return bin(OpMul, a, b) }
func Div(a, b any) Expr      { return bin(OpDiv, a, b) }
func Mod(a, b any) Expr      { return bin(OpMod, a, b) }
func Concat(a, b any) Expr   { return bin(OpConcat, a, b) }
func Coalesce(a, b any) Expr { return bin(OpCoalesce, a, b) }

// And joins its operands with and; And() is true.
func And(xs ...any) Expr { return fold(OpAnd, true, xs) }

// Or joins its operands with or; Or() is false.
func Or(xs ...any) Expr { return fold(OpOr, false, xs) }

func fold(op BinaryOp, empty bool, xs []any) Expr {
	if len(xs) == 0 {
		return Const{Value: empty}
	}
	e := C(xs[0])
	for _, x := range xs[1:] {
		e = Binary{Op: op, L: e, R: C(x)}
	}
	return e
}

func Not(x any) Expr { return Unary{Op: OpNot, X: C(x)} }
func Neg(x any) Expr { return Unary{Op: OpNeg, X: C(x)} }

// CallFn calls the named function.
func CallFn(fn string, args ...any) Expr {
	es := make([]Expr, len(args))
	for i, a := range args {
		es[i] = C(a)
	}
	return Call{Fn: fn, Args: es}
}

// If returns a conditional expression.
func If(test, then, els any) Expr {
	return Cond{Test: C(test), Then: C(then), Else: C(els)}
}

// Rec builds a Record from name, value pairs.
func Rec(pairs ...any) Expr {
	return newExpr(nil, pairs)
}

// As builds a T from field-name, value pairs.
func As[T any](pairs ...any) Expr {
	return newExpr(reflect.TypeFor[T](), pairs)
}

func newExpr(t reflect.Type, pairs []any) Expr {
	if len(pairs)%2 != 0 {
		panic("query: odd number of arguments to Rec/As")
	}
	n := New{Type: t}
	for i := 0; i < len(pairs); i += 2 {
		n.Names = append(n.Names, pairs[i].(string))
		n.Args = append(n.Args, C(pairs[i+1]))
	}
	return n
}
