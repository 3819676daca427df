package query

import "reflect"

// Parameterize returns the shape of op: the same tree with every literal
// replaced by a Param slot, and the literal values in slot order. Nil
// literals and local sequences stay in the shape because they change the
// translation.
func Parameterize(op Op) (Op, []any) {
	var values []any
	var lit func(Expr) Expr
	lit = func(e Expr) Expr {
		c, ok := e.(Const)
		if !ok || c.Value == nil || IsSequence(c.Value) {
			return e
		}
		values = append(values, c.Value)
		return Param{Slot: len(values) - 1}
	}
	return RewriteOp(op, lit), values
}

// IsSequence reports whether v is a local sequence (a slice or array other
// than []byte).
func IsSequence(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// Equal reports whether two operator trees are structurally identical.
func Equal(a, b Op) bool {
	return reflect.DeepEqual(a, b)
}

// RewriteOp rebuilds op with fn applied bottom-up to every expression,
// including those of nested subqueries.
func RewriteOp(op Op, fn func(Expr) Expr) Op {
	r := func(o Op) Op { return RewriteOp(o, fn) }
	l := func(lm Lambda) Lambda {
		if lm.IsZero() {
			return lm
		}
		return Lambda{Params: lm.Params, Body: RewriteExpr(lm.Body, fn)}
	}
	e := func(x Expr) Expr { return RewriteExpr(x, fn) }
	switch o := op.(type) {
	case nil:
		return nil
	case From:
		return o
	case Of:
		return Of{Expr: e(o.Expr)}
	case Where:
		return Where{Source: r(o.Source), Pred: l(o.Pred)}
	case Select:
		return Select{Source: r(o.Source), Fn: l(o.Fn)}
	case SelectMany:
		return SelectMany{Source: r(o.Source), Coll: l(o.Coll), Result: l(o.Result)}
	case Join:
		return Join{Outer: r(o.Outer), Inner: r(o.Inner), OuterKey: l(o.OuterKey), InnerKey: l(o.InnerKey), Result: l(o.Result)}
	case GroupJoin:
		return GroupJoin{Outer: r(o.Outer), Inner: r(o.Inner), OuterKey: l(o.OuterKey), InnerKey: l(o.InnerKey), Result: l(o.Result)}
	case GroupBy:
		return GroupBy{Source: r(o.Source), Key: l(o.Key), Elem: l(o.Elem), Result: l(o.Result)}
	case OrderBy:
		return OrderBy{Source: r(o.Source), Key: l(o.Key), Desc: o.Desc, Then: o.Then}
	case Distinct:
		return Distinct{Source: r(o.Source)}
	case Reverse:
		return Reverse{Source: r(o.Source)}
	case Skip:
		return Skip{Source: r(o.Source), N: e(o.N)}
	case Take:
		return Take{Source: r(o.Source), N: e(o.N)}
	case DefaultIfEmpty:
		return DefaultIfEmpty{Source: r(o.Source)}
	case Element:
		return Element{Source: r(o.Source), Kind: o.Kind, Pred: l(o.Pred)}
	case Aggregate:
		return Aggregate{Source: r(o.Source), Kind: o.Kind, Fn: l(o.Fn)}
	case Any:
		return Any{Source: r(o.Source), Pred: l(o.Pred)}
	case All:
		return All{Source: r(o.Source), Pred: l(o.Pred)}
	case Contains:
		return Contains{Source: r(o.Source), Value: e(o.Value)}
	}
	return op
}

// RewriteExpr rebuilds e bottom-up, applying fn to every node after its
// children.
func RewriteExpr(e Expr, fn func(Expr) Expr) Expr {
	r := func(x Expr) Expr { return RewriteExpr(x, fn) }
	rs := func(xs []Expr) []Expr {
		if xs == nil {
			return nil
		}
		out := make([]Expr, len(xs))
		for i, x := range xs {
			out[i] = r(x)
		}
		return out
	}
	switch x := e.(type) {
	case nil:
		return nil
	case Member:
		e = Member{X: r(x.X), Name: x.Name}
	case Binary:
		e = Binary{Op: x.Op, L: r(x.L), R: r(x.R)}
	case Unary:
		e = Unary{Op: x.Op, X: r(x.X)}
	case Call:
		e = Call{Fn: x.Fn, Args: rs(x.Args)}
	case Cond:
		e = Cond{Test: r(x.Test), Then: r(x.Then), Else: r(x.Else)}
	case New:
		e = New{Type: x.Type, Names: x.Names, Args: rs(x.Args)}
	case Subquery:
		e = Subquery{Op: RewriteOp(x.Op, fn)}
	}
	return fn(e)
}

// Bind replaces Param slots and named parameters with Const values. It is
// the inverse of Parameterize and is used by evaluators that work on
// literal trees.
func Bind(op Op, values []any, named map[string]any) Op {
	return RewriteOp(op, func(e Expr) Expr {
		p, ok := e.(Param)
		if !ok {
			return e
		}
		if p.Name != "" {
			return Const{Value: named[p.Name]}
		}
		if p.Slot >= 0 && p.Slot < len(values) {
			return Const{Value: values[p.Slot]}
		}
		return e
	})
}

// SplitArgs separates NamedArg values from positional ones.
func SplitArgs(args []any) (positional []any, named map[string]any) {
	for _, a := range args {
		if n, ok := a.(NamedArg); ok {
			if named == nil {
				named = make(map[string]any)
			}
			named[n.Name] = n.Value
			continue
		}
		positional = append(positional, a)
	}
	return positional, named
}
