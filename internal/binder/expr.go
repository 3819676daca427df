package binder

import (
	"reflect"
	"strings"

	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/sqlir"
)

var stringType = reflect.TypeOf("")

var binaryOps = map[query.BinaryOp]sqlir.BinaryOp{
	query.OpEq: sqlir.OpEq, query.OpNe: sqlir.OpNe,
	query.OpLt: sqlir.OpLt, query.OpLe: sqlir.OpLe,
	query.OpGt: sqlir.OpGt, query.OpGe: sqlir.OpGe,
	query.OpAnd: sqlir.OpAnd, query.OpOr: sqlir.OpOr,
	query.OpAdd: sqlir.OpAdd, query.OpSub: sqlir.OpSub,
	query.OpMul: sqlir.OpMul, query.OpDiv: sqlir.OpDiv, query.OpMod: sqlir.OpMod,
	query.OpConcat: sqlir.OpConcat, query.OpCoalesce: sqlir.OpCoalesce,
}

func (b *binder) bindExpr(e query.Expr) (sqlir.Node, error) {
	switch x := e.(type) {
	case query.Const:
		if query.IsSequence(x.Value) {
			return nil, ErrUnsupportedOperator.New("local sequence " + query.String(e) + " used as a value")
		}
		return sqlir.NewConstant(x.Value), nil
	case query.Param:
		if x.Name != "" {
			return sqlir.NewArgValue(x.Name, b.opts.ArgTypes[x.Name]), nil
		}
		var t reflect.Type
		if x.Slot >= 0 && x.Slot < len(b.opts.SlotTypes) {
			t = b.opts.SlotTypes[x.Slot]
		}
		return sqlir.NewSlotValue(x.Slot, t), nil
	case query.Var:
		n, ok := b.scope.lookup(x.Name)
		if !ok {
			return nil, ErrUnknownVariable.New(x.Name)
		}
		return n, nil
	case query.Member:
		target, err := b.bindExpr(x.X)
		if err != nil {
			return nil, err
		}
		return b.member(target, x.Name, query.String(x.X))
	case query.Binary:
		return b.bindBinary(x)
	case query.Unary:
		v, err := b.bindExpr(x.X)
		if err != nil {
			return nil, err
		}
		if x.Op == query.OpNot {
			return sqlir.Not(v), nil
		}
		return &sqlir.Unary{Op: sqlir.OpNeg, X: v, Typ: v.Type()}, nil
	case query.Call:
		return b.bindCall(x)
	case query.Cond:
		test, err := b.bindExpr(x.Test)
		if err != nil {
			return nil, err
		}
		then, err := b.bindExpr(x.Then)
		if err != nil {
			return nil, err
		}
		els, err := b.bindExpr(x.Else)
		if err != nil {
			return nil, err
		}
		t := then.Type()
		if t == nil {
			t = els.Type()
		}
		return &sqlir.Conditional{Test: test, Then: then, Else: els, Typ: t}, nil
	case query.New:
		n := &sqlir.New{Typ: x.Type, Names: x.Names, Args: make([]sqlir.Node, len(x.Args))}
		for i, a := range x.Args {
			v, err := b.bindExpr(a)
			if err != nil {
				return nil, err
			}
			n.Args[i] = v
		}
		return n, nil
	case query.Subquery:
		if query.IsScalar(x.Op) {
			return b.bindScalarOp(x.Op, false)
		}
		return b.bindSeq(x.Op)
	}
	return nil, ErrUnsupportedOperator.New(query.String(e))
}

func (b *binder) bindBinary(x query.Binary) (sqlir.Node, error) {
	l, err := b.bindExpr(x.L)
	if err != nil {
		return nil, err
	}
	r, err := b.bindExpr(x.R)
	if err != nil {
		return nil, err
	}
	if x.Op.IsComparison() {
		return b.compare(x.Op, l, r)
	}
	op, ok := binaryOps[x.Op]
	if !ok {
		return nil, ErrUnsupportedOperator.New(query.String(x))
	}
	var t reflect.Type
	switch op {
	case sqlir.OpConcat:
		t = stringType
	case sqlir.OpCoalesce:
		if t = l.Type(); t == nil {
			t = r.Type()
		}
	case sqlir.OpAnd, sqlir.OpOr:
	default:
		t = arithmeticType(l.Type(), r.Type())
	}
	return &sqlir.Binary{Op: op, Left: l, Right: r, Typ: t}, nil
}

func arithmeticType(l, r reflect.Type) reflect.Type {
	isFloat := func(t reflect.Type) bool {
		return t != nil && (t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64)
	}
	switch {
	case isFloat(l) || isFloat(r):
		return float64Type
	case l != nil:
		return l
	}
	return r
}

// compare binds a comparison. Equality with nil becomes a null test and
// equality between entities or records becomes a conjunction of equalities
// over their keys.
func (b *binder) compare(op query.BinaryOp, l, r sqlir.Node) (sqlir.Node, error) {
	sop := binaryOps[op]
	if op == query.OpEq || op == query.OpNe {
		if isNilConstant(l) {
			l, r = r, l
		}
		if isNilConstant(r) {
			var test sqlir.Node
			if p, ok := l.(*sqlir.Projection); ok {
				test = sqlir.Not(&sqlir.Exists{Select: p.Select})
			} else {
				test = &sqlir.IsNull{X: l}
			}
			if op == query.OpNe {
				test = sqlir.Not(test)
			}
			return test, nil
		}
		if isConstructed(l) || isConstructed(r) {
			eq, err := b.compareParts(l, r)
			if err != nil {
				return nil, err
			}
			if op == query.OpNe {
				eq = sqlir.Not(eq)
			}
			return eq, nil
		}
	}
	return &sqlir.Binary{Op: sop, Left: l, Right: r}, nil
}

func isNilConstant(n sqlir.Node) bool {
	c, ok := n.(*sqlir.Constant)
	return ok && c.Value == nil
}

// compareParts equates two constructed values part by part: entities by
// primary key, records and constructors by shared member names.
func (b *binder) compareParts(l, r sqlir.Node) (sqlir.Node, error) {
	names, err := b.comparableNames(l)
	if err != nil {
		return nil, err
	}
	var out sqlir.Node
	for _, name := range names {
		lv, err := b.member(l, name, "")
		if err != nil {
			return nil, err
		}
		rv, err := b.member(r, name, "")
		if err != nil {
			return nil, err
		}
		eq, err := b.compare(query.OpEq, lv, rv)
		if err != nil {
			return nil, err
		}
		out = sqlir.And(out, eq)
	}
	if out == nil {
		return nil, ErrUnsupportedOperator.New("comparison of values without comparable members")
	}
	return out, nil
}

func (b *binder) comparableNames(n sqlir.Node) ([]string, error) {
	switch x := n.(type) {
	case *sqlir.OuterJoined:
		return b.comparableNames(x.Expr)
	case *sqlir.Entity:
		e, err := b.m.Entity(x.Entity)
		if err != nil {
			return nil, err
		}
		pk := e.PrimaryKey()
		if len(pk) == 0 {
			return nil, mapping.ErrNoPrimaryKey.New(e.Name)
		}
		names := make([]string, len(pk))
		for i := range pk {
			names[i] = pk[i].Name
		}
		return names, nil
	case *sqlir.New:
		return x.Names, nil
	case *sqlir.Projection:
		if x.IsSingleton() {
			return b.comparableNames(x.Projector)
		}
	}
	return nil, ErrUnsupportedOperator.New("comparison of " + sqlir.Dump(n))
}

// member resolves name on a bound value. what names the value in errors.
func (b *binder) member(x sqlir.Node, name, what string) (sqlir.Node, error) {
	if what == "" {
		what = reflectName(x.Type())
	}
	switch v := x.(type) {
	case *sqlir.Entity:
		e, err := b.m.Entity(v.Entity)
		if err != nil {
			return nil, err
		}
		if mem, ok := e.Member(name); ok {
			if n, ok := v.Expr.(*sqlir.New); ok {
				if arg, ok := n.Arg(e.Key(mem)); ok {
					return arg, nil
				}
			}
			return b.member(v.Expr, e.Key(mem), what)
		}
		if a, ok := e.Association(name); ok {
			return b.association(v, a)
		}
	case *sqlir.New:
		if arg, ok := v.Arg(name); ok {
			return arg, nil
		}
		for i, n := range v.Names {
			if strings.EqualFold(n, name) {
				return v.Args[i], nil
			}
		}
	case *sqlir.Grouping:
		switch strings.ToLower(name) {
		case "key":
			return v.Key, nil
		case "elements":
			return v.Elements, nil
		}
	case *sqlir.OuterJoined:
		return b.member(v.Expr, name, what)
	case *sqlir.Projection:
		if v.IsSingleton() {
			inner, err := b.member(v.Projector, name, what)
			if err != nil {
				return nil, err
			}
			return singletonValue(&sqlir.Projection{Select: v.Select, Projector: inner, Aggregator: v.Aggregator}), nil
		}
	default:
		if t, ok := fieldType(x.Type(), name); ok {
			return &sqlir.Member{X: x, Name: name, Typ: t}, nil
		}
	}
	return nil, ErrUnresolvedMember.New(name, what)
}

func reflectName(t reflect.Type) string {
	if t == nil {
		return "<untyped>"
	}
	return t.String()
}

// fieldType is the type of the field or map entry name of t.
func fieldType(t reflect.Type, name string) (reflect.Type, bool) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return nil, false
	}
	switch t.Kind() {
	case reflect.Struct:
		if f, ok := t.FieldByName(name); ok {
			return f.Type, true
		}
	case reflect.Map:
		if t.Key().Kind() == reflect.String {
			return t.Elem(), true
		}
	}
	return nil, false
}

func (b *binder) bindCall(c query.Call) (sqlir.Node, error) {
	want, ok := query.Functions[c.Fn]
	if !ok {
		return nil, ErrUnsupportedOperator.New("function " + c.Fn)
	}
	if len(c.Args) != want {
		return nil, ErrArity.New(c.Fn, want, len(c.Args))
	}
	args := make([]sqlir.Node, len(c.Args))
	for i, a := range c.Args {
		v, err := b.bindExpr(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	pattern := func(prefix, suffix bool) sqlir.Node {
		p := args[1]
		if prefix {
			p = &sqlir.Binary{Op: sqlir.OpConcat, Left: sqlir.NewConstant("%"), Right: p, Typ: stringType}
		}
		if suffix {
			p = &sqlir.Binary{Op: sqlir.OpConcat, Left: p, Right: sqlir.NewConstant("%"), Typ: stringType}
		}
		return &sqlir.Func{Name: "like", Args: []sqlir.Node{args[0], p}, Typ: boolType}
	}
	switch c.Fn {
	case "lower", "upper", "trim":
		return &sqlir.Func{Name: c.Fn, Args: args, Typ: stringType}, nil
	case "length":
		return &sqlir.Func{Name: c.Fn, Args: args, Typ: int64Type}, nil
	case "abs", "round":
		return &sqlir.Func{Name: c.Fn, Args: args, Typ: args[0].Type()}, nil
	case "like":
		return &sqlir.Func{Name: c.Fn, Args: args, Typ: boolType}, nil
	case "startswith":
		return pattern(false, true), nil
	case "endswith":
		return pattern(true, false), nil
	case "contains":
		return pattern(true, true), nil
	}
	return nil, ErrUnsupportedOperator.New("function " + c.Fn)
}
