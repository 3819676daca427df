package binder

import (
	"reflect"

	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/sqlir"
)

var (
	boolType    = reflect.TypeOf(false)
	float64Type = reflect.TypeOf(float64(0))
)

// bindScalarOp binds an operator that yields one value. At the root the
// result is a projection with an aggregator; nested, it is an expression.
func (b *binder) bindScalarOp(op query.Op, root bool) (sqlir.Node, error) {
	switch o := op.(type) {
	case query.Element:
		return b.bindElement(o, root)
	case query.Aggregate:
		return b.bindAggregate(o, root)
	case query.Any:
		return b.bindAnyAll(o.Source, o.Pred, false, root)
	case query.All:
		if o.Pred.IsZero() {
			return nil, ErrUnsupportedOperator.New("all without a predicate")
		}
		return b.bindAnyAll(o.Source, o.Pred, true, root)
	case query.Contains:
		return b.bindContains(o, root)
	}
	return nil, ErrUnsupportedOperator.New(query.OpString(op))
}

func (b *binder) bindElement(o query.Element, root bool) (sqlir.Node, error) {
	p, err := b.bindSeq(o.Source)
	if err != nil {
		return nil, err
	}
	if !o.Pred.IsZero() {
		pred, err := b.bindLambda(o.Pred, o.Kind.String(), p.Projector)
		if err != nil {
			return nil, err
		}
		p = b.wrap(p, p.Projector, func(s *sqlir.Select) { s.Where = pred })
	}

	var take sqlir.Node
	agg := &sqlir.Aggregator{}
	reverse := false
	switch o.Kind {
	case query.First, query.FirstOrDefault:
		take = sqlir.NewConstant(int64(1))
		agg.Kind = sqlir.First
	case query.Last, query.LastOrDefault:
		take = sqlir.NewConstant(int64(1))
		agg.Kind = sqlir.First
		reverse = true
	case query.Single, query.SingleOrDefault:
		// Two rows are enough to detect a violation.
		if root {
			take = sqlir.NewConstant(int64(2))
		}
		agg.Kind = sqlir.Single
	default:
		return nil, ErrUnsupportedOperator.New(o.Kind.String())
	}
	if o.Kind.OrDefault() {
		agg.Kind++
	}
	if reverse && !hasOrdering(p.Select) {
		return nil, ErrUnsupportedOperator.New(o.Kind.String() + " needs an order_by")
	}

	p = b.wrap(p, p.Projector, func(s *sqlir.Select) {
		s.Take = take
		s.Reverse = reverse
	})
	p.Aggregator = agg
	if root {
		return p, nil
	}
	return singletonValue(p), nil
}

// singletonValue turns a nested singleton projection whose projector is one
// column into a scalar subquery.
func singletonValue(p *sqlir.Projection) sqlir.Node {
	col, ok := p.Projector.(*sqlir.Column)
	if !ok || col.Alias != p.Select.Alias {
		return p
	}
	decl, _, ok := p.Select.Column(col.Name)
	if !ok {
		return p
	}
	return &sqlir.Scalar{Select: p.Select.WithColumns([]sqlir.ColumnDecl{decl}), Typ: col.Typ}
}

var aggregateKinds = map[query.AggregateKind]sqlir.AggregateKind{
	query.Count:   sqlir.Count,
	query.Sum:     sqlir.Sum,
	query.Min:     sqlir.Min,
	query.Max:     sqlir.Max,
	query.Average: sqlir.Avg,
}

func (b *binder) bindAggregate(o query.Aggregate, root bool) (sqlir.Node, error) {
	src, fn := o.Source, o.Fn
	if o.Kind == query.Count && !fn.IsZero() {
		src, fn = query.Where{Source: src, Pred: fn}, query.Lambda{}
	}

	var p *sqlir.Projection
	var arg sqlir.Node
	distinct := false
	if d, ok := src.(query.Distinct); ok && b.lang.AllowDistinctInAggregates {
		inner, err := b.bindSeq(d.Source)
		if err != nil {
			return nil, err
		}
		if a, err := b.aggregateArg(o.Kind, fn, inner, true); err == nil && a != nil && !isConstructed(a) {
			p, arg, distinct = inner, a, true
		}
	}
	if p == nil {
		var err error
		if p, err = b.bindSeq(src); err != nil {
			return nil, err
		}
		if arg, err = b.aggregateArg(o.Kind, fn, p, false); err != nil {
			return nil, err
		}
	}
	if arg != nil && isConstructed(arg) {
		return nil, ErrUnsupportedOperator.New(o.Kind.String() + " over a constructed value")
	}

	typ := aggregateType(o.Kind, arg)
	agg := &sqlir.Aggregate{Kind: aggregateKinds[o.Kind], Arg: arg, Distinct: distinct, Typ: typ}

	if info, ok := b.groups[p]; ok && !root && !distinct {
		inGroup, err := b.inGroupAggregate(o.Kind, fn, info, typ)
		if err != nil {
			return nil, err
		}
		if p == b.currentGroup {
			return inGroup, nil
		}
		return &sqlir.AggregateSubquery{
			GroupByAlias:  info.alias,
			InGroupSelect: inGroup,
			Subquery:      aggregateSelect(p, agg),
		}, nil
	}

	s := aggregateSelect(p, agg)
	if !root {
		return s, nil
	}
	return &sqlir.Projection{
		Select:     s.Select,
		Projector:  &sqlir.Column{Alias: s.Select.Alias, Name: "value", Typ: typ},
		Aggregator: &sqlir.Aggregator{Kind: sqlir.ScalarValue},
	}, nil
}

// aggregateArg binds the aggregated value. Count without a selector counts
// rows unless the rows are distinct, in which case it counts distinct
// projected values.
func (b *binder) aggregateArg(kind query.AggregateKind, fn query.Lambda, p *sqlir.Projection, distinct bool) (sqlir.Node, error) {
	if !fn.IsZero() {
		return b.bindLambda(fn, kind.String(), p.Projector)
	}
	if kind == query.Count && !distinct {
		return nil, nil
	}
	return p.Projector, nil
}

func (b *binder) inGroupAggregate(kind query.AggregateKind, fn query.Lambda, info groupInfo, typ reflect.Type) (sqlir.Node, error) {
	var arg sqlir.Node
	if !fn.IsZero() {
		var err error
		if arg, err = b.bindLambda(fn, kind.String(), info.element); err != nil {
			return nil, err
		}
	} else if kind != query.Count {
		arg = info.element
	}
	return &sqlir.Aggregate{Kind: aggregateKinds[kind], Arg: arg, Typ: typ}, nil
}

func aggregateSelect(p *sqlir.Projection, agg *sqlir.Aggregate) *sqlir.Scalar {
	return &sqlir.Scalar{
		Select: &sqlir.Select{
			Alias:   sqlir.NewAlias(),
			Columns: []sqlir.ColumnDecl{{Name: "value", Expr: agg}},
			From:    p.Select,
		},
		Typ: agg.Typ,
	}
}

func aggregateType(kind query.AggregateKind, arg sqlir.Node) reflect.Type {
	switch kind {
	case query.Count:
		return int64Type
	case query.Average:
		return float64Type
	}
	t := arg.Type()
	if kind == query.Sum {
		if t != nil && (t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64) {
			return float64Type
		}
		return int64Type
	}
	return t
}

func isConstructed(n sqlir.Node) bool {
	switch n.(type) {
	case *sqlir.New, *sqlir.Entity, *sqlir.Grouping, *sqlir.Projection, *sqlir.ClientJoin:
		return true
	}
	return false
}

// localSequence returns the values of a source that is a local slice.
func localSequence(op query.Op) ([]any, bool) {
	of, ok := op.(query.Of)
	if !ok {
		return nil, false
	}
	c, ok := of.Expr.(query.Const)
	if !ok || !query.IsSequence(c.Value) {
		return nil, false
	}
	v := reflect.ValueOf(c.Value)
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out, true
}

func (b *binder) bindAnyAll(src query.Op, pred query.Lambda, all bool, root bool) (sqlir.Node, error) {
	what := "any"
	if all {
		what = "all"
	}
	if values, ok := localSequence(src); ok && !pred.IsZero() {
		var out sqlir.Node
		for _, v := range values {
			e, err := b.bindLambda(pred, what, sqlir.NewConstant(v))
			if err != nil {
				return nil, err
			}
			if all {
				out = sqlir.And(out, e)
			} else {
				out = sqlir.Or(out, e)
			}
		}
		if out == nil {
			out = sqlir.NewConstant(all)
		}
		return b.scalarResult(out, root), nil
	}

	p, err := b.bindSeq(src)
	if err != nil {
		return nil, err
	}
	if !pred.IsZero() {
		e, err := b.bindLambda(pred, what, p.Projector)
		if err != nil {
			return nil, err
		}
		if all {
			e = sqlir.Not(e)
		}
		p = b.wrap(p, p.Projector, func(s *sqlir.Select) { s.Where = e })
	}
	var out sqlir.Node = &sqlir.Exists{Select: p.Select}
	if all {
		out = sqlir.Not(out)
	}
	return b.scalarResult(out, root), nil
}

func (b *binder) bindContains(o query.Contains, root bool) (sqlir.Node, error) {
	val, err := b.bindExpr(o.Value)
	if err != nil {
		return nil, err
	}
	if values, ok := localSequence(o.Source); ok {
		if len(values) == 0 {
			return b.scalarResult(sqlir.NewConstant(false), root), nil
		}
		in := &sqlir.In{X: val, Values: make([]sqlir.Node, len(values))}
		for i, v := range values {
			in.Values[i] = sqlir.NewConstant(v)
		}
		return b.scalarResult(in, root), nil
	}

	p, err := b.bindSeq(o.Source)
	if err != nil {
		return nil, err
	}
	if col, ok := p.Projector.(*sqlir.Column); ok && col.Alias == p.Select.Alias && !isConstructed(val) {
		if decl, _, ok := p.Select.Column(col.Name); ok {
			in := &sqlir.In{X: val, Select: p.Select.WithColumns([]sqlir.ColumnDecl{decl})}
			return b.scalarResult(in, root), nil
		}
	}
	eq, err := b.compare(query.OpEq, p.Projector, val)
	if err != nil {
		return nil, err
	}
	p = b.wrap(p, p.Projector, func(s *sqlir.Select) { s.Where = eq })
	return b.scalarResult(&sqlir.Exists{Select: p.Select}, root), nil
}

// scalarResult returns expr nested, or a one-row projection of it at the
// root.
func (b *binder) scalarResult(expr sqlir.Node, root bool) sqlir.Node {
	if !root {
		return expr
	}
	alias := sqlir.NewAlias()
	sel := &sqlir.Select{Alias: alias, Columns: []sqlir.ColumnDecl{{Name: "value", Expr: expr}}}
	proj := &sqlir.Column{Alias: alias, Name: "value", Typ: expr.Type()}
	if !b.lang.AllowSubqueryInSelectWithoutFrom {
		if ex, negated := existsOf(expr); ex != nil {
			// Count the matching rows instead.
			sel = &sqlir.Select{
				Alias:   alias,
				Columns: []sqlir.ColumnDecl{{Name: "value", Expr: &sqlir.Aggregate{Kind: sqlir.Count, Typ: int64Type}}},
				From:    ex.Select,
			}
			op := sqlir.OpGt
			if negated {
				op = sqlir.OpEq
			}
			count := &sqlir.Column{Alias: alias, Name: "value", Typ: int64Type}
			return &sqlir.Projection{
				Select:     sel,
				Projector:  &sqlir.Binary{Op: op, Left: count, Right: sqlir.NewConstant(int64(0))},
				Aggregator: &sqlir.Aggregator{Kind: sqlir.ScalarValue},
			}
		}
	}
	return &sqlir.Projection{Select: sel, Projector: proj, Aggregator: &sqlir.Aggregator{Kind: sqlir.ScalarValue}}
}

func existsOf(n sqlir.Node) (*sqlir.Exists, bool) {
	switch x := n.(type) {
	case *sqlir.Exists:
		return x, false
	case *sqlir.Unary:
		if ex, ok := x.X.(*sqlir.Exists); ok && x.Op == sqlir.OpNot {
			return ex, true
		}
	}
	return nil, false
}
