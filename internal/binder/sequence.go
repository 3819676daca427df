package binder

import (
	"reflect"

	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/projector"
	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/sqlir"
)

var int64Type = reflect.TypeOf(int64(0))

// bindSeq binds a sequence operator.
func (b *binder) bindSeq(op query.Op) (*sqlir.Projection, error) {
	switch o := op.(type) {
	case query.From:
		return b.bindFrom(o.Entity)
	case query.Of:
		return b.bindSequenceExpr(o.Expr)
	case query.Where:
		p, err := b.bindSeq(o.Source)
		if err != nil {
			return nil, err
		}
		pred, err := b.bindLambda(o.Pred, "where", p.Projector)
		if err != nil {
			return nil, err
		}
		return b.wrap(p, p.Projector, func(s *sqlir.Select) { s.Where = pred }), nil
	case query.Select:
		p, err := b.bindSeq(o.Source)
		if err != nil {
			return nil, err
		}
		e, err := b.bindLambda(o.Fn, "select", p.Projector)
		if err != nil {
			return nil, err
		}
		return b.wrap(p, e, nil), nil
	case query.SelectMany:
		return b.bindSelectMany(o)
	case query.Join:
		return b.bindJoin(o)
	case query.GroupJoin:
		return b.bindGroupJoin(o)
	case query.GroupBy:
		return b.bindGroupBy(o)
	case query.OrderBy:
		return b.bindOrderBy(o)
	case query.Distinct:
		p, err := b.bindSeq(o.Source)
		if err != nil {
			return nil, err
		}
		return b.wrap(p, p.Projector, func(s *sqlir.Select) { s.Distinct = true }), nil
	case query.Reverse:
		p, err := b.bindSeq(o.Source)
		if err != nil {
			return nil, err
		}
		if !hasOrdering(p.Select) {
			return nil, ErrUnsupportedOperator.New("reverse needs an order_by")
		}
		return b.wrap(p, p.Projector, func(s *sqlir.Select) { s.Reverse = true }), nil
	case query.Skip:
		return b.bindPaging(o.Source, o.N, true)
	case query.Take:
		return b.bindPaging(o.Source, o.N, false)
	case query.DefaultIfEmpty:
		return b.bindDefaultIfEmpty(o)
	case nil:
		return nil, ErrUnsupportedOperator.New("<nil>")
	}
	if query.IsScalar(op) {
		return nil, ErrNotASequence.New(query.OpString(op))
	}
	return nil, ErrUnsupportedOperator.New(query.OpString(op))
}

// bindFrom binds a whole mapped table.
func (b *binder) bindFrom(name string) (*sqlir.Projection, error) {
	e, err := b.m.Entity(name)
	if err != nil {
		return nil, err
	}
	t := &sqlir.Table{Alias: sqlir.NewAlias(), Entity: e.Name, Name: e.Table}
	alias := sqlir.NewAlias()
	pc := projector.Project(b.lang, entityProjector(e, t.Alias), nil, alias, t.Alias)
	return &sqlir.Projection{
		Select:    &sqlir.Select{Alias: alias, Columns: pc.Columns, From: t},
		Projector: pc.Projector,
	}, nil
}

// entityProjector builds the materialized form of e read from alias: a New
// of the entity's Go type (or a record) over its member columns.
func entityProjector(e *mapping.Entity, alias sqlir.Alias) sqlir.Node {
	names := make([]string, len(e.Members))
	args := make([]sqlir.Node, len(e.Members))
	for i := range e.Members {
		mem := &e.Members[i]
		names[i] = e.Key(mem)
		args[i] = &sqlir.Column{Alias: alias, Name: mem.Column, Typ: mem.Type, StoreType: mem.StoreType}
	}
	return &sqlir.Entity{Entity: e.Name, Expr: &sqlir.New{Typ: e.Type, Names: names, Args: args}}
}

// bindSequenceExpr binds an expression used as a sequence: a subquery, a
// navigation collection or a group.
func (b *binder) bindSequenceExpr(e query.Expr) (*sqlir.Projection, error) {
	if sq, ok := e.(query.Subquery); ok {
		return b.bindSeq(sq.Op)
	}
	n, err := b.bindExpr(e)
	if err != nil {
		return nil, err
	}
	switch x := n.(type) {
	case *sqlir.Projection:
		if !x.IsSingleton() {
			return x, nil
		}
	case *sqlir.Grouping:
		if p, ok := x.Elements.(*sqlir.Projection); ok {
			return p, nil
		}
	}
	return nil, ErrNotASequence.New(query.String(e))
}

func (b *binder) bindPaging(source query.Op, n query.Expr, skip bool) (*sqlir.Projection, error) {
	p, err := b.bindSeq(source)
	if err != nil {
		return nil, err
	}
	count, err := b.bindExpr(n)
	if err != nil {
		return nil, err
	}
	return b.wrap(p, p.Projector, func(s *sqlir.Select) {
		if skip {
			s.Skip = count
		} else {
			s.Take = count
		}
	}), nil
}

// bindOrderBy binds an order_by and the then_by operators stacked on it
// into one select with all orderings.
func (b *binder) bindOrderBy(o query.OrderBy) (*sqlir.Projection, error) {
	chain := []query.OrderBy{o}
	src := o.Source
	for o.Then {
		prev, ok := src.(query.OrderBy)
		if !ok {
			break
		}
		chain = append(chain, prev)
		o, src = prev, prev.Source
	}
	p, err := b.bindSeq(src)
	if err != nil {
		return nil, err
	}
	var ords []sqlir.Ordering
	for i := len(chain) - 1; i >= 0; i-- {
		key, err := b.bindLambda(chain[i].Key, "order_by", p.Projector)
		if err != nil {
			return nil, err
		}
		for _, k := range orderKeys(key) {
			ords = append(ords, sqlir.Ordering{Desc: chain[i].Desc, Expr: k})
		}
	}
	return b.wrap(p, p.Projector, func(s *sqlir.Select) { s.OrderBy = ords }), nil
}

// orderKeys expands a composite ordering key into its parts.
func orderKeys(key sqlir.Node) []sqlir.Node {
	switch k := key.(type) {
	case *sqlir.Entity:
		return orderKeys(k.Expr)
	case *sqlir.New:
		var out []sqlir.Node
		for _, a := range k.Args {
			out = append(out, orderKeys(a)...)
		}
		return out
	}
	return []sqlir.Node{key}
}

// hasOrdering reports whether s or a select it reads directly from orders
// its rows.
func hasOrdering(s *sqlir.Select) bool {
	for s != nil {
		if s.HasOrderBy() {
			return true
		}
		s, _ = s.From.(*sqlir.Select)
	}
	return false
}

func (b *binder) bindSelectMany(o query.SelectMany) (*sqlir.Projection, error) {
	p, err := b.bindSeq(o.Source)
	if err != nil {
		return nil, err
	}
	if len(o.Coll.Params) != 1 {
		return nil, ErrArity.New("lambda for select_many", 1, len(o.Coll.Params))
	}

	collExpr := o.Coll.Body
	defaultIfEmpty := false
	if sq, ok := collExpr.(query.Subquery); ok {
		if d, ok := sq.Op.(query.DefaultIfEmpty); ok {
			collExpr, defaultIfEmpty = query.Subquery{Op: d.Source}, true
		}
	}
	saved := b.scope
	b.scope = &scope{outer: saved, names: map[string]sqlir.Node{o.Coll.Params[0]: p.Projector}}
	cp, err := b.bindSequenceExpr(collExpr)
	b.scope = saved
	if err != nil {
		return nil, err
	}

	kind := sqlir.CrossApply
	switch {
	case defaultIfEmpty:
		kind = sqlir.OuterApply
		cp = b.addOuterJoinTest(cp)
	case isPlainTable(cp.Select):
		kind = sqlir.CrossJoin
	}
	join := &sqlir.Join{Kind: kind, Left: p.Select, Right: cp.Select}

	result := cp.Projector
	if !o.Result.IsZero() {
		if result, err = b.bindLambda(o.Result, "select_many result", p.Projector, cp.Projector); err != nil {
			return nil, err
		}
	}
	alias := sqlir.NewAlias()
	pc := projector.Project(b.lang, result, nil, alias, p.Select.Alias, cp.Select.Alias)
	return &sqlir.Projection{
		Select:    &sqlir.Select{Alias: alias, Columns: pc.Columns, From: join},
		Projector: pc.Projector,
	}, nil
}

func isPlainTable(s *sqlir.Select) bool {
	_, ok := s.From.(*sqlir.Table)
	return ok && s.Where == nil
}

// addOuterJoinTest adds a column that is null exactly when the right side
// of an outer join matched no row, and guards the projector with it.
func (b *binder) addOuterJoinTest(p *sqlir.Projection) *sqlir.Projection {
	name := sqlir.UniqueColumnName(p.Select.Columns, "test")
	sel := p.Select.AddColumn(sqlir.ColumnDecl{Name: name, Expr: b.lang.OuterJoinTest()})
	return &sqlir.Projection{
		Select: sel,
		Projector: &sqlir.OuterJoined{
			Test: &sqlir.Column{Alias: sel.Alias, Name: name, Typ: int64Type},
			Expr: p.Projector,
		},
	}
}

func (b *binder) bindJoin(o query.Join) (*sqlir.Projection, error) {
	outer, err := b.bindSeq(o.Outer)
	if err != nil {
		return nil, err
	}
	inner, err := b.bindSeq(o.Inner)
	if err != nil {
		return nil, err
	}
	ok, err := b.bindLambda(o.OuterKey, "join outer key", outer.Projector)
	if err != nil {
		return nil, err
	}
	ik, err := b.bindLambda(o.InnerKey, "join inner key", inner.Projector)
	if err != nil {
		return nil, err
	}
	on, err := b.compare(query.OpEq, ok, ik)
	if err != nil {
		return nil, err
	}
	result, err := b.bindLambda(o.Result, "join result", outer.Projector, inner.Projector)
	if err != nil {
		return nil, err
	}
	alias := sqlir.NewAlias()
	pc := projector.Project(b.lang, result, nil, alias, outer.Select.Alias, inner.Select.Alias)
	return &sqlir.Projection{
		Select: &sqlir.Select{
			Alias:   alias,
			Columns: pc.Columns,
			From:    &sqlir.Join{Kind: sqlir.InnerJoin, Left: outer.Select, Right: inner.Select, On: on},
		},
		Projector: pc.Projector,
	}, nil
}

// bindGroupJoin pairs every outer element with the correlated sequence of
// matching inner elements.
func (b *binder) bindGroupJoin(o query.GroupJoin) (*sqlir.Projection, error) {
	outer, err := b.bindSeq(o.Outer)
	if err != nil {
		return nil, err
	}
	ok, err := b.bindLambda(o.OuterKey, "group_join outer key", outer.Projector)
	if err != nil {
		return nil, err
	}
	inner, err := b.bindSeq(o.Inner)
	if err != nil {
		return nil, err
	}
	ik, err := b.bindLambda(o.InnerKey, "group_join inner key", inner.Projector)
	if err != nil {
		return nil, err
	}
	pred, err := b.compare(query.OpEq, ik, ok)
	if err != nil {
		return nil, err
	}
	group := b.wrap(inner, inner.Projector, func(s *sqlir.Select) { s.Where = pred })
	result, err := b.bindLambda(o.Result, "group_join result", outer.Projector, group)
	if err != nil {
		return nil, err
	}
	return b.wrap(outer, result, nil), nil
}

// bindGroupBy binds a group-by. The grouped select carries the key
// expressions; each group's elements are a duplicate of the source,
// re-bound with fresh aliases and correlated to the key with null-safe
// equality. Aggregates over the elements are tied back to the grouped
// select so the optimizer can hoist them into it.
func (b *binder) bindGroupBy(o query.GroupBy) (*sqlir.Projection, error) {
	p, err := b.bindSeq(o.Source)
	if err != nil {
		return nil, err
	}
	key, err := b.bindLambda(o.Key, "group_by key", p.Projector)
	if err != nil {
		return nil, err
	}
	elem := p.Projector
	if !o.Elem.IsZero() {
		if elem, err = b.bindLambda(o.Elem, "group_by element", p.Projector); err != nil {
			return nil, err
		}
	}
	keyPC := projector.Project(b.lang, key, nil, p.Select.Alias, p.Select.Alias)
	groupExprs := declExprs(keyPC.Columns)

	basis, err := b.bindSeq(o.Source)
	if err != nil {
		return nil, err
	}
	basisKey, err := b.bindLambda(o.Key, "group_by key", basis.Projector)
	if err != nil {
		return nil, err
	}
	basisPC := projector.Project(b.lang, basisKey, nil, basis.Select.Alias, basis.Select.Alias)
	var correlation sqlir.Node
	for i, e := range declExprs(basisPC.Columns) {
		correlation = sqlir.And(correlation, sqlir.NullsEqual(e, groupExprs[i]))
	}
	basisElem := basis.Projector
	if !o.Elem.IsZero() {
		if basisElem, err = b.bindLambda(o.Elem, "group_by element", basis.Projector); err != nil {
			return nil, err
		}
	}
	elements := b.wrap(basis, basisElem, func(s *sqlir.Select) { s.Where = correlation })

	alias := sqlir.NewAlias()
	info := groupInfo{alias: alias, element: elem}
	b.groups[elements] = info

	var result sqlir.Node
	if o.Result.IsZero() {
		result = &sqlir.Grouping{Key: key, Elements: elements}
	} else {
		saved := b.currentGroup
		b.currentGroup = elements
		result, err = b.bindLambda(o.Result, "group_by result", key, elements)
		b.currentGroup = saved
		if err != nil {
			return nil, err
		}
	}
	pc := projector.Project(b.lang, result, nil, alias, p.Select.Alias)
	if g, ok := pc.Projector.(*sqlir.Grouping); ok {
		if ep, ok := g.Elements.(*sqlir.Projection); ok {
			b.groups[ep] = info
		}
	}
	return &sqlir.Projection{
		Select:    &sqlir.Select{Alias: alias, Columns: pc.Columns, From: p.Select, GroupBy: groupExprs},
		Projector: pc.Projector,
	}, nil
}

func declExprs(cols []sqlir.ColumnDecl) []sqlir.Node {
	out := make([]sqlir.Node, len(cols))
	for i, c := range cols {
		out[i] = c.Expr
	}
	return out
}

// bindDefaultIfEmpty left-joins the sequence to a one-row select so that an
// empty sequence yields one zero element.
func (b *binder) bindDefaultIfEmpty(o query.DefaultIfEmpty) (*sqlir.Projection, error) {
	p, err := b.bindSeq(o.Source)
	if err != nil {
		return nil, err
	}
	p = b.addOuterJoinTest(p)
	one := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: "one", Expr: sqlir.NewConstant(int64(1))}},
	}
	join := &sqlir.Join{
		Kind:  sqlir.LeftOuterJoin,
		Left:  one,
		Right: p.Select,
		On:    sqlir.Eq(&sqlir.Column{Alias: one.Alias, Name: "one", Typ: int64Type}, sqlir.NewConstant(int64(1))),
	}
	alias := sqlir.NewAlias()
	pc := projector.Project(b.lang, p.Projector, nil, alias, p.Select.Alias)
	return &sqlir.Projection{
		Select:    &sqlir.Select{Alias: alias, Columns: pc.Columns, From: join},
		Projector: pc.Projector,
	}, nil
}
