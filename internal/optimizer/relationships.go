package optimizer

import (
	"github.com/roach88/relq/internal/binder"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/projector"
	"github.com/roach88/relq/internal/sqlir"
)

// includeRelationships attaches the associations the policy includes to
// every materialized entity, as nested projections correlated with the
// entity's key. An association already included on the path to an entity
// is not included again.
func includeRelationships(c *Context, n sqlir.Node) sqlir.Node {
	if c.Mapping == nil || len(c.Policy.Include) == 0 {
		return n
	}
	r := &includer{ctx: c, scope: map[string]bool{}}
	return r.visit(n)
}

type includer struct {
	ctx   *Context
	scope map[string]bool
}

func (r *includer) visit(n sqlir.Node) sqlir.Node {
	e, ok := n.(*sqlir.Entity)
	if !ok {
		return sqlir.MapChildren(n, r.visit)
	}
	names := r.ctx.Policy.Includes(e.Entity)
	nw, ok := e.Expr.(*sqlir.New)
	if len(names) == 0 || !ok {
		return sqlir.MapChildren(n, r.visit)
	}
	ent, err := r.ctx.Mapping.Entity(e.Entity)
	if err != nil {
		r.ctx.fail(err)
		return n
	}

	saved := r.scope
	scope := make(map[string]bool, len(saved)+len(names))
	for k := range saved {
		scope[k] = true
	}
	keys := append([]string(nil), nw.Names...)
	args := append([]sqlir.Node(nil), nw.Args...)
	for _, name := range names {
		a, ok := ent.Association(name)
		if !ok {
			r.ctx.fail(mapping.ErrUnknownMember.New(ent.Name, name))
			return n
		}
		path := ent.Name + "." + a.Name
		if scope[path] {
			continue
		}
		if _, done := nw.Arg(ent.AssociationKey(a)); done {
			continue
		}
		scope[path] = true
		p, err := binder.BindAssociation(r.ctx.Mapping, r.ctx.Lang, e, a.Name)
		if err != nil {
			r.ctx.fail(err)
			return n
		}
		keys = append(keys, ent.AssociationKey(a))
		args = append(args, p)
	}
	if len(args) == len(nw.Args) {
		return sqlir.MapChildren(n, r.visit)
	}

	r.scope = scope
	defer func() { r.scope = saved }()
	return sqlir.MapChildren(&sqlir.Entity{Entity: e.Entity, Expr: &sqlir.New{Typ: nw.Typ, Names: keys, Args: args}}, r.visit)
}

// outerJoinTest adds a constant column to p's select that is null exactly
// when an outer join found no row, and wraps the projector so the client
// yields no value then.
func outerJoinTest(c *Context, p *sqlir.Projection) *sqlir.Projection {
	name := sqlir.UniqueColumnName(p.Select.Columns, "test")
	test := c.Lang.OuterJoinTest()
	sel := p.Select.AddColumn(sqlir.ColumnDecl{Name: name, Expr: test})
	return &sqlir.Projection{
		Select: sel,
		Projector: &sqlir.OuterJoined{
			Test: &sqlir.Column{Alias: sel.Alias, Name: name, Typ: test.Type()},
			Expr: p.Projector,
		},
		Aggregator: p.Aggregator,
	}
}

func canJoinOnServer(s *sqlir.Select) bool {
	return !s.Distinct && !s.HasGroupBy() && !sqlir.HasAggregates(s)
}

// rewriteSingletonProjections turns nested single-row projections into an
// outer join against the enclosing select, so the row is read with its
// owner. When the join stays an apply and the dialect has none, the
// projection is left to run per row.
func rewriteSingletonProjections(c *Context, n sqlir.Node) sqlir.Node {
	r := &singletons{ctx: c, top: true}
	return r.visit(n)
}

type singletons struct {
	ctx     *Context
	top     bool
	current *sqlir.Select
}

func (r *singletons) visit(n sqlir.Node) sqlir.Node {
	switch x := n.(type) {
	case nil:
		return nil
	case *sqlir.Projection:
		return r.visitProjection(x)
	case *sqlir.ClientJoin:
		top, current := r.top, r.current
		r.top, r.current = true, nil
		out := sqlir.MapChildren(x, r.visit)
		r.top, r.current = top, current
		return out
	case *sqlir.Scalar, *sqlir.Exists, *sqlir.In:
		return x
	}
	return sqlir.MapChildren(n, r.visit)
}

func (r *singletons) visitProjection(p *sqlir.Projection) sqlir.Node {
	if r.top {
		r.top = false
		r.current = p.Select
		projector := r.visit(p.Projector)
		sel := r.current
		r.top, r.current = true, nil
		if projector == p.Projector && sel == p.Select {
			return p
		}
		return &sqlir.Projection{Select: sel, Projector: projector, Aggregator: p.Aggregator}
	}
	if p.IsSingleton() && canJoinOnServer(r.current) {
		if sel, projector, ok := r.join(r.current, p); ok {
			r.current = sel
			return r.visit(projector)
		}
		r.ctx.log.Debug("singleton projection left nested", "dialect", r.ctx.Lang.Name)
	}
	top, current := r.top, r.current
	r.top = true
	out := r.visitProjection(p)
	r.top, r.current = top, current
	return out
}

func (r *singletons) join(cur *sqlir.Select, p *sqlir.Projection) (*sqlir.Select, sqlir.Node, bool) {
	lang := r.ctx.Lang
	newAlias := sqlir.NewAlias()
	outer := cur.AddRedundantSelect(newAlias)
	source := sqlir.MapColumns(p.Select, newAlias, cur.Alias).(*sqlir.Select)
	tested := outerJoinTest(r.ctx, &sqlir.Projection{Select: source, Projector: sqlir.MapColumns(p.Projector, newAlias, cur.Alias)})

	j := applyToJoin(&sqlir.Join{Kind: sqlir.OuterApply, Left: outer.From, Right: tested.Select})
	switch j.Kind {
	case sqlir.LeftOuterJoin:
		j = &sqlir.Join{Kind: sqlir.SingletonLeftOuterJoin, Left: j.Left, Right: j.Right, On: j.On}
	case sqlir.OuterApply:
		if !lang.SupportsApply() {
			return nil, nil, false
		}
	}
	// The join may have re-projected the right side.
	right, _ := sqlir.SourceAlias(j.Right)
	pc := projector.Project(lang, tested.Projector, outer.Columns, outer.Alias, newAlias, right)
	return &sqlir.Select{Alias: outer.Alias, Columns: pc.Columns, From: j}, pc.Projector, true
}

// rewriteClientJoins fetches nested collections with one extra query per
// execution instead of one per outer row: the enclosing select is
// duplicated, joined to the nested select on its correlation, and the
// children are matched to their owners on the client by the equi-join key.
// Nested projections whose correlation is not an equi-join, or that would
// need an apply the dialect lacks, run per row.
func rewriteClientJoins(c *Context, n sqlir.Node) sqlir.Node {
	r := &clientJoins{ctx: c, top: true}
	return r.visit(n)
}

type clientJoins struct {
	ctx      *Context
	top      bool
	disabled bool
	current  *sqlir.Select
}

func (r *clientJoins) visit(n sqlir.Node) sqlir.Node {
	switch x := n.(type) {
	case nil:
		return nil
	case *sqlir.Projection:
		return r.visitProjection(x)
	case *sqlir.ClientJoin, *sqlir.Scalar, *sqlir.Exists, *sqlir.In:
		return x
	}
	return sqlir.MapChildren(n, r.visit)
}

func (r *clientJoins) visitProjection(p *sqlir.Projection) sqlir.Node {
	outer := r.current
	defer func() { r.current = outer }()

	if r.top {
		r.top = false
		r.current = p.Select
		return r.rebuild(p, p.Select)
	}
	if r.canJoinOnClient(outer, p) {
		if cj, ok := r.clientJoin(outer, p); ok {
			return cj
		}
		r.ctx.log.Debug("nested projection runs per row", "dialect", r.ctx.Lang.Name)
	}
	disabled := r.disabled
	r.disabled = true
	defer func() { r.disabled = disabled }()
	r.current = p.Select
	return r.rebuild(p, p.Select)
}

func (r *clientJoins) rebuild(p *sqlir.Projection, sel *sqlir.Select) sqlir.Node {
	projector := r.visit(p.Projector)
	if projector == p.Projector && sel == p.Select {
		return p
	}
	return &sqlir.Projection{Select: sel, Projector: projector, Aggregator: p.Aggregator}
}

func (r *clientJoins) canJoinOnClient(outer *sqlir.Select, p *sqlir.Projection) bool {
	return !r.disabled && outer != nil &&
		outer.Skip == nil && outer.Take == nil && !sqlir.HasAggregates(outer) &&
		!pagedByRowNumber(outer) && canJoinOnServer(p.Select)
}

// pagedByRowNumber reports whether s reads a select that numbers its rows,
// which is what skip is lowered to. Such a select is paged exactly like one
// that still carries its skip.
func pagedByRowNumber(s *sqlir.Select) bool {
	for {
		from, ok := s.From.(*sqlir.Select)
		if !ok {
			return false
		}
		for _, c := range from.Columns {
			if _, ok := c.Expr.(*sqlir.RowNumber); ok {
				return true
			}
		}
		s = from
	}
}

func (r *clientJoins) clientJoin(outer *sqlir.Select, p *sqlir.Projection) (*sqlir.ClientJoin, bool) {
	lang := r.ctx.Lang
	dup := sqlir.Duplicate(outer).(*sqlir.Select)
	inner := sqlir.MapColumns(p.Select, dup.Alias, outer.Alias).(*sqlir.Select)

	var outerKeys, innerKeys []sqlir.Node
	if inner.Where == nil || !equiJoinKeys(inner.Where, dup.Alias, &outerKeys, &innerKeys) {
		return nil, false
	}

	cols := inner.Columns
	innerRefs := make([]sqlir.Node, len(innerKeys))
	for i, k := range innerKeys {
		pc := projector.Project(lang, k, cols, inner.Alias, sqlir.DeclaredAliases(inner.From)...)
		cols, innerRefs[i] = pc.Columns, pc.Projector
	}
	inner = inner.WithColumns(cols)

	j := applyToJoin(&sqlir.Join{Kind: sqlir.CrossApply, Left: dup, Right: inner})
	if j.Kind == sqlir.CrossApply && !lang.SupportsApply() {
		return nil, false
	}
	right, _ := sqlir.SourceAlias(j.Right)

	newAlias := sqlir.NewAlias()
	pc := projector.Project(lang, sqlir.MapColumns(p.Projector, dup.Alias, outer.Alias), nil, newAlias, dup.Alias, right)
	cols = pc.Columns
	keys := make([]sqlir.Node, len(innerRefs))
	for i, k := range innerRefs {
		kp := projector.Project(lang, k, cols, newAlias, right)
		cols, keys[i] = kp.Columns, kp.Projector
	}
	joined := &sqlir.Select{Alias: newAlias, Columns: cols, From: j, Distinct: p.IsSingleton()}

	r.current = joined
	projector := r.visit(pc.Projector)

	outerKey := make([]sqlir.Node, len(outerKeys))
	for i, k := range outerKeys {
		outerKey[i] = sqlir.MapColumns(k, outer.Alias, dup.Alias)
	}
	return &sqlir.ClientJoin{
		Projection: &sqlir.Projection{Select: joined, Projector: projector, Aggregator: p.Aggregator},
		OuterKey:   outerKey,
		InnerKey:   keys,
	}, true
}

// equiJoinKeys splits a correlation predicate into the outer and inner
// sides of column equalities. Every conjunct that reads outer must be one.
func equiJoinKeys(pred sqlir.Node, outer sqlir.Alias, outerKeys, innerKeys *[]sqlir.Node) bool {
	if b, ok := pred.(*sqlir.Binary); ok && b.Op == sqlir.OpEq {
		l, lok := b.Left.(*sqlir.Column)
		r, rok := b.Right.(*sqlir.Column)
		if lok && rok {
			switch {
			case l.Alias == outer && r.Alias != outer:
				*outerKeys, *innerKeys = append(*outerKeys, l), append(*innerKeys, r)
				return true
			case r.Alias == outer && l.Alias != outer:
				*outerKeys, *innerKeys = append(*outerKeys, r), append(*innerKeys, l)
				return true
			}
		}
	}
	parts := sqlir.Split(pred)
	if len(parts) < 2 {
		return false
	}
	had := false
	for _, part := range parts {
		if sqlir.References(part, outer) {
			if !equiJoinKeys(part, outer, outerKeys, innerKeys) {
				return false
			}
			had = true
		}
	}
	return had
}
