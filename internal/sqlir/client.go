package sqlir

import "reflect"

// RecordType is the result type of an untyped New.
var RecordType = reflect.TypeOf(map[string]any(nil))

// Entity marks Expr as the materialized form of a mapped entity so that
// comparisons and relationship includes can find the entity's mapping.
type Entity struct {
	Entity string
	Expr   Node
}

func (e *Entity) Type() reflect.Type { return e.Expr.Type() }
func (e *Entity) Children() []Node   { return []Node{e.Expr} }
func (e *Entity) WithChildren(children ...Node) Node {
	checkArity(e, len(children), 1)
	return &Entity{Entity: e.Entity, Expr: children[0]}
}
func (*Entity) sqlNode() {}

// New constructs a value from named parts: a struct of type Typ, or a
// record when Typ is nil. New is always evaluated on the client.
type New struct {
	Typ   reflect.Type
	Names []string
	Args  []Node
}

func (n *New) Type() reflect.Type {
	if n.Typ == nil {
		return RecordType
	}
	return n.Typ
}
func (n *New) Children() []Node { return cloneNodes(n.Args) }
func (n *New) WithChildren(children ...Node) Node {
	checkArity(n, len(children), len(n.Args))
	return &New{Typ: n.Typ, Names: n.Names, Args: cloneNodes(children)}
}
func (*New) sqlNode() {}

// Arg returns the argument bound to name.
func (n *New) Arg(name string) (Node, bool) {
	for i, nm := range n.Names {
		if nm == name {
			return n.Args[i], true
		}
	}
	return nil, false
}

// Member reads a field of a client-side value.
type Member struct {
	X    Node
	Name string
	Typ  reflect.Type
}

func (m *Member) Type() reflect.Type { return m.Typ }
func (m *Member) Children() []Node   { return []Node{m.X} }
func (m *Member) WithChildren(children ...Node) Node {
	checkArity(m, len(children), 1)
	return &Member{X: children[0], Name: m.Name, Typ: m.Typ}
}
func (*Member) sqlNode() {}

// Grouping is one group of a group-by: its key and the sequence of its
// elements.
type Grouping struct {
	Key      Node
	Elements Node
}

func (*Grouping) Type() reflect.Type  { return reflect.TypeOf([]any(nil)) }
func (g *Grouping) Children() []Node { return []Node{g.Key, g.Elements} }
func (g *Grouping) WithChildren(children ...Node) Node {
	checkArity(g, len(children), 2)
	return &Grouping{Key: children[0], Elements: children[1]}
}
func (*Grouping) sqlNode() {}

// OuterJoined is the right side of an outer join: Expr when Test is not
// null, otherwise the zero value.
type OuterJoined struct {
	Test Node
	Expr Node
}

func (o *OuterJoined) Type() reflect.Type { return o.Expr.Type() }
func (o *OuterJoined) Children() []Node   { return []Node{o.Test, o.Expr} }
func (o *OuterJoined) WithChildren(children ...Node) Node {
	checkArity(o, len(children), 2)
	return &OuterJoined{Test: children[0], Expr: children[1]}
}
func (*OuterJoined) sqlNode() {}

// Projection is a Select plus the projector that builds one result value
// from one of its rows. The root projection of a query may carry an
// Aggregator; nested projections with a singleton Aggregator yield one
// value instead of a sequence.
type Projection struct {
	Select     *Select
	Projector  Node
	Aggregator *Aggregator
}

func (p *Projection) Type() reflect.Type {
	if p.Aggregator != nil {
		return p.Projector.Type()
	}
	if t := p.Projector.Type(); t != nil {
		return reflect.SliceOf(t)
	}
	return reflect.TypeOf([]any(nil))
}
func (p *Projection) Children() []Node { return []Node{p.Select, p.Projector} }
func (p *Projection) WithChildren(children ...Node) Node {
	checkArity(p, len(children), 2)
	return &Projection{Select: children[0].(*Select), Projector: children[1], Aggregator: p.Aggregator}
}
func (*Projection) sqlNode() {}

// IsSingleton reports whether the projection yields one element.
func (p *Projection) IsSingleton() bool {
	return p.Aggregator.IsSingleton()
}

// ClientJoin is a child collection fetched by a second query and matched to
// outer rows on the client: every outer row whose OuterKey values equal a
// child row's InnerKey values receives that child.
type ClientJoin struct {
	Projection *Projection
	OuterKey   []Node
	InnerKey   []Node
}

func (c *ClientJoin) Type() reflect.Type { return c.Projection.Type() }
func (c *ClientJoin) Children() []Node {
	out := make([]Node, 0, 1+len(c.OuterKey)+len(c.InnerKey))
	out = append(out, c.Projection)
	out = append(out, c.OuterKey...)
	return append(out, c.InnerKey...)
}
func (c *ClientJoin) WithChildren(children ...Node) Node {
	checkArity(c, len(children), 1+len(c.OuterKey)+len(c.InnerKey))
	n := len(c.OuterKey)
	return &ClientJoin{
		Projection: children[0].(*Projection),
		OuterKey:   cloneNodes(children[1 : 1+n]),
		InnerKey:   cloneNodes(children[1+n:]),
	}
}
func (*ClientJoin) sqlNode() {}
