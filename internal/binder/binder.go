// Package binder lowers an operator tree into a relational projection.
//
// Every sequence operator yields a *sqlir.Projection: a Select plus the
// projector that builds one result value from one of its rows. Each operator
// wraps the projection of its source in a new Select and re-projects the
// projector onto the new alias; the optimizer later collapses the redundant
// layers. Scalar operators at the root yield a projection with an aggregator
// (first, single, scalar value); nested, they yield scalar subqueries,
// existence tests or nested projections.
//
// Binding is pure: a binder is created per call and holds only the symbol
// table and the group-by bookkeeping of that call.
package binder

import (
	"reflect"

	"gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/projector"
	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/sqlir"
)

var (
	// ErrUnsupportedOperator is returned for operator shapes that have no
	// relational translation.
	ErrUnsupportedOperator = errors.NewKind("unsupported operator: %s")
	// ErrUnknownVariable is returned when a lambda body names a parameter
	// that no enclosing lambda declares.
	ErrUnknownVariable = errors.NewKind("unknown variable %q")
	// ErrUnresolvedMember is returned when a member access cannot be
	// resolved against the value it reads.
	ErrUnresolvedMember = errors.NewKind("cannot resolve member %q of %s")
	// ErrArity is returned when a lambda or function receives the wrong
	// number of arguments.
	ErrArity = errors.NewKind("%s takes %d arguments, got %d")
	// ErrNotASequence is returned when a sequence operator is applied to a
	// value that is not a sequence.
	ErrNotASequence = errors.NewKind("%s is not a sequence")
)

// Policy controls relationship loading.
type Policy struct {
	// Include maps an entity name to the associations that are loaded with
	// every materialized instance of it.
	Include map[string][]string
}

// Includes returns the associations included for entity.
func (p Policy) Includes(entity string) []string {
	if p.Include == nil {
		return nil
	}
	return p.Include[entity]
}

// Options configure one Bind call.
type Options struct {
	// SlotTypes are the value types of plan-cache slots, by slot index.
	SlotTypes []reflect.Type
	// ArgTypes are the value types of named arguments.
	ArgTypes map[string]reflect.Type
}

// Bind lowers op into a root projection. Scalar operators at the root yield
// a projection with an aggregator.
func Bind(m *mapping.Mapping, lang *dialect.Language, op query.Op, opts Options) (*sqlir.Projection, error) {
	b := newBinder(m, lang, opts)
	if query.IsScalar(op) {
		n, err := b.bindScalarOp(op, true)
		if err != nil {
			return nil, err
		}
		return n.(*sqlir.Projection), nil
	}
	return b.bindSeq(op)
}

// BindAssociation binds the association named name of ent to a projection
// correlated with ent's key columns: a sequence for a collection, a
// single-or-default projection for a reference.
func BindAssociation(m *mapping.Mapping, lang *dialect.Language, ent *sqlir.Entity, name string) (*sqlir.Projection, error) {
	b := newBinder(m, lang, Options{})
	e, err := m.Entity(ent.Entity)
	if err != nil {
		return nil, err
	}
	a, ok := e.Association(name)
	if !ok {
		return nil, mapping.ErrUnknownMember.New(e.Name, name)
	}
	return b.association(ent, a)
}

type groupInfo struct {
	alias   sqlir.Alias
	element sqlir.Node
}

type binder struct {
	m    *mapping.Mapping
	lang *dialect.Language
	opts Options

	scope *scope
	// groups ties group element projections back to their group-by select
	// so that aggregates over them can be hoisted into it.
	groups map[*sqlir.Projection]groupInfo
	// currentGroup is the element projection of the group-by whose result
	// selector is being bound.
	currentGroup *sqlir.Projection
}

func newBinder(m *mapping.Mapping, lang *dialect.Language, opts Options) *binder {
	return &binder{m: m, lang: lang, opts: opts, groups: make(map[*sqlir.Projection]groupInfo)}
}

type scope struct {
	outer *scope
	names map[string]sqlir.Node
}

func (s *scope) lookup(name string) (sqlir.Node, bool) {
	for ; s != nil; s = s.outer {
		if n, ok := s.names[name]; ok {
			return n, true
		}
	}
	return nil, false
}

// bindLambda binds l's body with its parameters bound to args.
func (b *binder) bindLambda(l query.Lambda, what string, args ...sqlir.Node) (sqlir.Node, error) {
	if len(l.Params) != len(args) {
		return nil, ErrArity.New("lambda for "+what, len(args), len(l.Params))
	}
	s := &scope{outer: b.scope, names: make(map[string]sqlir.Node, len(args))}
	for i, p := range l.Params {
		s.names[p] = args[i]
	}
	saved := b.scope
	b.scope = s
	defer func() { b.scope = saved }()
	return b.bindExpr(l.Body)
}

// wrap places a new select over p's select and projects expr onto it.
func (b *binder) wrap(p *sqlir.Projection, expr sqlir.Node, build func(*sqlir.Select)) *sqlir.Projection {
	alias := sqlir.NewAlias()
	pc := projector.Project(b.lang, expr, nil, alias, p.Select.Alias)
	s := &sqlir.Select{Alias: alias, Columns: pc.Columns, From: p.Select}
	if build != nil {
		build(s)
	}
	return &sqlir.Projection{Select: s, Projector: pc.Projector}
}
