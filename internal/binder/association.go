package binder

import (
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/sqlir"
)

// association binds a navigation from owner through a: the related
// entity's rows whose related keys equal owner's keys. A collection is a
// nested sequence; a reference is a single-or-default projection.
func (b *binder) association(owner *sqlir.Entity, a *mapping.Association) (*sqlir.Projection, error) {
	e, err := b.m.Entity(owner.Entity)
	if err != nil {
		return nil, err
	}
	related, err := b.m.Entity(a.Related)
	if err != nil {
		return nil, err
	}
	p, err := b.bindFrom(related.Name)
	if err != nil {
		return nil, err
	}
	var pred sqlir.Node
	for i, k := range a.Keys {
		mem, ok := e.Member(k)
		if !ok {
			return nil, mapping.ErrUnknownMember.New(e.Name, k)
		}
		rmem, ok := related.Member(a.RelatedKeys[i])
		if !ok {
			return nil, mapping.ErrUnknownMember.New(related.Name, a.RelatedKeys[i])
		}
		ownerValue, err := b.member(owner, mem.Name, e.Name)
		if err != nil {
			return nil, err
		}
		relatedValue, err := b.member(p.Projector, rmem.Name, related.Name)
		if err != nil {
			return nil, err
		}
		pred = sqlir.And(pred, sqlir.Eq(relatedValue, ownerValue))
	}
	p = b.wrap(p, p.Projector, func(s *sqlir.Select) { s.Where = pred })
	if !a.Many {
		p.Aggregator = &sqlir.Aggregator{Kind: sqlir.SingleOrDefault}
	}
	return p, nil
}
