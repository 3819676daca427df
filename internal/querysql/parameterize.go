package querysql

import (
	"fmt"
	"strconv"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/sqlir"
)

// Parameterize names every value the store receives from outside the
// command text. Literal constants become fixed NamedValues; slot, argument
// and outer-row values keep their source. Equal values share one name.
//
// Constants stay literal where they shape the command rather than filter
// it: nil, booleans, paging counts and constant columns. Values read only
// by the client are left alone.
func Parameterize(n sqlir.Node) sqlir.Node {
	p := &parameterizer{byKey: make(map[string]*sqlir.NamedValue)}
	return p.visit(n)
}

type parameterizer struct {
	byKey  map[string]*sqlir.NamedValue
	next   int
	client bool
}

func (p *parameterizer) visit(n sqlir.Node) sqlir.Node {
	switch x := n.(type) {
	case nil:
		return nil
	case *sqlir.Constant:
		if p.client || isStructural(x) {
			return x
		}
		return p.named(sqlir.NewFixedValue("", x.Value, x.Type()))
	case *sqlir.NamedValue:
		if p.client && x.IsFixed() {
			return x
		}
		return p.named(x)
	case *sqlir.Select:
		return p.visitSelect(x)
	case *sqlir.Projection:
		client := p.client
		p.client = false
		sel := p.visitSelect(x.Select)
		p.client = true
		projector := p.visit(x.Projector)
		p.client = client
		if sel == x.Select && projector == x.Projector {
			return x
		}
		return &sqlir.Projection{Select: sel, Projector: projector, Aggregator: x.Aggregator}
	case *sqlir.Scalar, *sqlir.Exists, *sqlir.In:
		client := p.client
		p.client = false
		out := sqlir.MapChildren(n, p.visit)
		p.client = client
		return out
	}
	return sqlir.MapChildren(n, p.visit)
}

func (p *parameterizer) visitSelect(s *sqlir.Select) *sqlir.Select {
	if s == nil {
		return nil
	}
	client := p.client
	p.client = false
	defer func() { p.client = client }()

	changed := false
	cols := make([]sqlir.ColumnDecl, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = c
		if _, ok := c.Expr.(*sqlir.Constant); ok {
			continue
		}
		cols[i].Expr = p.visit(c.Expr)
		changed = changed || cols[i].Expr != c.Expr
	}
	from := p.visit(s.From)
	where := p.visit(s.Where)
	groupBy := make([]sqlir.Node, len(s.GroupBy))
	for i, g := range s.GroupBy {
		groupBy[i] = p.visit(g)
		changed = changed || groupBy[i] != g
	}
	orderBy := make([]sqlir.Ordering, len(s.OrderBy))
	for i, o := range s.OrderBy {
		orderBy[i] = sqlir.Ordering{Desc: o.Desc, Expr: p.visit(o.Expr)}
		changed = changed || orderBy[i].Expr != o.Expr
	}
	skip, take := p.paging(s.Skip), p.paging(s.Take)
	if !changed && from == s.From && where == s.Where && skip == s.Skip && take == s.Take {
		return s
	}
	if s.GroupBy == nil {
		groupBy = nil
	}
	if s.OrderBy == nil {
		orderBy = nil
	}
	return &sqlir.Select{
		Alias:    s.Alias,
		Columns:  cols,
		From:     from,
		Where:    where,
		OrderBy:  orderBy,
		GroupBy:  groupBy,
		Distinct: s.Distinct,
		Skip:     skip,
		Take:     take,
		Reverse:  s.Reverse,
	}
}

// paging names the parameters of a skip or take count and keeps its
// literals.
func (p *parameterizer) paging(n sqlir.Node) sqlir.Node {
	if n == nil {
		return nil
	}
	return sqlir.Transform(n, func(x sqlir.Node) sqlir.Node {
		if v, ok := x.(*sqlir.NamedValue); ok {
			return p.named(v)
		}
		return x
	})
}

func (p *parameterizer) named(v *sqlir.NamedValue) *sqlir.NamedValue {
	if v.Name != "" {
		return v
	}
	key, ok := valueKey(v)
	if ok {
		if prev, found := p.byKey[key]; found {
			return prev
		}
	}
	nv := *v
	nv.Name = "p" + strconv.Itoa(p.next)
	p.next++
	if ok {
		p.byKey[key] = &nv
	}
	return &nv
}

// valueKey identifies the value a parameter carries. Fixed values compare
// by type and canonical encoding; values that cannot be encoded are never
// shared.
func valueKey(v *sqlir.NamedValue) (string, bool) {
	switch {
	case v.Slot >= 0:
		return "slot:" + strconv.Itoa(v.Slot), true
	case v.Outer >= 0:
		return "outer:" + strconv.Itoa(v.Outer), true
	case v.Arg != "":
		return "arg:" + v.Arg, true
	}
	k, err := ir.Key(v.Value)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("value:%v:%s", v.Typ, k), true
}

func isStructural(c *sqlir.Constant) bool {
	switch c.Value.(type) {
	case nil, bool:
		return true
	}
	return false
}
