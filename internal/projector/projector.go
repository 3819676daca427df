// Package projector splits a projector expression into the part the store
// computes and the part the client computes.
//
// Project runs in two phases. Nomination walks the expression bottom-up and
// marks the largest subexpressions the store can evaluate: anything that
// must be a column (column references, aggregates, subqueries) and anything
// that can be one when none of its operands is blocked. A client-only node
// such as a constructor blocks its own nomination but not that of its
// operands. Projection then walks top-down and replaces each nominated
// subexpression with a column of the new select, reusing an existing
// column when one matches structurally.
package projector

import (
	"reflect"
	"strconv"

	"github.com/roach88/relq/internal/sqlir"
)

// Nominator decides which nodes the store can evaluate.
type Nominator interface {
	MustBeColumn(sqlir.Node) bool
	CanBeColumn(sqlir.Node) bool
}

// Result is a projector rewritten over the columns of a new select.
type Result struct {
	// Projector reads only columns of the new alias, outer references and
	// client-side expressions over them.
	Projector sqlir.Node
	// Columns is the full column list of the new select: the existing
	// columns followed by the ones Project declared.
	Columns []sqlir.ColumnDecl
}

// Project rewrites expr so that every store-computable subexpression is
// read from a column of the select aliased newAlias. existing lists columns
// that select already declares. visible are the aliases of the row sources
// the new select reads from; columns of other aliases are outer references
// and are left alone.
func Project(n Nominator, expr sqlir.Node, existing []sqlir.ColumnDecl, newAlias sqlir.Alias, visible ...sqlir.Alias) Result {
	vis := make(map[sqlir.Alias]bool, len(visible))
	for _, a := range visible {
		vis[a] = true
	}
	nom := &nominator{lang: n, visible: vis, candidates: make(map[sqlir.Node]bool)}
	nom.nominate(expr)

	p := &projection{
		candidates: nom.candidates,
		visible:    vis,
		alias:      newAlias,
		columns:    append([]sqlir.ColumnDecl(nil), existing...),
	}
	return Result{Projector: p.project(expr), Columns: p.columns}
}

type nominator struct {
	lang       Nominator
	visible    map[sqlir.Alias]bool
	candidates map[sqlir.Node]bool
	blocked    bool
}

// nominate visits n and reports through nm.blocked whether n or any of its
// descendants must stay on the client.
func (nm *nominator) nominate(n sqlir.Node) {
	if n == nil {
		return
	}
	saved := nm.blocked
	nm.blocked = false

	switch x := n.(type) {
	case *sqlir.Projection:
		nm.nominateOuterRefs(x)
		nm.blocked = true
	case *sqlir.ClientJoin:
		for _, k := range x.OuterKey {
			nm.nominate(k)
		}
		nm.nominateOuterRefs(x.Projection)
		for _, k := range x.InnerKey {
			nm.nominateOuterRefs(k)
		}
		nm.blocked = true
	default:
		if nm.lang.MustBeColumn(n) {
			nm.candidates[n] = true
			break
		}
		for _, c := range n.Children() {
			nm.nominate(c)
		}
		if nm.blocked {
			break
		}
		if !nm.lang.CanBeColumn(n) {
			nm.blocked = true
			break
		}
		// A bare literal is cheaper inline than as a column; it still
		// lets its parent become one.
		if !isLiteral(n) {
			nm.candidates[n] = true
		}
	}
	nm.blocked = nm.blocked || saved
}

// nominateOuterRefs marks the values inside a nested query that read the
// sources of the select being built, so that the nested query can be
// correlated through the new select's columns. The largest non-boolean
// store expression over visible aliases is taken whole: a correlation on
// lower(t.name) must project lower(t.name), not t.name, when the new
// select groups by it.
func (nm *nominator) nominateOuterRefs(n sqlir.Node) {
	sqlir.Inspect(n, func(x sqlir.Node) bool {
		if nm.outerValue(x) {
			nm.candidates[x] = true
			return false
		}
		return true
	})
}

func (nm *nominator) outerValue(x sqlir.Node) bool {
	if c, ok := x.(*sqlir.Column); ok {
		return nm.visible[c.Alias]
	}
	if t := x.Type(); t == nil || t.Kind() == reflect.Bool {
		return false
	}
	switch x.(type) {
	case *sqlir.Func, *sqlir.Binary, *sqlir.Unary, *sqlir.Conditional:
	default:
		return false
	}
	reads, ok := false, true
	sqlir.Inspect(x, func(y sqlir.Node) bool {
		switch c := y.(type) {
		case *sqlir.Column:
			reads = true
			ok = ok && nm.visible[c.Alias]
		default:
			ok = ok && nm.lang.CanBeColumn(y) && !nm.lang.MustBeColumn(y)
		}
		return ok
	})
	return ok && reads
}

func isLiteral(n sqlir.Node) bool {
	switch n.(type) {
	case *sqlir.Constant, *sqlir.NamedValue:
		return true
	}
	return false
}

type projection struct {
	candidates map[sqlir.Node]bool
	visible    map[sqlir.Alias]bool
	alias      sqlir.Alias
	columns    []sqlir.ColumnDecl
	next       int
}

func (p *projection) project(n sqlir.Node) sqlir.Node {
	if n == nil {
		return nil
	}
	if p.candidates[n] {
		return p.column(n)
	}
	return sqlir.MapChildren(n, p.project)
}

func (p *projection) column(n sqlir.Node) sqlir.Node {
	col, isColumn := n.(*sqlir.Column)
	if isColumn && !p.visible[col.Alias] {
		return col
	}
	for _, decl := range p.columns {
		if sqlir.Equal(decl.Expr, n) {
			return p.ref(decl)
		}
	}
	decl := sqlir.ColumnDecl{Expr: n}
	if isColumn {
		decl.Name = sqlir.UniqueColumnName(p.columns, col.Name)
		decl.StoreType = col.StoreType
	} else {
		decl.Name = p.nextName()
	}
	p.columns = append(p.columns, decl)
	return p.ref(decl)
}

func (p *projection) ref(decl sqlir.ColumnDecl) *sqlir.Column {
	return &sqlir.Column{Alias: p.alias, Name: decl.Name, Typ: decl.Expr.Type(), StoreType: decl.StoreType}
}

// nextName returns the next free name of the form c0, c1, ...
func (p *projection) nextName() string {
	for {
		name := "c" + strconv.Itoa(p.next)
		p.next++
		if !p.taken(name) {
			return name
		}
	}
}

func (p *projection) taken(name string) bool {
	for _, c := range p.columns {
		if c.Name == name {
			return true
		}
	}
	return false
}
