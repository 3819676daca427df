package sqlir

import (
	"reflect"
	"strconv"
)

// Table is a stored table read under Alias.
type Table struct {
	Alias  Alias
	Entity string
	Name   string
}

func (*Table) Type() reflect.Type { return RowType }
func (*Table) Children() []Node   { return nil }
func (t *Table) WithChildren(children ...Node) Node {
	checkArity(t, len(children), 0)
	return t
}
func (*Table) sqlNode() {}

// Select is one SELECT block.
//
// Semantics:
//
//	SELECT [DISTINCT] <Columns> FROM <From> WHERE <Where>
//	GROUP BY <GroupBy> ORDER BY <OrderBy> OFFSET <Skip> LIMIT <Take>
//
// From may be nil for a select of constants or subqueries. Reverse asks for
// the ordering to be inverted; the order-by rewrite resolves it.
//
// Invariants:
//   - column names are unique within one Select
//   - with a non-empty GroupBy, every column outside an aggregate is a
//     group-by expression
type Select struct {
	Alias    Alias
	Columns  []ColumnDecl
	From     Node
	Where    Node
	OrderBy  []Ordering
	GroupBy  []Node
	Distinct bool
	Skip     Node
	Take     Node
	Reverse  bool
}

func (*Select) Type() reflect.Type { return RowType }

func (s *Select) Children() []Node {
	out := make([]Node, 0, 4+len(s.Columns)+len(s.OrderBy)+len(s.GroupBy))
	out = append(out, s.From, s.Where, s.Skip, s.Take)
	for _, c := range s.Columns {
		out = append(out, c.Expr)
	}
	for _, o := range s.OrderBy {
		out = append(out, o.Expr)
	}
	return append(out, s.GroupBy...)
}

func (s *Select) WithChildren(children ...Node) Node {
	checkArity(s, len(children), 4+len(s.Columns)+len(s.OrderBy)+len(s.GroupBy))
	ns := s.clone()
	ns.From, ns.Where, ns.Skip, ns.Take = children[0], children[1], children[2], children[3]
	i := 4
	for j := range ns.Columns {
		ns.Columns[j].Expr = children[i]
		i++
	}
	for j := range ns.OrderBy {
		ns.OrderBy[j].Expr = children[i]
		i++
	}
	for j := range ns.GroupBy {
		ns.GroupBy[j] = children[i]
		i++
	}
	return ns
}

func (*Select) sqlNode() {}

func (s *Select) clone() *Select {
	ns := *s
	ns.Columns = cloneDecls(s.Columns)
	ns.OrderBy = cloneOrderings(s.OrderBy)
	ns.GroupBy = cloneNodes(s.GroupBy)
	return &ns
}

// WithColumns returns a copy with the column list replaced.
func (s *Select) WithColumns(cols []ColumnDecl) *Select {
	ns := s.clone()
	ns.Columns = cols
	return ns
}

// WithFrom returns a copy with the FROM source replaced.
func (s *Select) WithFrom(from Node) *Select {
	ns := s.clone()
	ns.From = from
	return ns
}

// WithWhere returns a copy with the WHERE predicate replaced.
func (s *Select) WithWhere(where Node) *Select {
	ns := s.clone()
	ns.Where = where
	return ns
}

// WithOrderBy returns a copy with the orderings replaced.
func (s *Select) WithOrderBy(ords []Ordering) *Select {
	ns := s.clone()
	ns.OrderBy = ords
	return ns
}

// WithPaging returns a copy with Skip and Take replaced.
func (s *Select) WithPaging(skip, take Node) *Select {
	ns := s.clone()
	ns.Skip, ns.Take = skip, take
	return ns
}

// AddColumn returns a copy with decl appended.
func (s *Select) AddColumn(decl ColumnDecl) *Select {
	ns := s.clone()
	ns.Columns = append(ns.Columns, decl)
	return ns
}

// RemoveColumn returns a copy without the named column.
func (s *Select) RemoveColumn(name string) *Select {
	ns := s.clone()
	cols := ns.Columns[:0]
	for _, c := range ns.Columns {
		if c.Name != name {
			cols = append(cols, c)
		}
	}
	ns.Columns = cols
	return ns
}

// Column returns the declared column with the given name.
func (s *Select) Column(name string) (ColumnDecl, int, bool) {
	for i, c := range s.Columns {
		if c.Name == name {
			return c, i, true
		}
	}
	return ColumnDecl{}, -1, false
}

// HasOrderBy reports whether the select has orderings.
func (s *Select) HasOrderBy() bool { return len(s.OrderBy) > 0 }

// HasGroupBy reports whether the select groups.
func (s *Select) HasGroupBy() bool { return len(s.GroupBy) > 0 }

// AddRedundantSelect pushes s down one level: the result keeps s's alias
// and exposes the same column names, reading them from a copy of s now
// aliased newAlias.
func (s *Select) AddRedundantSelect(newAlias Alias) *Select {
	inner := s.clone()
	inner.Alias = newAlias
	cols := make([]ColumnDecl, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = ColumnDecl{
			Name:      c.Name,
			Expr:      &Column{Alias: newAlias, Name: c.Name, Typ: c.Expr.Type(), StoreType: c.StoreType},
			StoreType: c.StoreType,
		}
	}
	return &Select{Alias: s.Alias, Columns: cols, From: inner}
}

// UniqueColumnName returns base, or base followed by the smallest positive
// number that is not already a column name.
func UniqueColumnName(cols []ColumnDecl, base string) string {
	taken := make(map[string]bool, len(cols))
	for _, c := range cols {
		taken[c.Name] = true
	}
	if !taken[base] {
		return base
	}
	for i := 1; ; i++ {
		name := base + strconv.Itoa(i)
		if !taken[name] {
			return name
		}
	}
}

// Join combines two row sources.
type Join struct {
	Kind  JoinKind
	Left  Node
	Right Node
	On    Node
}

func (*Join) Type() reflect.Type { return RowType }
func (j *Join) Children() []Node { return []Node{j.Left, j.Right, j.On} }
func (j *Join) WithChildren(children ...Node) Node {
	checkArity(j, len(children), 3)
	return &Join{Kind: j.Kind, Left: children[0], Right: children[1], On: children[2]}
}
func (*Join) sqlNode() {}

// SourceAlias returns the alias of a Table or Select, and false for joins.
func SourceAlias(n Node) (Alias, bool) {
	switch s := n.(type) {
	case *Table:
		return s.Alias, true
	case *Select:
		return s.Alias, true
	default:
		return Alias{}, false
	}
}
