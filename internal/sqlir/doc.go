// Package sqlir provides the relational abstract syntax tree that the relq
// compiler binds, rewrites and formats.
//
// ARCHITECTURE:
//
// sqlir sits between the query-builder operator tree and the SQL text:
//
//	[query.Op] → binder → [sqlir.Projection] → optimizer → querysql → SQL
//
// A translated query is always a *Projection: a *Select describing the rows
// to fetch plus a projector expression describing how one result value is
// rebuilt from one row. The optional Aggregator on the root projection says
// how the row sequence collapses to a single value (first, single, scalar).
//
// SEALED INTERFACE:
//
// Node is sealed with a marker method. Every node kind is a pointer type
// declared in this package, which keeps type switches in the binder,
// optimizer, formatter and materializer exhaustive.
//
// IMMUTABILITY:
//
// Nodes are never mutated after construction. A rewrite either returns its
// input unchanged (pointer-equal) or builds a replacement. Transform and
// MapChildren implement the "rebuild only if a child changed" rule once for
// every node kind.
//
// ALIASES:
//
// An Alias identifies one row source (a Table or a Select). Aliases carry no
// display name; equality is identity. The formatter assigns t0, t1, ... in
// order of appearance when it renders SQL, and Dump does the same for plan
// text.
//
// CHILD POSITIONS:
//
// Children returns direct children at fixed positions. Absent optional
// children (a Select without WHERE, a Join without ON) appear as nil so that
// WithChildren can rebuild the node from the same slice.
package sqlir
