// Package query is the caller-facing query builder.
//
// A query is an operator tree (Op) whose lambdas are explicit Lambda values
// over an expression tree (Expr). Nothing is captured from host-language
// closures: the tree the caller builds is exactly the tree the binder reads.
//
//	q := query.FromEntity("Order").
//		Where(query.Fn("o", query.Gt(query.M("o.total"), 100))).
//		OrderBy(query.Fn("o", query.M("o.placed_at"))).
//		Take(10)
//
// SHAPES:
//
// Parameterize replaces every literal with a Param slot and returns the
// literal values separately. Two trees that differ only in literal values
// have equal shapes, which is what the plan cache keys on.
//
// CLIENT VALUES:
//
// ApplyBinary, ApplyUnary and CallFunc evaluate operators with the store's
// null and comparison semantics. The engine uses them for the parts of a
// projector that stay on the client; the reference evaluator in the harness
// uses them for everything.
package query
