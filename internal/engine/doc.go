// Package engine executes compiled queries against a store connection.
//
// A Provider owns one mapping, one dialect and one plan cache. Every call
// computes the shape of its operator tree; on a cache miss the tree is
// bound, optimized, parameterized and formatted once, and the resulting
// Plan (command text, parameter slots and materializer) is stored. On a hit
// only the literal values of the call are bound to the stored slots.
//
// EXECUTION:
//
// A sequence query opens one forward-only row cursor. The materializer
// builds one value per row from the projector:
//   - columns are read by ordinal and converted to the projector's types
//   - nested projections run once per outer row, with the outer columns
//     they read bound as parameters
//   - client joins run once per execution and are matched to outer rows
//     by key
//
// Plans whose projector runs nested queries read the outer rows fully
// before materializing, so the store connection is free for the nested
// commands.
//
// A Cursor can be iterated once. Singleton queries (first, single, scalar
// aggregates) read at most the rows their policy needs.
//
// Store errors are returned unchanged.
package engine
