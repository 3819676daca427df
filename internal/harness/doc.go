// Package harness checks the query compiler against a reference evaluator.
//
// A scenario names an entity mapping, seed rows and a list of queries
// written as YAML query documents. Run creates a fresh in-memory store,
// creates the schema, seeds it and then evaluates every query twice: once
// through the engine against SQLite and once in memory by the Oracle, which
// interprets the operator tree directly over the seeded rows with the same
// value semantics the store uses (null propagation, three-valued logic).
// The two results must agree.
//
// # Comparison
//
// Results are compared after normalization (ir.Normalize), with whole
// floats folded to integers because SQLite may return 15.0 where the
// evaluator computes 15. Unless a query is marked ordered, sequences are
// compared as multisets.
//
// A query may also carry an explicit expectation, checked against the
// engine result, and an expected error, which both sides must report.
//
// # Golden files
//
// RunWithGolden additionally records the command text of every query for
// each dialect in testdata/golden/{scenario.Name}.golden.sql, and runs the
// MySQL and PostgreSQL texts through sqlcheck.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
package harness
