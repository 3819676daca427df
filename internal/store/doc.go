// Package store provides the SQLite database queries run against.
//
// A Store owns one *sql.DB configured the way the engine expects and
// derives its tables from a mapping:
//   - CreateSchema: one table per entity, columns from member store types
//   - Seed: rows keyed by member name, inserted idempotently
//   - ReadTable: every row of an entity in primary-key order
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - One open connection: last_insert_rowid() and changes() read the
//     connection that ran the previous write
//
// Store errors are returned unchanged so callers can inspect driver codes.
package store
