// Package ir provides the canonical value representation shared by the
// query compiler and the execution engine.
//
// Values flowing through relq (query literals, parameter values, join keys,
// materialized rows in golden snapshots) come from arbitrary Go types. This
// package normalizes them into a small sealed set of kinds so that two values
// which bind identically to the store also compare identically here.
//
// Key design constraints:
//   - Integer widths collapse to Int, float widths to Float
//   - Int and Float never compare equal, even for whole numbers
//   - Strings are NFC normalized at the serialization boundary
//   - ir imports nothing internal
package ir
