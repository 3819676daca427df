package engine

import (
	stderrors "errors"

	"gopkg.in/src-d/go-errors.v1"
)

var (
	// ErrCursorConsumed is returned when a cursor is iterated a second time
	// or after it was closed.
	ErrCursorConsumed = errors.NewKind("query results can only be enumerated once")

	// ErrNoElements is returned by first and single queries over no rows.
	ErrNoElements = errors.NewKind("sequence contains no elements")

	// ErrMoreThanOneElement is returned by single queries over more than
	// one row.
	ErrMoreThanOneElement = errors.NewKind("sequence contains more than one element")

	// ErrNotASequence is returned when a sequence method is called with a
	// query that yields one value, or the reverse.
	ErrNotASequence = errors.NewKind("%s query yields %s, not %s")

	// ErrMissingColumn is returned when a materializer reads a column the
	// command does not return.
	ErrMissingColumn = errors.NewKind("command returns no column %q")

	// ErrNotMaterializable is returned for projector nodes that cannot be
	// evaluated on the client.
	ErrNotMaterializable = errors.NewKind("cannot materialize %T")

	// ErrMissingArgument is returned when a plan reads a named argument the
	// call does not supply.
	ErrMissingArgument = errors.NewKind("missing argument %q")

	// ErrConversion is returned when a store value cannot be converted to
	// the type the projector expects.
	ErrConversion = errors.NewKind("cannot convert %v (%T) to %s")
)

// IsCursorMisuse reports whether err comes from iterating a consumed
// cursor. Wrapped errors are matched.
func IsCursorMisuse(err error) bool {
	return is(err, ErrCursorConsumed)
}

// IsSingletonViolation reports whether err comes from a first or single
// query whose row count broke its policy.
func IsSingletonViolation(err error) bool {
	return is(err, ErrNoElements, ErrMoreThanOneElement)
}

// is walks the wrap chain of err, since Kind.Is only looks at err itself.
func is(err error, kinds ...*errors.Kind) bool {
	for ; err != nil; err = stderrors.Unwrap(err) {
		for _, k := range kinds {
			if k.Is(err) {
				return true
			}
		}
	}
	return false
}
