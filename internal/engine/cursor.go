package engine

import (
	"iter"
)

// Cursor iterates the values of one query execution. It is owned by one
// goroutine and can be iterated once: iterating it again, or after Close,
// fails with ErrCursorConsumed. The underlying rows are released when the
// values run out, on the first error, on Close and when a range over All
// stops early.
//
//	cur, err := p.Query(ctx, q)
//	if err != nil { ... }
//	defer cur.Close()
//	for cur.Next() {
//		v := cur.Value()
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor struct {
	next func() (any, bool, error)
	// release frees the rows; it receives the error that stopped iteration.
	release func(error) error

	value   any
	err     error
	started bool
	closed  bool
}

func newCursor(next func() (any, bool, error), release func(error) error) *Cursor {
	return &Cursor{next: next, release: release}
}

// Next advances to the next value. Calling it again after it returned
// false fails with ErrCursorConsumed.
func (c *Cursor) Next() bool {
	if c.err != nil {
		return false
	}
	if c.closed {
		c.err = ErrCursorConsumed.New()
		return false
	}
	c.started = true
	v, ok, err := c.next()
	if err != nil {
		c.err = err
		c.finish()
		return false
	}
	if !ok {
		c.finish()
		return false
	}
	c.value = v
	return true
}

// Value returns the current value.
func (c *Cursor) Value() any { return c.value }

// Err returns the error that stopped iteration.
func (c *Cursor) Err() error { return c.err }

// Close releases the rows. It is safe to call more than once.
func (c *Cursor) Close() error {
	return c.finish()
}

func (c *Cursor) finish() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.value = nil
	if c.release == nil {
		return nil
	}
	err := c.release(c.err)
	if err != nil && c.err == nil {
		c.err = err
	}
	return err
}

// All returns an iterator over the values. The cursor is closed when the
// iteration ends. A cursor that was already iterated yields a single
// ErrCursorConsumed.
func (c *Cursor) All() iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		if c.started || c.closed {
			yield(nil, ErrCursorConsumed.New())
			return
		}
		defer c.finish()
		for c.Next() {
			if !yield(c.value, nil) {
				return
			}
		}
		if c.err != nil {
			yield(nil, c.err)
		}
	}
}
