package engine

import (
	"context"
	"database/sql"
)

// Connection runs command text against a store. Parameters are bound
// positionally in the order the formatter lists them.
type Connection interface {
	Query(ctx context.Context, text string, args ...any) (Rows, error)
	Exec(ctx context.Context, text string, args ...any) (Result, error)
}

// Rows is a forward-only row cursor.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	// Values returns the current row. The slice may be reused by the next
	// call to Next.
	Values() ([]any, error)
	Err() error
	Close() error
}

// Result reports the effect of a write command.
type Result interface {
	RowsAffected() (int64, error)
	LastInsertId() (int64, error)
}

// resultSets is implemented by rows that carry the result sets of a
// multi-command batch.
type resultSets interface {
	NextResultSet() bool
}

// DB adapts a database/sql handle to Connection.
type DB struct {
	db *sql.DB
}

// NewDB returns a Connection over db.
func NewDB(db *sql.DB) *DB {
	return &DB{db: db}
}

func (d *DB) Query(ctx context.Context, text string, args ...any) (Rows, error) {
	rows, err := d.db.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{Rows: rows}, nil
}

func (d *DB) Exec(ctx context.Context, text string, args ...any) (Result, error) {
	return d.db.ExecContext(ctx, text, args...)
}

type sqlRows struct {
	*sql.Rows
	values []any
	ptrs   []any
}

func (r *sqlRows) Values() ([]any, error) {
	if r.values == nil {
		cols, err := r.Rows.Columns()
		if err != nil {
			return nil, err
		}
		r.values = make([]any, len(cols))
		r.ptrs = make([]any, len(cols))
		for i := range r.values {
			r.ptrs[i] = &r.values[i]
		}
	}
	if err := r.Rows.Scan(r.ptrs...); err != nil {
		return nil, err
	}
	for i, v := range r.values {
		// Drivers may reuse byte buffers between rows.
		if b, ok := v.([]byte); ok {
			r.values[i] = append([]byte(nil), b...)
		}
	}
	return r.values, nil
}

func (r *sqlRows) NextResultSet() bool {
	r.values, r.ptrs = nil, nil
	return r.Rows.NextResultSet()
}
