package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/mapping"
)

// Seed inserts rows into the table of entity. Each row maps member names
// to values; missing members are stored as NULL. Rows whose key already
// exists are ignored, so seeding twice is harmless.
func (s *Store) Seed(ctx context.Context, e *mapping.Entity, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	q := dialect.SQLite.Quote
	cols := make([]string, len(e.Members))
	marks := make([]string, len(e.Members))
	for i, m := range e.Members {
		cols[i] = q(m.Column)
		marks[i] = "?"
	}
	text := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		q(e.Table), strings.Join(cols, ", "), strings.Join(marks, ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, text)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range rows {
		for name := range row {
			if _, ok := e.Member(name); !ok {
				return fmt.Errorf("seed %s row %d: %w", e.Name, i, mapping.ErrUnknownMember.New(e.Name, name))
			}
		}
		args := make([]any, len(e.Members))
		for j, m := range e.Members {
			v, err := bindValue(m, row[m.Name])
			if err != nil {
				return fmt.Errorf("seed %s row %d: %w", e.Name, i, err)
			}
			args[j] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReadTable returns every row of entity keyed by member name.
// Results are ordered by primary key, then by rowid, so repeated reads
// agree.
//
// Returns an empty slice (not nil) for an empty table.
func (s *Store) ReadTable(ctx context.Context, e *mapping.Entity) ([]map[string]any, error) {
	q := dialect.SQLite.Quote
	cols := make([]string, len(e.Members))
	for i, m := range e.Members {
		cols[i] = q(m.Column)
	}
	var order []string
	for _, m := range e.PrimaryKey() {
		order = append(order, q(m.Column)+" ASC")
	}
	order = append(order, "rowid ASC")

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(cols, ", "), q(e.Table), strings.Join(order, ", ")))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []map[string]any{}
	vals := make([]any, len(e.Members))
	ptrs := make([]any, len(e.Members))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(e.Members))
		for i, m := range e.Members {
			v, err := scanValue(m, vals[i])
			if err != nil {
				return nil, fmt.Errorf("read %s.%s: %w", e.Name, m.Name, err)
			}
			rec[m.Name] = v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
