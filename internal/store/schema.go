package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/mapping"
)

// schemaVersion is recorded in user_version once a mapping's tables exist.
const schemaVersion = 1

// DDL returns the CREATE TABLE statements for every entity of m, in
// registration order. A single generated integer key becomes the rowid.
func DDL(m *mapping.Mapping) string {
	var b strings.Builder
	for i, e := range m.Entities() {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(createTable(e))
		b.WriteString(";\n")
	}
	return b.String()
}

func createTable(e *mapping.Entity) string {
	q := dialect.SQLite.Quote
	pk := e.PrimaryKey()
	rowid := len(pk) == 1 && pk[0].Generated && pk[0].StoreType == "INTEGER"

	var cols []string
	for _, m := range e.Members {
		col := q(m.Column) + " " + m.StoreType
		switch {
		case rowid && m.PrimaryKey:
			col += " PRIMARY KEY AUTOINCREMENT"
		case !m.Nullable:
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	if len(pk) > 0 && !rowid {
		names := make([]string, len(pk))
		for i, m := range pk {
			names[i] = q(m.Column)
		}
		cols = append(cols, "PRIMARY KEY ("+strings.Join(names, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", q(e.Table), strings.Join(cols, ",\n  "))
}

// CreateSchema creates the tables of m that do not exist yet.
// This function is idempotent.
func (s *Store) CreateSchema(ctx context.Context, m *mapping.Mapping) error {
	for _, e := range m.Entities() {
		if _, err := s.db.ExecContext(ctx, createTable(e)); err != nil {
			return fmt.Errorf("create table %s: %w", e.Table, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// SchemaVersion returns the recorded schema version, 0 for a database
// whose schema was never created.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}
