// Package sqlcheck parses formatted command text with the real parser of
// its dialect: the TiDB parser for MySQL and libpg_query for PostgreSQL.
// It reports syntax errors and the tables a command reads or writes.
package sqlcheck

import (
	"encoding/json"
	"sort"

	pg_query "github.com/pganalyze/pg_query_go/v5"
	"github.com/pingcap/tidb/parser"
	"github.com/pingcap/tidb/parser/ast"
	_ "github.com/pingcap/tidb/parser/test_driver"
	"gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/relq/internal/dialect"
)

var (
	// ErrSyntax is returned when the dialect's parser rejects a command.
	ErrSyntax = errors.NewKind("%s syntax error: %s")

	// ErrUnsupported is returned for dialects without a parser.
	ErrUnsupported = errors.NewKind("no parser for dialect %s")
)

// Report describes a parsed command.
type Report struct {
	Dialect    string
	Statements int
	// Tables lists the distinct table names referenced, sorted.
	Tables []string
}

// Supported reports whether Check can parse text of lang.
func Supported(lang *dialect.Language) bool {
	return lang == dialect.MySQL || lang == dialect.Postgres
}

// Check parses text as lang.
func Check(lang *dialect.Language, text string) (*Report, error) {
	switch lang {
	case dialect.MySQL:
		return checkMySQL(text)
	case dialect.Postgres:
		return checkPostgres(text)
	}
	return nil, ErrUnsupported.New(lang.Name)
}

func checkMySQL(text string) (*Report, error) {
	p := parser.New()
	stmts, _, err := p.Parse(text, "", "")
	if err != nil {
		return nil, ErrSyntax.New(dialect.MySQL.Name, err)
	}
	tables := &tableCollector{names: map[string]bool{}}
	for _, stmt := range stmts {
		stmt.Accept(tables)
	}
	return &Report{Dialect: dialect.MySQL.Name, Statements: len(stmts), Tables: tables.sorted()}, nil
}

// tableCollector gathers table names from a TiDB AST.
type tableCollector struct {
	names map[string]bool
}

func (c *tableCollector) Enter(n ast.Node) (ast.Node, bool) {
	if t, ok := n.(*ast.TableName); ok {
		c.names[t.Name.O] = true
	}
	return n, false
}

func (c *tableCollector) Leave(n ast.Node) (ast.Node, bool) { return n, true }

func (c *tableCollector) sorted() []string { return sortedNames(c.names) }

func checkPostgres(text string) (*Report, error) {
	tree, err := pg_query.Parse(text)
	if err != nil {
		return nil, ErrSyntax.New(dialect.Postgres.Name, err)
	}
	// The JSON form of the parse tree is walked rather than the protobuf
	// one: RangeVar nodes can appear under any statement kind.
	data, err := pg_query.ParseToJSON(text)
	if err != nil {
		return nil, ErrSyntax.New(dialect.Postgres.Name, err)
	}
	var doc any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, err
	}
	names := map[string]bool{}
	collectRangeVars(doc, names)
	return &Report{Dialect: dialect.Postgres.Name, Statements: len(tree.Stmts), Tables: sortedNames(names)}, nil
}

func collectRangeVars(v any, names map[string]bool) {
	switch x := v.(type) {
	case map[string]any:
		if rv, ok := x["RangeVar"].(map[string]any); ok {
			if name, ok := rv["relname"].(string); ok {
				names[name] = true
			}
		}
		for _, child := range x {
			collectRangeVars(child, names)
		}
	case []any:
		for _, child := range x {
			collectRangeVars(child, names)
		}
	}
}

func sortedNames(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
