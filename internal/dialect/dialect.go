// Package dialect defines the store-language strategies the formatter and
// optimizer consult: identifier quoting, placeholders, paging support,
// apply/lateral support, multi-command batches and the expressions used for
// rows-affected counts, generated keys and outer-join liveness tests.
//
// A Language is selected once per provider and is read-only afterwards.
package dialect

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/relq/internal/sqlir"
)

// PlaceholderStyle says how parameters appear in command text.
type PlaceholderStyle int

const (
	// Positional writes ? for every occurrence; arguments are bound in
	// occurrence order.
	Positional PlaceholderStyle = iota + 1
	// Numbered writes $n where n is the 1-based index of the distinct
	// parameter.
	Numbered
	// Named writes @name.
	Named
)

// ConcatStyle says how string concatenation is spelled.
type ConcatStyle int

const (
	ConcatPipes ConcatStyle = iota + 1 // a || b
	ConcatFunc                         // CONCAT(a, b)
	ConcatPlus                         // a + b
)

// Language is one SQL dialect.
type Language struct {
	Name string

	QuoteOpen, QuoteClose string
	Placeholders          PlaceholderStyle
	Concat                ConcatStyle

	// NativeSkip is false when OFFSET cannot be expressed and skip must be
	// lowered to a row-number filter.
	NativeSkip bool
	// TopForTake renders take as SELECT TOP (n) instead of LIMIT n.
	TopForTake bool
	// SkipNeedsLimit is the LIMIT value written when skip is present
	// without take; empty when OFFSET may stand alone.
	SkipNeedsLimit string

	// Apply is the keyword form used for correlated joins: "APPLY" for
	// CROSS/OUTER APPLY, "LATERAL" for JOIN LATERAL, empty when the dialect
	// has neither.
	Apply string

	AllowDistinctInAggregates        bool
	AllowSubqueryInSelectWithoutFrom bool
	AllowsMultipleCommands           bool
	// BooleanValues is false when a predicate cannot be used as a value
	// and must be wrapped in CASE WHEN ... THEN 1 ELSE 0 END.
	BooleanValues bool
	// TrueLiteral and FalseLiteral spell boolean constants.
	TrueLiteral, FalseLiteral string

	funcs map[string]string
}

var (
	SQLite = &Language{
		Name:                             "sqlite",
		QuoteOpen:                        `"`,
		QuoteClose:                       `"`,
		Placeholders:                     Positional,
		Concat:                           ConcatPipes,
		NativeSkip:                       true,
		SkipNeedsLimit:                   "-1",
		AllowDistinctInAggregates:        true,
		AllowSubqueryInSelectWithoutFrom: true,
		BooleanValues:                    true,
		TrueLiteral:                      "1",
		FalseLiteral:                     "0",
		funcs: map[string]string{
			"length":         "LENGTH",
			"last_insert_id": "last_insert_rowid",
			"rows_affected":  "changes",
		},
	}

	MySQL = &Language{
		Name:                             "mysql",
		QuoteOpen:                        "`",
		QuoteClose:                       "`",
		Placeholders:                     Positional,
		Concat:                           ConcatFunc,
		NativeSkip:                       true,
		SkipNeedsLimit:                   "18446744073709551615",
		Apply:                            "LATERAL",
		AllowDistinctInAggregates:        true,
		AllowSubqueryInSelectWithoutFrom: true,
		BooleanValues:                    true,
		TrueLiteral:                      "TRUE",
		FalseLiteral:                     "FALSE",
		funcs: map[string]string{
			"length":         "CHAR_LENGTH",
			"last_insert_id": "LAST_INSERT_ID",
			"rows_affected":  "ROW_COUNT",
		},
	}

	Postgres = &Language{
		Name:                             "postgres",
		QuoteOpen:                        `"`,
		QuoteClose:                       `"`,
		Placeholders:                     Numbered,
		Concat:                           ConcatPipes,
		NativeSkip:                       true,
		Apply:                            "LATERAL",
		AllowDistinctInAggregates:        true,
		AllowSubqueryInSelectWithoutFrom: true,
		BooleanValues:                    true,
		TrueLiteral:                      "TRUE",
		FalseLiteral:                     "FALSE",
		funcs: map[string]string{
			"length":         "LENGTH",
			"last_insert_id": "lastval",
		},
	}

	TSQL = &Language{
		Name:                             "tsql",
		QuoteOpen:                        "[",
		QuoteClose:                       "]",
		Placeholders:                     Named,
		Concat:                           ConcatPlus,
		TopForTake:                       true,
		Apply:                            "APPLY",
		AllowDistinctInAggregates:        true,
		AllowSubqueryInSelectWithoutFrom: true,
		AllowsMultipleCommands:           true,
		TrueLiteral:                      "1",
		FalseLiteral:                     "0",
		funcs: map[string]string{
			"length":         "LEN",
			"last_insert_id": "SCOPE_IDENTITY",
			"rows_affected":  "@@ROWCOUNT",
		},
	}
)

var languages = map[string]*Language{
	SQLite.Name:   SQLite,
	MySQL.Name:    MySQL,
	Postgres.Name: Postgres,
	TSQL.Name:     TSQL,
	"sqlserver":   TSQL,
	"postgresql":  Postgres,
	"sqlite3":     SQLite,
}

// ByName returns the language registered under name.
func ByName(name string) (*Language, error) {
	if l, ok := languages[strings.ToLower(name)]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("unknown dialect %q (want sqlite, mysql, postgres or tsql)", name)
}

// Names lists the canonical dialect names.
func Names() []string {
	return []string{SQLite.Name, MySQL.Name, Postgres.Name, TSQL.Name}
}

// Quote quotes an identifier. Names are NFC-normalized and embedded close
// quotes are doubled.
func (l *Language) Quote(name string) string {
	name = norm.NFC.String(name)
	return l.QuoteOpen + strings.ReplaceAll(name, l.QuoteClose, l.QuoteClose+l.QuoteClose) + l.QuoteClose
}

// Placeholder spells a parameter. ordinal is the 1-based index of the
// distinct parameter named name.
func (l *Language) Placeholder(name string, ordinal int) string {
	switch l.Placeholders {
	case Numbered:
		return "$" + strconv.Itoa(ordinal)
	case Named:
		return "@" + name
	default:
		return "?"
	}
}

// Func spells a portable function name. Unknown names are upper-cased.
func (l *Language) Func(name string) string {
	if f, ok := l.funcs[name]; ok {
		return f
	}
	return strings.ToUpper(name)
}

// HasFunc reports whether the dialect can express the portable function.
func (l *Language) HasFunc(name string) bool {
	if name == "rows_affected" {
		_, ok := l.funcs[name]
		return ok
	}
	return true
}

// SupportsApply reports whether correlated joins can be rendered.
func (l *Language) SupportsApply() bool { return l.Apply != "" }

// RowsAffected returns the expression reading the row count of the
// previous command.
func (l *Language) RowsAffected() sqlir.Node {
	return &sqlir.Func{Name: "rows_affected", Typ: reflect.TypeOf(int64(0))}
}

// LastInsertID returns the expression reading the key generated by the
// previous insert.
func (l *Language) LastInsertID() sqlir.Node {
	return &sqlir.Func{Name: "last_insert_id", Typ: reflect.TypeOf(int64(0))}
}

// OuterJoinTest returns the expression projected from the right side of an
// outer join; it is null exactly when no right row matched.
func (l *Language) OuterJoinTest() sqlir.Node {
	return sqlir.NewConstant(int64(1))
}

// MustBeColumn reports whether n can only be evaluated by the store.
func (l *Language) MustBeColumn(n sqlir.Node) bool {
	switch n.(type) {
	case *sqlir.Column, *sqlir.Aggregate, *sqlir.Scalar, *sqlir.Exists,
		*sqlir.In, *sqlir.AggregateSubquery, *sqlir.RowNumber:
		return true
	}
	return false
}

// CanBeColumn reports whether n may be computed by the store when nothing
// above it blocks: scalar operators, functions and literals whose operands
// are themselves store-computable. Constructors, member reads and nested
// projections stay on the client.
func (l *Language) CanBeColumn(n sqlir.Node) bool {
	if l.MustBeColumn(n) {
		return true
	}
	switch x := n.(type) {
	case *sqlir.Binary, *sqlir.Unary, *sqlir.Conditional, *sqlir.IsNull,
		*sqlir.Between, *sqlir.Constant, *sqlir.NamedValue:
		return true
	case *sqlir.Func:
		return l.HasFunc(x.Name)
	}
	return false
}
