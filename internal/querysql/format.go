// Package querysql turns an optimized AST into command text for one
// dialect: Parameterize names the values bound at execution time, Format
// renders a select or write command together with its ordered parameters.
package querysql

import (
	"reflect"
	"strconv"
	"strings"

	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/sqlir"
)

var (
	// ErrUnsupportedNode is returned for nodes that have no command text,
	// such as client-side constructors left in a select.
	ErrUnsupportedNode = errors.NewKind("%s cannot be rendered as %s command text")
	// ErrApplyUnsupported is returned when a correlated join survives
	// optimization for a dialect that cannot express it.
	ErrApplyUnsupported = errors.NewKind("%s has no correlated join for %s")
	// ErrUnboundAlias is returned for a column whose row source is not in
	// scope of the command, usually an outer reference that was not bound.
	ErrUnboundAlias = errors.NewKind("column %s reads row source %s that is not in scope")
)

// Command is formatted command text and the parameters it binds, in the
// order the dialect's placeholders expect them.
type Command struct {
	Text   string
	Params []*sqlir.NamedValue
}

// Format renders n, a select or a write command, as one command.
func Format(lang *dialect.Language, n sqlir.Node) (Command, error) {
	f := newFormatter(lang)
	f.command(n)
	if f.err != nil {
		return Command{}, f.err
	}
	return Command{Text: f.sb.String(), Params: f.params}, nil
}

// FormatBlock renders each command of a block separately. Dialects that
// accept several commands per round trip get a single command instead,
// with a blank line between the parts.
func FormatBlock(lang *dialect.Language, b *sqlir.Block) ([]Command, error) {
	if lang.AllowsMultipleCommands {
		cmd, err := Format(lang, b)
		if err != nil {
			return nil, err
		}
		return []Command{cmd}, nil
	}
	out := make([]Command, 0, len(b.Commands))
	for _, c := range b.Commands {
		cmd, err := Format(lang, c)
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	return out, nil
}

// JoinText joins the text of several commands the way a batch is shown.
func JoinText(cmds []Command) string {
	parts := make([]string, len(cmds))
	for i, c := range cmds {
		parts[i] = c.Text
	}
	return strings.Join(parts, "\n\n")
}

type formatter struct {
	lang    *dialect.Language
	sb      strings.Builder
	indent  int
	aliases map[sqlir.Alias]string
	params  []*sqlir.NamedValue
	ordinal map[string]int
	err     error
}

func newFormatter(lang *dialect.Language) *formatter {
	return &formatter{
		lang:    lang,
		aliases: make(map[sqlir.Alias]string),
		ordinal: make(map[string]int),
	}
}

func (f *formatter) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

func (f *formatter) write(s ...string) {
	for _, x := range s {
		f.sb.WriteString(x)
	}
}

func (f *formatter) newline() {
	f.sb.WriteByte('\n')
	for i := 0; i < f.indent; i++ {
		f.sb.WriteString("  ")
	}
}

func (f *formatter) unsupported(n sqlir.Node) {
	f.fail(ErrUnsupportedNode.New(reflect.TypeOf(n).Elem().Name(), f.lang.Name))
}

func (f *formatter) aliasName(a sqlir.Alias) string {
	if name, ok := f.aliases[a]; ok {
		return name
	}
	name := "t" + strconv.Itoa(len(f.aliases))
	f.aliases[a] = name
	return name
}

func (f *formatter) command(n sqlir.Node) {
	switch x := n.(type) {
	case *sqlir.Select:
		f.selectStmt(x)
	case *sqlir.Projection:
		f.selectStmt(x.Select)
	case *sqlir.Insert:
		f.insert(x)
	case *sqlir.Update:
		f.update(x)
	case *sqlir.Delete:
		f.delete(x)
	case *sqlir.Batch:
		f.command(x.Operation)
	case *sqlir.Block:
		for i, c := range x.Commands {
			if i > 0 {
				f.write(";")
				f.newline()
				f.newline()
			}
			f.command(c)
		}
	case *sqlir.If:
		f.ifStmt(x)
	case *sqlir.Declare:
		f.declare(x)
	default:
		f.unsupported(n)
	}
}

func (f *formatter) selectStmt(s *sqlir.Select) {
	if s.From != nil {
		f.declareAliases(s.From)
	}
	f.write("SELECT ")
	if s.Distinct {
		f.write("DISTINCT ")
	}
	if s.Take != nil && f.lang.TopForTake && s.Skip == nil {
		f.write("TOP (")
		f.expr(s.Take, precAtom)
		f.write(") ")
	}
	f.columns(s)
	if s.From != nil {
		f.newline()
		f.write("FROM ")
		f.source(s.From)
	}
	if s.Where != nil {
		f.newline()
		f.write("WHERE ")
		f.predicate(s.Where, precLowest)
	}
	if len(s.GroupBy) > 0 {
		f.newline()
		f.write("GROUP BY ")
		for i, g := range s.GroupBy {
			if i > 0 {
				f.write(", ")
			}
			f.value(g, precLowest)
		}
	}
	if len(s.OrderBy) > 0 {
		f.newline()
		f.write("ORDER BY ")
		f.orderings(s.OrderBy)
	}
	f.paging(s)
}

func (f *formatter) columns(s *sqlir.Select) {
	if len(s.Columns) == 0 {
		f.write("NULL")
		return
	}
	for i, c := range s.Columns {
		if i > 0 {
			f.write(", ")
		}
		f.value(c.Expr, precLowest)
		if col, ok := c.Expr.(*sqlir.Column); ok && col.Name == c.Name {
			continue
		}
		f.write(" AS ", f.lang.Quote(c.Name))
	}
}

func (f *formatter) orderings(ords []sqlir.Ordering) {
	for i, o := range ords {
		if i > 0 {
			f.write(", ")
		}
		f.value(o.Expr, precLowest)
		if o.Desc {
			f.write(" DESC")
		}
	}
}

func (f *formatter) paging(s *sqlir.Select) {
	if s.Skip == nil && s.Take == nil {
		return
	}
	if f.lang.TopForTake {
		if s.Skip == nil {
			return
		}
		if len(s.OrderBy) == 0 {
			f.newline()
			f.write("ORDER BY (SELECT 1)")
		}
		f.newline()
		f.write("OFFSET ")
		f.value(s.Skip, precLowest)
		f.write(" ROWS")
		if s.Take != nil {
			f.write(" FETCH NEXT ")
			f.value(s.Take, precLowest)
			f.write(" ROWS ONLY")
		}
		return
	}
	f.newline()
	switch {
	case s.Take != nil:
		f.write("LIMIT ")
		f.value(s.Take, precLowest)
	case f.lang.SkipNeedsLimit != "":
		f.write("LIMIT ", f.lang.SkipNeedsLimit)
	}
	if s.Skip != nil {
		if s.Take != nil || f.lang.SkipNeedsLimit != "" {
			f.write(" ")
		}
		f.write("OFFSET ")
		f.value(s.Skip, precLowest)
	}
}

// declareAliases names the row sources of a from clause before the
// columns that read them are written.
func (f *formatter) declareAliases(n sqlir.Node) {
	switch x := n.(type) {
	case *sqlir.Table:
		f.aliasName(x.Alias)
	case *sqlir.Select:
		f.aliasName(x.Alias)
	case *sqlir.Join:
		f.declareAliases(x.Left)
		f.declareAliases(x.Right)
	}
}

func (f *formatter) source(n sqlir.Node) {
	switch x := n.(type) {
	case *sqlir.Table:
		f.write(f.lang.Quote(x.Name), " AS ", f.aliasName(x.Alias))
	case *sqlir.Select:
		f.write("(")
		f.indent++
		f.newline()
		f.selectStmt(x)
		f.indent--
		f.newline()
		f.write(") AS ", f.aliasName(x.Alias))
	case *sqlir.Join:
		f.join(x)
	default:
		f.unsupported(n)
	}
}

func (f *formatter) join(j *sqlir.Join) {
	f.source(j.Left)
	f.newline()
	switch j.Kind {
	case sqlir.CrossJoin:
		f.write("CROSS JOIN ")
		f.source(j.Right)
		return
	case sqlir.InnerJoin:
		f.write("INNER JOIN ")
	case sqlir.LeftOuterJoin, sqlir.SingletonLeftOuterJoin:
		f.write("LEFT OUTER JOIN ")
	case sqlir.CrossApply, sqlir.OuterApply:
		f.apply(j)
		return
	default:
		f.fail(ErrUnsupportedNode.New(j.Kind.String(), f.lang.Name))
		return
	}
	f.source(j.Right)
	f.indent++
	f.newline()
	f.write("ON ")
	if j.On == nil {
		f.write(f.trueCondition())
	} else {
		f.predicate(j.On, precLowest)
	}
	f.indent--
}

func (f *formatter) apply(j *sqlir.Join) {
	outer := j.Kind == sqlir.OuterApply
	switch f.lang.Apply {
	case "APPLY":
		if outer {
			f.write("OUTER APPLY ")
		} else {
			f.write("CROSS APPLY ")
		}
		f.source(j.Right)
	case "LATERAL":
		if outer {
			f.write("LEFT OUTER JOIN LATERAL ")
		} else {
			f.write("INNER JOIN LATERAL ")
		}
		f.source(j.Right)
		f.write(" ON ", f.trueCondition())
	default:
		f.fail(ErrApplyUnsupported.New(f.lang.Name, j.Kind.String()))
	}
}

func (f *formatter) trueCondition() string {
	if f.lang.BooleanValues {
		return f.lang.TrueLiteral
	}
	return "1 = 1"
}

// subquery writes a parenthesized select at the current indentation.
func (f *formatter) subquery(s *sqlir.Select) {
	f.write("(")
	f.indent++
	f.newline()
	f.selectStmt(s)
	f.indent--
	f.newline()
	f.write(")")
}

func (f *formatter) param(v *sqlir.NamedValue) {
	name := v.Name
	if name == "" {
		f.fail(ErrUnsupportedNode.New("unnamed parameter", f.lang.Name))
		return
	}
	if f.lang.Placeholders == dialect.Positional {
		f.params = append(f.params, v)
		f.write(f.lang.Placeholder(name, len(f.params)))
		return
	}
	ord, ok := f.ordinal[name]
	if !ok {
		f.params = append(f.params, v)
		ord = len(f.params)
		f.ordinal[name] = ord
	}
	f.write(f.lang.Placeholder(name, ord))
}
