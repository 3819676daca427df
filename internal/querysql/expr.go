package querysql

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/sqlir"
)

// Operator precedence, loosest first. A child is parenthesized when it
// binds looser than the position it is written in.
const (
	precLowest = iota
	precOr
	precAnd
	precNot
	precCompare
	precAdd
	precMul
	precUnary
	precAtom
)

func binaryPrec(op sqlir.BinaryOp) int {
	switch {
	case op == sqlir.OpOr:
		return precOr
	case op == sqlir.OpAnd:
		return precAnd
	case op.IsComparison():
		return precCompare
	case op == sqlir.OpMul || op == sqlir.OpDiv || op == sqlir.OpMod:
		return precMul
	}
	return precAdd
}

// isPredicate reports whether n is a condition rather than a value.
func isPredicate(n sqlir.Node) bool {
	switch x := n.(type) {
	case *sqlir.Binary:
		return x.Op.IsComparison() || x.Op.IsLogical()
	case *sqlir.Unary:
		return x.Op == sqlir.OpNot
	case *sqlir.IsNull, *sqlir.Between, *sqlir.Exists, *sqlir.In:
		return true
	case *sqlir.Func:
		return x.Name == "like"
	}
	return false
}

func isBool(n sqlir.Node) bool {
	t := n.Type()
	return t != nil && t.Kind() == reflect.Bool
}

// value writes n where the dialect expects a value. Conditions become
// 1/0 through CASE in dialects without boolean values.
func (f *formatter) value(n sqlir.Node, prec int) {
	if !f.lang.BooleanValues && isPredicate(n) {
		f.write("CASE WHEN ")
		f.predicate(n, precLowest)
		f.write(" THEN ", f.lang.TrueLiteral, " ELSE ", f.lang.FalseLiteral, " END")
		return
	}
	f.expr(n, prec)
}

// predicate writes n where the dialect expects a condition. Boolean values
// are compared with true in dialects without boolean values.
func (f *formatter) predicate(n sqlir.Node, prec int) {
	if f.lang.BooleanValues || isPredicate(n) || !isBool(n) {
		f.expr(n, prec)
		return
	}
	if c, ok := n.(*sqlir.Constant); ok {
		if b, _ := c.Value.(bool); b {
			f.write("1 = 1")
		} else {
			f.write("1 = 0")
		}
		return
	}
	open := prec > precCompare
	if open {
		f.write("(")
	}
	f.expr(n, precCompare+1)
	f.write(" = ", f.lang.TrueLiteral)
	if open {
		f.write(")")
	}
}

func (f *formatter) expr(n sqlir.Node, prec int) {
	if f.err != nil {
		return
	}
	switch x := n.(type) {
	case *sqlir.Column:
		f.column(x)
	case *sqlir.Constant:
		f.constant(x.Value)
	case *sqlir.NamedValue:
		f.param(x)
	case *sqlir.Variable:
		f.write("@", x.Name)
	case *sqlir.Binary:
		f.binary(x, prec)
	case *sqlir.Unary:
		f.unary(x, prec)
	case *sqlir.Func:
		f.function(x, prec)
	case *sqlir.Conditional:
		f.write("CASE WHEN ")
		f.predicate(x.Test, precLowest)
		f.write(" THEN ")
		f.value(x.Then, precLowest)
		f.write(" ELSE ")
		f.value(x.Else, precLowest)
		f.write(" END")
	case *sqlir.IsNull:
		f.wrap(prec, precCompare, func() {
			f.value(x.X, precCompare+1)
			f.write(" IS NULL")
		})
	case *sqlir.Between:
		f.wrap(prec, precCompare, func() {
			f.value(x.X, precCompare+1)
			f.write(" BETWEEN ")
			f.value(x.Lo, precCompare+1)
			f.write(" AND ")
			f.value(x.Hi, precCompare+1)
		})
	case *sqlir.Aggregate:
		f.aggregate(x)
	case *sqlir.RowNumber:
		f.write("ROW_NUMBER() OVER (")
		if len(x.OrderBy) > 0 {
			f.write("ORDER BY ")
			f.orderings(x.OrderBy)
		} else if f.lang.TopForTake {
			f.write("ORDER BY (SELECT 1)")
		}
		f.write(")")
	case *sqlir.Scalar:
		f.subquery(x.Select)
	case *sqlir.Exists:
		f.write("EXISTS ")
		f.subquery(x.Select)
	case *sqlir.In:
		f.in(x, prec)
	case *sqlir.AggregateSubquery:
		f.subquery(x.Subquery.Select)
	default:
		f.unsupported(n)
	}
}

func (f *formatter) wrap(outer, inner int, body func()) {
	if outer > inner {
		f.write("(")
		body()
		f.write(")")
		return
	}
	body()
}

func (f *formatter) column(c *sqlir.Column) {
	name, ok := f.aliases[c.Alias]
	if !ok {
		f.fail(ErrUnboundAlias.New(c.Name, c.Alias))
		return
	}
	if name != "" {
		f.write(name, ".")
	}
	f.write(f.lang.Quote(c.Name))
}

func (f *formatter) binary(b *sqlir.Binary, prec int) {
	switch b.Op {
	case sqlir.OpCoalesce:
		f.write("COALESCE(")
		f.value(b.Left, precLowest)
		f.write(", ")
		f.value(b.Right, precLowest)
		f.write(")")
		return
	case sqlir.OpConcat:
		switch f.lang.Concat {
		case dialect.ConcatFunc:
			f.write("CONCAT(")
			f.value(b.Left, precLowest)
			f.write(", ")
			f.value(b.Right, precLowest)
			f.write(")")
			return
		case dialect.ConcatPlus:
			f.infix(b, "+", precAdd, prec)
			return
		}
		f.infix(b, "||", precAdd, prec)
		return
	}
	f.infix(b, b.Op.String(), binaryPrec(b.Op), prec)
}

// infix writes a left-associative operator. The right operand of an
// operator at the same level is parenthesized so a - (b - c) keeps its
// grouping.
func (f *formatter) infix(b *sqlir.Binary, op string, own, prec int) {
	logical := b.Op.IsLogical()
	f.wrap(prec, own, func() {
		if logical {
			f.predicate(b.Left, own)
		} else {
			f.value(b.Left, own)
		}
		f.write(" ", op, " ")
		if logical {
			f.predicate(b.Right, own)
		} else {
			f.value(b.Right, own+1)
		}
	})
}

func (f *formatter) unary(u *sqlir.Unary, prec int) {
	switch u.Op {
	case sqlir.OpNot:
		f.wrap(prec, precNot, func() {
			f.write("NOT ")
			f.predicate(u.X, precNot)
		})
	case sqlir.OpNeg:
		f.wrap(prec, precUnary, func() {
			f.write("-")
			f.value(u.X, precUnary)
		})
	default:
		f.unsupported(u)
	}
}

func (f *formatter) function(fn *sqlir.Func, prec int) {
	if fn.Name == "like" && len(fn.Args) == 2 {
		f.wrap(prec, precCompare, func() {
			f.value(fn.Args[0], precCompare+1)
			f.write(" LIKE ")
			f.value(fn.Args[1], precCompare+1)
		})
		return
	}
	if !f.lang.HasFunc(fn.Name) {
		f.fail(ErrUnsupportedNode.New("function "+fn.Name, f.lang.Name))
		return
	}
	name := f.lang.Func(fn.Name)
	f.write(name)
	if strings.HasPrefix(name, "@@") {
		return
	}
	f.write("(")
	for i, a := range fn.Args {
		if i > 0 {
			f.write(", ")
		}
		f.value(a, precLowest)
	}
	f.write(")")
}

func (f *formatter) aggregate(a *sqlir.Aggregate) {
	f.write(a.Kind.String(), "(")
	if a.Arg == nil {
		f.write("*)")
		return
	}
	if a.Distinct {
		if !f.lang.AllowDistinctInAggregates {
			f.fail(ErrUnsupportedNode.New("DISTINCT in "+a.Kind.String(), f.lang.Name))
			return
		}
		f.write("DISTINCT ")
	}
	f.value(a.Arg, precLowest)
	f.write(")")
}

func (f *formatter) in(x *sqlir.In, prec int) {
	if x.Select == nil && len(x.Values) == 0 {
		f.write("1 = 0")
		return
	}
	f.wrap(prec, precCompare, func() {
		f.value(x.X, precCompare+1)
		f.write(" IN ")
		if x.Select != nil {
			f.subquery(x.Select)
			return
		}
		f.write("(")
		for i, v := range x.Values {
			if i > 0 {
				f.write(", ")
			}
			f.value(v, precLowest)
		}
		f.write(")")
	})
}

func (f *formatter) constant(v any) {
	switch x := v.(type) {
	case nil:
		f.write("NULL")
	case bool:
		if x {
			f.write(f.lang.TrueLiteral)
		} else {
			f.write(f.lang.FalseLiteral)
		}
	case string:
		f.write("'", strings.ReplaceAll(x, "'", "''"), "'")
	case int:
		f.write(strconv.Itoa(x))
	case int64:
		f.write(strconv.FormatInt(x, 10))
	case int32:
		f.write(strconv.FormatInt(int64(x), 10))
	case float64:
		f.write(strconv.FormatFloat(x, 'g', -1, 64))
	case float32:
		f.write(strconv.FormatFloat(float64(x), 'g', -1, 32))
	case time.Time:
		f.write("'", x.UTC().Format("2006-01-02 15:04:05.999999999"), "'")
	case []byte:
		if f.lang.TopForTake {
			f.write("0x", hex.EncodeToString(x))
		} else {
			f.write("X'", hex.EncodeToString(x), "'")
		}
	default:
		f.write(fmt.Sprint(x))
	}
}
