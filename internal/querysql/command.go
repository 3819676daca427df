package querysql

import (
	"reflect"
	"time"

	"github.com/roach88/relq/internal/sqlir"
)

// Columns of the table a write command targets are written unqualified.
func (f *formatter) target(t *sqlir.Table) {
	f.aliases[t.Alias] = ""
	f.write(f.lang.Quote(t.Name))
}

func (f *formatter) insert(x *sqlir.Insert) {
	f.write("INSERT INTO ")
	f.target(x.Table)
	if len(x.Assignments) == 0 {
		f.write(" DEFAULT VALUES")
		return
	}
	f.write(" (")
	for i, a := range x.Assignments {
		if i > 0 {
			f.write(", ")
		}
		f.write(f.lang.Quote(a.Column))
	}
	f.write(")")
	f.newline()
	f.write("VALUES (")
	for i, a := range x.Assignments {
		if i > 0 {
			f.write(", ")
		}
		f.value(a.Expr, precLowest)
	}
	f.write(")")
}

func (f *formatter) update(x *sqlir.Update) {
	f.write("UPDATE ")
	f.target(x.Table)
	f.newline()
	f.write("SET ")
	for i, a := range x.Assignments {
		if i > 0 {
			f.write(", ")
		}
		f.write(f.lang.Quote(a.Column), " = ")
		f.value(a.Expr, precLowest)
	}
	if x.Where != nil {
		f.newline()
		f.write("WHERE ")
		f.predicate(x.Where, precLowest)
	}
}

func (f *formatter) delete(x *sqlir.Delete) {
	f.write("DELETE FROM ")
	f.target(x.Table)
	if x.Where != nil {
		f.newline()
		f.write("WHERE ")
		f.predicate(x.Where, precLowest)
	}
}

// ifStmt renders a conditional command. Only dialects that run several
// commands per round trip have one; elsewhere the engine evaluates the
// check itself.
func (f *formatter) ifStmt(x *sqlir.If) {
	if !f.lang.AllowsMultipleCommands {
		f.unsupported(x)
		return
	}
	f.write("IF ")
	f.predicate(x.Check, precLowest)
	f.block("BEGIN", x.Then)
	if x.Else != nil {
		f.newline()
		f.write("ELSE")
		f.block("BEGIN", x.Else)
	}
}

func (f *formatter) block(open string, n sqlir.Node) {
	f.newline()
	f.write(open)
	f.indent++
	f.newline()
	f.command(n)
	f.indent--
	f.newline()
	f.write("END")
}

// declare renders variable declarations. Without multi-command batches the
// values are read by a select instead and bound by the engine.
func (f *formatter) declare(x *sqlir.Declare) {
	if !f.lang.AllowsMultipleCommands {
		f.write("SELECT ")
		for i, v := range x.Vars {
			if i > 0 {
				f.write(", ")
			}
			f.value(v.Expr, precLowest)
			f.write(" AS ", f.lang.Quote(v.Name))
		}
		return
	}
	for i, v := range x.Vars {
		if i > 0 {
			f.write(";")
			f.newline()
		}
		f.write("DECLARE @", v.Name, " ", storeType(v.Expr.Type()), " = ")
		f.value(v.Expr, precLowest)
	}
}

var timeType = reflect.TypeOf(time.Time{})

// storeType names the column type a declared variable holds.
func storeType(t reflect.Type) string {
	if t == nil {
		return "SQL_VARIANT"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return "DATETIME2"
	}
	switch t.Kind() {
	case reflect.Bool:
		return "BIT"
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return "INT"
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return "BIGINT"
	case reflect.Float32, reflect.Float64:
		return "FLOAT"
	case reflect.String:
		return "NVARCHAR(MAX)"
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return "VARBINARY(MAX)"
		}
	}
	return "SQL_VARIANT"
}
