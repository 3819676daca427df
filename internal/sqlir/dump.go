package sqlir

import (
	"fmt"
	"strings"
)

// Dump renders n as indented plan text for diagnostics. Aliases are shown
// as t0, t1, ... in order of first appearance. The format is not stable.
func Dump(n Node) string {
	d := &dumper{labels: make(map[Alias]string)}
	d.node(n, 0)
	return d.b.String()
}

type dumper struct {
	b      strings.Builder
	labels map[Alias]string
}

func (d *dumper) label(a Alias) string {
	if l, ok := d.labels[a]; ok {
		return l
	}
	l := fmt.Sprintf("t%d", len(d.labels))
	d.labels[a] = l
	return l
}

func (d *dumper) line(depth int, format string, args ...any) {
	d.b.WriteString(strings.Repeat("  ", depth))
	fmt.Fprintf(&d.b, format, args...)
	d.b.WriteByte('\n')
}

func (d *dumper) node(n Node, depth int) {
	switch x := n.(type) {
	case nil:
		return
	case *Projection:
		agg := ""
		if x.Aggregator != nil {
			agg = " aggregator=" + x.Aggregator.Kind.String()
		}
		d.line(depth, "Projection%s", agg)
		d.node(x.Select, depth+1)
		d.line(depth+1, "projector: %s", d.expr(x.Projector))
	case *ClientJoin:
		d.line(depth, "ClientJoin outer=[%s] inner=[%s]", d.exprs(x.OuterKey), d.exprs(x.InnerKey))
		d.node(x.Projection, depth+1)
	case *Select:
		var flags []string
		if x.Distinct {
			flags = append(flags, "distinct")
		}
		if x.Reverse {
			flags = append(flags, "reverse")
		}
		d.line(depth, "Select %s%s", d.label(x.Alias), flagSuffix(flags))
		for _, c := range x.Columns {
			d.line(depth+1, "column %s = %s", c.Name, d.expr(c.Expr))
		}
		if x.From != nil {
			d.line(depth+1, "from:")
			d.node(x.From, depth+2)
		}
		if x.Where != nil {
			d.line(depth+1, "where: %s", d.expr(x.Where))
		}
		if len(x.GroupBy) > 0 {
			d.line(depth+1, "group by: %s", d.exprs(x.GroupBy))
		}
		if len(x.OrderBy) > 0 {
			d.line(depth+1, "order by: %s", d.orderings(x.OrderBy))
		}
		if x.Skip != nil {
			d.line(depth+1, "skip: %s", d.expr(x.Skip))
		}
		if x.Take != nil {
			d.line(depth+1, "take: %s", d.expr(x.Take))
		}
	case *Table:
		d.line(depth, "Table %s %s", x.Name, d.label(x.Alias))
	case *Join:
		d.line(depth, "%s", x.Kind)
		d.node(x.Left, depth+1)
		d.node(x.Right, depth+1)
		if x.On != nil {
			d.line(depth+1, "on: %s", d.expr(x.On))
		}
	case *Block:
		d.line(depth, "Block")
		for _, c := range x.Commands {
			d.node(c, depth+1)
		}
	case *Batch:
		d.line(depth, "Batch size=%d", x.Size)
		d.node(x.Operation, depth+1)
	case *If:
		d.line(depth, "If %s", d.expr(x.Check))
		d.node(x.Then, depth+1)
		if x.Else != nil {
			d.line(depth, "Else")
			d.node(x.Else, depth+1)
		}
	case *Insert:
		d.line(depth, "Insert %s %s", x.Table.Name, d.assignments(x.Assignments))
	case *Update:
		d.line(depth, "Update %s %s where %s", x.Table.Name, d.assignments(x.Assignments), d.expr(x.Where))
	case *Delete:
		d.line(depth, "Delete %s where %s", x.Table.Name, d.expr(x.Where))
	case *Declare:
		parts := make([]string, len(x.Vars))
		for i, v := range x.Vars {
			parts[i] = "@" + v.Name + " = " + d.expr(v.Expr)
		}
		d.line(depth, "Declare %s", strings.Join(parts, ", "))
	default:
		d.line(depth, "%s", d.expr(n))
	}
}

func flagSuffix(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	return " [" + strings.Join(flags, ",") + "]"
}

func (d *dumper) exprs(ns []Node) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = d.expr(n)
	}
	return strings.Join(parts, ", ")
}

func (d *dumper) orderings(ords []Ordering) string {
	parts := make([]string, len(ords))
	for i, o := range ords {
		parts[i] = d.expr(o.Expr)
		if o.Desc {
			parts[i] += " desc"
		}
	}
	return strings.Join(parts, ", ")
}

func (d *dumper) assignments(as []Assignment) string {
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = a.Column + " = " + d.expr(a.Expr)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// expr renders a scalar or client expression on one line. Subqueries are
// rendered inline as nested dumps in braces.
func (d *dumper) expr(n Node) string {
	switch x := n.(type) {
	case nil:
		return "<nil>"
	case *Column:
		return d.label(x.Alias) + "." + x.Name
	case *Constant:
		if x.Value == nil {
			return "null"
		}
		return fmt.Sprintf("%#v", x.Value)
	case *NamedValue:
		switch {
		case x.Slot >= 0:
			return fmt.Sprintf("slot(%d)", x.Slot)
		case x.Arg != "":
			return "arg(" + x.Arg + ")"
		case x.Outer >= 0:
			return fmt.Sprintf("outer(%d)", x.Outer)
		case x.Name != "":
			return "@" + x.Name
		default:
			return fmt.Sprintf("value(%#v)", x.Value)
		}
	case *Binary:
		return "(" + d.expr(x.Left) + " " + x.Op.String() + " " + d.expr(x.Right) + ")"
	case *Unary:
		return x.Op.String() + " " + d.expr(x.X)
	case *Func:
		return x.Name + "(" + d.exprs(x.Args) + ")"
	case *Conditional:
		return "if(" + d.expr(x.Test) + ", " + d.expr(x.Then) + ", " + d.expr(x.Else) + ")"
	case *IsNull:
		return d.expr(x.X) + " is null"
	case *Between:
		return d.expr(x.X) + " between " + d.expr(x.Lo) + " and " + d.expr(x.Hi)
	case *Aggregate:
		arg := "*"
		if x.Arg != nil {
			arg = d.expr(x.Arg)
		}
		if x.Distinct {
			arg = "distinct " + arg
		}
		return x.Kind.String() + "(" + arg + ")"
	case *RowNumber:
		return "row_number(" + d.orderings(x.OrderBy) + ")"
	case *Scalar:
		return "scalar{" + d.sub(x.Select) + "}"
	case *Exists:
		return "exists{" + d.sub(x.Select) + "}"
	case *In:
		if x.Select != nil {
			return d.expr(x.X) + " in {" + d.sub(x.Select) + "}"
		}
		return d.expr(x.X) + " in (" + d.exprs(x.Values) + ")"
	case *AggregateSubquery:
		return "aggsub[" + d.label(x.GroupByAlias) + "]" + d.expr(x.Subquery)
	case *Variable:
		return "@" + x.Name
	case *Entity:
		return x.Entity + "(" + d.expr(x.Expr) + ")"
	case *New:
		parts := make([]string, len(x.Args))
		for i, a := range x.Args {
			parts[i] = x.Names[i] + ": " + d.expr(a)
		}
		name := "record"
		if x.Typ != nil {
			name = x.Typ.String()
		}
		return name + "{" + strings.Join(parts, ", ") + "}"
	case *Member:
		return d.expr(x.X) + "." + x.Name
	case *Grouping:
		return "group(key: " + d.expr(x.Key) + ", elements: " + d.expr(x.Elements) + ")"
	case *OuterJoined:
		return "outer(" + d.expr(x.Test) + ", " + d.expr(x.Expr) + ")"
	case *Projection, *ClientJoin, *Select:
		return "{" + d.sub(n) + "}"
	default:
		return fmt.Sprintf("%T", n)
	}
}

func (d *dumper) sub(n Node) string {
	inner := &dumper{labels: d.labels}
	inner.node(n, 0)
	return strings.TrimSuffix(strings.ReplaceAll(inner.b.String(), "\n", "; "), "; ")
}
