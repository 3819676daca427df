package engine

import (
	"fmt"
	"reflect"

	"github.com/spf13/cast"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/sqlir"
)

// reader builds one value from one row of the command it was compiled for.
type reader func(x *execution, row []any) (any, error)

// reader compiles the projector n over the rows of sel. q is the query
// being compiled; it is marked nested when n runs further commands.
func (c *planCompiler) reader(n sqlir.Node, sel *sqlir.Select, q *queryPlan) (reader, error) {
	ords := columnOrdinals(sel)
	var compile func(sqlir.Node) (reader, error)
	compile = func(n sqlir.Node) (reader, error) {
		switch x := n.(type) {
		case nil:
			return func(*execution, []any) (any, error) { return nil, nil }, nil
		case *sqlir.Column:
			if x.Alias != sel.Alias {
				return nil, ErrMissingColumn.New(x.Name)
			}
			ord, ok := ords[x.Name]
			if !ok {
				return nil, ErrMissingColumn.New(x.Name)
			}
			t := x.Typ
			return func(_ *execution, row []any) (any, error) {
				return convert(row[ord], t)
			}, nil
		case *sqlir.Constant:
			v := x.Value
			return func(*execution, []any) (any, error) { return v, nil }, nil
		case *sqlir.NamedValue:
			return func(ex *execution, _ []any) (any, error) { return ex.param(x, nil) }, nil
		case *sqlir.Entity:
			return compile(x.Expr)
		case *sqlir.New:
			return c.newReader(x, compile)
		case *sqlir.Member:
			return memberReader(x, compile)
		case *sqlir.Grouping:
			key, err := compile(x.Key)
			if err != nil {
				return nil, err
			}
			elems, err := compile(x.Elements)
			if err != nil {
				return nil, err
			}
			return func(ex *execution, row []any) (any, error) {
				k, err := key(ex, row)
				if err != nil {
					return nil, err
				}
				es, err := elems(ex, row)
				if err != nil {
					return nil, err
				}
				return query.Grouping{Key: k, Elements: toAnySlice(es)}, nil
			}, nil
		case *sqlir.OuterJoined:
			test, err := compile(x.Test)
			if err != nil {
				return nil, err
			}
			expr, err := compile(x.Expr)
			if err != nil {
				return nil, err
			}
			t := x.Expr.Type()
			return func(ex *execution, row []any) (any, error) {
				v, err := test(ex, row)
				if err != nil || v == nil {
					return zero(t), err
				}
				return expr(ex, row)
			}, nil
		case *sqlir.Projection:
			q.nested = true
			sub, err := c.query(x, sel)
			if err != nil {
				return nil, err
			}
			return func(ex *execution, row []any) (any, error) {
				outer := make([]any, len(sub.outer))
				for i, ord := range sub.outer {
					outer[i] = row[ord]
				}
				return ex.nested(sub, outer)
			}, nil
		case *sqlir.ClientJoin:
			q.nested = true
			return c.clientJoinReader(x, compile)
		case *sqlir.Binary:
			l, err := compile(x.Left)
			if err != nil {
				return nil, err
			}
			r, err := compile(x.Right)
			if err != nil {
				return nil, err
			}
			// The operator enums of sqlir and query share their values.
			op := query.BinaryOp(x.Op)
			return func(ex *execution, row []any) (any, error) {
				a, err := l(ex, row)
				if err != nil {
					return nil, err
				}
				b, err := r(ex, row)
				if err != nil {
					return nil, err
				}
				return query.ApplyBinary(op, a, b)
			}, nil
		case *sqlir.Unary:
			inner, err := compile(x.X)
			if err != nil {
				return nil, err
			}
			op := query.UnaryOp(x.Op)
			return func(ex *execution, row []any) (any, error) {
				v, err := inner(ex, row)
				if err != nil {
					return nil, err
				}
				return query.ApplyUnary(op, v)
			}, nil
		case *sqlir.Func:
			args, err := compileAll(x.Args, compile)
			if err != nil {
				return nil, err
			}
			name := x.Name
			return func(ex *execution, row []any) (any, error) {
				vs, err := readAll(args, ex, row)
				if err != nil {
					return nil, err
				}
				return query.CallFunc(name, vs)
			}, nil
		case *sqlir.Conditional:
			parts, err := compileAll([]sqlir.Node{x.Test, x.Then, x.Else}, compile)
			if err != nil {
				return nil, err
			}
			return func(ex *execution, row []any) (any, error) {
				t, err := parts[0](ex, row)
				if err != nil {
					return nil, err
				}
				if query.Truthy(t) {
					return parts[1](ex, row)
				}
				return parts[2](ex, row)
			}, nil
		case *sqlir.IsNull:
			inner, err := compile(x.X)
			if err != nil {
				return nil, err
			}
			return func(ex *execution, row []any) (any, error) {
				v, err := inner(ex, row)
				return v == nil, err
			}, nil
		}
		return nil, ErrNotMaterializable.New(n)
	}
	return compile(n)
}

func compileAll(ns []sqlir.Node, compile func(sqlir.Node) (reader, error)) ([]reader, error) {
	out := make([]reader, len(ns))
	for i, n := range ns {
		r, err := compile(n)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func readAll(rs []reader, ex *execution, row []any) ([]any, error) {
	out := make([]any, len(rs))
	for i, r := range rs {
		v, err := r(ex, row)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// newReader builds a struct of x.Typ with its fields set by name, or a
// record when x has no type.
func (c *planCompiler) newReader(x *sqlir.New, compile func(sqlir.Node) (reader, error)) (reader, error) {
	args, err := compileAll(x.Args, compile)
	if err != nil {
		return nil, err
	}
	names := x.Names
	if x.Typ == nil {
		return func(ex *execution, row []any) (any, error) {
			rec := make(map[string]any, len(names))
			for i, r := range args {
				v, err := r(ex, row)
				if err != nil {
					return nil, err
				}
				rec[names[i]] = v
			}
			return rec, nil
		}, nil
	}
	t := x.Typ
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("materialize: cannot construct %s from named parts", t)
	}
	fields := make([][]int, len(names))
	for i, name := range names {
		f, ok := t.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("materialize: %s has no field %s", t, name)
		}
		fields[i] = f.Index
	}
	return func(ex *execution, row []any) (any, error) {
		v := reflect.New(t).Elem()
		for i, r := range args {
			a, err := r(ex, row)
			if err != nil {
				return nil, err
			}
			if err := assign(v.FieldByIndex(fields[i]), a); err != nil {
				return nil, fmt.Errorf("materialize %s.%s: %w", t.Name(), names[i], err)
			}
		}
		return v.Interface(), nil
	}, nil
}

func memberReader(x *sqlir.Member, compile func(sqlir.Node) (reader, error)) (reader, error) {
	inner, err := compile(x.X)
	if err != nil {
		return nil, err
	}
	name, t := x.Name, x.Typ
	return func(ex *execution, row []any) (any, error) {
		v, err := inner(ex, row)
		if err != nil || v == nil {
			return nil, err
		}
		m, err := member(v, name)
		if err != nil {
			return nil, err
		}
		return convert(m, t)
	}, nil
}

// member reads the field or record entry name of v.
func member(v any, name string) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		return x[name], nil
	case query.Record:
		return x[name], nil
	case query.Grouping:
		switch name {
		case "Key":
			return x.Key, nil
		case "Elements":
			return x.Elements, nil
		}
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		if f := rv.FieldByName(name); f.IsValid() {
			return f.Interface(), nil
		}
	}
	return nil, fmt.Errorf("materialize: %T has no member %s", v, name)
}

// clientJoinReader runs the join's command once per execution and yields,
// for each outer row, the children whose inner key equals the row's outer
// key.
func (c *planCompiler) clientJoinReader(x *sqlir.ClientJoin, compile func(sqlir.Node) (reader, error)) (reader, error) {
	sub, err := c.query(x.Projection, nil)
	if err != nil {
		return nil, err
	}
	inner := make([]reader, len(x.InnerKey))
	for i, k := range x.InnerKey {
		if inner[i], err = c.reader(k, x.Projection.Select, sub); err != nil {
			return nil, err
		}
	}
	outer, err := compileAll(x.OuterKey, compile)
	if err != nil {
		return nil, err
	}
	j := &joinPlan{query: sub, innerKey: inner}
	return func(ex *execution, row []any) (any, error) {
		groups, err := ex.clientJoin(j)
		if err != nil {
			return nil, err
		}
		key, err := readAll(outer, ex, row)
		if err != nil {
			return nil, err
		}
		k, err := ir.RowKey(key)
		if err != nil {
			return nil, err
		}
		return reduceValues(sub, groups[k])
	}, nil
}

type joinPlan struct {
	query    *queryPlan
	innerKey []reader
}

// reduceValues turns the materialized values of q into its result: a
// typed slice, or one value for a singleton aggregator.
func reduceValues(q *queryPlan, values []any) (any, error) {
	if q.agg == nil {
		return makeSlice(q.seqType(), values)
	}
	switch {
	case len(values) == 0 && (q.agg.OrDefault() || q.agg.Kind == sqlir.ScalarValue):
		return zero(q.elem), nil
	case len(values) == 0:
		return nil, ErrNoElements.New()
	case len(values) > 1 && (q.agg.Kind == sqlir.Single || q.agg.Kind == sqlir.SingleOrDefault):
		return nil, ErrMoreThanOneElement.New()
	}
	if values[0] == nil {
		return zero(q.elem), nil
	}
	return values[0], nil
}

func makeSlice(t reflect.Type, values []any) (any, error) {
	out := reflect.MakeSlice(t, 0, len(values))
	for _, v := range values {
		e := reflect.New(t.Elem()).Elem()
		if err := assign(e, v); err != nil {
			return nil, err
		}
		out = reflect.Append(out, e)
	}
	return out.Interface(), nil
}

func toAnySlice(v any) []any {
	if v == nil {
		return nil
	}
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func zero(t reflect.Type) any {
	if t == nil || t.Kind() == reflect.Interface {
		return nil
	}
	return reflect.Zero(t).Interface()
}

// convert turns a store value into t. Nil stays nil; the zero value is
// chosen where the value is assigned.
func convert(v any, t reflect.Type) (any, error) {
	if v == nil || t == nil || t.Kind() == reflect.Interface {
		if b, ok := v.([]byte); ok && t == nil {
			return string(b), nil
		}
		return v, nil
	}
	if reflect.TypeOf(v) == t {
		return v, nil
	}
	rv, err := query.Convert(v, t)
	if err != nil {
		return nil, ErrConversion.Wrap(err, v, v, t)
	}
	return rv.Interface(), nil
}

// assign stores v into dst, converting store values and building typed
// slices from materialized sequences.
func assign(dst reflect.Value, v any) error {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	rv := reflect.ValueOf(v)
	t := dst.Type()
	switch {
	case rv.Type().AssignableTo(t):
		dst.Set(rv)
		return nil
	case t.Kind() == reflect.Pointer:
		p := reflect.New(t.Elem())
		if err := assign(p.Elem(), v); err != nil {
			return err
		}
		dst.Set(p)
		return nil
	case t.Kind() == reflect.Slice && rv.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8:
		out := reflect.MakeSlice(t, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if err := assign(out.Index(i), rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil
	case rv.Kind() == reflect.Pointer && rv.Type().Elem().AssignableTo(t):
		if rv.IsNil() {
			dst.Set(reflect.Zero(t))
		} else {
			dst.Set(rv.Elem())
		}
		return nil
	case t.Kind() == reflect.String:
		s, err := cast.ToStringE(v)
		if err != nil {
			return ErrConversion.Wrap(err, v, v, t)
		}
		dst.SetString(s)
		return nil
	}
	cv, err := query.Convert(v, t)
	if err != nil {
		return ErrConversion.Wrap(err, v, v, t)
	}
	dst.Set(cv)
	return nil
}
