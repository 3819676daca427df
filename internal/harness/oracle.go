package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/roach88/relq/internal/engine"
	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/query"
)

// Oracle evaluates operator trees in memory over a fixed set of rows.
//
// It shares the client-side value functions of the query package with the
// engine, so the only thing it does differently is everything else: no
// binding, no SQL and no store.
type Oracle struct {
	mapping *mapping.Mapping
	tables  map[string][]*row
}

// row is one entity row. Keeping the entity lets members and associations
// of the row be resolved.
type row struct {
	entity *mapping.Entity
	values map[string]any
}

type env map[string]any

func (e env) with(params []string, args ...any) env {
	out := make(env, len(e)+len(params))
	for k, v := range e {
		out[k] = v
	}
	for i, p := range params {
		if i < len(args) {
			out[p] = args[i]
		}
	}
	return out
}

// NewOracle returns an evaluator over tables, which map entity names to
// rows keyed by member name (as returned by store.ReadTable).
func NewOracle(m *mapping.Mapping, tables map[string][]map[string]any) (*Oracle, error) {
	o := &Oracle{mapping: m, tables: make(map[string][]*row, len(tables))}
	for name, rows := range tables {
		e, err := m.Entity(name)
		if err != nil {
			return nil, err
		}
		rs := make([]*row, len(rows))
		for i, values := range rows {
			rs[i] = &row{entity: e, values: values}
		}
		o.tables[e.Name] = rs
	}
	return o, nil
}

// Eval evaluates op with the given named arguments. Sequences are returned
// as []any; entity rows as records keyed by member name.
func (o *Oracle) Eval(op query.Op, args ...query.NamedArg) (any, error) {
	vars := make(env, len(args))
	for _, a := range args {
		vars[argKey(a.Name)] = a.Value
	}
	var (
		v   any
		err error
	)
	if query.IsScalar(op) {
		v, err = o.scalar(op, vars)
	} else {
		v, err = o.seq(op, vars)
	}
	if err != nil {
		return nil, err
	}
	return plain(v), nil
}

// argKey is the env key of a named argument; it cannot clash with a
// lambda parameter.
func argKey(name string) string { return "@" + name }

func (o *Oracle) seq(op query.Op, vars env) ([]any, error) {
	switch x := op.(type) {
	case query.From:
		e, err := o.mapping.Entity(x.Entity)
		if err != nil {
			return nil, err
		}
		rows := o.tables[e.Name]
		out := make([]any, len(rows))
		for i, r := range rows {
			out[i] = r
		}
		return out, nil
	case query.Of:
		v, err := o.expr(x.Expr, vars)
		if err != nil {
			return nil, err
		}
		return sequence(v)
	case query.Where:
		src, err := o.seq(x.Source, vars)
		if err != nil {
			return nil, err
		}
		return o.filter(src, x.Pred, vars)
	case query.Select:
		src, err := o.seq(x.Source, vars)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(src))
		for i, el := range src {
			if out[i], err = o.call(x.Fn, vars, el); err != nil {
				return nil, err
			}
		}
		return out, nil
	case query.SelectMany:
		src, err := o.seq(x.Source, vars)
		if err != nil {
			return nil, err
		}
		var out []any
		for _, el := range src {
			v, err := o.call(x.Coll, vars, el)
			if err != nil {
				return nil, err
			}
			items, err := sequence(v)
			if err != nil {
				return nil, err
			}
			for _, item := range items {
				if x.Result.IsZero() {
					out = append(out, item)
					continue
				}
				r, err := o.call(x.Result, vars, el, item)
				if err != nil {
					return nil, err
				}
				out = append(out, r)
			}
		}
		return out, nil
	case query.Join, query.GroupJoin:
		return o.join(x, vars)
	case query.GroupBy:
		return o.groupBy(x, vars)
	case query.OrderBy:
		return o.orderBy(x, vars)
	case query.Distinct:
		src, err := o.seq(x.Source, vars)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(src))
		var out []any
		for _, el := range src {
			k, err := keyOf(el)
			if err != nil {
				return nil, err
			}
			if !seen[k] {
				seen[k] = true
				out = append(out, el)
			}
		}
		return out, nil
	case query.Reverse:
		src, err := o.seq(x.Source, vars)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(src))
		for i, el := range src {
			out[len(src)-1-i] = el
		}
		return out, nil
	case query.Skip, query.Take:
		src, err := o.seq(query.Source(op), vars)
		if err != nil {
			return nil, err
		}
		var nx query.Expr
		if s, ok := x.(query.Skip); ok {
			nx = s.N
		} else {
			nx = x.(query.Take).N
		}
		nv, err := o.expr(nx, vars)
		if err != nil {
			return nil, err
		}
		n := cast.ToInt(nv)
		n = max(0, min(n, len(src)))
		if _, ok := x.(query.Skip); ok {
			return src[n:], nil
		}
		return src[:n], nil
	case query.DefaultIfEmpty:
		src, err := o.seq(x.Source, vars)
		if err != nil {
			return nil, err
		}
		if len(src) == 0 {
			return []any{nil}, nil
		}
		return src, nil
	}
	return nil, fmt.Errorf("oracle: %T is not a sequence", op)
}

func (o *Oracle) filter(src []any, pred query.Lambda, vars env) ([]any, error) {
	if pred.IsZero() {
		return src, nil
	}
	var out []any
	for _, el := range src {
		ok, err := o.call(pred, vars, el)
		if err != nil {
			return nil, err
		}
		if query.Truthy(ok) {
			out = append(out, el)
		}
	}
	return out, nil
}

func (o *Oracle) join(op query.Op, vars env) ([]any, error) {
	var (
		outerOp, innerOp           query.Op
		outerKey, innerKey, result query.Lambda
		grouped                    bool
	)
	switch x := op.(type) {
	case query.Join:
		outerOp, innerOp, outerKey, innerKey, result = x.Outer, x.Inner, x.OuterKey, x.InnerKey, x.Result
	case query.GroupJoin:
		outerOp, innerOp, outerKey, innerKey, result = x.Outer, x.Inner, x.OuterKey, x.InnerKey, x.Result
		grouped = true
	}
	outer, err := o.seq(outerOp, vars)
	if err != nil {
		return nil, err
	}
	inner, err := o.seq(innerOp, vars)
	if err != nil {
		return nil, err
	}
	innerKeys := make([]any, len(inner))
	for i, in := range inner {
		if innerKeys[i], err = o.call(innerKey, vars, in); err != nil {
			return nil, err
		}
	}
	var out []any
	for _, ou := range outer {
		k, err := o.call(outerKey, vars, ou)
		if err != nil {
			return nil, err
		}
		matches := []any{}
		for i, in := range inner {
			eq, err := keysEqual(k, innerKeys[i])
			if err != nil {
				return nil, err
			}
			if eq {
				matches = append(matches, in)
			}
		}
		if grouped {
			r, err := o.call(result, vars, ou, matches)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
			continue
		}
		for _, in := range matches {
			r, err := o.call(result, vars, ou, in)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// keysEqual compares join keys with store equality: null matches nothing
// and records match member by member.
func keysEqual(a, b any) (bool, error) {
	ra, aok := asRecord(a)
	rb, bok := asRecord(b)
	if aok && bok {
		for name, av := range ra {
			eq, err := keysEqual(av, rb[name])
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	}
	v, err := query.ApplyBinary(query.OpEq, a, b)
	if err != nil {
		return false, err
	}
	return query.Truthy(v), nil
}

func asRecord(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case query.Record:
		return x, true
	case map[string]any:
		return x, true
	}
	return nil, false
}

func (o *Oracle) groupBy(x query.GroupBy, vars env) ([]any, error) {
	src, err := o.seq(x.Source, vars)
	if err != nil {
		return nil, err
	}
	type group struct {
		key   any
		elems []any
	}
	var groups []*group
	index := make(map[string]*group)
	for _, el := range src {
		k, err := o.call(x.Key, vars, el)
		if err != nil {
			return nil, err
		}
		id, err := keyOf(k)
		if err != nil {
			return nil, err
		}
		g, ok := index[id]
		if !ok {
			g = &group{key: k, elems: []any{}}
			index[id] = g
			groups = append(groups, g)
		}
		v := el
		if !x.Elem.IsZero() {
			if v, err = o.call(x.Elem, vars, el); err != nil {
				return nil, err
			}
		}
		g.elems = append(g.elems, v)
	}
	out := make([]any, len(groups))
	for i, g := range groups {
		if x.Result.IsZero() {
			out[i] = query.Grouping{Key: g.key, Elements: g.elems}
			continue
		}
		if out[i], err = o.call(x.Result, vars, g.key, g.elems); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// orderBy sorts by the keys of a chain of orderings: the first OrderBy
// whose Then is false and every ThenBy above it.
func (o *Oracle) orderBy(x query.OrderBy, vars env) ([]any, error) {
	chain := []query.OrderBy{x}
	for chain[0].Then {
		prev, ok := chain[0].Source.(query.OrderBy)
		if !ok {
			break
		}
		chain = append([]query.OrderBy{prev}, chain...)
	}
	src, err := o.seq(chain[0].Source, vars)
	if err != nil {
		return nil, err
	}
	keys := make([][]any, len(src))
	for i, el := range src {
		keys[i] = make([]any, len(chain))
		for j, ob := range chain {
			if keys[i][j], err = o.call(ob.Key, vars, el); err != nil {
				return nil, err
			}
		}
	}
	idx := make([]int, len(src))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for j, ob := range chain {
			c := query.SortCompare(keys[idx[a]][j], keys[idx[b]][j])
			if ob.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	out := make([]any, len(src))
	for i, k := range idx {
		out[i] = src[k]
	}
	return out, nil
}

func (o *Oracle) scalar(op query.Op, vars env) (any, error) {
	switch x := op.(type) {
	case query.Element:
		src, err := o.seq(x.Source, vars)
		if err != nil {
			return nil, err
		}
		if src, err = o.filter(src, x.Pred, vars); err != nil {
			return nil, err
		}
		switch x.Kind {
		case query.Single, query.SingleOrDefault:
			if len(src) > 1 {
				return nil, engine.ErrMoreThanOneElement.New()
			}
		}
		if len(src) == 0 {
			if x.Kind.OrDefault() {
				return o.zero(o.elemType(x.Source)), nil
			}
			return nil, engine.ErrNoElements.New()
		}
		v := src[0]
		if x.Kind == query.Last || x.Kind == query.LastOrDefault {
			v = src[len(src)-1]
		}
		if v == nil {
			return o.zero(o.elemType(x.Source)), nil
		}
		return v, nil
	case query.Aggregate:
		src, err := o.seq(x.Source, vars)
		if err != nil {
			return nil, err
		}
		if x.Kind == query.Count {
			if src, err = o.filter(src, x.Fn, vars); err != nil {
				return nil, err
			}
			return int64(len(src)), nil
		}
		return o.aggregate(x, src, vars)
	case query.Any:
		src, err := o.seq(x.Source, vars)
		if err != nil {
			return nil, err
		}
		if src, err = o.filter(src, x.Pred, vars); err != nil {
			return nil, err
		}
		return len(src) > 0, nil
	case query.All:
		src, err := o.seq(x.Source, vars)
		if err != nil {
			return nil, err
		}
		for _, el := range src {
			ok, err := o.call(x.Pred, vars, el)
			if err != nil {
				return nil, err
			}
			if !query.Truthy(ok) {
				return false, nil
			}
		}
		return true, nil
	case query.Contains:
		src, err := o.seq(x.Source, vars)
		if err != nil {
			return nil, err
		}
		v, err := o.expr(x.Value, vars)
		if err != nil {
			return nil, err
		}
		for _, el := range src {
			eq, err := keysEqual(el, v)
			if err != nil {
				return nil, err
			}
			if eq {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, fmt.Errorf("oracle: %T is not a scalar", op)
}

// aggregate computes sum, min, max and average, ignoring nulls. Over no
// values the sum and the average are zero; min and max are the zero value
// of the aggregated member, or null when its type is not known.
func (o *Oracle) aggregate(x query.Aggregate, src []any, vars env) (any, error) {
	var (
		acc any
		n   int
	)
	for _, el := range src {
		v := el
		if !x.Fn.IsZero() {
			var err error
			if v, err = o.call(x.Fn, vars, el); err != nil {
				return nil, err
			}
		}
		if v == nil {
			continue
		}
		n++
		if acc == nil {
			acc = v
			continue
		}
		switch x.Kind {
		case query.Sum, query.Average:
			s, err := query.ApplyBinary(query.OpAdd, acc, v)
			if err != nil {
				return nil, err
			}
			acc = s
		case query.Min, query.Max:
			c, err := query.Compare(v, acc)
			if err != nil {
				return nil, err
			}
			if (x.Kind == query.Min && c < 0) || (x.Kind == query.Max && c > 0) {
				acc = v
			}
		}
	}
	switch {
	case n == 0 && x.Kind == query.Sum:
		return int64(0), nil
	case n == 0 && x.Kind == query.Average:
		return float64(0), nil
	case n == 0 && x.Fn.IsZero():
		return o.zero(o.elemType(x.Source)), nil
	case n == 0:
		return o.zero(o.memberType(x.Fn, x.Source)), nil
	case x.Kind == query.Average:
		return cast.ToFloat64(acc) / float64(n), nil
	}
	return acc, nil
}

// elemType is the type of the elements of op when they are members read
// from entity rows, and nil otherwise.
func (o *Oracle) elemType(op query.Op) reflect.Type {
	switch x := op.(type) {
	case query.Select:
		return o.memberType(x.Fn, x.Source)
	case query.Where, query.OrderBy, query.Distinct, query.Reverse, query.Skip, query.Take:
		return o.elemType(query.Source(op))
	}
	return nil
}

// memberType is the type of the member fn reads from the entity rows of
// src, or nil when fn does anything else.
func (o *Oracle) memberType(fn query.Lambda, src query.Op) reflect.Type {
	m, ok := fn.Body.(query.Member)
	if !ok || len(fn.Params) != 1 {
		return nil
	}
	if v, ok := m.X.(query.Var); !ok || v.Name != fn.Params[0] {
		return nil
	}
	e := o.entityOf(src)
	if e == nil {
		return nil
	}
	mem, ok := e.Member(m.Name)
	if !ok {
		return nil
	}
	return mem.Type
}

func (o *Oracle) entityOf(op query.Op) *mapping.Entity {
	switch x := op.(type) {
	case query.From:
		e, err := o.mapping.Entity(x.Entity)
		if err != nil {
			return nil
		}
		return e
	case query.Where, query.OrderBy, query.Distinct, query.Reverse, query.Skip, query.Take:
		return o.entityOf(query.Source(op))
	}
	return nil
}

// zero matches the value the engine materializes for a missing scalar.
func (o *Oracle) zero(t reflect.Type) any {
	if t == nil || t.Kind() == reflect.Interface || t.Kind() == reflect.Pointer {
		return nil
	}
	return reflect.Zero(t).Interface()
}

func (o *Oracle) call(l query.Lambda, vars env, args ...any) (any, error) {
	if l.IsZero() {
		return args[0], nil
	}
	return o.expr(l.Body, vars.with(l.Params, args...))
}

func (o *Oracle) expr(e query.Expr, vars env) (any, error) {
	switch x := e.(type) {
	case query.Const:
		return x.Value, nil
	case query.Param:
		if x.Name != "" {
			v, ok := vars[argKey(x.Name)]
			if !ok {
				return nil, engine.ErrMissingArgument.New(x.Name)
			}
			return v, nil
		}
		return nil, engine.ErrMissingArgument.New(fmt.Sprintf("slot %d", x.Slot))
	case query.Var:
		v, ok := vars[x.Name]
		if !ok {
			return nil, fmt.Errorf("oracle: unbound variable %s", x.Name)
		}
		return v, nil
	case query.Member:
		v, err := o.expr(x.X, vars)
		if err != nil {
			return nil, err
		}
		return o.member(v, x.Name)
	case query.Binary:
		a, err := o.expr(x.L, vars)
		if err != nil {
			return nil, err
		}
		b, err := o.expr(x.R, vars)
		if err != nil {
			return nil, err
		}
		if x.Op == query.OpEq || x.Op == query.OpNe {
			eq, ok, err := o.equality(x, a, b)
			if err != nil || ok {
				return eq, err
			}
		}
		return query.ApplyBinary(x.Op, a, b)
	case query.Unary:
		v, err := o.expr(x.X, vars)
		if err != nil {
			return nil, err
		}
		return query.ApplyUnary(x.Op, v)
	case query.Call:
		args := make([]any, len(x.Args))
		for i, a := range x.Args {
			v, err := o.expr(a, vars)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return query.CallFunc(x.Fn, args)
	case query.Cond:
		t, err := o.expr(x.Test, vars)
		if err != nil {
			return nil, err
		}
		if query.Truthy(t) {
			return o.expr(x.Then, vars)
		}
		return o.expr(x.Else, vars)
	case query.New:
		return o.construct(x, vars)
	case query.Subquery:
		if query.IsScalar(x.Op) {
			return o.scalar(x.Op, vars)
		}
		return o.seq(x.Op, vars)
	}
	return nil, fmt.Errorf("oracle: unsupported expression %T", e)
}

// equality handles the comparisons the store does not evaluate with "=":
// a test against a literal null is a null test (an empty test for a
// sequence) and entities or records compare member by member. ok is false
// for an ordinary comparison.
func (o *Oracle) equality(x query.Binary, a, b any) (v any, ok bool, err error) {
	ne := x.Op == query.OpNe
	if isNil(x.L) || isNil(x.R) {
		other := a
		if isNil(x.L) {
			other = b
		}
		null := other == nil
		if seq, isSeq := other.([]any); isSeq {
			null = len(seq) == 0
		}
		return null != ne, true, nil
	}
	if !constructed(a) && !constructed(b) {
		return nil, false, nil
	}
	eq, err := o.partsEqual(a, b)
	if err != nil {
		return nil, true, err
	}
	return eq != ne, true, nil
}

func isNil(e query.Expr) bool {
	c, ok := e.(query.Const)
	return ok && c.Value == nil
}

func constructed(v any) bool {
	switch v.(type) {
	case *row, query.Record:
		return true
	}
	return false
}

// partsEqual equates entity rows by primary key and records by their
// members, comparing each part with store equality.
func (o *Oracle) partsEqual(a, b any) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}
	if ra, ok := a.(*row); ok {
		rb, ok := b.(*row)
		if !ok || ra.entity != rb.entity {
			return false, nil
		}
		for _, m := range ra.entity.PrimaryKey() {
			eq, err := keysEqual(ra.values[m.Name], rb.values[m.Name])
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	}
	return keysEqual(plain(a), plain(b))
}

func (o *Oracle) construct(x query.New, vars env) (any, error) {
	if x.Type == nil {
		rec := make(query.Record, len(x.Names))
		for i, name := range x.Names {
			v, err := o.expr(x.Args[i], vars)
			if err != nil {
				return nil, err
			}
			rec[name] = v
		}
		return rec, nil
	}
	out := reflect.New(x.Type).Elem()
	for i, name := range x.Names {
		v, err := o.expr(x.Args[i], vars)
		if err != nil {
			return nil, err
		}
		f := out.FieldByName(name)
		if !f.IsValid() {
			return nil, fmt.Errorf("oracle: %s has no field %s", x.Type, name)
		}
		cv, err := query.Convert(plain(v), f.Type())
		if err != nil {
			return nil, err
		}
		f.Set(cv)
	}
	return out.Interface(), nil
}

// member reads name from v: an entity member or association, a record
// entry, a grouping's key or elements, or a struct field.
func (o *Oracle) member(v any, name string) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *row:
		if m, ok := x.entity.Member(name); ok {
			return x.values[m.Name], nil
		}
		if a, ok := x.entity.Association(name); ok {
			return o.navigate(x, a)
		}
		return nil, mapping.ErrUnknownMember.New(x.entity.Name, name)
	case query.Record:
		return x[name], nil
	case map[string]any:
		return x[name], nil
	case query.Grouping:
		switch {
		case strings.EqualFold(name, "key"):
			return x.Key, nil
		case strings.EqualFold(name, "elements"):
			return x.Elements, nil
		}
	}
	rv := reflect.Indirect(reflect.ValueOf(v))
	if rv.Kind() == reflect.Struct {
		if f := rv.FieldByName(name); f.IsValid() {
			return f.Interface(), nil
		}
	}
	return nil, fmt.Errorf("oracle: %T has no member %s", v, name)
}

// navigate follows association a from r: the matching related rows for a
// collection, the first match (or null) for a reference.
func (o *Oracle) navigate(r *row, a *mapping.Association) (any, error) {
	related, err := o.mapping.Entity(a.Related)
	if err != nil {
		return nil, err
	}
	matches := []any{}
	for _, cand := range o.tables[related.Name] {
		ok := true
		for i, k := range a.Keys {
			lm, _ := r.entity.Member(k)
			rm, _ := related.Member(a.RelatedKeys[i])
			if lm == nil || rm == nil {
				return nil, fmt.Errorf("oracle: association %s.%s has unknown keys", r.entity.Name, a.Name)
			}
			eq, err := keysEqual(r.values[lm.Name], cand.values[rm.Name])
			if err != nil {
				return nil, err
			}
			if !eq {
				ok = false
				break
			}
		}
		if ok {
			matches = append(matches, cand)
		}
	}
	if a.Many {
		return matches, nil
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

// sequence turns a sequence value (an evaluated subquery, association
// collection, group or local slice) into []any.
func sequence(v any) ([]any, error) {
	switch x := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return x, nil
	}
	if !query.IsSequence(v) {
		return nil, fmt.Errorf("oracle: %T is not a sequence", v)
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// plain replaces entity rows by records, recursively.
func plain(v any) any {
	switch x := v.(type) {
	case *row:
		rec := make(map[string]any, len(x.values))
		for k, val := range x.values {
			rec[k] = val
		}
		return rec
	case query.Record:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = plain(val)
		}
		return out
	case query.Grouping:
		return query.Grouping{Key: plain(x.Key), Elements: plain(x.Elements).([]any)}
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = plain(val)
		}
		return out
	}
	return v
}

// keyOf identifies a value for grouping and distinct.
func keyOf(v any) (string, error) {
	n, err := canonical(plain(v))
	if err != nil {
		return "", err
	}
	return ir.Key(n)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
