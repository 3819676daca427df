package engine

import (
	"context"
	"log/slog"

	"github.com/opentracing/opentracing-go"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/sqlir"
)

// execution is the state of one call: the values bound to the plan's
// parameters and the client joins already fetched.
type execution struct {
	ctx  context.Context
	p    *Provider
	id   string
	span opentracing.Span
	log  *slog.Logger

	slots []any
	args  map[string]any
	joins map[*joinPlan]map[string][]any

	// Declared variables and the effect of the last write command.
	vars     map[string]any
	lastID   int64
	affected int64
	hasID    bool
}

func (p *Provider) newExecution(ctx context.Context, operation string, slots []any, args []query.NamedArg) *execution {
	id := p.ids.Generate()
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, p.tracer, operation)
	span.SetTag("relq.execution", id)
	span.SetTag("db.type", p.lang.Name)
	x := &execution{
		ctx:   ctx,
		p:     p,
		id:    id,
		span:  span,
		log:   p.log.With("execution", id),
		slots: slots,
		args:  make(map[string]any, len(args)),
	}
	for _, a := range args {
		x.args[a.Name] = a.Value
	}
	return x
}

// finish ends the execution's span, recording err.
func (x *execution) finish(err error) {
	if err != nil {
		x.span.SetTag("error", true)
		x.span.LogKV("event", "error", "message", err.Error())
		x.log.Error("execution failed", "error", err)
	}
	x.span.Finish()
}

func (x *execution) param(v *sqlir.NamedValue, outer []any) (any, error) {
	switch {
	case v.Slot >= 0:
		if v.Slot >= len(x.slots) {
			return nil, ErrMissingArgument.New(v.Name)
		}
		return x.slots[v.Slot], nil
	case v.Outer >= 0:
		if v.Outer >= len(outer) {
			return nil, ErrMissingArgument.New(v.Name)
		}
		return outer[v.Outer], nil
	case v.Arg != "":
		a, ok := x.args[v.Arg]
		if !ok {
			return nil, ErrMissingArgument.New(v.Arg)
		}
		return a, nil
	}
	return v.Value, nil
}

func (x *execution) bind(cmd querysql.Command, outer []any) ([]any, error) {
	out := make([]any, len(cmd.Params))
	for i, p := range cmd.Params {
		v, err := x.param(p, outer)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (x *execution) open(cmd querysql.Command, outer []any) (Rows, error) {
	params, err := x.bind(cmd, outer)
	if err != nil {
		return nil, err
	}
	if x.p.logCommands {
		x.log.Debug("query", "text", cmd.Text, "params", len(params))
	}
	return x.p.conn.Query(x.ctx, cmd.Text, params...)
}

func (x *execution) exec(cmd querysql.Command) (Result, error) {
	params, err := x.bind(cmd, nil)
	if err != nil {
		return nil, err
	}
	if x.p.logCommands {
		x.log.Debug("exec", "text", cmd.Text, "params", len(params))
	}
	return x.p.conn.Exec(x.ctx, cmd.Text, params...)
}

// take reads up to n rows (all when n < 0), copies them and closes rows.
func take(rows Rows, n int) ([][]any, error) {
	var out [][]any
	for n < 0 || len(out) < n {
		if !rows.Next() {
			break
		}
		vals, err := rows.Values()
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, append([]any(nil), vals...))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	return out, rows.Close()
}

// rowLimit is the number of rows a reduction needs: one for first and
// scalar values, two to tell single from many.
func rowLimit(q *queryPlan) int {
	if q.agg == nil {
		return -1
	}
	switch q.agg.Kind {
	case sqlir.Single, sqlir.SingleOrDefault:
		return 2
	}
	return 1
}

// values runs q and materializes the rows its reduction needs.
func (x *execution) values(q *queryPlan, outer []any) ([]any, error) {
	rows, err := x.open(q.cmd, outer)
	if err != nil {
		return nil, err
	}
	raw, err := take(rows, rowLimit(q))
	if err != nil {
		return nil, err
	}
	out := make([]any, len(raw))
	for i, row := range raw {
		if out[i], err = q.read(x, row); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// nested runs a per-row query with the outer row values it reads.
func (x *execution) nested(q *queryPlan, outer []any) (any, error) {
	vals, err := x.values(q, outer)
	if err != nil {
		return nil, err
	}
	return reduceValues(q, vals)
}

// single runs a root query with a singleton or scalar aggregator.
func (x *execution) single(q *queryPlan) (any, error) {
	return x.nested(q, nil)
}

// clientJoin returns the children of j grouped by inner key, running its
// command on first use.
func (x *execution) clientJoin(j *joinPlan) (map[string][]any, error) {
	if g, ok := x.joins[j]; ok {
		return g, nil
	}
	rows, err := x.open(j.query.cmd, nil)
	if err != nil {
		return nil, err
	}
	raw, err := take(rows, -1)
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]any)
	for _, row := range raw {
		key, err := readAll(j.innerKey, x, row)
		if err != nil {
			return nil, err
		}
		k, err := ir.RowKey(key)
		if err != nil {
			return nil, err
		}
		v, err := j.query.read(x, row)
		if err != nil {
			return nil, err
		}
		groups[k] = append(groups[k], v)
	}
	if x.joins == nil {
		x.joins = make(map[*joinPlan]map[string][]any)
	}
	x.joins[j] = groups
	x.log.Debug("client join fetched", "rows", len(raw), "keys", len(groups))
	return groups, nil
}

// cursor opens the root command of a sequence query. Plans that run
// further commands per row read their rows first.
func (x *execution) cursor(q *queryPlan) (*Cursor, error) {
	rows, err := x.open(q.cmd, nil)
	if err != nil {
		return nil, err
	}
	if q.nested {
		raw, err := take(rows, -1)
		if err != nil {
			return nil, err
		}
		i := 0
		next := func() (any, bool, error) {
			if i >= len(raw) {
				return nil, false, nil
			}
			row := raw[i]
			raw[i] = nil
			i++
			v, err := q.read(x, row)
			return v, err == nil, err
		}
		return newCursor(next, x.release(nil)), nil
	}
	next := func() (any, bool, error) {
		if !rows.Next() {
			return nil, false, rows.Err()
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, false, err
		}
		v, err := q.read(x, vals)
		return v, err == nil, err
	}
	return newCursor(next, x.release(rows)), nil
}

// release closes rows, if any, and ends the execution.
func (x *execution) release(rows Rows) func(error) error {
	return func(cause error) error {
		var err error
		if rows != nil {
			err = rows.Close()
		}
		if cause == nil {
			cause = err
		}
		x.finish(cause)
		return err
	}
}
