package engine

import (
	"context"
	"reflect"

	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/sqlir"
)

// Insert inserts instance as a row of entity. When the entity has a
// generated member its value is read back, stored into instance (a
// pointer or a record) and returned.
func (p *Provider) Insert(ctx context.Context, entity string, instance any) (any, error) {
	cmd, err := p.mapping.InsertCommand(entity, instance)
	if err != nil {
		return nil, err
	}
	v, err := p.ExecuteCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if _, ok := cmd.(*sqlir.Block); !ok {
		return nil, nil
	}
	return v, p.storeGenerated(entity, instance, v)
}

// Update writes every non-key member of instance to the row with its
// primary key and returns the number of rows changed.
func (p *Provider) Update(ctx context.Context, entity string, instance any) (int64, error) {
	cmd, err := p.mapping.UpdateCommand(entity, instance)
	if err != nil {
		return 0, err
	}
	return p.affected(ctx, cmd)
}

// Delete removes the row with the primary key of instance and returns the
// number of rows removed.
func (p *Provider) Delete(ctx context.Context, entity string, instance any) (int64, error) {
	cmd, err := p.mapping.DeleteCommand(entity, instance)
	if err != nil {
		return 0, err
	}
	return p.affected(ctx, cmd)
}

// InsertOrUpdate updates the row with the primary key of instance if it
// exists and inserts instance otherwise. It reports whether a row was
// inserted.
func (p *Provider) InsertOrUpdate(ctx context.Context, entity string, instance any) (bool, error) {
	cmd, err := p.mapping.UpsertCommand(entity, instance)
	if err != nil {
		return false, err
	}
	cond := cmd.(*sqlir.If)
	x := p.newExecution(ctx, "relq.upsert", nil, nil)
	x.span.SetTag("relq.entity", entity)
	exists, err := x.check(querysql.Parameterize(cond.Check))
	if err != nil {
		x.finish(err)
		return false, err
	}
	if exists {
		_, err = x.run(querysql.Parameterize(cond.Then))
		x.finish(err)
		return false, err
	}
	v, err := x.run(querysql.Parameterize(cond.Else))
	x.finish(err)
	if err != nil {
		return false, err
	}
	if _, ok := cond.Else.(*sqlir.Block); ok {
		err = p.storeGenerated(entity, instance, v)
	}
	return true, err
}

// InsertBatch inserts items as rows of entity, size items per round of
// commands, and returns the number of rows inserted. Generated members
// are not read back.
func (p *Provider) InsertBatch(ctx context.Context, entity string, items []any, size int) (int64, error) {
	b, err := p.mapping.BatchInsertCommand(entity, size)
	if err != nil {
		return 0, err
	}
	e, err := p.mapping.Entity(entity)
	if err != nil {
		return 0, err
	}
	members := e.Insertable()
	rows := make([][]any, len(items))
	for i, item := range items {
		values, err := e.Values(item)
		if err != nil {
			return 0, err
		}
		row := make([]any, len(members))
		for j, m := range members {
			row[j] = values[m.Name]
		}
		rows[i] = row
	}
	x := p.newExecution(ctx, "relq.batch", nil, nil)
	x.span.SetTag("relq.entity", entity)
	n, err := x.batch(b, rows)
	x.finish(err)
	return n, err
}

// ExecuteCommand runs a write command built by the mapping, or any other
// command tree, and returns its value: the row count of a write, the value
// of a trailing select.
func (p *Provider) ExecuteCommand(ctx context.Context, cmd sqlir.Node, args ...query.NamedArg) (any, error) {
	x := p.newExecution(ctx, "relq.command", nil, args)
	v, err := x.run(querysql.Parameterize(cmd))
	x.finish(err)
	return v, err
}

func (p *Provider) affected(ctx context.Context, cmd sqlir.Node) (int64, error) {
	v, err := p.ExecuteCommand(ctx, cmd)
	if err != nil {
		return 0, err
	}
	n, _ := v.(int64)
	return n, nil
}

func (p *Provider) storeGenerated(entity string, instance, v any) error {
	e, err := p.mapping.Entity(entity)
	if err != nil {
		return err
	}
	gen, ok := e.Generated()
	if !ok || v == nil {
		return nil
	}
	switch instance.(type) {
	case map[string]any, query.Record:
	default:
		if reflect.ValueOf(instance).Kind() != reflect.Pointer {
			return nil
		}
	}
	return e.SetMember(instance, gen.Name, v)
}

// run executes a parameterized command tree. Dialects that accept several
// commands per round trip get it as one command; elsewhere blocks and
// conditionals are stepped through here.
func (x *execution) run(n sqlir.Node) (any, error) {
	if x.p.lang.AllowsMultipleCommands {
		switch n.(type) {
		case *sqlir.Block, *sqlir.If:
			return x.runBatch(n)
		}
	}
	switch c := n.(type) {
	case *sqlir.Block:
		var last any
		for _, sub := range c.Commands {
			v, err := x.run(sub)
			if err != nil {
				return nil, err
			}
			last = v
		}
		return last, nil
	case *sqlir.Declare:
		return nil, x.declare(c)
	case *sqlir.If:
		ok, err := x.check(c.Check)
		if err != nil {
			return nil, err
		}
		if ok {
			return x.run(c.Then)
		}
		if c.Else == nil {
			return int64(0), nil
		}
		return x.run(c.Else)
	case *sqlir.Projection:
		return x.scalar(c)
	case *sqlir.Insert, *sqlir.Update, *sqlir.Delete:
		return x.write(c)
	}
	return nil, ErrNotMaterializable.New(n)
}

// write runs one insert, update or delete and records its effect for
// later declarations.
func (x *execution) write(n sqlir.Node) (any, error) {
	sub, err := x.substitute(n)
	if err != nil {
		return nil, err
	}
	cmd, err := querysql.Format(x.p.lang, sub)
	if err != nil {
		return nil, err
	}
	res, err := x.exec(cmd)
	if err != nil {
		return nil, err
	}
	x.affected, err = res.RowsAffected()
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	x.lastID, x.hasID = id, err == nil
	return x.affected, nil
}

// declare binds variables. The last generated key and the last row count
// come from the previous write; other expressions are read with a select.
func (x *execution) declare(d *sqlir.Declare) error {
	if x.vars == nil {
		x.vars = make(map[string]any)
	}
	known := true
	for _, v := range d.Vars {
		switch fn, _ := v.Expr.(*sqlir.Func); {
		case fn != nil && fn.Name == "last_insert_id" && x.hasID:
			x.vars[v.Name] = x.lastID
		case fn != nil && fn.Name == "rows_affected":
			x.vars[v.Name] = x.affected
		default:
			known = false
		}
	}
	if known {
		return nil
	}
	sub, err := x.substitute(d)
	if err != nil {
		return err
	}
	cmd, err := querysql.Format(x.p.lang, sub)
	if err != nil {
		return err
	}
	rows, err := x.open(cmd, nil)
	if err != nil {
		return err
	}
	raw, err := take(rows, 1)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return ErrNoElements.New()
	}
	for i, v := range d.Vars {
		x.vars[v.Name] = raw[0][i]
	}
	return nil
}

// check evaluates a predicate in the store.
func (x *execution) check(pred sqlir.Node) (bool, error) {
	sel := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: "value", Expr: pred}},
	}
	v, err := x.scalar(&sqlir.Projection{
		Select:     sel,
		Projector:  &sqlir.Column{Alias: sel.Alias, Name: "value", Typ: reflect.TypeOf(false)},
		Aggregator: &sqlir.Aggregator{Kind: sqlir.ScalarValue},
	})
	if err != nil {
		return false, err
	}
	return query.Truthy(v), nil
}

// scalar runs a projection that yields one value from its first column.
func (x *execution) scalar(p *sqlir.Projection) (any, error) {
	sub, err := x.substitute(p)
	if err != nil {
		return nil, err
	}
	cmd, err := querysql.Format(x.p.lang, sub)
	if err != nil {
		return nil, err
	}
	rows, err := x.open(cmd, nil)
	if err != nil {
		return nil, err
	}
	raw, err := take(rows, 1)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || len(raw[0]) == 0 {
		return zero(p.Projector.Type()), nil
	}
	return convert(raw[0][0], p.Projector.Type())
}

// substitute replaces declared variables with their values.
func (x *execution) substitute(n sqlir.Node) (sqlir.Node, error) {
	var missing string
	out := sqlir.Transform(n, func(c sqlir.Node) sqlir.Node {
		v, ok := c.(*sqlir.Variable)
		if !ok {
			return c
		}
		val, ok := x.vars[v.Name]
		if !ok {
			missing = v.Name
			return c
		}
		return sqlir.NewFixedValue(v.Name, val, v.Typ)
	})
	if missing != "" {
		return nil, ErrMissingArgument.New("@" + missing)
	}
	return out, nil
}

// runBatch sends a block or conditional as one command. Its value is the
// first column of the last row of the last result, or the row count when
// the batch returns no rows.
func (x *execution) runBatch(n sqlir.Node) (any, error) {
	cmd, err := querysql.Format(x.p.lang, n)
	if err != nil {
		return nil, err
	}
	if !yieldsRows(n) {
		res, err := x.exec(cmd)
		if err != nil {
			return nil, err
		}
		return res.RowsAffected()
	}
	rows, err := x.open(cmd, nil)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var last any
	for {
		for rows.Next() {
			vals, err := rows.Values()
			if err != nil {
				return nil, err
			}
			if len(vals) > 0 {
				last = vals[0]
			}
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		sets, ok := rows.(resultSets)
		if !ok || !sets.NextResultSet() {
			break
		}
	}
	return convert(last, n.Type())
}

func yieldsRows(n sqlir.Node) bool {
	switch c := n.(type) {
	case *sqlir.Projection:
		return true
	case *sqlir.Block:
		return len(c.Commands) > 0 && yieldsRows(c.Commands[len(c.Commands)-1])
	case *sqlir.If:
		return yieldsRows(c.Then) || (c.Else != nil && yieldsRows(c.Else))
	}
	return false
}

// batch runs b's operation once per row of slot values, checking for
// cancellation between groups of b.Size rows.
func (x *execution) batch(b *sqlir.Batch, rows [][]any) (int64, error) {
	cmd, err := querysql.Format(x.p.lang, querysql.Parameterize(b.Operation))
	if err != nil {
		return 0, err
	}
	size := max(b.Size, 1)
	var total int64
	for start := 0; start < len(rows); start += size {
		if err := x.ctx.Err(); err != nil {
			return total, err
		}
		end := min(start+size, len(rows))
		for _, row := range rows[start:end] {
			x.slots = row
			res, err := x.exec(cmd)
			if err != nil {
				return total, err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return total, err
			}
			total += n
		}
		x.log.Debug("batch written", "rows", end-start, "total", total)
	}
	return total, nil
}
