package mapping

import (
	"fmt"
	"reflect"

	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/sqlir"
)

// Values returns the member values of instance keyed by member name.
// instance is a T or *T for typed entities, or a record for any entity.
func (e *Entity) Values(instance any) (map[string]any, error) {
	out := make(map[string]any, len(e.Members))
	switch rec := instance.(type) {
	case map[string]any:
		return e.recordValues(rec), nil
	case query.Record:
		return e.recordValues(rec), nil
	}
	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fmt.Errorf("mapping: nil %s instance", e.Name)
		}
		v = v.Elem()
	}
	if e.Type == nil || v.Type() != e.Type {
		return nil, fmt.Errorf("mapping: %T is not a %s", instance, e.Name)
	}
	for _, m := range e.Members {
		f := v.FieldByIndex(m.index)
		if f.Kind() == reflect.Pointer {
			if f.IsNil() {
				out[m.Name] = nil
				continue
			}
			f = f.Elem()
		}
		out[m.Name] = f.Interface()
	}
	return out, nil
}

func (e *Entity) recordValues(rec map[string]any) map[string]any {
	out := make(map[string]any, len(e.Members))
	for _, m := range e.Members {
		if v, ok := rec[m.Name]; ok {
			out[m.Name] = v
		} else if v, ok := rec[m.Field]; ok && m.Field != "" {
			out[m.Name] = v
		}
	}
	return out
}

// SetMember stores v into the named member of instance, which must be a
// *T or a record.
func (e *Entity) SetMember(instance any, name string, v any) error {
	mem, ok := e.Member(name)
	if !ok {
		return ErrUnknownMember.New(e.Name, name)
	}
	switch rec := instance.(type) {
	case map[string]any:
		rec[mem.Name] = v
		return nil
	case query.Record:
		rec[mem.Name] = v
		return nil
	}
	pv := reflect.ValueOf(instance)
	if pv.Kind() != reflect.Pointer || pv.IsNil() || pv.Elem().Type() != e.Type {
		return fmt.Errorf("mapping: SetMember needs a non-nil *%s, got %T", e.Type, instance)
	}
	f := pv.Elem().FieldByIndex(mem.index)
	cv, err := query.Convert(v, f.Type())
	if err != nil {
		return fmt.Errorf("mapping: %s.%s: %w", e.Name, mem.Name, err)
	}
	f.Set(cv)
	return nil
}

// Generated returns the generated member, if any.
func (e *Entity) Generated() (*Member, bool) {
	for i := range e.Members {
		if e.Members[i].Generated {
			return &e.Members[i], true
		}
	}
	return nil, false
}

// Insertable returns the members an insert assigns: every member that is
// not generated by the store.
func (e *Entity) Insertable() []Member {
	var out []Member
	for _, m := range e.Members {
		if !m.Generated {
			out = append(out, m)
		}
	}
	return out
}

func (e *Entity) table() *sqlir.Table {
	return &sqlir.Table{Alias: sqlir.NewAlias(), Entity: e.Name, Name: e.Table}
}

func (e *Entity) column(t *sqlir.Table, m Member) *sqlir.Column {
	return &sqlir.Column{Alias: t.Alias, Name: m.Column, Typ: m.Type, StoreType: m.StoreType}
}

func constant(v any, m Member) sqlir.Node {
	return &sqlir.Constant{Value: v, Typ: m.Type}
}

// keyPredicate matches the row of instance by primary key.
func (e *Entity) keyPredicate(t *sqlir.Table, values map[string]any) (sqlir.Node, error) {
	pk := e.PrimaryKey()
	if len(pk) == 0 {
		return nil, ErrNoPrimaryKey.New(e.Name)
	}
	var pred sqlir.Node
	for _, m := range pk {
		pred = sqlir.And(pred, sqlir.Eq(e.column(t, m), constant(values[m.Name], m)))
	}
	return pred, nil
}

// InsertCommand builds an insert of instance. When the entity has a
// generated member the command is a block that also yields the generated
// value.
func (m *Mapping) InsertCommand(entity string, instance any) (sqlir.Node, error) {
	e, err := m.Entity(entity)
	if err != nil {
		return nil, err
	}
	values, err := e.Values(instance)
	if err != nil {
		return nil, err
	}
	t := e.table()
	var as []sqlir.Assignment
	for _, mem := range e.Insertable() {
		as = append(as, sqlir.Assignment{Column: mem.Column, Expr: constant(values[mem.Name], mem)})
	}
	return e.withGeneratedKey(&sqlir.Insert{Table: t, Assignments: as}), nil
}

func (e *Entity) withGeneratedKey(insert *sqlir.Insert) sqlir.Node {
	gen, ok := e.Generated()
	if !ok {
		return insert
	}
	v := &sqlir.Variable{Name: gen.Name, Typ: gen.Type}
	sel := &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: gen.Column, Expr: v, StoreType: gen.StoreType}},
	}
	return &sqlir.Block{Commands: []sqlir.Node{
		insert,
		&sqlir.Declare{Vars: []sqlir.VariableDecl{{
			Name: gen.Name,
			Expr: &sqlir.Func{Name: "last_insert_id", Typ: reflect.TypeOf(int64(0))},
		}}},
		&sqlir.Projection{
			Select:     sel,
			Projector:  &sqlir.Column{Alias: sel.Alias, Name: gen.Column, Typ: gen.Type},
			Aggregator: &sqlir.Aggregator{Kind: sqlir.ScalarValue},
		},
	}}
}

// UpdateCommand builds an update of every non-key member of the row
// identified by instance's primary key.
func (m *Mapping) UpdateCommand(entity string, instance any) (sqlir.Node, error) {
	e, err := m.Entity(entity)
	if err != nil {
		return nil, err
	}
	values, err := e.Values(instance)
	if err != nil {
		return nil, err
	}
	return e.update(values)
}

func (e *Entity) update(values map[string]any) (*sqlir.Update, error) {
	t := e.table()
	where, err := e.keyPredicate(t, values)
	if err != nil {
		return nil, err
	}
	var as []sqlir.Assignment
	for _, mem := range e.Members {
		if mem.PrimaryKey || mem.Generated {
			continue
		}
		as = append(as, sqlir.Assignment{Column: mem.Column, Expr: constant(values[mem.Name], mem)})
	}
	return &sqlir.Update{Table: t, Where: where, Assignments: as}, nil
}

// DeleteCommand builds a delete of the row identified by instance's
// primary key.
func (m *Mapping) DeleteCommand(entity string, instance any) (sqlir.Node, error) {
	e, err := m.Entity(entity)
	if err != nil {
		return nil, err
	}
	values, err := e.Values(instance)
	if err != nil {
		return nil, err
	}
	t := e.table()
	where, err := e.keyPredicate(t, values)
	if err != nil {
		return nil, err
	}
	return &sqlir.Delete{Table: t, Where: where}, nil
}

// UpsertCommand builds "update the row if its key exists, otherwise
// insert it".
func (m *Mapping) UpsertCommand(entity string, instance any) (sqlir.Node, error) {
	e, err := m.Entity(entity)
	if err != nil {
		return nil, err
	}
	values, err := e.Values(instance)
	if err != nil {
		return nil, err
	}
	upd, err := e.update(values)
	if err != nil {
		return nil, err
	}
	t := e.table()
	where, err := e.keyPredicate(t, values)
	if err != nil {
		return nil, err
	}
	check := &sqlir.Exists{Select: &sqlir.Select{
		Alias:   sqlir.NewAlias(),
		Columns: []sqlir.ColumnDecl{{Name: "value", Expr: sqlir.NewConstant(int64(1))}},
		From:    t,
		Where:   where,
	}}
	ins, err := m.InsertCommand(entity, instance)
	if err != nil {
		return nil, err
	}
	return &sqlir.If{Check: check, Then: upd, Else: ins}, nil
}

// BatchInsertCommand builds a batched insert whose slot i is bound to the
// i'th member returned by Insertable for each item.
func (m *Mapping) BatchInsertCommand(entity string, size int) (*sqlir.Batch, error) {
	e, err := m.Entity(entity)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 1
	}
	t := e.table()
	var as []sqlir.Assignment
	for i, mem := range e.Insertable() {
		as = append(as, sqlir.Assignment{Column: mem.Column, Expr: sqlir.NewSlotValue(i, mem.Type)})
	}
	return &sqlir.Batch{Operation: &sqlir.Insert{Table: t, Assignments: as}, Size: size}, nil
}
