package mapping

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/sqlir"
)

type customer struct {
	ID     int64   `relq:"id,pk,generated"`
	Name   string  `relq:",column=full_name"`
	City   *string
	Orders []order `relq:"orders,assoc,related=Order,keys=id,related_keys=customer_id"`
	cache  string
}

type order struct {
	OrderID    int64 `relq:"id,pk"`
	CustomerID int64
	Total      float64
	PlacedAt   time.Time
	Notes      []string
}

func newMapping(t *testing.T) *Mapping {
	t.Helper()
	m := New()
	_, err := Register[customer](m, "Customer")
	require.NoError(t, err)
	_, err = Register[order](m, "Order")
	require.NoError(t, err)
	require.NoError(t, m.Validate())
	return m
}

func TestRegister_ReadsTags(t *testing.T) {
	m := newMapping(t)
	c, err := m.Entity("Customer")
	require.NoError(t, err)

	assert.Equal(t, "customers", c.Table)
	require.Len(t, c.Members, 3)

	id, ok := c.Member("id")
	require.True(t, ok)
	assert.True(t, id.PrimaryKey)
	assert.True(t, id.Generated)
	assert.Equal(t, "INTEGER", id.StoreType)

	name, ok := c.Member("Name")
	require.True(t, ok, "lookup by Go field name")
	assert.Equal(t, "name", name.Name)
	assert.Equal(t, "full_name", name.Column)

	city, _ := c.Member("city")
	assert.True(t, city.Nullable)

	a, ok := c.Association("orders")
	require.True(t, ok)
	assert.True(t, a.Many)
	assert.Equal(t, []string{"id"}, a.Keys)
	assert.Equal(t, "Orders", c.AssociationKey(a))
}

func TestRegister_DefaultsAndSkips(t *testing.T) {
	m := newMapping(t)
	o, err := m.Entity("Order")
	require.NoError(t, err)

	assert.Equal(t, "orders", o.Table)
	names := make([]string, len(o.Members))
	for i, mem := range o.Members {
		names[i] = mem.Name
	}
	assert.Equal(t, []string{"id", "customer_id", "total", "placed_at"}, names)

	placed, _ := o.Member("placed_at")
	assert.Equal(t, "TIMESTAMP", placed.StoreType)

	e, ok := m.EntityFor(reflect.TypeOf(&order{}))
	require.True(t, ok)
	assert.Equal(t, "Order", e.Name)
}

func TestMapping_Errors(t *testing.T) {
	m := newMapping(t)

	_, err := m.Entity("Invoice")
	assert.True(t, ErrUnknownEntity.Is(err))

	_, err = Register[customer](m, "Customer")
	assert.True(t, ErrInvalidEntity.Is(err))

	bad := New()
	_, err = Register[customer](bad, "Customer")
	require.NoError(t, err)
	assert.True(t, ErrInvalidEntity.Is(bad.Validate()), "related entity is not mapped")
}

func TestSnakeAndDefaultTable(t *testing.T) {
	cases := map[string]string{
		"CustomerID": "customer_id",
		"HTTPServer": "http_server",
		"OrderLine":  "order_line",
		"v2Name":     "v2_name",
		"id":         "id",
	}
	for in, want := range cases {
		assert.Equal(t, want, Snake(in), in)
	}
	assert.Equal(t, "order_lines", DefaultTable("OrderLine"))
	assert.Equal(t, "people", DefaultTable("Person"))
}

func TestValuesAndSetMember(t *testing.T) {
	m := newMapping(t)
	c, _ := m.Entity("Customer")

	vals, err := c.Values(customer{ID: 3, Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(3), "name": "Ada", "city": nil}, vals)

	vals, err = c.Values(query.Record{"Name": "Bo", "id": 4})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": 4, "name": "Bo"}, vals)

	_, err = c.Values(order{})
	assert.Error(t, err)

	var cu customer
	require.NoError(t, c.SetMember(&cu, "id", int64(9)))
	require.NoError(t, c.SetMember(&cu, "city", "Oslo"))
	assert.Equal(t, int64(9), cu.ID)
	require.NotNil(t, cu.City)
	assert.Equal(t, "Oslo", *cu.City)

	assert.Error(t, c.SetMember(cu, "id", 1), "needs a pointer")
	assert.True(t, ErrUnknownMember.Is(c.SetMember(&cu, "zip", 1)))
}

func TestInsertCommand_GeneratedKey(t *testing.T) {
	m := newMapping(t)
	cmd, err := m.InsertCommand("Customer", &customer{Name: "Ada"})
	require.NoError(t, err)

	block, ok := cmd.(*sqlir.Block)
	require.True(t, ok)
	require.Len(t, block.Commands, 3)

	ins := block.Commands[0].(*sqlir.Insert)
	assert.Equal(t, "customers", ins.Table.Name)
	require.Len(t, ins.Assignments, 2)
	assert.Equal(t, "full_name", ins.Assignments[0].Column)
	assert.Equal(t, "Ada", ins.Assignments[0].Expr.(*sqlir.Constant).Value)

	decl := block.Commands[1].(*sqlir.Declare)
	assert.Equal(t, "last_insert_id", decl.Vars[0].Expr.(*sqlir.Func).Name)

	proj := block.Commands[2].(*sqlir.Projection)
	assert.Equal(t, sqlir.ScalarValue, proj.Aggregator.Kind)
	assert.True(t, sqlir.Validate(cmd).Valid, sqlir.Validate(cmd).Problems)
}

func TestInsertCommand_NoGeneratedKey(t *testing.T) {
	m := newMapping(t)
	cmd, err := m.InsertCommand("Order", order{OrderID: 1, CustomerID: 2, Total: 9.5})
	require.NoError(t, err)
	ins, ok := cmd.(*sqlir.Insert)
	require.True(t, ok)
	assert.Len(t, ins.Assignments, 4)
}

func TestUpdateDeleteUpsert(t *testing.T) {
	m := newMapping(t)
	o := order{OrderID: 7, CustomerID: 2, Total: 1}

	cmd, err := m.UpdateCommand("Order", o)
	require.NoError(t, err)
	upd := cmd.(*sqlir.Update)
	assert.Len(t, upd.Assignments, 3)
	where := upd.Where.(*sqlir.Binary)
	assert.Equal(t, "id", where.Left.(*sqlir.Column).Name)
	assert.Equal(t, int64(7), where.Right.(*sqlir.Constant).Value)

	cmd, err = m.DeleteCommand("Order", o)
	require.NoError(t, err)
	assert.IsType(t, &sqlir.Delete{}, cmd)

	cmd, err = m.UpsertCommand("Order", o)
	require.NoError(t, err)
	ifc := cmd.(*sqlir.If)
	assert.IsType(t, &sqlir.Exists{}, ifc.Check)
	assert.IsType(t, &sqlir.Update{}, ifc.Then)
	assert.IsType(t, &sqlir.Insert{}, ifc.Else)
}

func TestDeleteCommand_NoPrimaryKey(t *testing.T) {
	type note struct{ Body string }
	m := New()
	MustRegister[note](m, "Note")
	_, err := m.DeleteCommand("Note", note{Body: "x"})
	assert.True(t, ErrNoPrimaryKey.Is(err))
}

func TestBatchInsertCommand(t *testing.T) {
	m := newMapping(t)
	b, err := m.BatchInsertCommand("Customer", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, b.Size)
	ins := b.Operation.(*sqlir.Insert)
	require.Len(t, ins.Assignments, 2)
	assert.Equal(t, 1, ins.Assignments[1].Expr.(*sqlir.NamedValue).Slot)
}

const shopCUE = `
entity: Customer: {
	members: {
		id:   {type: "int", pk: true, generated: true}
		name: {type: "string"}
		city: {type: "string", nullable: true}
	}
	associations: orders: {related: "Order", keys: ["id"], related_keys: ["customer_id"], many: true}
}
entity: Order: {
	table: "purchase_orders"
	members: {
		id:          {type: "int", pk: true}
		customer_id: {type: "int"}
		total:       {type: "float", column: "amount"}
	}
}
`

func TestLoadCUEString(t *testing.T) {
	m, err := LoadCUEString(shopCUE)
	require.NoError(t, err)

	c, err := m.Entity("Customer")
	require.NoError(t, err)
	assert.Nil(t, c.Type)
	assert.Equal(t, "customers", c.Table)
	assert.Equal(t, sqlir.RecordType, c.ResultType())
	require.Len(t, c.Members, 3)
	assert.Equal(t, "id", c.Members[0].Name)

	o, _ := m.Entity("Order")
	assert.Equal(t, "purchase_orders", o.Table)
	total, _ := o.Member("total")
	assert.Equal(t, "amount", total.Column)
	assert.Equal(t, reflect.TypeOf(float64(0)), total.Type)
}

func TestLoadCUEString_Errors(t *testing.T) {
	_, err := LoadCUEString(`entity: A: {members: {x: {type: "decimal"}}}`)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "type", ce.Field)

	_, err = LoadCUEString(`entity: A: {members: {x: {type: "int"}}, associations: b: {related: "B", keys: ["x"], related_keys: ["y"]}}`)
	assert.True(t, ErrInvalidEntity.Is(err))

	_, err = LoadCUEString(`other: 1`)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "entity", ce.Field)
}

func TestLoadCUE_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shop.cue"), []byte("package shop\n"+shopCUE), 0o644))

	m, err := LoadCUE(dir)
	require.NoError(t, err)
	assert.Len(t, m.Entities(), 2)

	_, err = LoadCUE(t.TempDir())
	assert.Error(t, err)
}
