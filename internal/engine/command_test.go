package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/query"
)

func countOf(t *testing.T, p *Provider, entity string) int64 {
	t.Helper()
	n, err := One[int64](context.Background(), p, query.FromEntity(entity).Count().Op())
	require.NoError(t, err)
	return n
}

func TestInsert_ReadsBackGeneratedKey(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()

	first := &note{Text: "hello"}
	id, err := p.Insert(ctx, "Note", first)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, int64(1), first.ID)

	second := query.Record{"text": "again"}
	id, err = p.Insert(ctx, "Note", second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
	assert.Equal(t, int64(2), second["id"])
}

func TestInsert_WithoutGeneratedKey(t *testing.T) {
	p := newProvider(t)
	city := "Lima"

	id, err := p.Insert(context.Background(), "Customer", customer{ID: 9, Name: "Di", City: &city})
	require.NoError(t, err)
	assert.Nil(t, id)

	got, err := List[customer](context.Background(), p, byCity("Lima").Op())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Di", got[0].Name)
}

func TestUpdateAndDelete(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()

	n, err := p.Update(ctx, "Customer", customer{ID: 2, Name: "Bea"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := List[customer](ctx, p, customers().Where(query.Fn("c", query.Eq(query.M("c.id"), int64(2)))).Op())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Bea", got[0].Name)
	assert.Nil(t, got[0].City)

	n, err = p.Delete(ctx, "Customer", customer{ID: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(2), countOf(t, p, "Customer"))

	n, err = p.Delete(ctx, "Customer", customer{ID: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestInsertOrUpdate(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()

	inserted, err := p.InsertOrUpdate(ctx, "Customer", customer{ID: 1, Name: "Ada L."})
	require.NoError(t, err)
	assert.False(t, inserted)

	inserted, err = p.InsertOrUpdate(ctx, "Customer", customer{ID: 4, Name: "Eve"})
	require.NoError(t, err)
	assert.True(t, inserted)

	assert.Equal(t, int64(4), countOf(t, p, "Customer"))
	name, err := One[string](ctx, p, customers().
		Where(query.Fn("c", query.Eq(query.M("c.id"), int64(1)))).Select(names()).Single().Op())
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", name)
}

func TestInsertBatch(t *testing.T) {
	p := newProvider(t)

	items := []any{
		order{ID: 10, CustomerID: 3, Total: 1},
		order{ID: 11, CustomerID: 3, Total: 2},
		&order{ID: 12, CustomerID: 3, Total: 3},
	}
	n, err := p.InsertBatch(context.Background(), "Order", items, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, int64(6), countOf(t, p, "Order"))
}

func TestInsertBatch_StopsWhenCanceled(t *testing.T) {
	p := newProvider(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := p.InsertBatch(ctx, "Order", []any{order{ID: 10, CustomerID: 3}}, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

func TestWrites_UnknownEntity(t *testing.T) {
	p := newProvider(t)

	_, err := p.Insert(context.Background(), "Invoice", query.Record{})
	require.Error(t, err)
	assert.True(t, mapping.ErrUnknownEntity.Is(err))
}
