package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator_ValidFormat(t *testing.T) {
	id := UUIDv7Generator{}.Generate()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)
}

func TestUUIDv7Generator_Concurrent(t *testing.T) {
	gen := UUIDv7Generator{}
	const goroutines = 100

	ids := make(chan string, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- gen.Generate()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate id generated")
		seen[id] = true
	}
	assert.Len(t, seen, goroutines)
}

func TestFixedGenerator_Sequential(t *testing.T) {
	gen := NewFixedGenerator("exec-1", "exec-2")

	assert.Equal(t, "exec-1", gen.Generate())
	assert.Equal(t, "exec-2", gen.Generate())
	assert.PanicsWithValue(t, "FixedGenerator: all ids exhausted", func() { gen.Generate() })
}

func TestProvider_TracesCompileAndExecution(t *testing.T) {
	tracer := mocktracer.New()
	p := newProvider(t, WithTracer(tracer), WithIDGenerator(NewFixedGenerator("exec-1", "exec-2")))
	ctx := context.Background()

	_, err := List[string](ctx, p, byCity("Oslo").Select(names()).Op())
	require.NoError(t, err)
	_, err = One[string](ctx, p, byCity("Paris").Select(names()).First().Op())
	require.Error(t, err)

	spans := tracer.FinishedSpans()
	var ops []string
	for _, s := range spans {
		ops = append(ops, s.OperationName)
	}
	assert.Equal(t, []string{"relq.compile", "relq.query", "relq.compile", "relq.execute"}, ops)

	assert.Equal(t, "exec-1", spans[1].Tag("relq.execution"))
	assert.Equal(t, "sqlite", spans[1].Tag("db.type"))
	assert.Nil(t, spans[1].Tag("error"))

	assert.Equal(t, "exec-2", spans[3].Tag("relq.execution"))
	assert.Equal(t, true, spans[3].Tag("error"))
	assert.Equal(t, spans[0].Tag("relq.plan"), spans[1].Tag("relq.plan"))
}
