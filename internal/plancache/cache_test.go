package plancache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/query"
)

type plan struct{ id int }

func byCity(city any) query.Op {
	return query.FromEntity("Customer").
		Where(query.Fn("c", query.Eq(query.M("c.City"), city))).
		Take(10).
		Op()
}

func TestKeyOf_LiteralsBecomeValues(t *testing.T) {
	k, values := KeyOf(byCity("Oslo"))
	assert.Equal(t, []any{"Oslo", 10}, values)
	require.Len(t, k.Types, 2)
	assert.Equal(t, "string", k.Types[0].String())
	assert.Equal(t, "int", k.Types[1].String())
}

func TestCache_LiteralOnlyDifferencesShareAPlan(t *testing.T) {
	c := New[*plan](0)
	compiles := 0
	compile := func() (*plan, error) {
		compiles++
		return &plan{id: compiles}, nil
	}

	k1, _ := KeyOf(byCity("Oslo"))
	p1, hit, err := c.GetOrCompile(k1, compile)
	require.NoError(t, err)
	assert.False(t, hit)

	k2, _ := KeyOf(byCity("Bergen"))
	p2, hit, err := c.GetOrCompile(k2, compile)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, compiles)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCache_DistinguishesShapesAndTypes(t *testing.T) {
	c := New[*plan](0)
	n := 0
	compile := func() (*plan, error) {
		n++
		return &plan{id: n}, nil
	}
	for _, op := range []query.Op{
		byCity("Oslo"),
		byCity(42),  // same shape, different value type
		byCity(nil), // nil stays in the shape
		byCity([]string{"Oslo", "Bergen"}),
		byCity([]string{"Oslo"}),
		query.FromEntity("Customer").Where(query.Fn("c", query.Ne(query.M("c.City"), "Oslo"))).Take(10).Op(),
	} {
		k, _ := KeyOf(op)
		_, hit, err := c.GetOrCompile(k, compile)
		require.NoError(t, err)
		assert.False(t, hit, query.OpString(op))
	}
	assert.Equal(t, 6, c.Len())
}

func TestCache_CompileErrorsAreNotStored(t *testing.T) {
	c := New[*plan](0)
	k, _ := KeyOf(byCity("Oslo"))
	_, _, err := c.GetOrCompile(k, func() (*plan, error) { return nil, fmt.Errorf("boom") })
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	_, ok := c.Lookup(k)
	assert.False(t, ok)
}

func TestCache_FirstStoredPlanWins(t *testing.T) {
	c := New[*plan](0)
	k, _ := KeyOf(byCity("Oslo"))
	first := c.Store(k, &plan{id: 1})
	second := c.Store(k, &plan{id: 2})
	assert.Equal(t, 1, first.id)
	assert.Same(t, first, second)
}

func TestCache_ConcurrentCompilersAgree(t *testing.T) {
	c := New[*plan](0)
	k, _ := KeyOf(byCity("Oslo"))

	const workers = 16
	got := make([]*plan, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			p, _, err := c.GetOrCompile(k, func() (*plan, error) {
				time.Sleep(time.Millisecond)
				return &plan{id: i}, nil
			})
			assert.NoError(t, err)
			got[i] = p
		}()
	}
	close(start)
	wg.Wait()

	for _, p := range got[1:] {
		assert.Same(t, got[0], p)
	}
	assert.Equal(t, 1, c.Len())
}

func TestCache_BoundedEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[*plan](2)
	keys := []Key{}
	for _, entity := range []string{"A", "B", "C"} {
		k, _ := KeyOf(query.FromEntity(entity).Op())
		keys = append(keys, k)
	}
	c.Store(keys[0], &plan{id: 0})
	c.Store(keys[1], &plan{id: 1})
	_, ok := c.Lookup(keys[0])
	require.True(t, ok)
	c.Store(keys[2], &plan{id: 2})

	assert.Equal(t, 2, c.Len())
	_, ok = c.Lookup(keys[1])
	assert.False(t, ok, "B was least recently used")
	_, ok = c.Lookup(keys[0])
	assert.True(t, ok)

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCache_SameFieldsDifferentOperators(t *testing.T) {
	c := New[*plan](0)
	kd, _ := KeyOf(query.FromEntity("A").Distinct().Op())
	kr, _ := KeyOf(query.FromEntity("A").Reverse().Op())

	c.Store(kd, &plan{id: 1})
	c.Store(kr, &plan{id: 2})
	assert.Equal(t, 2, c.Len())
	p, ok := c.Lookup(kr)
	require.True(t, ok)
	assert.Equal(t, 2, p.id)
}

func TestKeyOf_ArgumentTypesAreKeyed(t *testing.T) {
	c := New[*plan](0)
	op := query.FromEntity("Customer").Where(query.Fn("c", query.Eq(query.M("c.City"), query.Arg("city")))).Op()
	ks, _ := KeyOf(op, query.Named("city", "Oslo"))
	ks2, _ := KeyOf(op, query.Named("city", "Bergen"))
	ki, _ := KeyOf(op, query.Named("city", 7))

	c.Store(ks, &plan{id: 1})
	p, ok := c.Lookup(ks2)
	require.True(t, ok)
	assert.Equal(t, 1, p.id)
	_, ok = c.Lookup(ki)
	assert.False(t, ok)
}
