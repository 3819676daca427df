// Package plancache keeps compiled plans keyed by query shape: the
// operator tree with its literals replaced by slots, plus the types of the
// values bound to those slots. Two queries that differ only in literal
// values share one plan.
//
// The cache is safe for concurrent use. Plans are computed outside the
// lock; when two callers compile the same new shape, the first plan stored
// wins and the other is discarded.
package plancache

import (
	"reflect"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mitchellh/hashstructure"
	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/relq/internal/query"
)

// ErrUnhashable is returned by Key.Hash when the shape cannot be hashed.
var ErrUnhashable = errors.NewKind("query shape cannot be hashed: %v")

// Key identifies a shape: the parameterized tree, the types of its slot
// values and the types of the named arguments it is called with.
type Key struct {
	Shape query.Op
	Types []reflect.Type
	Args  map[string]reflect.Type
}

func (k Key) equal(o Key) bool {
	if len(k.Types) != len(o.Types) || len(k.Args) != len(o.Args) {
		return false
	}
	for i := range k.Types {
		if k.Types[i] != o.Types[i] {
			return false
		}
	}
	for name, t := range k.Args {
		if ot, ok := o.Args[name]; !ok || ot != t {
			return false
		}
	}
	return query.Equal(k.Shape, o.Shape)
}

func typeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	return t.PkgPath() + "." + t.String()
}

// hashable is what the bucket hash is computed from. Types are named by
// string since reflect.Type values cannot be walked.
type hashable struct {
	Shape query.Op
	Types []string
	Args  map[string]string
}

// Hash returns the bucket hash of k. Shapes holding values that cannot be
// walked, such as sequences of structs with unexported fields, report an
// error.
func (k Key) Hash() (h uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrUnhashable.New(r)
		}
	}()
	names := make([]string, len(k.Types))
	for i, t := range k.Types {
		names[i] = typeName(t)
	}
	var args map[string]string
	if len(k.Args) > 0 {
		args = make(map[string]string, len(k.Args))
		for name, t := range k.Args {
			args[name] = typeName(t)
		}
	}
	return hashstructure.Hash(hashable{Shape: k.Shape, Types: names, Args: args}, nil)
}

type entry[P any] struct {
	key  Key
	plan P
}

// Cache maps shapes to plans of type P.
type Cache[P any] struct {
	mu      sync.Mutex
	buckets map[uint64][]*entry[P]
	bounded *lru.Cache

	hits, misses atomic.Int64
}

// New returns a cache holding at most maxEntries shapes, evicting the least
// recently used. maxEntries <= 0 means unbounded.
func New[P any](maxEntries int) *Cache[P] {
	c := &Cache[P]{}
	if maxEntries > 0 {
		// lru.New only fails for a non-positive size.
		c.bounded, _ = lru.New(maxEntries)
	} else {
		c.buckets = make(map[uint64][]*entry[P])
	}
	return c
}

func (c *Cache[P]) bucket(h uint64) []*entry[P] {
	if c.bounded == nil {
		return c.buckets[h]
	}
	if v, ok := c.bounded.Get(h); ok {
		return v.([]*entry[P])
	}
	return nil
}

func (c *Cache[P]) setBucket(h uint64, b []*entry[P]) {
	if c.bounded == nil {
		c.buckets[h] = b
		return
	}
	c.bounded.Add(h, b)
}

// Lookup returns the plan stored for k.
func (c *Cache[P]) Lookup(k Key) (P, bool) {
	var zero P
	h, err := k.Hash()
	if err != nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.bucket(h) {
		if e.key.equal(k) {
			return e.plan, true
		}
	}
	return zero, false
}

// Store saves plan under k unless a plan is already stored, and returns
// the plan that is stored afterwards. Shapes that cannot be hashed are not
// stored.
func (c *Cache[P]) Store(k Key, plan P) P {
	h, err := k.Hash()
	if err != nil {
		return plan
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.bucket(h)
	for _, e := range b {
		if e.key.equal(k) {
			return e.plan
		}
	}
	c.setBucket(h, append(append([]*entry[P](nil), b...), &entry[P]{key: k, plan: plan}))
	return plan
}

// GetOrCompile returns the plan for k, compiling and storing it on a miss.
// hit reports whether the plan came from the cache.
func (c *Cache[P]) GetOrCompile(k Key, compile func() (P, error)) (plan P, hit bool, err error) {
	if p, ok := c.Lookup(k); ok {
		c.hits.Add(1)
		return p, true, nil
	}
	c.misses.Add(1)
	p, err := compile()
	if err != nil {
		return p, false, err
	}
	return c.Store(k, p), false, nil
}

// Len returns the number of stored plans.
func (c *Cache[P]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	if c.bounded == nil {
		for _, b := range c.buckets {
			n += len(b)
		}
		return n
	}
	for _, h := range c.bounded.Keys() {
		if v, ok := c.bounded.Peek(h); ok {
			n += len(v.([]*entry[P]))
		}
	}
	return n
}

// Stats reports lookups answered from the cache and lookups that compiled.
func (c *Cache[P]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Purge drops every stored plan.
func (c *Cache[P]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bounded != nil {
		c.bounded.Purge()
		return
	}
	c.buckets = make(map[uint64][]*entry[P])
}

// KeyOf parameterizes op and returns its key with the extracted values.
// args are the named arguments of the call.
func KeyOf(op query.Op, args ...query.NamedArg) (Key, []any) {
	shape, values := query.Parameterize(op)
	types := make([]reflect.Type, len(values))
	for i, v := range values {
		types[i] = reflect.TypeOf(v)
	}
	k := Key{Shape: shape, Types: types}
	if len(args) > 0 {
		k.Args = make(map[string]reflect.Type, len(args))
		for _, a := range args {
			k.Args[a.Name] = reflect.TypeOf(a.Value)
		}
	}
	return k, values
}
