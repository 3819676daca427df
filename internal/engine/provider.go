package engine

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/opentracing/opentracing-go"

	"github.com/roach88/relq/internal/binder"
	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/optimizer"
	"github.com/roach88/relq/internal/plancache"
	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/sqlir"
)

// Provider translates and executes queries for one mapping, dialect and
// connection.
//
// Thread-safety: a Provider is safe for concurrent use. Its plan cache is
// its only mutable state. Cursors it returns are not.
type Provider struct {
	conn    Connection
	mapping *mapping.Mapping
	lang    *dialect.Language

	policy      binder.Policy
	paging      optimizer.Paging
	cache       *plancache.Cache[*Plan]
	cacheSize   int
	log         *slog.Logger
	logCommands bool
	tracer      opentracing.Tracer
	ids         IDGenerator
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// WithCommandLogging logs every command text at debug level.
func WithCommandLogging(on bool) Option {
	return func(p *Provider) { p.logCommands = on }
}

// WithTracer sets the tracer executions are reported to. The default is
// the opentracing global tracer.
func WithTracer(t opentracing.Tracer) Option {
	return func(p *Provider) { p.tracer = t }
}

// WithPolicy sets the relationship loading policy.
func WithPolicy(policy binder.Policy) Option {
	return func(p *Provider) { p.policy = policy }
}

// WithPaging sets how skip is expressed.
func WithPaging(paging optimizer.Paging) Option {
	return func(p *Provider) { p.paging = paging }
}

// WithPlanCacheSize bounds the plan cache to n shapes. 0 means unbounded.
func WithPlanCacheSize(n int) Option {
	return func(p *Provider) { p.cacheSize = n }
}

// WithIDGenerator sets how executions are named.
//
// Default: UUIDv7Generator
// Use NewFixedGenerator("exec-1") for deterministic logs in tests.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Provider) { p.ids = g }
}

// New returns a provider. conn may be nil for a provider that only
// translates.
func New(conn Connection, m *mapping.Mapping, lang *dialect.Language, opts ...Option) *Provider {
	p := &Provider{
		conn:    conn,
		mapping: m,
		lang:    lang,
		ids:     UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.lang == nil {
		p.lang = dialect.SQLite
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.tracer == nil {
		p.tracer = opentracing.GlobalTracer()
	}
	p.cache = plancache.New[*Plan](p.cacheSize)
	for _, c := range p.policy.Cycles(m) {
		p.log.Warn("include policy has a cycle", "path", c.Path)
	}
	p.log.Info("provider ready", "dialect", p.lang.Name, "plan_cache", p.cacheSize)
	return p
}

// Dialect returns the provider's dialect.
func (p *Provider) Dialect() *dialect.Language { return p.lang }

// Mapping returns the provider's mapping.
func (p *Provider) Mapping() *mapping.Mapping { return p.mapping }

// Prepare returns the plan for op, compiling it on a cache miss, and the
// literal values of op in slot order.
func (p *Provider) Prepare(op query.Op, args ...query.NamedArg) (*Plan, []any, error) {
	key, values := plancache.KeyOf(op, args...)
	plan, hit, err := p.cache.GetOrCompile(key, func() (*Plan, error) {
		span := p.tracer.StartSpan("relq.compile")
		defer span.Finish()
		plan, err := p.build(key)
		if err != nil {
			span.SetTag("error", true)
			return nil, err
		}
		span.SetTag("relq.plan", plan.ID)
		p.log.Info("plan compiled", "plan", plan.ID[:12], "query", query.OpString(op), "commands", len(plan.cmds))
		return plan, nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("translate %s: %w", query.OpString(op), err)
	}
	if hit {
		p.log.Debug("plan cache hit", "plan", plan.ID[:12])
	}
	return plan, values, nil
}

// Translate returns the command text of op.
func (p *Provider) Translate(op query.Op, args ...query.NamedArg) (string, error) {
	plan, _, err := p.Prepare(op, args...)
	if err != nil {
		return "", err
	}
	return plan.Text, nil
}

// Explain returns the optimized plan tree of op.
func (p *Provider) Explain(op query.Op, args ...query.NamedArg) (string, error) {
	plan, _, err := p.Prepare(op, args...)
	if err != nil {
		return "", err
	}
	return sqlir.Dump(plan.Tree), nil
}

// CacheStats reports plan cache hits, misses and size.
func (p *Provider) CacheStats() (hits, misses int64, size int) {
	hits, misses = p.cache.Stats()
	return hits, misses, p.cache.Len()
}

// Query executes a sequence query and returns a cursor over its values.
func (p *Provider) Query(ctx context.Context, op query.Op, args ...query.NamedArg) (*Cursor, error) {
	plan, slots, err := p.Prepare(op, args...)
	if err != nil {
		return nil, err
	}
	if plan.root.agg != nil {
		return nil, ErrNotASequence.New(query.OpString(op), "one value", "a sequence")
	}
	return p.open(ctx, plan, slots, args)
}

func (p *Provider) open(ctx context.Context, plan *Plan, slots []any, args []query.NamedArg) (*Cursor, error) {
	x := p.newExecution(ctx, "relq.query", slots, args)
	x.span.SetTag("relq.plan", plan.ID)
	cur, err := x.cursor(plan.root)
	if err != nil {
		x.finish(err)
		return nil, err
	}
	return cur, nil
}

// Execute executes op and returns its result: a slice of the element type
// for sequence queries, one value otherwise.
func (p *Provider) Execute(ctx context.Context, op query.Op, args ...query.NamedArg) (any, error) {
	plan, slots, err := p.Prepare(op, args...)
	if err != nil {
		return nil, err
	}
	if plan.root.agg == nil {
		cur, err := p.open(ctx, plan, slots, args)
		if err != nil {
			return nil, err
		}
		defer cur.Close()
		var values []any
		for v, err := range cur.All() {
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return makeSlice(plan.root.seqType(), values)
	}
	x := p.newExecution(ctx, "relq.execute", slots, args)
	x.span.SetTag("relq.plan", plan.ID)
	v, err := x.single(plan.root)
	x.finish(err)
	return v, err
}

// List executes a sequence query and converts its values to T.
func List[T any](ctx context.Context, p *Provider, op query.Op, args ...query.NamedArg) ([]T, error) {
	cur, err := p.Query(ctx, op, args...)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	var out []T
	for v, err := range cur.All() {
		if err != nil {
			return nil, err
		}
		t, err := as[T](v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// One executes a query that yields one value and converts it to T.
func One[T any](ctx context.Context, p *Provider, op query.Op, args ...query.NamedArg) (T, error) {
	var zero T
	if !query.IsScalar(op) {
		return zero, ErrNotASequence.New(query.OpString(op), "a sequence", "one value")
	}
	v, err := p.Execute(ctx, op, args...)
	if err != nil {
		return zero, err
	}
	return as[T](v)
}

func as[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	dst := reflect.New(reflect.TypeFor[T]()).Elem()
	if err := assign(dst, v); err != nil {
		return zero, err
	}
	return dst.Interface().(T), nil
}
