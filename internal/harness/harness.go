package harness

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/engine"
	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/store"
)

// Harness holds what one scenario run needs: the seeded store, a provider
// over it and the oracle over the same rows.
type Harness struct {
	store    *store.Store
	mapping  *mapping.Mapping
	provider *engine.Provider
	oracle   *Oracle
	logger   *slog.Logger
}

// Option configures a run.
type Option func(*Harness)

// WithLogger sets the logger handed to the provider. Runs are silent by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// LoadMapping compiles the scenario's entity specs.
func LoadMapping(s *Scenario) (*mapping.Mapping, error) {
	if s.Schema != "" {
		return mapping.LoadCUEString(s.Schema)
	}
	return mapping.LoadCUE(s.Mapping)
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Compile the mapping and create its schema
// 2. Seed the rows and read them back for the oracle
// 3. Evaluate each query through the engine and the oracle
// 4. Return result with pass/fail and mismatches
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	ctx := context.Background()
	h := &Harness{logger: slog.New(slog.DiscardHandler)} // Suppress logs in tests
	for _, opt := range opts {
		opt(h)
	}

	m, err := LoadMapping(scenario)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	h.mapping = m

	st, err := store.Open(store.Memory)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	h.store = st

	if err := h.seed(ctx, scenario.Seed); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	h.provider = engine.New(st.Conn(), m, dialect.SQLite, engine.WithLogger(h.logger))

	result := NewResult()
	for i := range scenario.Queries {
		h.runQuery(ctx, &scenario.Queries[i], result)
	}
	return result, nil
}

// seed creates the schema, inserts the scenario rows in mapping order and
// builds the oracle from what the store holds afterwards, so generated
// keys and stored value types are the same on both sides.
func (h *Harness) seed(ctx context.Context, seed map[string][]map[string]any) error {
	if err := h.store.CreateSchema(ctx, h.mapping); err != nil {
		return err
	}
	for name := range seed {
		if _, err := h.mapping.Entity(name); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	tables := make(map[string][]map[string]any)
	for _, e := range h.mapping.Entities() {
		if err := h.store.Seed(ctx, e, seed[e.Name]); err != nil {
			return err
		}
		rows, err := h.store.ReadTable(ctx, e)
		if err != nil {
			return err
		}
		tables[e.Name] = rows
	}
	o, err := NewOracle(h.mapping, tables)
	if err != nil {
		return err
	}
	h.oracle = o
	return nil
}

func (h *Harness) runQuery(ctx context.Context, step *QueryStep, result *Result) {
	op := step.Query.Query.Op()
	args := step.NamedArgs()
	qr := QueryResult{Name: step.Name}
	defer func() { result.Queries = append(result.Queries, qr) }()

	if text, err := h.provider.Translate(op, args...); err == nil {
		qr.Text = text
	}

	got, engineErr := h.provider.Execute(ctx, op, args...)
	want, oracleErr := h.oracle.Eval(op, args...)
	if engineErr != nil {
		qr.Err = engineErr.Error()
	}

	if step.Error != "" {
		if engineErr == nil || !strings.Contains(engineErr.Error(), step.Error) {
			result.AddError(fmt.Sprintf("query %s: engine error = %v, want error containing %q", step.Name, engineErr, step.Error))
		}
		if oracleErr == nil || !strings.Contains(oracleErr.Error(), step.Error) {
			result.AddError(fmt.Sprintf("query %s: oracle error = %v, want error containing %q", step.Name, oracleErr, step.Error))
		}
		return
	}
	if engineErr != nil {
		result.AddError(fmt.Sprintf("query %s: engine: %v", step.Name, engineErr))
		return
	}
	if oracleErr != nil {
		result.AddError(fmt.Sprintf("query %s: oracle: %v", step.Name, oracleErr))
		return
	}

	g, err := normalized(got, step.Ordered)
	if err != nil {
		result.AddError(fmt.Sprintf("query %s: engine result: %v", step.Name, err))
		return
	}
	w, err := normalized(want, step.Ordered)
	if err != nil {
		result.AddError(fmt.Sprintf("query %s: oracle result: %v", step.Name, err))
		return
	}
	qr.Engine, qr.Oracle = g, w
	if !reflect.DeepEqual(g, w) {
		result.AddError(fmt.Sprintf("query %s: engine returned %s, oracle %s", step.Name, show(g), show(w)))
	}

	expected, ok, err := step.Expected()
	if err != nil {
		result.AddError(err.Error())
		return
	}
	if !ok {
		return
	}
	e, err := normalized(expected, step.Ordered)
	if err != nil {
		result.AddError(fmt.Sprintf("query %s: expect: %v", step.Name, err))
		return
	}
	if !reflect.DeepEqual(g, e) {
		result.AddError(fmt.Sprintf("query %s: engine returned %s, expected %s", step.Name, show(g), show(e)))
	}
}

// normalized normalizes v and sorts its sequences, keeping the top-level
// order when ordered is set.
func normalized(v any, ordered bool) (any, error) {
	n, err := canonical(v)
	if err != nil {
		return nil, err
	}
	return sortSequences(n, !ordered)
}

// canonical normalizes v and folds whole floats to integers.
func canonical(v any) (any, error) {
	n, err := ir.Normalize(v)
	if err != nil {
		return nil, err
	}
	return foldFloats(n), nil
}

func foldFloats(v any) any {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
	case []any:
		for i := range x {
			x[i] = foldFloats(x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = foldFloats(x[k])
		}
	}
	return v
}

// sortSequences sorts every nested sequence by canonical key, and the top
// level too when top is set.
func sortSequences(v any, top bool) (any, error) {
	switch x := v.(type) {
	case []any:
		for i := range x {
			s, err := sortSequences(x[i], true)
			if err != nil {
				return nil, err
			}
			x[i] = s
		}
		if !top {
			return x, nil
		}
		keys := make([]string, len(x))
		for i := range x {
			k, err := ir.Key(x[i])
			if err != nil {
				return nil, err
			}
			keys[i] = k
		}
		sort.Sort(byKey{keys: keys, vals: x})
		return x, nil
	case map[string]any:
		for k := range x {
			s, err := sortSequences(x[k], true)
			if err != nil {
				return nil, err
			}
			x[k] = s
		}
	}
	return v, nil
}

type byKey struct {
	keys []string
	vals []any
}

func (b byKey) Len() int           { return len(b.keys) }
func (b byKey) Less(i, j int) bool { return b.keys[i] < b.keys[j] }
func (b byKey) Swap(i, j int) {
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
	b.vals[i], b.vals[j] = b.vals[j], b.vals[i]
}

func show(v any) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Translate returns the command texts of op for lang without running it.
func Translate(m *mapping.Mapping, lang *dialect.Language, op query.Op, args ...query.NamedArg) ([]string, error) {
	p := engine.New(nil, m, lang, engine.WithLogger(slog.New(slog.DiscardHandler)))
	plan, _, err := p.Prepare(op, args...)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, c := range plan.Commands() {
		out = append(out, c.Text)
	}
	return out, nil
}
