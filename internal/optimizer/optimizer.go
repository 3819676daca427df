// Package optimizer rewrites a bound projection into a smaller equivalent
// one.
//
// The pipeline is fixed. Each stage is a full-tree rewrite that returns its
// input unchanged (pointer-equal) when it has nothing to do; after a stage
// that changed the tree the cleanup rules run again:
//
//	hoist_group_aggregates
//	cleanup
//	include_relationships                  -> cleanup
//	rewrite_singleton_projections          -> cleanup
//	rewrite_client_joins                   -> cleanup
//	rewrite_apply_to_join, rewrite_cross_join -> cleanup
//	rewrite_order_by                       -> cleanup
//	lower_paging_to_row_number, rewrite_order_by -> cleanup
//
// cleanup is remove_unused_columns, remove_redundant_columns,
// remove_redundant_subqueries and remove_redundant_joins, repeated while a
// round changes something, up to maxCleanupRounds.
//
// Aggregates are hoisted first because subquery merging may splice out the
// grouped select they are tied to.
package optimizer

import (
	"log/slog"

	"github.com/roach88/relq/internal/binder"
	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/sqlir"
)

// Paging says how skip is expressed.
type Paging int

const (
	// PagingNative uses OFFSET where the dialect supports it.
	PagingNative Paging = iota
	// PagingRowNumber always lowers skip to a row-number filter.
	PagingRowNumber
)

// Options configure one Optimize call.
type Options struct {
	Lang    *dialect.Language
	Mapping *mapping.Mapping
	Policy  binder.Policy
	Paging  Paging
	Logger  *slog.Logger
}

// Rule is one named rewrite.
type Rule struct {
	Name  string
	Apply func(*Context, sqlir.Node) sqlir.Node
}

// Context is what rules may consult.
type Context struct {
	Lang    *dialect.Language
	Mapping *mapping.Mapping
	Policy  binder.Policy
	Paging  Paging

	log *slog.Logger
	err error
}

// fail records the first error a rule hit; the rule then declines.
func (c *Context) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

var (
	RemoveUnusedColumns        = Rule{"remove_unused_columns", removeUnusedColumns}
	RemoveRedundantColumns     = Rule{"remove_redundant_columns", removeRedundantColumns}
	RemoveRedundantSubqueries  = Rule{"remove_redundant_subqueries", removeRedundantSubqueries}
	RemoveRedundantJoins       = Rule{"remove_redundant_joins", removeRedundantJoins}
	RewriteApplyToJoin         = Rule{"rewrite_apply_to_join", rewriteApplyToJoin}
	RewriteCrossJoin           = Rule{"rewrite_cross_join", rewriteCrossJoin}
	LowerPagingToRowNumber     = Rule{"lower_paging_to_row_number", lowerPagingToRowNumber}
	HoistGroupAggregates       = Rule{"hoist_group_aggregates", hoistGroupAggregates}
	IncludeRelationships       = Rule{"include_relationships", includeRelationships}
	RewriteSingletonProjection = Rule{"rewrite_singleton_projections", rewriteSingletonProjections}
	RewriteClientJoins         = Rule{"rewrite_client_joins", rewriteClientJoins}
	RewriteOrderBy             = Rule{"rewrite_order_by", rewriteOrderBy}
)

// Cleanup is the rule set re-run after every changing stage.
var Cleanup = []Rule{RemoveUnusedColumns, RemoveRedundantColumns, RemoveRedundantSubqueries, RemoveRedundantJoins}

// Optimize runs the pipeline over n, normally a root *sqlir.Projection or
// a write command.
func Optimize(n sqlir.Node, opts Options) (sqlir.Node, error) {
	ctx := &Context{
		Lang:    opts.Lang,
		Mapping: opts.Mapping,
		Policy:  opts.Policy,
		Paging:  opts.Paging,
		log:     opts.Logger,
	}
	if ctx.Lang == nil {
		ctx.Lang = dialect.SQLite
	}
	if ctx.log == nil {
		ctx.log = slog.Default()
	}

	n = ctx.stage(n, HoistGroupAggregates)
	n = ctx.cleanup(n)
	n = ctx.stage(n, IncludeRelationships)
	n = ctx.stage(n, RewriteSingletonProjection)
	n = ctx.stage(n, RewriteClientJoins)
	n = ctx.stage(n, RewriteApplyToJoin, RewriteCrossJoin)
	n = ctx.stage(n, RewriteOrderBy)
	if ctx.needsRowNumber(n) {
		n = ctx.stage(n, LowerPagingToRowNumber, RewriteOrderBy)
	}
	if ctx.err != nil {
		return nil, ctx.err
	}
	return n, nil
}

// stage runs rules in order and the cleanup rules when any of them
// changed the tree.
func (c *Context) stage(n sqlir.Node, rules ...Rule) sqlir.Node {
	before := n
	for _, r := range rules {
		n = c.run(n, r)
	}
	if n != before {
		n = c.cleanup(n)
	}
	return n
}

const maxCleanupRounds = 4

func (c *Context) cleanup(n sqlir.Node) sqlir.Node {
	for round := 0; round < maxCleanupRounds; round++ {
		before := n
		for _, r := range Cleanup {
			n = c.run(n, r)
		}
		if n == before {
			break
		}
	}
	return n
}

func (c *Context) run(n sqlir.Node, r Rule) sqlir.Node {
	if c.err != nil {
		return n
	}
	out := r.Apply(c, n)
	if out != n {
		c.log.Debug("rule changed plan", "rule", r.Name)
	}
	return out
}

// Apply runs a single rule, for tests and plan inspection.
func Apply(n sqlir.Node, r Rule, opts Options) (sqlir.Node, error) {
	ctx := &Context{Lang: opts.Lang, Mapping: opts.Mapping, Policy: opts.Policy, Paging: opts.Paging, log: opts.Logger}
	if ctx.Lang == nil {
		ctx.Lang = dialect.SQLite
	}
	if ctx.log == nil {
		ctx.log = slog.Default()
	}
	out := ctx.run(n, r)
	if ctx.err != nil {
		return nil, ctx.err
	}
	return out, nil
}

func (c *Context) needsRowNumber(n sqlir.Node) bool {
	found := false
	sqlir.Inspect(n, func(x sqlir.Node) bool {
		if s, ok := x.(*sqlir.Select); ok && s.Skip != nil {
			found = true
		}
		return !found
	})
	return found && (c.Paging == PagingRowNumber || !c.Lang.NativeSkip)
}
