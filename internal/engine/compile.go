package engine

import (
	"reflect"

	"github.com/roach88/relq/internal/binder"
	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/optimizer"
	"github.com/roach88/relq/internal/plancache"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/sqlir"
)

// Plan is a compiled query shape.
type Plan struct {
	// ID identifies the plan by dialect and command text.
	ID string
	// Text is the command text of the plan: the root command followed by
	// the commands of nested queries and client joins.
	Text string
	// Tree is the optimized, parameterized projection.
	Tree *sqlir.Projection
	// Type is the result type: a slice for sequence queries, the element
	// type otherwise.
	Type reflect.Type

	root *queryPlan
	cmds []querysql.Command
}

// Commands returns the commands of the plan in Text order.
func (p *Plan) Commands() []querysql.Command {
	return append([]querysql.Command(nil), p.cmds...)
}

// queryPlan reads one projection: its command, the materializer for one
// row and how the rows are reduced.
type queryPlan struct {
	cmd  querysql.Command
	read reader
	agg  *sqlir.Aggregator
	elem reflect.Type
	// outer lists, for a query that runs per outer row, the ordinals of the
	// outer row values bound to its Outer parameters.
	outer []int
	// nested is set when materializing a row runs further commands.
	nested bool
}

func (q *queryPlan) seqType() reflect.Type {
	if q.elem == nil {
		return reflect.TypeOf([]any(nil))
	}
	return reflect.SliceOf(q.elem)
}

func (p *Provider) build(k plancache.Key) (*Plan, error) {
	bound, err := binder.Bind(p.mapping, p.lang, k.Shape, binder.Options{SlotTypes: k.Types, ArgTypes: k.Args})
	if err != nil {
		return nil, err
	}
	opt, err := optimizer.Optimize(bound, optimizer.Options{
		Lang:    p.lang,
		Mapping: p.mapping,
		Policy:  p.policy,
		Paging:  p.paging,
		Logger:  p.log,
	})
	if err != nil {
		return nil, err
	}
	corr := make(map[sqlir.Alias][]string)
	tree := correlateProjection(opt.(*sqlir.Projection), sqlir.Alias{}, false, corr)
	tree = querysql.Parameterize(tree).(*sqlir.Projection)

	c := &planCompiler{lang: p.lang, corr: corr}
	root, err := c.query(tree, nil)
	if err != nil {
		return nil, err
	}
	text := querysql.JoinText(c.cmds)
	plan := &Plan{
		ID:   ir.PlanID(p.lang.Name, text),
		Text: text,
		Tree: tree,
		Type: tree.Type(),
		root: root,
		cmds: c.cmds,
	}
	return plan, nil
}

// correlateProjection replaces the columns a nested projection reads from
// its enclosing row, whose select is outer, with Outer parameters, and
// records the column names by the nested select's alias.
func correlateProjection(p *sqlir.Projection, outer sqlir.Alias, nested bool, corr map[sqlir.Alias][]string) *sqlir.Projection {
	sel := p.Select
	if nested {
		var names []string
		index := make(map[string]int)
		sel = sqlir.Transform(sel, func(n sqlir.Node) sqlir.Node {
			c, ok := n.(*sqlir.Column)
			if !ok || c.Alias != outer {
				return n
			}
			i, seen := index[c.Name]
			if !seen {
				i = len(names)
				index[c.Name] = i
				names = append(names, c.Name)
			}
			return sqlir.NewOuterValue(i, c.Typ)
		}).(*sqlir.Select)
		if len(names) > 0 {
			corr[sel.Alias] = names
		}
	}
	projector := correlateProjector(p.Projector, sel.Alias, corr)
	if sel == p.Select && projector == p.Projector {
		return p
	}
	return &sqlir.Projection{Select: sel, Projector: projector, Aggregator: p.Aggregator}
}

func correlateProjector(n sqlir.Node, alias sqlir.Alias, corr map[sqlir.Alias][]string) sqlir.Node {
	switch x := n.(type) {
	case nil:
		return nil
	case *sqlir.Projection:
		return correlateProjection(x, alias, true, corr)
	case *sqlir.ClientJoin:
		proj := correlateProjection(x.Projection, sqlir.Alias{}, false, corr)
		if proj == x.Projection {
			return x
		}
		return &sqlir.ClientJoin{Projection: proj, OuterKey: x.OuterKey, InnerKey: x.InnerKey}
	case *sqlir.Scalar, *sqlir.Exists, *sqlir.In:
		return x
	}
	return sqlir.MapChildren(n, func(c sqlir.Node) sqlir.Node { return correlateProjector(c, alias, corr) })
}

type planCompiler struct {
	lang *dialect.Language
	corr map[sqlir.Alias][]string
	cmds []querysql.Command
}

// query compiles p. outer is the select of the enclosing row for a query
// that runs per row.
func (c *planCompiler) query(p *sqlir.Projection, outer *sqlir.Select) (*queryPlan, error) {
	cmd, err := querysql.Format(c.lang, p)
	if err != nil {
		return nil, err
	}
	c.cmds = append(c.cmds, cmd)
	q := &queryPlan{cmd: cmd, agg: p.Aggregator, elem: p.Projector.Type()}
	if names := c.corr[p.Select.Alias]; len(names) > 0 {
		ords := columnOrdinals(outer)
		q.outer = make([]int, len(names))
		for i, name := range names {
			ord, ok := ords[name]
			if !ok {
				return nil, ErrMissingColumn.New(name)
			}
			q.outer[i] = ord
		}
	}
	q.read, err = c.reader(p.Projector, p.Select, q)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func columnOrdinals(s *sqlir.Select) map[string]int {
	out := make(map[string]int)
	if s == nil {
		return out
	}
	for i, c := range s.Columns {
		out[c.Name] = i
	}
	return out
}
