package query

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is a query written in YAML:
//
//	from: Order
//	ops:
//	  - where: {fn: o, body: {gt: [{m: o.total}, 100]}}
//	  - orderby: {fn: o, body: {m: o.placed_at}}
//	  - take: 10
//
// A source is either "from: <Entity>" or "of: <expr>". Each op is a
// one-key mapping; lambdas are {fn: name | [names], body: expr}.
// Expressions are scalars (constants) or one-key mappings:
//
//	m: o.customer.name          member path rooted at a lambda parameter
//	var: o | arg: name | const: value
//	eq|ne|lt|le|gt|ge|add|sub|mul|div|mod|concat|coalesce: [a, b]
//	and|or: [a, b, ...]   not|neg: x   if: [test, then, else]
//	lower|upper|length|trim|abs|round: x   like|startswith|endswith|contains: [a, b]
//	rec: {name: expr, ...}      sub: <document>
type Document struct {
	Query Query
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Document) UnmarshalYAML(n *yaml.Node) error {
	q, err := DecodeQuery(n)
	if err != nil {
		return err
	}
	d.Query = q
	return nil
}

// ParseDocument parses one YAML query document.
func ParseDocument(data []byte) (Query, error) {
	var root yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&root); err != nil {
		return Query{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if root.Kind == yaml.DocumentNode && len(root.Content) == 1 {
		return DecodeQuery(root.Content[0])
	}
	return DecodeQuery(&root)
}

// LoadDocument reads and parses a YAML query file.
func LoadDocument(path string) (Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Query{}, fmt.Errorf("failed to read query file: %w", err)
	}
	q, err := ParseDocument(data)
	if err != nil {
		return Query{}, fmt.Errorf("%s: %w", path, err)
	}
	return q, nil
}

func nodeErr(n *yaml.Node, format string, args ...any) error {
	return fmt.Errorf("line %d: %s", n.Line, fmt.Sprintf(format, args...))
}

type pair struct {
	key   string
	value *yaml.Node
}

func mappingPairs(n *yaml.Node) ([]pair, error) {
	if n.Kind != yaml.MappingNode {
		return nil, nodeErr(n, "expected a mapping")
	}
	out := make([]pair, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out = append(out, pair{key: n.Content[i].Value, value: n.Content[i+1]})
	}
	return out, nil
}

func singleKey(n *yaml.Node) (pair, error) {
	ps, err := mappingPairs(n)
	if err != nil {
		return pair{}, err
	}
	if len(ps) != 1 {
		return pair{}, nodeErr(n, "expected exactly one key, got %d", len(ps))
	}
	return ps[0], nil
}

// DecodeQuery decodes a query document node.
func DecodeQuery(n *yaml.Node) (Query, error) {
	ps, err := mappingPairs(n)
	if err != nil {
		return Query{}, err
	}
	var (
		q      Query
		source bool
		ops    *yaml.Node
	)
	for _, p := range ps {
		switch p.key {
		case "from":
			q, source = FromEntity(p.value.Value), true
		case "of":
			e, err := DecodeExpr(p.value)
			if err != nil {
				return Query{}, err
			}
			q, source = OfExpr(e), true
		case "ops":
			ops = p.value
		default:
			return Query{}, nodeErr(p.value, "unknown query field %q", p.key)
		}
	}
	if !source {
		return Query{}, nodeErr(n, "query needs from or of")
	}
	if ops == nil {
		return q, nil
	}
	if ops.Kind != yaml.SequenceNode {
		return Query{}, nodeErr(ops, "ops must be a list")
	}
	for _, item := range ops.Content {
		q, err = decodeOp(q, item)
		if err != nil {
			return Query{}, err
		}
	}
	return q, nil
}

func decodeOp(q Query, n *yaml.Node) (Query, error) {
	p, err := singleKey(n)
	if err != nil {
		return Query{}, err
	}
	v := p.value
	lambda := func() (Lambda, error) { return decodeLambda(v) }
	optional := func() ([]Lambda, error) {
		if isEmpty(v) {
			return nil, nil
		}
		l, err := decodeLambda(v)
		if err != nil {
			return nil, err
		}
		return []Lambda{l}, nil
	}
	switch p.key {
	case "where", "select", "orderby", "orderbydesc", "thenby", "thenbydesc", "all":
		l, err := lambda()
		if err != nil {
			return Query{}, err
		}
		switch p.key {
		case "where":
			return q.Where(l), nil
		case "select":
			return q.Select(l), nil
		case "orderby":
			return q.OrderBy(l), nil
		case "orderbydesc":
			return q.OrderByDesc(l), nil
		case "thenby":
			return q.ThenBy(l), nil
		case "thenbydesc":
			return q.ThenByDesc(l), nil
		default:
			return q.All(l), nil
		}
	case "selectmany":
		if isLambda(v) {
			l, err := lambda()
			if err != nil {
				return Query{}, err
			}
			return q.SelectMany(l), nil
		}
		f, err := lambdaFields(v, "coll", "result")
		if err != nil {
			return Query{}, err
		}
		return Query{op: SelectMany{Source: q.op, Coll: f["coll"], Result: f["result"]}}, nil
	case "join", "groupjoin":
		inner, f, err := joinFields(v)
		if err != nil {
			return Query{}, err
		}
		if p.key == "join" {
			return q.Join(inner, f["outer_key"], f["inner_key"], f["result"]), nil
		}
		return q.GroupJoin(inner, f["outer_key"], f["inner_key"], f["result"]), nil
	case "groupby":
		if isLambda(v) {
			l, err := lambda()
			if err != nil {
				return Query{}, err
			}
			return q.GroupBy(l), nil
		}
		f, err := lambdaFields(v, "key", "elem", "result")
		if err != nil {
			return Query{}, err
		}
		return Query{op: GroupBy{Source: q.op, Key: f["key"], Elem: f["elem"], Result: f["result"]}}, nil
	case "distinct":
		return q.Distinct(), nil
	case "reverse":
		return q.Reverse(), nil
	case "default_if_empty":
		return q.DefaultIfEmpty(), nil
	case "skip", "take", "contains":
		e, err := DecodeExpr(v)
		if err != nil {
			return Query{}, err
		}
		switch p.key {
		case "skip":
			return q.Skip(e), nil
		case "take":
			return q.Take(e), nil
		default:
			return q.Contains(e), nil
		}
	}
	if kind, ok := elementKinds[p.key]; ok {
		ls, err := optional()
		if err != nil {
			return Query{}, err
		}
		return q.element(kind, ls), nil
	}
	if kind, ok := aggregateKinds[p.key]; ok {
		ls, err := optional()
		if err != nil {
			return Query{}, err
		}
		return q.aggregate(kind, ls), nil
	}
	if p.key == "any" {
		ls, err := optional()
		if err != nil {
			return Query{}, err
		}
		return q.Any(ls...), nil
	}
	return Query{}, nodeErr(n, "unknown op %q", p.key)
}

var elementKinds = map[string]ElementKind{
	"first": First, "first_or_default": FirstOrDefault,
	"single": Single, "single_or_default": SingleOrDefault,
	"last": Last, "last_or_default": LastOrDefault,
}

var aggregateKinds = map[string]AggregateKind{
	"count": Count, "sum": Sum, "min": Min, "max": Max, "average": Average,
}

func isEmpty(n *yaml.Node) bool {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Tag == "!!null" || n.Value == "true"
	case yaml.MappingNode:
		return len(n.Content) == 0
	}
	return false
}

func isLambda(n *yaml.Node) bool {
	if n.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i < len(n.Content); i += 2 {
		if n.Content[i].Value == "fn" {
			return true
		}
	}
	return false
}

func decodeLambda(n *yaml.Node) (Lambda, error) {
	ps, err := mappingPairs(n)
	if err != nil {
		return Lambda{}, err
	}
	var l Lambda
	for _, p := range ps {
		switch p.key {
		case "fn":
			switch p.value.Kind {
			case yaml.ScalarNode:
				l.Params = []string{p.value.Value}
			case yaml.SequenceNode:
				for _, c := range p.value.Content {
					l.Params = append(l.Params, c.Value)
				}
			default:
				return Lambda{}, nodeErr(p.value, "fn must name the parameters")
			}
		case "body":
			l.Body, err = DecodeExpr(p.value)
			if err != nil {
				return Lambda{}, err
			}
		default:
			return Lambda{}, nodeErr(p.value, "unknown lambda field %q", p.key)
		}
	}
	if len(l.Params) == 0 || l.Body == nil {
		return Lambda{}, nodeErr(n, "lambda needs fn and body")
	}
	return l, nil
}

func lambdaFields(n *yaml.Node, allowed ...string) (map[string]Lambda, error) {
	ps, err := mappingPairs(n)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Lambda, len(ps))
	for _, p := range ps {
		ok := false
		for _, a := range allowed {
			ok = ok || a == p.key
		}
		if !ok {
			return nil, nodeErr(p.value, "unknown field %q", p.key)
		}
		l, err := decodeLambda(p.value)
		if err != nil {
			return nil, err
		}
		out[p.key] = l
	}
	return out, nil
}

func joinFields(n *yaml.Node) (Query, map[string]Lambda, error) {
	ps, err := mappingPairs(n)
	if err != nil {
		return Query{}, nil, err
	}
	var inner *yaml.Node
	rest := &yaml.Node{Kind: yaml.MappingNode, Line: n.Line}
	for _, p := range ps {
		if p.key == "inner" {
			inner = p.value
			continue
		}
		rest.Content = append(rest.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: p.key}, p.value)
	}
	if inner == nil {
		return Query{}, nil, nodeErr(n, "join needs inner")
	}
	q, err := DecodeQuery(inner)
	if err != nil {
		return Query{}, nil, err
	}
	f, err := lambdaFields(rest, "outer_key", "inner_key", "result")
	if err != nil {
		return Query{}, nil, err
	}
	for _, k := range []string{"outer_key", "inner_key", "result"} {
		if f[k].IsZero() {
			return Query{}, nil, nodeErr(n, "join needs %s", k)
		}
	}
	return q, f, nil
}

// DecodeExpr decodes an expression node.
func DecodeExpr(n *yaml.Node) (Expr, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, nodeErr(n, "%v", err)
		}
		return Const{Value: normalizeYAML(v)}, nil
	case yaml.SequenceNode:
		var v []any
		if err := n.Decode(&v); err != nil {
			return nil, nodeErr(n, "%v", err)
		}
		return Const{Value: normalizeYAML(v)}, nil
	case yaml.AliasNode:
		return DecodeExpr(n.Alias)
	}
	p, err := singleKey(n)
	if err != nil {
		return nil, err
	}
	v := p.value
	switch p.key {
	case "m":
		return M(v.Value), nil
	case "var":
		return V(v.Value), nil
	case "arg":
		return Arg(v.Value), nil
	case "const":
		var c any
		if err := v.Decode(&c); err != nil {
			return nil, nodeErr(v, "%v", err)
		}
		return Const{Value: normalizeYAML(c)}, nil
	case "not", "neg":
		x, err := DecodeExpr(v)
		if err != nil {
			return nil, err
		}
		if p.key == "not" {
			return Unary{Op: OpNot, X: x}, nil
		}
		return Unary{Op: OpNeg, X: x}, nil
	case "if":
		args, err := decodeArgs(v, 3)
		if err != nil {
			return nil, err
		}
		return Cond{Test: args[0], Then: args[1], Else: args[2]}, nil
	case "and", "or":
		args, err := decodeArgs(v, -1)
		if err != nil {
			return nil, err
		}
		xs := make([]any, len(args))
		for i, a := range args {
			xs[i] = a
		}
		if p.key == "and" {
			return And(xs...), nil
		}
		return Or(xs...), nil
	case "rec":
		ps, err := mappingPairs(v)
		if err != nil {
			return nil, err
		}
		rec := New{}
		for _, f := range ps {
			e, err := DecodeExpr(f.value)
			if err != nil {
				return nil, err
			}
			rec.Names = append(rec.Names, f.key)
			rec.Args = append(rec.Args, e)
		}
		return rec, nil
	case "sub":
		q, err := DecodeQuery(v)
		if err != nil {
			return nil, err
		}
		return Sub(q), nil
	case "call":
		ps, err := mappingPairs(v)
		if err != nil {
			return nil, err
		}
		var fn string
		var argsNode *yaml.Node
		for _, f := range ps {
			switch f.key {
			case "fn":
				fn = f.value.Value
			case "args":
				argsNode = f.value
			default:
				return nil, nodeErr(f.value, "unknown call field %q", f.key)
			}
		}
		arity, ok := Functions[fn]
		if !ok {
			return nil, nodeErr(v, "unknown function %q", fn)
		}
		if argsNode == nil {
			return nil, nodeErr(v, "call needs args")
		}
		args, err := decodeArgs(argsNode, arity)
		if err != nil {
			return nil, err
		}
		return Call{Fn: fn, Args: args}, nil
	}
	if op, ok := BinaryOpByName(p.key); ok {
		args, err := decodeArgs(v, 2)
		if err != nil {
			return nil, err
		}
		return Binary{Op: op, L: args[0], R: args[1]}, nil
	}
	if arity, ok := Functions[p.key]; ok {
		var args []Expr
		if arity == 1 && v.Kind != yaml.SequenceNode {
			x, err := DecodeExpr(v)
			if err != nil {
				return nil, err
			}
			args = []Expr{x}
		} else {
			args, err = decodeArgs(v, arity)
			if err != nil {
				return nil, err
			}
		}
		return Call{Fn: p.key, Args: args}, nil
	}
	return nil, nodeErr(n, "unknown expression %q", p.key)
}

// decodeArgs decodes a list of want expressions; want < 0 accepts any
// count.
func decodeArgs(n *yaml.Node, want int) ([]Expr, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, nodeErr(n, "expected a list of arguments")
	}
	if want >= 0 && len(n.Content) != want {
		return nil, nodeErr(n, "expected %d arguments, got %d", want, len(n.Content))
	}
	out := make([]Expr, len(n.Content))
	for i, c := range n.Content {
		e, err := DecodeExpr(c)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// normalizeYAML widens YAML integers to int64 so literals compare equal to
// store values regardless of how they were written.
func normalizeYAML(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeYAML(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalizeYAML(e)
		}
		return out
	}
	return v
}
