package sqlir

// Transform rewrites the tree bottom-up: children are transformed first and
// fn then sees the rebuilt node. Nodes whose children are unchanged are
// passed to fn as the original pointer, so identity comparisons detect
// "no change".
func Transform(n Node, fn func(Node) Node) Node {
	if n == nil {
		return nil
	}
	return fn(MapChildren(n, func(c Node) Node { return Transform(c, fn) }))
}

// MapChildren applies fn to each direct child and rebuilds n only when a
// child changed.
func MapChildren(n Node, fn func(Node) Node) Node {
	if n == nil {
		return nil
	}
	children := n.Children()
	if len(children) == 0 {
		return n
	}
	changed := false
	next := make([]Node, len(children))
	for i, c := range children {
		if c == nil {
			continue
		}
		next[i] = fn(c)
		if next[i] != c {
			changed = true
		}
	}
	if !changed {
		return n
	}
	return n.WithChildren(next...)
}

// Inspect walks the tree depth-first in child order. When fn returns false
// the node's children are skipped.
func Inspect(n Node, fn func(Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children() {
		Inspect(c, fn)
	}
}

// Replace rewrites every subtree structurally equal to from (top-down, first
// match wins) with to.
func Replace(n, from, to Node) Node {
	if n == nil {
		return nil
	}
	if Equal(n, from) {
		return to
	}
	return MapChildren(n, func(c Node) Node { return Replace(c, from, to) })
}
