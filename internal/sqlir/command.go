package sqlir

import "reflect"

// Assignment sets one column in an Insert or Update.
type Assignment struct {
	Column string
	Expr   Node
}

func assignmentExprs(as []Assignment) []Node {
	out := make([]Node, len(as))
	for i, a := range as {
		out[i] = a.Expr
	}
	return out
}

func withAssignmentExprs(as []Assignment, exprs []Node) []Assignment {
	out := make([]Assignment, len(as))
	for i, a := range as {
		out[i] = Assignment{Column: a.Column, Expr: exprs[i]}
	}
	return out
}

// Insert inserts one row into Table.
type Insert struct {
	Table       *Table
	Assignments []Assignment
}

func (*Insert) Type() reflect.Type  { return int64Type }
func (i *Insert) Children() []Node { return assignmentExprs(i.Assignments) }
func (i *Insert) WithChildren(children ...Node) Node {
	checkArity(i, len(children), len(i.Assignments))
	return &Insert{Table: i.Table, Assignments: withAssignmentExprs(i.Assignments, children)}
}
func (*Insert) sqlNode() {}

// Update sets columns of the rows of Table matching Where.
type Update struct {
	Table       *Table
	Where       Node
	Assignments []Assignment
}

func (*Update) Type() reflect.Type { return int64Type }
func (u *Update) Children() []Node {
	return append([]Node{u.Where}, assignmentExprs(u.Assignments)...)
}
func (u *Update) WithChildren(children ...Node) Node {
	checkArity(u, len(children), 1+len(u.Assignments))
	return &Update{Table: u.Table, Where: children[0], Assignments: withAssignmentExprs(u.Assignments, children[1:])}
}
func (*Update) sqlNode() {}

// Delete removes the rows of Table matching Where.
type Delete struct {
	Table *Table
	Where Node
}

func (*Delete) Type() reflect.Type  { return int64Type }
func (d *Delete) Children() []Node { return []Node{d.Where} }
func (d *Delete) WithChildren(children ...Node) Node {
	checkArity(d, len(children), 1)
	return &Delete{Table: d.Table, Where: children[0]}
}
func (*Delete) sqlNode() {}

// Batch runs Operation once per item, Size items per round trip. The
// operation's slot parameters are bound from each item.
type Batch struct {
	Operation Node
	Size      int
}

func (b *Batch) Type() reflect.Type { return reflect.SliceOf(b.Operation.Type()) }
func (b *Batch) Children() []Node   { return []Node{b.Operation} }
func (b *Batch) WithChildren(children ...Node) Node {
	checkArity(b, len(children), 1)
	return &Batch{Operation: children[0], Size: b.Size}
}
func (*Batch) sqlNode() {}

// Block runs Commands in order. Its value is the value of the last command.
type Block struct {
	Commands []Node
}

func (b *Block) Type() reflect.Type {
	if len(b.Commands) == 0 {
		return nil
	}
	return b.Commands[len(b.Commands)-1].Type()
}
func (b *Block) Children() []Node { return cloneNodes(b.Commands) }
func (b *Block) WithChildren(children ...Node) Node {
	checkArity(b, len(children), len(b.Commands))
	return &Block{Commands: cloneNodes(children)}
}
func (*Block) sqlNode() {}

// If runs Then when Check holds, otherwise Else (which may be nil).
type If struct {
	Check Node
	Then  Node
	Else  Node
}

func (i *If) Type() reflect.Type { return i.Then.Type() }
func (i *If) Children() []Node   { return []Node{i.Check, i.Then, i.Else} }
func (i *If) WithChildren(children ...Node) Node {
	checkArity(i, len(children), 3)
	return &If{Check: children[0], Then: children[1], Else: children[2]}
}
func (*If) sqlNode() {}

// VariableDecl declares one variable initialized from Expr.
type VariableDecl struct {
	Name string
	Expr Node
}

// Declare declares variables for later commands of a Block.
type Declare struct {
	Vars []VariableDecl
}

func (*Declare) Type() reflect.Type { return nil }
func (d *Declare) Children() []Node {
	out := make([]Node, len(d.Vars))
	for i, v := range d.Vars {
		out[i] = v.Expr
	}
	return out
}
func (d *Declare) WithChildren(children ...Node) Node {
	checkArity(d, len(children), len(d.Vars))
	vars := make([]VariableDecl, len(d.Vars))
	for i, v := range d.Vars {
		vars[i] = VariableDecl{Name: v.Name, Expr: children[i]}
	}
	return &Declare{Vars: vars}
}
func (*Declare) sqlNode() {}
