package derivation

import (
	"strings"

	"mltlsge/internal/grammar"
)

// Kind is the expansion state of a node.
type Kind uint8

const (
	Pending Kind = iota
	Leaf
	Internal
)

func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Leaf:
		return "leaf"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// PartKind tags a Part.
type PartKind uint8

const (
	PartText PartKind = iota
	PartChild
	PartPlaceholder
)

// Part is one fragment of a node's expansion: literal text, a reference to
// a child node, or a flat non-terminal still waiting for its codon.
type Part struct {
	Kind        PartKind
	Text        string
	Child       int
	NonTerminal grammar.NonTerminal
}

// Node is a <wff> occurrence in the derivation tree.
type Node struct {
	ID       int
	Parent   int
	Depth    int
	Kind     Kind
	Forced   bool
	Rule     int
	Parts    []Part
	Children []int
}

// Tree is an arena of nodes; index 0 is the root.
type Tree struct {
	Nodes []Node
}

func newTree() *Tree {
	return &Tree{Nodes: []Node{{ID: 0, Parent: -1, Rule: -1}}}
}

func (t *Tree) add(parent, depth int) int {
	id := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{ID: id, Parent: parent, Depth: depth, Rule: -1})
	return id
}

// Depth is the deepest node depth, root at 0.
func (t *Tree) Depth() int {
	d := 0
	for _, n := range t.Nodes {
		if n.Depth > d {
			d = n.Depth
		}
	}
	return d
}

// Size is the number of <wff> nodes.
func (t *Tree) Size() int { return len(t.Nodes) }

// Phenotype stitches the formula string together from the root.
func (t *Tree) Phenotype() string {
	if len(t.Nodes) == 0 {
		return ""
	}
	var b strings.Builder
	t.write(&b, 0)
	return b.String()
}

func (t *Tree) write(b *strings.Builder, id int) {
	for _, part := range t.Nodes[id].Parts {
		switch part.Kind {
		case PartChild:
			t.write(b, part.Child)
		case PartPlaceholder:
			b.WriteString(part.NonTerminal.String())
		default:
			b.WriteString(part.Text)
		}
	}
}
