package derivation

import (
	"fmt"

	"mltlsge/internal/genotype"
	"mltlsge/internal/grammar"
)

type frame struct {
	node  int
	depth int
}

// Derive maps gt to a derivation tree. Nodes are expanded depth first from
// an explicit stack. Children are pushed in the order they occur, so the
// rightmost child is expanded first. A <wff> at depth >= maxDepth is closed with a
// proposition so the tree never grows past maxDepth. On success the
// genotype's used counts are set to the codons this pass consumed.
func Derive(g *grammar.Grammar, gt *genotype.Genotype, maxDepth int) (*Tree, error) {
	if maxDepth < 0 {
		return nil, fmt.Errorf("max tree depth must be >= 0, got %d", maxDepth)
	}
	if err := gt.Validate(); err != nil {
		return nil, err
	}

	tree := newTree()
	cursor := gt.NewCursor()
	stack := []frame{{node: 0, depth: 0}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		codon, err := cursor.Next(grammar.Wff)
		if err != nil {
			return nil, err
		}
		if f.depth >= maxDepth {
			node := &tree.Nodes[f.node]
			node.Kind = Leaf
			node.Forced = true
			node.Parts = []Part{{Kind: PartText, Text: g.ExpandTerminal(grammar.Wff, codon)}}
			continue
		}

		rule := codon % g.Choices(grammar.Wff)
		production := g.Expand(grammar.Wff, codon)
		parts := make([]Part, 0, len(production.Symbols))
		var children []int
		for _, sym := range production.Symbols {
			switch {
			case sym.Terminal:
				parts = append(parts, Part{Kind: PartText, Text: sym.Text})
			case sym.NonTerminal == grammar.Wff:
				child := tree.add(f.node, f.depth+1)
				children = append(children, child)
				parts = append(parts, Part{Kind: PartChild, Child: child})
			default:
				parts = append(parts, Part{Kind: PartPlaceholder, NonTerminal: sym.NonTerminal})
			}
		}
		for _, child := range children {
			stack = append(stack, frame{node: child, depth: f.depth + 1})
		}

		for i := range parts {
			if parts[i].Kind != PartPlaceholder {
				continue
			}
			nt := parts[i].NonTerminal
			c, err := cursor.Next(nt)
			if err != nil {
				return nil, err
			}
			parts[i] = Part{Kind: PartText, Text: g.ExpandTerminal(nt, c)}
		}

		node := &tree.Nodes[f.node]
		node.Rule = rule
		node.Parts = parts
		node.Children = children
		if len(children) > 0 {
			node.Kind = Internal
		} else {
			node.Kind = Leaf
		}
	}

	cursor.Commit()
	return tree, nil
}
