package grammar

import (
	"fmt"
	"strings"
)

// NonTerminal identifies one of the fixed MLTL grammar symbols.
type NonTerminal uint8

const (
	Wff NonTerminal = iota
	BinaryPropConn
	UnaryTempConn
	BinaryTempConn
	Interval
	PropVar
)

var nonTerminals = []NonTerminal{Wff, BinaryPropConn, UnaryTempConn, BinaryTempConn, Interval, PropVar}

// NonTerminals returns every non-terminal in canonical order. Genotype
// creation, crossover and distance all iterate in this order.
func NonTerminals() []NonTerminal {
	out := make([]NonTerminal, len(nonTerminals))
	copy(out, nonTerminals)
	return out
}

// NumNonTerminals is the size of the non-terminal alphabet.
const NumNonTerminals = 6

func (nt NonTerminal) String() string {
	switch nt {
	case Wff:
		return "<wff>"
	case BinaryPropConn:
		return "<binary_prop_conn>"
	case UnaryTempConn:
		return "<unary_temp_conn>"
	case BinaryTempConn:
		return "<binary_temp_conn>"
	case Interval:
		return "<interval>"
	case PropVar:
		return "<prop_var>"
	default:
		return fmt.Sprintf("<nt:%d>", uint8(nt))
	}
}

// Symbol is one element of a production: literal text or a non-terminal.
type Symbol struct {
	Text        string
	NonTerminal NonTerminal
	Terminal    bool
}

func T(text string) Symbol { return Symbol{Text: text, Terminal: true} }

func N(nt NonTerminal) Symbol { return Symbol{NonTerminal: nt} }

// Production is an ordered right-hand side.
type Production struct {
	Symbols []Symbol
}

// HasNonTerminal reports whether the production references nt.
func (p Production) HasNonTerminal(nt NonTerminal) bool {
	for _, s := range p.Symbols {
		if !s.Terminal && s.NonTerminal == nt {
			return true
		}
	}
	return false
}

func (p Production) String() string {
	var b strings.Builder
	for _, s := range p.Symbols {
		if s.Terminal {
			b.WriteString(s.Text)
			continue
		}
		b.WriteString(s.NonTerminal.String())
	}
	return b.String()
}

// Grammar is the MLTL grammar for n propositions and intervals below
// maxBound. It is immutable after New and safe to share.
type Grammar struct {
	n        int
	maxBound int
	rules    [NumNonTerminals][]Production
}

func New(n, maxBound int) (*Grammar, error) {
	if n < 0 {
		return nil, fmt.Errorf("proposition count must be >= 0, got %d", n)
	}
	if maxBound < 1 {
		return nil, fmt.Errorf("max bound must be >= 1, got %d", maxBound)
	}
	g := &Grammar{n: n, maxBound: maxBound}

	g.rules[Wff] = []Production{
		{Symbols: []Symbol{N(PropVar)}},
		{Symbols: []Symbol{N(UnaryTempConn), N(Interval), T(" "), N(Wff)}},
		{Symbols: []Symbol{T("("), N(Wff), T(" "), N(BinaryPropConn), T(" "), N(Wff), T(")")}},
		{Symbols: []Symbol{T("!"), N(Wff)}},
		{Symbols: []Symbol{T("("), N(Wff), T(" "), N(BinaryTempConn), N(Interval), T(" "), N(Wff), T(")")}},
	}
	g.rules[BinaryPropConn] = terminals("&", "|", "->")
	g.rules[UnaryTempConn] = terminals("F", "G")
	g.rules[BinaryTempConn] = terminals("U", "R")

	intervals := make([]string, 0, maxBound*(maxBound+1)/2)
	for i := 0; i < maxBound; i++ {
		for j := i; j < maxBound; j++ {
			intervals = append(intervals, fmt.Sprintf("[%d,%d]", i, j))
		}
	}
	g.rules[Interval] = terminals(intervals...)

	props := make([]string, 0, max(n, 1))
	for i := 0; i < n; i++ {
		props = append(props, fmt.Sprintf("p%d", i))
	}
	if len(props) == 0 {
		props = append(props, "p0")
	}
	g.rules[PropVar] = terminals(props...)
	return g, nil
}

func terminals(texts ...string) []Production {
	out := make([]Production, 0, len(texts))
	for _, text := range texts {
		out = append(out, Production{Symbols: []Symbol{T(text)}})
	}
	return out
}

// Propositions is the configured proposition count (may be 0).
func (g *Grammar) Propositions() int { return g.n }

func (g *Grammar) MaxBound() int { return g.maxBound }

// MaxTemporalBound is the largest interval bound any phenotype can carry.
func (g *Grammar) MaxTemporalBound() int { return g.maxBound - 1 }

// Choices is the number of alternatives for nt.
func (g *Grammar) Choices(nt NonTerminal) int { return len(g.rules[nt]) }

// Productions returns a copy of the alternatives for nt.
func (g *Grammar) Productions(nt NonTerminal) []Production {
	out := make([]Production, len(g.rules[nt]))
	copy(out, g.rules[nt])
	return out
}

// Expand selects the production for nt by codon modulo the choice count.
func (g *Grammar) Expand(nt NonTerminal, codon int) Production {
	rules := g.rules[nt]
	return rules[codon%len(rules)]
}

// ExpandTerminal returns terminal text for nt. For Wff it yields a
// proposition, which is how derivation closes a branch at the depth limit.
func (g *Grammar) ExpandTerminal(nt NonTerminal, codon int) string {
	if nt == Wff {
		nt = PropVar
	}
	return g.Expand(nt, codon).String()
}

func (g *Grammar) String() string {
	var b strings.Builder
	for _, nt := range nonTerminals {
		alts := make([]string, 0, len(g.rules[nt]))
		for _, p := range g.rules[nt] {
			alts = append(alts, p.String())
		}
		fmt.Fprintf(&b, "%s: %s\n\n", nt, strings.Join(alts, " | "))
	}
	return b.String()
}
