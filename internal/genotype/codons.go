package genotype

import (
	"errors"
	"fmt"
	"math/rand"

	"mltlsge/internal/grammar"
)

var (
	// ErrExhausted means derivation needed more codons than a list holds.
	ErrExhausted = errors.New("genotype codons exhausted")
	// ErrEmptyCodons means a non-terminal has no codons at all.
	ErrEmptyCodons = errors.New("genotype has an empty codon list")
)

// DefaultMaxCodon is the inclusive upper bound for random codon values.
const DefaultMaxCodon = 1_000_000

// Length is the per non-terminal codon capacity that guarantees a
// derivation bounded by maxDepth never runs out of codons.
func Length(maxDepth int) int {
	return 1 << (maxDepth + 1)
}

// Genotype holds one fixed-capacity codon list per non-terminal. Used[nt] is
// the prefix consumed by the most recent derivation; codons past it are
// inert reserve.
type Genotype struct {
	codons [grammar.NumNonTerminals][]int
	used   [grammar.NumNonTerminals]int
}

// Random draws length codons uniformly from [0, maxCodon] for every
// non-terminal, in grammar order.
func Random(rng *rand.Rand, length, maxCodon int) *Genotype {
	g := &Genotype{}
	for _, nt := range grammar.NonTerminals() {
		list := make([]int, length)
		for i := range list {
			list[i] = rng.Intn(maxCodon + 1)
		}
		g.codons[nt] = list
	}
	return g
}

// FromCodons builds a genotype from explicit lists. Every non-terminal must
// be present and non-empty.
func FromCodons(codons map[grammar.NonTerminal][]int) (*Genotype, error) {
	g := &Genotype{}
	for _, nt := range grammar.NonTerminals() {
		list := codons[nt]
		if len(list) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyCodons, nt)
		}
		for i, c := range list {
			if c < 0 {
				return nil, fmt.Errorf("negative codon %d at %s[%d]", c, nt, i)
			}
		}
		g.codons[nt] = append([]int(nil), list...)
	}
	return g, nil
}

func (g *Genotype) Clone() *Genotype {
	out := &Genotype{used: g.used}
	for i := range g.codons {
		out.codons[i] = append([]int(nil), g.codons[i]...)
	}
	return out
}

// Codons returns a copy of the list for nt.
func (g *Genotype) Codons(nt grammar.NonTerminal) []int {
	return append([]int(nil), g.codons[nt]...)
}

func (g *Genotype) Len(nt grammar.NonTerminal) int { return len(g.codons[nt]) }

func (g *Genotype) Used(nt grammar.NonTerminal) int { return g.used[nt] }

// Validate checks the structural invariants derivation relies on.
func (g *Genotype) Validate() error {
	for _, nt := range grammar.NonTerminals() {
		if len(g.codons[nt]) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyCodons, nt)
		}
	}
	return nil
}

// Mutate resamples each codon independently with probability rate and
// returns the number of codons changed. Used counts are left alone; the
// caller re-derives afterwards.
func (g *Genotype) Mutate(rng *rand.Rand, rate float64, maxCodon int) int {
	flipped := 0
	for _, nt := range grammar.NonTerminals() {
		list := g.codons[nt]
		for i := range list {
			if rng.Float64() < rate {
				list[i] = rng.Intn(maxCodon + 1)
				flipped++
			}
		}
	}
	return flipped
}

// ToMap renders the genotype keyed by non-terminal name, for persistence.
func (g *Genotype) ToMap() (codons map[string][]int, used map[string]int) {
	codons = make(map[string][]int, grammar.NumNonTerminals)
	used = make(map[string]int, grammar.NumNonTerminals)
	for _, nt := range grammar.NonTerminals() {
		codons[nt.String()] = g.Codons(nt)
		used[nt.String()] = g.used[nt]
	}
	return codons, used
}

// FromMap is the inverse of ToMap.
func FromMap(codons map[string][]int, used map[string]int) (*Genotype, error) {
	byNT := make(map[grammar.NonTerminal][]int, len(codons))
	for _, nt := range grammar.NonTerminals() {
		byNT[nt] = codons[nt.String()]
	}
	g, err := FromCodons(byNT)
	if err != nil {
		return nil, err
	}
	for _, nt := range grammar.NonTerminals() {
		u := used[nt.String()]
		if u < 0 || u > len(g.codons[nt]) {
			return nil, fmt.Errorf("used count %d out of range for %s", u, nt)
		}
		g.used[nt] = u
	}
	return g, nil
}

// Cursor reads codons front to back during one derivation pass.
type Cursor struct {
	g   *Genotype
	pos [grammar.NumNonTerminals]int
}

func (g *Genotype) NewCursor() *Cursor {
	return &Cursor{g: g}
}

// Next consumes the next codon for nt.
func (c *Cursor) Next(nt grammar.NonTerminal) (int, error) {
	list := c.g.codons[nt]
	if c.pos[nt] >= len(list) {
		return 0, fmt.Errorf("%w: %s needs codon %d of %d", ErrExhausted, nt, c.pos[nt]+1, len(list))
	}
	v := list[c.pos[nt]]
	c.pos[nt]++
	return v, nil
}

// Consumed reports how many codons of nt this pass has read.
func (c *Cursor) Consumed(nt grammar.NonTerminal) int { return c.pos[nt] }

// Commit records the consumed prefix lengths as the genotype's used counts.
func (c *Cursor) Commit() {
	c.g.used = c.pos
}
