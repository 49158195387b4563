package grammar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnumeratesIntervalsAndPropositions(t *testing.T) {
	g, err := New(3, 2)
	require.NoError(t, err)

	var intervals []string
	for _, p := range g.Productions(Interval) {
		intervals = append(intervals, p.String())
	}
	assert.Equal(t, []string{"[0,0]", "[0,1]", "[1,1]"}, intervals)

	var props []string
	for _, p := range g.Productions(PropVar) {
		props = append(props, p.String())
	}
	assert.Equal(t, []string{"p0", "p1", "p2"}, props)
	assert.Equal(t, 1, g.MaxTemporalBound())
}

func TestIntervalCountIsTriangular(t *testing.T) {
	for bound := 1; bound <= 6; bound++ {
		g, err := New(1, bound)
		require.NoError(t, err)
		assert.Equal(t, bound*(bound+1)/2, g.Choices(Interval), "bound=%d", bound)
	}
}

func TestNewRejectsInvalidParameters(t *testing.T) {
	_, err := New(2, 0)
	require.Error(t, err)
	_, err = New(-1, 3)
	require.Error(t, err)
}

func TestZeroPropositionsDegeneratesToP0(t *testing.T) {
	g, err := New(0, 1)
	require.NoError(t, err)
	require.Equal(t, 1, g.Choices(PropVar))
	assert.Equal(t, "p0", g.ExpandTerminal(PropVar, 17))
	assert.Equal(t, "p0", g.ExpandTerminal(Wff, 3))
}

func TestExpandUsesCodonModulo(t *testing.T) {
	g, err := New(2, 3)
	require.NoError(t, err)

	assert.Equal(t, "&", g.ExpandTerminal(BinaryPropConn, 0))
	assert.Equal(t, "&", g.ExpandTerminal(BinaryPropConn, 3))
	assert.Equal(t, "->", g.ExpandTerminal(BinaryPropConn, 5))
	assert.Equal(t, "G", g.ExpandTerminal(UnaryTempConn, 1_000_001))
	assert.Equal(t, "p1", g.ExpandTerminal(Wff, 7))

	unary := g.Expand(Wff, 1)
	assert.Equal(t, "<unary_temp_conn><interval> <wff>", unary.String())
	assert.True(t, unary.HasNonTerminal(Wff))
	assert.False(t, g.Expand(Wff, 5).HasNonTerminal(Wff))
}

func TestWffProductionsCoverEveryShape(t *testing.T) {
	g, err := New(1, 1)
	require.NoError(t, err)

	var rendered []string
	for _, p := range g.Productions(Wff) {
		rendered = append(rendered, p.String())
	}
	assert.Equal(t, []string{
		"<prop_var>",
		"<unary_temp_conn><interval> <wff>",
		"(<wff> <binary_prop_conn> <wff>)",
		"!<wff>",
		"(<wff> <binary_temp_conn><interval> <wff>)",
	}, rendered)
}

func TestStringListsEveryNonTerminal(t *testing.T) {
	g, err := New(1, 1)
	require.NoError(t, err)
	out := g.String()
	for _, nt := range NonTerminals() {
		assert.Contains(t, out, nt.String()+": ")
	}
}
