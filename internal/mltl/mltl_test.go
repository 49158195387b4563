package mltl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) *Formula {
	t.Helper()
	f, err := Parse(s)
	require.NoError(t, err, "parse %q", s)
	return f
}

func TestParseRoundTripsSurfaceSyntax(t *testing.T) {
	cases := []string{
		"p0",
		"!p1",
		"F[0,0] p0",
		"G[1,3] !p2",
		"(p0 & p1)",
		"(p0 -> F[0,2] p1)",
		"(p0 U[0,4] (p1 | p2))",
		"((G[0,2] !p0) R[0,3] (F[0,3] p2))",
		"(p0 <-> p1)",
		"(p0 ^ true)",
	}
	for _, in := range cases {
		f := mustParse(t, in)
		out := f.String()
		again := mustParse(t, out)
		assert.Equal(t, out, again.String(), "round trip of %q", in)
	}
	assert.Equal(t, "(p0 & F[0,2] p1)", mustParse(t, "(p0&F[0,2]p1)").String())
	assert.Equal(t, "(p0 & p1)", mustParse(t, "  ( p0 &\tp1 ) ").String())
	assert.Equal(t, "!p0", mustParse(t, "~p0").String())
}

func TestParseParenthesizedAtom(t *testing.T) {
	f := mustParse(t, "((p3))")
	assert.Equal(t, OpVar, f.Op)
	assert.Equal(t, 3, f.Var)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "p", "p0 &", "(p0 & p1", "F[2,1] p0", "F[0] p0", "q0", "(p0 p1)", "p0 p1", "(p0 - p1)"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrSyntax, "input %q", in)
	}
}

func TestEvaluatePropositional(t *testing.T) {
	trace := []string{"10"}
	cases := map[string]bool{
		"p0":          true,
		"p1":          false,
		"!p1":         true,
		"(p0 & p1)":   false,
		"(p0 | p1)":   true,
		"(p0 ^ p1)":   true,
		"(p0 ^ p0)":   false,
		"(p1 -> p0)":  true,
		"(p0 -> p1)":  false,
		"(p0 <-> p1)": false,
		"(p1 <-> p1)": true,
		"true":        true,
		"false":       false,
		"p7":          false,
	}
	for in, want := range cases {
		got, err := mustParse(t, in).Evaluate(trace)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestEvaluateTemporal(t *testing.T) {
	cases := []struct {
		formula string
		trace   []string
		want    bool
	}{
		{"G[0,3] (p0 | p1)", []string{"01", "11", "10", "01"}, true},
		{"G[0,3] (p0 | p1)", []string{"01", "11", "10", "00"}, false},
		{"F[1,2] p0", []string{"00", "00", "10"}, true},
		{"F[1,2] p0", []string{"10", "00", "00"}, false},
		{"F[5,6] p0", []string{"1", "1", "1"}, false},
		{"G[5,6] p0", []string{"0", "0", "0"}, true},
		{"G[0,9] p0", []string{"1", "1"}, true},
		{"(p0 U[0,2] p1)", []string{"10", "10", "01"}, true},
		{"(p0 U[0,2] p1)", []string{"10", "00", "01"}, false},
		{"(p0 U[0,2] p1)", []string{"10", "10", "10"}, false},
		{"(p0 R[0,2] p1)", []string{"01", "01", "01"}, true},
		{"(p0 R[0,2] p1)", []string{"11", "00", "00"}, true},
		{"(p0 R[0,2] p1)", []string{"01", "00", "10"}, false},
		{"(p0 R[4,5] p1)", []string{"00"}, true},
		{"F[0,0] p0", []string{"1", "0"}, true},
		{"F[0,1] G[0,1] p0", []string{"0", "1", "1"}, true},
	}
	for _, tc := range cases {
		got, err := mustParse(t, tc.formula).Evaluate(tc.trace)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s on %v", tc.formula, tc.trace)
	}
}

func TestEvaluateRejectsBadTraces(t *testing.T) {
	f := mustParse(t, "p0")
	_, err := f.Evaluate(nil)
	assert.ErrorIs(t, err, ErrEmptyTrace)
	_, err = f.Evaluate([]string{"10", "1"})
	assert.ErrorIs(t, err, ErrRaggedTrace)
}

func TestMetrics(t *testing.T) {
	f := mustParse(t, "((G[0,2] !p0) R[0,3] (F[0,3] p2))")
	assert.Equal(t, 7, f.ComputationLength())
	assert.Equal(t, 3, f.Depth())
	assert.Equal(t, 3, f.PropositionCount())

	assert.Equal(t, 1, mustParse(t, "p0").ComputationLength())
	assert.Equal(t, 0, mustParse(t, "true").ComputationLength())
	assert.Equal(t, 1, mustParse(t, "!!p0").Depth())
	assert.Equal(t, 2, mustParse(t, "(p0 & p1)").Depth())
	assert.Equal(t, 2, mustParse(t, "F[0,1] p0").ComputationLength())
	assert.Equal(t, 4, mustParse(t, "(p0 & !p1)").Size())
	assert.Equal(t, 4, mustParse(t, "(p0 | p3)").PropositionCount())
}

func TestEvaluatorCachesParses(t *testing.T) {
	e, err := NewEvaluator(0)
	require.NoError(t, err)
	defer e.Close()

	trace := []string{"1", "0"}
	for i := 0; i < 3; i++ {
		got, err := e.Evaluate("F[0,1] !p0", trace)
		require.NoError(t, err)
		assert.True(t, got)
	}
	f1, err := e.Parse("(p0 & p1)")
	require.NoError(t, err)
	f2, err := e.Parse("(p0 & p1)")
	require.NoError(t, err)
	assert.Equal(t, f1.String(), f2.String())

	_, err = e.Evaluate("(p0 &", trace)
	assert.ErrorIs(t, err, ErrSyntax)
}
