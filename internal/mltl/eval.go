package mltl

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTrace is returned when a trace has no time steps.
	ErrEmptyTrace = errors.New("empty trace")
	// ErrRaggedTrace is returned when trace rows differ in width.
	ErrRaggedTrace = errors.New("trace rows differ in width")
)

// Evaluate interprets f over the whole trace. Each row is one time step and
// character k of a row is the value of pk ('1' is true).
func (f *Formula) Evaluate(trace []string) (bool, error) {
	if len(trace) == 0 {
		return false, ErrEmptyTrace
	}
	width := len(trace[0])
	for i, row := range trace {
		if len(row) != width {
			return false, fmt.Errorf("%w: row %d has %d columns, want %d", ErrRaggedTrace, i, len(row), width)
		}
	}
	return f.holds(trace, 0, len(trace)), nil
}

// holds evaluates f over the sub-trace [begin, end). Propositions outside the
// trace width read as false; temporal windows are clipped at end.
func (f *Formula) holds(trace []string, begin, end int) bool {
	switch f.Op {
	case OpConst:
		return f.Value
	case OpVar:
		if begin >= end || f.Var >= len(trace[0]) {
			return false
		}
		return trace[begin][f.Var] == '1'
	case OpNot:
		return !f.Left.holds(trace, begin, end)
	case OpAnd:
		return f.Left.holds(trace, begin, end) && f.Right.holds(trace, begin, end)
	case OpOr:
		return f.Left.holds(trace, begin, end) || f.Right.holds(trace, begin, end)
	case OpXor:
		return f.Left.holds(trace, begin, end) != f.Right.holds(trace, begin, end)
	case OpImplies:
		return !f.Left.holds(trace, begin, end) || f.Right.holds(trace, begin, end)
	case OpEquiv:
		return f.Left.holds(trace, begin, end) == f.Right.holds(trace, begin, end)
	case OpFinally:
		if end-begin <= f.Lo {
			return false
		}
		lo, stop := f.window(begin, end)
		for i := lo; i < stop; i++ {
			if f.Left.holds(trace, i, end) {
				return true
			}
		}
		return false
	case OpGlobally:
		if end-begin <= f.Lo {
			return true
		}
		lo, stop := f.window(begin, end)
		for i := lo; i < stop; i++ {
			if !f.Left.holds(trace, i, end) {
				return false
			}
		}
		return true
	case OpUntil:
		return f.until(trace, begin, end)
	case OpRelease:
		return f.release(trace, begin, end)
	}
	return false
}

func (f *Formula) window(begin, end int) (int, int) {
	return begin + f.Lo, min(begin+f.Hi+1, end)
}

// until: some step i in the window satisfies Right and Left holds on every
// window step before i.
func (f *Formula) until(trace []string, begin, end int) bool {
	if end-begin <= f.Lo {
		return false
	}
	lo, stop := f.window(begin, end)
	hit := -1
	for k := lo; k < stop; k++ {
		if f.Right.holds(trace, k, end) {
			hit = k
			break
		}
	}
	if hit < 0 {
		return false
	}
	for j := lo; j < hit; j++ {
		if !f.Left.holds(trace, j, end) {
			return false
		}
	}
	return true
}

// release: Right holds over the whole window, or up to and including the
// first step where Left holds.
func (f *Formula) release(trace []string, begin, end int) bool {
	if end-begin <= f.Lo {
		return true
	}
	lo, stop := f.window(begin, end)
	i := lo
	for ; i < stop; i++ {
		if !f.Right.holds(trace, i, end) {
			break
		}
	}
	if i == stop {
		return true
	}
	release := stop + 1
	for k := lo; k < stop; k++ {
		if f.Left.holds(trace, k, end) {
			release = k + 1
			break
		}
	}
	limit := min(release, end)
	for k := lo; k < limit; k++ {
		if !f.Right.holds(trace, k, end) {
			return false
		}
	}
	return true
}
