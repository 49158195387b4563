package mltl

import (
	"fmt"
	"strings"
)

// Op is the operator at a formula node.
type Op uint8

const (
	OpConst Op = iota
	OpVar
	OpNot
	OpAnd
	OpOr
	OpXor
	OpImplies
	OpEquiv
	OpFinally
	OpGlobally
	OpUntil
	OpRelease
)

var opSymbols = map[Op]string{
	OpNot:      "!",
	OpAnd:      "&",
	OpOr:       "|",
	OpXor:      "^",
	OpImplies:  "->",
	OpEquiv:    "<->",
	OpFinally:  "F",
	OpGlobally: "G",
	OpUntil:    "U",
	OpRelease:  "R",
}

func (o Op) String() string {
	switch o {
	case OpConst:
		return "const"
	case OpVar:
		return "var"
	}
	if s, ok := opSymbols[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

func (o Op) binaryProp() bool {
	return o == OpAnd || o == OpOr || o == OpXor || o == OpImplies || o == OpEquiv
}

func (o Op) unaryTemporal() bool { return o == OpFinally || o == OpGlobally }

func (o Op) binaryTemporal() bool { return o == OpUntil || o == OpRelease }

// Formula is a parsed MLTL formula. Unary operators keep their operand in
// Left; temporal operators carry the closed interval [Lo, Hi].
type Formula struct {
	Op    Op
	Value bool
	Var   int
	Lo    int
	Hi    int
	Left  *Formula
	Right *Formula
}

// ComputationLength is the worst-case propagation delay: how many future
// steps evaluation can depend on. Negation is transparent.
func (f *Formula) ComputationLength() int {
	switch {
	case f.Op == OpConst:
		return 0
	case f.Op == OpVar:
		return 1
	case f.Op == OpNot:
		return f.Left.ComputationLength()
	case f.Op.binaryProp():
		return max(f.Left.ComputationLength(), f.Right.ComputationLength())
	case f.Op.unaryTemporal():
		return f.Hi + f.Left.ComputationLength()
	case f.Op.binaryTemporal():
		return f.Hi + max(f.Left.ComputationLength(), f.Right.ComputationLength())
	}
	return 0
}

// Depth is the operator nesting depth with atoms at 1. Negation is
// transparent.
func (f *Formula) Depth() int {
	switch {
	case f.Op == OpConst, f.Op == OpVar:
		return 1
	case f.Op == OpNot:
		return f.Left.Depth()
	case f.Op.unaryTemporal():
		return f.Left.Depth() + 1
	case f.Op.binaryProp(), f.Op.binaryTemporal():
		return max(f.Left.Depth(), f.Right.Depth()) + 1
	}
	return 0
}

// Size is the number of nodes.
func (f *Formula) Size() int {
	n := 1
	if f.Left != nil {
		n += f.Left.Size()
	}
	if f.Right != nil {
		n += f.Right.Size()
	}
	return n
}

// PropositionCount is one past the largest proposition index used.
func (f *Formula) PropositionCount() int {
	if f == nil {
		return 0
	}
	n := 0
	if f.Op == OpVar {
		n = f.Var + 1
	}
	return max(n, f.Left.PropositionCount(), f.Right.PropositionCount())
}

// String renders the formula in the grammar's surface syntax.
func (f *Formula) String() string {
	var b strings.Builder
	f.write(&b)
	return b.String()
}

func (f *Formula) write(b *strings.Builder) {
	switch {
	case f.Op == OpConst:
		if f.Value {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case f.Op == OpVar:
		fmt.Fprintf(b, "p%d", f.Var)
	case f.Op == OpNot:
		b.WriteString("!")
		f.Left.write(b)
	case f.Op.unaryTemporal():
		fmt.Fprintf(b, "%s[%d,%d] ", f.Op, f.Lo, f.Hi)
		f.Left.write(b)
	case f.Op.binaryProp():
		b.WriteString("(")
		f.Left.write(b)
		fmt.Fprintf(b, " %s ", f.Op)
		f.Right.write(b)
		b.WriteString(")")
	case f.Op.binaryTemporal():
		b.WriteString("(")
		f.Left.write(b)
		fmt.Fprintf(b, " %s[%d,%d] ", f.Op, f.Lo, f.Hi)
		f.Right.write(b)
		b.WriteString(")")
	}
}
