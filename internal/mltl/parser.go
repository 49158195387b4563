package mltl

import (
	"errors"
	"fmt"
	"strconv"
	"unicode"
)

// ErrSyntax wraps every parse failure.
var ErrSyntax = errors.New("mltl syntax error")

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokNumber
	tokProp
	tokTrue
	tokFalse
	tokNot
	tokBinary
	tokUnaryTemporal
	tokBinaryTemporal
)

type token struct {
	kind tokenKind
	op   Op
	num  int
	pos  int
}

func tokenize(input string) ([]token, error) {
	var out []token
	rs := []rune(input)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
			continue
		case r == '(':
			out = append(out, token{kind: tokLParen, pos: i})
		case r == ')':
			out = append(out, token{kind: tokRParen, pos: i})
		case r == '[':
			out = append(out, token{kind: tokLBracket, pos: i})
		case r == ']':
			out = append(out, token{kind: tokRBracket, pos: i})
		case r == ',':
			out = append(out, token{kind: tokComma, pos: i})
		case r == '!' || r == '~':
			out = append(out, token{kind: tokNot, op: OpNot, pos: i})
		case r == '&':
			out = append(out, token{kind: tokBinary, op: OpAnd, pos: i})
		case r == '|':
			out = append(out, token{kind: tokBinary, op: OpOr, pos: i})
		case r == '^':
			out = append(out, token{kind: tokBinary, op: OpXor, pos: i})
		case r == '-':
			if i+1 >= len(rs) || rs[i+1] != '>' {
				return nil, fmt.Errorf("%w: expected '->' at %d", ErrSyntax, i)
			}
			out = append(out, token{kind: tokBinary, op: OpImplies, pos: i})
			i += 2
			continue
		case r == '<':
			if i+2 >= len(rs) || rs[i+1] != '-' || rs[i+2] != '>' {
				return nil, fmt.Errorf("%w: expected '<->' at %d", ErrSyntax, i)
			}
			out = append(out, token{kind: tokBinary, op: OpEquiv, pos: i})
			i += 3
			continue
		case r == 'F':
			out = append(out, token{kind: tokUnaryTemporal, op: OpFinally, pos: i})
		case r == 'G':
			out = append(out, token{kind: tokUnaryTemporal, op: OpGlobally, pos: i})
		case r == 'U':
			out = append(out, token{kind: tokBinaryTemporal, op: OpUntil, pos: i})
		case r == 'R':
			out = append(out, token{kind: tokBinaryTemporal, op: OpRelease, pos: i})
		case r == 'p':
			j := i + 1
			for j < len(rs) && unicode.IsDigit(rs[j]) {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("%w: proposition without index at %d", ErrSyntax, i)
			}
			n, err := strconv.Atoi(string(rs[i+1 : j]))
			if err != nil {
				return nil, fmt.Errorf("%w: proposition index at %d: %v", ErrSyntax, i, err)
			}
			out = append(out, token{kind: tokProp, num: n, pos: i})
			i = j
			continue
		case unicode.IsDigit(r):
			j := i
			for j < len(rs) && unicode.IsDigit(rs[j]) {
				j++
			}
			n, err := strconv.Atoi(string(rs[i:j]))
			if err != nil {
				return nil, fmt.Errorf("%w: number at %d: %v", ErrSyntax, i, err)
			}
			out = append(out, token{kind: tokNumber, num: n, pos: i})
			i = j
			continue
		case hasWord(rs, i, "true"):
			out = append(out, token{kind: tokTrue, pos: i})
			i += 4
			continue
		case hasWord(rs, i, "false"):
			out = append(out, token{kind: tokFalse, pos: i})
			i += 5
			continue
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, r, i)
		}
		i++
	}
	out = append(out, token{kind: tokEOF, pos: len(rs)})
	return out, nil
}

func hasWord(rs []rune, i int, word string) bool {
	w := []rune(word)
	if i+len(w) > len(rs) {
		return false
	}
	for k := range w {
		if rs[i+k] != w[k] {
			return false
		}
	}
	return true
}

type parser struct {
	toks []token
	pos  int
}

// Parse reads a well-formed formula. Binary operators must be
// parenthesized, temporal intervals must satisfy lo <= hi.
func Parse(input string) (*Formula, error) {
	toks, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	f, err := p.wff()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("%w: trailing input at %d", ErrSyntax, t.pos)
	}
	return f, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("%w: expected %s at %d", ErrSyntax, what, t.pos)
	}
	return t, nil
}

func (p *parser) wff() (*Formula, error) {
	t := p.next()
	switch t.kind {
	case tokProp:
		return &Formula{Op: OpVar, Var: t.num}, nil
	case tokTrue:
		return &Formula{Op: OpConst, Value: true}, nil
	case tokFalse:
		return &Formula{Op: OpConst, Value: false}, nil
	case tokNot:
		operand, err := p.wff()
		if err != nil {
			return nil, err
		}
		return &Formula{Op: OpNot, Left: operand}, nil
	case tokUnaryTemporal:
		lo, hi, err := p.interval()
		if err != nil {
			return nil, err
		}
		operand, err := p.wff()
		if err != nil {
			return nil, err
		}
		return &Formula{Op: t.op, Lo: lo, Hi: hi, Left: operand}, nil
	case tokLParen:
		left, err := p.wff()
		if err != nil {
			return nil, err
		}
		op := p.next()
		switch op.kind {
		case tokRParen:
			return left, nil
		case tokBinary:
			right, err := p.wff()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return nil, err
			}
			return &Formula{Op: op.op, Left: left, Right: right}, nil
		case tokBinaryTemporal:
			lo, hi, err := p.interval()
			if err != nil {
				return nil, err
			}
			right, err := p.wff()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return nil, err
			}
			return &Formula{Op: op.op, Lo: lo, Hi: hi, Left: left, Right: right}, nil
		default:
			return nil, fmt.Errorf("%w: expected operator or ')' at %d", ErrSyntax, op.pos)
		}
	case tokEOF:
		return nil, fmt.Errorf("%w: unexpected end of formula", ErrSyntax)
	default:
		return nil, fmt.Errorf("%w: unexpected token at %d", ErrSyntax, t.pos)
	}
}

func (p *parser) interval() (int, int, error) {
	open, err := p.expect(tokLBracket, "'['")
	if err != nil {
		return 0, 0, err
	}
	lo, err := p.expect(tokNumber, "lower bound")
	if err != nil {
		return 0, 0, err
	}
	if _, err := p.expect(tokComma, "','"); err != nil {
		return 0, 0, err
	}
	hi, err := p.expect(tokNumber, "upper bound")
	if err != nil {
		return 0, 0, err
	}
	if _, err := p.expect(tokRBracket, "']'"); err != nil {
		return 0, 0, err
	}
	if lo.num > hi.num {
		return 0, 0, fmt.Errorf("%w: interval [%d,%d] at %d has lo > hi", ErrSyntax, lo.num, hi.num, open.pos)
	}
	return lo.num, hi.num, nil
}
