package compiler

import (
	"errors"
	"strconv"

	"github.com/bleepsynth/bleep"
)

type itemKind int

const (
	itemNum itemKind = iota
	itemIdent
	itemOp
	itemFunc
	itemLParen
	itemRParen
	itemComma
)

// item is an element of the infix stream of a tweak expression, in source
// order. A minus sign is always read as OpSub; normalize decides which ones
// are unary.
type item struct {
	kind  itemKind
	value float64
	name  string
	op    bleep.Op
	fn    bleep.Func
}

var errMismatchedParens = errors.New("mismatched parentheses")

// expression parses an infix expression and returns its items.
func (p *parser) expression() []item {
	var items []item
	p.addExp(&items)
	return items
}

func (p *parser) addExp(items *[]item) {
	p.mulExp(items)
	for {
		t := p.peek()
		switch t.kind {
		case tokPlus:
			*items = append(*items, item{kind: itemOp, op: bleep.OpAdd})
		case tokMinus:
			*items = append(*items, item{kind: itemOp, op: bleep.OpSub})
		default:
			return
		}
		p.next()
		p.mulExp(items)
	}
}

func (p *parser) mulExp(items *[]item) {
	p.unaryExp(items)
	for {
		t := p.peek()
		switch t.kind {
		case tokStar:
			*items = append(*items, item{kind: itemOp, op: bleep.OpMul})
		case tokSlash:
			*items = append(*items, item{kind: itemOp, op: bleep.OpDiv})
		default:
			return
		}
		p.next()
		p.unaryExp(items)
	}
}

func (p *parser) unaryExp(items *[]item) {
	t := p.next()
	switch {
	case t.kind == tokMinus:
		*items = append(*items, item{kind: itemOp, op: bleep.OpSub})
		p.unaryExp(items)
	case t.kind == tokLParen:
		*items = append(*items, item{kind: itemLParen})
		p.addExp(items)
		p.expect(tokRParen, `")"`)
		*items = append(*items, item{kind: itemRParen})
	case t.kind == tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			p.errorf(t, "invalid number %q", t.text)
		}
		*items = append(*items, item{kind: itemNum, value: v})
	case t.kind == tokWord && t.text == "param":
		*items = append(*items, p.control())
	case t.kind == tokWord:
		fn, ok := bleep.ParseFunc(t.text)
		if !ok {
			p.errorf(t, "unknown function or value %q", t.text)
		}
		p.function(fn, t, items)
	default:
		p.unexpected(t, "a number, a control, a function or \"(\"")
	}
}

// control reads the rest of "param.<name>" after the word "param".
func (p *parser) control() item {
	p.expect(tokDot, `"."`)
	t := p.expect(tokWord, "a control name")
	if !isParamName(t.text) {
		p.errorf(t, "invalid control name %q", t.text)
	}
	if _, ok := p.bounds[t.text]; p.checkControls && !ok {
		p.errorf(t, "control parameter %q has not been defined", t.text)
	}
	return item{kind: itemIdent, name: t.text}
}

// signedNumber reads a number argument, keeping the sign as a separate item
// like any other minus in the stream.
func (p *parser) signedNumber(items *[]item) {
	if p.peek().kind == tokMinus {
		p.next()
		*items = append(*items, item{kind: itemOp, op: bleep.OpSub})
	}
	t := p.expect(tokNumber, "a number")
	v, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		p.errorf(t, "invalid number %q", t.text)
	}
	*items = append(*items, item{kind: itemNum, value: v})
}

func (p *parser) function(fn bleep.Func, name token, items *[]item) {
	*items = append(*items, item{kind: itemFunc, fn: fn})
	p.expect(tokLParen, `"("`)
	*items = append(*items, item{kind: itemLParen})
	comma := func() {
		p.expect(tokComma, `","`)
		*items = append(*items, item{kind: itemComma})
	}
	switch fn {
	case bleep.FuncMap:
		mark := len(*items)
		p.addExp(items)
		if arg := (*items)[mark:]; len(arg) != 1 || arg[0].kind != itemIdent {
			p.errorf(name, "the first argument of map must be a control parameter")
		}
		comma()
		p.signedNumber(items)
		comma()
		p.signedNumber(items)
	case bleep.FuncRandom:
		p.signedNumber(items)
		comma()
		p.signedNumber(items)
	default:
		p.addExp(items)
	}
	p.expect(tokRParen, `")"`)
	*items = append(*items, item{kind: itemRParen})
}

// normalize resolves the unary minus signs. A minus at the start, or after
// "(", "," or another operator, is unary: it is folded into the literal when a
// number follows, and becomes OpNeg otherwise.
func normalize(in []item) []item {
	out := make([]item, 0, len(in))
	for i := 0; i < len(in); i++ {
		it := in[i]
		if it.kind == itemOp && it.op == bleep.OpSub && unaryPosition(out) {
			if i+1 < len(in) && in[i+1].kind == itemNum {
				n := in[i+1]
				n.value = -n.value
				out = append(out, n)
				i++
				continue
			}
			it.op = bleep.OpNeg
		}
		out = append(out, it)
	}
	return out
}

func unaryPosition(out []item) bool {
	if len(out) == 0 {
		return true
	}
	switch out[len(out)-1].kind {
	case itemLParen, itemComma, itemOp:
		return true
	}
	return false
}

// toPostfix normalizes the infix stream and reorders it with the shunting
// yard algorithm.
func toPostfix(in []item) (bleep.Expression, error) {
	in = normalize(in)
	out := make(bleep.Expression, 0, len(in))
	var stack []item
	popTo := func(kind itemKind) bool {
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.kind == kind {
				return true
			}
			out = append(out, top.token())
			stack = stack[:len(stack)-1]
		}
		return false
	}
	for _, it := range in {
		switch it.kind {
		case itemNum, itemIdent:
			out = append(out, it.token())
		case itemFunc, itemLParen:
			stack = append(stack, it)
		case itemComma:
			if !popTo(itemLParen) {
				return nil, errMismatchedParens
			}
		case itemRParen:
			if !popTo(itemLParen) {
				return nil, errMismatchedParens
			}
			stack = stack[:len(stack)-1]
			if n := len(stack); n > 0 && stack[n-1].kind == itemFunc {
				out = append(out, stack[n-1].token())
				stack = stack[:n-1]
			}
		case itemOp:
			// neg is a prefix operator and pops nothing
			if it.op != bleep.OpNeg {
				for n := len(stack); n > 0; n = len(stack) {
					top := stack[n-1]
					if top.kind != itemOp || top.op.Precedence() < it.op.Precedence() {
						break
					}
					out = append(out, top.token())
					stack = stack[:n-1]
				}
			}
			stack = append(stack, it)
		}
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.kind == itemLParen {
			return nil, errMismatchedParens
		}
		out = append(out, top.token())
		stack = stack[:len(stack)-1]
	}
	return out, nil
}

func (it item) token() bleep.Token {
	switch it.kind {
	case itemNum:
		return bleep.Num(it.value)
	case itemIdent:
		return bleep.Ident(it.name)
	case itemFunc:
		return bleep.FuncToken(it.fn)
	}
	return bleep.OpToken(it.op)
}
