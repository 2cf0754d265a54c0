package bleep

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
)

type (
	// Expression is a tweak expression lowered to postfix order.
	Expression []Token

	// Token is one element of a postfix expression: a numeric literal, a
	// reference to a control, an arithmetic operator or a function.
	Token struct {
		Kind  TokenKind
		Value float64 // for Literal
		Name  string  // for Identifier, without the "param." prefix
		Op    Op      // for Operator
		Func  Func    // for Function
		// Min and Max are the declared bounds of the control an Identifier
		// refers to. They are used by map() and are valid only when Bound is
		// true. They are not serialized; the Generator binds them on load.
		Min, Max float64
		Bound    bool
	}

	TokenKind int
	Op        int
	Func      int

	// Params is the set of control values an expression is evaluated
	// against, keyed by control name.
	Params map[string]float64
)

const (
	Literal TokenKind = iota
	Identifier
	Operator
	Function
)

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpNeg // unary minus
)

const (
	FuncMap Func = iota
	FuncRandom
	FuncExp
	FuncLog
)

// ControlPrefix is prepended to control names in source text and in
// serialized expressions.
const ControlPrefix = "param."

var opSymbols = [...]string{OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpNeg: "neg"}
var funcNames = [...]string{FuncMap: "map", FuncRandom: "random", FuncExp: "exp", FuncLog: "log"}

var (
	ErrStackUnderflow = errors.New("malformed expression: not enough operands")
	ErrUnknownControl = errors.New("unknown control")
)

func Num(v float64) Token         { return Token{Kind: Literal, Value: v} }
func Ident(name string) Token     { return Token{Kind: Identifier, Name: name} }
func OpToken(op Op) Token         { return Token{Kind: Operator, Op: op} }
func FuncToken(f Func) Token      { return Token{Kind: Function, Func: f} }
func (o Op) String() string       { return opSymbols[o] }
func (f Func) String() string     { return funcNames[f] }
func (t Token) IsIdentifier() bool { return t.Kind == Identifier }

// Precedence returns the binding strength of an operator in infix notation.
func (o Op) Precedence() int {
	switch o {
	case OpAdd, OpSub:
		return 1
	case OpMul, OpDiv:
		return 2
	}
	return 3
}

// ParseFunc returns the function with the given name.
func ParseFunc(s string) (Func, bool) {
	for i, n := range funcNames {
		if n == s {
			return Func(i), true
		}
	}
	return 0, false
}

// Arity is the number of operands a function consumes.
func (f Func) Arity() int {
	switch f {
	case FuncMap:
		return 3
	case FuncRandom:
		return 2
	}
	return 1
}

func (t Token) String() string {
	switch t.Kind {
	case Literal:
		return strconv.FormatFloat(t.Value, 'g', -1, 64)
	case Identifier:
		return ControlPrefix + t.Name
	case Operator:
		return t.Op.String()
	case Function:
		return t.Func.String()
	}
	return fmt.Sprintf("Token(%d)", int(t.Kind))
}

// ParseToken parses the serialized form of a token: a number, param.<name>,
// one of + - * / neg, or a function name.
func ParseToken(s string) (Token, error) {
	if name, ok := strings.CutPrefix(s, ControlPrefix); ok {
		if name == "" {
			return Token{}, fmt.Errorf("empty control name in %q", s)
		}
		return Ident(name), nil
	}
	for i, sym := range opSymbols {
		if s == sym {
			return OpToken(Op(i)), nil
		}
	}
	if f, ok := ParseFunc(s); ok {
		return FuncToken(f), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return Token{}, fmt.Errorf("invalid expression token %q", s)
	}
	return Num(v), nil
}

func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Token) UnmarshalText(b []byte) error {
	v, err := ParseToken(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (e Expression) String() string {
	parts := make([]string, len(e))
	for i, t := range e {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}

// References reports whether the expression reads the control with the given
// name.
func (e Expression) References(name string) bool {
	for _, t := range e {
		if t.Kind == Identifier && t.Name == name {
			return true
		}
	}
	return false
}

// Bind returns a copy of the expression where every identifier carries the
// bounds returned by the bounds function. An identifier that bounds does not
// know is an error wrapping ErrUnknownControl.
func (e Expression) Bind(bounds func(name string) (min, max float64, ok bool)) (Expression, error) {
	ret := make(Expression, len(e))
	copy(ret, e)
	for i, t := range ret {
		if t.Kind != Identifier {
			continue
		}
		min, max, ok := bounds(t.Name)
		if !ok {
			return nil, fmt.Errorf("%w %s%s", ErrUnknownControl, ControlPrefix, t.Name)
		}
		ret[i].Min, ret[i].Max, ret[i].Bound = min, max, true
	}
	return ret, nil
}

// Evaluate runs the postfix expression as a stack machine against params.
// Identifiers are kept unresolved on the stack and only looked up when an
// operator or function pops them, so that map() can see which control its
// first argument refers to. rnd is used by random(); if nil, the global
// source is used.
func (e Expression) Evaluate(params Params, rnd *rand.Rand) (float64, error) {
	stack := make([]Token, 0, len(e))
	pop := func() (Token, error) {
		if len(stack) == 0 {
			return Token{}, ErrStackUnderflow
		}
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return t, nil
	}
	resolve := func(t Token) (float64, error) {
		if t.Kind != Identifier {
			return t.Value, nil
		}
		v, ok := params[t.Name]
		if !ok {
			return 0, fmt.Errorf("%w %s%s", ErrUnknownControl, ControlPrefix, t.Name)
		}
		return v, nil
	}
	popValue := func() (float64, error) {
		t, err := pop()
		if err != nil {
			return 0, err
		}
		return resolve(t)
	}
	for _, t := range e {
		switch t.Kind {
		case Literal, Identifier:
			stack = append(stack, t)
		case Operator:
			if t.Op == OpNeg {
				a, err := popValue()
				if err != nil {
					return 0, err
				}
				stack = append(stack, Num(-a))
				continue
			}
			b, err := popValue()
			if err != nil {
				return 0, err
			}
			a, err := popValue()
			if err != nil {
				return 0, err
			}
			var r float64
			switch t.Op {
			case OpAdd:
				r = a + b
			case OpSub:
				r = a - b
			case OpMul:
				r = a * b
			case OpDiv:
				r = a / b
			}
			stack = append(stack, Num(r))
		case Function:
			switch t.Func {
			case FuncExp, FuncLog:
				a, err := popValue()
				if err != nil {
					return 0, err
				}
				if t.Func == FuncExp {
					stack = append(stack, Num(math.Exp(a)))
				} else {
					stack = append(stack, Num(math.Log(a)))
				}
			case FuncRandom:
				hi, err := popValue()
				if err != nil {
					return 0, err
				}
				lo, err := popValue()
				if err != nil {
					return 0, err
				}
				var f float64
				if rnd != nil {
					f = rnd.Float64()
				} else {
					f = rand.Float64()
				}
				stack = append(stack, Num(lo+f*(hi-lo)))
			case FuncMap:
				hi, err := popValue()
				if err != nil {
					return 0, err
				}
				lo, err := popValue()
				if err != nil {
					return 0, err
				}
				ctrl, err := pop()
				if err != nil {
					return 0, err
				}
				if ctrl.Kind != Identifier {
					return 0, errors.New("map: first argument must be a control")
				}
				if !ctrl.Bound {
					return 0, fmt.Errorf("map: bounds of %s%s are not known", ControlPrefix, ctrl.Name)
				}
				if ctrl.Max == ctrl.Min {
					return 0, fmt.Errorf("map: %s%s has an empty range", ControlPrefix, ctrl.Name)
				}
				v, err := resolve(ctrl)
				if err != nil {
					return 0, err
				}
				stack = append(stack, Num(lo+(v-ctrl.Min)*(hi-lo)/(ctrl.Max-ctrl.Min)))
			}
		}
	}
	if len(stack) != 1 {
		return 0, fmt.Errorf("malformed expression: %d values left on the stack", len(stack))
	}
	return resolve(stack[0])
}
