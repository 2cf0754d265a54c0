package compiler

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bleepsynth/bleep"
)

type parser struct {
	lex    *lexer
	tok    token
	peeked bool

	def          *bleep.SynthDef
	modules      map[string]bleep.ModuleType
	patched      map[bleep.Patch]bool
	tweaked      map[string]bool
	bounds       map[string][2]float64
	audioPatched bool
	// checkControls is false when a lone expression is parsed and there are
	// no declarations to check control references against.
	checkControls bool
}

func newParser(src string, checkControls bool) *parser {
	return &parser{
		lex: newLexer(src),
		def: &bleep.SynthDef{
			Kind:       bleep.KindSynth,
			Modules:    []bleep.Module{},
			Patches:    []bleep.Patch{},
			Envelopes:  []bleep.Patch{},
			Parameters: []bleep.Parameter{},
			Tweaks:     []bleep.Tweak{},
		},
		modules: map[string]bleep.ModuleType{bleep.AudioID: bleep.Audio},
		patched: map[bleep.Patch]bool{},
		tweaked: map[string]bool{},
		bounds: map[string][2]float64{
			"pitch": {bleep.MinPitch, bleep.MaxPitch},
			"level": {bleep.MinLevel, bleep.MaxLevel},
		},
		checkControls: checkControls,
	}
}

func (p *parser) errorf(t token, format string, args ...any) {
	panic(errorAt(t.line, t.col, format, args...))
}

func (p *parser) unexpected(t token, want string) {
	p.errorf(t, "expected %s, found %v", want, t)
}

func (p *parser) peek() token {
	if !p.peeked {
		t, err := p.lex.next()
		if err != nil {
			panic(err)
		}
		p.tok, p.peeked = t, true
	}
	return p.tok
}

func (p *parser) next() token {
	t := p.peek()
	p.peeked = false
	return t
}

func (p *parser) expect(kind tokenKind, want string) token {
	t := p.next()
	if t.kind != kind {
		p.unexpected(t, want)
	}
	return t
}

func (p *parser) expectWord(word string) token {
	t := p.next()
	if t.kind != tokWord || t.text != word {
		p.unexpected(t, strconv.Quote(word))
	}
	return t
}

func (p *parser) expectDirective(d string) token {
	t := p.next()
	if t.kind != tokDirective || t.text != d {
		p.unexpected(t, d)
	}
	return t
}

// hyphenated reads a word that may contain hyphens, such as SAW-OSC. The
// pieces must touch each other; "SAW - OSC" is not one word.
func (p *parser) hyphenated(want string) (string, token) {
	first := p.expect(tokWord, want)
	var sb strings.Builder
	sb.WriteString(first.text)
	end := first.end
	for {
		t := p.peek()
		if t.kind != tokMinus || t.start != end {
			break
		}
		p.next()
		w := p.next()
		if w.kind != tokWord || w.start != t.end {
			p.unexpected(w, want)
		}
		sb.WriteString("-")
		sb.WriteString(w.text)
		end = w.end
	}
	return sb.String(), first
}

// key reads "<name> :" and leaves the lexer right after the colon.
func (p *parser) key(name string) token {
	t := p.expectWord(name)
	p.expect(tokColon, `":"`)
	return t
}

func (p *parser) text(name string, required bool) string {
	p.key(name)
	s, line, col := p.lex.restOfLine()
	if required && s == "" {
		panic(errorAt(line, col, "%s must not be empty", name))
	}
	return s
}

func (p *parser) choice(name string, options ...string) string {
	p.key(name)
	t := p.next()
	for _, o := range options {
		if t.kind == tokWord && t.text == o {
			return o
		}
	}
	p.unexpected(t, strings.Join(options, " or "))
	return ""
}

// number reads an optionally negative number.
func (p *parser) number() (float64, token) {
	t := p.next()
	neg := false
	first := t
	if t.kind == tokMinus {
		neg = true
		t = p.next()
	}
	if t.kind != tokNumber {
		p.unexpected(t, "a number")
	}
	v, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		p.errorf(t, "invalid number %q", t.text)
	}
	if neg {
		v = -v
	}
	return v, first
}

func (p *parser) header() {
	p.expectDirective("@synth")
	short, t := p.hyphenated("a short name")
	if len(short) < 2 || !unicode.IsLetter(firstRune(short)) || strings.ContainsFunc(short, func(r rune) bool {
		return r != '-' && !unicode.IsLetter(r)
	}) {
		p.errorf(t, "invalid short name %q", short)
	}
	p.def.Shortname = short
	p.def.Longname = p.text("longname", true)
	p.def.Kind = bleep.Kind(p.choice("type", string(bleep.KindSynth), string(bleep.KindEffect)))
	p.def.Author = p.text("author", false)
	p.def.Version = p.text("version", false)
	p.def.Doc = p.text("doc", false)
	p.expectDirective("@end")
}

// statement parses one statement and reports whether there was one.
func (p *parser) statement() bool {
	t := p.peek()
	switch {
	case t.kind == tokEOF:
		return false
	case t.kind == tokDirective && t.text == "@param":
		p.param()
	case t.kind == tokWord && unicode.IsUpper(firstRune(t.text)):
		p.declaration()
	case t.kind == tokWord:
		p.connection()
	default:
		p.unexpected(t, "a declaration, patch, tweak or @param block")
	}
	return true
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func isParamName(s string) bool {
	first, size := utf8.DecodeRuneInString(s)
	if len(s) < 2 || !unicode.IsLetter(first) {
		return false
	}
	for _, r := range s[size:] {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func (p *parser) param() {
	p.expectDirective("@param")
	t := p.expect(tokWord, "a parameter name")
	if !isParamName(t.text) {
		p.errorf(t, "invalid parameter name %q", t.text)
	}
	if _, ok := p.bounds[t.text]; ok {
		p.errorf(t, "control parameter %q has already been defined", t.text)
	}
	par := bleep.Parameter{Name: t.text}
	par.Type = bleep.ParamType(p.choice("type", string(bleep.ParamFloat), string(bleep.ParamInt)))
	par.Mutable = p.choice("mutable", "yes", "no") == "yes"
	p.key("step")
	par.Step, _ = p.number()
	p.key("min")
	par.Min, _ = p.number()
	p.key("max")
	par.Max, _ = p.number()
	p.key("default")
	par.Default, _ = p.number()
	par.Doc = p.text("doc", false)
	p.expectDirective("@end")
	p.bounds[par.Name] = [2]float64{par.Min, par.Max}
	p.def.Parameters = append(p.def.Parameters, par)
}

func (p *parser) declaration() {
	name, t := p.hyphenated("a module type")
	typ, err := bleep.ParseModuleType(name)
	if err != nil || typ == bleep.Audio {
		p.errorf(t, "unknown module type %q", name)
	}
	p.expect(tokColon, `":"`)
	id, idt := p.varname()
	if _, ok := p.modules[id]; ok {
		p.errorf(idt, "module %q has already been defined", id)
	}
	p.modules[id] = typ
	p.def.Modules = append(p.def.Modules, bleep.Module{ID: id, Type: typ})
}

// varname reads a module name: a lower case letter followed by letters and
// digits.
func (p *parser) varname() (string, token) {
	t := p.expect(tokWord, "a module name")
	for i, r := range t.text {
		if (i == 0 && !unicode.IsLower(r)) || (!unicode.IsLetter(r) && !unicode.IsDigit(r)) {
			p.errorf(t, "invalid module name %q", t.text)
		}
	}
	return t.text, t
}

func (p *parser) endpoint() (bleep.Endpoint, token, token) {
	id, idt := p.varname()
	p.expect(tokDot, `"."`)
	pt := p.expect(tokWord, "a parameter")
	return bleep.Endpoint{ID: id, Param: pt.text}, idt, pt
}

// connection parses a patch (a.out -> b.in) or a tweak (a.param = expr).
func (p *parser) connection() {
	left, idt, pt := p.endpoint()
	t := p.next()
	switch t.kind {
	case tokArrow:
		p.patch(left, idt, pt)
	case tokAssign:
		p.tweak(left, idt, pt)
	default:
		p.unexpected(t, `"->" or "="`)
	}
}

func (p *parser) patch(from bleep.Endpoint, fromTok, fromParam token) {
	typ, ok := p.modules[from.ID]
	if !ok {
		p.errorf(fromTok, "a module called %q has not been defined", from.ID)
	}
	if !typ.HasOutput(from.Param) {
		p.errorf(fromParam, "cannot patch the parameter %q of module %q", from.Param, from.ID)
	}
	to, toTok, toParam := p.endpoint()
	toType, ok := p.modules[to.ID]
	if !ok {
		p.errorf(toTok, "a module called %q has not been defined", to.ID)
	}
	if !toType.HasInput(to.Param) {
		p.errorf(toParam, "cannot patch the parameter %q of module %q", to.Param, to.ID)
	}
	patch := bleep.Patch{From: from, To: to}
	if p.patched[patch] {
		p.errorf(fromTok, "duplicate patch connection")
	}
	if from.ID == to.ID {
		p.errorf(fromTok, "cannot patch a module into itself")
	}
	p.patched[patch] = true
	if to.ID == bleep.AudioID && to.Param == "in" {
		p.audioPatched = true
	}
	if typ.IsEnvelope() {
		p.def.Envelopes = append(p.def.Envelopes, patch)
	} else {
		p.def.Patches = append(p.def.Patches, patch)
	}
}

func (p *parser) tweak(target bleep.Endpoint, idt, pt token) {
	typ, ok := p.modules[target.ID]
	if !ok || typ == bleep.Audio {
		p.errorf(idt, "the module %q has not been defined", target.ID)
	}
	if !typ.CanTweak(target.Param) {
		p.errorf(pt, "cannot set the parameter %q of module %q", target.Param, target.ID)
	}
	if p.tweaked[target.String()] {
		p.errorf(idt, "you cannot set the value of %s more than once", target)
	}
	p.tweaked[target.String()] = true
	start := p.peek()
	expr, err := toPostfix(p.expression())
	if err != nil {
		p.errorf(start, "%v", err)
	}
	expr, err = expr.Bind(func(name string) (float64, float64, bool) {
		b, ok := p.bounds[name]
		return b[0], b[1], ok
	})
	if err != nil {
		p.errorf(start, "%v", err)
	}
	p.def.Tweaks = append(p.def.Tweaks, bleep.Tweak{ID: target.ID, Param: target.Param, Expression: expr})
}
