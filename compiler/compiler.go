// Package compiler turns the text of a synth definition into a
// bleep.SynthDef.
//
// A definition starts with an @synth header block, followed by any number of
// @param blocks, module declarations, patches and tweaks:
//
//	@synth saw
//	longname : Simple saw
//	type : synth
//	author : Nobody
//	version : 1.0
//	doc : A plain sawtooth
//	@end
//
//	SAW-OSC : osc
//	osc.out -> audio.in
//	osc.pitch = param.pitch
//
// The checks that need to know what has been declared so far run during the
// parse, so every error carries the position where the parser noticed it.
package compiler

import (
	"errors"
	"fmt"

	"github.com/bleepsynth/bleep"
)

// CompileError is the error returned for any problem in a definition. Line
// and Col are 1-based; they are zero for the checks that run after the whole
// definition has been read.
type CompileError struct {
	Line, Col int
	Msg       string
	Err       error
}

func (e *CompileError) Error() string {
	if e.Line == 0 {
		return e.Msg
	}
	return fmt.Sprintf("line %d, col %d: %s", e.Line, e.Col, e.Msg)
}

func (e *CompileError) Unwrap() error { return e.Err }

func errorAt(line, col int, format string, args ...any) *CompileError {
	return &CompileError{Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

// Compile parses and checks a synth definition. The returned definition has
// the bounds of every control bound into its tweak expressions. Any error is
// a *CompileError.
func Compile(src string) (def *bleep.SynthDef, err error) {
	p := newParser(src, true)
	defer p.recover(&err)
	p.header()
	for p.statement() {
	}
	p.finish()
	return p.def, nil
}

// ParseExpression compiles a single infix tweak expression, such as
// "map(param.cutoff, 0, 1) * 2", to postfix. Control names are not checked
// and not bound.
func ParseExpression(src string) (expr bleep.Expression, err error) {
	p := newParser(src, false)
	defer p.recover(&err)
	items := p.expression()
	if t := p.peek(); t.kind != tokEOF {
		p.unexpected(t, "end of expression")
	}
	return toPostfix(items)
}

func (p *parser) finish() {
	fail := func(err error) {
		panic(&CompileError{Msg: err.Error(), Err: err})
	}
	// a patch needs declared modules on both ends, so a source with patches
	// always has modules
	if len(p.def.Patches) == 0 {
		fail(bleep.ErrNothingPatched)
	}
	if !p.audioPatched {
		fail(bleep.ErrNoPatchToAudioIn)
	}
}

func (p *parser) recover(errp *error) {
	e := recover()
	if e == nil {
		return
	}
	var ce *CompileError
	if err, ok := e.(error); ok && errors.As(err, &ce) {
		*errp = ce
		return
	}
	panic(e)
}
