package compiler

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokDirective // @synth, @param, @end
	tokNumber
	tokColon
	tokDot
	tokArrow
	tokAssign
	tokLParen
	tokRParen
	tokComma
	tokPlus
	tokMinus
	tokStar
	tokSlash
)

var tokenNames = [...]string{
	tokEOF:       "end of input",
	tokWord:      "word",
	tokDirective: "directive",
	tokNumber:    "number",
	tokColon:     `":"`,
	tokDot:       `"."`,
	tokArrow:     `"->"`,
	tokAssign:    `"="`,
	tokLParen:    `"("`,
	tokRParen:    `")"`,
	tokComma:     `","`,
	tokPlus:      `"+"`,
	tokMinus:     `"-"`,
	tokStar:      `"*"`,
	tokSlash:     `"/"`,
}

func (k tokenKind) String() string { return tokenNames[k] }

type token struct {
	kind      tokenKind
	text      string
	line, col int
	start     int // byte offsets into the source
	end       int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return t.kind.String()
	case tokWord, tokNumber, tokDirective:
		return fmt.Sprintf("%q", t.text)
	}
	return t.kind.String()
}

// lexer scans tokens on demand. Scanning is lazy because the header values
// are free text that runs to the end of the line, which only the parser knows
// to expect.
type lexer struct {
	src       string
	pos       int
	line, col int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return -1
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	return r
}

func (l *lexer) advance() rune {
	r, size := utf8.DecodeRuneInString(l.src[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		r := l.peekRune()
		switch {
		case r == '#':
			for l.pos < len(l.src) && l.peekRune() != '\n' {
				l.advance()
			}
		case unicode.IsSpace(r):
			l.advance()
		default:
			return
		}
	}
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func (l *lexer) next() (token, error) {
	l.skipSpaceAndComments()
	tok := token{line: l.line, col: l.col, start: l.pos}
	if l.pos >= len(l.src) {
		tok.kind, tok.end = tokEOF, l.pos
		return tok, nil
	}
	r := l.advance()
	switch {
	case r == '@':
		for isWordRune(l.peekRune()) {
			l.advance()
		}
		tok.kind = tokDirective
	case unicode.IsLetter(r):
		for isWordRune(l.peekRune()) {
			l.advance()
		}
		tok.kind = tokWord
	case isDigit(r):
		for isDigit(l.peekRune()) {
			l.advance()
		}
		if l.peekRune() == '.' && l.pos+1 < len(l.src) && isDigit(rune(l.src[l.pos+1])) {
			l.advance()
			for isDigit(l.peekRune()) {
				l.advance()
			}
		}
		tok.kind = tokNumber
	case r == '-':
		tok.kind = tokMinus
		if l.peekRune() == '>' {
			l.advance()
			tok.kind = tokArrow
		}
	case r == ':':
		tok.kind = tokColon
	case r == '.':
		tok.kind = tokDot
	case r == '=':
		tok.kind = tokAssign
	case r == '(':
		tok.kind = tokLParen
	case r == ')':
		tok.kind = tokRParen
	case r == ',':
		tok.kind = tokComma
	case r == '+':
		tok.kind = tokPlus
	case r == '*':
		tok.kind = tokStar
	case r == '/':
		tok.kind = tokSlash
	default:
		return tok, errorAt(tok.line, tok.col, "unexpected character %q", r)
	}
	tok.end = l.pos
	tok.text = l.src[tok.start:tok.end]
	return tok, nil
}

// restOfLine returns the trimmed text up to the end of the line or the start
// of a comment, and its position.
func (l *lexer) restOfLine() (string, int, int) {
	for l.pos < len(l.src) {
		r := l.peekRune()
		if r == '\n' || !unicode.IsSpace(r) {
			break
		}
		l.advance()
	}
	line, col, start := l.line, l.col, l.pos
	for l.pos < len(l.src) {
		r := l.peekRune()
		if r == '\n' || r == '#' {
			break
		}
		l.advance()
	}
	return strings.TrimSpace(l.src[start:l.pos]), line, col
}
