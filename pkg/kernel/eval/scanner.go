package eval

import (
	"fmt"
	"strings"
)

// Token is one piece of a scanned string: either literal text or a
// reference path such as ["stored", "token"].
type Token struct {
	Literal string
	Path    []string
}

// IsRef reports whether the token is a reference.
func (t Token) IsRef() bool { return t.Path != nil }

// Ref renders the reference back into its ${...} form.
func (t Token) Ref() string { return "${" + strings.Join(t.Path, ".") + "}" }

// Scan splits s into alternating literal and reference tokens.
//
//	template  = { literal | escape | reference }
//	escape    = "$${"                      (a literal "${")
//	reference = "${" ws path ws "}"
//	path      = segment { "." segment }
//	segment   = 1*( letter | digit | "_" | "-" )
func Scan(s string) ([]Token, error) {
	sc := &scanner{src: s}
	return sc.template()
}

type scanner struct {
	src  string
	pos  int
	toks []Token
	lit  strings.Builder
}

func (sc *scanner) template() ([]Token, error) {
	for sc.pos < len(sc.src) {
		switch {
		case strings.HasPrefix(sc.src[sc.pos:], "$${"):
			sc.lit.WriteString("${")
			sc.pos += 3
		case strings.HasPrefix(sc.src[sc.pos:], "${"):
			start := sc.pos
			sc.pos += 2
			path, err := sc.reference()
			if err != nil {
				return nil, &ResolutionError{Ref: sc.src[start:], Reason: err.Error()}
			}
			sc.flush()
			sc.toks = append(sc.toks, Token{Path: path})
		default:
			sc.lit.WriteByte(sc.src[sc.pos])
			sc.pos++
		}
	}
	sc.flush()
	return sc.toks, nil
}

func (sc *scanner) flush() {
	if sc.lit.Len() == 0 {
		return
	}
	sc.toks = append(sc.toks, Token{Literal: sc.lit.String()})
	sc.lit.Reset()
}

func (sc *scanner) reference() ([]string, error) {
	sc.spaces()
	var path []string
	for {
		seg, err := sc.segment()
		if err != nil {
			return nil, err
		}
		path = append(path, seg)
		sc.spaces()
		if sc.pos >= len(sc.src) {
			return nil, fmt.Errorf("unterminated reference")
		}
		switch sc.src[sc.pos] {
		case '.':
			sc.pos++
			sc.spaces()
		case '}':
			sc.pos++
			return path, nil
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", sc.src[sc.pos], sc.pos)
		}
	}
}

func (sc *scanner) segment() (string, error) {
	start := sc.pos
	for sc.pos < len(sc.src) && isSegmentByte(sc.src[sc.pos]) {
		sc.pos++
	}
	if sc.pos == start {
		if sc.pos >= len(sc.src) {
			return "", fmt.Errorf("unterminated reference")
		}
		return "", fmt.Errorf("empty path segment at offset %d", sc.pos)
	}
	return sc.src[start:sc.pos], nil
}

func (sc *scanner) spaces() {
	for sc.pos < len(sc.src) && (sc.src[sc.pos] == ' ' || sc.src[sc.pos] == '\t') {
		sc.pos++
	}
}

func isSegmentByte(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
