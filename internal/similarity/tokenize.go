package similarity

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokName tokenKind = iota
	tokNumber
	tokString
	tokOp
	tokNewline
	tokIndent
	tokDedent
)

type token struct {
	kind tokenKind
	text string
	line int
}

// SyntaxError reports source the Python normalizer could not accept.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

var pyOperators = []string{
	"**=", "//=", ">>=", "<<=", "...",
	"->", ":=", "**", "//", "<<", ">>", "<=", ">=", "==", "!=",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "@=",
	"+", "-", "*", "/", "%", "@", "&", "|", "^", "~", "<", ">",
	"(", ")", "[", "]", "{", "}", ",", ":", ";", ".", "=",
}

var closingBracket = map[byte]byte{')': '(', ']': '[', '}': '{'}

type tokenizer struct {
	src         string
	pos         int
	line        int
	indents     []int
	brackets    []byte
	tokens      []token
	atLineStart bool
}

// tokenizePython splits src into logical-line tokens. Comments and blank
// lines are dropped; indentation becomes INDENT/DEDENT tokens.
func tokenizePython(src string) ([]token, error) {
	t := &tokenizer{
		src:         strings.ReplaceAll(src, "\r\n", "\n"),
		line:        1,
		indents:     []int{0},
		atLineStart: true,
	}
	for {
		if t.atLineStart && len(t.brackets) == 0 {
			eof, err := t.indentation()
			if err != nil {
				return nil, err
			}
			if eof {
				break
			}
		}
		if t.pos >= len(t.src) {
			break
		}
		if err := t.next(); err != nil {
			return nil, err
		}
	}
	if len(t.brackets) > 0 {
		return nil, t.errorf("'%c' was never closed", t.brackets[len(t.brackets)-1])
	}
	t.newline()
	for len(t.indents) > 1 {
		t.indents = t.indents[:len(t.indents)-1]
		t.emit(tokDedent, "")
	}
	return t.tokens, nil
}

func (t *tokenizer) errorf(format string, args ...interface{}) error {
	return &SyntaxError{Line: t.line, Msg: fmt.Sprintf(format, args...)}
}

func (t *tokenizer) emit(kind tokenKind, text string) {
	t.tokens = append(t.tokens, token{kind: kind, text: text, line: t.line})
}

func (t *tokenizer) newline() {
	if n := len(t.tokens); n > 0 && t.tokens[n-1].kind != tokNewline && t.tokens[n-1].kind != tokDedent {
		t.emit(tokNewline, "")
	}
}

// indentation consumes blank and comment-only lines, then measures the
// indent of the next logical line. It reports true at end of input.
func (t *tokenizer) indentation() (bool, error) {
	for {
		col := 0
	scan:
		for t.pos < len(t.src) {
			switch t.src[t.pos] {
			case ' ':
				col++
			case '\t':
				col = (col/8 + 1) * 8
			case '\f':
				col = 0
			default:
				break scan
			}
			t.pos++
		}
		if t.pos >= len(t.src) {
			return true, nil
		}
		switch t.src[t.pos] {
		case '\n':
			t.pos++
			t.line++
			continue
		case '#':
			for t.pos < len(t.src) && t.src[t.pos] != '\n' {
				t.pos++
			}
			continue
		}
		top := t.indents[len(t.indents)-1]
		switch {
		case col > top:
			t.indents = append(t.indents, col)
			t.emit(tokIndent, "")
		case col < top:
			for col < t.indents[len(t.indents)-1] {
				t.indents = t.indents[:len(t.indents)-1]
				t.emit(tokDedent, "")
			}
			if col != t.indents[len(t.indents)-1] {
				return false, t.errorf("unindent does not match any outer indentation level")
			}
		}
		t.atLineStart = false
		return false, nil
	}
}

func (t *tokenizer) next() error {
	c := t.src[t.pos]
	switch {
	case c == '#':
		for t.pos < len(t.src) && t.src[t.pos] != '\n' {
			t.pos++
		}
	case c == '\n':
		t.pos++
		if len(t.brackets) == 0 {
			t.newline()
			t.atLineStart = true
		}
		t.line++
	case c == ' ' || c == '\t' || c == '\f' || c == '\r':
		t.pos++
	case c == '\\':
		if t.pos+1 < len(t.src) && t.src[t.pos+1] == '\n' {
			t.pos += 2
			t.line++
			return nil
		}
		return t.errorf("unexpected character after line continuation character")
	case c == '"' || c == '\'':
		return t.readString(t.pos)
	case isDigit(c) || (c == '.' && t.pos+1 < len(t.src) && isDigit(t.src[t.pos+1])):
		return t.readNumber()
	default:
		r, _ := utf8.DecodeRuneInString(t.src[t.pos:])
		if isIdentStart(r) {
			return t.readName()
		}
		return t.readOp()
	}
	return nil
}

func (t *tokenizer) readName() error {
	start := t.pos
	for t.pos < len(t.src) {
		r, size := utf8.DecodeRuneInString(t.src[t.pos:])
		if !isIdentStart(r) && !unicode.IsDigit(r) {
			break
		}
		t.pos += size
	}
	name := t.src[start:t.pos]
	if t.pos < len(t.src) && (t.src[t.pos] == '"' || t.src[t.pos] == '\'') && isStringPrefix(name) {
		return t.readString(start)
	}
	t.emit(tokName, name)
	return nil
}

func isStringPrefix(s string) bool {
	switch strings.ToLower(s) {
	case "r", "u", "b", "f", "br", "rb", "fr", "rf":
		return true
	}
	return false
}

// readString scans a literal whose prefix begins at start and whose opening
// quote is at t.pos.
func (t *tokenizer) readString(start int) error {
	startLine := t.line
	q := t.src[t.pos]
	triple := strings.HasPrefix(t.src[t.pos:], strings.Repeat(string(q), 3))
	if triple {
		t.pos += 3
	} else {
		t.pos++
	}
	for {
		if t.pos >= len(t.src) {
			t.line = startLine
			if triple {
				return t.errorf("unterminated triple-quoted string literal")
			}
			return t.errorf("unterminated string literal")
		}
		c := t.src[t.pos]
		switch {
		case c == '\\':
			if t.pos+1 < len(t.src) && t.src[t.pos+1] == '\n' {
				t.line++
			}
			t.pos += 2
			continue
		case c == '\n':
			if !triple {
				t.line = startLine
				return t.errorf("unterminated string literal")
			}
			t.line++
		case c == q:
			if !triple {
				t.pos++
				t.tokens = append(t.tokens, token{kind: tokString, text: t.src[start:t.pos], line: startLine})
				return nil
			}
			if strings.HasPrefix(t.src[t.pos:], strings.Repeat(string(q), 3)) {
				t.pos += 3
				t.tokens = append(t.tokens, token{kind: tokString, text: t.src[start:t.pos], line: startLine})
				return nil
			}
		}
		t.pos++
	}
}

func (t *tokenizer) readNumber() error {
	start := t.pos
	if t.src[t.pos] == '0' && t.pos+1 < len(t.src) && strings.ContainsRune("xXoObB", rune(t.src[t.pos+1])) {
		t.pos += 2
		for t.pos < len(t.src) && (isHexDigit(t.src[t.pos]) || t.src[t.pos] == '_') {
			t.pos++
		}
	} else {
		t.digits()
		if t.pos < len(t.src) && t.src[t.pos] == '.' {
			t.pos++
			t.digits()
		}
		if t.pos < len(t.src) && (t.src[t.pos] == 'e' || t.src[t.pos] == 'E') {
			t.pos++
			if t.pos < len(t.src) && (t.src[t.pos] == '+' || t.src[t.pos] == '-') {
				t.pos++
			}
			if t.pos >= len(t.src) || !isDigit(t.src[t.pos]) {
				return t.errorf("invalid decimal literal")
			}
			t.digits()
		}
		if t.pos < len(t.src) && (t.src[t.pos] == 'j' || t.src[t.pos] == 'J') {
			t.pos++
		}
	}
	if t.pos < len(t.src) {
		if r, _ := utf8.DecodeRuneInString(t.src[t.pos:]); isIdentStart(r) {
			return t.errorf("invalid decimal literal")
		}
	}
	t.emit(tokNumber, t.src[start:t.pos])
	return nil
}

func (t *tokenizer) digits() {
	for t.pos < len(t.src) && (isDigit(t.src[t.pos]) || t.src[t.pos] == '_') {
		t.pos++
	}
}

func (t *tokenizer) readOp() error {
	for _, op := range pyOperators {
		if !strings.HasPrefix(t.src[t.pos:], op) {
			continue
		}
		t.pos += len(op)
		if len(op) == 1 {
			c := op[0]
			switch c {
			case '(', '[', '{':
				t.brackets = append(t.brackets, c)
			case ')', ']', '}':
				if len(t.brackets) == 0 {
					return t.errorf("unmatched '%c'", c)
				}
				open := t.brackets[len(t.brackets)-1]
				if open != closingBracket[c] {
					return t.errorf("closing parenthesis '%c' does not match opening parenthesis '%c'", c, open)
				}
				t.brackets = t.brackets[:len(t.brackets)-1]
			}
		}
		t.emit(tokOp, op)
		return nil
	}
	r, _ := utf8.DecodeRuneInString(t.src[t.pos:])
	return t.errorf("invalid character %q", r)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}
