package similarity

import (
	"strconv"
	"strings"
)

var pyKeywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true,
	"assert": true, "async": true, "await": true, "break": true, "class": true,
	"continue": true, "def": true, "del": true, "elif": true, "else": true,
	"except": true, "finally": true, "for": true, "from": true, "global": true,
	"if": true, "import": true, "in": true, "is": true, "lambda": true,
	"nonlocal": true, "not": true, "or": true, "pass": true, "raise": true,
	"return": true, "try": true, "while": true, "with": true, "yield": true,
}

var pyConstants = map[string]bool{"False": true, "None": true, "True": true}

// NormalizePython rewrites src so that every variable and parameter name is
// replaced by v0, v1, ... in order of first occurrence. Comments, blank
// lines and layout are canonicalized. Names that are not variables keep
// their spelling: def and class names, attributes, imported module names,
// global and nonlocal declarations, exception aliases and keyword
// arguments at call sites.
func NormalizePython(src string) (string, error) {
	tokens, err := tokenizePython(src)
	if err != nil {
		return "", err
	}
	lines := splitLines(tokens)
	if err := validateLines(lines); err != nil {
		return "", err
	}
	renameIdentifiers(lines)
	return emitLines(lines), nil
}

// logicalLine is one statement line with the indent change that precedes it.
type logicalLine struct {
	indent int // +1 indent, -n dedent
	toks   []token
	soft   bool // first token is a match/case soft keyword
}

func splitLines(tokens []token) []*logicalLine {
	var lines []*logicalLine
	cur := &logicalLine{}
	for _, tk := range tokens {
		switch tk.kind {
		case tokIndent:
			cur.indent++
		case tokDedent:
			cur.indent--
		case tokNewline:
			if len(cur.toks) == 0 {
				continue
			}
			lines = append(lines, cur)
			cur = &logicalLine{}
		default:
			cur.toks = append(cur.toks, tk)
		}
	}
	if len(cur.toks) > 0 {
		lines = append(lines, cur)
	}
	return lines
}

func (l *logicalLine) last() token { return l.toks[len(l.toks)-1] }

func isOp(tk token, ops ...string) bool {
	if tk.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if tk.text == op {
			return true
		}
	}
	return false
}

func isKeyword(tk token, kws ...string) bool {
	if tk.kind != tokName || !pyKeywords[tk.text] {
		return false
	}
	if len(kws) == 0 {
		return true
	}
	for _, kw := range kws {
		if tk.text == kw {
			return true
		}
	}
	return false
}

func markSoftKeyword(l *logicalLine) {
	if len(l.toks) < 3 {
		return
	}
	first := l.toks[0]
	if first.kind != tokName || (first.text != "match" && first.text != "case") {
		return
	}
	if isOp(l.last(), ":") && !isOp(l.toks[1], ":", "=", ".", ",", ")", "]", "}") {
		l.soft = true
	}
}

// validateLines rejects block structure and token sequences that cannot
// parse as Python.
func validateLines(lines []*logicalLine) error {
	for i, l := range lines {
		markSoftKeyword(l)
		opensBlock := isOp(l.last(), ":")
		if l.indent > 0 && (i == 0 || !isOp(lines[i-1].last(), ":")) {
			return &SyntaxError{Line: l.toks[0].line, Msg: "unexpected indent"}
		}
		if opensBlock && (i+1 >= len(lines) || lines[i+1].indent <= 0) {
			return &SyntaxError{Line: l.last().line, Msg: "expected an indented block"}
		}
		if err := validateTokens(l); err != nil {
			return err
		}
	}
	return nil
}

func isOperandEnd(tk token) bool {
	switch tk.kind {
	case tokNumber, tokString:
		return true
	case tokName:
		return !pyKeywords[tk.text] || pyConstants[tk.text]
	case tokOp:
		return tk.text == ")" || tk.text == "]" || tk.text == "}"
	}
	return false
}

func isOperandStart(tk token) bool {
	switch tk.kind {
	case tokNumber, tokString:
		return true
	case tokName:
		return !pyKeywords[tk.text] || pyConstants[tk.text]
	}
	return false
}

// binaryOnly operators need an operand on both sides.
var binaryOnly = map[string]bool{
	"/": true, "//": true, "%": true, "@": true, "<<": true, ">>": true,
	"&": true, "|": true, "^": true, "<": true, ">": true, "<=": true, ">=": true,
	"==": true, "!=": true, "->": true,
	"=": true, ":=": true, "+=": true, "-=": true, "*=": true, "/=": true, "//=": true,
	"%=": true, "@=": true, "&=": true, "|=": true, "^=": true, ">>=": true, "<<=": true, "**=": true,
}

var assignOps = map[string]bool{
	"=": true, ":=": true, "+=": true, "-=": true, "*=": true, "/=": true, "//=": true,
	"%=": true, "@=": true, "&=": true, "|=": true, "^=": true, ">>=": true, "<<=": true, "**=": true,
}

// startsOperand reports whether tk can begin the right-hand side of an operator.
func startsOperand(tk token) bool {
	return isOperandStart(tk) ||
		isOp(tk, "(", "[", "{", "-", "+", "~", "*", "**", "...") ||
		isKeyword(tk, "not", "lambda", "await", "yield")
}

// positionalMarker reports whether the "/" at i is the positional-only
// marker of a parameter list.
func positionalMarker(toks []token, i int) bool {
	return i > 0 && i+1 < len(toks) && isOp(toks[i-1], ",", "(") && isOp(toks[i+1], ",", ")")
}

func validateOperator(l *logicalLine, i int) error {
	tk := l.toks[i]
	if tk.kind != tokOp || (i == 0 && tk.text == "@") {
		return nil
	}
	binary := binaryOnly[tk.text]
	if !binary && !isOp(tk, "-", "+", "~") {
		return nil
	}
	if tk.text == "/" && positionalMarker(l.toks, i) {
		return nil
	}
	if binary {
		if i == 0 {
			return &SyntaxError{Line: tk.line, Msg: "invalid syntax near " + strconv.Quote(tk.text)}
		}
		prev := l.toks[i-1]
		if assignOps[tk.text] && isKeyword(prev) {
			return &SyntaxError{Line: tk.line, Msg: "cannot assign to " + prev.text}
		}
		if !isOperandEnd(prev) && !isOp(prev, "...") {
			return &SyntaxError{Line: tk.line, Msg: "invalid syntax near " + strconv.Quote(tk.text)}
		}
	}
	if i+1 >= len(l.toks) || !startsOperand(l.toks[i+1]) {
		return &SyntaxError{Line: tk.line, Msg: "expected an operand after " + strconv.Quote(tk.text)}
	}
	return nil
}

func validateTokens(l *logicalLine) error {
	for i, tk := range l.toks {
		if err := validateOperator(l, i); err != nil {
			return err
		}
		if isKeyword(tk, "def", "class") {
			if i+1 >= len(l.toks) || l.toks[i+1].kind != tokName || pyKeywords[l.toks[i+1].text] {
				return &SyntaxError{Line: tk.line, Msg: "invalid syntax after " + tk.text}
			}
			if tk.text == "def" && (i+2 >= len(l.toks) || !isOp(l.toks[i+2], "(")) {
				return &SyntaxError{Line: tk.line, Msg: "expected '('"}
			}
		}
		if i == 0 || (i == 1 && l.soft) {
			continue
		}
		prev := l.toks[i-1]
		if isOperandEnd(prev) && isOperandStart(tk) && !(prev.kind == tokString && tk.kind == tokString) {
			return &SyntaxError{Line: tk.line, Msg: "invalid syntax near " + strconv.Quote(tk.text)}
		}
	}
	return nil
}

type bracketFrame struct {
	call bool
}

// renamer maps variable names to v0, v1, ... across the whole file.
type renamer struct {
	names map[string]string
}

func (r *renamer) canonical(name string) string {
	if v, ok := r.names[name]; ok {
		return v
	}
	v := "v" + strconv.Itoa(len(r.names))
	r.names[name] = v
	return v
}

func renameIdentifiers(lines []*logicalLine) {
	r := &renamer{names: make(map[string]string)}
	for _, l := range lines {
		r.renameLine(l)
	}
}

func (r *renamer) renameLine(l *logicalLine) {
	first := l.toks[0]
	if isKeyword(first, "import", "from", "global", "nonlocal") {
		return
	}
	exceptLine := isKeyword(first, "except")
	var stack []bracketFrame
	var lambdas []int

	for i := range l.toks {
		tk := l.toks[i]
		var prev, next token
		if i > 0 {
			prev = l.toks[i-1]
		}
		if i+1 < len(l.toks) {
			next = l.toks[i+1]
		}

		if tk.kind == tokOp {
			switch tk.text {
			case "(":
				isCall := i > 0 && isOperandEnd(prev) && prev.kind != tokNumber
				if i > 1 && isKeyword(l.toks[i-2], "def") {
					isCall = false
				}
				stack = append(stack, bracketFrame{call: isCall})
			case "[", "{":
				stack = append(stack, bracketFrame{})
			case ")", "]", "}":
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
			case ":":
				if n := len(lambdas); n > 0 && lambdas[n-1] == len(stack) {
					lambdas = lambdas[:n-1]
				}
			}
			continue
		}
		if tk.kind == tokString {
			l.toks[i].text = r.fstring(tk.text)
			continue
		}
		if tk.kind != tokName {
			continue
		}
		if isKeyword(tk, "lambda") {
			lambdas = append(lambdas, len(stack))
			continue
		}
		if pyKeywords[tk.text] || (i == 0 && l.soft) {
			continue
		}
		if isOp(prev, ".") || isKeyword(prev, "def", "class") {
			continue
		}
		if exceptLine && isKeyword(prev, "as") {
			continue
		}
		inLambdaParams := len(lambdas) > 0 && lambdas[len(lambdas)-1] == len(stack)
		if len(stack) > 0 && stack[len(stack)-1].call && !inLambdaParams &&
			isOp(prev, "(", ",") && isOp(next, "=") {
			continue
		}
		l.toks[i].text = r.canonical(tk.text)
	}
}

func emitLines(lines []*logicalLine) string {
	var b strings.Builder
	depth := 0
	for _, l := range lines {
		depth += l.indent
		if depth < 0 {
			depth = 0
		}
		b.WriteString(strings.Repeat("    ", depth))
		writeTokens(&b, l.toks, true)
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// writeTokens prints one logical line. canonQuotes rewrites simple
// double-quoted literals, which is unsafe inside an f-string field.
func writeTokens(b *strings.Builder, toks []token, canonQuotes bool) {
	nesting := 0
	for i, tk := range toks {
		if i > 0 && needsSpace(toks, i, nesting) {
			b.WriteByte(' ')
		}
		if canonQuotes {
			b.WriteString(canonicalLiteral(tk))
		} else {
			b.WriteString(tk.text)
		}
		switch {
		case isOp(tk, "(", "[", "{"):
			nesting++
		case isOp(tk, ")", "]", "}"):
			nesting--
		}
	}
}

var unaryOps = map[string]bool{"-": true, "+": true, "~": true, "*": true, "**": true}

// needsSpace decides the separator before toks[i]. nesting is the bracket
// depth at that point; inside brackets "=" only binds keywords and defaults.
func needsSpace(toks []token, i, nesting int) bool {
	prev, cur := toks[i-1], toks[i]
	if isOp(cur, ")", "]", "}", ",", ":", ";", ".") {
		return false
	}
	if nesting > 0 && (isOp(prev, "=") || isOp(cur, "=")) {
		return false
	}
	if isOp(prev, "(", "[", "{", ".", "~") {
		return false
	}
	if i == 1 && isOp(prev, "@") {
		return false
	}
	if isOp(cur, "(", "[") && isOperandEnd(prev) {
		return false
	}
	if prev.kind == tokOp && unaryOps[prev.text] {
		if i == 1 {
			return false
		}
		before := toks[i-2]
		if before.kind == tokOp && !isOp(before, ")", "]", "}") {
			return false
		}
		if isKeyword(before) && !pyConstants[before.text] {
			return false
		}
	}
	return true
}

// canonicalLiteral prints simple string literals with single quotes so that
// quote style does not affect similarity.
func canonicalLiteral(tk token) string {
	if tk.kind != tokString || len(tk.text) < 2 {
		return tk.text
	}
	q := tk.text[0]
	if q != '"' || strings.HasPrefix(tk.text, `"""`) {
		return tk.text
	}
	body := tk.text[1 : len(tk.text)-1]
	if strings.ContainsAny(body, `'"\`) {
		return tk.text
	}
	return "'" + body + "'"
}
