package similarity

import "strings"

// fstring renames the variables inside the replacement fields of an
// f-string literal. Other literals come back unchanged.
func (r *renamer) fstring(lit string) string {
	q := strings.IndexAny(lit, `'"`)
	if q <= 0 || !strings.ContainsAny(lit[:q], "fF") {
		return lit
	}
	quote := lit[q : q+1]
	if len(lit)-q >= 6 && strings.HasPrefix(lit[q:], strings.Repeat(quote, 3)) {
		quote = strings.Repeat(quote, 3)
	}
	body := lit[q+len(quote) : len(lit)-len(quote)]
	return lit[:q+len(quote)] + r.fields(body) + quote
}

// fields rewrites every {...} field of body. Doubled braces are literal.
func (r *renamer) fields(body string) string {
	var b strings.Builder
	for i := 0; i < len(body); {
		c := body[i]
		if (c == '{' || c == '}') && i+1 < len(body) && body[i+1] == c {
			b.WriteString(body[i : i+2])
			i += 2
			continue
		}
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}
		end := fieldEnd(body, i+1)
		if end < 0 {
			b.WriteString(body[i:])
			break
		}
		b.WriteByte('{')
		b.WriteString(r.field(body[i+1 : end]))
		b.WriteByte('}')
		i = end + 1
	}
	return b.String()
}

// field rewrites "expr[=][!conv][:spec]". Nested fields in spec are
// rewritten too.
func (r *renamer) field(inner string) string {
	split := exprEnd(inner)
	expr, rest := inner[:split], inner[split:]

	debug := ""
	if trimmed := strings.TrimRight(expr, " "); strings.HasSuffix(trimmed, "=") {
		if n := len(trimmed); n < 2 || !strings.ContainsRune("=!<>", rune(trimmed[n-2])) {
			expr, debug = trimmed[:n-1], "="
		}
	}
	if renamed, ok := r.expression(expr); ok {
		expr = renamed
	}

	conv := ""
	if strings.HasPrefix(rest, "!") {
		var spec string
		var found bool
		conv, spec, found = strings.Cut(rest, ":")
		if !found {
			return expr + debug + conv
		}
		rest = ":" + spec
	}
	if strings.HasPrefix(rest, ":") {
		return expr + debug + conv + ":" + r.fields(rest[1:])
	}
	return expr + debug + conv + rest
}

// expression renames the names of one field expression. ok is false when
// the text does not tokenize as a single expression.
func (r *renamer) expression(expr string) (string, bool) {
	toks, err := tokenizePython(strings.TrimSpace(expr))
	if err != nil {
		return "", false
	}
	lines := splitLines(toks)
	if len(lines) != 1 {
		return "", false
	}
	r.renameLine(lines[0])
	var b strings.Builder
	writeTokens(&b, lines[0].toks, false)
	return b.String(), true
}

// exprEnd returns where the expression of a field ends: the first top-level
// ':' or conversion '!', or len(inner).
func exprEnd(inner string) int {
	depth := 0
	for i := 0; i < len(inner); i++ {
		switch c := inner[i]; c {
		case '\'', '"':
			j := strings.IndexByte(inner[i+1:], c)
			if j < 0 {
				return len(inner)
			}
			i += j + 1
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ':':
			if depth == 0 {
				return i
			}
		case '!':
			if depth == 0 && (i+1 >= len(inner) || inner[i+1] != '=') {
				return i
			}
		}
	}
	return len(inner)
}

// fieldEnd returns the index of the '}' closing the field whose expression
// starts at start, or -1. Quotes are only skipped inside the expression;
// a format spec may use them as fill characters.
func fieldEnd(s string, start int) int {
	depth := 0
	inSpec := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case (c == '\'' || c == '"') && (!inSpec || depth > 0):
			j := strings.IndexByte(s[i+1:], c)
			if j < 0 {
				return -1
			}
			i += j + 1
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == '}':
			if depth == 0 {
				return i
			}
			depth--
		case depth == 0 && !inSpec && (c == ':' || (c == '!' && (i+1 >= len(s) || s[i+1] != '='))):
			inSpec = true
		}
	}
	return -1
}
