// Package similarity scores how alike two submissions are and scans an
// assignment for suspiciously similar pairs.
package similarity

import "strings"

// NormalizeFunc canonicalizes source text. It fails on source it cannot parse.
type NormalizeFunc func(src string) (string, error)

var normalizers = map[string]NormalizeFunc{
	"python": NormalizePython,
}

var languageAliases = map[string]string{
	"py":      "python",
	"python3": "python",
	"c++":     "cpp",
	"js":      "javascript",
	"node":    "javascript",
}

// DefaultLanguage is assumed when neither submission names a language.
const DefaultLanguage = "python"

func canonicalLanguage(language string) string {
	key := strings.ToLower(strings.TrimSpace(language))
	if alias, ok := languageAliases[key]; ok {
		return alias
	}
	return key
}

// Normalize returns the canonical form of src for language. Languages
// without a normalizer, and sources that fail to parse, come back unchanged.
func Normalize(language, src string) (out string) {
	fn, ok := normalizers[canonicalLanguage(language)]
	if !ok {
		return src
	}
	defer func() {
		if recover() != nil {
			out = src
		}
	}()
	normalized, err := fn(src)
	if err != nil {
		return src
	}
	return normalized
}
