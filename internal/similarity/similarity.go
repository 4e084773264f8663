package similarity

import "math"

// Similarity scores two sources in [0,1]. Both are normalized for language
// first. The pair is put in a fixed order before matching so the score does
// not depend on argument order.
func Similarity(codeA, codeB, language string) float64 {
	r := ratioOf(Normalize(language, codeA), Normalize(language, codeB))
	return math.Min(r, 1)
}

// PairLanguage picks the language used to compare two submissions.
func PairLanguage(a, b string) string {
	if a != "" {
		return a
	}
	if b != "" {
		return b
	}
	return DefaultLanguage
}

// Round3 rounds to three decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
