// Package compare decides whether produced output matches expected output.
package compare

import (
	"math"
	"sort"
	"strconv"
	"strings"

	appErr "instagrade/pkg/errors"
)

// Comparator reports whether actual output is acceptable for expected.
type Comparator interface {
	Matches(actual, expected string) bool
}

// ComparatorFunc adapts a plain function to Comparator.
type ComparatorFunc func(actual, expected string) bool

func (f ComparatorFunc) Matches(actual, expected string) bool { return f(actual, expected) }

// DefaultTolerance is the absolute and relative tolerance of Numeric.
const DefaultTolerance = 1e-6

// Trimmed compares after trimming leading and trailing whitespace.
type Trimmed struct{}

func (Trimmed) Matches(actual, expected string) bool {
	return strings.TrimSpace(actual) == strings.TrimSpace(expected)
}

// Tokens compares whitespace-separated tokens, ignoring line layout.
type Tokens struct{}

func (Tokens) Matches(actual, expected string) bool {
	a, e := strings.Fields(actual), strings.Fields(expected)
	if len(a) != len(e) {
		return false
	}
	for i := range a {
		if a[i] != e[i] {
			return false
		}
	}
	return true
}

// Numeric compares token by token. Tokens that both parse as floats match
// within Tolerance; everything else must be equal.
type Numeric struct {
	Tolerance float64
}

func (n Numeric) Matches(actual, expected string) bool {
	tol := n.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	a, e := strings.Fields(actual), strings.Fields(expected)
	if len(a) != len(e) {
		return false
	}
	for i := range a {
		if a[i] == e[i] {
			continue
		}
		x, errX := strconv.ParseFloat(a[i], 64)
		y, errY := strconv.ParseFloat(e[i], 64)
		if errX != nil || errY != nil {
			return false
		}
		diff := math.Abs(x - y)
		if diff > tol && diff > tol*math.Abs(y) {
			return false
		}
	}
	return true
}

// Unordered compares the multiset of trimmed non-empty lines.
type Unordered struct{}

func (Unordered) Matches(actual, expected string) bool {
	a, e := sortedLines(actual), sortedLines(expected)
	if len(a) != len(e) {
		return false
	}
	for i := range a {
		if a[i] != e[i] {
			return false
		}
	}
	return true
}

func sortedLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	sort.Strings(out)
	return out
}

// ByName returns the comparator registered under name. An empty name is trimmed.
func ByName(name string) (Comparator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "trimmed", "exact":
		return Trimmed{}, nil
	case "tokens":
		return Tokens{}, nil
	case "numeric":
		return Numeric{Tolerance: DefaultTolerance}, nil
	case "unordered":
		return Unordered{}, nil
	}
	return nil, appErr.ValidationError("comparator", "unknown comparator "+name)
}
