package compare_test

import (
	"testing"

	"instagrade/internal/grading/compare"
)

func TestTrimmed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		actual   string
		expected string
		want     bool
	}{
		{"4\n", "4", true},
		{"", "", true},
		{"  \n", "", true},
		{"4 ", "5", false},
		{"1\n2\n", "1\n2", true},
		{"1 2", "1  2", false},
	}
	for _, tc := range cases {
		if got := (compare.Trimmed{}).Matches(tc.actual, tc.expected); got != tc.want {
			t.Fatalf("Matches(%q, %q): expected %v, got %v", tc.actual, tc.expected, tc.want, got)
		}
	}
}

func TestTokens(t *testing.T) {
	c := compare.Tokens{}
	if !c.Matches("1  2\n3", "1 2 3\n") {
		t.Fatalf("expected whitespace-insensitive match")
	}
	if c.Matches("1 2", "1 2 3") {
		t.Fatalf("expected token count mismatch")
	}
}

func TestNumeric(t *testing.T) {
	t.Parallel()

	c := compare.Numeric{}
	cases := []struct {
		actual   string
		expected string
		want     bool
	}{
		{"3.1415926", "3.1415927", true},
		{"0.5 1e3", "0.50000 1000", true},
		{"1.01", "1.00", false},
		{"yes 2", "yes 2.0000000001", true},
		{"no", "yes", false},
		{"1", "1 2", false},
	}
	for _, tc := range cases {
		if got := c.Matches(tc.actual, tc.expected); got != tc.want {
			t.Fatalf("Matches(%q, %q): expected %v, got %v", tc.actual, tc.expected, tc.want, got)
		}
	}
}

func TestUnordered(t *testing.T) {
	c := compare.Unordered{}
	if !c.Matches("b\na\n\nc", "a\nb\nc\n") {
		t.Fatalf("expected order-insensitive match")
	}
	if c.Matches("a\na", "a") {
		t.Fatalf("expected multiplicity to matter")
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "trimmed", "Numeric", "unordered", "tokens"} {
		if _, err := compare.ByName(name); err != nil {
			t.Fatalf("expected %q to resolve: %v", name, err)
		}
	}
	if _, err := compare.ByName("fuzzy"); err == nil {
		t.Fatalf("expected error for unknown comparator")
	}
}
