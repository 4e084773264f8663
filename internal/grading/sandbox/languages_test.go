package sandbox_test

import (
	"testing"
	"time"

	"instagrade/internal/grading/sandbox"
)

func TestLookupLanguageAliases(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"python":     "python",
		"PY":         "python",
		" c++ ":      "cpp",
		"cpp":        "cpp",
		"js":         "javascript",
		"node":       "javascript",
		"javascript": "javascript",
	}
	for in, want := range cases {
		lang, ok := sandbox.LookupLanguage(in)
		if !ok {
			t.Fatalf("expected %q to resolve", in)
		}
		if lang.Name != want {
			t.Fatalf("expected %s for %q, got %s", want, in, lang.Name)
		}
	}
	if _, ok := sandbox.LookupLanguage("ruby"); ok {
		t.Fatalf("expected ruby to be unsupported")
	}
}

func TestSupportedLanguages(t *testing.T) {
	got := sandbox.SupportedLanguages()
	want := []string{"cpp", "javascript", "python"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestLanguageScript(t *testing.T) {
	t.Parallel()

	cases := []struct {
		lang  string
		paths sandbox.ScriptPaths
		limit time.Duration
		want  string
	}{
		{
			lang:  "python",
			paths: sandbox.ScriptPaths{Source: "/work/main.py", Input: "/work/input.txt"},
			limit: 1500 * time.Millisecond,
			want:  "exec timeout 1.5s python3 /work/main.py < /work/input.txt",
		},
		{
			lang:  "cpp",
			paths: sandbox.ScriptPaths{Source: "/work/main.cpp", Binary: "/tmp/a.out"},
			limit: 3 * time.Second,
			want:  "g++ -O2 -std=c++17 -o /tmp/a.out /work/main.cpp && exec timeout 3s /tmp/a.out",
		},
		{
			lang:  "python",
			paths: sandbox.ScriptPaths{Source: "/work/main.py"},
			limit: 1100 * time.Millisecond,
			want:  "exec timeout 1.1s python3 /work/main.py",
		},
		{
			lang:  "javascript",
			paths: sandbox.ScriptPaths{Source: "/tmp/my dir/main.js"},
			limit: 100 * time.Millisecond,
			want:  "exec timeout 0.1s node '/tmp/my dir/main.js'",
		},
	}
	for _, tc := range cases {
		lang, _ := sandbox.LookupLanguage(tc.lang)
		got, err := lang.Script(tc.paths, tc.limit)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.lang, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.lang, tc.want, got)
		}
	}
}

func TestLanguageScriptRejectsEmptyTemplate(t *testing.T) {
	lang := sandbox.Language{Name: "broken", Run: "   "}
	if _, err := lang.Script(sandbox.ScriptPaths{Source: "x"}, time.Second); err == nil {
		t.Fatalf("expected error for empty run template")
	}
}
