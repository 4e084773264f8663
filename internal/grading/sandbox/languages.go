package sandbox

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	appErr "instagrade/pkg/errors"

	"github.com/google/shlex"
)

// Language maps a language name to its runtime image and command templates.
// Templates may reference {src} and {bin}.
type Language struct {
	Name       string
	Image      string
	SourceFile string
	Build      string
	Run        string
}

// ScriptPaths are the paths substituted into templates, as seen by the guest.
type ScriptPaths struct {
	Source string
	Binary string
	Input  string
}

var languages = map[string]Language{
	"python": {
		Name:       "python",
		Image:      "python:3.10-slim",
		SourceFile: "main.py",
		Run:        "python3 {src}",
	},
	"cpp": {
		Name:       "cpp",
		Image:      "gcc:12",
		SourceFile: "main.cpp",
		Build:      "g++ -O2 -std=c++17 -o {bin} {src}",
		Run:        "{bin}",
	},
	"javascript": {
		Name:       "javascript",
		Image:      "node:18-alpine",
		SourceFile: "main.js",
		Run:        "node {src}",
	},
}

var languageAliases = map[string]string{
	"py":   "python",
	"c++":  "cpp",
	"js":   "javascript",
	"node": "javascript",
}

// LookupLanguage resolves name (case-insensitive, aliases allowed).
func LookupLanguage(name string) (Language, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := languageAliases[key]; ok {
		key = alias
	}
	lang, ok := languages[key]
	return lang, ok
}

// SupportedLanguages lists canonical language names.
func SupportedLanguages() []string {
	out := make([]string, 0, len(languages))
	for name := range languages {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Script renders the shell script run by the guest: optional build, then the
// run step wrapped in timeout, with stdin from paths.Input when set.
func (l Language) Script(paths ScriptPaths, limit time.Duration) (string, error) {
	var b strings.Builder
	if l.Build != "" {
		build, err := expandTemplate(l.Build, paths)
		if err != nil {
			return "", err
		}
		b.WriteString(joinQuoted(build))
		b.WriteString(" && ")
	}
	run, err := expandTemplate(l.Run, paths)
	if err != nil {
		return "", err
	}
	b.WriteString("exec timeout ")
	b.WriteString(formatSeconds(limit))
	b.WriteString(" ")
	b.WriteString(joinQuoted(run))
	if paths.Input != "" {
		b.WriteString(" < ")
		b.WriteString(shellQuote(paths.Input))
	}
	return b.String(), nil
}

func expandTemplate(tpl string, paths ScriptPaths) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	fields, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	r := strings.NewReplacer("{src}", paths.Source, "{bin}", paths.Binary)
	for i, f := range fields {
		fields[i] = r.Replace(f)
	}
	return fields, nil
}

// formatSeconds renders limit for timeout(1) as decimal seconds with
// millisecond precision. Zero would disable the timeout, so the floor is 1ms.
func formatSeconds(limit time.Duration) string {
	ms := limit.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatFloat(float64(ms)/1000, 'f', -1, 64) + "s"
}

var safeShellWord = regexp.MustCompile(`^[A-Za-z0-9_./=:+-]+$`)

func shellQuote(s string) string {
	if s != "" && safeShellWord.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func joinQuoted(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}
