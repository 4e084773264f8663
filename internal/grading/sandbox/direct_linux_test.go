//go:build linux

package sandbox_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"instagrade/internal/grading/sandbox"
)

func requireBinaries(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			t.Skipf("%s not available: %v", name, err)
		}
	}
}

func newDirectRunner(t *testing.T) *sandbox.Runner {
	t.Helper()
	strategy := sandbox.NewDirectStrategy(context.Background(), sandbox.DirectConfig{KillMargin: time.Second})
	runner, err := sandbox.NewRunner(sandbox.Config{Strategy: strategy, WorkRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

func TestDirectStrategyPython(t *testing.T) {
	requireBinaries(t, "sh", "timeout", "python3")
	runner := newDirectRunner(t)
	dir := t.TempDir()

	cases := []struct {
		name   string
		source string
		input  string
		status sandbox.Status
		stdout string
	}{
		{name: "echo sum", source: "a, b = map(int, input().split())\nprint(a + b)\n", input: "2 2\n", status: sandbox.StatusSuccess, stdout: "4\n"},
		{name: "exit code", source: "import sys\nsys.exit(3)\n", status: sandbox.StatusRuntimeError},
		{name: "infinite loop", source: "while True:\n    pass\n", status: sandbox.StatusTimeout},
	}
	for _, tc := range cases {
		src := writeFile(t, dir, "main.py", tc.source)
		req := sandbox.ExecutionRequest{Language: "python", SourcePath: src, TimeLimitSeconds: 1}
		if tc.input != "" {
			req.StdinPath = writeFile(t, dir, "in.txt", tc.input)
		}

		start := time.Now()
		out := runner.Execute(context.Background(), req)
		if spent := time.Since(start); spent > 5*time.Second {
			t.Fatalf("%s: execute took %s", tc.name, spent)
		}
		if out.Status != tc.status {
			t.Fatalf("%s: expected %s, got %s (stderr=%q)", tc.name, tc.status, out.Status, out.Stderr)
		}
		if tc.stdout != "" && out.Stdout != tc.stdout {
			t.Fatalf("%s: expected stdout %q, got %q", tc.name, tc.stdout, out.Stdout)
		}
		if tc.status == sandbox.StatusTimeout && out.ElapsedSeconds != 1 {
			t.Fatalf("%s: expected elapsed 1, got %f", tc.name, out.ElapsedSeconds)
		}
	}
}

func TestDirectStrategyKillsBackgroundChildren(t *testing.T) {
	requireBinaries(t, "sh", "timeout", "python3", "sleep")
	runner := newDirectRunner(t)
	src := writeFile(t, t.TempDir(), "main.py",
		"import subprocess\n"+
			"child = subprocess.Popen(['sleep', '30'], stdout=subprocess.DEVNULL, stderr=subprocess.DEVNULL)\n"+
			"print(child.pid)\n")

	out := runner.Execute(context.Background(), sandbox.ExecutionRequest{Language: "python", SourcePath: src, TimeLimitSeconds: 2})
	if out.Status != sandbox.StatusSuccess {
		t.Fatalf("expected success, got %s (stderr=%q)", out.Status, out.Stderr)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(out.Stdout))
	if err != nil {
		t.Fatalf("expected child pid on stdout, got %q", out.Stdout)
	}

	deadline := time.Now().Add(2 * time.Second)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			_ = syscall.Kill(pid, syscall.SIGKILL)
			t.Fatalf("background child %d still running after execute returned", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// processAlive treats zombies as gone; they only wait to be reaped.
func processAlive(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	stat := string(data)
	if idx := strings.LastIndexByte(stat, ')'); idx >= 0 && idx+2 < len(stat) {
		return stat[idx+2] != 'Z'
	}
	return true
}

func TestDirectStrategyFractionalLimit(t *testing.T) {
	requireBinaries(t, "sh", "timeout", "python3")
	runner := newDirectRunner(t)
	src := writeFile(t, t.TempDir(), "main.py", "import time\ntime.sleep(1.6)\nprint('late')\n")

	out := runner.Execute(context.Background(), sandbox.ExecutionRequest{Language: "python", SourcePath: src, TimeLimitSeconds: 1.1})
	if out.Status != sandbox.StatusTimeout {
		t.Fatalf("expected timeout past a 1.1s limit, got %s (elapsed=%.3f)", out.Status, out.ElapsedSeconds)
	}
	if out.ElapsedSeconds != 1.1 {
		t.Fatalf("expected elapsed 1.1, got %.3f", out.ElapsedSeconds)
	}
}
