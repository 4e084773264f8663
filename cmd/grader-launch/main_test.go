//go:build linux

package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"instagrade/internal/grading/sandbox"

	"golang.org/x/sys/unix"
)

func TestDecodeMatchesSandboxRequest(t *testing.T) {
	payload, err := json.Marshal(sandbox.LaunchRequest{
		WorkDir:     "/tmp/run",
		Cmd:         []string{"sh", "-c", "python3 main.py"},
		Limits:      sandbox.LaunchLimits{CPUSeconds: 4, OutputMB: 16, PIDs: 64},
		DenyNetwork: true,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := decodeRequest(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.WorkDir != "/tmp/run" || len(req.Cmd) != 3 || !req.DenyNetwork {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Limits.CPUSeconds != 4 || req.Limits.OutputMB != 16 || req.Limits.PIDs != 64 {
		t.Fatalf("unexpected limits %+v", req.Limits)
	}
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		req  launchRequest
		want string
	}{
		{"no command", launchRequest{WorkDir: "/tmp"}, "command"},
		{"no workdir", launchRequest{Cmd: []string{"sh"}}, "work dir"},
		{"negative limit", launchRequest{WorkDir: "/tmp", Cmd: []string{"sh"}, Limits: launchLimits{PIDs: -1}}, "negative"},
	}
	for _, tc := range cases {
		err := validateRequest(tc.req)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error about %s, got %v", tc.name, tc.want, err)
		}
	}
	if err := validateRequest(launchRequest{WorkDir: "/tmp", Cmd: []string{"sh"}}); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestRlimitsFor(t *testing.T) {
	t.Parallel()
	got := rlimitsFor(launchLimits{CPUSeconds: 2, OutputMB: 1})
	if len(got) != 2 {
		t.Fatalf("expected cpu and fsize only, got %+v", got)
	}
	if got[0].resource != unix.RLIMIT_CPU || got[0].value != 2 {
		t.Fatalf("unexpected cpu limit %+v", got[0])
	}
	if got[1].resource != unix.RLIMIT_FSIZE || got[1].value != 1<<20 {
		t.Fatalf("unexpected fsize limit %+v", got[1])
	}
	if len(rlimitsFor(launchLimits{})) != 0 {
		t.Fatalf("expected no limits for zero values")
	}
}
