//go:build linux

// Command grader-launch is the exec shim of the direct sandbox strategy. It
// reads one launch request as JSON on stdin, confines itself with rlimits
// and a seccomp filter, then replaces itself with the guest command.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

const defaultPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run() error {
	req, err := decodeRequest(os.Stdin)
	if err != nil {
		return err
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	if err := os.Chdir(req.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}
	// The request consumed stdin; the guest script redirects its own input.
	if err := detachStdin(); err != nil {
		return err
	}
	if err := applyRlimits(req.Limits); err != nil {
		return err
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if req.DenyNetwork {
		if err := denyNetwork(); err != nil {
			return err
		}
	}

	cmdPath, err := exec.LookPath(req.Cmd[0])
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}
	return unix.Exec(cmdPath, req.Cmd, []string{defaultPath, "HOME=" + req.WorkDir})
}

func decodeRequest(r io.Reader) (launchRequest, error) {
	var req launchRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return launchRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func validateRequest(req launchRequest) error {
	if len(req.Cmd) == 0 || req.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	if req.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if req.Limits.CPUSeconds < 0 || req.Limits.OutputMB < 0 || req.Limits.PIDs < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	return nil
}

func detachStdin() error {
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()
	if err := unix.Dup2(int(devNull.Fd()), int(os.Stdin.Fd())); err != nil {
		return fmt.Errorf("dup stdin: %w", err)
	}
	return nil
}

func applyRlimits(limits launchLimits) error {
	for _, l := range rlimitsFor(limits) {
		if err := unix.Setrlimit(l.resource, &unix.Rlimit{Cur: l.value, Max: l.value}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", l.name, err)
		}
	}
	return nil
}

type rlimit struct {
	name     string
	resource int
	value    uint64
}

func rlimitsFor(limits launchLimits) []rlimit {
	var out []rlimit
	if limits.CPUSeconds > 0 {
		out = append(out, rlimit{"cpu", unix.RLIMIT_CPU, uint64(limits.CPUSeconds)})
	}
	if limits.OutputMB > 0 {
		out = append(out, rlimit{"fsize", unix.RLIMIT_FSIZE, uint64(limits.OutputMB) << 20})
	}
	if limits.PIDs > 0 {
		out = append(out, rlimit{"nproc", unix.RLIMIT_NPROC, uint64(limits.PIDs)})
	}
	return out
}

// denyNetwork makes socket(2) fail with EPERM for IPv4 and IPv6. Unix
// sockets stay usable so language runtimes that probe them still start.
func denyNetwork() error {
	filter, err := seccomp.NewFilter(seccomp.ActAllow)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	defer filter.Release()
	socket, err := seccomp.GetSyscallFromName("socket")
	if err != nil {
		return fmt.Errorf("resolve socket syscall: %w", err)
	}
	deny := seccomp.ActErrno.SetReturnCode(int16(unix.EPERM))
	for _, family := range []uint64{unix.AF_INET, unix.AF_INET6} {
		cond, err := seccomp.MakeCondition(0, seccomp.CompareEqual, family)
		if err != nil {
			return fmt.Errorf("build seccomp condition: %w", err)
		}
		if err := filter.AddRuleConditional(socket, deny, []seccomp.ScmpCondition{cond}); err != nil {
			return fmt.Errorf("add seccomp rule: %w", err)
		}
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

type launchRequest struct {
	WorkDir     string       `json:"work_dir"`
	Cmd         []string     `json:"cmd"`
	Limits      launchLimits `json:"limits"`
	DenyNetwork bool         `json:"deny_network"`
}

type launchLimits struct {
	CPUSeconds int64 `json:"cpu_seconds"`
	OutputMB   int64 `json:"output_mb"`
	PIDs       int64 `json:"pids"`
}
