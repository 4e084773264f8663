//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	appErr "instagrade/pkg/errors"
	"instagrade/pkg/utils/logger"

	"go.uber.org/zap"
)

func (d *DirectStrategy) runProcess(ctx context.Context, job Job, script string) (RawResult, error) {
	var cmd *exec.Cmd
	if d.cfg.LauncherPath != "" {
		payload, err := json.Marshal(d.launchRequest(job, script))
		if err != nil {
			return RawResult{}, backendError("encode launch request", err)
		}
		cmd = exec.Command(d.cfg.LauncherPath)
		cmd.Stdin = bytes.NewReader(payload)
	} else {
		cmd = exec.Command("sh", "-c", script)
	}
	cmd.Dir = job.Workspace.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	cmd.WaitDelay = time.Second
	stdout := newLimitedBuffer(d.cfg.MaxOutputBytes)
	stderr := newLimitedBuffer(d.cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	cgroupPath := ""
	if d.cfg.CgroupRoot != "" {
		path, cleanup, err := createRunCgroup(d.cfg.CgroupRoot)
		if err != nil {
			return RawResult{}, backendError("create cgroup", err)
		}
		defer cleanup()
		if err := applyCgroupLimits(path, d.cfg.MemoryMB, d.cfg.PidsLimit); err != nil {
			return RawResult{}, backendError("apply cgroup limits", err)
		}
		cgroupPath = path
	}

	if err := cmd.Start(); err != nil {
		return RawResult{}, backendError("start process", err)
	}
	pid := cmd.Process.Pid
	// Reap anything the guest left running; runs before the cgroup is removed.
	defer killGroup(pid, cgroupPath)
	if cgroupPath != "" {
		if err := addProcessToCgroup(cgroupPath, pid); err != nil {
			logger.Warn(ctx, "add process to cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(job.TimeLimit + d.cfg.KillMargin)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			killGroup(pid, cgroupPath)
		case <-timer.C:
			timedOut.Store(true)
			killGroup(pid, cgroupPath)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	if ctx.Err() != nil && !timedOut.Load() {
		return RawResult{}, backendError("direct run", ctx.Err())
	}

	res := RawResult{
		ExitCode: exitCodeFromErr(waitErr, cmd.ProcessState),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: timedOut.Load(),
	}
	if waitErr != nil && cmd.ProcessState == nil {
		return RawResult{}, appErr.Wrapf(waitErr, appErr.SandboxUnavailable, "wait process")
	}
	if wasOomKilled(cgroupPath) {
		res.Stderr += "\nmemory limit exceeded"
	}
	return res, nil
}

// killGroup kills the guest and everything it forked.
func killGroup(pid int, cgroupPath string) {
	if cgroupPath != "" {
		_ = killCgroup(cgroupPath)
	}
	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
