package sandbox

import (
	"context"
	"path/filepath"
	"time"

	"instagrade/pkg/utils/logger"

	"go.uber.org/zap"
)

// DirectConfig configures the direct-process strategy.
type DirectConfig struct {
	// LauncherPath points at grader-launch. When empty the guest script is
	// run by sh directly with no rlimits or seccomp.
	LauncherPath string
	// CgroupRoot enables a per-run cgroup v2 leaf under this directory.
	CgroupRoot     string
	KillMargin     time.Duration
	MemoryMB       int64
	PidsLimit      int64
	OutputMB       int64
	MaxOutputBytes int
}

// DirectStrategy runs the guest as a host process group. It offers no
// filesystem isolation and must only be configured for trusted code.
type DirectStrategy struct {
	cfg DirectConfig
}

// LaunchRequest is the JSON document grader-launch reads from stdin.
type LaunchRequest struct {
	WorkDir     string       `json:"work_dir"`
	Cmd         []string     `json:"cmd"`
	Limits      LaunchLimits `json:"limits"`
	DenyNetwork bool         `json:"deny_network"`
}

// LaunchLimits are applied with setrlimit before exec.
type LaunchLimits struct {
	CPUSeconds int64 `json:"cpu_seconds"`
	OutputMB   int64 `json:"output_mb"`
	PIDs       int64 `json:"pids"`
}

func NewDirectStrategy(ctx context.Context, cfg DirectConfig) *DirectStrategy {
	if cfg.KillMargin <= 0 {
		cfg.KillMargin = DefaultKillMargin
	}
	if cfg.OutputMB <= 0 {
		cfg.OutputMB = 16
	}
	logger.Warn(ctx, "direct sandbox strategy enabled: untrusted code runs without container isolation",
		zap.String("launcher", cfg.LauncherPath),
		zap.String("cgroup_root", cfg.CgroupRoot),
	)
	return &DirectStrategy{cfg: cfg}
}

func (d *DirectStrategy) Name() string { return "direct" }

func (d *DirectStrategy) Run(ctx context.Context, job Job) (RawResult, error) {
	paths := ScriptPaths{
		Source: job.Workspace.SourcePath(),
		Binary: filepath.Join(job.Workspace.Dir, "a.out"),
		Input:  job.Workspace.InputPath(),
	}
	script, err := job.Language.Script(paths, job.TimeLimit)
	if err != nil {
		return RawResult{}, err
	}
	logger.Warn(ctx, "running guest without isolation",
		zap.String("language", job.Language.Name),
		zap.String("dir", job.Workspace.Dir),
	)
	return d.runProcess(ctx, job, script)
}

func (d *DirectStrategy) launchRequest(job Job, script string) LaunchRequest {
	// CPU rlimit sits one second above the wall limit so timeout(1) wins.
	cpu := int64(job.TimeLimit.Seconds()+0.999) + 1
	return LaunchRequest{
		WorkDir: job.Workspace.Dir,
		Cmd:     []string{"sh", "-c", script},
		Limits: LaunchLimits{
			CPUSeconds: cpu,
			OutputMB:   d.cfg.OutputMB,
			PIDs:       d.cfg.PidsLimit,
		},
		DenyNetwork: true,
	}
}
