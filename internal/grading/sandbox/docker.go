package sandbox

import (
	"context"
	"io"
	"path"
	"time"

	appErr "instagrade/pkg/errors"
	"instagrade/pkg/utils/logger"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

const (
	guestWorkDir   = "/work"
	guestBinary    = "/tmp/a.out"
	removeTimeout  = 10 * time.Second
	defaultMemory  = 256
	defaultPids    = 64
	defaultTmpSize = "64m"
)

// DockerConfig configures the container strategy.
type DockerConfig struct {
	// Host overrides DOCKER_HOST when set.
	Host           string
	MemoryMB       int64
	PidsLimit      int64
	CPUs           float64
	KillMargin     time.Duration
	MaxOutputBytes int
	PullImages     bool
}

// DockerStrategy runs every execution in a fresh container with networking
// disabled and the workspace mounted read-only.
type DockerStrategy struct {
	cli *client.Client
	cfg DockerConfig
}

// NewDockerStrategy connects to the docker daemon described by the
// environment. The connection is lazy; Ping checks reachability.
func NewDockerStrategy(cfg DockerConfig) (*DockerStrategy, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, backendError("docker client", err)
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = defaultMemory
	}
	if cfg.PidsLimit <= 0 {
		cfg.PidsLimit = defaultPids
	}
	if cfg.KillMargin <= 0 {
		cfg.KillMargin = DefaultKillMargin
	}
	return &DockerStrategy{cli: cli, cfg: cfg}, nil
}

func (d *DockerStrategy) Name() string { return "docker" }

// Ping reports whether the daemon answers.
func (d *DockerStrategy) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return backendError("docker ping", err)
	}
	return nil
}

// Close releases the client transport.
func (d *DockerStrategy) Close() error {
	return d.cli.Close()
}

func (d *DockerStrategy) Run(ctx context.Context, job Job) (RawResult, error) {
	paths := ScriptPaths{
		Source: path.Join(guestWorkDir, job.Workspace.SourceName),
		Binary: guestBinary,
	}
	if job.Workspace.InputName != "" {
		paths.Input = path.Join(guestWorkDir, job.Workspace.InputName)
	}
	script, err := job.Language.Script(paths, job.TimeLimit)
	if err != nil {
		return RawResult{}, err
	}

	id, err := d.create(ctx, job, script)
	if err != nil {
		return RawResult{}, err
	}
	defer d.remove(ctx, id)

	if err := d.cli.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		return RawResult{}, backendError("container start", err)
	}

	res := RawResult{}
	waitCtx, cancel := context.WithTimeout(ctx, job.TimeLimit+d.cfg.KillMargin)
	defer cancel()
	statusCh, errCh := d.cli.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)
	select {
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return RawResult{}, appErr.Newf(appErr.SandboxUnavailable, "container wait: %s", st.Error.Message)
		}
		res.ExitCode = int(st.StatusCode)
	case err := <-errCh:
		if waitCtx.Err() == nil || ctx.Err() != nil {
			return RawResult{}, backendError("container wait", err)
		}
		res.TimedOut = true
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return RawResult{}, backendError("container wait", ctx.Err())
		}
		res.TimedOut = true
	}
	if res.TimedOut {
		killCtx, killCancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
		if err := d.cli.ContainerKill(killCtx, id, "SIGKILL"); err != nil && !errdefs.IsNotFound(err) {
			logger.Warn(ctx, "kill timed out container failed", zap.String("container", id), zap.Error(err))
		}
		killCancel()
		res.ExitCode = -1
	}

	stdout, stderr, err := d.logs(ctx, id)
	if err != nil {
		return RawResult{}, err
	}
	res.Stdout = stdout
	res.Stderr = stderr
	return res, nil
}

func (d *DockerStrategy) create(ctx context.Context, job Job, script string) (string, error) {
	pids := d.cfg.PidsLimit
	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Mounts: []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   job.Workspace.Dir,
			Target:   guestWorkDir,
			ReadOnly: true,
		}},
		Tmpfs: map[string]string{"/tmp": "rw,exec,nosuid,size=" + defaultTmpSize},
		Resources: container.Resources{
			Memory:     d.cfg.MemoryMB << 20,
			MemorySwap: d.cfg.MemoryMB << 20,
			PidsLimit:  &pids,
			NanoCPUs:   int64(d.cfg.CPUs * 1e9),
		},
	}
	cfg := &container.Config{
		Image:           job.Language.Image,
		Cmd:             []string{"sh", "-c", script},
		WorkingDir:      guestWorkDir,
		NetworkDisabled: true,
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil && errdefs.IsNotFound(err) && d.cfg.PullImages {
		if pullErr := d.pull(ctx, job.Language.Image); pullErr != nil {
			return "", pullErr
		}
		resp, err = d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	}
	if err != nil {
		return "", backendError("container create", err)
	}
	return resp.ID, nil
}

func (d *DockerStrategy) pull(ctx context.Context, ref string) error {
	logger.Info(ctx, "pulling sandbox image", zap.String("image", ref))
	rc, err := d.cli.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return backendError("image pull", err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return backendError("image pull", err)
	}
	return nil
}

func (d *DockerStrategy) logs(ctx context.Context, id string) (string, string, error) {
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
	defer cancel()
	rc, err := d.cli.ContainerLogs(logCtx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", backendError("container logs", err)
	}
	defer rc.Close()
	stdout := newLimitedBuffer(d.cfg.MaxOutputBytes)
	stderr := newLimitedBuffer(d.cfg.MaxOutputBytes)
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		return "", "", backendError("container logs", err)
	}
	return stdout.String(), stderr.String(), nil
}

// remove runs even when ctx is already cancelled.
func (d *DockerStrategy) remove(ctx context.Context, id string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
	defer cancel()
	if err := d.cli.ContainerRemove(rmCtx, id, types.ContainerRemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		logger.Warn(ctx, "remove sandbox container failed", zap.String("container", id), zap.Error(err))
	}
}
