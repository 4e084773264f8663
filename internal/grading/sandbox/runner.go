package sandbox

import (
	"context"
	"math"
	"time"

	appErr "instagrade/pkg/errors"
	"instagrade/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	// DefaultTimeLimit applies when a request carries no positive limit.
	DefaultTimeLimit = 3 * time.Second
	// DefaultKillMargin is how long the harness waits past the limit before killing.
	DefaultKillMargin = 2 * time.Second

	timeoutExitCode = 124
)

// Config configures a Runner.
type Config struct {
	Strategy Strategy
	// WorkRoot is where per-execution scratch dirs are created.
	WorkRoot string
}

// Runner executes requests through one configured strategy.
type Runner struct {
	strategy Strategy
	workRoot string
}

// NewRunner validates cfg and returns a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Strategy == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("sandbox strategy is required")
	}
	return &Runner{strategy: cfg.Strategy, workRoot: cfg.WorkRoot}, nil
}

// Strategy returns the name of the configured isolation backend.
func (r *Runner) Strategy() string {
	return r.strategy.Name()
}

// Execute runs one request. The scratch dir and the isolation handle are
// released before it returns, on every path.
func (r *Runner) Execute(ctx context.Context, req ExecutionRequest) ExecutionOutcome {
	lang, ok := LookupLanguage(req.Language)
	if !ok {
		err := appErr.Newf(appErr.LanguageNotSupported, "unsupported language: %s", req.Language)
		return infraOutcome(ctx, err, 0)
	}
	limit := req.TimeLimit()
	if limit <= 0 {
		limit = DefaultTimeLimit
	}

	ws, err := newWorkspace(r.workRoot, lang, req.SourcePath, req.StdinPath)
	if err != nil {
		return infraOutcome(ctx, appErr.Wrap(err, appErr.SandboxUnavailable), 0)
	}
	defer func() {
		if rmErr := ws.Remove(); rmErr != nil {
			logger.Warn(ctx, "remove sandbox workspace failed", zap.String("dir", ws.Dir), zap.Error(rmErr))
		}
	}()

	start := time.Now()
	raw, err := r.strategy.Run(ctx, Job{Language: lang, Workspace: ws, TimeLimit: limit})
	elapsed := time.Since(start)
	if err != nil {
		return infraOutcome(ctx, err, elapsed)
	}
	return classify(raw, limit, elapsed)
}

func classify(raw RawResult, limit, elapsed time.Duration) ExecutionOutcome {
	code := raw.ExitCode
	out := ExecutionOutcome{
		Stdout:         raw.Stdout,
		Stderr:         raw.Stderr,
		ExitCode:       &code,
		ElapsedSeconds: roundMillis(elapsed),
	}
	switch {
	// timeout(1) exits 124 when it fires, but so can the guest itself.
	case raw.TimedOut || (raw.ExitCode == timeoutExitCode && elapsed >= limit):
		out.Status = StatusTimeout
		out.ElapsedSeconds = roundMillis(limit)
	case raw.ExitCode == 0:
		out.Status = StatusSuccess
	default:
		out.Status = StatusRuntimeError
	}
	return out
}

func infraOutcome(ctx context.Context, err error, elapsed time.Duration) ExecutionOutcome {
	logger.Error(ctx, "sandbox infrastructure error", zap.Error(err))
	return ExecutionOutcome{
		Status:         StatusInfrastructureError,
		Stderr:         err.Error(),
		ElapsedSeconds: roundMillis(elapsed),
	}
}

func roundMillis(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

// backendError marks a failure of the isolation backend itself.
func backendError(op string, err error) error {
	return appErr.Wrapf(err, appErr.SandboxUnavailable, "sandbox %s failed", op)
}
