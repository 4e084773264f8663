package sandbox

import (
	"context"
	"time"
)

// Status is the terminal state of one execution.
type Status string

const (
	StatusSuccess             Status = "success"
	StatusRuntimeError        Status = "runtime_error"
	StatusTimeout             Status = "timeout"
	StatusInfrastructureError Status = "infrastructure_error"
)

// ExecutionRequest describes one run of a source file.
type ExecutionRequest struct {
	Language         string
	SourcePath       string
	StdinPath        string
	TimeLimitSeconds float64
}

// TimeLimit returns the limit as a duration.
func (r ExecutionRequest) TimeLimit() time.Duration {
	return time.Duration(r.TimeLimitSeconds * float64(time.Second))
}

// ExecutionOutcome is produced once per request and never mutated.
type ExecutionOutcome struct {
	Status         Status
	Stdout         string
	Stderr         string
	ExitCode       *int
	ElapsedSeconds float64
}

// Executor runs one request. Normal guest failures are reported through
// the outcome status, never as a Go error.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) ExecutionOutcome
}

// Strategy is an isolation backend. It runs a prepared workspace and
// returns the raw process result. A returned error means the backend
// itself failed.
type Strategy interface {
	Name() string
	Run(ctx context.Context, job Job) (RawResult, error)
}

// Job is what a strategy needs to run one prepared workspace.
type Job struct {
	Language  Language
	Workspace *Workspace
	TimeLimit time.Duration
}

// RawResult is the unclassified result of a strategy run.
type RawResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}
