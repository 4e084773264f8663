package service

import (
	"context"
	"errors"
	"math"
	"os"
	"time"

	"instagrade/internal/grading/compare"
	"instagrade/internal/grading/files"
	"instagrade/internal/grading/model"
	"instagrade/internal/grading/repository"
	"instagrade/internal/grading/sandbox"
	appErr "instagrade/pkg/errors"
	"instagrade/pkg/utils/logger"

	"go.uber.org/zap"
)

const timeoutStderr = "timeout"

// FileResolver reads expected outputs and stages submission and input files
// for the sandbox.
type FileResolver interface {
	ReadText(ctx context.Context, path string) (string, error)
	Localize(ctx context.Context, path, dir string) (string, error)
}

// GraderConfig wires a Grader.
type GraderConfig struct {
	Executor   sandbox.Executor
	Comparator compare.Comparator
	Files      FileResolver
	Writer     repository.EvaluationWriter
	// StageRoot holds per-grade copies of object-storage files.
	StageRoot        string
	DefaultTimeLimit time.Duration
	PersistTimeout   time.Duration
}

// Grader runs a submission against its test cases and persists the summary.
type Grader struct {
	executor         sandbox.Executor
	comparator       compare.Comparator
	files            FileResolver
	writer           repository.EvaluationWriter
	stageRoot        string
	defaultTimeLimit time.Duration
	persistTimeout   time.Duration
	now              func() time.Time
}

func NewGrader(cfg GraderConfig) (*Grader, error) {
	if cfg.Executor == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("executor is required")
	}
	if cfg.Files == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("file resolver is required")
	}
	if cfg.Comparator == nil {
		cfg.Comparator = compare.Trimmed{}
	}
	if cfg.DefaultTimeLimit <= 0 {
		cfg.DefaultTimeLimit = sandbox.DefaultTimeLimit
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &Grader{
		executor:         cfg.Executor,
		comparator:       cfg.Comparator,
		files:            cfg.Files,
		writer:           cfg.Writer,
		stageRoot:        cfg.StageRoot,
		defaultTimeLimit: cfg.DefaultTimeLimit,
		persistTimeout:   cfg.PersistTimeout,
		now:              time.Now,
	}, nil
}

// Grade evaluates every test case in order and hands the summary to the
// writer. persisted reports whether the write succeeded; a failed write is
// logged and the summary is still returned. When ctx ends mid-run the
// partial summary is returned but never written.
func (g *Grader) Grade(ctx context.Context, sub model.Submission, cases []model.TestCase) (summary model.EvaluationSummary, persisted bool) {
	ctx = logger.WithSubmission(ctx, sub.ID)
	summary = model.EvaluationSummary{
		SubmissionID: sub.ID,
		AssignmentID: sub.AssignmentID,
		StudentID:    sub.StudentID,
		Details:      make([]model.EvaluationDetail, 0, len(cases)),
	}

	stage, cleanup := g.stageDir(ctx)
	defer cleanup()
	source, sourceErr := g.files.Localize(ctx, sub.FilePath, stage)
	if sourceErr != nil {
		logger.Error(ctx, "stage submission source failed", zap.String("path", sub.FilePath), zap.Error(sourceErr))
	}

	var elapsedSum float64
	for _, tc := range cases {
		if ctx.Err() != nil {
			break
		}
		var outcome sandbox.ExecutionOutcome
		if sourceErr != nil {
			outcome = infrastructureOutcome(appErr.Wrapf(sourceErr, appErr.StorageError, "submission source unavailable"))
		} else {
			outcome = g.run(ctx, sub, tc, source, stage)
		}
		detail := g.score(ctx, tc, outcome)
		summary.Details = append(summary.Details, detail)
		summary.TotalPoints += weight(tc)
		summary.EarnedPoints += detail.PointsAwarded
		elapsedSum += detail.ElapsedSeconds
	}
	if n := len(summary.Details); n > 0 {
		summary.AverageElapsedSeconds = math.Round(elapsedSum/float64(n)*1000) / 1000
	}
	summary.GradedAt = g.now().UTC()

	if err := ctx.Err(); err != nil {
		logger.Warn(ctx, "grading interrupted, summary not persisted",
			zap.Int("graded", len(summary.Details)),
			zap.Int("test_cases", len(cases)),
			zap.Error(err),
		)
		return summary, false
	}
	return summary, g.persist(ctx, summary)
}

func (g *Grader) run(ctx context.Context, sub model.Submission, tc model.TestCase, source, stage string) sandbox.ExecutionOutcome {
	stdin := ""
	if tc.InputPath != "" {
		local, err := g.files.Localize(ctx, tc.InputPath, stage)
		switch {
		case err == nil:
			stdin = local
		case errors.Is(err, files.ErrNotFound):
			logger.Warn(ctx, "test case input missing, running without stdin", zap.Int64("test_case_id", tc.ID), zap.String("path", tc.InputPath))
		default:
			return infrastructureOutcome(err)
		}
	}
	limit := tc.TimeLimitSeconds
	if limit <= 0 {
		limit = g.defaultTimeLimit.Seconds()
	}
	return g.executor.Execute(ctx, sandbox.ExecutionRequest{
		Language:         sub.Language,
		SourcePath:       source,
		StdinPath:        stdin,
		TimeLimitSeconds: limit,
	})
}

func (g *Grader) score(ctx context.Context, tc model.TestCase, outcome sandbox.ExecutionOutcome) model.EvaluationDetail {
	detail := model.EvaluationDetail{
		TestCaseID:     tc.ID,
		Stdout:         outcome.Stdout,
		Stderr:         outcome.Stderr,
		ElapsedSeconds: outcome.ElapsedSeconds,
	}
	switch outcome.Status {
	case sandbox.StatusSuccess:
		detail.Passed = g.comparator.Matches(outcome.Stdout, g.expected(ctx, tc))
	case sandbox.StatusTimeout:
		detail.Stderr = timeoutStderr
	case sandbox.StatusInfrastructureError:
		logger.Warn(ctx, "test case hit infrastructure error", zap.Int64("test_case_id", tc.ID), zap.String("diagnostic", outcome.Stderr))
	}
	if detail.Passed {
		detail.PointsAwarded = weight(tc)
	}
	return detail
}

// expected reads the expected output. Anything unreadable compares as "".
func (g *Grader) expected(ctx context.Context, tc model.TestCase) string {
	text, err := g.files.ReadText(ctx, tc.ExpectedOutputPath)
	if err != nil {
		if !errors.Is(err, files.ErrNotFound) {
			logger.Warn(ctx, "read expected output failed", zap.Int64("test_case_id", tc.ID), zap.Error(err))
		}
		return ""
	}
	return text
}

func (g *Grader) persist(ctx context.Context, summary model.EvaluationSummary) bool {
	if g.writer == nil {
		return false
	}
	// The run finished; a cancel arriving now must not lose the write.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.persistTimeout)
	defer cancel()
	if err := g.writer.PersistEvaluation(writeCtx, summary.SubmissionID, summary); err != nil {
		logger.Error(ctx, "persist evaluation failed",
			zap.Int64("submission_id", summary.SubmissionID),
			zap.Int("error_code", int(appErr.GetCode(err))),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (g *Grader) stageDir(ctx context.Context) (string, func()) {
	if g.stageRoot != "" {
		if err := os.MkdirAll(g.stageRoot, 0755); err != nil {
			logger.Warn(ctx, "create stage root failed", zap.String("dir", g.stageRoot), zap.Error(err))
		}
	}
	dir, err := os.MkdirTemp(g.stageRoot, "stage-")
	if err != nil {
		logger.Warn(ctx, "create stage dir failed", zap.Error(err))
		return "", func() {}
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn(ctx, "remove stage dir failed", zap.String("dir", dir), zap.Error(err))
		}
	}
}

func infrastructureOutcome(err error) sandbox.ExecutionOutcome {
	return sandbox.ExecutionOutcome{Status: sandbox.StatusInfrastructureError, Stderr: err.Error()}
}

// weight clamps negative points so earned never exceeds total.
func weight(tc model.TestCase) float64 {
	if tc.Points < 0 {
		return 0
	}
	return tc.Points
}
