package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"instagrade/internal/common/mq"
	"instagrade/internal/grading/model"
	"instagrade/internal/grading/repository"
	appErr "instagrade/pkg/errors"
	"instagrade/pkg/utils/logger"

	"go.uber.org/zap"
)

// Scanner runs a plagiarism scan over one assignment.
type Scanner interface {
	Scan(ctx context.Context, assignmentID int64, threshold float64) ([]model.SimilarityPair, error)
}

// Collaborators is the lookup and persistence surface the job service needs.
type Collaborators interface {
	repository.SubmissionReader
	repository.TestCaseReader
	repository.EvaluationReader
	repository.FlagWriter
}

// JobConfig wires a JobService. Summaries, Events and Scans are optional.
type JobConfig struct {
	Store     Collaborators
	Grader    *Grader
	Scanner   Scanner
	Summaries *repository.SummaryCache
	Events    repository.EvaluationPublisher
	Scans     repository.ScanRequester

	// Queue and RetryTopic enable requeue when every slot is busy.
	Queue           mq.Producer
	RetryTopic      string
	DeadLetterTopic string
	PoolSize        int
	PoolRetryMax    int
	PoolRetryBase   time.Duration
	PoolRetryMaxDel time.Duration

	JobTimeout     time.Duration
	ScanThreshold  float64
	ScanAfterGrade bool
}

// JobService is the entry point for grade and scan jobs.
type JobService struct {
	store     Collaborators
	grader    *Grader
	scanner   Scanner
	summaries *repository.SummaryCache
	events    repository.EvaluationPublisher
	scans     repository.ScanRequester

	queue         mq.Producer
	retryTopic    string
	deadLetter    string
	poolRetryMax  int
	poolRetryBase time.Duration
	poolRetryMaxD time.Duration
	sem           chan struct{}

	jobTimeout     time.Duration
	scanThreshold  float64
	scanAfterGrade bool
}

func NewJobService(cfg JobConfig) (*JobService, error) {
	if cfg.Store == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("store is required")
	}
	if cfg.Grader == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("grader is required")
	}
	if cfg.Scanner == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("scanner is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	return &JobService{
		store:          cfg.Store,
		grader:         cfg.Grader,
		scanner:        cfg.Scanner,
		summaries:      cfg.Summaries,
		events:         cfg.Events,
		scans:          cfg.Scans,
		queue:          cfg.Queue,
		retryTopic:     cfg.RetryTopic,
		deadLetter:     cfg.DeadLetterTopic,
		poolRetryMax:   cfg.PoolRetryMax,
		poolRetryBase:  cfg.PoolRetryBase,
		poolRetryMaxD:  cfg.PoolRetryMaxDel,
		sem:            make(chan struct{}, poolSize),
		jobTimeout:     cfg.JobTimeout,
		scanThreshold:  cfg.ScanThreshold,
		scanAfterGrade: cfg.ScanAfterGrade,
	}, nil
}

// HandleGradeMessage consumes a {"submission_id": n} job.
func (s *JobService) HandleGradeMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return s.handleFailure(ctx, appErr.New(appErr.InvalidParams).WithMessage("message is nil"))
	}
	var job model.GradeJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return s.handleFailure(ctx, appErr.Wrapf(err, appErr.InvalidParams, "decode grade job failed"))
	}
	if job.SubmissionID <= 0 {
		return s.handleFailure(ctx, appErr.ValidationError("submission_id", "must be positive"))
	}
	ctx = logger.WithSubmission(ctx, job.SubmissionID)

	if !s.tryAcquireSlot() {
		if s.queue != nil && s.retryTopic != "" {
			return s.requeueForPoolFull(ctx, msg)
		}
		if err := s.acquireSlot(ctx); err != nil {
			return s.handleFailure(ctx, err)
		}
	}
	defer s.releaseSlot()

	_, err := s.GradeSubmission(ctx, job.SubmissionID)
	return s.handleFailure(ctx, err)
}

// GradeSubmission resolves and grades one submission. Lookup failures and
// interrupted runs are returned; grading and persistence failures are
// contained in the summary.
func (s *JobService) GradeSubmission(ctx context.Context, submissionID int64) (model.EvaluationSummary, error) {
	ctx = logger.WithSubmission(ctx, submissionID)
	sub, err := s.store.FetchSubmission(ctx, submissionID)
	if err != nil {
		return model.EvaluationSummary{}, err
	}
	ctx = logger.WithAssignment(ctx, sub.AssignmentID)
	cases, err := s.store.FetchTestCases(ctx, sub.AssignmentID)
	if err != nil {
		return model.EvaluationSummary{}, err
	}

	gradeCtx := ctx
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		gradeCtx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}
	start := time.Now()
	summary, persisted := s.grader.Grade(gradeCtx, sub, cases)
	if err := gradeCtx.Err(); err != nil {
		// Nothing was stored; the job is left for redelivery.
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		return summary, appErr.Wrapf(err, appErr.Timeout, "grading submission %d exceeded job timeout", submissionID)
	}
	logger.Info(ctx, "submission graded",
		zap.Float64("earned_points", summary.EarnedPoints),
		zap.Float64("total_points", summary.TotalPoints),
		zap.Int("test_cases", len(cases)),
		zap.Bool("persisted", persisted),
		zap.Duration("took", time.Since(start)),
	)

	if s.summaries != nil {
		if err := s.summaries.Put(ctx, summary); err != nil {
			logger.Warn(ctx, "cache summary failed", zap.Error(err))
		}
	}
	if s.events != nil {
		if err := s.events.PublishEvaluation(ctx, summary, persisted); err != nil {
			logger.Warn(ctx, "publish evaluation event failed", zap.Error(err))
		}
	}
	if s.scanAfterGrade && s.scans != nil {
		if err := s.scans.RequestScan(ctx, model.ScanJob{AssignmentID: sub.AssignmentID, Threshold: s.scanThreshold}); err != nil {
			logger.Warn(ctx, "request scan after grading failed", zap.Error(err))
		}
	}
	return summary, nil
}

// HandleScanMessage consumes a {"assignment_id": n} scan job.
func (s *JobService) HandleScanMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return s.handleFailure(ctx, appErr.New(appErr.InvalidParams).WithMessage("message is nil"))
	}
	var job model.ScanJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return s.handleFailure(ctx, appErr.Wrapf(err, appErr.InvalidParams, "decode scan job failed"))
	}
	_, err := s.RunScan(ctx, job.AssignmentID, job.Threshold)
	return s.handleFailure(ctx, err)
}

// RunScan scans one assignment and stores the flagged pairs. A threshold of
// zero uses the configured one. Lookup failures surface as ScanFailure.
func (s *JobService) RunScan(ctx context.Context, assignmentID int64, threshold float64) ([]model.SimilarityPair, error) {
	if assignmentID <= 0 {
		return nil, appErr.ValidationError("assignment_id", "must be positive")
	}
	if threshold < 0 || threshold > 1 {
		return nil, appErr.ValidationError("threshold", "must be within [0,1]")
	}
	if threshold == 0 {
		threshold = s.scanThreshold
	}
	ctx = logger.WithAssignment(ctx, assignmentID)

	if s.summaries != nil {
		release, err := s.summaries.AcquireScanLock(ctx, assignmentID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	start := time.Now()
	pairs, err := s.scanner.Scan(ctx, assignmentID, threshold)
	if err != nil {
		logger.Error(ctx, "plagiarism scan failed", zap.Error(err))
		return nil, err
	}
	logger.Info(ctx, "plagiarism scan finished", zap.Int("flagged", len(pairs)), zap.Duration("took", time.Since(start)))

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.PersistPlagiarismFlags(writeCtx, assignmentID, pairs); err != nil {
		logger.Error(ctx, "persist plagiarism flags failed", zap.Int("flagged", len(pairs)), zap.Error(err))
	}
	return pairs, nil
}

// Evaluation returns the latest summary of a submission, or nil when it has
// not been graded yet.
func (s *JobService) Evaluation(ctx context.Context, submissionID int64) (*model.EvaluationSummary, error) {
	if submissionID <= 0 {
		return nil, appErr.ValidationError("submission_id", "must be positive")
	}
	if s.summaries != nil {
		return s.summaries.Get(ctx, submissionID, s.store)
	}
	return s.store.FetchEvaluation(ctx, submissionID)
}

// handleFailure decides whether the transport should retry. Bad input and
// missing records are dropped; everything else is returned for retry.
func (s *JobService) handleFailure(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	switch appErr.GetCode(err) {
	case appErr.InvalidParams, appErr.ValidationFailed, appErr.SubmissionNotFound,
		appErr.AssignmentNotFound, appErr.LanguageNotSupported, appErr.ScanInProgress:
		logger.Warn(ctx, "job dropped", zap.Error(err))
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	logger.Error(ctx, "job failed", zap.Int("error_code", int(appErr.GetCode(err))), zap.Error(err))
	return err
}
