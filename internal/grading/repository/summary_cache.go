package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"instagrade/internal/common/cache"
	"instagrade/internal/grading/model"
	appErr "instagrade/pkg/errors"
	"instagrade/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	evaluationKeyPrefix = "instagrade:evaluation:"
	scanLockKeyPrefix   = "instagrade:scan-lock:"

	defaultSummaryTTL = 24 * time.Hour
	defaultLockTTL    = 10 * time.Minute
	missTTL           = 30 * time.Second
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// SummaryCache keeps the latest evaluation summary per submission as a
// zstd-compressed JSON blob and guards assignment scans with a lock.
type SummaryCache struct {
	cache      cache.Cache
	summaryTTL time.Duration
	lockTTL    time.Duration
}

func NewSummaryCache(c cache.Cache, summaryTTL, lockTTL time.Duration) *SummaryCache {
	if summaryTTL <= 0 {
		summaryTTL = defaultSummaryTTL
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &SummaryCache{cache: c, summaryTTL: summaryTTL, lockTTL: lockTTL}
}

// Put stores summary, replacing any previous entry.
func (s *SummaryCache) Put(ctx context.Context, summary model.EvaluationSummary) error {
	blob, err := encodeSummary(&summary)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "encode summary")
	}
	if err := s.cache.Set(ctx, evaluationKey(summary.SubmissionID), blob, cache.JitterTTL(s.summaryTTL)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "cache summary of submission %d", summary.SubmissionID)
	}
	return nil
}

// Get returns the cached summary, reading through to source on a miss.
// A nil summary means the submission exists but has not been graded.
func (s *SummaryCache) Get(ctx context.Context, submissionID int64, source EvaluationReader) (*model.EvaluationSummary, error) {
	return cache.GetWithCached(ctx, s.cache, evaluationKey(submissionID), s.summaryTTL, missTTL,
		func(v *model.EvaluationSummary) bool { return v == nil },
		encodeSummary,
		decodeSummary,
		func(ctx context.Context) (*model.EvaluationSummary, error) {
			return source.FetchEvaluation(ctx, submissionID)
		},
	)
}

func (s *SummaryCache) Invalidate(ctx context.Context, submissionID int64) error {
	return s.cache.Del(ctx, evaluationKey(submissionID))
}

// AcquireScanLock takes the per-assignment scan lock. It fails with
// ScanInProgress when another scan holds it. The returned release is safe to
// call after the lock expired.
func (s *SummaryCache) AcquireScanLock(ctx context.Context, assignmentID int64) (func(), error) {
	key := fmt.Sprintf("%s%d", scanLockKeyPrefix, assignmentID)
	token := uuid.NewString()
	ok, err := s.cache.TryLock(ctx, key, token, s.lockTTL)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.LockFailed, "acquire scan lock of assignment %d", assignmentID)
	}
	if !ok {
		return nil, appErr.Newf(appErr.ScanInProgress, "scan of assignment %d already running", assignmentID)
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if _, err := s.cache.Unlock(releaseCtx, key, token); err != nil {
			logger.Warn(ctx, "release scan lock failed", zap.Int64("assignment_id", assignmentID), zap.Error(err))
		}
	}
	return release, nil
}

func evaluationKey(submissionID int64) string {
	return fmt.Sprintf("%s%d", evaluationKeyPrefix, submissionID)
}

func encodeSummary(summary *model.EvaluationSummary) (string, error) {
	raw, err := json.Marshal(summary)
	if err != nil {
		return "", err
	}
	return string(zstdEncoder.EncodeAll(raw, nil)), nil
}

func decodeSummary(blob string) (*model.EvaluationSummary, error) {
	raw, err := zstdDecoder.DecodeAll([]byte(blob), nil)
	if err != nil {
		return nil, err
	}
	var summary model.EvaluationSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
