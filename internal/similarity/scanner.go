package similarity

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync"

	"instagrade/internal/grading/model"
	appErr "instagrade/pkg/errors"
	"instagrade/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultThreshold is the similarity at or above which a pair is flagged.
const DefaultThreshold = 0.80

// SubmissionLister returns every submission of an assignment.
type SubmissionLister interface {
	ListAssignmentSubmissions(ctx context.Context, assignmentID int64) ([]model.Submission, error)
}

// SourceReader loads submission source text.
type SourceReader interface {
	ReadText(ctx context.Context, path string) (string, error)
}

// ScannerConfig configures a Scanner.
type ScannerConfig struct {
	Threshold float64
	Workers   int
}

// Scanner compares every unordered pair of an assignment's submissions.
type Scanner struct {
	lister    SubmissionLister
	reader    SourceReader
	threshold float64
	workers   int
}

func NewScanner(lister SubmissionLister, reader SourceReader, cfg ScannerConfig) *Scanner {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Scanner{lister: lister, reader: reader, threshold: cfg.Threshold, workers: cfg.Workers}
}

type scanSource struct {
	sub        model.Submission
	raw        string
	language   string
	normalized string
}

type flaggedPair struct {
	i, j int
	pair model.SimilarityPair
}

// Scan returns the pairs whose similarity is at least threshold, ordered by
// submission position. A threshold <= 0 uses the scanner default. A failed
// submission lookup is returned as ScanFailure; unreadable sources compare
// as empty text.
func (s *Scanner) Scan(ctx context.Context, assignmentID int64, threshold float64) ([]model.SimilarityPair, error) {
	if threshold <= 0 {
		threshold = s.threshold
	}
	ctx = logger.WithAssignment(ctx, assignmentID)

	subs, err := s.lister.ListAssignmentSubmissions(ctx, assignmentID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ScanFailure, "list submissions for assignment %d", assignmentID)
	}
	sources := s.load(ctx, subs)

	var (
		mu      sync.Mutex
		flagged []flaggedPair
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := 0; i < len(sources); i++ {
		for j := i + 1; j < len(sources); j++ {
			i, j := i, j
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				a, b := sources[i], sources[j]
				lang := PairLanguage(a.sub.Language, b.sub.Language)
				sim := ratioOf(a.textFor(lang), b.textFor(lang))
				if sim < threshold {
					return nil
				}
				mu.Lock()
				flagged = append(flagged, flaggedPair{i: i, j: j, pair: model.SimilarityPair{
					SubmissionAID: a.sub.ID,
					SubmissionBID: b.sub.ID,
					StudentAID:    a.sub.StudentID,
					StudentBID:    b.sub.StudentID,
					Similarity:    Round3(sim),
				}})
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, appErr.Wrapf(err, appErr.ScanFailure, "scan assignment %d", assignmentID)
	}
	if err := ctx.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.ScanFailure, "scan assignment %d", assignmentID)
	}

	sort.Slice(flagged, func(x, y int) bool {
		if flagged[x].i != flagged[y].i {
			return flagged[x].i < flagged[y].i
		}
		return flagged[x].j < flagged[y].j
	})
	out := make([]model.SimilarityPair, len(flagged))
	for k, f := range flagged {
		out[k] = f.pair
	}
	logger.Info(ctx, "plagiarism scan finished",
		zap.Int("submissions", len(subs)),
		zap.Int("flagged", len(out)),
		zap.Float64("threshold", threshold),
	)
	return out, nil
}

// load reads and normalizes each source once, under its own language.
func (s *Scanner) load(ctx context.Context, subs []model.Submission) []scanSource {
	out := make([]scanSource, len(subs))
	for i, sub := range subs {
		raw, err := s.reader.ReadText(ctx, sub.FilePath)
		if err != nil {
			logger.Warn(ctx, "submission source unreadable, comparing as empty",
				zap.Int64("submission_id", sub.ID), zap.Error(err))
			raw = ""
		}
		raw = strings.ToValidUTF8(raw, "")
		lang := PairLanguage(sub.Language, "")
		out[i] = scanSource{sub: sub, raw: raw, language: lang, normalized: Normalize(lang, raw)}
	}
	return out
}

func (s scanSource) textFor(language string) string {
	if canonicalLanguage(language) == canonicalLanguage(s.language) {
		return s.normalized
	}
	return Normalize(language, s.raw)
}

// ratioOf scores two already-normalized texts in canonical order.
func ratioOf(a, b string) float64 {
	if b < a {
		a, b = b, a
	}
	return Ratio(a, b)
}
