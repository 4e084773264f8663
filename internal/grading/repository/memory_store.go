package repository

import (
	"context"
	"sort"
	"sync"

	"instagrade/internal/grading/model"
	appErr "instagrade/pkg/errors"
)

// MemoryStore is an in-process Store used by tests and the scan CLI's dry
// run. PersistErr, when set, is returned by both persist calls.
type MemoryStore struct {
	mu          sync.Mutex
	submissions map[int64]model.Submission
	testCases   map[int64][]model.TestCase
	evaluations map[int64]model.EvaluationSummary
	flags       map[int64][]model.SimilarityPair

	PersistErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions: make(map[int64]model.Submission),
		testCases:   make(map[int64][]model.TestCase),
		evaluations: make(map[int64]model.EvaluationSummary),
		flags:       make(map[int64][]model.SimilarityPair),
	}
}

func (m *MemoryStore) AddSubmission(sub model.Submission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[sub.ID] = sub
}

func (m *MemoryStore) SetTestCases(assignmentID int64, cases []model.TestCase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.testCases[assignmentID] = append([]model.TestCase(nil), cases...)
}

func (m *MemoryStore) FetchSubmission(ctx context.Context, submissionID int64) (model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[submissionID]
	if !ok {
		return model.Submission{}, appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", submissionID)
	}
	return sub, nil
}

func (m *MemoryStore) FetchTestCases(ctx context.Context, assignmentID int64) ([]model.TestCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TestCase{}, m.testCases[assignmentID]...), nil
}

func (m *MemoryStore) ListAssignmentSubmissions(ctx context.Context, assignmentID int64) ([]model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var subs []model.Submission
	for _, sub := range m.submissions {
		if sub.AssignmentID == assignmentID {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

func (m *MemoryStore) PersistEvaluation(ctx context.Context, submissionID int64, summary model.EvaluationSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PersistErr != nil {
		return appErr.Wrap(m.PersistErr, appErr.PersistenceFailure)
	}
	m.evaluations[submissionID] = summary
	return nil
}

func (m *MemoryStore) FetchEvaluation(ctx context.Context, submissionID int64) (*model.EvaluationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.submissions[submissionID]; !ok {
		return nil, appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", submissionID)
	}
	summary, ok := m.evaluations[submissionID]
	if !ok {
		return nil, nil
	}
	return &summary, nil
}

func (m *MemoryStore) PersistPlagiarismFlags(ctx context.Context, assignmentID int64, pairs []model.SimilarityPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PersistErr != nil {
		return appErr.Wrap(m.PersistErr, appErr.PersistenceFailure)
	}
	m.flags[assignmentID] = append([]model.SimilarityPair(nil), pairs...)
	return nil
}

// Flags returns the stored flags of an assignment.
func (m *MemoryStore) Flags(assignmentID int64) []model.SimilarityPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SimilarityPair(nil), m.flags[assignmentID]...)
}

// Evaluation returns the stored summary of a submission.
func (m *MemoryStore) Evaluation(submissionID int64) (model.EvaluationSummary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.evaluations[submissionID]
	return s, ok
}
