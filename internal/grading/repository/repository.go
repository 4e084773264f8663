// Package repository holds the persistence and lookup collaborators of the
// grading core.
package repository

import (
	"context"

	"instagrade/internal/grading/model"
)

// SubmissionReader resolves a submission. A missing row yields
// SubmissionNotFound.
type SubmissionReader interface {
	FetchSubmission(ctx context.Context, submissionID int64) (model.Submission, error)
}

// TestCaseReader lists the test cases of an assignment in grading order.
// An empty result is valid.
type TestCaseReader interface {
	FetchTestCases(ctx context.Context, assignmentID int64) ([]model.TestCase, error)
}

// SubmissionLister lists every submission of an assignment for a scan.
type SubmissionLister interface {
	ListAssignmentSubmissions(ctx context.Context, assignmentID int64) ([]model.Submission, error)
}

// EvaluationWriter stores a graded summary.
type EvaluationWriter interface {
	PersistEvaluation(ctx context.Context, submissionID int64, summary model.EvaluationSummary) error
}

// FlagWriter replaces the stored flags of an assignment.
type FlagWriter interface {
	PersistPlagiarismFlags(ctx context.Context, assignmentID int64, pairs []model.SimilarityPair) error
}

// EvaluationReader loads the last stored summary of a submission.
type EvaluationReader interface {
	FetchEvaluation(ctx context.Context, submissionID int64) (*model.EvaluationSummary, error)
}

// Store is the full collaborator set backed by one database.
type Store interface {
	SubmissionReader
	TestCaseReader
	SubmissionLister
	EvaluationWriter
	EvaluationReader
	FlagWriter
}
