// Package model holds the records exchanged between the grading core and
// its collaborators.
package model

import "time"

// Submission is one student's uploaded solution.
type Submission struct {
	ID           int64  `json:"id"`
	AssignmentID int64  `json:"assignment_id"`
	StudentID    int64  `json:"student_id"`
	FilePath     string `json:"file_path"`
	Language     string `json:"language"`
}

// TestCase is one weighted input/expected-output pair of an assignment.
type TestCase struct {
	ID                 int64   `json:"id"`
	InputPath          string  `json:"input_path"`
	ExpectedOutputPath string  `json:"expected_output_path"`
	Points             float64 `json:"points"`
	TimeLimitSeconds   float64 `json:"time_limit_seconds"`
	IsPublic           bool    `json:"is_public"`
}

// EvaluationDetail is the result of one test case.
type EvaluationDetail struct {
	TestCaseID     int64   `json:"test_case_id"`
	Passed         bool    `json:"passed"`
	Stdout         string  `json:"stdout"`
	Stderr         string  `json:"stderr"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	PointsAwarded  float64 `json:"points_awarded"`
}

// EvaluationSummary is the scored breakdown of one grading run.
type EvaluationSummary struct {
	SubmissionID          int64              `json:"submission_id"`
	AssignmentID          int64              `json:"assignment_id"`
	StudentID             int64              `json:"student_id"`
	TotalPoints           float64            `json:"total_points"`
	EarnedPoints          float64            `json:"earned_points"`
	AverageElapsedSeconds float64            `json:"average_elapsed_seconds"`
	Details               []EvaluationDetail `json:"details"`
	PlagiarismFlags       []SimilarityPair   `json:"plagiarism_flags,omitempty"`
	GradedAt              time.Time          `json:"graded_at"`
}

// SimilarityPair is a flagged pair of submissions.
type SimilarityPair struct {
	SubmissionAID int64   `json:"submission_a"`
	SubmissionBID int64   `json:"submission_b"`
	StudentAID    int64   `json:"student_a"`
	StudentBID    int64   `json:"student_b"`
	Similarity    float64 `json:"similarity"`
}

// GradeJob is the inbound job message.
type GradeJob struct {
	SubmissionID int64 `json:"submission_id"`
}

// ScanJob asks for a plagiarism scan of one assignment.
type ScanJob struct {
	AssignmentID int64   `json:"assignment_id"`
	Threshold    float64 `json:"threshold,omitempty"`
}

// EvaluationEvent is published after a submission has been graded.
type EvaluationEvent struct {
	Type         string  `json:"type"`
	SubmissionID int64   `json:"submission_id"`
	AssignmentID int64   `json:"assignment_id"`
	StudentID    int64   `json:"student_id"`
	TotalPoints  float64 `json:"total_points"`
	EarnedPoints float64 `json:"earned_points"`
	Passed       int     `json:"passed"`
	Total        int     `json:"total"`
	Persisted    bool    `json:"persisted"`
	CreatedAt    int64   `json:"created_at"`
}

// EvaluationEventCompleted is the type of the post-grading event.
const EvaluationEventCompleted = "evaluation.completed"
