package repository

import (
	"context"
	"encoding/json"
	"time"

	"instagrade/internal/common/db"
	"instagrade/internal/grading/model"
	appErr "instagrade/pkg/errors"
)

const (
	submissionColumns = "id, assignment_id, student_id, file_path, language"
	testCaseColumns   = "id, input_path, expected_output_path, points, time_limit_seconds, is_public"
)

// MySQLStore implements Store over the submissions, testcases,
// evaluation_details and plagiarism_flags tables.
type MySQLStore struct {
	db db.Database
}

func NewMySQLStore(database db.Database) *MySQLStore {
	return &MySQLStore{db: database}
}

func (s *MySQLStore) FetchSubmission(ctx context.Context, submissionID int64) (model.Submission, error) {
	if submissionID <= 0 {
		return model.Submission{}, appErr.ValidationError("submission_id", "must be positive")
	}
	query := "SELECT " + submissionColumns + " FROM submissions WHERE id = ?"
	var sub model.Submission
	err := s.db.QueryRow(ctx, query, submissionID).Scan(
		&sub.ID, &sub.AssignmentID, &sub.StudentID, &sub.FilePath, &sub.Language,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Submission{}, appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", submissionID)
		}
		return model.Submission{}, appErr.Wrapf(err, appErr.DatabaseError, "fetch submission %d", submissionID)
	}
	return sub, nil
}

func (s *MySQLStore) FetchTestCases(ctx context.Context, assignmentID int64) ([]model.TestCase, error) {
	query := "SELECT " + testCaseColumns + " FROM testcases WHERE assignment_id = ? ORDER BY id"
	rows, err := s.db.Query(ctx, query, assignmentID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "fetch testcases of assignment %d", assignmentID)
	}
	defer rows.Close()

	cases := make([]model.TestCase, 0)
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.InputPath, &tc.ExpectedOutputPath, &tc.Points, &tc.TimeLimitSeconds, &tc.IsPublic); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan testcase")
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate testcases")
	}
	return cases, nil
}

func (s *MySQLStore) ListAssignmentSubmissions(ctx context.Context, assignmentID int64) ([]model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE assignment_id = ? ORDER BY id"
	rows, err := s.db.Query(ctx, query, assignmentID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions of assignment %d", assignmentID)
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(&sub.ID, &sub.AssignmentID, &sub.StudentID, &sub.FilePath, &sub.Language); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan submission")
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate submissions")
	}
	return subs, nil
}

// PersistEvaluation writes score, exec_time and result_json on the
// submission row and replaces its evaluation_details in one transaction.
func (s *MySQLStore) PersistEvaluation(ctx context.Context, submissionID int64, summary model.EvaluationSummary) error {
	resultJSON, err := json.Marshal(summary)
	if err != nil {
		return appErr.Wrapf(err, appErr.PersistenceFailure, "encode summary")
	}
	gradedAt := summary.GradedAt
	if gradedAt.IsZero() {
		gradedAt = time.Now()
	}

	err = s.db.Transaction(ctx, func(tx db.Transaction) error {
		res, err := tx.Exec(ctx,
			"UPDATE submissions SET score = ?, exec_time = ?, result_json = ?, graded_at = ? WHERE id = ?",
			summary.EarnedPoints, summary.AverageElapsedSeconds, string(resultJSON), gradedAt, submissionID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", submissionID)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM evaluation_details WHERE submission_id = ?", submissionID); err != nil {
			return err
		}
		for idx, d := range summary.Details {
			_, err := tx.Exec(ctx,
				"INSERT INTO evaluation_details (submission_id, position, test_case_id, passed, stdout, stderr, elapsed_seconds, points_awarded) VALUES ("+db.Placeholders(8)+")",
				submissionID, idx, d.TestCaseID, d.Passed, d.Stdout, d.Stderr, d.ElapsedSeconds, d.PointsAwarded,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.PersistenceFailure, "persist evaluation of submission %d", submissionID)
	}
	return nil
}

// FetchEvaluation returns nil when the submission has not been graded.
func (s *MySQLStore) FetchEvaluation(ctx context.Context, submissionID int64) (*model.EvaluationSummary, error) {
	var raw *string
	err := s.db.QueryRow(ctx, "SELECT result_json FROM submissions WHERE id = ?", submissionID).Scan(&raw)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", submissionID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "fetch evaluation of submission %d", submissionID)
	}
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var summary model.EvaluationSummary
	if err := json.Unmarshal([]byte(*raw), &summary); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "decode result_json of submission %d", submissionID)
	}
	return &summary, nil
}

// PersistPlagiarismFlags replaces all flags of the assignment.
func (s *MySQLStore) PersistPlagiarismFlags(ctx context.Context, assignmentID int64, pairs []model.SimilarityPair) error {
	now := time.Now()
	err := s.db.Transaction(ctx, func(tx db.Transaction) error {
		if _, err := tx.Exec(ctx, "DELETE FROM plagiarism_flags WHERE assignment_id = ?", assignmentID); err != nil {
			return err
		}
		for _, p := range pairs {
			_, err := tx.Exec(ctx,
				"INSERT INTO plagiarism_flags (assignment_id, submission_a_id, submission_b_id, student_a_id, student_b_id, similarity, created_at) VALUES ("+db.Placeholders(7)+")",
				assignmentID, p.SubmissionAID, p.SubmissionBID, p.StudentAID, p.StudentBID, p.Similarity, now,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.PersistenceFailure, "persist plagiarism flags of assignment %d", assignmentID)
	}
	return nil
}
