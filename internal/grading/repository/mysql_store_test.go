package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"

	"instagrade/internal/common/db"
	"instagrade/internal/grading/model"
	"instagrade/internal/grading/repository"
	appErr "instagrade/pkg/errors"
)

type execCall struct {
	query string
	args  []interface{}
}

type fakeResult struct{ affected int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.affected, nil }

type fakeRow struct {
	values []interface{}
	err    error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.values)
}

type fakeRows struct {
	data [][]interface{}
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.data)
}
func (r *fakeRows) Scan(dest ...interface{}) error { return assign(dest, r.data[r.pos-1]) }
func (r *fakeRows) Close() error                   { return nil }
func (r *fakeRows) Err() error                     { return nil }

func assign(dest []interface{}, values []interface{}) error {
	if len(dest) != len(values) {
		return errors.New("column count mismatch")
	}
	for i, v := range values {
		target := reflect.ValueOf(dest[i]).Elem()
		if v == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(v))
	}
	return nil
}

type fakeDB struct {
	row        fakeRow
	rows       [][]interface{}
	affected   int64
	execs      []execCall
	commits    int
	rollbacks  int
	lastQuery  string
	failOnExec string
}

func (f *fakeDB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	f.lastQuery = query
	return &fakeRows{data: f.rows}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	f.lastQuery = query
	return f.row
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	f.execs = append(f.execs, execCall{query: query, args: args})
	if f.failOnExec != "" && strings.HasPrefix(query, f.failOnExec) {
		return nil, errors.New("exec failed")
	}
	return fakeResult{affected: f.affected}, nil
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	if err := fn(f); err != nil {
		f.rollbacks++
		return err
	}
	f.commits++
	return nil
}

func (f *fakeDB) Commit() error                  { return nil }
func (f *fakeDB) Rollback() error                { return nil }
func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error                   { return nil }

func TestFetchSubmission(t *testing.T) {
	fdb := &fakeDB{row: fakeRow{values: []interface{}{int64(5), int64(2), int64(9), "s3://subs/5/main.py", "python"}}}
	store := repository.NewMySQLStore(fdb)

	sub, err := store.FetchSubmission(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.ID != 5 || sub.AssignmentID != 2 || sub.StudentID != 9 || sub.Language != "python" {
		t.Fatalf("unexpected submission %+v", sub)
	}

	fdb.row = fakeRow{err: sql.ErrNoRows}
	if _, err := store.FetchSubmission(context.Background(), 6); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
	if _, err := store.FetchSubmission(context.Background(), 0); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFetchTestCasesKeepsOrder(t *testing.T) {
	fdb := &fakeDB{rows: [][]interface{}{
		{int64(1), "in1", "out1", 1.0, 0.0, true},
		{int64(2), "in2", "out2", 2.0, 1.5, false},
	}}
	store := repository.NewMySQLStore(fdb)

	cases, err := store.FetchTestCases(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cases) != 2 || cases[0].ID != 1 || cases[1].Points != 2 || cases[1].TimeLimitSeconds != 1.5 {
		t.Fatalf("unexpected cases %+v", cases)
	}
	if !strings.Contains(fdb.lastQuery, "ORDER BY id") {
		t.Fatalf("expected ordered query, got %s", fdb.lastQuery)
	}

	fdb.rows = nil
	cases, err = store.FetchTestCases(context.Background(), 4)
	if err != nil || cases == nil || len(cases) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v (%v)", cases, err)
	}
}

func TestPersistEvaluation(t *testing.T) {
	fdb := &fakeDB{affected: 1}
	store := repository.NewMySQLStore(fdb)
	summary := model.EvaluationSummary{
		SubmissionID:          5,
		EarnedPoints:          3,
		TotalPoints:           4,
		AverageElapsedSeconds: 0.25,
		Details: []model.EvaluationDetail{
			{TestCaseID: 1, Passed: true, PointsAwarded: 1},
			{TestCaseID: 2, Passed: false, Stderr: "timeout"},
		},
	}

	if err := store.PersistEvaluation(context.Background(), 5, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fdb.commits != 1 || len(fdb.execs) != 4 {
		t.Fatalf("expected update, delete and two inserts in one commit, got %d execs %d commits", len(fdb.execs), fdb.commits)
	}
	update := fdb.execs[0]
	if !strings.HasPrefix(update.query, "UPDATE submissions") || update.args[0] != 3.0 || update.args[1] != 0.25 {
		t.Fatalf("unexpected update %+v", update)
	}
	if !strings.Contains(update.args[2].(string), `"earned_points":3`) {
		t.Fatalf("expected result_json to carry the summary, got %v", update.args[2])
	}
	if fdb.execs[3].args[1] != 1 || fdb.execs[3].args[2] != int64(2) {
		t.Fatalf("expected second detail at position 1, got %+v", fdb.execs[3].args)
	}
}

func TestPersistEvaluationFailures(t *testing.T) {
	fdb := &fakeDB{affected: 0}
	store := repository.NewMySQLStore(fdb)
	err := store.PersistEvaluation(context.Background(), 5, model.EvaluationSummary{SubmissionID: 5})
	if !appErr.Is(err, appErr.PersistenceFailure) || fdb.rollbacks != 1 {
		t.Fatalf("expected rolled back PersistenceFailure, got %v (rollbacks %d)", err, fdb.rollbacks)
	}

	fdb = &fakeDB{affected: 1, failOnExec: "DELETE"}
	store = repository.NewMySQLStore(fdb)
	err = store.PersistEvaluation(context.Background(), 5, model.EvaluationSummary{SubmissionID: 5})
	if !appErr.Is(err, appErr.PersistenceFailure) {
		t.Fatalf("expected PersistenceFailure, got %v", err)
	}
}

func TestPersistPlagiarismFlagsReplaces(t *testing.T) {
	fdb := &fakeDB{}
	store := repository.NewMySQLStore(fdb)
	pairs := []model.SimilarityPair{{SubmissionAID: 1, SubmissionBID: 2, StudentAID: 11, StudentBID: 12, Similarity: 0.92}}

	if err := store.PersistPlagiarismFlags(context.Background(), 7, pairs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fdb.execs) != 2 || !strings.HasPrefix(fdb.execs[0].query, "DELETE FROM plagiarism_flags") {
		t.Fatalf("expected delete then insert, got %+v", fdb.execs)
	}
	if fdb.execs[1].args[5] != 0.92 {
		t.Fatalf("expected similarity argument, got %v", fdb.execs[1].args[5])
	}
}

func TestFetchEvaluation(t *testing.T) {
	var null *string
	fdb := &fakeDB{row: fakeRow{values: []interface{}{null}}}
	store := repository.NewMySQLStore(fdb)

	got, err := store.FetchEvaluation(context.Background(), 5)
	if err != nil || got != nil {
		t.Fatalf("expected nil summary for ungraded submission, got %+v (%v)", got, err)
	}

	raw := `{"submission_id":5,"earned_points":2}`
	fdb.row = fakeRow{values: []interface{}{&raw}}
	got, err = store.FetchEvaluation(context.Background(), 5)
	if err != nil || got == nil || got.EarnedPoints != 2 {
		t.Fatalf("expected decoded summary, got %+v (%v)", got, err)
	}
}
