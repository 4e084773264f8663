package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"instagrade/internal/grading/controller"
	"instagrade/internal/grading/model"
	appErr "instagrade/pkg/errors"

	"github.com/gin-gonic/gin"
)

type fakeService struct {
	summaries map[int64]*model.EvaluationSummary
	pairs     []model.SimilarityPair
	scanErr   error
	threshold float64
}

func (f *fakeService) Evaluation(ctx context.Context, id int64) (*model.EvaluationSummary, error) {
	s, ok := f.summaries[id]
	if !ok {
		return nil, appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", id)
	}
	return s, nil
}

func (f *fakeService) RunScan(ctx context.Context, id int64, threshold float64) ([]model.SimilarityPair, error) {
	f.threshold = threshold
	return f.pairs, f.scanErr
}

type fakeRequester struct {
	jobs []model.ScanJob
}

func (f *fakeRequester) RequestScan(ctx context.Context, job model.ScanJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

type envelope struct {
	Code appErr.ErrorCode `json:"code"`
	Data json.RawMessage  `json:"data"`
}

func newRouter(h *controller.GradingController) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.Register(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
	}
	return rec.Code, env
}

func TestGetEvaluation(t *testing.T) {
	svc := &fakeService{summaries: map[int64]*model.EvaluationSummary{
		5: {SubmissionID: 5, EarnedPoints: 3, TotalPoints: 4},
		6: nil,
	}}
	r := newRouter(controller.NewGradingController(svc, nil))

	cases := []struct {
		path   string
		status int
		code   appErr.ErrorCode
	}{
		{"/api/v1/grading/evaluations/5", http.StatusOK, appErr.Success},
		{"/api/v1/grading/evaluations/6", http.StatusNotFound, appErr.NotFound},
		{"/api/v1/grading/evaluations/7", http.StatusNotFound, appErr.SubmissionNotFound},
		{"/api/v1/grading/evaluations/abc", http.StatusBadRequest, appErr.InvalidParams},
	}
	for _, tc := range cases {
		status, env := do(t, r, http.MethodGet, tc.path, "")
		if status != tc.status || env.Code != tc.code {
			t.Fatalf("%s: expected %d/%d, got %d/%d", tc.path, tc.status, tc.code, status, env.Code)
		}
	}

	_, env := do(t, r, http.MethodGet, "/api/v1/grading/evaluations/5", "")
	var summary model.EvaluationSummary
	if err := json.Unmarshal(env.Data, &summary); err != nil || summary.EarnedPoints != 3 {
		t.Fatalf("expected summary payload, got %s (%v)", env.Data, err)
	}
}

func TestTriggerScan(t *testing.T) {
	svc := &fakeService{pairs: []model.SimilarityPair{{SubmissionAID: 1, SubmissionBID: 2, Similarity: 0.9}}}
	requester := &fakeRequester{}
	r := newRouter(controller.NewGradingController(svc, requester))

	status, env := do(t, r, http.MethodPost, "/api/v1/grading/assignments/3/scan", `{"threshold":0.85}`)
	if status != http.StatusOK || svc.threshold != 0.85 {
		t.Fatalf("expected inline scan at 0.85, got %d threshold %v", status, svc.threshold)
	}
	if !strings.Contains(string(env.Data), `"similarity":0.9`) {
		t.Fatalf("expected flagged pair in payload, got %s", env.Data)
	}

	status, _ = do(t, r, http.MethodPost, "/api/v1/grading/assignments/3/scan", `{"async":true}`)
	if status != http.StatusAccepted || len(requester.jobs) != 1 || requester.jobs[0].AssignmentID != 3 {
		t.Fatalf("expected queued scan, got %d %+v", status, requester.jobs)
	}

	svc.scanErr = appErr.New(appErr.ScanInProgress)
	if status, _ := do(t, r, http.MethodPost, "/api/v1/grading/assignments/3/scan", ""); status != http.StatusConflict {
		t.Fatalf("expected 409 while a scan runs, got %d", status)
	}
	if status, _ := do(t, r, http.MethodPost, "/api/v1/grading/assignments/3/scan", "{bad"); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", status)
	}
}

func TestReadyz(t *testing.T) {
	healthy := controller.Check{Name: "mysql", Ping: func(ctx context.Context) error { return nil }}
	broken := controller.Check{Name: "redis", Ping: func(ctx context.Context) error { return errors.New("refused") }}

	r := newRouter(controller.NewGradingController(&fakeService{}, nil, healthy))
	if status, _ := do(t, r, http.MethodGet, "/readyz", ""); status != http.StatusOK {
		t.Fatalf("expected ready, got %d", status)
	}
	r = newRouter(controller.NewGradingController(&fakeService{}, nil, healthy, broken))
	if status, env := do(t, r, http.MethodGet, "/readyz", ""); status != http.StatusServiceUnavailable || env.Code != appErr.ServiceUnavailable {
		t.Fatalf("expected 503, got %d/%d", status, env.Code)
	}
	if status, _ := do(t, r, http.MethodGet, "/healthz", ""); status != http.StatusOK {
		t.Fatalf("expected healthz ok, got %d", status)
	}
}
