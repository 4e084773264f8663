package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"instagrade/internal/common/cache"
	"instagrade/internal/common/mq"
	"instagrade/internal/grading/model"
	"instagrade/internal/grading/repository"
	"instagrade/internal/grading/sandbox"
	"instagrade/internal/grading/service"
	appErr "instagrade/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeQueue struct {
	mu  sync.Mutex
	out map[string][]*mq.Message
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{out: make(map[string][]*mq.Message)}
}

func (q *fakeQueue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.out[topic] = append(q.out[topic], message)
	return nil
}

func (q *fakeQueue) messages(topic string) []*mq.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*mq.Message(nil), q.out[topic]...)
}

type fakeScanner struct {
	pairs []model.SimilarityPair
	err   error
	calls int
	last  float64
}

func (f *fakeScanner) Scan(ctx context.Context, assignmentID int64, threshold float64) ([]model.SimilarityPair, error) {
	f.calls++
	f.last = threshold
	return f.pairs, f.err
}

func gradeMessage(id int64) *mq.Message {
	body, _ := json.Marshal(model.GradeJob{SubmissionID: id})
	return mq.NewMessage(body)
}

func scanMessage(id int64, threshold float64) *mq.Message {
	body, _ := json.Marshal(model.ScanJob{AssignmentID: id, Threshold: threshold})
	return mq.NewMessage(body)
}

type jobEnv struct {
	store   *repository.MemoryStore
	queue   *fakeQueue
	scanner *fakeScanner
	exec    *fakeExecutor
	svc     *service.JobService
}

func newJobEnv(t *testing.T, mutate func(*service.JobConfig)) jobEnv {
	t.Helper()
	fx := newFixture(t, 1, 2)
	store := repository.NewMemoryStore()
	store.AddSubmission(fx.sub)
	store.SetTestCases(fx.sub.AssignmentID, fx.cases)
	exec := &fakeExecutor{outcomes: map[string]sandbox.ExecutionOutcome{
		"in1.txt": {Status: sandbox.StatusSuccess, Stdout: "ok1"},
		"in2.txt": {Status: sandbox.StatusSuccess, Stdout: "wrong"},
	}}
	queue := newFakeQueue()
	scanner := &fakeScanner{}
	publisher := repository.NewMQEventPublisher(queue, "grading.evaluations", "grading.scans")
	cfg := service.JobConfig{
		Store:         store,
		Grader:        newGrader(t, exec, store),
		Scanner:       scanner,
		Events:        publisher,
		Scans:         publisher,
		Queue:         queue,
		RetryTopic:    "grading.jobs.retry",
		PoolSize:      1,
		ScanThreshold: 0.8,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := service.NewJobService(cfg)
	if err != nil {
		t.Fatalf("new job service: %v", err)
	}
	return jobEnv{store: store, queue: queue, scanner: scanner, exec: exec, svc: svc}
}

func TestHandleGradeMessage(t *testing.T) {
	env := newJobEnv(t, nil)

	if err := env.svc.HandleGradeMessage(context.Background(), gradeMessage(5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, ok := env.store.Evaluation(5)
	if !ok || stored.EarnedPoints != 1 || stored.TotalPoints != 3 {
		t.Fatalf("expected 1 of 3 points stored, got %+v", stored)
	}
	events := env.queue.messages("grading.evaluations")
	if len(events) != 1 {
		t.Fatalf("expected one evaluation event, got %d", len(events))
	}
	var event model.EvaluationEvent
	if err := json.Unmarshal(events[0].Body, &event); err != nil || !event.Persisted || event.Passed != 1 {
		t.Fatalf("unexpected event %+v (%v)", event, err)
	}
	if len(env.queue.messages("grading.scans")) != 0 {
		t.Fatalf("expected no scan request without scanAfterGrade")
	}
}

func TestHandleGradeMessageRequestsScan(t *testing.T) {
	env := newJobEnv(t, func(cfg *service.JobConfig) { cfg.ScanAfterGrade = true })

	if err := env.svc.HandleGradeMessage(context.Background(), gradeMessage(5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	scans := env.queue.messages("grading.scans")
	if len(scans) != 1 {
		t.Fatalf("expected one scan request, got %d", len(scans))
	}
	var job model.ScanJob
	if err := json.Unmarshal(scans[0].Body, &job); err != nil || job.AssignmentID != 2 {
		t.Fatalf("unexpected scan job %+v (%v)", job, err)
	}
	if env.scanner.calls != 0 {
		t.Fatalf("expected scan not to run inline")
	}
}

func TestHandleGradeMessageDropsBadInput(t *testing.T) {
	env := newJobEnv(t, nil)
	cases := []*mq.Message{
		mq.NewMessage([]byte("not json")),
		gradeMessage(0),
		gradeMessage(404),
		nil,
	}
	for _, msg := range cases {
		if err := env.svc.HandleGradeMessage(context.Background(), msg); err != nil {
			t.Fatalf("expected message dropped without retry, got %v", err)
		}
	}
	if len(env.exec.requests) != 0 {
		t.Fatalf("expected no executions, got %d", len(env.exec.requests))
	}
}

func TestHandleGradeMessageRequeuesWhenPoolFull(t *testing.T) {
	env := newJobEnv(t, nil)
	env.exec.block = make(chan struct{})
	env.exec.entered = make(chan struct{}, 4)

	done := make(chan error, 1)
	go func() { done <- env.svc.HandleGradeMessage(context.Background(), gradeMessage(5)) }()
	select {
	case <-env.exec.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("first job never reached the sandbox")
	}

	if err := env.svc.HandleGradeMessage(context.Background(), gradeMessage(5)); err != nil {
		t.Fatalf("expected requeue, got %v", err)
	}
	retried := env.queue.messages("grading.jobs.retry")
	if len(retried) != 1 || service.ParsePoolRetryCount(retried[0].Headers) != 1 {
		t.Fatalf("expected one requeued message with retry count 1, got %+v", retried)
	}

	close(env.exec.block)
	if err := <-done; err != nil {
		t.Fatalf("first job failed: %v", err)
	}
}

func TestRequeueForPoolFullDeadLetter(t *testing.T) {
	queue := newFakeQueue()
	msg := gradeMessage(5)
	msg.SetHeader("x-pool-retry", "3")

	err := service.RequeueForPoolFull(context.Background(), queue, "retry", "dead", 3, 0, 0, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queue.messages("dead")) != 1 || len(queue.messages("retry")) != 0 {
		t.Fatalf("expected dead letter only, got %+v", queue.out)
	}

	err = service.RequeueForPoolFull(context.Background(), queue, "retry", "", 3, 0, 0, msg)
	if !appErr.Is(err, appErr.GradingQueueFull) {
		t.Fatalf("expected GradingQueueFull without dead letter, got %v", err)
	}
}

func TestPoolBackoff(t *testing.T) {
	t.Parallel()
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, time.Second},
	}
	for _, tc := range cases {
		if got := service.PoolBackoff(tc.retry, 100*time.Millisecond, time.Second); got != tc.want {
			t.Fatalf("retry %d: expected %v, got %v", tc.retry, tc.want, got)
		}
	}
	if service.PoolBackoff(2, 0, time.Second) != 0 {
		t.Fatalf("expected no backoff without base")
	}
}

func TestHandleScanMessage(t *testing.T) {
	env := newJobEnv(t, nil)
	env.scanner.pairs = []model.SimilarityPair{{SubmissionAID: 1, SubmissionBID: 2, Similarity: 0.92}}

	if err := env.svc.HandleScanMessage(context.Background(), scanMessage(2, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.scanner.last != 0.8 {
		t.Fatalf("expected configured threshold, got %v", env.scanner.last)
	}
	if flags := env.store.Flags(2); len(flags) != 1 || flags[0].Similarity != 0.92 {
		t.Fatalf("expected stored flag, got %+v", flags)
	}
}

func TestHandleScanMessageFailurePropagates(t *testing.T) {
	env := newJobEnv(t, nil)
	env.scanner.err = appErr.Wrapf(errors.New("db down"), appErr.ScanFailure, "list submissions")

	err := env.svc.HandleScanMessage(context.Background(), scanMessage(2, 0.9))
	if !appErr.Is(err, appErr.ScanFailure) {
		t.Fatalf("expected ScanFailure returned for retry, got %v", err)
	}
	if _, err := env.svc.RunScan(context.Background(), 2, 1.5); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected threshold validation, got %v", err)
	}
}

func TestRunScanIsExclusivePerAssignment(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	summaries := repository.NewSummaryCache(rc, time.Hour, time.Minute)
	env := newJobEnv(t, func(cfg *service.JobConfig) { cfg.Summaries = summaries })

	release, err := summaries.AcquireScanLock(context.Background(), 2)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := env.svc.RunScan(context.Background(), 2, 0); !appErr.Is(err, appErr.ScanInProgress) {
		t.Fatalf("expected ScanInProgress, got %v", err)
	}
	if err := env.svc.HandleScanMessage(context.Background(), scanMessage(2, 0)); err != nil {
		t.Fatalf("expected duplicate scan dropped, got %v", err)
	}
	release()
	if _, err := env.svc.RunScan(context.Background(), 2, 0); err != nil {
		t.Fatalf("expected scan after release, got %v", err)
	}
}

func TestEvaluationReadsThroughCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, _ := cache.NewRedisCacheWithClient(client)
	env := newJobEnv(t, func(cfg *service.JobConfig) {
		cfg.Summaries = repository.NewSummaryCache(rc, time.Hour, time.Minute)
	})

	got, err := env.svc.Evaluation(context.Background(), 5)
	if err != nil || got != nil {
		t.Fatalf("expected nil before grading, got %+v (%v)", got, err)
	}
	if _, err := env.svc.GradeSubmission(context.Background(), 5); err != nil {
		t.Fatalf("grade: %v", err)
	}
	got, err = env.svc.Evaluation(context.Background(), 5)
	if err != nil || got == nil || got.EarnedPoints != 1 {
		t.Fatalf("expected cached summary, got %+v (%v)", got, err)
	}
	if _, err := env.svc.Evaluation(context.Background(), 404); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
}

func TestHandleGradeMessageShutdownLeavesJobForRedelivery(t *testing.T) {
	env := newJobEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := env.svc.HandleGradeMessage(ctx, gradeMessage(5))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled for redelivery, got %v", err)
	}
	if _, ok := env.store.Evaluation(5); ok {
		t.Fatalf("expected no stored evaluation")
	}
	if len(env.queue.messages("grading.evaluations")) != 0 {
		t.Fatalf("expected no evaluation event")
	}
}

func TestGradeSubmissionJobTimeout(t *testing.T) {
	env := newJobEnv(t, func(cfg *service.JobConfig) { cfg.JobTimeout = 20 * time.Millisecond })
	env.exec.block = make(chan struct{})
	release := time.AfterFunc(80*time.Millisecond, func() { close(env.exec.block) })
	defer release.Stop()

	_, err := env.svc.GradeSubmission(context.Background(), 5)
	if appErr.GetCode(err) != appErr.Timeout {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if _, ok := env.store.Evaluation(5); ok {
		t.Fatalf("expected no stored evaluation after a timed out job")
	}
}
