package mq

import (
	"context"
	"testing"
	"time"
)

func TestBuildSchedule(t *testing.T) {
	t.Parallel()

	schedule, err := buildSchedule([]WeightedTopic{{Topic: "grade", Weight: 3}, {Topic: "grade.retry", Weight: 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{0, 0, 0, 1}
	if len(schedule) != len(want) {
		t.Fatalf("expected %v, got %v", want, schedule)
	}
	for i := range want {
		if schedule[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, schedule)
		}
	}

	bad := [][]WeightedTopic{
		nil,
		{{Topic: "", Weight: 1}},
		{{Topic: "grade", Weight: 0}},
	}
	for _, topics := range bad {
		if _, err := buildSchedule(topics); err == nil {
			t.Fatalf("expected error for %+v", topics)
		}
	}
}

func TestMessageHeadersSurviveEncoding(t *testing.T) {
	t.Parallel()

	in := NewMessage([]byte(`{"submission_id":7}`))
	in.ID = "7"
	in.RetryCount = 2
	in.Expiration = 90 * time.Second
	in.SetHeader("x-pool-retry", "1")

	out := decodeMessage(encodeMessage("grade", in))
	if out.ID != "7" || string(out.Body) != string(in.Body) {
		t.Fatalf("expected id and body preserved, got %+v", out)
	}
	if out.RetryCount != 2 || out.MaxRetries != 3 || out.Expiration != 90*time.Second {
		t.Fatalf("expected retry metadata preserved, got %+v", out)
	}
	if v, ok := out.GetHeader("x-pool-retry"); !ok || v != "1" {
		t.Fatalf("expected custom header, got %q", v)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Fatalf("expected timestamp %v, got %v", in.Timestamp, out.Timestamp)
	}
}

func TestMessageExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	m := &Message{Timestamp: now.Add(-time.Minute), Expiration: 30 * time.Second}
	if !m.Expired(now) {
		t.Fatalf("expected expired message")
	}
	m.Expiration = 0
	if m.Expired(now) {
		t.Fatalf("expected no expiry without expiration")
	}
}

func TestTokenLimiter(t *testing.T) {
	t.Parallel()

	l := NewTokenLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatalf("expected acquire to block until deadline")
	}
	l.Release()
	if l.InUse() != 0 {
		t.Fatalf("expected limiter empty, got %d", l.InUse())
	}
}
