package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"instagrade/internal/common/mq"
	"instagrade/internal/grading/model"
	"instagrade/internal/grading/repository"
	appErr "instagrade/pkg/errors"
)

type published struct {
	topic string
	msg   *mq.Message
}

type fakeProducer struct {
	out []published
	err error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	if f.err != nil {
		return f.err
	}
	f.out = append(f.out, published{topic: topic, msg: message})
	return nil
}

func TestPublishEvaluation(t *testing.T) {
	producer := &fakeProducer{}
	pub := repository.NewMQEventPublisher(producer, "grading.evaluations", "grading.scans")
	summary := model.EvaluationSummary{
		SubmissionID: 5,
		AssignmentID: 2,
		TotalPoints:  4,
		EarnedPoints: 3,
		Details:      []model.EvaluationDetail{{Passed: true}, {Passed: false}, {Passed: true}},
	}
	if err := pub.PublishEvaluation(context.Background(), summary, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(producer.out) != 1 || producer.out[0].topic != "grading.evaluations" || producer.out[0].msg.ID != "5" {
		t.Fatalf("unexpected publish %+v", producer.out)
	}
	var event model.EvaluationEvent
	if err := json.Unmarshal(producer.out[0].msg.Body, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Type != model.EvaluationEventCompleted || event.Passed != 2 || event.Total != 3 || !event.Persisted {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestRequestScan(t *testing.T) {
	producer := &fakeProducer{}
	pub := repository.NewMQEventPublisher(producer, "", "grading.scans")

	if err := pub.RequestScan(context.Background(), model.ScanJob{AssignmentID: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if producer.out[0].topic != "grading.scans" {
		t.Fatalf("expected scan topic, got %s", producer.out[0].topic)
	}
	if err := pub.RequestScan(context.Background(), model.ScanJob{}); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := pub.PublishEvaluation(context.Background(), model.EvaluationSummary{}, false); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected unconfigured evaluation topic error, got %v", err)
	}

	producer.err = errors.New("broker down")
	if err := pub.RequestScan(context.Background(), model.ScanJob{AssignmentID: 2}); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
}
