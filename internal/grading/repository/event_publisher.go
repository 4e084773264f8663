package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"instagrade/internal/common/mq"
	"instagrade/internal/grading/model"
	appErr "instagrade/pkg/errors"
)

// EvaluationPublisher announces finished gradings.
type EvaluationPublisher interface {
	PublishEvaluation(ctx context.Context, summary model.EvaluationSummary, persisted bool) error
}

// ScanRequester asks for an assignment scan without running it inline.
type ScanRequester interface {
	RequestScan(ctx context.Context, job model.ScanJob) error
}

// MQEventPublisher publishes evaluation events and scan requests.
type MQEventPublisher struct {
	producer        mq.Producer
	evaluationTopic string
	scanTopic       string
}

func NewMQEventPublisher(producer mq.Producer, evaluationTopic, scanTopic string) *MQEventPublisher {
	return &MQEventPublisher{producer: producer, evaluationTopic: evaluationTopic, scanTopic: scanTopic}
}

func (p *MQEventPublisher) PublishEvaluation(ctx context.Context, summary model.EvaluationSummary, persisted bool) error {
	if p == nil || p.producer == nil || p.evaluationTopic == "" {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("evaluation publisher is not configured")
	}
	passed := 0
	for _, d := range summary.Details {
		if d.Passed {
			passed++
		}
	}
	event := model.EvaluationEvent{
		Type:         model.EvaluationEventCompleted,
		SubmissionID: summary.SubmissionID,
		AssignmentID: summary.AssignmentID,
		StudentID:    summary.StudentID,
		TotalPoints:  summary.TotalPoints,
		EarnedPoints: summary.EarnedPoints,
		Passed:       passed,
		Total:        len(summary.Details),
		Persisted:    persisted,
		CreatedAt:    time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "marshal evaluation event")
	}
	msg := mq.NewMessage(payload)
	msg.ID = strconv.FormatInt(summary.SubmissionID, 10)
	if err := p.producer.Publish(ctx, p.evaluationTopic, msg); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish evaluation event")
	}
	return nil
}

func (p *MQEventPublisher) RequestScan(ctx context.Context, job model.ScanJob) error {
	if p == nil || p.producer == nil || p.scanTopic == "" {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("scan topic is not configured")
	}
	if job.AssignmentID <= 0 {
		return appErr.ValidationError("assignment_id", "must be positive")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "marshal scan job")
	}
	msg := mq.NewMessage(payload)
	msg.ID = strconv.FormatInt(job.AssignmentID, 10)
	if err := p.producer.Publish(ctx, p.scanTopic, msg); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish scan job")
	}
	return nil
}
