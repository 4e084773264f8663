package service

import (
	"context"
	"strconv"
	"time"

	"instagrade/internal/common/mq"
	appErr "instagrade/pkg/errors"
	"instagrade/pkg/utils/logger"

	"go.uber.org/zap"
)

const poolRetryHeader = "x-pool-retry"

// acquireSlot waits briefly for a free grading slot.
func (s *JobService) acquireSlot(ctx context.Context) error {
	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return appErr.New(appErr.GradingQueueFull).WithMessage("grading pool is full")
	}
}

func (s *JobService) tryAcquireSlot() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *JobService) releaseSlot() {
	select {
	case <-s.sem:
	default:
	}
}

func (s *JobService) requeueForPoolFull(ctx context.Context, msg *mq.Message) error {
	return RequeueForPoolFull(ctx, s.queue, s.retryTopic, s.deadLetter, s.poolRetryMax, s.poolRetryBase, s.poolRetryMaxD, msg)
}

// ParsePoolRetryCount reads how often a message was requeued for a full pool.
func ParsePoolRetryCount(headers map[string]string) int {
	raw, ok := headers[poolRetryHeader]
	if !ok {
		return 0
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func cloneForRetry(msg *mq.Message, retryCount int) *mq.Message {
	out := mq.NewMessage(msg.Body)
	out.ID = msg.ID
	out.MaxRetries = msg.MaxRetries
	out.Expiration = msg.Expiration
	for k, v := range msg.Headers {
		out.Headers[k] = v
	}
	out.Headers[poolRetryHeader] = strconv.Itoa(retryCount)
	return out
}

// PoolBackoff doubles base per retry, capped at max.
func PoolBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay >= max {
			break
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// RequeueForPoolFull republishes msg to the retry topic after a backoff, or
// to the dead letter topic once maxRetry requeues are spent.
func RequeueForPoolFull(ctx context.Context, queue mq.Producer, retryTopic, deadLetter string, maxRetry int, baseDelay, maxDelay time.Duration, msg *mq.Message) error {
	if queue == nil || retryTopic == "" {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("retry queue is not configured")
	}
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	retryCount := ParsePoolRetryCount(msg.Headers)
	if maxRetry > 0 && retryCount >= maxRetry {
		if deadLetter == "" {
			logger.Warn(ctx, "grading pool retry exhausted without dead letter", zap.Int("retry_count", retryCount), zap.String("message_id", msg.ID))
			return appErr.New(appErr.GradingQueueFull).WithMessage("grading pool is full")
		}
		logger.Warn(ctx, "grading pool retry exhausted, sending to dead letter", zap.Int("retry_count", retryCount), zap.String("topic", deadLetter))
		return queue.Publish(ctx, deadLetter, cloneForRetry(msg, retryCount))
	}
	delay := PoolBackoff(retryCount, baseDelay, maxDelay)
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	logger.Info(ctx, "grading pool full, requeue", zap.Int("retry_count", retryCount+1), zap.Duration("delay", delay), zap.String("topic", retryTopic))
	return queue.Publish(ctx, retryTopic, cloneForRetry(msg, retryCount+1))
}
