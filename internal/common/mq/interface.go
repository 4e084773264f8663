package mq

import (
	"context"
	"time"
)

// MessageQueue is the job transport used by the grading worker.
type MessageQueue interface {
	Producer
	Consumer

	Ping(ctx context.Context) error
	Close() error
}

// Producer publishes messages.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer registers handlers and runs them once started.
type Consumer interface {
	// Subscribe registers handler for one or more weighted topics. Registering
	// after Start starts the subscription immediately.
	Subscribe(ctx context.Context, topics []WeightedTopic, handler HandlerFunc, opts *SubscribeOptions) error

	Start() error

	// Stop cancels fetchers and waits for in-flight handlers.
	Stop() error
}

// WeightedTopic is a topic and its share of fetches within a subscription.
type WeightedTopic struct {
	Topic  string
	Weight int
}

// Topic is a single weight-1 topic.
func Topic(name string) []WeightedTopic {
	return []WeightedTopic{{Topic: name, Weight: 1}}
}

// FetchLimiter bounds the number of fetched but unfinished messages.
type FetchLimiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// Message is a queue message.
type Message struct {
	ID         string            `json:"id"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers"`
	Timestamp  time.Time         `json:"timestamp"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
	// Expiration drops the message when it is consumed later than
	// Timestamp plus Expiration.
	Expiration time.Duration `json:"expiration"`
}

// HandlerFunc processes one message. A non-nil error triggers a retry.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions tunes a subscription.
type SubscribeOptions struct {
	ConsumerGroup   string
	Concurrency     int
	MaxRetries      int
	RetryDelay      time.Duration
	DeadLetterTopic string
	MessageTTL      time.Duration
	Limiter         FetchLimiter
}

// SetDefaults fills zero fields.
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a message with the given body.
func NewMessage(body []byte) *Message {
	return &Message{
		Body:       body,
		Headers:    make(map[string]string),
		Timestamp:  time.Now(),
		MaxRetries: 3,
	}
}

func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}

// Expired reports whether the message outlived its expiration at now.
func (m *Message) Expired(now time.Time) bool {
	return m.Expiration > 0 && !m.Timestamp.IsZero() && now.Sub(m.Timestamp) > m.Expiration
}
