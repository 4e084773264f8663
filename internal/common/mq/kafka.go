package mq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	headerID         = "x-message-id"
	headerTimestamp  = "x-message-ts"
	headerRetryCount = "x-message-retry"
	headerMaxRetries = "x-message-max-retries"
	headerExpiration = "x-message-expiration-ms"
)

const defaultGroupPrefix = "instagrade-"

// KafkaConfig configures the Kafka transport.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientId"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	MinBytes     int           `yaml:"minBytes"`
	MaxBytes     int           `yaml:"maxBytes"`
	MaxWait      time.Duration `yaml:"maxWait"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
}

func (c *KafkaConfig) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 50 * time.Millisecond
	}
	if c.MinBytes == 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = 10 << 20
	}
	if c.MaxWait == 0 {
		c.MaxWait = time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// KafkaQueue implements MessageQueue on segmentio/kafka-go.
type KafkaQueue struct {
	config KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu      sync.Mutex
	subs    []*kafkaSubscription
	started bool
	closed  bool
}

type kafkaSubscription struct {
	topics   []WeightedTopic
	schedule []int
	handler  HandlerFunc
	opts     SubscribeOptions
	baseCtx  context.Context

	readers []*kafka.Reader
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type fetched struct {
	reader *kafka.Reader
	msg    kafka.Message
}

func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	cfg.applyDefaults()
	dialer := &kafka.Dialer{ClientID: cfg.ClientID, Timeout: cfg.DialTimeout, DualStack: true}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Transport: &kafka.Transport{
			ClientID: cfg.ClientID,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
		},
	}
	return &KafkaQueue{config: cfg, writer: writer, dialer: dialer}, nil
}

// Publish writes one message. The message ID is the partition key, so
// messages for the same submission stay ordered.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	return k.writer.WriteMessages(ctx, encodeMessage(topic, message))
}

func (k *KafkaQueue) Subscribe(ctx context.Context, topics []WeightedTopic, handler HandlerFunc, opts *SubscribeOptions) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	schedule, err := buildSchedule(topics)
	if err != nil {
		return err
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = defaultGroupPrefix + topics[0].Topic
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sub := &kafkaSubscription{
		topics:   topics,
		schedule: schedule,
		handler:  handler,
		opts:     options,
		baseCtx:  ctx,
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	k.subs = append(k.subs, sub)
	if k.started {
		k.run(sub)
	}
	return nil
}

func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	if k.started {
		return nil
	}
	for _, sub := range k.subs {
		k.run(sub)
	}
	k.started = true
	return nil
}

func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, sub := range k.subs {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range k.subs {
		sub.wg.Wait()
		for _, r := range sub.readers {
			_ = r.Close()
		}
		sub.readers = nil
	}
	k.started = false
	return nil
}

func (k *KafkaQueue) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	_ = k.Stop()
	return k.writer.Close()
}

// run starts one fetch loop that walks the weighted schedule and a fixed
// set of handler goroutines. Caller holds k.mu.
func (k *KafkaQueue) run(sub *kafkaSubscription) {
	ctx, cancel := context.WithCancel(sub.baseCtx)
	sub.cancel = cancel
	sub.readers = make([]*kafka.Reader, len(sub.topics))
	for i, t := range sub.topics {
		sub.readers[i] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     k.config.Brokers,
			Topic:       t.Topic,
			GroupID:     sub.opts.ConsumerGroup,
			Dialer:      k.dialer,
			MinBytes:    k.config.MinBytes,
			MaxBytes:    k.config.MaxBytes,
			MaxWait:     k.config.MaxWait,
			StartOffset: kafka.FirstOffset,
		})
	}

	work := make(chan fetched)
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		defer close(work)
		k.fetchLoop(ctx, sub, work)
	}()
	for i := 0; i < sub.opts.Concurrency; i++ {
		sub.wg.Add(1)
		go func() {
			defer sub.wg.Done()
			for item := range work {
				k.handle(ctx, sub, item)
			}
		}()
	}
}

func (k *KafkaQueue) fetchLoop(ctx context.Context, sub *kafkaSubscription, work chan<- fetched) {
	for idx := 0; ; idx++ {
		if ctx.Err() != nil {
			return
		}
		if sub.opts.Limiter != nil {
			if err := sub.opts.Limiter.Acquire(ctx); err != nil {
				return
			}
		}
		reader := sub.readers[sub.schedule[idx%len(sub.schedule)]]
		// A short fetch window keeps one idle topic from starving the others.
		fetchCtx := ctx
		var cancel context.CancelFunc = func() {}
		if len(sub.readers) > 1 {
			fetchCtx, cancel = context.WithTimeout(ctx, k.config.MaxWait)
		}
		msg, err := reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if sub.opts.Limiter != nil {
				sub.opts.Limiter.Release()
			}
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}
		select {
		case work <- fetched{reader: reader, msg: msg}:
		case <-ctx.Done():
			if sub.opts.Limiter != nil {
				sub.opts.Limiter.Release()
			}
			return
		}
	}
}

func (k *KafkaQueue) handle(ctx context.Context, sub *kafkaSubscription, item fetched) {
	if sub.opts.Limiter != nil {
		defer sub.opts.Limiter.Release()
	}
	m := decodeMessage(item.msg)
	if m.MaxRetries == 0 {
		m.MaxRetries = sub.opts.MaxRetries
	}
	if m.Expiration == 0 {
		m.Expiration = sub.opts.MessageTTL
	}
	if m.Expired(time.Now()) {
		_ = item.reader.CommitMessages(ctx, item.msg)
		return
	}

	for {
		err := sub.handler(ctx, m)
		if err == nil {
			break
		}
		m.RetryCount++
		if m.RetryCount > m.MaxRetries {
			if sub.opts.DeadLetterTopic != "" {
				_ = k.Publish(ctx, sub.opts.DeadLetterTopic, m)
			}
			break
		}
		select {
		case <-ctx.Done():
			// Uncommitted; redelivered to the group after restart.
			return
		case <-time.After(sub.opts.RetryDelay):
		}
	}
	_ = item.reader.CommitMessages(ctx, item.msg)
}

func buildSchedule(topics []WeightedTopic) ([]int, error) {
	if len(topics) == 0 {
		return nil, errors.New("topics are required")
	}
	var schedule []int
	for idx, t := range topics {
		if t.Topic == "" {
			return nil, errors.New("topic is required")
		}
		if t.Weight <= 0 {
			return nil, fmt.Errorf("topic %s weight must be positive", t.Topic)
		}
		for i := 0; i < t.Weight; i++ {
			schedule = append(schedule, idx)
		}
	}
	return schedule, nil
}

func encodeMessage(topic string, m *Message) kafka.Message {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	headers := make([]kafka.Header, 0, len(m.Headers)+5)
	add := func(key, value string) {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	for key, v := range m.Headers {
		add(key, v)
	}
	if m.ID != "" {
		add(headerID, m.ID)
	}
	add(headerTimestamp, m.Timestamp.Format(time.RFC3339Nano))
	if m.RetryCount != 0 {
		add(headerRetryCount, strconv.Itoa(m.RetryCount))
	}
	if m.MaxRetries != 0 {
		add(headerMaxRetries, strconv.Itoa(m.MaxRetries))
	}
	if m.Expiration > 0 {
		add(headerExpiration, strconv.FormatInt(m.Expiration.Milliseconds(), 10))
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(m.ID),
		Value:   m.Body,
		Headers: headers,
		Time:    m.Timestamp,
	}
}

func decodeMessage(msg kafka.Message) *Message {
	m := &Message{
		ID:        string(msg.Key),
		Body:      msg.Value,
		Headers:   make(map[string]string),
		Timestamp: msg.Time,
	}
	for _, h := range msg.Headers {
		value := string(h.Value)
		switch h.Key {
		case headerID:
			m.ID = value
		case headerTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
				m.Timestamp = ts
			}
		case headerRetryCount:
			m.RetryCount = nonNegative(value)
		case headerMaxRetries:
			m.MaxRetries = nonNegative(value)
		case headerExpiration:
			m.Expiration = time.Duration(nonNegative(value)) * time.Millisecond
		default:
			m.Headers[h.Key] = value
		}
	}
	return m
}

func nonNegative(raw string) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
