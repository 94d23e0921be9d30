package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	applogger "OhlcvAPI/pkg/logger"
)

// MessageHandler handles the payloads of one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// fetcher is the part of *kafka.Reader the consumer uses.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the DLQ uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerOption func(*ConsumerConfig)

type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	StartOffset string // "earliest" or "latest"; only used when the group has no committed offset
	Workers     int
	QueueSize   int // per worker
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int
	Logger      *applogger.Logger
}

func defaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		GroupID:     "ohlcv-api",
		StartOffset: "latest",
		Workers:     1,
		QueueSize:   64,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
	}
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		if groupID != "" {
			c.GroupID = groupID
		}
	}
}

func WithConsumerAutoOffsetReset(reset string) ConsumerOption {
	return func(c *ConsumerConfig) {
		if reset != "" {
			c.StartOffset = reset
		}
	}
}

// WithConsumerWorkers sets how many goroutines handle messages. Each partition
// is pinned to one worker, so per-partition order holds for any count.
func WithConsumerWorkers(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.Workers = n
		}
	}
}

// WithConsumerBufferSize sets the total queue between readers and workers.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.QueueSize = n
		}
	}
}

// WithConsumerRetry sets how often a failing handler is retried and the backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		if backoffMin > 0 {
			c.BackoffMin = backoffMin
		}
		if backoffMax > 0 {
			c.BackoffMax = backoffMax
		}
	}
}

// WithConsumerDLQ parks messages that exhausted their retries on topic.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) { c.Logger = l }
}

// Consumer reads registered topics in a consumer group and hands each message to its
// topic handler. Offsets are committed after success, after a hook rejection, or once
// the message is parked on the DLQ. A failure that cannot be parked holds its
// partition: later messages there are still handled but not committed, so the group
// resumes at the failed offset after a restart or rebalance.
type Consumer struct {
	cfg       ConsumerConfig
	log       *applogger.Logger
	handlers  map[string]MessageHandler
	hook      Hook
	newReader func(topic string) fetcher
	dlq       messageWriter

	readers  map[string]fetcher
	holdMu   sync.Mutex
	held     map[partitionKey]int64
	shards   []chan *Delivery
	cancel   context.CancelFunc
	readWg   sync.WaitGroup
	workWg   sync.WaitGroup
	stopOnce sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: brokers are required")
	}
	l := cfg.Logger
	if l == nil {
		l = applogger.Nop()
	}
	initConsumerMetrics()

	c := &Consumer{
		cfg:      cfg,
		log:      l.With(applogger.String("component", "kafka_consumer")),
		handlers: make(map[string]MessageHandler),
		hook:     NoopHook{},
		readers:  make(map[string]fetcher),
		held:     make(map[partitionKey]int64),
	}
	c.newReader = func(topic string) fetcher {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.GroupID,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			StartOffset: startOffset(cfg.StartOffset),
		})
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.DLQTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	return c, nil
}

// RegisterHandler adds h for its topic. The first registration for a topic wins.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, dup := c.handlers[topic]; dup {
		c.log.Warn("handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

// WithConsumerHook installs h around every delivery. Call before Start.
func (c *Consumer) WithConsumerHook(h Hook) {
	if h != nil {
		c.hook = h
	}
}

// Start opens one reader per registered topic and starts the workers. It does not block.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	perShard := c.cfg.QueueSize / c.cfg.Workers
	if perShard < 1 {
		perShard = 1
	}
	c.shards = make([]chan *Delivery, c.cfg.Workers)
	for i := range c.shards {
		c.shards[i] = make(chan *Delivery, perShard)
		c.workWg.Add(1)
		go c.work(ctx, c.shards[i])
	}

	for topic := range c.handlers {
		r := c.newReader(topic)
		c.readers[topic] = r
		c.readWg.Add(1)
		go c.read(ctx, topic, r)
	}

	c.log.Info("started",
		applogger.String("group", c.cfg.GroupID),
		applogger.Int("topics", len(c.readers)),
		applogger.Int("workers", c.cfg.Workers),
	)
	return nil
}

// Stop halts fetching, lets workers finish what is queued, then closes readers and the DLQ.
// Queued messages are handled once without retries.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()
		if err = waitFor(ctx, &c.readWg); err != nil {
			return
		}
		for _, ch := range c.shards {
			close(ch)
		}
		err = waitFor(ctx, &c.workWg)

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("close reader", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Warn("close dlq writer", applogger.Error(cerr))
			}
		}
		c.log.Info("stopped")
	})
	return err
}

func waitFor(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("kafka consumer stop: %w", ctx.Err())
	}
}

func (c *Consumer) read(ctx context.Context, topic string, r fetcher) {
	defer c.readWg.Done()
	failures := 0
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			c.log.Error("fetch message", applogger.String("topic", topic), applogger.Error(err))
			select {
			case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, failures)):
				continue
			case <-ctx.Done():
				return
			}
		}
		failures = 0
		if m.HighWaterMark > 0 {
			consumerLag.WithLabelValues(topic, strconv.Itoa(m.Partition)).Set(float64(m.HighWaterMark - m.Offset - 1))
		}

		select {
		case c.shards[c.shardFor(topic, m.Partition)] <- &Delivery{Topic: topic, Msg: m}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) shardFor(topic string, partition int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return int((h.Sum32() + uint32(partition)) % uint32(len(c.shards)))
}

func (c *Consumer) work(ctx context.Context, in <-chan *Delivery) {
	defer c.workWg.Done()
	for d := range in {
		c.process(ctx, d)
	}
}

func (c *Consumer) process(ctx context.Context, d *Delivery) {
	start := time.Now()
	err := c.deliver(ctx, d)

	result, commit := "ok", true
	var rejected *HookError
	switch {
	case err == nil:
	case errors.As(err, &rejected):
		result = "rejected"
		c.log.Debug("message rejected", applogger.String("topic", d.Topic), applogger.String("code", rejected.Code))
	default:
		result, commit = "failed", false
		c.log.Error("handle message",
			applogger.String("topic", d.Topic),
			applogger.Int("partition", d.Msg.Partition),
			applogger.Int64("offset", d.Msg.Offset),
			applogger.Int("attempts", d.Attempt),
			applogger.Error(err),
		)
		if c.dlq != nil {
			if derr := c.park(d, err); derr != nil {
				c.log.Error("write dlq", applogger.String("topic", c.cfg.DLQTopic), applogger.Error(derr))
			} else {
				result, commit = "dlq", true
			}
		}
	}

	if !commit {
		c.hold(d)
	} else if !c.commit(d) {
		result = "held"
	}
	consumerMessages.WithLabelValues(d.Topic, result).Inc()
	consumerHandleSeconds.WithLabelValues(d.Topic).Observe(time.Since(start).Seconds())
}

// deliver runs hooks and the handler, retrying handler errors with backoff until
// RetryMax is exhausted or the consumer stops.
func (c *Consumer) deliver(ctx context.Context, d *Delivery) error {
	h := c.handlers[d.Topic]
	for {
		d.Attempt++
		hctx, err := c.hook.Before(context.Background(), d)
		if hctx == nil {
			hctx = context.Background()
		}
		if err == nil {
			err = safeHandle(hctx, h, d.Msg.Value)
		}
		c.hook.After(hctx, d, err)

		var rejected *HookError
		if err == nil || errors.As(err, &rejected) || d.Attempt > c.cfg.RetryMax {
			return err
		}
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, d.Attempt)):
		case <-ctx.Done():
			return err
		}
	}
}

func safeHandle(ctx context.Context, h MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, data)
}

func (c *Consumer) park(d *Delivery, cause error) error {
	headers := append([]kafka.Header(nil), d.Msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "source_topic", Value: []byte(d.Topic)},
		kafka.Header{Key: "source_partition", Value: []byte(strconv.Itoa(d.Msg.Partition))},
		kafka.Header{Key: "source_offset", Value: []byte(strconv.FormatInt(d.Msg.Offset, 10))},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Key:     d.Msg.Key,
		Value:   d.Msg.Value,
		Headers: headers,
		Time:    time.Now(),
	})
}

type partitionKey struct {
	topic     string
	partition int
}

// hold pins the partition's commit position at d's offset.
func (c *Consumer) hold(d *Delivery) {
	k := partitionKey{d.Topic, d.Msg.Partition}
	c.holdMu.Lock()
	defer c.holdMu.Unlock()
	if off, ok := c.held[k]; !ok || d.Msg.Offset < off {
		c.held[k] = d.Msg.Offset
		c.log.Warn("partition commits held",
			applogger.String("topic", d.Topic),
			applogger.Int("partition", d.Msg.Partition),
			applogger.Int64("offset", d.Msg.Offset),
		)
	}
}

// isHeld reports whether d sits past a held offset. The held message itself
// releases the hold once it is redelivered and settled.
func (c *Consumer) isHeld(d *Delivery) bool {
	k := partitionKey{d.Topic, d.Msg.Partition}
	c.holdMu.Lock()
	defer c.holdMu.Unlock()
	off, ok := c.held[k]
	if ok && d.Msg.Offset == off {
		delete(c.held, k)
		return false
	}
	return ok && d.Msg.Offset > off
}

// commit reports false when the partition is held and nothing was committed.
func (c *Consumer) commit(d *Delivery) bool {
	if c.isHeld(d) {
		return false
	}
	r := c.readers[d.Topic]
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, d.Msg)
		cancel()
		if err == nil {
			return true
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("commit offset",
		applogger.String("topic", d.Topic),
		applogger.Int64("offset", d.Msg.Offset),
		applogger.Error(err),
	)
	return true
}

func startOffset(reset string) int64 {
	if reset == "earliest" {
		return kafka.FirstOffset
	}
	return kafka.LastOffset
}

// backoffWithJitter doubles from min per attempt, caps at max, and takes off up to half.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	d := max
	if attempt < 32 {
		if exp := min << uint(attempt-1); exp > 0 && exp < max {
			d = exp
		}
	}
	if half := int64(d) / 2; half > 0 {
		d -= time.Duration(rand.Int63n(half))
	}
	return d
}

var (
	consumerMetricsOnce   sync.Once
	consumerMessages      *prometheus.CounterVec
	consumerHandleSeconds *prometheus.HistogramVec
	consumerLag           *prometheus.GaugeVec
)

func initConsumerMetrics() {
	consumerMetricsOnce.Do(func() {
		consumerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ohlcv_kafka_consumer_messages_total",
			Help: "Consumed messages by outcome (ok, rejected, failed, dlq, held)",
		}, []string{"topic", "result"})
		consumerHandleSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ohlcv_kafka_consumer_handle_seconds",
			Help:    "Time from dequeue to outcome, retries included",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
		consumerLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ohlcv_kafka_consumer_lag",
			Help: "Messages behind the partition high watermark at fetch time",
		}, []string{"topic", "partition"})
	})
}
