package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader hands out queued messages, then blocks until the fetch context ends.
type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type funcHandler struct {
	topic string
	fn    func([]byte) error
}

func (h funcHandler) Topic() string                            { return h.topic }
func (h funcHandler) Handle(_ context.Context, b []byte) error { return h.fn(b) }

func newTestConsumer(t *testing.T, r *fakeReader, h MessageHandler, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	}, opts...)
	c, err := NewConsumer(opts...)
	require.NoError(t, err)
	c.newReader = func(string) fetcher { return r }
	c.RegisterHandler(h)
	return c
}

func stop(t *testing.T, c *Consumer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
}

func TestConsumerRequiresBrokersAndHandlers(t *testing.T) {
	_, err := NewConsumer()
	assert.Error(t, err)

	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}))
	require.NoError(t, err)
	assert.Error(t, c.Start())
	assert.NoError(t, c.Stop(context.Background()))
}

func TestConsumerKeepsPartitionOrder(t *testing.T) {
	var msgs []kafka.Message
	for i := 0; i < 20; i++ {
		msgs = append(msgs, kafka.Message{Partition: i % 2, Offset: int64(i), Value: []byte{byte(i)}})
	}
	r := newFakeReader(msgs...)

	var mu sync.Mutex
	seen := map[int][]byte{}
	c := newTestConsumer(t, r, funcHandler{topic: "live", fn: func(b []byte) error {
		mu.Lock()
		defer mu.Unlock()
		seen[int(b[0])%2] = append(seen[int(b[0])%2], b[0])
		return nil
	}}, WithConsumerWorkers(3))

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return len(r.commits()) == 20 }, 2*time.Second, 5*time.Millisecond)
	stop(t, c)

	for p, vals := range seen {
		for i := 1; i < len(vals); i++ {
			assert.Less(t, vals[i-1], vals[i], "partition %d out of order", p)
		}
	}
	assert.True(t, r.closed)
}

func TestConsumerRetriesThenCommits(t *testing.T) {
	r := newFakeReader(kafka.Message{Offset: 7, Value: []byte("x")})
	var calls int
	var mu sync.Mutex
	c := newTestConsumer(t, r, funcHandler{topic: "live", fn: func([]byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}})

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop(t, c)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{7}, r.commits())
}

func TestConsumerParksExhaustedMessages(t *testing.T) {
	r := newFakeReader(kafka.Message{Partition: 1, Offset: 3, Key: []byte("k"), Value: []byte("bad")})
	c := newTestConsumer(t, r, funcHandler{topic: "live", fn: func([]byte) error { return errors.New("poison") }})
	w := &fakeWriter{}
	c.dlq = w

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop(t, c)

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.msgs, 1)
	parked := w.msgs[0]
	assert.Equal(t, "bad", string(parked.Value))
	assert.Equal(t, "live", header(parked, "source_topic"))
	assert.Equal(t, "1", header(parked, "source_partition"))
	assert.Equal(t, "3", header(parked, "source_offset"))
	assert.Equal(t, "poison", header(parked, "error"))
}

func TestConsumerLeavesFailuresUncommittedWithoutDLQ(t *testing.T) {
	r := newFakeReader(kafka.Message{Offset: 1, Value: []byte("bad")})
	handled := make(chan struct{}, 8)
	c := newTestConsumer(t, r, funcHandler{topic: "live", fn: func([]byte) error {
		handled <- struct{}{}
		return errors.New("poison")
	}}, WithConsumerRetry(0, time.Millisecond, time.Millisecond))

	require.NoError(t, c.Start())
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	stop(t, c)
	assert.Empty(t, r.commits())
}

func TestConsumerHoldsPartitionAfterUnparkedFailure(t *testing.T) {
	r := newFakeReader(
		kafka.Message{Partition: 0, Offset: 1, Value: []byte("bad")},
		kafka.Message{Partition: 0, Offset: 2, Value: []byte("good")},
		kafka.Message{Partition: 1, Offset: 7, Value: []byte("good")},
	)
	var mu sync.Mutex
	var handled []string
	c := newTestConsumer(t, r, funcHandler{topic: "live", fn: func(b []byte) error {
		mu.Lock()
		handled = append(handled, string(b))
		mu.Unlock()
		if string(b) == "bad" {
			return errors.New("poison")
		}
		return nil
	}}, WithConsumerRetry(0, time.Millisecond, time.Millisecond))

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 3
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop(t, c)

	assert.Equal(t, []int64{7}, r.commits(), "partition 0 must not move past the failed offset")
}

func TestConsumerReleasesHoldWhenFailedOffsetSucceeds(t *testing.T) {
	c := &Consumer{held: map[partitionKey]int64{{"live", 0}: 5}}
	assert.True(t, c.isHeld(&Delivery{Topic: "live", Msg: kafka.Message{Partition: 0, Offset: 6}}))
	assert.False(t, c.isHeld(&Delivery{Topic: "live", Msg: kafka.Message{Partition: 1, Offset: 6}}))
	assert.False(t, c.isHeld(&Delivery{Topic: "live", Msg: kafka.Message{Partition: 0, Offset: 5}}))
	assert.False(t, c.isHeld(&Delivery{Topic: "live", Msg: kafka.Message{Partition: 0, Offset: 6}}))
}

func TestConsumerCommitsHookRejections(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r := newFakeReader(kafka.Message{Offset: 9, Time: now.Add(-time.Hour), Value: []byte("old")})
	called := false
	c := newTestConsumer(t, r, funcHandler{topic: "live", fn: func([]byte) error {
		called = true
		return nil
	}})
	c.WithConsumerHook(NewHookChain(TracingHook{}, MaxAgeHook{MaxAge: time.Minute, Now: func() time.Time { return now }}))

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop(t, c)
	assert.False(t, called)
}

func TestShardForIsStable(t *testing.T) {
	c := &Consumer{shards: make([]chan *Delivery, 4)}
	for p := 0; p < 8; p++ {
		s := c.shardFor("live", p)
		assert.Equal(t, s, c.shardFor("live", p))
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 4)
	}
}
