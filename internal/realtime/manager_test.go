package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OhlcvAPI/internal/domain/market"
)

type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
	closed bool
}

func (f *fakeSender) Send(_ context.Context, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, append([]byte(nil), msg...))
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type countingMetrics struct {
	mu           sync.Mutex
	conns, subs  int
	broadcasts   int
	sendFailures int
}

func (c *countingMetrics) RecordError(string)            {}
func (c *countingMetrics) RecordLatency(string, float64) {}
func (c *countingMetrics) SetConnections(n int)          { c.mu.Lock(); c.conns = n; c.mu.Unlock() }
func (c *countingMetrics) SetSubscriptions(n int)        { c.mu.Lock(); c.subs = n; c.mu.Unlock() }
func (c *countingMetrics) RecordBroadcast(string, int)   { c.mu.Lock(); c.broadcasts++; c.mu.Unlock() }
func (c *countingMetrics) RecordSendFailure()            { c.mu.Lock(); c.sendFailures++; c.mu.Unlock() }

var btcKey = market.MakeKey("binance", "BTC/USDT", "1m", market.FeedOHLCVLive)

func TestSubscribeIsIdempotent(t *testing.T) {
	m := NewManager()
	id := m.Connect(&fakeSender{})

	require.True(t, m.Subscribe(id, btcKey))
	require.True(t, m.Subscribe(id, btcKey))

	assert.Equal(t, 1, m.Subscribers(btcKey))
	assert.Equal(t, []market.SubscriptionKey{btcKey}, m.KeysOf(id))
}

func TestSubscribeUnknownConnection(t *testing.T) {
	m := NewManager()
	assert.False(t, m.Subscribe(ConnID(42), btcKey))
	assert.Equal(t, 0, m.Subscriptions())
}

func TestUnsubscribePrunesEmptyKey(t *testing.T) {
	m := NewManager()
	a := m.Connect(&fakeSender{})
	b := m.Connect(&fakeSender{})
	m.Subscribe(a, btcKey)
	m.Subscribe(b, btcKey)

	m.Unsubscribe(a, btcKey)
	assert.Equal(t, 1, m.Subscribers(btcKey))
	assert.Equal(t, 1, m.Subscriptions())

	m.Unsubscribe(b, btcKey)
	assert.Equal(t, 0, m.Subscriptions())

	// not held, unknown connection: both no-ops
	m.Unsubscribe(a, btcKey)
	m.Unsubscribe(ConnID(999), btcKey)
	assert.Equal(t, 0, m.Subscriptions())
}

func TestDisconnectCleansEveryKey(t *testing.T) {
	m := NewManager()
	a := m.Connect(&fakeSender{})
	b := m.Connect(&fakeSender{})
	ethKey := market.MakeKey("binance", "ETH/USDT", "5m", market.FeedCandleLive)
	m.Subscribe(a, btcKey)
	m.Subscribe(a, ethKey)
	m.Subscribe(b, btcKey)

	m.Disconnect(a)
	assert.Nil(t, m.KeysOf(a))
	assert.Equal(t, 1, m.Subscribers(btcKey))
	assert.Equal(t, 0, m.Subscribers(ethKey))
	assert.Equal(t, 1, m.Subscriptions(), "eth key pruned")
	assert.Equal(t, 1, m.Connections())

	m.Disconnect(a)
	assert.Equal(t, 1, m.Connections())
}

func TestBroadcastExactKey(t *testing.T) {
	m := NewManager()
	s := &fakeSender{}
	other := &fakeSender{}
	id := m.Connect(s)
	oid := m.Connect(other)
	m.Subscribe(id, btcKey)
	m.Subscribe(oid, market.MakeKey("binance", "BTC/USDT", "5m", market.FeedOHLCVLive))

	n := m.Broadcast(context.Background(), btcKey, []byte(`{"type":"ohlcv_update"}`))
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.count())
	assert.Equal(t, 0, other.count())
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	mx := &countingMetrics{}
	m := NewManager(WithMetrics(mx))
	good1, bad, good2 := &fakeSender{}, &fakeSender{err: errors.New("broken pipe")}, &fakeSender{}
	ids := []ConnID{m.Connect(good1), m.Connect(bad), m.Connect(good2)}
	for _, id := range ids {
		m.Subscribe(id, btcKey)
	}

	n := m.Broadcast(context.Background(), btcKey, []byte("x"))
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, good1.count())
	assert.Equal(t, 1, good2.count())

	assert.Equal(t, 2, m.Subscribers(btcKey), "failed sender dropped")
	assert.Nil(t, m.KeysOf(ids[1]))
	assert.True(t, bad.closed)
	assert.Equal(t, 1, mx.sendFailures)
	assert.Equal(t, 1, mx.broadcasts)
	assert.Equal(t, 2, mx.conns)
}

func TestBroadcastWithoutSubscribers(t *testing.T) {
	m := NewManager()
	assert.Equal(t, 0, m.Broadcast(context.Background(), btcKey, []byte("x")))
}

func TestSendToIsSilentForGoneConnections(t *testing.T) {
	m := NewManager()
	s := &fakeSender{}
	id := m.Connect(s)
	assert.True(t, m.SendTo(context.Background(), id, []byte("hi")))

	m.Disconnect(id)
	assert.False(t, m.SendTo(context.Background(), id, []byte("hi")))
	assert.False(t, m.SendTo(context.Background(), ConnID(12345), []byte("hi")))

	gone := m.Connect(&fakeSender{err: ErrConnectionGone})
	assert.False(t, m.SendTo(context.Background(), gone, []byte("hi")))
	assert.Equal(t, 1, s.count())
}

func TestConcurrentChurn(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := m.Connect(&fakeSender{})
			for j := 0; j < 50; j++ {
				m.Subscribe(id, btcKey)
				m.Broadcast(context.Background(), btcKey, []byte("x"))
				m.Unsubscribe(id, btcKey)
			}
			m.Disconnect(id)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, m.Connections())
	assert.Equal(t, 0, m.Subscriptions())
}

func TestCloseAll(t *testing.T) {
	m := NewManager()
	s := &fakeSender{}
	id := m.Connect(s)
	m.Subscribe(id, btcKey)

	m.CloseAll()
	assert.Equal(t, 0, m.Connections())
	assert.Equal(t, 0, m.Subscriptions())
	assert.True(t, s.closed)
}
