package realtime

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"OhlcvAPI/internal/domain/market"
	domrepo "OhlcvAPI/internal/domain/repository"
	applogger "OhlcvAPI/pkg/logger"
)

// ErrConnectionGone is returned by a Sender whose transport is already closed.
// The manager absorbs it; callers never see it.
var ErrConnectionGone = errors.New("connection gone")

// ConnID is an opaque handle for a registered connection.
type ConnID uint64

// Sender delivers one encoded frame to a client.
// Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg []byte) error
}

type connection struct {
	sender Sender
	keys   map[market.SubscriptionKey]struct{}
}

// Manager tracks live connections and their subscriptions.
//
// Two indexes are kept under one mutex: connection -> keys and key -> connections.
// A key with no subscribers is removed, so Subscriptions() counts only live keys.
// No method blocks on network I/O while holding the lock.
type Manager struct {
	mu    sync.Mutex
	conns map[ConnID]*connection
	subs  map[market.SubscriptionKey]map[ConnID]struct{}
	next  atomic.Uint64

	log     *applogger.Logger
	metrics domrepo.Metrics
}

type Option func(*Manager)

func WithLogger(l *applogger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithMetrics(mx domrepo.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		conns: make(map[ConnID]*connection),
		subs:  make(map[market.SubscriptionKey]map[ConnID]struct{}),
		log:   applogger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect registers a sender and returns its handle.
func (m *Manager) Connect(s Sender) ConnID {
	id := ConnID(m.next.Add(1))
	m.mu.Lock()
	m.conns[id] = &connection{sender: s, keys: make(map[market.SubscriptionKey]struct{})}
	n := len(m.conns)
	m.mu.Unlock()

	m.gauges(n, -1)
	m.log.Debug("ws connected", applogger.Uint64("conn_id", uint64(id)), applogger.Int("connections", n))
	return id
}

// Subscribe adds key to the connection. Repeating it is a no-op.
// It reports false when the connection is not registered.
func (m *Manager) Subscribe(id ConnID, key market.SubscriptionKey) bool {
	m.mu.Lock()
	c, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	c.keys[key] = struct{}{}
	set, ok := m.subs[key]
	if !ok {
		set = make(map[ConnID]struct{})
		m.subs[key] = set
	}
	set[id] = struct{}{}
	n := len(m.subs)
	m.mu.Unlock()

	m.gauges(-1, n)
	return true
}

// Unsubscribe removes key from the connection. Unknown keys and connections are ignored.
func (m *Manager) Unsubscribe(id ConnID, key market.SubscriptionKey) {
	m.mu.Lock()
	if c, ok := m.conns[id]; ok {
		delete(c.keys, key)
	}
	m.dropLocked(id, key)
	n := len(m.subs)
	m.mu.Unlock()

	m.gauges(-1, n)
}

// dropLocked removes id from key's subscriber set and prunes the set when empty.
func (m *Manager) dropLocked(id ConnID, key market.SubscriptionKey) {
	set, ok := m.subs[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m.subs, key)
	}
}

// Disconnect removes the connection and all of its subscriptions. Safe to call more than once.
func (m *Manager) Disconnect(id ConnID) {
	m.mu.Lock()
	c, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	for key := range c.keys {
		m.dropLocked(id, key)
	}
	delete(m.conns, id)
	nc, ns := len(m.conns), len(m.subs)
	m.mu.Unlock()

	m.gauges(nc, ns)
	m.log.Debug("ws disconnected", applogger.Uint64("conn_id", uint64(id)), applogger.Int("connections", nc))
}

type target struct {
	id     ConnID
	sender Sender
}

// Broadcast sends msg to every subscriber of key and returns how many received it.
// Subscribers whose send fails are disconnected and their transport closed.
func (m *Manager) Broadcast(ctx context.Context, key market.SubscriptionKey, msg []byte) int {
	m.mu.Lock()
	set := m.subs[key]
	targets := make([]target, 0, len(set))
	for id := range set {
		targets = append(targets, target{id: id, sender: m.conns[id].sender})
	}
	m.mu.Unlock()

	delivered := 0
	var failed []target
	for _, t := range targets {
		if err := t.sender.Send(ctx, msg); err != nil {
			failed = append(failed, t)
			if !errors.Is(err, ErrConnectionGone) {
				m.log.Warn("ws send failed",
					applogger.Uint64("conn_id", uint64(t.id)),
					applogger.String("key", key.String()),
					applogger.Error(err),
				)
			}
			continue
		}
		delivered++
	}

	for _, t := range failed {
		m.Disconnect(t.id)
		closeSender(t.sender)
		if m.metrics != nil {
			m.metrics.RecordSendFailure()
		}
	}
	if m.metrics != nil && len(targets) > 0 {
		_, _, _, feed, _ := key.Parts()
		m.metrics.RecordBroadcast(string(feed), delivered)
	}
	return delivered
}

// SendTo delivers msg to one connection. Unknown or closed connections are a silent no-op.
func (m *Manager) SendTo(ctx context.Context, id ConnID, msg []byte) bool {
	m.mu.Lock()
	c, ok := m.conns[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if err := c.sender.Send(ctx, msg); err != nil {
		if !errors.Is(err, ErrConnectionGone) {
			m.log.Debug("ws unicast failed", applogger.Uint64("conn_id", uint64(id)), applogger.Error(err))
		}
		return false
	}
	return true
}

// Connections returns the number of registered connections.
func (m *Manager) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Subscriptions returns the number of keys with at least one subscriber.
func (m *Manager) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Subscribers returns the number of connections subscribed to key.
func (m *Manager) Subscribers(key market.SubscriptionKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[key])
}

// KeysOf returns the connection's keys in sorted order, or nil if unknown.
func (m *Manager) KeysOf(id ConnID) []market.SubscriptionKey {
	m.mu.Lock()
	c, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	keys := make([]market.SubscriptionKey, 0, len(c.keys))
	for k := range c.keys {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// CloseAll disconnects every connection and closes its transport. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	targets := make([]target, 0, len(m.conns))
	for id, c := range m.conns {
		targets = append(targets, target{id: id, sender: c.sender})
	}
	m.mu.Unlock()

	for _, t := range targets {
		m.Disconnect(t.id)
		closeSender(t.sender)
	}
}

func (m *Manager) gauges(conns, subs int) {
	if m.metrics == nil {
		return
	}
	if conns >= 0 {
		m.metrics.SetConnections(conns)
	}
	if subs >= 0 {
		m.metrics.SetSubscriptions(subs)
	}
}

func closeSender(s Sender) {
	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}
}
