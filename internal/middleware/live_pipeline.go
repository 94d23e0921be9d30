package middleware

import (
	"context"
	"sync"
	"time"

	"OhlcvAPI/internal/domain/market"
	"OhlcvAPI/internal/domain/models"
	domrepo "OhlcvAPI/internal/domain/repository"
	"OhlcvAPI/internal/usecase"
)

// LivePipeline sits between the live sources and the broadcaster.
// It validates updates and throttles in-progress candles per subscription key;
// final candles and trades always pass.
type LivePipeline struct {
	next    usecase.LivePublisher
	metrics domrepo.Metrics
	maxRPS  int
	now     func() time.Time

	mu       sync.Mutex
	lastSeen map[market.SubscriptionKey]time.Time // per-key last accepted time
}

type PipelineOption func(*LivePipeline)

// WithMaxRPS sets the max non-final updates per second per key. 0 disables throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(p *LivePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *LivePipeline) { p.now = now }
}

func NewLivePipeline(next usecase.LivePublisher, metrics domrepo.Metrics, opts ...PipelineOption) *LivePipeline {
	p := &LivePipeline{
		next:     next,
		metrics:  metrics,
		maxRPS:   10, // default throttle per key
		now:      time.Now,
		lastSeen: make(map[market.SubscriptionKey]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish validates, throttles and forwards m. A throttled update returns (0, nil).
func (p *LivePipeline) Publish(ctx context.Context, m *models.LiveMessage) (int, error) {
	start := p.now()
	feed, err := usecase.ValidateLiveMessage(m)
	if err != nil {
		p.recordError("pipeline_validate")
		return 0, err
	}

	key := usecase.UpdateKey(m)
	throttled := feed != market.FeedTradeLive && !m.Final && !p.allow(key, start)
	if m.Final {
		p.forget(key)
	}
	if throttled {
		p.recordError("pipeline_throttle")
		return 0, nil
	}

	n, err := p.next.Publish(ctx, m)
	if err != nil {
		p.recordError("pipeline_publish")
		return n, err
	}
	if p.metrics != nil {
		p.metrics.RecordLatency("pipeline_publish", time.Since(start).Seconds())
	}
	return n, nil
}

func (p *LivePipeline) allow(key market.SubscriptionKey, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastSeen[key]
	if ok && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[key] = now
	return true
}

// forget resets the throttle so the first update of the next candle always passes.
func (p *LivePipeline) forget(key market.SubscriptionKey) {
	p.mu.Lock()
	delete(p.lastSeen, key)
	p.mu.Unlock()
}

// Prune drops throttle entries for keys silent for longer than idle, e.g. feeds
// that never send a final candle or symbols that stopped trading. It returns
// the number removed.
func (p *LivePipeline) Prune(idle time.Duration) int {
	cutoff := p.now().Add(-idle)
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k, last := range p.lastSeen {
		if last.Before(cutoff) {
			delete(p.lastSeen, k)
			n++
		}
	}
	return n
}

// Len is the number of keys currently throttled.
func (p *LivePipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lastSeen)
}

func (p *LivePipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}
