package usecase

import (
	"time"

	domrepo "OhlcvAPI/internal/domain/repository"
	applogger "OhlcvAPI/pkg/logger"
)

type options struct {
	now     func() time.Time
	log     *applogger.Logger
	metrics domrepo.Metrics
}

// Option configures the market data use cases.
type Option func(*options)

// WithClock overrides time.Now, used by tests to pin "recent" windows.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(l *applogger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func WithMetrics(m domrepo.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, log: applogger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
