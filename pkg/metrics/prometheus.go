package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	connections   prometheus.Gauge
	subscriptions prometheus.Gauge
	broadcasts    *prometheus.CounterVec
	delivered     *prometheus.CounterVec
	sendFailures  prometheus.Counter
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder on reg. Tests pass a fresh prometheus.NewRegistry().
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ohlcv_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ohlcv_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "ohlcv_ws_connections",
			Help: "Open WebSocket connections",
		}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Name: "ohlcv_ws_subscriptions",
			Help: "Distinct subscription keys with at least one subscriber",
		}),
		broadcasts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ohlcv_broadcasts_total",
				Help: "Live updates broadcast, by feed type",
			},
			[]string{"feed"},
		),
		delivered: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ohlcv_broadcast_deliveries_total",
				Help: "Frames delivered to subscribers, by feed type",
			},
			[]string{"feed"},
		),
		sendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ohlcv_ws_send_failures_total",
			Help: "WebSocket sends that failed and dropped the connection",
		}),
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) SetConnections(n int) {
	r.connections.Set(float64(n))
}

func (r *Recorder) SetSubscriptions(n int) {
	r.subscriptions.Set(float64(n))
}

// RecordBroadcast counts one broadcast and the number of subscribers it reached.
func (r *Recorder) RecordBroadcast(feed string, delivered int) {
	r.broadcasts.WithLabelValues(feed).Inc()
	r.delivered.WithLabelValues(feed).Add(float64(delivered))
}

func (r *Recorder) RecordSendFailure() {
	r.sendFailures.Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordError(string)           {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) SetConnections(int)           {}
func (Nop) SetSubscriptions(int)         {}
func (Nop) RecordBroadcast(string, int)  {}
func (Nop) RecordSendFailure()           {}
