package middleware

import (
	"strconv"
	"strings"
	"sync"
	"time"

	applogger "OhlcvAPI/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	size     *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
	upgrades *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	hm          *httpMetrics
)

func loadMetrics() *httpMetrics {
	metricsOnce.Do(func() {
		hm = &httpMetrics{
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ohlcv_http_requests_total",
				Help: "HTTP requests by route template and status",
			}, []string{"route", "method", "status"}),
			duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "ohlcv_http_request_duration_seconds",
				Help:    "HTTP request latency; cache is the X-Cache outcome when the route sets one",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			}, []string{"route", "class", "cache"}),
			size: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "ohlcv_http_response_size_bytes",
				Help:    "HTTP response size",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			}, []string{"route"}),
			inFlight: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "ohlcv_http_in_flight_requests",
				Help: "Requests currently being served, WebSocket sessions excluded",
			}, []string{"route"}),
			upgrades: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ohlcv_http_websocket_upgrades_total",
				Help: "WebSocket upgrade attempts by status",
			}, []string{"route", "status"}),
		}
	})
	return hm
}

// Metrics records request metrics labelled by the route template (c.Path()), so
// parameterised paths do not blow up cardinality. WebSocket upgrades are only counted;
// their sessions would skew the latency histograms. Slow requests are logged.
func Metrics(l *applogger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	m := loadMetrics()
	if l == nil {
		l = applogger.Nop()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}

			if isUpgrade(c) {
				err := next(c)
				if err != nil {
					c.Error(err)
				}
				m.upgrades.WithLabelValues(route, strconv.Itoa(c.Response().Status)).Inc()
				return nil
			}

			m.inFlight.WithLabelValues(route).Inc()
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			took := time.Since(start)
			m.inFlight.WithLabelValues(route).Dec()

			res := c.Response()
			status := strconv.Itoa(res.Status)
			cacheOutcome := strings.ToLower(res.Header().Get("X-Cache"))
			m.requests.WithLabelValues(route, c.Request().Method, status).Inc()
			m.duration.WithLabelValues(route, statusClass(res.Status), cacheOutcome).Observe(took.Seconds())
			m.size.WithLabelValues(route).Observe(float64(res.Size))

			if slowThreshold > 0 && took >= slowThreshold {
				l.Warn("http request slow",
					applogger.String("route", route),
					applogger.String("status", status),
					applogger.String("cache", cacheOutcome),
					applogger.Duration("duration_ms", took),
					applogger.Int64("bytes", res.Size),
				)
			}
			return nil
		}
	}
}

func isUpgrade(c echo.Context) bool {
	return strings.EqualFold(c.Request().Header.Get(echo.HeaderUpgrade), "websocket")
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "5xx"
	}
	return strconv.Itoa(code/100) + "xx"
}
