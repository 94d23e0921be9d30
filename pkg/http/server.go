package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"OhlcvAPI/pkg/http/middleware"
	applogger "OhlcvAPI/pkg/logger"
	"OhlcvAPI/pkg/ratelimit"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Paths that bypass rate limiting.
var unlimited = []string{"/health", "/metrics"}

type ServerOption func(*serverConfig)

type serverConfig struct {
	host            string
	port            int
	headerTimeout   time.Duration
	shutdownTimeout time.Duration
	slowThreshold   time.Duration
	cors            bool
	corsOrigins     []string
	metrics         bool
	log             *applogger.Logger
	limiter         *ratelimit.Limiter
}

// Server serves a Handler's routes behind the shared middleware chain:
// recover, request id, metrics, access log, CORS and rate limiting.
type Server struct {
	cfg  serverConfig
	echo *echo.Echo
	log  *applogger.Logger

	mu sync.Mutex
	ln net.Listener
}

func NewServer(handler Handler, opts ...ServerOption) *Server {
	cfg := serverConfig{
		host:            "0.0.0.0",
		port:            9000,
		headerTimeout:   10 * time.Second,
		shutdownTimeout: 10 * time.Second,
		slowThreshold:   time.Second,
		cors:            true,
		metrics:         true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = applogger.Nop()
	}

	s := &Server{
		cfg:  cfg,
		echo: echo.New(),
		log:  cfg.log.With(applogger.String("component", "http")),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	// WebSocket sessions outlive any body deadline, so only headers are bounded.
	s.echo.Server.ReadHeaderTimeout = cfg.headerTimeout
	s.echo.Use(s.chain()...)

	if handler != nil {
		handler.RegisterRoutes(s.echo)
	}
	if cfg.metrics {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}
	return s
}

func (s *Server) chain() []echo.MiddlewareFunc {
	mw := []echo.MiddlewareFunc{middleware.Recover(s.log), middleware.RequestID()}
	if s.cfg.metrics {
		mw = append(mw, middleware.Metrics(s.log, s.cfg.slowThreshold))
	}
	mw = append(mw, middleware.RequestLogging(s.log))
	if s.cfg.cors {
		mw = append(mw, middleware.CORS(middleware.CORSConfig{
			AllowOrigins:  s.cfg.corsOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodOptions},
			AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderAccept, echo.HeaderXRequestID},
			ExposeHeaders: []string{"X-Cache", echo.HeaderXRequestID, "Retry-After"},
			MaxAge:        3600,
		}))
	}
	if s.cfg.limiter != nil {
		mw = append(mw, middleware.RateLimit(s.cfg.limiter, unlimited...))
	}
	return mw
}

// Start binds synchronously so a taken port is reported to the caller,
// then serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.host, strconv.Itoa(s.cfg.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.log.Info("http server listening", applogger.String("addr", ln.Addr().String()))
	go func() {
		if err := s.echo.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", applogger.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests. Without a caller deadline the configured
// shutdown timeout applies.
func (s *Server) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && s.cfg.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.shutdownTimeout)
		defer cancel()
	}
	if err := s.echo.Server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

// Addr is empty until Start succeeds.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func WithHost(host string) ServerOption {
	return func(c *serverConfig) { c.host = host }
}

func WithPort(port int) ServerOption {
	return func(c *serverConfig) { c.port = port }
}

// WithTimeouts sets the request header read timeout and the graceful shutdown budget.
func WithTimeouts(header, shutdown time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.headerTimeout = header
		c.shutdownTimeout = shutdown
	}
}

// WithCORS toggles CORS. No origins means any origin is allowed.
func WithCORS(enabled bool, origins ...string) ServerOption {
	return func(c *serverConfig) {
		c.cors = enabled
		c.corsOrigins = origins
	}
}

// WithSlowThreshold sets the latency above which requests are logged as slow; 0 disables it.
func WithSlowThreshold(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.slowThreshold = d }
}

// WithMetrics toggles the Prometheus middleware and the /metrics route.
func WithMetrics(enabled bool) ServerOption {
	return func(c *serverConfig) { c.metrics = enabled }
}

func WithLogger(l *applogger.Logger) ServerOption {
	return func(c *serverConfig) { c.log = l }
}

// WithRateLimit enables per-client-IP limiting; nil disables it.
func WithRateLimit(l *ratelimit.Limiter) ServerOption {
	return func(c *serverConfig) { c.limiter = l }
}
