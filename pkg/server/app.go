package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	xhttp "OhlcvAPI/pkg/http"
	pkgkafka "OhlcvAPI/pkg/kafka"
	applogger "OhlcvAPI/pkg/logger"
)

// Runner is a background component that runs until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }

// Every returns a Runner that calls fn on each tick until cancelled.
func Every(interval time.Duration, fn func()) Runner {
	return RunnerFunc(func(ctx context.Context) error {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				fn()
			}
		}
	})
}

type namedRunner struct {
	name string
	r    Runner
}

type namedCloser struct {
	name string
	c    io.Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	httpServer      *xhttp.Server
	consumer        *pkgkafka.Consumer
	runners         []namedRunner
	closers         []namedCloser
	shutdownTimeout time.Duration
	log             *applogger.Logger
	wg              sync.WaitGroup
}

// Option configures App.
type Option func(*App)

// WithConsumer starts c with the app and stops it on shutdown. Handlers must already be registered.
func WithConsumer(c *pkgkafka.Consumer) Option {
	return func(a *App) { a.consumer = c }
}

// WithBackground runs r in its own goroutine until shutdown.
func WithBackground(name string, r Runner) Option {
	return func(a *App) {
		if r != nil {
			a.runners = append(a.runners, namedRunner{name: name, r: r})
		}
	}
}

// WithCloser closes c after everything else has stopped. Closers run in reverse registration order.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		if c != nil {
			a.closers = append(a.closers, namedCloser{name: name, c: c})
		}
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) { a.shutdownTimeout = d }
}

func WithLogger(l *applogger.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// New creates a new App around the HTTP server.
func New(httpServer *xhttp.Server, opts ...Option) *App {
	a := &App{
		httpServer:      httpServer,
		shutdownTimeout: 10 * time.Second,
		log:             applogger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Addr is the HTTP listen address once the app is running.
func (a *App) Addr() string { return a.httpServer.Addr() }

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and shuts down once ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	if err := a.httpServer.Start(); err != nil {
		a.closeAll()
		return err
	}

	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer start failed", applogger.Error(err))
			a.consumer = nil
		} else {
			a.log.Info("kafka consumer started")
		}
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, nr := range a.runners {
		nr := nr
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.log.Info("background component started", applogger.String("name", nr.name))
			if err := nr.r.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("background component failed", applogger.String("name", nr.name), applogger.Error(err))
			}
		}()
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("background components did not stop in time")
		errs = append(errs, ctx.Err())
	}

	a.closeAll()
	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			a.log.Warn("close error", applogger.String("name", nc.name), applogger.Error(err))
		}
	}
}
