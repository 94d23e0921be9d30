package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	xhttp "OhlcvAPI/pkg/http"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pingHandler = xhttp.HandlerFunc(func(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
})

func TestRunContextLifecycle(t *testing.T) {
	srv := xhttp.NewServer(pingHandler, xhttp.WithHost("127.0.0.1"), xhttp.WithPort(0), xhttp.WithMetrics(false))

	var started, stopped atomic.Bool
	var order []string
	app := New(srv,
		WithBackground("worker", RunnerFunc(func(ctx context.Context) error {
			started.Store(true)
			<-ctx.Done()
			stopped.Store(true)
			return ctx.Err()
		})),
		WithCloser("first", CloserFunc(func() error { order = append(order, "first"); return nil })),
		WithCloser("second", CloserFunc(func() error { order = append(order, "second"); return nil })),
		WithShutdownTimeout(2*time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.RunContext(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" && started.Load() }, 2*time.Second, 10*time.Millisecond)
	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get("http://" + srv.Addr() + "/ping")
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunContext did not return")
	}
	assert.True(t, stopped.Load())
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestRunContextFailsWhenPortTaken(t *testing.T) {
	first := xhttp.NewServer(nil, xhttp.WithHost("127.0.0.1"), xhttp.WithPort(0), xhttp.WithMetrics(false))
	require.NoError(t, first.Start())
	defer first.Stop(context.Background())

	_, portStr, err := net.SplitHostPort(first.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	closed := false
	second := xhttp.NewServer(nil, xhttp.WithHost("127.0.0.1"), xhttp.WithPort(port), xhttp.WithMetrics(false))
	app := New(second, WithCloser("res", CloserFunc(func() error { closed = true; return nil })))
	assert.Error(t, app.RunContext(context.Background()))
	assert.True(t, closed)
}

func TestEveryTicksUntilCancelled(t *testing.T) {
	var n atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Every(5*time.Millisecond, func() { n.Add(1) }).Run(ctx) }()

	require.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
