package di

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"OhlcvAPI/pkg/cache"
	"OhlcvAPI/pkg/config"
	applogger "OhlcvAPI/pkg/logger"
	"OhlcvAPI/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 0
	cfg.Metrics.Enabled = false
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "ohlcv.db")
	return cfg
}

func TestProvideCacheBackends(t *testing.T) {
	cfg := testConfig(t)

	cfg.Cache.Backend = "none"
	c, err := ProvideCache(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	cfg.Cache.Backend = "memory"
	c, err = ProvideCache(cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &cache.MemoryCache{}, c)
	require.NoError(t, c.Close())
}

func TestProvideMetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	assert.Equal(t, metrics.Nop{}, ProvideMetrics(cfg))
}

func TestOptionalComponentsAreNilWhenDisabled(t *testing.T) {
	cfg := testConfig(t)
	log := applogger.Nop()

	rc, err := ProvideRedisClient(cfg)
	require.NoError(t, err)
	assert.Nil(t, rc)

	pub, err := ProvideLogPublisher(cfg, log)
	require.NoError(t, err)
	assert.Nil(t, pub)

	h := ProvideLiveUpdatesHandler(ProvideLivePipeline(ProvideHub(log, metrics.Nop{}), cfg, log, metrics.Nop{}), cfg, metrics.Nop{})
	consumer, err := ProvideLiveConsumer(cfg, h, log)
	require.NoError(t, err)
	assert.Nil(t, consumer)
	assert.Nil(t, ProvideRedisSource(cfg, nil, h, log))

	cfg.API.RateLimit.Enabled = false
	assert.Nil(t, ProvideLimiter(cfg))
}

func TestInitializeAppServesHealth(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Prefix = "/market"

	app, err := InitializeApp(cfg, applogger.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunContext(ctx) }()

	require.Eventually(t, func() bool { return app.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + app.Addr() + "/market/health")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + app.Addr() + "/health")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}
