package feed

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectHandler struct {
	mu   sync.Mutex
	msgs []string
}

func (h *collectHandler) Topic() string { return "live" }

func (h *collectHandler) Handle(_ context.Context, b []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, string(b))
	return nil
}

func (h *collectHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

func TestRunRequiresChannels(t *testing.T) {
	s := NewRedisSource(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), nil, &collectHandler{}, nil)
	assert.Error(t, s.Run(context.Background()))
}

// Needs a live Redis; set REDIS_ADDR to run.
func TestRedisSourceDelivers(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	h := &collectHandler{}
	src := NewRedisSource(client, []string{"ohlcv.live.*"}, h, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := client.Publish(context.Background(), "ohlcv.live.binance", `{"exchange":"binance"}`).Result()
		return err == nil && n > 0
	}, 3*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool { return h.count() > 0 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
