package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegisterer(reg)

	r.RecordError("storage")
	r.RecordError("storage")
	r.SetConnections(3)
	r.SetSubscriptions(2)
	r.RecordBroadcast("ohlcv_live", 4)
	r.RecordBroadcast("ohlcv_live", 1)
	r.RecordSendFailure()
	r.RecordLatency("fetch_ohlcv", 0.02)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("storage")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.subscriptions))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.broadcasts.WithLabelValues("ohlcv_live")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.delivered.WithLabelValues("ohlcv_live")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sendFailures))

	n, err := testutil.GatherAndCount(reg, "ohlcv_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewWithRegistererTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewWithRegisterer(reg)
	assert.Panics(t, func() { NewWithRegisterer(reg) })
}
