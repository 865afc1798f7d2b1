package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-detector-service/internal/config"
)

func TestNewMetrics_RegistersOnDefaultRegistry(t *testing.T) {
	origReg := prometheus.DefaultRegisterer
	origGatherer := prometheus.DefaultGatherer
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGatherer
	})

	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := NewMetrics()
	m.ReadingsConsumed.Add(3)
	m.SignalsEmitted.WithLabelValues("started").Inc()
	m.ReadingsRejected.WithLabelValues("out_of_order").Inc()

	assert.InDelta(t, 3, testutil.ToFloat64(m.ReadingsConsumed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SignalsEmitted.WithLabelValues("started")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "quake_detector_readings_consumed_total")
	assert.Contains(t, names, "quake_detector_signals_emitted_total")
	assert.Contains(t, names, "quake_detector_readings_rejected_total")
}

func TestNewMetricsForTesting_DoesNotRegister(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()
	a.OpenEvents.Set(2)
	b.OpenEvents.Set(5)

	assert.InDelta(t, 2, testutil.ToFloat64(a.OpenEvents), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(b.OpenEvents), 0)
}

func TestNewLogger_Level(t *testing.T) {
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })

	logger := NewLogger(&config.Config{LogLevel: "warn", LogFormat: "json"})
	require.NotNil(t, logger)
	ctx := context.Background()
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))
	assert.Same(t, logger, slog.Default())
}

func TestNewLogger_DefaultsToInfo(t *testing.T) {
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })

	logger := NewLogger(&config.Config{LogLevel: "nonsense", LogFormat: "text"})
	ctx := context.Background()
	assert.False(t, logger.Enabled(ctx, slog.LevelDebug))
	assert.True(t, logger.Enabled(ctx, slog.LevelInfo))
}
