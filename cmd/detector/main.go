package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/quake-detector-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/quake-detector-service/internal/adapter/kafka"
	"github.com/couchcryptid/quake-detector-service/internal/adapter/mapbox"
	"github.com/couchcryptid/quake-detector-service/internal/config"
	"github.com/couchcryptid/quake-detector-service/internal/domain"
	"github.com/couchcryptid/quake-detector-service/internal/observability"
	"github.com/couchcryptid/quake-detector-service/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	// Geocoder is feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN.
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	router, err := pipeline.NewStationRouter(pipeline.RouterConfig{
		Default:     cfg.Detector,
		Profiles:    cfg.StationProfiles,
		EmitOngoing: cfg.EmitOngoing,
	}, geocoder, logger, metrics)
	if err != nil {
		logger.Error("invalid detector configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("detector configured",
		"threshold", cfg.Detector.Threshold,
		"release_threshold", cfg.Detector.ReleaseThreshold,
		"min_duration", cfg.Detector.MinDuration,
		"station_profiles", len(cfg.StationProfiles),
		"emit_ongoing", cfg.EmitOngoing,
	)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	p := pipeline.New(reader, router, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, router, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}

	for _, e := range router.OpenEvents() {
		logger.Info("event still open at shutdown",
			"event_id", e.ID, "station_id", e.StationID, "peak_magnitude", e.PeakMagnitude)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
