package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-detector-service/internal/detector"
	"github.com/couchcryptid/quake-detector-service/internal/domain"
	"github.com/couchcryptid/quake-detector-service/internal/observability"
	"github.com/couchcryptid/quake-detector-service/internal/pipeline"
)

type stubGeocoder struct {
	result domain.GeocodingResult
	err    error
	calls  int
}

func (s *stubGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.GeocodingResult, error) {
	s.calls++
	return s.result, s.err
}

func TestNewStationRouter_RejectsInvalidConfig(t *testing.T) {
	metrics := observability.NewMetricsForTesting()

	_, err := pipeline.NewStationRouter(pipeline.RouterConfig{
		Default: detector.Config{Threshold: 1, ReleaseThreshold: 2, MinDuration: 1},
	}, nil, discardLogger(), metrics)
	require.ErrorIs(t, err, detector.ErrInvalidConfig)

	cfg := defaultRouterConfig()
	cfg.Profiles = map[string]detector.Config{"ST09": {Threshold: 5, ReleaseThreshold: 2, MinDuration: 0}}
	_, err = pipeline.NewStationRouter(cfg, nil, discardLogger(), metrics)
	require.ErrorIs(t, err, detector.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "ST09")
}

func TestStationRouter_Route_NoChangeNotPublished(t *testing.T) {
	r := newRouter(t, defaultRouterConfig(), nil, observability.NewMetricsForTesting())

	_, publish, err := r.Route(context.Background(), rawReading(t, "ST01", 0, 1))
	require.NoError(t, err)
	assert.False(t, publish)
}

func TestStationRouter_Route_ParseError(t *testing.T) {
	r := newRouter(t, defaultRouterConfig(), nil, observability.NewMetricsForTesting())

	_, _, err := r.Route(context.Background(), domain.RawMessage{Value: []byte(`{"station_id":"ST01"}`)})
	require.ErrorIs(t, err, pipeline.ErrParse)
	assert.Zero(t, r.Stations(), "no detector for a reading that never parsed")
}

func TestStationRouter_Route_OutOfOrder(t *testing.T) {
	r := newRouter(t, defaultRouterConfig(), nil, observability.NewMetricsForTesting())

	_, _, err := r.Route(context.Background(), rawReading(t, "ST01", 5, 1))
	require.NoError(t, err)
	_, _, err = r.Route(context.Background(), rawReading(t, "ST01", 4, 1))
	require.ErrorIs(t, err, detector.ErrOutOfOrderReading)
	assert.False(t, errors.Is(err, pipeline.ErrParse))
}

func TestStationRouter_Route_UsesStationProfile(t *testing.T) {
	cfg := defaultRouterConfig()
	cfg.Profiles = map[string]detector.Config{
		"ST02": {Threshold: 9, ReleaseThreshold: 4, MinDuration: 1},
	}
	r := newRouter(t, cfg, nil, observability.NewMetricsForTesting())
	ctx := context.Background()

	// 6 is enough for the default after two readings but not for ST02.
	for sec := 0; sec < 2; sec++ {
		_, publish, err := r.Route(ctx, rawReading(t, "ST02", sec, 6))
		require.NoError(t, err)
		assert.False(t, publish)
	}

	out, publish, err := r.Route(ctx, rawReading(t, "ST02", 2, 9))
	require.NoError(t, err)
	require.True(t, publish)
	assert.Equal(t, "started", out.Headers["signal"])

	// 4 releases ST02; the default detector would stay active until 2.
	out, publish, err = r.Route(ctx, rawReading(t, "ST02", 3, 4))
	require.NoError(t, err)
	require.True(t, publish)
	assert.Equal(t, "ended", out.Headers["signal"])
}

func TestStationRouter_Route_EnrichesWithGeocoding(t *testing.T) {
	now := time.Date(2024, time.April, 27, 6, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { domain.SetClock(nil) })

	geo := &stubGeocoder{result: domain.GeocodingResult{
		FormattedAddress: "Norman, Oklahoma, United States",
		PlaceName:        "Norman",
		Confidence:       0.97,
	}}
	cfg := defaultRouterConfig()
	cfg.Default.MinDuration = 1
	r := newRouter(t, cfg, geo, observability.NewMetricsForTesting())

	data, err := domain.EncodeReading(domain.Reading{
		StationID: "OK032",
		Timestamp: baseTime,
		Magnitude: 6.1,
		Geo:       domain.Geo{Lat: 35.2226, Lon: -97.4395},
	})
	require.NoError(t, err)

	out, publish, err := r.Route(context.Background(), domain.RawMessage{Value: data})
	require.NoError(t, err)
	require.True(t, publish)

	var d domain.Detection
	require.NoError(t, json.Unmarshal(out.Value, &d))
	assert.Equal(t, "reverse", d.GeoSource)
	assert.Equal(t, "Norman", d.PlaceName)
	assert.Equal(t, domain.EventID("OK032", baseTime), d.EventID)
	assert.Equal(t, now, d.EmittedAt)
	assert.Equal(t, 1, geo.calls)
}

func TestStationRouter_Route_GeocodingFailureStillPublishes(t *testing.T) {
	geo := &stubGeocoder{err: errors.New("timeout")}
	cfg := defaultRouterConfig()
	cfg.Default.MinDuration = 1
	r := newRouter(t, cfg, geo, observability.NewMetricsForTesting())

	data, err := domain.EncodeReading(domain.Reading{
		StationID: "OK032", Timestamp: baseTime, Magnitude: 6.1,
		Geo: domain.Geo{Lat: 35.2226, Lon: -97.4395},
	})
	require.NoError(t, err)

	out, publish, err := r.Route(context.Background(), domain.RawMessage{Value: data})
	require.NoError(t, err)
	require.True(t, publish)
	assert.Contains(t, string(out.Value), `"geo_source":"failed"`)
}

func TestStationRouter_OpenEvents(t *testing.T) {
	cfg := defaultRouterConfig()
	cfg.Default.MinDuration = 1
	r := newRouter(t, cfg, nil, observability.NewMetricsForTesting())
	ctx := context.Background()

	for _, station := range []string{"ST03", "ST01", "ST02"} {
		_, _, err := r.Route(ctx, rawReading(t, station, 0, 7))
		require.NoError(t, err)
	}
	_, _, err := r.Route(ctx, rawReading(t, "ST02", 1, 1))
	require.NoError(t, err)

	events := r.OpenEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "ST01", events[0].StationID)
	assert.Equal(t, "ST03", events[1].StationID)
	assert.True(t, events[0].Open())
	assert.Equal(t, 3, r.Stations())
}

// blockingGeocoder calls during while the router is inside a lookup.
type blockingGeocoder struct {
	during func()
}

func (b *blockingGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.GeocodingResult, error) {
	b.during()
	return domain.GeocodingResult{FormattedAddress: "Norman, Oklahoma", PlaceName: "Norman"}, nil
}

func TestStationRouter_Route_GeocodesWithoutHoldingLock(t *testing.T) {
	cfg := defaultRouterConfig()
	cfg.Default.MinDuration = 1
	var r *pipeline.StationRouter
	var seen []domain.Event
	geo := &blockingGeocoder{during: func() {
		done := make(chan []domain.Event, 1)
		go func() { done <- r.OpenEvents() }()
		select {
		case seen = <-done:
		case <-time.After(time.Second):
			t.Error("OpenEvents blocked while geocoding")
		}
	}}
	r = newRouter(t, cfg, geo, observability.NewMetricsForTesting())

	data, err := domain.EncodeReading(domain.Reading{
		StationID: "OK032", Timestamp: baseTime, Magnitude: 6.1,
		Geo: domain.Geo{Lat: 35.2226, Lon: -97.4395},
	})
	require.NoError(t, err)

	_, publish, err := r.Route(context.Background(), domain.RawMessage{Value: data})
	require.NoError(t, err)
	require.True(t, publish)
	require.Len(t, seen, 1, "event is visible while its detection is enriched")
	assert.Equal(t, "OK032", seen[0].StationID)
}

func TestStationRouter_RouteReading(t *testing.T) {
	cfg := defaultRouterConfig()
	cfg.Default.MinDuration = 1
	r := newRouter(t, cfg, nil, observability.NewMetricsForTesting())

	out, publish, err := r.RouteReading(context.Background(), domain.Reading{StationID: "ST01", Timestamp: baseTime, Magnitude: 7})
	require.NoError(t, err)
	require.True(t, publish)
	assert.Equal(t, "started", out.Headers["signal"])

	_, _, err = r.RouteReading(context.Background(), domain.Reading{StationID: "ST01", Timestamp: baseTime.Add(time.Second), Magnitude: math.NaN()})
	require.ErrorIs(t, err, detector.ErrInvalidReading)
}
