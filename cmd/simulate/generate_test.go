package main

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-detector-service/internal/detector"
	"github.com/couchcryptid/quake-detector-service/internal/domain"
)

func testOptions() genOptions {
	return genOptions{
		Stations:    3,
		Duration:    5 * time.Minute,
		Interval:    time.Second,
		Seed:        7,
		NoiseMean:   1.0,
		NoiseStdDev: 0.1,
		Quakes:      2,
		MinPeak:     7.0,
		MaxPeak:     8.0,
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a, err := generate(testOptions(), clockwork.NewFakeClockAt(baseTime))
	require.NoError(t, err)
	b, err := generate(testOptions(), clockwork.NewFakeClockAt(baseTime))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	opts := testOptions()
	opts.Seed = 8
	c, err := generate(opts, clockwork.NewFakeClockAt(baseTime))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestGenerate_Shape(t *testing.T) {
	readings, err := generate(testOptions(), clockwork.NewFakeClockAt(baseTime))
	require.NoError(t, err)
	require.Len(t, readings, 300*3)

	assert.Equal(t, baseTime, readings[0].Timestamp)
	assert.Equal(t, baseTime.Add(299*time.Second), readings[len(readings)-1].Timestamp)

	perStation := map[string]int{}
	for i, r := range readings {
		perStation[r.StationID]++
		assert.GreaterOrEqual(t, r.Magnitude, 0.0)
		assert.False(t, r.Geo.IsZero())
		if i > 0 {
			assert.False(t, r.Timestamp.Before(readings[i-1].Timestamp))
		}
	}
	assert.Equal(t, map[string]int{"ST01": 300, "ST02": 300, "ST03": 300}, perStation)
}

func TestGenerate_BurstsAreDetected(t *testing.T) {
	readings, err := generate(testOptions(), clockwork.NewFakeClockAt(baseTime))
	require.NoError(t, err)

	detectors := map[string]*detector.Detector{}
	started := map[string]int{}
	ended := map[string]int{}
	for _, r := range readings {
		d, ok := detectors[r.StationID]
		if !ok {
			d, err = detector.New(detector.Config{Threshold: 5, ReleaseThreshold: 2, MinDuration: 2})
			require.NoError(t, err)
			detectors[r.StationID] = d
		}
		sig, err := d.Feed(r)
		require.NoError(t, err)
		switch sig.Kind {
		case domain.EventStarted:
			started[r.StationID]++
		case domain.EventEnded:
			ended[r.StationID]++
		}
	}

	for _, id := range []string{"ST01", "ST02", "ST03"} {
		assert.Equal(t, 2, started[id], id)
		assert.Equal(t, 2, ended[id], id)
	}
}

func TestGenerate_InvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*genOptions)
	}{
		{"no stations", func(o *genOptions) { o.Stations = 0 }},
		{"zero interval", func(o *genOptions) { o.Interval = 0 }},
		{"duration shorter than interval", func(o *genOptions) { o.Duration = time.Millisecond }},
		{"inverted peaks", func(o *genOptions) { o.MinPeak, o.MaxPeak = 8, 7 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts)
			_, err := generate(opts, clockwork.NewFakeClockAt(baseTime))
			require.Error(t, err)
		})
	}
}

func TestBurst_Envelope(t *testing.T) {
	b := burst{start: 10, length: 4, peak: 8}
	assert.Zero(t, b.at(9))
	assert.Zero(t, b.at(14))
	assert.InDelta(t, 2.0, b.at(10), 1e-9)
	assert.InDelta(t, 6.0, b.at(11), 1e-9)
	assert.InDelta(t, 6.0, b.at(12), 1e-9)
	assert.InDelta(t, 2.0, b.at(13), 1e-9)
}
