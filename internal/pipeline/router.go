package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/couchcryptid/quake-detector-service/internal/detector"
	"github.com/couchcryptid/quake-detector-service/internal/domain"
	"github.com/couchcryptid/quake-detector-service/internal/observability"
)

// ErrParse wraps a source message that could not be decoded into a reading.
var ErrParse = errors.New("unparsable reading")

// RouterConfig selects detector settings per station and the publish policy.
type RouterConfig struct {
	Default     detector.Config
	Profiles    map[string]detector.Config
	EmitOngoing bool
}

// StationRouter feeds each reading to its station's detector. Detectors are
// created on first sight of a station and live for the router's lifetime.
// Route is called from the pipeline loop; OpenEvents and Stations may be
// called concurrently from the HTTP adapter.
type StationRouter struct {
	mu        sync.Mutex
	cfg       RouterConfig
	detectors map[string]*detector.Detector
	open      map[string]bool
	geocoder  domain.Geocoder
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewStationRouter validates every detector configuration up front so a bad
// profile fails startup rather than the first reading of that station.
func NewStationRouter(cfg RouterConfig, geocoder domain.Geocoder, logger *slog.Logger, metrics *observability.Metrics) (*StationRouter, error) {
	if err := cfg.Default.Validate(); err != nil {
		return nil, fmt.Errorf("default detector: %w", err)
	}
	for station, p := range cfg.Profiles {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("station %s detector: %w", station, err)
		}
	}
	return &StationRouter{
		cfg:       cfg,
		detectors: make(map[string]*detector.Detector),
		open:      make(map[string]bool),
		geocoder:  geocoder,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Route parses raw, feeds it to the station's detector and returns the
// message to publish. publish is false for signals that are not emitted.
// Errors wrap ErrParse, detector.ErrOutOfOrderReading or
// detector.ErrInvalidReading.
func (r *StationRouter) Route(ctx context.Context, raw domain.RawMessage) (out domain.OutputMessage, publish bool, err error) {
	reading, err := domain.ParseRawReading(raw)
	if err != nil {
		return domain.OutputMessage{}, false, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return r.RouteReading(ctx, reading)
}

// RouteReading is Route for a reading that is already parsed.
func (r *StationRouter) RouteReading(ctx context.Context, reading domain.Reading) (out domain.OutputMessage, publish bool, err error) {
	sig, err := r.feed(reading)
	if err != nil {
		return domain.OutputMessage{}, false, err
	}

	if !r.shouldPublish(sig.Kind) {
		return domain.OutputMessage{}, false, nil
	}

	// Geocoding may block on the provider; it runs outside the lock.
	detection := domain.NewDetection(sig)
	detection = domain.EnrichWithGeocoding(ctx, detection, r.geocoder, r.logger)

	out, err = domain.SerializeDetection(detection)
	if err != nil {
		return domain.OutputMessage{}, false, err
	}

	r.metrics.SignalsEmitted.WithLabelValues(sig.Kind.String()).Inc()
	if sig.Kind != domain.EventOngoing {
		r.logger.Info("quake "+sig.Kind.String(),
			"event_id", sig.Event.ID,
			"station_id", sig.Event.StationID,
			"start_time", sig.Event.StartTime,
			"peak_magnitude", sig.Event.PeakMagnitude,
			"reading_count", sig.Event.ReadingCount,
		)
	}
	return out, true, nil
}

// OpenEvents returns snapshots of every station's open event, ordered by
// station id.
func (r *StationRouter) OpenEvents() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Event, 0, len(r.open))
	for _, d := range r.detectors {
		if e, ok := d.OpenEvent(); ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationID < out[j].StationID })
	return out
}

// Stations reports how many stations have a detector.
func (r *StationRouter) Stations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.detectors)
}

// feed advances the station's detector under the lock.
func (r *StationRouter) feed(reading domain.Reading) (domain.Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.detectorFor(reading.StationID)
	if err != nil {
		return domain.Signal{}, err
	}
	sig, err := d.Feed(reading)
	if err != nil {
		return domain.Signal{}, err
	}
	r.track(reading.StationID, sig)
	return sig, nil
}

func (r *StationRouter) detectorFor(station string) (*detector.Detector, error) {
	if d, ok := r.detectors[station]; ok {
		return d, nil
	}
	cfg := r.cfg.Default
	if p, ok := r.cfg.Profiles[station]; ok {
		cfg = p
	}
	d, err := detector.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("station %s: %w", station, err)
	}
	r.detectors[station] = d
	r.metrics.StationsTracked.Set(float64(len(r.detectors)))
	r.logger.Debug("tracking station", "station_id", station,
		"threshold", cfg.Threshold, "release_threshold", cfg.ReleaseThreshold, "min_duration", cfg.MinDuration)
	return d, nil
}

func (r *StationRouter) track(station string, sig domain.Signal) {
	switch sig.Kind {
	case domain.EventStarted:
		r.open[station] = true
	case domain.EventEnded:
		delete(r.open, station)
	default:
		return
	}
	r.metrics.OpenEvents.Set(float64(len(r.open)))
}

func (r *StationRouter) shouldPublish(k domain.SignalKind) bool {
	switch k {
	case domain.EventStarted, domain.EventEnded:
		return true
	case domain.EventOngoing:
		return r.cfg.EmitOngoing
	default:
		return false
	}
}
