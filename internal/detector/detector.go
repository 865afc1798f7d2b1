// Package detector implements the per-stream threshold state machine that
// turns a sequence of readings into discrete quake events.
//
// A Detector is owned by exactly one stream and is not safe for concurrent
// use. Process concurrent streams with one Detector each.
package detector

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/quake-detector-service/internal/domain"
)

var (
	// ErrInvalidConfig is returned by New and Config.Validate.
	ErrInvalidConfig = errors.New("invalid detector config")

	// ErrOutOfOrderReading is returned by Feed when a reading is older than
	// the previous accepted one. The rejected call has no effect on state.
	ErrOutOfOrderReading = errors.New("out of order reading")

	// ErrInvalidReading is returned by Feed for a NaN or infinite magnitude.
	// The rejected call has no effect on state.
	ErrInvalidReading = errors.New("invalid reading")
)

// Config holds the thresholds for one detector.
type Config struct {
	// Threshold is the magnitude at or above which a reading counts toward
	// starting an event.
	Threshold float64 `yaml:"threshold"`
	// ReleaseThreshold is the magnitude at or below which an open event ends.
	// Must not exceed Threshold.
	ReleaseThreshold float64 `yaml:"release_threshold"`
	// MinDuration is how many consecutive above-threshold readings are
	// required before an event opens.
	MinDuration int `yaml:"min_duration"`
}

// Validate reports whether c can drive a detector.
func (c Config) Validate() error {
	if math.IsNaN(c.Threshold) || math.IsNaN(c.ReleaseThreshold) {
		return fmt.Errorf("%w: thresholds must be numbers", ErrInvalidConfig)
	}
	if c.ReleaseThreshold > c.Threshold {
		return fmt.Errorf("%w: release threshold %g exceeds threshold %g",
			ErrInvalidConfig, c.ReleaseThreshold, c.Threshold)
	}
	if c.MinDuration < 1 {
		return fmt.Errorf("%w: min duration %d must be at least 1", ErrInvalidConfig, c.MinDuration)
	}
	return nil
}

// State is a snapshot of the detector's rolling memory.
type State struct {
	Active           bool
	ConsecutiveAbove int
	// EventStartTime is the timestamp of the first above-threshold reading
	// of the current run or open event. Zero when neither exists.
	EventStartTime time.Time
}

// Detector consumes one stream of readings.
type Detector struct {
	cfg   Config
	state State

	// run accumulates the candidate event while ConsecutiveAbove < MinDuration,
	// and holds the open event once Active.
	run domain.Event

	last    time.Time
	started bool
}

// New validates cfg and returns a Detector with empty state.
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Config returns the configuration the detector was built with.
func (d *Detector) Config() Config {
	return d.cfg
}

// State returns a snapshot of the current state.
func (d *Detector) State() State {
	return d.state
}

// OpenEvent returns a snapshot of the open event, if any.
func (d *Detector) OpenEvent() (domain.Event, bool) {
	if !d.state.Active {
		return domain.Event{}, false
	}
	return d.run, true
}

// Feed classifies one reading and advances the state machine.
func (d *Detector) Feed(r domain.Reading) (domain.Signal, error) {
	if math.IsNaN(r.Magnitude) || math.IsInf(r.Magnitude, 0) {
		return domain.Signal{}, fmt.Errorf("%w: station %s magnitude %v", ErrInvalidReading, r.StationID, r.Magnitude)
	}
	if d.started && r.Timestamp.Before(d.last) {
		return domain.Signal{}, fmt.Errorf("%w: station %s reading at %s precedes %s",
			ErrOutOfOrderReading, r.StationID,
			r.Timestamp.Format(time.RFC3339Nano), d.last.Format(time.RFC3339Nano))
	}
	d.last = r.Timestamp
	d.started = true

	if d.state.Active {
		return d.feedActive(r), nil
	}
	return d.feedIdle(r), nil
}

func (d *Detector) feedIdle(r domain.Reading) domain.Signal {
	if r.Magnitude < d.cfg.Threshold {
		d.resetRun()
		return domain.Signal{Kind: domain.NoChange}
	}

	if d.state.ConsecutiveAbove == 0 {
		d.state.EventStartTime = r.Timestamp
		d.run = domain.Event{
			StationID:     r.StationID,
			StartTime:     r.Timestamp,
			PeakMagnitude: r.Magnitude,
			Geo:           r.Geo,
		}
	}
	d.state.ConsecutiveAbove++
	d.observe(r)

	if d.state.ConsecutiveAbove < d.cfg.MinDuration {
		return domain.Signal{Kind: domain.NoChange}
	}

	d.state.Active = true
	d.run.ID = domain.EventID(d.run.StationID, d.run.StartTime)
	return domain.Signal{Kind: domain.EventStarted, Event: d.run}
}

func (d *Detector) feedActive(r domain.Reading) domain.Signal {
	d.observe(r)

	if r.Magnitude > d.cfg.ReleaseThreshold {
		return domain.Signal{Kind: domain.EventOngoing, Event: d.run}
	}

	end := r.Timestamp
	closed := d.run
	closed.EndTime = &end

	d.state.Active = false
	d.resetRun()
	return domain.Signal{Kind: domain.EventEnded, Event: closed}
}

func (d *Detector) observe(r domain.Reading) {
	if r.Magnitude > d.run.PeakMagnitude {
		d.run.PeakMagnitude = r.Magnitude
	}
	if d.run.Geo.IsZero() {
		d.run.Geo = r.Geo
	}
	d.run.ReadingCount++
}

func (d *Detector) resetRun() {
	d.state.ConsecutiveAbove = 0
	d.state.EventStartTime = time.Time{}
	d.run = domain.Event{}
}
