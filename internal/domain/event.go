package domain

import (
	"context"
	"time"
)

// RawReading is the flat JSON structure published by a seismograph station
// (or the simulator) to the source topic.
type RawReading struct {
	StationID string   `json:"station_id"`
	Timestamp string   `json:"ts"` // RFC 3339, nanosecond precision allowed
	Magnitude *float64 `json:"magnitude"`
	Lat       float64  `json:"lat,omitempty"`
	Lon       float64  `json:"lon,omitempty"`
}

// RawMessage represents an unprocessed message from the source topic.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat,omitempty"`
	Lon float64 `json:"lon,omitempty"`
}

// IsZero reports whether no coordinates are set.
func (g Geo) IsZero() bool {
	return g.Lat == 0 && g.Lon == 0
}

// Reading is one timestamped scalar sample from a station.
type Reading struct {
	StationID string
	Timestamp time.Time
	Magnitude float64
	Geo       Geo
}

// Event is a detected quake on one station stream. EndTime is nil while the
// event is open.
type Event struct {
	ID            string     `json:"id"`
	StationID     string     `json:"station_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	PeakMagnitude float64    `json:"peak_magnitude"`
	ReadingCount  int        `json:"reading_count"`
	Geo           Geo        `json:"geo,omitempty"`
}

// Open reports whether the event has not been closed yet.
func (e Event) Open() bool {
	return e.EndTime == nil
}

// Duration returns the span between start and end, or zero for an open event.
func (e Event) Duration() time.Duration {
	if e.EndTime == nil {
		return 0
	}
	return e.EndTime.Sub(e.StartTime)
}

// SignalKind classifies the outcome of feeding one reading to a detector.
type SignalKind int

const (
	NoChange SignalKind = iota
	EventStarted
	EventOngoing
	EventEnded
)

func (k SignalKind) String() string {
	switch k {
	case NoChange:
		return "none"
	case EventStarted:
		return "started"
	case EventOngoing:
		return "ongoing"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// ParseSignalKind is the inverse of SignalKind.String.
func ParseSignalKind(s string) (SignalKind, bool) {
	switch s {
	case "none":
		return NoChange, true
	case "started":
		return EventStarted, true
	case "ongoing":
		return EventOngoing, true
	case "ended":
		return EventEnded, true
	}
	return NoChange, false
}

// Signal is returned for every reading fed to a detector. Event is a
// snapshot and is the zero value when Kind is NoChange.
type Signal struct {
	Kind  SignalKind
	Event Event
}

// Detection is the record published to the sink topic for a signal.
type Detection struct {
	EventID       string     `json:"event_id"`
	Signal        string     `json:"signal"`
	StationID     string     `json:"station_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	PeakMagnitude float64    `json:"peak_magnitude"`
	ReadingCount  int        `json:"reading_count"`
	Geo           Geo        `json:"geo,omitempty"`

	// Geocoding enrichment fields.
	FormattedAddress string  `json:"formatted_address,omitempty"`
	PlaceName        string  `json:"place_name,omitempty"`
	GeoConfidence    float64 `json:"geo_confidence,omitempty"`
	GeoSource        string  `json:"geo_source,omitempty"` // "reverse", "original", "failed"

	EmittedAt time.Time `json:"emitted_at"`
}

// OutputMessage is the serialized form destined for the sink topic.
type OutputMessage struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}
