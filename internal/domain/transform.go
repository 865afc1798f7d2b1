package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// eventNamespace scopes name-based event IDs to this service.
var eventNamespace = uuid.MustParse("6f1c2a53-8d0e-4b7a-9c61-2f5e0d4b9a17")

var (
	errMissingStation   = errors.New("missing station_id")
	errMissingTimestamp = errors.New("missing ts")
	errMissingMagnitude = errors.New("missing magnitude")
)

// ParseRawReading deserializes a RawMessage's value into a Reading. The
// station falls back to the message key when the body omits it.
func ParseRawReading(raw RawMessage) (Reading, error) {
	var rec RawReading
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return Reading{}, fmt.Errorf("parse raw reading: %w", err)
	}

	station := strings.TrimSpace(rec.StationID)
	if station == "" {
		station = strings.TrimSpace(string(raw.Key))
	}
	if station == "" {
		return Reading{}, fmt.Errorf("parse raw reading: %w", errMissingStation)
	}

	if strings.TrimSpace(rec.Timestamp) == "" {
		return Reading{}, fmt.Errorf("parse raw reading %s: %w", station, errMissingTimestamp)
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(rec.Timestamp))
	if err != nil {
		return Reading{}, fmt.Errorf("parse raw reading %s: invalid ts: %w", station, err)
	}

	if rec.Magnitude == nil {
		return Reading{}, fmt.Errorf("parse raw reading %s: %w", station, errMissingMagnitude)
	}
	mag := *rec.Magnitude
	if math.IsNaN(mag) || math.IsInf(mag, 0) {
		return Reading{}, fmt.Errorf("parse raw reading %s: magnitude %v is not finite", station, mag)
	}

	return Reading{
		StationID: station,
		Timestamp: ts.UTC(),
		Magnitude: mag,
		Geo:       Geo{Lat: rec.Lat, Lon: rec.Lon},
	}, nil
}

// EncodeReading renders a Reading in the source topic wire format.
func EncodeReading(r Reading) ([]byte, error) {
	mag := r.Magnitude
	data, err := json.Marshal(RawReading{
		StationID: r.StationID,
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
		Magnitude: &mag,
		Lat:       r.Geo.Lat,
		Lon:       r.Geo.Lon,
	})
	if err != nil {
		return nil, fmt.Errorf("encode reading: %w", err)
	}
	return data, nil
}

// EventID derives a deterministic ID from the station and start time so a
// replayed stream reproduces the same IDs.
func EventID(stationID string, start time.Time) string {
	name := stationID + "|" + start.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

// NewDetection builds the published record for a signal, stamping
// emitted_at from the package clock.
func NewDetection(sig Signal) Detection {
	e := sig.Event
	return Detection{
		EventID:       e.ID,
		Signal:        sig.Kind.String(),
		StationID:     e.StationID,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		PeakMagnitude: e.PeakMagnitude,
		ReadingCount:  e.ReadingCount,
		Geo:           e.Geo,
		EmittedAt:     clock.Now().UTC(),
	}
}

// SerializeDetection marshals a Detection into an OutputMessage keyed by
// station so one station's signals land on one partition.
func SerializeDetection(d Detection) (OutputMessage, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return OutputMessage{}, fmt.Errorf("serialize detection: %w", err)
	}
	return OutputMessage{
		Key:   []byte(d.StationID),
		Value: data,
		Headers: map[string]string{
			"signal":     d.Signal,
			"station_id": d.StationID,
			"emitted_at": d.EmittedAt.Format(time.RFC3339),
		},
	}, nil
}
