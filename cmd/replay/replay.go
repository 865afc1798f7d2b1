package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/couchcryptid/quake-detector-service/internal/detector"
	"github.com/couchcryptid/quake-detector-service/internal/domain"
	"github.com/couchcryptid/quake-detector-service/internal/observability"
	"github.com/couchcryptid/quake-detector-service/internal/pipeline"
)

// result is everything a replay observed, in input order.
type result struct {
	readings   []domain.Reading
	detections []domain.Detection
	parseErrs  []string
	orderErrs  []string
	open       []domain.Event
}

// replay parses every fixture entry and routes it through a StationRouter,
// the same path the service takes for a Kafka message. Each published
// detection is written to w as one JSON line.
func replay(ctx context.Context, fixture []json.RawMessage, cfg pipeline.RouterConfig, metrics *observability.Metrics, w io.Writer) (*result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router, err := pipeline.NewStationRouter(cfg, nil, logger, metrics)
	if err != nil {
		return nil, err
	}

	res := &result{}
	for i, raw := range fixture {
		reading, err := domain.ParseRawReading(domain.RawMessage{Value: raw, Offset: int64(i)})
		if err != nil {
			res.parseErrs = append(res.parseErrs, fmt.Sprintf("entry %d: %v", i, err))
			continue
		}
		out, publish, err := router.RouteReading(ctx, reading)
		switch {
		case errors.Is(err, detector.ErrOutOfOrderReading), errors.Is(err, detector.ErrInvalidReading):
			res.orderErrs = append(res.orderErrs, fmt.Sprintf("entry %d: %v", i, err))
			continue
		case err != nil:
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		res.readings = append(res.readings, reading)

		if !publish {
			continue
		}
		var d domain.Detection
		if err := json.Unmarshal(out.Value, &d); err != nil {
			return nil, fmt.Errorf("entry %d: decode detection: %w", i, err)
		}
		res.detections = append(res.detections, d)
		if _, err := w.Write(append(out.Value, '\n')); err != nil {
			return nil, fmt.Errorf("write detection: %w", err)
		}
	}
	res.open = router.OpenEvents()
	return res, nil
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func validateInput(res *result) *phase {
	p := &phase{name: "Input (parse and ordering)"}
	for _, e := range res.parseErrs {
		p.errorf("unparsable: %s", e)
	}
	for _, e := range res.orderErrs {
		p.errorf("out of order: %s", e)
	}
	return p
}

// validateLifecycle checks that every station alternates started and ended,
// so at most one event is open at a time, and that event IDs are unique.
func validateLifecycle(res *result) *phase {
	p := &phase{name: "Event lifecycle (one open event per station)"}
	open := map[string]string{}
	seen := map[string]bool{}

	for _, d := range res.detections {
		switch d.Signal {
		case domain.EventStarted.String():
			if id, ok := open[d.StationID]; ok {
				p.errorf("%s: event %s started while %s still open", d.StationID, d.EventID, id)
			}
			if seen[d.EventID] {
				p.errorf("%s: duplicate event id %s", d.StationID, d.EventID)
			}
			seen[d.EventID] = true
			open[d.StationID] = d.EventID
			if d.EndTime != nil {
				p.errorf("%s: started event %s has end_time", d.StationID, d.EventID)
			}
		case domain.EventOngoing.String():
			if open[d.StationID] != d.EventID {
				p.errorf("%s: ongoing signal for %s which is not open", d.StationID, d.EventID)
			}
		case domain.EventEnded.String():
			if open[d.StationID] != d.EventID {
				p.errorf("%s: ended signal for %s which is not open", d.StationID, d.EventID)
			}
			delete(open, d.StationID)
			if d.EndTime == nil {
				p.errorf("%s: ended event %s has no end_time", d.StationID, d.EventID)
			} else if d.EndTime.Before(d.StartTime) {
				p.errorf("%s: event %s ends before it starts", d.StationID, d.EventID)
			}
		default:
			p.errorf("%s: unexpected signal %q", d.StationID, d.Signal)
		}
	}

	if len(open) != len(res.open) {
		p.errorf("detections leave %d events open, router reports %d", len(open), len(res.open))
	}
	return p
}

// validatePeaks checks that each closed event's peak and reading count match
// the station's readings over [start_time, end_time].
func validatePeaks(res *result) *phase {
	p := &phase{name: "Peak magnitude (max over event span)"}
	byStation := map[string][]domain.Reading{}
	for _, r := range res.readings {
		byStation[r.StationID] = append(byStation[r.StationID], r)
	}

	for _, d := range res.detections {
		if d.Signal != domain.EventEnded.String() || d.EndTime == nil {
			continue
		}
		peak, count := spanStats(byStation[d.StationID], d.StartTime, *d.EndTime)
		if count == 0 {
			p.errorf("%s: event %s has no readings in its span", d.StationID, d.EventID)
			continue
		}
		if peak != d.PeakMagnitude {
			p.errorf("%s: event %s peak %g, max over span %g", d.StationID, d.EventID, d.PeakMagnitude, peak)
		}
		if count != d.ReadingCount {
			p.errorf("%s: event %s counts %d readings, span has %d", d.StationID, d.EventID, d.ReadingCount, count)
		}
	}
	return p
}

// spanStats returns the max magnitude and number of readings with timestamps
// within [start, end].
func spanStats(readings []domain.Reading, start, end time.Time) (peak float64, count int) {
	for _, r := range readings {
		if r.Timestamp.Before(start) || r.Timestamp.After(end) {
			continue
		}
		if count == 0 || r.Magnitude > peak {
			peak = r.Magnitude
		}
		count++
	}
	return peak, count
}

// closedEvents returns ended detections ordered by station then start time.
func closedEvents(res *result) []domain.Detection {
	var out []domain.Detection
	for _, d := range res.detections {
		if d.Signal == domain.EventEnded.String() && d.EndTime != nil {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StationID != out[j].StationID {
			return out[i].StationID < out[j].StationID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}
