package main

import (
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/quake-detector-service/internal/domain"
)

// summary describes the closed events of a replay.
type summary struct {
	Events       int
	MeanPeak     float64
	StdDevPeak   float64
	MedianPeak   float64
	P90Peak      float64
	MaxPeak      float64
	MeanDuration float64 // seconds
	MeanReadings float64
}

func summarize(closed []domain.Detection) summary {
	if len(closed) == 0 {
		return summary{}
	}
	peaks := make([]float64, len(closed))
	durations := make([]float64, len(closed))
	counts := make([]float64, len(closed))
	for i, d := range closed {
		peaks[i] = d.PeakMagnitude
		durations[i] = d.EndTime.Sub(d.StartTime).Seconds()
		counts[i] = float64(d.ReadingCount)
	}

	s := summary{
		Events:       len(closed),
		MeanPeak:     stat.Mean(peaks, nil),
		MeanDuration: stat.Mean(durations, nil),
		MeanReadings: stat.Mean(counts, nil),
	}
	if len(peaks) > 1 {
		s.StdDevPeak = stat.StdDev(peaks, nil)
	}

	// Quantile requires sorted input.
	sort.Float64s(peaks)
	s.MedianPeak = stat.Quantile(0.5, stat.Empirical, peaks, nil)
	s.P90Peak = stat.Quantile(0.9, stat.Empirical, peaks, nil)
	s.MaxPeak = peaks[len(peaks)-1]
	return s
}

func printSummary(w io.Writer, s summary, perStation map[string]int) {
	fmt.Fprintln(w, "\n=== Closed events ===")
	fmt.Fprintf(w, "Events: %d\n", s.Events)
	if s.Events == 0 {
		return
	}
	fmt.Fprintf(w, "Peak magnitude: mean=%.3f stddev=%.3f median=%.3f p90=%.3f max=%.3f\n",
		s.MeanPeak, s.StdDevPeak, s.MedianPeak, s.P90Peak, s.MaxPeak)
	fmt.Fprintf(w, "Mean duration: %.1fs, mean readings: %.1f\n", s.MeanDuration, s.MeanReadings)

	stations := make([]string, 0, len(perStation))
	for id := range perStation {
		stations = append(stations, id)
	}
	sort.Strings(stations)
	fmt.Fprint(w, "By station:")
	for _, id := range stations {
		fmt.Fprintf(w, " %s=%d", id, perStation[id])
	}
	fmt.Fprintln(w)
}
