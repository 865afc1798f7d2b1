// Command replay feeds a reading fixture through the detector offline,
// prints every published detection as a JSON line and validates the stream
// invariants: at most one open event per station, closed peaks equal to the
// maximum magnitude over the event span, and ordered timestamps. A summary of
// closed-event statistics follows.
//
// Usage:
//
//	go run ./cmd/replay \
//	  -fixture data/mock/readings.json \
//	  -profiles config/station_profiles.yaml \
//	  -out detections.jsonl
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-detector-service/internal/config"
	"github.com/couchcryptid/quake-detector-service/internal/detector"
	"github.com/couchcryptid/quake-detector-service/internal/domain"
	"github.com/couchcryptid/quake-detector-service/internal/observability"
	"github.com/couchcryptid/quake-detector-service/internal/pipeline"
)

func main() {
	fixture := flag.String("fixture", "", "path to a JSON array of readings")
	threshold := flag.Float64("threshold", 5.0, "default detector threshold")
	release := flag.Float64("release-threshold", 2.0, "default detector release threshold")
	minDuration := flag.Int("min-duration", 2, "default consecutive readings needed to start an event")
	profiles := flag.String("profiles", "", "optional station profile YAML")
	emitOngoing := flag.Bool("emit-ongoing", false, "also print ongoing detections")
	out := flag.String("out", "", "detections output path; stdout when empty")
	flag.Parse()

	if *fixture == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg := pipeline.RouterConfig{
		Default:     detector.Config{Threshold: *threshold, ReleaseThreshold: *release, MinDuration: *minDuration},
		EmitOngoing: *emitOngoing,
	}
	if err := cfg.Default.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	if *profiles != "" {
		p, err := config.LoadStationProfiles(*profiles, cfg.Default)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(1)
		}
		cfg.Profiles = p
	}

	os.Exit(run(*fixture, *out, cfg, observability.NewMetrics()))
}

func run(fixturePath, outPath string, cfg pipeline.RouterConfig, metrics *observability.Metrics) int {
	// Fixed clock so emitted_at is reproducible across runs.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2024, time.April, 27, 6, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	fixture, err := loadJSON[json.RawMessage](fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load fixture: %v\n", err)
		return 1
	}

	var w io.Writer = os.Stdout
	// The report goes to stderr when detections take stdout.
	report := io.Writer(os.Stderr)
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: create output: %v\n", err)
			return 1
		}
		defer f.Close()
		w = f
		report = os.Stdout
	}

	res, err := replay(context.Background(), fixture, cfg, metrics, w)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: replay: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateInput(res),
		validateLifecycle(res),
		validatePeaks(res),
	}

	fmt.Fprintln(report, "=== Quake Detector Replay ===")
	fmt.Fprintf(report, "Readings: %d accepted of %d, detections: %d, open at end: %d\n",
		len(res.readings), len(fixture), len(res.detections), len(res.open))
	fmt.Fprintln(report)

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(report, "  %-48s %s\n", p.name, status)
	}

	closed := closedEvents(res)
	perStation := map[string]int{}
	for _, d := range closed {
		perStation[d.StationID]++
	}
	printSummary(report, summarize(closed), perStation)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(report, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(report, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(report, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(report, "\nValidation FAILED.")
	return 1
}

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}
