package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-detector-service/internal/domain"
)

// genOptions controls the synthetic stream.
type genOptions struct {
	Stations    int
	Duration    time.Duration
	Interval    time.Duration
	Seed        uint64
	NoiseMean   float64
	NoiseStdDev float64
	Quakes      int // bursts per station
	MinPeak     float64
	MaxPeak     float64
}

// burst is one injected quake: a triangular envelope over [start, start+length).
type burst struct {
	start  int
	length int
	peak   float64
}

func (b burst) at(i int) float64 {
	if i < b.start || i >= b.start+b.length {
		return 0
	}
	half := float64(b.length) / 2
	offset := float64(i-b.start) + 0.5
	return b.peak * (1 - math.Abs(offset-half)/half)
}

type station struct {
	id     string
	geo    domain.Geo
	bursts []burst
}

// generate produces readings for every station, interleaved in timestamp
// order. The same options always yield the same stream.
func generate(opts genOptions, clock *clockwork.FakeClock) ([]domain.Reading, error) {
	if opts.Stations < 1 {
		return nil, fmt.Errorf("stations must be at least 1, got %d", opts.Stations)
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", opts.Interval)
	}
	samples := int(opts.Duration / opts.Interval)
	if samples < 1 {
		return nil, fmt.Errorf("duration %s shorter than interval %s", opts.Duration, opts.Interval)
	}
	if opts.MaxPeak < opts.MinPeak {
		return nil, fmt.Errorf("max peak %g below min peak %g", opts.MaxPeak, opts.MinPeak)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	stations := make([]station, opts.Stations)
	for i := range stations {
		stations[i] = station{
			id: fmt.Sprintf("ST%02d", i+1),
			// Spread stations across central Oklahoma.
			geo: domain.Geo{
				Lat: round6(35.0 + rng.Float64()*1.5),
				Lon: round6(-98.5 + rng.Float64()*2.0),
			},
			bursts: placeBursts(rng, samples, opts),
		}
	}

	readings := make([]domain.Reading, 0, samples*len(stations))
	for i := 0; i < samples; i++ {
		ts := clock.Now().UTC()
		for _, st := range stations {
			mag := opts.NoiseMean + rng.NormFloat64()*opts.NoiseStdDev
			for _, b := range st.bursts {
				mag += b.at(i)
			}
			readings = append(readings, domain.Reading{
				StationID: st.id,
				Timestamp: ts,
				Magnitude: round3(math.Max(0, mag)),
				Geo:       st.geo,
			})
		}
		clock.Advance(opts.Interval)
	}
	return readings, nil
}

// placeBursts picks non-overlapping quake windows for one station.
func placeBursts(rng *rand.Rand, samples int, opts genOptions) []burst {
	if opts.Quakes < 1 || samples < 8 {
		return nil
	}
	slot := samples / opts.Quakes
	if slot < 8 {
		slot = 8
	}
	var out []burst
	for start := 0; start+slot <= samples && len(out) < opts.Quakes; start += slot {
		length := 4 + rng.IntN(max(1, min(slot/2, 30)-3))
		// Keep a quiet sample on both sides so adjacent bursts never merge.
		offset := 1 + rng.IntN(slot-length-1)
		peak := opts.MinPeak + rng.Float64()*(opts.MaxPeak-opts.MinPeak)
		out = append(out, burst{start: start + offset, length: length, peak: peak})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

func round3(v float64) float64 { return math.Round(v*1e3) / 1e3 }
func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
