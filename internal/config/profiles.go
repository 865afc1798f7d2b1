package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/quake-detector-service/internal/detector"
)

// profileFile is the on-disk layout of STATION_PROFILES_PATH.
type profileFile struct {
	Stations map[string]profile `yaml:"stations"`
}

// profile fields are pointers so an omitted field inherits the default.
type profile struct {
	Threshold        *float64 `yaml:"threshold"`
	ReleaseThreshold *float64 `yaml:"release_threshold"`
	MinDuration      *int     `yaml:"min_duration"`
}

// LoadStationProfiles reads per-station detector overrides and merges each
// onto defaults. A merged profile that fails validation fails the load.
func LoadStationProfiles(path string, defaults detector.Config) (map[string]detector.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read station profiles: %w", err)
	}

	var f profileFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse station profiles: %w", err)
	}

	out := make(map[string]detector.Config, len(f.Stations))
	for station, p := range f.Stations {
		if station == "" {
			return nil, fmt.Errorf("station profiles: empty station id")
		}
		cfg := defaults
		if p.Threshold != nil {
			cfg.Threshold = *p.Threshold
		}
		if p.ReleaseThreshold != nil {
			cfg.ReleaseThreshold = *p.ReleaseThreshold
		}
		if p.MinDuration != nil {
			cfg.MinDuration = *p.MinDuration
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("station profile %s: %w", station, err)
		}
		out[station] = cfg
	}
	return out, nil
}
