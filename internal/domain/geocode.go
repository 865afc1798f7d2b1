package domain

import (
	"context"
	"log/slog"
)

// EnrichWithGeocoding attaches place details for the station coordinates.
// If geocoder is nil the detection is returned untouched; lookup failures
// set GeoSource to "failed" and leave the rest of the record intact.
func EnrichWithGeocoding(ctx context.Context, d Detection, geocoder Geocoder, logger *slog.Logger) Detection {
	if geocoder == nil {
		return d
	}
	if d.Geo.IsZero() {
		d.GeoSource = "original"
		return d
	}

	result, err := geocoder.ReverseGeocode(ctx, d.Geo.Lat, d.Geo.Lon)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"event_id", d.EventID,
			"station_id", d.StationID,
			"lat", d.Geo.Lat,
			"lon", d.Geo.Lon,
			"error", err,
		)
		d.GeoSource = "failed"
		return d
	}
	if result.FormattedAddress == "" {
		d.GeoSource = "original"
		return d
	}

	d.FormattedAddress = result.FormattedAddress
	d.PlaceName = result.PlaceName
	d.GeoConfidence = result.Confidence
	d.GeoSource = "reverse"
	return d
}
