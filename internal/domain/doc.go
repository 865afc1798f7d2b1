// Package domain models seismograph readings and the quake events detected
// on them.
//
// # Wire format
//
// Each source message carries one reading as flat JSON:
//
//	{"station_id":"ST01","ts":"2024-04-26T15:10:00.25Z","magnitude":6.2,"lat":35.1,"lon":-97.4}
//
// The message key is the station id. Producers must key by station so a
// station's readings stay on one partition and arrive in order; the
// detector rejects a reading older than the previous one it accepted.
// Magnitudes are unitless instrument counts. Non-finite values are rejected
// at parse time.
//
// # Events
//
// A station's event opens when the detector has seen min_duration
// consecutive readings at or above the threshold and closes on the first
// reading at or below the release threshold. Event IDs are name-based UUIDs
// (SHA-1) of station_id|start_time, see [EventID], so downstream consumers
// can upsert idempotently and replays reproduce the same IDs.
//
// # Detections
//
// Every published signal (started, ongoing, ended) becomes a [Detection]
// keyed by station id with signal, station_id and emitted_at headers.
package domain
