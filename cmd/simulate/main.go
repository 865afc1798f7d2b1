// Command simulate generates a deterministic synthetic seismograph stream:
// Gaussian background noise per station with injected quake bursts. It writes
// the readings as a JSON fixture in the source topic wire format and can
// optionally publish them to Kafka.
//
// Usage:
//
//	go run ./cmd/simulate \
//	  -stations 5 -duration 30m -interval 1s -seed 42 \
//	  -out data/mock/readings.json \
//	  -brokers localhost:9092 -topic seismograph-readings
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/jonboulle/clockwork"

	kafkaadapter "github.com/couchcryptid/quake-detector-service/internal/adapter/kafka"
	"github.com/couchcryptid/quake-detector-service/internal/config"
	"github.com/couchcryptid/quake-detector-service/internal/domain"
)

var baseTime = time.Date(2024, time.April, 26, 15, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	opts := genOptions{}
	flag.IntVar(&opts.Stations, "stations", 3, "number of stations")
	flag.DurationVar(&opts.Duration, "duration", 10*time.Minute, "length of the simulated stream")
	flag.DurationVar(&opts.Interval, "interval", time.Second, "sample interval per station")
	flag.Uint64Var(&opts.Seed, "seed", 42, "random seed")
	flag.Float64Var(&opts.NoiseMean, "noise-mean", 1.0, "mean background magnitude")
	flag.Float64Var(&opts.NoiseStdDev, "noise-stddev", 0.4, "background magnitude standard deviation")
	flag.IntVar(&opts.Quakes, "quakes", 2, "quake bursts per station")
	flag.Float64Var(&opts.MinPeak, "min-peak", 5.5, "minimum burst peak added to the noise")
	flag.Float64Var(&opts.MaxPeak, "max-peak", 8.0, "maximum burst peak added to the noise")
	out := flag.String("out", "data/mock/readings.json", "output path for the JSON fixture")
	brokers := flag.String("brokers", "", "comma-separated Kafka brokers; empty skips publishing")
	topic := flag.String("topic", "seismograph-readings", "Kafka topic to publish to")
	flag.Parse()

	readings, err := generate(opts, clockwork.NewFakeClockAt(baseTime))
	if err != nil {
		return err
	}

	encoded := make([]json.RawMessage, len(readings))
	for i, r := range readings {
		data, err := domain.EncodeReading(r)
		if err != nil {
			return err
		}
		encoded[i] = data
	}

	if err := writeJSON(*out, encoded); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote %d readings for %d stations: %s", len(readings), opts.Stations, *out)

	if *brokers == "" {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return publish(ctx, sharedcfg.ParseBrokers(*brokers), *topic, readings, encoded)
}

// publish sends the fixture keyed by station so each station's readings land
// on one partition in order.
func publish(ctx context.Context, brokers []string, topic string, readings []domain.Reading, encoded []json.RawMessage) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	writer := kafkaadapter.NewWriter(&config.Config{
		KafkaBrokers:   brokers,
		KafkaSinkTopic: topic,
	}, logger)
	defer writer.Close()

	const chunk = 500
	for start := 0; start < len(readings); start += chunk {
		end := min(start+chunk, len(readings))
		msgs := make([]domain.OutputMessage, 0, end-start)
		for i := start; i < end; i++ {
			msgs = append(msgs, domain.OutputMessage{
				Key:   []byte(readings[i].StationID),
				Value: encoded[i],
			})
		}
		if err := writer.LoadBatch(ctx, msgs); err != nil {
			return fmt.Errorf("publish readings %d-%d: %w", start, end, err)
		}
	}
	log.Printf("published %d readings to %s", len(readings), topic)
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}
