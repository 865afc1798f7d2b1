package kafka

import (
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-detector-service/internal/domain"
)

func TestMapMessageToRawMessage(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("ST01"),
		Value:     []byte(`{"station_id":"ST01"}`),
		Topic:     "seismograph-readings",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("simulator")},
		},
	}

	raw := mapMessageToRawMessage(msg)

	assert.Equal(t, []byte("ST01"), raw.Key)
	assert.JSONEq(t, `{"station_id":"ST01"}`, string(raw.Value))
	assert.Equal(t, "seismograph-readings", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "simulator", raw.Headers["source"])
	assert.Nil(t, raw.Commit)
}

func TestToKafkaMessage(t *testing.T) {
	start := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	out, err := domain.SerializeDetection(domain.Detection{
		EventID:       domain.EventID("ST01", start),
		Signal:        "started",
		StationID:     "ST01",
		StartTime:     start,
		PeakMagnitude: 6.5,
		EmittedAt:     start.Add(time.Second),
	})
	require.NoError(t, err)

	msg := toKafkaMessage(out)

	assert.Equal(t, []byte("ST01"), msg.Key)
	assert.Contains(t, string(msg.Value), `"signal":"started"`)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "emitted_at", msg.Headers[0].Key)
	assert.Equal(t, []byte("2024-04-26T15:10:01Z"), msg.Headers[0].Value)
	assert.Equal(t, "signal", msg.Headers[1].Key)
	assert.Equal(t, []byte("started"), msg.Headers[1].Value)
	assert.Equal(t, "station_id", msg.Headers[2].Key)
	assert.Equal(t, []byte("ST01"), msg.Headers[2].Value)
}
