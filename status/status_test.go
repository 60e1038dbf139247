package status

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loraert/ert/protocol"
	"github.com/loraert/ert/rfm9x"
	"github.com/loraert/ert/telemetry"
	"github.com/loraert/ert/transceiver"
)

func TestAggregatorSnapshotIncludesTelemetryAndStreams(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordTransmitted(telemetry.Reading{ID: 1, Type: telemetry.EntryTypeSensorReading, Timestamp: time.Unix(100, 0)})
	tracker.RecordReceptionFailure()

	agg := NewAggregator(
		func() rfm9x.Status { return rfm9x.Status{Mode: rfm9x.ModeReceiveContinuous} },
		func() transceiver.Stats { return transceiver.Stats{Transmitted: 5} },
		func() []protocol.StreamInfo { return []protocol.StreamInfo{{StreamID: 3}} },
		tracker,
	)

	doc := agg.Snapshot()
	require.Equal(t, uint64(5), doc.Transceiver.Transmitted)
	require.Len(t, doc.Streams, 1)
	require.NotNil(t, doc.TelemetryTransmitted.LastEntry)
	require.EqualValues(t, 1, doc.TelemetryTransmitted.LastEntry.ID)
	require.EqualValues(t, 1, doc.TelemetryReceived.FailureCount)

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.Contains(t, string(data), `"telemetry_transmitted"`)
}

func TestAggregatorSnapshotToleratesMissingSources(t *testing.T) {
	agg := NewAggregator(nil, nil, nil, nil)
	doc := agg.Snapshot()
	require.Zero(t, doc.Transceiver.Transmitted)
	require.Nil(t, doc.Streams)
}
