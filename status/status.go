// Package status aggregates the radio driver, transceiver, protocol, and
// telemetry-transfer counters into one JSON document, the way the
// original server status tracker combined per-subsystem counters into a
// single struct handed to its own JSON serializer. This package stops at
// producing the document; any HTTP or MQTT transport for it belongs to
// the caller.
package status

import (
	"sync"
	"time"

	"github.com/loraert/ert/protocol"
	"github.com/loraert/ert/rfm9x"
	"github.com/loraert/ert/telemetry"
	"github.com/loraert/ert/transceiver"
)

// telemetryTransfer is the state of one direction, reported as
// telemetry_transmitted or telemetry_received.
type telemetryTransfer struct {
	LastEntryTimestamp time.Time         `json:"last_entry_timestamp"`
	LastEntry          *telemetry.Reading `json:"last_entry,omitempty"`
	FailureCount       uint32            `json:"failure_count"`
}

// Tracker records the most recent transmitted and received telemetry
// entries and their failure counts, separate from the link-level
// counters rfm9x and transceiver already keep.
type Tracker struct {
	mu          sync.Mutex
	transmitted telemetryTransfer
	received    telemetryTransfer
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordTransmitted updates the last-transmitted entry.
func (t *Tracker) RecordTransmitted(r telemetry.Reading) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transmitted.LastEntry = &r
	t.transmitted.LastEntryTimestamp = r.Timestamp
}

// RecordReceived updates the last-received entry.
func (t *Tracker) RecordReceived(r telemetry.Reading) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.received.LastEntry = &r
	t.received.LastEntryTimestamp = r.Timestamp
}

// RecordTransmissionFailure increments the transmit failure counter.
func (t *Tracker) RecordTransmissionFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transmitted.FailureCount++
}

// RecordReceptionFailure increments the receive failure counter.
func (t *Tracker) RecordReceptionFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.received.FailureCount++
}

func (t *Tracker) snapshot() (transmitted, received telemetryTransfer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transmitted, t.received
}

// Document is the full aggregated status, JSON-serializable as-is.
type Document struct {
	GeneratedAt time.Time `json:"generated_at"`

	Radio       rfm9x.Status        `json:"radio"`
	Transceiver transceiver.Stats   `json:"transceiver"`
	Streams     []protocol.StreamInfo `json:"streams"`

	TelemetryTransmitted telemetryTransfer `json:"telemetry_transmitted"`
	TelemetryReceived    telemetryTransfer `json:"telemetry_received"`
}

// Aggregator pulls live snapshots from a radio, a transceiver, a
// protocol, and a telemetry Tracker on demand, the same pull-don't-cache
// shape metrics.Collector uses for Prometheus scrapes.
type Aggregator struct {
	radioStatus      func() rfm9x.Status
	transceiverStats func() transceiver.Stats
	streamInfos      func() []protocol.StreamInfo
	tracker          *Tracker
	now              func() time.Time
}

// NewAggregator builds an Aggregator. tracker may be nil, in which case
// the telemetry transfer fields are left zero-valued.
func NewAggregator(radioStatus func() rfm9x.Status, transceiverStats func() transceiver.Stats, streamInfos func() []protocol.StreamInfo, tracker *Tracker) *Aggregator {
	return &Aggregator{
		radioStatus:      radioStatus,
		transceiverStats: transceiverStats,
		streamInfos:      streamInfos,
		tracker:          tracker,
		now:              time.Now,
	}
}

// Snapshot builds the current Document.
func (a *Aggregator) Snapshot() Document {
	doc := Document{GeneratedAt: a.now()}
	if a.radioStatus != nil {
		doc.Radio = a.radioStatus()
	}
	if a.transceiverStats != nil {
		doc.Transceiver = a.transceiverStats()
	}
	if a.streamInfos != nil {
		doc.Streams = a.streamInfos()
	}
	if a.tracker != nil {
		doc.TelemetryTransmitted, doc.TelemetryReceived = a.tracker.snapshot()
	}
	return doc
}
