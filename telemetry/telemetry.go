// Package telemetry defines the application payload carried over a comm
// protocol stream. It holds no capture logic of its own: sensor and image
// acquisition are out of scope here, the way the original server tracked
// only a data logger entry's id, type, and timestamp rather than the
// sensor drivers that produced it.
package telemetry

import "time"

// EntryType distinguishes the kinds of application payload a node may
// transmit. The numbering is arbitrary to this implementation; it is not
// a wire-compatible value from elsewhere.
type EntryType uint8

const (
	EntryTypeUnknown EntryType = iota
	EntryTypeSensorReading
	EntryTypeImageChunk
	EntryTypeLogMessage
)

// Reading is one application-level unit of telemetry: an opaque payload
// tagged with an id, type, and timestamp, mirroring the three fields the
// original status tracker keyed its "last transferred entry" on.
type Reading struct {
	ID        uint32
	Type      EntryType
	Timestamp time.Time
	Payload   []byte
}
