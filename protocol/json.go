package protocol

import (
	"encoding/json"
	"time"
)

// StreamInfo is a point-in-time, JSON-friendly snapshot of a Stream, the
// shape the status document publishes per live stream.
type StreamInfo struct {
	Type                           StreamType
	StreamID                       uint16
	Port                           uint16
	State                          State
	Counters                       Counters
	CurrentSequenceNumber          uint32
	LastAcknowledgedSequenceNumber uint32
	LastTransferredSequenceNumber  uint32
	LastActivity                   time.Time
}

func (t StreamType) String() string {
	if t == StreamReceive {
		return "receive"
	}
	return "transmit"
}

// MarshalJSON renders StreamType as its lowercase name rather than a raw
// integer, matching the rest of the status document's field conventions.
func (t StreamType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// MarshalJSON renders a StreamInfo with snake_case field names, matching
// the JSON contract the rest of the status document follows.
func (s StreamInfo) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type                           StreamType `json:"type"`
		StreamID                       uint16     `json:"stream_id"`
		Port                           uint16     `json:"port"`
		StartOfStreamSent              bool       `json:"start_of_stream_sent"`
		ClosePending                   bool       `json:"close_pending"`
		EndOfStream                    bool       `json:"end_of_stream"`
		Failed                        bool       `json:"failed"`
		AcksEnabled                    bool       `json:"acks_enabled"`
		AwaitingAck                    bool       `json:"awaiting_ack"`
		TransferredPacketCount         uint64     `json:"transferred_packet_count"`
		TransferredByteCount           uint64     `json:"transferred_byte_count"`
		TransferredPayloadByteCount    uint64     `json:"transferred_payload_byte_count"`
		DuplicateTransferredPacketCount uint64    `json:"duplicate_transferred_packet_count"`
		RetransmitCount                uint64     `json:"retransmit_count"`
		AckRerequestCount               uint64     `json:"ack_rerequest_count"`
		EndOfStreamRerequestCount       uint64     `json:"end_of_stream_rerequest_count"`
		CurrentSequenceNumber          uint32     `json:"current_sequence_number"`
		LastAcknowledgedSequenceNumber uint32     `json:"last_acknowledged_sequence_number"`
		LastTransferredSequenceNumber  uint32     `json:"last_transferred_sequence_number"`
		LastActivity                   time.Time  `json:"last_activity"`
	}
	return json.Marshal(wire{
		Type:                            s.Type,
		StreamID:                        s.StreamID,
		Port:                            s.Port,
		StartOfStreamSent:               s.State.StartOfStreamSent,
		ClosePending:                    s.State.ClosePending,
		EndOfStream:                     s.State.EndOfStream,
		Failed:                          s.State.Failed,
		AcksEnabled:                     s.State.AcksEnabled,
		AwaitingAck:                     s.State.AwaitingAck,
		TransferredPacketCount:          s.Counters.TransferredPacketCount,
		TransferredByteCount:            s.Counters.TransferredByteCount,
		TransferredPayloadByteCount:     s.Counters.TransferredPayloadByteCount,
		DuplicateTransferredPacketCount: s.Counters.DuplicateTransferredPacketCount,
		RetransmitCount:                 s.Counters.RetransmitCount,
		AckRerequestCount:               s.Counters.AckRerequestCount,
		EndOfStreamRerequestCount:       s.Counters.EndOfStreamRerequestCount,
		CurrentSequenceNumber:           s.CurrentSequenceNumber,
		LastAcknowledgedSequenceNumber:  s.LastAcknowledgedSequenceNumber,
		LastTransferredSequenceNumber:   s.LastTransferredSequenceNumber,
		LastActivity:                    s.LastActivity,
	})
}
