package protocol

import (
	"sync"
	"time"
)

// StreamType distinguishes the transmit and receive halves of a stream;
// each side owns an independent table and ID space.
type StreamType uint8

const (
	StreamTransmit StreamType = iota
	StreamReceive
)

// maxReceiveWindow bounds how many out-of-order payloads a receive stream
// will buffer waiting for the gap below them to fill in, before giving up
// and failing the stream.
const maxReceiveWindow = 64

// maxRetransmitWindow bounds how many already-sent packets a transmit
// stream keeps around for possible retransmission.
const maxRetransmitWindow = 64

// outboundPacket is one previously transmitted packet kept for possible
// retransmission.
type outboundPacket struct {
	Sequence uint32
	Flags    Flags
	Payload  []byte
}

// State holds the boolean lifecycle flags spec.md's status snapshot
// reports per stream.
type State struct {
	StartOfStreamSent bool
	ClosePending      bool
	EndOfStream       bool
	Failed            bool
	AcksEnabled       bool
	AwaitingAck       bool
}

// Counters are the per-stream transfer counters spec.md's status snapshot
// reports.
type Counters struct {
	TransferredPacketCount          uint64
	TransferredByteCount            uint64
	TransferredPayloadByteCount     uint64
	DuplicateTransferredPacketCount uint64
	RetransmitCount                 uint64
	AckRerequestCount                uint64
	EndOfStreamRerequestCount        uint64
}

// Stream is one live transmit or receive stream entity. All mutable state
// lives behind mu; callers never see a Stream in a half-updated state.
type Stream struct {
	mu sync.Mutex

	Type     StreamType
	StreamID uint16
	Port     uint16

	State    State
	Counters Counters

	CurrentSequenceNumber          uint32
	LastAcknowledgedSequenceNumber uint32
	LastTransferredSequenceNumber  uint32
	LastActivity                   time.Time

	// transmit-side only
	window        []outboundPacket
	ackDeadline   time.Time
	ackRetries    int
	eosDeadline   time.Time
	eosRetries    int
	closeResult   chan error

	// receive-side only
	expectedNext uint32
	highestSeen  uint32
	haveReceived bool
	pending      map[uint32][]byte
}

func newStream(typ StreamType, id, port uint16, acksEnabled bool) *Stream {
	return &Stream{
		Type:         typ,
		StreamID:     id,
		Port:         port,
		State:        State{AcksEnabled: acksEnabled},
		LastActivity: time.Now(),
		pending:      make(map[uint32][]byte),
	}
}

// snapshot returns a lock-free copy safe to hand to a status reporter.
func (s *Stream) snapshot() StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamInfo{
		Type:                            s.Type,
		StreamID:                        s.StreamID,
		Port:                            s.Port,
		State:                           s.State,
		Counters:                        s.Counters,
		CurrentSequenceNumber:           s.CurrentSequenceNumber,
		LastAcknowledgedSequenceNumber:  s.LastAcknowledgedSequenceNumber,
		LastTransferredSequenceNumber:   s.LastTransferredSequenceNumber,
		LastActivity:                    s.LastActivity,
	}
}

// pushOutbound records a just-sent packet for possible retransmission,
// evicting the oldest entry once the window is full.
func (s *Stream) pushOutbound(p outboundPacket) {
	if len(s.window) >= maxRetransmitWindow {
		s.window = s.window[1:]
	}
	s.window = append(s.window, p)
}

func (s *Stream) findOutbound(seq uint32) (outboundPacket, bool) {
	for _, p := range s.window {
		if p.Sequence == seq {
			return p, true
		}
	}
	return outboundPacket{}, false
}

// StreamTable holds the fixed-size transmit and receive stream slots. A nil
// slot is free.
type StreamTable struct {
	mu       sync.Mutex
	transmit []*Stream
	receive  []*Stream
	nextTx   uint16
	nextRx   uint16
}

func newStreamTable(transmitSlots, receiveSlots int) *StreamTable {
	return &StreamTable{
		transmit: make([]*Stream, transmitSlots),
		receive:  make([]*Stream, receiveSlots),
	}
}

// allocTransmit reserves a free transmit slot and returns a fresh Stream
// with an unused stream ID, or false if every slot is occupied.
func (t *StreamTable) allocTransmit(port uint16, acksEnabled bool) (*Stream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.transmit {
		if s == nil {
			id := t.nextTx
			t.nextTx++
			ns := newStream(StreamTransmit, id, port, acksEnabled)
			ns.closeResult = make(chan error, 1)
			t.transmit[i] = ns
			return ns, true
		}
	}
	return nil, false
}

func (t *StreamTable) releaseTransmit(s *Stream) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.transmit {
		if cur == s {
			t.transmit[i] = nil
			return
		}
	}
}

func (t *StreamTable) findTransmit(id uint16) (*Stream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.transmit {
		if s != nil && s.StreamID == id {
			return s, true
		}
	}
	return nil, false
}

// allocReceive reserves a free receive slot for an inbound stream id seen
// for the first time.
func (t *StreamTable) allocReceive(id, port uint16, acksEnabled bool) (*Stream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.receive {
		if s == nil {
			ns := newStream(StreamReceive, id, port, acksEnabled)
			t.receive[i] = ns
			return ns, true
		}
	}
	return nil, false
}

func (t *StreamTable) releaseReceive(s *Stream) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.receive {
		if cur == s {
			t.receive[i] = nil
			return
		}
	}
}

func (t *StreamTable) findReceive(id uint16) (*Stream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.receive {
		if s != nil && s.StreamID == id {
			return s, true
		}
	}
	return nil, false
}

func (t *StreamTable) liveTransmitStreams() []*Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Stream
	for _, s := range t.transmit {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (t *StreamTable) liveReceiveStreams() []*Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Stream
	for _, s := range t.receive {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
