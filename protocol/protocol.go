package protocol

import (
	"fmt"
	"sync"
	"time"

	"github.com/loraert/ert/eventbus"
	"github.com/loraert/ert/linkerr"
	"github.com/loraert/ert/transceiver"
)

// Transport is the capability the protocol needs from whatever carries its
// frames; *transceiver.Transceiver satisfies it directly.
type Transport interface {
	Transmit(payload []byte) error
	Receive(timeout time.Duration) (transceiver.Frame, error)
}

// Config holds the `comm_protocol` tunables.
type Config struct {
	PassiveMode     bool
	TransmitAllData bool
	IgnoreErrors    bool

	TransmitStreamCount int
	ReceiveStreamCount  int

	StreamAckIntervalPacketCount          int
	StreamAckReceiveTimeout               time.Duration
	StreamAckGuardInterval                time.Duration
	StreamAckMaxRerequestCount            int
	StreamEndOfStreamAckMaxRerequestCount int
	StreamInactivityTimeout               time.Duration

	ReceivePollInterval time.Duration
	TimerInterval       time.Duration
}

// PacketEvent is published on the eventbus for every in-order DATA payload
// delivered to the application.
type PacketEvent struct {
	Port     uint16
	StreamID uint16
	Sequence uint32
	Payload  []byte
	RSSI     float64
	SNR      float64
}

// Protocol is the stream-multiplexed reliability layer running over a
// half-duplex Transport.
type Protocol struct {
	cfg       Config
	transport Transport
	table     *StreamTable
	bus       *eventbus.Bus

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Protocol. Call Start to begin its receive and timer
// loops.
func New(transport Transport, cfg Config, bus *eventbus.Bus) *Protocol {
	return &Protocol{
		cfg:       cfg,
		transport: transport,
		table:     newStreamTable(cfg.TransmitStreamCount, cfg.ReceiveStreamCount),
		bus:       bus,
		stop:      make(chan struct{}),
	}
}

// Start launches the receive and timer goroutines.
func (p *Protocol) Start() {
	p.wg.Add(2)
	go p.receiveLoop()
	go p.timerLoop()
}

// Stop signals both loops to exit and waits for them.
func (p *Protocol) Stop() {
	close(p.stop)
	p.wg.Wait()
}

// allPacketsTopic is the fixed eventbus topic every in-order DATA payload
// is published on in addition to its port-specific "rx.<port>" topic, for
// a consumer (cmd/ert-gateway's MQTT sink) that doesn't know the set of
// ports a peer will use ahead of time.
const allPacketsTopic = "packet"

// Subscribe registers l to run for every DATA payload delivered on port.
func (p *Protocol) Subscribe(port uint16, l eventbus.Listener) {
	p.bus.Subscribe(fmt.Sprintf("rx.%d", port), l)
}

// SubscribeAll registers l to run for every DATA payload delivered on any
// port.
func (p *Protocol) SubscribeAll(l eventbus.Listener) {
	p.bus.Subscribe(allPacketsTopic, l)
}

// StreamInfos returns a snapshot of every currently live transmit and
// receive stream, the feed status.Aggregator and metrics.Collector both
// pull from.
func (p *Protocol) StreamInfos() []StreamInfo {
	tx := p.table.liveTransmitStreams()
	rx := p.table.liveReceiveStreams()
	infos := make([]StreamInfo, 0, len(tx)+len(rx))
	for _, s := range tx {
		infos = append(infos, s.snapshot())
	}
	for _, s := range rx {
		infos = append(infos, s.snapshot())
	}
	return infos
}

// OpenTransmitStream reserves a transmit stream slot and returns a handle
// for writing to it. It fails with ErrNoSlot once transmit_stream_count
// streams are already open.
func (p *Protocol) OpenTransmitStream(port uint16, acksEnabled bool) (*TransmitStream, error) {
	s, ok := p.table.allocTransmit(port, acksEnabled)
	if !ok {
		return nil, fmt.Errorf("protocol: no free transmit stream slot: %w", linkerr.ErrNoSlot)
	}
	return &TransmitStream{p: p, s: s}, nil
}

// TransmitStream is a handle to one open transmit stream.
type TransmitStream struct {
	p *Protocol
	s *Stream
}

// Info returns a point-in-time snapshot of the stream.
func (ts *TransmitStream) Info() StreamInfo { return ts.s.snapshot() }

// Write sends data as one or more DATA packets, chunked to MaxPayloadSize.
// The very first packet ever sent on the stream carries START_OF_STREAM,
// even if data is empty.
func (ts *TransmitStream) Write(data []byte) error {
	s := ts.s
	if len(data) == 0 {
		s.mu.Lock()
		already := s.State.StartOfStreamSent
		s.mu.Unlock()
		if already {
			return nil
		}
		return ts.p.sendData(s, nil)
	}
	for len(data) > 0 {
		n := len(data)
		if n > MaxPayloadSize {
			n = MaxPayloadSize
		}
		if err := ts.p.sendData(s, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// Close sends END_OF_STREAM and blocks until the peer's END_OF_STREAM_ACK
// arrives or retries are exhausted, then releases the stream's slot. If
// ignore_errors is configured, a failed close still returns nil.
func (ts *TransmitStream) Close() error {
	s, p := ts.s, ts.p

	s.mu.Lock()
	if s.State.Failed {
		s.mu.Unlock()
		p.table.releaseTransmit(s)
		if p.cfg.IgnoreErrors {
			return nil
		}
		return fmt.Errorf("protocol: stream %d failed before close: %w", s.StreamID, linkerr.ErrStreamFailed)
	}
	h := Header{Type: TypeEndOfStream, Flags: FlagEndOfStream, StreamID: s.StreamID, Port: s.Port, Sequence: s.CurrentSequenceNumber}
	s.State.ClosePending = true
	s.eosDeadline = time.Now().Add(p.cfg.StreamAckReceiveTimeout + p.cfg.StreamAckGuardInterval)
	s.eosRetries = p.cfg.StreamEndOfStreamAckMaxRerequestCount
	s.mu.Unlock()

	if frame, err := Encode(h, nil); err == nil {
		p.transport.Transmit(frame)
	}

	err := <-s.closeResult
	p.table.releaseTransmit(s)
	if err != nil && p.cfg.IgnoreErrors {
		return nil
	}
	return err
}

// sendData builds and transmits one DATA packet, requesting an ack every
// stream_ack_interval_packet_count packets on ack-bearing streams.
func (p *Protocol) sendData(s *Stream, payload []byte) error {
	s.mu.Lock()
	if s.State.Failed {
		s.mu.Unlock()
		return fmt.Errorf("protocol: stream %d failed: %w", s.StreamID, linkerr.ErrStreamFailed)
	}

	seq := s.CurrentSequenceNumber
	s.CurrentSequenceNumber++

	var flags Flags
	if !s.State.StartOfStreamSent {
		flags |= FlagStartOfStream
		s.State.StartOfStreamSent = true
	}
	if s.State.AcksEnabled {
		flags |= FlagAcksEnabled
	}

	h := Header{Type: TypeData, Flags: flags, StreamID: s.StreamID, Port: s.Port, Sequence: seq}
	frame, err := Encode(h, payload)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.pushOutbound(outboundPacket{Sequence: seq, Flags: flags, Payload: append([]byte(nil), payload...)})
	s.LastTransferredSequenceNumber = seq
	s.LastActivity = time.Now()
	s.Counters.TransferredPacketCount++
	s.Counters.TransferredByteCount += uint64(len(frame))
	s.Counters.TransferredPayloadByteCount += uint64(len(payload))

	needAck := s.State.AcksEnabled && !s.State.AwaitingAck && p.cfg.StreamAckIntervalPacketCount > 0 &&
		(seq+1)%uint32(p.cfg.StreamAckIntervalPacketCount) == 0
	s.mu.Unlock()

	if err := p.transport.Transmit(frame); err != nil {
		return err
	}
	if needAck {
		p.requestAck(s)
	}
	return nil
}

func (p *Protocol) requestAck(s *Stream) {
	s.mu.Lock()
	h := Header{Type: TypeAckRequest, Flags: FlagAckRequestPending, StreamID: s.StreamID, Port: s.Port, Sequence: s.LastTransferredSequenceNumber}
	s.State.AwaitingAck = true
	s.ackDeadline = time.Now().Add(p.cfg.StreamAckReceiveTimeout)
	s.ackRetries = p.cfg.StreamAckMaxRerequestCount
	s.mu.Unlock()

	if frame, err := Encode(h, nil); err == nil {
		p.transport.Transmit(frame)
	}
}

func (p *Protocol) receiveLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		frame, err := p.transport.Receive(p.cfg.ReceivePollInterval)
		if err != nil {
			continue
		}
		p.handleFrame(frame)
	}
}

func (p *Protocol) handleFrame(frame transceiver.Frame) {
	h, payload, err := Decode(frame.Payload)
	if err != nil {
		return
	}
	switch h.Type {
	case TypeData:
		p.handleData(h, payload, frame)
	case TypeAckRequest:
		p.handleAckRequest(h)
	case TypeAckResponse:
		p.handleAckResponse(h, payload)
	case TypeEndOfStream:
		p.handleEndOfStream(h)
	case TypeEndOfStreamAck:
		p.handleEndOfStreamAck(h)
	}
}

func (p *Protocol) handleData(h Header, payload []byte, frame transceiver.Frame) {
	s, ok := p.table.findReceive(h.StreamID)
	if !ok {
		if !h.Flags.Has(FlagStartOfStream) && !p.cfg.PassiveMode {
			return
		}
		s, ok = p.table.allocReceive(h.StreamID, h.Port, h.Flags.Has(FlagAcksEnabled))
		if !ok {
			return
		}
	}

	s.mu.Lock()
	s.LastActivity = time.Now()
	if !s.haveReceived || h.Sequence > s.highestSeen {
		s.highestSeen = h.Sequence
		s.haveReceived = true
	}
	payloadCopy := append([]byte(nil), payload...)

	switch {
	case h.Sequence < s.expectedNext:
		s.Counters.DuplicateTransferredPacketCount++
		s.mu.Unlock()

	case h.Sequence == s.expectedNext:
		deliveries := [][]byte{payloadCopy}
		s.expectedNext++
		for {
			buf, ok := s.pending[s.expectedNext]
			if !ok {
				break
			}
			delete(s.pending, s.expectedNext)
			deliveries = append(deliveries, buf)
			s.expectedNext++
		}
		// Drained payloads were already counted when they were buffered.
		s.Counters.TransferredPacketCount++
		port, streamID, startSeq := s.Port, s.StreamID, h.Sequence
		s.mu.Unlock()
		for i, d := range deliveries {
			ev := PacketEvent{
				Port: port, StreamID: streamID, Sequence: startSeq + uint32(i),
				Payload: d, RSSI: frame.RSSI, SNR: frame.SNR,
			}
			p.bus.Publish(fmt.Sprintf("rx.%d", port), ev)
			p.bus.Publish(allPacketsTopic, ev)
		}

	default:
		if len(s.pending) >= maxReceiveWindow {
			s.State.Failed = true
			s.mu.Unlock()
			p.table.releaseReceive(s)
			return
		}
		s.pending[h.Sequence] = payloadCopy
		s.Counters.TransferredPacketCount++
		s.mu.Unlock()
	}
}

func (p *Protocol) handleAckRequest(h Header) {
	s, ok := p.table.findReceive(h.StreamID)
	if !ok {
		return
	}

	s.mu.Lock()
	var lastContiguous uint32
	if s.expectedNext > 0 {
		lastContiguous = s.expectedNext - 1
	}
	var missing []uint32
	if s.haveReceived {
		for seq := s.expectedNext; seq <= s.highestSeen; seq++ {
			if _, got := s.pending[seq]; !got {
				missing = append(missing, seq)
			}
		}
	}
	windowBase := s.expectedNext
	port, streamID := s.Port, s.StreamID
	s.mu.Unlock()

	resp := BuildAckResponse(lastContiguous, missing, windowBase)
	frame, err := Encode(Header{Type: TypeAckResponse, StreamID: streamID, Port: port, Sequence: h.Sequence}, resp.Encode())
	if err != nil {
		return
	}
	p.transport.Transmit(frame)
}

func (p *Protocol) handleAckResponse(h Header, payload []byte) {
	s, ok := p.table.findTransmit(h.StreamID)
	if !ok {
		return
	}
	resp, err := DecodeAckResponse(payload)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.State.AwaitingAck = false
	lastTransferred := s.LastTransferredSequenceNumber
	missing := resp.MissingSequences(lastTransferred)
	var retransmits []outboundPacket
	for _, seq := range missing {
		if pkt, found := s.findOutbound(seq); found {
			retransmits = append(retransmits, pkt)
		}
	}
	if len(missing) == 0 {
		s.LastAcknowledgedSequenceNumber = lastTransferred
	} else {
		s.Counters.RetransmitCount += uint64(len(retransmits))
	}
	streamID, port := s.StreamID, s.Port
	s.mu.Unlock()

	for _, pkt := range retransmits {
		frame, err := Encode(Header{Type: TypeData, Flags: pkt.Flags | FlagRetransmit, StreamID: streamID, Port: port, Sequence: pkt.Sequence}, pkt.Payload)
		if err != nil {
			continue
		}
		p.transport.Transmit(frame)
	}
}

func (p *Protocol) handleEndOfStream(h Header) {
	s, ok := p.table.findReceive(h.StreamID)
	if !ok {
		return
	}
	s.mu.Lock()
	s.State.EndOfStream = true
	s.mu.Unlock()

	if frame, err := Encode(Header{Type: TypeEndOfStreamAck, StreamID: h.StreamID, Port: h.Port, Sequence: h.Sequence}, nil); err == nil {
		p.transport.Transmit(frame)
	}
	p.table.releaseReceive(s)
}

func (p *Protocol) handleEndOfStreamAck(h Header) {
	s, ok := p.table.findTransmit(h.StreamID)
	if !ok {
		return
	}
	s.mu.Lock()
	s.State.ClosePending = false
	s.State.EndOfStream = true
	s.mu.Unlock()

	select {
	case s.closeResult <- nil:
	default:
	}
}

func (p *Protocol) timerLoop() {
	defer p.wg.Done()
	interval := p.cfg.TimerInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.checkTransmitTimers()
			p.checkReceiveTimers()
		}
	}
}

func (p *Protocol) checkTransmitTimers() {
	now := time.Now()
	for _, s := range p.table.liveTransmitStreams() {
		s.mu.Lock()
		switch {
		case s.State.AwaitingAck && now.After(s.ackDeadline):
			if s.ackRetries > 0 {
				s.ackRetries--
				s.ackDeadline = now.Add(p.cfg.StreamAckReceiveTimeout)
				s.Counters.AckRerequestCount++
				h := Header{Type: TypeAckRequest, Flags: FlagAckRequestPending | FlagRetransmit, StreamID: s.StreamID, Port: s.Port, Sequence: s.LastTransferredSequenceNumber}
				s.mu.Unlock()
				if frame, err := Encode(h, nil); err == nil {
					p.transport.Transmit(frame)
				}
				continue
			}
			s.State.Failed = true
			s.mu.Unlock()

		case s.State.ClosePending && now.After(s.eosDeadline):
			if s.eosRetries > 0 {
				s.eosRetries--
				s.eosDeadline = now.Add(p.cfg.StreamAckReceiveTimeout)
				s.Counters.EndOfStreamRerequestCount++
				h := Header{Type: TypeEndOfStream, Flags: FlagEndOfStream | FlagRetransmit, StreamID: s.StreamID, Port: s.Port, Sequence: s.CurrentSequenceNumber}
				s.mu.Unlock()
				if frame, err := Encode(h, nil); err == nil {
					p.transport.Transmit(frame)
				}
				continue
			}
			s.State.Failed = true
			s.mu.Unlock()
			select {
			case s.closeResult <- fmt.Errorf("protocol: stream %d end_of_stream_ack exhausted retries: %w", s.StreamID, linkerr.ErrStreamFailed):
			default:
			}

		default:
			s.mu.Unlock()
		}
	}
}

func (p *Protocol) checkReceiveTimers() {
	now := time.Now()
	for _, s := range p.table.liveReceiveStreams() {
		s.mu.Lock()
		idle := now.Sub(s.LastActivity)
		timedOut := p.cfg.StreamInactivityTimeout > 0 && idle > p.cfg.StreamInactivityTimeout
		s.mu.Unlock()
		if timedOut {
			p.table.releaseReceive(s)
		}
	}
}
