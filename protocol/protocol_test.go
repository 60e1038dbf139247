package protocol

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/loraert/ert/eventbus"
	"github.com/loraert/ert/linkerr"
	"github.com/loraert/ert/transceiver"
	"github.com/stretchr/testify/require"
)

// pipeTransport is an in-memory Transport half, letting two Protocol
// instances exercise the wire handshakes against each other without a
// radio.
type pipeTransport struct {
	out chan []byte
	in  chan []byte
}

func newPipePair() (a, b *pipeTransport) {
	c1 := make(chan []byte, 64)
	c2 := make(chan []byte, 64)
	return &pipeTransport{out: c1, in: c2}, &pipeTransport{out: c2, in: c1}
}

func (p *pipeTransport) Transmit(payload []byte) error {
	p.out <- append([]byte(nil), payload...)
	return nil
}

func (p *pipeTransport) Receive(timeout time.Duration) (transceiver.Frame, error) {
	select {
	case f := <-p.in:
		return transceiver.Frame{Payload: f}, nil
	case <-time.After(timeout):
		return transceiver.Frame{}, fmt.Errorf("protocol test: receive timeout: %w", linkerr.ErrTimeout)
	}
}

func testProtocolConfig() Config {
	return Config{
		TransmitStreamCount:                   4,
		ReceiveStreamCount:                     4,
		StreamAckIntervalPacketCount:           2,
		StreamAckReceiveTimeout:                50 * time.Millisecond,
		StreamAckGuardInterval:                 5 * time.Millisecond,
		StreamAckMaxRerequestCount:             3,
		StreamEndOfStreamAckMaxRerequestCount:  3,
		StreamInactivityTimeout:                time.Second,
		ReceivePollInterval:                    5 * time.Millisecond,
		TimerInterval:                          5 * time.Millisecond,
	}
}

func TestStreamWriteDeliversAndClosesCleanly(t *testing.T) {
	txTransport, rxTransport := newPipePair()
	bus := eventbus.New()

	sender := New(txTransport, testProtocolConfig(), eventbus.New())
	receiver := New(rxTransport, testProtocolConfig(), bus)

	var mu sync.Mutex
	var received [][]byte
	receiver.Subscribe(42, func(ev eventbus.Event) {
		pe := ev.Data.(PacketEvent)
		mu.Lock()
		received = append(received, pe.Payload)
		mu.Unlock()
	})

	sender.Start()
	defer sender.Stop()
	receiver.Start()
	defer receiver.Stop()

	stream, err := sender.OpenTransmitStream(42, true)
	require.NoError(t, err)

	require.NoError(t, stream.Write([]byte("hello")))
	require.NoError(t, stream.Write([]byte("world")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(t, []byte("hello"), received[0])
	require.Equal(t, []byte("world"), received[1])
	mu.Unlock()

	require.NoError(t, stream.Close())
	require.True(t, stream.Info().State.EndOfStream)
}

func TestOutOfOrderDeliveryBuffersThenDrains(t *testing.T) {
	txTransport, rxTransport := newPipePair()
	bus := eventbus.New()
	receiver := New(rxTransport, testProtocolConfig(), bus)

	var mu sync.Mutex
	var received []uint32
	receiver.Subscribe(7, func(ev eventbus.Event) {
		pe := ev.Data.(PacketEvent)
		mu.Lock()
		received = append(received, pe.Sequence)
		mu.Unlock()
	})
	receiver.Start()
	defer receiver.Stop()

	sendRaw := func(seq uint32, flags Flags, payload []byte) {
		frame, err := Encode(Header{Type: TypeData, Flags: flags, StreamID: 1, Port: 7, Sequence: seq}, payload)
		require.NoError(t, err)
		txTransport.out <- frame
	}

	sendRaw(0, FlagStartOfStream, []byte("a"))
	sendRaw(2, 0, []byte("c"))
	sendRaw(1, 0, []byte("b"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(t, []uint32{0, 1, 2}, received)
	mu.Unlock()
}

func TestTransmitStreamFailsWhenNoSlotAvailable(t *testing.T) {
	txTransport, _ := newPipePair()
	cfg := testProtocolConfig()
	cfg.TransmitStreamCount = 1
	sender := New(txTransport, cfg, eventbus.New())

	_, err := sender.OpenTransmitStream(1, false)
	require.NoError(t, err)
	_, err = sender.OpenTransmitStream(2, false)
	require.ErrorIs(t, err, linkerr.ErrNoSlot)
}
