package transceiver

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/loraert/ert/linkerr"
	"github.com/loraert/ert/rfm9x"
	"github.com/stretchr/testify/require"
)

// fakeDriver is a Driver that never touches real hardware: Transmit
// succeeds instantly and WaitForTransmit returns immediately, while
// receive always times out unless a payload has been queued with
// deliver. This is enough to exercise the transceiver's queueing and
// priority policy without a radio.
type fakeDriver struct {
	mu       sync.Mutex
	inbound  [][]byte
	transmits [][]byte
}

func (d *fakeDriver) Configure(rfm9x.Config) error { return nil }

func (d *fakeDriver) Transmit(payload []byte) (int, error) {
	d.mu.Lock()
	d.transmits = append(d.transmits, append([]byte(nil), payload...))
	d.mu.Unlock()
	return len(payload), nil
}

func (d *fakeDriver) WaitForTransmit(time.Duration) error { return nil }

func (d *fakeDriver) StartReceive(bool) error { return nil }

func (d *fakeDriver) WaitForData(timeout time.Duration) error {
	d.mu.Lock()
	has := len(d.inbound) > 0
	d.mu.Unlock()
	if has {
		return nil
	}
	time.Sleep(timeout)
	return fmt.Errorf("no data: %w", linkerr.ErrTimeout)
}

func (d *fakeDriver) Receive(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.inbound) == 0 {
		return 0, fmt.Errorf("nothing queued: %w", linkerr.ErrInvalidArg)
	}
	p := d.inbound[0]
	d.inbound = d.inbound[1:]
	n := copy(buf, p)
	return n, nil
}

func (d *fakeDriver) Standby() error { return nil }

func (d *fakeDriver) Status() rfm9x.Status { return rfm9x.Status{} }

func (d *fakeDriver) deliver(payload []byte) {
	d.mu.Lock()
	d.inbound = append(d.inbound, payload)
	d.mu.Unlock()
}

func testConfig() Config {
	return Config{
		TransmitBufferLength: 4,
		ReceiveBufferLength:  4,
		TransmitTimeout:      50 * time.Millisecond,
		PollInterval:         time.Millisecond,
		MaximumReceiveTime:   20 * time.Millisecond,
	}
}

func TestTransmitIsPickedUpByWorker(t *testing.T) {
	d := &fakeDriver{}
	tr := New(d, testConfig())
	tr.Start()
	defer tr.Stop()

	require.NoError(t, tr.Transmit([]byte("hello")))

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.transmits) == 1
	}, time.Second, time.Millisecond)
}

func TestTransmitQueueFull(t *testing.T) {
	d := &fakeDriver{}
	cfg := testConfig()
	cfg.TransmitBufferLength = 1
	tr := New(d, cfg)
	// worker not started: queue never drains
	require.NoError(t, tr.Transmit([]byte("a")))
	err := tr.Transmit([]byte("b"))
	require.ErrorIs(t, err, linkerr.ErrQueueFull)
}

func TestReceiveDelivers(t *testing.T) {
	d := &fakeDriver{}
	tr := New(d, testConfig())
	d.deliver([]byte("world"))
	tr.Start()
	defer tr.Stop()

	frame, err := tr.Receive(time.Second)
	require.NoError(t, err)
	require.Equal(t, "world", string(frame.Payload))
}

func TestReceiveOverflowDropsOldest(t *testing.T) {
	q := newRxQueue(2)
	q.push(Frame{Payload: []byte{1}})
	q.push(Frame{Payload: []byte{2}})
	q.push(Frame{Payload: []byte{3}})

	require.EqualValues(t, 1, q.droppedCount())
	f, err := q.pop(time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, byte(2), f.Payload[0])
}
