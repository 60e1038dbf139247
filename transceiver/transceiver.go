// Package transceiver multiplexes a single half-duplex radio between
// producers queuing outbound frames and consumers waiting for inbound
// ones. A single worker goroutine owns the radio: it never transmits and
// listens at the same time, and it bounds how long opportunistic receive
// can delay a pending transmit.
package transceiver

import (
	"sync"
	"time"

	"github.com/loraert/ert/internal/rtthread"
	"github.com/loraert/ert/rfm9x"
)

// Driver is the capability set the transceiver needs from a radio: enough
// to drive the mode state machine without depending on Radio's concrete
// type, per the interface-not-vtable re-architecture spec.md's design
// notes call for.
type Driver interface {
	Configure(cfg rfm9x.Config) error
	Transmit(payload []byte) (int, error)
	WaitForTransmit(timeout time.Duration) error
	StartReceive(continuous bool) error
	WaitForData(timeout time.Duration) error
	Receive(buf []byte) (int, error)
	Standby() error
	Status() rfm9x.Status
}

// Config holds the transceiver's own tunables, loaded from the
// `comm_transceiver` configuration section.
type Config struct {
	TransmitBufferLength int
	ReceiveBufferLength  int
	TransmitTimeout      time.Duration
	PollInterval         time.Duration
	MaximumReceiveTime   time.Duration
}

// Stats is a point-in-time copy of the transceiver's counters.
type Stats struct {
	Transmitted        uint64
	TransmitTimeouts   uint64
	Received           uint64
	ReceiveDropped     uint64
	QueuedForTransmit  int
	QueuedForReceive   int
}

// Transceiver is the single-radio half-duplex multiplexer described by
// spec.md's component C.
type Transceiver struct {
	driver Driver
	cfg    Config

	tx *txQueue
	rx *rxQueue

	mu            sync.Mutex
	txInProgress  bool
	pendingConfig *rfm9x.Config
	running       bool
	stop          chan struct{}
	done          chan struct{}

	statsMu          sync.Mutex
	transmitted      uint64
	transmitTimeouts uint64
	received         uint64
}

// New constructs a Transceiver over driver. Call Start to begin the
// polling worker.
func New(driver Driver, cfg Config) *Transceiver {
	return &Transceiver{
		driver: driver,
		cfg:    cfg,
		tx:     newTxQueue(cfg.TransmitBufferLength),
		rx:     newRxQueue(cfg.ReceiveBufferLength),
	}
}

// Start launches the polling worker goroutine. Calling Start twice is a
// programming error and panics, the same as starting a goroutine twice.
func (t *Transceiver) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		panic("transceiver: Start called while already running")
	}
	t.running = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.worker()
}

// Stop signals the worker to return, drives the radio to standby, and
// waits for the worker goroutine to exit. No graceful drain of the
// transmit queue is attempted.
func (t *Transceiver) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	close(t.stop)
	t.mu.Unlock()

	<-t.done
	t.driver.Standby()

	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

// Transmit enqueues payload for transmission and returns immediately. A
// full queue returns ErrQueueFull.
func (t *Transceiver) Transmit(payload []byte) error {
	buf := append([]byte(nil), payload...)
	return t.tx.push(Frame{Payload: buf})
}

// Receive blocks until a frame has been received or timeout elapses.
func (t *Transceiver) Receive(timeout time.Duration) (Frame, error) {
	return t.rx.pop(timeout)
}

// Configure hot-swaps the driver's radio profile. The change is applied by
// the worker at the next safe point (when no transmit is in flight),
// matching spec.md's "configuration updates take effect atomically at the
// next safe point" policy.
func (t *Transceiver) Configure(cfg rfm9x.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingConfig = &cfg
	return nil
}

// Stats returns a snapshot of the transceiver's counters.
func (t *Transceiver) Stats() Stats {
	t.statsMu.Lock()
	s := Stats{
		Transmitted:      t.transmitted,
		TransmitTimeouts: t.transmitTimeouts,
		Received:         t.received,
	}
	t.statsMu.Unlock()
	s.ReceiveDropped = t.rx.droppedCount()
	s.QueuedForTransmit = t.tx.len()
	s.QueuedForReceive = t.rx.len()
	return s
}

// worker implements the polling algorithm from spec.md §4.C: if a
// transmit is in progress, wait bounded by the transmit timeout for its
// completion; else if the transmit queue is non-empty, start the head
// transmitting; else listen for at most maximum_receive_time_ms. This
// guarantees a queued transmit is never delayed by more than that bound.
func (t *Transceiver) worker() {
	defer close(t.done)
	rtthread.Realtime() // best-effort; a non-realtime scheduler still functions correctly

	for {
		select {
		case <-t.stop:
			return
		default:
		}

		t.mu.Lock()
		inProgress := t.txInProgress
		var cfg *rfm9x.Config
		if !inProgress && t.pendingConfig != nil {
			cfg = t.pendingConfig
			t.pendingConfig = nil
		}
		t.mu.Unlock()

		if cfg != nil {
			if err := t.driver.Configure(*cfg); err != nil {
				// BUSY here means the driver disagrees about being idle;
				// retry on the next iteration rather than dropping cfg.
				t.mu.Lock()
				t.pendingConfig = cfg
				t.mu.Unlock()
			}
		}

		switch {
		case inProgress:
			t.awaitTransmitCompletion()
		default:
			if frame, ok := t.tx.tryPop(); ok {
				t.beginTransmit(frame)
			} else {
				t.listen()
			}
		}

		if t.cfg.PollInterval > 0 {
			time.Sleep(t.cfg.PollInterval)
		}
	}
}

func (t *Transceiver) beginTransmit(frame Frame) {
	if _, err := t.driver.Transmit(frame.Payload); err != nil {
		t.statsMu.Lock()
		t.transmitTimeouts++
		t.statsMu.Unlock()
		return
	}
	t.mu.Lock()
	t.txInProgress = true
	t.mu.Unlock()
}

func (t *Transceiver) awaitTransmitCompletion() {
	err := t.driver.WaitForTransmit(t.cfg.TransmitTimeout)
	t.mu.Lock()
	t.txInProgress = false
	t.mu.Unlock()

	if err != nil {
		t.driver.Standby()
		t.statsMu.Lock()
		t.transmitTimeouts++
		t.statsMu.Unlock()
		return
	}
	t.statsMu.Lock()
	t.transmitted++
	t.statsMu.Unlock()
}

func (t *Transceiver) listen() {
	if err := t.driver.StartReceive(false); err != nil {
		return
	}
	if err := t.driver.WaitForData(t.cfg.MaximumReceiveTime); err != nil {
		t.driver.Standby()
		return
	}

	buf := make([]byte, rfm9x.MaxPacketLength)
	n, err := t.driver.Receive(buf)
	t.driver.Standby()
	if err != nil {
		return
	}

	status := t.driver.Status()
	t.rx.push(Frame{Payload: buf[:n], RSSI: status.LastPacketRSSI, SNR: status.LastPacketSNR})
	t.statsMu.Lock()
	t.received++
	t.statsMu.Unlock()
}
