// Package linkerr holds the tagged-result error kinds shared by the radio
// driver, the transceiver, and the protocol layer. Each is a sentinel
// wrapped with context via fmt.Errorf("%w: ..."); callers compare with
// errors.Is rather than matching on message text.
package linkerr

import "errors"

var (
	// ErrIO signals an SPI or GPIO level failure. It always bubbles to the
	// caller; nothing below the application recovers from it.
	ErrIO = errors.New("i/o error")

	// ErrTimeout signals a condition-wait deadline was exceeded. The
	// caller decides whether to retry.
	ErrTimeout = errors.New("timeout")

	// ErrCRC signals a header or payload CRC mismatch. Counted and
	// dropped at the layer that detected it; never surfaced per packet
	// to the application.
	ErrCRC = errors.New("crc error")

	// ErrQueueFull signals a bounded transmit queue is at capacity.
	ErrQueueFull = errors.New("queue full")

	// ErrNoSlot signals the stream table has no free slot.
	ErrNoSlot = errors.New("no free slot")

	// ErrBusy signals a reconfiguration was attempted while I/O is in
	// flight.
	ErrBusy = errors.New("busy")

	// ErrInvalidArg signals an oversized payload, unknown enum value, or
	// invalid stream id.
	ErrInvalidArg = errors.New("invalid argument")

	// ErrStreamFailed signals a stream has reached a terminal failure
	// state and its resources have been released.
	ErrStreamFailed = errors.New("stream failed")
)
