// Package hal defines the capability interfaces the radio driver talks to:
// a full-duplex SPI transfer, a GPIO pin with edge-triggered callbacks, and
// a timeout-bounded condition wait. Nothing above this package may depend on
// a specific board support package; concrete adapters live in this package
// and wrap periph.io.
package hal

// Level is the logical level of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Pull is the internal pull-up/down resistor state to request on an input pin.
type Pull uint8

const (
	PullNoChange Pull = iota
	PullFloat
	PullDown
	PullUp
)

// Edge is the signal transition that arms a pin interrupt.
type Edge uint8

const (
	NoEdge Edge = iota
	RisingEdge
	FallingEdge
	BothEdges
)

// SPI is a full-duplex byte transfer: w is written to the bus while r is
// filled in with what comes back, one byte per byte. len(r) must be >= len(w).
type SPI interface {
	Tx(w, r []byte) error
}

// Pin is a single GPIO line that can be driven, read, and watched for edges.
type Pin interface {
	Out(l Level) error
	In(pull Pull, edge Edge) error
	Read() Level
	// Watch arms handler to run on a background goroutine every time edge
	// occurs, until Unwatch is called. Watch may be called only once between
	// Unwatch calls.
	Watch(edge Edge, handler func()) error
	Unwatch() error
}
