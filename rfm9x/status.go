package rfm9x

import "sync"

// Mode is the driver's current state in the mode state machine, using the
// same numeric tags as the original rfm9xw driver's state enum so that
// logs and debug output read the same way.
type Mode uint8

const (
	ModeSleep              Mode = 0x01
	ModeStandby            Mode = 0x02
	ModeTransmit           Mode = 0x11
	ModeDetection          Mode = 0x21
	ModeReceiveContinuous  Mode = 0x31
	ModeReceiveSingle      Mode = 0x32
)

func (m Mode) String() string {
	switch m {
	case ModeSleep:
		return "sleep"
	case ModeStandby:
		return "standby"
	case ModeTransmit:
		return "transmit"
	case ModeDetection:
		return "detection"
	case ModeReceiveContinuous:
		return "receive-continuous"
	case ModeReceiveSingle:
		return "receive-single"
	default:
		return "unknown"
	}
}

// Status is a point-in-time, lock-free copy of the driver's counters and
// modem readback fields. Obtained via Radio.Status.
type Status struct {
	Mode        Mode
	ChipVersion byte

	LastPacketRSSI float64
	LastPacketSNR  float64
	FrequencyError float64

	// Modem status flags, latched at the last ReadStatus call.
	ModemClear          bool
	HeaderInfoValid     bool
	RxActive            bool
	SignalSynchronized  bool
	SignalDetected      bool

	TransmittedPacketCount    uint64
	ReceivedPacketCount       uint64
	InvalidReceivedPacketCount uint64
	DetectedPacketCount       uint64
	ModeChangeTimeoutCount    uint64
}

// statusBlock guards Status under a dedicated mutex, separate from the
// mode-transition mutex, so a get_status snapshot never blocks behind an
// in-flight SPI transfer.
type statusBlock struct {
	mu sync.Mutex
	s  Status
}

func (b *statusBlock) snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.s
}

func (b *statusBlock) update(fn func(*Status)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.s)
}
