package rfm9x

import (
	"fmt"

	"github.com/loraert/ert/linkerr"
)

// Direction selects which of a Config's two profiles is active for a given
// mode transition: Transmit governs entry into ModeTransmit, Receive
// governs entry into ModeDetection, ModeReceiveContinuous, and
// ModeReceiveSingle.
type Direction uint8

const (
	Transmit Direction = iota
	Receive
)

// Bandwidth is one of the ten occupied-channel bandwidths the SX127x LoRa
// modem supports.
type Bandwidth uint8

const (
	Bandwidth7K8 Bandwidth = iota
	Bandwidth10K4
	Bandwidth15K6
	Bandwidth20K8
	Bandwidth31K25
	Bandwidth41K7
	Bandwidth62K5
	Bandwidth125K
	Bandwidth250K
	Bandwidth500K
)

// bandwidthHz maps each Bandwidth to its value in Hz.
var bandwidthHz = map[Bandwidth]float64{
	Bandwidth7K8:   7800,
	Bandwidth10K4:  10400,
	Bandwidth15K6:  15600,
	Bandwidth20K8:  20800,
	Bandwidth31K25: 31250,
	Bandwidth41K7:  41700,
	Bandwidth62K5:  62500,
	Bandwidth125K:  125000,
	Bandwidth250K:  250000,
	Bandwidth500K:  500000,
}

// Hz returns the bandwidth in Hz, or 0 if bw is not a recognized value.
func (bw Bandwidth) Hz() float64 { return bandwidthHz[bw] }

// BandwidthFromHz looks up the Bandwidth enum value matching hz exactly,
// for translating a configuration file's bandwidth field into the
// register-level enum.
func BandwidthFromHz(hz float64) (Bandwidth, error) {
	for bw, v := range bandwidthHz {
		if v == hz {
			return bw, nil
		}
	}
	return 0, fmt.Errorf("rfm9x: %v Hz is not a supported bandwidth: %w", hz, linkerr.ErrInvalidArg)
}

// String renders the bandwidth as the Hz value a configuration file names
// it by (e.g. "125000"), the external spelling of the enum.
func (bw Bandwidth) String() string {
	return fmt.Sprintf("%d", int64(bandwidthHz[bw]))
}

// BandwidthFromString parses a configuration file's bandwidth field, one of
// the ten Hz-valued enum strings ("7800".."500000").
func BandwidthFromString(s string) (Bandwidth, error) {
	for bw, v := range bandwidthHz {
		if fmt.Sprintf("%d", int64(v)) == s {
			return bw, nil
		}
	}
	return 0, fmt.Errorf("rfm9x: %q is not a supported bandwidth: %w", s, linkerr.ErrInvalidArg)
}

func (bw Bandwidth) valid() bool {
	_, ok := bandwidthHz[bw]
	return ok
}

// CodingRate is the forward-error-correction coding rate, one of 4/5, 4/6,
// 4/7, or 4/8.
type CodingRate uint8

const (
	CodingRate4_5 CodingRate = 1 + iota
	CodingRate4_6
	CodingRate4_7
	CodingRate4_8
)

func (cr CodingRate) valid() bool {
	return cr >= CodingRate4_5 && cr <= CodingRate4_8
}

func (cr CodingRate) String() string {
	switch cr {
	case CodingRate4_5:
		return "4:5"
	case CodingRate4_6:
		return "4:6"
	case CodingRate4_7:
		return "4:7"
	case CodingRate4_8:
		return "4:8"
	default:
		return "unknown"
	}
}

// CodingRateFromString parses a configuration file's error_coding_rate
// field, one of "4:5", "4:6", "4:7", "4:8".
func CodingRateFromString(s string) (CodingRate, error) {
	switch s {
	case "4:5":
		return CodingRate4_5, nil
	case "4:6":
		return CodingRate4_6, nil
	case "4:7":
		return CodingRate4_7, nil
	case "4:8":
		return CodingRate4_8, nil
	default:
		return 0, fmt.Errorf("rfm9x: %q is not a supported error coding rate: %w", s, linkerr.ErrInvalidArg)
	}
}

// DirectionConfig is the set of radio parameters applied when the driver
// transitions into transmit or into one of the receive/detection modes.
type DirectionConfig struct {
	PABoost               bool
	PAMaxPower            uint8 // 0..7
	PAOutputPower         uint8 // 0..15
	Frequency             float64 // Hz
	FrequencyHopEnabled   bool
	FrequencyHopPeriod    uint8
	ImplicitHeaderMode    bool
	ErrorCodingRate       CodingRate
	Bandwidth             Bandwidth
	SpreadingFactor       uint8 // 6..12
	CRC                   bool
	LowDataRateOptimize   bool
	PreambleLength        uint16
	IQInverted            bool
	ReceiveTimeoutSymbols uint16
	ExpectedPayloadLength uint8 // 0 means auto (explicit header)
}

// Validate checks the invariants spec.md's data model places on a single
// direction's profile: spreading factor 6 requires implicit header, and the
// bandwidth/coding-rate/spreading-factor enums must be within range.
func (c DirectionConfig) Validate() error {
	if !c.Bandwidth.valid() {
		return fmt.Errorf("rfm9x: bandwidth %d: %w", c.Bandwidth, linkerr.ErrInvalidArg)
	}
	if !c.ErrorCodingRate.valid() {
		return fmt.Errorf("rfm9x: coding rate %d: %w", c.ErrorCodingRate, linkerr.ErrInvalidArg)
	}
	if c.SpreadingFactor < 6 || c.SpreadingFactor > 12 {
		return fmt.Errorf("rfm9x: spreading factor %d out of [6,12]: %w", c.SpreadingFactor, linkerr.ErrInvalidArg)
	}
	if c.SpreadingFactor == 6 && !c.ImplicitHeaderMode {
		return fmt.Errorf("rfm9x: spreading factor 6 requires implicit header: %w", linkerr.ErrInvalidArg)
	}
	if c.PAMaxPower > 7 {
		return fmt.Errorf("rfm9x: pa_max_power %d out of [0,7]: %w", c.PAMaxPower, linkerr.ErrInvalidArg)
	}
	if c.PAOutputPower > 15 {
		return fmt.Errorf("rfm9x: pa_output_power %d out of [0,15]: %w", c.PAOutputPower, linkerr.ErrInvalidArg)
	}
	return nil
}

// Config holds independent transmit and receive radio profiles, mirroring
// the original driver's split between a transmit_config and a
// receive_config under one configuration struct.
type Config struct {
	Transmit DirectionConfig
	Receive  DirectionConfig
}

// Validate validates both profiles.
func (c Config) Validate() error {
	if err := c.Transmit.Validate(); err != nil {
		return err
	}
	if err := c.Receive.Validate(); err != nil {
		return err
	}
	return nil
}

func (c Config) profile(d Direction) DirectionConfig {
	if d == Transmit {
		return c.Transmit
	}
	return c.Receive
}

// isHighFrequency reports whether hz falls in the SX1276 "high frequency"
// port (≥ 779 MHz), which uses a different RSSI offset and OpMode
// low-frequency-mode bit than the low/mid band port.
func isHighFrequency(hz float64) bool {
	return hz >= 779e6
}

const (
	rssiOffsetHF = -157
	rssiOffsetLF = -164
)
