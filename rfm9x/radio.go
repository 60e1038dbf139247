// Package rfm9x drives a single SX127x-class LoRa radio (the chip family
// used in HopeRF's RFM95/96/97/98 modules) through an interrupt-driven mode
// state machine: Sleep and Standby are shared idle states; Transmit,
// Detection, ReceiveContinuous, and ReceiveSingle are entered from Standby
// and always return to it. Two chip interrupt lines are required: one
// carries TX-done / RX-done / CAD-detected events, the other carries
// mode-ready events raised whenever the requested OpMode has taken effect.
package rfm9x

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/loraert/ert/hal"
	"github.com/loraert/ert/linkerr"
)

// MaxPacketLength is the chip's hard limit on a single LoRa packet,
// including the usable FIFO length.
const MaxPacketLength = 255

const (
	defaultModeChangeTimeout = 5 * time.Second
	initModeChangeTimeout    = 500 * time.Millisecond
)

// RxPacket is a received frame together with the channel statistics
// sampled at the time it was read out of the chip FIFO.
type RxPacket struct {
	Payload        []byte
	RSSI           float64
	SNR            float64
	FrequencyError float64
}

// Options configures behavior not carried by Config: timeouts, the
// auto-receive-after-detection policy, and logging.
type Options struct {
	ModeChangeTimeout         time.Duration // default 5s
	AutoReceiveAfterDetection bool
	Logger                    hal.Logger
}

// Radio is an owning handle for one physical SX127x chip. Unlike the
// process-wide driver pointer in the C original, every Radio is
// independent; nothing here is package-level mutable state, so opening a
// second Radio against a second chip is safe.
type Radio struct {
	spi  hal.SPI
	dio0 hal.Pin // TxDone / RxDone / CadDone
	dio5 hal.Pin // ModeReady

	mu                sync.Mutex
	cfg               Config
	driverState       Mode
	chipMode          byte
	txPending         bool
	rxPending         bool
	detPending        bool
	modeChangeTimeout time.Duration
	autoReceiveAfterDetection bool

	modeCond *hal.CondWait
	txCond   *hal.CondWait
	rxCond   *hal.CondWait
	detCond  *hal.CondWait

	status statusBlock

	log hal.Logger
}

// Open brings up the chip, verifies it answers, wires the two interrupt
// lines, validates cfg, and leaves the radio in Standby. The caller decides
// when to move into transmit or receive.
func Open(spiDev hal.SPI, dio0, dio5 hal.Pin, cfg Config, opts Options) (*Radio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := opts.ModeChangeTimeout
	if timeout <= 0 {
		timeout = defaultModeChangeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = hal.Logger(nopLogger{})
	}

	r := &Radio{
		spi:                       spiDev,
		dio0:                      dio0,
		dio5:                      dio5,
		cfg:                       cfg,
		driverState:               ModeSleep,
		chipMode:                  0xff, // force the first write below
		modeChangeTimeout:         timeout,
		autoReceiveAfterDetection: opts.AutoReceiveAfterDetection,
		modeCond:                  hal.NewCondWait(),
		txCond:                    hal.NewCondWait(),
		rxCond:                    hal.NewCondWait(),
		detCond:                   hal.NewCondWait(),
		log:                       logger,
	}

	// Put the chip in LoRa+sleep so register writes below are valid; no
	// IRQ line is wired yet, so this is a direct write, not setMode.
	if err := r.writeReg(regOpMode, opModeLoRaFlag|chipModeSleep); err != nil {
		return nil, fmt.Errorf("rfm9x: initial sleep write: %w", errIO(err))
	}
	r.chipMode = chipModeSleep

	version, err := r.readReg(regVersion)
	if err != nil {
		return nil, fmt.Errorf("rfm9x: read version: %w", errIO(err))
	}
	r.status.update(func(s *Status) { s.ChipVersion = version })
	r.log.Info(fmt.Sprintf("rfm9x: chip version %#x", version))

	for i := 0; i+1 < len(initRegs); i += 2 {
		if err := r.writeReg(initRegs[i], initRegs[i+1]); err != nil {
			return nil, fmt.Errorf("rfm9x: init registers: %w", errIO(err))
		}
	}

	if err := dio0.In(hal.PullNoChange, hal.NoEdge); err != nil {
		return nil, fmt.Errorf("rfm9x: configure dio0: %w", errIO(err))
	}
	if err := dio5.In(hal.PullNoChange, hal.NoEdge); err != nil {
		return nil, fmt.Errorf("rfm9x: configure dio5: %w", errIO(err))
	}
	if err := dio0.Watch(hal.RisingEdge, r.onDone); err != nil {
		return nil, fmt.Errorf("rfm9x: watch dio0: %w", errIO(err))
	}
	if err := dio5.Watch(hal.RisingEdge, r.onModeReady); err != nil {
		return nil, fmt.Errorf("rfm9x: watch dio5: %w", errIO(err))
	}

	if err := r.setMode(ModeStandby, initModeChangeTimeout); err != nil {
		return nil, fmt.Errorf("rfm9x: initial standby transition: %w", err)
	}

	return r, nil
}

type nopLogger struct{}

func (nopLogger) Debug(string) {}
func (nopLogger) Info(string)  {}
func (nopLogger) Warn(string)  {}
func (nopLogger) Error(string) {}

func errIO(err error) error { return fmt.Errorf("%v: %w", err, linkerr.ErrIO) }

// Configure applies a new pair of transmit/receive profiles. Safe only
// while the radio is idle (Sleep or Standby); otherwise returns ErrBusy.
func (r *Radio) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.driverState != ModeStandby && r.driverState != ModeSleep {
		return fmt.Errorf("rfm9x: configure while %v: %w", r.driverState, linkerr.ErrBusy)
	}
	r.cfg = cfg
	return nil
}

// SetFrequency amends one profile's carrier frequency. It takes effect the
// next time the driver transitions into that direction's mode.
func (r *Radio) SetFrequency(dir Direction, hz float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dir == Transmit {
		r.cfg.Transmit.Frequency = hz
	} else {
		r.cfg.Receive.Frequency = hz
	}
}

// Status returns a consistent, lock-free copy of the driver's counters and
// last-sampled readback values.
func (r *Radio) Status() Status {
	return r.status.snapshot()
}

// ReadStatus refreshes the modem-status readback fields (modem clear,
// header info valid, rx active, signal synchronized/detected) from the
// chip. It does not block on any mode condition.
func (r *Radio) ReadStatus() error {
	r.mu.Lock()
	v, err := r.readReg(regModemStat)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("rfm9x: read modem status: %w", errIO(err))
	}
	r.status.update(func(s *Status) {
		s.ModemClear = v&modemStatModemClear != 0
		s.HeaderInfoValid = v&modemStatHeaderInfoValid != 0
		s.RxActive = v&modemStatRxOngoing != 0
		s.SignalSynchronized = v&modemStatSignalSynchronized != 0
		s.SignalDetected = v&modemStatSignalDetected != 0
	})
	return nil
}

// Standby moves the radio to the idle Standby mode.
func (r *Radio) Standby() error {
	return r.setMode(ModeStandby, r.modeChangeTimeout)
}

// Sleep moves the radio to the lowest-power Sleep mode.
func (r *Radio) Sleep() error {
	return r.setMode(ModeSleep, r.modeChangeTimeout)
}

// Transmit loads payload into the chip FIFO and begins transmission,
// returning immediately. Completion is observed via WaitForTransmit.
func (r *Radio) Transmit(payload []byte) (int, error) {
	if len(payload) == 0 || len(payload) > MaxPacketLength {
		return 0, fmt.Errorf("rfm9x: payload length %d: %w", len(payload), linkerr.ErrInvalidArg)
	}

	r.mu.Lock()
	if err := r.writeReg(regFIFOAddrPtr, 0); err != nil {
		r.mu.Unlock()
		return 0, errIO(err)
	}
	if err := r.writeRegBurst(regFIFO, payload); err != nil {
		r.mu.Unlock()
		return 0, errIO(err)
	}
	if err := r.writeReg(regPayloadLen, byte(len(payload))); err != nil {
		r.mu.Unlock()
		return 0, errIO(err)
	}
	r.txPending = true
	r.mu.Unlock()

	if err := r.setMode(ModeTransmit, r.modeChangeTimeout); err != nil {
		r.mu.Lock()
		r.txPending = false
		r.mu.Unlock()
		return 0, err
	}
	return len(payload), nil
}

// WaitForTransmit blocks until the pending transmit completes or timeout
// elapses.
func (r *Radio) WaitForTransmit(timeout time.Duration) error {
	return r.waitFlag(r.txCond, &r.txPending, timeout)
}

// StartReceive puts the radio into ReceiveContinuous or ReceiveSingle.
func (r *Radio) StartReceive(continuous bool) error {
	r.mu.Lock()
	r.rxPending = true
	r.mu.Unlock()
	target := ModeReceiveSingle
	if continuous {
		target = ModeReceiveContinuous
	}
	if err := r.setMode(target, r.modeChangeTimeout); err != nil {
		r.mu.Lock()
		r.rxPending = false
		r.mu.Unlock()
		return err
	}
	return nil
}

// WaitForData blocks until a packet has been received or timeout elapses.
func (r *Radio) WaitForData(timeout time.Duration) error {
	return r.waitFlag(r.rxCond, &r.rxPending, timeout)
}

// StartDetection puts the radio into channel-activity detection.
func (r *Radio) StartDetection() error {
	r.mu.Lock()
	r.detPending = true
	r.mu.Unlock()
	if err := r.setMode(ModeDetection, r.modeChangeTimeout); err != nil {
		r.mu.Lock()
		r.detPending = false
		r.mu.Unlock()
		return err
	}
	return nil
}

// WaitForDetection blocks until channel activity is detected or timeout
// elapses.
func (r *Radio) WaitForDetection(timeout time.Duration) error {
	return r.waitFlag(r.detCond, &r.detPending, timeout)
}

// Receive must be called only after WaitForData returns success. It reads
// the chip FIFO, samples RSSI/SNR/frequency error, and updates counters.
func (r *Radio) Receive(buf []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	irq, err := r.readReg(regIRQFlags)
	if err != nil {
		return 0, errIO(err)
	}
	if irq&irqPayloadCRCErr != 0 {
		r.writeReg(regIRQFlags, 0xff)
		r.status.update(func(s *Status) { s.InvalidReceivedPacketCount++ })
		return 0, fmt.Errorf("rfm9x: chip payload crc: %w", linkerr.ErrCRC)
	}

	n, err := r.readReg(regRxNbBytes)
	if err != nil {
		return 0, errIO(err)
	}
	if int(n) > len(buf) {
		return 0, fmt.Errorf("rfm9x: receive buffer too small for %d bytes: %w", n, linkerr.ErrInvalidArg)
	}
	ptr, err := r.readReg(regFIFORxCurr)
	if err != nil {
		return 0, errIO(err)
	}
	if err := r.writeReg(regFIFOAddrPtr, ptr); err != nil {
		return 0, errIO(err)
	}
	if err := r.readRegBurst(regFIFO, buf[:n]); err != nil {
		return 0, errIO(err)
	}

	rawSNR, err := r.readReg(regPktSNR)
	if err != nil {
		return 0, errIO(err)
	}
	snr := float64(int8(rawSNR)) / 4

	rawRSSI, err := r.readReg(regPktRSSI)
	if err != nil {
		return 0, errIO(err)
	}
	base := rssiOffsetHF
	if !isHighFrequency(r.cfg.Receive.Frequency) {
		base = rssiOffsetLF
	}
	rssi := float64(base) + float64(rawRSSI)
	if snr < 0 {
		rssi += snr
	}

	fei, err := r.readReg24(regFEI)
	if err != nil {
		return 0, errIO(err)
	}
	freqErr := frequencyError(fei, r.cfg.Receive.Bandwidth.Hz())

	if err := r.writeReg(regIRQFlags, 0xff); err != nil {
		return 0, errIO(err)
	}

	r.status.update(func(s *Status) {
		s.ReceivedPacketCount++
		s.LastPacketRSSI = rssi
		s.LastPacketSNR = snr
		s.FrequencyError = freqErr
	})

	return int(n), nil
}

// waitFlag blocks until *flag becomes false (cleared by an interrupt
// handler under r.mu) or timeout elapses, rechecking the predicate on every
// wake the way a condition variable's waiter must.
func (r *Radio) waitFlag(cond *hal.CondWait, flag *bool, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		r.mu.Lock()
		done := !*flag
		r.mu.Unlock()
		if done {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("rfm9x: %w", linkerr.ErrTimeout)
		}
		cond.Wait(remaining)
	}
}

// setMode is the single routine through which every mode-bearing operation
// flows: skip if already there, apply mode-dependent registers, write the
// OpMode register, and wait on the mode-ready condition bounded by
// timeout. On timeout the cached state is force-updated to target.
func (r *Radio) setMode(target Mode, timeout time.Duration) error {
	r.mu.Lock()
	if r.driverState == target {
		r.mu.Unlock()
		return nil
	}
	if err := r.applyModeRegisters(target); err != nil {
		r.mu.Unlock()
		return errIO(err)
	}
	dir := Receive
	if target == ModeTransmit {
		dir = Transmit
	}
	lfFlag := byte(0)
	if !isHighFrequency(r.cfg.profile(dir).Frequency) {
		lfFlag = opModeLFFlag
	}
	raw := opModeLoRaFlag | lfFlag | chipOpModeFor(target)
	if err := r.writeReg(regOpMode, raw); err != nil {
		r.mu.Unlock()
		return errIO(err)
	}
	r.log.Debug(fmt.Sprintf("rfm9x: mode -> %v", target))
	r.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		r.mu.Lock()
		reached := r.driverState == target
		r.mu.Unlock()
		if reached {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		r.modeCond.Wait(remaining)
	}

	r.mu.Lock()
	r.driverState = target
	r.chipMode = chipOpModeFor(target)
	r.mu.Unlock()
	r.status.update(func(s *Status) {
		s.Mode = target
		s.ModeChangeTimeoutCount++
	})
	return fmt.Errorf("rfm9x: mode change to %v: %w", target, linkerr.ErrTimeout)
}

// applyModeRegisters writes the registers that depend on which mode is
// about to become active: the PA chain and modem configuration for
// transmit, the modem configuration for receive/detection, the DIO0
// interrupt mapping, and the carrier frequency for the relevant direction.
// The LNA register is not rewritten here; it keeps the value initRegs
// wrote at Open. Called with r.mu held.
func (r *Radio) applyModeRegisters(target Mode) error {
	switch target {
	case ModeTransmit:
		if err := r.applyDirectionConfig(r.cfg.Transmit); err != nil {
			return err
		}
		if err := r.applyPowerConfig(r.cfg.Transmit); err != nil {
			return err
		}
		return r.writeReg(regDIOMapping1, 0x40) // DIO0 = TxDone
	case ModeDetection:
		if err := r.applyDirectionConfig(r.cfg.Receive); err != nil {
			return err
		}
		return r.writeReg(regDIOMapping1, 0x80) // DIO0 = CadDone
	case ModeReceiveContinuous, ModeReceiveSingle:
		if err := r.applyDirectionConfig(r.cfg.Receive); err != nil {
			return err
		}
		return r.writeReg(regDIOMapping1, 0x00) // DIO0 = RxDone
	default:
		return r.writeReg(regDIOMapping1, 0xc0) // no DIO0 interrupt while idle
	}
}

// applyDirectionConfig writes the modem configuration registers for one
// direction's profile: bandwidth/coding-rate/header mode, spreading
// factor/CRC/symbol timeout, low-data-rate optimize, preamble, payload
// length, frequency, hop period, and IQ inversion.
func (r *Radio) applyDirectionConfig(c DirectionConfig) error {
	bwIdx := byte(c.Bandwidth)
	modemConfig1 := bwIdx<<4 | byte(c.ErrorCodingRate)<<1
	if c.ImplicitHeaderMode {
		modemConfig1 |= 0x01
	}
	if err := r.writeReg(regModemConfig1, modemConfig1); err != nil {
		return err
	}

	modemConfig2 := c.SpreadingFactor << 4
	if c.CRC {
		modemConfig2 |= 0x04
	}
	symTimeout := c.ReceiveTimeoutSymbols
	modemConfig2 |= byte(symTimeout>>8) & 0x03
	if err := r.writeReg(regModemConfig2, modemConfig2); err != nil {
		return err
	}
	if err := r.writeReg(regSymbTimeout, byte(symTimeout)); err != nil {
		return err
	}

	modemConfig3 := byte(0)
	if c.LowDataRateOptimize {
		modemConfig3 |= 0x08
	}
	modemConfig3 |= 0x04 // AGC auto on
	if err := r.writeReg(regModemConfig3, modemConfig3); err != nil {
		return err
	}

	if err := r.writeReg(regPreambleMSB, byte(c.PreambleLength>>8), byte(c.PreambleLength)); err != nil {
		return err
	}

	if c.ImplicitHeaderMode && c.ExpectedPayloadLength > 0 {
		if err := r.writeReg(regPayloadLen, c.ExpectedPayloadLength); err != nil {
			return err
		}
	}

	if c.FrequencyHopEnabled {
		if err := r.writeReg(regHopPeriod, c.FrequencyHopPeriod); err != nil {
			return err
		}
	} else {
		if err := r.writeReg(regHopPeriod, 0); err != nil {
			return err
		}
	}

	invert := byte(0x27) // datasheet default for non-inverted IQ
	if c.IQInverted {
		invert = 0x67
	}
	if err := r.writeReg(regInvertIQ, invert); err != nil {
		return err
	}

	return r.setFrequencyRegisters(c.Frequency)
}

// setFrequencyRegisters writes the 24-bit FRF register, computed per the
// SX1276 datasheet as round(freq_hz / (32 MHz / 2^19)), written MSB first.
func (r *Radio) setFrequencyRegisters(hz float64) error {
	if hz <= 0 {
		return nil
	}
	step := 32e6 / 524288.0 // 2^19
	frf := uint32(math.Round(hz / step))
	return r.writeReg(regFrfMSB, byte(frf>>16), byte(frf>>8), byte(frf))
}

// applyPowerConfig writes the PA chain registers for a transmit profile.
func (r *Radio) applyPowerConfig(c DirectionConfig) error {
	paConfig := c.PAMaxPower<<4 | c.PAOutputPower&0x0f
	padac := byte(0x04)
	if c.PABoost {
		paConfig |= 0x80
		if c.PAOutputPower >= 15 {
			padac = 0x07 // +20dBm boost
		}
	}
	if err := r.writeReg(regPADac, padac); err != nil {
		return err
	}
	return r.writeReg(regPAConfig, paConfig)
}

// frequencyError implements the spec's simplified FEI formula: the raw
// register is a signed 20-bit value, sign-extended from bit 19, scaled by
// bandwidth/500000, and negated so it can be added back to the carrier.
func frequencyError(raw uint32, bandwidthHz float64) float64 {
	raw &= 0xfffff
	signed := int32(raw)
	if raw&0x80000 != 0 {
		signed = int32(raw) - 0x100000
	}
	return -(float64(signed) * bandwidthHz) / 500000
}

// onDone is the interrupt handler for the DIO0 line: TX-done while
// transmitting, RX-done while receiving, CAD-done while detecting. Per the
// restricted-ISR-context design, it only flips flags, updates counters
// under the status mutex, and signals exactly one condition. Its only SPI
// transaction is the IRQ-flags read in detection mode; an automatic
// receive after detection is started on a separate goroutine.
func (r *Radio) onDone() {
	r.mu.Lock()
	state := r.driverState
	r.mu.Unlock()

	switch state {
	case ModeTransmit:
		r.status.update(func(s *Status) { s.TransmittedPacketCount++ })
		r.mu.Lock()
		r.txPending = false
		r.mu.Unlock()
		r.txCond.Signal()
	case ModeReceiveContinuous, ModeReceiveSingle:
		r.mu.Lock()
		r.rxPending = false
		r.mu.Unlock()
		r.rxCond.Signal()
	case ModeDetection:
		r.mu.Lock()
		irq, err := r.readReg(regIRQFlags)
		r.mu.Unlock()
		if err != nil {
			r.log.Warn("rfm9x: cad irq readback failed")
			return
		}
		if irq&irqCADDetect != 0 {
			r.status.update(func(s *Status) { s.DetectedPacketCount++ })
			r.mu.Lock()
			r.detPending = false
			auto := r.autoReceiveAfterDetection
			r.mu.Unlock()
			r.detCond.Signal()
			if auto {
				go func() { r.StartReceive(false) }()
			}
		}
	default:
		r.log.Warn(fmt.Sprintf("rfm9x: spurious dio0 interrupt in mode %v", state))
	}
}

// onModeReady is the interrupt handler for the DIO5 line: the chip asserts
// it whenever the OpMode register's requested mode has taken effect.
// Spurious edges are tolerated by re-reading the chip rather than trusting
// the interrupt alone.
func (r *Radio) onModeReady() {
	r.mu.Lock()
	raw, err := r.readReg(regOpMode)
	if err == nil {
		mode, ok := chipRawToMode[raw&0x07]
		if ok {
			r.driverState = mode
			r.chipMode = raw & 0x07
		}
	}
	r.mu.Unlock()
	if err == nil {
		r.status.update(func(s *Status) { s.Mode = r.driverState })
	}
	r.modeCond.Signal()
}

func (r *Radio) writeReg(addr byte, data ...byte) error {
	w := make([]byte, len(data)+1)
	rd := make([]byte, len(data)+1)
	w[0] = addr | 0x80
	copy(w[1:], data)
	return r.spi.Tx(w, rd)
}

func (r *Radio) writeRegBurst(addr byte, data []byte) error {
	return r.writeReg(addr, data...)
}

func (r *Radio) readReg(addr byte) (byte, error) {
	w := []byte{addr &^ 0x80, 0}
	rd := make([]byte, 2)
	if err := r.spi.Tx(w, rd); err != nil {
		return 0, err
	}
	return rd[1], nil
}

func (r *Radio) readRegBurst(addr byte, buf []byte) error {
	w := make([]byte, len(buf)+1)
	w[0] = addr &^ 0x80
	rd := make([]byte, len(buf)+1)
	if err := r.spi.Tx(w, rd); err != nil {
		return err
	}
	copy(buf, rd[1:])
	return nil
}

func (r *Radio) readReg24(addr byte) (uint32, error) {
	w := []byte{addr &^ 0x80, 0, 0, 0}
	rd := make([]byte, 4)
	if err := r.spi.Tx(w, rd); err != nil {
		return 0, err
	}
	return uint32(rd[1])<<16 | uint32(rd[2])<<8 | uint32(rd[3]), nil
}
