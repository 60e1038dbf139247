package rfm9x

import (
	"testing"
	"time"

	"github.com/loraert/ert/hal"
	"github.com/stretchr/testify/require"
)

// fakeSPI models enough of the SX127x register file to drive Open and a
// transmit/receive round trip: a flat register array plus a separate FIFO
// buffer, since the real chip keeps the FIFO addressing independent of
// the rest of the register space.
type fakeSPI struct {
	regs    [0x80]byte
	fifo    []byte
	fifoPtr int
}

func newFakeSPI() *fakeSPI {
	s := &fakeSPI{}
	s.regs[regVersion] = 0x12
	return s
}

func (s *fakeSPI) Tx(w, r []byte) error {
	addr := w[0] &^ 0x80
	write := w[0]&0x80 != 0

	if addr == regFIFO {
		if write {
			s.fifo = append(s.fifo[:0:0], w[1:]...)
		} else {
			for i := 1; i < len(r); i++ {
				if i-1 < len(s.fifo) {
					r[i] = s.fifo[i-1]
				}
			}
		}
		return nil
	}

	if write {
		for i, b := range w[1:] {
			s.regs[int(addr)+i] = b
		}
		return nil
	}
	for i := range r[1:] {
		r[i+1] = s.regs[int(addr)+i]
	}
	return nil
}

// fakePin is an hal.Pin that records the last watch handler so tests can
// fire interrupts synchronously.
type fakePin struct {
	level   hal.Level
	handler func()
}

func (p *fakePin) Out(l hal.Level) error { p.level = l; return nil }
func (p *fakePin) In(hal.Pull, hal.Edge) error { return nil }
func (p *fakePin) Read() hal.Level { return p.level }
func (p *fakePin) Watch(edge hal.Edge, handler func()) error {
	p.handler = handler
	return nil
}
func (p *fakePin) Unwatch() error { p.handler = nil; return nil }

func testConfig() Config {
	dir := DirectionConfig{
		PABoost:         true,
		PAOutputPower:   14,
		Frequency:       434e6,
		ErrorCodingRate: CodingRate4_5,
		Bandwidth:       Bandwidth125K,
		SpreadingFactor: 8,
		CRC:             true,
		PreambleLength:  8,
	}
	return Config{Transmit: dir, Receive: dir}
}

func openTestRadio(t *testing.T) (*Radio, *fakeSPI, *fakePin, *fakePin) {
	t.Helper()
	spi := newFakeSPI()
	dio0 := &fakePin{}
	dio5 := &fakePin{}

	// Open blocks in setMode(ModeStandby) waiting for the mode-ready
	// condition; satisfy it from a goroutine that fires dio5 once the
	// Standby OpMode write has reached the chip.
	done := make(chan struct{})
	go func() {
		for spi.regs[regOpMode]&0x07 != chipModeStandby {
			time.Sleep(time.Millisecond)
		}
		dio5.handler()
		close(done)
	}()

	r, err := Open(spi, dio0, dio5, testConfig(), Options{ModeChangeTimeout: time.Second})
	require.NoError(t, err)
	<-done
	return r, spi, dio0, dio5
}

func TestOpenReachesStandby(t *testing.T) {
	r, _, _, _ := openTestRadio(t)
	require.Equal(t, ModeStandby, r.Status().Mode)
	require.EqualValues(t, 0x12, r.Status().ChipVersion)
}

func TestValidateRejectsSpreadingFactor6WithoutImplicitHeader(t *testing.T) {
	cfg := testConfig()
	cfg.Transmit.SpreadingFactor = 6
	cfg.Transmit.ImplicitHeaderMode = false
	err := cfg.Validate()
	require.Error(t, err)
}

func TestTransmitRoundTrip(t *testing.T) {
	r, spi, dio0, dio5 := openTestRadio(t)

	go func() {
		for spi.regs[regOpMode]&0x07 != chipModeTx {
			time.Sleep(time.Millisecond)
		}
		dio5.handler() // mode-ready: Standby -> Transmit
		for dio0.handler == nil {
			time.Sleep(time.Millisecond)
		}
		dio0.handler() // TxDone
	}()

	n, err := r.Transmit([]byte("hi"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, r.WaitForTransmit(time.Second))
	require.EqualValues(t, 1, r.Status().TransmittedPacketCount)
}

func TestReceiveCRCError(t *testing.T) {
	r, spi, _, _ := openTestRadio(t)
	spi.regs[regIRQFlags] = irqPayloadCRCErr

	_, err := r.Receive(make([]byte, 16))
	require.ErrorContains(t, err, "crc")
	require.EqualValues(t, 1, r.Status().InvalidReceivedPacketCount)
}

func TestFrequencyErrorSignExtension(t *testing.T) {
	// A raw value with bit 19 set is negative; verify the sign-extended
	// magnitude scales by bandwidth/500000 and is negated.
	fe := frequencyError(0x80000, 125000)
	require.InDelta(t, 131072.0, fe, 0.01)
}
