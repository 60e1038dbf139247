package hal

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Init brings up periph.io's host drivers. Every process that opens a real
// SPI bus or GPIO pin must call this once before doing so; a cmd binary
// driving real hardware does so in main before calling OpenSPI/OpenPin.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("hal: periph host init: %w", err)
	}
	return nil
}

// OpenSPI opens the named SPI bus device (e.g. "/dev/spidev0.0") at the
// given clock rate in 8-bit SPI mode 0, the mode and word size every
// SX127x register transaction uses.
func OpenSPI(busPath string, clockHz int64) (SPI, error) {
	port, err := spireg.Open(busPath)
	if err != nil {
		return nil, fmt.Errorf("hal: open spi bus %s: %w", busPath, err)
	}
	conn, err := port.Connect(physic.Frequency(clockHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("hal: connect spi bus %s: %w", busPath, err)
	}
	return NewSPI(conn), nil
}

// OpenPin looks up a GPIO pin by its periph.io name (e.g. "GPIO22").
func OpenPin(name string) (Pin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("hal: no such gpio pin %q", name)
	}
	return NewPin(p), nil
}

// periphSPI adapts a periph.io spi.Conn to the SPI interface.
type periphSPI struct {
	conn spi.Conn
}

// NewSPI wraps an already-configured periph.io SPI connection.
func NewSPI(conn spi.Conn) SPI {
	return &periphSPI{conn: conn}
}

func (s *periphSPI) Tx(w, r []byte) error {
	return s.conn.Tx(w, r)
}

// periphPin adapts a periph.io gpio.PinIO to the Pin interface, translating
// the blocking WaitForEdge API into a watch-with-callback goroutine.
type periphPin struct {
	pin  gpio.PinIO
	stop chan struct{}
}

// NewPin wraps a periph.io GPIO pin.
func NewPin(pin gpio.PinIO) Pin {
	return &periphPin{pin: pin}
}

func toPeriphLevel(l Level) gpio.Level {
	if l == High {
		return gpio.High
	}
	return gpio.Low
}

func fromPeriphLevel(l gpio.Level) Level {
	return l == gpio.High
}

func toPeriphPull(p Pull) gpio.Pull {
	switch p {
	case PullFloat:
		return gpio.Float
	case PullDown:
		return gpio.PullDown
	case PullUp:
		return gpio.PullUp
	default:
		return gpio.PullNoChange
	}
}

func toPeriphEdge(e Edge) gpio.Edge {
	switch e {
	case RisingEdge:
		return gpio.RisingEdge
	case FallingEdge:
		return gpio.FallingEdge
	case BothEdges:
		return gpio.BothEdges
	default:
		return gpio.NoEdge
	}
}

func (p *periphPin) Out(l Level) error {
	return p.pin.Out(toPeriphLevel(l))
}

func (p *periphPin) In(pull Pull, edge Edge) error {
	return p.pin.In(toPeriphPull(pull), toPeriphEdge(edge))
}

func (p *periphPin) Read() Level {
	return fromPeriphLevel(p.pin.Read())
}

// Watch arms edge on the pin and runs handler on a dedicated goroutine for
// every transition observed, until Unwatch is called. It is the same
// WaitForEdge-to-callback bridge the radio driver's own interrupt worker
// would otherwise have to reimplement inline.
func (p *periphPin) Watch(edge Edge, handler func()) error {
	if err := p.pin.In(toPeriphPull(PullNoChange), toPeriphEdge(edge)); err != nil {
		return fmt.Errorf("hal: arm edge watch: %w", err)
	}
	p.stop = make(chan struct{})
	stop := p.stop
	go func() {
		for {
			if p.pin.WaitForEdge(-1) {
				select {
				case <-stop:
					return
				default:
					handler()
				}
			} else {
				select {
				case <-stop:
					return
				default:
				}
			}
		}
	}()
	return nil
}

func (p *periphPin) Unwatch() error {
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	return p.pin.In(gpio.PullNoChange, gpio.NoEdge)
}
