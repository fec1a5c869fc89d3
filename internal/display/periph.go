package display

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// spidev rejects single transfers larger than one page on most kernels.
const maxSPIChunk = 4096

// HardwareConfig names the SPI port and GPIO lines the panel is wired to.
type HardwareConfig struct {
	SPIDevice string
	SPIHz     int
	ResetPin  string
	DCPin     string
	BusyPin   string
}

var hostInitOnce sync.Once
var hostInitErr error

// OpenHardware claims the SPI port and GPIO control lines for the panel.
// This is the only place the process touches periph; everything above it
// works against the Bus and Pins interfaces.
//
// Returns ErrHardwareUnavailable (wrapped) when the platform has no such
// port or pins, which the Manager treats as a fallback-to-mock signal.
func OpenHardware(cfg HardwareConfig) (Bus, Pins, error) {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	if hostInitErr != nil {
		return nil, nil, fmt.Errorf("%w: initialising host drivers: %v", ErrHardwareUnavailable, hostInitErr)
	}

	port, err := spireg.Open(cfg.SPIDevice)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: opening SPI port %s: %v", ErrHardwareUnavailable, cfg.SPIDevice, err)
	}

	hz := cfg.SPIHz
	if hz <= 0 {
		hz = 4_000_000
	}
	conn, err := port.Connect(physic.Frequency(hz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, nil, fmt.Errorf("%w: configuring SPI port: %v", ErrHardwareUnavailable, err)
	}

	pins, err := claimPins(cfg)
	if err != nil {
		port.Close()
		return nil, nil, err
	}

	return &periphBus{port: port, conn: conn}, pins, nil
}

func claimPins(cfg HardwareConfig) (*periphPins, error) {
	reset := gpioreg.ByName(cfg.ResetPin)
	if reset == nil {
		return nil, fmt.Errorf("%w: no such pin %s", ErrHardwareUnavailable, cfg.ResetPin)
	}
	dc := gpioreg.ByName(cfg.DCPin)
	if dc == nil {
		return nil, fmt.Errorf("%w: no such pin %s", ErrHardwareUnavailable, cfg.DCPin)
	}
	busy := gpioreg.ByName(cfg.BusyPin)
	if busy == nil {
		return nil, fmt.Errorf("%w: no such pin %s", ErrHardwareUnavailable, cfg.BusyPin)
	}

	if err := reset.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("%w: configuring reset pin: %v", ErrHardwareUnavailable, err)
	}
	if err := dc.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("%w: configuring dc pin: %v", ErrHardwareUnavailable, err)
	}
	if err := busy.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("%w: configuring busy pin: %v", ErrHardwareUnavailable, err)
	}

	return &periphPins{reset: reset, dc: dc, busy: busy}, nil
}

// periphBus adapts a periph SPI connection to the Bus interface.
type periphBus struct {
	port spi.PortCloser
	conn spi.Conn
}

// Write clocks bytes out in chunks the kernel driver accepts.
func (b *periphBus) Write(p []byte) error {
	for len(p) > 0 {
		n := len(p)
		if n > maxSPIChunk {
			n = maxSPIChunk
		}
		if err := b.conn.Tx(p[:n], nil); err != nil {
			return fmt.Errorf("spi write: %w", err)
		}
		p = p[n:]
	}
	return nil
}

func (b *periphBus) Close() error {
	return b.port.Close()
}

// periphPins adapts periph GPIO pins to the Pins interface.
type periphPins struct {
	reset gpio.PinIO
	dc    gpio.PinIO
	busy  gpio.PinIO
}

func (p *periphPins) SetReset(high bool) error {
	return p.reset.Out(gpio.Level(high))
}

func (p *periphPins) SetDC(high bool) error {
	return p.dc.Out(gpio.Level(high))
}

func (p *periphPins) ReadBusy() (bool, error) {
	return p.busy.Read() == gpio.High, nil
}

func (p *periphPins) Close() error {
	// Halt returns the lines to a passive state; failures here are not
	// actionable.
	_ = p.reset.Halt()
	_ = p.dc.Halt()
	_ = p.busy.Halt()
	return nil
}
