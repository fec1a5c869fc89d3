package display

import (
	"fmt"
	"time"
)

// Native dimensions of the Waveshare 3.7" panel in portrait orientation.
const (
	PanelWidth  = 280
	PanelHeight = 480
)

// Panel command opcodes (UC8171 controller).
const (
	cmdPanelSetting     = 0x00
	cmdPowerOff         = 0x02
	cmdPowerOn          = 0x04
	cmdDeepSleep        = 0x07
	cmdDataStartOld     = 0x10
	cmdDisplayRefresh   = 0x12
	cmdDataStartNew     = 0x13
	cmdVCOMDataInterval = 0x50
	cmdResolution       = 0x61

	deepSleepCheck = 0xA5
)

const (
	busyPollInterval = 10 * time.Millisecond
	resetPulse       = 20 * time.Millisecond
	resetSettle      = 200 * time.Millisecond
)

// Bus is the SPI write path to the panel.
type Bus interface {
	// Write clocks bytes out to the panel. The implementation chunks
	// transfers to respect the transport's maximum frame size.
	Write(p []byte) error
	Close() error
}

// Pins drives the panel's control lines.
type Pins interface {
	// SetReset drives the active-low reset line.
	SetReset(high bool) error

	// SetDC selects command (low) or data (high) for subsequent writes.
	SetDC(high bool) error

	// ReadBusy reports the busy line. True means the panel is still
	// processing and must not receive further commands.
	ReadBusy() (bool, error)

	Close() error
}

// PanelConfig carries the driver's tunables.
type PanelConfig struct {
	// BusyTimeout bounds every busy-wait. Exceeding it abandons the
	// operation with ErrBusyTimeout.
	BusyTimeout time.Duration
}

// Panel drives a Waveshare 3.7" e-paper panel over an injected SPI bus
// and control lines. Not safe for concurrent use; the Manager serialises
// all calls.
type Panel struct {
	bus    Bus
	pins   Pins
	cfg    PanelConfig
	logger Logger

	initialized bool
	closed      bool
}

// NewPanel creates a panel driver over the given bus and control lines.
// The caller retains responsibility for calling Close.
func NewPanel(bus Bus, pins Pins, cfg PanelConfig) *Panel {
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 10 * time.Second
	}
	return &Panel{
		bus:    bus,
		pins:   pins,
		cfg:    cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for panel operations.
func (p *Panel) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Init resets the panel and runs the power-on sequence. Also used to
// wake the panel from deep sleep.
func (p *Panel) Init() error {
	if p.closed {
		return ErrClosed
	}

	if err := p.reset(); err != nil {
		return fmt.Errorf("resetting panel: %w", err)
	}

	if err := p.sendCommand(cmdPowerOn); err != nil {
		return fmt.Errorf("powering on: %w", err)
	}
	if err := p.waitUntilIdle(); err != nil {
		return fmt.Errorf("waiting for power-on: %w", err)
	}

	// 1-bit black/white mode, LUT from OTP, scan direction for portrait.
	if err := p.sendCommand(cmdPanelSetting, 0x1F); err != nil {
		return fmt.Errorf("panel setting: %w", err)
	}

	if err := p.sendCommand(cmdResolution,
		byte(PanelWidth>>8), byte(PanelWidth&0xFF),
		byte(PanelHeight>>8), byte(PanelHeight&0xFF),
	); err != nil {
		return fmt.Errorf("setting resolution: %w", err)
	}

	if err := p.sendCommand(cmdVCOMDataInterval, 0x97); err != nil {
		return fmt.Errorf("vcom setting: %w", err)
	}

	p.initialized = true
	p.logger.Debug("panel initialized")
	return nil
}

// Clear repaints the whole panel white and refreshes.
func (p *Panel) Clear() error {
	if err := p.checkReady(); err != nil {
		return err
	}

	blank := newWhiteBuffer(PanelWidth, PanelHeight)
	if err := p.writeFrame(cmdDataStartOld, blank); err != nil {
		return err
	}
	if err := p.writeFrame(cmdDataStartNew, blank); err != nil {
		return err
	}
	return p.refresh()
}

// DisplayText rasterises text and refreshes the panel.
func (p *Panel) DisplayText(req TextRequest) error {
	if err := p.checkReady(); err != nil {
		return err
	}

	buf := rasterizeText(req, PanelWidth, PanelHeight)
	if err := p.writeFrame(cmdDataStartNew, buf); err != nil {
		return err
	}
	return p.refresh()
}

// DisplayImage decodes, rasterises and displays an image payload.
func (p *Panel) DisplayImage(req ImageRequest) error {
	if err := p.checkReady(); err != nil {
		return err
	}
	if len(req.Data) == 0 {
		return ErrNoImageData
	}

	img, err := decodeImage(req.Data)
	if err != nil {
		return err
	}

	buf := rasterizeImage(img, PanelWidth, PanelHeight)
	if err := p.writeFrame(cmdDataStartNew, buf); err != nil {
		return err
	}
	return p.refresh()
}

// Sleep powers the panel down and enters deep sleep. Drawing again
// requires Init.
func (p *Panel) Sleep() error {
	if err := p.checkReady(); err != nil {
		return err
	}

	if err := p.sendCommand(cmdPowerOff); err != nil {
		return fmt.Errorf("powering off: %w", err)
	}
	if err := p.waitUntilIdle(); err != nil {
		return fmt.Errorf("waiting for power-off: %w", err)
	}
	if err := p.sendCommand(cmdDeepSleep, deepSleepCheck); err != nil {
		return fmt.Errorf("entering deep sleep: %w", err)
	}

	p.initialized = false
	p.logger.Debug("panel sleeping")
	return nil
}

// Close releases the bus and control lines. Idempotent.
func (p *Panel) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.initialized = false

	var firstErr error
	if err := p.bus.Close(); err != nil {
		firstErr = fmt.Errorf("closing bus: %w", err)
	}
	if err := p.pins.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing pins: %w", err)
	}
	return firstErr
}

// Info describes the hardware backend.
func (p *Panel) Info() DeviceInfo {
	return DeviceInfo{
		Model:  "waveshare_3in7",
		Width:  PanelWidth,
		Height: PanelHeight,
		Mock:   false,
	}
}

func (p *Panel) checkReady() error {
	if p.closed {
		return ErrClosed
	}
	if !p.initialized {
		return ErrNotInitialized
	}
	return nil
}

// reset pulses the active-low reset line and lets the controller settle.
func (p *Panel) reset() error {
	steps := []bool{true, false, true}
	for _, level := range steps {
		if err := p.pins.SetReset(level); err != nil {
			return err
		}
		if level {
			time.Sleep(resetSettle)
		} else {
			time.Sleep(resetPulse)
		}
	}
	return nil
}

// sendCommand writes an opcode with DC low, then any data bytes with DC
// high.
func (p *Panel) sendCommand(opcode byte, data ...byte) error {
	if err := p.pins.SetDC(false); err != nil {
		return err
	}
	if err := p.bus.Write([]byte{opcode}); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return p.sendData(data)
}

// sendData writes payload bytes with DC high.
func (p *Panel) sendData(data []byte) error {
	if err := p.pins.SetDC(true); err != nil {
		return err
	}
	return p.bus.Write(data)
}

// writeFrame streams a packed 1-bit frame buffer after the given data
// start opcode.
func (p *Panel) writeFrame(opcode byte, frame []byte) error {
	if err := p.sendCommand(opcode); err != nil {
		return fmt.Errorf("starting frame transfer: %w", err)
	}
	if err := p.sendData(frame); err != nil {
		return fmt.Errorf("writing frame data: %w", err)
	}
	return nil
}

// refresh triggers a display update and waits for completion.
func (p *Panel) refresh() error {
	if err := p.sendCommand(cmdDisplayRefresh); err != nil {
		return fmt.Errorf("triggering refresh: %w", err)
	}
	return p.waitUntilIdle()
}

// waitUntilIdle polls the busy line until the panel is idle or the
// configured timeout elapses. The bound guarantees a wedged panel cannot
// stall command processing indefinitely.
func (p *Panel) waitUntilIdle() error {
	deadline := time.Now().Add(p.cfg.BusyTimeout)
	for {
		busy, err := p.pins.ReadBusy()
		if err != nil {
			return fmt.Errorf("reading busy line: %w", err)
		}
		if !busy {
			return nil
		}
		if time.Now().After(deadline) {
			p.logger.Warn("busy-wait timed out", "timeout", p.cfg.BusyTimeout)
			return ErrBusyTimeout
		}
		time.Sleep(busyPollInterval)
	}
}
