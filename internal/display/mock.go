package display

import (
	"fmt"
	"sync"
	"time"
)

// Mock is the in-memory display backend. It records every operation so
// tests and diagnostics can observe what would have been drawn, and it
// supports failure injection and simulated busy-wait hangs.
//
// Like the hardware backend it is not safe for concurrent use; it counts
// overlapping calls so tests can assert the dispatcher never issues two
// device operations at once.
type Mock struct {
	mu          sync.Mutex
	initialized bool
	closed      bool
	ops         []string
	lastText    TextRequest
	lastImage   int

	inFlight int
	overlaps int

	// OpDelay, when set, is slept inside every drawing operation to
	// simulate panel refresh time.
	OpDelay time.Duration

	// FailInits makes the first N Init calls return an error, for
	// exercising the acquisition retry loop.
	FailInits int

	// FailOps injects an error for a named operation (clear,
	// display_text, display_image, sleep). The error is returned on
	// every call until the entry is removed.
	FailOps map[string]error

	// HangFor simulates a stuck busy line: drawing operations block for
	// this long. When BusyTimeout is set and shorter, the operation
	// returns ErrBusyTimeout after BusyTimeout instead.
	HangFor     time.Duration
	BusyTimeout time.Duration
}

// NewMock creates a mock device with the panel's native dimensions.
func NewMock() *Mock {
	return &Mock{FailOps: map[string]error{}}
}

// Init marks the device initialized, honouring FailInits.
func (m *Mock) Init() error {
	defer m.enter("init")()

	if m.FailInits > 0 {
		m.FailInits--
		return fmt.Errorf("mock init failure injected (%d remaining)", m.FailInits)
	}
	m.initialized = true
	return nil
}

// Clear records a clear operation.
func (m *Mock) Clear() error {
	defer m.enter("clear")()
	return m.operate("clear")
}

// DisplayText records a text operation.
func (m *Mock) DisplayText(req TextRequest) error {
	defer m.enter(fmt.Sprintf("display_text:%s", req.Text))()

	if err := m.operate("display_text"); err != nil {
		return err
	}
	m.lastText = req
	return nil
}

// DisplayImage records an image operation.
func (m *Mock) DisplayImage(req ImageRequest) error {
	defer m.enter("display_image")()

	if len(req.Data) == 0 {
		return ErrNoImageData
	}
	if err := m.operate("display_image"); err != nil {
		return err
	}
	m.lastImage = len(req.Data)
	return nil
}

// Sleep records a sleep operation. The device requires Init before
// further drawing, matching the hardware backend.
func (m *Mock) Sleep() error {
	defer m.enter("sleep")()

	if err := m.operate("sleep"); err != nil {
		return err
	}
	m.initialized = false
	return nil
}

// Close marks the device closed. Idempotent.
func (m *Mock) Close() error {
	defer m.enter("close")()

	m.closed = true
	m.initialized = false
	return nil
}

// Info describes the mock backend.
func (m *Mock) Info() DeviceInfo {
	return DeviceInfo{
		Model:  "mock",
		Width:  PanelWidth,
		Height: PanelHeight,
		Mock:   true,
	}
}

// Ops returns a copy of the recorded operation log.
func (m *Mock) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.ops))
	copy(out, m.ops)
	return out
}

// LastText returns the most recent text request.
func (m *Mock) LastText() TextRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastText
}

// Overlaps reports how many calls arrived while another call was still
// in flight. A correctly serialised dispatcher keeps this at zero.
func (m *Mock) Overlaps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlaps
}

// Closed reports whether Close has been called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// enter records the operation, tracks overlapping callers, and returns
// the matching exit func.
func (m *Mock) enter(op string) func() {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > 1 {
		m.overlaps++
	}
	m.ops = append(m.ops, op)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}
}

// operate applies the common drawing-operation behaviour: closed and
// initialization checks, injected failures, delays and simulated hangs.
func (m *Mock) operate(op string) error {
	if m.closed {
		return ErrClosed
	}
	if !m.initialized {
		return ErrNotInitialized
	}
	if err, ok := m.FailOps[op]; ok {
		return err
	}
	if m.HangFor > 0 {
		if m.BusyTimeout > 0 && m.HangFor > m.BusyTimeout {
			time.Sleep(m.BusyTimeout)
			return ErrBusyTimeout
		}
		time.Sleep(m.HangFor)
	}
	if m.OpDelay > 0 {
		time.Sleep(m.OpDelay)
	}
	return nil
}
