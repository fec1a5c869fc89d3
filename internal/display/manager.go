package display

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the device manager's lifecycle state.
type State string

// Manager lifecycle states.
const (
	StateUninitialized  State = "uninitialized"
	StateAcquiring      State = "acquiring"
	StateHardwareActive State = "hardware_active"
	StateMockActive     State = "mock_active"
	StateClosing        State = "closing"
	StateClosed         State = "closed"
)

// ConflictInspector checks for and optionally removes other processes
// holding the GPIO chip. Implemented by internal/hardware.
type ConflictInspector interface {
	// Check reports whether another process holds the chip, with a
	// human-readable detail string for logging.
	Check(ctx context.Context) (busy bool, detail string, err error)

	// Terminate removes conflicting holders. Only called when the
	// operator opted in to force-kill.
	Terminate(ctx context.Context) error
}

// Telemetry receives manager state transitions. Implemented by the
// InfluxDB client; a no-op default is used when telemetry is disabled.
type Telemetry interface {
	WriteDeviceState(from, to string)
}

type noopTelemetry struct{}

func (noopTelemetry) WriteDeviceState(string, string) {}

// ManagerConfig carries the acquisition and refresh policy.
type ManagerConfig struct {
	// MockMode skips hardware acquisition entirely.
	MockMode bool

	// MaxInitRetries bounds hardware acquisition attempts before
	// falling back to the mock backend.
	MaxInitRetries int

	// RetryDelay is the pause between acquisition attempts.
	RetryDelay time.Duration

	// ForceKillConflicts permits terminating processes that hold the
	// GPIO chip.
	ForceKillConflicts bool

	// FullRefreshInterval forces a full clear-and-redraw every N image
	// updates to prevent ghosting. Zero disables the cadence.
	FullRefreshInterval int

	// ClearOnFullRefresh repaints white before a forced full refresh.
	ClearOnFullRefresh bool
}

// Request is one display operation for Execute.
type Request struct {
	Action string
	Text   TextRequest
	Image  ImageRequest

	// ForceFullRefresh clears before drawing and resets the refresh
	// cadence counter.
	ForceFullRefresh bool
}

// StatusInfo is the manager's externally visible state.
type StatusInfo struct {
	State     State      `json:"state"`
	Mock      bool       `json:"mock"`
	Device    DeviceInfo `json:"device"`
	LastError string     `json:"last_error,omitempty"`
}

// Manager owns the display device exclusively. It acquires hardware with
// bounded retries, falls back to the mock backend so the service always
// comes up, executes operations one at a time, and recovers from
// hardware faults by reacquiring once per command.
type Manager struct {
	cfg       ManagerConfig
	factory   func() (Device, error)
	mockMaker func() Device
	inspector ConflictInspector
	logger    Logger
	telemetry Telemetry

	mu          sync.Mutex
	device      Device
	state       State
	updateCount int
	lastErr     error
}

// NewManager creates a device manager.
//
// Parameters:
//   - cfg: Acquisition and refresh policy
//   - factory: Opens and returns the hardware backend. May be nil in
//     mock-only deployments.
//
// Returns:
//   - *Manager: Manager in the uninitialized state
func NewManager(cfg ManagerConfig, factory func() (Device, error)) *Manager {
	if cfg.MaxInitRetries <= 0 {
		cfg.MaxInitRetries = 3
	}
	return &Manager{
		cfg:       cfg,
		factory:   factory,
		mockMaker: func() Device { return NewMock() },
		logger:    noopLogger{},
		telemetry: noopTelemetry{},
		state:     StateUninitialized,
	}
}

// SetLogger sets the logger for manager events.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SetTelemetry sets the telemetry sink for state transitions.
func (m *Manager) SetTelemetry(t Telemetry) {
	if t != nil {
		m.telemetry = t
	}
}

// SetInspector sets the GPIO conflict inspector consulted before each
// hardware acquisition attempt.
func (m *Manager) SetInspector(i ConflictInspector) {
	m.inspector = i
}

// SetMockFactory overrides how the fallback device is built.
func (m *Manager) SetMockFactory(f func() Device) {
	if f != nil {
		m.mockMaker = f
	}
}

// Acquire obtains a working display device. Hardware is attempted up to
// MaxInitRetries times with RetryDelay between attempts; on exhaustion
// (or when mock mode is configured) the mock backend is installed
// instead. Acquire never fails: the service always starts.
//
// Returns:
//   - State: StateHardwareActive or StateMockActive
func (m *Manager) Acquire(ctx context.Context) State {
	m.setState(StateAcquiring)

	if !m.cfg.MockMode && m.factory != nil {
		if dev, ok := m.acquireHardware(ctx); ok {
			m.install(dev, StateHardwareActive)
			return StateHardwareActive
		}
	} else if m.cfg.MockMode {
		m.logger.Info("mock mode configured, skipping hardware")
	}

	mock := m.mockMaker()
	if err := mock.Init(); err != nil {
		// The stock mock cannot fail init; an injected one might.
		m.logger.Error("mock init failed", "error", err)
	}
	m.install(mock, StateMockActive)
	return StateMockActive
}

// acquireHardware runs the bounded retry loop. Each attempt inspects for
// GPIO conflicts, opens the backend, and runs an init-plus-clear
// self-test before declaring the panel usable.
func (m *Manager) acquireHardware(ctx context.Context) (Device, bool) {
	for attempt := 1; attempt <= m.cfg.MaxInitRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, false
		}

		m.inspectConflicts(ctx)

		dev, err := m.tryHardwareOnce()
		if err == nil {
			m.logger.Info("hardware display acquired", "attempt", attempt)
			return dev, true
		}

		m.recordError(err)
		m.logger.Warn("hardware acquisition failed",
			"attempt", attempt,
			"max_attempts", m.cfg.MaxInitRetries,
			"error", err)

		if attempt < m.cfg.MaxInitRetries {
			select {
			case <-ctx.Done():
				return nil, false
			case <-time.After(m.cfg.RetryDelay):
			}
		}
	}

	m.logger.Warn("hardware unavailable, falling back to mock display")
	return nil, false
}

// tryHardwareOnce opens the hardware backend and self-tests it. A
// partially working device is closed before the error is returned.
func (m *Manager) tryHardwareOnce() (Device, error) {
	dev, err := m.factory()
	if err != nil {
		return nil, fmt.Errorf("opening hardware: %w", err)
	}
	if err := dev.Init(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("initializing hardware: %w", err)
	}
	if err := dev.Clear(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("self-test clear: %w", err)
	}
	return dev, nil
}

// inspectConflicts logs any process holding the GPIO chip and, when
// permitted, terminates it. Inspection failures never block acquisition.
func (m *Manager) inspectConflicts(ctx context.Context) {
	if m.inspector == nil {
		return
	}

	busy, detail, err := m.inspector.Check(ctx)
	if err != nil {
		m.logger.Debug("gpio conflict check failed", "error", err)
		return
	}
	if !busy {
		return
	}

	m.logger.Warn("gpio chip held by another process", "detail", detail)
	if !m.cfg.ForceKillConflicts {
		return
	}
	if err := m.inspector.Terminate(ctx); err != nil {
		m.logger.Warn("terminating gpio holders failed", "error", err)
	}
}

// Execute runs one display operation. On a hardware error the manager
// reacquires (which may land on mock) and retries the operation exactly
// once; the retry's outcome is final.
//
// Parameters:
//   - ctx: Context for the reacquisition path
//   - req: The operation to perform
//
// Returns:
//   - string: Human-readable success message
//   - error: nil on success
func (m *Manager) Execute(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	dev := m.device
	hardware := m.state == StateHardwareActive
	m.mu.Unlock()

	if dev == nil {
		return "", ErrNotInitialized
	}

	msg, err := m.run(dev, req)
	if err == nil || !hardware {
		m.recordError(err)
		return msg, err
	}

	m.logger.Warn("hardware operation failed, reacquiring", "action", req.Action, "error", err)
	m.closeDevice()
	m.Acquire(ctx)

	m.mu.Lock()
	dev = m.device
	m.mu.Unlock()

	msg, err = m.run(dev, req)
	m.recordError(err)
	return msg, err
}

// run maps an action onto the device, applying the full-refresh cadence
// to image updates.
func (m *Manager) run(dev Device, req Request) (string, error) {
	switch req.Action {
	case "clear":
		if err := dev.Clear(); err != nil {
			return "", err
		}
		m.resetRefreshCounter()
		return "Display cleared", nil

	case "display_text":
		if err := dev.DisplayText(withTextDefaults(req.Text)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Displayed text: %s", req.Text.Text), nil

	case "display_image":
		if m.needsFullRefresh(req.ForceFullRefresh) {
			if err := dev.Clear(); err != nil {
				return "", err
			}
		}
		if err := dev.DisplayImage(req.Image); err != nil {
			return "", err
		}
		return "Image displayed", nil

	case "sleep":
		if err := dev.Sleep(); err != nil {
			return "", err
		}
		return "Display put to sleep", nil

	case "wake":
		if err := dev.Init(); err != nil {
			return "", err
		}
		return "Display woken up", nil

	default:
		return "", fmt.Errorf("unknown action: %s", req.Action)
	}
}

// needsFullRefresh advances the image-update counter and reports whether
// this update must be preceded by a clear.
func (m *Manager) needsFullRefresh(forced bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateCount++
	full := forced
	if m.cfg.FullRefreshInterval > 0 && m.updateCount >= m.cfg.FullRefreshInterval {
		full = true
	}
	if full {
		m.updateCount = 0
	}
	return full && m.cfg.ClearOnFullRefresh
}

func (m *Manager) resetRefreshCounter() {
	m.mu.Lock()
	m.updateCount = 0
	m.mu.Unlock()
}

// Status reports the manager's current state for the status action.
func (m *Manager) Status() StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := StatusInfo{
		State: m.state,
		Mock:  m.state == StateMockActive,
	}
	if m.device != nil {
		info.Device = m.device.Info()
	}
	if m.lastErr != nil {
		info.LastError = m.lastErr.Error()
	}
	return info
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Release puts the panel to sleep, closes the device, and moves to the
// closed state. Safe to call multiple times and from any state.
func (m *Manager) Release() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.setState(StateClosing)

	m.mu.Lock()
	dev := m.device
	m.device = nil
	m.mu.Unlock()

	var err error
	if dev != nil {
		if sleepErr := dev.Sleep(); sleepErr != nil {
			m.logger.Debug("sleep on release failed", "error", sleepErr)
		}
		err = dev.Close()
	}

	m.setState(StateClosed)
	return err
}

// install sets the active device and transitions state.
func (m *Manager) install(dev Device, state State) {
	m.mu.Lock()
	m.device = dev
	m.updateCount = 0
	m.mu.Unlock()
	m.setState(state)
}

// closeDevice closes and detaches the current device without a state
// change; used on the reacquire path.
func (m *Manager) closeDevice() {
	m.mu.Lock()
	dev := m.device
	m.device = nil
	m.mu.Unlock()

	if dev != nil {
		if err := dev.Close(); err != nil {
			m.logger.Debug("closing failed device", "error", err)
		}
	}
}

func (m *Manager) setState(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()

	if from == to {
		return
	}
	m.logger.Info("display state changed", "from", string(from), "to", string(to))
	m.telemetry.WriteDeviceState(string(from), string(to))
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// withTextDefaults fills zero-valued text request fields with the
// historical defaults.
func withTextDefaults(req TextRequest) TextRequest {
	if req.X == 0 {
		req.X = 10
	}
	if req.Y == 0 {
		req.Y = 10
	}
	if req.FontSize == 0 {
		req.FontSize = 24
	}
	if req.TextColor == "" {
		req.TextColor = "black"
	}
	if req.BackgroundColor == "" {
		req.BackgroundColor = "white"
	}
	return req
}
