package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/totemize/einkd/internal/display"
)

// Config carries the lifecycle controller's settings.
type Config struct {
	Listener ListenerConfig

	// PollInterval is the dispatcher's idle sleep between queue checks.
	PollInterval time.Duration

	// StartupTimeout bounds the wait for the listener to become ready.
	StartupTimeout time.Duration

	// ShutdownTimeout bounds worker joins during Stop.
	ShutdownTimeout time.Duration

	// InactivityTimeout is how long without a processed command before
	// the watchdog logs a health warning. Zero disables the watchdog.
	InactivityTimeout time.Duration
}

// Service owns the command pipeline's lifecycle: ordered startup of
// device acquisition, dispatcher and listener; an inactivity watchdog;
// and ordered, idempotent shutdown.
type Service struct {
	cfg        Config
	manager    *display.Manager
	queue      *Queue
	dispatcher *Dispatcher
	listener   *Listener
	logger     Logger

	mu      sync.Mutex
	started bool
	stopped bool

	cancel         context.CancelFunc
	dispatcherDone chan struct{}
	listenerDone   chan struct{}
	watchdogDone   chan struct{}
	listenerErr    chan error
}

// New creates the service around an already-constructed device manager.
func New(cfg Config, manager *display.Manager) *Service {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 3 * time.Second
	}

	queue := NewQueue()
	return &Service{
		cfg:        cfg,
		manager:    manager,
		queue:      queue,
		dispatcher: NewDispatcher(queue, manager, cfg.PollInterval),
		listener:   NewListener(cfg.Listener, queue),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the service and its workers.
func (s *Service) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	s.logger = logger
	s.dispatcher.SetLogger(logger)
	s.listener.SetLogger(logger)
}

// SetHistory attaches the terminal-result store to the dispatcher.
func (s *Service) SetHistory(store HistoryStore) {
	s.dispatcher.SetHistory(store)
}

// SetTelemetry attaches the telemetry sink to the dispatcher.
func (s *Service) SetTelemetry(t Telemetry) {
	s.dispatcher.SetTelemetry(t)
}

// Queue exposes the command queue for additional producers such as the
// MQTT bridge.
func (s *Service) Queue() *Queue {
	return s.queue
}

// Addr returns the listener's bound address once ready.
func (s *Service) Addr() string {
	addr := s.listener.Addr()
	if addr == nil {
		return ""
	}
	return addr.String()
}

// Start brings the pipeline up in order: the device manager acquires a
// backend (hardware or mock), the dispatcher starts draining the queue,
// and finally the listener binds and begins accepting. Start returns
// once the listener reports ready or the startup timeout elapses.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("service already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.dispatcherDone = make(chan struct{})
	s.listenerDone = make(chan struct{})
	s.listenerErr = make(chan error, 1)
	s.mu.Unlock()

	state := s.manager.Acquire(runCtx)
	s.logger.Info("display acquired", "state", string(state))

	go func() {
		defer close(s.dispatcherDone)
		s.dispatcher.Run(runCtx)
	}()

	go func() {
		defer close(s.listenerDone)
		if err := s.listener.Run(runCtx); err != nil {
			s.listenerErr <- err
		}
	}()

	select {
	case <-s.listener.Ready():
	case err := <-s.listenerErr:
		s.teardown()
		return fmt.Errorf("starting listener: %w", err)
	case <-time.After(s.cfg.StartupTimeout):
		s.teardown()
		return ErrStartupTimeout
	case <-ctx.Done():
		s.teardown()
		return ctx.Err()
	}

	if s.cfg.InactivityTimeout > 0 {
		done := make(chan struct{})
		s.mu.Lock()
		s.watchdogDone = done
		s.mu.Unlock()
		go s.watchdog(runCtx, done)
	}

	s.logger.Info("service ready", "addr", s.Addr())
	return nil
}

// Stop shuts the pipeline down in order: stop accepting, stop the
// dispatcher, fail whatever is still queued, release the device.
// Idempotent; safe to call from any state after Start.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.logger.Info("service stopping")
	return s.teardown()
}

// teardown performs the ordered shutdown. Joins are bounded by the
// shutdown timeout so a wedged worker cannot hang the process exit.
func (s *Service) teardown() error {
	s.mu.Lock()
	cancel := s.cancel
	listenerDone := s.listenerDone
	dispatcherDone := s.dispatcherDone
	watchdogDone := s.watchdogDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.listener.Close()

	deadline := time.After(s.cfg.ShutdownTimeout)
	s.join(listenerDone, deadline, "listener")
	s.join(dispatcherDone, deadline, "dispatcher")
	s.join(watchdogDone, deadline, "watchdog")

	for _, cmd := range s.queue.Drain() {
		if cmd.Writer == nil {
			continue
		}
		cmd.Writer.WriteResponse(Response{
			Status:    StatusError,
			Message:   ErrShuttingDown.Error(),
			CommandID: cmd.ID,
		})
	}

	err := s.manager.Release()
	if err != nil {
		s.logger.Warn("releasing display failed", "error", err)
	}

	s.logger.Info("service stopped")
	return err
}

// join waits for a worker with the shared shutdown deadline.
func (s *Service) join(done <-chan struct{}, deadline <-chan time.Time, name string) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-deadline:
		s.logger.Warn("worker did not stop in time", "worker", name)
	}
}

// watchdog logs a health warning when no command has been processed for
// the configured window. It only observes; an idle display service is
// legitimate, so nothing is restarted.
func (s *Service) watchdog(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.InactivityTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(s.dispatcher.LastActivity())
			if idle >= s.cfg.InactivityTimeout {
				s.logger.Warn("no commands processed recently",
					"idle", idle.Round(time.Second),
					"queue_depth", s.queue.Len())
			}
		}
	}
}
