package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/totemize/einkd/internal/display"
	"github.com/totemize/einkd/internal/history"
)

// HistoryStore persists terminal command results. Implemented by
// internal/history; nil disables recording.
type HistoryStore interface {
	Record(ctx context.Context, entry history.Entry) error
	Get(ctx context.Context, commandID string) (history.Entry, error)
}

// Telemetry receives dispatcher measurements. Implemented by the
// InfluxDB client; a no-op default is used when telemetry is disabled.
type Telemetry interface {
	WriteCommandExecution(action, status, backend string, duration time.Duration)
	WriteQueueDepth(depth int)
}

type noopTelemetry struct{}

func (noopTelemetry) WriteCommandExecution(string, string, string, time.Duration) {}
func (noopTelemetry) WriteQueueDepth(int)                                         {}

// Dispatcher drains the command queue on a single goroutine, which is
// what guarantees at most one device operation runs at a time. Every
// terminal result is written back to the command's ResponseWriter and,
// when a history store is attached, recorded for later status lookups.
type Dispatcher struct {
	queue        *Queue
	manager      *display.Manager
	historyStore HistoryStore
	telemetry    Telemetry
	logger       Logger
	pollInterval time.Duration

	startedAt    time.Time
	lastActivity atomic.Int64
}

// NewDispatcher creates a dispatcher over the given queue and device
// manager.
func NewDispatcher(queue *Queue, manager *display.Manager, pollInterval time.Duration) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}
	return &Dispatcher{
		queue:        queue,
		manager:      manager,
		telemetry:    noopTelemetry{},
		logger:       noopLogger{},
		pollInterval: pollInterval,
	}
}

// SetLogger sets the logger for dispatch events.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// SetHistory attaches the terminal-result store.
func (d *Dispatcher) SetHistory(store HistoryStore) {
	d.historyStore = store
}

// SetTelemetry attaches the telemetry sink.
func (d *Dispatcher) SetTelemetry(t Telemetry) {
	if t != nil {
		d.telemetry = t
	}
}

// Run processes commands until the context is cancelled. It never
// returns an error: individual command failures become error results for
// their clients, and a panic inside a device call is recovered into one.
func (d *Dispatcher) Run(ctx context.Context) {
	d.startedAt = time.Now()
	d.markActivity()
	d.logger.Info("dispatcher started", "poll_interval", d.pollInterval)

	for {
		if ctx.Err() != nil {
			d.logger.Info("dispatcher stopping")
			return
		}

		cmd := d.queue.Dequeue()
		if cmd == nil {
			select {
			case <-ctx.Done():
			case <-time.After(d.pollInterval):
			}
			continue
		}

		d.process(ctx, cmd)
	}
}

// LastActivity returns when the dispatcher last finished a command (or
// started, if none have arrived). The inactivity watchdog reads this.
func (d *Dispatcher) LastActivity() time.Time {
	return time.Unix(0, d.lastActivity.Load())
}

func (d *Dispatcher) markActivity() {
	d.lastActivity.Store(time.Now().UnixNano())
}

// process executes one command and delivers its terminal result.
func (d *Dispatcher) process(ctx context.Context, cmd *Command) {
	start := time.Now()
	defer d.markActivity()

	var resp Response
	if cmd.Action == "status" {
		resp = d.statusResponse(ctx, cmd)
	} else {
		resp = d.executeOnDevice(ctx, cmd)
	}
	resp.CommandID = cmd.ID

	if cmd.Writer != nil {
		if err := cmd.Writer.WriteResponse(resp); err != nil {
			d.logger.Debug("writing terminal result failed",
				"command_id", cmd.ID, "error", err)
		}
	}

	duration := time.Since(start)
	d.record(ctx, cmd, resp, duration)

	backend := "hardware"
	if d.manager.State() == display.StateMockActive {
		backend = "mock"
	}
	d.telemetry.WriteCommandExecution(cmd.Action, resp.Status, backend, duration)
	d.telemetry.WriteQueueDepth(d.queue.Len())

	d.logger.Info("command processed",
		"command_id", cmd.ID,
		"action", cmd.Action,
		"status", resp.Status,
		"source", cmd.Source,
		"duration_ms", duration.Milliseconds())
}

// executeOnDevice runs a device-touching action, recovering panics into
// an error result so one bad command cannot take the dispatcher down.
func (d *Dispatcher) executeOnDevice(ctx context.Context, cmd *Command) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic during command execution",
				"command_id", cmd.ID, "action", cmd.Action, "panic", r)
			resp = Response{
				Status:  StatusError,
				Message: fmt.Sprintf("internal error executing %s", cmd.Action),
			}
		}
	}()

	msg, err := d.manager.Execute(ctx, cmd.Display)
	if err != nil {
		return Response{Status: StatusError, Message: err.Error()}
	}
	return Response{Status: StatusSuccess, Message: msg}
}

// statusResponse answers a status action without touching the device.
func (d *Dispatcher) statusResponse(ctx context.Context, cmd *Command) Response {
	report := StatusReport{
		Display:       d.manager.Status(),
		QueueDepth:    d.queue.Len(),
		UptimeSeconds: int64(time.Since(d.startedAt).Seconds()),
	}

	if cmd.StatusCommandID != "" {
		if d.historyStore == nil {
			return Response{Status: StatusError, Message: "command history is not enabled"}
		}
		entry, err := d.historyStore.Get(ctx, cmd.StatusCommandID)
		if errors.Is(err, history.ErrNotFound) {
			return Response{
				Status:  StatusError,
				Message: fmt.Sprintf("no result for command %s", cmd.StatusCommandID),
			}
		}
		if err != nil {
			return Response{Status: StatusError, Message: err.Error()}
		}
		report.Command = &entry
	}

	return Response{Status: StatusSuccess, Details: report}
}

// record persists the terminal result of device-touching commands.
// Status queries are not recorded.
func (d *Dispatcher) record(ctx context.Context, cmd *Command, resp Response, duration time.Duration) {
	if d.historyStore == nil || cmd.Action == "status" {
		return
	}

	entry := history.Entry{
		CommandID: cmd.ID,
		Action:    cmd.Action,
		Status:    resp.Status,
		Message:   resp.Message,
		Source:    cmd.Source,
		Duration:  duration.Milliseconds(),
	}
	if err := d.historyStore.Record(ctx, entry); err != nil {
		d.logger.Warn("recording command history failed",
			"command_id", cmd.ID, "error", err)
	}
}
