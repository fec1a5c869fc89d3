package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/totemize/einkd/internal/display"
	"github.com/totemize/einkd/internal/history"
)

// fakeWriter records terminal results.
type fakeWriter struct {
	mu        sync.Mutex
	responses []Response
	done      chan struct{}
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{done: make(chan struct{}, 16)}
}

func (w *fakeWriter) WriteResponse(resp Response) error {
	w.mu.Lock()
	w.responses = append(w.responses, resp)
	w.mu.Unlock()
	w.done <- struct{}{}
	return nil
}

func (w *fakeWriter) wait(t *testing.T) Response {
	t.Helper()
	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal result")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.responses[len(w.responses)-1]
}

// fakeHistory stores entries in memory.
type fakeHistory struct {
	mu      sync.Mutex
	entries map[string]history.Entry
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{entries: make(map[string]history.Entry)}
}

func (h *fakeHistory) Record(_ context.Context, entry history.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[entry.CommandID] = entry
	return nil
}

func (h *fakeHistory) Get(_ context.Context, commandID string) (history.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.entries[commandID]
	if !ok {
		return history.Entry{}, history.ErrNotFound
	}
	return entry, nil
}

func mockManager() *display.Manager {
	m := display.NewManager(display.ManagerConfig{MockMode: true}, nil)
	m.Acquire(context.Background())
	return m
}

func startDispatcher(t *testing.T, d *Dispatcher) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestDispatcher_ProcessesCommand(t *testing.T) {
	queue := NewQueue()
	d := NewDispatcher(queue, mockManager(), time.Millisecond)
	startDispatcher(t, d)

	writer := newFakeWriter()
	queue.Enqueue(&Command{
		ID:      "cmd-test0001",
		Action:  "clear",
		Source:  SourceSocket,
		Display: display.Request{Action: "clear"},
		Writer:  writer,
	})

	resp := writer.wait(t)
	if resp.Status != StatusSuccess {
		t.Errorf("terminal status = %q, want success (message %q)", resp.Status, resp.Message)
	}
	if resp.CommandID != "cmd-test0001" {
		t.Errorf("CommandID = %q", resp.CommandID)
	}
}

func TestDispatcher_RecordsHistory(t *testing.T) {
	queue := NewQueue()
	store := newFakeHistory()
	d := NewDispatcher(queue, mockManager(), time.Millisecond)
	d.SetHistory(store)
	startDispatcher(t, d)

	writer := newFakeWriter()
	queue.Enqueue(&Command{
		ID:      "cmd-hist0001",
		Action:  "display_text",
		Source:  SourceMQTT,
		Display: display.Request{Action: "display_text", Text: display.TextRequest{Text: "hi"}},
		Writer:  writer,
	})
	writer.wait(t)

	entry, err := store.Get(context.Background(), "cmd-hist0001")
	if err != nil {
		t.Fatalf("history entry not recorded: %v", err)
	}
	if entry.Status != StatusSuccess || entry.Source != SourceMQTT {
		t.Errorf("entry = %+v", entry)
	}
}

func TestDispatcher_StatusAction(t *testing.T) {
	queue := NewQueue()
	store := newFakeHistory()
	store.Record(context.Background(), history.Entry{
		CommandID: "cmd-done0001",
		Action:    "clear",
		Status:    StatusSuccess,
		Message:   "Display cleared",
	})

	d := NewDispatcher(queue, mockManager(), time.Millisecond)
	d.SetHistory(store)
	startDispatcher(t, d)

	writer := newFakeWriter()
	queue.Enqueue(&Command{
		ID:              "cmd-stat0001",
		Action:          "status",
		StatusCommandID: "cmd-done0001",
		Writer:          writer,
	})

	resp := writer.wait(t)
	if resp.Status != StatusSuccess {
		t.Fatalf("status response = %+v", resp)
	}
	report, ok := resp.Details.(StatusReport)
	if !ok {
		t.Fatalf("Details type = %T", resp.Details)
	}
	if !report.Display.Mock {
		t.Error("report.Display.Mock = false on mock backend")
	}
	if report.Command == nil || report.Command.Message != "Display cleared" {
		t.Errorf("report.Command = %+v", report.Command)
	}
}

func TestDispatcher_StatusUnknownCommand(t *testing.T) {
	queue := NewQueue()
	d := NewDispatcher(queue, mockManager(), time.Millisecond)
	d.SetHistory(newFakeHistory())
	startDispatcher(t, d)

	writer := newFakeWriter()
	queue.Enqueue(&Command{
		ID:              "cmd-stat0002",
		Action:          "status",
		StatusCommandID: "cmd-missing1",
		Writer:          writer,
	})

	resp := writer.wait(t)
	if resp.Status != StatusError {
		t.Errorf("status for unknown command = %q, want error", resp.Status)
	}
}

func TestDispatcher_RecoversFromPanic(t *testing.T) {
	queue := NewQueue()
	manager := display.NewManager(display.ManagerConfig{MockMode: true}, nil)
	manager.SetMockFactory(func() display.Device { return &panicDevice{} })
	manager.Acquire(context.Background())

	d := NewDispatcher(queue, manager, time.Millisecond)
	startDispatcher(t, d)

	writer := newFakeWriter()
	queue.Enqueue(&Command{
		ID:      "cmd-boom0001",
		Action:  "clear",
		Display: display.Request{Action: "clear"},
		Writer:  writer,
	})

	resp := writer.wait(t)
	if resp.Status != StatusError {
		t.Errorf("panic result status = %q, want error", resp.Status)
	}

	// The dispatcher must still be alive for the next command.
	writer2 := newFakeWriter()
	queue.Enqueue(&Command{
		ID:      "cmd-stat0003",
		Action:  "status",
		Writer:  writer2,
	})
	if resp := writer2.wait(t); resp.Status != StatusSuccess {
		t.Errorf("status after panic = %q, want success", resp.Status)
	}
}

// panicDevice panics on drawing operations.
type panicDevice struct{}

func (*panicDevice) Init() error                            { return nil }
func (*panicDevice) Clear() error                           { panic("wedged controller") }
func (*panicDevice) DisplayText(display.TextRequest) error  { panic("wedged controller") }
func (*panicDevice) DisplayImage(display.ImageRequest) error { panic("wedged controller") }
func (*panicDevice) Sleep() error                           { return nil }
func (*panicDevice) Close() error                           { return nil }
func (*panicDevice) Info() display.DeviceInfo {
	return display.DeviceInfo{Model: "panic", Mock: true}
}

func TestDispatcher_SerialisesDeviceAccess(t *testing.T) {
	queue := NewQueue()
	mock := display.NewMock()
	mock.OpDelay = 2 * time.Millisecond

	manager := display.NewManager(display.ManagerConfig{MockMode: true}, nil)
	manager.SetMockFactory(func() display.Device { return mock })
	manager.Acquire(context.Background())

	d := NewDispatcher(queue, manager, time.Millisecond)
	startDispatcher(t, d)

	const commands = 20
	writers := make([]*fakeWriter, commands)
	var wg sync.WaitGroup
	for i := 0; i < commands; i++ {
		writers[i] = newFakeWriter()
		wg.Add(1)
		go func(w *fakeWriter) {
			defer wg.Done()
			queue.Enqueue(&Command{
				ID:      NewCommandID(),
				Action:  "clear",
				Display: display.Request{Action: "clear"},
				Writer:  w,
			})
		}(writers[i])
	}
	wg.Wait()

	for _, w := range writers {
		w.wait(t)
	}

	if overlaps := mock.Overlaps(); overlaps != 0 {
		t.Errorf("device saw %d overlapping calls, want 0", overlaps)
	}
}

func TestDispatcher_ReportsTelemetry(t *testing.T) {
	queue := NewQueue()
	d := NewDispatcher(queue, mockManager(), time.Millisecond)
	rec := &recordingTelemetry{}
	d.SetTelemetry(rec)
	startDispatcher(t, d)

	writer := newFakeWriter()
	queue.Enqueue(&Command{
		ID:      "cmd-tel00001",
		Action:  "clear",
		Display: display.Request{Action: "clear"},
		Writer:  writer,
	})
	writer.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.executions) != 1 {
		t.Fatalf("executions = %v", rec.executions)
	}
	if rec.executions[0] != "clear/success/mock" {
		t.Errorf("execution tag = %q", rec.executions[0])
	}
	if len(rec.depths) != 1 {
		t.Errorf("queue depth writes = %d, want 1", len(rec.depths))
	}
}

type recordingTelemetry struct {
	mu         sync.Mutex
	executions []string
	depths     []int
}

func (r *recordingTelemetry) WriteCommandExecution(action, status, backend string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions = append(r.executions, action+"/"+status+"/"+backend)
}

func (r *recordingTelemetry) WriteQueueDepth(depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depths = append(r.depths, depth)
}
