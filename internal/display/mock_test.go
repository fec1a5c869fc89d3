package display

import (
	"errors"
	"testing"
	"time"
)

func TestMock_Lifecycle(t *testing.T) {
	m := NewMock()

	if err := m.Clear(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Clear() before Init error = %v, want ErrNotInitialized", err)
	}

	if err := m.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := m.Clear(); err != nil {
		t.Errorf("Clear() error = %v", err)
	}
	if err := m.DisplayText(TextRequest{Text: "hello"}); err != nil {
		t.Errorf("DisplayText() error = %v", err)
	}
	if got := m.LastText().Text; got != "hello" {
		t.Errorf("LastText().Text = %q, want %q", got, "hello")
	}

	if err := m.Sleep(); err != nil {
		t.Errorf("Sleep() error = %v", err)
	}
	if err := m.Clear(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Clear() after Sleep error = %v, want ErrNotInitialized", err)
	}

	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := m.Clear(); !errors.Is(err, ErrClosed) {
		t.Errorf("Clear() after Close error = %v, want ErrClosed", err)
	}
	if !m.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestMock_FailInits(t *testing.T) {
	m := NewMock()
	m.FailInits = 2

	if err := m.Init(); err == nil {
		t.Error("first Init() = nil, want injected failure")
	}
	if err := m.Init(); err == nil {
		t.Error("second Init() = nil, want injected failure")
	}
	if err := m.Init(); err != nil {
		t.Errorf("third Init() error = %v, want nil", err)
	}
}

func TestMock_FailOps(t *testing.T) {
	m := NewMock()
	if err := m.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	injected := errors.New("boom")
	m.FailOps["clear"] = injected

	if err := m.Clear(); !errors.Is(err, injected) {
		t.Errorf("Clear() error = %v, want injected error", err)
	}

	delete(m.FailOps, "clear")
	if err := m.Clear(); err != nil {
		t.Errorf("Clear() after removing injection error = %v", err)
	}
}

func TestMock_BusyHang(t *testing.T) {
	m := NewMock()
	if err := m.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	m.HangFor = time.Second
	m.BusyTimeout = 10 * time.Millisecond

	start := time.Now()
	err := m.Clear()
	elapsed := time.Since(start)

	if !errors.Is(err, ErrBusyTimeout) {
		t.Errorf("Clear() error = %v, want ErrBusyTimeout", err)
	}
	if elapsed >= time.Second {
		t.Errorf("Clear() blocked for %v, want it bounded by the busy timeout", elapsed)
	}
}

func TestMock_DisplayImageRequiresData(t *testing.T) {
	m := NewMock()
	if err := m.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if err := m.DisplayImage(ImageRequest{}); !errors.Is(err, ErrNoImageData) {
		t.Errorf("DisplayImage() with no data error = %v, want ErrNoImageData", err)
	}
}

func TestMock_RecordsOps(t *testing.T) {
	m := NewMock()
	m.Init()
	m.Clear()
	m.DisplayText(TextRequest{Text: "hi"})
	m.Sleep()
	m.Close()

	want := []string{"init", "clear", "display_text:hi", "sleep", "close"}
	got := m.Ops()
	if len(got) != len(want) {
		t.Fatalf("Ops() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Ops()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
