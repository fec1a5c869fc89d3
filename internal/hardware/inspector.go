// Package hardware inspects the GPIO character device for competing
// processes. The display manager consults it before claiming the panel:
// a stale or crashed client still holding /dev/gpiochip0 would otherwise
// make every acquisition attempt fail.
//
// All operations are best-effort. A missing lsof binary, an unreadable
// chip, or a kill failure is reported to the caller for logging but never
// blocks acquisition.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// termGrace is how long holders get to exit after SIGTERM before they
// are killed.
const termGrace = 500 * time.Millisecond

// Logger defines the logging interface for the inspector.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Inspector lists and removes processes holding a GPIO character device.
type Inspector struct {
	chip   string
	logger Logger

	// lookPath and runLsof are swappable for tests.
	runLsof func(ctx context.Context, chip string) ([]byte, error)
}

// NewInspector creates an inspector for the given chip path
// (e.g. /dev/gpiochip0).
func NewInspector(chip string) *Inspector {
	return &Inspector{
		chip:    chip,
		logger:  noopLogger{},
		runLsof: runLsofCommand,
	}
}

// SetLogger sets the logger for inspection events.
func (i *Inspector) SetLogger(logger Logger) {
	if logger != nil {
		i.logger = logger
	}
}

// Check reports whether another process holds the chip.
//
// Returns:
//   - bool: true when at least one other process holds the chip
//   - string: comma-separated "pid(command)" detail for logging
//   - error: non-nil when inspection itself failed (e.g. no lsof)
func (i *Inspector) Check(ctx context.Context) (bool, string, error) {
	holders, err := i.holders(ctx)
	if err != nil {
		return false, "", err
	}
	if len(holders) == 0 {
		return false, "", nil
	}

	details := make([]string, 0, len(holders))
	for _, h := range holders {
		details = append(details, fmt.Sprintf("%d(%s)", h.pid, h.command))
	}
	return true, strings.Join(details, ", "), nil
}

// Terminate removes all holders of the chip: SIGTERM first, then SIGKILL
// for any that survive the grace period.
func (i *Inspector) Terminate(ctx context.Context) error {
	holders, err := i.holders(ctx)
	if err != nil {
		return err
	}
	if len(holders) == 0 {
		return nil
	}

	for _, h := range holders {
		i.logger.Warn("terminating gpio holder", "pid", h.pid, "command", h.command)
		if err := syscall.Kill(h.pid, syscall.SIGTERM); err != nil {
			i.logger.Debug("sigterm failed", "pid", h.pid, "error", err)
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(termGrace):
	}

	var lastErr error
	for _, h := range holders {
		if !processAlive(h.pid) {
			continue
		}
		i.logger.Warn("escalating to sigkill", "pid", h.pid, "command", h.command)
		if err := syscall.Kill(h.pid, syscall.SIGKILL); err != nil {
			lastErr = fmt.Errorf("killing pid %d: %w", h.pid, err)
		}
	}
	return lastErr
}

type holder struct {
	pid     int
	command string
}

// holders runs lsof against the chip and parses the holder list,
// excluding this process.
func (i *Inspector) holders(ctx context.Context) ([]holder, error) {
	out, err := i.runLsof(ctx, i.chip)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, err
		}
		// lsof exits non-zero when nothing holds the file; whatever it
		// did print is still parseable.
		if len(out) == 0 {
			return nil, nil
		}
	}

	return parseLsof(out, os.Getpid()), nil
}

// parseLsof extracts holder pids from lsof output, skipping the header
// row and the given pid.
func parseLsof(out []byte, selfPID int) []holder {
	var holders []holder
	seen := map[int]bool{}

	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] == "COMMAND" {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil || pid == selfPID || seen[pid] {
			continue
		}
		seen[pid] = true
		holders = append(holders, holder{pid: pid, command: fields[0]})
	}
	return holders
}

func runLsofCommand(ctx context.Context, chip string) ([]byte, error) {
	path, err := exec.LookPath("lsof")
	if err != nil {
		return nil, fmt.Errorf("lsof not available: %w", err)
	}
	cmd := exec.CommandContext(ctx, path, chip)
	return cmd.Output()
}

// processAlive reports whether a pid still exists. Signal 0 probes
// without delivering.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
