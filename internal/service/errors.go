package service

import "errors"

// Sentinel errors for the command pipeline.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownAction indicates a request named an unsupported action.
	ErrUnknownAction = errors.New("service: unknown action")

	// ErrMissingText indicates a display_text request without text.
	ErrMissingText = errors.New("service: text is required")

	// ErrMissingImage indicates a display_image request without a payload.
	ErrMissingImage = errors.New("service: image_data or image_path is required")

	// ErrRequestTooLarge indicates a request exceeded the configured
	// maximum size and was rejected before queueing.
	ErrRequestTooLarge = errors.New("service: request too large")

	// ErrAlreadyRunning indicates another live process owns the socket.
	ErrAlreadyRunning = errors.New("service: socket already in use by a running instance")

	// ErrNotStarted indicates Stop was called before Start.
	ErrNotStarted = errors.New("service: not started")

	// ErrStartupTimeout indicates the listener did not become ready in time.
	ErrStartupTimeout = errors.New("service: startup timed out")

	// ErrShuttingDown is reported to clients whose commands were still
	// queued when the service stopped.
	ErrShuttingDown = errors.New("service: shutting down")
)
