package display

import "errors"

// Sentinel errors for display operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrBusyTimeout indicates the panel did not release its busy line
	// within the configured bound. The operation is abandoned rather than
	// blocking the dispatcher.
	ErrBusyTimeout = errors.New("display: busy-wait timed out")

	// ErrNotInitialized indicates an operation was attempted before Init.
	ErrNotInitialized = errors.New("display: device not initialized")

	// ErrNoImageData indicates a display_image request carried no payload.
	ErrNoImageData = errors.New("display: no image data provided")

	// ErrHardwareUnavailable indicates the SPI port or GPIO lines could
	// not be claimed.
	ErrHardwareUnavailable = errors.New("display: hardware unavailable")

	// ErrClosed indicates the device has been released.
	ErrClosed = errors.New("display: device closed")
)
