package display

// DeviceInfo describes a display backend.
type DeviceInfo struct {
	// Model is the backend identifier (e.g. "waveshare_3in7", "mock").
	Model string `json:"model"`

	// Width and Height are the panel dimensions in pixels.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Mock is true for the in-memory backend.
	Mock bool `json:"mock"`
}

// TextRequest carries one display_text operation.
// Zero values for position and size are replaced with the historical
// defaults (10, 10, 24pt, black on white).
type TextRequest struct {
	Text            string
	X               int
	Y               int
	FontSize        int
	TextColor       string
	BackgroundColor string
}

// ImageRequest carries one display_image operation. Data holds the
// decoded (not base64) image bytes in the named encoding.
type ImageRequest struct {
	Data   []byte
	Format string
}

// Device is the capability every display backend satisfies in full.
//
// Implementations are not safe for concurrent use: the Manager serialises
// all calls on the dispatcher goroutine.
type Device interface {
	// Init powers the panel on and loads its configuration. Also used to
	// wake a sleeping panel.
	Init() error

	// Clear repaints the panel white.
	Clear() error

	// DisplayText renders text at the requested position.
	DisplayText(req TextRequest) error

	// DisplayImage renders a full-panel image.
	DisplayImage(req ImageRequest) error

	// Sleep puts the panel into deep sleep. A sleeping panel requires
	// Init before further drawing.
	Sleep() error

	// Close releases all claimed hardware resources. Idempotent.
	Close() error

	// Info describes the backend.
	Info() DeviceInfo
}
