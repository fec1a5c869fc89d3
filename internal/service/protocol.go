package service

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/totemize/einkd/internal/display"
	"github.com/totemize/einkd/internal/history"
)

// Response statuses on the wire.
const (
	StatusQueued  = "queued"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Command sources recorded in history.
const (
	SourceSocket = "socket"
	SourceMQTT   = "mqtt"
)

// wireRequest is the JSON request shape clients send.
type wireRequest struct {
	Action string `json:"action"`

	// display_text fields.
	Text            string `json:"text"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
	FontSize        int    `json:"font_size"`
	TextColor       string `json:"text_color"`
	BackgroundColor string `json:"background_color"`

	// display_image fields.
	ImageData        string `json:"image_data"`
	ImagePath        string `json:"image_path"`
	ImageFormat      string `json:"image_format"`
	ForceFullRefresh bool   `json:"force_full_refresh"`

	// status field.
	CommandID string `json:"command_id"`
}

// Response is the JSON response shape written back to clients.
type Response struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	CommandID string `json:"command_id,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// StatusReport is the details payload of a successful status action.
type StatusReport struct {
	Display       display.StatusInfo `json:"display"`
	QueueDepth    int                `json:"queue_depth"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Command       *history.Entry     `json:"command,omitempty"`
}

// ResponseWriter delivers the terminal result for a command. The socket
// listener backs it with the client connection; the MQTT bridge backs it
// with a result-topic publisher.
type ResponseWriter interface {
	WriteResponse(resp Response) error
}

// Command is one queued unit of work.
type Command struct {
	// ID identifies the command across the ack, the terminal result and
	// the history record.
	ID string

	// Action is the validated wire action.
	Action string

	// Source records where the command arrived from (socket, mqtt).
	Source string

	// Display carries the device operation for non-status actions.
	Display display.Request

	// StatusCommandID is the optional lookup ID of a status action.
	StatusCommandID string

	// Writer receives the terminal result.
	Writer ResponseWriter

	// EnqueuedAt is when the command entered the queue.
	EnqueuedAt time.Time
}

// NewCommandID returns a fresh command identifier.
func NewCommandID() string {
	return "cmd-" + uuid.New().String()[:8]
}

// ParseRequest validates raw request bytes and builds a Command. The
// returned command has no ID, Source or Writer; the caller assigns them.
//
// Parameters:
//   - data: Raw JSON bytes as received from the client
//
// Returns:
//   - *Command: Validated command ready to enqueue
//   - error: Describes the first validation failure
func ParseRequest(data []byte) (*Command, error) {
	var req wireRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	action := strings.ToLower(strings.TrimSpace(req.Action))
	cmd := &Command{Action: action}

	switch action {
	case "clear", "sleep", "wake":
		cmd.Display = display.Request{Action: action}

	case "display_text":
		if strings.TrimSpace(req.Text) == "" {
			return nil, ErrMissingText
		}
		cmd.Display = display.Request{
			Action: action,
			Text: display.TextRequest{
				Text:            req.Text,
				X:               req.X,
				Y:               req.Y,
				FontSize:        req.FontSize,
				TextColor:       req.TextColor,
				BackgroundColor: req.BackgroundColor,
			},
		}

	case "display_image":
		data, err := imagePayload(req)
		if err != nil {
			return nil, err
		}
		cmd.Display = display.Request{
			Action:           action,
			Image:            display.ImageRequest{Data: data, Format: req.ImageFormat},
			ForceFullRefresh: req.ForceFullRefresh,
		}

	case "status":
		cmd.StatusCommandID = req.CommandID

	case "":
		return nil, fmt.Errorf("%w: action is required", ErrUnknownAction)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	return cmd, nil
}

// imagePayload resolves a display_image request's bytes from inline
// base64 data or a server-local file path.
func imagePayload(req wireRequest) ([]byte, error) {
	if req.ImageData != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ImageData)
		if err != nil {
			return nil, fmt.Errorf("decoding image_data: %w", err)
		}
		if len(decoded) == 0 {
			return nil, ErrMissingImage
		}
		return decoded, nil
	}

	if req.ImagePath != "" {
		data, err := os.ReadFile(req.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("reading image_path: %w", err)
		}
		return data, nil
	}

	return nil, ErrMissingImage
}

// encodeResponse marshals a response with a trailing newline.
func encodeResponse(resp Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		// Response only carries marshal-safe fields; this is unreachable
		// short of a programming error.
		data = []byte(`{"status":"error","message":"internal encoding error"}`)
	}
	return append(data, '\n')
}
