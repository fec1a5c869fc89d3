package service

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestParseRequest(t *testing.T) {
	imageData := base64.StdEncoding.EncodeToString([]byte("fake-image-bytes"))

	tests := []struct {
		name       string
		payload    string
		wantErr    error
		wantAction string
	}{
		{
			name:       "clear",
			payload:    `{"action":"clear"}`,
			wantAction: "clear",
		},
		{
			name:       "sleep",
			payload:    `{"action":"sleep"}`,
			wantAction: "sleep",
		},
		{
			name:       "wake",
			payload:    `{"action":"wake"}`,
			wantAction: "wake",
		},
		{
			name:       "status",
			payload:    `{"action":"status"}`,
			wantAction: "status",
		},
		{
			name:       "action case and whitespace normalised",
			payload:    `{"action":" CLEAR "}`,
			wantAction: "clear",
		},
		{
			name:       "display_text",
			payload:    `{"action":"display_text","text":"hello","x":5,"y":7,"font_size":32}`,
			wantAction: "display_text",
		},
		{
			name:    "display_text without text",
			payload: `{"action":"display_text"}`,
			wantErr: ErrMissingText,
		},
		{
			name:       "display_image with data",
			payload:    `{"action":"display_image","image_data":"` + imageData + `"}`,
			wantAction: "display_image",
		},
		{
			name:    "display_image without payload",
			payload: `{"action":"display_image"}`,
			wantErr: ErrMissingImage,
		},
		{
			name:    "unknown action",
			payload: `{"action":"teleport"}`,
			wantErr: ErrUnknownAction,
		},
		{
			name:    "missing action",
			payload: `{}`,
			wantErr: ErrUnknownAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseRequest([]byte(tt.payload))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ParseRequest() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRequest() error = %v", err)
			}
			if cmd.Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", cmd.Action, tt.wantAction)
			}
		})
	}
}

func TestParseRequest_InvalidJSON(t *testing.T) {
	if _, err := ParseRequest([]byte(`{"action":`)); err == nil {
		t.Error("ParseRequest() = nil error for truncated JSON")
	}
}

func TestParseRequest_TextFieldsCarried(t *testing.T) {
	cmd, err := ParseRequest([]byte(`{
		"action": "display_text",
		"text": "hello",
		"x": 20,
		"y": 30,
		"font_size": 48,
		"text_color": "white",
		"background_color": "black"
	}`))
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}

	text := cmd.Display.Text
	if text.Text != "hello" || text.X != 20 || text.Y != 30 || text.FontSize != 48 {
		t.Errorf("text request = %+v", text)
	}
	if text.TextColor != "white" || text.BackgroundColor != "black" {
		t.Errorf("colors = %q on %q", text.TextColor, text.BackgroundColor)
	}
}

func TestParseRequest_ImageDecoded(t *testing.T) {
	raw := []byte("binary-image-content")
	payload := `{"action":"display_image","image_data":"` +
		base64.StdEncoding.EncodeToString(raw) + `","image_format":"png","force_full_refresh":true}`

	cmd, err := ParseRequest([]byte(payload))
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if string(cmd.Display.Image.Data) != string(raw) {
		t.Error("image data not base64-decoded")
	}
	if cmd.Display.Image.Format != "png" {
		t.Errorf("format = %q, want png", cmd.Display.Image.Format)
	}
	if !cmd.Display.ForceFullRefresh {
		t.Error("ForceFullRefresh not carried")
	}
}

func TestParseRequest_BadBase64(t *testing.T) {
	_, err := ParseRequest([]byte(`{"action":"display_image","image_data":"!!!not-base64!!!"}`))
	if err == nil {
		t.Error("ParseRequest() = nil error for invalid base64")
	}
}

func TestParseRequest_StatusCommandID(t *testing.T) {
	cmd, err := ParseRequest([]byte(`{"action":"status","command_id":"cmd-12345678"}`))
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if cmd.StatusCommandID != "cmd-12345678" {
		t.Errorf("StatusCommandID = %q", cmd.StatusCommandID)
	}
}

func TestNewCommandID(t *testing.T) {
	a := NewCommandID()
	b := NewCommandID()

	if !strings.HasPrefix(a, "cmd-") {
		t.Errorf("NewCommandID() = %q, want cmd- prefix", a)
	}
	if len(a) != len("cmd-")+8 {
		t.Errorf("NewCommandID() length = %d, want short id", len(a))
	}
	if a == b {
		t.Error("NewCommandID() returned duplicate ids")
	}
}

func TestEncodeResponse(t *testing.T) {
	data := encodeResponse(Response{Status: StatusQueued, CommandID: "cmd-1"})
	if data[len(data)-1] != '\n' {
		t.Error("encodeResponse() missing trailing newline")
	}
	if !strings.Contains(string(data), `"status":"queued"`) {
		t.Errorf("encodeResponse() = %s", data)
	}
}
