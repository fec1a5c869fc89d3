package mqttbridge

import (
	"encoding/json"

	"github.com/totemize/einkd/internal/service"
)

// encodeResponse marshals a response for the result topic.
func encodeResponse(resp service.Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"status":"error","message":"internal encoding error"}`)
	}
	return data
}
