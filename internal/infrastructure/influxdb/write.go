package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteCommandExecution records one processed display command.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - action: The command action (clear, display_text, ...)
//   - status: Terminal status (success, error)
//   - backend: Which device served it (hardware, mock)
//   - duration: End-to-end execution time
//
// Example:
//
//	client.WriteCommandExecution("display_text", "success", "hardware", 1200*time.Millisecond)
func (c *Client) WriteCommandExecution(action, status, backend string, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"command_execution",
		map[string]string{
			"action":  action,
			"status":  status,
			"backend": backend,
		},
		map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteQueueDepth records the command queue depth after a dispatch.
//
// Sustained non-zero depth indicates the panel cannot keep up with
// incoming commands.
func (c *Client) WriteQueueDepth(depth int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"queue_depth",
		nil,
		map[string]interface{}{
			"depth": depth,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceState records a display manager state transition.
//
// Used for tracking hardware availability over time: repeated
// transitions into mock_active point at a flaky panel or wiring.
func (c *Client) WriteDeviceState(from, to string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"from": from,
			"to":   to,
		},
		map[string]interface{}{
			"transition": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
