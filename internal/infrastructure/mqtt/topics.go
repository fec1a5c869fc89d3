package mqtt

import "fmt"

// DefaultTopicPrefix is used when the configuration leaves the prefix
// empty.
const DefaultTopicPrefix = "einkd"

// Topics builds the daemon's MQTT topic names under a configurable
// prefix. Using these helpers keeps topic naming consistent between the
// command bridge, the status publisher and external clients.
//
//	topics := mqtt.Topics{Prefix: "einkd"}
//	topics.DisplayCommand() // "einkd/display/command"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// DisplayCommand returns the topic clients publish display requests to.
//
// Example: einkd/display/command
func (t Topics) DisplayCommand() string {
	return fmt.Sprintf("%s/display/command", t.prefix())
}

// DisplayResult returns the topic terminal command results are pushed
// on. Results carry the command ID so clients can correlate.
//
// Example: einkd/display/result
func (t Topics) DisplayResult() string {
	return fmt.Sprintf("%s/display/result", t.prefix())
}

// SystemStatus returns the retained online/offline status topic, also
// used for the Last Will and Testament.
//
// Example: einkd/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}
