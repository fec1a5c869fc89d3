// Package mqttbridge layers the display command protocol over MQTT.
//
// The bridge subscribes to <prefix>/display/command and feeds valid
// requests into the same queue the socket listener uses, so MQTT clients
// get identical semantics: FIFO ordering, one device operation at a
// time, and a terminal result per command. Unlike socket clients, which
// poll the status action, MQTT clients get their results pushed on
// <prefix>/display/result tagged with the command ID.
//
// The bridge is optional and enabled by mqtt.enabled in config.
package mqttbridge
