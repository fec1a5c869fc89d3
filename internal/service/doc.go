// Package service implements the command pipeline between local clients
// and the display: the socket listener, the FIFO command queue, the
// single dispatcher that serialises device access, and the lifecycle
// controller that starts and stops them in order.
//
// Clients connect, send one JSON request, receive an immediate queued
// acknowledgement carrying a command ID, and then the terminal result on
// the same connection once the dispatcher has driven the panel. The
// status action answers without touching the device and can look up any
// past command's terminal result by ID.
package service
