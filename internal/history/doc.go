// Package history persists terminal command results in SQLite.
//
// Socket clients receive a queued acknowledgement immediately and
// observe the final outcome by polling the status action with their
// command ID; this repository is what answers those polls, and it doubles
// as an operator audit trail of everything drawn on the panel.
package history
