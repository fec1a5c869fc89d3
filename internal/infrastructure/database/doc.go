// Package database provides the SQLite connection used for einkd's
// command history.
//
// SQLite fits this daemon well: a single embedded file, no external
// service, and the daemon is the only writer. WAL mode keeps reads
// (status polling) from blocking the dispatcher's inserts.
package database
