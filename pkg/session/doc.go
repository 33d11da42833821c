// Package session persists conversations in SQLite. A session row carries
// lifecycle state (idle, active, error) and counters; messages are
// append-only, with tool-call records embedded in the assistant rows.
package session
