// Package core holds the storage-neutral records a rigstream server produces
// while it runs.
package core

import "time"

// Position3D is a point in scene meters, Z up.
type Position3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Run is one server lifetime, keyed by a ULID.
type Run struct {
	ID        uint      `json:"id"`
	Key       string    `json:"key"`
	Host      string    `json:"host"`
	TickRate  int       `json:"tickRate"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitzero"`
}

// Session is one viewer connection.
type Session struct {
	ID             uint      `json:"id"`
	Key            string    `json:"key"`
	UID            uint64    `json:"uid"`
	Addr           string    `json:"addr"`
	ConnectedAt    time.Time `json:"connectedAt"`
	DisconnectedAt time.Time `json:"disconnectedAt,omitzero"`
	BytesSent      int64     `json:"bytesSent"`
}
