package core

import "time"

// JointEvent is a breakable joint changing state: damaged, broken or healed.
type JointEvent struct {
	Time    time.Time `json:"time"`
	Tick    uint64    `json:"tick"`
	Rig     string    `json:"rig"`
	Segment string    `json:"segment"`
	Joint   string    `json:"joint"`
	State   string    `json:"state"`
	Stress  float64   `json:"stress"`
}

// RigSample is a periodic snapshot of a rig's shape.
type RigSample struct {
	Time   time.Time    `json:"time"`
	Tick   uint64       `json:"tick"`
	Rig    string       `json:"rig"`
	Kind   string       `json:"kind"`
	State  string       `json:"state"`
	Root   Position3D   `json:"root"`
	Head   Position3D   `json:"head"`
	Spine  []Position3D `json:"spine,omitempty"`
	Broken int          `json:"broken"`
}

// TickStats summarizes one simulation tick.
type TickStats struct {
	Time      time.Time `json:"time"`
	Tick      uint64    `json:"tick"`
	FPS       float64   `json:"fps"`
	Dropped   bool      `json:"dropped"`
	Sessions  int       `json:"sessions"`
	Sent      int       `json:"sent"`
	Blocked   int       `json:"blocked"`
	Bytes     int64     `json:"bytes"`
	Malformed int       `json:"malformed"`
	RigErrors int       `json:"rigErrors"`
}
