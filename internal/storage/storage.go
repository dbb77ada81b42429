// Package storage defines the recording backend a server writes runs,
// viewer sessions, joint events, rig samples and tick stats to.
package storage

import "github.com/OCAP2/rigstream/pkg/core"

// Backend is the interface all storage implementations must satisfy.
// Record* calls happen on the simulation goroutine and must not block on I/O.
type Backend interface {
	Init() error
	Close() error

	// StartRun assigns run.ID. Sessions and records before StartRun are dropped.
	StartRun(run *core.Run) error
	EndRun() error

	// AddSession assigns s.ID; EndSession stores its final counters.
	AddSession(s *core.Session) error
	EndSession(s *core.Session) error

	RecordJointEvent(e *core.JointEvent) error
	RecordRigSample(s *core.RigSample) error
	RecordTickStats(s *core.TickStats) error
}

// Exporter is implemented by backends that write a file per run.
type Exporter interface {
	ExportedFilePath() string
}
