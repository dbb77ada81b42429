// Package memory keeps a run in memory and exports it as JSON when it ends.
package memory

import (
	"sync"

	"github.com/OCAP2/rigstream/internal/config"
	"github.com/OCAP2/rigstream/pkg/core"
)

// RigRecord groups a rig's samples and joint events.
type RigRecord struct {
	Samples     []core.RigSample  `json:"samples"`
	JointEvents []core.JointEvent `json:"jointEvents"`
}

// Backend stores run data in memory and exports to JSON
type Backend struct {
	cfg config.MemoryConfig

	mu         sync.RWMutex
	run        *core.Run
	sessions   []*core.Session
	rigs       map[string]*RigRecord
	rigOrder   []string
	tickStats  []core.TickStats
	idCounter  uint
	exportPath string
}

func New(cfg config.MemoryConfig) *Backend {
	return &Backend{cfg: cfg, rigs: make(map[string]*RigRecord)}
}

func (b *Backend) Init() error  { return nil }
func (b *Backend) Close() error { return nil }

// StartRun resets all collections.
func (b *Backend) StartRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.idCounter = 0
	b.nextID()
	run.ID = b.idCounter
	b.run = run
	b.sessions = nil
	b.rigs = make(map[string]*RigRecord)
	b.rigOrder = nil
	b.tickStats = nil
	b.exportPath = ""
	return nil
}

// EndRun writes the export file. Without a started run there is nothing to
// export.
func (b *Backend) EndRun() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run == nil {
		return nil
	}
	return b.exportJSON()
}

func (b *Backend) nextID() uint {
	b.idCounter++
	return b.idCounter
}

func (b *Backend) AddSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s.ID = b.nextID()
	b.sessions = append(b.sessions, s)
	return nil
}

// EndSession is a no-op beyond bookkeeping; the stored pointer already
// carries the final counters.
func (b *Backend) EndSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, known := range b.sessions {
		if known.ID == s.ID && known != s {
			*known = *s
		}
	}
	return nil
}

func (b *Backend) rig(name string) *RigRecord {
	r, ok := b.rigs[name]
	if !ok {
		r = &RigRecord{}
		b.rigs[name] = r
		b.rigOrder = append(b.rigOrder, name)
	}
	return r
}

func (b *Backend) RecordJointEvent(e *core.JointEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.rig(e.Rig)
	r.JointEvents = append(r.JointEvents, *e)
	return nil
}

func (b *Backend) RecordRigSample(s *core.RigSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.rig(s.Rig)
	r.Samples = append(r.Samples, *s)
	return nil
}

func (b *Backend) RecordTickStats(s *core.TickStats) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickStats = append(b.tickStats, *s)
	return nil
}

// Rig returns a copy of the recorded data of one rig.
func (b *Backend) Rig(name string) (RigRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rigs[name]
	if !ok {
		return RigRecord{}, false
	}
	return RigRecord{
		Samples:     append([]core.RigSample(nil), r.Samples...),
		JointEvents: append([]core.JointEvent(nil), r.JointEvents...),
	}, true
}

// Sessions returns the recorded sessions.
func (b *Backend) Sessions() []core.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.Session, len(b.sessions))
	for i, s := range b.sessions {
		out[i] = *s
	}
	return out
}

// ExportedFilePath returns the path of the last export, or "".
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exportPath
}
