// Package gormstorage implements storage.Backend on a GORM database. Sessions
// and runs are written synchronously; samples, joint events and tick stats
// are queued and written in batches by a background writer.
package gormstorage

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAP2/rigstream/internal/database"
	"github.com/OCAP2/rigstream/internal/geo"
	"github.com/OCAP2/rigstream/internal/model"
	"github.com/OCAP2/rigstream/internal/model/convert"
	"github.com/OCAP2/rigstream/internal/queue"
	"github.com/OCAP2/rigstream/pkg/core"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// DefaultFlushInterval is how often queued records are written.
const DefaultFlushInterval = 2 * time.Second

// maxQueued bounds each write queue while the database is unreachable.
const maxQueued = 100_000

// ErrNoRun is returned when records arrive before StartRun.
var ErrNoRun = errors.New("no run started")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        zerolog.Logger
	Origin        geo.Origin
	FlushInterval time.Duration
	// SkipSpine leaves rig spines empty, for databases without spatial types.
	SkipSpine bool
}

type queues struct {
	JointEvents *queue.Queue[model.JointEvent]
	RigSamples  *queue.Queue[model.RigSample]
	TickStats   *queue.Queue[model.TickStat]
}

func newQueues() *queues {
	return &queues{
		JointEvents: queue.NewBounded[model.JointEvent](maxQueued),
		RigSamples:  queue.NewBounded[model.RigSample](maxQueued),
		TickStats:   queue.NewBounded[model.TickStat](maxQueued),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps   Dependencies
	queues *queues
	runID  atomic.Uint64
	run    *core.Run

	flushMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}
}

func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{deps: deps, queues: newQueues()}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB { return b.deps.DB }

// Init migrates the schema and starts the writer.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm backend has no database")
	}
	if err := database.Migrate(b.deps.DB, b.deps.Logger); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.writeLoop()
	return nil
}

// Close stops the writer after a final flush.
func (b *Backend) Close() error {
	if b.stop == nil {
		return nil
	}
	close(b.stop)
	<-b.done
	b.stop = nil
	return b.Flush()
}

func (b *Backend) StartRun(run *core.Run) error {
	m := convert.CoreToRun(*run)
	if err := b.deps.DB.Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	run.ID = m.ID
	b.run = run
	b.runID.Store(uint64(m.ID))
	b.deps.Logger.Info().Str("run", run.Key).Uint("id", m.ID).Msg("Run started")
	return nil
}

// EndRun flushes pending records and stamps the run's end time.
func (b *Backend) EndRun() error {
	if b.run == nil {
		return ErrNoRun
	}
	if err := b.Flush(); err != nil {
		return err
	}
	if b.run.EndedAt.IsZero() {
		b.run.EndedAt = time.Now()
	}
	err := b.deps.DB.Model(&model.Run{}).Where("id = ?", b.run.ID).Update("ended_at", b.run.EndedAt).Error
	if err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}
	return nil
}

// AddSession inserts synchronously so the ID is known when the viewer leaves.
func (b *Backend) AddSession(s *core.Session) error {
	runID := uint(b.runID.Load())
	if runID == 0 {
		return ErrNoRun
	}
	m := convert.CoreToSession(*s, runID)
	if err := b.deps.DB.Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	s.ID = m.ID
	return nil
}

func (b *Backend) EndSession(s *core.Session) error {
	if s.ID == 0 {
		return nil
	}
	disconnected := s.DisconnectedAt
	if disconnected.IsZero() {
		disconnected = time.Now()
	}
	err := b.deps.DB.Model(&model.ViewerSession{}).Where("id = ?", s.ID).Updates(map[string]any{
		"disconnected_at": disconnected,
		"bytes_sent":      s.BytesSent,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to end session %d: %w", s.ID, err)
	}
	return nil
}

func (b *Backend) RecordJointEvent(e *core.JointEvent) error {
	b.queues.JointEvents.Push(convert.CoreToJointEvent(*e, 0))
	return nil
}

func (b *Backend) RecordRigSample(s *core.RigSample) error {
	b.queues.RigSamples.Push(convert.CoreToRigSample(*s, 0, b.deps.Origin, !b.deps.SkipSpine))
	return nil
}

func (b *Backend) RecordTickStats(s *core.TickStats) error {
	b.queues.TickStats.Push(convert.CoreToTickStat(*s, 0))
	return nil
}

// Pending returns the number of queued records.
func (b *Backend) Pending() int {
	return b.queues.JointEvents.Len() + b.queues.RigSamples.Len() + b.queues.TickStats.Len()
}

// Flush writes every queue. Records queued before StartRun are discarded.
func (b *Backend) Flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	runID := uint(b.runID.Load())
	if runID == 0 {
		b.queues.JointEvents.Drain()
		b.queues.RigSamples.Drain()
		b.queues.TickStats.Drain()
		return nil
	}

	return errors.Join(
		writeQueue(b.deps.DB, b.queues.JointEvents, func(m *model.JointEvent) { m.RunID = runID }),
		writeQueue(b.deps.DB, b.queues.RigSamples, func(m *model.RigSample) { m.RunID = runID }),
		writeQueue(b.deps.DB, b.queues.TickStats, func(m *model.TickStat) { m.RunID = runID }),
	)
}

// writeQueue writes every queued item in one transaction and requeues them
// when the insert fails.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], stamp func(*T)) error {
	items := q.Drain()
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		stamp(&items[i])
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&items).Error
	})
	if err != nil {
		q.Push(items...)
		var zero T
		return fmt.Errorf("error creating %T: %w", zero, err)
	}
	return nil
}

func (b *Backend) writeLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.Flush(); err != nil {
				b.deps.Logger.Error().Err(err).Msg("DB writer failed, records requeued")
				continue
			}
			b.deps.Logger.Trace().Dur("duration", time.Since(start)).Msg("DB writer flushed")
		}
	}
}
