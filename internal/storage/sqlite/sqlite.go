// Package sqlitestorage records into an in-memory SQLite database and
// periodically snapshots it to disk with VACUUM INTO. Everything else is the
// shared GORM backend.
package sqlitestorage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/OCAP2/rigstream/internal/database"
	"github.com/OCAP2/rigstream/internal/geo"
	gormstorage "github.com/OCAP2/rigstream/internal/storage/gorm"
	"github.com/rs/zerolog"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	DumpInterval time.Duration
	DumpPath     string
}

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	cfg  Config
	log  zerolog.Logger
	stop chan struct{}
	done chan struct{}
}

// New creates the in-memory database. Spines are skipped since SQLite has no
// spatial types to query them with.
func New(cfg Config, log zerolog.Logger, origin geo.Origin) (*Backend, error) {
	db, err := database.OpenSQLite("")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			DB:        db,
			Logger:    log,
			Origin:    origin,
			SkipSpine: true,
		}),
		cfg: cfg,
		log: log,
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}
	if b.cfg.DumpPath != "" {
		if err := os.MkdirAll(filepath.Dir(b.cfg.DumpPath), 0755); err != nil {
			return fmt.Errorf("failed to create dump directory: %w", err)
		}
	}
	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.stop = make(chan struct{})
		b.done = make(chan struct{})
		go b.dumpLoop()
	}
	return nil
}

// EndRun flushes the run and writes a final dump.
func (b *Backend) EndRun() error {
	if err := b.Backend.EndRun(); err != nil {
		return err
	}
	return b.Dump()
}

// Close stops the dump goroutine and closes the embedded GORM backend.
func (b *Backend) Close() error {
	if b.stop != nil {
		close(b.stop)
		<-b.done
		b.stop = nil
	}
	return b.Backend.Close()
}

// Dump flushes queued records and snapshots the database. It is a no-op
// without a dump path.
func (b *Backend) Dump() error {
	if b.cfg.DumpPath == "" {
		return nil
	}
	if err := b.Flush(); err != nil {
		return err
	}
	return database.DumpMemoryDBToDisk(b.DB(), b.cfg.DumpPath)
}

func (b *Backend) dumpLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.Dump(); err != nil {
				b.log.Error().Err(err).Msg("Error dumping to disk")
			} else {
				b.log.Debug().Dur("duration", time.Since(start)).Msg("Dumped to disk")
			}
		}
	}
}
