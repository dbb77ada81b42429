// Package postgres records into PostgreSQL/PostGIS through the shared GORM
// backend, falling back to an in-memory SQLite database when the server is
// unreachable.
package postgres

import (
	"fmt"

	"github.com/OCAP2/rigstream/internal/config"
	"github.com/OCAP2/rigstream/internal/database"
	"github.com/OCAP2/rigstream/internal/geo"
	gormstorage "github.com/OCAP2/rigstream/internal/storage/gorm"
	"github.com/OCAP2/rigstream/pkg/core"
	"github.com/rs/zerolog"
)

// Dependencies holds what the backend needs besides the connection settings.
type Dependencies struct {
	Logger zerolog.Logger
	Origin geo.Origin
}

// Backend connects on Init and then delegates to the GORM backend.
type Backend struct {
	*gormstorage.Backend
	cfg  config.PostgresConfig
	deps Dependencies
	mgr  *database.Manager
}

func New(cfg config.PostgresConfig, deps Dependencies) *Backend {
	return &Backend{cfg: cfg, deps: deps, mgr: database.NewManager(deps.Logger)}
}

// Init connects, migrates and starts the batch writer.
func (b *Backend) Init() error {
	if err := b.mgr.Connect(b.cfg); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:        b.mgr.DB,
		Logger:    b.deps.Logger,
		Origin:    b.deps.Origin,
		SkipSpine: b.mgr.Fallback,
	})
	return b.Backend.Init()
}

// Fallback reports whether records go to SQLite instead of postgres.
func (b *Backend) Fallback() bool { return b.mgr.Fallback }

func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}

func (b *Backend) StartRun(run *core.Run) error {
	if b.Backend == nil {
		return gormstorage.ErrNoRun
	}
	return b.Backend.StartRun(run)
}
