package storage

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/OCAP2/rigstream/internal/config"
	"github.com/OCAP2/rigstream/internal/geo"
	"github.com/OCAP2/rigstream/internal/storage/memory"
	"github.com/OCAP2/rigstream/internal/storage/postgres"
	sqlitestorage "github.com/OCAP2/rigstream/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

// Dependencies are shared by every backend.
type Dependencies struct {
	Logger zerolog.Logger
	Origin geo.Origin
	// Started names the sqlite dump file.
	Started time.Time
}

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg config.StorageConfig, deps Dependencies) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(cfg.Postgres, postgres.Dependencies{Logger: deps.Logger, Origin: deps.Origin}), nil
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     filepath.Join(cfg.SQLite.OutputDir, fmt.Sprintf("rigstream_%s.db", deps.Started.UTC().Format("20060102_150405"))),
		}, deps.Logger, deps.Origin)
	case "memory", "":
		return memory.New(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
