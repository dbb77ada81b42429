package main

import (
	"fmt"

	"github.com/OCAP2/rigstream/internal/config"
	"github.com/OCAP2/rigstream/internal/geo"
	"github.com/OCAP2/rigstream/internal/storage"
)

// initStorage creates and initializes the recording backend. An unreachable
// postgres server falls back to a local sqlite file.
func initStorage() error {
	storageCfg := config.GetStorageConfig()

	backend, err := createStorageBackend(storageCfg)
	if err != nil {
		Logger.Error("Failed to create storage backend", "error", err)
		return err
	}
	if err := backend.Init(); err != nil {
		if storageCfg.Type != "postgres" {
			Logger.Error("Failed to initialize storage backend", "type", storageCfg.Type, "error", err)
			return err
		}
		Logger.Warn("Postgres unavailable, falling back to sqlite", "error", err)
		storageCfg.Type = "sqlite"
		if backend, err = createStorageBackend(storageCfg); err != nil {
			return err
		}
		if err := backend.Init(); err != nil {
			return fmt.Errorf("initialize sqlite fallback: %w", err)
		}
	}

	dataStore = backend
	Logger.Info("Storage backend initialized", "type", storageCfg.Type)
	return nil
}

func createStorageBackend(storageCfg config.StorageConfig) (storage.Backend, error) {
	var origin geo.Origin
	if geoCfg := config.GetGeoConfig(); geoCfg.Enabled {
		origin = geo.NewOrigin(geoCfg.Lon, geoCfg.Lat)
	}
	return storage.NewBackend(storageCfg, storage.Dependencies{
		Logger:  zeroLog.With().Str("component", "storage").Logger(),
		Origin:  origin,
		Started: SessionStartTime,
	})
}
