package storage_test

import (
	"testing"
	"time"

	"github.com/OCAP2/rigstream/internal/config"
	"github.com/OCAP2/rigstream/internal/storage"
	"github.com/OCAP2/rigstream/internal/storage/memory"
	"github.com/OCAP2/rigstream/internal/storage/postgres"
	sqlitestorage "github.com/OCAP2/rigstream/internal/storage/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ storage.Backend  = (*memory.Backend)(nil)
	_ storage.Exporter = (*memory.Backend)(nil)
	_ storage.Backend  = (*postgres.Backend)(nil)
	_ storage.Backend  = (*sqlitestorage.Backend)(nil)
)

func TestNewBackend(t *testing.T) {
	deps := storage.Dependencies{Logger: zerolog.Nop(), Started: time.Now()}

	tests := []struct {
		typ  string
		want any
	}{
		{"", &memory.Backend{}},
		{"memory", &memory.Backend{}},
		{"postgres", &postgres.Backend{}},
		{"sqlite", &sqlitestorage.Backend{}},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			b, err := storage.NewBackend(config.StorageConfig{Type: tt.typ, SQLite: config.SQLiteConfig{OutputDir: t.TempDir()}}, deps)
			require.NoError(t, err)
			assert.IsType(t, tt.want, b)
		})
	}
}

func TestNewBackend_Unknown(t *testing.T) {
	_, err := storage.NewBackend(config.StorageConfig{Type: "mongo"}, storage.Dependencies{})
	assert.EqualError(t, err, "unknown storage type: mongo")
}
