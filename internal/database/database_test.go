package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/OCAP2/rigstream/internal/config"
	"github.com/OCAP2/rigstream/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(config.PostgresConfig{Host: "db", Port: "5433", Username: "u", Password: "p", Database: "rigs"})
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=rigs sslmode=disable", dsn)
}

func TestOpenSQLite_InMemoryIsPrivate(t *testing.T) {
	a, err := OpenSQLite("")
	require.NoError(t, err)
	b, err := OpenSQLite("")
	require.NoError(t, err)

	require.NoError(t, Migrate(a, zerolog.Nop()))
	assert.True(t, a.Migrator().HasTable(&model.Run{}))
	assert.False(t, b.Migrator().HasTable(&model.Run{}))
}

func TestMigrate_SeedsServerInfoOnce(t *testing.T) {
	db, err := OpenSQLite("")
	require.NoError(t, err)

	require.NoError(t, Migrate(db, zerolog.Nop()))
	require.NoError(t, Migrate(db, zerolog.Nop()))

	var count int64
	require.NoError(t, db.Model(&model.ServerInfo{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDumpMemoryDBToDisk(t *testing.T) {
	db, err := OpenSQLite("")
	require.NoError(t, err)
	require.NoError(t, Migrate(db, zerolog.Nop()))
	require.NoError(t, db.Create(&model.Run{RunKey: "01J000000000000000000000AA", Host: "h"}).Error)

	dir := t.TempDir()
	path := filepath.Join(dir, "run.db")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))
	require.NoError(t, DumpMemoryDBToDisk(db, path))

	disk, err := OpenSQLite(path)
	require.NoError(t, err)
	var run model.Run
	require.NoError(t, disk.First(&run).Error)
	assert.Equal(t, "h", run.Host)

	paths, err := BackupDBPaths(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, paths)
}

func TestDumpMemoryDBToDisk_NoPath(t *testing.T) {
	db, err := OpenSQLite("")
	require.NoError(t, err)
	assert.Error(t, DumpMemoryDBToDisk(db, ""))
}

func TestManager_FallsBackToSQLite(t *testing.T) {
	m := NewManager(zerolog.Nop())
	err := m.Connect(config.PostgresConfig{Host: "127.0.0.1", Port: "1", Username: "u", Password: "p", Database: "d"})
	require.NoError(t, err)

	assert.True(t, m.Fallback)
	assert.Equal(t, "sqlite", m.DB.Name())
	assert.True(t, m.DB.Migrator().HasTable(&model.TickStat{}))
}
