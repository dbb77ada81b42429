package sqlitestorage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/OCAP2/rigstream/internal/database"
	"github.com/OCAP2/rigstream/internal/geo"
	"github.com/OCAP2/rigstream/internal/model"
	"github.com/OCAP2/rigstream/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndRun_DumpsToDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dumps", "run.db")
	b, err := New(Config{DumpPath: path}, zerolog.Nop(), geo.Origin{})
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartRun(&core.Run{Key: "01J0000000000000000000SQL1", StartedAt: time.Now()}))
	require.NoError(t, b.RecordRigSample(&core.RigSample{
		Rig:   "hero",
		Spine: []core.Position3D{{Z: 1}, {Z: 2}},
	}))
	require.NoError(t, b.EndRun())

	disk, err := database.OpenSQLite(path)
	require.NoError(t, err)

	var sample model.RigSample
	require.NoError(t, disk.First(&sample).Error)
	assert.Equal(t, "hero", sample.Rig)
	assert.True(t, sample.Spine.IsEmpty())
}

func TestDump_NoPath(t *testing.T) {
	b, err := New(Config{}, zerolog.Nop(), geo.Origin{})
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	assert.NoError(t, b.Dump())
}

func TestDumpLoop_Periodic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "periodic.db")
	b, err := New(Config{DumpPath: path, DumpInterval: 10 * time.Millisecond}, zerolog.Nop(), geo.Origin{})
	require.NoError(t, err)
	require.NoError(t, b.Init())
	require.NoError(t, b.StartRun(&core.Run{Key: "01J0000000000000000000SQL2", StartedAt: time.Now()}))

	assert.Eventually(t, func() bool {
		paths, err := database.BackupDBPaths(filepath.Dir(path))
		return err == nil && len(paths) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, b.Close())
}
