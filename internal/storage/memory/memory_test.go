package memory

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OCAP2/rigstream/internal/config"
	"github.com/OCAP2/rigstream/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRun() *core.Run {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &core.Run{Key: "01J0000000000000000000MEM1", Host: "box", TickRate: 60, StartedAt: start, EndedAt: start.Add(90 * time.Second)}
}

func TestStartRun_AssignsIDAndResets(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.Init())

	require.NoError(t, b.StartRun(newRun()))
	require.NoError(t, b.RecordJointEvent(&core.JointEvent{Rig: "hero"}))
	require.NoError(t, b.AddSession(&core.Session{Key: "a"}))

	run := newRun()
	require.NoError(t, b.StartRun(run))
	assert.Equal(t, uint(1), run.ID)
	_, ok := b.Rig("hero")
	assert.False(t, ok)
	assert.Empty(t, b.Sessions())
	assert.NoError(t, b.Close())
}

func TestSessions(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.StartRun(newRun()))

	s1 := &core.Session{Key: "a", UID: 1}
	s2 := &core.Session{Key: "b", UID: 2}
	require.NoError(t, b.AddSession(s1))
	require.NoError(t, b.AddSession(s2))
	assert.Equal(t, uint(2), s1.ID)
	assert.Equal(t, uint(3), s2.ID)

	require.NoError(t, b.EndSession(&core.Session{ID: s2.ID, Key: "b", UID: 2, BytesSent: 77}))
	got := b.Sessions()
	require.Len(t, got, 2)
	assert.Equal(t, int64(77), got[1].BytesSent)
}

func TestRecordsGroupedByRig(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.StartRun(newRun()))

	require.NoError(t, b.RecordRigSample(&core.RigSample{Rig: "hero", Tick: 1}))
	require.NoError(t, b.RecordRigSample(&core.RigSample{Rig: "rope", Tick: 1}))
	require.NoError(t, b.RecordJointEvent(&core.JointEvent{Rig: "hero", Joint: "neck", State: "broken"}))

	hero, ok := b.Rig("hero")
	require.True(t, ok)
	assert.Len(t, hero.Samples, 1)
	assert.Len(t, hero.JointEvents, 1)

	hero.Samples[0].Tick = 99
	again, _ := b.Rig("hero")
	assert.Equal(t, uint64(1), again.Samples[0].Tick)
}

func TestEndRun_WithoutStart(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()})
	assert.NoError(t, b.EndRun())
	assert.Empty(t, b.ExportedFilePath())
}

func TestEndRun_ExportsJSON(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	b := New(config.MemoryConfig{OutputDir: dir})
	require.NoError(t, b.StartRun(newRun()))
	require.NoError(t, b.RecordRigSample(&core.RigSample{Rig: "hero", Tick: 42}))
	require.NoError(t, b.RecordTickStats(&core.TickStats{Tick: 40, FPS: 60}))

	require.NoError(t, b.EndRun())

	path := b.ExportedFilePath()
	assert.Equal(t, filepath.Join(dir, "rigstream_01J0000000000000000000MEM1_20260301_120000.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var export RunExport
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Equal(t, uint64(42), export.EndTick)
	assert.Equal(t, 90.0, export.Duration)
	assert.Equal(t, []string{"hero"}, export.RigOrder)
	assert.Len(t, export.TickStats, 1)
	assert.NotNil(t, export.Sessions)
}

func TestEndRun_ExportsGzip(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir(), CompressOutput: true})
	require.NoError(t, b.StartRun(newRun()))
	require.NoError(t, b.EndRun())

	path := b.ExportedFilePath()
	assert.True(t, strings.HasSuffix(path, ".json.gz"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)

	var export RunExport
	require.NoError(t, json.NewDecoder(gz).Decode(&export))
	assert.Equal(t, "box", export.Run.Host)
	assert.Empty(t, export.TickStats)
}

func TestConcurrentAccess(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.StartRun(newRun()))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				b.RecordRigSample(&core.RigSample{Rig: "hero", Tick: uint64(i*50 + j)})
				b.RecordTickStats(&core.TickStats{Tick: uint64(j)})
			}
		}()
	}
	wg.Wait()

	hero, _ := b.Rig("hero")
	assert.Len(t, hero.Samples, 400)
}
