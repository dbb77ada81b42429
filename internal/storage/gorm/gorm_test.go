package gormstorage

import (
	"testing"
	"time"

	"github.com/OCAP2/rigstream/internal/database"
	"github.com/OCAP2/rigstream/internal/model"
	"github.com/OCAP2/rigstream/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	db, err := database.OpenSQLite("")
	require.NoError(t, err)

	b := New(Dependencies{DB: db, Logger: zerolog.Nop(), FlushInterval: time.Hour})
	require.NoError(t, b.Init())
	t.Cleanup(func() { b.Close() })
	return b
}

func count(t *testing.T, b *Backend, m any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, b.DB().Model(m).Count(&n).Error)
	return n
}

func TestInit_RequiresDB(t *testing.T) {
	assert.Error(t, New(Dependencies{}).Init())
}

func TestStartRun_AssignsID(t *testing.T) {
	b := newTestBackend(t)

	run := &core.Run{Key: "01J0000000000000000000RUN1", Host: "box", TickRate: 60, StartedAt: time.Now()}
	require.NoError(t, b.StartRun(run))
	assert.NotZero(t, run.ID)
	assert.Equal(t, int64(1), count(t, b, &model.Run{}))
}

func TestSessions_RequireRun(t *testing.T) {
	b := newTestBackend(t)
	assert.ErrorIs(t, b.AddSession(&core.Session{Key: "s"}), ErrNoRun)
	assert.ErrorIs(t, b.EndRun(), ErrNoRun)
}

func TestSessionLifecycle(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.StartRun(&core.Run{Key: "01J0000000000000000000RUN2", StartedAt: time.Now()}))

	s := &core.Session{Key: "01J0000000000000000000SES1", UID: 1, Addr: "10.0.0.2:4000", ConnectedAt: time.Now()}
	require.NoError(t, b.AddSession(s))
	require.NotZero(t, s.ID)

	s.BytesSent = 2048
	s.DisconnectedAt = time.Now()
	require.NoError(t, b.EndSession(s))

	var got model.ViewerSession
	require.NoError(t, b.DB().First(&got, s.ID).Error)
	assert.Equal(t, int64(2048), got.BytesSent)
	assert.True(t, got.DisconnectedAt.Valid)
}

func TestRecords_QueuedUntilFlush(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.StartRun(&core.Run{Key: "01J0000000000000000000RUN3", StartedAt: time.Now()}))

	require.NoError(t, b.RecordJointEvent(&core.JointEvent{Rig: "hero", Joint: "neck", State: "broken", Tick: 3}))
	require.NoError(t, b.RecordTickStats(&core.TickStats{Tick: 3, FPS: 60}))
	require.NoError(t, b.RecordRigSample(&core.RigSample{
		Rig:   "hero",
		Root:  core.Position3D{Z: 1},
		Head:  core.Position3D{Z: 1.7},
		Spine: []core.Position3D{{Z: 1}, {Z: 1.7}},
	}))
	assert.Equal(t, 3, b.Pending())
	assert.Zero(t, count(t, b, &model.JointEvent{}))

	require.NoError(t, b.Flush())
	assert.Zero(t, b.Pending())
	assert.Equal(t, int64(1), count(t, b, &model.JointEvent{}))
	assert.Equal(t, int64(1), count(t, b, &model.TickStat{}))

	var sample model.RigSample
	require.NoError(t, b.DB().First(&sample).Error)
	head, ok := sample.Head.Coordinates()
	require.True(t, ok)
	assert.Equal(t, 1.7, head.Z)
	assert.NotZero(t, sample.RunID)
}

func TestFlush_DiscardsRecordsWithoutRun(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.RecordTickStats(&core.TickStats{Tick: 1}))

	require.NoError(t, b.Flush())
	assert.Zero(t, b.Pending())
	assert.Zero(t, count(t, b, &model.TickStat{}))
}

func TestEndRun_FlushesAndStampsEnd(t *testing.T) {
	b := newTestBackend(t)
	run := &core.Run{Key: "01J0000000000000000000RUN4", StartedAt: time.Now()}
	require.NoError(t, b.StartRun(run))
	require.NoError(t, b.RecordTickStats(&core.TickStats{Tick: 9}))

	require.NoError(t, b.EndRun())
	assert.Equal(t, int64(1), count(t, b, &model.TickStat{}))

	var got model.Run
	require.NoError(t, b.DB().First(&got, run.ID).Error)
	assert.True(t, got.EndedAt.Valid)
}

func TestWriteLoop_Flushes(t *testing.T) {
	db, err := database.OpenSQLite("")
	require.NoError(t, err)
	b := New(Dependencies{DB: db, Logger: zerolog.Nop(), FlushInterval: 10 * time.Millisecond})
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartRun(&core.Run{Key: "01J0000000000000000000RUN5", StartedAt: time.Now()}))
	require.NoError(t, b.RecordTickStats(&core.TickStats{Tick: 1}))

	assert.Eventually(t, func() bool {
		var n int64
		return b.DB().Model(&model.TickStat{}).Count(&n).Error == nil && n == 1
	}, time.Second, 10*time.Millisecond)
}
