// Package world owns the simulation state and drives one tick of it: rigs,
// the physics step, scene sync, viewer streaming, peer streaming and
// recording.
package world

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/rigstream/internal/arena"
	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/OCAP2/rigstream/internal/rig"
	"github.com/OCAP2/rigstream/internal/scene"
	"github.com/OCAP2/rigstream/internal/storage"
	"github.com/OCAP2/rigstream/internal/stream"
	"github.com/OCAP2/rigstream/pkg/core"
	"github.com/OCAP2/rigstream/pkg/streaming"
)

const instrumentationName = "github.com/OCAP2/rigstream/internal/world"

const DefaultTickRate = 60

// Acceptor hands over viewer connections accepted since the last call.
type Acceptor interface {
	Accept() []stream.Conn
}

// PeerSender is the UDP side of peer streaming.
type PeerSender interface {
	Enable(host string) (string, error)
	Addr(host string) (string, bool)
	Send(host string, records []streaming.PeerRecord) error
}

// TickObserver receives the stats of every frame that was not dropped.
type TickObserver interface {
	Observe(s core.TickStats)
}

// flusher is implemented by observers that buffer stats; Close flushes them
// before the run ends.
type flusher interface {
	Flush() error
}

// SessionWriter mirrors session starts and ends to a time-series sink.
type SessionWriter interface {
	WriteSession(s core.Session, runKey string) error
}

type Config struct {
	TickRate int
	FPSFloor float64
	// SampleEvery is the tick interval between rig samples. Zero samples
	// once per second of ticks.
	SampleEvery uint64
	Host        string
}

type Dependencies struct {
	Engine   physics.Engine
	Scene    *scene.Scene
	Rigs     *rig.Registry
	Streams  *stream.Manager
	Acceptor Acceptor
	Peers    PeerSender
	Recorder storage.Backend
	Monitor  TickObserver
	Sessions SessionWriter
	Logger   *slog.Logger
}

// World is the simulation. Tick runs on one goroutine; the HTTP accessors
// take the same lock and may be called from any goroutine.
type World struct {
	cfg    Config
	deps   Dependencies
	logger *slog.Logger
	clock  *FrameClock
	step   float64

	mu         sync.Mutex
	tick       uint64
	physics    bool
	run        *core.Run
	sessions   map[uint64]*core.Session
	rigObjects map[string][]arena.Handle

	// read by the log context provider without the lock
	tickNo       atomic.Uint64
	liveSessions atomic.Int64

	framesDropped metric.Int64Counter
}

func New(cfg Config, deps Dependencies) (*World, error) {
	if deps.Engine == nil || deps.Scene == nil || deps.Rigs == nil || deps.Streams == nil {
		return nil, errors.New("world needs an engine, a scene, a rig registry and a session manager")
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.SampleEvery == 0 {
		cfg.SampleEvery = uint64(cfg.TickRate)
	}
	if cfg.Host == "" {
		cfg.Host, _ = os.Hostname()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	w := &World{
		cfg:        cfg,
		deps:       deps,
		logger:     deps.Logger,
		clock:      NewFrameClock(cfg.FPSFloor),
		step:       1 / float64(cfg.TickRate),
		physics:    true,
		sessions:   make(map[uint64]*core.Session),
		rigObjects: make(map[string][]arena.Handle),
	}

	var err error
	w.framesDropped, err = otel.Meter(instrumentationName).Int64Counter("world.frames.dropped",
		metric.WithDescription("Frames that skipped streaming for running below the FPS floor"))
	if err != nil {
		return nil, fmt.Errorf("create dropped frames counter: %w", err)
	}

	deps.Streams.OnRemove(w.endSession)
	return w, nil
}

// SetObservers wires the stats observer and the session sink. They are
// usually created after StartRun, once the run key is known.
func (w *World) SetObservers(m TickObserver, s SessionWriter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deps.Monitor = m
	w.deps.Sessions = s
}

// SetPhysics pauses or resumes rigs and the physics step. Frames are never
// dropped while physics is paused.
func (w *World) SetPhysics(on bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.physics = on
}

// Frames returns the good and dropped frame totals.
func (w *World) Frames() (good, dropped uint64) { return w.clock.Frames() }

// LogContext is a logging.ContextProvider.
func (w *World) LogContext() []slog.Attr {
	return []slog.Attr{
		slog.Uint64("tick", w.tickNo.Load()),
		slog.Int64("viewers", w.liveSessions.Load()),
	}
}

// Run returns the current run, or nil before StartRun.
func (w *World) Run() *core.Run {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.run == nil {
		return nil
	}
	r := *w.run
	return &r
}

// StartRun opens a recording run keyed by a fresh ULID.
func (w *World) StartRun(now time.Time) (*core.Run, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.run != nil {
		return nil, errors.New("run already started")
	}
	run := &core.Run{
		Key:       ulid.Make().String(),
		Host:      w.cfg.Host,
		TickRate:  w.cfg.TickRate,
		StartedAt: now.UTC(),
	}
	if w.deps.Recorder != nil {
		if err := w.deps.Recorder.StartRun(run); err != nil {
			return nil, fmt.Errorf("start run: %w", err)
		}
	}
	w.run = run
	w.logger.Info("Run started", "run", run.Key, "tickRate", run.TickRate)
	r := *run
	return &r, nil
}

// Tick advances the simulation by one frame.
func (w *World) Tick(ctx context.Context, now time.Time) core.TickStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tick++
	w.tickNo.Store(w.tick)
	fps, dropped := w.clock.Advance(now, w.physics)
	stats := core.TickStats{Time: now.UTC(), Tick: w.tick, FPS: fps, Dropped: dropped}

	w.accept(now)

	if w.physics {
		errs := w.deps.Rigs.UpdateAll(rig.Tick{Number: w.tick, Dt: w.step})
		for _, err := range errs {
			w.logger.Error("Rig update failed", "error", err)
		}
		stats.RigErrors = len(errs)
		w.recordJointEvents(now)
		w.deps.Engine.Step(w.step)
	}
	w.deps.Scene.Sync()

	if dropped {
		w.framesDropped.Add(ctx, 1)
		w.logger.Debug("Frame dropped", "fps", fps)
		stats.Sessions = w.deps.Streams.Len()
		return stats
	}

	st := w.deps.Streams.Tick(ctx, w.deps.Scene, now)
	stats.Sessions = w.deps.Streams.Len()
	stats.Sent = st.Sent
	stats.Blocked = st.Blocked
	stats.Bytes = int64(st.Bytes)
	stats.Malformed = st.Malformed
	w.liveSessions.Store(int64(stats.Sessions))

	w.streamPeers()
	if w.tick%w.cfg.SampleEvery == 0 {
		w.recordSamples(now)
	}
	if w.deps.Monitor != nil {
		w.deps.Monitor.Observe(stats)
	}
	return stats
}

func (w *World) accept(now time.Time) {
	if w.deps.Acceptor == nil {
		return
	}
	for _, conn := range w.deps.Acceptor.Accept() {
		_, s := w.deps.Streams.Add(conn)
		w.beginSession(s, now)
	}
	w.liveSessions.Store(int64(w.deps.Streams.Len()))
}

func (w *World) streamPeers() {
	if w.deps.Peers == nil {
		return
	}
	for _, peer := range w.deps.Scene.Peers() {
		records := peerRecords(w.deps.Scene.PeerObjects(peer))
		if len(records) == 0 {
			continue
		}
		if err := w.deps.Peers.Send(peer, records); err != nil {
			w.logger.Warn("Peer send failed", "peer", peer, "error", err)
		}
	}
}

// RunLoop ticks at the configured rate until ctx is done, then closes the
// world.
func (w *World) RunLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) * w.step))
	defer ticker.Stop()
	w.logger.Info("Simulation running", "tickRate", w.cfg.TickRate)

	for {
		select {
		case <-ctx.Done():
			return w.Close(time.Now())
		case now := <-ticker.C:
			w.Tick(ctx, now)
		}
	}
}

// Close drops every viewer and ends the run.
func (w *World) Close(now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.deps.Streams.Close()
	w.liveSessions.Store(0)

	if w.run == nil || w.deps.Recorder == nil {
		return nil
	}
	w.run.EndedAt = now.UTC()
	if f, ok := w.deps.Monitor.(flusher); ok {
		if err := f.Flush(); err != nil {
			w.logger.Warn("Final monitor flush failed", "error", err)
		}
	}
	if err := w.deps.Recorder.EndRun(); err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	w.logger.Info("Run ended", "run", w.run.Key, "ticks", w.tick)
	return nil
}
