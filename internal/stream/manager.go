package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OCAP2/rigstream/internal/arena"
	"github.com/OCAP2/rigstream/internal/scene"
	"github.com/OCAP2/rigstream/pkg/streaming"
	"go.opentelemetry.io/otel/metric"
)

// ActionDispatcher receives action frames together with the session that
// sent them.
type ActionDispatcher interface {
	DispatchAction(s *Session, code byte, args []byte) error
}

// Config holds per-session defaults and encoding settings.
type Config struct {
	MaxDistance float64
	MaxVerts    int
	Precision   int
	Camera      streaming.Camera
	Godrays     bool
	FX          map[string]streaming.FX
}

// DefaultConfig returns the defaults new sessions start with.
func DefaultConfig() Config {
	return Config{
		MaxDistance: 20,
		MaxVerts:    DefaultMaxVerts,
		Precision:   streaming.DefaultPrecision,
		Camera:      streaming.DefaultCamera(),
		FX:          DefaultFX(),
	}
}

// DefaultFX is the post-processing chain a new session starts with.
func DefaultFX() map[string]streaming.FX {
	return map[string]streaming.FX{
		"fxaa":            {Enabled: true},
		"dots":            {Uniforms: map[string]float64{"scale": 1.8}},
		"vignette":        {Enabled: true, Uniforms: map[string]float64{"darkness": 1.0}},
		"bloom":           {Enabled: true, Uniforms: map[string]float64{"opacity": 0.333}},
		"glowing_dots":    {Uniforms: map[string]float64{"scale": 0.23}},
		"blur_horizontal": {Enabled: true, Uniforms: map[string]float64{"r": 0.5}},
		"blur_vertical":   {Enabled: true, Uniforms: map[string]float64{"r": 0.5}},
		"noise":           {Uniforms: map[string]float64{"nIntensity": 0.01, "sIntensity": 0.5}},
		"film":            {Uniforms: map[string]float64{"nIntensity": 10.0, "sIntensity": 0.1}},
	}
}

// TickStats summarizes one streaming pass.
type TickStats struct {
	Sessions  int
	Sent      int
	Blocked   int
	Bytes     int
	Dropped   int
	Frames    int
	Malformed int
}

// Manager owns the session table. Add, Remove and Tick must be called from
// the simulation goroutine.
type Manager struct {
	cfg      Config
	rand     Rand
	actions  ActionDispatcher
	logger   *slog.Logger
	sessions *arena.Arena[*Session]
	nextUID  uint64
	onRemove func(*Session)

	bytesSent metric.Int64Counter
	active    metric.Int64UpDownCounter
}

// NewManager creates a session manager. actions may be nil, in which case
// action frames are logged and discarded.
func NewManager(cfg Config, rnd Rand, actions ActionDispatcher, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:      cfg,
		rand:     rnd,
		actions:  actions,
		logger:   logger,
		sessions: arena.New[*Session](),
	}

	var err error
	mt := meter()
	m.bytesSent, err = mt.Int64Counter("stream.bytes.sent",
		metric.WithDescription("Bytes sent to viewers"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, fmt.Errorf("create bytes counter: %w", err)
	}
	m.active, err = mt.Int64UpDownCounter("stream.sessions.active",
		metric.WithDescription("Connected viewer sessions"))
	if err != nil {
		return nil, fmt.Errorf("create sessions counter: %w", err)
	}
	return m, nil
}

// Add registers a connection as a new session.
func (m *Manager) Add(conn Conn) (arena.Handle, *Session) {
	m.nextUID++
	fx := m.cfg.FX
	if fx == nil {
		fx = DefaultFX()
	}
	s := &Session{
		UID:      m.nextUID,
		Addr:     conn.RemoteAddr(),
		Boundary: NewBoundary(m.cfg.MaxDistance),
		Camera:   m.cfg.Camera,
		Godrays:  m.cfg.Godrays,
		FX:       cloneFX(fx),
		conn:     conn,
		sent:     make(map[uint16]bool),
	}
	h := m.sessions.Insert(s)
	m.active.Add(context.Background(), 1)
	m.logger.Info("Viewer connected", "session", s.UID, "addr", s.Addr)
	return h, s
}

// OnRemove sets a callback run after a session is closed and forgotten,
// whether it was removed explicitly or dropped during Tick.
func (m *Manager) OnRemove(fn func(*Session)) { m.onRemove = fn }

// Remove closes and forgets a session.
func (m *Manager) Remove(h arena.Handle) bool {
	s, ok := m.sessions.Remove(h)
	if !ok {
		return false
	}
	defer func() {
		if m.onRemove != nil {
			m.onRemove(s)
		}
	}()
	if err := s.conn.Close(); err != nil {
		m.logger.Debug("Close viewer connection", "session", s.UID, "error", err)
	}
	m.active.Add(context.Background(), -1)
	m.logger.Info("Viewer disconnected", "session", s.UID, "addr", s.Addr)
	return true
}

// Forget clears uid from what every session knows. Call it when the scene
// removes an object so a later object reusing the uid is sent as new.
func (m *Manager) Forget(uid uint16) {
	m.sessions.Each(func(_ arena.Handle, s *Session) bool {
		delete(s.sent, uid)
		return true
	})
}

// Get returns a live session.
func (m *Manager) Get(h arena.Handle) (*Session, bool) { return m.sessions.Get(h) }

func (m *Manager) Len() int { return m.sessions.Len() }

// Sessions returns every live session.
func (m *Manager) Sessions() []*Session {
	out := make([]*Session, 0, m.sessions.Len())
	m.sessions.Each(func(_ arena.Handle, s *Session) bool {
		out = append(out, s)
		return true
	})
	return out
}

// Close drops every session.
func (m *Manager) Close() {
	for _, h := range m.sessions.Handles() {
		m.Remove(h)
	}
}

// Tick streams the scene to every session, then processes inbound frames.
// Writes always precede reads so a command received this tick affects the
// next message, never the one already composed.
func (m *Manager) Tick(ctx context.Context, sc *scene.Scene, now time.Time) TickStats {
	var stats TickStats
	handles := m.sessions.Handles()
	stats.Sessions = len(handles)

	for _, h := range handles {
		s, _ := m.sessions.Get(h)
		if !m.write(ctx, sc, s, now, &stats) {
			m.Remove(h)
			stats.Dropped++
		}
	}
	for _, h := range m.sessions.Handles() {
		s, _ := m.sessions.Get(h)
		if !m.read(s, &stats) {
			m.Remove(h)
			stats.Dropped++
		}
	}
	return stats
}

// write returns false when the session must be dropped.
func (m *Manager) write(ctx context.Context, sc *scene.Scene, s *Session, now time.Time, stats *TickStats) bool {
	msg := Compose(sc, s, m.rand, ComposeOptions{MaxVerts: m.cfg.MaxVerts})
	data, err := streaming.Encode(msg, m.cfg.Precision)
	if err != nil {
		m.logger.Error("Failed to encode message", "session", s.UID, "error", err)
		return true
	}

	res, err := s.conn.Send(data)
	switch res {
	case SendOk:
		s.account(len(data), now)
		stats.Sent++
		stats.Bytes += len(data)
		m.bytesSent.Add(ctx, int64(len(data)))
	case SendWouldBlock:
		stats.Blocked++
		m.logger.Debug("Viewer not ready, message dropped", "session", s.UID)
	case SendClosed:
		return false
	default:
		m.logger.Warn("Failed to send to viewer", "session", s.UID, "error", err)
		return false
	}
	return true
}

func (m *Manager) read(s *Session, stats *TickStats) bool {
	frames, closed := s.conn.Recv()
	for _, b := range frames {
		if len(b) == 0 {
			continue
		}
		stats.Frames++
		if err := m.handleFrame(s, b); err != nil {
			stats.Malformed++
			m.logger.Warn("Discarding viewer frame", "session", s.UID, "error", err)
		}
	}
	return !closed
}

func (m *Manager) handleFrame(s *Session, b []byte) error {
	f, err := streaming.ParseFrame(b)
	if err != nil {
		return err
	}
	switch f.Kind {
	case streaming.FrameCamera:
		s.Location = f.Position
		s.Focal = f.Focal
	case streaming.FramePing:
		m.logger.Debug("Viewer ping", "session", s.UID, "text", string(f.Ping))
	case streaming.FrameAction:
		if m.actions == nil {
			return errors.New("no action dispatcher")
		}
		return m.actions.DispatchAction(s, f.Code, f.Args)
	}
	return nil
}
