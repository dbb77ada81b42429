// Package stream composes per-viewer scene messages and drives the
// non-blocking send/receive cycle of every session once per tick.
package stream

import (
	"maps"
	"time"

	"github.com/OCAP2/rigstream/pkg/streaming"
	"github.com/go-gl/mathgl/mgl64"
)

// SendResult is the outcome of one non-blocking send attempt.
type SendResult int

const (
	SendOk SendResult = iota
	// SendWouldBlock means the previous message is still in flight.
	SendWouldBlock
	SendClosed
	SendError
)

func (r SendResult) String() string {
	switch r {
	case SendOk:
		return "ok"
	case SendWouldBlock:
		return "would-block"
	case SendClosed:
		return "closed"
	case SendError:
		return "error"
	}
	return "unknown"
}

// Conn is a viewer connection. Send and Recv never block.
type Conn interface {
	Send(msg []byte) (SendResult, error)
	// Recv returns the frames received since the last call and whether the
	// peer closed the connection.
	Recv() (frames [][]byte, closed bool)
	Close() error
	RemoteAddr() string
}

// Rand is the random source of the visibility gate.
type Rand interface {
	Float64() float64
}

// Boundary is the interest region of a session. Objects beyond Max are far;
// far objects already known to the viewer are admitted with probability 0.5
// inside Half and 0.25 inside Full.
type Boundary struct {
	Max  float64
	Half float64
	Full float64
}

// NewBoundary returns the rings for a max distance: max, 2*max and 4*max.
func NewBoundary(maxDistance float64) Boundary {
	return Boundary{Max: maxDistance, Half: maxDistance * 2, Full: maxDistance * 4}
}

// Session is the server-side state of one viewer.
type Session struct {
	UID      uint64
	Addr     string
	Location mgl64.Vec3
	Focal    mgl64.Vec3
	Boundary Boundary
	Camera   streaming.Camera
	Godrays  bool
	FX       map[string]streaming.FX

	conn Conn
	sent map[uint16]bool

	bytes       int
	windowStart time.Time
	bps         int
	total       int64
}

// Known reports whether an object was ever sent to the session.
func (s *Session) Known(uid uint16) bool { return s.sent[uid] }

// KnownCount is the number of objects ever sent to the session.
func (s *Session) KnownCount() int { return len(s.sent) }

// BytesPerSecond is the byte count of the last completed one-second window.
func (s *Session) BytesPerSecond() int { return s.bps }

// TotalBytes is every byte sent to the session.
func (s *Session) TotalBytes() int64 { return s.total }

func (s *Session) account(n int, now time.Time) {
	switch {
	case s.windowStart.IsZero():
		s.windowStart = now
	case now.Sub(s.windowStart) > time.Second:
		s.bps = s.bytes
		s.bytes = 0
		s.windowStart = now
	}
	s.bytes += n
	s.total += int64(n)
}

// gate decides visibility for one session during one tick. At most one
// unknown far object slips through per tick.
type gate struct {
	s       *Session
	rand    Rand
	farUsed bool
}

// admit returns whether an object at distance d is sent and whether it
// counts as far.
func (g *gate) admit(uid uint16, d float64) (ok, far bool) {
	b := g.s.Boundary
	if d <= b.Max {
		g.s.sent[uid] = true
		return true, false
	}
	if !g.s.sent[uid] {
		if g.farUsed {
			return false, true
		}
		g.farUsed = true
		g.s.sent[uid] = true
		return true, true
	}
	switch {
	case d < b.Half:
		return g.rand.Float64() <= 0.5, true
	case d < b.Full:
		return g.rand.Float64() <= 0.25, true
	}
	return false, true
}

func cloneFX(fx map[string]streaming.FX) map[string]streaming.FX {
	out := make(map[string]streaming.FX, len(fx))
	for k, v := range fx {
		v.Uniforms = maps.Clone(v.Uniforms)
		out[k] = v
	}
	return out
}
