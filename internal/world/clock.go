package world

import (
	"sync/atomic"
	"time"
)

// DefaultFPSFloor is the rate below which a frame is dropped.
const DefaultFPSFloor = 15

// FrameClock measures the frame rate from successive tick timestamps and
// decides which frames are dropped. A dropped frame still steps physics and
// rigs but skips streaming and monitor work.
type FrameClock struct {
	floor float64
	last  time.Time
	fps   float64

	good    atomic.Uint64
	dropped atomic.Uint64
}

func NewFrameClock(floor float64) *FrameClock {
	if floor <= 0 {
		floor = DefaultFPSFloor
	}
	return &FrameClock{floor: floor}
}

// Advance records a tick at now. fps is 1/dt since the previous tick; the
// first tick, and a tick with no elapsed time, is never dropped.
func (c *FrameClock) Advance(now time.Time, physicsRunning bool) (fps float64, dropped bool) {
	if !c.last.IsZero() {
		if dt := now.Sub(c.last).Seconds(); dt > 0 {
			c.fps = 1 / dt
			dropped = physicsRunning && c.fps < c.floor
		}
	}
	c.last = now

	if dropped {
		c.dropped.Add(1)
	} else {
		c.good.Add(1)
	}
	return c.fps, dropped
}

// FPS is the rate measured by the last Advance.
func (c *FrameClock) FPS() float64 { return c.fps }

// Frames returns the good and dropped frame totals. Safe to call from any
// goroutine.
func (c *FrameClock) Frames() (good, dropped uint64) {
	return c.good.Load(), c.dropped.Load()
}
