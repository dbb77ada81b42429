package rig

import (
	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/go-gl/mathgl/mgl64"
)

// Target pulls bodies toward a goal. Distance-proportional force (raw power)
// reaches the goal and sticks but can be large when far away; constant
// direction force (normalized power) never grows but overshoots.
type Target struct {
	Name          string
	Goal          Goal
	Weight        float64
	RawPower      float64
	NormPower     float64
	XMult         float64
	YMult         float64
	ZMult         float64
	Bidirectional bool
	// Dynamic targets are created by the solver rather than bound externally.
	Dynamic bool
}

// TargetOption configures a Target.
type TargetOption func(*Target)

func WithWeight(w float64) TargetOption { return func(t *Target) { t.Weight = w } }
func WithRawPower(p float64) TargetOption { return func(t *Target) { t.RawPower = p } }
func WithNormPower(p float64) TargetOption { return func(t *Target) { t.NormPower = p } }
func WithZMult(z float64) TargetOption { return func(t *Target) { t.ZMult = z } }
func WithBidirectional(b bool) TargetOption {
	return func(t *Target) { t.Bidirectional = b }
}

// NewTarget creates a target with weight 0, raw power 1, normalized power 0
// and unit axis multipliers.
func NewTarget(name string, goal Goal, opts ...TargetOption) *Target {
	t := &Target{
		Name:     name,
		Goal:     goal,
		RawPower: 1,
		XMult:    1,
		YMult:    1,
		ZMult:    1,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ForceAt is the force this target applies to a body at pos.
func (t *Target) ForceAt(pos mgl64.Vec3) mgl64.Vec3 {
	delta := t.Goal.Position().Sub(pos)
	f := delta.Mul(t.RawPower)
	if l := delta.Len(); l > 0 {
		f = f.Add(delta.Mul(t.NormPower / l))
	}
	return mgl64.Vec3{
		f[0] * t.XMult * t.Weight,
		f[1] * t.YMult * t.Weight,
		f[2] * t.ZMult * t.Weight,
	}
}

// Apply adds this tick's force to every body. Forces are not accumulated
// across ticks; callers reapply every tick.
func (t *Target) Apply(bodies []physics.Body) {
	for _, b := range bodies {
		pos := b.Transform().Position
		b.AddForce(t.ForceAt(pos))
		if !t.Bidirectional {
			continue
		}
		if m, ok := t.Goal.(Mover); ok {
			delta := t.Goal.Position().Sub(pos)
			m.Translate(delta.Mul(-0.1))
		}
	}
}

// Reset returns a bidirectional target's goal to where it started.
func (t *Target) Reset() {
	if !t.Bidirectional {
		return
	}
	if m, ok := t.Goal.(Mover); ok {
		m.Reset()
	}
}
