package rig

import (
	"github.com/OCAP2/rigstream/internal/physics"
)

// JointState is the breakage state of a breakable joint.
type JointState int

const (
	JointIntact JointState = iota
	JointDamaged
	JointBroken
	JointHealed
)

func (s JointState) String() string {
	switch s {
	case JointIntact:
		return "intact"
	case JointDamaged:
		return "damaged"
	case JointBroken:
		return "broken"
	case JointHealed:
		return "healed"
	}
	return "unknown"
}

// damageFactor is how much of the overshoot above the damage threshold is
// taken off the breaking threshold per damaging tick.
const damageFactor = 0.5

// Breakable is a joint with stress thresholds. Breaking it breaks its slaves.
type Breakable struct {
	Joint  physics.Joint
	Slaves []physics.Joint

	breaking    float64
	damage      float64
	hasBreaking bool
	state       JointState
}

func newBreakable(j physics.Joint) *Breakable {
	return &Breakable{Joint: j}
}

// SetWeakness sets the breaking and damage thresholds. The damage threshold
// is clamped so it never exceeds the breaking threshold.
func (b *Breakable) SetWeakness(breaking, damage float64) {
	b.breaking = breaking
	b.damage = min(damage, breaking)
	b.hasBreaking = true
}

// MakeUnbreakable clears the breaking threshold.
func (b *Breakable) MakeUnbreakable() {
	b.hasBreaking = false
	b.breaking = 0
	b.damage = 0
}

// Threshold returns the current breaking threshold.
func (b *Breakable) Threshold() (float64, bool) { return b.breaking, b.hasBreaking }

// DamageThreshold returns the damage threshold.
func (b *Breakable) DamageThreshold() float64 { return b.damage }

// State is the breakage state.
func (b *Breakable) State() JointState { return b.state }

// Broken reports whether the joint is broken.
func (b *Breakable) Broken() bool { return b.state == JointBroken }

// check evaluates the joint's stress and returns the transition it caused,
// if any. Broken joints and joints without a breaking threshold are skipped.
func (b *Breakable) check() (JointState, float64, bool) {
	if b.state == JointBroken || !b.hasBreaking {
		return b.state, 0, false
	}
	stress := b.Joint.Stress()
	switch {
	case stress > b.breaking:
		b.breakJoint()
		return JointBroken, stress, true
	case stress > b.damage && b.damage > 0:
		b.applyDamage(stress)
		return JointDamaged, stress, true
	}
	return b.state, stress, false
}

func (b *Breakable) breakJoint() {
	b.Joint.Break()
	for _, s := range b.Slaves {
		s.Break()
	}
	b.state = JointBroken
}

func (b *Breakable) applyDamage(stress float64) {
	b.breaking -= (stress - b.damage) * damageFactor
	if b.breaking < b.damage {
		b.breaking = b.damage
	}
	b.state = JointDamaged
}

// restore heals a broken joint and its slaves. Thresholds keep any damage taken.
func (b *Breakable) restore() bool {
	if b.state != JointBroken {
		return false
	}
	b.Joint.Restore()
	for _, s := range b.Slaves {
		s.Restore()
	}
	b.state = JointHealed
	return true
}
