// Package rig builds physics rigs from bone hierarchies and runs the per-tick
// solvers that drive them.
package rig

import (
	"fmt"
	"slices"

	"github.com/OCAP2/rigstream/internal/arena"
	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/go-gl/mathgl/mgl64"
)

// Default rig-wide tension of the fixed parent joints.
const (
	DefaultRigCFM = 0.05
	DefaultRigERP = 0.85
)

// Rand is the random source solvers draw from.
type Rand interface {
	Float64() float64
}

// Tick is the per-step input of Update.
type Tick struct {
	Number uint64
	Dt     float64
}

// JointEvent records a breakage state transition.
type JointEvent struct {
	Rig     string
	Segment string
	Joint   string
	State   JointState
	Stress  float64
	Tick    uint64
}

// Rig is an assembled physics skeleton with its solver state.
type Rig struct {
	Name     string
	strategy GaitStrategy
	engine   physics.Engine
	rand     Rand
	opts     Options

	infos    map[string]*BoneInfo
	segments *arena.Arena[*Segment]
	byName   map[string]arena.Handle
	order    []string

	targets       *arena.Arena[*Target]
	targetsByBone map[string][]arena.Handle

	markers map[string]*Marker
	poses   []string
	broken  []*Segment
	events  []JointEvent

	tensionCFM float64
	tensionERP float64
}

// Strategy returns the gait strategy driving the rig.
func (r *Rig) Strategy() GaitStrategy { return r.strategy }

// Segment looks a segment up by bone name.
func (r *Rig) Segment(name string) (*Segment, bool) {
	h, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.segments.Get(h)
}

// SegmentHandle returns the arena handle of a segment.
func (r *Rig) SegmentHandle(name string) (arena.Handle, bool) {
	h, ok := r.byName[name]
	return h, ok
}

// Segments returns all segments in build order.
func (r *Rig) Segments() []*Segment {
	out := make([]*Segment, 0, len(r.order))
	for _, name := range r.order {
		if s, ok := r.Segment(name); ok {
			out = append(out, s)
		}
	}
	return out
}

// Marker returns a named marker.
func (r *Rig) Marker(name string) (*Marker, bool) {
	m, ok := r.markers[name]
	return m, ok
}

func (r *Rig) addMarker(m *Marker) { r.markers[m.Name] = m }

// Markers returns every marker owned by the rig.
func (r *Rig) Markers() map[string]*Marker { return r.markers }

// Poses returns the names of the captured poses.
func (r *Rig) Poses() []string { return slices.Clone(r.poses) }

// Broken returns the broken segments, oldest first.
func (r *Rig) Broken() []*Segment { return slices.Clone(r.broken) }

// IsBroken reports whether s is in the broken list.
func (r *Rig) IsBroken(s *Segment) bool { return slices.Contains(r.broken, s) }

// Tension returns the rig-wide CFM and ERP of the fixed parent joints.
func (r *Rig) Tension() (cfm, erp float64) { return r.tensionCFM, r.tensionERP }

// AddTarget binds a target to a bone and returns its handle.
func (r *Rig) AddTarget(bone string, t *Target) (arena.Handle, error) {
	if _, ok := r.byName[bone]; !ok {
		return arena.Handle{}, fmt.Errorf("%w: %q", ErrMissingBone, bone)
	}
	h := r.targets.Insert(t)
	r.targetsByBone[bone] = append(r.targetsByBone[bone], h)
	return h, nil
}

// RemoveTarget unbinds a target.
func (r *Rig) RemoveTarget(h arena.Handle) bool {
	if _, ok := r.targets.Remove(h); !ok {
		return false
	}
	for bone, hs := range r.targetsByBone {
		r.targetsByBone[bone] = slices.DeleteFunc(hs, func(x arena.Handle) bool { return x == h })
	}
	return true
}

// Target resolves a target handle.
func (r *Rig) Target(h arena.Handle) (*Target, bool) { return r.targets.Get(h) }

// Targets returns the targets bound to a bone.
func (r *Rig) Targets(bone string) []*Target {
	var out []*Target
	for _, h := range r.targetsByBone[bone] {
		if t, ok := r.targets.Get(h); ok {
			out = append(out, t)
		}
	}
	return out
}

// AnyAncestorsBroken counts s and its ancestors that are in the broken list.
func (r *Rig) AnyAncestorsBroken(s *Segment) int {
	n := 0
	for b := s; b != nil; b = b.Parent {
		if r.IsBroken(b) {
			n++
		}
	}
	return n
}

// Update runs one simulation step of the rig: bound targets pull their
// segments, breakable joints are checked against their thresholds, then the
// gait strategy runs.
func (r *Rig) Update(tick Tick) {
	r.applyTargets()
	r.checkJoints(tick)
	r.strategy.Update(r, tick)
}

func (r *Rig) applyTargets() {
	for _, name := range r.order {
		s, ok := r.Segment(name)
		if !ok || r.IsBroken(s) {
			continue
		}
		for _, t := range r.Targets(name) {
			t.Apply(s.allBodies())
		}
	}
}

func (r *Rig) checkJoints(tick Tick) {
	for _, s := range r.Segments() {
		for _, b := range s.breakable {
			state, stress, changed := b.check()
			if !changed {
				continue
			}
			r.events = append(r.events, JointEvent{
				Rig:     r.Name,
				Segment: s.Name,
				Joint:   b.Joint.Name(),
				State:   state,
				Stress:  stress,
				Tick:    tick.Number,
			})
			if state != JointBroken || r.IsBroken(s) {
				continue
			}
			r.broken = append(r.broken, s)
			if s.Parent != nil && s.ReachTarget == nil {
				s.ReachTarget = NewTarget("reach."+s.Name, BodyGoal{s.Parent.Shaft},
					WithWeight(100), WithNormPower(0.5))
			}
		}
	}
}

// Heal restores every broken joint and clears the broken list.
func (r *Rig) Heal() int {
	healed := 0
	for _, s := range r.Segments() {
		for _, b := range s.breakable {
			if b.restore() {
				healed++
				r.events = append(r.events, JointEvent{
					Rig:     r.Name,
					Segment: s.Name,
					Joint:   b.Joint.Name(),
					State:   JointHealed,
				})
			}
		}
	}
	r.broken = r.broken[:0]
	return healed
}

// DrainEvents returns and clears the recorded joint events.
func (r *Rig) DrainEvents() []JointEvent {
	out := r.events
	r.events = nil
	return out
}

// AdjustTension sets CFM or ERP on every fixed parent joint.
func (r *Rig) AdjustTension(p physics.Param, v float64) error {
	switch p {
	case physics.ParamCFM:
		r.tensionCFM = v
	case physics.ParamERP:
		r.tensionERP = v
	default:
		return fmt.Errorf("unknown tension parameter %q", p)
	}
	for _, s := range r.Segments() {
		if s.fixedJoint != nil {
			s.fixedJoint.SetParam(p, v)
		}
	}
	return nil
}

// SetPoseWeight blends a named pose on every segment. Marker overrides of a
// pose apply once its weight passes one half.
func (r *Rig) SetPoseWeight(name string, w float64) error {
	if !slices.Contains(r.poses, name) {
		return fmt.Errorf("unknown pose %q", name)
	}
	w = max(0, min(1, w))
	for _, s := range r.Segments() {
		for marker, p := range s.adjustPose(name, w) {
			if m, ok := r.markers[marker]; ok {
				m.Set(p)
			}
		}
	}
	return nil
}

// Reset returns bidirectional targets to their start, restores saved body
// transforms and lets the strategy reset its own state.
func (r *Rig) Reset() {
	r.targets.Each(func(_ arena.Handle, t *Target) bool {
		t.Reset()
		return true
	})
	for _, s := range r.Segments() {
		s.RestoreTransform()
	}
	r.strategy.Reset(r)
}

// SaveTransform remembers the current transforms of every segment.
func (r *Rig) SaveTransform() {
	for _, s := range r.Segments() {
		s.SaveTransform()
	}
}

// Destroy removes every body of the rig from the engine.
func (r *Rig) Destroy() {
	for _, s := range r.Segments() {
		for _, b := range s.allBodies() {
			r.engine.RemoveBody(b)
		}
	}
	r.segments = arena.New[*Segment]()
	r.byName = map[string]arena.Handle{}
	r.order = nil
}

// Sample is a snapshot of the rig used for recording and telemetry.
type Sample struct {
	Rig    string
	Kind   Kind
	Root   mgl64.Vec3
	Head   mgl64.Vec3
	Spine  []mgl64.Vec3
	Broken int
	State  string
}

// Sample captures the rig's current shape.
func (r *Rig) Sample() Sample {
	out := Sample{Rig: r.Name, Kind: r.strategy.Kind(), Broken: len(r.broken), State: r.strategy.State()}
	segs := r.Segments()
	if len(segs) > 0 {
		out.Root = segs[0].Location()
		out.Head = segs[len(segs)-1].Location()
	}
	for _, s := range segs {
		out.Spine = append(out.Spine, s.Location())
	}
	return out
}
