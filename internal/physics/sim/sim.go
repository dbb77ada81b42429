// Package sim is a small position-based rigid-body integrator. It is the
// engine the server runs with when no external engine is wired in: bodies
// fall under gravity onto a ground plane at z=0 and joints pull their anchors
// together with ERP/CFM controlled stiffness.
package sim

import (
	"fmt"
	"math"
	"sync"

	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/go-gl/mathgl/mgl64"
)

// Config tunes the integrator.
type Config struct {
	Gravity        mgl64.Vec3
	Substeps       int
	LinearDamping  float64
	AngularDamping float64
	GroundFriction float64
}

// DefaultConfig matches a z-up world with earth gravity.
func DefaultConfig() Config {
	return Config{
		Gravity:        mgl64.Vec3{0, 0, -9.81},
		Substeps:       4,
		LinearDamping:  0.99,
		AngularDamping: 0.98,
		GroundFriction: 0.8,
	}
}

// World owns all bodies and joints.
type World struct {
	mu     sync.Mutex
	cfg    Config
	bodies []*body
	joints []*joint
}

var _ physics.Engine = (*World)(nil)

// New creates an empty world.
func New(cfg Config) *World {
	if cfg.Substeps <= 0 {
		cfg.Substeps = 1
	}
	return &World{cfg: cfg}
}

func (w *World) CreateBody(spec physics.BodySpec) (physics.Body, error) {
	if spec.Mass < 0 {
		return nil, fmt.Errorf("body %q: negative mass", spec.Name)
	}
	mass := spec.Mass
	if mass == 0 {
		mass = 1
	}
	t := spec.Transform
	if t.Rotation.Len() == 0 {
		t.Rotation = mgl64.QuatIdent()
	}
	if t.Scale == (mgl64.Vec3{}) {
		t.Scale = mgl64.Vec3{1, 1, 1}
	}
	b := &body{
		name:      spec.Name,
		shape:     spec.Shape,
		pos:       t.Position,
		rot:       t.Rotation,
		scale:     t.Scale,
		invMass:   1 / mass,
		collision: spec.Collision,
		gravity:   spec.Gravity,
		group:     spec.Group,
	}
	w.mu.Lock()
	w.bodies = append(w.bodies, b)
	w.mu.Unlock()
	return b, nil
}

func (w *World) CreateJoint(child, parent physics.Body, typ physics.JointType, name string) (physics.Joint, error) {
	c, ok := child.(*body)
	if !ok {
		return nil, fmt.Errorf("joint %q: child body not owned by this world", name)
	}
	p, ok := parent.(*body)
	if !ok {
		return nil, fmt.Errorf("joint %q: parent body not owned by this world", name)
	}
	j := &joint{
		name:   name,
		typ:    typ,
		child:  c,
		parent: p,
		erp:    0.2,
		cfm:    1e-5,
	}
	// anchor at the child's origin, expressed in the parent frame
	j.parentAnchor = p.rot.Inverse().Rotate(c.pos.Sub(p.pos))
	j.relRot = p.rot.Inverse().Mul(c.rot).Normalize()
	w.mu.Lock()
	w.joints = append(w.joints, j)
	w.mu.Unlock()
	return j, nil
}

func (w *World) RemoveBody(b physics.Body) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, other := range w.bodies {
		if physics.Body(other) == b {
			w.bodies = append(w.bodies[:i], w.bodies[i+1:]...)
			break
		}
	}
	kept := w.joints[:0]
	for _, j := range w.joints {
		if physics.Body(j.child) != b && physics.Body(j.parent) != b {
			kept = append(kept, j)
		}
	}
	w.joints = kept
}

// Step advances the simulation by dt seconds.
func (w *World) Step(dt float64) {
	if dt <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	h := dt / float64(w.cfg.Substeps)
	for _, j := range w.joints {
		j.stress = 0
	}
	for range w.cfg.Substeps {
		for _, b := range w.bodies {
			w.integrate(b, h)
		}
		for _, j := range w.joints {
			if !j.broken {
				j.solve(h)
			}
		}
		for _, b := range w.bodies {
			w.ground(b, h)
		}
	}
	for _, b := range w.bodies {
		b.force = mgl64.Vec3{}
		b.torque = mgl64.Vec3{}
	}
}

func (w *World) integrate(b *body, h float64) {
	if b.invMass == 0 {
		return
	}
	acc := b.force.Mul(b.invMass)
	if b.gravity {
		acc = acc.Add(w.cfg.Gravity)
	}
	b.vel = b.vel.Add(acc.Mul(h)).Mul(w.cfg.LinearDamping)
	b.angVel = b.angVel.Add(b.torque.Mul(b.invMass * h)).Mul(w.cfg.AngularDamping)

	b.prev = b.pos
	b.pos = b.pos.Add(b.vel.Mul(h))
	if b.angVel.Len() > 0 {
		spin := mgl64.Quat{W: 0, V: b.angVel.Mul(0.5 * h)}
		q := spin.Mul(b.rot)
		b.rot = mgl64.Quat{W: b.rot.W + q.W, V: b.rot.V.Add(q.V)}.Normalize()
	}
}

func (w *World) ground(b *body, h float64) {
	if !b.collision || b.invMass == 0 {
		return
	}
	floor := b.radius()
	if b.pos.Z() >= floor {
		return
	}
	b.pos[2] = floor
	if b.vel.Z() < 0 {
		b.vel[2] = 0
	}
	keep := 1 - w.cfg.GroundFriction*h*10
	if keep < 0 {
		keep = 0
	}
	b.vel[0] *= keep
	b.vel[1] *= keep
}

type body struct {
	name      string
	shape     physics.Shape
	pos, prev mgl64.Vec3
	rot       mgl64.Quat
	scale     mgl64.Vec3
	vel       mgl64.Vec3
	angVel    mgl64.Vec3
	force     mgl64.Vec3
	torque    mgl64.Vec3
	invMass   float64
	collision bool
	gravity   bool
	group     string
}

func (b *body) radius() float64 {
	r := math.Min(b.scale.X(), math.Min(b.scale.Y(), b.scale.Z()))
	if b.shape == physics.ShapeBox {
		r *= 0.5
	}
	return r
}

func (b *body) Name() string { return b.name }

func (b *body) Transform() physics.Transform {
	return physics.Transform{Position: b.pos, Rotation: b.rot, Scale: b.scale}
}

func (b *body) SetTransform(t physics.Transform) {
	b.pos = t.Position
	if t.Rotation.Len() > 0 {
		b.rot = t.Rotation.Normalize()
	}
	if t.Scale != (mgl64.Vec3{}) {
		b.scale = t.Scale
	}
	b.vel = mgl64.Vec3{}
	b.angVel = mgl64.Vec3{}
}

func (b *body) LocalVelocity() mgl64.Vec3 { return b.rot.Inverse().Rotate(b.vel) }
func (b *body) AddForce(f mgl64.Vec3) { b.force = b.force.Add(f) }
func (b *body) AddLocalForce(f mgl64.Vec3) {
	b.force = b.force.Add(b.rot.Rotate(f))
}
func (b *body) AddTorque(t mgl64.Vec3) { b.torque = b.torque.Add(t) }
func (b *body) AddLocalTorque(t mgl64.Vec3) {
	b.torque = b.torque.Add(b.rot.Rotate(t))
}
func (b *body) SetCollision(on bool) { b.collision = on }
func (b *body) SetGravity(on bool) { b.gravity = on }

type joint struct {
	name          string
	typ           physics.JointType
	child, parent *body
	parentAnchor  mgl64.Vec3
	relRot        mgl64.Quat
	erp, cfm      float64
	stress        float64
	broken        bool
}

func (j *joint) Name() string { return j.name }
func (j *joint) Type() physics.JointType { return j.typ }
func (j *joint) Stress() float64 { return j.stress }
func (j *joint) Broken() bool { return j.broken }
func (j *joint) Break() { j.broken = true }
func (j *joint) Restore() { j.broken = false }

func (j *joint) SetParam(p physics.Param, v float64) {
	switch p {
	case physics.ParamERP:
		j.erp = clamp01(v)
	case physics.ParamCFM:
		j.cfm = math.Max(0, v)
	}
}

func (j *joint) Param(p physics.Param) float64 {
	if p == physics.ParamERP {
		return j.erp
	}
	return j.cfm
}

func (j *joint) solve(h float64) {
	wSum := j.child.invMass + j.parent.invMass
	if wSum == 0 {
		return
	}
	anchor := j.parent.pos.Add(j.parent.rot.Rotate(j.parentAnchor))
	err := anchor.Sub(j.child.pos)
	gain := j.erp / (1 + j.cfm*10)
	corr := err.Mul(gain)

	j.child.pos = j.child.pos.Add(corr.Mul(j.child.invMass / wSum))
	j.parent.pos = j.parent.pos.Sub(corr.Mul(j.parent.invMass / wSum))
	j.child.vel = j.child.vel.Add(corr.Mul(j.child.invMass / wSum / h))
	j.parent.vel = j.parent.vel.Sub(corr.Mul(j.parent.invMass / wSum / h))

	// effective mass times acceleration needed for the correction
	f := corr.Len() / (wSum * h * h)
	if f > j.stress {
		j.stress = f
	}

	if j.typ == physics.JointFixed && j.child.invMass > 0 {
		goal := j.parent.rot.Mul(j.relRot).Normalize()
		j.child.rot = mgl64.QuatSlerp(j.child.rot, goal, gain)
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
