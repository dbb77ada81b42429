// Package physicstest provides a recording physics engine for tests. Bodies
// never move on their own; tests place them and set joint stress directly.
package physicstest

import (
	"fmt"

	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/go-gl/mathgl/mgl64"
)

// Engine records every body and joint it creates.
type Engine struct {
	Bodies  map[string]*Body
	Joints  []*Joint
	Steps   int
	removed []string
	// FailBody makes CreateBody fail for the named body.
	FailBody string
}

var _ physics.Engine = (*Engine)(nil)

func New() *Engine {
	return &Engine{Bodies: make(map[string]*Body)}
}

func (e *Engine) CreateBody(spec physics.BodySpec) (physics.Body, error) {
	if spec.Name == e.FailBody && spec.Name != "" {
		return nil, fmt.Errorf("body %q rejected", spec.Name)
	}
	b := &Body{Spec: spec, T: spec.Transform}
	e.Bodies[spec.Name] = b
	return b, nil
}

func (e *Engine) CreateJoint(child, parent physics.Body, typ physics.JointType, name string) (physics.Joint, error) {
	j := &Joint{name: name, typ: typ, Child: child, Parent: parent, params: map[physics.Param]float64{}}
	e.Joints = append(e.Joints, j)
	return j, nil
}

func (e *Engine) RemoveBody(b physics.Body) {
	delete(e.Bodies, b.Name())
	e.removed = append(e.removed, b.Name())
}

func (e *Engine) Step(float64) { e.Steps++ }

// Joint returns the first joint with the given name.
func (e *Engine) Joint(name string) *Joint {
	for _, j := range e.Joints {
		if j.name == name {
			return j
		}
	}
	return nil
}

// ResetForces clears recorded forces on every body.
func (e *Engine) ResetForces() {
	for _, b := range e.Bodies {
		b.Reset()
	}
}

// Body is a recording body.
type Body struct {
	Spec         physics.BodySpec
	T            physics.Transform
	Velocity     mgl64.Vec3
	Forces       []mgl64.Vec3
	LocalForces  []mgl64.Vec3
	Torques      []mgl64.Vec3
	LocalTorques []mgl64.Vec3
	Collision    bool
	Gravity      bool
}

func (b *Body) Name() string { return b.Spec.Name }
func (b *Body) Transform() physics.Transform { return b.T }
func (b *Body) SetTransform(t physics.Transform) { b.T = t }
func (b *Body) LocalVelocity() mgl64.Vec3 { return b.Velocity }
func (b *Body) AddForce(f mgl64.Vec3) { b.Forces = append(b.Forces, f) }
func (b *Body) AddLocalForce(f mgl64.Vec3) { b.LocalForces = append(b.LocalForces, f) }
func (b *Body) AddTorque(t mgl64.Vec3) { b.Torques = append(b.Torques, t) }
func (b *Body) AddLocalTorque(t mgl64.Vec3) { b.LocalTorques = append(b.LocalTorques, t) }
func (b *Body) SetCollision(on bool) { b.Collision = on }
func (b *Body) SetGravity(on bool) { b.Gravity = on }

// SetPosition moves the body.
func (b *Body) SetPosition(p mgl64.Vec3) { b.T.Position = p }

// NetForce sums recorded world forces.
func (b *Body) NetForce() mgl64.Vec3 {
	var sum mgl64.Vec3
	for _, f := range b.Forces {
		sum = sum.Add(f)
	}
	return sum
}

// NetLocalTorque sums recorded local torques.
func (b *Body) NetLocalTorque() mgl64.Vec3 {
	var sum mgl64.Vec3
	for _, t := range b.LocalTorques {
		sum = sum.Add(t)
	}
	return sum
}

// Reset clears recorded forces and torques.
func (b *Body) Reset() {
	b.Forces = nil
	b.LocalForces = nil
	b.Torques = nil
	b.LocalTorques = nil
}

// Joint is a recording joint with a settable stress.
type Joint struct {
	name         string
	typ          physics.JointType
	Child        physics.Body
	Parent       physics.Body
	params       map[physics.Param]float64
	StressValue  float64
	broken       bool
	BreakCount   int
	RestoreCount int
}

func (j *Joint) Name() string { return j.name }
func (j *Joint) Type() physics.JointType { return j.typ }
func (j *Joint) SetParam(p physics.Param, v float64) { j.params[p] = v }
func (j *Joint) Param(p physics.Param) float64 { return j.params[p] }
func (j *Joint) Stress() float64 { return j.StressValue }
func (j *Joint) Broken() bool { return j.broken }

func (j *Joint) Break() {
	j.broken = true
	j.BreakCount++
}

func (j *Joint) Restore() {
	j.broken = false
	j.RestoreCount++
}
