// Package physics defines the narrow contracts the rig solver and the world
// use to talk to a rigid-body engine.
package physics

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// Transform is a decomposed world matrix.
type Transform struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
	Scale    mgl64.Vec3
}

// Identity returns a transform at the origin with unit scale.
func Identity() Transform {
	return Transform{Rotation: mgl64.QuatIdent(), Scale: mgl64.Vec3{1, 1, 1}}
}

// At returns an identity transform translated to p.
func At(p mgl64.Vec3) Transform {
	t := Identity()
	t.Position = p
	return t
}

// Compose returns t applied on top of parent.
func (t Transform) Compose(parent Transform) Transform {
	return Transform{
		Position: parent.Position.Add(parent.Rotation.Rotate(mulElem(t.Position, parent.Scale))),
		Rotation: parent.Rotation.Mul(t.Rotation).Normalize(),
		Scale:    mulElem(t.Scale, parent.Scale),
	}
}

func mulElem(a, b mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

// Param names a joint tuning parameter.
type Param string

const (
	ParamCFM Param = "CFM"
	ParamERP Param = "ERP"
)

// JointType is the constraint kind of a joint.
type JointType string

const (
	JointBall      JointType = "ball"
	JointHinge     JointType = "hinge"
	JointFixed     JointType = "fixed"
	JointUniversal JointType = "universal"
	JointSlider    JointType = "slider"
)

// ParseJointType validates a joint type name.
func ParseJointType(s string) (JointType, error) {
	switch t := JointType(strings.ToLower(strings.TrimSpace(s))); t {
	case JointBall, JointHinge, JointFixed, JointUniversal, JointSlider:
		return t, nil
	default:
		return "", fmt.Errorf("unknown joint type %q", s)
	}
}

// JointTypesFromName extracts the "{type type ...}" annotation of a bone or
// constraint name. An unannotated name yields nil.
func JointTypesFromName(name string) []JointType {
	open := strings.LastIndex(name, "{")
	if open < 0 {
		return nil
	}
	end := strings.Index(name[open:], "}")
	if end < 0 {
		return nil
	}
	var types []JointType
	for _, f := range strings.Fields(name[open+1 : open+end]) {
		if t, err := ParseJointType(f); err == nil {
			types = append(types, t)
		}
	}
	return types
}

// Shape describes the collision volume of a body.
type Shape int

const (
	ShapeBox Shape = iota
	ShapeSphere
	ShapeCapsule
)

// BodySpec is everything an engine needs to create a body.
type BodySpec struct {
	Name      string
	Shape     Shape
	Transform Transform
	Mass      float64
	Collision bool
	Gravity   bool
	// Group disables collision between bodies sharing the same non-empty group.
	Group string
}

// Body is a simulated rigid body.
type Body interface {
	Name() string
	Transform() Transform
	SetTransform(Transform)
	// LocalVelocity is the linear velocity expressed in the body frame.
	LocalVelocity() mgl64.Vec3
	AddForce(mgl64.Vec3)
	AddLocalForce(mgl64.Vec3)
	AddTorque(mgl64.Vec3)
	AddLocalTorque(mgl64.Vec3)
	SetCollision(bool)
	SetGravity(bool)
}

// Joint is a constraint between two bodies.
type Joint interface {
	Name() string
	Type() JointType
	SetParam(p Param, v float64)
	Param(p Param) float64
	// Stress is the magnitude of the constraint force applied during the last step.
	Stress() float64
	Break()
	Restore()
	Broken() bool
}

// Engine creates bodies and joints and advances the simulation.
type Engine interface {
	CreateBody(spec BodySpec) (Body, error)
	CreateJoint(child, parent Body, typ JointType, name string) (Joint, error)
	RemoveBody(b Body)
	Step(dt float64)
}
