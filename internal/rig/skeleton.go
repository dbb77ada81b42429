package rig

import (
	"errors"
	"fmt"

	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/go-gl/mathgl/mgl64"
)

var (
	// ErrMissingBone is returned when a bone references a parent that does not exist.
	ErrMissingBone = errors.New("missing bone")
	// ErrMissingShaft is returned when a bone cannot produce its shaft body.
	ErrMissingShaft = errors.New("bone has no shaft geometry")
	// ErrMalformedPose is returned for pose data naming unknown bones.
	ErrMalformedPose = errors.New("malformed pose")
)

// Bone is one bone of a source skeleton in skeleton space.
type Bone struct {
	Name       string
	Parent     string
	Connected  bool
	Deform     bool
	InIKChain  bool
	Head       mgl64.Vec3
	Tail       mgl64.Vec3
	Rotation   mgl64.Quat
	HeadRadius float64
	TailRadius float64
	// IKTarget names the marker an IK constraint on this bone points at.
	IKTarget string
	IKLength int
	// LocationTarget names the marker a copy-location constraint points at.
	LocationTarget   string
	ExternalChildren []ExternalChild
}

// ExternalChild is a scene object parented to a bone.
type ExternalChild struct {
	Name            string
	Transform       physics.Transform
	CollisionBounds bool
	// Constraints are rigid-body joint constraints declared on the child.
	Constraints []ChildConstraint
}

// ChildConstraint declares a joint between an external child and the bone.
type ChildConstraint struct {
	// Name may carry a "{type}" annotation which wins over Pivot.
	Name  string
	Pivot string
}

// Type resolves the joint type of the constraint. Unsupported pivots yield false.
func (c ChildConstraint) Type() (physics.JointType, bool) {
	if types := physics.JointTypesFromName(c.Name); len(types) > 0 {
		return types[0], true
	}
	switch c.Pivot {
	case "BALL":
		return physics.JointBall, true
	case "HINGE":
		return physics.JointHinge, true
	}
	return "", false
}

// Skeleton is the input of Build.
type Skeleton struct {
	Name  string
	Bones []Bone
	// Spawn is the world transform the rig is re-rooted under.
	Spawn physics.Transform
	// Markers are named points constraints and poses may refer to.
	Markers map[string]mgl64.Vec3
}

// PoseBone is the snapshot of one bone in a named pose.
type PoseBone struct {
	Head     mgl64.Vec3
	Tail     mgl64.Vec3
	Rotation mgl64.Quat
	// Overrides are marker positions applied when the pose dominates.
	Overrides map[string]mgl64.Vec3
}

// Pose maps bone names to snapshots.
type Pose struct {
	Name  string
	Bones map[string]PoseBone
}

// Options controls rig construction.
type Options struct {
	Stretch               bool
	Breakable             bool
	BreakThreshold        float64
	DamageThreshold       float64
	HybridIK              bool
	HybridIKBidirectional bool
	Gravity               bool
	AllowUnconnectedBones bool
	Collision             bool
}

// DefaultOptions mirrors the defaults offered when creating a rig.
func DefaultOptions() Options {
	return Options{Gravity: true, Collision: true}
}

func (s *Skeleton) validate(poses []Pose) error {
	names := make(map[string]bool, len(s.Bones))
	for _, b := range s.Bones {
		if b.Name == "" {
			return fmt.Errorf("%w: unnamed bone", ErrMissingBone)
		}
		if names[b.Name] {
			return fmt.Errorf("duplicate bone %q", b.Name)
		}
		names[b.Name] = true
	}
	for _, b := range s.Bones {
		if b.Parent != "" && !names[b.Parent] {
			return fmt.Errorf("%w: %q has parent %q", ErrMissingBone, b.Name, b.Parent)
		}
	}
	for _, p := range poses {
		for name := range p.Bones {
			if !names[name] {
				return fmt.Errorf("%w: pose %q names unknown bone %q", ErrMalformedPose, p.Name, name)
			}
		}
	}
	return nil
}
