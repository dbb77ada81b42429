package rig

import (
	"fmt"

	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/go-gl/mathgl/mgl64"
)

// Default tension of the fixed joint riding alongside a segment's parent joint.
const (
	DefaultSegmentCFM = 0.5
	DefaultSegmentERP = 0.5
)

// Segment is one simulated bone: an optional head, a shaft and a tail body.
type Segment struct {
	Name      string
	Head      physics.Body
	Shaft     physics.Body
	Tail      physics.Body
	Info      *BoneInfo
	Parent    *Segment
	Stretch   bool
	Collision bool
	Gravity   bool

	TensionCFM float64
	TensionERP float64

	// ReachTarget pulls toward the parent after this segment broke off.
	ReachTarget *Target

	restHeight  float64
	restLocal   mgl64.Vec3
	parentJoint *Breakable
	fixedJoint  physics.Joint
	breakable   []*Breakable
	internal    []physics.Joint
	subgeoms    []physics.Body
	poses       map[string]*segmentPose
	saved       []physics.Transform
}

type segmentPose struct {
	joints    []physics.Joint
	weight    float64
	overrides map[string]mgl64.Vec3
}

type segmentSpec struct {
	info      *BoneInfo
	spawn     physics.Transform
	stretch   bool
	collision bool
	gravity   bool
	group     string
	cfm, erp  float64
}

func newSegment(engine physics.Engine, spec segmentSpec) (seg *Segment, err error) {
	bone := spec.info.Bone
	length := bone.Tail.Sub(bone.Head).Len()
	if length == 0 {
		return nil, fmt.Errorf("%w: %q has zero length", ErrMissingShaft, bone.Name)
	}
	rot := bone.Rotation
	if rot.Len() == 0 {
		rot = mgl64.QuatIdent()
	}

	s := &Segment{
		Name:       bone.Name,
		Info:       spec.info,
		Stretch:    spec.stretch,
		Collision:  spec.collision,
		Gravity:    spec.gravity,
		TensionCFM: spec.cfm,
		TensionERP: spec.erp,
		poses:      make(map[string]*segmentPose),
	}

	local := func(p mgl64.Vec3, scale mgl64.Vec3) physics.Transform {
		return physics.Transform{Position: p, Rotation: rot, Scale: scale}.Compose(spec.spawn)
	}

	defer func() {
		if err == nil {
			return
		}
		for _, b := range []physics.Body{s.Head, s.Shaft, s.Tail} {
			if b != nil {
				engine.RemoveBody(b)
			}
		}
	}()

	if !spec.info.HasParent() || !bone.Connected {
		d := bone.HeadRadius * 2
		s.Head, err = engine.CreateBody(physics.BodySpec{
			Name:      "HEAD." + bone.Name,
			Shape:     physics.ShapeSphere,
			Transform: local(bone.Head, mgl64.Vec3{d, d, d}),
			Mass:      1,
			Gravity:   spec.gravity,
			Group:     spec.group,
		})
		if err != nil {
			return nil, fmt.Errorf("head of %q: %w", bone.Name, err)
		}
	}

	mid := bone.Head.Add(bone.Tail.Sub(bone.Head).Mul(0.5))
	avg := (bone.HeadRadius + bone.TailRadius) / 2
	s.restLocal = mid
	s.Shaft, err = engine.CreateBody(physics.BodySpec{
		Name:      bone.Name,
		Shape:     physics.ShapeBox,
		Transform: local(mid, mgl64.Vec3{avg, length * 0.6, avg}),
		Mass:      1,
		Collision: spec.collision,
		Gravity:   spec.gravity,
		Group:     spec.group,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMissingShaft, bone.Name, err)
	}
	s.restHeight = s.Shaft.Transform().Position.Z()

	tr := bone.TailRadius * 1.75
	s.Tail, err = engine.CreateBody(physics.BodySpec{
		Name:      "TAIL." + bone.Name,
		Shape:     physics.ShapeSphere,
		Transform: local(bone.Tail, mgl64.Vec3{tr, tr, tr}),
		Mass:      1,
		Gravity:   spec.gravity,
		Group:     spec.group,
	})
	if err != nil {
		return nil, fmt.Errorf("tail of %q: %w", bone.Name, err)
	}

	j, err := engine.CreateJoint(s.Tail, s.Shaft, physics.JointFixed, "FIXED2TAIL."+s.Shaft.Name())
	if err != nil {
		return nil, err
	}
	s.internal = append(s.internal, j)
	if s.Head != nil {
		j, err = engine.CreateJoint(s.Shaft, s.Head, physics.JointBall, "ROOT."+s.Head.Name())
		if err != nil {
			return nil, err
		}
		s.internal = append(s.internal, j)
		if !spec.info.HasParent() {
			s.breakable = append(s.breakable, newBreakable(j))
		}
	}
	return s, nil
}

// RestHeight is the shaft height at creation. It never changes.
func (s *Segment) RestHeight() float64 { return s.restHeight }

// RestLocation is the shaft midpoint in skeleton space.
func (s *Segment) RestLocation() mgl64.Vec3 { return s.restLocal }

// Location is the current shaft position.
func (s *Segment) Location() mgl64.Vec3 { return s.Shaft.Transform().Position }

// Bodies returns head (when present), shaft and tail.
func (s *Segment) Bodies() []physics.Body {
	out := make([]physics.Body, 0, 3)
	if s.Head != nil {
		out = append(out, s.Head)
	}
	return append(out, s.Shaft, s.Tail)
}

// Breakables returns the segment's breakable joints.
func (s *Segment) Breakables() []*Breakable { return s.breakable }

// ParentJoint is the primary breakable joint to the parent, if wired.
func (s *Segment) ParentJoint() *Breakable { return s.parentJoint }

func (s *Segment) AddForce(f mgl64.Vec3) {
	for _, b := range s.Bodies() {
		b.AddForce(f)
	}
}

func (s *Segment) AddLocalForce(f mgl64.Vec3) {
	for _, b := range s.Bodies() {
		b.AddLocalForce(f)
	}
}

func (s *Segment) AddLocalTorque(t mgl64.Vec3) {
	for _, b := range s.Bodies() {
		b.AddLocalTorque(t)
	}
}

// LocalVelocity is the shaft's linear velocity in its own frame.
func (s *Segment) LocalVelocity() mgl64.Vec3 { return s.Shaft.LocalVelocity() }

// setParent joins the shaft to the parent's tail with the annotated joint type
// (universal by default), a fixed joint carrying the tension, an optional
// head joint and any extra annotated joints. Everything but the primary joint
// is a slave of it.
func (s *Segment) setParent(engine physics.Engine, parent *Segment) error {
	s.Parent = parent
	types := physics.JointTypesFromName(s.Name)
	if len(types) == 0 {
		types = []physics.JointType{physics.JointUniversal}
	}
	pt := parent.Tail

	primary, err := engine.CreateJoint(s.Shaft, pt, types[0], "body2parent."+pt.Name())
	if err != nil {
		return fmt.Errorf("parent joint of %q: %w", s.Name, err)
	}
	fixed, err := engine.CreateJoint(s.Shaft, pt, physics.JointFixed, "MAGIC-FIXED."+pt.Name())
	if err != nil {
		return fmt.Errorf("fixed joint of %q: %w", s.Name, err)
	}
	fixed.SetParam(physics.ParamCFM, s.TensionCFM)
	fixed.SetParam(physics.ParamERP, s.TensionERP)
	s.fixedJoint = fixed

	b := newBreakable(primary)
	b.Slaves = append(b.Slaves, fixed)
	if s.Head != nil {
		hj, err := engine.CreateJoint(s.Head, pt, types[0], "head2parent."+pt.Name())
		if err != nil {
			return fmt.Errorf("head joint of %q: %w", s.Name, err)
		}
		b.Slaves = append(b.Slaves, hj)
	}
	for i, t := range types[1:] {
		ex, err := engine.CreateJoint(s.Shaft, pt, t, fmt.Sprintf("ex.%s.%d", pt.Name(), i))
		if err != nil {
			return fmt.Errorf("extra joint of %q: %w", s.Name, err)
		}
		b.Slaves = append(b.Slaves, ex)
	}
	s.parentJoint = b
	s.breakable = append(s.breakable, b)
	return nil
}

// SetWeakness sets thresholds on every breakable joint.
func (s *Segment) SetWeakness(breaking, damage float64) {
	for _, b := range s.breakable {
		b.SetWeakness(breaking, damage)
	}
}

// MakeUnbreakable clears thresholds on every breakable joint.
func (s *Segment) MakeUnbreakable() {
	for _, b := range s.breakable {
		b.MakeUnbreakable()
	}
}

// setTransform places the bodies at a pose snapshot given in world space.
func (s *Segment) setTransform(head, tail mgl64.Vec3, rot mgl64.Quat) {
	if s.Head != nil {
		t := s.Head.Transform()
		t.Position, t.Rotation = head, rot
		s.Head.SetTransform(t)
	}
	t := s.Shaft.Transform()
	t.Position, t.Rotation = head.Add(tail.Sub(head).Mul(0.5)), rot
	s.Shaft.SetTransform(t)
	t = s.Tail.Transform()
	t.Position, t.Rotation = tail, rot
	s.Tail.SetTransform(t)
}

// savePose records a fixed joint per body to the parent's tail in the
// current configuration. The pose starts at zero weight.
func (s *Segment) savePose(engine physics.Engine, name string, overrides map[string]mgl64.Vec3) error {
	if s.Parent == nil {
		return nil
	}
	p := &segmentPose{weight: -1, overrides: overrides}
	for _, b := range s.Bodies() {
		j, err := engine.CreateJoint(b, s.Parent.Tail, physics.JointFixed, "POSE:"+name)
		if err != nil {
			return fmt.Errorf("pose %q of %q: %w", name, s.Name, err)
		}
		p.joints = append(p.joints, j)
	}
	s.poses[name] = p
	s.adjustPose(name, 0)
	return nil
}

// adjustPose blends a pose in by stiffening its joints. It returns the
// marker overrides to apply when the pose dominates.
func (s *Segment) adjustPose(name string, weight float64) map[string]mgl64.Vec3 {
	p, ok := s.poses[name]
	if !ok || weight == p.weight {
		return nil
	}
	p.weight = weight
	for _, j := range p.joints {
		j.SetParam(physics.ParamCFM, 1-weight)
		j.SetParam(physics.ParamERP, weight)
	}
	if weight > 0.5 {
		return p.overrides
	}
	return nil
}

// PoseWeight returns the current weight of a pose.
func (s *Segment) PoseWeight(name string) (float64, bool) {
	p, ok := s.poses[name]
	if !ok {
		return 0, false
	}
	return p.weight, true
}

// SaveTransform remembers the current body transforms for Restore.
func (s *Segment) SaveTransform() {
	s.saved = s.saved[:0]
	for _, b := range s.Bodies() {
		s.saved = append(s.saved, b.Transform())
	}
}

// RestoreTransform moves the bodies back to the saved transforms.
func (s *Segment) RestoreTransform() {
	for i, b := range s.Bodies() {
		if i < len(s.saved) {
			b.SetTransform(s.saved[i])
		}
	}
}

func (s *Segment) allBodies() []physics.Body {
	return append(s.Bodies(), s.subgeoms...)
}
