package rig

import (
	"fmt"

	"github.com/OCAP2/rigstream/internal/arena"
	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/go-gl/mathgl/mgl64"
)

// Hybrid-IK targets pull hard and without a constant-direction component.
const hybridTargetWeight = 300

// Build assembles a rig from a skeleton. On error every body created so far
// is removed from the engine and no rig is returned.
func Build(engine physics.Engine, skel Skeleton, poses []Pose, opts Options, strategy GaitStrategy, rnd Rand) (*Rig, error) {
	if err := skel.validate(poses); err != nil {
		return nil, err
	}
	spawn := skel.Spawn
	if spawn.Rotation.Len() == 0 {
		spawn = physics.Identity()
		spawn.Position = skel.Spawn.Position
	}

	infos, order := classify(&skel)
	if opts.Breakable {
		for _, name := range order {
			info := infos[name]
			if info.HasParent() && info.Bone.Connected && strategy.IsBreakable(info) {
				info.Bone.Connected = false
				info.Detached = true
			}
		}
	}

	r := &Rig{
		Name:          skel.Name,
		strategy:      strategy,
		engine:        engine,
		rand:          rnd,
		opts:          opts,
		infos:         infos,
		segments:      arena.New[*Segment](),
		byName:        make(map[string]arena.Handle),
		targets:       arena.New[*Target](),
		targetsByBone: make(map[string][]arena.Handle),
		markers:       make(map[string]*Marker),
		tensionCFM:    DefaultRigCFM,
		tensionERP:    DefaultRigERP,
	}
	for name, p := range skel.Markers {
		r.markers[name] = NewMarker(name, physics.At(p).Compose(spawn).Position)
	}

	b := &builder{rig: r, engine: engine, spawn: spawn}
	if err := b.build(order); err != nil {
		r.Destroy()
		return nil, err
	}
	if err := b.wire(); err != nil {
		r.Destroy()
		return nil, err
	}
	if err := strategy.Setup(r); err != nil {
		r.Destroy()
		return nil, fmt.Errorf("%s setup of %q: %w", strategy.Kind(), skel.Name, err)
	}

	r.SaveTransform()
	if err := b.replayPoses(poses); err != nil {
		r.Destroy()
		return nil, err
	}
	return r, nil
}

type builder struct {
	rig    *Rig
	engine physics.Engine
	spawn  physics.Transform
}

func (b *builder) build(order []string) error {
	for _, name := range order {
		info := b.rig.infos[name]
		if info.HasParent() {
			continue
		}
		if err := b.buildBone(info, false); err != nil {
			return err
		}
	}
	return nil
}

// buildBone descends into a bone when it is a root, connected, explicitly
// allowed while unconnected, or admitted by the strategy. Bones inside an IK
// chain are only simulated in hybrid mode, and then only when their chain
// info is known; non-deforming bones are never simulated.
func (b *builder) buildBone(info *BoneInfo, brokenChain bool) error {
	r := b.rig
	bone := info.Bone
	unconnected := info.HasParent() && !bone.Connected && !info.Detached
	if unconnected {
		brokenChain = true
	}
	if unconnected && !r.opts.AllowUnconnectedBones && !r.strategy.IsBoneUsable(info) {
		return nil
	}
	if !bone.Deform {
		return nil
	}
	if bone.InIKChain {
		if !r.opts.HybridIK {
			return nil
		}
		if info.Chain == nil && bone.IKTarget == "" {
			return nil
		}
	}

	// a childless bone at a break point would collide with its siblings
	collision := r.opts.Collision && !(brokenChain && len(info.Children) == 0)
	seg, err := newSegment(b.engine, segmentSpec{
		info:      info,
		spawn:     b.spawn,
		stretch:   r.opts.Stretch,
		collision: collision,
		gravity:   r.opts.Gravity,
		group:     r.Name,
		cfm:       DefaultSegmentCFM,
		erp:       DefaultSegmentERP,
	})
	if err != nil {
		return err
	}
	h := r.segments.Insert(seg)
	r.byName[seg.Name] = h
	r.order = append(r.order, seg.Name)

	for _, child := range info.Children {
		if err := b.buildBone(r.infos[child], brokenChain); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) wire() error {
	r := b.rig
	for _, s := range r.Segments() {
		parent, ok := r.Segment(s.Info.Bone.Parent)
		if !ok {
			continue
		}
		if err := s.setParent(b.engine, parent); err != nil {
			return err
		}
	}
	if r.opts.BreakThreshold > 0 {
		for _, s := range r.Segments() {
			s.SetWeakness(r.opts.BreakThreshold, r.opts.DamageThreshold)
		}
	}
	for _, s := range r.Segments() {
		if err := b.attachChildren(s); err != nil {
			return err
		}
		b.hybridTarget(s)
	}
	return nil
}

// attachChildren turns external children with collision bounds into
// sub-geometries of the shaft and creates their declared joints.
func (b *builder) attachChildren(s *Segment) error {
	for _, child := range s.Info.Bone.ExternalChildren {
		var body physics.Body
		if child.CollisionBounds || len(child.Constraints) > 0 {
			var err error
			body, err = b.engine.CreateBody(physics.BodySpec{
				Name:      child.Name,
				Shape:     physics.ShapeBox,
				Transform: child.Transform.Compose(b.spawn),
				Mass:      1,
				Collision: child.CollisionBounds,
				Gravity:   s.Gravity,
				Group:     b.rig.Name,
			})
			if err != nil {
				return fmt.Errorf("external child %q of %q: %w", child.Name, s.Name, err)
			}
			s.subgeoms = append(s.subgeoms, body)
		}
		if child.CollisionBounds {
			if _, err := b.engine.CreateJoint(body, s.Shaft, physics.JointFixed, "SUBGEOM."+child.Name); err != nil {
				return err
			}
		}
		for _, c := range child.Constraints {
			typ, ok := c.Type()
			if !ok {
				continue
			}
			if _, err := b.engine.CreateJoint(body, s.Shaft, typ, child.Name+"2"+s.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// hybridTarget binds a target toward the marker an IK or copy-location
// constraint points at. A constraint naming an unknown marker is ignored.
func (b *builder) hybridTarget(s *Segment) {
	r := b.rig
	if !r.opts.HybridIK {
		return
	}
	name := s.Info.Bone.IKTarget
	if name == "" {
		name = s.Info.Bone.LocationTarget
	}
	m, ok := r.markers[name]
	if name == "" || !ok {
		return
	}
	t := NewTarget("hybrid."+s.Name, m,
		WithWeight(hybridTargetWeight),
		WithNormPower(0),
		WithBidirectional(r.opts.HybridIKBidirectional))
	t.Dynamic = true
	_, _ = r.AddTarget(s.Name, t)
}

// replayPoses moves each segment into every captured pose, records the pose
// joints there and finally returns the bodies to their rest transforms.
func (b *builder) replayPoses(poses []Pose) error {
	r := b.rig
	for _, p := range poses {
		for _, s := range r.Segments() {
			pb, ok := p.Bones[s.Name]
			if !ok {
				continue
			}
			rot := pb.Rotation
			if rot.Len() == 0 {
				rot = mgl64.QuatIdent()
			}
			head := physics.At(pb.Head).Compose(b.spawn).Position
			tail := physics.At(pb.Tail).Compose(b.spawn).Position
			s.setTransform(head, tail, b.spawn.Rotation.Mul(rot))
			overrides := make(map[string]mgl64.Vec3, len(pb.Overrides))
			for name, v := range pb.Overrides {
				overrides[name] = physics.At(v).Compose(b.spawn).Position
			}
			if err := s.savePose(b.engine, p.Name, overrides); err != nil {
				return err
			}
		}
		r.poses = append(r.poses, p.Name)
		for _, s := range r.Segments() {
			s.RestoreTransform()
		}
	}
	return nil
}
