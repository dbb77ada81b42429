package rig

import (
	"math/rand/v2"
	"testing"

	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/OCAP2/rigstream/internal/physics/physicstest"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedRand always returns the same value.
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func body(t *testing.T, b physics.Body) *physicstest.Body {
	t.Helper()
	pb, ok := b.(*physicstest.Body)
	require.True(t, ok, "body %T is not a recording body", b)
	return pb
}

func singleBone(name string) Skeleton {
	return Skeleton{
		Name: "single",
		Bones: []Bone{{
			Name:       name,
			Deform:     true,
			Head:       mgl64.Vec3{0, 0, 1},
			Tail:       mgl64.Vec3{0, 0, 2},
			HeadRadius: 0.1,
			TailRadius: 0.1,
		}},
		Spawn: physics.Identity(),
	}
}

func twoBones() Skeleton {
	s := singleBone("upper")
	s.Bones = append(s.Bones, Bone{
		Name:       "lower",
		Parent:     "upper",
		Connected:  true,
		Deform:     true,
		Head:       mgl64.Vec3{0, 0, 2},
		Tail:       mgl64.Vec3{0, 0, 3},
		HeadRadius: 0.1,
		TailRadius: 0.1,
	})
	return s
}

func buildRagdoll(t *testing.T, skel Skeleton, opts Options) (*Rig, *physicstest.Engine) {
	t.Helper()
	engine := physicstest.New()
	r, err := Build(engine, skel, nil, opts, &Ragdoll{}, fixedRand(0))
	require.NoError(t, err)
	return r, engine
}

func TestBuild_SegmentBodies(t *testing.T) {
	r, engine := buildRagdoll(t, twoBones(), DefaultOptions())

	upper, ok := r.Segment("upper")
	require.True(t, ok)
	lower, ok := r.Segment("lower")
	require.True(t, ok)

	assert.NotNil(t, upper.Head, "root segment has a head body")
	assert.Nil(t, lower.Head, "connected child has no head body")
	assert.Same(t, upper, lower.Parent)
	assert.Len(t, engine.Bodies, 5)
	assert.InDelta(t, 1.5, upper.RestHeight(), 1e-9)

	primary := engine.Joint("body2parent.TAIL.upper")
	require.NotNil(t, primary)
	assert.Equal(t, physics.JointUniversal, primary.Type())

	fixed := engine.Joint("MAGIC-FIXED.TAIL.upper")
	require.NotNil(t, fixed)
	assert.Equal(t, DefaultSegmentCFM, fixed.Param(physics.ParamCFM))
}

func TestBuild_JointTypeFromName(t *testing.T) {
	skel := twoBones()
	skel.Bones[1].Name = "lower{hinge ball}"
	r, engine := buildRagdoll(t, skel, DefaultOptions())

	primary := engine.Joint("body2parent.TAIL.upper")
	require.NotNil(t, primary)
	assert.Equal(t, physics.JointHinge, primary.Type())
	require.NotNil(t, engine.Joint("ex.TAIL.upper.0"))

	seg, ok := r.Segment("lower{hinge ball}")
	require.True(t, ok)
	assert.Len(t, seg.ParentJoint().Slaves, 2)
}

func TestBuild_SkipsNonDeformAndIKChain(t *testing.T) {
	skel := twoBones()
	skel.Bones[1].Deform = false
	r, _ := buildRagdoll(t, skel, DefaultOptions())
	_, ok := r.Segment("lower")
	assert.False(t, ok)

	skel = twoBones()
	skel.Bones[1].InIKChain = true
	r, _ = buildRagdoll(t, skel, DefaultOptions())
	_, ok = r.Segment("lower")
	assert.False(t, ok, "IK chain bones need hybrid mode")

	opts := DefaultOptions()
	opts.HybridIK = true
	r, _ = buildRagdoll(t, skel, opts)
	_, ok = r.Segment("lower")
	assert.False(t, ok, "chain bone without chain info is skipped")
}

func TestBuild_HybridTarget(t *testing.T) {
	skel := twoBones()
	skel.Bones[1].IKTarget = "goal"
	skel.Markers = map[string]mgl64.Vec3{"goal": {1, 0, 3}}
	opts := DefaultOptions()
	opts.HybridIK = true

	r, _ := buildRagdoll(t, skel, opts)
	targets := r.Targets("lower")
	require.Len(t, targets, 1)
	assert.Equal(t, float64(hybridTargetWeight), targets[0].Weight)
	assert.Zero(t, targets[0].NormPower)
	assert.True(t, targets[0].Dynamic)

	skel.Bones[1].IKTarget = "missing"
	r, _ = buildRagdoll(t, skel, opts)
	assert.Empty(t, r.Targets("lower"))
}

func TestBuild_UnconnectedBone(t *testing.T) {
	skel := twoBones()
	skel.Bones[1].Connected = false

	r, _ := buildRagdoll(t, skel, DefaultOptions())
	_, ok := r.Segment("lower")
	assert.False(t, ok)

	opts := DefaultOptions()
	opts.AllowUnconnectedBones = true
	r, _ = buildRagdoll(t, skel, opts)
	lower, ok := r.Segment("lower")
	require.True(t, ok)
	assert.NotNil(t, lower.Head)
	assert.False(t, lower.Collision, "leaf of a broken chain has collision off")
}

func TestBuild_BrokenChainCollision(t *testing.T) {
	skel := twoBones()
	skel.Bones[1].Connected = false
	skel.Bones = append(skel.Bones, Bone{
		Name:       "tip",
		Parent:     "lower",
		Connected:  true,
		Deform:     true,
		Head:       mgl64.Vec3{0, 0, 3},
		Tail:       mgl64.Vec3{0, 0, 4},
		HeadRadius: 0.1,
		TailRadius: 0.1,
	})
	opts := DefaultOptions()
	opts.AllowUnconnectedBones = true
	r, _ := buildRagdoll(t, skel, opts)

	upper, ok := r.Segment("upper")
	require.True(t, ok)
	lower, ok := r.Segment("lower")
	require.True(t, ok)
	tip, ok := r.Segment("tip")
	require.True(t, ok)

	assert.True(t, upper.Collision)
	assert.True(t, lower.Collision, "broken bone with children collides")
	assert.False(t, tip.Collision, "childless bone below the break")
}

func TestBuild_ExternalChildren(t *testing.T) {
	skel := singleBone("arm")
	skel.Bones[0].ExternalChildren = []ExternalChild{
		{Name: "shield", Transform: physics.Identity(), CollisionBounds: true},
		{Name: "flail", Transform: physics.Identity(), Constraints: []ChildConstraint{{Name: "chain", Pivot: "BALL"}}},
	}
	r, engine := buildRagdoll(t, skel, DefaultOptions())

	assert.NotNil(t, engine.Joint("SUBGEOM.shield"))
	j := engine.Joint("flail2arm")
	require.NotNil(t, j)
	assert.Equal(t, physics.JointBall, j.Type())

	seg, _ := r.Segment("arm")
	assert.Len(t, seg.allBodies(), 5)
}

func TestBuild_Errors(t *testing.T) {
	t.Run("missing parent", func(t *testing.T) {
		skel := twoBones()
		skel.Bones[1].Parent = "nope"
		_, err := Build(physicstest.New(), skel, nil, DefaultOptions(), &Ragdoll{}, fixedRand(0))
		assert.ErrorIs(t, err, ErrMissingBone)
	})

	t.Run("malformed pose", func(t *testing.T) {
		poses := []Pose{{Name: "wave", Bones: map[string]PoseBone{"ghost": {}}}}
		_, err := Build(physicstest.New(), twoBones(), poses, DefaultOptions(), &Ragdoll{}, fixedRand(0))
		assert.ErrorIs(t, err, ErrMalformedPose)
	})

	t.Run("zero length bone", func(t *testing.T) {
		skel := singleBone("dot")
		skel.Bones[0].Tail = skel.Bones[0].Head
		_, err := Build(physicstest.New(), skel, nil, DefaultOptions(), &Ragdoll{}, fixedRand(0))
		assert.ErrorIs(t, err, ErrMissingShaft)
	})

	t.Run("engine failure leaves no bodies", func(t *testing.T) {
		engine := physicstest.New()
		engine.FailBody = "TAIL.lower"
		r, err := Build(engine, twoBones(), nil, DefaultOptions(), &Ragdoll{}, fixedRand(0))
		require.Error(t, err)
		assert.Nil(t, r)
		assert.Empty(t, engine.Bodies)
	})

	t.Run("biped setup failure leaves no bodies", func(t *testing.T) {
		engine := physicstest.New()
		_, err := Build(engine, twoBones(), nil, DefaultOptions(), NewBiped(DefaultBipedConfig()), fixedRand(0))
		assert.ErrorIs(t, err, ErrMissingBone)
		assert.Empty(t, engine.Bodies)
	})
}

func TestRestHeight_Invariant(t *testing.T) {
	r, engine := buildRagdoll(t, twoBones(), DefaultOptions())
	seg, _ := r.Segment("lower")
	rest := seg.RestHeight()

	rnd := rand.New(rand.NewPCG(1, 2))
	for i := range 50 {
		for _, b := range engine.Bodies {
			b.SetPosition(mgl64.Vec3{rnd.Float64(), rnd.Float64(), rnd.Float64() * 3})
		}
		r.Update(Tick{Number: uint64(i), Dt: 1.0 / 60})
		engine.Step(1.0 / 60)
	}
	assert.Equal(t, rest, seg.RestHeight())
}

func TestBreakage_RootBoneBreaks(t *testing.T) {
	opts := DefaultOptions()
	opts.BreakThreshold = 200
	r, engine := buildRagdoll(t, singleBone("spine"), opts)
	seg, _ := r.Segment("spine")

	j := engine.Joint("ROOT.HEAD.spine")
	require.NotNil(t, j)
	j.StressValue = 250
	r.Update(Tick{Number: 1})

	require.Len(t, seg.Breakables(), 1)
	assert.Equal(t, JointBroken, seg.Breakables()[0].State())
	assert.True(t, j.Broken())
	assert.Equal(t, []*Segment{seg}, r.Broken())
	assert.Nil(t, seg.ReachTarget, "root segment has nothing to reach for")

	events := r.DrainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, JointBroken, events[0].State)
	assert.Equal(t, 250.0, events[0].Stress)
}

func TestBreakage_ChildGetsOneReachTarget(t *testing.T) {
	opts := DefaultOptions()
	opts.BreakThreshold = 200
	r, engine := buildRagdoll(t, twoBones(), opts)
	lower, _ := r.Segment("lower")
	upper, _ := r.Segment("upper")

	j := engine.Joint("body2parent.TAIL.upper")
	j.StressValue = 250
	r.Update(Tick{Number: 1})

	require.NotNil(t, lower.ReachTarget)
	reach := lower.ReachTarget
	assert.Equal(t, 100.0, reach.Weight)
	assert.Equal(t, 0.5, reach.NormPower)
	assert.Equal(t, upper.Shaft.Transform().Position, reach.Goal.Position())

	fixed := engine.Joint("MAGIC-FIXED.TAIL.upper")
	assert.True(t, fixed.Broken(), "slave joints break with the primary")

	// Breakage is monotonic.
	for i := 2; i < 10; i++ {
		j.StressValue = 1000
		r.Update(Tick{Number: uint64(i)})
	}
	assert.Equal(t, 1, j.BreakCount)
	assert.Same(t, reach, lower.ReachTarget)
	assert.Equal(t, []*Segment{lower}, r.Broken())
	assert.Len(t, r.DrainEvents(), 1)
}

func TestBreakage_Damage(t *testing.T) {
	opts := DefaultOptions()
	opts.BreakThreshold = 200
	opts.DamageThreshold = 100
	r, engine := buildRagdoll(t, twoBones(), opts)
	lower, _ := r.Segment("lower")
	engine.Joint("body2parent.TAIL.upper").StressValue = 150
	b := lower.ParentJoint()

	for _, want := range []float64{175, 150, 125} {
		r.Update(Tick{})
		assert.Equal(t, JointDamaged, b.State())
		threshold, ok := b.Threshold()
		require.True(t, ok)
		assert.Equal(t, want, threshold)
	}

	r.Update(Tick{})
	assert.True(t, b.Broken(), "sustained damage wears the joint down until it breaks")
}

func TestBreakage_BelowDamageThreshold(t *testing.T) {
	opts := DefaultOptions()
	opts.BreakThreshold = 200
	opts.DamageThreshold = 100
	r, engine := buildRagdoll(t, twoBones(), opts)
	lower, _ := r.Segment("lower")
	engine.Joint("body2parent.TAIL.upper").StressValue = 100

	for range 20 {
		r.Update(Tick{})
	}
	assert.Equal(t, JointIntact, lower.ParentJoint().State())
	assert.Empty(t, r.DrainEvents())
}

func TestBreakage_DamageThresholdClamped(t *testing.T) {
	b := newBreakable(nil)
	b.SetWeakness(50, 80)
	assert.Equal(t, 50.0, b.DamageThreshold())
}

func TestHeal(t *testing.T) {
	opts := DefaultOptions()
	opts.BreakThreshold = 200
	r, engine := buildRagdoll(t, twoBones(), opts)

	j := engine.Joint("body2parent.TAIL.upper")
	j.StressValue = 250
	r.Update(Tick{})
	require.Len(t, r.Broken(), 1)

	j.StressValue = 0
	assert.Equal(t, 1, r.Heal())
	assert.Empty(t, r.Broken())
	assert.False(t, j.Broken())
	assert.False(t, engine.Joint("MAGIC-FIXED.TAIL.upper").Broken())

	lower, _ := r.Segment("lower")
	assert.Equal(t, JointHealed, lower.ParentJoint().State())
	threshold, _ := lower.ParentJoint().Threshold()
	assert.Equal(t, 200.0, threshold)
}

func TestTension(t *testing.T) {
	r, engine := buildRagdoll(t, twoBones(), DefaultOptions())
	cfm, erp := r.Tension()
	assert.Equal(t, DefaultRigCFM, cfm)
	assert.Equal(t, DefaultRigERP, erp)

	require.NoError(t, r.AdjustTension(physics.ParamERP, 0.3))
	assert.Equal(t, 0.3, engine.Joint("MAGIC-FIXED.TAIL.upper").Param(physics.ParamERP))
	assert.Error(t, r.AdjustTension("bogus", 1))
}

func TestPoses(t *testing.T) {
	skel := twoBones()
	skel.Markers = map[string]mgl64.Vec3{"grip": {0, 0, 0}}
	poses := []Pose{{
		Name: "bent",
		Bones: map[string]PoseBone{
			"lower": {
				Head:      mgl64.Vec3{0, 0, 2},
				Tail:      mgl64.Vec3{1, 0, 2},
				Overrides: map[string]mgl64.Vec3{"grip": {5, 5, 5}},
			},
		},
	}}
	engine := physicstest.New()
	r, err := Build(engine, skel, poses, DefaultOptions(), &Ragdoll{}, fixedRand(0))
	require.NoError(t, err)
	assert.Equal(t, []string{"bent"}, r.Poses())

	lower, _ := r.Segment("lower")
	assert.InDelta(t, 2.5, lower.Location().Z(), 1e-9, "rest transform restored after capture")

	j := engine.Joint("POSE:bent")
	require.NotNil(t, j)
	assert.Equal(t, 1.0, j.Param(physics.ParamCFM))
	assert.Equal(t, 0.0, j.Param(physics.ParamERP))

	require.NoError(t, r.SetPoseWeight("bent", 0.8))
	assert.InDelta(t, 0.2, j.Param(physics.ParamCFM), 1e-9)
	assert.Equal(t, 0.8, j.Param(physics.ParamERP))
	grip, _ := r.Marker("grip")
	assert.Equal(t, mgl64.Vec3{5, 5, 5}, grip.Position())

	assert.Error(t, r.SetPoseWeight("unknown", 1))
}

func TestRegistry(t *testing.T) {
	engine := physicstest.New()
	reg := NewRegistry(engine, fixedRand(0))

	_, err := reg.GetOrBuild("single")
	assert.Error(t, err)

	reg.Register(Blueprint{Skeleton: singleBone("spine"), Options: DefaultOptions(), Kind: KindRagdoll})
	r1, err := reg.GetOrBuild("single")
	require.NoError(t, err)
	r2, err := reg.GetOrBuild("single")
	require.NoError(t, err)
	assert.Same(t, r1, r2, "one rig per skeleton")
	assert.Len(t, reg.Rigs(), 1)

	assert.True(t, reg.Remove("single"))
	assert.Empty(t, engine.Bodies)
	assert.False(t, reg.Remove("single"))

	_, err = reg.GetOrBuild("single")
	require.NoError(t, err, "the blueprint survives Remove")
	reg.Unregister("single")
	assert.Empty(t, engine.Bodies)
	_, err = reg.GetOrBuild("single")
	assert.Error(t, err)
}

type panicky struct{ passive }

func (*panicky) Kind() Kind { return "panicky" }
func (*panicky) Update(*Rig, Tick) { panic("boom") }

func TestRegistry_UpdateIsolatesPanics(t *testing.T) {
	engine := physicstest.New()
	reg := NewRegistry(engine, fixedRand(0))

	bad, err := Build(engine, singleBone("a"), nil, DefaultOptions(), &panicky{}, fixedRand(0))
	require.NoError(t, err)
	reg.rigs["bad"], reg.order = bad, append(reg.order, "bad")

	skel := singleBone("b")
	skel.Name = "good"
	reg.Register(Blueprint{Skeleton: skel, Options: DefaultOptions(), Kind: KindRope})
	_, err = reg.GetOrBuild("good")
	require.NoError(t, err)

	errs := reg.UpdateAll(Tick{Number: 1})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "boom")
}

func TestNewStrategy(t *testing.T) {
	for _, kind := range []Kind{KindBiped, KindRagdoll, "ROPE"} {
		s, err := NewStrategy(kind)
		require.NoError(t, err)
		assert.NotNil(t, s)
	}
	_, err := NewStrategy("quadruped")
	assert.Error(t, err)
}
