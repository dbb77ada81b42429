package rig

import (
	"fmt"
	"math"
	"strings"

	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/go-gl/mathgl/mgl64"
)

// BipedConfig holds the tuning of the biped solver. The constants are tuned
// together; changing one usually means retuning the others.
type BipedConfig struct {
	FlipKnee         bool    `mapstructure:"flip_knee"`
	LegFlex          float64 `mapstructure:"leg_flex"`
	Stance           float64 `mapstructure:"stance"`
	PrimaryHeading   float64 `mapstructure:"primary_heading"`
	ToeHeightThresh  float64 `mapstructure:"toe_height_standing_threshold"`
	ToeDownwardPull  float64 `mapstructure:"toe_downward_pull"`
	StandingHeightTh float64 `mapstructure:"standing_height_threshold"`

	BackStep               float64 `mapstructure:"on_motion_back_step"`
	BackStepRateFactor     float64 `mapstructure:"on_motion_back_step_rate_factor"`
	ForwardStep            float64 `mapstructure:"on_motion_forward_step"`
	FastForwardThresh      float64 `mapstructure:"on_motion_fast_forward_thresh"`
	FastForwardStep        float64 `mapstructure:"on_motion_fast_forward_step"`
	FastForwardStepRateFac float64 `mapstructure:"on_motion_fast_forward_step_rate_factor"`

	FootTargetGoalWeight float64 `mapstructure:"when_standing_foot_target_goal_weight"`
	HeadLift             float64 `mapstructure:"when_standing_head_lift"`
	FootStepFarLift      float64 `mapstructure:"when_standing_foot_step_far_lift"`
	FootStepNearPull     float64 `mapstructure:"when_standing_foot_step_near_pull"`
	FootStepNearFarTh    float64 `mapstructure:"when_standing_foot_step_near_far_thresh"`
	SteppingLegFlex      float64 `mapstructure:"when_stepping_leg_flex"`

	FallingHandsDownHeadLift float64 `mapstructure:"when_falling_and_hands_down_lift_head_by_tilt_factor"`
	FallingPullHandsDown     float64 `mapstructure:"when_falling_pull_hands_down_by_tilt_factor"`
	FallingHeadCurl          float64 `mapstructure:"when_falling_head_curl"`
	FallingHandGoalWeight    float64 `mapstructure:"when_falling_hand_target_goal_weight"`

	DeathTwitches  int  `mapstructure:"death_twitches"`
	AutoLeftStep   bool `mapstructure:"auto_left_step"`
	AutoRightStep  bool `mapstructure:"auto_right_step"`
	ForceLeftStep  bool `mapstructure:"force_left_step"`
	ForceRightStep bool `mapstructure:"force_right_step"`
}

func DefaultBipedConfig() BipedConfig {
	return BipedConfig{
		LegFlex:                  50,
		Stance:                   1,
		ToeHeightThresh:          0.1,
		ToeDownwardPull:          50,
		StandingHeightTh:         0.75,
		BackStep:                 0.5,
		BackStepRateFactor:       0.25,
		ForwardStep:              0.2,
		FastForwardThresh:        2,
		FastForwardStep:          0.5,
		FastForwardStepRateFac:   0.25,
		FootTargetGoalWeight:     100,
		HeadLift:                 100,
		FootStepFarLift:          80,
		FootStepNearPull:         10,
		FootStepNearFarTh:        0.25,
		SteppingLegFlex:          50,
		FallingHandsDownHeadLift: 4,
		FallingPullHandsDown:     10,
		FallingHeadCurl:          10,
		FallingHandGoalWeight:    100,
		DeathTwitches:            200,
	}
}

// Pelvis heights below this count as lying on the ground.
const lowPelvisCutoff = 0.2

// Cap of the weight of the leg-to-chest targets.
const chestPullCap = 50

type side int

const (
	left side = iota
	right
)

func (s side) String() string {
	if s == left {
		return "left"
	}
	return "right"
}

// bipedFoot is the per-side state of the foot and hand solvers.
type bipedFoot struct {
	foot      *Segment
	toes      []*Segment
	shoulder  *Segment
	hand      *Segment
	ring      *Marker
	marker    *Marker
	swing     *Marker
	target    *Target
	chest     *Target
	toeTarget []*Target
	handPull  *Target
	placed    bool
}

// Biped balances a humanoid rig on two feet with heuristic forces.
type Biped struct {
	Config BipedConfig

	pelvis *Segment
	head   *Segment
	chest  *Segment
	sides  [2]*bipedFoot

	shadow      *Marker
	headCenter  *Target
	footTargets []*Target

	smoothMotion float64
	prevHeading  float64
	twitches     int
	tilt         float64
	moving       string
	turning      string
	sideways     string
	falling      bool
	dead         bool
	queued       [2]bool
}

// NewBiped returns a biped strategy with the given tuning.
func NewBiped(cfg BipedConfig) *Biped {
	return &Biped{Config: cfg, twitches: cfg.DeathTwitches}
}

func (*Biped) Kind() Kind { return KindBiped }

func (*Biped) IsBoneUsable(*BoneInfo) bool { return false }

// IsBreakable keeps the head and neck attached in breakable mode.
func (*Biped) IsBreakable(info *BoneInfo) bool {
	name := strings.ToLower(info.Name())
	return !strings.Contains(name, "head") && !strings.Contains(name, "neck")
}

// State describes the solver state, e.g. "standing forward left".
func (b *Biped) State() string {
	var state string
	switch {
	case b.dead:
		return "dead"
	case b.falling:
		state = "falling"
	default:
		state = "standing"
	}
	for _, s := range []string{b.moving, b.turning} {
		if s != "" {
			state += " " + strings.ToLower(s)
		}
	}
	return state
}

// Dead reports whether the head came off.
func (b *Biped) Dead() bool { return b.dead }

// QueueStep forces one step of the left or right foot on the next update.
func (b *Biped) QueueStep(leftFoot bool) {
	if leftFoot {
		b.queued[left] = true
	} else {
		b.queued[right] = true
	}
}

// Tilt is the average lean in degrees of the head over the pelvis shadow.
func (b *Biped) Tilt() float64 { return b.tilt }

// Setup finds the biped's bones by name and creates its markers and targets.
// Left and right are told apart by the sign of the rest X coordinate.
func (b *Biped) Setup(r *Rig) error {
	l, rt := &bipedFoot{}, &bipedFoot{}
	b.sides = [2]*bipedFoot{l, rt}
	pick := func(s *Segment) *bipedFoot {
		switch x := s.RestLocation().X(); {
		case x > 0:
			return l
		case x < 0:
			return rt
		}
		return nil
	}

	for _, s := range r.Segments() {
		name := strings.ToLower(s.Name)
		switch {
		case strings.Contains(name, "pelvis"), strings.Contains(name, "hip"), strings.Contains(name, "root"):
			b.pelvis = s
		case strings.Contains(name, "head"), strings.Contains(name, "skull"):
			b.head = s
		case strings.Contains(name, "foot"):
			if f := pick(s); f != nil {
				f.foot = s
			}
		case strings.Contains(name, "toe"):
			if f := pick(s); f != nil && s.Collision {
				f.toes = append(f.toes, s)
			}
		case strings.Contains(name, "hand"):
			if f := pick(s); f != nil {
				f.hand = s
			}
		case strings.Contains(name, "shoulder"):
			if f := pick(s); f != nil {
				f.shoulder = s
			}
		case strings.Contains(name, "chest"):
			b.chest = s
		}
	}

	for what, s := range map[string]*Segment{
		"pelvis":         b.pelvis,
		"head":           b.head,
		"chest":          b.chest,
		"left shoulder":  l.shoulder,
		"right shoulder": rt.shoulder,
		"left foot":      l.foot,
		"right foot":     rt.foot,
	} {
		if s == nil {
			return fmt.Errorf("%w: biped has no %s", ErrMissingBone, what)
		}
	}

	b.shadow = NewMarker("PELVIS-SHADOW", b.pelvis.Location())
	b.shadow.Track = BodyGoal{b.head.Shaft}
	r.addMarker(b.shadow)

	for sd, f := range b.sides {
		if err := b.setupFoot(r, f, side(sd) == right); err != nil {
			return err
		}
		if f.hand != nil {
			if err := b.setupHand(r, f); err != nil {
				return err
			}
		}
	}

	b.headCenter = NewTarget("head-center", BodyGoal{b.pelvis.Shaft}, WithWeight(100), WithZMult(0))
	if _, err := r.AddTarget(b.head.Name, b.headCenter); err != nil {
		return err
	}
	b.Reset(r)
	return nil
}

func (b *Biped) setupFoot(r *Rig, f *bipedFoot, flip bool) error {
	f.foot.MakeUnbreakable()

	f.ring = NewMarker("RING."+f.foot.Name, mgl64.Vec3{})
	f.ring.Track = b.shadow
	f.ring.Flip = flip
	r.addMarker(f.ring)

	f.marker = NewMarker("FOOT-TARGET."+f.foot.Name, mgl64.Vec3{})
	f.marker.Parent = f.ring
	r.addMarker(f.marker)

	f.target = NewTarget(f.marker.Name, f.marker,
		WithWeight(30),
		WithRawPower(float64(len(f.toes))),
		WithNormPower(0),
		WithZMult(0))
	if _, err := r.AddTarget(f.foot.Name, f.target); err != nil {
		return err
	}
	b.footTargets = append(b.footTargets, f.target)

	if f.foot.Parent != nil {
		f.chest = NewTarget("chest."+f.foot.Parent.Name, BodyGoal{b.chest.Shaft}, WithWeight(0), WithZMult(0))
		if _, err := r.AddTarget(f.foot.Parent.Name, f.chest); err != nil {
			return err
		}
	}

	for _, toe := range f.toes {
		toe.MakeUnbreakable()
		t := NewTarget(f.marker.Name+"."+toe.Name, f.marker, WithWeight(0), WithZMult(0))
		if _, err := r.AddTarget(toe.Name, t); err != nil {
			return err
		}
		f.toeTarget = append(f.toeTarget, t)
		b.footTargets = append(b.footTargets, t)
	}
	return nil
}

func (b *Biped) setupHand(r *Rig, f *bipedFoot) error {
	f.swing = NewMarker("HAND-TARGET."+f.hand.Name, mgl64.Vec3{})
	f.swing.Parent = f.ring
	r.addMarker(f.swing)
	f.handPull = NewTarget(f.swing.Name, f.swing, WithWeight(30), WithZMult(0))
	_, err := r.AddTarget(f.hand.Name, f.handPull)
	return err
}

// Reset moves the pelvis shadow back to the pelvis start and plants both
// foot rings a stance away on either side of it.
func (b *Biped) Reset(r *Rig) {
	if b.shadow == nil {
		return
	}
	b.shadow.Reset()
	start := b.shadow.Position()
	for sd, f := range b.sides {
		rad := mgl64.DegToRad(b.Config.PrimaryHeading + 90)
		if side(sd) == left {
			rad = -rad
		}
		b.placeRing(f, start, rad)
		f.placed = false
	}
	b.smoothMotion = 0
	b.prevHeading = 0
	b.twitches = b.Config.DeathTwitches
	b.dead = false
}

func (b *Biped) placeRing(f *bipedFoot, center mgl64.Vec3, rad float64) {
	f.ring.Set(mgl64.Vec3{
		center.X() + math.Sin(-rad)*b.Config.Stance,
		center.Y() + math.Cos(-rad)*b.Config.Stance,
		0,
	})
}

// Update runs one tick of the biped solver after targets and breakage.
func (b *Biped) Update(r *Rig, _ Tick) {
	cfg := &b.Config
	l, rt := b.sides[left], b.sides[right]

	var step [2]bool
	for sd, f := range b.sides {
		if !f.placed {
			f.placed = true
			step[sd] = true
		}
	}

	b.sense()

	pelvis := b.pelvis.Location()
	standing := !b.falling
	headAttached := r.AnyAncestorsBroken(b.head) == 0
	if !headAttached {
		b.dead = true
		b.twitch(r)
		return
	}

	x, y := pelvis.X(), pelvis.Y()
	head := b.head.Location()
	dx, dy := head.X()-x, head.Y()-y
	switch b.moving {
	case "FORWARD":
		x += dx * 1.1
		y += dy * 1.1
	case "BACKWARD":
		x += dx * 0.1
		y += dy * 0.1
	}
	if r.rand.Float64() > 0.99 {
		b.shadow.Set(mgl64.Vec3{x, y, -0.5})
	}
	center := b.shadow.Position()

	heading := physics.HeadingDegrees(b.pelvis.Shaft.Transform().Rotation)
	spin := b.prevHeading - heading
	b.prevHeading = heading
	b.turning = ""
	if math.Abs(spin) < 300 {
		switch {
		case spin < -1:
			b.turning = "LEFT"
		case spin > 1:
			b.turning = "RIGHT"
		}
	}

	motion := math.Abs(b.smoothMotion)
	switch b.turning {
	case "LEFT":
		b.dance(r, l, rt, motion, &step[right])
		if !step[right] && r.rand.Float64() > 0.99 {
			if r.rand.Float64() > 0.1 {
				step[left] = true
			} else {
				step[right] = true
			}
		}
	case "RIGHT":
		b.dance(r, rt, l, motion, &step[left])
		if !step[left] && r.rand.Float64() > 0.99 {
			if r.rand.Float64() > 0.1 {
				step[right] = true
			} else {
				step[left] = true
			}
		}
	}

	b.swingHands(r)

	headLift := cfg.HeadLift
	forceRight := false
	queued := b.queued
	b.queued = [2]bool{}
	if (step[left] && cfg.AutoLeftStep) || cfg.ForceLeftStep || queued[left] {
		forceRight = true
		rad := mgl64.DegToRad(heading) - mgl64.DegToRad(cfg.PrimaryHeading+90)
		b.stepFoot(r, l, left, center, rad, standing, headLift)
	} else {
		b.plantFoot(r, l, left, standing, headLift)
	}
	if (step[right] && cfg.AutoRightStep) || cfg.ForceRightStep || forceRight || queued[right] {
		rad := mgl64.DegToRad(heading) + mgl64.DegToRad(cfg.PrimaryHeading+90)
		b.stepFoot(r, rt, right, center, rad, standing, headLift)
	} else {
		b.plantFoot(r, rt, right, standing, headLift)
	}

	if b.falling {
		b.fall(r, pelvis.Z())
	} else {
		b.stand(r, headLift)
	}
}

// sense reads chest velocity into the motion state and measures tilt and
// whether the pelvis dropped below the standing threshold.
func (b *Biped) sense() {
	v := b.chest.LocalVelocity()
	b.sideways = ""
	switch {
	case v.X() < -2:
		b.sideways = "RIGHT"
	case v.X() > 2:
		b.sideways = "LEFT"
	}

	b.smoothMotion += (v.Y() - b.smoothMotion) * 0.1
	b.moving = ""
	switch {
	case b.smoothMotion < -0.2:
		b.moving = "FORWARD"
	case b.smoothMotion > 0.2:
		b.moving = "BACKWARD"
	}

	dir := b.head.Location().Sub(b.shadow.Position())
	tx := math.Abs(mgl64.RadToDeg(math.Atan2(dir.Y(), dir.Z())))
	ty := math.Abs(mgl64.RadToDeg(math.Atan2(dir.X(), dir.Z())))
	b.tilt = (tx + ty) / 2

	b.falling = b.pelvis.Location().Z() < b.pelvis.RestHeight()*(1-b.Config.StandingHeightTh)
}

func (b *Biped) twitch(r *Rig) {
	if b.twitches <= 0 || r.rand.Float64() <= 0.95 {
		return
	}
	b.twitches--
	if r.rand.Float64() > 0.5 {
		b.pelvis.AddLocalTorque(mgl64.Vec3{r.rand.Float64() * 500, 0, 0})
	} else {
		b.pelvis.AddLocalTorque(mgl64.Vec3{0, r.rand.Float64() * 500, 0})
	}
}

// dance shifts the foot targets while turning toward the inner side. The
// outer foot may be asked to step when moving fast.
func (b *Biped) dance(r *Rig, inner, outer *bipedFoot, motion float64, stepOuter *bool) {
	cfg := &b.Config
	switch b.moving {
	case "BACKWARD":
		inner.marker.Local[0] = -(motion * cfg.BackStepRateFactor)
		outer.marker.Local[0] = -cfg.BackStep
	case "FORWARD":
		inner.marker.Local[0] = 0.1
		outer.marker.Local[0] = cfg.ForwardStep
		if motion > cfg.FastForwardThresh {
			if r.rand.Float64() > 0.8 {
				*stepOuter = true
				inner.marker.Local[0] = -(motion * 0.25)
			}
			outer.marker.Local[0] = motion*cfg.FastForwardStepRateFac + cfg.FastForwardStep
		}
	}
}

// swingHands counter-swings each hand against its foot and lets intact
// hands reach for the latest limb that broke off an intact parent.
func (b *Biped) swingHands(r *Rig) {
	for _, f := range b.sides {
		if f.hand == nil {
			continue
		}
		f.swing.Local[0] = -f.marker.Local[0]
		if b.moving == "BACKWARD" {
			f.swing.Local[0] += 0.1
		}
		if r.AnyAncestorsBroken(f.hand) > 0 {
			continue
		}
		broken := r.Broken()
		for i := len(broken) - 1; i >= 0; i-- {
			s := broken[i]
			if s.ReachTarget == nil || r.AnyAncestorsBroken(s.Parent) > 0 {
				continue
			}
			s.ReachTarget.Apply(f.hand.allBodies())
			break
		}
	}
}

// stepFoot moves the foot's ring to the new landing spot, releases its
// vertical pull and flexes the leg while the foot is far from the ring.
func (b *Biped) stepFoot(r *Rig, f *bipedFoot, sd side, center mgl64.Vec3, rad float64, standing bool, headLift float64) {
	cfg := &b.Config
	b.placeRing(f, center, rad)
	f.target.ZMult = 0
	for _, t := range f.toeTarget {
		t.ZMult = 0
	}
	if r.AnyAncestorsBroken(f.foot) > 0 {
		return
	}

	at := f.foot.Location()
	if (at.Z() < cfg.ToeHeightThresh || at.Z() < f.foot.RestHeight()) && standing {
		b.applyHeadLift(headLift*0.5, sd)
	}

	ring := f.ring.Position()
	dist := math.Hypot(at.X()-ring.X(), at.Y()-ring.Y())
	switch {
	case dist > cfg.FootStepNearFarTh:
		f.foot.AddForce(mgl64.Vec3{0, 0, cfg.FootStepFarLift})
	case dist < cfg.FootStepNearFarTh:
		f.foot.AddForce(mgl64.Vec3{0, 0, -cfg.FootStepNearPull})
	}

	flex := cfg.SteppingLegFlex
	if cfg.FlipKnee {
		flex = -flex
	}
	if thigh := f.foot.Parent; thigh != nil {
		thigh.AddLocalTorque(mgl64.Vec3{-flex, 0, 0})
		if hip := thigh.Parent; hip != nil {
			hip.AddLocalTorque(mgl64.Vec3{flex, 0, 0})
		}
	}
}

// plantFoot keeps a standing foot down and its leg slightly bent.
func (b *Biped) plantFoot(r *Rig, f *bipedFoot, sd side, standing bool, headLift float64) {
	cfg := &b.Config
	if r.AnyAncestorsBroken(f.foot) > 0 {
		return
	}
	at := f.foot.Location()
	if (at.Z() < cfg.ToeHeightThresh || at.Z() < f.foot.RestHeight()) && standing {
		b.applyHeadLift(headLift*0.5, sd)
	}

	flex := cfg.LegFlex
	if cfg.FlipKnee {
		flex = -flex
	}
	f.foot.AddLocalTorque(mgl64.Vec3{-flex * 0.25, 0, 0})
	if thigh := f.foot.Parent; thigh != nil {
		thigh.AddLocalTorque(mgl64.Vec3{flex, 0, 0})
		if hip := thigh.Parent; hip != nil {
			hip.AddLocalTorque(mgl64.Vec3{-flex * 0.5, 0, 0})
		}
	}

	down := mgl64.Vec3{0, 0, -cfg.ToeDownwardPull}
	f.foot.AddForce(down)
	f.target.ZMult = 1
	for i, toe := range f.toes {
		f.toeTarget[i].ZMult = 1
		toe.AddForce(down)
	}
}

func (b *Biped) fall(r *Rig, pelvisZ float64) {
	cfg := &b.Config
	for _, f := range b.sides {
		if pelvisZ < lowPelvisCutoff {
			if !r.IsBroken(f.foot) {
				f.foot.AddLocalTorque(mgl64.Vec3{-30, 0, 0})
			}
			if f.chest != nil && f.chest.Weight < chestPullCap {
				f.chest.Weight++
			}
		} else if f.chest != nil {
			f.chest.Weight *= 0.9
		}
	}

	for _, t := range b.footTargets {
		t.Weight *= 0.99
	}

	for _, f := range b.sides {
		if f.hand == nil || r.IsBroken(f.hand) {
			continue
		}
		b.head.AddLocalTorque(mgl64.Vec3{-cfg.FallingHeadCurl, 0, 0})
		f.hand.AddForce(mgl64.Vec3{0, 0, -cfg.FallingPullHandsDown * b.tilt})
		if f.hand.Location().Z() < 0.1 {
			b.head.AddForce(mgl64.Vec3{0, 0, b.tilt * cfg.FallingHandsDownHeadLift})
			f.hand.AddLocalForce(mgl64.Vec3{0, -10, 0})
		} else {
			f.hand.AddLocalForce(mgl64.Vec3{0, 3, 0})
		}
	}
}

func (b *Biped) stand(r *Rig, headLift float64) {
	cfg := &b.Config
	for _, f := range b.sides {
		if f.chest != nil {
			f.chest.Weight *= 0.9
		}
		grounded := 0
		for _, toe := range f.toes {
			z := toe.Location().Z()
			if (z < cfg.ToeHeightThresh || z < toe.RestHeight()) && r.AnyAncestorsBroken(toe) == 0 {
				grounded++
			}
		}
		if grounded > 0 {
			b.applyHeadLift(headLift/float64(grounded)*0.5, -1)
		}
	}
	for _, t := range b.footTargets {
		if t.Weight < cfg.FootTargetGoalWeight {
			t.Weight++
		}
	}
}

// headLiftChain is the share of the lift given to each segment above the
// head, nearest first.
var headLiftChain = []float64{0.75, 0.5, 0.25, 0.125}

// applyHeadLift pushes the head and the spine below it up toward the head's
// rest height. It never lifts a head that is already above rest. A side of
// -1 lifts neither shoulder.
func (b *Biped) applyHeadLift(force float64, sd side) {
	head := b.head
	z := head.Location().Z()
	if z > head.RestHeight() {
		return
	}
	if delta := head.RestHeight() - z; delta < 1 {
		force *= delta + 0.25
	}

	head.AddForce(mgl64.Vec3{0, 0, force * 0.75})
	if sd == left || sd == right {
		b.sides[sd].shoulder.AddForce(mgl64.Vec3{0, 0, force * 0.5})
	}
	s := head.Parent
	for _, k := range headLiftChain {
		if s == nil {
			break
		}
		s.AddForce(mgl64.Vec3{0, 0, force * k})
		s = s.Parent
	}
}
