package rig

import (
	"math"
	"testing"

	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/OCAP2/rigstream/internal/physics/physicstest"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
)

func TestTarget_ZeroDelta(t *testing.T) {
	goal := NewMarker("goal", mgl64.Vec3{1, 2, 3})
	for _, norm := range []float64{0, 1} {
		target := NewTarget("t", goal, WithWeight(10), WithNormPower(norm))
		f := target.ForceAt(mgl64.Vec3{1, 2, 3})
		for i := range 3 {
			if math.IsNaN(f[i]) {
				t.Fatalf("norm power %v: NaN force component %d", norm, i)
			}
		}
		assert.Equal(t, mgl64.Vec3{}, f)
	}
}

func TestTarget_Force(t *testing.T) {
	goal := NewMarker("goal", mgl64.Vec3{3, 0, 4})
	target := NewTarget("t", goal, WithWeight(2), WithRawPower(1), WithNormPower(5), WithZMult(0))

	// delta (3,0,4), |delta| 5: raw (3,0,4) + norm (3,0,4), z dropped, weight 2
	assert.Equal(t, mgl64.Vec3{12, 0, 0}, target.ForceAt(mgl64.Vec3{}))
}

func TestTarget_ApplyEveryBody(t *testing.T) {
	engine := physicstest.New()
	a, _ := engine.CreateBody(physics.BodySpec{Name: "a", Transform: physics.At(mgl64.Vec3{0, 0, 0})})
	b, _ := engine.CreateBody(physics.BodySpec{Name: "b", Transform: physics.At(mgl64.Vec3{1, 0, 0})})

	target := NewTarget("t", NewMarker("goal", mgl64.Vec3{2, 0, 0}), WithWeight(1))
	target.Apply([]physics.Body{a, b})

	assert.Equal(t, []mgl64.Vec3{{2, 0, 0}}, engine.Bodies["a"].Forces)
	assert.Equal(t, []mgl64.Vec3{{1, 0, 0}}, engine.Bodies["b"].Forces)
}

func TestTarget_Bidirectional(t *testing.T) {
	engine := physicstest.New()
	body, _ := engine.CreateBody(physics.BodySpec{Name: "a", Transform: physics.At(mgl64.Vec3{0, 0, 0})})

	goal := NewMarker("goal", mgl64.Vec3{10, 0, 0})
	target := NewTarget("t", goal, WithWeight(1), WithBidirectional(true))
	target.Apply([]physics.Body{body})
	assert.InDelta(t, 9.0, goal.Position().X(), 1e-9, "goal dragged 10% toward the body")

	target.Reset()
	assert.Equal(t, mgl64.Vec3{10, 0, 0}, goal.Position())

	plain := NewTarget("p", goal, WithWeight(1))
	plain.Apply([]physics.Body{body})
	assert.Equal(t, mgl64.Vec3{10, 0, 0}, goal.Position())
}

func TestMarker_ChildFollowsTrackingParent(t *testing.T) {
	anchor := NewMarker("anchor", mgl64.Vec3{0, 5, 0})
	ring := NewMarker("ring", mgl64.Vec3{0, 0, 0})
	ring.Track = anchor
	child := &Marker{Name: "child", Local: mgl64.Vec3{0, 0, 2}, Parent: ring}

	p := child.Position()
	assert.InDeltaSlice(t, []float64{0, 2, 0}, p[:], 1e-9)

	ring.Flip = true
	p = child.Position()
	assert.InDeltaSlice(t, []float64{0, -2, 0}, p[:], 1e-9)

	child.Translate(mgl64.Vec3{0, -1, 0})
	assert.InDeltaSlice(t, []float64{0, 0, 3}, child.Local[:], 1e-9)
}
