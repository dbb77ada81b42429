package physics

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJointTypesFromName(t *testing.T) {
	tests := []struct {
		name string
		want []JointType
	}{
		{"thigh.L", nil},
		{"neck{ball}", []JointType{JointBall}},
		{"spine {hinge fixed}", []JointType{JointHinge, JointFixed}},
		{"arm{ bogus ball }", []JointType{JointBall}},
		{"broken{ball", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JointTypesFromName(tt.name))
		})
	}
}

func TestParseJointType(t *testing.T) {
	jt, err := ParseJointType(" Universal ")
	require.NoError(t, err)
	assert.Equal(t, JointUniversal, jt)

	_, err = ParseJointType("weld")
	assert.Error(t, err)
}

func TestEulerRoundTrip(t *testing.T) {
	in := mgl64.Vec3{0.3, -0.4, 1.2}
	out := EulerXYZ(QuatFromEulerXYZ(in))
	for i := range 3 {
		assert.InDelta(t, in[i], out[i], 1e-9)
	}
}

func TestHeadingDegrees(t *testing.T) {
	q := mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1})
	assert.InDelta(t, 90.0, HeadingDegrees(q), 1e-9)
}

func TestComposeTransform(t *testing.T) {
	parent := At(mgl64.Vec3{10, 0, 0})
	parent.Rotation = mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1})
	child := At(mgl64.Vec3{1, 0, 0})

	got := child.Compose(parent)
	assert.InDelta(t, 10.0, got.Position.X(), 1e-9)
	assert.InDelta(t, 1.0, got.Position.Y(), 1e-9)
}
