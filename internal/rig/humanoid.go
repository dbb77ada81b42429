package rig

import (
	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/go-gl/mathgl/mgl64"
)

// Humanoid returns a minimal biped skeleton standing on the ground plane
// with Z up and its left side on +X.
func Humanoid(name string) Skeleton {
	bone := func(n, parent string, head, tail mgl64.Vec3, r float64) Bone {
		return Bone{
			Name:       n,
			Parent:     parent,
			Connected:  parent != "",
			Deform:     true,
			Head:       head,
			Tail:       tail,
			Rotation:   mgl64.QuatIdent(),
			HeadRadius: r,
			TailRadius: r,
		}
	}
	bones := []Bone{
		bone("pelvis", "", mgl64.Vec3{0, 0, 0.95}, mgl64.Vec3{0, 0, 1.15}, 0.12),
		bone("chest", "pelvis", mgl64.Vec3{0, 0, 1.15}, mgl64.Vec3{0, 0, 1.45}, 0.14),
		bone("head", "chest", mgl64.Vec3{0, 0, 1.5}, mgl64.Vec3{0, 0, 1.75}, 0.1),
	}
	for _, s := range []struct {
		suffix string
		x      float64
	}{{".L", 1}, {".R", -1}} {
		x := s.x
		bones = append(bones,
			bone("shoulder"+s.suffix, "chest", mgl64.Vec3{0.05 * x, 0, 1.45}, mgl64.Vec3{0.2 * x, 0, 1.42}, 0.05),
			bone("upper_arm"+s.suffix, "shoulder"+s.suffix, mgl64.Vec3{0.2 * x, 0, 1.42}, mgl64.Vec3{0.45 * x, 0, 1.42}, 0.05),
			bone("forearm"+s.suffix, "upper_arm"+s.suffix, mgl64.Vec3{0.45 * x, 0, 1.42}, mgl64.Vec3{0.7 * x, 0, 1.42}, 0.04),
			bone("hand"+s.suffix, "forearm"+s.suffix, mgl64.Vec3{0.7 * x, 0, 1.42}, mgl64.Vec3{0.8 * x, 0, 1.42}, 0.04),
			bone("thigh"+s.suffix, "pelvis", mgl64.Vec3{0.12 * x, 0, 0.95}, mgl64.Vec3{0.12 * x, 0, 0.5}, 0.07),
			bone("shin"+s.suffix, "thigh"+s.suffix, mgl64.Vec3{0.12 * x, 0, 0.5}, mgl64.Vec3{0.12 * x, 0, 0.1}, 0.05),
			bone("foot"+s.suffix, "shin"+s.suffix, mgl64.Vec3{0.12 * x, 0, 0.1}, mgl64.Vec3{0.12 * x, -0.15, 0.04}, 0.04),
			bone("toe"+s.suffix, "foot"+s.suffix, mgl64.Vec3{0.12 * x, -0.15, 0.04}, mgl64.Vec3{0.12 * x, -0.22, 0.03}, 0.03),
		)
	}
	return Skeleton{Name: name, Bones: bones, Spawn: physics.Identity()}
}
