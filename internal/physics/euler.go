package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// EulerXYZ decomposes q into X, Y and Z rotations (radians) applied in XYZ order.
func EulerXYZ(q mgl64.Quat) mgl64.Vec3 {
	q = q.Normalize()
	w, x, y, z := q.W, q.V[0], q.V[1], q.V[2]

	sinrCosp := 2 * (w*x + y*z)
	cosrCosp := 1 - 2*(x*x+y*y)
	rx := math.Atan2(sinrCosp, cosrCosp)

	sinp := 2 * (w*y - z*x)
	var ry float64
	if math.Abs(sinp) >= 1 {
		ry = math.Copysign(math.Pi/2, sinp)
	} else {
		ry = math.Asin(sinp)
	}

	sinyCosp := 2 * (w*z + x*y)
	cosyCosp := 1 - 2*(y*y+z*z)
	rz := math.Atan2(sinyCosp, cosyCosp)

	return mgl64.Vec3{rx, ry, rz}
}

// QuatFromEulerXYZ is the inverse of EulerXYZ.
func QuatFromEulerXYZ(e mgl64.Vec3) mgl64.Quat {
	qx := mgl64.QuatRotate(e[0], mgl64.Vec3{1, 0, 0})
	qy := mgl64.QuatRotate(e[1], mgl64.Vec3{0, 1, 0})
	qz := mgl64.QuatRotate(e[2], mgl64.Vec3{0, 0, 1})
	return qz.Mul(qy).Mul(qx).Normalize()
}

// HeadingDegrees is the Z rotation of q in degrees.
func HeadingDegrees(q mgl64.Quat) float64 {
	return mgl64.RadToDeg(EulerXYZ(q)[2])
}
