package types

import "github.com/chewxy/math32"

// A rotation quaternion with vector part V and scalar part W.
type Quat struct {
	V Vec3
	W float32
}

// The identity rotation.
func QuatIdent() Quat {
	return Quat{W: 1}
}

// Create a rotation of angle radians around axis. The axis is normalized.
func QuatFromAxisAngle(axis Vec3, angle float32) Quat {
	s, c := math32.Sincos(0.5 * angle)
	return Quat{V: axis.Normalize().Mul(s), W: c}
}

// Create a rotation that applies the X, Y and Z axis rotations in angles
// (radians) in that order.
func QuatFromEulerXYZ(angles Vec3) Quat {
	qx := QuatFromAxisAngle(Vec3{1, 0, 0}, angles[0])
	qy := QuatFromAxisAngle(Vec3{0, 1, 0}, angles[1])
	qz := QuatFromAxisAngle(Vec3{0, 0, 1}, angles[2])
	return qz.Mul(qy).Mul(qx).Normalize()
}

// Compose two rotations. The result applies q2 first and then q.
func (q Quat) Mul(q2 Quat) Quat {
	return Quat{
		V: q.V.Cross(q2.V).Add(q2.V.Mul(q.W)).Add(q.V.Mul(q2.W)),
		W: q.W*q2.W - q.V.Dot(q2.V),
	}
}

// Get the conjugate. For unit quaternions this is the inverse rotation.
func (q Quat) Conjugate() Quat {
	return Quat{V: q.V.Neg(), W: q.W}
}

// Get the quaternion norm.
func (q Quat) Len() float32 {
	return math32.Sqrt(q.V.Dot(q.V) + q.W*q.W)
}

// Scale q to unit length. A zero quaternion becomes the identity.
func (q Quat) Normalize() Quat {
	l := q.Len()
	switch {
	case l < floatCmpEpsilon:
		return QuatIdent()
	case math32.Abs(l-1) < floatCmpEpsilon:
		return q
	}
	inv := 1 / l
	return Quat{V: q.V.Mul(inv), W: q.W * inv}
}

// Rotate v. q must be a unit quaternion.
func (q Quat) Rotate(v Vec3) Vec3 {
	// v' = v + 2w(u x v) + 2u x (u x v)
	t := q.V.Cross(v).Mul(2)
	return v.Add(t.Mul(q.W)).Add(q.V.Cross(t))
}

// Get the rotation matrix for a unit quaternion.
func (q Quat) Mat4() Mat4 {
	x, y, z, w := q.V[0], q.V[1], q.V[2], q.W
	xx, yy, zz := x*x, y*y, z*z
	xy, xz, yz := x*y, x*z, y*z
	wx, wy, wz := w*x, w*y, w*z

	return Mat4{
		1 - 2*(yy+zz), 2 * (xy + wz), 2 * (xz - wy), 0,
		2 * (xy - wz), 1 - 2*(xx+zz), 2 * (yz + wx), 0,
		2 * (xz + wy), 2 * (yz - wx), 1 - 2*(xx+yy), 0,
		0, 0, 0, 1,
	}
}
