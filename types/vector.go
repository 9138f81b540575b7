package types

import (
	"github.com/chewxy/math32"
	"golang.org/x/image/math/f32"
)

// Lengths below this value are treated as zero.
const floatCmpEpsilon float32 = 1e-6

// Vectors share the memory layout of the x/image float32 vectors so they
// can be handed to image and device code without conversion.
type (
	Vec3 f32.Vec3
	Vec4 f32.Vec4
)

// Extend v to homogeneous coordinates. Use w=1 for points and w=0 for
// directions.
func (v Vec3) Vec4(w float32) Vec4 {
	return Vec4{v[0], v[1], v[2], w}
}

// Drop the w component.
func (v Vec4) Vec3() Vec3 {
	return Vec3{v[0], v[1], v[2]}
}

func (v Vec3) Add(v2 Vec3) Vec3 {
	return Vec3{v[0] + v2[0], v[1] + v2[1], v[2] + v2[2]}
}

func (v Vec3) Sub(v2 Vec3) Vec3 {
	return Vec3{v[0] - v2[0], v[1] - v2[1], v[2] - v2[2]}
}

// Scale by s.
func (v Vec3) Mul(s float32) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Component-wise product. Used for colour filtering.
func (v Vec3) MulVec(v2 Vec3) Vec3 {
	return Vec3{v[0] * v2[0], v[1] * v2[1], v[2] * v2[2]}
}

// Component-wise 1/v. Zero components become +Inf so that slab tests
// against axis-parallel rays behave.
func (v Vec3) Recip() Vec3 {
	out := Vec3{math32.Inf(1), math32.Inf(1), math32.Inf(1)}
	for i, c := range v {
		if c != 0 {
			out[i] = 1 / c
		}
	}
	return out
}

func (v Vec3) Abs() Vec3 {
	return Vec3{math32.Abs(v[0]), math32.Abs(v[1]), math32.Abs(v[2])}
}

func (v Vec3) Neg() Vec3 {
	return Vec3{-v[0], -v[1], -v[2]}
}

func (v Vec3) Dot(v2 Vec3) float32 {
	return v[0]*v2[0] + v[1]*v2[1] + v[2]*v2[2]
}

func (v Vec3) Cross(v2 Vec3) Vec3 {
	return Vec3{
		v[1]*v2[2] - v[2]*v2[1],
		v[2]*v2[0] - v[0]*v2[2],
		v[0]*v2[1] - v[1]*v2[0],
	}
}

func (v Vec3) Len() float32 {
	return math32.Sqrt(v.Dot(v))
}

// Get the unit vector pointing in the direction of v. Near-zero vectors
// map to the zero vector.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l < floatCmpEpsilon {
		return Vec3{}
	}
	return v.Mul(1 / l)
}

// Get the largest component.
func (v Vec3) MaxComponent() float32 {
	return math32.Max(math32.Max(v[0], v[1]), v[2])
}

// Interpolate between v (t=0) and v2 (t=1).
func (v Vec3) Lerp(v2 Vec3, t float32) Vec3 {
	return v.Add(v2.Sub(v).Mul(t))
}

// Get the component-wise minimum of two vectors.
func MinVec3(v1, v2 Vec3) Vec3 {
	return Vec3{math32.Min(v1[0], v2[0]), math32.Min(v1[1], v2[1]), math32.Min(v1[2], v2[2])}
}

// Get the component-wise maximum of two vectors.
func MaxVec3(v1, v2 Vec3) Vec3 {
	return Vec3{math32.Max(v1[0], v2[0]), math32.Max(v1[1], v2[1]), math32.Max(v1[2], v2[2])}
}

// Returns true if no component of v1 and v2 differs by more than threshold.
func ApproxEqual(v1, v2 Vec3, threshold float32) bool {
	d := v1.Sub(v2).Abs()
	return d.MaxComponent() <= threshold
}
