package scene

import (
	"github.com/achilleasa/hybridtrace/types"
	"github.com/chewxy/math32"
)

// The SDF interface is implemented by implicit surfaces described by a signed
// distance function. Distances are negative inside the surface.
type SDF interface {
	// Get the signed distance from p to the surface.
	Distance(p types.Vec3) float32

	// Get a bounding box that encloses the surface.
	BBox() [2]types.Vec3
}

// A sphere centered at the origin.
type Sphere struct {
	Radius float32
}

func (s Sphere) Distance(p types.Vec3) float32 {
	return p.Len() - s.Radius
}

func (s Sphere) BBox() [2]types.Vec3 {
	r := s.Radius
	return [2]types.Vec3{{-r, -r, -r}, {r, r, r}}
}

// An axis aligned box centered at the origin.
type Box struct {
	HalfExtents types.Vec3
}

func (b Box) Distance(p types.Vec3) float32 {
	return boxDistance(p, b.HalfExtents)
}

func (b Box) BBox() [2]types.Vec3 {
	return [2]types.Vec3{b.HalfExtents.Neg(), b.HalfExtents}
}

// A box with rounded edges. Radius is subtracted from the half extents so the
// outer dimensions match an equivalent Box.
type RoundBox struct {
	HalfExtents types.Vec3
	Radius      float32
}

func (b RoundBox) Distance(p types.Vec3) float32 {
	inner := b.HalfExtents.Sub(types.Vec3{b.Radius, b.Radius, b.Radius})
	return boxDistance(p, inner) - b.Radius
}

func (b RoundBox) BBox() [2]types.Vec3 {
	return [2]types.Vec3{b.HalfExtents.Neg(), b.HalfExtents}
}

// A torus lying on the XZ plane.
type Torus struct {
	MajorRadius float32
	MinorRadius float32
}

func (t Torus) Distance(p types.Vec3) float32 {
	qx := math32.Sqrt(p[0]*p[0]+p[2]*p[2]) - t.MajorRadius
	return math32.Sqrt(qx*qx+p[1]*p[1]) - t.MinorRadius
}

func (t Torus) BBox() [2]types.Vec3 {
	r := t.MajorRadius + t.MinorRadius
	return [2]types.Vec3{{-r, -t.MinorRadius, -r}, {r, t.MinorRadius, r}}
}

// A capsule between two end points.
type Capsule struct {
	A, B   types.Vec3
	Radius float32
}

func (c Capsule) Distance(p types.Vec3) float32 {
	pa := p.Sub(c.A)
	ba := c.B.Sub(c.A)
	h := float32(0)
	if d := ba.Dot(ba); d > 0 {
		h = clamp(pa.Dot(ba)/d, 0, 1)
	}
	return pa.Sub(ba.Mul(h)).Len() - c.Radius
}

func (c Capsule) BBox() [2]types.Vec3 {
	r := types.Vec3{c.Radius, c.Radius, c.Radius}
	return [2]types.Vec3{
		types.MinVec3(c.A, c.B).Sub(r),
		types.MaxVec3(c.A, c.B).Add(r),
	}
}

// A finite ground slab centered at the origin with its top face at y = 0.
type PlaneSlab struct {
	HalfSize  float32
	Thickness float32
}

func (s PlaneSlab) Distance(p types.Vec3) float32 {
	half := s.Thickness * 0.5
	return boxDistance(p.Add(types.Vec3{0, half, 0}), types.Vec3{s.HalfSize, half, s.HalfSize})
}

func (s PlaneSlab) BBox() [2]types.Vec3 {
	return [2]types.Vec3{{-s.HalfSize, -s.Thickness, -s.HalfSize}, {s.HalfSize, 0, s.HalfSize}}
}

// The union of two surfaces.
type Union struct {
	A, B SDF
}

func (u Union) Distance(p types.Vec3) float32 {
	return math32.Min(u.A.Distance(p), u.B.Distance(p))
}

func (u Union) BBox() [2]types.Vec3 {
	return unionBBox(u.A.BBox(), u.B.BBox())
}

// A polynomial smooth union of two surfaces. K controls the blend radius.
type SmoothUnion struct {
	A, B SDF
	K    float32
}

func (u SmoothUnion) Distance(p types.Vec3) float32 {
	d1, d2 := u.A.Distance(p), u.B.Distance(p)
	if u.K <= 0 {
		return math32.Min(d1, d2)
	}
	h := clamp(0.5+0.5*(d2-d1)/u.K, 0, 1)
	return lerp(d2, d1, h) - u.K*h*(1-h)
}

func (u SmoothUnion) BBox() [2]types.Vec3 {
	bbox := unionBBox(u.A.BBox(), u.B.BBox())
	k := types.Vec3{u.K, u.K, u.K}
	return [2]types.Vec3{bbox[0].Sub(k), bbox[1].Add(k)}
}

// Translate a surface by an offset.
type Translate struct {
	SDF    SDF
	Offset types.Vec3
}

func (t Translate) Distance(p types.Vec3) float32 {
	return t.SDF.Distance(p.Sub(t.Offset))
}

func (t Translate) BBox() [2]types.Vec3 {
	bbox := t.SDF.BBox()
	return [2]types.Vec3{bbox[0].Add(t.Offset), bbox[1].Add(t.Offset)}
}

// Estimate the surface normal at p using central differences.
func Normal(sdf SDF, p types.Vec3) types.Vec3 {
	const eps float32 = 1e-3
	return types.Vec3{
		sdf.Distance(types.Vec3{p[0] + eps, p[1], p[2]}) - sdf.Distance(types.Vec3{p[0] - eps, p[1], p[2]}),
		sdf.Distance(types.Vec3{p[0], p[1] + eps, p[2]}) - sdf.Distance(types.Vec3{p[0], p[1] - eps, p[2]}),
		sdf.Distance(types.Vec3{p[0], p[1], p[2] + eps}) - sdf.Distance(types.Vec3{p[0], p[1], p[2] - eps}),
	}.Normalize()
}

func boxDistance(p, halfExtents types.Vec3) float32 {
	q := p.Abs().Sub(halfExtents)
	outside := types.MaxVec3(q, types.Vec3{}).Len()
	inside := math32.Min(math32.Max(q[0], math32.Max(q[1], q[2])), 0)
	return outside + inside
}

func unionBBox(a, b [2]types.Vec3) [2]types.Vec3 {
	return [2]types.Vec3{types.MinVec3(a[0], b[0]), types.MaxVec3(a[1], b[1])}
}

func clamp(v, min, max float32) float32 {
	return math32.Max(min, math32.Min(max, v))
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}
