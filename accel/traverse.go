package accel

import (
	"github.com/achilleasa/hybridtrace/accel/bvh"
	"github.com/achilleasa/hybridtrace/types"
	"github.com/chewxy/math32"
)

const (
	// Depth-first traversal keeps at most one pending sibling per level.
	traversalStackSize = bvh.MaxTreeDepth + 1

	// Triangles with a determinant below this value are treated as parallel
	// to the ray.
	triangleEpsilon float32 = 1e-9
)

// Ray flags.
type RayFlags uint8

const (
	// Skip back facing triangles unless the instance disables culling.
	RayCullBackFaces RayFlags = 1 << iota

	// Accept the first intersection found instead of the closest one.
	RayTerminateOnFirstHit
)

// A ray traced against a TLAS.
type Ray struct {
	Origin types.Vec3
	Dir    types.Vec3
	TMin   float32
	TMax   float32

	// Instance visibility mask. A zero mask is treated as MaskAll.
	Mask  uint8
	Flags RayFlags
}

// Information about a ray hit.
type Hit struct {
	T float32

	// Index of the instance in the TLAS instance list.
	InstanceIndex uint32
	CustomIndex   uint32

	// Index of the triangle or AABB within the BLAS.
	PrimitiveIndex uint32

	// Barycentric coordinates for triangle hits.
	U, V float32

	// World space geometric normal facing the side the ray hit.
	Normal    types.Vec3
	FrontFace bool
}

// Find the closest intersection of ray with the instances in the TLAS.
func (t *TLAS) Intersect(ray Ray) (Hit, bool) {
	return t.trace(ray, ray.Flags&RayTerminateOnFirstHit != 0)
}

// Check whether anything intersects ray between TMin and TMax.
func (t *TLAS) Occluded(ray Ray) bool {
	_, found := t.trace(ray, true)
	return found
}

func (t *TLAS) trace(ray Ray, anyHit bool) (Hit, bool) {
	var hit Hit
	if len(t.nodes) == 0 {
		return hit, false
	}

	mask := ray.Mask
	if mask == 0 {
		mask = MaskAll
	}

	invDir := ray.Dir.Recip()
	tMax := ray.TMax
	found := false

	var stack [traversalStackSize]uint32
	stackSize := 1
	for stackSize > 0 {
		stackSize--
		node := &t.nodes[stack[stackSize]]
		if _, overlaps := node.Intersect(ray.Origin, invDir, ray.TMin, tMax); !overlaps {
			continue
		}

		if !node.IsLeaf() {
			left, right := node.GetChildNodes()
			if stackSize+2 > traversalStackSize {
				panic(errTraversalStackOverflow)
			}
			stack[stackSize] = right
			stack[stackSize+1] = left
			stackSize += 2
			continue
		}

		first, count := node.GetPrimitives()
		for _, instIndex := range t.primIndices[first : first+count] {
			inst := &t.instances[instIndex]
			blas := t.blas[instIndex]

			// Stale instances reference a destroyed or compacted BLAS.
			if inst.Mask&mask == 0 || blas.destroyed.Load() {
				continue
			}

			inv := &t.invTransforms[instIndex]
			objRay := objectRay{
				origin: inv.TransformPoint(ray.Origin),
				dir:    inv.TransformVector(ray.Dir),
				cull:   ray.Flags&RayCullBackFaces != 0 && inst.Flags&InstanceCullDisable == 0,
				flip:   inst.Flags&InstanceFlipWinding != 0,
			}

			primHit, ok := blas.intersect(objRay, ray.TMin, tMax, anyHit)
			if !ok {
				continue
			}

			tMax = primHit.t
			found = true
			hit = Hit{
				T:              primHit.t,
				InstanceIndex:  instIndex,
				CustomIndex:    inst.CustomIndex,
				PrimitiveIndex: primHit.prim,
				U:              primHit.u,
				V:              primHit.v,
				Normal:         normalToWorld(inv, primHit.normal),
				FrontFace:      primHit.frontFace,
			}
			if anyHit {
				return hit, true
			}
		}
	}

	return hit, found
}

// Transform an object space normal to world space using the inverse
// transpose of the object to world transform.
func normalToWorld(inv *types.Mat3x4, n types.Vec3) types.Vec3 {
	return types.Vec3{
		inv[0]*n[0] + inv[4]*n[1] + inv[8]*n[2],
		inv[1]*n[0] + inv[5]*n[1] + inv[9]*n[2],
		inv[2]*n[0] + inv[6]*n[1] + inv[10]*n[2],
	}.Normalize()
}

type objectRay struct {
	origin types.Vec3
	dir    types.Vec3
	cull   bool
	flip   bool
}

type primHit struct {
	t         float32
	u, v      float32
	prim      uint32
	normal    types.Vec3
	frontFace bool
}

// Find the closest primitive hit within [tMin, tMax]. Since the ray direction
// is not normalized after transforming to object space, hit distances remain
// comparable across instances.
func (b *BLAS) intersect(ray objectRay, tMin, tMax float32, anyHit bool) (primHit, bool) {
	var best primHit
	if len(b.nodes) == 0 {
		return best, false
	}

	invDir := ray.dir.Recip()
	found := false

	var stack [traversalStackSize]uint32
	stackSize := 1
	for stackSize > 0 {
		stackSize--
		node := &b.nodes[stack[stackSize]]
		if _, overlaps := node.Intersect(ray.origin, invDir, tMin, tMax); !overlaps {
			continue
		}

		if !node.IsLeaf() {
			left, right := node.GetChildNodes()
			if stackSize+2 > traversalStackSize {
				panic(errTraversalStackOverflow)
			}
			stack[stackSize] = right
			stack[stackSize+1] = left
			stackSize += 2
			continue
		}

		first, count := node.GetPrimitives()
		for _, prim := range b.primIndices[first : first+count] {
			var h primHit
			var ok bool
			if b.desc.Type == GeometryAABBs {
				h, ok = intersectAABB(b.aabbs[prim], ray, invDir, tMin, tMax)
			} else {
				h, ok = intersectTriangle(b.triVerts[prim*3:prim*3+3], ray, tMin, tMax)
			}
			if !ok {
				continue
			}

			h.prim = prim
			best = h
			tMax = h.t
			found = true
			if anyHit {
				return best, true
			}
		}
	}

	return best, found
}

// Intersect a triangle using the Moller-Trumbore algorithm. Counter-clockwise
// triangles are front facing unless the ray flips the winding.
func intersectTriangle(v []types.Vec3, ray objectRay, tMin, tMax float32) (primHit, bool) {
	e1 := v[1].Sub(v[0])
	e2 := v[2].Sub(v[0])
	p := ray.dir.Cross(e2)
	det := e1.Dot(p)

	if math32.Abs(det) < triangleEpsilon {
		return primHit{}, false
	}

	// A ray hitting the front face travels against the CCW normal which
	// yields a positive determinant with this edge ordering.
	frontFace := det > 0
	if ray.flip {
		frontFace = !frontFace
	}
	if ray.cull && !frontFace {
		return primHit{}, false
	}

	invDet := 1.0 / det
	s := ray.origin.Sub(v[0])
	u := s.Dot(p) * invDet
	if u < 0 || u > 1 {
		return primHit{}, false
	}

	q := s.Cross(e1)
	w := ray.dir.Dot(q) * invDet
	if w < 0 || u+w > 1 {
		return primHit{}, false
	}

	t := e2.Dot(q) * invDet
	if t <= tMin || t >= tMax {
		return primHit{}, false
	}

	normal := e1.Cross(e2)
	if ray.flip {
		normal = normal.Neg()
	}
	if !frontFace {
		normal = normal.Neg()
	}

	return primHit{t: t, u: u, v: w, normal: normal.Normalize(), frontFace: frontFace}, true
}

// Intersect a procedural AABB primitive. Rays starting inside the box hit
// its exit face.
func intersectAABB(aabb [2]types.Vec3, ray objectRay, invDir types.Vec3, tMin, tMax float32) (primHit, bool) {
	var tEnter, tExit float32 = -math32.MaxFloat32, math32.MaxFloat32
	enterAxis, exitAxis := 0, 0
	for axis := 0; axis < 3; axis++ {
		t0 := (aabb[0][axis] - ray.origin[axis]) * invDir[axis]
		t1 := (aabb[1][axis] - ray.origin[axis]) * invDir[axis]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if !math32.IsNaN(t0) && t0 > tEnter {
			tEnter, enterAxis = t0, axis
		}
		if !math32.IsNaN(t1) && t1 < tExit {
			tExit, exitAxis = t1, axis
		}
	}
	if tEnter > tExit {
		return primHit{}, false
	}

	var normal types.Vec3
	switch {
	case tEnter > tMin && tEnter < tMax:
		normal[enterAxis] = -math32.Copysign(1, ray.dir[enterAxis])
		return primHit{t: tEnter, normal: normal, frontFace: true}, true
	case tExit > tMin && tExit < tMax:
		normal[exitAxis] = -math32.Copysign(1, ray.dir[exitAxis])
		return primHit{t: tExit, normal: normal, frontFace: false}, true
	}
	return primHit{}, false
}
