package compute

import (
	"github.com/achilleasa/hybridtrace/accel"
	"github.com/achilleasa/hybridtrace/accel/bvh"
	"github.com/achilleasa/hybridtrace/scene"
	"github.com/achilleasa/hybridtrace/tracer"
	"github.com/achilleasa/hybridtrace/types"
	"github.com/chewxy/math32"
)

const meshStackSize = 64

// A scene instance prepared for ray marching.
type instance struct {
	model *scene.Model
	mesh  *meshBVH

	// World to object transform and the transform for object space normals.
	inv       types.Mat4
	normalMat types.Mat4

	objBBox   [2]types.Vec3
	worldBBox [2]types.Vec3
}

func newInstance(model *scene.Model, mesh *meshBVH, transform types.Mat4) (instance, error) {
	if transform.Det() == 0 {
		return instance{}, tracer.ErrInvalidTransform
	}
	inst := instance{model: model, mesh: mesh}
	inst.setTransform(transform)
	return inst, nil
}

func (inst *instance) setTransform(transform types.Mat4) {
	inst.inv = transform.Inv()
	inst.normalMat = inst.inv.Transpose()

	// Pad implicit bounds so marching starts outside the surface.
	bbox := inst.model.BBox()
	if inst.model.SDF != nil {
		pad := types.Vec3{1e-2, 1e-2, 1e-2}
		bbox = [2]types.Vec3{bbox[0].Sub(pad), bbox[1].Add(pad)}
	}
	inst.objBBox = bbox
	inst.worldBBox = transform.Affine().TransformBBox(bbox)
}

// Traces rays against the scene instances. Implicit surfaces are sphere
// traced in object space while meshes use a software BVH.
type marcher struct {
	instances []instance

	maxSteps   int
	hitEpsilon float32
}

func (m *marcher) Intersect(origin, dir types.Vec3, tMax float32) (tracer.SurfaceHit, bool) {
	return m.trace(origin, dir, tMax, false)
}

func (m *marcher) Occluded(origin, dir types.Vec3, tMax float32) bool {
	_, found := m.trace(origin, dir, tMax, true)
	return found
}

func (m *marcher) trace(origin, dir types.Vec3, tMax float32, anyHit bool) (tracer.SurfaceHit, bool) {
	var hit tracer.SurfaceHit
	found := false
	best := tMax
	invDir := dir.Recip()

	for index := range m.instances {
		inst := &m.instances[index]
		if _, overlaps := bvh.IntersectBBox(inst.worldBBox[0], inst.worldBBox[1], origin, invDir, 0, best); !overlaps {
			continue
		}

		objOrigin := inst.inv.TransformPoint(origin)
		objDir := inst.inv.TransformVector(dir)
		scale := objDir.Len()
		if scale == 0 {
			continue
		}
		objDir = objDir.Mul(1 / scale)

		var tObj float32
		var objNormal types.Vec3
		var ok bool
		if inst.mesh != nil {
			tObj, objNormal, ok = inst.mesh.intersect(objOrigin, objDir, best*scale)
		} else {
			tObj, ok = m.sphereTrace(inst, objOrigin, objDir, best*scale)
			if ok {
				objNormal = scene.Normal(inst.model.SDF, objOrigin.Add(objDir.Mul(tObj)))
			}
		}
		if !ok {
			continue
		}

		t := tObj / scale
		if t >= best {
			continue
		}
		best = t
		found = true

		normal := inst.normalMat.TransformVector(objNormal).Normalize()
		if normal.Dot(dir) > 0 {
			normal = normal.Neg()
		}
		hit = tracer.SurfaceHit{
			T:        t,
			Position: origin.Add(dir.Mul(t)),
			Normal:   normal,
			Material: inst.model.Material,
		}
		if anyHit {
			break
		}
	}
	return hit, found
}

// March along a normalized object space ray inside the instance bounds.
func (m *marcher) sphereTrace(inst *instance, origin, dir types.Vec3, tMax float32) (float32, bool) {
	tNear, tFar, overlaps := slabs(inst.objBBox, origin, dir.Recip())
	if !overlaps {
		return 0, false
	}
	t := math32.Max(tNear, 0)
	tEnd := math32.Min(tFar, tMax)

	sdf := inst.model.SDF
	for step := 0; step < m.maxSteps && t <= tEnd; step++ {
		dist := sdf.Distance(origin.Add(dir.Mul(t)))
		if dist < m.hitEpsilon {
			return t, true
		}
		t += dist
	}
	return 0, false
}

// Get the entry and exit distances of a ray through a bounding box.
func slabs(bbox [2]types.Vec3, origin, invDir types.Vec3) (tNear, tFar float32, overlaps bool) {
	tNear, tFar = -math32.MaxFloat32, math32.MaxFloat32
	for axis := 0; axis < 3; axis++ {
		t0 := (bbox[0][axis] - origin[axis]) * invDir[axis]
		t1 := (bbox[1][axis] - origin[axis]) * invDir[axis]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tNear = math32.Max(tNear, t0)
		tFar = math32.Min(tFar, t1)
	}
	return tNear, tFar, tNear <= tFar && tFar >= 0
}

// A BVH over the triangles of a mesh model built with the fast preset.
type meshBVH struct {
	nodes       []bvh.Node
	primIndices []uint32
	vertices    []types.Vec3
	indices     []uint32
}

func newMeshBVH(mesh *scene.Mesh) (*meshBVH, error) {
	if err := mesh.Validate(); err != nil {
		return nil, err
	}

	bboxes := make([][2]types.Vec3, mesh.TriangleCount())
	for tri := range bboxes {
		v0 := mesh.Vertices[mesh.Indices[tri*3]]
		v1 := mesh.Vertices[mesh.Indices[tri*3+1]]
		v2 := mesh.Vertices[mesh.Indices[tri*3+2]]
		bboxes[tri] = [2]types.Vec3{
			types.MinVec3(v0, types.MinVec3(v1, v2)),
			types.MaxVec3(v0, types.MaxVec3(v1, v2)),
		}
	}

	nodes, primIndices, _ := bvh.BuildIndexed(bboxes, accel.QualityFast.Options())
	return &meshBVH{
		nodes:       nodes,
		primIndices: primIndices,
		vertices:    mesh.Vertices,
		indices:     mesh.Indices,
	}, nil
}

// Find the closest triangle hit. The returned normal is not normalized.
func (mb *meshBVH) intersect(origin, dir types.Vec3, tMax float32) (float32, types.Vec3, bool) {
	if len(mb.nodes) == 0 {
		return 0, types.Vec3{}, false
	}

	invDir := dir.Recip()
	var normal types.Vec3
	found := false

	var stack [meshStackSize]uint32
	stackSize := 1
	for stackSize > 0 {
		stackSize--
		node := &mb.nodes[stack[stackSize]]
		if _, overlaps := node.Intersect(origin, invDir, 0, tMax); !overlaps {
			continue
		}

		if !node.IsLeaf() {
			if stackSize+2 > meshStackSize {
				continue
			}
			left, right := node.GetChildNodes()
			stack[stackSize] = right
			stack[stackSize+1] = left
			stackSize += 2
			continue
		}

		first, count := node.GetPrimitives()
		for _, tri := range mb.primIndices[first : first+count] {
			v0 := mb.vertices[mb.indices[tri*3]]
			v1 := mb.vertices[mb.indices[tri*3+1]]
			v2 := mb.vertices[mb.indices[tri*3+2]]
			if t, ok := intersectTriangle(v0, v1, v2, origin, dir, tMax); ok {
				tMax = t
				normal = v1.Sub(v0).Cross(v2.Sub(v0))
				found = true
			}
		}
	}
	return tMax, normal, found
}

// Double sided Moller-Trumbore ray/triangle test.
func intersectTriangle(v0, v1, v2, origin, dir types.Vec3, tMax float32) (float32, bool) {
	const eps float32 = 1e-8

	e1 := v1.Sub(v0)
	e2 := v2.Sub(v0)
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if math32.Abs(det) < eps {
		return 0, false
	}
	invDet := 1 / det

	s := origin.Sub(v0)
	u := s.Dot(p) * invDet
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := dir.Dot(q) * invDet
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := e2.Dot(q) * invDet
	if t <= 1e-5 || t >= tMax {
		return 0, false
	}
	return t, true
}

func (mb *meshBVH) sizeBytes() uint64 {
	return uint64(len(mb.nodes))*32 + uint64(len(mb.primIndices))*4
}
