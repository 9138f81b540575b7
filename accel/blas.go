package accel

import (
	"fmt"
	"sync/atomic"

	"github.com/achilleasa/hybridtrace/accel/bvh"
	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/types"
	"github.com/chewxy/math32"
)

const (
	vec3Size  = 12
	indexSize = 4
	aabbSize  = 24
	nodeSize  = 32

	// Acceleration structure buffers are sized in multiples of this value.
	asAlignment = 256
)

// A bottom level acceleration structure. The manager owns the device result
// buffer; the host side copy of the tree and geometry is read by traversal.
type BLAS struct {
	handle Handle
	name   string
	desc   BLASDesc

	compacted bool
	destroyed atomic.Bool

	// Device result buffer and its allocated size.
	result *device.Buffer
	size   uint64

	nodes       []bvh.Node
	primIndices []uint32

	// Triangle geometry; 3 vertices per triangle in triangle order.
	indices  []uint32
	triVerts []types.Vec3

	// AABB geometry.
	aabbs [][2]types.Vec3

	bounds [2]types.Vec3
}

// Get the handle of this BLAS.
func (b *BLAS) Handle() Handle {
	return b.handle
}

// Get the BLAS debug name.
func (b *BLAS) Name() string {
	return b.name
}

// Get the geometry type.
func (b *BLAS) Type() GeometryType {
	return b.desc.Type
}

// Get the quality hint the BLAS was built with.
func (b *BLAS) Quality() BuildQuality {
	return b.desc.Quality
}

// Returns true if the BLAS was built with allow update.
func (b *BLAS) AllowsUpdate() bool {
	return b.desc.AllowUpdate
}

// Returns true if the BLAS has been compacted.
func (b *BLAS) IsCompacted() bool {
	return b.compacted
}

// Get the number of primitives (triangles or AABBs).
func (b *BLAS) PrimitiveCount() uint32 {
	return b.desc.PrimitiveCount()
}

// Get the number of BVH nodes.
func (b *BLAS) NodeCount() int {
	return len(b.nodes)
}

// Get the size in bytes of the device result buffer.
func (b *BLAS) Size() uint64 {
	return b.size
}

// Get the object space bounds of the geometry.
func (b *BLAS) Bounds() [2]types.Vec3 {
	return b.bounds
}

// Read geometry from the descriptor buffers into the host copy. The host
// copy is only replaced once the buffers have been read and validated.
func (b *BLAS) loadGeometry() error {
	d := &b.desc
	if d.Type == GeometryAABBs {
		aabbs := make([][2]types.Vec3, d.AABBCount)
		if err := d.AABBBuffer.ReadData(0, 0, int(d.AABBCount)*aabbSize, aabbs); err != nil {
			return err
		}
		for idx, aabb := range aabbs {
			aabbs[idx] = [2]types.Vec3{types.MinVec3(aabb[0], aabb[1]), types.MaxVec3(aabb[0], aabb[1])}
		}
		b.aabbs = aabbs
		return nil
	}

	indices := make([]uint32, d.TriangleCount*3)
	if err := d.IndexBuffer.ReadData(0, 0, len(indices)*indexSize, indices); err != nil {
		return err
	}
	for pos, idx := range indices {
		if idx >= d.VertexCount {
			return fmt.Errorf("%w: index %d at position %d out of range (%d vertices)", ErrInvalidGeometry, idx, pos, d.VertexCount)
		}
	}

	triVerts, err := b.readTriangleVertices(indices)
	if err != nil {
		return err
	}
	b.indices, b.triVerts = indices, triVerts
	return nil
}

// Re-read vertex positions using the existing index list.
func (b *BLAS) loadVertices() error {
	triVerts, err := b.readTriangleVertices(b.indices)
	if err != nil {
		return err
	}
	b.triVerts = triVerts
	return nil
}

// Read the vertex buffer and expand it into per-triangle corner positions.
func (b *BLAS) readTriangleVertices(indices []uint32) ([]types.Vec3, error) {
	d := &b.desc
	if !d.VertexBuffer.Valid() || d.VertexBuffer.Size() < int(d.VertexCount)*vec3Size {
		return nil, fmt.Errorf("%w: vertex buffer no longer holds %d vertices", ErrInvalidGeometry, d.VertexCount)
	}

	vertices := make([]types.Vec3, d.VertexCount)
	if err := d.VertexBuffer.ReadData(0, 0, len(vertices)*vec3Size, vertices); err != nil {
		return nil, err
	}

	triVerts := make([]types.Vec3, len(indices))
	for pos, idx := range indices {
		triVerts[pos] = vertices[idx]
	}
	return triVerts, nil
}

// Get the bounding box of a single primitive.
func (b *BLAS) primBBox(prim uint32) [2]types.Vec3 {
	if b.desc.Type == GeometryAABBs {
		return b.aabbs[prim]
	}

	v0, v1, v2 := b.triVerts[prim*3], b.triVerts[prim*3+1], b.triVerts[prim*3+2]
	return [2]types.Vec3{
		types.MinVec3(v0, types.MinVec3(v1, v2)),
		types.MaxVec3(v0, types.MaxVec3(v1, v2)),
	}
}

// Build the BVH over the loaded geometry.
func (b *BLAS) buildTree() bvh.Stats {
	primCount := b.desc.PrimitiveCount()
	bboxes := make([][2]types.Vec3, primCount)
	for prim := range bboxes {
		bboxes[prim] = b.primBBox(uint32(prim))
	}

	var stats bvh.Stats
	b.nodes, b.primIndices, stats = bvh.BuildIndexed(bboxes, b.desc.Quality.Options())
	b.updateBounds()
	return stats
}

// Refit the BVH bounds to the loaded geometry.
func (b *BLAS) refitTree() {
	bvh.Refit(b.nodes, func(first, count uint32) [2]types.Vec3 {
		bbox := [2]types.Vec3{
			{math32.MaxFloat32, math32.MaxFloat32, math32.MaxFloat32},
			{-math32.MaxFloat32, -math32.MaxFloat32, -math32.MaxFloat32},
		}
		for _, prim := range b.primIndices[first : first+count] {
			primBBox := b.primBBox(prim)
			bbox[0] = types.MinVec3(bbox[0], primBBox[0])
			bbox[1] = types.MaxVec3(bbox[1], primBBox[1])
		}
		return bbox
	})
	b.updateBounds()
}

func (b *BLAS) updateBounds() {
	if len(b.nodes) > 0 {
		b.bounds = b.nodes[0].BBox()
	}
}

func (b *BLAS) geometryBytes() int {
	if b.desc.Type == GeometryAABBs {
		return len(b.aabbs) * aabbSize
	}
	return len(b.triVerts) * vec3Size
}

// Calculate the result buffer size. Uncompacted builds reserve space for the
// worst case node count of a binary tree over the primitives.
func (b *BLAS) resultSize(compacted bool) (size uint64, nodeCapacity int) {
	nodeCapacity = len(b.nodes)
	if !compacted {
		nodeCapacity = 2*int(b.desc.PrimitiveCount()) - 1
	}

	size = uint64(nodeCapacity*nodeSize + len(b.primIndices)*indexSize + b.geometryBytes())
	return alignUp(size, asAlignment), nodeCapacity
}

// Serialize the tree and geometry into buf. The buffer must be large enough
// to hold a layout with the given node capacity.
func (b *BLAS) serialize(buf *device.Buffer, nodeCapacity int) error {
	offset := 0
	if err := buf.WriteData(b.nodes, offset); err != nil {
		return err
	}
	offset += nodeCapacity * nodeSize

	if err := buf.WriteData(b.primIndices, offset); err != nil {
		return err
	}
	offset += len(b.primIndices) * indexSize

	if b.desc.Type == GeometryAABBs {
		return buf.WriteData(b.aabbs, offset)
	}
	return buf.WriteData(b.triVerts, offset)
}

// Allocate the result buffer and serialize into it.
func (b *BLAS) allocateResult(dev device.Device, compacted bool) (*device.Buffer, uint64, error) {
	size, nodeCapacity := b.resultSize(compacted)

	buf := dev.NewBuffer(fmt.Sprintf("%s-result", b.name))
	if err := buf.Allocate(int(size)); err != nil {
		return nil, 0, err
	}
	if err := b.serialize(buf, nodeCapacity); err != nil {
		buf.Release()
		return nil, 0, err
	}
	return buf, size, nil
}

// Allocate and release a scratch buffer sized for building the BVH. It
// returns the scratch size.
func (b *BLAS) reserveScratch(dev device.Device, alignment uint32, fn func() bvh.Stats) (uint64, bvh.Stats, error) {
	// Each primitive needs a bbox and a centroid while building.
	size := alignUp(uint64(b.desc.PrimitiveCount())*(aabbSize+vec3Size), uint64(alignment))

	scratch := dev.NewBuffer(fmt.Sprintf("%s-scratch", b.name))
	if err := scratch.Allocate(int(size)); err != nil {
		return 0, bvh.Stats{}, err
	}
	defer scratch.Release()

	return size, fn(), nil
}

func (b *BLAS) release() {
	b.destroyed.Store(true)
	if b.result != nil {
		b.result.Release()
		b.result = nil
	}
}

func alignUp(v, alignment uint64) uint64 {
	if alignment <= 1 {
		return v
	}
	return (v + alignment - 1) / alignment * alignment
}
