package accel

import (
	"fmt"
	"strings"

	"github.com/achilleasa/hybridtrace/accel/bvh"
	"github.com/achilleasa/hybridtrace/device"
)

// The type of geometry stored in a BLAS.
type GeometryType uint8

const (
	GeometryTriangles GeometryType = iota
	GeometryAABBs
)

func (g GeometryType) String() string {
	if g == GeometryAABBs {
		return "aabbs"
	}
	return "triangles"
}

// A build quality hint that trades build time for trace performance.
type BuildQuality uint8

const (
	// Median splits with up to 4 primitives per leaf.
	QualityFast BuildQuality = iota

	// SAH splits evaluated on 32 candidate planes per axis.
	QualityBalanced

	// SAH splits evaluated on up to 1024 candidate planes per axis with a
	// single primitive per leaf.
	QualityHighQuality
)

var qualityNames = map[BuildQuality]string{
	QualityFast:        "fast",
	QualityBalanced:    "balanced",
	QualityHighQuality: "high",
}

func (q BuildQuality) String() string {
	if name, exists := qualityNames[q]; exists {
		return name
	}
	return fmt.Sprintf("quality(%d)", uint8(q))
}

// Parse a build quality name (fast, balanced, high).
func ParseBuildQuality(name string) (BuildQuality, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for q, qName := range qualityNames {
		if qName == name {
			return q, nil
		}
	}
	return 0, fmt.Errorf("accel: unknown build quality %q", name)
}

// Get the BVH builder options for a build quality.
func (q BuildQuality) Options() bvh.Options {
	switch q {
	case QualityFast:
		return bvh.Options{MinLeafItems: 4}
	case QualityHighQuality:
		return bvh.Options{
			MinLeafItems: 1,
			MaxLeafItems: 8,
			SplitPlanes:  bvh.DepthScaledPlanes,
			Score:        bvh.SurfaceAreaHeuristic,
		}
	default:
		return bvh.Options{
			MinLeafItems: 2,
			MaxLeafItems: 8,
			SplitPlanes:  bvh.FixedPlanes(32),
			Score:        bvh.SurfaceAreaHeuristic,
		}
	}
}

// Describes the geometry of a bottom level acceleration structure.
//
// Triangle geometry reads packed types.Vec3 positions from VertexBuffer and
// uint32 index triplets from IndexBuffer. AABB geometry reads packed
// [2]types.Vec3 min/max pairs from AABBBuffer. The buffers are owned by the
// caller and must stay allocated while the BLAS may be updated or refit.
type BLASDesc struct {
	Type GeometryType

	VertexBuffer  *device.Buffer
	IndexBuffer   *device.Buffer
	VertexCount   uint32
	TriangleCount uint32

	AABBBuffer *device.Buffer
	AABBCount  uint32

	Quality     BuildQuality
	AllowUpdate bool

	// An optional name for debugging.
	DebugName string
}

// Get the number of primitives described by the descriptor.
func (d *BLASDesc) PrimitiveCount() uint32 {
	if d.Type == GeometryAABBs {
		return d.AABBCount
	}
	return d.TriangleCount
}

func (d *BLASDesc) validate() error {
	switch d.Type {
	case GeometryTriangles:
		if d.VertexCount == 0 || d.TriangleCount == 0 {
			return fmt.Errorf("%w: %d vertices, %d triangles", ErrInvalidGeometry, d.VertexCount, d.TriangleCount)
		}
		if !d.VertexBuffer.Valid() || !d.IndexBuffer.Valid() {
			return fmt.Errorf("%w: vertex and index buffers must be allocated", ErrInvalidGeometry)
		}
		if d.VertexBuffer.Size() < int(d.VertexCount)*vec3Size {
			return fmt.Errorf("%w: vertex buffer too small for %d vertices", ErrInvalidGeometry, d.VertexCount)
		}
		if d.IndexBuffer.Size() < int(d.TriangleCount)*3*indexSize {
			return fmt.Errorf("%w: index buffer too small for %d triangles", ErrInvalidGeometry, d.TriangleCount)
		}
	case GeometryAABBs:
		if d.AABBCount == 0 {
			return fmt.Errorf("%w: no AABBs", ErrInvalidGeometry)
		}
		if !d.AABBBuffer.Valid() {
			return fmt.Errorf("%w: AABB buffer must be allocated", ErrInvalidGeometry)
		}
		if d.AABBBuffer.Size() < int(d.AABBCount)*aabbSize {
			return fmt.Errorf("%w: AABB buffer too small for %d AABBs", ErrInvalidGeometry, d.AABBCount)
		}
	default:
		return fmt.Errorf("%w: unknown geometry type %d", ErrInvalidGeometry, d.Type)
	}
	return nil
}
