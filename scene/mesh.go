package scene

import (
	"fmt"

	"github.com/achilleasa/hybridtrace/types"
	"github.com/chewxy/math32"
)

// An indexed triangle mesh.
type Mesh struct {
	Vertices []types.Vec3
	Indices  []uint32
}

// Get the number of triangles in the mesh.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// Get the mesh bounding box.
func (m *Mesh) BBox() [2]types.Vec3 {
	bbox := [2]types.Vec3{
		{math32.MaxFloat32, math32.MaxFloat32, math32.MaxFloat32},
		{-math32.MaxFloat32, -math32.MaxFloat32, -math32.MaxFloat32},
	}
	for _, v := range m.Vertices {
		bbox[0] = types.MinVec3(bbox[0], v)
		bbox[1] = types.MaxVec3(bbox[1], v)
	}
	return bbox
}

// Check that the index list describes whole triangles that reference valid
// vertices.
func (m *Mesh) Validate() error {
	if len(m.Indices)%3 != 0 {
		return fmt.Errorf("mesh: index count %d is not a multiple of 3", len(m.Indices))
	}
	for i, idx := range m.Indices {
		if int(idx) >= len(m.Vertices) {
			return fmt.Errorf("mesh: index %d at position %d out of range (%d vertices)", idx, i, len(m.Vertices))
		}
	}
	return nil
}
