package scene

import (
	"sync/atomic"

	"github.com/achilleasa/hybridtrace/types"
)

var nextModelID uint64

// Surface properties shared by all backends.
type Material struct {
	Albedo   types.Vec3
	Emissive types.Vec3
}

// A renderable model. A model is either an implicit surface (SDF) or a
// triangle mesh. Models are owned by the caller; renderers only read them.
type Model struct {
	ID       uint64
	Name     string
	Material Material

	SDF  SDF
	Mesh *Mesh
}

// Create a model backed by an implicit surface.
func NewSDFModel(name string, sdf SDF, mat Material) *Model {
	return &Model{
		ID:       atomic.AddUint64(&nextModelID, 1),
		Name:     name,
		Material: mat,
		SDF:      sdf,
	}
}

// Create a model backed by a triangle mesh.
func NewMeshModel(name string, mesh *Mesh, mat Material) *Model {
	return &Model{
		ID:       atomic.AddUint64(&nextModelID, 1),
		Name:     name,
		Material: mat,
		Mesh:     mesh,
	}
}

// Returns true if the model is described by an SDF.
func (m *Model) IsImplicit() bool {
	return m.SDF != nil
}

// Get the model-space bounding box.
func (m *Model) BBox() [2]types.Vec3 {
	if m.SDF != nil {
		return m.SDF.BBox()
	}
	if m.Mesh != nil {
		return m.Mesh.BBox()
	}
	return [2]types.Vec3{}
}
