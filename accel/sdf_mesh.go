package accel

import (
	"fmt"
	"time"

	"github.com/achilleasa/hybridtrace/scene"
	"github.com/achilleasa/hybridtrace/types"
	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"
)

// Max number of voxels along each axis of the sampling grid.
const maxVoxelsPerAxis = 512

// Min number of voxels spanning the widest axis of a model.
const minVoxelsPerAxis = 8

// Triangles with a squared edge cross product below this value are dropped.
const degenerateArea2 float32 = 1e-14

// The six tetrahedra that tile a cube share the 0-7 diagonal; each uses two
// consecutive corners of this cycle. Corner bits map to x (1), y (2), z (4).
var tetCycle = [6]uint8{1, 3, 2, 6, 4, 5}

type meshKey struct {
	modelID   uint64
	voxelSize float32
}

// Extract a triangle mesh from the implicit surface of model by sampling its
// SDF on a grid with the given voxel size. The result is deterministic and
// cached per (model, voxelSize) pair; callers must not modify it. Mesh
// models return their own mesh.
func (m *Manager) ConvertSDFToMesh(model *scene.Model, voxelSize float32) (*scene.Mesh, error) {
	if model == nil || (model.SDF == nil && model.Mesh == nil) {
		return nil, ErrNotImplicit
	}
	if model.SDF == nil {
		return model.Mesh, nil
	}
	if !(voxelSize > 0) || math32.IsInf(voxelSize, 1) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVoxelSize, voxelSize)
	}

	m.Lock()
	defer m.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	key := meshKey{modelID: model.ID, voxelSize: voxelSize}
	if mesh, exists := m.meshCache[key]; exists {
		return mesh, nil
	}

	start := time.Now()
	mesh, err := polygonize(model.SDF, voxelSize)
	if err != nil {
		return nil, err
	}
	m.meshCache[key] = mesh
	m.stats.MeshingTime += time.Since(start)

	m.logger.Debugf(
		"meshed %q at voxel size %.3f: %d vertices, %d triangles in %d ms",
		model.Name, voxelSize, len(mesh.Vertices), mesh.TriangleCount(), time.Since(start).Nanoseconds()/1e6,
	)
	return mesh, nil
}

// Pick the voxel size for meshing sdf, starting from preferred. Models too
// small to span minVoxelsPerAxis voxels get a finer size; models too wide for
// the sampling grid get a coarser one.
func VoxelSizeFor(sdf scene.SDF, preferred float32) float32 {
	bbox := sdf.BBox()
	extent := bbox[1].Sub(bbox[0])
	maxExtent := extent.MaxComponent()
	if !(maxExtent > 0) || math32.IsInf(maxExtent, 1) {
		return preferred
	}

	size := preferred
	if fine := maxExtent / minVoxelsPerAxis; !(size <= fine) {
		size = fine
	}
	// Leave room for the padding voxel on either side plus rounding.
	if coarse := maxExtent / (maxVoxelsPerAxis - 4); size < coarse {
		size = coarse
	}
	return size
}

type sampleGrid struct {
	origin    types.Vec3
	voxelSize float32

	// Number of sample points along each axis.
	dims [3]int

	values []float32
}

func (g *sampleGrid) index(x, y, z int) int {
	return x + g.dims[0]*(y+g.dims[1]*z)
}

func (g *sampleGrid) point(index int) types.Vec3 {
	x := index % g.dims[0]
	y := (index / g.dims[0]) % g.dims[1]
	z := index / (g.dims[0] * g.dims[1])
	return types.Vec3{
		g.origin[0] + float32(x)*g.voxelSize,
		g.origin[1] + float32(y)*g.voxelSize,
		g.origin[2] + float32(z)*g.voxelSize,
	}
}

// Sample sdf over its bounding box padded by one voxel. Z slices are
// sampled concurrently.
func sampleSDF(sdf scene.SDF, voxelSize float32) (*sampleGrid, error) {
	bbox := sdf.BBox()
	pad := types.Vec3{voxelSize, voxelSize, voxelSize}
	origin := bbox[0].Sub(pad)
	extent := bbox[1].Add(pad).Sub(origin)

	g := &sampleGrid{origin: origin, voxelSize: voxelSize}
	for axis := 0; axis < 3; axis++ {
		cells := int(math32.Ceil(extent[axis] / voxelSize))
		if cells < 1 {
			cells = 1
		}
		if cells > maxVoxelsPerAxis {
			return nil, fmt.Errorf("%w: %v yields %d voxels along axis %d (max %d)", ErrInvalidVoxelSize, voxelSize, cells, axis, maxVoxelsPerAxis)
		}
		g.dims[axis] = cells + 1
	}
	g.values = make([]float32, g.dims[0]*g.dims[1]*g.dims[2])

	var eg errgroup.Group
	for z := 0; z < g.dims[2]; z++ {
		z := z
		eg.Go(func() error {
			for y := 0; y < g.dims[1]; y++ {
				for x := 0; x < g.dims[0]; x++ {
					index := g.index(x, y, z)
					g.values[index] = sdf.Distance(g.point(index))
				}
			}
			return nil
		})
	}
	return g, eg.Wait()
}

type polygonizer struct {
	grid *sampleGrid
	mesh *scene.Mesh

	// Maps a grid edge (pair of sample indices) to its surface vertex.
	edgeVerts map[uint64]uint32
}

// Extract the zero level set of sdf using marching tetrahedra.
func polygonize(sdf scene.SDF, voxelSize float32) (*scene.Mesh, error) {
	grid, err := sampleSDF(sdf, voxelSize)
	if err != nil {
		return nil, err
	}

	p := &polygonizer{
		grid:      grid,
		mesh:      &scene.Mesh{},
		edgeVerts: make(map[uint64]uint32),
	}

	var corners [8]int
	for z := 0; z < grid.dims[2]-1; z++ {
		for y := 0; y < grid.dims[1]-1; y++ {
			for x := 0; x < grid.dims[0]-1; x++ {
				for c := range corners {
					corners[c] = grid.index(x+c&1, y+(c>>1)&1, z+(c>>2)&1)
				}
				for t := range tetCycle {
					a, b := tetCycle[t], tetCycle[(t+1)%len(tetCycle)]
					p.tetrahedron([4]int{corners[0], corners[7], corners[a], corners[b]})
				}
			}
		}
	}

	return p.mesh, nil
}

func (p *polygonizer) tetrahedron(tet [4]int) {
	var inside, outside []int
	for _, index := range tet {
		if p.grid.values[index] < 0 {
			inside = append(inside, index)
		} else {
			outside = append(outside, index)
		}
	}

	switch len(inside) {
	case 1:
		p.emit(inside, outside,
			p.edgeVertex(inside[0], outside[0]),
			p.edgeVertex(inside[0], outside[1]),
			p.edgeVertex(inside[0], outside[2]),
		)
	case 3:
		p.emit(inside, outside,
			p.edgeVertex(inside[0], outside[0]),
			p.edgeVertex(inside[1], outside[0]),
			p.edgeVertex(inside[2], outside[0]),
		)
	case 2:
		// The crossing edges form a quad; walk it in cyclic order.
		v0 := p.edgeVertex(inside[0], outside[0])
		v1 := p.edgeVertex(inside[0], outside[1])
		v2 := p.edgeVertex(inside[1], outside[1])
		v3 := p.edgeVertex(inside[1], outside[0])
		p.emit(inside, outside, v0, v1, v2)
		p.emit(inside, outside, v0, v2, v3)
	}
}

// Append a triangle oriented so its counter-clockwise normal points from
// the inside samples towards the outside samples.
func (p *polygonizer) emit(inside, outside []int, i0, i1, i2 uint32) {
	if i0 == i1 || i1 == i2 || i0 == i2 {
		return
	}

	verts := p.mesh.Vertices
	normal := verts[i1].Sub(verts[i0]).Cross(verts[i2].Sub(verts[i0]))
	if normal.Dot(normal) < degenerateArea2 {
		return
	}

	dir := centroid(p.grid, outside).Sub(centroid(p.grid, inside))
	if normal.Dot(dir) < 0 {
		i1, i2 = i2, i1
	}
	p.mesh.Indices = append(p.mesh.Indices, i0, i1, i2)
}

// Get (or create) the surface vertex on the edge between two samples.
func (p *polygonizer) edgeVertex(a, b int) uint32 {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	key := uint64(lo)<<32 | uint64(hi)
	if index, exists := p.edgeVerts[key]; exists {
		return index
	}

	va, vb := p.grid.values[lo], p.grid.values[hi]
	t := float32(0.5)
	if denom := va - vb; denom != 0 {
		t = va / denom
	}
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	pa, pb := p.grid.point(lo), p.grid.point(hi)
	index := uint32(len(p.mesh.Vertices))
	p.mesh.Vertices = append(p.mesh.Vertices, pa.Add(pb.Sub(pa).Mul(t)))
	p.edgeVerts[key] = index
	return index
}

func centroid(g *sampleGrid, indices []int) types.Vec3 {
	var sum types.Vec3
	for _, index := range indices {
		sum = sum.Add(g.point(index))
	}
	return sum.Mul(1 / float32(len(indices)))
}
