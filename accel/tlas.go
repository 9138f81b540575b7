package accel

import (
	"fmt"
	"unsafe"

	"github.com/achilleasa/hybridtrace/accel/bvh"
	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/types"
)

var instanceSize = int(unsafe.Sizeof(Instance{}))

// A top level acceleration structure over a set of BLAS instances.
type TLAS struct {
	handle      Handle
	name        string
	allowUpdate bool

	// Device buffers holding the instance records and the top level tree.
	instanceBuf *device.Buffer
	result      *device.Buffer
	size        uint64

	instances []Instance

	// BLAS references resolved when the instance set was last written.
	blas []*BLAS

	invTransforms []types.Mat3x4
	worldBounds   [][2]types.Vec3

	nodes       []bvh.Node
	primIndices []uint32
}

// Get the handle of this TLAS.
func (t *TLAS) Handle() Handle {
	return t.handle
}

// Get the TLAS debug name.
func (t *TLAS) Name() string {
	return t.name
}

// Get the number of instances.
func (t *TLAS) InstanceCount() int {
	return len(t.instances)
}

// Get a copy of the instance records.
func (t *TLAS) Instances() []Instance {
	out := make([]Instance, len(t.instances))
	copy(out, t.instances)
	return out
}

// Returns true if the TLAS was built with allow update.
func (t *TLAS) AllowsUpdate() bool {
	return t.allowUpdate
}

// Get the combined size in bytes of the instance and result buffers.
func (t *TLAS) Size() uint64 {
	return t.size
}

// Get the world space bounds of all instances.
func (t *TLAS) Bounds() [2]types.Vec3 {
	if len(t.nodes) == 0 {
		return [2]types.Vec3{}
	}
	return t.nodes[0].BBox()
}

// Recompute per-instance world bounds and inverse transforms.
func (t *TLAS) updateInstanceBounds() {
	t.invTransforms = make([]types.Mat3x4, len(t.instances))
	t.worldBounds = make([][2]types.Vec3, len(t.instances))
	for idx, inst := range t.instances {
		t.invTransforms[idx] = inst.Transform.Inv()
		t.worldBounds[idx] = inst.Transform.TransformBBox(t.blas[idx].Bounds())
	}
}

func (t *TLAS) buildTree() {
	t.updateInstanceBounds()
	t.nodes, t.primIndices, _ = bvh.BuildIndexed(t.worldBounds, QualityBalanced.Options())
}

func (t *TLAS) refitTree() {
	t.updateInstanceBounds()
	bvh.Refit(t.nodes, func(first, count uint32) [2]types.Vec3 {
		bbox := t.worldBounds[t.primIndices[first]]
		for _, idx := range t.primIndices[first+1 : first+count] {
			bbox[0] = types.MinVec3(bbox[0], t.worldBounds[idx][0])
			bbox[1] = types.MaxVec3(bbox[1], t.worldBounds[idx][1])
		}
		return bbox
	})
}

// (Re)allocate the device buffers and upload the instance records and tree.
// An empty TLAS holds no device memory.
func (t *TLAS) upload(dev device.Device) error {
	t.releaseBuffers()
	if len(t.instances) == 0 {
		return nil
	}

	instanceBuf := dev.NewBuffer(fmt.Sprintf("%s-instances", t.name))
	if err := instanceBuf.AllocateAndWriteData(t.instances); err != nil {
		return err
	}

	resultSize := alignUp(uint64(len(t.nodes)*nodeSize+len(t.primIndices)*indexSize), asAlignment)
	result := dev.NewBuffer(fmt.Sprintf("%s-result", t.name))
	if err := result.Allocate(int(resultSize)); err != nil {
		instanceBuf.Release()
		return err
	}

	err := result.WriteData(t.nodes, 0)
	if err == nil {
		err = result.WriteData(t.primIndices, len(t.nodes)*nodeSize)
	}
	if err != nil {
		instanceBuf.Release()
		result.Release()
		return err
	}

	t.instanceBuf = instanceBuf
	t.result = result
	t.size = uint64(instanceBuf.Size()) + resultSize
	return nil
}

// Rewrite the instance records in place.
func (t *TLAS) writeInstances() error {
	if t.instanceBuf == nil {
		return nil
	}
	if err := t.instanceBuf.WriteData(t.instances, 0); err != nil {
		return err
	}
	return t.result.WriteData(t.nodes, 0)
}

func (t *TLAS) releaseBuffers() {
	if t.instanceBuf != nil {
		t.instanceBuf.Release()
		t.instanceBuf = nil
	}
	if t.result != nil {
		t.result.Release()
		t.result = nil
	}
	t.size = 0
}
