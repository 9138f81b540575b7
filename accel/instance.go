package accel

import "github.com/achilleasa/hybridtrace/types"

// Per instance flags.
type InstanceFlags uint8

const (
	// Disable face culling for this instance.
	InstanceCullDisable InstanceFlags = 1 << iota

	// Treat clockwise triangles as front facing.
	InstanceFlipWinding

	// Treat all geometry as opaque.
	InstanceForceOpaque
)

// Mask that makes an instance visible to all rays.
const MaskAll uint8 = 0xff

// A TLAS instance record. Instance records contain no pointers so they can
// be copied verbatim into a device instance buffer.
type Instance struct {
	// Object to world transform.
	Transform types.Mat3x4

	// A value passed to hit shaders; only the low 24 bits are used.
	CustomIndex uint32

	// The instance is only visible to rays whose mask shares a bit with it.
	Mask uint8

	Flags InstanceFlags

	// The referenced BLAS. Destroying or compacting the BLAS leaves the
	// instance stale until the caller re-points it.
	BLAS Handle
}

// Create an instance that is visible to all rays.
func NewInstance(blas Handle, transform types.Mat4, customIndex uint32) Instance {
	return Instance{
		Transform:   transform.Affine(),
		CustomIndex: customIndex & 0xffffff,
		Mask:        MaskAll,
		BLAS:        blas,
	}
}
