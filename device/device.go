package device

import (
	"bytes"
	"fmt"
	"strings"
)

// Device extensions that drive ray tracing capability detection.
const (
	ExtAccelerationStructure = "acceleration_structure"
	ExtRayTracingPipeline    = "ray_tracing_pipeline"
	ExtRayQuery              = "ray_query"
	ExtRayTracingMotionBlur  = "ray_tracing_motion_blur"
	ExtOpacityMicromap       = "opacity_micromap"
	ExtDisplacementMicromap  = "displacement_micromap"
	ExtInvocationReorder     = "ray_tracing_invocation_reorder"
)

// Device limits relevant to ray tracing.
type Limits struct {
	MaxRecursionDepth uint32
	MaxInstanceCount  uint32
	MaxGeometryCount  uint32

	// Max size in bytes for a single acceleration structure.
	MaxASSize uint64

	// Shader binding table layout requirements.
	ShaderGroupHandleSize    uint32
	ShaderGroupBaseAlignment uint32

	// Alignment for acceleration structure scratch buffers.
	ScratchAlignment uint32
}

// Information reported by a device.
type Info struct {
	Name          string
	Vendor        string
	DriverVersion string
	API           string
	Extensions    []string
	Limits        Limits

	// Total device memory available for allocations.
	MemoryBudget uint64
}

// Check if the device exposes an extension.
func (i Info) HasExtension(ext string) bool {
	for _, e := range i.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Implements Stringer.
func (i Info) String() string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("Name:       %s\nVendor:     %s\nDriver:     %s\nAPI:        %s\n", i.Name, i.Vendor, i.DriverVersion, i.API))
	buf.WriteString(fmt.Sprintf("Memory:     %d MiB\n", i.MemoryBudget>>20))
	buf.WriteString(fmt.Sprintf("Extensions: %s", strings.Join(i.Extensions, ", ")))
	return buf.String()
}

// A Kernel is invoked once for every (x, y) cell of a dispatch grid.
type Kernel func(x, y uint32)

// The Device interface is implemented by all compute devices. It exposes the
// memory, texture, pipeline and dispatch primitives used by the acceleration
// structure manager and the tracer backends.
type Device interface {
	// Query device information. It fails if the device context is lost.
	Info() (Info, error)

	// Create an unallocated buffer.
	NewBuffer(name string) *Buffer

	// Allocate a texture and return its id.
	NewTexture(name string, width, height uint32, format TextureFormat) (TextureID, error)

	// Lookup a texture by id. It returns nil for unknown or released ids.
	Texture(id TextureID) *Texture

	// Release a texture. Releasing an unknown id is a no-op.
	ReleaseTexture(id TextureID)

	// Compile and link a pipeline.
	CompilePipeline(desc PipelineDesc) (*Pipeline, error)

	// Run kernel over a width x height grid using pipeline and block until
	// all invocations complete.
	Dispatch(pipeline *Pipeline, width, height uint32, kernel Kernel) error

	// Get used and total device memory in bytes.
	MemoryUsage() (used, budget uint64)

	// Release all device resources.
	Close()
}
