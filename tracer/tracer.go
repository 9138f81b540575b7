package tracer

import (
	"fmt"
	"image"

	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/scene"
	"github.com/achilleasa/hybridtrace/types"
)

// The type of a rendering backend.
type BackendType uint8

const (
	// No backend is active.
	None BackendType = iota

	// Hardware ray tracing pipeline over acceleration structures.
	Hardware

	// Compute kernel that ray marches the scene.
	Compute
)

func (t BackendType) String() string {
	switch t {
	case None:
		return "None"
	case Hardware:
		return "RTX_Hardware"
	case Compute:
		return "Compute_Shader"
	}
	return fmt.Sprintf("backend(%d)", uint8(t))
}

// Parse a backend type name. Both the display names and the short names
// "rtx", "hardware" and "compute" are accepted.
func ParseBackendType(name string) (BackendType, error) {
	switch name {
	case "None", "none", "":
		return None, nil
	case "RTX_Hardware", "rtx", "hardware":
		return Hardware, nil
	case "Compute_Shader", "compute":
		return Compute, nil
	}
	return None, fmt.Errorf("tracer: unknown backend type %q", name)
}

// The Backend interface is implemented by all path tracing backends. Calls
// must be sequenced as Init, BuildScene, any number of UpdateScene and
// Render calls and finally Close. Backends are not safe for concurrent use.
type Backend interface {
	// Get backend name.
	Name() string

	// Get backend type.
	Type() BackendType

	// Link the backend pipeline and allocate render targets.
	Init(width, height uint32) error

	// Build the scene from parallel model and transform lists. It replaces
	// any previously built scene and resets accumulation.
	BuildScene(models []*scene.Model, transforms []types.Mat4) error

	// Update the instance transforms of the built scene. The transform
	// order must match the last BuildScene call.
	UpdateScene(transforms []types.Mat4) error

	// Render a frame and return the display texture with the resolved and
	// tonemapped output. Rendering before BuildScene renders the background.
	Render(cam *scene.Camera) (device.TextureID, error)

	// Render a frame and copy it into target, scaling if required.
	RenderToFramebuffer(cam *scene.Camera, target *image.RGBA) error

	// Zero the accumulation buffer and frame counter.
	ResetAccumulation()

	// Resize render targets. It resets accumulation.
	Resize(width, height uint32) error

	// Replace the render settings. It resets accumulation.
	SetSettings(settings Settings)

	// Get the render settings.
	Settings() Settings

	// Set the environment map texture. A zero id disables it.
	SetEnvironmentMap(tex device.TextureID)

	// Get render statistics.
	Stats() Stats

	// Clear render statistics.
	ResetStats()

	// Release all backend resources.
	Close()
}
