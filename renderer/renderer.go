package renderer

import (
	"image"

	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/scene"
	"github.com/achilleasa/hybridtrace/tracer"
	"github.com/achilleasa/hybridtrace/types"
)

// The Renderer interface is implemented by PathTracer and Hybrid. It exposes
// the scene, render and diagnostics surface shared by both.
type Renderer interface {
	// Build the scene from parallel model and transform lists.
	BuildScene(models []*scene.Model, transforms []types.Mat4) error

	// Update instance transforms of the built scene.
	UpdateScene(transforms []types.Mat4) error

	// Render frame and return the display texture.
	Render(cam *scene.Camera) (device.TextureID, error)

	// Render frame into target.
	RenderToFramebuffer(cam *scene.Camera, target *image.RGBA) error

	// Zero the accumulation buffer.
	ResetAccumulation()

	// Resize render targets.
	Resize(width, height uint32) error

	// Replace render settings. It always resets accumulation.
	SetSettings(settings tracer.Settings)

	// Get render settings.
	Settings() tracer.Settings

	// Set the environment map texture.
	SetEnvironmentMap(tex device.TextureID)

	// Get render statistics of the active backend.
	Stats() tracer.Stats

	// Get the name of the active backend.
	BackendName() string

	// Returns true if the active backend uses hardware ray tracing.
	UsingHardwareRT() bool

	// Log statistics of the active backend.
	LogStats()

	// Shutdown renderer and any attached backend.
	Close()
}
