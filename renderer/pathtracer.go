package renderer

import (
	"bytes"
	"fmt"
	"image"
	"time"

	"github.com/achilleasa/hybridtrace/accel"
	"github.com/achilleasa/hybridtrace/capability"
	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/log"
	"github.com/achilleasa/hybridtrace/scene"
	"github.com/achilleasa/hybridtrace/tracer"
	"github.com/achilleasa/hybridtrace/tracer/compute"
	"github.com/achilleasa/hybridtrace/tracer/hardware"
	"github.com/achilleasa/hybridtrace/types"
	"github.com/olekukonko/tablewriter"
)

// A path tracer that drives a single backend. The backend is selected
// when Init is invoked.
type PathTracer struct {
	logger   log.Logger
	dev      device.Device
	detector *capability.Detector
	opts     Options

	settings tracer.Settings
	envTex   device.TextureID

	backend tracer.Backend
	width   uint32
	height  uint32
}

// Create a new path tracer. The path tracer is unusable until Init succeeds.
func NewPathTracer(dev device.Device, detector *capability.Detector, opts Options) *PathTracer {
	settings := tracer.DefaultSettings()
	if opts.Settings != nil {
		settings = *opts.Settings
	}
	return &PathTracer{
		logger:   log.New("path tracer"),
		dev:      dev,
		detector: detector,
		opts:     opts,
		settings: settings,
	}
}

// Select and initialize a backend. If no backend was forced, the hardware
// backend is used when the device supports ray tracing pipelines and the
// compute backend otherwise.
func (pt *PathTracer) Init(width, height uint32) error {
	if pt.backend != nil {
		return nil
	}

	if _, err := pt.detector.Initialize(); err != nil {
		return err
	}

	target := pt.opts.Backend
	auto := target == tracer.None
	if auto {
		target = tracer.Compute
		if pt.detector.Capabilities().HasRayTracing {
			target = tracer.Hardware
		}
	}

	backend, err := pt.initBackend(target, width, height)
	if err != nil && auto && target == tracer.Hardware {
		pt.logger.Warningf("ray tracing unavailable (%v), using compute fallback", err)
		backend, err = pt.initBackend(tracer.Compute, width, height)
	}
	if err != nil {
		return err
	}

	pt.backend = backend
	pt.width, pt.height = width, height
	pt.logger.Noticef("using %s", backend.Name())
	return nil
}

func (pt *PathTracer) initBackend(target tracer.BackendType, width, height uint32) (tracer.Backend, error) {
	var backend tracer.Backend
	switch target {
	case tracer.Hardware:
		backend = hardware.New(pt.dev, pt.detector, pt.opts.Hardware)
	case tracer.Compute:
		backend = compute.New(pt.dev, pt.detector, pt.opts.Compute)
	default:
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, target)
	}

	if err := backend.Init(width, height); err != nil {
		backend.Close()
		return nil, err
	}
	backend.SetSettings(pt.settings)
	if pt.envTex != 0 {
		backend.SetEnvironmentMap(pt.envTex)
	}
	return backend, nil
}

// Returns true if a backend has been initialized.
func (pt *PathTracer) Initialized() bool {
	return pt.backend != nil
}

// Get the active backend or nil if the path tracer is not initialized.
func (pt *PathTracer) Backend() tracer.Backend {
	return pt.backend
}

// Get the type of the active backend.
func (pt *PathTracer) BackendType() tracer.BackendType {
	if pt.backend == nil {
		return tracer.None
	}
	return pt.backend.Type()
}

// Get the name of the active backend.
func (pt *PathTracer) BackendName() string {
	if pt.backend == nil {
		return tracer.None.String()
	}
	return pt.backend.Name()
}

// Returns true if the active backend uses hardware ray tracing.
func (pt *PathTracer) UsingHardwareRT() bool {
	return pt.BackendType() == tracer.Hardware
}

// Build the scene from parallel model and transform lists.
func (pt *PathTracer) BuildScene(models []*scene.Model, transforms []types.Mat4) error {
	if pt.backend == nil {
		return ErrNotInitialized
	}
	return pt.backend.BuildScene(models, transforms)
}

// Update instance transforms of the built scene.
func (pt *PathTracer) UpdateScene(transforms []types.Mat4) error {
	if pt.backend == nil {
		return ErrNotInitialized
	}
	return pt.backend.UpdateScene(transforms)
}

// Render a frame and return the display texture.
func (pt *PathTracer) Render(cam *scene.Camera) (device.TextureID, error) {
	if pt.backend == nil {
		return 0, ErrNotInitialized
	}
	if cam == nil {
		return 0, ErrCameraNotDefined
	}
	return pt.backend.Render(cam)
}

// Render a frame into target.
func (pt *PathTracer) RenderToFramebuffer(cam *scene.Camera, target *image.RGBA) error {
	if pt.backend == nil {
		return ErrNotInitialized
	}
	if cam == nil {
		return ErrCameraNotDefined
	}
	return pt.backend.RenderToFramebuffer(cam, target)
}

// Zero the accumulation buffer.
func (pt *PathTracer) ResetAccumulation() {
	if pt.backend != nil {
		pt.backend.ResetAccumulation()
	}
}

// Resize render targets.
func (pt *PathTracer) Resize(width, height uint32) error {
	if pt.backend == nil {
		return ErrNotInitialized
	}
	if err := pt.backend.Resize(width, height); err != nil {
		return err
	}
	pt.width, pt.height = width, height
	return nil
}

// Get the render target dimensions.
func (pt *PathTracer) Size() (uint32, uint32) {
	return pt.width, pt.height
}

// Replace render settings. Samples accumulated with the previous settings
// are discarded.
func (pt *PathTracer) SetSettings(settings tracer.Settings) {
	pt.settings = settings
	if pt.backend != nil {
		pt.backend.SetSettings(settings)
		pt.backend.ResetAccumulation()
	}
}

// Get render settings.
func (pt *PathTracer) Settings() tracer.Settings {
	if pt.backend != nil {
		return pt.backend.Settings()
	}
	return pt.settings
}

// Set the environment map texture.
func (pt *PathTracer) SetEnvironmentMap(tex device.TextureID) {
	pt.envTex = tex
	if pt.backend != nil {
		pt.backend.SetEnvironmentMap(tex)
	}
}

// Get render statistics.
func (pt *PathTracer) Stats() tracer.Stats {
	if pt.backend == nil {
		return tracer.Stats{}
	}
	return pt.backend.Stats()
}

// Reset render statistics.
func (pt *PathTracer) ResetStats() {
	if pt.backend != nil {
		pt.backend.ResetStats()
	}
}

// Get the traced rays per second. Returns 0 if no frame has been rendered.
func (pt *PathTracer) RaysPerSecond() float64 {
	stats := pt.Stats()
	if stats.FramesRendered == 0 {
		return 0
	}
	return stats.RaysPerSecond()
}

// Get the duration of the last rendered frame.
func (pt *PathTracer) FrameTime() time.Duration {
	return pt.Stats().FrameTime
}

// Log the active backend and the device capabilities.
func (pt *PathTracer) LogBackendInfo() {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Backend", "Type", "Hardware RT", "Frame size"})
	table.Append([]string{
		pt.BackendName(),
		pt.BackendType().String(),
		fmt.Sprint(pt.UsingHardwareRT()),
		fmt.Sprintf("%dx%d", pt.width, pt.height),
	})
	table.Render()

	pt.logger.Noticef("backend info\n%s", buf.String())
	if caps, err := pt.detector.Snapshot(); err == nil {
		pt.logger.Infof("device capabilities\n%s", caps.Table())
	}
}

// Log render statistics and, for the hardware backend, acceleration
// structure statistics.
func (pt *PathTracer) LogStats() {
	if pt.backend == nil {
		pt.logger.Warning("no backend initialized")
		return
	}
	pt.logger.Noticef("frame statistics\n%s", pt.Stats().Table(pt.BackendName()))
	if hw, isHardware := pt.backend.(interface{ BuildStats() accel.BuildStats }); isHardware {
		pt.logger.Noticef("acceleration structure statistics\n%s", hw.BuildStats().Table())
	}
}

// Shutdown the path tracer and its backend.
func (pt *PathTracer) Close() {
	if pt.backend != nil {
		pt.backend.Close()
		pt.backend = nil
	}
}

var _ Renderer = (*PathTracer)(nil)
