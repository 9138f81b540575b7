package renderer

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/achilleasa/hybridtrace/capability"
	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/log"
	"github.com/achilleasa/hybridtrace/scene"
	"github.com/achilleasa/hybridtrace/tracer"
	"github.com/achilleasa/hybridtrace/types"
)

// A renderer that composes a hardware and a compute path tracer and can
// switch between them at runtime. The scene is cached so that a backend
// can be rebuilt when it becomes active.
type Hybrid struct {
	logger   log.Logger
	dev      device.Device
	detector *capability.Detector
	cfg      Config

	settings tracer.Settings
	envTex   device.TextureID
	presets  presetSet

	tracers map[tracer.BackendType]*PathTracer
	active  tracer.BackendType

	// The cached scene and the scene version each backend has built.
	models       []*scene.Model
	transforms   []types.Mat4
	sceneVersion uint64
	builtVersion map[tracer.BackendType]uint64
}

// Create a new hybrid renderer. The renderer is unusable until Init succeeds.
func NewHybrid(dev device.Device, detector *capability.Detector, cfg Config) *Hybrid {
	settings := tracer.DefaultSettings()
	if cfg.Settings != nil {
		settings = *cfg.Settings
	}
	return &Hybrid{
		logger:       log.New("hybrid renderer"),
		dev:          dev,
		detector:     detector,
		cfg:          cfg,
		settings:     settings,
		presets:      newPresetSet(),
		tracers:      make(map[tracer.BackendType]*PathTracer),
		builtVersion: make(map[tracer.BackendType]uint64),
	}
}

// Initialize the preferred backend and, if possible, the other one. A
// failure of the preferred backend is fatal unless fallback is allowed.
func (h *Hybrid) Init(width, height uint32) error {
	if h.active != tracer.None {
		return nil
	}

	preferred, other := tracer.Compute, tracer.Hardware
	if h.cfg.PreferRTX {
		preferred, other = tracer.Hardware, tracer.Compute
	}

	start := time.Now()
	prefErr := h.initTracer(preferred, width, height)
	if prefErr != nil {
		if !h.cfg.AllowFallback {
			h.logger.Errorf("failed to initialize %s backend: %v", preferred, prefErr)
			return fmt.Errorf("%s backend: %w", preferred, prefErr)
		}
		if preferred == tracer.Hardware {
			h.logger.Warningf("ray tracing unavailable, using compute fallback: %v", prefErr)
		} else {
			h.logger.Warningf("%s backend unavailable, falling back to %s: %v", preferred, other, prefErr)
		}
	}

	otherErr := h.initTracer(other, width, height)
	if otherErr != nil {
		h.logger.Infof("%s backend unavailable: %v", other, otherErr)
	}

	switch {
	case prefErr == nil:
		h.active = preferred
	case otherErr == nil:
		h.active = other
	default:
		return errors.Join(ErrNoBackend, prefErr, otherErr)
	}

	h.logger.Noticef("initialized in %d ms; active backend: %s", time.Since(start).Nanoseconds()/1e6, h.active)
	return nil
}

func (h *Hybrid) initTracer(target tracer.BackendType, width, height uint32) error {
	settings := h.settings
	pt := NewPathTracer(h.dev, h.detector, Options{
		Backend:  target,
		Settings: &settings,
		Hardware: h.cfg.Hardware,
		Compute:  h.cfg.Compute,
	})
	if err := pt.Init(width, height); err != nil {
		return err
	}
	if h.envTex != 0 {
		pt.SetEnvironmentMap(h.envTex)
	}
	h.tracers[target] = pt
	return nil
}

// Get the active backend type.
func (h *Hybrid) ActiveBackend() tracer.BackendType {
	return h.active
}

// Returns true if the given backend was successfully initialized.
func (h *Hybrid) IsBackendAvailable(target tracer.BackendType) bool {
	_, available := h.tracers[target]
	return available
}

// Get the path tracer for the active backend or nil.
func (h *Hybrid) activeTracer() *PathTracer {
	return h.tracers[h.active]
}

// Make target the active backend. The cached scene is built on the target
// backend before this method returns. Switching to the active backend is a
// no-op. If the target is not available the active backend is unchanged.
func (h *Hybrid) SwitchBackend(target tracer.BackendType) error {
	if h.active == tracer.None {
		return ErrNotInitialized
	}
	if target == h.active {
		return nil
	}
	pt := h.tracers[target]
	if pt == nil {
		return fmt.Errorf("%w: %s", ErrBackendUnavailable, target)
	}

	if err := h.syncScene(target); err != nil {
		return fmt.Errorf("rebuild scene on %s: %w", target, err)
	}
	pt.ResetAccumulation()

	h.logger.Noticef("switched backend: %s -> %s", h.active, target)
	h.active = target
	return nil
}

// Build the cached scene on target if it is out of date.
func (h *Hybrid) syncScene(target tracer.BackendType) error {
	if h.models == nil || h.builtVersion[target] == h.sceneVersion {
		return nil
	}
	if err := h.tracers[target].BuildScene(h.models, h.transforms); err != nil {
		return err
	}
	h.builtVersion[target] = h.sceneVersion
	return nil
}

// Build the scene on the active backend and cache it for the others.
func (h *Hybrid) BuildScene(models []*scene.Model, transforms []types.Mat4) error {
	pt := h.activeTracer()
	if pt == nil {
		return ErrNotInitialized
	}
	if err := pt.BuildScene(models, transforms); err != nil {
		// The backend may have released its previous scene.
		delete(h.builtVersion, h.active)
		return err
	}

	h.models = append(make([]*scene.Model, 0, len(models)), models...)
	h.transforms = append(make([]types.Mat4, 0, len(transforms)), transforms...)
	h.sceneVersion++
	h.builtVersion[h.active] = h.sceneVersion
	return nil
}

// Update instance transforms on the active backend. Other backends pick up
// the new transforms when they become active.
func (h *Hybrid) UpdateScene(transforms []types.Mat4) error {
	pt := h.activeTracer()
	if pt == nil {
		return ErrNotInitialized
	}
	if err := pt.UpdateScene(transforms); err != nil {
		return err
	}

	h.transforms = append(h.transforms[:0], transforms...)
	h.sceneVersion++
	h.builtVersion[h.active] = h.sceneVersion
	return nil
}

// Render a frame with the active backend.
func (h *Hybrid) Render(cam *scene.Camera) (device.TextureID, error) {
	pt := h.activeTracer()
	if pt == nil {
		return 0, ErrNotInitialized
	}
	return pt.Render(cam)
}

// Render a frame with the active backend into target.
func (h *Hybrid) RenderToFramebuffer(cam *scene.Camera, target *image.RGBA) error {
	pt := h.activeTracer()
	if pt == nil {
		return ErrNotInitialized
	}
	return pt.RenderToFramebuffer(cam, target)
}

// Zero the accumulation buffer of the active backend.
func (h *Hybrid) ResetAccumulation() {
	if pt := h.activeTracer(); pt != nil {
		pt.ResetAccumulation()
	}
}

// Resize the render targets of all backends.
func (h *Hybrid) Resize(width, height uint32) error {
	if h.active == tracer.None {
		return ErrNotInitialized
	}
	for target, pt := range h.tracers {
		if err := pt.Resize(width, height); err != nil {
			return fmt.Errorf("resize %s: %w", target, err)
		}
	}
	return nil
}

// Replace render settings on all backends. Accumulation is reset.
func (h *Hybrid) SetSettings(settings tracer.Settings) {
	h.settings = settings
	for _, pt := range h.tracers {
		pt.SetSettings(settings)
	}
}

// Get render settings.
func (h *Hybrid) Settings() tracer.Settings {
	if pt := h.activeTracer(); pt != nil {
		return pt.Settings()
	}
	return h.settings
}

// Set the environment map on all backends.
func (h *Hybrid) SetEnvironmentMap(tex device.TextureID) {
	h.envTex = tex
	for _, pt := range h.tracers {
		pt.SetEnvironmentMap(tex)
	}
}

// Register a named settings preset. Existing presets with the same name
// (case insensitive) are replaced.
func (h *Hybrid) RegisterPreset(name string, settings tracer.Settings) {
	h.presets.register(name, settings)
}

// Get the sorted list of preset names.
func (h *Hybrid) Presets() []string {
	return h.presets.names()
}

// Apply the settings of a named preset. Accumulation is reset.
func (h *Hybrid) ApplyQualityPreset(name string) error {
	settings, found := h.presets.lookup(name)
	if !found {
		return fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	h.SetSettings(settings)
	h.logger.Infof("applied quality preset %q", name)
	return nil
}

// Get render statistics of the active backend.
func (h *Hybrid) Stats() tracer.Stats {
	if pt := h.activeTracer(); pt != nil {
		return pt.Stats()
	}
	return tracer.Stats{}
}

// Get the traced rays per second of the active backend.
func (h *Hybrid) RaysPerSecond() float64 {
	if pt := h.activeTracer(); pt != nil {
		return pt.RaysPerSecond()
	}
	return 0
}

// Get the duration of the last frame rendered by the active backend.
func (h *Hybrid) FrameTime() time.Duration {
	return h.Stats().FrameTime
}

// Get the name of the active backend.
func (h *Hybrid) BackendName() string {
	if pt := h.activeTracer(); pt != nil {
		return pt.BackendName()
	}
	return tracer.None.String()
}

// Returns true if the active backend uses hardware ray tracing.
func (h *Hybrid) UsingHardwareRT() bool {
	return h.active == tracer.Hardware
}

// Log backend information for the active backend.
func (h *Hybrid) LogBackendInfo() {
	if pt := h.activeTracer(); pt != nil {
		pt.LogBackendInfo()
		return
	}
	h.logger.Warning("no backend initialized")
}

// Log statistics of the active backend.
func (h *Hybrid) LogStats() {
	if pt := h.activeTracer(); pt != nil {
		pt.LogStats()
		return
	}
	h.logger.Warning("no backend initialized")
}

// Shutdown all backends.
func (h *Hybrid) Close() {
	for target, pt := range h.tracers {
		pt.Close()
		delete(h.tracers, target)
		delete(h.builtVersion, target)
	}
	h.active = tracer.None
}

var _ Renderer = (*Hybrid)(nil)
