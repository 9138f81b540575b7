package tracer

import (
	"fmt"
	"image"
	"time"

	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/log"
	"github.com/achilleasa/hybridtrace/scene"
	"golang.org/x/image/draw"
)

// The lifecycle state of a backend.
type State uint8

const (
	Uninitialized State = iota
	Initialized
	SceneBuilt
	Rendering
	Shutdown
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case SceneBuilt:
		return "scene built"
	case Rendering:
		return "rendering"
	case Shutdown:
		return "shutdown"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// BackendBase implements the frame loop, accumulation, settings and
// statistics handling shared by all backends. Backends embed it and provide
// the pipeline and the scene intersector.
type BackendBase struct {
	Logger log.Logger
	Dev    device.Device

	// The pipeline used for dispatching trace and resolve kernels.
	Pipeline *device.Pipeline

	Acc *Accumulator

	state    State
	settings Settings
	envTex   device.TextureID

	stats    Stats
	counters RayCounters

	// Last rendered camera and its version; used to detect camera movement.
	lastCam        *scene.Camera
	lastCamVersion uint64

	// Monotonic frame index used for seeding per-pixel rng streams.
	frameIndex uint64
}

// Create a backend base for the given device.
func NewBackendBase(name string, dev device.Device) BackendBase {
	return BackendBase{
		Logger:   log.New(name),
		Dev:      dev,
		settings: DefaultSettings().normalized(),
	}
}

// Get backend state.
func (b *BackendBase) State() State {
	return b.state
}

// Set backend state.
func (b *BackendBase) SetState(state State) {
	b.state = state
}

// Check that the backend has been initialized and not closed.
func (b *BackendBase) CheckReady() error {
	switch b.state {
	case Uninitialized:
		return ErrNotInitialized
	case Shutdown:
		return ErrClosed
	}
	return nil
}

// Allocate the render targets for a width x height frame.
func (b *BackendBase) InitTargets(name string, width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	acc, err := NewAccumulator(b.Dev, name, width, height)
	if err != nil {
		return err
	}
	b.Acc = acc
	return nil
}

// Zero the accumulation buffer and frame counter.
func (b *BackendBase) ResetAccumulation() {
	if b.Acc != nil {
		b.Acc.Reset()
	}
}

// Resize render targets. It resets accumulation.
func (b *BackendBase) Resize(width, height uint32) error {
	if err := b.CheckReady(); err != nil {
		return err
	}
	if err := b.Acc.Resize(width, height); err != nil {
		return err
	}
	b.Logger.Debugf("resized render targets to %dx%d", width, height)
	return nil
}

// Replace the render settings. It always resets accumulation.
func (b *BackendBase) SetSettings(settings Settings) {
	b.settings = settings.normalized()
	b.ResetAccumulation()
}

// Get the render settings.
func (b *BackendBase) Settings() Settings {
	return b.settings
}

// Set the environment map texture. It resets accumulation.
func (b *BackendBase) SetEnvironmentMap(tex device.TextureID) {
	b.envTex = tex
	b.ResetAccumulation()
}

// Get render statistics.
func (b *BackendBase) Stats() Stats {
	stats := b.stats
	if b.Acc != nil {
		stats.AccumulatedFrames = b.Acc.Frames()
		stats.MemoryUsage += b.Acc.MemoryUsage()
	}
	return stats
}

// Clear render statistics.
func (b *BackendBase) ResetStats() {
	b.stats = Stats{}
}

// Account time spent building or updating the scene.
func (b *BackendBase) AddSceneBuildTime(d time.Duration) {
	b.stats.SceneBuildTime += d
}

// Render a frame of sc as seen from cam using settings and return the
// display texture. Camera movement since the last frame resets
// accumulation.
func (b *BackendBase) RenderFrame(cam *scene.Camera, sc Intersector, settings Settings) (device.TextureID, error) {
	if err := b.CheckReady(); err != nil {
		return 0, err
	}
	if cam == nil {
		return 0, ErrNoCamera
	}

	start := time.Now()
	if b.lastCam != cam || b.lastCamVersion != cam.Version() {
		if b.lastCam != nil {
			b.ResetAccumulation()
		}
		b.lastCam, b.lastCamVersion = cam, cam.Version()
	}

	integrator := &Integrator{
		Settings: settings,
		Scene:    sc,
		Counters: &b.counters,
	}
	if b.envTex != 0 {
		integrator.Environment = b.Dev.Texture(b.envTex)
	}

	b.frameIndex++
	traceDone := ScopedTimer(&b.stats.RayTracingTime)
	err := TraceFrame(b.Dev, b.Pipeline, b.Acc, cam, integrator, b.frameIndex)
	traceDone()
	b.counters.Drain(&b.stats)
	if err != nil {
		return 0, err
	}

	resolveDone := ScopedTimer(&b.stats.ResolveTime)
	err = b.Acc.Resolve(b.Pipeline, settings.Exposure, settings.EnableDenoise)
	resolveDone()
	if err != nil {
		return 0, err
	}

	b.stats.FramesRendered++
	b.stats.FrameTime = time.Since(start)
	if b.state == SceneBuilt {
		b.state = Rendering
	}

	return b.Acc.DisplayTexture(), nil
}

// Copy the display texture into target, scaling it to the target bounds.
func (b *BackendBase) Blit(tex device.TextureID, target *image.RGBA) error {
	if target == nil {
		return ErrNoFramebuffer
	}
	src := b.Dev.Texture(tex)
	if src == nil {
		return device.ErrInvalidTexture
	}

	img := src.Image()
	if img.Bounds().Size() == target.Bounds().Size() {
		draw.Draw(target, target.Bounds(), img, img.Bounds().Min, draw.Src)
		return nil
	}
	draw.NearestNeighbor.Scale(target, target.Bounds(), img, img.Bounds(), draw.Src, nil)
	return nil
}

// Release the render targets and mark the backend as shut down.
func (b *BackendBase) Close() {
	if b.state == Shutdown {
		return
	}
	if b.Acc != nil {
		b.Acc.Close()
		b.Acc = nil
	}
	b.state = Shutdown
}
