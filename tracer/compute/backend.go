package compute

import (
	"fmt"
	"image"
	"time"

	"github.com/achilleasa/hybridtrace/capability"
	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/scene"
	"github.com/achilleasa/hybridtrace/tracer"
	"github.com/achilleasa/hybridtrace/types"
)

// Options for the compute backend.
type Options struct {
	// Max sphere tracing steps per ray. Defaults to 256.
	MaxSteps int

	// Distance below which a marched ray counts as a hit. Defaults to 1e-4.
	HitEpsilon float32
}

// A path tracing backend that ray marches implicit surfaces in a compute
// kernel. It needs no acceleration structures and runs on any device.
type Backend struct {
	tracer.BackendBase

	detector *capability.Detector
	opts     Options
	devName  string

	marcher *marcher

	// Mesh BVHs keyed by model; shared by all instances of a model.
	meshes map[*scene.Model]*meshBVH

	// Inverse instance transforms read by the kernel.
	instanceBuf *device.Buffer
}

// Create a compute backend. The backend is unusable until Init succeeds.
func New(dev device.Device, detector *capability.Detector, opts Options) *Backend {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 256
	}
	if !(opts.HitEpsilon > 0) {
		opts.HitEpsilon = 1e-4
	}
	return &Backend{
		BackendBase: tracer.NewBackendBase("compute backend", dev),
		detector:    detector,
		opts:        opts,
		meshes:      make(map[*scene.Model]*meshBVH),
	}
}

// Get backend name.
func (b *Backend) Name() string {
	if b.devName != "" {
		return fmt.Sprintf("compute ray marcher (%s)", b.devName)
	}
	return "compute ray marcher"
}

// Get backend type.
func (b *Backend) Type() tracer.BackendType {
	return tracer.Compute
}

// Link the ray marching kernel and allocate the render targets.
func (b *Backend) Init(width, height uint32) error {
	switch b.State() {
	case tracer.Shutdown:
		return tracer.ErrClosed
	case tracer.Uninitialized:
	default:
		return nil
	}

	if _, err := b.detector.Initialize(); err != nil {
		return err
	}
	b.devName = b.detector.Capabilities().DeviceName

	start := time.Now()
	pipeline, err := b.Dev.CompilePipeline(device.PipelineDesc{
		Name:   "pathtrace-compute",
		Kind:   device.ComputePipeline,
		Stages: []device.StageDesc{{Stage: device.StageCompute, Entry: "raymarch"}},
	})
	if err != nil {
		b.Logger.Errorf("failed to link compute pipeline: %v", err)
		return err
	}

	if err = b.InitTargets("compute", width, height); err != nil {
		return err
	}

	b.Pipeline = pipeline
	b.instanceBuf = b.Dev.NewBuffer("raymarch-instances")
	b.SetState(tracer.Initialized)

	b.Logger.Noticef("initialized %dx%d targets on %s in %d ms", width, height, b.devName, time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Build the scene. Implicit models are ray marched directly; mesh models
// get a software BVH.
func (b *Backend) BuildScene(models []*scene.Model, transforms []types.Mat4) error {
	if err := b.CheckReady(); err != nil {
		return err
	}
	if len(models) != len(transforms) {
		return fmt.Errorf("%w: %d models, %d transforms", tracer.ErrSceneMismatch, len(models), len(transforms))
	}

	start := time.Now()
	meshes := make(map[*scene.Model]*meshBVH)
	instances := make([]instance, len(models))
	for index, model := range models {
		if model == nil || (model.SDF == nil && model.Mesh == nil) {
			return fmt.Errorf("%w: model %d", tracer.ErrInvalidModel, index)
		}

		var mesh *meshBVH
		if model.SDF == nil {
			if mesh = meshes[model]; mesh == nil {
				var err error
				if mesh, err = newMeshBVH(model.Mesh); err != nil {
					return fmt.Errorf("model %q: %w", model.Name, err)
				}
				meshes[model] = mesh
			}
		}

		inst, err := newInstance(model, mesh, transforms[index])
		if err != nil {
			return fmt.Errorf("model %q: %w", model.Name, err)
		}
		instances[index] = inst
	}

	if err := b.uploadInstances(instances); err != nil {
		return err
	}

	b.meshes = meshes
	b.marcher = &marcher{
		instances:  instances,
		maxSteps:   b.opts.MaxSteps,
		hitEpsilon: b.opts.HitEpsilon,
	}
	b.ResetAccumulation()
	b.SetState(tracer.SceneBuilt)
	b.AddSceneBuildTime(time.Since(start))

	b.Logger.Noticef("built scene with %d instances (%d meshes) in %d ms", len(instances), len(meshes), time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Update instance transforms. Accumulation is reset.
func (b *Backend) UpdateScene(transforms []types.Mat4) error {
	if err := b.CheckReady(); err != nil {
		return err
	}
	if b.marcher == nil {
		return tracer.ErrSceneNotBuilt
	}
	if len(transforms) != len(b.marcher.instances) {
		return fmt.Errorf("%w: %d instances, %d transforms", tracer.ErrSceneMismatch, len(b.marcher.instances), len(transforms))
	}
	for index, transform := range transforms {
		if transform.Det() == 0 {
			return fmt.Errorf("instance %d: %w", index, tracer.ErrInvalidTransform)
		}
	}

	start := time.Now()
	instances := make([]instance, len(b.marcher.instances))
	copy(instances, b.marcher.instances)
	for index := range instances {
		instances[index].setTransform(transforms[index])
	}
	if err := b.uploadInstances(instances); err != nil {
		return err
	}

	b.marcher.instances = instances
	b.ResetAccumulation()
	b.AddSceneBuildTime(time.Since(start))
	return nil
}

// Write the inverse instance transforms to the instance buffer.
func (b *Backend) uploadInstances(instances []instance) error {
	if len(instances) == 0 {
		b.instanceBuf.Release()
		return nil
	}

	invTransforms := make([]types.Mat4, len(instances))
	for index := range instances {
		invTransforms[index] = instances[index].inv
	}
	if b.instanceBuf.Size() == len(invTransforms)*64 {
		return b.instanceBuf.WriteData(invTransforms, 0)
	}
	return b.instanceBuf.AllocateAndWriteData(invTransforms)
}

// Render a frame. Rendering before BuildScene renders the background.
func (b *Backend) Render(cam *scene.Camera) (device.TextureID, error) {
	var sc tracer.Intersector
	if b.marcher != nil {
		sc = b.marcher
	}
	return b.RenderFrame(cam, sc, b.Settings())
}

// Render a frame and copy it into target.
func (b *Backend) RenderToFramebuffer(cam *scene.Camera, target *image.RGBA) error {
	if target == nil {
		return tracer.ErrNoFramebuffer
	}
	tex, err := b.Render(cam)
	if err != nil {
		return err
	}
	return b.Blit(tex, target)
}

// Get render statistics including scene memory.
func (b *Backend) Stats() tracer.Stats {
	stats := b.BackendBase.Stats()
	stats.MemoryUsage += uint64(b.instanceBuf.Size())
	for _, mesh := range b.meshes {
		stats.MemoryUsage += mesh.sizeBytes()
	}
	return stats
}

// Release all backend resources.
func (b *Backend) Close() {
	if b.State() == tracer.Shutdown {
		return
	}
	b.instanceBuf.Release()
	b.marcher = nil
	b.meshes = nil
	b.BackendBase.Close()
}

var _ tracer.Backend = (*Backend)(nil)
