package hardware

import (
	"fmt"
	"image"
	"time"

	"github.com/achilleasa/hybridtrace/accel"
	"github.com/achilleasa/hybridtrace/capability"
	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/scene"
	"github.com/achilleasa/hybridtrace/tracer"
	"github.com/achilleasa/hybridtrace/types"
)

// Shader stages linked into the ray tracing pipeline.
var pipelineStages = []device.StageDesc{
	{Stage: device.StageRayGen, Entry: "pathtrace_raygen"},
	{Stage: device.StageMiss, Entry: "background_miss"},
	{Stage: device.StageMiss, Entry: "shadow_miss"},
	{Stage: device.StageClosestHit, Entry: "surface_closesthit"},
}

// Options for the hardware backend.
type Options struct {
	// Preferred voxel size used when meshing implicit models. Defaults to
	// 0.05; the size is adjusted per model to fit its bounds.
	VoxelSize float32

	// BLAS build quality.
	Quality accel.BuildQuality

	// Compact every BLAS after the scene is built.
	Compact bool
}

// The per-model device geometry uploaded for BLAS builds.
type geometry struct {
	vertices *device.Buffer
	indices  *device.Buffer
	blas     accel.Handle
}

// A path tracing backend that traces rays through hardware acceleration
// structures using a ray tracing pipeline.
type Backend struct {
	tracer.BackendBase

	detector *capability.Detector
	caps     capability.Capabilities
	opts     Options

	mgr *accel.Manager

	// Shader binding table with one aligned record per shader group.
	sbt *device.Buffer

	geometry  []*geometry
	materials []scene.Material
	tlas      accel.Handle

	// Maps scene instance indices to TLAS instance indices; -1 for
	// instances of skipped models.
	instanceMap []int
}

// Create a hardware backend. The backend is unusable until Init succeeds.
func New(dev device.Device, detector *capability.Detector, opts Options) *Backend {
	if !(opts.VoxelSize > 0) {
		opts.VoxelSize = 0.05
	}
	return &Backend{
		BackendBase: tracer.NewBackendBase("hardware backend", dev),
		detector:    detector,
		opts:        opts,
	}
}

// Get backend name.
func (b *Backend) Name() string {
	if b.caps.DeviceName != "" {
		return fmt.Sprintf("RTX hardware path tracer (%s)", b.caps.DeviceName)
	}
	return "RTX hardware path tracer"
}

// Get backend type.
func (b *Backend) Type() tracer.BackendType {
	return tracer.Hardware
}

// Get the acceleration structure manager. It is nil before Init.
func (b *Backend) Manager() *accel.Manager {
	return b.mgr
}

// Link the ray tracing pipeline, allocate the shader binding table and the
// render targets. It fails if the device lacks ray tracing pipelines or the
// pipeline fails to link.
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
	b.caps = b.detector.Capabilities()
	if !b.caps.HasRayTracing {
		return fmt.Errorf("%w: %s has no ray tracing pipeline support", tracer.ErrUnsupported, b.caps.DeviceName)
	}

	start := time.Now()
	pipeline, err := b.Dev.CompilePipeline(device.PipelineDesc{
		Name:              "pathtrace-rt",
		Kind:              device.RayTracingPipeline,
		Stages:            pipelineStages,
		MaxRecursionDepth: b.caps.MaxRecursionDepth,
	})
	if err != nil {
		b.Logger.Errorf("failed to link ray tracing pipeline: %v", err)
		return err
	}

	sbt, err := b.allocateSBT(pipeline)
	if err != nil {
		return err
	}

	if err = b.InitTargets("rtx", width, height); err != nil {
		sbt.Release()
		return err
	}

	b.Pipeline = pipeline
	b.sbt = sbt
	b.mgr = accel.NewManager(b.Dev, b.caps)
	b.SetState(tracer.Initialized)

	b.Logger.Noticef(
		"initialized %dx%d targets on %s (tier %s, max recursion %d) in %d ms",
		width, height, b.caps.DeviceName, b.caps.Tier, b.caps.MaxRecursionDepth, time.Since(start).Nanoseconds()/1e6,
	)
	return nil
}

// Allocate a shader binding table with one record per shader group. Each
// record holds the group handle and is padded to the base alignment.
func (b *Backend) allocateSBT(pipeline *device.Pipeline) (*device.Buffer, error) {
	handleSize := uint64(b.caps.ShaderGroupHandleSize)
	if handleSize == 0 {
		handleSize = 32
	}
	recordSize := alignUp(handleSize, uint64(b.caps.ShaderGroupBaseAlignment))

	records := make([]byte, recordSize*uint64(pipeline.GroupCount()))
	for group := uint64(0); group < uint64(pipeline.GroupCount()); group++ {
		record := records[group*recordSize : group*recordSize+handleSize]
		for i := range record {
			record[i] = byte(group + 1)
		}
	}

	sbt := b.Dev.NewBuffer("rtx-sbt")
	if err := sbt.AllocateAndWriteData(records); err != nil {
		b.Logger.Errorf("failed to allocate shader binding table: %v", err)
		return nil, err
	}
	return sbt, nil
}

// Build the scene. Implicit models are meshed, each distinct model gets a
// BLAS and every (model, transform) pair becomes a TLAS instance.
func (b *Backend) BuildScene(models []*scene.Model, transforms []types.Mat4) error {
	if err := b.CheckReady(); err != nil {
		return err
	}
	if len(models) != len(transforms) {
		return fmt.Errorf("%w: %d models, %d transforms", tracer.ErrSceneMismatch, len(models), len(transforms))
	}

	start := time.Now()

	// Models that appear multiple times share their geometry.
	geomIndex := make(map[*scene.Model]int)
	var unique []*scene.Model
	for index, model := range models {
		if model == nil || (model.SDF == nil && model.Mesh == nil) {
			return fmt.Errorf("%w: model %d", tracer.ErrInvalidModel, index)
		}
		if transforms[index].Det() == 0 {
			return fmt.Errorf("instance %d: %w", index, tracer.ErrInvalidTransform)
		}
		if _, exists := geomIndex[model]; !exists {
			geomIndex[model] = len(unique)
			unique = append(unique, model)
		}
	}

	b.releaseScene()

	// Models without surface geometry are left out of the TLAS.
	var descs []accel.BLASDesc
	for _, model := range unique {
		geom, desc, err := b.uploadModel(model)
		if err != nil {
			b.releaseScene()
			return err
		}
		if geom == nil {
			b.Logger.Warningf("model %q has no surface geometry; skipping it", model.Name)
			delete(geomIndex, model)
			continue
		}
		geomIndex[model] = len(b.geometry)
		b.geometry = append(b.geometry, geom)
		descs = append(descs, desc)
	}

	handles, err := b.mgr.BuildBLASBatch(descs)
	for index, h := range handles {
		b.geometry[index].blas = h
	}
	if err != nil {
		b.releaseScene()
		return err
	}

	if b.opts.Compact {
		for _, geom := range b.geometry {
			compacted, err := b.mgr.CompactBLAS(geom.blas)
			if err != nil {
				b.releaseScene()
				return err
			}
			geom.blas = compacted
		}
	}

	instances := make([]accel.Instance, 0, len(models))
	b.instanceMap = make([]int, len(models))
	b.materials = make([]scene.Material, len(models))
	for index, model := range models {
		b.materials[index] = model.Material
		geom, exists := geomIndex[model]
		if !exists {
			b.instanceMap[index] = -1
			continue
		}
		b.instanceMap[index] = len(instances)
		instances = append(instances, accel.NewInstance(b.geometry[geom].blas, transforms[index], uint32(index)))
	}

	if b.tlas, err = b.mgr.BuildTLAS(instances, "rtx-scene", true); err != nil {
		b.releaseScene()
		return err
	}

	b.ResetAccumulation()
	b.SetState(tracer.SceneBuilt)
	b.AddSceneBuildTime(time.Since(start))

	b.Logger.Noticef("built scene with %d instances of %d models in %d ms", len(instances), len(b.geometry), time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Mesh model if required and upload its geometry. Implicit models are
// meshed at a voxel size fitted to their bounds. A nil geometry is returned
// for models whose mesh is empty.
func (b *Backend) uploadModel(model *scene.Model) (*geometry, accel.BLASDesc, error) {
	voxelSize := b.opts.VoxelSize
	if model.SDF != nil {
		voxelSize = accel.VoxelSizeFor(model.SDF, voxelSize)
	}
	mesh, err := b.mgr.ConvertSDFToMesh(model, voxelSize)
	if err != nil {
		return nil, accel.BLASDesc{}, fmt.Errorf("meshing %q: %w", model.Name, err)
	}
	if mesh.TriangleCount() == 0 || len(mesh.Vertices) == 0 {
		return nil, accel.BLASDesc{}, nil
	}

	geom := &geometry{
		vertices: b.Dev.NewBuffer(model.Name + "-vertices"),
		indices:  b.Dev.NewBuffer(model.Name + "-indices"),
	}
	if err = geom.vertices.AllocateAndWriteData(mesh.Vertices); err == nil {
		err = geom.indices.AllocateAndWriteData(mesh.Indices)
	}
	if err != nil {
		geom.release()
		return nil, accel.BLASDesc{}, fmt.Errorf("uploading %q: %w", model.Name, err)
	}

	return geom, accel.BLASDesc{
		Type:          accel.GeometryTriangles,
		VertexBuffer:  geom.vertices,
		IndexBuffer:   geom.indices,
		VertexCount:   uint32(len(mesh.Vertices)),
		TriangleCount: uint32(mesh.TriangleCount()),
		Quality:       b.opts.Quality,
		DebugName:     model.Name,
	}, nil
}

// Update instance transforms by refitting the TLAS. Accumulation is reset.
func (b *Backend) UpdateScene(transforms []types.Mat4) error {
	if err := b.CheckReady(); err != nil {
		return err
	}
	if b.tlas == 0 {
		return tracer.ErrSceneNotBuilt
	}

	if len(transforms) != len(b.instanceMap) {
		return fmt.Errorf("%w: %d instances, %d transforms", accel.ErrCountMismatch, len(b.instanceMap), len(transforms))
	}
	for index, transform := range transforms {
		if transform.Det() == 0 {
			return fmt.Errorf("instance %d: %w", index, tracer.ErrInvalidTransform)
		}
	}

	// Skipped models have no TLAS instance.
	tlasTransforms := make([]types.Mat4, 0, len(transforms))
	for index, transform := range transforms {
		if b.instanceMap[index] >= 0 {
			tlasTransforms = append(tlasTransforms, transform)
		}
	}

	start := time.Now()
	if err := b.mgr.UpdateTLASTransforms(b.tlas, tlasTransforms); err != nil {
		return err
	}
	b.ResetAccumulation()
	b.AddSceneBuildTime(time.Since(start))
	return nil
}

// Render a frame. The bounce count is clamped to the device recursion limit.
func (b *Backend) Render(cam *scene.Camera) (device.TextureID, error) {
	settings := b.Settings()
	if b.caps.MaxRecursionDepth > 0 && settings.MaxBounces > b.caps.MaxRecursionDepth {
		settings.MaxBounces = b.caps.MaxRecursionDepth
	}

	var sc tracer.Intersector
	if b.mgr != nil {
		if tlas := b.mgr.GetTLAS(b.tlas); tlas != nil {
			sc = &tlasIntersector{tlas: tlas, materials: b.materials}
		}
	}
	return b.RenderFrame(cam, sc, settings)
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

// Get render statistics including acceleration structure memory.
func (b *Backend) Stats() tracer.Stats {
	stats := b.BackendBase.Stats()
	if b.mgr != nil {
		stats.MemoryUsage += b.mgr.Stats().TotalMemory()
	}
	stats.MemoryUsage += uint64(b.sbt.Size())
	for _, geom := range b.geometry {
		stats.MemoryUsage += uint64(geom.vertices.Size() + geom.indices.Size())
	}
	return stats
}

// Get acceleration structure build statistics.
func (b *Backend) BuildStats() accel.BuildStats {
	if b.mgr == nil {
		return accel.BuildStats{}
	}
	return b.mgr.Stats()
}

// Release all backend resources.
func (b *Backend) Close() {
	if b.State() == tracer.Shutdown {
		return
	}
	if b.mgr != nil {
		b.releaseScene()
		b.mgr.Close()
	}
	b.sbt.Release()
	b.BackendBase.Close()
}

func (b *Backend) releaseScene() {
	if b.mgr == nil {
		return
	}
	b.mgr.DestroyTLAS(b.tlas)
	b.tlas = 0
	for _, geom := range b.geometry {
		b.mgr.DestroyBLAS(geom.blas)
		geom.release()
	}
	b.geometry = nil
	b.materials = nil
	b.instanceMap = nil
	if b.State() > tracer.Initialized && b.State() != tracer.Shutdown {
		b.SetState(tracer.Initialized)
	}
}

func (g *geometry) release() {
	g.vertices.Release()
	g.indices.Release()
}

// Adapts a TLAS to the tracer intersector interface.
type tlasIntersector struct {
	tlas      *accel.TLAS
	materials []scene.Material
}

func (ti *tlasIntersector) Intersect(origin, dir types.Vec3, tMax float32) (tracer.SurfaceHit, bool) {
	hit, found := ti.tlas.Intersect(accel.Ray{Origin: origin, Dir: dir, TMin: 1e-4, TMax: tMax})
	if !found {
		return tracer.SurfaceHit{}, false
	}

	var mat scene.Material
	if int(hit.CustomIndex) < len(ti.materials) {
		mat = ti.materials[hit.CustomIndex]
	}
	return tracer.SurfaceHit{
		T:        hit.T,
		Position: origin.Add(dir.Mul(hit.T)),
		Normal:   hit.Normal,
		Material: mat,
	}, true
}

func (ti *tlasIntersector) Occluded(origin, dir types.Vec3, tMax float32) bool {
	return ti.tlas.Occluded(accel.Ray{Origin: origin, Dir: dir, TMin: 1e-4, TMax: tMax})
}

func alignUp(v, alignment uint64) uint64 {
	if alignment == 0 {
		return v
	}
	return (v + alignment - 1) / alignment * alignment
}

var _ tracer.Backend = (*Backend)(nil)
