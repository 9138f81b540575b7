package device

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/achilleasa/hybridtrace/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// A named set of device extensions.
type FeatureSet uint8

const (
	// Every ray tracing extension including motion blur, micromaps and
	// invocation reordering.
	FeaturesFullRT FeatureSet = iota

	// Ray tracing pipelines and ray queries.
	FeaturesRT

	// Acceleration structures with inline ray queries only.
	FeaturesInlineOnly

	// No ray tracing support; compute only.
	FeaturesComputeOnly
)

var featureSetNames = map[FeatureSet]string{
	FeaturesFullRT:      "full",
	FeaturesRT:          "rt",
	FeaturesInlineOnly:  "inline",
	FeaturesComputeOnly: "compute",
}

func (fs FeatureSet) String() string {
	if name, exists := featureSetNames[fs]; exists {
		return name
	}
	return fmt.Sprintf("features(%d)", uint8(fs))
}

// Parse a feature set name (full, rt, inline, compute).
func ParseFeatureSet(name string) (FeatureSet, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for fs, fsName := range featureSetNames {
		if fsName == name {
			return fs, nil
		}
	}
	return 0, fmt.Errorf("device: unknown feature set %q", name)
}

// Get the list of extensions exposed by a feature set.
func (fs FeatureSet) Extensions() []string {
	switch fs {
	case FeaturesFullRT:
		return []string{
			ExtAccelerationStructure, ExtRayTracingPipeline, ExtRayQuery,
			ExtRayTracingMotionBlur, ExtOpacityMicromap, ExtDisplacementMicromap,
			ExtInvocationReorder,
		}
	case FeaturesRT:
		return []string{ExtAccelerationStructure, ExtRayTracingPipeline, ExtRayQuery}
	case FeaturesInlineOnly:
		return []string{ExtAccelerationStructure, ExtRayQuery}
	}
	return nil
}

// Default limits reported by the software device.
func DefaultLimits() Limits {
	return Limits{
		MaxRecursionDepth:        31,
		MaxInstanceCount:         1 << 24,
		MaxGeometryCount:         1 << 24,
		MaxASSize:                1 << 30,
		ShaderGroupHandleSize:    32,
		ShaderGroupBaseAlignment: 64,
		ScratchAlignment:         128,
	}
}

// Options for the software device.
type SoftOptions struct {
	Name     string
	Features FeatureSet

	// Device memory budget in bytes. Defaults to 1 GiB.
	MemoryBudget uint64

	// Number of dispatch workers. Defaults to GOMAXPROCS.
	Workers int

	// Override the default limits.
	Limits *Limits

	// Simulate a lost device context.
	Lost bool

	// Pipeline kinds that fail to link.
	FailPipelines []PipelineKind
}

// A Device implementation that emulates a GPU on the host CPU. Memory is
// tracked against a budget, pipelines are validated at link time and
// dispatches run on a pool of worker goroutines.
type SoftDevice struct {
	logger log.Logger

	sync.Mutex

	opts   SoftOptions
	limits Limits
	pool   *memoryPool

	// Serializes submissions to the device queue.
	queue *semaphore.Weighted

	textures     map[TextureID]*Texture
	nextTexture  TextureID
	nextPipeline uint64

	lost   bool
	closed bool
}

// Create a new software device.
func NewSoftDevice(opts SoftOptions) *SoftDevice {
	if opts.Name == "" {
		opts.Name = "software device"
	}
	if opts.MemoryBudget == 0 {
		opts.MemoryBudget = 1 << 30
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	limits := DefaultLimits()
	if opts.Limits != nil {
		limits = *opts.Limits
	}

	return &SoftDevice{
		logger:   log.New(fmt.Sprintf("device (%s)", opts.Name)),
		opts:     opts,
		limits:   limits,
		pool:     &memoryPool{budget: opts.MemoryBudget},
		queue:    semaphore.NewWeighted(1),
		textures: make(map[TextureID]*Texture),
		lost:     opts.Lost,
	}
}

// Simulate losing (or recovering) the device context.
func (d *SoftDevice) SetLost(lost bool) {
	d.Lock()
	defer d.Unlock()
	d.lost = lost
}

// Query device information.
func (d *SoftDevice) Info() (Info, error) {
	d.Lock()
	defer d.Unlock()

	if err := d.checkUsable(); err != nil {
		return Info{}, err
	}

	return Info{
		Name:          d.opts.Name,
		Vendor:        "hybridtrace",
		DriverVersion: "1.0.0",
		API:           "soft",
		Extensions:    d.opts.Features.Extensions(),
		Limits:        d.limits,
		MemoryBudget:  d.opts.MemoryBudget,
	}, nil
}

// Create an unallocated buffer.
func (d *SoftDevice) NewBuffer(name string) *Buffer {
	return &Buffer{
		pool: d.pool,
		name: name,
	}
}

// Allocate a texture.
func (d *SoftDevice) NewTexture(name string, width, height uint32, format TextureFormat) (TextureID, error) {
	d.Lock()
	defer d.Unlock()

	if err := d.checkUsable(); err != nil {
		return 0, err
	}

	if width == 0 || height == 0 {
		return 0, fmt.Errorf("%w: invalid dimensions %dx%d", ErrInvalidTexture, width, height)
	}

	if name == "" {
		name = "texture-" + uuid.NewString()
	}

	tex := &Texture{
		Name:   name,
		Width:  width,
		Height: height,
		Format: format,
	}
	if err := d.pool.reserve(tex.SizeBytes()); err != nil {
		return 0, fmt.Errorf("device: could not allocate texture %s: %w", name, err)
	}

	texels := int(width) * int(height) * 4
	if format == FormatRGBA32F {
		tex.Float = make([]float32, texels)
	} else {
		tex.Pix = make([]uint8, texels)
	}

	d.nextTexture++
	tex.ID = d.nextTexture
	d.textures[tex.ID] = tex

	d.logger.Debugf("allocated %s texture %q (%dx%d, id %d)", format, name, width, height, tex.ID)
	return tex.ID, nil
}

// Lookup a texture by id.
func (d *SoftDevice) Texture(id TextureID) *Texture {
	d.Lock()
	defer d.Unlock()
	return d.textures[id]
}

// Release a texture.
func (d *SoftDevice) ReleaseTexture(id TextureID) {
	d.Lock()
	defer d.Unlock()

	tex, exists := d.textures[id]
	if !exists {
		return
	}
	d.pool.release(tex.SizeBytes())
	delete(d.textures, id)
}

// Compile and link a pipeline.
func (d *SoftDevice) CompilePipeline(desc PipelineDesc) (*Pipeline, error) {
	d.Lock()
	defer d.Unlock()

	if err := d.checkUsable(); err != nil {
		return nil, err
	}

	if desc.Kind == RayTracingPipeline && !d.hasExtension(ExtRayTracingPipeline) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ExtRayTracingPipeline)
	}

	for _, kind := range d.opts.FailPipelines {
		if kind == desc.Kind {
			return nil, fmt.Errorf("%w: %s: %s pipelines are disabled on this device", ErrPipelineLink, desc.Name, kind)
		}
	}

	if err := desc.validate(d.limits); err != nil {
		return nil, err
	}

	var groupCount uint32
	for _, s := range desc.Stages {
		// Hit stages are grouped into a single hit group record.
		if s.Stage == StageAnyHit || s.Stage == StageIntersection {
			continue
		}
		groupCount++
	}

	d.nextPipeline++
	d.logger.Debugf("linked %s pipeline %q with %d stages", desc.Kind, desc.Name, len(desc.Stages))
	return &Pipeline{
		id:         d.nextPipeline,
		device:     d,
		desc:       desc,
		groupCount: groupCount,
		scheduler:  &blockScheduler{},
	}, nil
}

// Run kernel over a width x height grid. Rows are split into blocks by the
// pipeline's block scheduler and each block is processed by a separate
// worker. The call blocks until all workers complete.
func (d *SoftDevice) Dispatch(pipeline *Pipeline, width, height uint32, kernel Kernel) error {
	if pipeline == nil || pipeline.device != Device(d) {
		return ErrInvalidPipeline
	}

	d.Lock()
	err := d.checkUsable()
	d.Unlock()
	if err != nil {
		return err
	}

	if width == 0 || height == 0 {
		return nil
	}

	if err = d.queue.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer d.queue.Release(1)

	blocks := pipeline.scheduler.Schedule(d.opts.Workers, height)
	elapsed := make([]time.Duration, len(blocks))

	var g errgroup.Group
	var blockY uint32
	for worker, blockH := range blocks {
		worker, y0, y1 := worker, blockY, blockY+blockH
		blockY += blockH

		g.Go(func() error {
			start := time.Now()
			for y := y0; y < y1; y++ {
				for x := uint32(0); x < width; x++ {
					kernel(x, y)
				}
			}
			elapsed[worker] = time.Since(start)
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return err
	}

	for worker, t := range elapsed {
		pipeline.scheduler.Record(worker, t)
	}
	return nil
}

// Get used and total device memory in bytes.
func (d *SoftDevice) MemoryUsage() (used, budget uint64) {
	return d.pool.usage()
}

// Release all device resources. Buffers that are still allocated keep their
// host storage but are no longer accounted for.
func (d *SoftDevice) Close() {
	d.Lock()
	defer d.Unlock()

	if d.closed {
		return
	}

	for id, tex := range d.textures {
		d.pool.release(tex.SizeBytes())
		delete(d.textures, id)
	}
	d.closed = true
}

func (d *SoftDevice) checkUsable() error {
	if d.closed {
		return ErrDeviceClosed
	}
	if d.lost {
		return ErrDeviceLost
	}
	return nil
}

func (d *SoftDevice) hasExtension(ext string) bool {
	for _, e := range d.opts.Features.Extensions() {
		if e == ext {
			return true
		}
	}
	return false
}
