package accel

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/achilleasa/hybridtrace/accel/bvh"
	"github.com/achilleasa/hybridtrace/capability"
	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/log"
	"github.com/achilleasa/hybridtrace/scene"
	"github.com/achilleasa/hybridtrace/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// The Manager owns all bottom and top level acceleration structures created
// on a device. Callers refer to structures through opaque handles; looking
// up a destroyed handle returns nil.
//
// All operations are synchronous. Failures leave the manager state unchanged
// and return a zero handle or a non-nil error.
type Manager struct {
	logger log.Logger

	sync.Mutex

	dev  device.Device
	caps capability.Capabilities

	blas *slotMap[BLAS]
	tlas *slotMap[TLAS]

	stats     BuildStats
	meshCache map[meshKey]*scene.Mesh

	closed bool
}

// Create a new manager for dev. The capability snapshot supplies the device
// limits and alignment requirements.
func NewManager(dev device.Device, caps capability.Capabilities) *Manager {
	return &Manager{
		logger:    log.New("accel manager"),
		dev:       dev,
		caps:      caps,
		blas:      newSlotMap[BLAS](kindBLAS),
		tlas:      newSlotMap[TLAS](kindTLAS),
		meshCache: make(map[meshKey]*scene.Mesh),
	}
}

// Build a BLAS from a geometry descriptor.
func (m *Manager) BuildBLAS(desc BLASDesc) (Handle, error) {
	m.Lock()
	defer m.Unlock()

	if m.closed {
		return 0, ErrManagerClosed
	}

	p, err := m.prepareBLAS(desc)
	if err != nil {
		m.logger.Warningf("BLAS build failed: %v", err)
		return 0, err
	}

	h, err := m.registerBLAS(p)
	if err != nil {
		m.logger.Warningf("BLAS build failed: %v", err)
		return 0, err
	}
	return h, nil
}

// Build a batch of BLAS. Trees are built concurrently and the returned
// handles follow the descriptor order. A failed element yields a zero handle
// at its slot without aborting the remaining builds; the returned error joins
// all element failures.
func (m *Manager) BuildBLASBatch(descs []BLASDesc) ([]Handle, error) {
	m.Lock()
	defer m.Unlock()

	handles := make([]Handle, len(descs))
	if m.closed {
		return handles, ErrManagerClosed
	}

	prepared := make([]*preparedBLAS, len(descs))
	errs := make([]error, len(descs))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for index := range descs {
		index := index
		g.Go(func() error {
			prepared[index], errs[index] = m.prepareBLAS(descs[index])
			return nil
		})
	}
	_ = g.Wait()

	// Register in order so handles are assigned deterministically.
	for index, p := range prepared {
		if errs[index] != nil {
			continue
		}
		handles[index], errs[index] = m.registerBLAS(p)
	}

	var joined []error
	for index, err := range errs {
		if err != nil {
			joined = append(joined, fmt.Errorf("batch element %d: %w", index, err))
		}
	}
	if len(joined) != 0 {
		m.logger.Warningf("%d of %d batched BLAS builds failed", len(joined), len(descs))
	}
	return handles, errors.Join(joined...)
}

// Rebuild a BLAS from new geometry with the same primitive count. The BLAS
// must have been built with AllowUpdate. On failure the existing structure
// is left untouched.
func (m *Manager) UpdateBLAS(h Handle, desc BLASDesc) error {
	m.Lock()
	defer m.Unlock()

	b, err := m.lookupBLAS(h)
	if err != nil {
		return err
	}
	if !b.desc.AllowUpdate {
		return fmt.Errorf("%w: %s", ErrUpdateNotAllowed, b.name)
	}
	if desc.Type != b.desc.Type || desc.PrimitiveCount() != b.desc.PrimitiveCount() {
		return fmt.Errorf("%w: %s has %d %s; update supplies %d %s", ErrTopologyChanged, b.name, b.desc.PrimitiveCount(), b.desc.Type, desc.PrimitiveCount(), desc.Type)
	}

	start := time.Now()

	desc.AllowUpdate = true
	desc.Quality = b.desc.Quality
	desc.DebugName = b.name
	p, err := m.prepareBLAS(desc)
	if err != nil {
		return err
	}

	result, size, err := p.blas.allocateResult(m.dev, b.compacted)
	if err != nil {
		return err
	}

	b.result.Release()
	m.stats.BLASMemory = m.stats.BLASMemory - b.size + size
	b.desc = p.blas.desc
	b.result, b.size = result, size
	b.nodes, b.primIndices = p.blas.nodes, p.blas.primIndices
	b.indices, b.triVerts, b.aabbs = p.blas.indices, p.blas.triVerts, p.blas.aabbs
	b.bounds = p.blas.bounds

	m.stats.UpdateTime += time.Since(start)
	m.stats.BLASUpdates++
	m.trackScratch(p.scratch)
	m.logger.Debugf("updated %s (%s) in %d ms", b.name, h, time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Refit the bounds of a BLAS to the current contents of its geometry
// buffers. The topology recorded at build time is reused so the primitive
// count must not change. The BLAS must have been built with AllowUpdate.
func (m *Manager) RefitBLAS(h Handle) error {
	m.Lock()
	defer m.Unlock()

	b, err := m.lookupBLAS(h)
	if err != nil {
		return err
	}
	if !b.desc.AllowUpdate {
		return fmt.Errorf("%w: %s", ErrUpdateNotAllowed, b.name)
	}

	start := time.Now()
	if b.desc.Type == GeometryAABBs {
		if err = b.desc.validate(); err != nil {
			return err
		}
		err = b.loadGeometry()
	} else {
		err = b.loadVertices()
	}
	if err != nil {
		return err
	}

	b.refitTree()
	_, nodeCapacity := b.resultSize(b.compacted)
	if err = b.serialize(b.result, nodeCapacity); err != nil {
		return err
	}

	m.stats.UpdateTime += time.Since(start)
	m.stats.BLASUpdates++
	return nil
}

// Copy a BLAS into a buffer sized to its actual contents. The returned
// handle replaces h which becomes invalid; TLAS instances that still refer
// to h are stale and are skipped by traversal until the caller re-points
// them.
func (m *Manager) CompactBLAS(h Handle) (Handle, error) {
	m.Lock()
	defer m.Unlock()

	b, err := m.lookupBLAS(h)
	if err != nil {
		return 0, err
	}
	if b.compacted {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyCompacted, b.name)
	}

	start := time.Now()
	compacted := &BLAS{
		name:        b.name,
		desc:        b.desc,
		compacted:   true,
		nodes:       b.nodes,
		primIndices: b.primIndices,
		indices:     b.indices,
		triVerts:    b.triVerts,
		aabbs:       b.aabbs,
		bounds:      b.bounds,
	}

	// Allocate the new buffer before releasing the old one so a failure
	// keeps the original structure intact.
	if compacted.result, compacted.size, err = compacted.allocateResult(m.dev, true); err != nil {
		return 0, err
	}

	m.blas.remove(h)
	b.release()
	compacted.handle = m.blas.insert(compacted)

	m.stats.BLASMemory = m.stats.BLASMemory - b.size + compacted.size
	m.stats.OriginalSize += b.size
	m.stats.CompactedSize += compacted.size
	m.stats.CompactionTime += time.Since(start)
	m.stats.Compactions++

	m.logger.Debugf("compacted %s from %d to %d bytes (%s -> %s)", b.name, b.size, compacted.size, h, compacted.handle)
	return compacted.handle, nil
}

// Destroy a BLAS and release its device memory. Destroying an invalid or
// already destroyed handle is a no-op.
func (m *Manager) DestroyBLAS(h Handle) {
	m.Lock()
	defer m.Unlock()

	b := m.blas.remove(h)
	if b == nil {
		return
	}
	m.stats.BLASMemory -= b.size
	b.release()
}

// Build a TLAS over a set of instances. Every instance must reference a
// live BLAS. Building with allowUpdate enables UpdateTLAS and
// UpdateTLASTransforms.
func (m *Manager) BuildTLAS(instances []Instance, debugName string, allowUpdate bool) (Handle, error) {
	m.Lock()
	defer m.Unlock()

	if m.closed {
		return 0, ErrManagerClosed
	}
	if debugName == "" {
		debugName = "tlas-" + uuid.NewString()[:8]
	}

	start := time.Now()
	t, err := m.prepareTLAS(instances, debugName, allowUpdate)
	if err != nil {
		m.logger.Warningf("TLAS build failed: %v", err)
		return 0, err
	}

	t.handle = m.tlas.insert(t)
	m.stats.TLASMemory += t.size
	m.stats.TLASBuildTime += time.Since(start)
	m.stats.TLASBuilds++
	m.stats.InstanceCount += uint64(len(instances))

	m.logger.Debugf("built %s (%s) with %d instances in %d ms", debugName, t.handle, len(instances), time.Since(start).Nanoseconds()/1e6)
	return t.handle, nil
}

// Replace the full instance set of a TLAS. The instance count may change.
// The TLAS must have been built with allowUpdate.
func (m *Manager) UpdateTLAS(h Handle, instances []Instance) error {
	m.Lock()
	defer m.Unlock()

	t, err := m.lookupTLAS(h)
	if err != nil {
		return err
	}
	if !t.allowUpdate {
		return fmt.Errorf("%w: %s", ErrUpdateNotAllowed, t.name)
	}

	start := time.Now()
	next, err := m.prepareTLAS(instances, t.name, true)
	if err != nil {
		return err
	}

	prevSize := t.size
	t.releaseBuffers()
	next.handle = t.handle
	*t = *next

	m.stats.TLASMemory = m.stats.TLASMemory - prevSize + t.size
	m.stats.UpdateTime += time.Since(start)
	m.stats.TLASUpdates++
	m.stats.InstanceCount += uint64(len(instances))
	return nil
}

// Update the transforms of all TLAS instances and refit the top level tree.
// Transforms are applied in instance order and their count must equal the
// instance count. Reordering instances since the last build or update is
// not detected.
func (m *Manager) UpdateTLASTransforms(h Handle, transforms []types.Mat4) error {
	m.Lock()
	defer m.Unlock()

	t, err := m.lookupTLAS(h)
	if err != nil {
		return err
	}
	if !t.allowUpdate {
		return fmt.Errorf("%w: %s", ErrUpdateNotAllowed, t.name)
	}
	if len(transforms) != len(t.instances) {
		return fmt.Errorf("%w: got %d transforms for %d instances", ErrCountMismatch, len(transforms), len(t.instances))
	}

	start := time.Now()
	next := *t
	next.instances = make([]Instance, len(t.instances))
	copy(next.instances, t.instances)
	next.nodes = make([]bvh.Node, len(t.nodes))
	copy(next.nodes, t.nodes)
	for index, transform := range transforms {
		next.instances[index].Transform = transform.Affine()
	}
	next.refitTree()
	if err = next.writeInstances(); err != nil {
		// Restore the device copy of the previous instance set.
		_ = t.writeInstances()
		return err
	}
	*t = next

	m.stats.UpdateTime += time.Since(start)
	m.stats.TLASUpdates++
	return nil
}

// Destroy a TLAS and release its device memory. Destroying an invalid or
// already destroyed handle is a no-op.
func (m *Manager) DestroyTLAS(h Handle) {
	m.Lock()
	defer m.Unlock()

	t := m.tlas.remove(h)
	if t == nil {
		return
	}
	m.stats.TLASMemory -= t.size
	t.releaseBuffers()
}

// Lookup a BLAS. It returns nil if h does not refer to a live BLAS.
func (m *Manager) GetBLAS(h Handle) *BLAS {
	m.Lock()
	defer m.Unlock()
	return m.blas.get(h)
}

// Lookup a TLAS. It returns nil if h does not refer to a live TLAS.
func (m *Manager) GetTLAS(h Handle) *TLAS {
	m.Lock()
	defer m.Unlock()
	return m.tlas.get(h)
}

// Get the number of live BLAS.
func (m *Manager) LiveBLASCount() int {
	m.Lock()
	defer m.Unlock()
	return m.blas.len()
}

// Get the number of live TLAS.
func (m *Manager) LiveTLASCount() int {
	m.Lock()
	defer m.Unlock()
	return m.tlas.len()
}

// Get a snapshot of the accumulated build statistics.
func (m *Manager) Stats() BuildStats {
	m.Lock()
	defer m.Unlock()
	return m.stats
}

// Reset accumulated timings and counters. Memory held by live structures
// is still reported.
func (m *Manager) ResetStats() {
	m.Lock()
	defer m.Unlock()
	m.stats = BuildStats{
		BLASMemory: m.stats.BLASMemory,
		TLASMemory: m.stats.TLASMemory,
	}
}

// Get the capability snapshot the manager was created with.
func (m *Manager) Capabilities() capability.Capabilities {
	return m.caps
}

// Destroy all structures and drop cached SDF meshes. The manager rejects
// new builds afterwards.
func (m *Manager) Close() {
	m.Lock()
	defer m.Unlock()

	if m.closed {
		return
	}

	var blasHandles, tlasHandles []Handle
	m.tlas.each(func(h Handle, _ *TLAS) { tlasHandles = append(tlasHandles, h) })
	m.blas.each(func(h Handle, _ *BLAS) { blasHandles = append(blasHandles, h) })
	for _, h := range tlasHandles {
		m.tlas.remove(h).releaseBuffers()
	}
	for _, h := range blasHandles {
		m.blas.remove(h).release()
	}

	m.stats.BLASMemory, m.stats.TLASMemory = 0, 0
	m.meshCache = make(map[meshKey]*scene.Mesh)
	m.closed = true
	m.logger.Noticef("released %d BLAS and %d TLAS", len(blasHandles), len(tlasHandles))
}

// A BLAS whose tree has been built but not yet registered with the manager.
type preparedBLAS struct {
	blas      *BLAS
	scratch   uint64
	treeStats bvh.Stats
	buildTime time.Duration
}

// Validate a descriptor, read its geometry and build the tree. It does not
// mutate manager state and is safe to call concurrently.
func (m *Manager) prepareBLAS(desc BLASDesc) (*preparedBLAS, error) {
	start := time.Now()
	if err := desc.validate(); err != nil {
		return nil, err
	}

	name := desc.DebugName
	if name == "" {
		name = "blas-" + uuid.NewString()[:8]
	}
	b := &BLAS{name: name, desc: desc}
	if err := b.loadGeometry(); err != nil {
		return nil, err
	}

	scratch, treeStats, err := b.reserveScratch(m.dev, m.caps.ScratchAlignment, b.buildTree)
	if err != nil {
		return nil, err
	}

	if size, _ := b.resultSize(false); m.caps.MaxASSize != 0 && size > m.caps.MaxASSize {
		return nil, fmt.Errorf("%w: %s needs %d bytes; device max is %d", ErrLimitExceeded, name, size, m.caps.MaxASSize)
	}

	return &preparedBLAS{
		blas:      b,
		scratch:   scratch,
		treeStats: treeStats,
		buildTime: time.Since(start),
	}, nil
}

// Allocate the result buffer for a prepared BLAS and assign it a handle.
func (m *Manager) registerBLAS(p *preparedBLAS) (Handle, error) {
	b := p.blas
	// Every BLAS holds a single geometry.
	if limit := m.caps.MaxGeometryCount; limit != 0 && uint64(m.blas.len()) >= uint64(limit) {
		return 0, fmt.Errorf("%w: %s exceeds %d live geometries", ErrLimitExceeded, b.name, limit)
	}
	result, size, err := b.allocateResult(m.dev, false)
	if err != nil {
		return 0, err
	}
	b.result, b.size = result, size
	b.handle = m.blas.insert(b)

	m.stats.BLASBuildTime += p.buildTime
	m.stats.BLASBuilds++
	m.stats.BLASMemory += size
	if b.desc.Type == GeometryAABBs {
		m.stats.AABBCount += uint64(b.desc.AABBCount)
	} else {
		m.stats.TriangleCount += uint64(b.desc.TriangleCount)
	}
	m.trackScratch(p.scratch)

	m.logger.Debugf(
		"built %s (%s): %d %s, %d nodes, depth %d, %d bytes in %d ms",
		b.name, b.handle, b.desc.PrimitiveCount(), b.desc.Type, p.treeStats.Nodes,
		p.treeStats.MaxDepth, size, p.buildTime.Nanoseconds()/1e6,
	)
	return b.handle, nil
}

// Build and upload a TLAS that is not yet registered with the manager.
func (m *Manager) prepareTLAS(instances []Instance, name string, allowUpdate bool) (*TLAS, error) {
	if limit := m.caps.MaxInstanceCount; limit != 0 && uint64(len(instances)) > uint64(limit) {
		return nil, fmt.Errorf("%w: %d instances; device max is %d", ErrLimitExceeded, len(instances), limit)
	}

	t := &TLAS{
		name:        name,
		allowUpdate: allowUpdate,
		instances:   make([]Instance, len(instances)),
		blas:        make([]*BLAS, len(instances)),
	}
	copy(t.instances, instances)
	for index, inst := range instances {
		if t.blas[index] = m.blas.get(inst.BLAS); t.blas[index] == nil {
			return nil, fmt.Errorf("%w: instance %d references %s", ErrInvalidHandle, index, inst.BLAS)
		}
	}

	t.buildTree()
	if err := t.upload(m.dev); err != nil {
		return nil, err
	}
	return t, nil
}

func (m *Manager) lookupBLAS(h Handle) (*BLAS, error) {
	if m.closed {
		return nil, ErrManagerClosed
	}
	b := m.blas.get(h)
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	return b, nil
}

func (m *Manager) lookupTLAS(h Handle) (*TLAS, error) {
	if m.closed {
		return nil, ErrManagerClosed
	}
	t := m.tlas.get(h)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	return t, nil
}

func (m *Manager) trackScratch(size uint64) {
	if size > m.stats.PeakScratch {
		m.stats.PeakScratch = size
	}
}
