package tracer

import (
	"image"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/scene"
	"github.com/achilleasa/hybridtrace/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A ground plane at y = 0 that faces up.
type groundPlane struct {
	material scene.Material
}

func (p groundPlane) Intersect(origin, dir types.Vec3, tMax float32) (SurfaceHit, bool) {
	if dir[1] >= 0 || origin[1] <= 0 {
		return SurfaceHit{}, false
	}
	t := -origin[1] / dir[1]
	if t >= tMax {
		return SurfaceHit{}, false
	}
	return SurfaceHit{
		T:        t,
		Position: origin.Add(dir.Mul(t)),
		Normal:   types.Vec3{0, 1, 0},
		Material: p.material,
	}, true
}

func (p groundPlane) Occluded(origin, dir types.Vec3, tMax float32) bool {
	_, hit := p.Intersect(origin, dir, tMax)
	return hit
}

func newTestDevice(t *testing.T) *device.SoftDevice {
	t.Helper()
	dev := device.NewSoftDevice(device.SoftOptions{Name: "tracer test", Workers: 2})
	t.Cleanup(dev.Close)
	return dev
}

func newComputePipeline(t *testing.T, dev device.Device) *device.Pipeline {
	t.Helper()
	pipeline, err := dev.CompilePipeline(device.PipelineDesc{
		Name:   "test",
		Kind:   device.ComputePipeline,
		Stages: []device.StageDesc{{Stage: device.StageCompute, Entry: "main"}},
	})
	require.NoError(t, err)
	return pipeline
}

func TestBackendTypeNames(t *testing.T) {
	type spec struct {
		in     string
		exp    BackendType
		expStr string
	}
	specs := []spec{
		{"rtx", Hardware, "RTX_Hardware"},
		{"Compute_Shader", Compute, "Compute_Shader"},
		{"none", None, "None"},
	}
	for index, s := range specs {
		got, err := ParseBackendType(s.in)
		require.NoError(t, err, "spec %d", index)
		assert.Equal(t, s.exp, got, "spec %d", index)
		assert.Equal(t, s.expStr, got.String(), "spec %d", index)
	}

	_, err := ParseBackendType("vulkan")
	assert.Error(t, err)
}

func TestRaysPerSecond(t *testing.T) {
	var stats Stats
	assert.Zero(t, stats.RaysPerSecond())

	stats = Stats{PrimaryRays: 600, ShadowRays: 300, SecondaryRays: 100, RayTracingTime: 500 * time.Millisecond}
	assert.EqualValues(t, 1000, stats.TotalRays())
	assert.InDelta(t, 2000, stats.RaysPerSecond(), 1e-6)
	assert.Contains(t, stats.Table("test"), "Mrays/sec")
}

func TestScopedTimer(t *testing.T) {
	var acc time.Duration
	func() {
		defer ScopedTimer(&acc)()
		time.Sleep(2 * time.Millisecond)
	}()
	first := acc
	assert.GreaterOrEqual(t, first, 2*time.Millisecond)

	func() {
		defer ScopedTimer(&acc)()
	}()
	assert.GreaterOrEqual(t, acc, first)
}

func TestSettingsNormalization(t *testing.T) {
	s := Settings{LightDir: types.Vec3{0, -2, 0}}.normalized()
	assert.EqualValues(t, 1, s.MaxBounces)
	assert.EqualValues(t, 1, s.SamplesPerPixel)
	assert.Equal(t, DefaultSettings().MaxTraceDistance, s.MaxTraceDistance)
	assert.Equal(t, types.Vec3{0, -1, 0}, s.LightDir)
}

func TestAccumulator(t *testing.T) {
	dev := newTestDevice(t)
	pipeline := newComputePipeline(t, dev)

	acc, err := NewAccumulator(dev, "test", 4, 2)
	require.NoError(t, err)
	defer acc.Close()

	_, err = NewAccumulator(dev, "bad", 0, 2)
	require.ErrorIs(t, err, ErrInvalidSize)

	// Two frames with values 0 and 2 average to 1 which tonemaps to
	// (1/2)^(1/2.2).
	for frame := 0; frame < 2; frame++ {
		for y := uint32(0); y < 2; y++ {
			for x := uint32(0); x < 4; x++ {
				acc.Add(x, y, types.Vec3{float32(frame * 2), 0, 0})
			}
		}
		acc.EndFrame()
	}
	require.EqualValues(t, 2, acc.Frames())
	require.NoError(t, acc.Resolve(pipeline, 1.0, false))

	display := dev.Texture(acc.DisplayTexture())
	require.NotNil(t, display)
	assert.Equal(t, device.FormatRGBA8, display.Format)
	assert.EqualValues(t, 186, display.Pix[0])
	assert.EqualValues(t, 0, display.Pix[1])
	assert.EqualValues(t, 255, display.Pix[3])

	// A uniform image is left untouched by the denoiser.
	require.NoError(t, acc.Resolve(pipeline, 1.0, true))
	assert.EqualValues(t, 186, display.Pix[4*5])

	acc.Reset()
	assert.Zero(t, acc.Frames())
	require.NoError(t, acc.Resolve(pipeline, 1.0, false))
	assert.EqualValues(t, 0, display.Pix[0])

	require.NoError(t, acc.Resize(8, 8))
	w, h := acc.Size()
	assert.EqualValues(t, 8, w)
	assert.EqualValues(t, 8, h)
	assert.EqualValues(t, 8*8*(16+4), acc.MemoryUsage())
}

func TestIntegrator(t *testing.T) {
	settings := DefaultSettings()
	settings.LightDir = types.Vec3{0, -1, 0}
	settings.LightColor = types.Vec3{1, 1, 1}
	settings.LightIntensity = 3.14159265
	settings.BackgroundColor = types.Vec3{0.25, 0.5, 1}
	settings.EnableGI = false
	settings = settings.normalized()

	counters := &RayCounters{}
	in := &Integrator{
		Settings: settings,
		Scene:    groundPlane{material: scene.Material{Albedo: types.Vec3{0.5, 0.5, 0.5}, Emissive: types.Vec3{0.1, 0, 0}}},
		Counters: counters,
	}
	rng := rand.New(rand.NewPCG(1, 2))

	// Rays that miss see the background.
	miss := in.Radiance(types.Vec3{0, 1, 0}, types.Vec3{0, 1, 0}, rng)
	assert.Equal(t, settings.BackgroundColor, miss)

	// Looking straight down: emission + direct light (albedo * 1) + ambient.
	down := in.Radiance(types.Vec3{0, 1, 0}, types.Vec3{0, -1, 0}, rng)
	ambient := types.Vec3{0.5, 0.5, 0.5}.MulVec(settings.BackgroundColor).Mul(0.5)
	exp := types.Vec3{0.1, 0, 0}.Add(types.Vec3{0.5, 0.5, 0.5}).Add(ambient)
	assert.True(t, types.ApproxEqual(exp, down, 1e-4), "expected %v; got %v", exp, down)

	var stats Stats
	counters.Drain(&stats)
	assert.EqualValues(t, 2, stats.PrimaryRays)
	assert.EqualValues(t, 1, stats.ShadowRays)
	assert.Zero(t, stats.SecondaryRays)

	// GI bounces are bounded by MaxBounces.
	in.Settings.EnableGI = true
	in.Settings.MaxBounces = 3
	in.Radiance(types.Vec3{0, 1, 0}, types.Vec3{0, -1, 0}, rng)
	counters.Drain(&stats)
	assert.EqualValues(t, 3, stats.PrimaryRays)
	assert.LessOrEqual(t, stats.SecondaryRays, uint64(2))

	// Without a scene only primary rays are traced.
	in.Scene = nil
	assert.Equal(t, settings.BackgroundColor, in.Radiance(types.Vec3{}, types.Vec3{0, -1, 0}, rng))
}

func TestCosineSampleStaysInHemisphere(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	normals := []types.Vec3{{0, 1, 0}, {1, 0, 0}, types.Vec3{1, 1, 1}.Normalize()}
	for index, n := range normals {
		for i := 0; i < 256; i++ {
			d := cosineSample(n, rng)
			require.GreaterOrEqual(t, d.Dot(n), float32(-1e-5), "normal %d", index)
			require.InDelta(t, 1, d.Len(), 1e-4, "normal %d", index)
		}
	}
}

func TestBackendBaseFrameLoop(t *testing.T) {
	dev := newTestDevice(t)
	base := NewBackendBase("test backend", dev)
	cam := scene.NewCamera(45)
	cam.LookFrom(types.Vec3{0, 1, 3}, types.Vec3{})
	cam.SetupProjection(1)

	_, err := base.RenderFrame(cam, nil, base.Settings())
	require.ErrorIs(t, err, ErrNotInitialized)

	base.Pipeline = newComputePipeline(t, dev)
	require.NoError(t, base.InitTargets("test", 8, 8))
	base.SetState(Initialized)

	_, err = base.RenderFrame(nil, nil, base.Settings())
	require.ErrorIs(t, err, ErrNoCamera)

	// Consecutive frames with an unchanged camera accumulate.
	plane := groundPlane{material: scene.Material{Albedo: types.Vec3{0.8, 0.8, 0.8}}}
	for frame := 1; frame <= 3; frame++ {
		tex, err := base.RenderFrame(cam, plane, base.Settings())
		require.NoError(t, err)
		require.NotZero(t, tex)
		require.EqualValues(t, frame, base.Stats().AccumulatedFrames)
	}
	stats := base.Stats()
	assert.EqualValues(t, 3*8*8, stats.PrimaryRays)
	assert.EqualValues(t, 3, stats.FramesRendered)

	// Moving the camera restarts accumulation.
	cam.Move(scene.Forward, 0.1)
	_, err = base.RenderFrame(cam, plane, base.Settings())
	require.NoError(t, err)
	assert.EqualValues(t, 1, base.Stats().AccumulatedFrames)

	// Settings writes always reset.
	base.SetSettings(base.Settings())
	assert.Zero(t, base.Stats().AccumulatedFrames)

	target := image.NewRGBA(image.Rect(0, 0, 16, 16))
	require.NoError(t, base.Blit(base.Acc.DisplayTexture(), target))
	require.ErrorIs(t, base.Blit(base.Acc.DisplayTexture(), nil), ErrNoFramebuffer)

	base.ResetStats()
	assert.Zero(t, base.Stats().PrimaryRays)

	base.Close()
	base.Close()
	_, err = base.RenderFrame(cam, plane, base.Settings())
	require.ErrorIs(t, err, ErrClosed)
}
