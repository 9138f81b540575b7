package renderer

import (
	"image"
	"strings"
	"testing"

	"github.com/achilleasa/hybridtrace/capability"
	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/scene"
	"github.com/achilleasa/hybridtrace/tracer"
	"github.com/achilleasa/hybridtrace/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frameSize = 16

func newDevice(t *testing.T, features device.FeatureSet) *device.SoftDevice {
	t.Helper()
	dev := device.NewSoftDevice(device.SoftOptions{Features: features, Workers: 2})
	t.Cleanup(dev.Close)
	return dev
}

func testCamera() *scene.Camera {
	cam := scene.NewCamera(45)
	cam.SetupProjection(1)
	cam.LookFrom(types.Vec3{0, 0, 4}, types.Vec3{})
	return cam
}

func testSettings() *tracer.Settings {
	settings := tracer.DefaultSettings()
	settings.BackgroundColor = types.Vec3{0, 0, 1}
	settings.MaxBounces = 2
	return &settings
}

func testScene() ([]*scene.Model, []types.Mat4) {
	sphere := scene.NewSDFModel("sphere", scene.Sphere{Radius: 1}, scene.Material{Albedo: types.Vec3{1, 0, 0}})
	return []*scene.Model{sphere}, []types.Mat4{types.Ident4()}
}

func newHybrid(t *testing.T, dev device.Device, cfg Config) *Hybrid {
	t.Helper()
	cfg.Settings = testSettings()
	h := NewHybrid(dev, capability.NewDetector(dev), cfg)
	t.Cleanup(h.Close)
	return h
}

func TestPathTracerBackendSelection(t *testing.T) {
	type spec struct {
		features device.FeatureSet
		force    tracer.BackendType
		exp      tracer.BackendType
	}
	specs := []spec{
		{device.FeaturesFullRT, tracer.None, tracer.Hardware},
		{device.FeaturesRT, tracer.None, tracer.Hardware},
		{device.FeaturesInlineOnly, tracer.None, tracer.Compute},
		{device.FeaturesComputeOnly, tracer.None, tracer.Compute},
		{device.FeaturesFullRT, tracer.Compute, tracer.Compute},
	}

	for index, s := range specs {
		dev := newDevice(t, s.features)
		pt := NewPathTracer(dev, capability.NewDetector(dev), Options{Backend: s.force})
		require.NoError(t, pt.Init(frameSize, frameSize), "spec %d", index)
		assert.Equal(t, s.exp, pt.BackendType(), "spec %d", index)
		assert.Equal(t, s.exp == tracer.Hardware, pt.UsingHardwareRT(), "spec %d", index)
		pt.Close()
		assert.Equal(t, tracer.None.String(), pt.BackendName(), "spec %d", index)
	}
}

func TestPathTracerForcedHardwareWithoutSupport(t *testing.T) {
	dev := newDevice(t, device.FeaturesComputeOnly)
	pt := NewPathTracer(dev, capability.NewDetector(dev), Options{Backend: tracer.Hardware})
	require.ErrorIs(t, pt.Init(frameSize, frameSize), tracer.ErrUnsupported)
	assert.False(t, pt.Initialized())
}

func TestPathTracerBeforeInit(t *testing.T) {
	dev := newDevice(t, device.FeaturesComputeOnly)
	pt := NewPathTracer(dev, capability.NewDetector(dev), Options{})

	_, err := pt.Render(testCamera())
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, pt.BuildScene(testScene()), ErrNotInitialized)
	assert.Zero(t, pt.RaysPerSecond())
	assert.Zero(t, pt.Stats())

	// Settings applied before Init are carried over to the backend.
	pt.SetSettings(*testSettings())
	require.NoError(t, pt.Init(frameSize, frameSize))
	assert.Equal(t, uint32(2), pt.Settings().MaxBounces)
}

func TestPathTracerRender(t *testing.T) {
	dev := newDevice(t, device.FeaturesComputeOnly)
	pt := NewPathTracer(dev, capability.NewDetector(dev), Options{Settings: testSettings()})
	require.NoError(t, pt.Init(frameSize, frameSize))
	require.NoError(t, pt.BuildScene(testScene()))

	cam := testCamera()
	_, err := pt.Render(nil)
	require.ErrorIs(t, err, ErrCameraNotDefined)

	for frame := uint32(1); frame <= 3; frame++ {
		tex, err := pt.Render(cam)
		require.NoError(t, err)
		require.NotZero(t, tex)
		assert.Equal(t, frame, pt.Stats().AccumulatedFrames)
	}
	assert.NotZero(t, pt.Stats().PrimaryRays)
	assert.Greater(t, pt.RaysPerSecond(), 0.0)

	// Writing the same settings twice still resets accumulation.
	pt.SetSettings(pt.Settings())
	assert.Zero(t, pt.Stats().AccumulatedFrames)
	_, err = pt.Render(cam)
	require.NoError(t, err)
	pt.SetSettings(pt.Settings())
	assert.Zero(t, pt.Stats().AccumulatedFrames)

	require.NoError(t, pt.Resize(8, 4))
	w, h := pt.Size()
	assert.Equal(t, [2]uint32{8, 4}, [2]uint32{w, h})

	target := image.NewRGBA(image.Rect(0, 0, 8, 4))
	require.NoError(t, pt.RenderToFramebuffer(cam, target))

	pt.LogBackendInfo()
	pt.LogStats()
}

func TestHybridInitFallback(t *testing.T) {
	dev := newDevice(t, device.FeaturesComputeOnly)

	h := newHybrid(t, dev, Config{PreferRTX: true, AllowFallback: true})
	assert.Equal(t, tracer.None, h.ActiveBackend())
	require.NoError(t, h.Init(frameSize, frameSize))
	assert.Equal(t, tracer.Compute, h.ActiveBackend())
	assert.Equal(t, "Compute_Shader", h.ActiveBackend().String())
	assert.True(t, h.IsBackendAvailable(tracer.Compute))
	assert.False(t, h.IsBackendAvailable(tracer.Hardware))
	assert.False(t, h.UsingHardwareRT())

	h = newHybrid(t, dev, Config{PreferRTX: true, AllowFallback: false})
	require.ErrorIs(t, h.Init(frameSize, frameSize), tracer.ErrUnsupported)
	assert.Equal(t, tracer.None, h.ActiveBackend())
}

func TestHybridInitPreference(t *testing.T) {
	dev := newDevice(t, device.FeaturesFullRT)

	h := newHybrid(t, dev, Config{PreferRTX: true})
	require.NoError(t, h.Init(frameSize, frameSize))
	assert.Equal(t, tracer.Hardware, h.ActiveBackend())
	assert.True(t, h.IsBackendAvailable(tracer.Compute))

	h = newHybrid(t, dev, Config{PreferRTX: false})
	require.NoError(t, h.Init(frameSize, frameSize))
	assert.Equal(t, tracer.Compute, h.ActiveBackend())

	h.Close()
	assert.Equal(t, tracer.None, h.ActiveBackend())
	assert.False(t, h.IsBackendAvailable(tracer.Compute))
}

func TestHybridSwitchBackend(t *testing.T) {
	dev := newDevice(t, device.FeaturesFullRT)
	h := newHybrid(t, dev, Config{PreferRTX: true})
	require.NoError(t, h.Init(frameSize, frameSize))
	require.NoError(t, h.BuildScene(testScene()))

	cam := testCamera()
	_, err := h.Render(cam)
	require.NoError(t, err)
	require.NoError(t, h.UpdateScene([]types.Mat4{types.Translate4(types.Vec3{0.1, 0, 0})}))

	// Switching to the active backend is a no-op.
	require.NoError(t, h.SwitchBackend(tracer.Hardware))
	assert.Equal(t, tracer.Hardware, h.ActiveBackend())

	// The compute backend renders the cached scene right after switching.
	require.NoError(t, h.SwitchBackend(tracer.Compute))
	assert.Equal(t, tracer.Compute, h.ActiveBackend())
	tex, err := h.Render(cam)
	require.NoError(t, err)
	pix := dev.Texture(tex).Pix
	center := (frameSize/2*frameSize + frameSize/2) * 4
	assert.Greater(t, pix[center], pix[center+2], "expected red sphere at frame center")
	assert.EqualValues(t, 1, h.Stats().AccumulatedFrames)

	require.NoError(t, h.SwitchBackend(tracer.Hardware))
	assert.Equal(t, tracer.Hardware, h.ActiveBackend())
}

func TestHybridSwitchToUnavailableBackend(t *testing.T) {
	dev := newDevice(t, device.FeaturesComputeOnly)
	h := newHybrid(t, dev, Config{PreferRTX: true, AllowFallback: true})
	require.ErrorIs(t, h.SwitchBackend(tracer.Hardware), ErrNotInitialized)

	require.NoError(t, h.Init(frameSize, frameSize))
	require.ErrorIs(t, h.SwitchBackend(tracer.Hardware), ErrBackendUnavailable)
	assert.Equal(t, tracer.Compute, h.ActiveBackend())
}

func TestHybridRender(t *testing.T) {
	dev := newDevice(t, device.FeaturesComputeOnly)
	h := newHybrid(t, dev, Config{PreferRTX: true, AllowFallback: true})
	require.NoError(t, h.Init(frameSize, frameSize))
	require.NoError(t, h.BuildScene(testScene()))

	cam := testCamera()
	tex, err := h.Render(cam)
	require.NoError(t, err)
	assert.NotZero(t, tex)
	assert.NotZero(t, h.Stats().PrimaryRays)

	_, err = h.Render(cam)
	require.NoError(t, err)
	assert.EqualValues(t, 2, h.Stats().AccumulatedFrames)

	h.SetSettings(h.Settings())
	assert.Zero(t, h.Stats().AccumulatedFrames)
	_, err = h.Render(cam)
	require.NoError(t, err)
	h.SetSettings(h.Settings())
	assert.Zero(t, h.Stats().AccumulatedFrames)

	require.NoError(t, h.Resize(8, 8))
	target := image.NewRGBA(image.Rect(0, 0, 8, 8))
	require.NoError(t, h.RenderToFramebuffer(cam, target))
	assert.NotZero(t, h.FrameTime())

	h.LogBackendInfo()
	h.LogStats()
}

func TestHybridBenchmark(t *testing.T) {
	dev := newDevice(t, device.FeaturesComputeOnly)
	h := newHybrid(t, dev, Config{PreferRTX: true, AllowFallback: true})
	_, err := h.Benchmark(testCamera(), 2)
	require.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, h.Init(frameSize, frameSize))
	require.NoError(t, h.BuildScene(testScene()))

	_, err = h.Benchmark(testCamera(), 0)
	require.ErrorIs(t, err, ErrInvalidFrameCount)

	res, err := h.Benchmark(testCamera(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Frames)
	assert.Equal(t, 1.0, res.SpeedupFactor)
	assert.Zero(t, res.RTXFrameTime)
	assert.Zero(t, res.RTXRaysPerSecond)
	assert.NotZero(t, res.ComputeFrameTime)
	assert.Zero(t, h.Stats().AccumulatedFrames)

	table := res.Table()
	assert.True(t, strings.Contains(table, "Compute_Shader"))
	assert.True(t, strings.Contains(table, "1.00x"))
}

func TestHybridBenchmarkBothBackends(t *testing.T) {
	dev := newDevice(t, device.FeaturesFullRT)
	h := newHybrid(t, dev, Config{PreferRTX: true})
	require.NoError(t, h.Init(frameSize, frameSize))
	require.NoError(t, h.BuildScene(testScene()))

	res, err := h.Benchmark(testCamera(), 1)
	require.NoError(t, err)
	assert.NotZero(t, res.RTXFrameTime)
	assert.NotZero(t, res.ComputeFrameTime)
	assert.Greater(t, res.SpeedupFactor, 0.0)
	assert.Equal(t, tracer.Hardware, h.ActiveBackend())
}

func TestQualityPresets(t *testing.T) {
	dev := newDevice(t, device.FeaturesComputeOnly)
	h := newHybrid(t, dev, Config{AllowFallback: true})
	require.NoError(t, h.Init(frameSize, frameSize))
	assert.Equal(t, []string{"High", "Low", "Medium", "Ultra"}, h.Presets())

	require.ErrorIs(t, h.ApplyQualityPreset("cinematic"), ErrUnknownPreset)

	require.NoError(t, h.BuildScene(testScene()))
	_, err := h.Render(testCamera())
	require.NoError(t, err)

	require.NoError(t, h.ApplyQualityPreset("ultra"))
	assert.Equal(t, BuiltinPresets()["Ultra"].MaxBounces, h.Settings().MaxBounces)
	assert.Zero(t, h.Stats().AccumulatedFrames)

	custom := tracer.DefaultSettings()
	custom.SamplesPerPixel = 16
	h.RegisterPreset("cinematic", custom)
	h.RegisterPreset("LOW", custom)
	assert.Equal(t, []string{"High", "Low", "Medium", "Ultra", "cinematic"}, h.Presets())

	require.NoError(t, h.ApplyQualityPreset("Cinematic"))
	assert.Equal(t, uint32(16), h.Settings().SamplesPerPixel)
	require.NoError(t, h.ApplyQualityPreset("low"))
	assert.Equal(t, uint32(16), h.Settings().SamplesPerPixel)
}
