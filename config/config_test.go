package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/achilleasa/hybridtrace/capability"
	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/log"
	"github.com/achilleasa/hybridtrace/renderer"
	"github.com/achilleasa/hybridtrace/tracer"
	"github.com/achilleasa/hybridtrace/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, log.Notice, cfg.Level())

	opts, err := cfg.SoftOptions()
	require.NoError(t, err)
	assert.Equal(t, device.FeaturesFullRT, opts.Features)

	rc := cfg.RendererConfig()
	assert.True(t, rc.PreferRTX)
	assert.True(t, rc.AllowFallback)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default().Hybrid, cfg.Hybrid)
}

func TestLoad(t *testing.T) {
	doc := `
log_level: debug
hybrid:
  prefer_rtx: false
  width: 320
  height: 200
  preset: film
device:
  name: test
  memory_budget_mb: 64
  workers: 3
  features: compute
  fail_pipelines: [rt]
presets:
  film:
    samples_per_pixel: 8
    background: [0, 0, 1]
  Low:
    max_bounces: 2
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, log.Debug, cfg.Level())
	assert.False(t, cfg.Hybrid.PreferRTX)
	assert.True(t, cfg.Hybrid.AllowFallback)
	assert.Equal(t, uint32(320), cfg.Hybrid.Width)
	assert.Equal(t, uint32(200), cfg.Hybrid.Height)

	opts, err := cfg.SoftOptions()
	require.NoError(t, err)
	assert.Equal(t, "test", opts.Name)
	assert.Equal(t, uint64(64<<20), opts.MemoryBudget)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, device.FeaturesComputeOnly, opts.Features)
	assert.Equal(t, []device.PipelineKind{device.RayTracingPipeline}, opts.FailPipelines)

	// Presets keep unspecified fields from their base settings.
	film := cfg.Presets["film"]
	assert.Equal(t, uint32(8), film.SamplesPerPixel)
	assert.Equal(t, types.Vec3{0, 0, 1}, film.BackgroundColor)
	assert.Equal(t, tracer.DefaultSettings().MaxBounces, film.MaxBounces)

	low := cfg.Presets["Low"]
	assert.Equal(t, uint32(2), low.MaxBounces)
	assert.False(t, low.EnableGI)
}

func TestParseErrors(t *testing.T) {
	specs := []string{
		"hybrid: {width: 0}",
		"log_level: loud",
		"device: {features: quantum}",
		"device: {fail_pipelines: [graphics]}",
		"unknown_key: 1",
		"presets: {x: {max_bounces: many}}",
	}
	for index, doc := range specs {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, "spec %d", index)
	}

	_, err := Parse([]byte("hybrid: {height: 0}"))
	assert.ErrorIs(t, err, ErrInvalidFrameSize)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyPresets(t *testing.T) {
	cfg, err := Parse([]byte("hybrid: {preset: film}\npresets: {film: {samples_per_pixel: 8}}"))
	require.NoError(t, err)

	dev := device.NewSoftDevice(device.SoftOptions{Features: device.FeaturesComputeOnly, Workers: 1})
	defer dev.Close()
	h := renderer.NewHybrid(dev, capability.NewDetector(dev), cfg.RendererConfig())
	require.NoError(t, cfg.ApplyPresets(h))
	assert.Contains(t, h.Presets(), "film")
	assert.Equal(t, uint32(8), h.Settings().SamplesPerPixel)

	cfg.Hybrid.Preset = "nope"
	require.ErrorIs(t, cfg.ApplyPresets(h), renderer.ErrUnknownPreset)
}
