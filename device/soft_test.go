package device

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rtPipelineDesc() PipelineDesc {
	return PipelineDesc{
		Name: "test-rt",
		Kind: RayTracingPipeline,
		Stages: []StageDesc{
			{StageRayGen, "raygen"},
			{StageMiss, "miss"},
			{StageClosestHit, "closesthit"},
		},
		MaxRecursionDepth: 4,
	}
}

func computePipelineDesc() PipelineDesc {
	return PipelineDesc{
		Name:   "test-compute",
		Kind:   ComputePipeline,
		Stages: []StageDesc{{StageCompute, "main"}},
	}
}

func TestSoftDeviceInfo(t *testing.T) {
	specs := []struct {
		features FeatureSet
		hasRT    bool
		hasQuery bool
	}{
		{FeaturesFullRT, true, true},
		{FeaturesRT, true, true},
		{FeaturesInlineOnly, false, true},
		{FeaturesComputeOnly, false, false},
	}

	for index, s := range specs {
		dev := NewSoftDevice(SoftOptions{Features: s.features})
		info, err := dev.Info()
		require.NoError(t, err, "spec %d", index)
		assert.Equal(t, s.hasRT, info.HasExtension(ExtRayTracingPipeline), "spec %d", index)
		assert.Equal(t, s.hasQuery, info.HasExtension(ExtRayQuery), "spec %d", index)
		assert.Equal(t, DefaultLimits(), info.Limits, "spec %d", index)
		dev.Close()
	}
}

func TestSoftDeviceLost(t *testing.T) {
	dev := NewSoftDevice(SoftOptions{Lost: true})
	defer dev.Close()

	_, err := dev.Info()
	require.ErrorIs(t, err, ErrDeviceLost)

	_, err = dev.NewTexture("", 4, 4, FormatRGBA8)
	require.ErrorIs(t, err, ErrDeviceLost)

	dev.SetLost(false)
	_, err = dev.Info()
	require.NoError(t, err)
}

func TestParseFeatureSet(t *testing.T) {
	for fs, name := range featureSetNames {
		parsed, err := ParseFeatureSet(name)
		require.NoError(t, err)
		assert.Equal(t, fs, parsed)
	}

	_, err := ParseFeatureSet("turbo")
	require.Error(t, err)
}

func TestTextureLifecycle(t *testing.T) {
	dev := NewSoftDevice(SoftOptions{MemoryBudget: 1024})
	defer dev.Close()

	id, err := dev.NewTexture("", 8, 8, FormatRGBA32F)
	require.NoError(t, err)
	require.NotZero(t, id)

	tex := dev.Texture(id)
	require.NotNil(t, tex)
	assert.NotEmpty(t, tex.Name)
	assert.Len(t, tex.Float, 8*8*4)

	used, _ := dev.MemoryUsage()
	assert.Equal(t, uint64(8*8*16), used)

	// Exceeds remaining budget
	_, err = dev.NewTexture("big", 64, 64, FormatRGBA8)
	require.ErrorIs(t, err, ErrOutOfMemory)

	_, err = dev.NewTexture("empty", 0, 8, FormatRGBA8)
	require.ErrorIs(t, err, ErrInvalidTexture)

	dev.ReleaseTexture(id)
	assert.Nil(t, dev.Texture(id))
	used, _ = dev.MemoryUsage()
	assert.Zero(t, used)

	// Double release is a no-op
	dev.ReleaseTexture(id)
}

func TestTextureImageView(t *testing.T) {
	dev := NewSoftDevice(SoftOptions{})
	defer dev.Close()

	id, err := dev.NewTexture("display", 2, 2, FormatRGBA8)
	require.NoError(t, err)

	tex := dev.Texture(id)
	img := tex.Image()
	require.NotNil(t, img)

	tex.Pix[4] = 255
	r, _, _, _ := img.At(1, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.InDelta(t, 1.0, tex.Texel(1, 0)[0], 1e-6)
}

func TestCompilePipeline(t *testing.T) {
	dev := NewSoftDevice(SoftOptions{Features: FeaturesFullRT})
	defer dev.Close()

	p, err := dev.CompilePipeline(rtPipelineDesc())
	require.NoError(t, err)
	assert.Equal(t, RayTracingPipeline, p.Kind())
	assert.Equal(t, uint32(3), p.GroupCount())
	assert.Equal(t, uint32(4), p.MaxRecursionDepth())

	p, err = dev.CompilePipeline(computePipelineDesc())
	require.NoError(t, err)
	assert.Equal(t, "test-compute", p.Name())
}

func TestCompilePipelineLinkErrors(t *testing.T) {
	dev := NewSoftDevice(SoftOptions{Features: FeaturesFullRT})
	defer dev.Close()

	noMiss := rtPipelineDesc()
	noMiss.Stages = noMiss.Stages[:1]

	deep := rtPipelineDesc()
	deep.MaxRecursionDepth = 1000

	noEntry := computePipelineDesc()
	noEntry.Stages[0].Entry = ""

	mixed := rtPipelineDesc()
	mixed.Stages = append(mixed.Stages, StageDesc{StageCompute, "main"})

	for index, desc := range []PipelineDesc{noMiss, deep, noEntry, mixed} {
		_, err := dev.CompilePipeline(desc)
		if !errors.Is(err, ErrPipelineLink) {
			t.Fatalf("[spec %d] expected to get ErrPipelineLink; got %v", index, err)
		}
	}
}

func TestCompilePipelineUnsupported(t *testing.T) {
	dev := NewSoftDevice(SoftOptions{Features: FeaturesComputeOnly})
	defer dev.Close()

	_, err := dev.CompilePipeline(rtPipelineDesc())
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = dev.CompilePipeline(computePipelineDesc())
	require.NoError(t, err)
}

func TestCompilePipelineFailureInjection(t *testing.T) {
	dev := NewSoftDevice(SoftOptions{
		Features:      FeaturesFullRT,
		FailPipelines: []PipelineKind{RayTracingPipeline},
	})
	defer dev.Close()

	_, err := dev.CompilePipeline(rtPipelineDesc())
	require.ErrorIs(t, err, ErrPipelineLink)

	_, err = dev.CompilePipeline(computePipelineDesc())
	require.NoError(t, err)
}

func TestDispatchCoversGrid(t *testing.T) {
	dev := NewSoftDevice(SoftOptions{Workers: 3})
	defer dev.Close()

	p, err := dev.CompilePipeline(computePipelineDesc())
	require.NoError(t, err)

	const w, h = 17, 11
	hits := make([]int32, w*h)

	// Run twice so the second dispatch uses the rebalanced schedule
	for pass := 0; pass < 2; pass++ {
		err = dev.Dispatch(p, w, h, func(x, y uint32) {
			atomic.AddInt32(&hits[y*w+x], 1)
		})
		require.NoError(t, err)
	}

	for i, n := range hits {
		if n != 2 {
			t.Fatalf("expected texel %d to be visited twice; got %d", i, n)
		}
	}
}

func TestDispatchInvalidPipeline(t *testing.T) {
	dev := NewSoftDevice(SoftOptions{})
	defer dev.Close()
	other := NewSoftDevice(SoftOptions{})
	defer other.Close()

	p, err := other.CompilePipeline(computePipelineDesc())
	require.NoError(t, err)

	require.ErrorIs(t, dev.Dispatch(p, 1, 1, func(_, _ uint32) {}), ErrInvalidPipeline)
	require.ErrorIs(t, dev.Dispatch(nil, 1, 1, func(_, _ uint32) {}), ErrInvalidPipeline)
}

func TestClosedDevice(t *testing.T) {
	dev := NewSoftDevice(SoftOptions{})
	p, err := dev.CompilePipeline(computePipelineDesc())
	require.NoError(t, err)

	_, err = dev.NewTexture("t", 2, 2, FormatRGBA8)
	require.NoError(t, err)

	dev.Close()
	dev.Close()

	used, _ := dev.MemoryUsage()
	assert.Zero(t, used)
	require.ErrorIs(t, dev.Dispatch(p, 1, 1, func(_, _ uint32) {}), ErrDeviceClosed)
}
