package capability

import (
	"strings"
	"testing"

	"github.com/achilleasa/hybridtrace/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeFeatureSets(t *testing.T) {
	specs := []struct {
		features  device.FeatureSet
		expAny    bool
		expRT     bool
		expInline bool
		expTier   Tier
	}{
		{device.FeaturesFullRT, true, true, true, Tier1_1},
		{device.FeaturesRT, true, true, true, Tier1_1},
		{device.FeaturesInlineOnly, true, false, true, TierNone},
		{device.FeaturesComputeOnly, false, false, false, TierNone},
	}

	for index, s := range specs {
		dev := device.NewSoftDevice(device.SoftOptions{Features: s.features})
		det := NewDetector(dev)

		got, err := det.Initialize()
		require.NoError(t, err, "spec %d", index)
		assert.Equal(t, s.expAny, got, "spec %d", index)

		caps := det.Capabilities()
		assert.Equal(t, s.expRT, caps.HasRayTracing, "spec %d", index)
		assert.Equal(t, s.expInline, caps.HasInlineRayTracing, "spec %d", index)
		assert.Equal(t, s.expTier, caps.Tier, "spec %d", index)
		dev.Close()
	}
}

func TestFullFeatureSetLimits(t *testing.T) {
	dev := device.NewSoftDevice(device.SoftOptions{Name: "gpu0", Features: device.FeaturesFullRT})
	defer dev.Close()

	det := NewDetector(dev)
	_, err := det.Initialize()
	require.NoError(t, err)

	caps := det.Capabilities()
	limits := device.DefaultLimits()
	assert.True(t, caps.HasMotionBlur)
	assert.True(t, caps.HasOpacityMicromap)
	assert.True(t, caps.HasDisplacementMicromap)
	assert.True(t, caps.HasShaderReordering)
	assert.Equal(t, limits.MaxRecursionDepth, caps.MaxRecursionDepth)
	assert.Equal(t, limits.MaxInstanceCount, caps.MaxInstanceCount)
	assert.Equal(t, limits.MaxASSize, caps.MaxASSize)
	assert.Equal(t, "gpu0", caps.DeviceName)

	table := caps.Table()
	assert.True(t, strings.Contains(table, "gpu0"))
	assert.True(t, strings.Contains(caps.String(), "tier=1.1"))
}

func TestInitializeIsCached(t *testing.T) {
	dev := device.NewSoftDevice(device.SoftOptions{Features: device.FeaturesFullRT})
	defer dev.Close()

	det := NewDetector(dev)
	got, err := det.Initialize()
	require.NoError(t, err)
	require.True(t, got)

	// Losing the device must not affect the cached result
	dev.SetLost(true)
	got, err = det.Initialize()
	require.NoError(t, err)
	assert.True(t, got)

	// A fresh query does hit the device
	_, err = det.Query()
	require.ErrorIs(t, err, device.ErrDeviceLost)
	assert.True(t, det.Capabilities().HasRayTracing)
}

func TestQueryDoesNotMutateCache(t *testing.T) {
	dev := device.NewSoftDevice(device.SoftOptions{Features: device.FeaturesFullRT})
	defer dev.Close()

	det := NewDetector(dev)
	caps, err := det.Query()
	require.NoError(t, err)
	assert.True(t, caps.HasRayTracing)

	assert.False(t, det.Initialized())
	assert.Equal(t, Capabilities{}, det.Capabilities())
	_, err = det.Snapshot()
	require.ErrorIs(t, err, ErrNotInitialized)

	_, err = det.Initialize()
	require.NoError(t, err)
	snapshot, err := det.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, caps, snapshot)
}

func TestInitializeLostDevice(t *testing.T) {
	dev := device.NewSoftDevice(device.SoftOptions{Lost: true})
	defer dev.Close()

	det := NewDetector(dev)
	got, err := det.Initialize()
	require.ErrorIs(t, err, device.ErrDeviceLost)
	assert.False(t, got)
	assert.False(t, det.Initialized())

	// Recovering allows a later initialization
	dev.SetLost(false)
	_, err = det.Initialize()
	require.NoError(t, err)
	assert.True(t, det.Initialized())

	_, err = NewDetector(nil).Initialize()
	require.ErrorIs(t, err, ErrNoDevice)
}
