package accel

import (
	"testing"

	"github.com/achilleasa/hybridtrace/accel/bvh"
	"github.com/achilleasa/hybridtrace/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntersectAABB(t *testing.T) {
	box := [2]types.Vec3{{-1, -1, -1}, {1, 1, 1}}

	specs := []struct {
		origin    types.Vec3
		dir       types.Vec3
		expHit    bool
		expT      float32
		expNormal types.Vec3
		expFront  bool
	}{
		{types.Vec3{0, 0, 5}, types.Vec3{0, 0, -1}, true, 4, types.Vec3{0, 0, 1}, true},
		{types.Vec3{-5, 0, 0}, types.Vec3{1, 0, 0}, true, 4, types.Vec3{-1, 0, 0}, true},
		// Rays starting inside the box hit the exit face.
		{types.Vec3{0, 0, 0}, types.Vec3{0, 1, 0}, true, 1, types.Vec3{0, -1, 0}, false},
		{types.Vec3{0, 5, 5}, types.Vec3{0, 0, -1}, false, 0, types.Vec3{}, false},
		{types.Vec3{0, 0, 5}, types.Vec3{0, 0, 1}, false, 0, types.Vec3{}, false},
	}

	for index, s := range specs {
		ray := objectRay{origin: s.origin, dir: s.dir}
		hit, ok := intersectAABB(box, ray, s.dir.Recip(), 0, 100)
		require.Equal(t, s.expHit, ok, "spec %d", index)
		if !ok {
			continue
		}
		assert.Equal(t, s.expT, hit.t, "spec %d", index)
		assert.Equal(t, s.expNormal, hit.normal, "spec %d", index)
		assert.Equal(t, s.expFront, hit.frontFace, "spec %d", index)
	}

	// Hits outside [tMin, tMax] are rejected.
	_, ok := intersectAABB(box, objectRay{origin: types.Vec3{0, 0, 5}, dir: types.Vec3{0, 0, -1}}, types.Vec3{0, 0, -1}.Recip(), 0, 3)
	assert.False(t, ok)
}

func TestTraversalStackFitsMaxTreeDepth(t *testing.T) {
	assert.Greater(t, traversalStackSize, bvh.MaxTreeDepth)
}
