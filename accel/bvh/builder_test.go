package bvh

import (
	"reflect"
	"testing"

	"github.com/achilleasa/hybridtrace/types"
	"github.com/chewxy/math32"
)

func cornerPrimitives() []BoundedVolume {
	type primSpec struct {
		min types.Vec3
		max types.Vec3
	}

	primSpecs := []primSpec{
		{types.Vec3{-2, 0, -2}, types.Vec3{-1, 1, -1}},
		{types.Vec3{1, 0, -2}, types.Vec3{2, 1, -1}},
		{types.Vec3{-2, 0, 1}, types.Vec3{-1, 1, 2}},
		{types.Vec3{1, 0, 1}, types.Vec3{2, 1, 2}},
	}

	itemList := make([]BoundedVolume, len(primSpecs))
	for idx, ps := range primSpecs {
		itemList[idx] = NewPrimitive(uint32(idx), [2]types.Vec3{ps.min, ps.max})
	}
	return itemList
}

func TestLeafCallback(t *testing.T) {
	type spec struct {
		minLeafItems int
		expLeafSize  int
		expLeafs     int
		expNodes     int
	}
	specs := []spec{
		{1, 1, 4, 7},
		{2, 2, 2, 3},
		{4, 4, 1, 1},
	}

	for index, s := range specs {
		leafs := 0
		nodes, stats := Build(cornerPrimitives(), Options{MinLeafItems: s.minLeafItems, SplitPlanes: DepthScaledPlanes}, func(_ *Node, itemList []BoundedVolume) {
			leafs++
			if len(itemList) != s.expLeafSize {
				t.Fatalf("[spec %d] expected leaf with %d items; got %d", index, s.expLeafSize, len(itemList))
			}
		})

		if leafs != s.expLeafs || stats.Leafs != s.expLeafs {
			t.Fatalf("[spec %d] expected %d leafs; got %d (stats: %d)", index, s.expLeafs, leafs, stats.Leafs)
		}
		if len(nodes) != s.expNodes {
			t.Fatalf("[spec %d] expected %d nodes; got %d", index, s.expNodes, len(nodes))
		}
	}
}

func TestParallelScoring(t *testing.T) {
	// A row of unit boxes large enough to be scored concurrently.
	bboxes := make([][2]types.Vec3, 2*parallelScoreThreshold)
	for idx := range bboxes {
		x := float32(idx)
		bboxes[idx] = [2]types.Vec3{{x, 0, 0}, {x + 1, 1, 1}}
	}

	first, firstIndices, _ := BuildIndexed(bboxes, Options{MinLeafItems: 2, SplitPlanes: FixedPlanes(16)})
	second, secondIndices, _ := BuildIndexed(bboxes, Options{MinLeafItems: 2, SplitPlanes: FixedPlanes(16)})
	if !reflect.DeepEqual(first, second) || !reflect.DeepEqual(firstIndices, secondIndices) {
		t.Fatal("expected identical trees for identical input")
	}

	if !types.ApproxEqual(first[0].Max, types.Vec3{float32(len(bboxes)), 1, 1}, 1e-6) {
		t.Fatalf("unexpected root bbox [%v, %v]", first[0].Min, first[0].Max)
	}
}

// Always splits off the single leftmost item.
type peelScore struct{}

func (peelScore) ScoreSplit(workList []BoundedVolume, axis Axis, splitPoint float32) (int, int, float32) {
	left, right, _ := SurfaceAreaHeuristic.ScoreSplit(workList, axis, splitPoint)
	if left == 0 || right == 0 {
		return left, right, math32.MaxFloat32
	}
	return left, right, float32(left)
}

func (peelScore) ScorePartition([]BoundedVolume) float32 {
	return math32.MaxFloat32
}

func TestMaxTreeDepth(t *testing.T) {
	bboxes := make([][2]types.Vec3, 3*MaxTreeDepth)
	for idx := range bboxes {
		x := float32(idx)
		bboxes[idx] = [2]types.Vec3{{x, 0, 0}, {x + 1, 1, 1}}
	}

	nodes, primIndices, stats := BuildIndexed(bboxes, Options{MinLeafItems: 1, SplitPlanes: FixedPlanes(1024), Score: peelScore{}})
	if stats.MaxDepth != MaxTreeDepth {
		t.Fatalf("expected tree depth to be capped at %d; got %d", MaxTreeDepth, stats.MaxDepth)
	}
	if len(primIndices) != len(bboxes) || stats.PartitionedItems != len(bboxes) {
		t.Fatalf("expected all %d items to be stored; got %d", len(bboxes), len(primIndices))
	}

	// The deepest leaf keeps everything that was not peeled off.
	deepest := 0
	for _, node := range nodes {
		if node.IsLeaf() {
			if _, count := node.GetPrimitives(); int(count) > deepest {
				deepest = int(count)
			}
		}
	}
	if exp := len(bboxes) - MaxTreeDepth; deepest != exp {
		t.Fatalf("expected deepest leaf to hold %d items; got %d", exp, deepest)
	}
}

func TestMedianSplit(t *testing.T) {
	itemList := cornerPrimitives()

	nodes, primIndices, stats := BuildIndexed(boundsOf(itemList), Options{MinLeafItems: 1})
	if len(nodes) != 7 {
		t.Fatalf("expected bvh tree to have 7 nodes; got %d", len(nodes))
	}
	if stats.Leafs != 4 || stats.PartitionedItems != 4 {
		t.Fatalf("expected 4 leafs holding 4 items; got %d leafs and %d items", stats.Leafs, stats.PartitionedItems)
	}
	if len(primIndices) != 4 {
		t.Fatalf("expected 4 primitive indices; got %d", len(primIndices))
	}

	seen := make(map[uint32]bool)
	for _, idx := range primIndices {
		seen[idx] = true
	}
	if len(seen) != 4 {
		t.Fatalf("expected every primitive to be referenced exactly once; got %v", primIndices)
	}
}

func TestCoincidentPrimitivesTerminate(t *testing.T) {
	bboxes := make([][2]types.Vec3, 64)
	for idx := range bboxes {
		bboxes[idx] = [2]types.Vec3{{0, 0, 0}, {1, 1, 1}}
	}

	nodes, primIndices, _ := BuildIndexed(bboxes, Options{MinLeafItems: 1, MaxLeafItems: 4, SplitPlanes: FixedPlanes(32)})
	if len(primIndices) != len(bboxes) {
		t.Fatalf("expected %d primitive indices; got %d", len(bboxes), len(primIndices))
	}
	for _, node := range nodes {
		if !node.IsLeaf() {
			continue
		}
		if _, count := node.GetPrimitives(); count > 4 {
			t.Fatalf("expected leafs to contain at most 4 primitives; got %d", count)
		}
	}
}

func TestRefit(t *testing.T) {
	bboxes := boundsOf(cornerPrimitives())
	nodes, primIndices, _ := BuildIndexed(bboxes, Options{MinLeafItems: 1, SplitPlanes: FixedPlanes(32)})

	// Move every primitive up by 10 units
	for idx := range bboxes {
		bboxes[idx][0][1] += 10
		bboxes[idx][1][1] += 10
	}

	Refit(nodes, func(first, count uint32) [2]types.Vec3 {
		bbox := bboxes[primIndices[first]]
		for _, idx := range primIndices[first+1 : first+count] {
			bbox[0] = types.MinVec3(bbox[0], bboxes[idx][0])
			bbox[1] = types.MaxVec3(bbox[1], bboxes[idx][1])
		}
		return bbox
	})

	expMin := types.Vec3{-2, 10, -2}
	expMax := types.Vec3{2, 11, 2}
	if !types.ApproxEqual(nodes[0].Min, expMin, 1e-6) || !types.ApproxEqual(nodes[0].Max, expMax, 1e-6) {
		t.Fatalf("expected root bbox to be [%v, %v]; got [%v, %v]", expMin, expMax, nodes[0].Min, nodes[0].Max)
	}
}

func TestIntersectBBox(t *testing.T) {
	type spec struct {
		origin types.Vec3
		dir    types.Vec3
		expHit bool
		expT   float32
	}
	specs := []spec{
		{types.Vec3{0, 0, 5}, types.Vec3{0, 0, -1}, true, 4},
		{types.Vec3{0, 5, 5}, types.Vec3{0, 0, -1}, false, 0},
		{types.Vec3{0, 0, 0}, types.Vec3{1, 0, 0}, true, 0},
		{types.Vec3{0, 0, 5}, types.Vec3{0, 0, 1}, false, 0},
		// Ray grazing the box face with a zero direction component
		{types.Vec3{1, 0, 5}, types.Vec3{0, 0, -1}, true, 4},
	}

	min := types.Vec3{-1, -1, -1}
	max := types.Vec3{1, 1, 1}
	for index, s := range specs {
		tHit, hit := IntersectBBox(min, max, s.origin, s.dir.Recip(), 0, 100)
		if hit != s.expHit {
			t.Fatalf("[spec %d] expected hit to be %t; got %t", index, s.expHit, hit)
		}
		if hit && tHit != s.expT {
			t.Fatalf("[spec %d] expected hit distance to be %f; got %f", index, s.expT, tHit)
		}
	}
}

func boundsOf(itemList []BoundedVolume) [][2]types.Vec3 {
	out := make([][2]types.Vec3, len(itemList))
	for idx, item := range itemList {
		out[idx] = item.BBox()
	}
	return out
}
