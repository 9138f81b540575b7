package bvh

import (
	"runtime"
	"sort"
	"time"

	"github.com/achilleasa/hybridtrace/log"
	"github.com/achilleasa/hybridtrace/types"
	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"
)

type Axis uint8

const (
	XAxis Axis = iota
	YAxis
	ZAxis
)

const (
	// Node axes shorter than this are never split.
	minSideLength float32 = 1e-3

	// Candidate planes are never placed closer than this.
	minSplitStep float32 = 1e-5

	// Work lists with fewer items are scored on the calling goroutine.
	parallelScoreThreshold = 128

	// Default value for Options.MaxLeafItems.
	defaultMaxLeafItems = 16
)

// Nodes at this depth always become leafs. Traversal stacks sized
// MaxTreeDepth+1 therefore never overflow.
const MaxTreeDepth = 62

// A split scoring strategy that uses the surface area heuristic (SAH).
var SurfaceAreaHeuristic ScoreStrategy = surfaceAreaHeuristic{}

// Anything with a bounding box that can be stored in a BVH.
type BoundedVolume interface {
	BBox() [2]types.Vec3
	Center() types.Vec3
}

// Invoked for each leaf the builder emits with the items assigned to it.
// The callback is responsible for populating the leaf primitive range.
type LeafCallback func(leaf *Node, itemList []BoundedVolume)

// Computes the cost of a partitioning. Lower is better.
type ScoreStrategy interface {
	// Score splitting workList at splitPoint along splitAxis. Items are
	// assigned to the left side if their center lies below splitPoint.
	ScoreSplit(workList []BoundedVolume, splitAxis Axis, splitPoint float32) (leftCount, rightCount int, score float32)

	// Score keeping workList in a single node.
	ScorePartition(workList []BoundedVolume) (score float32)
}

// Options control the BVH construction strategy.
type Options struct {
	// Work lists with this many items or fewer always become leafs.
	MinLeafItems int

	// If no split improves the node score, work lists with more items than
	// this are split at the median instead of becoming a leaf.
	MaxLeafItems int

	// Number of candidate split planes per axis for a node at the given
	// depth. If nil, the builder splits at the object median of the
	// longest axis and ignores Score.
	SplitPlanes func(depth int) int

	// Defaults to SurfaceAreaHeuristic.
	Score ScoreStrategy
}

// Use a fixed number of candidate split planes at every depth.
func FixedPlanes(planes int) func(int) int {
	return func(int) int { return planes }
}

// Halve the candidate plane count with every level.
func DepthScaledPlanes(depth int) int {
	return 1024 / (depth + 1)
}

// Statistics collected while building a tree.
type Stats struct {
	PartitionedItems int
	TotalItems       int
	Nodes            int
	Leafs            int
	MaxDepth         int
	BuildTime        time.Duration
}

type splitCandidate struct {
	axis  Axis
	point float32

	leftCount, rightCount int
	score                 float32
}

type builder struct {
	logger log.Logger
	opts   Options
	leafCb LeafCallback

	// Nodes in depth-first order; the root is nodes[0].
	nodes []Node
	stats Stats
}

// Build a BVH over workList and return its nodes along with build
// statistics. The root node is always stored at index 0. Work lists with at
// most opts.MinLeafItems items become leafs.
func Build(workList []BoundedVolume, opts Options, leafCb LeafCallback) ([]Node, Stats) {
	if opts.MinLeafItems < 1 {
		opts.MinLeafItems = 1
	}
	if opts.MaxLeafItems < opts.MinLeafItems {
		opts.MaxLeafItems = max(defaultMaxLeafItems, opts.MinLeafItems)
	}
	if opts.Score == nil {
		opts.Score = SurfaceAreaHeuristic
	}

	b := &builder{
		logger: log.New("bvh builder"),
		opts:   opts,
		leafCb: leafCb,
		nodes:  make([]Node, 0, 2*len(workList)),
		stats:  Stats{TotalItems: len(workList)},
	}
	if len(workList) == 0 {
		return nil, b.stats
	}

	start := time.Now()
	b.partition(workList, 0)
	b.stats.BuildTime = time.Since(start)
	b.logger.Debugf(
		"built tree for %d items in %d ms; depth: %d, nodes: %d, leafs: %d",
		len(workList), b.stats.BuildTime.Nanoseconds()/1e6,
		b.stats.MaxDepth, b.stats.Nodes, b.stats.Leafs,
	)
	return b.nodes, b.stats
}

// Recursively partition workList and return the index of the emitted node.
func (b *builder) partition(workList []BoundedVolume, depth int) uint32 {
	b.stats.MaxDepth = max(b.stats.MaxDepth, depth)

	var node Node
	node.SetBBox(bboxOf(workList))
	if len(workList) <= b.opts.MinLeafItems || depth >= MaxTreeDepth {
		return b.emitLeaf(&node, workList)
	}

	var left, right []BoundedVolume
	if b.opts.SplitPlanes != nil {
		left, right = b.bestSplit(node.BBox(), workList, depth)
		if left == nil && len(workList) <= b.opts.MaxLeafItems {
			return b.emitLeaf(&node, workList)
		}
	}
	if left == nil {
		left, right = medianSplit(workList)
	}

	index := uint32(len(b.nodes))
	b.nodes = append(b.nodes, node)
	b.stats.Nodes++

	leftIndex := b.partition(left, depth+1)
	rightIndex := b.partition(right, depth+1)
	b.nodes[index].SetChildNodes(leftIndex, rightIndex)
	return index
}

// Score evenly spaced candidate planes on each axis and split workList at
// the cheapest one. Returns nil lists if no candidate beats keeping the
// work list in a single node.
func (b *builder) bestSplit(bbox [2]types.Vec3, workList []BoundedVolume, depth int) (left, right []BoundedVolume) {
	candidates := splitCandidates(bbox, max(b.opts.SplitPlanes(depth), 1))
	if len(candidates) == 0 {
		return nil, nil
	}

	score := func(c *splitCandidate) {
		c.leftCount, c.rightCount, c.score = b.opts.Score.ScoreSplit(workList, c.axis, c.point)
	}
	if len(workList) < parallelScoreThreshold {
		for i := range candidates {
			score(&candidates[i])
		}
	} else {
		var g errgroup.Group
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i := range candidates {
			c := &candidates[i]
			g.Go(func() error {
				score(c)
				return nil
			})
		}
		_ = g.Wait()
	}

	// Candidates are ordered by axis and plane so the first of several
	// equally scored candidates wins.
	var best *splitCandidate
	bestScore := b.opts.Score.ScorePartition(workList)
	for i := range candidates {
		if candidates[i].score < bestScore {
			best, bestScore = &candidates[i], candidates[i].score
		}
	}
	if best == nil {
		return nil, nil
	}

	left = make([]BoundedVolume, 0, best.leftCount)
	right = make([]BoundedVolume, 0, best.rightCount)
	for _, item := range workList {
		if item.Center()[best.axis] < best.point {
			left = append(left, item)
		} else {
			right = append(right, item)
		}
	}
	return left, right
}

func splitCandidates(bbox [2]types.Vec3, planes int) []splitCandidate {
	var out []splitCandidate
	side := bbox[1].Sub(bbox[0])
	for axis := XAxis; axis <= ZAxis; axis++ {
		if side[axis] < minSideLength {
			continue
		}
		step := side[axis] / float32(planes)
		if step < minSplitStep {
			continue
		}
		for point := bbox[0][axis]; point < bbox[1][axis]; point += step {
			out = append(out, splitCandidate{axis: axis, point: point})
		}
	}
	return out
}

// Hand workList to the leaf callback and append the leaf node.
func (b *builder) emitLeaf(node *Node, workList []BoundedVolume) uint32 {
	b.leafCb(node, workList)

	index := uint32(len(b.nodes))
	b.nodes = append(b.nodes, *node)
	b.stats.Leafs++
	b.stats.PartitionedItems += len(workList)
	return index
}

// Split the work list at the object median along the axis with the largest
// centroid extent.
func medianSplit(workList []BoundedVolume) (left, right []BoundedVolume) {
	centroids := emptyBox()
	for _, item := range workList {
		c := item.Center()
		centroids.grow([2]types.Vec3{c, c})
	}

	extent := centroids[1].Sub(centroids[0])
	axis := XAxis
	for _, candidate := range []Axis{YAxis, ZAxis} {
		if extent[candidate] > extent[axis] {
			axis = candidate
		}
	}

	sorted := append([]BoundedVolume(nil), workList...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Center()[axis] < sorted[j].Center()[axis]
	})

	mid := len(sorted) / 2
	return sorted[:mid], sorted[mid:]
}

// An axis aligned box that starts out inverted so that growing it by any
// box yields that box.
type aabb [2]types.Vec3

func emptyBox() aabb {
	return aabb{
		{math32.MaxFloat32, math32.MaxFloat32, math32.MaxFloat32},
		{-math32.MaxFloat32, -math32.MaxFloat32, -math32.MaxFloat32},
	}
}

func (b *aabb) grow(other [2]types.Vec3) {
	b[0] = types.MinVec3(b[0], other[0])
	b[1] = types.MaxVec3(b[1], other[1])
}

// Half the surface area.
func (b aabb) halfArea() float32 {
	s := b[1].Sub(b[0])
	return s[0]*s[1] + s[1]*s[2] + s[0]*s[2]
}

func bboxOf(workList []BoundedVolume) [2]types.Vec3 {
	box := emptyBox()
	for _, item := range workList {
		box.grow(item.BBox())
	}
	return box
}

type surfaceAreaHeuristic struct{}

// Score a split as leftCount * area(left) + rightCount * area(right).
// Splits that leave one side empty get the worst possible score.
func (surfaceAreaHeuristic) ScoreSplit(workList []BoundedVolume, axis Axis, splitPoint float32) (leftCount, rightCount int, score float32) {
	lbox, rbox := emptyBox(), emptyBox()
	for _, item := range workList {
		if item.Center()[axis] < splitPoint {
			leftCount++
			lbox.grow(item.BBox())
		} else {
			rightCount++
			rbox.grow(item.BBox())
		}
	}

	if leftCount == 0 || rightCount == 0 {
		return leftCount, rightCount, math32.MaxFloat32
	}
	return leftCount, rightCount, float32(leftCount)*lbox.halfArea() + float32(rightCount)*rbox.halfArea()
}

// Score an unsplit node as count * area. Empty lists get the worst
// possible score.
func (surfaceAreaHeuristic) ScorePartition(workList []BoundedVolume) float32 {
	if len(workList) == 0 {
		return math32.MaxFloat32
	}
	return float32(len(workList)) * aabb(bboxOf(workList)).halfArea()
}
