package bvh

import (
	"github.com/achilleasa/hybridtrace/types"
	"github.com/chewxy/math32"
)

// Bvh nodes are comprised of two Vec3 and two multipurpose int32 parameters
// whose value depends on the node type:
//
// - For non-leaf nodes they are both >0 and point to the L/R child nodes
// - For leafs:
//   - left W is <= 0 and points to the first primitive index
//   - right W is >0 and contains the count of leaf primitives
type Node struct {
	Min   types.Vec3
	LData int32

	Max   types.Vec3
	RData int32
}

// Set bounding box.
func (n *Node) SetBBox(bbox [2]types.Vec3) {
	n.Min = bbox[0]
	n.Max = bbox[1]
}

// Get bounding box.
func (n *Node) BBox() [2]types.Vec3 {
	return [2]types.Vec3{n.Min, n.Max}
}

// Set left and right child node indices.
func (n *Node) SetChildNodes(left, right uint32) {
	n.LData = int32(left)
	n.RData = int32(right)
}

// Get left and right child node indices.
func (n *Node) GetChildNodes() (left, right uint32) {
	return uint32(n.LData), uint32(n.RData)
}

// Set primitive index and count.
func (n *Node) SetPrimitives(firstPrimIndex, count uint32) {
	n.LData = -int32(firstPrimIndex)
	n.RData = int32(count)
}

// Get primitive index and count.
func (n *Node) GetPrimitives() (firstPrimIndex, count uint32) {
	return uint32(-n.LData), uint32(n.RData)
}

// Returns true if this is a leaf node.
func (n *Node) IsLeaf() bool {
	return n.LData <= 0
}

// Intersect the node bounding box with a ray using the slab method. It returns
// the entry distance and true if the ray overlaps the box within [tMin, tMax].
func (n *Node) Intersect(origin, invDir types.Vec3, tMin, tMax float32) (float32, bool) {
	return IntersectBBox(n.Min, n.Max, origin, invDir, tMin, tMax)
}

// Intersect an axis aligned box with a ray using the slab method.
func IntersectBBox(min, max, origin, invDir types.Vec3, tMin, tMax float32) (float32, bool) {
	for axis := 0; axis < 3; axis++ {
		t0 := (min[axis] - origin[axis]) * invDir[axis]
		t1 := (max[axis] - origin[axis]) * invDir[axis]
		if t0 > t1 {
			t0, t1 = t1, t0
		}

		// NaNs appear when the origin lies on a slab plane and the ray is
		// parallel to it; treat them as a pass for this axis.
		if !math32.IsNaN(t0) && t0 > tMin {
			tMin = t0
		}
		if !math32.IsNaN(t1) && t1 < tMax {
			tMax = t1
		}
		if tMin > tMax {
			return 0, false
		}
	}
	return tMin, true
}
