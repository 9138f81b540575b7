package bvh

import (
	"github.com/achilleasa/hybridtrace/types"
)

// Recompute node bounds bottom-up without changing the tree topology. The
// leafBBox callback returns the bounds of the primitives referenced by a leaf.
//
// Build emits parents before their children so walking the node list in
// reverse visits every child before its parent.
func Refit(nodes []Node, leafBBox func(firstPrimIndex, count uint32) [2]types.Vec3) {
	for idx := len(nodes) - 1; idx >= 0; idx-- {
		node := &nodes[idx]
		if node.IsLeaf() {
			node.SetBBox(leafBBox(node.GetPrimitives()))
			continue
		}

		left, right := node.GetChildNodes()
		node.Min = types.MinVec3(nodes[left].Min, nodes[right].Min)
		node.Max = types.MaxVec3(nodes[left].Max, nodes[right].Max)
	}
}
