package bvh

import "github.com/achilleasa/hybridtrace/types"

// A BoundedVolume that tracks the index of the primitive it was created from.
type Primitive struct {
	Index  uint32
	bbox   [2]types.Vec3
	center types.Vec3
}

// Create a primitive for the given bbox. The center is set to the bbox center.
func NewPrimitive(index uint32, bbox [2]types.Vec3) *Primitive {
	return &Primitive{
		Index:  index,
		bbox:   bbox,
		center: bbox[0].Add(bbox[1]).Mul(0.5),
	}
}

func (p *Primitive) BBox() [2]types.Vec3 {
	return p.bbox
}

func (p *Primitive) Center() types.Vec3 {
	return p.center
}

// Build a BVH over a set of primitive bounding boxes. It returns the node
// list and the primitive index list referenced by the leaf nodes.
func BuildIndexed(bboxes [][2]types.Vec3, opts Options) ([]Node, []uint32, Stats) {
	workList := make([]BoundedVolume, len(bboxes))
	for idx, bbox := range bboxes {
		workList[idx] = NewPrimitive(uint32(idx), bbox)
	}

	primIndices := make([]uint32, 0, len(bboxes))
	nodes, stats := Build(workList, opts, func(leaf *Node, itemList []BoundedVolume) {
		leaf.SetPrimitives(uint32(len(primIndices)), uint32(len(itemList)))
		for _, item := range itemList {
			primIndices = append(primIndices, item.(*Primitive).Index)
		}
	})
	return nodes, primIndices, stats
}
