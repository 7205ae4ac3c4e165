// Package octree builds the spatial index used by the hierarchical culler.
//
// Nodes live in a flat array and link to each other by index so the same
// layout can be uploaded to the device unchanged.
package octree

import (
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/kernels"
)

const (
	// LeafSize stops subdivision once a node holds this many instances or fewer.
	LeafSize = 1
	// LeafExtent stops subdivision once a node's diagonal is this short or shorter.
	LeafExtent = 1.0
)

// NoChild marks an absent child slot.
const NoChild = kernels.NoChild

type Node struct {
	Bounds   core.BoundingBox
	Children [8]int32
	// Instances is only kept on leaves.
	Instances []core.InstanceID
	Level     uint32
}

// IsLeaf reports whether every child slot is empty.
func (n *Node) IsLeaf() bool {
	for _, c := range n.Children {
		if c != NoChild {
			return false
		}
	}
	return true
}

type Octree struct {
	Nodes    []Node
	MaxLevel uint32
}

func newNode(b core.BoundingBox, level uint32) Node {
	n := Node{Bounds: b, Level: level}
	for i := range n.Children {
		n.Children[i] = NoChild
	}
	return n
}

// Build subdivides bounds with an explicit stack. Node 0 is the root and
// covers bounds; instance i has box boxes[i]. An instance is listed in every
// child box it touches, so an id may appear in several leaves. One that
// touches none (an empty box, or one outside bounds) goes to the octant
// nearest its centroid, so every instance reaches at least one leaf.
func Build(boxes []core.BoundingBox, bounds core.BoundingBox) *Octree {
	root := newNode(bounds, 0)
	root.Instances = make([]core.InstanceID, len(boxes))
	for i := range boxes {
		root.Instances[i] = core.InstanceID(i)
	}
	t := &Octree{Nodes: []Node{root}}

	stack := []int{0}
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node := &t.Nodes[u]
		if len(node.Instances) <= LeafSize || node.Bounds.Extent() <= LeafExtent {
			continue
		}

		parentBounds, level, members := node.Bounds, node.Level+1, node.Instances
		var children [8]Node
		for i := range children {
			children[i] = newNode(parentBounds.Octant(i), level)
		}
		for _, id := range members {
			placed := false
			for i := range children {
				if children[i].Bounds.Intersects(boxes[id]) {
					children[i].Instances = append(children[i].Instances, id)
					placed = true
				}
			}
			if !placed {
				i := nearestOctant(parentBounds, boxes[id])
				children[i].Instances = append(children[i].Instances, id)
			}
		}
		for i := range children {
			id := int32(len(t.Nodes))
			t.Nodes = append(t.Nodes, children[i])
			// append may have moved the array
			t.Nodes[u].Children[i] = id
			stack = append(stack, int(id))
		}
		if level > t.MaxLevel {
			t.MaxLevel = level
		}
		t.Nodes[u].Instances = nil
	}
	return t
}

// nearestOctant picks the child of parent on the side of b's centroid. Empty
// boxes go to octant 0.
func nearestOctant(parent, b core.BoundingBox) int {
	if b.IsEmpty() {
		return 0
	}
	c, mid := b.Centroid(), parent.Centroid()
	i := 0
	for axis := 0; axis < 3; axis++ {
		if c[axis] >= mid[axis] {
			i |= 1 << axis
		}
	}
	return i
}

func (t *Octree) NodeCount() int { return len(t.Nodes) }

// Leaves returns the ids of all leaf nodes in index order.
func (t *Octree) Leaves() []int {
	var out []int
	for i := range t.Nodes {
		if t.Nodes[i].IsLeaf() {
			out = append(out, i)
		}
	}
	return out
}

// Flatten encodes the nodes for the device node buffer and concatenates the
// leaf instance lists; each node records its slice of that list.
func (t *Octree) Flatten() (nodes []uint32, leafInstances []uint32) {
	nodes = make([]uint32, kernels.NodeWords*len(t.Nodes))
	for i := range t.Nodes {
		n := &t.Nodes[i]
		first := uint32(len(leafInstances))
		leafInstances = append(leafInstances, n.Instances...)
		kernels.EncodeNode(nodes[i*kernels.NodeWords:], n.Children, n.Bounds, first, uint32(len(n.Instances)))
	}
	return nodes, leafInstances
}
