package kernels

import (
	"math"

	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/device"
)

// Octree node layout, in words:
//
//	[0:8]   child node ids as int32, -1 for none
//	[8:14]  bounds, min xyz then max xyz
//	14      first index into the leaf instance buffer
//	15      number of instances
const (
	NodeWords      = 16
	NodeChildren   = 0
	NodeBounds     = 8
	NodeInstFirst  = 14
	NodeInstCount  = 15
	NoChild        = -1
	NodeWorkgroup  = 64
	GatherArgsWord = 3
)

// Queues (node queues, visible leaves, instance list) store a count in word 0
// and ids from word 1.

const (
	OctCameraBinding = iota
	OctHiZBinding
	OctNodesBinding
	OctInBinding
	OctOutBinding
	OctVisibleBinding
	OctListBinding
	OctLeafInstBinding
	OctBoxesBinding
	OctArgsBinding
)

// EncodeNode packs a node for the node buffer.
func EncodeNode(dst []uint32, children [8]int32, bounds core.BoundingBox, first, count uint32) {
	for i, c := range children {
		dst[NodeChildren+i] = uint32(c)
	}
	device.PutVec3(dst[NodeBounds:], bounds.Min)
	device.PutVec3(dst[NodeBounds+3:], bounds.Max)
	dst[NodeInstFirst] = first
	dst[NodeInstCount] = count
}

// InitBufferDescriptor resets a traversal: in = {1, root}, visible = {0},
// list = {0}. Dispatch one workgroup.
func InitBufferDescriptor() *device.ComputePipelineDescriptor {
	return &device.ComputePipelineDescriptor{
		Label:         "octree init buffer",
		Kernel:        initBuffer,
		WorkgroupSize: [3]uint32{1, 1, 1},
		Layout: []device.BindGroupLayoutEntry{
			{Binding: OctInBinding, Type: device.BindingStorageBuffer},
			{Binding: OctVisibleBinding, Type: device.BindingStorageBuffer},
			{Binding: OctListBinding, Type: device.BindingStorageBuffer},
		},
	}
}

func initBuffer(inv *device.Invocation) {
	in := inv.Buffer(OctInBinding)
	in.Store(0, 1)
	in.Store(1, 0)
	inv.Buffer(OctVisibleBinding).Store(0, 0)
	inv.Buffer(OctListBinding).Store(0, 0)
}

// CalcArgsDescriptor sizes the next node test from the input queue count and
// empties the output queue. Dispatch one workgroup.
func CalcArgsDescriptor() *device.ComputePipelineDescriptor {
	return &device.ComputePipelineDescriptor{
		Label:         "octree calc args",
		Kernel:        calcArgs,
		WorkgroupSize: [3]uint32{1, 1, 1},
		Layout: []device.BindGroupLayoutEntry{
			{Binding: OctInBinding, Type: device.BindingStorageBuffer},
			{Binding: OctOutBinding, Type: device.BindingStorageBuffer},
			{Binding: OctArgsBinding, Type: device.BindingStorageBuffer},
		},
	}
}

func calcArgs(inv *device.Invocation) {
	n := inv.Buffer(OctInBinding).Load(0)
	args := inv.Buffer(OctArgsBinding)
	args.Store(0, groups(n, NodeWorkgroup))
	args.Store(1, 1)
	args.Store(2, 1)
	inv.Buffer(OctOutBinding).Store(0, 0)
}

// GatherArgsDescriptor sizes the gather pass from the visible leaf count into
// args[3:6]. Dispatch one workgroup.
func GatherArgsDescriptor() *device.ComputePipelineDescriptor {
	return &device.ComputePipelineDescriptor{
		Label:         "octree gather args",
		Kernel:        gatherArgs,
		WorkgroupSize: [3]uint32{1, 1, 1},
		Layout: []device.BindGroupLayoutEntry{
			{Binding: OctVisibleBinding, Type: device.BindingStorageBuffer},
			{Binding: OctArgsBinding, Type: device.BindingStorageBuffer},
		},
	}
}

func gatherArgs(inv *device.Invocation) {
	n := inv.Buffer(OctVisibleBinding).Load(0)
	args := inv.Buffer(OctArgsBinding)
	args.Store(GatherArgsWord, groups(n, NodeWorkgroup))
	args.Store(GatherArgsWord+1, 1)
	args.Store(GatherArgsWord+2, 1)
}

// NodeTestDescriptor tests every queued node. A visible leaf holding
// instances is appended to the visible leaf list; a visible inner node
// appends its children to the output queue. Dispatch indirect from args[0:3].
func NodeTestDescriptor() *device.ComputePipelineDescriptor {
	return &device.ComputePipelineDescriptor{
		Label:         "octree node test",
		Kernel:        nodeTest,
		WorkgroupSize: [3]uint32{NodeWorkgroup, 1, 1},
		Layout: []device.BindGroupLayoutEntry{
			{Binding: OctCameraBinding, Type: device.BindingUniformBuffer},
			{Binding: OctHiZBinding, Type: device.BindingSampledTexture},
			{Binding: OctNodesBinding, Type: device.BindingStorageBuffer},
			{Binding: OctInBinding, Type: device.BindingStorageBuffer},
			{Binding: OctOutBinding, Type: device.BindingStorageBuffer},
			{Binding: OctVisibleBinding, Type: device.BindingStorageBuffer},
		},
	}
}

func nodeTest(inv *device.Invocation) {
	in := inv.Buffer(OctInBinding)
	i := inv.GlobalID[0]
	if i >= in.Load(0) {
		return
	}
	node := int(in.Load(1 + int(i)))
	nodes := inv.Buffer(OctNodesBinding)
	base := node * NodeWords
	cam := LoadCamera(inv.Buffer(OctCameraBinding))
	if !TestBox(&cam, inv.Texture(OctHiZBinding), LoadBox(nodes, base+NodeBounds)) {
		return
	}

	out := inv.Buffer(OctOutBinding)
	leaf := true
	for c := 0; c < 8; c++ {
		child := nodes.LoadInt(base + NodeChildren + c)
		if child == NoChild {
			continue
		}
		leaf = false
		slot := out.AtomicAdd(0, 1)
		out.Store(1+int(slot), uint32(child))
	}
	if leaf && nodes.Load(base+NodeInstCount) > 0 {
		visible := inv.Buffer(OctVisibleBinding)
		slot := visible.AtomicAdd(0, 1)
		visible.Store(1+int(slot), uint32(node))
	}
}

// GatherDescriptor expands visible leaves into the instance list, re-testing
// each instance box. Dispatch indirect from args[3:6].
func GatherDescriptor() *device.ComputePipelineDescriptor {
	return &device.ComputePipelineDescriptor{
		Label:         "octree gather",
		Kernel:        gather,
		WorkgroupSize: [3]uint32{NodeWorkgroup, 1, 1},
		Layout: []device.BindGroupLayoutEntry{
			{Binding: OctCameraBinding, Type: device.BindingUniformBuffer},
			{Binding: OctHiZBinding, Type: device.BindingSampledTexture},
			{Binding: OctNodesBinding, Type: device.BindingStorageBuffer},
			{Binding: OctVisibleBinding, Type: device.BindingStorageBuffer},
			{Binding: OctListBinding, Type: device.BindingStorageBuffer},
			{Binding: OctLeafInstBinding, Type: device.BindingStorageBuffer},
			{Binding: OctBoxesBinding, Type: device.BindingStorageBuffer},
		},
	}
}

func gather(inv *device.Invocation) {
	visible := inv.Buffer(OctVisibleBinding)
	i := inv.GlobalID[0]
	if i >= visible.Load(0) {
		return
	}
	node := int(visible.Load(1 + int(i)))
	nodes := inv.Buffer(OctNodesBinding)
	first := int(nodes.Load(node*NodeWords + NodeInstFirst))
	count := int(nodes.Load(node*NodeWords + NodeInstCount))

	cam := LoadCamera(inv.Buffer(OctCameraBinding))
	hiz := inv.Texture(OctHiZBinding)
	leafInst := inv.Buffer(OctLeafInstBinding)
	boxes := inv.Buffer(OctBoxesBinding)
	list := inv.Buffer(OctListBinding)
	for k := 0; k < count; k++ {
		id := leafInst.Load(first + k)
		if !TestBox(&cam, hiz, LoadBox(boxes, BoxWords*int(id))) {
			continue
		}
		slot := list.AtomicAdd(0, 1)
		list.Store(1+int(slot), id)
	}
}

// NodeChild reads child c of node from an encoded node buffer.
func NodeChild(words []uint32, node, c int) int32 {
	return int32(words[node*NodeWords+NodeChildren+c])
}

// NodeBoundsOf reads the bounds of node from an encoded node buffer.
func NodeBoundsOf(words []uint32, node int) core.BoundingBox {
	f := func(i int) float32 { return math.Float32frombits(words[node*NodeWords+NodeBounds+i]) }
	return core.NewBox(
		[3]float32{f(0), f(1), f(2)},
		[3]float32{f(3), f(4), f(5)},
	)
}
