package cull

import (
	"fmt"

	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/device"
	"github.com/gekko3d/hizcull/hizrt/rt/kernels"
	"github.com/gekko3d/hizcull/hizrt/rt/octree"
	"github.com/go-gl/mathgl/mgl32"
)

// State is the phase of one hierarchical traversal.
type State int

const (
	// StateInit seeds the input queue with the root.
	StateInit State = iota
	// StateLevelCull tests one octree level per step.
	StateLevelCull
	// StateDone gathers the surviving leaves and reads the list back.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateLevelCull:
		return "level cull"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// HierarchicalCuller traverses the octree breadth first on the device. Each
// level is sized by an indirect dispatch whose arguments the device computes
// from the previous level's survivors; the controller reads back once, after
// the last level.
type HierarchicalCuller struct {
	dev  *device.Device
	log  hizcull.Logger
	tree *octree.Octree

	nodes    *device.Buffer
	leafInst *device.Buffer
	boxes    *device.Buffer
	camera   *device.Buffer
	queues   [2]*device.Buffer
	visible  *device.Buffer
	list     *device.Buffer
	args     *device.Buffer

	initP, calcP, nodeP, gatherArgsP, gatherP *device.ComputePipeline

	initBG       *device.BindGroup
	calcBG       [2]*device.BindGroup
	nodeBG       [2]*device.BindGroup
	gatherArgsBG *device.BindGroup
	gatherBG     *device.BindGroup
	boundTo      *device.Texture

	state State
	cur   int
	level uint32
	drawn []bool
}

func NewHierarchicalCuller(dev *device.Device, tree *octree.Octree, boxes []core.BoundingBox, log hizcull.Logger) (*HierarchicalCuller, error) {
	c := &HierarchicalCuller{
		dev:   dev,
		log:   hizcull.OrNop(log),
		tree:  tree,
		drawn: make([]bool, len(boxes)),
	}
	descs := []struct {
		dst  **device.ComputePipeline
		desc *device.ComputePipelineDescriptor
	}{
		{&c.initP, kernels.InitBufferDescriptor()},
		{&c.calcP, kernels.CalcArgsDescriptor()},
		{&c.nodeP, kernels.NodeTestDescriptor()},
		{&c.gatherArgsP, kernels.GatherArgsDescriptor()},
		{&c.gatherP, kernels.GatherDescriptor()},
	}
	for _, d := range descs {
		p, err := dev.CreateComputePipeline(d.desc)
		if err != nil {
			return nil, fmt.Errorf("hierarchical culler: %w", err)
		}
		*d.dst = p
	}

	nodeWords, leafInst := tree.Flatten()
	queueWords := 1 + tree.NodeCount()
	c.nodes = dev.CreateBuffer(&device.BufferDescriptor{Label: "octree nodes", Contents: nodeWords})
	c.leafInst = dev.CreateBuffer(&device.BufferDescriptor{Label: "octree leaf instances", Size: 1, Contents: leafInst})
	c.boxes = dev.CreateBuffer(&device.BufferDescriptor{Label: "instance boxes", Size: 1, Contents: kernels.EncodeBoxes(boxes)})
	c.camera = storage(dev, "octree camera", kernels.CameraWords)
	c.queues[0] = storage(dev, "octree node queue 0", queueWords)
	c.queues[1] = storage(dev, "octree node queue 1", queueWords)
	c.visible = storage(dev, "octree visible leaves", queueWords)
	c.list = storage(dev, "octree instance list", 1+len(leafInst))
	c.args = storage(dev, "octree dispatch args", 6)

	var err error
	c.initBG, err = dev.CreateBindGroup(&device.BindGroupDescriptor{
		Label:  "octree init",
		Layout: c.initP.GetBindGroupLayout(0),
		Entries: []device.BindGroupEntry{
			{Binding: kernels.OctInBinding, Buffer: c.queues[0]},
			{Binding: kernels.OctVisibleBinding, Buffer: c.visible},
			{Binding: kernels.OctListBinding, Buffer: c.list},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("hierarchical culler: %w", err)
	}
	for cur := 0; cur < 2; cur++ {
		c.calcBG[cur], err = dev.CreateBindGroup(&device.BindGroupDescriptor{
			Label:  fmt.Sprintf("octree calc args %d", cur),
			Layout: c.calcP.GetBindGroupLayout(0),
			Entries: []device.BindGroupEntry{
				{Binding: kernels.OctInBinding, Buffer: c.queues[cur]},
				{Binding: kernels.OctOutBinding, Buffer: c.queues[cur^1]},
				{Binding: kernels.OctArgsBinding, Buffer: c.args},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("hierarchical culler: %w", err)
		}
	}
	c.gatherArgsBG, err = dev.CreateBindGroup(&device.BindGroupDescriptor{
		Label:  "octree gather args",
		Layout: c.gatherArgsP.GetBindGroupLayout(0),
		Entries: []device.BindGroupEntry{
			{Binding: kernels.OctVisibleBinding, Buffer: c.visible},
			{Binding: kernels.OctArgsBinding, Buffer: c.args},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("hierarchical culler: %w", err)
	}
	c.log.Debugf("octree: %d nodes, max level %d, %d leaf entries", tree.NodeCount(), tree.MaxLevel, len(leafInst))
	return c, nil
}

func (c *HierarchicalCuller) Tree() *octree.Octree { return c.tree }
func (c *HierarchicalCuller) State() State         { return c.state }

// Release drops the bind groups that hold the pyramid.
func (c *HierarchicalCuller) Release() {
	c.nodeBG = [2]*device.BindGroup{}
	c.gatherBG = nil
	c.boundTo = nil
}

// bind rebuilds the bind groups that sample the pyramid.
func (c *HierarchicalCuller) bind(tex *device.Texture) error {
	if c.boundTo == tex {
		return nil
	}
	for cur := 0; cur < 2; cur++ {
		bg, err := c.dev.CreateBindGroup(&device.BindGroupDescriptor{
			Label:  fmt.Sprintf("octree node test %d", cur),
			Layout: c.nodeP.GetBindGroupLayout(0),
			Entries: []device.BindGroupEntry{
				{Binding: kernels.OctCameraBinding, Buffer: c.camera},
				{Binding: kernels.OctHiZBinding, Texture: tex},
				{Binding: kernels.OctNodesBinding, Buffer: c.nodes},
				{Binding: kernels.OctInBinding, Buffer: c.queues[cur]},
				{Binding: kernels.OctOutBinding, Buffer: c.queues[cur^1]},
				{Binding: kernels.OctVisibleBinding, Buffer: c.visible},
			},
		})
		if err != nil {
			return fmt.Errorf("hierarchical culler: %w", err)
		}
		c.nodeBG[cur] = bg
	}
	bg, err := c.dev.CreateBindGroup(&device.BindGroupDescriptor{
		Label:  "octree gather",
		Layout: c.gatherP.GetBindGroupLayout(0),
		Entries: []device.BindGroupEntry{
			{Binding: kernels.OctCameraBinding, Buffer: c.camera},
			{Binding: kernels.OctHiZBinding, Texture: tex},
			{Binding: kernels.OctNodesBinding, Buffer: c.nodes},
			{Binding: kernels.OctVisibleBinding, Buffer: c.visible},
			{Binding: kernels.OctListBinding, Buffer: c.list},
			{Binding: kernels.OctLeafInstBinding, Buffer: c.leafInst},
			{Binding: kernels.OctBoxesBinding, Buffer: c.boxes},
		},
	})
	if err != nil {
		return fmt.Errorf("hierarchical culler: %w", err)
	}
	c.gatherBG = bg
	c.boundTo = tex
	return nil
}

func runPass(enc *device.CommandEncoder, label string, p *device.ComputePipeline, bg *device.BindGroup, dispatch func(*device.ComputePassEncoder)) error {
	cp := enc.BeginComputePass(label)
	cp.SetPipeline(p)
	cp.SetBindGroup(0, bg)
	dispatch(cp)
	return cp.End()
}

func direct(x uint32) func(*device.ComputePassEncoder) {
	return func(cp *device.ComputePassEncoder) { cp.DispatchWorkgroups(x, 1, 1) }
}

func indirect(args *device.Buffer, off int) func(*device.ComputePassEncoder) {
	return func(cp *device.ComputePassEncoder) { cp.DispatchWorkgroupsIndirect(args, off) }
}

// step records the commands of the current state and advances it.
func (c *HierarchicalCuller) step(enc *device.CommandEncoder) error {
	switch c.state {
	case StateInit:
		if err := runPass(enc, "octree init", c.initP, c.initBG, direct(1)); err != nil {
			return err
		}
		enc.MemoryBarrier(device.BarrierStorage)
		c.cur, c.level = 0, 0
		c.state = StateLevelCull

	case StateLevelCull:
		if err := runPass(enc, "octree calc args", c.calcP, c.calcBG[c.cur], direct(1)); err != nil {
			return err
		}
		enc.MemoryBarrier(device.BarrierStorage | device.BarrierCommand)
		label := fmt.Sprintf("octree node test level %d", c.level)
		if err := runPass(enc, label, c.nodeP, c.nodeBG[c.cur], indirect(c.args, 0)); err != nil {
			return err
		}
		enc.MemoryBarrier(device.BarrierStorage)
		c.cur ^= 1
		if c.level == c.tree.MaxLevel {
			c.state = StateDone
			return nil
		}
		c.level++

	case StateDone:
		if err := runPass(enc, "octree gather args", c.gatherArgsP, c.gatherArgsBG, direct(1)); err != nil {
			return err
		}
		enc.MemoryBarrier(device.BarrierStorage | device.BarrierCommand)
		if err := runPass(enc, "octree gather", c.gatherP, c.gatherBG, indirect(c.args, kernels.GatherArgsWord)); err != nil {
			return err
		}
		enc.MemoryBarrier(device.BarrierStorage)
	}
	return nil
}

// Cull returns the deduplicated ids of instances in visible leaves whose own
// box also passes the test.
func (c *HierarchicalCuller) Cull(pyr Pyramid, viewProj mgl32.Mat4) ([]core.InstanceID, error) {
	sp, err := softwarePyramid(pyr)
	if err != nil {
		return nil, err
	}
	if len(c.drawn) == 0 {
		return nil, nil
	}
	if err := c.bind(sp.Texture()); err != nil {
		return nil, err
	}
	q := c.dev.GetQueue()
	q.WriteBuffer(c.camera, 0, CameraFor(pyr, viewProj).Encode())

	enc := c.dev.CreateCommandEncoder("octree cull")
	c.state = StateInit
	for c.state != StateDone {
		if err := c.step(enc); err != nil {
			return nil, fmt.Errorf("hierarchical culler: %s: %w", c.state, err)
		}
	}
	if err := c.step(enc); err != nil {
		return nil, fmt.Errorf("hierarchical culler: %s: %w", c.state, err)
	}
	cb, err := enc.Finish()
	if err != nil {
		return nil, fmt.Errorf("hierarchical culler: %w", err)
	}
	q.Submit(cb)

	words := q.ReadBuffer(c.list, 0, c.list.Size())
	if len(words) == 0 {
		return nil, nil
	}
	n := int(words[0])
	if n > len(words)-1 {
		n = len(words) - 1
	}
	ids := DedupInstances(words[1:1+n], c.drawn)
	c.log.Debugf("octree cull: %d listed, %d unique", n, len(ids))
	return ids, nil
}
