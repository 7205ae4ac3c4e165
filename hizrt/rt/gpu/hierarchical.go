package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/cull"
	"github.com/gekko3d/hizcull/hizrt/rt/kernels"
	"github.com/gekko3d/hizcull/hizrt/rt/octree"
	"github.com/gekko3d/hizcull/hizrt/rt/shaders"
	"github.com/go-gl/mathgl/mgl32"
)

// HierarchicalCuller walks the octree on the WebGPU device. The node test and
// the gather are indirect dispatches sized on the device; the list is read
// back once per cull.
type HierarchicalCuller struct {
	ctx  *Context
	log  hizcull.Logger
	tree *octree.Octree

	nodes    *wgpu.Buffer
	leafInst *wgpu.Buffer
	boxes    *wgpu.Buffer
	camera   *wgpu.Buffer
	queues   [2]*wgpu.Buffer
	visible  *wgpu.Buffer
	list     *wgpu.Buffer
	args     *wgpu.Buffer
	listLen  int

	initK, calcK, nodeK, gatherArgsK, gatherK *kernel

	initBG       *wgpu.BindGroup
	calcBG       [2]*wgpu.BindGroup
	nodeBG       [2]*wgpu.BindGroup
	gatherArgsBG *wgpu.BindGroup
	gatherBG     *wgpu.BindGroup
	boundTo      *wgpu.TextureView

	state cull.State
	cur   int
	level uint32
	drawn []bool
}

func NewHierarchicalCuller(ctx *Context, tree *octree.Octree, boxes []core.BoundingBox, log hizcull.Logger) (*HierarchicalCuller, error) {
	c := &HierarchicalCuller{
		ctx:   ctx,
		log:   hizcull.OrNop(log),
		tree:  tree,
		drawn: make([]bool, len(boxes)),
	}
	var err error
	defer func() {
		if err != nil {
			c.Release()
		}
	}()

	code := shaders.OctreeCullWGSL()
	kernelDefs := []struct {
		dst     **kernel
		label   string
		entry   string
		layouts []wgpu.BindGroupLayoutEntry
	}{
		{&c.initK, "Octree Init", "init_buffer", []wgpu.BindGroupLayoutEntry{
			storageEntry(kernels.OctInBinding),
			storageEntry(kernels.OctVisibleBinding),
			storageEntry(kernels.OctListBinding),
		}},
		{&c.calcK, "Octree Calc Args", "calc_args", []wgpu.BindGroupLayoutEntry{
			storageEntry(kernels.OctInBinding),
			storageEntry(kernels.OctOutBinding),
			storageEntry(kernels.OctArgsBinding),
		}},
		{&c.nodeK, "Octree Node Test", "node_test", []wgpu.BindGroupLayoutEntry{
			uniformEntry(kernels.OctCameraBinding),
			depthTextureEntry(kernels.OctHiZBinding),
			readOnlyEntry(kernels.OctNodesBinding),
			storageEntry(kernels.OctInBinding),
			storageEntry(kernels.OctOutBinding),
			storageEntry(kernels.OctVisibleBinding),
		}},
		{&c.gatherArgsK, "Octree Gather Args", "gather_args", []wgpu.BindGroupLayoutEntry{
			storageEntry(kernels.OctVisibleBinding),
			storageEntry(kernels.OctArgsBinding),
		}},
		{&c.gatherK, "Octree Gather", "gather", []wgpu.BindGroupLayoutEntry{
			uniformEntry(kernels.OctCameraBinding),
			depthTextureEntry(kernels.OctHiZBinding),
			readOnlyEntry(kernels.OctNodesBinding),
			storageEntry(kernels.OctVisibleBinding),
			storageEntry(kernels.OctListBinding),
			readOnlyEntry(kernels.OctLeafInstBinding),
			readOnlyEntry(kernels.OctBoxesBinding),
		}},
	}
	for _, d := range kernelDefs {
		if *d.dst, err = ctx.newKernel(d.label, code, d.entry, d.layouts...); err != nil {
			return nil, err
		}
	}

	nodeWords, leafInst := tree.Flatten()
	queueWords := 1 + tree.NodeCount()
	c.listLen = 1 + len(leafInst)
	bufs := []struct {
		dst   **wgpu.Buffer
		label string
		init  []uint32
		words int
		usage wgpu.BufferUsage
	}{
		{&c.nodes, "Octree Nodes", nodeWords, 0, storageRO},
		{&c.leafInst, "Octree Leaf Instances", leafInst, 0, storageRO},
		{&c.boxes, "Instance Boxes", kernels.EncodeBoxes(boxes), 0, storageRO},
		{&c.camera, "Octree Camera", nil, kernels.CameraWords, uniform},
		{&c.queues[0], "Octree Node Queue 0", nil, queueWords, storageRW},
		{&c.queues[1], "Octree Node Queue 1", nil, queueWords, storageRW},
		{&c.visible, "Octree Visible Leaves", nil, queueWords, storageRW},
		{&c.list, "Octree Instance List", nil, c.listLen, storageRW},
		{&c.args, "Octree Dispatch Args", nil, 2 * kernels.GatherArgsWord, storageRW | wgpu.BufferUsageIndirect},
	}
	for _, b := range bufs {
		if b.words > 0 {
			*b.dst, err = ctx.createBuffer(b.label, b.words, b.usage)
		} else {
			*b.dst, err = ctx.createBufferInit(b.label, b.init, b.usage)
		}
		if err != nil {
			return nil, err
		}
	}

	if c.initBG, err = ctx.bind(c.initK, "Octree Init",
		bufferBinding(kernels.OctInBinding, c.queues[0]),
		bufferBinding(kernels.OctVisibleBinding, c.visible),
		bufferBinding(kernels.OctListBinding, c.list),
	); err != nil {
		return nil, err
	}
	for cur := 0; cur < 2; cur++ {
		if c.calcBG[cur], err = ctx.bind(c.calcK, fmt.Sprintf("Octree Calc Args %d", cur),
			bufferBinding(kernels.OctInBinding, c.queues[cur]),
			bufferBinding(kernels.OctOutBinding, c.queues[cur^1]),
			bufferBinding(kernels.OctArgsBinding, c.args),
		); err != nil {
			return nil, err
		}
	}
	if c.gatherArgsBG, err = ctx.bind(c.gatherArgsK, "Octree Gather Args",
		bufferBinding(kernels.OctVisibleBinding, c.visible),
		bufferBinding(kernels.OctArgsBinding, c.args),
	); err != nil {
		return nil, err
	}
	c.log.Debugf("octree: %d nodes, max level %d, %d leaf entries", tree.NodeCount(), tree.MaxLevel, len(leafInst))
	return c, nil
}

func (c *HierarchicalCuller) Tree() *octree.Octree { return c.tree }
func (c *HierarchicalCuller) State() cull.State    { return c.state }

// bind rebuilds the bind groups that sample the pyramid.
func (c *HierarchicalCuller) bind(chain *wgpu.TextureView) error {
	if c.boundTo == chain {
		return nil
	}
	c.releasePyramidGroups()
	for cur := 0; cur < 2; cur++ {
		bg, err := c.ctx.bind(c.nodeK, fmt.Sprintf("Octree Node Test %d", cur),
			bufferBinding(kernels.OctCameraBinding, c.camera),
			textureBinding(kernels.OctHiZBinding, chain),
			bufferBinding(kernels.OctNodesBinding, c.nodes),
			bufferBinding(kernels.OctInBinding, c.queues[cur]),
			bufferBinding(kernels.OctOutBinding, c.queues[cur^1]),
			bufferBinding(kernels.OctVisibleBinding, c.visible),
		)
		if err != nil {
			return err
		}
		c.nodeBG[cur] = bg
	}
	bg, err := c.ctx.bind(c.gatherK, "Octree Gather",
		bufferBinding(kernels.OctCameraBinding, c.camera),
		textureBinding(kernels.OctHiZBinding, chain),
		bufferBinding(kernels.OctNodesBinding, c.nodes),
		bufferBinding(kernels.OctVisibleBinding, c.visible),
		bufferBinding(kernels.OctListBinding, c.list),
		bufferBinding(kernels.OctLeafInstBinding, c.leafInst),
		bufferBinding(kernels.OctBoxesBinding, c.boxes),
	)
	if err != nil {
		return err
	}
	c.gatherBG = bg
	c.boundTo = chain
	return nil
}

// step records the commands of the current state and advances it.
func (c *HierarchicalCuller) step(enc *wgpu.CommandEncoder) error {
	switch c.state {
	case cull.StateInit:
		if err := c.ctx.dispatch(enc, "Octree Init", c.initK, c.initBG, [3]uint32{1, 1, 1}); err != nil {
			return err
		}
		c.cur, c.level = 0, 0
		c.state = cull.StateLevelCull

	case cull.StateLevelCull:
		if err := c.ctx.dispatch(enc, "Octree Calc Args", c.calcK, c.calcBG[c.cur], [3]uint32{1, 1, 1}); err != nil {
			return err
		}
		label := fmt.Sprintf("Octree Node Test Level %d", c.level)
		if err := c.ctx.dispatchIndirect(enc, label, c.nodeK, c.nodeBG[c.cur], c.args, 0); err != nil {
			return err
		}
		c.cur ^= 1
		if c.level == c.tree.MaxLevel {
			c.state = cull.StateDone
			return nil
		}
		c.level++

	case cull.StateDone:
		if err := c.ctx.dispatch(enc, "Octree Gather Args", c.gatherArgsK, c.gatherArgsBG, [3]uint32{1, 1, 1}); err != nil {
			return err
		}
		if err := c.ctx.dispatchIndirect(enc, "Octree Gather", c.gatherK, c.gatherBG, c.args, kernels.GatherArgsWord); err != nil {
			return err
		}
	}
	return nil
}

func (c *HierarchicalCuller) Cull(pyr cull.Pyramid, viewProj mgl32.Mat4) ([]core.InstanceID, error) {
	gp, err := webgpuPyramid(pyr)
	if err != nil {
		return nil, err
	}
	if len(c.drawn) == 0 {
		return nil, nil
	}
	if err := c.bind(gp.Chain()); err != nil {
		return nil, err
	}
	if err := c.ctx.writeWords(c.camera, 0, cull.CameraFor(pyr, viewProj).Encode()); err != nil {
		return nil, err
	}
	enc, err := c.ctx.encoder("Octree Cull")
	if err != nil {
		return nil, err
	}
	c.state = cull.StateInit
	for {
		done := c.state == cull.StateDone
		if err := c.step(enc); err != nil {
			enc.Release()
			return nil, fmt.Errorf("gpu: octree %s: %w", c.state, err)
		}
		if done {
			break
		}
	}
	if err := c.ctx.submit(enc); err != nil {
		return nil, err
	}
	words, err := c.ctx.readWords(c.list, 0, c.listLen)
	if err != nil {
		return nil, err
	}
	n := min(int(words[0]), len(words)-1)
	ids := cull.DedupInstances(words[1:1+n], c.drawn)
	c.log.Debugf("octree cull: %d listed, %d unique", n, len(ids))
	return ids, nil
}

func (c *HierarchicalCuller) releasePyramidGroups() {
	for _, bg := range append(c.nodeBG[:], c.gatherBG) {
		if bg != nil {
			bg.Release()
		}
	}
	c.nodeBG, c.gatherBG, c.boundTo = [2]*wgpu.BindGroup{}, nil, nil
}

func (c *HierarchicalCuller) Release() {
	c.releasePyramidGroups()
	for _, bg := range []*wgpu.BindGroup{c.initBG, c.calcBG[0], c.calcBG[1], c.gatherArgsBG} {
		if bg != nil {
			bg.Release()
		}
	}
	c.initBG, c.calcBG, c.gatherArgsBG = nil, [2]*wgpu.BindGroup{}, nil
	for _, b := range []*wgpu.Buffer{c.nodes, c.leafInst, c.boxes, c.camera, c.queues[0], c.queues[1], c.visible, c.list, c.args} {
		if b != nil {
			b.Release()
		}
	}
	c.nodes, c.leafInst, c.boxes, c.camera, c.visible, c.list, c.args = nil, nil, nil, nil, nil, nil, nil
	c.queues = [2]*wgpu.Buffer{}
	for _, k := range []*kernel{c.initK, c.calcK, c.nodeK, c.gatherArgsK, c.gatherK} {
		k.Release()
	}
	c.initK, c.calcK, c.nodeK, c.gatherArgsK, c.gatherK = nil, nil, nil, nil, nil
}
