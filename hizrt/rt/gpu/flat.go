package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/cull"
	"github.com/gekko3d/hizcull/hizrt/rt/kernels"
	"github.com/gekko3d/hizcull/hizrt/rt/shaders"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	storageRW = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst
	storageRO = wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	uniform   = wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
)

// FlatCuller runs the two-pass instance cull on the WebGPU device. Buffers
// and partitioning match cull.FlatCuller.
type FlatCuller struct {
	ctx   *Context
	log   hizcull.Logger
	count int

	boxes   *wgpu.Buffer
	idMap   *wgpu.Buffer
	out     *wgpu.Buffer
	results *wgpu.Buffer
	params  *wgpu.Buffer
	camera  *wgpu.Buffer

	fill    *kernel
	cull    *kernel
	fillBG  *wgpu.BindGroup
	passBG  [2]*wgpu.BindGroup
	boundTo *wgpu.TextureView
}

func NewFlatCuller(ctx *Context, boxes []core.BoundingBox, log hizcull.Logger) (*FlatCuller, error) {
	c := &FlatCuller{ctx: ctx, log: hizcull.OrNop(log), count: len(boxes)}
	var err error
	defer func() {
		if err != nil {
			c.Release()
		}
	}()
	code := shaders.InstanceCullWGSL()
	if c.fill, err = ctx.newKernel("Fill ID Map", code, "fill_id_map",
		storageEntry(kernels.CullOutBinding),
		uniformEntry(kernels.CullParamsBinding),
	); err != nil {
		return nil, err
	}
	if c.cull, err = ctx.newKernel("Instance Cull", code, "instance_cull",
		uniformEntry(kernels.CullCameraBinding),
		depthTextureEntry(kernels.CullHiZBinding),
		readOnlyEntry(kernels.CullBoxesBinding),
		readOnlyEntry(kernels.CullInBinding),
		storageEntry(kernels.CullOutBinding),
		storageEntry(kernels.CullResultsBinding),
		uniformEntry(kernels.CullParamsBinding),
	); err != nil {
		return nil, err
	}

	if c.boxes, err = ctx.createBufferInit("Instance Boxes", kernels.EncodeBoxes(boxes), storageRO); err != nil {
		return nil, err
	}
	if c.idMap, err = ctx.createBuffer("Instance ID Map", c.count, storageRW); err != nil {
		return nil, err
	}
	if c.out, err = ctx.createBuffer("Cull Output", c.count, storageRW); err != nil {
		return nil, err
	}
	if c.results, err = ctx.createBuffer("Cull Results", kernels.CullResultWords, storageRW); err != nil {
		return nil, err
	}
	if c.params, err = ctx.createBuffer("Cull Params", 4, uniform); err != nil {
		return nil, err
	}
	if c.camera, err = ctx.createBuffer("Cull Camera", kernels.CameraWords, uniform); err != nil {
		return nil, err
	}
	c.fillBG, err = ctx.bind(c.fill, "Fill ID Map",
		bufferBinding(kernels.CullOutBinding, c.idMap),
		bufferBinding(kernels.CullParamsBinding, c.params),
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *FlatCuller) InstanceCount() int { return c.count }

// bind rebuilds the pass bind groups when the pyramid view changes.
func (c *FlatCuller) bind(chain *wgpu.TextureView) error {
	if c.boundTo == chain {
		return nil
	}
	io := [2][2]*wgpu.Buffer{
		{c.idMap, c.out},
		{c.out, c.idMap},
	}
	for pass, bufs := range io {
		bg, err := c.ctx.bind(c.cull, fmt.Sprintf("Instance Cull Pass %d", pass+1),
			bufferBinding(kernels.CullCameraBinding, c.camera),
			textureBinding(kernels.CullHiZBinding, chain),
			bufferBinding(kernels.CullBoxesBinding, c.boxes),
			bufferBinding(kernels.CullInBinding, bufs[0]),
			bufferBinding(kernels.CullOutBinding, bufs[1]),
			bufferBinding(kernels.CullResultsBinding, c.results),
			bufferBinding(kernels.CullParamsBinding, c.params),
		)
		if err != nil {
			return err
		}
		if c.passBG[pass] != nil {
			c.passBG[pass].Release()
		}
		c.passBG[pass] = bg
	}
	c.boundTo = chain
	return nil
}

func (c *FlatCuller) Cull(pyr cull.Pyramid, viewProj mgl32.Mat4) ([]core.InstanceID, cull.Counters, error) {
	gp, err := webgpuPyramid(pyr)
	if err != nil {
		return nil, cull.Counters{}, err
	}
	if c.count == 0 {
		return nil, cull.Counters{}, nil
	}
	if err := c.bind(gp.Chain()); err != nil {
		return nil, cull.Counters{}, err
	}
	total := uint32(c.count)
	if err := c.upload(pyr, viewProj, []uint32{0, total, 0, 0}, total); err != nil {
		return nil, cull.Counters{}, err
	}
	enc, err := c.ctx.encoder("Flat Cull Pass 1")
	if err != nil {
		return nil, cull.Counters{}, err
	}
	groups := kernels.Groups1D(c.count, kernels.CullWorkgroup)
	if err := c.ctx.dispatch(enc, "Fill ID Map", c.fill, c.fillBG, [3]uint32{groups, 1, 1}); err != nil {
		enc.Release()
		return nil, cull.Counters{}, err
	}
	if err := c.ctx.dispatch(enc, "Instance Cull Pass 1", c.cull, c.passBG[0], [3]uint32{groups, 1, 1}); err != nil {
		enc.Release()
		return nil, cull.Counters{}, err
	}
	return c.submitAndRead(enc, c.out)
}

func (c *FlatCuller) Recull(pyr cull.Pyramid, viewProj mgl32.Mat4, first cull.Counters) ([]core.InstanceID, cull.Counters, error) {
	gp, err := webgpuPyramid(pyr)
	if err != nil {
		return nil, cull.Counters{}, err
	}
	if first.Culled == 0 {
		return nil, cull.Counters{}, nil
	}
	if err := c.bind(gp.Chain()); err != nil {
		return nil, cull.Counters{}, err
	}
	if err := c.upload(pyr, viewProj, []uint32{first.Visible, first.Culled, 0, 0}, first.Culled); err != nil {
		return nil, cull.Counters{}, err
	}
	enc, err := c.ctx.encoder("Flat Cull Pass 2")
	if err != nil {
		return nil, cull.Counters{}, err
	}
	groups := kernels.Groups1D(int(first.Culled), kernels.CullWorkgroup)
	if err := c.ctx.dispatch(enc, "Instance Cull Pass 2", c.cull, c.passBG[1], [3]uint32{groups, 1, 1}); err != nil {
		enc.Release()
		return nil, cull.Counters{}, err
	}
	return c.submitAndRead(enc, c.idMap)
}

func (c *FlatCuller) upload(pyr cull.Pyramid, viewProj mgl32.Mat4, params []uint32, total uint32) error {
	if err := c.ctx.writeWords(c.camera, 0, cull.CameraFor(pyr, viewProj).Encode()); err != nil {
		return err
	}
	if err := c.ctx.writeWords(c.params, 0, params); err != nil {
		return err
	}
	return c.ctx.writeWords(c.results, 0, []uint32{total, 0, 0})
}

func (c *FlatCuller) submitAndRead(enc *wgpu.CommandEncoder, out *wgpu.Buffer) ([]core.InstanceID, cull.Counters, error) {
	if err := c.ctx.submit(enc); err != nil {
		return nil, cull.Counters{}, err
	}
	words, err := c.ctx.readWords(c.results, 0, kernels.CullResultWords)
	if err != nil {
		return nil, cull.Counters{}, err
	}
	res := cull.Counters{
		Total:   words[kernels.CullTotal],
		Visible: words[kernels.CullVisible],
		Culled:  words[kernels.CullCulled],
	}
	if res.Visible == 0 {
		return nil, res, nil
	}
	ids, err := c.ctx.readWords(out, 0, int(res.Visible))
	if err != nil {
		return nil, cull.Counters{}, err
	}
	c.log.Debugf("flat cull: %d visible, %d culled of %d", res.Visible, res.Culled, res.Total)
	return ids, res, nil
}

func (c *FlatCuller) Release() {
	for _, bg := range append(c.passBG[:], c.fillBG) {
		if bg != nil {
			bg.Release()
		}
	}
	c.passBG, c.fillBG, c.boundTo = [2]*wgpu.BindGroup{}, nil, nil
	for _, b := range []*wgpu.Buffer{c.boxes, c.idMap, c.out, c.results, c.params, c.camera} {
		if b != nil {
			b.Release()
		}
	}
	c.boxes, c.idMap, c.out, c.results, c.params, c.camera = nil, nil, nil, nil, nil, nil
	c.fill.Release()
	c.cull.Release()
	c.fill, c.cull = nil, nil
}
