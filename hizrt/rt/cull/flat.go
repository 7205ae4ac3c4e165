package cull

import (
	"fmt"

	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/device"
	"github.com/gekko3d/hizcull/hizrt/rt/kernels"
	"github.com/go-gl/mathgl/mgl32"
)

// FlatCuller tests every instance box against the pyramid.
//
// Pass 1 reads ids from the id map and partitions them into out: visible ids
// from the front, occluded ids from the back. Pass 2 re-tests the occluded
// tail of out, after the caller has drawn pass 1 and rebuilt the pyramid, and
// partitions it back into the id map.
type FlatCuller struct {
	dev   *device.Device
	log   hizcull.Logger
	count int

	boxes   *device.Buffer
	idMap   *device.Buffer
	out     *device.Buffer
	results *device.Buffer
	params  *device.Buffer
	camera  *device.Buffer

	fill    *device.ComputePipeline
	cull    *device.ComputePipeline
	fillBG  *device.BindGroup
	passBG  [2]*device.BindGroup
	boundTo *device.Texture
}

func NewFlatCuller(dev *device.Device, boxes []core.BoundingBox, log hizcull.Logger) (*FlatCuller, error) {
	fill, err := dev.CreateComputePipeline(kernels.FillIDMapDescriptor())
	if err != nil {
		return nil, fmt.Errorf("flat culler: %w", err)
	}
	cull, err := dev.CreateComputePipeline(kernels.InstanceCullDescriptor())
	if err != nil {
		return nil, fmt.Errorf("flat culler: %w", err)
	}
	n := len(boxes)
	c := &FlatCuller{
		dev:     dev,
		log:     hizcull.OrNop(log),
		count:   n,
		boxes:   dev.CreateBuffer(&device.BufferDescriptor{Label: "instance boxes", Size: 1, Contents: kernels.EncodeBoxes(boxes)}),
		idMap:   storage(dev, "instance id map", n),
		out:     storage(dev, "cull output", n),
		results: storage(dev, "cull results", kernels.CullResultWords),
		params:  storage(dev, "cull params", kernels.CullParamWords),
		camera:  storage(dev, "cull camera", kernels.CameraWords),
		fill:    fill,
		cull:    cull,
	}
	c.fillBG, err = dev.CreateBindGroup(&device.BindGroupDescriptor{
		Label:  "fill id map",
		Layout: fill.GetBindGroupLayout(0),
		Entries: []device.BindGroupEntry{
			{Binding: kernels.CullOutBinding, Buffer: c.idMap},
			{Binding: kernels.CullParamsBinding, Buffer: c.params},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("flat culler: %w", err)
	}
	return c, nil
}

func (c *FlatCuller) InstanceCount() int { return c.count }

// Release drops the bind groups; buffers go with the culler.
func (c *FlatCuller) Release() {
	c.fillBG = nil
	c.passBG = [2]*device.BindGroup{}
	c.boundTo = nil
}

// bind rebuilds the pass bind groups when the pyramid texture changes.
func (c *FlatCuller) bind(tex *device.Texture) error {
	if c.boundTo == tex {
		return nil
	}
	io := [2][2]*device.Buffer{
		{c.idMap, c.out},
		{c.out, c.idMap},
	}
	for pass, bufs := range io {
		bg, err := c.dev.CreateBindGroup(&device.BindGroupDescriptor{
			Label:  fmt.Sprintf("instance cull pass %d", pass+1),
			Layout: c.cull.GetBindGroupLayout(0),
			Entries: []device.BindGroupEntry{
				{Binding: kernels.CullCameraBinding, Buffer: c.camera},
				{Binding: kernels.CullHiZBinding, Texture: tex},
				{Binding: kernels.CullBoxesBinding, Buffer: c.boxes},
				{Binding: kernels.CullInBinding, Buffer: bufs[0]},
				{Binding: kernels.CullOutBinding, Buffer: bufs[1]},
				{Binding: kernels.CullResultsBinding, Buffer: c.results},
				{Binding: kernels.CullParamsBinding, Buffer: c.params},
			},
		})
		if err != nil {
			return fmt.Errorf("flat culler: %w", err)
		}
		c.passBG[pass] = bg
	}
	c.boundTo = tex
	return nil
}

// Cull runs pass 1 over every instance. The returned ids are the visible
// prefix of the output; the counters feed Recull.
func (c *FlatCuller) Cull(pyr Pyramid, viewProj mgl32.Mat4) ([]core.InstanceID, Counters, error) {
	sp, err := softwarePyramid(pyr)
	if err != nil {
		return nil, Counters{}, err
	}
	if c.count == 0 {
		return nil, Counters{}, nil
	}
	if err := c.bind(sp.Texture()); err != nil {
		return nil, Counters{}, err
	}
	total := uint32(c.count)
	q := c.dev.GetQueue()
	q.WriteBuffer(c.camera, 0, CameraFor(pyr, viewProj).Encode())
	q.WriteBuffer(c.params, 0, []uint32{0, total})
	q.WriteBuffer(c.results, 0, []uint32{total, 0, 0})

	enc := c.dev.CreateCommandEncoder("flat cull pass 1")
	pass := enc.BeginComputePass("fill id map")
	pass.SetPipeline(c.fill)
	pass.SetBindGroup(0, c.fillBG)
	pass.DispatchWorkgroups(kernels.Groups1D(c.count, kernels.CullWorkgroup), 1, 1)
	if err := pass.End(); err != nil {
		return nil, Counters{}, err
	}
	enc.MemoryBarrier(device.BarrierStorage)
	if err := c.encodeCull(enc, 0, c.count); err != nil {
		return nil, Counters{}, err
	}
	return c.submitAndRead(enc, c.out)
}

// Recull runs pass 2 over the instances pass 1 found occluded. The pyramid
// should have been rebuilt from the depth written by pass 1's draws.
func (c *FlatCuller) Recull(pyr Pyramid, viewProj mgl32.Mat4, first Counters) ([]core.InstanceID, Counters, error) {
	sp, err := softwarePyramid(pyr)
	if err != nil {
		return nil, Counters{}, err
	}
	if first.Culled == 0 {
		return nil, Counters{}, nil
	}
	if err := c.bind(sp.Texture()); err != nil {
		return nil, Counters{}, err
	}
	q := c.dev.GetQueue()
	q.WriteBuffer(c.camera, 0, CameraFor(pyr, viewProj).Encode())
	q.WriteBuffer(c.params, 0, []uint32{first.Visible, first.Culled})
	q.WriteBuffer(c.results, 0, []uint32{first.Culled, 0, 0})

	enc := c.dev.CreateCommandEncoder("flat cull pass 2")
	if err := c.encodeCull(enc, 1, int(first.Culled)); err != nil {
		return nil, Counters{}, err
	}
	return c.submitAndRead(enc, c.idMap)
}

func (c *FlatCuller) encodeCull(enc *device.CommandEncoder, pass, n int) error {
	p := enc.BeginComputePass(fmt.Sprintf("instance cull pass %d", pass+1))
	p.SetPipeline(c.cull)
	p.SetBindGroup(0, c.passBG[pass])
	p.DispatchWorkgroups(kernels.Groups1D(n, kernels.CullWorkgroup), 1, 1)
	return p.End()
}

func (c *FlatCuller) submitAndRead(enc *device.CommandEncoder, out *device.Buffer) ([]core.InstanceID, Counters, error) {
	cb, err := enc.Finish()
	if err != nil {
		return nil, Counters{}, fmt.Errorf("flat culler: %w", err)
	}
	q := c.dev.GetQueue()
	q.Submit(cb)
	res := countersFrom(q.ReadBuffer(c.results, 0, kernels.CullResultWords))
	if res.Visible == 0 {
		return nil, res, nil
	}
	ids := q.ReadBuffer(out, 0, int(res.Visible))
	c.log.Debugf("flat cull: %d visible, %d culled of %d", res.Visible, res.Culled, res.Total)
	return ids, res, nil
}
