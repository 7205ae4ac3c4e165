package kernels

import (
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/device"
)

const (
	HiZSrcBinding    = 0
	HiZDstBinding    = 1
	HiZParamsBinding = 2
)

// HiZReduceWorkgroup is the 2D workgroup edge of the reduction kernel.
const HiZReduceWorkgroup = 8

// HiZReduceDescriptor writes each texel of the destination level as the
// farthest of the 2x2 block below it. Params: word 0 is the depth compare.
func HiZReduceDescriptor() *device.ComputePipelineDescriptor {
	return &device.ComputePipelineDescriptor{
		Label:         "hiz reduce",
		Kernel:        hizReduce,
		WorkgroupSize: [3]uint32{HiZReduceWorkgroup, HiZReduceWorkgroup, 1},
		Layout: []device.BindGroupLayoutEntry{
			{Binding: HiZSrcBinding, Type: device.BindingStorageTexture},
			{Binding: HiZDstBinding, Type: device.BindingStorageTexture},
			{Binding: HiZParamsBinding, Type: device.BindingUniformBuffer},
		},
	}
}

func hizReduce(inv *device.Invocation) {
	dst := inv.View(HiZDstBinding)
	x, y := int(inv.GlobalID[0]), int(inv.GlobalID[1])
	if x >= dst.Width() || y >= dst.Height() {
		return
	}
	src := inv.View(HiZSrcBinding)
	cmp := core.DepthCompare(inv.Buffer(HiZParamsBinding).Load(0))
	sx, sy := 2*x, 2*y
	d := cmp.Farthest(
		cmp.Farthest(src.LoadFloatClamped(sx, sy), src.LoadFloatClamped(sx+1, sy)),
		cmp.Farthest(src.LoadFloatClamped(sx, sy+1), src.LoadFloatClamped(sx+1, sy+1)),
	)
	dst.StoreFloat(x, y, d)
}

// Groups2D covers a w x h image with 2D workgroups of edge size.
func Groups2D(w, h int, size uint32) (uint32, uint32) {
	return Groups1D(w, size), Groups1D(h, size)
}
