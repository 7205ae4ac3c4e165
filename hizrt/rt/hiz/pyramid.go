// Package hiz builds the hierarchical depth pyramid used by the occlusion cullers.
package hiz

import (
	"fmt"

	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/device"
	"github.com/gekko3d/hizcull/hizrt/rt/kernels"
)

// DepthSource is the depth target a pyramid is built from.
type DepthSource interface {
	Size() (int, int)
	// DepthTarget is the target on the software device.
	DepthTarget() *device.Texture
	// ReadDepth waits for pending draws and returns the depth row-major.
	ReadDepth() []float32
}

// Pyramid is an R32F mip chain of the last frame's depth. Level 0 is a copy
// of the depth target, level k the farthest depth of each 2x2 block of level k-1.
type Pyramid struct {
	dev     *device.Device
	log     hizcull.Logger
	compare core.DepthCompare

	width, height int
	tex           *device.Texture
	valid         bool

	pipeline   *device.ComputePipeline
	params     *device.Buffer
	bindGroups []*device.BindGroup // bindGroups[k] reduces level k-1 into k
}

func New(dev *device.Device, compare core.DepthCompare, log hizcull.Logger) (*Pyramid, error) {
	pipeline, err := dev.CreateComputePipeline(kernels.HiZReduceDescriptor())
	if err != nil {
		return nil, fmt.Errorf("hiz: %w", err)
	}
	return &Pyramid{
		dev:      dev,
		log:      hizcull.OrNop(log),
		compare:  compare,
		pipeline: pipeline,
		params:   dev.CreateBuffer(&device.BufferDescriptor{Label: "hiz params", Contents: []uint32{uint32(compare)}}),
	}, nil
}

// LevelCount is ceil(log2(max(w, h))) + 1.
func LevelCount(w, h int) int {
	return device.MipLevelCount(w, h)
}

// LevelSizes lists every level's dimensions for a w x h base.
func LevelSizes(w, h int) [][2]int {
	n := LevelCount(w, h)
	out := make([][2]int, n)
	for i := range out {
		lw, lh := device.MipSize(w, h, i)
		out[i] = [2]int{lw, lh}
	}
	return out
}

// Ensure allocates the pyramid for a w x h target. It returns true when it
// had to reallocate, in which case the pyramid holds no usable depth until
// the next Build.
func (p *Pyramid) Ensure(w, h int) (bool, error) {
	if p.tex != nil && p.width == w && p.height == h {
		return false, nil
	}
	tex, err := p.dev.CreateTexture(&device.TextureDescriptor{
		Label:         "hi-z pyramid",
		Width:         w,
		Height:        h,
		MipLevelCount: LevelCount(w, h),
		Format:        device.TextureFormatR32Float,
	})
	if err != nil {
		return false, fmt.Errorf("hiz: %w", err)
	}
	bindGroups := make([]*device.BindGroup, tex.MipLevelCount())
	layout := p.pipeline.GetBindGroupLayout(0)
	for k := 1; k < tex.MipLevelCount(); k++ {
		bg, err := p.dev.CreateBindGroup(&device.BindGroupDescriptor{
			Label:  fmt.Sprintf("hiz level %d", k),
			Layout: layout,
			Entries: []device.BindGroupEntry{
				{Binding: kernels.HiZSrcBinding, TextureView: tex.Level(k - 1)},
				{Binding: kernels.HiZDstBinding, TextureView: tex.Level(k)},
				{Binding: kernels.HiZParamsBinding, Buffer: p.params},
			},
		})
		if err != nil {
			return false, fmt.Errorf("hiz: %w", err)
		}
		bindGroups[k] = bg
	}
	p.tex = tex
	p.width, p.height = w, h
	p.bindGroups = bindGroups
	p.valid = false
	p.log.Debugf("pyramid reallocated %dx%d, %d levels", w, h, tex.MipLevelCount())
	return true, nil
}

// Encode records the copy of depth into level 0 followed by one reduction
// per level, each separated by a barrier.
func (p *Pyramid) Encode(enc *device.CommandEncoder, depth *device.Texture) error {
	if p.tex == nil {
		return fmt.Errorf("hiz: encode before Ensure")
	}
	if depth.Width() != p.width || depth.Height() != p.height {
		return fmt.Errorf("hiz: depth target %dx%d does not match pyramid %dx%d", depth.Width(), depth.Height(), p.width, p.height)
	}
	enc.CopyTextureToTexture(depth.Level(0), p.tex.Level(0))
	enc.MemoryBarrier(device.BarrierImage)
	for k := 1; k < p.tex.MipLevelCount(); k++ {
		lvl := p.tex.Level(k)
		gx, gy := kernels.Groups2D(lvl.Width(), lvl.Height(), kernels.HiZReduceWorkgroup)
		pass := enc.BeginComputePass(fmt.Sprintf("hiz level %d", k))
		pass.SetPipeline(p.pipeline)
		pass.SetBindGroup(0, p.bindGroups[k])
		pass.DispatchWorkgroups(gx, gy, 1)
		if err := pass.End(); err != nil {
			return fmt.Errorf("hiz: %w", err)
		}
		enc.MemoryBarrier(device.BarrierImage)
	}
	return nil
}

// Build rebuilds the pyramid from depth, reallocating on a size change, and
// submits the work.
func (p *Pyramid) Build(depth *device.Texture) error {
	if _, err := p.Ensure(depth.Width(), depth.Height()); err != nil {
		return err
	}
	enc := p.dev.CreateCommandEncoder("hiz build")
	if err := p.Encode(enc, depth); err != nil {
		return err
	}
	cb, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("hiz: %w", err)
	}
	p.dev.GetQueue().Submit(cb)
	p.valid = true
	return nil
}

// Rebuild builds from the current depth target of src.
func (p *Pyramid) Rebuild(src DepthSource) error {
	return p.Build(src.DepthTarget())
}

// Valid reports whether the pyramid holds depth built at its current size.
func (p *Pyramid) Valid() bool { return p.valid }

// Invalidate forces the next cull to treat the pyramid as empty.
func (p *Pyramid) Invalidate() { p.valid = false }

func (p *Pyramid) Texture() *device.Texture   { return p.tex }
func (p *Pyramid) Size() (int, int)           { return p.width, p.height }
func (p *Pyramid) Compare() core.DepthCompare { return p.compare }

func (p *Pyramid) LevelCount() int {
	if p.tex == nil {
		return 0
	}
	return p.tex.MipLevelCount()
}

// Release drops the mip chain and its bind groups.
func (p *Pyramid) Release() {
	p.tex = nil
	p.bindGroups = nil
	p.width, p.height = 0, 0
	p.valid = false
}
