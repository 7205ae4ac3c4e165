package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/hiz"
	"github.com/gekko3d/hizcull/hizrt/rt/kernels"
	"github.com/gekko3d/hizcull/hizrt/rt/shaders"
)

// Pyramid is the Hi-Z mip chain on the WebGPU device. Level 0 is uploaded
// from the rasterizer's depth and the reduce kernel writes the rest.
type Pyramid struct {
	ctx     *Context
	log     hizcull.Logger
	compare core.DepthCompare

	reduce *kernel
	params *wgpu.Buffer

	width, height int
	levels        int
	tex           *wgpu.Texture
	chain         *wgpu.TextureView   // every level, bound by the cull kernels
	views         []*wgpu.TextureView // one per level
	bindGroups    []*wgpu.BindGroup   // bindGroups[k] reduces level k-1 into k
	valid         bool
}

func NewPyramid(ctx *Context, compare core.DepthCompare, log hizcull.Logger) (*Pyramid, error) {
	reduce, err := ctx.newKernel("Hi-Z Reduce", shaders.HiZReduceWGSL, "main",
		depthTextureEntry(kernels.HiZSrcBinding),
		wgpu.BindGroupLayoutEntry{
			Binding:    kernels.HiZDstBinding,
			Visibility: wgpu.ShaderStageCompute,
			StorageTexture: wgpu.StorageTextureBindingLayout{
				Access:        wgpu.StorageTextureAccessWriteOnly,
				Format:        wgpu.TextureFormatR32Float,
				ViewDimension: wgpu.TextureViewDimension2D,
			},
		},
		uniformEntry(kernels.HiZParamsBinding),
	)
	if err != nil {
		return nil, err
	}
	params, err := ctx.createBufferInit("Hi-Z Params", []uint32{uint32(compare), 0, 0, 0}, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	if err != nil {
		reduce.Release()
		return nil, err
	}
	return &Pyramid{
		ctx:     ctx,
		log:     hizcull.OrNop(log),
		compare: compare,
		reduce:  reduce,
		params:  params,
	}, nil
}

// Ensure reallocates the chain for a w x h target. After a reallocation the
// pyramid holds no depth until the next Rebuild.
func (p *Pyramid) Ensure(w, h int) (bool, error) {
	if p.tex != nil && p.width == w && p.height == h {
		return false, nil
	}
	if w <= 0 || h <= 0 {
		return false, fmt.Errorf("gpu: pyramid size %dx%d", w, h)
	}
	p.releaseChain()
	levels := hiz.LevelCount(w, h)
	tex, err := p.ctx.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Hi-Z Pyramid",
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageStorageBinding | wgpu.TextureUsageCopyDst | wgpu.TextureUsageCopySrc,
		Dimension:     wgpu.TextureDimension2D,
		Size:          wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
		Format:        wgpu.TextureFormatR32Float,
		MipLevelCount: uint32(levels),
		SampleCount:   1,
	})
	if err != nil {
		return false, fmt.Errorf("gpu: pyramid texture: %w", err)
	}
	p.tex, p.levels = tex, levels

	if p.chain, err = p.view("Hi-Z Chain", 0, levels); err != nil {
		p.releaseChain()
		return false, err
	}
	p.views = make([]*wgpu.TextureView, levels)
	for k := range p.views {
		if p.views[k], err = p.view(fmt.Sprintf("Hi-Z Mip %d", k), k, 1); err != nil {
			p.releaseChain()
			return false, err
		}
	}
	p.bindGroups = make([]*wgpu.BindGroup, levels)
	for k := 1; k < levels; k++ {
		p.bindGroups[k], err = p.ctx.bind(p.reduce, fmt.Sprintf("Hi-Z Reduce %d", k),
			textureBinding(kernels.HiZSrcBinding, p.views[k-1]),
			textureBinding(kernels.HiZDstBinding, p.views[k]),
			bufferBinding(kernels.HiZParamsBinding, p.params),
		)
		if err != nil {
			p.releaseChain()
			return false, err
		}
	}
	p.width, p.height = w, h
	p.valid = false
	p.log.Debugf("pyramid reallocated %dx%d, %d levels", w, h, levels)
	return true, nil
}

func (p *Pyramid) view(label string, base, count int) (*wgpu.TextureView, error) {
	v, err := p.tex.CreateView(&wgpu.TextureViewDescriptor{
		Label:           label,
		Format:          wgpu.TextureFormatR32Float,
		Dimension:       wgpu.TextureViewDimension2D,
		BaseMipLevel:    uint32(base),
		MipLevelCount:   uint32(count),
		BaseArrayLayer:  0,
		ArrayLayerCount: 1,
		Aspect:          wgpu.TextureAspectAll,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: %s view: %w", label, err)
	}
	return v, nil
}

// Rebuild uploads the depth of src into level 0 and reduces every level in
// one compute pass.
func (p *Pyramid) Rebuild(src hiz.DepthSource) error {
	w, h := src.Size()
	if _, err := p.Ensure(w, h); err != nil {
		return err
	}
	depth := src.ReadDepth()
	if len(depth) != w*h {
		return fmt.Errorf("gpu: depth has %d texels, want %d", len(depth), w*h)
	}
	err := p.ctx.queue.WriteTexture(
		&wgpu.ImageCopyTexture{Texture: p.tex, MipLevel: 0, Aspect: wgpu.TextureAspectAll},
		wgpu.ToBytes(depth),
		&wgpu.TextureDataLayout{BytesPerRow: uint32(4 * w), RowsPerImage: uint32(h)},
		&wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
	)
	if err != nil {
		return fmt.Errorf("gpu: upload depth: %w", err)
	}
	p.ctx.stats.Copies++

	enc, err := p.ctx.encoder("Hi-Z Build")
	if err != nil {
		return err
	}
	pass := enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: "Hi-Z Pass"})
	pass.SetPipeline(p.reduce.pipeline)
	lw, lh := w, h
	for k := 1; k < p.levels; k++ {
		lw, lh = max(1, (lw+1)/2), max(1, (lh+1)/2)
		gx, gy := kernels.Groups2D(lw, lh, kernels.HiZReduceWorkgroup)
		pass.SetBindGroup(0, p.bindGroups[k], nil)
		pass.DispatchWorkgroups(gx, gy, 1)
		p.ctx.stats.Dispatches++
		p.ctx.stats.Workgroups += uint64(gx) * uint64(gy)
	}
	err = pass.End()
	pass.Release()
	if err != nil {
		enc.Release()
		return fmt.Errorf("gpu: hi-z pass: %w", err)
	}
	if err := p.ctx.submit(enc); err != nil {
		return err
	}
	p.valid = true
	return nil
}

// ReadLevel copies one level back, row-major. Tests compare it with the
// software pyramid.
func (p *Pyramid) ReadLevel(k int) ([]float32, int, int, error) {
	if p.tex == nil || k < 0 || k >= p.levels {
		return nil, 0, 0, fmt.Errorf("gpu: no pyramid level %d", k)
	}
	sizes := hiz.LevelSizes(p.width, p.height)
	lw, lh := sizes[k][0], sizes[k][1]
	// Copies out of a texture need 256-byte rows.
	row := (4*lw + wgpu.CopyBytesPerRowAlignment - 1) / wgpu.CopyBytesPerRowAlignment * wgpu.CopyBytesPerRowAlignment
	staging, err := p.ctx.createBuffer("Hi-Z Level Readback", row/4*lh, wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst)
	if err != nil {
		return nil, 0, 0, err
	}
	defer staging.Release()
	enc, err := p.ctx.encoder("Hi-Z Level Copy")
	if err != nil {
		return nil, 0, 0, err
	}
	err = enc.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{Texture: p.tex, MipLevel: uint32(k), Aspect: wgpu.TextureAspectAll},
		&wgpu.ImageCopyBuffer{Buffer: staging, Layout: wgpu.TextureDataLayout{BytesPerRow: uint32(row), RowsPerImage: uint32(lh)}},
		&wgpu.Extent3D{Width: uint32(lw), Height: uint32(lh), DepthOrArrayLayers: 1},
	)
	if err != nil {
		enc.Release()
		return nil, 0, 0, fmt.Errorf("gpu: level copy: %w", err)
	}
	p.ctx.stats.Copies++
	if err := p.ctx.submit(enc); err != nil {
		return nil, 0, 0, err
	}
	words, err := p.ctx.readWords(staging, 0, row/4*lh)
	if err != nil {
		return nil, 0, 0, err
	}
	out := make([]float32, 0, lw*lh)
	for y := 0; y < lh; y++ {
		out = append(out, wgpu.FromBytes[float32](wgpu.ToBytes(words[y*row/4:y*row/4+lw]))...)
	}
	return out, lw, lh, nil
}

func (p *Pyramid) Valid() bool                { return p.valid }
func (p *Pyramid) Invalidate()                { p.valid = false }
func (p *Pyramid) Size() (int, int)           { return p.width, p.height }
func (p *Pyramid) LevelCount() int            { return p.levels }
func (p *Pyramid) Compare() core.DepthCompare { return p.compare }

// Chain is the view the cull kernels sample.
func (p *Pyramid) Chain() *wgpu.TextureView { return p.chain }

func (p *Pyramid) releaseChain() {
	for _, bg := range p.bindGroups {
		if bg != nil {
			bg.Release()
		}
	}
	for _, v := range p.views {
		if v != nil {
			v.Release()
		}
	}
	if p.chain != nil {
		p.chain.Release()
	}
	if p.tex != nil {
		p.tex.Release()
	}
	p.bindGroups, p.views, p.chain, p.tex = nil, nil, nil, nil
	p.width, p.height, p.levels = 0, 0, 0
	p.valid = false
}

func (p *Pyramid) Release() {
	p.releaseChain()
	if p.params != nil {
		p.params.Release()
		p.params = nil
	}
	p.reduce.Release()
	p.reduce = nil
}
