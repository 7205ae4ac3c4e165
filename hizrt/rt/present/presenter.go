// Package present shows finished frames in a window: each frame is uploaded
// to a WebGPU texture and blitted to the window surface.
package present

import (
	"fmt"
	"image"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/shaders"
	"github.com/go-gl/glfw/v3.3/glfw"
)

type Presenter struct {
	log hizcull.Logger

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	surface  *wgpu.Surface
	config   *wgpu.SurfaceConfiguration

	pipeline *wgpu.RenderPipeline
	sampler  *wgpu.Sampler

	frame     *wgpu.Texture
	frameView *wgpu.TextureView
	bindGroup *wgpu.BindGroup
	frameSize image.Point
}

func NewPresenter(window *glfw.Window, log hizcull.Logger) (*Presenter, error) {
	p := &Presenter{log: hizcull.OrNop(log)}
	p.instance = wgpu.CreateInstance(nil)
	p.surface = p.instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(window))

	adapter, err := p.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: p.surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		p.Release()
		return nil, fmt.Errorf("present: request adapter: %w", err)
	}
	p.adapter = adapter

	if p.device, err = adapter.RequestDevice(nil); err != nil {
		p.Release()
		return nil, fmt.Errorf("present: request device: %w", err)
	}
	p.queue = p.device.GetQueue()

	width, height := window.GetFramebufferSize()
	caps := p.surface.GetCapabilities(adapter)
	p.config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(max(width, 1)),
		Height:      uint32(max(height, 1)),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	p.surface.Configure(p.adapter, p.device, p.config)

	if err := p.createPipeline(); err != nil {
		p.Release()
		return nil, err
	}
	p.log.Infof("surface %dx%d, format %v", p.config.Width, p.config.Height, p.config.Format)
	return p, nil
}

func (p *Presenter) createPipeline() error {
	module, err := p.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Fullscreen VS/FS",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.FullscreenWGSL},
	})
	if err != nil {
		return fmt.Errorf("present: shader module: %w", err)
	}
	defer module.Release()

	p.pipeline, err = p.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: "Blit Pipeline",
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format:    p.config.Format,
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("present: blit pipeline: %w", err)
	}

	p.sampler, err = p.device.CreateSampler(&wgpu.SamplerDescriptor{
		MinFilter:     wgpu.FilterModeNearest,
		MagFilter:     wgpu.FilterModeNearest,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return fmt.Errorf("present: sampler: %w", err)
	}
	return nil
}

// Resize reconfigures the surface. Zero sizes (minimized windows) are ignored.
func (p *Presenter) Resize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	p.config.Width = uint32(w)
	p.config.Height = uint32(h)
	p.surface.Configure(p.adapter, p.device, p.config)
}

// ensureFrame recreates the frame texture and its bind group when the image
// size changes.
func (p *Presenter) ensureFrame(size image.Point) error {
	if p.frame != nil && p.frameSize == size {
		return nil
	}
	p.releaseFrame()

	var err error
	p.frame, err = p.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Frame",
		Size:          wgpu.Extent3D{Width: uint32(size.X), Height: uint32(size.Y), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatRGBA8Unorm,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("present: frame texture: %w", err)
	}
	if p.frameView, err = p.frame.CreateView(nil); err != nil {
		return fmt.Errorf("present: frame view: %w", err)
	}
	p.bindGroup, err = p.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout: p.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: p.frameView},
			{Binding: 1, Sampler: p.sampler},
		},
	})
	if err != nil {
		return fmt.Errorf("present: frame bind group: %w", err)
	}
	p.frameSize = size
	return nil
}

// Present uploads img and draws it over the whole surface.
func (p *Presenter) Present(img *image.RGBA) error {
	size := img.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return nil
	}
	if err := p.ensureFrame(size); err != nil {
		return err
	}
	p.queue.WriteTexture(p.frame.AsImageCopy(), img.Pix, &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  uint32(img.Stride),
		RowsPerImage: uint32(size.Y),
	}, &wgpu.Extent3D{Width: uint32(size.X), Height: uint32(size.Y), DepthOrArrayLayers: 1})

	next, err := p.surface.GetCurrentTexture()
	if err != nil {
		return fmt.Errorf("present: surface texture: %w", err)
	}
	defer next.Release()
	view, err := next.CreateView(nil)
	if err != nil {
		return fmt.Errorf("present: surface view: %w", err)
	}
	defer view.Release()

	encoder, err := p.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("present: command encoder: %w", err)
	}
	defer encoder.Release()
	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, p.bindGroup, nil)
	pass.Draw(3, 1, 0, 0)
	if err := pass.End(); err != nil {
		return fmt.Errorf("present: blit pass: %w", err)
	}
	pass.Release()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("present: finish: %w", err)
	}
	defer cmd.Release()
	p.queue.Submit(cmd)
	p.surface.Present()
	return nil
}

func (p *Presenter) releaseFrame() {
	if p.bindGroup != nil {
		p.bindGroup.Release()
		p.bindGroup = nil
	}
	if p.frameView != nil {
		p.frameView.Release()
		p.frameView = nil
	}
	if p.frame != nil {
		p.frame.Release()
		p.frame = nil
	}
}

func (p *Presenter) Release() {
	p.releaseFrame()
	if p.sampler != nil {
		p.sampler.Release()
	}
	if p.pipeline != nil {
		p.pipeline.Release()
	}
	if p.device != nil {
		p.device.Release()
	}
	if p.adapter != nil {
		p.adapter.Release()
	}
	if p.surface != nil {
		p.surface.Release()
	}
	if p.instance != nil {
		p.instance.Release()
	}
}
