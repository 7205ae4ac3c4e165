// Package gpu runs the Hi-Z reduce and cull kernels as WGSL compute
// pipelines on a headless WebGPU device. It implements cull.Backend.
package gpu

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/device"
)

var (
	// ErrNoAdapter is returned when no WebGPU adapter can run compute work.
	ErrNoAdapter = errors.New("gpu: no adapter")
	ErrMapFailed = errors.New("gpu: buffer map failed")
)

// maxPolls bounds the wait for a buffer map.
const maxPolls = 1 << 16

// Context is a headless WebGPU device for the cull kernels.
type Context struct {
	log hizcull.Logger

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	stats device.Stats
}

func NewContext(log hizcull.Logger) (*Context, error) {
	c := &Context{log: hizcull.OrNop(log)}
	c.instance = wgpu.CreateInstance(nil)
	adapter, err := c.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil || adapter == nil {
		c.Release()
		return nil, fmt.Errorf("%w: %v", ErrNoAdapter, err)
	}
	c.adapter = adapter
	if c.device, err = adapter.RequestDevice(&wgpu.DeviceDescriptor{Label: "hi-z compute"}); err != nil {
		c.Release()
		return nil, fmt.Errorf("gpu: request device: %w", err)
	}
	c.queue = c.device.GetQueue()
	info := adapter.GetInfo()
	c.log.Infof("compute adapter %s (%v)", info.Name, info.BackendType)
	return c, nil
}

// Stats counts the work recorded on this context, in the software device's terms.
func (c *Context) Stats() device.Stats { return c.stats }

func (c *Context) Release() {
	if c.queue != nil {
		c.queue.Release()
		c.queue = nil
	}
	if c.device != nil {
		c.device.Release()
		c.device = nil
	}
	if c.adapter != nil {
		c.adapter.Release()
		c.adapter = nil
	}
	if c.instance != nil {
		c.instance.Release()
		c.instance = nil
	}
}

func (c *Context) createBuffer(label string, words int, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	buf, err := c.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  uint64(4 * max(words, 1)),
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: buffer %q: %w", label, err)
	}
	return buf, nil
}

func (c *Context) createBufferInit(label string, words []uint32, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	if len(words) == 0 {
		words = []uint32{0}
	}
	buf, err := c.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: wgpu.ToBytes(words),
		Usage:    usage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: buffer %q: %w", label, err)
	}
	return buf, nil
}

func (c *Context) writeWords(buf *wgpu.Buffer, offset int, words []uint32) error {
	c.stats.Writes++
	return c.queue.WriteBuffer(buf, uint64(4*offset), wgpu.ToBytes(words))
}

func (c *Context) encoder(label string) (*wgpu.CommandEncoder, error) {
	enc, err := c.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("gpu: %s: %w", label, err)
	}
	return enc, nil
}

func (c *Context) submit(enc *wgpu.CommandEncoder) error {
	defer enc.Release()
	cmd, err := enc.Finish(nil)
	if err != nil {
		return fmt.Errorf("gpu: finish: %w", err)
	}
	defer cmd.Release()
	c.queue.Submit(cmd)
	c.stats.Submits++
	return nil
}

// readWords copies count words from src through a staging buffer and blocks
// until the map completes. src needs CopySrc usage.
func (c *Context) readWords(src *wgpu.Buffer, offset, count int) ([]uint32, error) {
	if count <= 0 {
		return nil, nil
	}
	size := uint64(4 * count)
	staging, err := c.createBuffer("readback", count, wgpu.BufferUsageCopyDst|wgpu.BufferUsageMapRead)
	if err != nil {
		return nil, err
	}
	defer staging.Release()

	enc, err := c.encoder("readback")
	if err != nil {
		return nil, err
	}
	if err := enc.CopyBufferToBuffer(src, uint64(4*offset), staging, 0, size); err != nil {
		enc.Release()
		return nil, fmt.Errorf("gpu: readback copy: %w", err)
	}
	c.stats.Copies++
	if err := c.submit(enc); err != nil {
		return nil, err
	}

	done := false
	var status wgpu.BufferMapAsyncStatus
	err = staging.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMapFailed, err)
	}
	for i := 0; !done && i < maxPolls; i++ {
		c.device.Poll(true, nil)
		c.instance.ProcessEvents()
	}
	if !done || status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("%w: %v", ErrMapFailed, status)
	}
	// The mapped range aliases device memory; copy before Unmap.
	out := append([]uint32(nil), wgpu.FromBytes[uint32](staging.GetMappedRange(0, uint(size)))...)
	if err := staging.Unmap(); err != nil {
		return nil, fmt.Errorf("gpu: unmap: %w", err)
	}
	c.stats.Readbacks++
	return out, nil
}

// kernel is a compute pipeline with its explicit bind group layout.
type kernel struct {
	pipeline *wgpu.ComputePipeline
	layout   *wgpu.BindGroupLayout
}

func (c *Context) newKernel(label, code, entry string, entries ...wgpu.BindGroupLayoutEntry) (*kernel, error) {
	module, err := c.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: %s shader: %w", label, err)
	}
	defer module.Release()

	bgl, err := c.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   label + " BGL",
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: %s layout: %w", label, err)
	}
	pl, err := c.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + " PL",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		bgl.Release()
		return nil, fmt.Errorf("gpu: %s pipeline layout: %w", label, err)
	}
	defer pl.Release()

	p, err := c.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label,
		Layout: pl,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: entry,
		},
	})
	if err != nil {
		bgl.Release()
		return nil, fmt.Errorf("gpu: %s pipeline: %w", label, err)
	}
	return &kernel{pipeline: p, layout: bgl}, nil
}

func (c *Context) bind(k *kernel, label string, entries ...wgpu.BindGroupEntry) (*wgpu.BindGroup, error) {
	bg, err := c.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   label,
		Layout:  k.layout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: %s bind group: %w", label, err)
	}
	return bg, nil
}

func (k *kernel) Release() {
	if k == nil {
		return
	}
	k.pipeline.Release()
	k.layout.Release()
}

// dispatch records one compute pass of k.
func (c *Context) dispatch(enc *wgpu.CommandEncoder, label string, k *kernel, bg *wgpu.BindGroup, groups [3]uint32) error {
	pass := enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label})
	defer pass.Release()
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(groups[0], groups[1], groups[2])
	c.stats.Dispatches++
	c.stats.Workgroups += uint64(groups[0]) * uint64(groups[1]) * uint64(groups[2])
	return pass.End()
}

// dispatchIndirect reads the group counts from args at word argsWord.
func (c *Context) dispatchIndirect(enc *wgpu.CommandEncoder, label string, k *kernel, bg *wgpu.BindGroup, args *wgpu.Buffer, argsWord int) error {
	pass := enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label})
	defer pass.Release()
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroupsIndirect(args, uint64(4*argsWord))
	c.stats.Dispatches++
	c.stats.IndirectDispatches++
	return pass.End()
}

func bufferEntry(binding uint32, t wgpu.BufferBindingType) wgpu.BindGroupLayoutEntry {
	return wgpu.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: wgpu.ShaderStageCompute,
		Buffer:     wgpu.BufferBindingLayout{Type: t},
	}
}

func uniformEntry(binding uint32) wgpu.BindGroupLayoutEntry {
	return bufferEntry(binding, wgpu.BufferBindingTypeUniform)
}

func storageEntry(binding uint32) wgpu.BindGroupLayoutEntry {
	return bufferEntry(binding, wgpu.BufferBindingTypeStorage)
}

func readOnlyEntry(binding uint32) wgpu.BindGroupLayoutEntry {
	return bufferEntry(binding, wgpu.BufferBindingTypeReadOnlyStorage)
}

func depthTextureEntry(binding uint32) wgpu.BindGroupLayoutEntry {
	return wgpu.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: wgpu.ShaderStageCompute,
		Texture: wgpu.TextureBindingLayout{
			SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
			ViewDimension: wgpu.TextureViewDimension2D,
		},
	}
}

func bufferBinding(binding uint32, buf *wgpu.Buffer) wgpu.BindGroupEntry {
	return wgpu.BindGroupEntry{Binding: binding, Buffer: buf, Size: wgpu.WholeSize}
}

func textureBinding(binding uint32, view *wgpu.TextureView) wgpu.BindGroupEntry {
	return wgpu.BindGroupEntry{Binding: binding, TextureView: view}
}
