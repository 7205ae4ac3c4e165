// Package raster draws indexed triangle meshes into a color and depth target
// on the software device.
package raster

import (
	"fmt"

	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/device"
	"github.com/gekko3d/hizcull/hizrt/rt/kernels"
	"github.com/go-gl/mathgl/mgl32"
)

type Options struct {
	Width   int
	Height  int
	Compare core.DepthCompare
	Logger  hizcull.Logger
}

type Rasterizer struct {
	dev     *device.Device
	queue   *device.Queue
	log     hizcull.Logger
	compare core.DepthCompare

	width, height int
	color, depth  *device.Texture

	clearColor mgl32.Vec4
	baseColor  mgl32.Vec4
	light      mgl32.Vec3
	ambient    float32
	shade      kernels.ShadeMode
	objectID   uint32
	model      mgl32.Mat4
	view       mgl32.Mat4
	proj       mgl32.Mat4

	clearPipe *device.ComputePipeline
	xformPipe *device.ComputePipeline
	scanPipe  *device.ComputePipeline

	clearParams *device.Buffer
	drawParams  *device.Buffer
	vertices    *device.Buffer

	clearBG  *device.BindGroup
	scanBG   *device.BindGroup
	geometry *core.ModelBuffers
	xformBGs map[*core.ModelBuffers]*device.BindGroup
}

func New(dev *device.Device, opts Options) (*Rasterizer, error) {
	r := &Rasterizer{
		dev:        dev,
		queue:      dev.GetQueue(),
		log:        hizcull.OrNop(opts.Logger),
		compare:    opts.Compare,
		clearColor: mgl32.Vec4{0.2, 0.3, 0.5, 1},
		baseColor:  mgl32.Vec4{0.8, 0.8, 0.8, 1},
		light:      mgl32.Vec3{-1, -1, -1}.Normalize(),
		ambient:    0.2,
		model:      mgl32.Ident4(),
		view:       mgl32.Ident4(),
		proj:       mgl32.Ident4(),
		xformBGs:   make(map[*core.ModelBuffers]*device.BindGroup),
	}
	var err error
	if r.clearPipe, err = dev.CreateComputePipeline(kernels.ClearDescriptor()); err != nil {
		return nil, fmt.Errorf("raster: %w", err)
	}
	if r.xformPipe, err = dev.CreateComputePipeline(kernels.TransformDescriptor()); err != nil {
		return nil, fmt.Errorf("raster: %w", err)
	}
	if r.scanPipe, err = dev.CreateComputePipeline(kernels.ScanlineDescriptor()); err != nil {
		return nil, fmt.Errorf("raster: %w", err)
	}
	r.clearParams = dev.CreateBuffer(&device.BufferDescriptor{Label: "clear params", Size: kernels.ClearParamWords})
	r.drawParams = dev.CreateBuffer(&device.BufferDescriptor{Label: "draw params", Size: kernels.DrawParamWords})
	r.vertices = dev.CreateBuffer(&device.BufferDescriptor{Label: "screen vertices", Size: 3 * kernels.VertexWords})
	if err := r.SetViewport(opts.Width, opts.Height); err != nil {
		return nil, err
	}
	return r, nil
}

// SetViewport reallocates the targets. Contents are undefined until the next clear.
func (r *Rasterizer) SetViewport(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("raster: invalid viewport %dx%d", width, height)
	}
	if width == r.width && height == r.height && r.color != nil {
		return nil
	}
	color, err := r.dev.CreateTexture(&device.TextureDescriptor{Label: "color target", Width: width, Height: height, Format: device.TextureFormatRGBA8Unorm})
	if err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	depth, err := r.dev.CreateTexture(&device.TextureDescriptor{Label: "depth target", Width: width, Height: height, Format: device.TextureFormatR32Float})
	if err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	clearBG, err := r.dev.CreateBindGroup(&device.BindGroupDescriptor{
		Label:  "clear",
		Layout: r.clearPipe.GetBindGroupLayout(0),
		Entries: []device.BindGroupEntry{
			{Binding: kernels.RasterParamsBinding, Buffer: r.clearParams},
			{Binding: kernels.RasterColorBinding, TextureView: color.Level(0)},
			{Binding: kernels.RasterDepthBinding, TextureView: depth.Level(0)},
		},
	})
	if err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	r.width, r.height = width, height
	r.color, r.depth = color, depth
	r.clearBG = clearBG
	r.scanBG = nil
	r.log.Debugf("viewport %dx%d", width, height)
	return nil
}

func (r *Rasterizer) Size() (int, int)                 { return r.width, r.height }
func (r *Rasterizer) ColorTarget() *device.Texture     { return r.color }
func (r *Rasterizer) DepthTarget() *device.Texture     { return r.depth }
func (r *Rasterizer) DepthCompare() core.DepthCompare  { return r.compare }
func (r *Rasterizer) Device() *device.Device           { return r.dev }
func (r *Rasterizer) SetClearColor(c mgl32.Vec4)       { r.clearColor = c }
func (r *Rasterizer) SetBaseColor(c mgl32.Vec4)        { r.baseColor = c }
func (r *Rasterizer) SetShadeMode(m kernels.ShadeMode) { r.shade = m }
func (r *Rasterizer) SetObjectID(id uint32)            { r.objectID = id }
func (r *Rasterizer) SetMatrixModel(m mgl32.Mat4)      { r.model = m }
func (r *Rasterizer) SetMatrixView(m mgl32.Mat4)       { r.view = m }
func (r *Rasterizer) SetMatrixProj(m mgl32.Mat4)       { r.proj = m }
func (r *Rasterizer) ViewProj() mgl32.Mat4             { return r.proj.Mul4(r.view) }
func (r *Rasterizer) SetGeometry(b *core.ModelBuffers) { r.geometry = b }

// SetLight sets the direction light travels in, world space.
func (r *Rasterizer) SetLight(dir mgl32.Vec3) {
	if dir.Len() > 0 {
		r.light = dir.Normalize()
	}
}

// ClearBuffers fills color with the clear color and depth with the clear depth
// of the active compare direction.
func (r *Rasterizer) ClearBuffers() error {
	r.queue.WriteBuffer(r.clearParams, 0, []uint32{
		kernels.PackRGBA8(r.clearColor),
		device.Float32Bits(r.compare.ClearDepth()),
	})
	gx, gy := kernels.Groups2D(r.width, r.height, 8)
	enc := r.dev.CreateCommandEncoder("clear")
	pass := enc.BeginComputePass("clear")
	pass.SetPipeline(r.clearPipe)
	pass.SetBindGroup(0, r.clearBG)
	pass.DispatchWorkgroups(gx, gy, 1)
	if err := pass.End(); err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	enc.MemoryBarrier(device.BarrierAll)
	return r.submit(enc)
}

func (r *Rasterizer) submit(enc *device.CommandEncoder) error {
	cb, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	r.queue.Submit(cb)
	return nil
}

func (r *Rasterizer) ensureVertices(count int) {
	need := count * kernels.VertexWords
	if r.vertices.Size() >= need {
		return
	}
	r.vertices = r.dev.CreateBuffer(&device.BufferDescriptor{Label: "screen vertices", Size: need})
	r.scanBG = nil
	clear(r.xformBGs)
}

func (r *Rasterizer) bindGroups() (*device.BindGroup, *device.BindGroup, error) {
	xform, ok := r.xformBGs[r.geometry]
	if !ok {
		var err error
		xform, err = r.dev.CreateBindGroup(&device.BindGroupDescriptor{
			Label:  "transform",
			Layout: r.xformPipe.GetBindGroupLayout(0),
			Entries: []device.BindGroupEntry{
				{Binding: kernels.RasterParamsBinding, Buffer: r.drawParams},
				{Binding: kernels.RasterPositionsBinding, Buffer: r.geometry.Positions},
				{Binding: kernels.RasterNormalsBinding, Buffer: r.geometry.Normals},
				{Binding: kernels.RasterIndicesBinding, Buffer: r.geometry.Indices},
				{Binding: kernels.RasterVerticesBinding, Buffer: r.vertices},
			},
		})
		if err != nil {
			return nil, nil, err
		}
		r.xformBGs[r.geometry] = xform
	}
	if r.scanBG == nil {
		scan, err := r.dev.CreateBindGroup(&device.BindGroupDescriptor{
			Label:  "scanline",
			Layout: r.scanPipe.GetBindGroupLayout(0),
			Entries: []device.BindGroupEntry{
				{Binding: kernels.RasterParamsBinding, Buffer: r.drawParams},
				{Binding: kernels.RasterColorBinding, TextureView: r.color.Level(0)},
				{Binding: kernels.RasterDepthBinding, TextureView: r.depth.Level(0)},
				{Binding: kernels.RasterVerticesBinding, Buffer: r.vertices},
			},
		})
		if err != nil {
			return nil, nil, err
		}
		r.scanBG = scan
	}
	return xform, r.scanBG, nil
}

func (r *Rasterizer) drawParamWords(count, firstIndex, vertexOffset int) []uint32 {
	w := make([]uint32, kernels.DrawParamWords)
	device.PutMat4(w[kernels.DrawModel:], r.model)
	device.PutMat4(w[kernels.DrawViewProj:], r.ViewProj())
	device.PutMat4(w[kernels.DrawNormalMat:], r.model.Inv().Transpose())
	w[kernels.DrawWidth] = uint32(r.width)
	w[kernels.DrawHeight] = uint32(r.height)
	w[kernels.DrawCompare] = uint32(r.compare)
	w[kernels.DrawFirstIndex] = uint32(firstIndex)
	w[kernels.DrawIndexCount] = uint32(count)
	w[kernels.DrawVertexOff] = uint32(int32(vertexOffset))
	w[kernels.DrawShadeMode] = uint32(r.shade)
	w[kernels.DrawObjectID] = r.objectID
	device.PutVec3(w[kernels.DrawLightDir:], r.light)
	w[kernels.DrawAmbient] = device.Float32Bits(r.ambient)
	w[kernels.DrawBaseColor] = kernels.PackRGBA8(r.baseColor)
	return w
}

// DrawIndexed draws count indices starting at firstIndex from the current
// geometry with the current model matrix. A barrier follows each dispatch.
func (r *Rasterizer) DrawIndexed(count, firstIndex, vertexOffset int) error {
	if r.geometry == nil {
		return fmt.Errorf("raster: draw without geometry")
	}
	count -= count % 3
	if count <= 0 {
		return nil
	}
	r.ensureVertices(count)
	xform, scan, err := r.bindGroups()
	if err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	r.queue.WriteBuffer(r.drawParams, 0, r.drawParamWords(count, firstIndex, vertexOffset))

	enc := r.dev.CreateCommandEncoder("draw")
	pass := enc.BeginComputePass("transform")
	pass.SetPipeline(r.xformPipe)
	pass.SetBindGroup(0, xform)
	pass.DispatchWorkgroups(kernels.Groups1D(count, kernels.RasterWorkgroup), 1, 1)
	if err := pass.End(); err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	enc.MemoryBarrier(device.BarrierStorage)
	pass = enc.BeginComputePass("scanline")
	pass.SetPipeline(r.scanPipe)
	pass.SetBindGroup(0, scan)
	pass.DispatchWorkgroups(kernels.Groups1D(r.height, kernels.RasterWorkgroup), 1, 1)
	if err := pass.End(); err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	enc.MemoryBarrier(device.BarrierAll)
	return r.submit(enc)
}

// DrawModel draws every index of m with the current model matrix.
func (r *Rasterizer) DrawModel(m *core.Model) error {
	if m.Buffers() == nil {
		m.Upload(r.dev)
	}
	r.SetGeometry(m.Buffers())
	return r.DrawIndexed(m.IndexCount(), 0, 0)
}

// ReadColor blocks until prior draws finish and returns the color target, row-major.
func (r *Rasterizer) ReadColor() []uint32 {
	return r.queue.ReadTexture(r.color.Level(0))
}

// ReadDepth blocks until prior draws finish and returns the depth target, row-major.
func (r *Rasterizer) ReadDepth() []float32 {
	words := r.queue.ReadTexture(r.depth.Level(0))
	out := make([]float32, len(words))
	for i, w := range words {
		out[i] = device.Float32FromBits(w)
	}
	return out
}
