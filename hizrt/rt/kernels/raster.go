package kernels

import (
	"math"

	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/device"
	"github.com/go-gl/mathgl/mgl32"
)

type ShadeMode uint32

const (
	// ShadeLit is lambert shading of the base color.
	ShadeLit ShadeMode = iota
	// ShadeObjectID writes objectID+1 as the raw color word; 0 is background.
	ShadeObjectID
)

// Draw params layout, in words.
const (
	DrawModel       = 0
	DrawViewProj    = 16
	DrawNormalMat   = 32
	DrawWidth       = 48
	DrawHeight      = 49
	DrawCompare     = 50
	DrawFirstIndex  = 51
	DrawIndexCount  = 52
	DrawVertexOff   = 53
	DrawShadeMode   = 54
	DrawObjectID    = 55
	DrawLightDir    = 56
	DrawAmbient     = 59
	DrawBaseColor   = 60
	DrawParamWords  = 61
	VertexWords     = 8
	RasterWorkgroup = 64
)

// Clear params layout.
const (
	ClearColor = iota
	ClearDepth
	ClearParamWords
)

const (
	RasterParamsBinding = iota
	RasterColorBinding
	RasterDepthBinding
	RasterPositionsBinding
	RasterNormalsBinding
	RasterIndicesBinding
	RasterVerticesBinding
)

// PackRGBA8 packs a color as R | G<<8 | B<<16 | A<<24.
func PackRGBA8(c mgl32.Vec4) uint32 {
	var out uint32
	for i := 0; i < 4; i++ {
		out |= uint32(mgl32.Clamp(c[i], 0, 1)*255+0.5) << (8 * i)
	}
	return out
}

func UnpackRGBA8(v uint32) [4]uint8 {
	return [4]uint8{uint8(v), uint8(v >> 8), uint8(v >> 16), uint8(v >> 24)}
}

// ClearDescriptor fills the color and depth targets. 2D dispatch over the target.
func ClearDescriptor() *device.ComputePipelineDescriptor {
	return &device.ComputePipelineDescriptor{
		Label:         "raster clear",
		Kernel:        clearTargets,
		WorkgroupSize: [3]uint32{8, 8, 1},
		Layout: []device.BindGroupLayoutEntry{
			{Binding: RasterParamsBinding, Type: device.BindingUniformBuffer},
			{Binding: RasterColorBinding, Type: device.BindingStorageTexture},
			{Binding: RasterDepthBinding, Type: device.BindingStorageTexture},
		},
	}
}

func clearTargets(inv *device.Invocation) {
	color := inv.View(RasterColorBinding)
	x, y := int(inv.GlobalID[0]), int(inv.GlobalID[1])
	if x >= color.Width() || y >= color.Height() {
		return
	}
	params := inv.Buffer(RasterParamsBinding)
	color.Store(x, y, params.Load(ClearColor))
	inv.View(RasterDepthBinding).Store(x, y, params.Load(ClearDepth))
}

// TransformDescriptor runs one invocation per index and writes a screen-space
// vertex of VertexWords words: x, y, depth, 1/w, normal xyz, valid.
func TransformDescriptor() *device.ComputePipelineDescriptor {
	return &device.ComputePipelineDescriptor{
		Label:         "raster transform",
		Kernel:        transformVertices,
		WorkgroupSize: [3]uint32{RasterWorkgroup, 1, 1},
		Layout: []device.BindGroupLayoutEntry{
			{Binding: RasterParamsBinding, Type: device.BindingUniformBuffer},
			{Binding: RasterPositionsBinding, Type: device.BindingStorageBuffer},
			{Binding: RasterNormalsBinding, Type: device.BindingStorageBuffer},
			{Binding: RasterIndicesBinding, Type: device.BindingStorageBuffer},
			{Binding: RasterVerticesBinding, Type: device.BindingStorageBuffer},
		},
	}
}

func transformVertices(inv *device.Invocation) {
	params := inv.Buffer(RasterParamsBinding)
	i := int(inv.GlobalID[0])
	if i >= int(params.Load(DrawIndexCount)) {
		return
	}
	idx := int(inv.Buffer(RasterIndicesBinding).Load(int(params.Load(DrawFirstIndex))+i)) + int(params.LoadInt(DrawVertexOff))
	pos := inv.Buffer(RasterPositionsBinding).LoadVec3(3 * idx)
	nrm := inv.Buffer(RasterNormalsBinding).LoadVec3(3 * idx)

	model := params.LoadMat4(DrawModel)
	clip := params.LoadMat4(DrawViewProj).Mul4(model).Mul4x1(pos.Vec4(1))
	out := inv.Buffer(RasterVerticesBinding)
	base := i * VertexWords
	if clip.W() <= ClipWEpsilon {
		out.Store(base+7, 0)
		return
	}
	invW := 1 / clip.W()
	ndc := clip.Vec3().Mul(invW)
	w, h := float32(params.Load(DrawWidth)), float32(params.Load(DrawHeight))
	cmp := core.DepthCompare(params.Load(DrawCompare))
	n := params.LoadMat4(DrawNormalMat).Mul4x1(nrm.Vec4(0)).Vec3()
	if l := n.Len(); l > 0 {
		n = n.Mul(1 / l)
	}
	out.StoreFloat(base, (ndc.X()*0.5+0.5)*w)
	out.StoreFloat(base+1, (1-(ndc.Y()*0.5+0.5))*h)
	out.StoreFloat(base+2, cmp.WindowDepth(ndc.Z()))
	out.StoreFloat(base+3, invW)
	out.StoreFloat(base+4, n.X())
	out.StoreFloat(base+5, n.Y())
	out.StoreFloat(base+6, n.Z())
	out.Store(base+7, 1)
}

type screenVertex struct {
	x, y, z float32
	n       mgl32.Vec3
}

func loadVertex(b *device.Buffer, i int) (screenVertex, bool) {
	base := i * VertexWords
	if b.Load(base+7) == 0 {
		return screenVertex{}, false
	}
	return screenVertex{
		x: b.LoadFloat(base),
		y: b.LoadFloat(base + 1),
		z: b.LoadFloat(base + 2),
		n: b.LoadVec3(base + 4),
	}, true
}

// ScanlineDescriptor runs one invocation per target row. Each row is owned by
// a single invocation, so depth test and color write need no atomics.
func ScanlineDescriptor() *device.ComputePipelineDescriptor {
	return &device.ComputePipelineDescriptor{
		Label:         "raster scanline",
		Kernel:        scanline,
		WorkgroupSize: [3]uint32{RasterWorkgroup, 1, 1},
		Layout: []device.BindGroupLayoutEntry{
			{Binding: RasterParamsBinding, Type: device.BindingUniformBuffer},
			{Binding: RasterColorBinding, Type: device.BindingStorageTexture},
			{Binding: RasterDepthBinding, Type: device.BindingStorageTexture},
			{Binding: RasterVerticesBinding, Type: device.BindingStorageBuffer},
		},
	}
}

func scanline(inv *device.Invocation) {
	color := inv.View(RasterColorBinding)
	depth := inv.View(RasterDepthBinding)
	row := int(inv.GlobalID[0])
	if row >= color.Height() {
		return
	}
	params := inv.Buffer(RasterParamsBinding)
	verts := inv.Buffer(RasterVerticesBinding)
	count := int(params.Load(DrawIndexCount))
	cmp := core.DepthCompare(params.Load(DrawCompare))
	mode := ShadeMode(params.Load(DrawShadeMode))
	objectWord := params.Load(DrawObjectID) + 1
	light := params.LoadVec3(DrawLightDir)
	ambient := params.LoadFloat(DrawAmbient)
	base := UnpackRGBA8(params.Load(DrawBaseColor))

	py := float32(row) + 0.5
	width := color.Width()
	for t := 0; t+2 < count; t += 3 {
		a, okA := loadVertex(verts, t)
		b, okB := loadVertex(verts, t+1)
		c, okC := loadVertex(verts, t+2)
		if !okA || !okB || !okC {
			continue
		}
		if py < min(a.y, b.y, c.y) || py > max(a.y, b.y, c.y) {
			continue
		}
		area := edge(a.x, a.y, b.x, b.y, c.x, c.y)
		if area == 0 {
			continue
		}
		x0 := max(int(math.Floor(float64(min(a.x, b.x, c.x)))), 0)
		x1 := min(int(math.Ceil(float64(max(a.x, b.x, c.x)))), width-1)
		for x := x0; x <= x1; x++ {
			px := float32(x) + 0.5
			w0 := edge(b.x, b.y, c.x, c.y, px, py) / area
			w1 := edge(c.x, c.y, a.x, a.y, px, py) / area
			w2 := edge(a.x, a.y, b.x, b.y, px, py) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			z := w0*a.z + w1*b.z + w2*c.z
			if z < 0 || z > 1 {
				continue
			}
			if !cmp.Passes(z, depth.LoadFloat(x, row)) {
				continue
			}
			depth.StoreFloat(x, row, z)
			if mode == ShadeObjectID {
				color.Store(x, row, objectWord)
				continue
			}
			n := a.n.Mul(w0).Add(b.n.Mul(w1)).Add(c.n.Mul(w2))
			if l := n.Len(); l > 0 {
				n = n.Mul(1 / l)
			}
			k := ambient + (1-ambient)*max(0, -n.Dot(light))
			color.Store(x, row, PackRGBA8(mgl32.Vec4{
				float32(base[0]) / 255 * k,
				float32(base[1]) / 255 * k,
				float32(base[2]) / 255 * k,
				1,
			}))
		}
	}
}

func edge(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}
