// Package kernels holds the compute programs run on the software device.
// Each program is exposed as a pipeline descriptor with its binding layout;
// buffer layouts are described next to the kernel that reads them.
package kernels

import (
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/device"
	"github.com/go-gl/mathgl/mgl32"
)

// Camera uniform layout, in words:
//
//	[0:16]  view-projection, column-major
//	16      viewport width
//	17      viewport height
//	18      Hi-Z level count
//	19      depth compare
const CameraWords = 20

type Camera struct {
	ViewProj mgl32.Mat4
	Width    uint32
	Height   uint32
	Levels   uint32
	Compare  core.DepthCompare
}

func (c Camera) Encode() []uint32 {
	w := make([]uint32, CameraWords)
	device.PutMat4(w, c.ViewProj)
	w[16] = c.Width
	w[17] = c.Height
	w[18] = c.Levels
	w[19] = uint32(c.Compare)
	return w
}

func LoadCamera(b *device.Buffer) Camera {
	return Camera{
		ViewProj: b.LoadMat4(0),
		Width:    b.Load(16),
		Height:   b.Load(17),
		Levels:   b.Load(18),
		Compare:  core.DepthCompare(b.Load(19)),
	}
}

// BoxWords is the stride of a box in storage buffers: min xyz, max xyz.
const BoxWords = 6

func EncodeBoxes(boxes []core.BoundingBox) []uint32 {
	w := make([]uint32, BoxWords*len(boxes))
	for i, b := range boxes {
		device.PutVec3(w[BoxWords*i:], b.Min)
		device.PutVec3(w[BoxWords*i+3:], b.Max)
	}
	return w
}

func LoadBox(b *device.Buffer, word int) core.BoundingBox {
	return core.BoundingBox{Min: b.LoadVec3(word), Max: b.LoadVec3(word + 3)}
}

func groups(n, size uint32) uint32 {
	return (n + size - 1) / size
}

// Groups1D is the workgroup count covering n invocations with a 1D kernel of size.
func Groups1D(n int, size uint32) uint32 {
	if n <= 0 {
		return 0
	}
	return groups(uint32(n), size)
}
