// Package cull tests instance bounds against the depth pyramid on the device.
//
// A flat culler tests every instance box in one dispatch. A hierarchical
// culler walks an octree level by level and only tests the instances of
// leaves that survive. Both come from a Backend; this package carries the
// software one.
package cull

import (
	"errors"

	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/device"
	"github.com/gekko3d/hizcull/hizrt/rt/kernels"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrPyramidNotReady is returned when a cull is asked for before the pyramid
// holds depth at the current resolution. Callers draw everything instead.
var ErrPyramidNotReady = errors.New("cull: depth pyramid not ready")

// Counters mirrors the device results buffer of one flat pass.
type Counters struct {
	Total   uint32
	Visible uint32
	Culled  uint32
}

func countersFrom(words []uint32) Counters {
	if len(words) < kernels.CullResultWords {
		return Counters{}
	}
	return Counters{
		Total:   words[kernels.CullTotal],
		Visible: words[kernels.CullVisible],
		Culled:  words[kernels.CullCulled],
	}
}

// CameraFor packs the cull camera for a pyramid.
func CameraFor(p Pyramid, viewProj mgl32.Mat4) kernels.Camera {
	w, h := p.Size()
	return kernels.Camera{
		ViewProj: viewProj,
		Width:    uint32(w),
		Height:   uint32(h),
		Levels:   uint32(p.LevelCount()),
		Compare:  p.Compare(),
	}
}

// InstanceBoxes collects the world boxes of a scene in id order.
func InstanceBoxes(s *core.Scene) []core.BoundingBox {
	boxes := make([]core.BoundingBox, 0, s.InstanceCount())
	s.ForEachInstance(func(_ core.InstanceID, inst core.Instance, _ *core.Model) {
		boxes = append(boxes, inst.Bounds)
	})
	return boxes
}

func storage(dev *device.Device, label string, words int) *device.Buffer {
	if words < 1 {
		words = 1
	}
	return dev.CreateBuffer(&device.BufferDescriptor{Label: label, Size: words})
}

// Ready returns ErrPyramidNotReady unless p holds depth at its current size.
func Ready(p Pyramid) error {
	if p == nil || !p.Valid() {
		return ErrPyramidNotReady
	}
	return nil
}
