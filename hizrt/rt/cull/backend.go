package cull

import (
	"errors"

	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/device"
	"github.com/gekko3d/hizcull/hizrt/rt/hiz"
	"github.com/gekko3d/hizcull/hizrt/rt/octree"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrForeignPyramid is returned when a culler is handed a pyramid built by
// another backend.
var ErrForeignPyramid = errors.New("cull: pyramid belongs to another backend")

// Pyramid is a depth pyramid owned by a Backend.
type Pyramid interface {
	// Ensure reallocates for a w x h target and reports whether it had to.
	Ensure(w, h int) (bool, error)
	Rebuild(src hiz.DepthSource) error
	Valid() bool
	Invalidate()
	Size() (int, int)
	LevelCount() int
	Compare() core.DepthCompare
	Release()
}

// Flat culls every instance box in one dispatch per pass.
type Flat interface {
	Cull(pyr Pyramid, viewProj mgl32.Mat4) ([]core.InstanceID, Counters, error)
	Recull(pyr Pyramid, viewProj mgl32.Mat4, first Counters) ([]core.InstanceID, Counters, error)
	InstanceCount() int
	Release()
}

// Hierarchical culls through the octree.
type Hierarchical interface {
	Cull(pyr Pyramid, viewProj mgl32.Mat4) ([]core.InstanceID, error)
	Tree() *octree.Octree
	Release()
}

// Backend creates pyramids and cullers on one kind of device. Objects from
// different backends do not mix.
type Backend interface {
	Name() string
	NewPyramid(compare core.DepthCompare, log hizcull.Logger) (Pyramid, error)
	NewFlatCuller(boxes []core.BoundingBox, log hizcull.Logger) (Flat, error)
	NewHierarchicalCuller(tree *octree.Octree, boxes []core.BoundingBox, log hizcull.Logger) (Hierarchical, error)
}

// Software runs the cull kernels on the software device, next to the
// rasterizer. Tests use it as the reference backend.
type Software struct {
	dev *device.Device
}

func NewSoftware(dev *device.Device) *Software { return &Software{dev: dev} }

func (s *Software) Name() string { return "software" }

func (s *Software) NewPyramid(compare core.DepthCompare, log hizcull.Logger) (Pyramid, error) {
	p, err := hiz.New(s.dev, compare, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Software) NewFlatCuller(boxes []core.BoundingBox, log hizcull.Logger) (Flat, error) {
	c, err := NewFlatCuller(s.dev, boxes, log)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Software) NewHierarchicalCuller(tree *octree.Octree, boxes []core.BoundingBox, log hizcull.Logger) (Hierarchical, error) {
	c, err := NewHierarchicalCuller(s.dev, tree, boxes, log)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// softwarePyramid unwraps a pyramid built on the software device.
func softwarePyramid(p Pyramid) (*hiz.Pyramid, error) {
	if err := Ready(p); err != nil {
		return nil, err
	}
	sp, ok := p.(*hiz.Pyramid)
	if !ok {
		return nil, ErrForeignPyramid
	}
	if sp.Texture() == nil {
		return nil, ErrPyramidNotReady
	}
	return sp, nil
}

// DedupInstances keeps the first occurrence of each id of an octree instance
// list. drawn is scratch space sized to the instance count; ids beyond it are
// dropped.
func DedupInstances(list []uint32, drawn []bool) []core.InstanceID {
	clear(drawn)
	out := make([]core.InstanceID, 0, len(list))
	for _, id := range list {
		if int(id) >= len(drawn) || drawn[id] {
			continue
		}
		drawn[id] = true
		out = append(out, id)
	}
	return out
}
