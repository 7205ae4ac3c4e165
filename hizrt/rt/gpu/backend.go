package gpu

import (
	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/cull"
	"github.com/gekko3d/hizcull/hizrt/rt/octree"
)

// Backend builds pyramids and cullers on a WebGPU context.
type Backend struct {
	ctx *Context
}

func NewBackend(ctx *Context) *Backend { return &Backend{ctx: ctx} }

func (b *Backend) Name() string      { return "webgpu" }
func (b *Backend) Context() *Context { return b.ctx }

func (b *Backend) NewPyramid(compare core.DepthCompare, log hizcull.Logger) (cull.Pyramid, error) {
	p, err := NewPyramid(b.ctx, compare, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (b *Backend) NewFlatCuller(boxes []core.BoundingBox, log hizcull.Logger) (cull.Flat, error) {
	c, err := NewFlatCuller(b.ctx, boxes, log)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (b *Backend) NewHierarchicalCuller(tree *octree.Octree, boxes []core.BoundingBox, log hizcull.Logger) (cull.Hierarchical, error) {
	c, err := NewHierarchicalCuller(b.ctx, tree, boxes, log)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// webgpuPyramid unwraps a pyramid built by this package.
func webgpuPyramid(p cull.Pyramid) (*Pyramid, error) {
	if err := cull.Ready(p); err != nil {
		return nil, err
	}
	gp, ok := p.(*Pyramid)
	if !ok {
		return nil, cull.ErrForeignPyramid
	}
	if gp.Chain() == nil {
		return nil, cull.ErrPyramidNotReady
	}
	return gp, nil
}
