package renderer

import (
	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/cull"
	"github.com/gekko3d/hizcull/hizrt/rt/octree"
)

// prepare sizes the pyramid to the current target. It reports whether the
// pyramid holds last frame's depth and can be culled against.
func (b *base) prepare(pyr cull.Pyramid) (bool, error) {
	w, h := b.r.Size()
	realloc, err := pyr.Ensure(w, h)
	if err != nil {
		return false, err
	}
	if realloc {
		b.log.Debugf("depth pyramid reallocated at %dx%d, drawing everything this frame", w, h)
	}
	return pyr.Valid(), nil
}

// fallback draws every instance and rebuilds the pyramid.
func (b *base) fallback(pyr cull.Pyramid) error {
	if err := b.drawAll(); err != nil {
		return err
	}
	if err := pyr.Rebuild(b.r); err != nil {
		return err
	}
	b.record(b.scene.InstanceCount(), 0, true)
	return nil
}

type simpleHiZRenderer struct {
	base
	pyr  cull.Pyramid
	flat cull.Flat
}

func newSimpleHiZ(b base) (*simpleHiZRenderer, error) {
	pyr, err := b.be.NewPyramid(b.r.DepthCompare(), hizcull.Named(b.log, "hiz"))
	if err != nil {
		return nil, err
	}
	flat, err := b.be.NewFlatCuller(cull.InstanceBoxes(b.scene), hizcull.Named(b.log, "flat"))
	if err != nil {
		pyr.Release()
		return nil, err
	}
	return &simpleHiZRenderer{base: b, pyr: pyr, flat: flat}, nil
}

func (r *simpleHiZRenderer) Type() Type            { return SimpleHiZ }
func (r *simpleHiZRenderer) Invalidate()           { r.pyr.Invalidate() }
func (r *simpleHiZRenderer) Pyramid() cull.Pyramid { return r.pyr }

func (r *simpleHiZRenderer) Release() {
	r.flat.Release()
	r.pyr.Release()
}

// RenderScene culls against last frame's pyramid, draws the survivors and
// rebuilds the pyramid, then re-tests the occluded instances against that
// fresh pyramid and draws the ones it uncovers.
func (r *simpleHiZRenderer) RenderScene() error {
	ok, err := r.prepare(r.pyr)
	if err != nil {
		return err
	}
	if !ok {
		return r.fallback(r.pyr)
	}

	vp := r.r.ViewProj()
	ids, first, err := r.flat.Cull(r.pyr, vp)
	if err != nil {
		return err
	}
	if err := r.drawList(ids); err != nil {
		return err
	}
	if err := r.pyr.Rebuild(r.r); err != nil {
		return err
	}
	drawn, passes := int(first.Visible), 1

	if first.Culled > 0 {
		more, second, err := r.flat.Recull(r.pyr, vp, first)
		if err != nil {
			return err
		}
		if err := r.drawList(more); err != nil {
			return err
		}
		if err := r.pyr.Rebuild(r.r); err != nil {
			return err
		}
		drawn += int(second.Visible)
		passes++
	}
	r.record(drawn, passes, false)
	return nil
}

type octreeHiZRenderer struct {
	base
	pyr  cull.Pyramid
	tree cull.Hierarchical
}

func newOctreeHiZ(b base) (*octreeHiZRenderer, error) {
	pyr, err := b.be.NewPyramid(b.r.DepthCompare(), hizcull.Named(b.log, "hiz"))
	if err != nil {
		return nil, err
	}
	boxes := cull.InstanceBoxes(b.scene)
	tree, err := b.be.NewHierarchicalCuller(octree.Build(boxes, b.scene.Bounds()), boxes, hizcull.Named(b.log, "octree"))
	if err != nil {
		pyr.Release()
		return nil, err
	}
	return &octreeHiZRenderer{base: b, pyr: pyr, tree: tree}, nil
}

func (r *octreeHiZRenderer) Type() Type            { return OctreeHiZ }
func (r *octreeHiZRenderer) Invalidate()           { r.pyr.Invalidate() }
func (r *octreeHiZRenderer) Pyramid() cull.Pyramid { return r.pyr }

func (r *octreeHiZRenderer) Release() {
	r.tree.Release()
	r.pyr.Release()
}
func (r *octreeHiZRenderer) Octree() *octree.Octree {
	return r.tree.Tree()
}

func (r *octreeHiZRenderer) RenderScene() error {
	ok, err := r.prepare(r.pyr)
	if err != nil {
		return err
	}
	if !ok {
		return r.fallback(r.pyr)
	}
	ids, err := r.tree.Cull(r.pyr, r.r.ViewProj())
	if err != nil {
		return err
	}
	if err := r.drawList(ids); err != nil {
		return err
	}
	if err := r.pyr.Rebuild(r.r); err != nil {
		return err
	}
	r.record(len(ids), 1, false)
	return nil
}

// PyramidOf returns the depth pyramid owned by a culling renderer, or nil.
func PyramidOf(r Renderer) cull.Pyramid {
	if p, ok := r.(interface{ Pyramid() cull.Pyramid }); ok {
		return p.Pyramid()
	}
	return nil
}
