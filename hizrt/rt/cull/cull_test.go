package cull

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/device"
	"github.com/gekko3d/hizcull/hizrt/rt/hiz"
	"github.com/gekko3d/hizcull/hizrt/rt/kernels"
	"github.com/gekko3d/hizcull/hizrt/rt/octree"
	"github.com/gekko3d/hizcull/hizrt/rt/raster"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dev   *device.Device
	r     *raster.Rasterizer
	scene *core.Scene
	pyr   *hiz.Pyramid
	vp    mgl32.Mat4
	w, h  int
}

func newFixture(t *testing.T, cmp core.DepthCompare, w, h int, scene *core.Scene, view mgl32.Mat4) *fixture {
	t.Helper()
	dev := device.NewDevice(&device.Descriptor{Label: "cull", Workers: 4})
	t.Cleanup(dev.Release)
	r, err := raster.New(dev, raster.Options{Width: w, Height: h, Compare: cmp})
	require.NoError(t, err)
	proj := mgl32.Perspective(mgl32.DegToRad(60), float32(w)/float32(h), 0.1, 1000)
	r.SetMatrixView(view)
	r.SetMatrixProj(proj)
	r.SetShadeMode(kernels.ShadeObjectID)
	pyr, err := hiz.New(dev, cmp, nil)
	require.NoError(t, err)
	scene.Upload(dev)
	return &fixture{dev: dev, r: r, scene: scene, pyr: pyr, vp: r.ViewProj(), w: w, h: h}
}

func (f *fixture) draw(t *testing.T, ids ...core.InstanceID) {
	t.Helper()
	for _, id := range ids {
		inst := f.scene.Instance(id)
		f.r.SetMatrixModel(inst.Transform)
		f.r.SetObjectID(id)
		require.NoError(t, f.r.DrawModel(f.scene.Model(inst.Model)))
	}
}

func (f *fixture) frame(t *testing.T, ids ...core.InstanceID) {
	t.Helper()
	require.NoError(t, f.r.ClearBuffers())
	f.draw(t, ids...)
	require.NoError(t, f.pyr.Build(f.r.DepthTarget()))
}

func (f *fixture) all() []core.InstanceID {
	ids := make([]core.InstanceID, f.scene.InstanceCount())
	for i := range ids {
		ids[i] = core.InstanceID(i)
	}
	return ids
}

// truth returns the ids that own at least one pixel of the color target.
func (f *fixture) truth() map[core.InstanceID]bool {
	out := map[core.InstanceID]bool{}
	n := uint32(f.scene.InstanceCount())
	for _, c := range f.r.ReadColor() {
		if c >= 1 && c <= n {
			out[c-1] = true
		}
	}
	return out
}

func asSet(ids []core.InstanceID) map[core.InstanceID]bool {
	s := make(map[core.InstanceID]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func sorted(ids []core.InstanceID) []core.InstanceID {
	out := append([]core.InstanceID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func addCube(t *testing.T, s *core.Scene, model core.AssetID, pos, scale mgl32.Vec3) {
	t.Helper()
	_, err := s.AddInstance(model, mgl32.Translate3D(pos[0], pos[1], pos[2]).Mul4(mgl32.Scale3D(scale[0], scale[1], scale[2])))
	require.NoError(t, err)
}

// occluderScene: 0 is a wall in front of the camera, 1 a cube hidden behind
// it, 2 a cube off to the side.
func occluderScene(t *testing.T) (*core.Scene, mgl32.Mat4) {
	s := core.NewScene()
	cube := s.AddModel(core.NewCubeModel("cube"))
	addCube(t, s, cube, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{4, 4, 1})
	addCube(t, s, cube, mgl32.Vec3{0, 0, -5}, mgl32.Vec3{1, 1, 1})
	addCube(t, s, cube, mgl32.Vec3{4, 0, 0}, mgl32.Vec3{1, 1, 1})
	return s, mgl32.LookAtV(mgl32.Vec3{0, 0, 10}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
}

var compares = []core.DepthCompare{core.DepthLess, core.DepthGreater}

func TestFlatCuller_Occluder(t *testing.T) {
	for _, cmp := range compares {
		t.Run(cmp.String(), func(t *testing.T) {
			scene, view := occluderScene(t)
			f := newFixture(t, cmp, 64, 64, scene, view)
			c, err := NewFlatCuller(f.dev, InstanceBoxes(scene), nil)
			require.NoError(t, err)

			_, _, err = c.Cull(f.pyr, f.vp)
			assert.ErrorIs(t, err, ErrPyramidNotReady)

			f.frame(t, f.all()...)
			ids, res, err := c.Cull(f.pyr, f.vp)
			require.NoError(t, err)
			assert.Equal(t, []core.InstanceID{0, 2}, sorted(ids))
			assert.Equal(t, Counters{Total: 3, Visible: 2, Culled: 1}, res)

			// Nothing moved, so the second pass keeps the hidden cube culled.
			f.frame(t, ids...)
			again, res2, err := c.Recull(f.pyr, f.vp, res)
			require.NoError(t, err)
			assert.Empty(t, again)
			assert.Equal(t, Counters{Total: 1, Visible: 0, Culled: 1}, res2)
		})
	}
}

func TestFlatCuller_RecullCatchesDisocclusion(t *testing.T) {
	scene, view := occluderScene(t)
	f := newFixture(t, core.DepthLess, 64, 64, scene, view)
	c, err := NewFlatCuller(f.dev, InstanceBoxes(scene), nil)
	require.NoError(t, err)

	// Last frame had the wall.
	f.frame(t, 0, 2)
	ids, res, err := c.Cull(f.pyr, f.vp)
	require.NoError(t, err)
	assert.Equal(t, []core.InstanceID{0, 2}, sorted(ids))
	require.Equal(t, uint32(1), res.Culled)

	// This frame draws only the side cube, so the depth behind the wall is open.
	f.frame(t, 2)
	again, res2, err := c.Recull(f.pyr, f.vp, res)
	require.NoError(t, err)
	assert.Equal(t, []core.InstanceID{1}, again)
	assert.Equal(t, Counters{Total: 1, Visible: 1, Culled: 0}, res2)
}

func TestFlatCuller_EmptyScene(t *testing.T) {
	scene, view := occluderScene(t)
	f := newFixture(t, core.DepthLess, 16, 16, scene, view)
	c, err := NewFlatCuller(f.dev, nil, nil)
	require.NoError(t, err)
	f.frame(t)
	ids, res, err := c.Cull(f.pyr, f.vp)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, Counters{}, res)
	ids, _, err = c.Recull(f.pyr, f.vp, res)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func newHierarchical(t *testing.T, f *fixture) *HierarchicalCuller {
	t.Helper()
	boxes := InstanceBoxes(f.scene)
	c, err := NewHierarchicalCuller(f.dev, octree.Build(boxes, f.scene.Bounds()), boxes, nil)
	require.NoError(t, err)
	return c
}

func TestHierarchicalCuller_Occluder(t *testing.T) {
	for _, cmp := range compares {
		t.Run(cmp.String(), func(t *testing.T) {
			scene, view := occluderScene(t)
			f := newFixture(t, cmp, 64, 64, scene, view)
			c := newHierarchical(t, f)
			assert.Equal(t, StateInit, c.State())

			_, err := c.Cull(f.pyr, f.vp)
			assert.ErrorIs(t, err, ErrPyramidNotReady)

			f.frame(t, f.all()...)
			ids, err := c.Cull(f.pyr, f.vp)
			require.NoError(t, err)
			assert.Equal(t, []core.InstanceID{0, 2}, sorted(ids))
			assert.Equal(t, StateDone, c.State())
		})
	}
}

func TestHierarchicalCuller_OneReadbackPerCull(t *testing.T) {
	scene, view := occluderScene(t)
	f := newFixture(t, core.DepthLess, 64, 64, scene, view)
	c := newHierarchical(t, f)
	f.frame(t, f.all()...)
	f.dev.GetQueue().Finish()

	before := f.dev.Stats()
	_, err := c.Cull(f.pyr, f.vp)
	require.NoError(t, err)
	d := f.dev.Stats().Sub(before)
	assert.Equal(t, uint64(1), d.Readbacks)
	// One node test per level plus the gather.
	assert.Equal(t, uint64(c.Tree().MaxLevel)+2, d.IndirectDispatches)
	assert.Equal(t, uint64(1), d.Submits)
}

func TestHierarchicalCuller_StraddlingInstanceIsListedOnce(t *testing.T) {
	s := core.NewScene()
	cube := s.AddModel(core.NewCubeModel("cube"))
	addCube(t, s, cube, mgl32.Vec3{-7, -7, -7}, mgl32.Vec3{1, 1, 1})
	addCube(t, s, cube, mgl32.Vec3{7, -7, -7}, mgl32.Vec3{1, 1, 1})
	addCube(t, s, cube, mgl32.Vec3{-7, 7, -7}, mgl32.Vec3{1, 1, 1})
	addCube(t, s, cube, mgl32.Vec3{7, 7, 7}, mgl32.Vec3{1, 1, 1})
	// Crosses the x and y split planes: four octants at least.
	addCube(t, s, cube, mgl32.Vec3{0, 0, -5}, mgl32.Vec3{4, 4, 1})
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 40}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	f := newFixture(t, core.DepthLess, 64, 64, s, view)
	c := newHierarchical(t, f)

	shared := 0
	for _, leaf := range c.Tree().Leaves() {
		for _, id := range c.Tree().Nodes[leaf].Instances {
			if id == 4 {
				shared++
			}
		}
	}
	require.GreaterOrEqual(t, shared, 4)

	// An empty pyramid occludes nothing.
	f.frame(t)
	for i := 0; i < 2; i++ {
		ids, err := c.Cull(f.pyr, f.vp)
		require.NoError(t, err)
		assert.Equal(t, []core.InstanceID{0, 1, 2, 3, 4}, sorted(ids), "frame %d", i)
	}
}

func randomScene(t *testing.T, n int, size float32, seed int64) *core.Scene {
	r := rand.New(rand.NewSource(seed))
	s := core.NewScene()
	cube := s.AddModel(core.NewCubeModel("cube"))
	for i := 0; i < n; i++ {
		pos := mgl32.Vec3{r.Float32() * size, r.Float32() * size, r.Float32() * size}
		k := 1 + 3*r.Float32()
		addCube(t, s, cube, pos, mgl32.Vec3{k, k, k})
	}
	return s
}

func TestCullers_AgreeOnRandomScene(t *testing.T) {
	if testing.Short() {
		t.Skip("renders a thousand instances")
	}
	for _, cmp := range compares {
		t.Run(cmp.String(), func(t *testing.T) {
			scene := randomScene(t, 1000, 100, 42)
			cam := core.NewOrbitCamera(scene.Centroid(), 0.5*scene.Extent(), 1)
			f := newFixture(t, cmp, 96, 96, scene, cam.ViewMatrix())
			flat, err := NewFlatCuller(f.dev, InstanceBoxes(scene), nil)
			require.NoError(t, err)
			tree := newHierarchical(t, f)

			f.frame(t, f.all()...)
			truth := f.truth()
			require.NotEmpty(t, truth)

			flatIDs, res, err := flat.Cull(f.pyr, f.vp)
			require.NoError(t, err)
			treeIDs, err := tree.Cull(f.pyr, f.vp)
			require.NoError(t, err)
			assert.Greater(t, res.Culled, uint32(0))
			assert.Equal(t, res.Total, res.Visible+res.Culled)

			flatSet, treeSet := asSet(flatIDs), asSet(treeIDs)
			assert.Len(t, flatSet, len(flatIDs))
			assert.Len(t, treeSet, len(treeIDs))
			for id := range truth {
				assert.True(t, flatSet[id], "flat culler dropped visible instance %d", id)
				assert.True(t, treeSet[id], "octree culler dropped visible instance %d", id)
			}
			for id := range treeSet {
				assert.True(t, flatSet[id], "octree culler kept %d, flat culler did not", id)
			}
			// The octree may only reject a sliver more than the flat culler.
			flatOnly := 0
			for id := range flatSet {
				if !treeSet[id] {
					flatOnly++
				}
			}
			assert.LessOrEqual(t, flatOnly, len(flatSet)/100, "octree culler rejected %d instances the flat culler kept", flatOnly)
			assert.LessOrEqual(t, len(flatSet)-len(treeSet), len(flatSet)/100)
			t.Logf("truth %d, flat %d, octree %d of %d", len(truth), len(flatSet), len(treeSet), scene.InstanceCount())
		})
	}
}

type otherPyramid struct{ Pyramid }

func (otherPyramid) Valid() bool { return true }

func TestSoftwareCullers_RejectForeignPyramid(t *testing.T) {
	scene, view := occluderScene(t)
	f := newFixture(t, core.DepthLess, 32, 32, scene, view)
	be := NewSoftware(f.dev)
	assert.Equal(t, "software", be.Name())
	flat, err := be.NewFlatCuller(InstanceBoxes(scene), nil)
	require.NoError(t, err)
	tree, err := be.NewHierarchicalCuller(newHierarchical(t, f).Tree(), InstanceBoxes(scene), nil)
	require.NoError(t, err)

	_, _, err = flat.Cull(otherPyramid{}, f.vp)
	assert.ErrorIs(t, err, ErrForeignPyramid)
	_, err = tree.Cull(otherPyramid{}, f.vp)
	assert.ErrorIs(t, err, ErrForeignPyramid)

	pyr, err := be.NewPyramid(core.DepthLess, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, Ready(pyr), ErrPyramidNotReady)
	require.NoError(t, f.r.ClearBuffers())
	f.draw(t, f.all()...)
	require.NoError(t, pyr.Rebuild(f.r))
	require.NoError(t, Ready(pyr))
	ids, _, err := flat.Cull(pyr, f.vp)
	require.NoError(t, err)
	assert.Equal(t, []core.InstanceID{0, 2}, sorted(ids))

	pyr.Release()
	flat.Release()
	tree.Release()
	assert.ErrorIs(t, Ready(pyr), ErrPyramidNotReady)
}

func TestDedupInstances(t *testing.T) {
	drawn := make([]bool, 4)
	drawn[2] = true
	got := DedupInstances([]uint32{3, 1, 3, 2, 9, 1, 0}, drawn)
	assert.Equal(t, []core.InstanceID{3, 1, 2, 0}, got)
	assert.Empty(t, DedupInstances(nil, drawn))
}
