package core

import (
	"math"
	"testing"

	"github.com/gekko3d/hizcull/hizrt/rt/device"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundingBox_EmptyAndMerge(t *testing.T) {
	b := EmptyBox()
	assert.True(t, b.IsEmpty())
	assert.Equal(t, float32(0), b.Extent())

	b = b.Merge(EmptyBox())
	assert.True(t, b.IsEmpty())

	b = b.MergePoint(mgl32.Vec3{1, 2, 3})
	assert.False(t, b.IsEmpty())
	assert.Equal(t, b.Min, b.Max)

	b = b.Merge(NewBox(mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 0, 5}))
	assert.Equal(t, mgl32.Vec3{-1, 0, 0}, b.Min)
	assert.Equal(t, mgl32.Vec3{1, 2, 5}, b.Max)
	assert.Equal(t, mgl32.Vec3{0, 1, 2.5}, b.Centroid())
	assert.InDelta(t, math.Sqrt(4+4+25), b.Extent(), 1e-5)
}

func TestBoundingBox_Intersects(t *testing.T) {
	a := NewBox(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 1, 1})
	tests := []struct {
		name string
		b    BoundingBox
		want bool
	}{
		{"overlap", NewBox(mgl32.Vec3{0.5, 0.5, 0.5}, mgl32.Vec3{2, 2, 2}), true},
		{"touching face", NewBox(mgl32.Vec3{1, 0, 0}, mgl32.Vec3{2, 1, 1}), true},
		{"contained", NewBox(mgl32.Vec3{0.2, 0.2, 0.2}, mgl32.Vec3{0.3, 0.3, 0.3}), true},
		{"apart in z", NewBox(mgl32.Vec3{0, 0, 1.01}, mgl32.Vec3{1, 1, 2}), false},
		{"apart in x", NewBox(mgl32.Vec3{-2, 0, 0}, mgl32.Vec3{-0.1, 1, 1}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Intersects(tt.b))
			assert.Equal(t, tt.want, tt.b.Intersects(a))
		})
	}
}

func TestBoundingBox_TransformBy(t *testing.T) {
	b := NewBox(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	m := mgl32.Translate3D(10, 0, 0).Mul4(mgl32.HomogRotate3DY(math.Pi / 4))
	out := b.TransformBy(m)
	r := float32(math.Sqrt2)
	assert.InDelta(t, 10-r, out.Min.X(), 1e-5)
	assert.InDelta(t, 10+r, out.Max.X(), 1e-5)
	assert.InDelta(t, -1, out.Min.Y(), 1e-5)
	assert.InDelta(t, r, out.Max.Z(), 1e-5)

	assert.True(t, EmptyBox().TransformBy(m).IsEmpty())
}

func TestBoundingBox_OctantsTileParent(t *testing.T) {
	b := NewBox(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{2, 4, 8})
	union := EmptyBox()
	for i := 0; i < 8; i++ {
		o := b.Octant(i)
		assert.Equal(t, mgl32.Vec3{1, 2, 4}, o.Size())
		union = union.Merge(o)
	}
	assert.Equal(t, b, union)
	assert.Equal(t, mgl32.Vec3{1, 2, 4}, b.Octant(7).Min)
	assert.Equal(t, mgl32.Vec3{1, 0, 0}, b.Octant(1).Min)
	assert.Equal(t, mgl32.Vec3{0, 0, 4}, b.Octant(4).Min)
}

func TestDepthCompare(t *testing.T) {
	assert.Equal(t, float32(1), DepthLess.ClearDepth())
	assert.Equal(t, float32(0), DepthGreater.ClearDepth())

	assert.True(t, DepthLess.Passes(0.2, 0.5))
	assert.False(t, DepthLess.Passes(0.5, 0.5))
	assert.True(t, DepthGreater.Passes(0.8, 0.5))

	assert.Equal(t, float32(0.9), DepthLess.Farthest(0.1, 0.9))
	assert.Equal(t, float32(0.1), DepthGreater.Farthest(0.1, 0.9))
	assert.Equal(t, float32(0.1), DepthLess.Nearest(0.1, 0.9))

	assert.Equal(t, float32(0), DepthLess.WindowDepth(-1))
	assert.Equal(t, float32(1), DepthGreater.WindowDepth(-1))

	assert.True(t, DepthLess.BeyondBy(0.6, 0.5, 1e-6))
	assert.False(t, DepthLess.BeyondBy(0.5, 0.5, 1e-6))
	assert.True(t, DepthGreater.BeyondBy(0.4, 0.5, 1e-6))

	c, err := ParseDepthCompare("reverse")
	require.NoError(t, err)
	assert.Equal(t, DepthGreater, c)
	_, err = ParseDepthCompare("sideways")
	assert.Error(t, err)
}

func TestOrbitCamera(t *testing.T) {
	cam := NewOrbitCamera(mgl32.Vec3{1, 2, 3}, 10, 16.0/9.0)
	assert.InDelta(t, 10, cam.Position().Sub(cam.Target).Len(), 1e-4)

	cam.Rotate(0, 100)
	assert.InDelta(t, math.Pi-0.1, cam.Phi, 1e-6)
	cam.Rotate(0, -100)
	assert.InDelta(t, 0.1, cam.Phi, 1e-6)

	cam.Rotate(1, 0)
	assert.InDelta(t, 2*math.Pi-1, cam.Theta, 1e-5)

	cam.Forward(-100)
	assert.Equal(t, float32(0.1), cam.Radius)

	cam.SetAspect(0)
	assert.Equal(t, float32(16.0/9.0), cam.Aspect)

	// The target projects to the center of the screen.
	clip := cam.ViewProjection().Mul4x1(cam.Target.Vec4(1))
	assert.InDelta(t, 0, clip.X()/clip.W(), 1e-4)
	assert.InDelta(t, 0, clip.Y()/clip.W(), 1e-4)
}

func TestNewModel_Validation(t *testing.T) {
	pos := []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}
	_, err := NewModel("bad", pos, nil, []uint32{0, 1})
	assert.Error(t, err)
	_, err = NewModel("bad", pos, nil, []uint32{0, 1, 3})
	assert.Error(t, err)

	m, err := NewModel("tri", pos, nil, []uint32{0, 1, 2})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	require.Len(t, m.Normals, 3)
	assert.Equal(t, mgl32.Vec3{0, 0, 1}, m.Normals[0])
	assert.Equal(t, mgl32.Vec3{1, 1, 0}, m.Bounds.Max)
}

func TestCubeModel(t *testing.T) {
	m := NewCubeModel("cube")
	assert.Equal(t, 24, m.VertexCount())
	assert.Equal(t, 36, m.IndexCount())
	assert.Equal(t, mgl32.Vec3{-0.5, -0.5, -0.5}, m.Bounds.Min)
	assert.Equal(t, mgl32.Vec3{0.5, 0.5, 0.5}, m.Bounds.Max)

	// Each triangle winds counter-clockwise seen from outside.
	for i := 0; i < len(m.Indices); i += 3 {
		a, b, c := m.Positions[m.Indices[i]], m.Positions[m.Indices[i+1]], m.Positions[m.Indices[i+2]]
		n := b.Sub(a).Cross(c.Sub(a))
		assert.Greater(t, n.Dot(m.Normals[m.Indices[i]]), float32(0))
	}
}

func TestScene_InstancesAndBounds(t *testing.T) {
	s := NewScene()
	cube := s.AddModel(NewCubeModel("cube"))
	_, err := s.AddInstance(NewAssetID(), mgl32.Ident4())
	assert.ErrorContains(t, err, "unknown model")

	id0, err := s.AddInstance(cube, mgl32.Translate3D(-2, 0, 0))
	require.NoError(t, err)
	id1, err := s.AddInstance(cube, mgl32.Translate3D(2, 0, 0).Mul4(mgl32.Scale3D(2, 2, 2)))
	require.NoError(t, err)
	assert.Equal(t, InstanceID(0), id0)
	assert.Equal(t, InstanceID(1), id1)

	assert.Equal(t, 2, s.InstanceCount())
	assert.Equal(t, 24, s.TriangleCount())
	assert.Equal(t, mgl32.Vec3{-2.5, -1, -1}, s.Bounds().Min)
	assert.Equal(t, mgl32.Vec3{3, 1, 1}, s.Bounds().Max)
	assert.Equal(t, mgl32.Vec3{1, -1, -1}, s.Instance(id1).Bounds.Min)

	var seen []InstanceID
	s.ForEachInstance(func(id InstanceID, inst Instance, m *Model) {
		seen = append(seen, id)
		assert.Same(t, s.Model(cube), m)
	})
	assert.Equal(t, []InstanceID{0, 1}, seen)

	dev := device.NewDevice(&device.Descriptor{Workers: 1})
	defer dev.Release()
	s.Upload(dev)
	bufs := s.Model(cube).Buffers()
	require.NotNil(t, bufs)
	assert.Equal(t, 72, bufs.Positions.Size())
	assert.Equal(t, 36, bufs.Indices.Size())
}

func TestScene_ModelsByAssetID(t *testing.T) {
	s := NewScene()
	cube := NewCubeModel("cube")
	id := s.AddModel(cube)
	assert.Equal(t, cube.ID, id)
	_, err := uuid.Parse(string(id))
	require.NoError(t, err)

	named := NewCubeModel("named")
	named.ID = "wall"
	assert.Equal(t, AssetID("wall"), s.AddModel(named))

	// A taken id is replaced rather than shadowing the first model.
	dup := NewCubeModel("dup")
	dup.ID = "wall"
	dupID := s.AddModel(dup)
	assert.NotEqual(t, AssetID("wall"), dupID)
	assert.Same(t, named, s.Model("wall"))
	assert.Same(t, dup, s.Model(dupID))

	anon := NewCubeModel("anon")
	anon.ID = ""
	assert.NotEmpty(t, s.AddModel(anon))

	assert.Nil(t, s.Model("missing"))
	assert.Equal(t, 4, s.ModelCount())
	assert.Equal(t, []*Model{cube, named, dup, anon}, s.Models())

	inst, err := s.AddInstance("wall", mgl32.Ident4())
	require.NoError(t, err)
	assert.Equal(t, AssetID("wall"), s.Instance(inst).Model)
}
