package core

import (
	"fmt"

	"github.com/gekko3d/hizcull/hizrt/rt/device"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

type AssetID string

func NewAssetID() AssetID {
	return AssetID(uuid.NewString())
}

// ModelBuffers hold a model's geometry on the device. Positions and normals
// are packed as 3 floats per vertex.
type ModelBuffers struct {
	Positions *device.Buffer
	Normals   *device.Buffer
	Indices   *device.Buffer
}

// Model is an indexed triangle mesh. Geometry is immutable once loaded.
type Model struct {
	ID        AssetID
	Name      string
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Indices   []uint32
	Bounds    BoundingBox

	buffers *ModelBuffers
}

// NewModel validates the mesh and computes its local bounds. Missing normals
// are generated by accumulating face normals.
func NewModel(name string, positions, normals []mgl32.Vec3, indices []uint32) (*Model, error) {
	if len(indices)%3 != 0 {
		return nil, fmt.Errorf("model %q: index count %d is not a multiple of 3", name, len(indices))
	}
	for i, idx := range indices {
		if int(idx) >= len(positions) {
			return nil, fmt.Errorf("model %q: index %d at %d out of range (%d vertices)", name, idx, i, len(positions))
		}
	}
	if len(normals) != len(positions) {
		normals = FaceNormals(positions, indices)
	}
	bounds := EmptyBox()
	for _, p := range positions {
		bounds = bounds.MergePoint(p)
	}
	return &Model{
		ID:        NewAssetID(),
		Name:      name,
		Positions: positions,
		Normals:   normals,
		Indices:   indices,
		Bounds:    bounds,
	}, nil
}

func (m *Model) VertexCount() int { return len(m.Positions) }
func (m *Model) IndexCount() int  { return len(m.Indices) }

// Buffers returns the device copies, or nil before Upload.
func (m *Model) Buffers() *ModelBuffers { return m.buffers }

// Upload creates the device buffers once; later calls are no-ops.
func (m *Model) Upload(dev *device.Device) {
	if m.buffers != nil {
		return
	}
	m.buffers = &ModelBuffers{
		Positions: dev.CreateBuffer(&device.BufferDescriptor{Label: m.Name + " positions", Contents: packVec3(m.Positions)}),
		Normals:   dev.CreateBuffer(&device.BufferDescriptor{Label: m.Name + " normals", Contents: packVec3(m.Normals)}),
		Indices:   dev.CreateBuffer(&device.BufferDescriptor{Label: m.Name + " indices", Contents: m.Indices}),
	}
}

func packVec3(vs []mgl32.Vec3) []uint32 {
	out := make([]uint32, 3*len(vs))
	for i, v := range vs {
		device.PutVec3(out[3*i:], v)
	}
	return out
}

// FaceNormals returns per-vertex normals averaged from the adjacent faces.
func FaceNormals(positions []mgl32.Vec3, indices []uint32) []mgl32.Vec3 {
	normals := make([]mgl32.Vec3, len(positions))
	for i := 0; i+2 < len(indices); i += 3 {
		a, b, c := positions[indices[i]], positions[indices[i+1]], positions[indices[i+2]]
		n := b.Sub(a).Cross(c.Sub(a))
		for _, idx := range indices[i : i+3] {
			normals[idx] = normals[idx].Add(n)
		}
	}
	for i, n := range normals {
		if l := n.Len(); l > 0 {
			normals[i] = n.Mul(1 / l)
		} else {
			normals[i] = mgl32.Vec3{0, 1, 0}
		}
	}
	return normals
}

// NewCubeModel is a unit cube centered at the origin with flat-shaded faces.
func NewCubeModel(name string) *Model {
	faces := []struct {
		n    mgl32.Vec3
		u, v mgl32.Vec3
	}{
		{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, 1}},
		{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}},
		{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}},
		{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}},
	}
	var positions, normals []mgl32.Vec3
	var indices []uint32
	for _, f := range faces {
		base := uint32(len(positions))
		c := f.n.Mul(0.5)
		u, v := f.u.Mul(0.5), f.v.Mul(0.5)
		positions = append(positions,
			c.Sub(u).Sub(v),
			c.Add(u).Sub(v),
			c.Add(u).Add(v),
			c.Sub(u).Add(v),
		)
		normals = append(normals, f.n, f.n, f.n, f.n)
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	m, _ := NewModel(name, positions, normals, indices)
	return m
}
