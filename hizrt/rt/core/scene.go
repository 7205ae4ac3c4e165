package core

import (
	"fmt"

	"github.com/gekko3d/hizcull/hizrt/rt/device"
	"github.com/go-gl/mathgl/mgl32"
)

// InstanceID is the index of an instance in its scene, stable for the scene's lifetime.
type InstanceID = uint32

type Instance struct {
	Model     AssetID
	Transform mgl32.Mat4
	// Bounds is the model's local box transformed to world space.
	Bounds BoundingBox
}

// Scene is a static set of models and instances. It is built once at load
// time and read-only afterwards.
type Scene struct {
	models    map[AssetID]*Model
	order     []AssetID
	instances []Instance
	bounds    BoundingBox
}

func NewScene() *Scene {
	return &Scene{models: make(map[AssetID]*Model), bounds: EmptyBox()}
}

// AddModel registers m under m.ID and returns the id instances refer to it
// by. A model with no id, or one already taken, gets a fresh id.
func (s *Scene) AddModel(m *Model) AssetID {
	if _, taken := s.models[m.ID]; m.ID == "" || taken {
		m.ID = NewAssetID()
	}
	s.models[m.ID] = m
	s.order = append(s.order, m.ID)
	return m.ID
}

func (s *Scene) AddInstance(model AssetID, transform mgl32.Mat4) (InstanceID, error) {
	m, ok := s.models[model]
	if !ok {
		return 0, fmt.Errorf("instance references unknown model %q", model)
	}
	b := m.Bounds.TransformBy(transform)
	s.instances = append(s.instances, Instance{Model: model, Transform: transform, Bounds: b})
	s.bounds = s.bounds.Merge(b)
	return InstanceID(len(s.instances) - 1), nil
}

func (s *Scene) ModelCount() int    { return len(s.order) }
func (s *Scene) InstanceCount() int { return len(s.instances) }

// Model returns the model registered under id, or nil.
func (s *Scene) Model(id AssetID) *Model { return s.models[id] }

// Models lists the models in the order they were added.
func (s *Scene) Models() []*Model {
	out := make([]*Model, len(s.order))
	for i, id := range s.order {
		out[i] = s.models[id]
	}
	return out
}

func (s *Scene) Instance(id InstanceID) Instance { return s.instances[id] }

func (s *Scene) Bounds() BoundingBox  { return s.bounds }
func (s *Scene) Centroid() mgl32.Vec3 { return s.bounds.Centroid() }
func (s *Scene) Extent() float32      { return s.bounds.Extent() }

// ForEachInstance visits instances in id order.
func (s *Scene) ForEachInstance(fn func(id InstanceID, inst Instance, m *Model)) {
	for i, inst := range s.instances {
		fn(InstanceID(i), inst, s.models[inst.Model])
	}
}

// TriangleCount sums the triangles of all instances.
func (s *Scene) TriangleCount() int {
	n := 0
	for _, inst := range s.instances {
		n += s.models[inst.Model].IndexCount() / 3
	}
	return n
}

// Upload creates device buffers for every model.
func (s *Scene) Upload(dev *device.Device) {
	for _, id := range s.order {
		s.models[id].Upload(dev)
	}
}
