// Package loader builds scenes from files: a JSON scene description listing
// models and their instances, or a single Wavefront OBJ mesh.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

var (
	ErrUnsupportedFormat = errors.New("loader: unsupported scene format")
	ErrDuplicateModel    = errors.New("loader: duplicate model")
)

// SceneFile is the JSON scene description. Model files are resolved relative
// to the scene file.
type SceneFile struct {
	Models    []ModelEntry    `json:"models"`
	Instances []InstanceEntry `json:"instances"`
}

// ModelEntry names a mesh file. ID is an optional uuid; one is generated when
// empty. Instances may reference the model by either.
type ModelEntry struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	File string `json:"file"`
}

// InstanceEntry places a model, referenced by name or id. Rotate is in degrees about x, y and z.
// Missing fields default to the identity.
type InstanceEntry struct {
	Model     string      `json:"model"`
	Translate *[3]float32 `json:"translate,omitempty"`
	Rotate    *[3]float32 `json:"rotate,omitempty"`
	Scale     *[3]float32 `json:"scale,omitempty"`
}

// Transform is T * Rz * Ry * Rx * S.
func (e InstanceEntry) Transform() mgl32.Mat4 {
	m := mgl32.Ident4()
	if t := e.Translate; t != nil {
		m = m.Mul4(mgl32.Translate3D(t[0], t[1], t[2]))
	}
	if r := e.Rotate; r != nil {
		m = m.Mul4(mgl32.HomogRotate3DZ(mgl32.DegToRad(r[2])))
		m = m.Mul4(mgl32.HomogRotate3DY(mgl32.DegToRad(r[1])))
		m = m.Mul4(mgl32.HomogRotate3DX(mgl32.DegToRad(r[0])))
	}
	if s := e.Scale; s != nil {
		m = m.Mul4(mgl32.Scale3D(s[0], s[1], s[2]))
	}
	return m
}

// Load picks the reader from the file extension: .json or .obj.
func Load(path string, log hizcull.Logger) (*core.Scene, error) {
	log = hizcull.OrNop(log)
	var (
		s   *core.Scene
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".obj":
		s, err = loadOBJScene(path)
	case ".json":
		s, err = loadJSONScene(path, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, err
	}
	log.Infof("loaded %s: %d models, %d instances, %d triangles", path, s.ModelCount(), s.InstanceCount(), s.TriangleCount())
	return s, nil
}

func loadOBJScene(path string) (*core.Scene, error) {
	m, err := LoadOBJ(path)
	if err != nil {
		return nil, err
	}
	s := core.NewScene()
	if _, err := s.AddInstance(s.AddModel(m), mgl32.Ident4()); err != nil {
		return nil, err
	}
	return s, nil
}

func loadJSONScene(path string, log hizcull.Logger) (*core.Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file SceneFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return BuildScene(file, filepath.Dir(path), log)
}

// BuildScene loads every model of file from dir and adds the instances.
func BuildScene(file SceneFile, dir string, log hizcull.Logger) (*core.Scene, error) {
	log = hizcull.OrNop(log)
	s := core.NewScene()
	// name or id -> asset
	refs := make(map[string]core.AssetID, 2*len(file.Models))
	for _, me := range file.Models {
		if _, dup := refs[me.Name]; dup {
			return nil, fmt.Errorf("model %q: %w", me.Name, ErrDuplicateModel)
		}
		id := core.NewAssetID()
		if me.ID != "" {
			u, err := uuid.Parse(me.ID)
			if err != nil {
				return nil, fmt.Errorf("model %q: id %q: %w", me.Name, me.ID, err)
			}
			id = core.AssetID(u.String())
			if _, dup := refs[string(id)]; dup {
				return nil, fmt.Errorf("model %q: id %s: %w", me.Name, id, ErrDuplicateModel)
			}
		}
		m, err := LoadOBJ(filepath.Join(dir, me.File))
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", me.Name, err)
		}
		m.ID = id
		m.Name = me.Name
		id = s.AddModel(m)
		refs[me.Name] = id
		refs[string(id)] = id
		log.Debugf("model %q (%s): %d vertices, %d triangles", me.Name, id, m.VertexCount(), m.IndexCount()/3)
	}
	for i, ie := range file.Instances {
		id, ok := refs[ie.Model]
		if !ok {
			return nil, fmt.Errorf("instance %d: unknown model %q", i, ie.Model)
		}
		if _, err := s.AddInstance(id, ie.Transform()); err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
	}
	return s, nil
}

// RandomScene scatters n cubes uniformly in [0, size)^3 with random scale in
// [minScale, maxScale) and random rotation.
func RandomScene(n int, size, minScale, maxScale float32, seed int64) *core.Scene {
	r := rand.New(rand.NewSource(seed))
	s := core.NewScene()
	cube := s.AddModel(core.NewCubeModel("cube"))
	for i := 0; i < n; i++ {
		k := minScale + (maxScale-minScale)*r.Float32()
		e := InstanceEntry{
			Translate: &[3]float32{r.Float32() * size, r.Float32() * size, r.Float32() * size},
			Rotate:    &[3]float32{r.Float32() * 360, r.Float32() * 360, r.Float32() * 360},
			Scale:     &[3]float32{k, k, k},
		}
		// cube is always registered
		_, _ = s.AddInstance(cube, e.Transform())
	}
	return s
}
