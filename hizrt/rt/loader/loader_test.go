package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quadOBJ = `# unit quad in the xy plane
o quad
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 0 1
f 1/1/1 2/2/1 3/3/1 4/4/1
`

func TestParseOBJ_FanAndDedup(t *testing.T) {
	m, err := ParseOBJ(strings.NewReader(quadOBJ), "quad")
	require.NoError(t, err)
	assert.Equal(t, 4, m.VertexCount())
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, m.Indices)
	for _, n := range m.Normals {
		assert.Equal(t, mgl32.Vec3{0, 0, 1}, n)
	}
	assert.Equal(t, mgl32.Vec3{1, 1, 0}, m.Bounds.Max)
	assert.NotEmpty(t, m.ID)
}

func TestParseOBJ_GeneratesNormals(t *testing.T) {
	src := "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\nf -3 -2 -1\n"
	m, err := ParseOBJ(strings.NewReader(src), "tri")
	require.NoError(t, err)
	assert.Equal(t, 3, m.VertexCount())
	assert.Equal(t, []uint32{0, 1, 2, 0, 1, 2}, m.Indices)
	for _, n := range m.Normals {
		assert.InDelta(t, 1, n.Z(), 1e-6)
	}
}

func TestParseOBJ_Errors(t *testing.T) {
	tests := []string{
		"v 0 0\n",
		"v 0 0 0\nf 1 2\n",
		"v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 4\n",
		"v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 0\n",
		"v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1//1 2//1 3//1\n",
		"v a b c\n",
	}
	for _, src := range tests {
		_, err := ParseOBJ(strings.NewReader(src), "bad")
		assert.Error(t, err, src)
	}
}

func TestInstanceEntry_Transform(t *testing.T) {
	assert.Equal(t, mgl32.Ident4(), InstanceEntry{}.Transform())

	e := InstanceEntry{
		Translate: &[3]float32{1, 2, 3},
		Rotate:    &[3]float32{0, 0, 90},
		Scale:     &[3]float32{2, 2, 2},
	}
	// Scale, then rotate about z, then translate.
	p := mgl32.TransformCoordinate(mgl32.Vec3{1, 0, 0}, e.Transform())
	assert.InDelta(t, 1, p.X(), 1e-5)
	assert.InDelta(t, 4, p.Y(), 1e-5)
	assert.InDelta(t, 3, p.Z(), 1e-5)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_JSONScene(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "quad.obj", quadOBJ)
	path := writeFile(t, dir, "scene.json", `{
		"models": [{"name": "q", "file": "quad.obj"}],
		"instances": [
			{"model": "q"},
			{"model": "q", "translate": [10, 0, 0], "scale": [2, 2, 2]}
		]
	}`)

	s, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ModelCount())
	assert.Equal(t, 2, s.InstanceCount())
	assert.Equal(t, "q", s.Models()[0].Name)
	assert.Same(t, s.Models()[0], s.Model(s.Instance(1).Model))
	assert.Equal(t, mgl32.Vec3{10, 0, 0}, s.Instance(1).Bounds.Min)
	assert.Equal(t, mgl32.Vec3{12, 2, 0}, s.Bounds().Max)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(writeFile(t, dir, "scene.gltf", "{}"), nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(dir, "missing.obj"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)

	writeFile(t, dir, "quad.obj", quadOBJ)
	bad := writeFile(t, dir, "bad.json", `{"models": [{"name": "q", "file": "quad.obj"}], "instances": [{"model": "nope"}]}`)
	_, err = Load(bad, nil)
	assert.ErrorContains(t, err, "unknown model")

	_, err = Load(writeFile(t, dir, "broken.json", "{"), nil)
	assert.Error(t, err)
}

func TestBuildScene_ModelIDs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "quad.obj", quadOBJ)
	const wallID = "6f1c4c1e-2b7a-4d0e-9a55-0d2f6f3b8c11"

	s, err := BuildScene(SceneFile{
		Models: []ModelEntry{
			{ID: wallID, Name: "wall", File: "quad.obj"},
			{Name: "floor", File: "quad.obj"},
		},
		Instances: []InstanceEntry{{Model: wallID}, {Model: "wall"}, {Model: "floor"}},
	}, dir, nil)
	require.NoError(t, err)
	require.Equal(t, 3, s.InstanceCount())
	assert.Equal(t, core.AssetID(wallID), s.Instance(0).Model)
	assert.Equal(t, core.AssetID(wallID), s.Instance(1).Model)
	assert.Equal(t, "wall", s.Model(wallID).Name)

	floor := s.Instance(2).Model
	_, err = uuid.Parse(string(floor))
	require.NoError(t, err)
	assert.Equal(t, "floor", s.Model(floor).Name)

	_, err = BuildScene(SceneFile{Models: []ModelEntry{{ID: "not-a-uuid", Name: "q", File: "quad.obj"}}}, dir, nil)
	assert.ErrorContains(t, err, "not-a-uuid")

	_, err = BuildScene(SceneFile{Models: []ModelEntry{
		{Name: "q", File: "quad.obj"},
		{Name: "q", File: "quad.obj"},
	}}, dir, nil)
	assert.ErrorIs(t, err, ErrDuplicateModel)

	_, err = BuildScene(SceneFile{Models: []ModelEntry{
		{ID: wallID, Name: "a", File: "quad.obj"},
		{ID: strings.ToUpper(wallID), Name: "b", File: "quad.obj"},
	}}, dir, nil)
	assert.ErrorIs(t, err, ErrDuplicateModel)
}

func TestLoad_OBJIsOneInstance(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(writeFile(t, dir, "quad.obj", quadOBJ), nil)
	require.NoError(t, err)
	require.Equal(t, 1, s.InstanceCount())
	assert.Equal(t, mgl32.Ident4(), s.Instance(0).Transform)
	assert.Equal(t, "quad", s.Model(s.Instance(0).Model).Name)
}

func TestRandomScene(t *testing.T) {
	a := RandomScene(200, 100, 0.5, 2, 1)
	b := RandomScene(200, 100, 0.5, 2, 1)
	require.Equal(t, 200, a.InstanceCount())
	assert.Equal(t, a.Bounds(), b.Bounds())
	for i := 0; i < a.InstanceCount(); i++ {
		c := a.Instance(uint32(i)).Bounds.Centroid()
		for k := 0; k < 3; k++ {
			assert.GreaterOrEqual(t, c[k], float32(-1e-3))
			assert.LessOrEqual(t, c[k], float32(100+1e-3))
		}
	}
	assert.Equal(t, 0, RandomScene(0, 100, 1, 1, 1).InstanceCount())
}
