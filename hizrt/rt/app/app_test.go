package app

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/kernels"
	"github.com/gekko3d/hizcull/hizrt/rt/renderer"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name string
		edit func(c *Config)
	}{
		{"zero width", func(c *Config) { c.Width = 0 }},
		{"negative near", func(c *Config) { c.Near = -1 }},
		{"far before near", func(c *Config) { c.Far = c.Near }},
		{"flat fov", func(c *Config) { c.FovY = 180 }},
		{"unknown renderer", func(c *Config) { c.Renderer = renderer.Type(5) }},
		{"unknown backend", func(c *Config) { c.Backend = "vulkan" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.edit(&c)
			assert.Error(t, c.Validate())
		})
	}
}

// testConfig culls on the software device so results do not depend on the
// host's adapter.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backend = BackendSoftware
	cfg.Workers = 4
	return cfg
}

func TestProfiler(t *testing.T) {
	p := NewProfiler()
	end := p.Scope("render")
	time.Sleep(time.Millisecond)
	end()
	p.BeginScope("clear")
	p.EndScope("clear")
	p.EndScope("missing")
	p.SetCount("drawn", 7)

	assert.GreaterOrEqual(t, p.Last("render"), time.Millisecond)
	assert.Equal(t, p.Last("render"), p.Average("render"))
	assert.Equal(t, 7, p.Count("drawn"))

	lines := p.Lines()
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "render")
	assert.Contains(t, lines[1], "clear")
	assert.Contains(t, lines[2], "drawn")

	p.Reset()
	assert.Zero(t, p.Average("render"))
	assert.Zero(t, p.Count("drawn"))
	assert.Len(t, p.Lines(), 2)
}

func TestOverlay_Draw(t *testing.T) {
	o := NewOverlay()
	w, h := o.Measure()
	assert.Zero(t, w+h)

	o.Text("Culling: %d / %d", 2, 3)
	o.Text("x")
	assert.Equal(t, []string{"Culling: 2 / 3", "x"}, o.Lines())

	img := image.NewRGBA(image.Rect(0, 0, 200, 60))
	o.Draw(img)
	w, h = o.Measure()
	assert.Equal(t, 2*13+2*overlayMargin, h)
	text := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if img.RGBAAt(x, y) == (color.RGBA{255, 255, 0, 255}) {
				text++
			}
		}
	}
	assert.Positive(t, text)
	assert.Equal(t, color.RGBA{}, img.RGBAAt(w+1, h+1))

	o.Clear()
	assert.Empty(t, o.Lines())
}

func TestOverlay_Font(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regular.ttf")
	require.NoError(t, os.WriteFile(path, goregular.TTF, 0o644))
	o, err := NewOverlayFont(path, 20)
	require.NoError(t, err)
	o.Text("Hi-Z")
	_, h := o.Measure()
	assert.Greater(t, h, 20)

	_, err = NewOverlayFont(filepath.Join(t.TempDir(), "none.ttf"), 12)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = ParseFace([]byte("not a font"), 12)
	assert.Error(t, err)
}

// Same layout as the renderer tests: a wall with one cube hidden behind it
// and one beside it, seen from (0, 0, 10).
func occluderApp(t *testing.T, typ renderer.Type) *App {
	t.Helper()
	s := core.NewScene()
	cube := s.AddModel(core.NewCubeModel("cube"))
	for _, m := range []mgl32.Mat4{
		mgl32.Scale3D(4, 4, 1),
		mgl32.Translate3D(0, 0, -5),
		mgl32.Translate3D(4, 0, 0),
	} {
		_, err := s.AddInstance(cube, m)
		require.NoError(t, err)
	}

	cfg := testConfig()
	cfg.Width, cfg.Height = 64, 64
	cfg.FovY = 60
	cfg.Renderer = typ
	a, err := NewApp(cfg, s, nil)
	require.NoError(t, err)
	t.Cleanup(a.Release)

	a.Camera.Target = mgl32.Vec3{}
	a.Camera.Radius = 10
	a.Camera.Theta = math.Pi / 2
	a.Camera.Phi = math.Pi / 2
	return a
}

func TestApp_SwitchRenderer(t *testing.T) {
	a := occluderApp(t, renderer.OctreeHiZ)
	require.NoError(t, a.Frame())
	assert.True(t, a.Renderer().Stats().CullSkipped)
	require.NoError(t, a.Frame())
	assert.Equal(t, 1, a.Renderer().Stats().Culled)
	assert.Equal(t, 1, a.Profiler.Count("culled"))
	assert.Contains(t, a.Overlay.Lines(), "Culling: 2 / 3")
	assert.Equal(t, "Octree Hi-Z", a.Overlay.Lines()[0])

	require.NoError(t, a.SetRenderer(renderer.SimpleHiZ))
	require.NoError(t, a.Frame())
	assert.True(t, a.Renderer().Stats().CullSkipped)
	require.NoError(t, a.Frame())
	assert.Equal(t, 1, a.Renderer().Stats().Culled)

	require.NoError(t, a.SetRenderer(renderer.Basic))
	require.NoError(t, a.Frame())
	assert.Equal(t, renderer.Stats{Drawn: 3, Total: 3}, a.Renderer().Stats())

	require.NoError(t, a.SetRenderer(renderer.OctreeHiZ))
	require.NoError(t, a.Frame())
	assert.True(t, a.Renderer().Stats().CullSkipped, "stale depth history is dropped on switch")
	assert.Equal(t, 3, a.Profiler.Count("drawn"))
	assert.Equal(t, 6, a.FrameCount)

	assert.ErrorIs(t, a.SetRenderer(renderer.Type(9)), renderer.ErrUnknownType)
	assert.Equal(t, renderer.OctreeHiZ, a.Renderer().Type())
}

func TestApp_ResizeAndSnapshot(t *testing.T) {
	a := occluderApp(t, renderer.SimpleHiZ)
	require.NoError(t, a.Frame())
	require.NoError(t, a.Frame())
	assert.False(t, a.Renderer().Stats().CullSkipped)

	require.NoError(t, a.Resize(48, 32))
	require.NoError(t, a.Resize(0, 10))
	assert.InDelta(t, 1.5, a.Camera.Aspect, 1e-6)
	require.NoError(t, a.Frame())
	assert.True(t, a.Renderer().Stats().CullSkipped)

	path := filepath.Join(t.TempDir(), "frame.png")
	require.NoError(t, a.Snapshot(path))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 48, 32), img.Bounds())

	// The wall covers the middle of the frame.
	background := kernels.PackRGBA8(mgl32.Vec4{0.2, 0.3, 0.5, 1})
	assert.NotEqual(t, background, a.Raster.ReadColor()[20*48+26])
}

func TestApp_Run(t *testing.T) {
	cfg := testConfig()
	cfg.Width, cfg.Height = 64, 48
	cfg.RandomCount = 60
	cfg.RandomSize = 20

	for _, typ := range renderer.Types() {
		t.Run(typ.String(), func(t *testing.T) {
			s, err := LoadScene(cfg, nil)
			require.NoError(t, err)
			require.Equal(t, 60, s.InstanceCount())
			cfg.Renderer = typ
			a, err := NewApp(cfg, s, nil)
			require.NoError(t, err)
			defer a.Release()

			sum, err := a.Run(4)
			require.NoError(t, err)
			assert.Equal(t, typ, sum.Renderer)
			assert.Equal(t, 4, sum.Frames)
			assert.LessOrEqual(t, sum.Drawn, 60.0)
			assert.InDelta(t, 60, sum.Drawn+sum.Culled, 1e-9)
			assert.Positive(t, sum.Dispatches)
			if typ == renderer.Basic {
				assert.Zero(t, sum.Skipped)
				assert.Zero(t, sum.Culled)
				assert.Zero(t, sum.Readbacks)
			} else {
				assert.Equal(t, 1, sum.Skipped)
				assert.Positive(t, sum.Readbacks)
			}
			assert.Contains(t, sum.String(), typ.String())
		})
	}
}

func TestLoadScene_File(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scene = filepath.Join(t.TempDir(), "scene.ply")
	_, err := LoadScene(cfg, nil)
	assert.Error(t, err)
}

func TestNewApp_WebGPUFallsBack(t *testing.T) {
	s, err := LoadScene(testConfig(), nil)
	require.NoError(t, err)
	cfg := testConfig()
	cfg.Width, cfg.Height = 32, 32
	cfg.Backend = BackendWebGPU
	a, err := NewApp(cfg, s, nil)
	require.NoError(t, err)
	defer a.Release()

	if a.Compute == nil {
		assert.Equal(t, BackendSoftware, a.Backend.Name())
	} else {
		assert.Equal(t, BackendWebGPU, a.Backend.Name())
	}
	require.NoError(t, a.Frame())
	require.NoError(t, a.Frame())
	assert.False(t, a.Renderer().Stats().CullSkipped)
	assert.Positive(t, a.Stats().Readbacks)
}
