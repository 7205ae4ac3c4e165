package app

import (
	"fmt"

	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/renderer"
)

// Cull backends.
const (
	BackendSoftware = "software"
	BackendWebGPU   = "webgpu"
)

type Config struct {
	Width    int
	Height   int
	Title    string
	Renderer renderer.Type
	Compare  core.DepthCompare
	Workers  int
	Debug    bool
	// Backend runs the pyramid and cull kernels. webgpu falls back to
	// software when no adapter is found.
	Backend string

	FovY float32
	Near float32
	Far  float32

	// OrbitStep is the camera yaw in radians applied per headless frame.
	OrbitStep float32

	// Scene is a .json or .obj path. When empty a random cube scene is built.
	Scene        string
	RandomCount  int
	RandomSize   float32
	RandomSeed   int64
	FontPath     string
	FontSize     float64
	Frames       int
	SnapshotPath string
}

func DefaultConfig() Config {
	return Config{
		Width:       1600,
		Height:      900,
		Title:       "Hi-Z Culling",
		Renderer:    renderer.OctreeHiZ,
		Compare:     core.DepthLess,
		Backend:     BackendWebGPU,
		FovY:        core.DefaultFovY,
		Near:        0.1,
		Far:         1000,
		OrbitStep:   0.01,
		RandomCount: 1000,
		RandomSize:  100,
		RandomSeed:  1,
		FontSize:    14,
	}
}

func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("app: invalid size %dx%d", c.Width, c.Height)
	}
	if c.Near <= 0 || c.Far <= c.Near {
		return fmt.Errorf("app: invalid clip range [%g, %g]", c.Near, c.Far)
	}
	if c.FovY <= 0 || c.FovY >= 180 {
		return fmt.Errorf("app: invalid fov %g", c.FovY)
	}
	if c.Backend != BackendSoftware && c.Backend != BackendWebGPU {
		return fmt.Errorf("app: unknown backend %q", c.Backend)
	}
	for _, t := range renderer.Types() {
		if t == c.Renderer {
			return nil
		}
	}
	return fmt.Errorf("app: %w: %d", renderer.ErrUnknownType, int(c.Renderer))
}
