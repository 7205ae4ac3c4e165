// Package app runs frames: it owns the software device, the rasterizer, the
// cull backend, the orbit camera and the active renderer, and turns the color
// target into an image with the diagnostic overlay.
package app

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"time"

	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/cull"
	"github.com/gekko3d/hizcull/hizrt/rt/device"
	"github.com/gekko3d/hizcull/hizrt/rt/gpu"
	"github.com/gekko3d/hizcull/hizrt/rt/loader"
	"github.com/gekko3d/hizcull/hizrt/rt/raster"
	"github.com/gekko3d/hizcull/hizrt/rt/renderer"
)

// cameraDistance scales the scene extent into the initial orbit radius.
const cameraDistance = 1.2

type App struct {
	Config Config
	Log    hizcull.Logger
	Device *device.Device
	// Compute is the WebGPU context of the webgpu backend, nil on software.
	Compute  *gpu.Context
	Backend  cull.Backend
	Raster   *raster.Rasterizer
	Scene    *core.Scene
	Camera   *core.OrbitCamera
	Profiler *Profiler
	Overlay  *Overlay

	renderers map[renderer.Type]renderer.Renderer
	active    renderer.Renderer

	FrameCount int
	frameTime  time.Duration
}

// LoadScene reads cfg.Scene, or builds the random cube scene when it is empty.
func LoadScene(cfg Config, log hizcull.Logger) (*core.Scene, error) {
	if cfg.Scene != "" {
		return loader.Load(cfg.Scene, log)
	}
	s := loader.RandomScene(cfg.RandomCount, cfg.RandomSize, 0.5, 2, cfg.RandomSeed)
	hizcull.OrNop(log).Infof("random scene: %d cubes in %g^3, seed %d", cfg.RandomCount, cfg.RandomSize, cfg.RandomSeed)
	return s, nil
}

func NewApp(cfg Config, scene *core.Scene, log hizcull.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = hizcull.OrNop(log)
	log.SetDebug(cfg.Debug || log.DebugEnabled())

	dev := device.NewDevice(&device.Descriptor{Label: "hizcull", Workers: cfg.Workers})
	r, err := raster.New(dev, raster.Options{
		Width:   cfg.Width,
		Height:  cfg.Height,
		Compare: cfg.Compare,
		Logger:  hizcull.Named(log, "raster"),
	})
	if err != nil {
		dev.Release()
		return nil, err
	}
	scene.Upload(dev)

	var compute *gpu.Context
	var be cull.Backend = cull.NewSoftware(dev)
	if cfg.Backend == BackendWebGPU {
		if compute, err = gpu.NewContext(hizcull.Named(log, "gpu")); err != nil {
			log.Warnf("webgpu backend unavailable, culling on the software device: %v", err)
		} else {
			be = gpu.NewBackend(compute)
		}
	}

	cam := core.NewOrbitCamera(scene.Centroid(), cameraDistance*scene.Extent(), float32(cfg.Width)/float32(cfg.Height))
	cam.FovY, cam.Near, cam.Far = cfg.FovY, cfg.Near, cfg.Far

	overlay := NewOverlay()
	if cfg.FontPath != "" {
		if overlay, err = NewOverlayFont(cfg.FontPath, cfg.FontSize); err != nil {
			log.Warnf("overlay font: %v, using the built-in face", err)
			overlay = NewOverlay()
		}
	}

	a := &App{
		Config:    cfg,
		Log:       log,
		Device:    dev,
		Compute:   compute,
		Backend:   be,
		Raster:    r,
		Scene:     scene,
		Camera:    cam,
		Profiler:  NewProfiler(),
		Overlay:   overlay,
		renderers: make(map[renderer.Type]renderer.Renderer),
	}
	if err := a.SetRenderer(cfg.Renderer); err != nil {
		a.Release()
		return nil, err
	}
	log.Infof("%d instances, %d triangles, %dx%d, depth %s, culling on %s", scene.InstanceCount(), scene.TriangleCount(), cfg.Width, cfg.Height, cfg.Compare, be.Name())
	return a, nil
}

// Renderer is the active renderer.
func (a *App) Renderer() renderer.Renderer { return a.active }

// SetRenderer activates t, building it on first use. A renderer that fails to
// build is never activated and the current one stays.
func (a *App) SetRenderer(t renderer.Type) error {
	if a.active != nil && a.active.Type() == t {
		return nil
	}
	rd, ok := a.renderers[t]
	if !ok {
		var err error
		if rd, err = renderer.New(t, a.Raster, a.Scene, a.Backend, hizcull.Named(a.Log, "renderer")); err != nil {
			return err
		}
		a.renderers[t] = rd
	}
	// Depth history from the last time t ran no longer matches the camera.
	rd.Invalidate()
	a.active = rd
	a.Log.Infof("renderer: %s", t)
	return nil
}

// Resize reallocates the targets. Culling renderers notice the new size and
// draw everything for one frame.
func (a *App) Resize(w, h int) error {
	if w <= 0 || h <= 0 {
		return nil
	}
	if err := a.Raster.SetViewport(w, h); err != nil {
		return err
	}
	a.Config.Width, a.Config.Height = w, h
	a.Camera.SetAspect(float32(w) / float32(h))
	return nil
}

// Frame clears the targets, sets the camera matrices and renders the scene
// with the active renderer.
func (a *App) Frame() error {
	if a.active == nil {
		return errors.New("app: no renderer")
	}
	start := time.Now()
	before := a.Stats()

	a.Profiler.BeginScope("clear")
	if err := a.Raster.ClearBuffers(); err != nil {
		return err
	}
	a.Profiler.EndScope("clear")

	a.Raster.SetMatrixView(a.Camera.ViewMatrix())
	a.Raster.SetMatrixProj(a.Camera.ProjectionMatrix())

	a.Profiler.BeginScope("render")
	if err := a.active.RenderScene(); err != nil {
		return fmt.Errorf("%s: %w", a.active.Type(), err)
	}
	a.Device.GetQueue().Finish()
	a.Profiler.EndScope("render")

	a.frameTime = time.Since(start)
	a.FrameCount++

	st := a.active.Stats()
	ds := a.Stats().Sub(before)
	a.Profiler.SetCount("drawn", st.Drawn)
	a.Profiler.SetCount("culled", st.Culled)
	a.Profiler.SetCount("dispatches", int(ds.Dispatches))
	a.Profiler.SetCount("readbacks", int(ds.Readbacks))

	a.Overlay.Clear()
	a.Overlay.Text("%s", a.active.Type())
	a.active.DrawUi(a.Overlay)
	a.Overlay.Text("Frame: %.2f ms", float64(a.frameTime.Microseconds())/1000)
	if a.Config.Debug {
		for _, l := range a.Profiler.Lines() {
			a.Overlay.Text("%s", l)
		}
	}
	if a.Log.DebugEnabled() {
		a.Log.Debugf("frame %d %s: drawn %d/%d skipped=%v passes=%d %.2fms", a.FrameCount, a.active.Type(), st.Drawn, st.Total, st.CullSkipped, st.Passes, float64(a.frameTime.Microseconds())/1000)
	}
	return nil
}

// FrameTime is the wall time of the last Frame.
func (a *App) FrameTime() time.Duration { return a.frameTime }

// Image returns the color target with the overlay drawn on top.
func (a *App) Image() *image.RGBA {
	w, h := a.Raster.Size()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, px := range a.Raster.ReadColor() {
		img.Pix[4*i] = uint8(px)
		img.Pix[4*i+1] = uint8(px >> 8)
		img.Pix[4*i+2] = uint8(px >> 16)
		img.Pix[4*i+3] = 255
	}
	a.Overlay.Draw(img)
	return img
}

// Snapshot writes Image as a PNG.
func (a *App) Snapshot(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, a.Image()); err != nil {
		f.Close()
		return fmt.Errorf("snapshot %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.Log.Infof("snapshot written to %s", path)
	return nil
}

// Summary aggregates a headless run.
type Summary struct {
	Renderer   renderer.Type
	Frames     int
	Drawn      float64
	Culled     float64
	Skipped    int
	FrameTime  time.Duration
	Dispatches uint64
	Readbacks  uint64
}

// Run renders frames frames, yawing the camera by Config.OrbitStep after each.
func (a *App) Run(frames int) (Summary, error) {
	s := Summary{Renderer: a.active.Type()}
	before := a.Stats()
	var total time.Duration
	for i := 0; i < frames; i++ {
		if err := a.Frame(); err != nil {
			return s, err
		}
		st := a.active.Stats()
		s.Frames++
		s.Drawn += float64(st.Drawn)
		s.Culled += float64(st.Culled)
		if st.CullSkipped {
			s.Skipped++
		}
		total += a.frameTime
		a.Camera.Rotate(a.Config.OrbitStep, 0)
	}
	ds := a.Stats().Sub(before)
	s.Dispatches, s.Readbacks = ds.Dispatches+ds.IndirectDispatches, ds.Readbacks
	if s.Frames > 0 {
		n := float64(s.Frames)
		s.Drawn /= n
		s.Culled /= n
		s.FrameTime = total / time.Duration(s.Frames)
	}
	return s, nil
}

func (s Summary) String() string {
	return fmt.Sprintf("%-12s frames %d  drawn %.1f  culled %.1f  skipped %d  %.2f ms/frame  dispatches %d  readbacks %d",
		s.Renderer, s.Frames, s.Drawn, s.Culled, s.Skipped, float64(s.FrameTime.Microseconds())/1000, s.Dispatches, s.Readbacks)
}

// Stats sums the software device and, on the webgpu backend, the compute
// context.
func (a *App) Stats() device.Stats {
	st := a.Device.Stats()
	if a.Compute != nil {
		st = st.Add(a.Compute.Stats())
	}
	return st
}

func (a *App) Release() {
	for _, rd := range a.renderers {
		rd.Release()
	}
	a.renderers, a.active = nil, nil
	if a.Compute != nil {
		a.Compute.Release()
		a.Compute = nil
	}
	a.Device.Release()
}
