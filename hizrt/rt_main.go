package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/app"
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/present"
	"github.com/gekko3d/hizcull/hizrt/rt/renderer"

	"github.com/go-gl/glfw/v3.3/glfw"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	cfg := app.DefaultConfig()
	rendererName := flag.String("renderer", cfg.Renderer.String(), "Renderer: basic, simple or octree")
	compare := flag.String("depth", cfg.Compare.String(), "Depth comparison: less, or greater for reverse-Z")
	bench := flag.Bool("bench", false, "Run every renderer headless and print a summary")
	flag.IntVar(&cfg.Width, "width", cfg.Width, "Frame width")
	flag.IntVar(&cfg.Height, "height", cfg.Height, "Frame height")
	flag.StringVar(&cfg.Backend, "backend", cfg.Backend, "Cull backend: webgpu or software")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Compute workers (0 = GOMAXPROCS)")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging and the profiler overlay")
	flag.StringVar(&cfg.Scene, "scene", "", "Scene file (.json or .obj); a random cube scene when empty")
	flag.IntVar(&cfg.RandomCount, "random", cfg.RandomCount, "Cube count of the random scene")
	flag.Int64Var(&cfg.RandomSeed, "seed", cfg.RandomSeed, "Seed of the random scene")
	flag.IntVar(&cfg.Frames, "frames", 0, "Render this many frames headless, then exit")
	flag.StringVar(&cfg.SnapshotPath, "out", "", "Write the last headless frame to this PNG file")
	flag.StringVar(&cfg.FontPath, "font", "", "TrueType font for the overlay")
	var fov, size, step float64
	flag.Float64Var(&fov, "fov", float64(cfg.FovY), "Vertical field of view in degrees")
	flag.Float64Var(&size, "size", float64(cfg.RandomSize), "Edge length of the random scene volume")
	flag.Float64Var(&step, "orbit", float64(cfg.OrbitStep), "Camera yaw per headless frame, radians")
	flag.Parse()
	cfg.FovY, cfg.RandomSize, cfg.OrbitStep = float32(fov), float32(size), float32(step)

	log := hizcull.NewDefaultLogger("hizrt", cfg.Debug)
	var err error
	if cfg.Renderer, err = renderer.ParseType(*rendererName); err != nil {
		fatal(log, err)
	}
	if cfg.Compare, err = core.ParseDepthCompare(*compare); err != nil {
		fatal(log, err)
	}

	switch {
	case *bench:
		err = runBench(cfg, log)
	case cfg.Frames > 0:
		err = runHeadless(cfg, log)
	default:
		err = runWindow(cfg, log)
	}
	if err != nil {
		fatal(log, err)
	}
}

func fatal(log hizcull.Logger, err error) {
	log.Errorf("%v", err)
	os.Exit(1)
}

func runHeadless(cfg app.Config, log hizcull.Logger) error {
	scene, err := app.LoadScene(cfg, log)
	if err != nil {
		return err
	}
	a, err := app.NewApp(cfg, scene, log)
	if err != nil {
		return err
	}
	defer a.Release()

	sum, err := a.Run(cfg.Frames)
	if err != nil {
		return err
	}
	log.Infof("%s", sum)
	if cfg.SnapshotPath != "" {
		return a.Snapshot(cfg.SnapshotPath)
	}
	return nil
}

// runBench renders the same camera path with each renderer.
func runBench(cfg app.Config, log hizcull.Logger) error {
	if cfg.Frames <= 0 {
		cfg.Frames = 100
	}
	var out []string
	for _, t := range renderer.Types() {
		scene, err := app.LoadScene(cfg, log)
		if err != nil {
			return err
		}
		cfg.Renderer = t
		a, err := app.NewApp(cfg, scene, log)
		if err != nil {
			return err
		}
		sum, err := a.Run(cfg.Frames)
		a.Release()
		if err != nil {
			return err
		}
		out = append(out, sum.String())
	}
	fmt.Println(strings.Join(out, "\n"))
	return nil
}

func runWindow(cfg app.Config, log hizcull.Logger) error {
	if err := glfw.Init(); err != nil {
		return err
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		return err
	}
	defer window.Destroy()

	scene, err := app.LoadScene(cfg, log)
	if err != nil {
		return err
	}
	cfg.Width, cfg.Height = window.GetFramebufferSize()
	a, err := app.NewApp(cfg, scene, log)
	if err != nil {
		return err
	}
	defer a.Release()

	presenter, err := present.NewPresenter(window, hizcull.Named(log, "present"))
	if err != nil {
		return err
	}
	defer presenter.Release()

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		if err := a.Resize(width, height); err != nil {
			log.Warnf("resize: %v", err)
		}
		presenter.Resize(width, height)
	})

	// Left drag orbits, scroll zooms.
	var dragging bool
	var lastX, lastY float64
	window.SetMouseButtonCallback(func(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
		if button == glfw.MouseButtonLeft {
			dragging = action == glfw.Press
			lastX, lastY = w.GetCursorPos()
		}
	})
	window.SetCursorPosCallback(func(w *glfw.Window, xpos, ypos float64) {
		if dragging {
			a.Camera.Rotate(float32(xpos-lastX)*0.005, float32(ypos-lastY)*0.005)
		}
		lastX, lastY = xpos, ypos
	})
	window.SetScrollCallback(func(w *glfw.Window, xoff, yoff float64) {
		a.Camera.Forward(-float32(yoff) * 0.05 * max(scene.Extent(), 1))
	})

	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.Key1, glfw.Key2, glfw.Key3:
			if err := a.SetRenderer(renderer.Type(key - glfw.Key1)); err != nil {
				log.Warnf("%v", err)
			}
		case glfw.KeyD:
			a.Config.Debug = !a.Config.Debug
			log.SetDebug(a.Config.Debug)
		case glfw.KeyP:
			if err := a.Snapshot(fmt.Sprintf("hizrt-%04d.png", a.FrameCount)); err != nil {
				log.Warnf("%v", err)
			}
		}
	})

	for !window.ShouldClose() {
		glfw.PollEvents()
		if err := a.Frame(); err != nil {
			return err
		}
		if err := presenter.Present(a.Image()); err != nil {
			log.Warnf("present: %v", err)
		}
	}
	return nil
}
