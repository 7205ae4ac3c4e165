// Package renderer holds the three scene renderers: Basic draws every
// instance, SimpleHiZ culls with the flat culler and OctreeHiZ with the
// hierarchical one. Only one is active at a time.
package renderer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gekko3d/hizcull"
	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/cull"
	"github.com/gekko3d/hizcull/hizrt/rt/raster"
)

// Type names a renderer. The set is closed.
type Type int

const (
	Basic Type = iota
	SimpleHiZ
	OctreeHiZ
)

var ErrUnknownType = errors.New("renderer: unknown type")

var typeNames = [...]string{
	Basic:     "Basic",
	SimpleHiZ: "Simple Hi-Z",
	OctreeHiZ: "Octree Hi-Z",
}

// Types lists every renderer in display order.
func Types() []Type { return []Type{Basic, SimpleHiZ, OctreeHiZ} }

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// ParseType accepts a display name or one of basic, simple, octree.
func ParseType(s string) (Type, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, t := range Types() {
		if key == strings.ToLower(t.String()) {
			return t, nil
		}
	}
	switch key {
	case "basic", "none":
		return Basic, nil
	case "simple", "simple-hiz", "flat", "hiz":
		return SimpleHiZ, nil
	case "octree", "octree-hiz":
		return OctreeHiZ, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// UI receives the diagnostic lines of DrawUi.
type UI interface {
	Text(format string, args ...any)
}

// Stats describe the last RenderScene call.
type Stats struct {
	Drawn int
	Total int
	// Culled is Total minus Drawn.
	Culled int
	// CullSkipped is set when the pyramid had no usable depth and every
	// instance was drawn.
	CullSkipped bool
	// Passes counts cull passes run, two for a refined flat cull.
	Passes int
}

// Renderer draws one frame of the scene into the rasterizer's targets. The
// caller clears the targets and sets the view and projection first.
type Renderer interface {
	Type() Type
	RenderScene() error
	DrawUi(ui UI)
	Stats() Stats
	// Invalidate drops any depth history, forcing the next frame to draw all.
	Invalidate()
	// Release frees the pyramid and culler buffers.
	Release()

	renderer()
}

// New builds a renderer of type t over scene. The culling renderers build
// their pyramid and culler on be; nil runs them on the rasterizer's software
// device. Kernel build failures are returned and the caller must not use a
// renderer that failed to build.
func New(t Type, r *raster.Rasterizer, scene *core.Scene, be cull.Backend, log hizcull.Logger) (Renderer, error) {
	log = hizcull.OrNop(log)
	if be == nil {
		be = cull.NewSoftware(r.Device())
	}
	b := base{r: r, scene: scene, be: be, log: log}
	var (
		out Renderer
		err error
	)
	switch t {
	case Basic:
		out = &basicRenderer{base: b}
	case SimpleHiZ:
		out, err = newSimpleHiZ(b)
	case OctreeHiZ:
		out, err = newOctreeHiZ(b)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(t))
	}
	if err != nil {
		log.Errorf("renderer %s unavailable on %s: %v", t, be.Name(), err)
		return nil, fmt.Errorf("renderer %s: %w", t, err)
	}
	return out, nil
}

type base struct {
	r     *raster.Rasterizer
	scene *core.Scene
	be    cull.Backend
	log   hizcull.Logger
	stats Stats
}

func (b *base) renderer() {}

func (b *base) Release() {}

func (b *base) Stats() Stats { return b.stats }

func (b *base) DrawUi(ui UI) {
	ui.Text("Culling: %d / %d", b.stats.Drawn, b.stats.Total)
}

func (b *base) drawInstance(id core.InstanceID) error {
	inst := b.scene.Instance(id)
	m := b.scene.Model(inst.Model)
	b.r.SetMatrixModel(inst.Transform)
	b.r.SetObjectID(id)
	return b.r.DrawModel(m)
}

func (b *base) drawList(ids []core.InstanceID) error {
	for _, id := range ids {
		if err := b.drawInstance(id); err != nil {
			return err
		}
	}
	return nil
}

func (b *base) drawAll() error {
	var err error
	b.scene.ForEachInstance(func(id core.InstanceID, _ core.Instance, _ *core.Model) {
		if err == nil {
			err = b.drawInstance(id)
		}
	})
	return err
}

func (b *base) record(drawn, passes int, skipped bool) {
	total := b.scene.InstanceCount()
	b.stats = Stats{Drawn: drawn, Total: total, Culled: total - drawn, CullSkipped: skipped, Passes: passes}
}

type basicRenderer struct {
	base
}

func (r *basicRenderer) Type() Type  { return Basic }
func (r *basicRenderer) Invalidate() {}

func (r *basicRenderer) RenderScene() error {
	if err := r.drawAll(); err != nil {
		return err
	}
	r.record(r.scene.InstanceCount(), 0, false)
	return nil
}
