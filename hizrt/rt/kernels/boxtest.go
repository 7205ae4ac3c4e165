package kernels

import (
	"math"

	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/gekko3d/hizcull/hizrt/rt/device"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	// DepthEpsilon keeps coplanar surfaces from occluding themselves.
	DepthEpsilon = 1e-6
	// ClipWEpsilon is the smallest clip w treated as in front of the eye.
	ClipWEpsilon = 1e-6
)

// Footprint is the screen-space projection of a box.
type Footprint struct {
	// Pixel rectangle, continuous coordinates, row 0 at the top.
	X0, Y0, X1, Y1 float32
	// Nearest depth of the box in window depth.
	Nearest float32
}

// ProjectBox projects a world box. straddles is set when some but not all
// corners lie at or behind the eye plane; outside is set when the box misses
// the clip volume or lies entirely behind the eye.
func ProjectBox(cam *Camera, box core.BoundingBox) (fp Footprint, straddles, outside bool) {
	lo := mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	hi := mgl32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	behind := 0
	for _, c := range box.Corners() {
		clip := cam.ViewProj.Mul4x1(c.Vec4(1))
		if clip.W() <= ClipWEpsilon {
			behind++
			continue
		}
		ndc := clip.Vec3().Mul(1 / clip.W())
		for i := 0; i < 3; i++ {
			lo[i] = min(lo[i], ndc[i])
			hi[i] = max(hi[i], ndc[i])
		}
	}
	switch behind {
	case 0:
	case 8:
		return fp, false, true
	default:
		return fp, true, false
	}
	if hi.X() < -1 || lo.X() > 1 || hi.Y() < -1 || lo.Y() > 1 || hi.Z() < -1 || lo.Z() > 1 {
		return fp, false, true
	}
	w, h := float32(cam.Width), float32(cam.Height)
	fp.X0 = clamp01(lo.X()*0.5+0.5) * w
	fp.X1 = clamp01(hi.X()*0.5+0.5) * w
	fp.Y0 = (1 - clamp01(hi.Y()*0.5+0.5)) * h
	fp.Y1 = (1 - clamp01(lo.Y()*0.5+0.5)) * h
	fp.Nearest = cam.Compare.WindowDepth(max(lo.Z(), -1))
	return fp, false, false
}

// FootprintLevel picks the pyramid level whose texels are at least as large
// as the footprint, so the footprint touches at most 2x2 texels.
func FootprintLevel(fp Footprint, levels uint32) int {
	extent := max(fp.X1-fp.X0, fp.Y1-fp.Y0)
	level := 0
	if extent > 1 {
		level = int(math.Ceil(math.Log2(float64(extent))))
	}
	if levels > 0 && level > int(levels)-1 {
		level = int(levels) - 1
	}
	return level
}

// TestBox is the conservative Hi-Z test shared by every culler. It returns
// true when the box may be visible. hiz nil means no occlusion information.
func TestBox(cam *Camera, hiz *device.Texture, box core.BoundingBox) bool {
	if box.IsEmpty() {
		return false
	}
	fp, straddles, outside := ProjectBox(cam, box)
	if straddles {
		return true
	}
	if outside {
		return false
	}
	if hiz == nil || cam.Width == 0 || cam.Height == 0 {
		return true
	}
	levels := min(cam.Levels, uint32(hiz.MipLevelCount()))
	level := FootprintLevel(fp, levels)
	view := hiz.Level(level)

	px0 := min(int(fp.X0), int(cam.Width)-1)
	py0 := min(int(fp.Y0), int(cam.Height)-1)
	px1 := min(int(fp.X1), int(cam.Width)-1)
	py1 := min(int(fp.Y1), int(cam.Height)-1)
	tx0, ty0 := px0>>level, py0>>level
	tx1, ty1 := px1>>level, py1>>level

	cmp := cam.Compare
	far := view.LoadFloatClamped(tx0, ty0)
	for ty := ty0; ty <= ty1; ty++ {
		for tx := tx0; tx <= tx1; tx++ {
			far = cmp.Farthest(far, view.LoadFloatClamped(tx, ty))
		}
	}
	return !cmp.BeyondBy(fp.Nearest, far, DepthEpsilon)
}

func clamp01(v float32) float32 {
	return mgl32.Clamp(v, 0, 1)
}
