package device

import (
	"fmt"
	"math"
	"sync/atomic"
)

type TextureFormat uint8

const (
	TextureFormatR32Float TextureFormat = iota
	TextureFormatRGBA8Unorm
)

func (f TextureFormat) String() string {
	switch f {
	case TextureFormatR32Float:
		return "r32float"
	case TextureFormatRGBA8Unorm:
		return "rgba8unorm"
	}
	return fmt.Sprintf("TextureFormat(%d)", uint8(f))
}

type TextureDescriptor struct {
	Label         string
	Width         int
	Height        int
	MipLevelCount int
	Format        TextureFormat
}

// Texture is a 2D image with a mip chain. Level k is ceil(level k-1 / 2) in
// each dimension.
type Texture struct {
	label  string
	format TextureFormat
	levels []*TextureView
}

func (t *Texture) Label() string         { return t.label }
func (t *Texture) Format() TextureFormat { return t.format }
func (t *Texture) Width() int            { return t.levels[0].width }
func (t *Texture) Height() int           { return t.levels[0].height }
func (t *Texture) MipLevelCount() int    { return len(t.levels) }

// CreateView returns the single-level view of mip level.
func (t *Texture) CreateView(level int) (*TextureView, error) {
	if level < 0 || level >= len(t.levels) {
		return nil, fmt.Errorf("%w: %q has no mip level %d", ErrInvalidTexture, t.label, level)
	}
	return t.levels[level], nil
}

// Level is CreateView without the error; nil when level is out of range.
func (t *Texture) Level(level int) *TextureView {
	if level < 0 || level >= len(t.levels) {
		return nil
	}
	return t.levels[level]
}

// TextureView is one mip level. Out-of-range loads read zero and stores are dropped.
type TextureView struct {
	tex    *Texture
	level  int
	width  int
	height int
	texels []uint32
}

func (v *TextureView) Texture() *Texture { return v.tex }
func (v *TextureView) Level() int        { return v.level }
func (v *TextureView) Width() int        { return v.width }
func (v *TextureView) Height() int       { return v.height }

func (v *TextureView) index(x, y int) int {
	if x < 0 || y < 0 || x >= v.width || y >= v.height {
		return -1
	}
	return y*v.width + x
}

func (v *TextureView) Load(x, y int) uint32 {
	i := v.index(x, y)
	if i < 0 {
		return 0
	}
	return v.texels[i]
}

func (v *TextureView) Store(x, y int, val uint32) {
	if i := v.index(x, y); i >= 0 {
		v.texels[i] = val
	}
}

// LoadClamped reads with coordinates clamped to the level edge.
func (v *TextureView) LoadClamped(x, y int) uint32 {
	x = min(max(x, 0), v.width-1)
	y = min(max(y, 0), v.height-1)
	return v.texels[y*v.width+x]
}

func (v *TextureView) LoadFloat(x, y int) float32 {
	return math.Float32frombits(v.Load(x, y))
}

func (v *TextureView) LoadFloatClamped(x, y int) float32 {
	return math.Float32frombits(v.LoadClamped(x, y))
}

func (v *TextureView) StoreFloat(x, y int, f float32) {
	v.Store(x, y, math.Float32bits(f))
}

// AtomicCompareAndSwap is the building block for depth-tested writes.
func (v *TextureView) AtomicCompareAndSwap(x, y int, old, new uint32) bool {
	i := v.index(x, y)
	if i < 0 {
		return false
	}
	return atomic.CompareAndSwapUint32(&v.texels[i], old, new)
}

// MipLevelCount is the length of the full chain for w x h down to 1x1,
// ceil(log2(max(w, h))) + 1.
func MipLevelCount(w, h int) int {
	if w <= 0 || h <= 0 {
		return 0
	}
	n := 1
	for w > 1 || h > 1 {
		w, h = nextMip(w), nextMip(h)
		n++
	}
	return n
}

// MipSize returns the dimensions of level for a w x h base.
func MipSize(w, h, level int) (int, int) {
	for i := 0; i < level; i++ {
		w, h = nextMip(w), nextMip(h)
	}
	return w, h
}

func nextMip(n int) int {
	if n <= 1 {
		return 1
	}
	return (n + 1) / 2
}
