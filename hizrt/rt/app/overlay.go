package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const overlayMargin = 6

// Overlay collects diagnostic text during a frame and stamps it onto the
// frame image. It satisfies renderer.UI.
type Overlay struct {
	face  font.Face
	lines []string

	Color      color.Color
	Background color.Color
}

// NewOverlay uses the built-in 7x13 face.
func NewOverlay() *Overlay {
	return newOverlay(basicfont.Face7x13)
}

// NewOverlayFont loads a TrueType or OpenType font at size points.
func NewOverlayFont(path string, size float64) (*Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	face, err := ParseFace(data, size)
	if err != nil {
		return nil, err
	}
	return newOverlay(face), nil
}

func ParseFace(data []byte, size float64) (font.Face, error) {
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create face: %w", err)
	}
	return face, nil
}

func newOverlay(face font.Face) *Overlay {
	return &Overlay{
		face:       face,
		Color:      color.RGBA{255, 255, 0, 255},
		Background: color.RGBA{0, 0, 0, 160},
	}
}

func (o *Overlay) Text(format string, args ...any) {
	o.lines = append(o.lines, fmt.Sprintf(format, args...))
}

func (o *Overlay) Lines() []string { return o.lines }

func (o *Overlay) Clear() { o.lines = o.lines[:0] }

func (o *Overlay) lineHeight() int {
	return o.face.Metrics().Height.Ceil()
}

// Measure returns the pixel size of the text block, margins included.
func (o *Overlay) Measure() (int, int) {
	if len(o.lines) == 0 {
		return 0, 0
	}
	w := 0
	for _, l := range o.lines {
		w = max(w, font.MeasureString(o.face, l).Ceil())
	}
	return w + 2*overlayMargin, len(o.lines)*o.lineHeight() + 2*overlayMargin
}

// Draw paints the lines in the top-left corner of dst.
func (o *Overlay) Draw(dst draw.Image) {
	w, h := o.Measure()
	if w == 0 {
		return
	}
	r := image.Rect(0, 0, w, h).Add(dst.Bounds().Min).Intersect(dst.Bounds())
	draw.Draw(dst, r, image.NewUniform(o.Background), image.Point{}, draw.Over)

	d := &font.Drawer{Dst: dst, Src: image.NewUniform(o.Color), Face: o.face}
	ascent := o.face.Metrics().Ascent.Ceil()
	for i, l := range o.lines {
		x := dst.Bounds().Min.X + overlayMargin
		y := dst.Bounds().Min.Y + overlayMargin + ascent + i*o.lineHeight()
		d.Dot = fixed.P(x, y)
		d.DrawString(l)
	}
}
