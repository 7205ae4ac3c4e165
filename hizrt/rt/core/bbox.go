package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// BoundingBox is an axis-aligned box. The empty box has Min = +MaxFloat32 and
// Max = -MaxFloat32 so that merging anything into it yields that thing.
type BoundingBox struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

func EmptyBox() BoundingBox {
	return BoundingBox{
		Min: mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		Max: mgl32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
}

func NewBox(lo, hi mgl32.Vec3) BoundingBox {
	return BoundingBox{Min: lo, Max: hi}
}

func (b BoundingBox) IsEmpty() bool {
	return b.Min.X() > b.Max.X() || b.Min.Y() > b.Max.Y() || b.Min.Z() > b.Max.Z()
}

func (b BoundingBox) MergePoint(p mgl32.Vec3) BoundingBox {
	for i := 0; i < 3; i++ {
		b.Min[i] = min(b.Min[i], p[i])
		b.Max[i] = max(b.Max[i], p[i])
	}
	return b
}

func (b BoundingBox) Merge(o BoundingBox) BoundingBox {
	if o.IsEmpty() {
		return b
	}
	return b.MergePoint(o.Min).MergePoint(o.Max)
}

func (b BoundingBox) Size() mgl32.Vec3 {
	if b.IsEmpty() {
		return mgl32.Vec3{}
	}
	return b.Max.Sub(b.Min)
}

// Extent is the length of the diagonal; zero for the empty box.
func (b BoundingBox) Extent() float32 {
	return b.Size().Len()
}

func (b BoundingBox) Centroid() mgl32.Vec3 {
	if b.IsEmpty() {
		return mgl32.Vec3{}
	}
	return b.Min.Add(b.Max).Mul(0.5)
}

// Corners returns the 8 corners; bit 0 selects max x, bit 1 max y, bit 2 max z.
func (b BoundingBox) Corners() [8]mgl32.Vec3 {
	var c [8]mgl32.Vec3
	for i := range c {
		c[i] = b.Min
		if i&1 != 0 {
			c[i][0] = b.Max[0]
		}
		if i&2 != 0 {
			c[i][1] = b.Max[1]
		}
		if i&4 != 0 {
			c[i][2] = b.Max[2]
		}
	}
	return c
}

// TransformBy returns the box enclosing the 8 transformed corners.
func (b BoundingBox) TransformBy(m mgl32.Mat4) BoundingBox {
	if b.IsEmpty() {
		return b
	}
	out := EmptyBox()
	for _, c := range b.Corners() {
		out = out.MergePoint(mgl32.TransformCoordinate(c, m))
	}
	return out
}

// Intersects treats both boxes as closed, so touching faces intersect.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	for i := 0; i < 3; i++ {
		if b.Min[i] > o.Max[i] || b.Max[i] < o.Min[i] {
			return false
		}
	}
	return true
}

func (b BoundingBox) Contains(p mgl32.Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] || p[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// Octant returns child i of an even split: bit 0 takes the upper half in x,
// bit 1 in y, bit 2 in z.
func (b BoundingBox) Octant(i int) BoundingBox {
	half := b.Size().Mul(0.5)
	lo := b.Min
	if i&1 != 0 {
		lo[0] += half[0]
	}
	if i&2 != 0 {
		lo[1] += half[1]
	}
	if i&4 != 0 {
		lo[2] += half[2]
	}
	return BoundingBox{Min: lo, Max: lo.Add(half)}
}
