package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	DefaultFovY = 45.0
	minPhi      = 0.1
	minRadius   = 0.1
)

// OrbitCamera circles Target on a sphere. Phi is measured from +Y.
type OrbitCamera struct {
	Target mgl32.Vec3
	Radius float32
	Theta  float32
	Phi    float32
	FovY   float32
	Aspect float32
	Near   float32
	Far    float32
}

func NewOrbitCamera(target mgl32.Vec3, radius, aspect float32) *OrbitCamera {
	return &OrbitCamera{
		Target: target,
		Radius: max(radius, minRadius),
		Theta:  0,
		Phi:    math.Pi * 0.5,
		FovY:   DefaultFovY,
		Aspect: aspect,
		Near:   0.1,
		Far:    1000,
	}
}

// Rotate moves the eye on the sphere. Theta wraps to [0, 2pi) and phi is kept
// away from the poles.
func (c *OrbitCamera) Rotate(dx, dy float32) {
	c.Theta -= dx
	c.Theta = float32(math.Mod(float64(c.Theta), 2*math.Pi))
	if c.Theta < 0 {
		c.Theta += 2 * math.Pi
	}
	c.Phi = mgl32.Clamp(c.Phi+dy, minPhi, math.Pi-minPhi)
}

// Forward changes the orbit radius; it never drops below 0.1.
func (c *OrbitCamera) Forward(delta float32) {
	c.Radius = max(c.Radius+delta, minRadius)
}

func (c *OrbitCamera) SetAspect(aspect float32) {
	if aspect > 0 {
		c.Aspect = aspect
	}
}

func (c *OrbitCamera) Position() mgl32.Vec3 {
	sp, cp := math.Sincos(float64(c.Phi))
	st, ct := math.Sincos(float64(c.Theta))
	offset := mgl32.Vec3{
		c.Radius * float32(sp*ct),
		c.Radius * float32(cp),
		c.Radius * float32(sp*st),
	}
	return c.Target.Add(offset)
}

func (c *OrbitCamera) ViewMatrix() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position(), c.Target, mgl32.Vec3{0, 1, 0})
}

func (c *OrbitCamera) ProjectionMatrix() mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(c.FovY), c.Aspect, c.Near, c.Far)
}

func (c *OrbitCamera) ViewProjection() mgl32.Mat4 {
	return c.ProjectionMatrix().Mul4(c.ViewMatrix())
}
