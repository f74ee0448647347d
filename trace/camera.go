package trace

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
)

// Camera is a pinhole perspective camera.
type Camera struct {
	Eye    mgl32.Vec3
	Target mgl32.Vec3
	Up     mgl32.Vec3

	// FovY is the vertical field of view in degrees.
	FovY float32
	Near float32
	Far  float32
}

// LookAt returns a camera at eye looking at target with +Y up and a 60
// degree field of view.
func LookAt(eye, target mgl32.Vec3) Camera {
	return Camera{
		Eye:    eye,
		Target: target,
		Up:     mgl32.Vec3{0, 1, 0},
		FovY:   60,
		Near:   0.1,
		Far:    1000,
	}
}

// Orbit returns a camera circling center at the given distance. Yaw and
// pitch are in degrees.
func Orbit(center mgl32.Vec3, distance, yaw, pitch float32) Camera {
	y, p := mgl32.DegToRad(yaw), mgl32.DegToRad(pitch)
	dir := mgl32.SphericalToCartesian(1, mgl32.DegToRad(90)-p, y)
	// SphericalToCartesian is Z-up; swap into the Y-up world.
	offset := mgl32.Vec3{dir[0], dir[2], dir[1]}.Mul(distance)
	return LookAt(center.Add(offset), center)
}

// View returns the world-to-camera matrix.
func (c Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Eye, c.Target, c.up())
}

// Projection returns the perspective matrix for the given aspect ratio.
func (c Camera) Projection(aspect float32) mgl32.Mat4 {
	fov := c.FovY
	if fov <= 0 {
		fov = 60
	}
	near, far := c.Near, c.Far
	if near <= 0 {
		near = 0.1
	}
	if far <= near {
		far = near * 10000
	}
	return mgl32.Perspective(mgl32.DegToRad(fov), aspect, near, far)
}

// InvViewProj returns the inverse of Projection*View, mapping clip space
// back to world space.
func (c Camera) InvViewProj(aspect float32) mgl32.Mat4 {
	return c.Projection(aspect).Mul4(c.View()).Inv()
}

func (c Camera) up() mgl32.Vec3 {
	if c.Up.Len() == 0 {
		return mgl32.Vec3{0, 1, 0}
	}
	return c.Up
}

// Ray returns the primary ray through the center of pixel (px, py) of a
// width x height image. Pixel (0, 0) is the top-left corner.
func (c Camera) Ray(px, py, width, height int) Ray {
	return newProjector(c, width, height).ray(px, py)
}

// projector generates primary rays for one frame size.
type projector struct {
	inv    mgl32.Mat4
	eye    mgl64.Vec3
	width  float32
	height float32
}

func newProjector(c Camera, width, height int) projector {
	return projector{
		inv:    c.InvViewProj(float32(width) / float32(height)),
		eye:    vec64(c.Eye),
		width:  float32(width),
		height: float32(height),
	}
}

func (p projector) ray(px, py int) Ray {
	x := 2*(float32(px)+0.5)/p.width - 1
	y := 1 - 2*(float32(py)+0.5)/p.height
	near := p.inv.Mul4x1(mgl32.Vec4{x, y, -1, 1})
	far := p.inv.Mul4x1(mgl32.Vec4{x, y, 1, 1})
	n := near.Vec3().Mul(1 / near[3])
	f := far.Vec3().Mul(1 / far[3])
	return NewRay(p.eye, vec64(f.Sub(n)))
}

func vec64(v mgl32.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{float64(v[0]), float64(v[1]), float64(v[2])}
}
