package trace

import (
	"fmt"
	"image"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/voxrt/voxel"
)

// Frame is a traced image with its per-pixel attachments.
type Frame struct {
	Width  int
	Height int

	Color *image.RGBA
	// Depth is the ray distance to the hit, +Inf where the ray missed.
	Depth    []float32
	Normal   []mgl32.Vec3
	Material []voxel.Material

	// Seq is the frame sequence number and Epoch the resize epoch the frame
	// was dispatched in.
	Seq   uint64
	Epoch uint64
}

// NewFrame allocates a cleared frame. Depth starts at +Inf.
func NewFrame(width, height int) *Frame {
	n := width * height
	f := &Frame{
		Width:    width,
		Height:   height,
		Color:    image.NewRGBA(image.Rect(0, 0, width, height)),
		Depth:    make([]float32, n),
		Normal:   make([]mgl32.Vec3, n),
		Material: make([]voxel.Material, n),
	}
	inf := float32(math.Inf(1))
	for i := range f.Depth {
		f.Depth[i] = inf
	}
	return f
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame[%dx%d seq=%d epoch=%d]", f.Width, f.Height, f.Seq, f.Epoch)
}

// Clone returns a deep copy of f.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Color = &image.RGBA{
		Pix:    append([]uint8(nil), f.Color.Pix...),
		Stride: f.Color.Stride,
		Rect:   f.Color.Rect,
	}
	c.Depth = append([]float32(nil), f.Depth...)
	c.Normal = append([]mgl32.Vec3(nil), f.Normal...)
	c.Material = append([]voxel.Material(nil), f.Material...)
	return &c
}

// Bounds returns the image rectangle.
func (f *Frame) Bounds() image.Rectangle { return f.Color.Bounds() }

// DepthAt returns the depth of pixel (x, y).
func (f *Frame) DepthAt(x, y int) float32 { return f.Depth[y*f.Width+x] }

// MaterialAt returns the material hit by pixel (x, y).
func (f *Frame) MaterialAt(x, y int) voxel.Material { return f.Material[y*f.Width+x] }

// NormalAt returns the surface normal at pixel (x, y); zero on a miss.
func (f *Frame) NormalAt(x, y int) mgl32.Vec3 { return f.Normal[y*f.Width+x] }

// HitCount returns the number of pixels whose ray hit a voxel.
func (f *Frame) HitCount() int {
	n := 0
	for _, m := range f.Material {
		if m != voxel.Empty {
			n++
		}
	}
	return n
}

func (f *Frame) store(x, y int, s Sample) {
	i := y*f.Width + x
	f.Color.SetRGBA(x, y, s.Color)
	f.Depth[i] = s.Depth
	f.Normal[i] = mgl32.Vec3{float32(s.Normal[0]), float32(s.Normal[1]), float32(s.Normal[2])}
	f.Material[i] = s.Material
}
