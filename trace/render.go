package trace

import (
	"image"

	"github.com/gogpu/voxrt/voxel"
)

// Render traces every pixel of a width x height image on the calling
// goroutine. It has no side effects and the same inputs always produce the
// same frame.
func Render(vol *voxel.Volume, cam Camera, width, height int, s Settings) *Frame {
	f := NewFrame(width, height)
	renderRect(vol, newProjector(cam, width, height), f, f.Bounds(), s.normalized())
	return f
}

// renderRect traces the pixels of r into f. Distinct rectangles may be
// rendered concurrently.
func renderRect(vol *voxel.Volume, p projector, f *Frame, r image.Rectangle, s Settings) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			f.store(x, y, shade(vol, p.ray(x, y), s))
		}
	}
}
