package voxrt

import (
	"errors"

	"github.com/gogpu/voxrt/device"
	"github.com/gogpu/voxrt/frame"
	"github.com/gogpu/voxrt/snapshot"
	"github.com/gogpu/voxrt/voxel"
)

// Errors surfaced by the renderer. They are the sentinels of the
// sub-packages, so errors.Is works with either name.
var (
	ErrOutOfBounds       = voxel.ErrOutOfBounds
	ErrQueueFull         = voxel.ErrQueueFull
	ErrResourceExhausted = device.ErrResourceExhausted
	ErrStaleHandle       = device.ErrStaleHandle
	ErrDeviceClosed      = device.ErrDeviceClosed
	ErrClosed            = frame.ErrClosed
	ErrCorrupt           = snapshot.ErrCorrupt

	// ErrInvalidConfig is returned for configurations that fail validation.
	ErrInvalidConfig = errors.New("voxrt: invalid config")
)
