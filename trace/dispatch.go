package trace

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/voxrt/device"
	"github.com/gogpu/voxrt/voxel"
)

// ErrInvalidRequest is returned for dispatches with a non-positive size or
// no scene.
var ErrInvalidRequest = errors.New("trace: invalid request")

// Scene provides the device-resident voxel data a dispatch reads.
// *device.Manager implements Scene and ResidentScene.
type Scene interface {
	Volume(ctx context.Context) (*voxel.Volume, error)
}

// ResidentScene exposes the chunk buffers themselves, so a GPU dispatcher can
// read them without a host round trip.
type ResidentScene interface {
	Scene
	World() *voxel.World
	Handles() []device.Handle
}

// SceneFunc adapts a function to Scene.
type SceneFunc func(ctx context.Context) (*voxel.Volume, error)

// Volume implements Scene.
func (f SceneFunc) Volume(ctx context.Context) (*voxel.Volume, error) { return f(ctx) }

// StaticScene returns a Scene that always yields vol.
func StaticScene(vol *voxel.Volume) Scene {
	return SceneFunc(func(context.Context) (*voxel.Volume, error) { return vol, nil })
}

// Request describes one dispatch.
type Request struct {
	Scene    Scene
	Camera   Camera
	Width    int
	Height   int
	Settings Settings

	// Epoch and Seq are copied into the resulting frame.
	Epoch uint64
	Seq   uint64
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if r.Scene == nil {
		return fmt.Errorf("%w: no scene", ErrInvalidRequest)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidRequest, r.Width, r.Height)
	}
	return nil
}

// Dispatcher traces requests into frames.
//
// A dispatch abandoned through ctx returns the context error and no frame.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, req Request) (*Frame, error)
	Close() error
}
