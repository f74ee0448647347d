package trace

import (
	"context"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/voxrt/device"
)

// createNoopDevice creates a noop device and queue for testing.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func TestGPUDispatcher_Noop(t *testing.T) {
	d, q, cleanup := createNoopDevice(t)
	defer cleanup()
	dev := device.NewHALDevice("noop", d, q)
	defer dev.Close()

	ctx := context.Background()
	w := sceneWorld(t)
	m := device.NewManager(dev, w, nil)
	defer m.Close()
	if rep := m.SyncAll(ctx, w.DirtyChunks()); rep.Err != nil {
		t.Fatalf("SyncAll: %v", rep.Err)
	}

	g := NewGPUDispatcher(dev, nil)
	defer g.Close()

	req := Request{
		Scene:    m,
		Camera:   Orbit(mgl32.Vec3{8, 4, 8}, 24, 30, 35),
		Width:    20,
		Height:   12,
		Settings: DefaultSettings(),
		Seq:      3,
		Epoch:    1,
	}
	// Frame sizes change between dispatches to exercise buffer reallocation.
	for _, size := range [][2]int{{20, 12}, {20, 12}, {9, 7}} {
		req.Width, req.Height = size[0], size[1]
		f, err := g.Dispatch(ctx, req)
		if err != nil {
			t.Fatalf("Dispatch %dx%d: %v", size[0], size[1], err)
		}
		if f.Width != size[0] || f.Height != size[1] || f.Seq != 3 || f.Epoch != 1 {
			t.Errorf("frame = %s", f)
		}
		if len(f.Depth) != size[0]*size[1] {
			t.Errorf("depth plane has %d entries", len(f.Depth))
		}
	}
	if ok, reason := g.Active(); !ok {
		t.Logf("GPU path disabled on noop device: %v", reason)
	}
}
