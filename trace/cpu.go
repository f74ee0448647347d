package trace

import (
	"context"

	"github.com/gogpu/voxrt/internal/cache"
	"github.com/gogpu/voxrt/internal/parallel"
	"github.com/gogpu/voxrt/voxel"
)

// frameCacheSize is the number of recent frames a CPUDispatcher keeps.
const frameCacheSize = 4

// frameKey identifies a traced image. Scenes return the same volume
// pointer while their contents are unchanged, so an equal key means an
// equal image.
type frameKey struct {
	vol      *voxel.Volume
	cam      Camera
	width    int
	height   int
	settings Settings
}

// CPUDispatcher traces frames on the host. The image is split into tiles
// that run on a work-stealing worker pool.
//
// Recent frames are cached by volume, camera, size and settings; a repeat
// request is answered with a copy. Palettes must not be modified while
// frames rendered with them are cached.
type CPUDispatcher struct {
	pool     *parallel.WorkerPool
	tileSize int
	frames   *cache.Cache[frameKey, *Frame]
}

// NewCPUDispatcher creates a dispatcher with the given number of workers.
// workers <= 0 uses GOMAXPROCS.
func NewCPUDispatcher(workers int) *CPUDispatcher {
	return &CPUDispatcher{
		pool:     parallel.NewWorkerPool(workers),
		tileSize: parallel.TileSize,
		frames:   cache.New[frameKey, *Frame](frameCacheSize),
	}
}

// Name implements Dispatcher.
func (d *CPUDispatcher) Name() string { return "cpu" }

// Workers returns the worker count.
func (d *CPUDispatcher) Workers() int { return d.pool.Workers() }

// CacheStats returns the frame cache counters.
func (d *CPUDispatcher) CacheStats() cache.Stats { return d.frames.Stats() }

// Dispatch implements Dispatcher.
func (d *CPUDispatcher) Dispatch(ctx context.Context, req Request) (*Frame, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vol, err := req.Scene.Volume(ctx)
	if err != nil {
		return nil, err
	}

	key := frameKey{vol: vol, cam: req.Camera, width: req.Width, height: req.Height, settings: req.Settings}
	if cached, ok := d.frames.Get(key); ok {
		f := cached.Clone()
		f.Seq, f.Epoch = req.Seq, req.Epoch
		slogger().Debug("trace: cpu dispatch cached", "seq", req.Seq)
		return f, nil
	}

	f := NewFrame(req.Width, req.Height)
	proj := newProjector(req.Camera, req.Width, req.Height)
	s := req.Settings.normalized()

	tiles := parallel.Tiles(req.Width, req.Height, d.tileSize)
	jobs := make([]func(), len(tiles))
	for i, t := range tiles {
		jobs[i] = func() { renderRect(vol, proj, f, t.Bounds, s) }
	}
	if err := d.pool.Run(ctx, jobs); err != nil {
		return nil, err
	}
	d.frames.Set(key, f)
	slogger().Debug("trace: cpu dispatch", "seq", req.Seq, "tiles", len(tiles))

	out := f.Clone()
	out.Seq, out.Epoch = req.Seq, req.Epoch
	return out, nil
}

// Close stops the worker pool and drops cached frames.
func (d *CPUDispatcher) Close() error {
	d.pool.Close()
	d.frames.Clear()
	return nil
}
