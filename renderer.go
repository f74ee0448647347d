package voxrt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/gogpu/voxrt/device"
	"github.com/gogpu/voxrt/export"
	"github.com/gogpu/voxrt/frame"
	"github.com/gogpu/voxrt/snapshot"
	"github.com/gogpu/voxrt/trace"
	"github.com/gogpu/voxrt/voxel"
)

// Renderer owns a world and the pipeline that turns it into frames: the
// edit queue, the chunk buffer manager, a tracer and the frame
// orchestrator.
type Renderer struct {
	id      uuid.UUID
	cfg     Config
	log     *slog.Logger
	palette *voxel.Palette

	world      *voxel.World
	queue      *voxel.EditQueue
	budget     *device.Budget
	dev        device.Device
	ownsDevice bool
	manager    *device.Manager
	dispatcher trace.Dispatcher
	metrics    *frame.Metrics
	orch       *frame.Orchestrator

	closeOnce sync.Once
	closeErr  error
}

// New builds a renderer for cfg.
func New(cfg Config, opts ...Option) (*Renderer, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := o.world
	if w == nil {
		var err error
		if w, err = voxel.NewWorld(cfg.Extent(), cfg.ChunkSize); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	} else {
		ext := w.Extent()
		cfg.WorldExtent = [3]int{ext.X, ext.Y, ext.Z}
		cfg.ChunkSize = w.ChunkSize()
	}

	id := uuid.New()
	r := &Renderer{
		id:      id,
		cfg:     cfg,
		log:     Logger().With("session", id.String()),
		palette: o.palette,
		world:   w,
		queue:   voxel.NewEditQueue(cfg.MaxPendingEdits),
		budget:  device.NewBudget(cfg.MaxGPUBufferBytes),
	}
	if r.palette == nil {
		r.palette = voxel.DefaultPalette()
	}

	r.dev = o.device
	if r.dev == nil {
		dev, err := openDevice(cfg.Backend, r.log)
		if err != nil {
			return nil, err
		}
		r.dev, r.ownsDevice = dev, true
	}
	r.manager = device.NewManager(r.dev, w, r.budget)
	if o.world != nil {
		// Chunks may be clean against a device from an earlier renderer.
		w.MarkAllDirty()
	}

	r.dispatcher = o.dispatcher
	if r.dispatcher == nil {
		cpu := trace.NewCPUDispatcher(cfg.Workers)
		if _, ok := r.dev.(*device.HALDevice); ok {
			r.dispatcher = trace.NewGPUDispatcher(r.dev, cpu)
		} else {
			r.dispatcher = cpu
		}
	}

	r.metrics = frame.NewMetrics(o.registerer)
	settings := cfg.Settings()
	settings.Palette = r.palette
	orch, err := frame.New(frame.Pipeline{
		World:      w,
		Queue:      r.queue,
		Manager:    r.manager,
		Dispatcher: r.dispatcher,
		Presenter:  o.presenter,
		Metrics:    r.metrics,
	}, frame.Config{
		Width:               cfg.Width,
		Height:              cfg.Height,
		ExhaustionThreshold: cfg.ExhaustionThreshold,
		Automata:            cfg.Automata,
		Interval:            cfg.Interval(),
		Settings:            settings,
	})
	if err != nil {
		r.closeStages()
		return nil, err
	}
	r.orch = orch

	r.log.Info("voxrt: renderer ready",
		"device", r.dev.Name(),
		"dispatcher", r.dispatcher.Name(),
		"extent", w.Extent().String(),
		"chunk", w.ChunkSize())
	return r, nil
}

func openDevice(b Backend, log *slog.Logger) (device.Device, error) {
	switch b {
	case BackendHost:
		return device.NewHostDevice(), nil
	case BackendVulkan:
		dev, err := device.NewVulkanDevice()
		if err != nil {
			return nil, fmt.Errorf("voxrt: open vulkan device: %w", err)
		}
		return dev, nil
	default:
		dev, err := device.NewVulkanDevice()
		if err != nil {
			log.Warn("voxrt: vulkan unavailable, using host device", "err", err)
			return device.NewHostDevice(), nil
		}
		return dev, nil
	}
}

// ID returns the session id attached to the renderer's logs.
func (r *Renderer) ID() uuid.UUID { return r.id }

// Config returns the effective configuration.
func (r *Renderer) Config() Config { return r.cfg }

// World returns the rendered world. Write to it through Submit while frames
// are running.
func (r *Renderer) World() *voxel.World { return r.world }

// Palette returns the material colors.
func (r *Renderer) Palette() *voxel.Palette { return r.palette }

// Device returns the device chunk buffers live on.
func (r *Renderer) Device() device.Device { return r.dev }

// Dispatcher returns the tracer.
func (r *Renderer) Dispatcher() trace.Dispatcher { return r.dispatcher }

// Orchestrator returns the frame orchestrator.
func (r *Renderer) Orchestrator() *frame.Orchestrator { return r.orch }

// Submit queues edits for the next frame.
func (r *Renderer) Submit(edits ...voxel.Edit) error {
	return r.orch.Submit(edits...)
}

// Generate evaluates fn over the whole world in parallel and applies the
// result directly. Use it to build the initial scene before rendering.
func (r *Renderer) Generate(fn voxel.GeneratorFunc) voxel.ApplyResult {
	edits, err := voxel.Generate(r.world.Extent(), r.world.ChunkSize(), fn)
	if err != nil {
		return voxel.ApplyResult{Err: err}
	}
	res := r.world.Apply(edits)
	r.log.Debug("voxrt: generated", "applied", res.Applied, "solid", r.world.SolidCount())
	return res
}

// Frame renders and presents one frame.
func (r *Renderer) Frame(ctx context.Context, cam trace.Camera) (frame.Result, error) {
	return r.orch.Frame(ctx, cam)
}

// Run renders frames until ctx is done or the renderer is closed.
func (r *Renderer) Run(ctx context.Context, cams frame.CameraSource) error {
	return r.orch.Run(ctx, cams)
}

// Resize changes the frame size; the dispatch in flight is discarded.
func (r *Renderer) Resize(width, height int) error {
	return r.orch.Resize(width, height)
}

// Snapshot writes the world to w.
func (r *Renderer) Snapshot(w io.Writer) error {
	return snapshot.Save(w, r.world)
}

// ExportGLB writes the visible faces of the world to w as binary glTF.
func (r *Renderer) ExportGLB(w io.Writer) error {
	return export.WriteGLB(w, voxel.VolumeOf(r.world), r.palette)
}

// Stats describes a renderer.
type Stats struct {
	Session    string
	Device     string
	Dispatcher string
	Epoch      uint64
	Scale      float64
	Pending    int
	Solid      int
	Buffers    device.Stats
}

func (s Stats) String() string {
	return fmt.Sprintf("Renderer[%s device=%s dispatcher=%s epoch=%d scale=%.3f pending=%d solid=%d %s]",
		s.Session, s.Device, s.Dispatcher, s.Epoch, s.Scale, s.Pending, s.Solid, s.Buffers)
}

// Stats returns a snapshot of the renderer.
func (r *Renderer) Stats() Stats {
	return Stats{
		Session:    r.id.String(),
		Device:     r.dev.Name(),
		Dispatcher: r.dispatcher.Name(),
		Epoch:      r.orch.Epoch(),
		Scale:      r.orch.Scale(),
		Pending:    r.queue.Len(),
		Solid:      r.world.SolidCount(),
		Buffers:    r.manager.Stats(),
	}
}

// Close stops rendering and releases device resources. A device passed
// with WithDevice stays open.
func (r *Renderer) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.orch.Close()
		r.closeErr = errors.Join(r.closeErr, r.closeStages())
		r.log.Info("voxrt: renderer closed")
	})
	return r.closeErr
}

func (r *Renderer) closeStages() error {
	err := r.dispatcher.Close()
	r.manager.Close()
	if r.ownsDevice {
		err = errors.Join(err, r.dev.Close())
	}
	return err
}
