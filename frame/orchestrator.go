package frame

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/voxrt/device"
	"github.com/gogpu/voxrt/trace"
	"github.com/gogpu/voxrt/voxel"
)

const (
	// DefaultExhaustionThreshold is the number of consecutive frames with
	// exhausted syncs after which the render scale is halved.
	DefaultExhaustionThreshold = 3

	// MinRenderScale is the lowest render scale degradation goes to.
	MinRenderScale = 0.125
)

// Config controls an orchestrator.
type Config struct {
	Width  int
	Height int

	// ExhaustionThreshold is the number of consecutive exhausted frames that
	// trigger degradation. Values <= 0 use DefaultExhaustionThreshold.
	ExhaustionThreshold int

	// Automata steps the falling-voxel automata once per frame.
	Automata bool

	// Interval paces Run; zero renders frames back to back.
	Interval time.Duration

	Settings trace.Settings
}

// Pipeline bundles the stages an orchestrator drives. World, Manager and
// Dispatcher are required.
type Pipeline struct {
	World      *voxel.World
	Queue      *voxel.EditQueue
	Manager    *device.Manager
	Dispatcher trace.Dispatcher
	Presenter  Presenter
	Metrics    *Metrics
}

// Timings are the wall-clock durations of one frame's stages.
type Timings struct {
	Edit     time.Duration
	Sync     time.Duration
	Dispatch time.Duration
	Present  time.Duration
}

// Result describes one call to Frame.
type Result struct {
	Seq   uint64
	Epoch uint64

	// Frame is the presented frame; nil when Discarded.
	Frame *trace.Frame

	Edits voxel.ApplyResult
	Sync  device.SyncReport

	// Discarded is set when the dispatch was superseded by a resize. Reason
	// then wraps device.ErrStaleHandle.
	Discarded bool
	Reason    error

	// Scale is the render scale the frame was dispatched at.
	Scale   float64
	Timings Timings
}

// Orchestrator runs the frame cycle: apply queued edits, sync dirty chunks
// to the device, dispatch the tracer and present the frame.
//
// Frames are produced by one goroutine at a time. Edits may be queued and
// Resize called from any goroutine.
type Orchestrator struct {
	world      *voxel.World
	queue      *voxel.EditQueue
	manager    *device.Manager
	dispatcher trace.Dispatcher
	presenter  Presenter
	metrics    *Metrics
	automata   voxel.Automata
	cfg        Config

	machine Machine
	frameMu sync.Mutex

	mu        sync.Mutex
	width     int
	height    int
	epoch     uint64
	seq       uint64
	scale     float64
	exhausted int
	cancel    context.CancelFunc
	closed    bool
}

// New creates an orchestrator for p.
func New(p Pipeline, cfg Config) (*Orchestrator, error) {
	switch {
	case p.World == nil:
		return nil, errors.New("frame: pipeline has no world")
	case p.Manager == nil:
		return nil, errors.New("frame: pipeline has no buffer manager")
	case p.Dispatcher == nil:
		return nil, errors.New("frame: pipeline has no dispatcher")
	case cfg.Width <= 0 || cfg.Height <= 0:
		return nil, fmt.Errorf("frame: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	if p.Queue == nil {
		p.Queue = voxel.NewEditQueue(0)
	}
	if p.Presenter == nil {
		p.Presenter = Discard
	}
	if p.Metrics == nil {
		p.Metrics = NewMetrics(nil)
	}
	if cfg.ExhaustionThreshold <= 0 {
		cfg.ExhaustionThreshold = DefaultExhaustionThreshold
	}
	o := &Orchestrator{
		world:      p.World,
		queue:      p.Queue,
		manager:    p.Manager,
		dispatcher: p.Dispatcher,
		presenter:  p.Presenter,
		metrics:    p.Metrics,
		automata:   voxel.Automata{Diagonal: true},
		cfg:        cfg,
		width:      cfg.Width,
		height:     cfg.Height,
		scale:      1,
	}
	o.metrics.renderScale.Set(1)
	return o, nil
}

// Queue returns the edit queue drained at the start of every frame.
func (o *Orchestrator) Queue() *voxel.EditQueue { return o.queue }

// State returns the stage the current frame is in.
func (o *Orchestrator) State() State { return o.machine.State() }

// Submit queues edits for the next frame. Either all edits are queued or,
// on voxel.ErrQueueFull, none.
func (o *Orchestrator) Submit(edits ...voxel.Edit) error {
	if o.isClosed() {
		return ErrClosed
	}
	return o.queue.PushAll(edits)
}

// Size returns the full-resolution frame size.
func (o *Orchestrator) Size() (width, height int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.width, o.height
}

// Epoch returns the current resize epoch.
func (o *Orchestrator) Epoch() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch
}

// Scale returns the current render scale in [MinRenderScale, 1].
func (o *Orchestrator) Scale() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scale
}

// Resize changes the frame size. It starts a new epoch and cancels the
// dispatch in flight; its result will be discarded.
func (o *Orchestrator) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("frame: invalid size %dx%d", width, height)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.width, o.height = width, height
	o.epoch++
	o.metrics.epoch.Set(float64(o.epoch))
	if o.cancel != nil {
		o.cancel()
	}
	slogger().Debug("frame: resize", "width", width, "height", height, "epoch", o.epoch)
	return nil
}

// Frame runs one full frame cycle with the given camera.
func (o *Orchestrator) Frame(ctx context.Context, cam trace.Camera) (Result, error) {
	o.frameMu.Lock()
	defer o.frameMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Result{}, ErrClosed
	}
	o.seq++
	res := Result{Seq: o.seq}
	o.mu.Unlock()

	if err := o.edit(&res); err != nil {
		return res, o.abort(err)
	}
	if err := o.sync(ctx, &res); err != nil {
		return res, o.abort(err)
	}
	f, err := o.dispatch(ctx, cam, &res)
	if err != nil {
		return res, o.abort(err)
	}
	if f == nil {
		return res, nil
	}
	if err := o.present(ctx, f, &res); err != nil {
		return res, o.abort(err)
	}
	return res, nil
}

func (o *Orchestrator) edit(res *Result) error {
	if err := o.machine.Transition(StateEditing); err != nil {
		return err
	}
	start := time.Now()
	res.Edits = o.world.Apply(o.queue.Drain())
	if o.cfg.Automata {
		step := o.world.Apply(o.automata.Step(o.world))
		res.Edits.Applied += step.Applied
		res.Edits.Changed += step.Changed
		res.Edits.Touched = append(res.Edits.Touched, step.Touched...)
	}
	o.metrics.editsApplied.Add(float64(res.Edits.Applied))
	o.metrics.editsRejected.Add(float64(len(res.Edits.Rejected)))
	if len(res.Edits.Rejected) > 0 {
		slogger().Debug("frame: edits rejected", "seq", res.Seq, "count", len(res.Edits.Rejected), "err", res.Edits.Err)
	}
	res.Timings.Edit = time.Since(start)
	o.metrics.observeStage(StateEditing, start)
	return nil
}

// sync uploads every dirty chunk and waits for all uploads before returning.
// Exhaustion is not an error: failed chunks stay dirty, their previous device
// contents are rendered and the upload is retried next frame.
func (o *Orchestrator) sync(ctx context.Context, res *Result) error {
	if err := o.machine.Transition(StateSyncing); err != nil {
		return err
	}
	start := time.Now()
	rep := o.manager.SyncAll(ctx, o.world.DirtyChunks())
	res.Sync = rep
	res.Timings.Sync = time.Since(start)
	o.metrics.observeSync(rep, o.manager.Budget().Used())
	o.metrics.observeStage(StateSyncing, start)
	if err := ctx.Err(); err != nil {
		return err
	}
	if errors.Is(rep.Err, device.ErrDeviceClosed) {
		return rep.Err
	}
	o.noteExhaustion(rep)
	return nil
}

// noteExhaustion degrades the render scale after persistent exhaustion and
// restores it after a clean sync.
func (o *Orchestrator) noteExhaustion(rep device.SyncReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !rep.Exhausted() {
		o.exhausted = 0
		if o.scale < 1 && len(rep.Failed) == 0 {
			o.scale = 1
			o.metrics.renderScale.Set(1)
			slogger().Info("frame: resolution restored")
		}
		return
	}
	o.exhausted++
	slogger().Debug("frame: sync exhausted", "failed", len(rep.Failed), "consecutive", o.exhausted, "err", rep.Err)
	if o.exhausted < o.cfg.ExhaustionThreshold {
		return
	}
	o.exhausted = 0
	if o.scale > MinRenderScale {
		o.scale = max(o.scale/2, MinRenderScale)
		o.metrics.renderScale.Set(o.scale)
		slogger().Warn("frame: device memory exhausted, reducing resolution", "scale", o.scale)
	}
}

// dispatch traces the frame. A nil frame with a nil error means the result
// was discarded as stale.
func (o *Orchestrator) dispatch(ctx context.Context, cam trace.Camera, res *Result) (*trace.Frame, error) {
	if err := o.machine.Transition(StateDispatching); err != nil {
		return nil, err
	}
	start := time.Now()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	dctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	epoch, scale := o.epoch, o.scale
	w, h := scaled(o.width, scale), scaled(o.height, scale)
	o.mu.Unlock()

	res.Epoch, res.Scale = epoch, scale
	f, err := o.dispatcher.Dispatch(dctx, trace.Request{
		Scene:    o.manager,
		Camera:   cam,
		Width:    w,
		Height:   h,
		Settings: o.cfg.Settings,
		Epoch:    epoch,
		Seq:      res.Seq,
	})

	o.mu.Lock()
	o.cancel = nil
	current, closed := o.epoch, o.closed
	o.mu.Unlock()
	cancel()

	res.Timings.Dispatch = time.Since(start)
	o.metrics.observeStage(StateDispatching, start)

	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if closed {
		return nil, ErrClosed
	}
	if epoch != current {
		res.Discarded = true
		res.Reason = fmt.Errorf("%w: frame %d from epoch %d, current epoch %d",
			device.ErrStaleHandle, res.Seq, epoch, current)
		o.metrics.discarded.Inc()
		slogger().Debug("frame: discarding stale dispatch", "seq", res.Seq, "epoch", epoch, "current", current)
		o.machine.Abort()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (o *Orchestrator) present(ctx context.Context, f *trace.Frame, res *Result) error {
	if err := o.machine.Transition(StatePresenting); err != nil {
		return err
	}
	start := time.Now()
	if err := o.presenter.Present(ctx, f); err != nil {
		return fmt.Errorf("frame: present: %w", err)
	}
	res.Frame = f
	res.Timings.Present = time.Since(start)
	o.metrics.frames.Inc()
	o.metrics.observeStage(StatePresenting, start)
	return o.machine.Transition(StateIdle)
}

func (o *Orchestrator) abort(err error) error {
	if prev := o.machine.Abort(); prev != StateIdle {
		slogger().Debug("frame: aborted", "state", prev, "err", err)
	}
	return err
}

// Run produces frames until ctx is done or the orchestrator is closed,
// asking cams for the camera of every frame. A stale discard is not an
// error; any other frame error stops the loop.
func (o *Orchestrator) Run(ctx context.Context, cams CameraSource) error {
	var tick <-chan time.Time
	if o.cfg.Interval > 0 {
		t := time.NewTicker(o.cfg.Interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		if _, err := o.Frame(ctx, cams.Camera()); err != nil {
			switch {
			case errors.Is(err, ErrClosed):
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				return err
			}
		}
		if tick == nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		}
	}
}

// Close stops the orchestrator and cancels the dispatch in flight. It does
// not close the pipeline stages.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if o.cancel != nil {
		o.cancel()
	}
	return nil
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// CameraSource supplies the camera for each frame of Run.
type CameraSource interface {
	Camera() trace.Camera
}

// CameraFunc adapts a function to CameraSource.
type CameraFunc func() trace.Camera

// Camera implements CameraSource.
func (fn CameraFunc) Camera() trace.Camera { return fn() }

// FixedCamera returns a CameraSource that always yields cam.
func FixedCamera(cam trace.Camera) CameraSource {
	return CameraFunc(func() trace.Camera { return cam })
}

func scaled(n int, scale float64) int {
	return max(1, int(float64(n)*scale))
}
