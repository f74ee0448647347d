package frame

import (
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/voxrt/device"
	"github.com/gogpu/voxrt/trace"
	"github.com/gogpu/voxrt/voxel"
)

type rig struct {
	world     *voxel.World
	budget    *device.Budget
	manager   *device.Manager
	presenter *LatestPresenter
	metrics   *Metrics
	o         *Orchestrator
}

func newRig(t *testing.T, cfg Config, budget uint64, dispatcher trace.Dispatcher, opts ...device.HostOption) *rig {
	t.Helper()
	w, err := voxel.NewWorld(voxel.Extent{X: 16, Y: 16, Z: 16}, 8)
	require.NoError(t, err)

	dev := device.NewHostDevice(opts...)
	b := device.NewBudget(budget)
	m := device.NewManager(dev, w, b)
	if dispatcher == nil {
		cpu := trace.NewCPUDispatcher(2)
		t.Cleanup(func() { _ = cpu.Close() })
		dispatcher = cpu
	}
	r := &rig{
		world:     w,
		budget:    b,
		manager:   m,
		presenter: &LatestPresenter{},
		metrics:   NewMetrics(prometheus.NewRegistry()),
	}
	if cfg.Width == 0 {
		cfg.Width, cfg.Height = 1, 1
	}
	r.o, err = New(Pipeline{
		World:      w,
		Queue:      voxel.NewEditQueue(64),
		Manager:    m,
		Dispatcher: dispatcher,
		Presenter:  r.presenter,
		Metrics:    r.metrics,
	}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.o.Close()
		m.Close()
		_ = dev.Close()
	})
	return r
}

// atVoxel looks down +Z at the center of voxel (3,3,3).
var atVoxel = trace.LookAt(mgl32.Vec3{3.5, 3.5, -10}, mgl32.Vec3{3.5, 3.5, 3.5})

// =============================================================================
// State machine
// =============================================================================

func TestMachine_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		wantErr bool
	}{
		{"full cycle", []State{StateEditing, StateSyncing, StateDispatching, StatePresenting, StateIdle}, false},
		{"skip sync", []State{StateEditing, StateDispatching}, true},
		{"dispatch from idle", []State{StateDispatching}, true},
		{"backwards", []State{StateEditing, StateSyncing, StateEditing}, true},
		{"present twice", []State{StateEditing, StateSyncing, StateDispatching, StatePresenting, StatePresenting}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Machine
			var err error
			for _, s := range tt.path {
				if err = m.Transition(s); err != nil {
					break
				}
			}
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				require.NoError(t, err)
				require.Equal(t, StateIdle, m.State())
			}
		})
	}
}

func TestMachine_Abort(t *testing.T) {
	var m Machine
	require.NoError(t, m.Transition(StateEditing))
	require.NoError(t, m.Transition(StateSyncing))
	require.Equal(t, StateSyncing, m.Abort())
	require.Equal(t, StateIdle, m.State())
	require.NoError(t, m.Transition(StateEditing))
}

// =============================================================================
// Frame cycle
// =============================================================================

func TestOrchestrator_Frame(t *testing.T) {
	r := newRig(t, Config{Settings: trace.DefaultSettings()}, 0, nil, device.WithLatency(5*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, r.o.Submit(voxel.Edit{Coord: voxel.C(3, 3, 3), Voxel: voxel.Voxel{Material: 1}}))
	res, err := r.o.Frame(ctx, atVoxel)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Seq)
	require.Equal(t, 1, res.Edits.Applied)
	require.Len(t, res.Sync.Uploaded, 1)
	require.NotNil(t, res.Frame)
	require.Equal(t, voxel.Material(1), res.Frame.MaterialAt(0, 0))
	require.Same(t, res.Frame, r.presenter.Latest())
	require.Empty(t, r.world.DirtyChunks())
	require.Equal(t, StateIdle, r.o.State())

	res, err = r.o.Frame(ctx, atVoxel)
	require.NoError(t, err)
	require.Empty(t, res.Sync.Uploaded, "clean world must not upload again")

	require.Equal(t, 2.0, testutil.ToFloat64(r.metrics.frames))
	require.Equal(t, 1.0, testutil.ToFloat64(r.metrics.uploads))
	require.Equal(t, 1.0, testutil.ToFloat64(r.metrics.editsApplied))
	require.Equal(t, float64(r.budget.Used()), testutil.ToFloat64(r.metrics.deviceBytes))
}

func TestOrchestrator_RejectedEdits(t *testing.T) {
	r := newRig(t, Config{}, 0, nil)
	require.NoError(t, r.o.Submit(
		voxel.Edit{Coord: voxel.C(99, 0, 0), Voxel: voxel.Voxel{Material: 1}},
		voxel.Edit{Coord: voxel.C(1, 1, 1), Voxel: voxel.Voxel{Material: 2}},
	))
	res, err := r.o.Frame(context.Background(), atVoxel)
	require.NoError(t, err)
	require.Len(t, res.Edits.Rejected, 1)
	require.ErrorIs(t, res.Edits.Err, voxel.ErrOutOfBounds)
	require.Equal(t, voxel.Material(2), r.world.Material(voxel.C(1, 1, 1)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.metrics.editsRejected))
	require.NotNil(t, res.Frame)
}

func TestOrchestrator_QueueFull(t *testing.T) {
	r := newRig(t, Config{}, 0, nil)
	edits := make([]voxel.Edit, 65)
	require.ErrorIs(t, r.o.Submit(edits...), voxel.ErrQueueFull)
	require.Zero(t, r.o.Queue().Len())
}

func TestOrchestrator_Automata(t *testing.T) {
	r := newRig(t, Config{Automata: true}, 0, nil)
	sand := voxel.Voxel{Material: 4, Flags: voxel.FlagFalling}
	require.NoError(t, r.o.Submit(voxel.Edit{Coord: voxel.C(3, 5, 3), Voxel: sand}))

	_, err := r.o.Frame(context.Background(), atVoxel)
	require.NoError(t, err)
	require.True(t, r.world.Get(voxel.C(3, 5, 3)).IsEmpty())
	require.Equal(t, sand, r.world.Get(voxel.C(3, 4, 3)))

	_, err = r.o.Frame(context.Background(), atVoxel)
	require.NoError(t, err)
	require.Equal(t, sand, r.world.Get(voxel.C(3, 3, 3)))
}

// =============================================================================
// Resource exhaustion
// =============================================================================

func TestOrchestrator_DegradesAndRestores(t *testing.T) {
	// One 8^3 chunk needs 1 KB; a 512 byte budget never fits.
	r := newRig(t, Config{Width: 64, Height: 32, ExhaustionThreshold: 2}, 512, nil)
	ctx := context.Background()
	require.NoError(t, r.o.Submit(voxel.Edit{Coord: voxel.C(3, 3, 3), Voxel: voxel.Voxel{Material: 1}}))

	wantScales := []float64{1, 0.5, 0.5, 0.25, 0.25, 0.125, 0.125, 0.125, 0.125}
	for i, want := range wantScales {
		res, err := r.o.Frame(ctx, atVoxel)
		require.NoError(t, err, "frame %d", i)
		require.True(t, res.Sync.Exhausted(), "frame %d", i)
		require.Len(t, res.Sync.Failed, 1)
		require.Equal(t, want, res.Scale, "frame %d", i)
		require.Equal(t, scaled(64, want), res.Frame.Width)
		// Nothing is resident yet, so the stale device view is empty.
		require.Zero(t, res.Frame.HitCount())
	}
	require.Len(t, r.world.DirtyChunks(), 1, "failed chunk must stay dirty")
	require.Equal(t, 0.125, testutil.ToFloat64(r.metrics.renderScale))

	r.budget.SetLimit(0)
	res, err := r.o.Frame(ctx, atVoxel)
	require.NoError(t, err)
	require.False(t, res.Sync.Exhausted())
	require.Equal(t, 1.0, res.Scale)
	require.Equal(t, 64, res.Frame.Width)
	require.Empty(t, r.world.DirtyChunks())
	require.Equal(t, float64(len(wantScales)), testutil.ToFloat64(r.metrics.syncFailures))
}

func TestOrchestrator_StaleContentsRenderedOnFailure(t *testing.T) {
	var fail atomic.Bool
	r := newRig(t, Config{}, 0, nil, device.WithFault(func(op device.Op, _ string, _ uint64) error {
		if fail.Load() && op == device.OpUpload {
			return errors.New("device lost")
		}
		return nil
	}))
	ctx := context.Background()
	require.NoError(t, r.o.Submit(voxel.Edit{Coord: voxel.C(3, 3, 3), Voxel: voxel.Voxel{Material: 1}}))
	res, err := r.o.Frame(ctx, atVoxel)
	require.NoError(t, err)
	require.Equal(t, voxel.Material(1), res.Frame.MaterialAt(0, 0))

	fail.Store(true)
	require.NoError(t, r.o.Submit(voxel.Edit{Coord: voxel.C(3, 3, 3), Voxel: voxel.Voxel{Material: 2}}))
	res, err = r.o.Frame(ctx, atVoxel)
	require.NoError(t, err)
	require.ErrorIs(t, res.Sync.Err, device.ErrResourceExhausted)
	require.Equal(t, voxel.Material(1), res.Frame.MaterialAt(0, 0), "previous device contents are rendered")
	require.Len(t, r.world.DirtyChunks(), 1)

	fail.Store(false)
	res, err = r.o.Frame(ctx, atVoxel)
	require.NoError(t, err)
	require.Equal(t, voxel.Material(2), res.Frame.MaterialAt(0, 0))
}

// =============================================================================
// Resize and stale dispatches
// =============================================================================

// blockingDispatcher parks every dispatch until released or canceled.
type blockingDispatcher struct {
	inner        trace.Dispatcher
	started      chan struct{}
	release      chan struct{}
	ignoreCancel bool
}

func (d *blockingDispatcher) Name() string { return "blocking" }
func (d *blockingDispatcher) Close() error { return nil }

func (d *blockingDispatcher) Dispatch(ctx context.Context, req trace.Request) (*trace.Frame, error) {
	d.started <- struct{}{}
	if d.ignoreCancel {
		<-d.release
	} else {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.release:
		}
	}
	return d.inner.Dispatch(context.Background(), req)
}

func TestOrchestrator_ResizeDiscardsStaleDispatch(t *testing.T) {
	for _, ignore := range []bool{false, true} {
		name := "canceled"
		if ignore {
			name = "completed late"
		}
		t.Run(name, func(t *testing.T) {
			cpu := trace.NewCPUDispatcher(1)
			defer cpu.Close()
			bd := &blockingDispatcher{
				inner:        cpu,
				started:      make(chan struct{}, 1),
				release:      make(chan struct{}),
				ignoreCancel: ignore,
			}
			r := newRig(t, Config{Width: 8, Height: 8}, 0, bd)

			type outcome struct {
				res Result
				err error
			}
			done := make(chan outcome, 1)
			go func() {
				res, err := r.o.Frame(context.Background(), atVoxel)
				done <- outcome{res, err}
			}()

			<-bd.started
			require.Equal(t, StateDispatching, r.o.State())
			require.NoError(t, r.o.Resize(4, 2))
			if ignore {
				close(bd.release)
			}
			out := <-done
			require.NoError(t, out.err)
			require.True(t, out.res.Discarded)
			require.ErrorIs(t, out.res.Reason, device.ErrStaleHandle)
			require.Nil(t, out.res.Frame)
			require.Zero(t, r.presenter.Count())
			require.Equal(t, 1.0, testutil.ToFloat64(r.metrics.discarded))
			require.Equal(t, StateIdle, r.o.State())

			if !ignore {
				close(bd.release)
			}
			go func() { <-bd.started }()
			res, err := r.o.Frame(context.Background(), atVoxel)
			require.NoError(t, err)
			require.Equal(t, uint64(1), res.Epoch)
			require.Equal(t, 4, res.Frame.Width)
			require.Equal(t, 2, res.Frame.Height)
			require.Equal(t, uint64(1), r.presenter.Count())
		})
	}
}

func TestOrchestrator_Close(t *testing.T) {
	r := newRig(t, Config{}, 0, nil)
	require.NoError(t, r.o.Close())
	require.NoError(t, r.o.Close())

	_, err := r.o.Frame(context.Background(), atVoxel)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, r.o.Submit(voxel.Edit{}), ErrClosed)
	require.ErrorIs(t, r.o.Resize(2, 2), ErrClosed)
}

func TestOrchestrator_Run(t *testing.T) {
	r := newRig(t, Config{Width: 4, Height: 4}, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.o.presenter = PresenterFunc(func(ctx context.Context, f *trace.Frame) error {
		_ = r.presenter.Present(ctx, f)
		if r.presenter.Count() == 3 {
			cancel()
		}
		return nil
	})

	err := r.o.Run(ctx, FixedCamera(atVoxel))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, uint64(3), r.presenter.Count())
}

func TestNew_Validation(t *testing.T) {
	w, _ := voxel.NewWorld(voxel.Extent{X: 8, Y: 8, Z: 8}, 8)
	m := device.NewManager(device.NewHostDevice(), w, nil)
	cpu := trace.NewCPUDispatcher(1)
	defer cpu.Close()

	_, err := New(Pipeline{Manager: m, Dispatcher: cpu}, Config{Width: 1, Height: 1})
	require.Error(t, err)
	_, err = New(Pipeline{World: w, Dispatcher: cpu}, Config{Width: 1, Height: 1})
	require.Error(t, err)
	_, err = New(Pipeline{World: w, Manager: m}, Config{Width: 1, Height: 1})
	require.Error(t, err)
	_, err = New(Pipeline{World: w, Manager: m, Dispatcher: cpu}, Config{})
	require.Error(t, err)

	o, err := New(Pipeline{World: w, Manager: m, Dispatcher: cpu}, Config{Width: 1, Height: 1})
	require.NoError(t, err)
	require.Equal(t, DefaultExhaustionThreshold, o.cfg.ExhaustionThreshold)
	require.NoError(t, o.Resize(3, 3))
	require.Error(t, o.Resize(0, 3))
}

// =============================================================================
// Presenters
// =============================================================================

func TestPNGPresenter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	p := &PNGPresenter{Dir: dir}
	f := trace.NewFrame(6, 4)
	f.Seq = 5
	require.NoError(t, p.Present(context.Background(), f))
	require.Equal(t, filepath.Join(dir, "frame-000005.png"), p.Last())

	file, err := os.Open(p.Last())
	require.NoError(t, err)
	defer file.Close()
	img, err := png.Decode(file)
	require.NoError(t, err)
	require.Equal(t, 6, img.Bounds().Dx())
	require.Equal(t, 4, img.Bounds().Dy())
}

func TestTee(t *testing.T) {
	var a, b LatestPresenter
	boom := errors.New("boom")
	p := Tee(&a, PresenterFunc(func(context.Context, *trace.Frame) error { return boom }), &b)
	f := trace.NewFrame(1, 1)
	require.ErrorIs(t, p.Present(context.Background(), f), boom)
	require.Same(t, f, a.Latest())
	require.Same(t, f, b.Latest())
}

func TestMetrics_ObserveSync(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.observeSync(device.SyncReport{
		Uploaded: []voxel.ChunkKey{{}, {X: 1}},
		Failed:   []voxel.ChunkKey{{Y: 1}},
		Bytes:    2048,
		Stale:    3,
	}, 4096)

	require.Equal(t, 2.0, testutil.ToFloat64(m.uploads))
	require.Equal(t, 2048.0, testutil.ToFloat64(m.uploadBytes))
	require.Equal(t, 1.0, testutil.ToFloat64(m.syncFailures))
	require.Equal(t, 3.0, testutil.ToFloat64(m.staleUploads))
	require.Equal(t, 4096.0, testutil.ToFloat64(m.deviceBytes))

	n, err := testutil.GatherAndCount(reg, "voxrt_stale_uploads")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
