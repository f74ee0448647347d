package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/voxrt/voxel"
)

// Handle references the device buffer that currently mirrors a chunk.
type Handle struct {
	Key voxel.ChunkKey
	// Origin is the world coordinate of the chunk's minimum corner.
	Origin voxel.Coord
	Buffer Buffer
	// Version is the chunk version resident in Buffer.
	Version uint64
	// Generation increments every time the chunk's buffer is released.
	Generation uint64
}

// Stats reports buffer manager counters.
type Stats struct {
	Buffers     int
	Uploads     uint64
	UploadBytes uint64
	Failures    uint64
	Stale       uint64
	Releases    uint64
	Budget      BudgetStats
}

func (s Stats) String() string {
	return fmt.Sprintf("Buffers[%d live, %d uploads, %d KB, %d failed, %d stale] %s",
		s.Buffers, s.Uploads, s.UploadBytes/1024, s.Failures, s.Stale, s.Budget)
}

// SyncReport summarizes one SyncAll call.
type SyncReport struct {
	// Uploaded lists chunks whose upload completed and were marked clean.
	Uploaded []voxel.ChunkKey
	// Bytes is the total uploaded size.
	Bytes uint64
	// Clean counts chunks that needed no upload.
	Clean int
	// Failed lists chunks that stayed dirty because of an error.
	Failed []voxel.ChunkKey
	// Stale counts completions discarded because the buffer was released.
	Stale int
	// Err joins the per-chunk errors, or is nil.
	Err error
}

// Exhausted reports whether any chunk failed with ErrResourceExhausted.
func (r SyncReport) Exhausted() bool {
	return errors.Is(r.Err, ErrResourceExhausted)
}

type entry struct {
	buf        Buffer
	version    uint64
	generation uint64
	resident   bool
}

type residentState struct {
	version    uint64
	generation uint64
	present    bool
}

// pending is an upload started by begin and not yet finished.
type pending struct {
	chunk      *voxel.Chunk
	version    uint64
	generation uint64
	upload     *Upload
}

// Manager keeps one device buffer per chunk of a world.
//
// Manager is safe for concurrent use, but SyncAll is meant to be called by
// the single frame loop.
type Manager struct {
	dev    Device
	world  *voxel.World
	budget *Budget

	mu        sync.Mutex
	entries   map[voxel.ChunkKey]*entry
	exhausted int
	stats     Stats

	// volume is the last assembled device view, replaced copy-on-write.
	volMu    sync.Mutex
	volume   *voxel.Volume
	volState map[voxel.ChunkKey]residentState
}

// NewManager creates a manager uploading chunks of w to dev. A nil budget
// is unlimited.
func NewManager(dev Device, w *voxel.World, budget *Budget) *Manager {
	if budget == nil {
		budget = NewBudget(0)
	}
	return &Manager{
		dev:      dev,
		world:    w,
		budget:   budget,
		entries:  make(map[voxel.ChunkKey]*entry),
		volState: make(map[voxel.ChunkKey]residentState),
	}
}

// Device returns the device the manager uploads to.
func (m *Manager) Device() Device { return m.dev }

// World returns the world mirrored by the manager.
func (m *Manager) World() *voxel.World { return m.world }

// Budget returns the memory budget.
func (m *Manager) Budget() *Budget { return m.budget }

// Sync uploads ch if it is dirty and waits for completion. A clean chunk
// is a no-op. On failure the chunk stays dirty and the error wraps
// ErrResourceExhausted.
func (m *Manager) Sync(ctx context.Context, ch *voxel.Chunk) error {
	p, err := m.begin(ch)
	if err != nil || p == nil {
		return err
	}
	_, err = m.finish(ctx, p)
	return err
}

// SyncAll starts uploads for every dirty chunk in chunks, then waits for
// all of them before returning. It also maintains the consecutive
// exhaustion counter: a report with an exhausted chunk increments it, any
// other report resets it.
func (m *Manager) SyncAll(ctx context.Context, chunks []*voxel.Chunk) SyncReport {
	var (
		rep     SyncReport
		errs    []error
		started []*pending
	)
	for _, ch := range chunks {
		p, err := m.begin(ch)
		switch {
		case err != nil:
			rep.Failed = append(rep.Failed, ch.Key())
			errs = append(errs, err)
		case p == nil:
			rep.Clean++
		default:
			started = append(started, p)
		}
	}

	for _, p := range started {
		n, err := m.finish(ctx, p)
		switch {
		case errors.Is(err, ErrStaleHandle):
			rep.Stale++
		case err != nil:
			rep.Failed = append(rep.Failed, p.chunk.Key())
			errs = append(errs, err)
		default:
			rep.Uploaded = append(rep.Uploaded, p.chunk.Key())
			rep.Bytes += n
		}
	}
	rep.Err = errors.Join(errs...)

	m.mu.Lock()
	if rep.Exhausted() {
		m.exhausted++
	} else {
		m.exhausted = 0
	}
	m.mu.Unlock()

	if len(rep.Failed) > 0 {
		slogger().Debug("device: sync incomplete",
			"uploaded", len(rep.Uploaded), "failed", len(rep.Failed), "err", rep.Err)
	}
	return rep
}

// begin snapshots a dirty chunk, makes sure it has a buffer and starts the
// upload. It returns nil, nil for a clean chunk.
func (m *Manager) begin(ch *voxel.Chunk) (*pending, error) {
	if !ch.Dirty() {
		return nil, nil
	}
	snap := ch.Snapshot()
	if !snap.Dirty {
		return nil, nil
	}
	key := snap.Key

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[key]
	if e == nil {
		e = &entry{}
		m.entries[key] = e
	}
	if e.buf == nil {
		size := uint64(len(snap.Data))
		if err := m.budget.Reserve(size); err != nil {
			m.stats.Failures++
			return nil, fmt.Errorf("sync %s: %w", key, err)
		}
		buf, err := m.dev.CreateBuffer("chunk "+key.String(), size)
		if err != nil {
			m.budget.Release(size)
			m.stats.Failures++
			return nil, fmt.Errorf("%w: sync %s: create buffer: %w", ErrResourceExhausted, key, err)
		}
		e.buf = buf
		e.resident = false
	}

	return &pending{
		chunk:      ch,
		version:    snap.Version,
		generation: e.generation,
		upload:     m.dev.Upload(e.buf, 0, snap.Data),
	}, nil
}

// finish waits for an upload and commits its result.
func (m *Manager) finish(ctx context.Context, p *pending) (uint64, error) {
	err := p.upload.Wait(ctx)
	key := p.chunk.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[key]
	if e == nil || e.generation != p.generation || e.buf == nil {
		m.stats.Stale++
		slogger().Debug("device: discarding upload for released buffer", "chunk", key, "generation", p.generation)
		return 0, fmt.Errorf("%w: %s generation %d", ErrStaleHandle, key, p.generation)
	}
	if err != nil {
		m.stats.Failures++
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			// The write may still land; contents are unknown until the next upload.
			e.resident = false
			return 0, fmt.Errorf("sync %s: %w", key, err)
		}
		if errors.Is(err, ErrResourceExhausted) {
			return 0, fmt.Errorf("sync %s: upload: %w", key, err)
		}
		return 0, fmt.Errorf("%w: sync %s: upload: %w", ErrResourceExhausted, key, err)
	}

	e.version = p.version
	e.resident = true
	n := uint64(p.upload.Size()) //nolint:gosec // sizes are never negative
	m.stats.Uploads++
	m.stats.UploadBytes += n
	p.chunk.MarkClean(p.version)
	return n, nil
}

// HandleFor returns the buffer holding the chunk's last uploaded contents.
func (m *Manager) HandleFor(key voxel.ChunkKey) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handleLocked(key)
}

func (m *Manager) handleLocked(key voxel.ChunkKey) (Handle, bool) {
	e := m.entries[key]
	if e == nil || e.buf == nil || !e.resident {
		return Handle{}, false
	}
	return Handle{
		Key:        key,
		Origin:     key.Origin(m.world.ChunkSize()),
		Buffer:     e.buf,
		Version:    e.version,
		Generation: e.generation,
	}, true
}

// Handles returns the handles of all resident chunks in z-y-x order.
func (m *Manager) Handles() []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Handle
	for _, ch := range m.world.Chunks() {
		if h, ok := m.handleLocked(ch.Key()); ok {
			out = append(out, h)
		}
	}
	return out
}

// Release destroys the chunk's buffer and bumps its generation, so uploads
// still in flight for the old buffer are discarded. The chunk is marked
// dirty to be uploaded again on the next sync.
func (m *Manager) Release(key voxel.ChunkKey) {
	m.mu.Lock()
	e := m.entries[key]
	if e == nil || e.buf == nil {
		m.mu.Unlock()
		return
	}
	buf := e.buf
	e.buf = nil
	e.resident = false
	e.generation++
	m.stats.Releases++
	m.mu.Unlock()

	if err := m.dev.DestroyBuffer(buf); err != nil {
		slogger().Warn("device: destroy buffer", "chunk", key, "err", err)
	}
	m.budget.Release(buf.Size())
	m.world.Invalidate(key)
}

// ReleaseAll releases every buffer.
func (m *Manager) ReleaseAll() {
	for _, ch := range m.world.Chunks() {
		m.Release(ch.Key())
	}
}

// ReadChunk reads a chunk's voxels back from the device.
func (m *Manager) ReadChunk(ctx context.Context, key voxel.ChunkKey) ([]voxel.Voxel, error) {
	h, ok := m.HandleFor(key)
	if !ok {
		return nil, fmt.Errorf("%w: no resident buffer for %s", ErrUnknownBuffer, key)
	}
	raw := make([]byte, h.Buffer.Size())
	if err := m.dev.ReadBuffer(ctx, h.Buffer, raw); err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	cs := m.world.ChunkSize()
	out := make([]voxel.Voxel, cs*cs*cs)
	voxel.UnpackFrom(out, raw)
	return out, nil
}

// Volume assembles the device-resident contents into a dense volume.
//
// Only chunks whose resident version or generation changed since the last
// call are read back. If anything changed, a new volume is returned and
// the previous one stays valid for readers that still hold it.
func (m *Manager) Volume(ctx context.Context) (*voxel.Volume, error) {
	m.volMu.Lock()
	defer m.volMu.Unlock()

	base := m.volume
	if base == nil {
		base = voxel.NewVolume(m.world.Extent())
	}
	var next *voxel.Volume
	cs := m.world.ChunkSize()
	empty := make([]voxel.Voxel, cs*cs*cs)
	updates := make(map[voxel.ChunkKey]residentState)

	for _, ch := range m.world.Chunks() {
		key := ch.Key()
		m.mu.Lock()
		h, ok := m.handleLocked(key)
		m.mu.Unlock()

		cur := residentState{version: h.Version, generation: h.Generation, present: ok}
		if m.volState[key] == cur {
			continue
		}
		voxels := empty
		if ok {
			v, err := m.ReadChunk(ctx, key)
			if err != nil {
				return nil, err
			}
			voxels = v
		}
		if next == nil {
			next = base.Clone()
		}
		next.StoreChunk(ch.Origin(), cs, voxels)
		updates[key] = cur
	}

	if next != nil {
		for k, st := range updates {
			m.volState[k] = st
		}
		m.volume = next
		return next, nil
	}
	m.volume = base
	return base, nil
}

// ConsecutiveExhaustion returns the number of SyncAll calls in a row that
// hit ErrResourceExhausted.
func (m *Manager) ConsecutiveExhaustion() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exhausted
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := m.stats
	for _, e := range m.entries {
		if e.buf != nil {
			s.Buffers++
		}
	}
	m.mu.Unlock()
	s.Budget = m.budget.Stats()
	return s
}

// Close releases all buffers. The device itself is not closed.
func (m *Manager) Close() {
	m.mu.Lock()
	bufs := make([]Buffer, 0, len(m.entries))
	for _, e := range m.entries {
		if e.buf != nil {
			bufs = append(bufs, e.buf)
			e.buf = nil
			e.resident = false
			e.generation++
		}
	}
	m.mu.Unlock()
	for _, b := range bufs {
		_ = m.dev.DestroyBuffer(b)
		m.budget.Release(b.Size())
	}
}
