package voxel

import (
	"errors"
	"fmt"
	"sync"
)

// ErrQueueFull is returned when pushing to an EditQueue at capacity.
var ErrQueueFull = errors.New("voxel: edit queue full")

// Edit is a single voxel write request.
type Edit struct {
	Coord Coord
	Voxel Voxel
}

// ApplyResult summarizes World.Apply.
type ApplyResult struct {
	// Applied counts edits inside the world, including no-op writes.
	Applied int
	// Changed counts edits that changed the stored value.
	Changed int
	// Rejected holds out-of-bounds edits in input order.
	Rejected []Edit
	// Touched lists chunks that became dirty, in z-y-x order.
	Touched []ChunkKey
	// Err joins one ErrOutOfBounds per rejected edit, or is nil. A failed
	// generation in Renderer.Generate reports its error here.
	Err error
}

// Apply writes edits in order. Out-of-bounds edits are rejected one by one
// and do not stop the remaining edits.
func (w *World) Apply(edits []Edit) ApplyResult {
	var res ApplyResult
	touched := NewChunkSet(w.grid.X, w.grid.Y, w.grid.Z)
	var errs []error
	for _, e := range edits {
		ch := w.ChunkAt(e.Coord)
		if ch == nil {
			res.Rejected = append(res.Rejected, e)
			errs = append(errs, fmt.Errorf("%w: %s outside %s", ErrOutOfBounds, e.Coord, w.extent))
			continue
		}
		res.Applied++
		cs := w.chunkSize
		if ch.set(floorMod(e.Coord.X, cs), floorMod(e.Coord.Y, cs), floorMod(e.Coord.Z, cs), e.Voxel) {
			res.Changed++
			touched.Add(ch.key)
		}
	}
	w.touched.Union(touched)
	res.Touched = touched.Keys()
	res.Err = errors.Join(errs...)
	return res
}

// EditQueue buffers edits produced by any goroutine until the frame loop
// drains them. It is bounded; Push fails with ErrQueueFull at capacity.
type EditQueue struct {
	mu    sync.Mutex
	edits []Edit
	limit int
}

// NewEditQueue creates a queue holding at most limit edits.
// A limit <= 0 means unbounded.
func NewEditQueue(limit int) *EditQueue {
	return &EditQueue{limit: limit}
}

// Push enqueues one edit.
func (q *EditQueue) Push(e Edit) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.edits) >= q.limit {
		return fmt.Errorf("%w: %d pending", ErrQueueFull, len(q.edits))
	}
	q.edits = append(q.edits, e)
	return nil
}

// PushAll enqueues edits atomically: either all are queued or none are.
func (q *EditQueue) PushAll(edits []Edit) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.edits)+len(edits) > q.limit {
		return fmt.Errorf("%w: %d pending, %d requested", ErrQueueFull, len(q.edits), len(edits))
	}
	q.edits = append(q.edits, edits...)
	return nil
}

// Drain removes and returns all queued edits in push order.
func (q *EditQueue) Drain() []Edit {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.edits
	q.edits = nil
	return out
}

// Len returns the number of queued edits.
func (q *EditQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.edits)
}

// Cap returns the queue limit, 0 when unbounded.
func (q *EditQueue) Cap() int { return q.limit }
