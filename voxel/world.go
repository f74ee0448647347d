package voxel

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds is returned for writes outside the world extent.
	ErrOutOfBounds = errors.New("voxel: coordinate out of bounds")

	// ErrInvalidWorld is returned when a world is created with a non-positive
	// extent or chunk size.
	ErrInvalidWorld = errors.New("voxel: invalid world dimensions")
)

// World is the CPU-side voxel store: a fixed extent partitioned into chunks
// that are all created up front.
//
// Voxel data is owned by the chunks. The world only adds an index of chunks
// that were written since the last DirtyChunks call, so that the per-frame
// scan does not need to visit every chunk.
type World struct {
	extent    Extent
	chunkSize int
	grid      ChunkKey // chunk-grid dimensions

	chunks []*Chunk
	// touched is an acceleration index. Chunk.Dirty is authoritative.
	touched *ChunkSet
}

// NewWorld creates a world covering extent, partitioned into chunks of
// chunkSize^3 voxels. Edge chunks may extend past the extent; voxels there
// are not addressable.
func NewWorld(extent Extent, chunkSize int) (*World, error) {
	if !extent.Valid() || chunkSize <= 0 {
		return nil, fmt.Errorf("%w: extent %s, chunk size %d", ErrInvalidWorld, extent, chunkSize)
	}
	grid := ChunkKey{
		X: (extent.X + chunkSize - 1) / chunkSize,
		Y: (extent.Y + chunkSize - 1) / chunkSize,
		Z: (extent.Z + chunkSize - 1) / chunkSize,
	}
	w := &World{
		extent:    extent,
		chunkSize: chunkSize,
		grid:      grid,
		chunks:    make([]*Chunk, 0, grid.X*grid.Y*grid.Z),
		touched:   NewChunkSet(grid.X, grid.Y, grid.Z),
	}
	for z := 0; z < grid.Z; z++ {
		for y := 0; y < grid.Y; y++ {
			for x := 0; x < grid.X; x++ {
				w.chunks = append(w.chunks, newChunk(ChunkKey{x, y, z}, chunkSize))
			}
		}
	}
	return w, nil
}

// Extent returns the world size in voxels.
func (w *World) Extent() Extent { return w.extent }

// ChunkSize returns the chunk edge length in voxels.
func (w *World) ChunkSize() int { return w.chunkSize }

// ChunkGrid returns the number of chunks along each axis.
func (w *World) ChunkGrid() ChunkKey { return w.grid }

// Chunk returns the chunk with the given key, or nil outside the grid.
func (w *World) Chunk(key ChunkKey) *Chunk {
	if key.X < 0 || key.Y < 0 || key.Z < 0 || key.X >= w.grid.X || key.Y >= w.grid.Y || key.Z >= w.grid.Z {
		return nil
	}
	return w.chunks[key.X+key.Y*w.grid.X+key.Z*w.grid.X*w.grid.Y]
}

// ChunkAt returns the chunk containing c, or nil when c is outside the world.
func (w *World) ChunkAt(c Coord) *Chunk {
	if !w.extent.Contains(c) {
		return nil
	}
	return w.Chunk(KeyOf(c, w.chunkSize))
}

// Chunks returns all chunks in z-y-x order (x varies fastest).
// The slice is shared and must not be modified.
func (w *World) Chunks() []*Chunk { return w.chunks }

// Get returns the voxel at c, or the empty voxel outside the world.
func (w *World) Get(c Coord) Voxel {
	ch := w.ChunkAt(c)
	if ch == nil {
		return Voxel{}
	}
	return ch.At(floorMod(c.X, w.chunkSize), floorMod(c.Y, w.chunkSize), floorMod(c.Z, w.chunkSize))
}

// Material returns the material at c, or Empty outside the world.
func (w *World) Material(c Coord) Material { return w.Get(c).Material }

// Set writes v at c. Writing the value already stored is a no-op and does
// not dirty the chunk. Set never touches device state.
func (w *World) Set(c Coord, v Voxel) error {
	ch := w.ChunkAt(c)
	if ch == nil {
		return fmt.Errorf("%w: %s outside %s", ErrOutOfBounds, c, w.extent)
	}
	if ch.set(floorMod(c.X, w.chunkSize), floorMod(c.Y, w.chunkSize), floorMod(c.Z, w.chunkSize), v) {
		w.touched.Add(ch.key)
	}
	return nil
}

// Fill writes v into the inclusive box [lo, hi] clipped to the world and
// returns the number of voxels whose value changed.
func (w *World) Fill(lo, hi Coord, v Voxel) (int, error) {
	lo, hi = Coord{min(lo.X, hi.X), min(lo.Y, hi.Y), min(lo.Z, hi.Z)},
		Coord{max(lo.X, hi.X), max(lo.Y, hi.Y), max(lo.Z, hi.Z)}
	clo := Coord{max(lo.X, 0), max(lo.Y, 0), max(lo.Z, 0)}
	chi := Coord{min(hi.X, w.extent.X-1), min(hi.Y, w.extent.Y-1), min(hi.Z, w.extent.Z-1)}
	if clo.X > chi.X || clo.Y > chi.Y || clo.Z > chi.Z {
		return 0, fmt.Errorf("%w: box %s-%s does not intersect %s", ErrOutOfBounds, lo, hi, w.extent)
	}

	n := 0
	cs := w.chunkSize
	klo, khi := KeyOf(clo, cs), KeyOf(chi, cs)
	for kz := klo.Z; kz <= khi.Z; kz++ {
		for ky := klo.Y; ky <= khi.Y; ky++ {
			for kx := klo.X; kx <= khi.X; kx++ {
				ch := w.Chunk(ChunkKey{kx, ky, kz})
				o := ch.origin
				changed := 0
				ch.mu.Lock()
				for z := max(clo.Z, o.Z); z <= min(chi.Z, o.Z+cs-1); z++ {
					for y := max(clo.Y, o.Y); y <= min(chi.Y, o.Y+cs-1); y++ {
						for x := max(clo.X, o.X); x <= min(chi.X, o.X+cs-1); x++ {
							if ch.setLocked(ch.index(x-o.X, y-o.Y, z-o.Z), v) {
								changed++
							}
						}
					}
				}
				ch.mu.Unlock()
				if changed > 0 {
					w.touched.Add(ch.key)
					n += changed
				}
			}
		}
	}
	return n, nil
}

// Clear empties every voxel of the world.
func (w *World) Clear() {
	for _, ch := range w.chunks {
		ch.mu.Lock()
		changed := false
		for i := range ch.voxels {
			if ch.setLocked(i, Voxel{}) {
				changed = true
			}
		}
		ch.mu.Unlock()
		if changed {
			w.touched.Add(ch.key)
		}
	}
}

// DirtyChunks returns every chunk whose dirty flag is set, in z-y-x order.
//
// Chunks written through the world are found via the index. Chunks that
// stayed dirty because an earlier sync failed are kept in the index until
// they are observed clean.
func (w *World) DirtyChunks() []*Chunk {
	var out []*Chunk
	w.touched.ForEach(func(k ChunkKey) {
		ch := w.Chunk(k)
		if ch.Dirty() {
			out = append(out, ch)
			return
		}
		w.touched.Remove(k)
		// A write may have landed between Dirty and Remove.
		if ch.Dirty() {
			w.touched.Add(k)
			out = append(out, ch)
		}
	})
	return out
}

// MarkAllDirty marks every chunk dirty, forcing a full upload. Used when a
// world is attached to a device that has never seen it.
func (w *World) MarkAllDirty() {
	for _, ch := range w.chunks {
		ch.markDirty()
		w.touched.Add(ch.key)
	}
}

// Invalidate marks one chunk dirty so the next sync uploads it again, for
// example after its device buffer was released.
func (w *World) Invalidate(key ChunkKey) {
	ch := w.Chunk(key)
	if ch == nil {
		return
	}
	ch.markDirty()
	w.touched.Add(key)
}

// LoadChunk replaces the voxels of the chunk with key. Used when restoring a
// world from persistent storage.
func (w *World) LoadChunk(key ChunkKey, voxels []Voxel) error {
	ch := w.Chunk(key)
	if ch == nil {
		return fmt.Errorf("%w: %s outside chunk grid", ErrOutOfBounds, key)
	}
	ch.load(voxels)
	if ch.Dirty() {
		w.touched.Add(key)
	}
	return nil
}

// SolidCount returns the number of solid voxels in the world.
func (w *World) SolidCount() int {
	n := 0
	for _, ch := range w.chunks {
		n += ch.SolidCount()
	}
	return n
}
