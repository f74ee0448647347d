package voxel

import "sync"

// Chunk is a fixed-size cuboid of voxels and the unit of GPU synchronization.
//
// A chunk owns its voxels exclusively. Every effective write bumps the
// version and sets the dirty flag; the buffer manager clears the flag with
// MarkClean once the version it uploaded is resident on the device.
//
// Chunk is safe for concurrent use; writers are serialized by mu.
type Chunk struct {
	mu sync.Mutex

	key    ChunkKey
	size   int
	origin Coord

	voxels []Voxel
	solid  int

	// dirty is set on every effective write and cleared by MarkClean.
	dirty   bool
	version uint64
}

func newChunk(key ChunkKey, size int) *Chunk {
	return &Chunk{
		key:    key,
		size:   size,
		origin: key.Origin(size),
		voxels: make([]Voxel, size*size*size),
	}
}

// Key returns the chunk-grid key.
func (c *Chunk) Key() ChunkKey { return c.key }

// Size returns the edge length in voxels.
func (c *Chunk) Size() int { return c.size }

// Origin returns the world coordinate of the minimum corner.
func (c *Chunk) Origin() Coord { return c.origin }

// ByteSize returns the device size of the chunk's voxel data.
func (c *Chunk) ByteSize() uint64 {
	return uint64(len(c.voxels)) * BytesPerVoxel //nolint:gosec // len is never negative
}

func (c *Chunk) index(x, y, z int) int {
	return x + y*c.size + z*c.size*c.size
}

// At returns the voxel at local coordinates. Local coordinates must be in
// [0, Size) on every axis.
func (c *Chunk) At(x, y, z int) Voxel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voxels[c.index(x, y, z)]
}

// set writes a voxel at local coordinates and reports whether the stored
// value changed.
func (c *Chunk) set(x, y, z int, v Voxel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLocked(c.index(x, y, z), v)
}

func (c *Chunk) setLocked(i int, v Voxel) bool {
	old := c.voxels[i]
	if old == v {
		return false
	}
	switch {
	case old.Solid() && !v.Solid():
		c.solid--
	case !old.Solid() && v.Solid():
		c.solid++
	}
	c.voxels[i] = v
	c.version++
	c.dirty = true
	return true
}

// Dirty reports whether the chunk changed since its last successful upload.
func (c *Chunk) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Version returns the write counter.
func (c *Chunk) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// SolidCount returns the number of solid voxels.
func (c *Chunk) SolidCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.solid
}

// markDirty sets the dirty flag. Callers go through World.Invalidate so
// the world's index sees the chunk.
func (c *Chunk) markDirty() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

// MarkClean clears the dirty flag if no write happened after version.
// It returns false, leaving the chunk dirty, when a newer write exists.
func (c *Chunk) MarkClean(version uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != version {
		return false
	}
	c.dirty = false
	return true
}

// ChunkSnapshot is a consistent copy of a chunk's device encoding.
type ChunkSnapshot struct {
	Key     ChunkKey
	Version uint64
	Dirty   bool
	Data    []byte
}

// Snapshot copies the chunk's voxels in device encoding together with the
// version they correspond to.
func (c *Chunk) Snapshot() ChunkSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := make([]byte, len(c.voxels)*BytesPerVoxel)
	PackInto(data, c.voxels)
	return ChunkSnapshot{Key: c.key, Version: c.version, Dirty: c.dirty, Data: data}
}

// Voxels returns a copy of the chunk's voxels.
func (c *Chunk) Voxels() []Voxel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Voxel, len(c.voxels))
	copy(out, c.voxels)
	return out
}

// load replaces the chunk contents. Used by snapshot loading.
func (c *Chunk) load(voxels []Voxel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := false
	for i, v := range voxels {
		if i >= len(c.voxels) {
			break
		}
		if c.voxels[i] != v {
			changed = true
		}
	}
	if !changed {
		return
	}
	copy(c.voxels, voxels)
	c.solid = 0
	for _, v := range c.voxels {
		if v.Solid() {
			c.solid++
		}
	}
	c.version++
	c.dirty = true
}
