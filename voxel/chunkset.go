package voxel

import (
	"math/bits"
	"sync/atomic"
)

// ChunkSet is a lock-free bitmap over the chunk grid of a world.
//
// One bit per chunk, packed into uint64 words. Bit index follows the world's
// chunk order: x fastest, then y, then z. All methods are safe for concurrent
// use without external synchronization.
type ChunkSet struct {
	words []atomic.Uint64
	nx    int
	ny    int
	nz    int
}

// NewChunkSet creates an empty set for an nx*ny*nz chunk grid.
// Returns nil if any dimension is not positive.
func NewChunkSet(nx, ny, nz int) *ChunkSet {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil
	}
	total := nx * ny * nz
	return &ChunkSet{
		words: make([]atomic.Uint64, (total+63)/64),
		nx:    nx,
		ny:    ny,
		nz:    nz,
	}
}

func (s *ChunkSet) bit(k ChunkKey) (int, bool) {
	if k.X < 0 || k.Y < 0 || k.Z < 0 || k.X >= s.nx || k.Y >= s.ny || k.Z >= s.nz {
		return 0, false
	}
	return k.X + k.Y*s.nx + k.Z*s.nx*s.ny, true
}

func (s *ChunkSet) key(idx int) ChunkKey {
	return ChunkKey{X: idx % s.nx, Y: (idx / s.nx) % s.ny, Z: idx / (s.nx * s.ny)}
}

// Add marks a chunk. Out-of-grid keys are ignored.
func (s *ChunkSet) Add(k ChunkKey) {
	idx, ok := s.bit(k)
	if !ok {
		return
	}
	s.words[idx/64].Or(1 << (idx & 63))
}

// Remove unmarks a chunk.
func (s *ChunkSet) Remove(k ChunkKey) {
	idx, ok := s.bit(k)
	if !ok {
		return
	}
	s.words[idx/64].And(^(uint64(1) << (idx & 63)))
}

// Has reports whether a chunk is marked. Out-of-grid keys are never marked.
func (s *ChunkSet) Has(k ChunkKey) bool {
	idx, ok := s.bit(k)
	if !ok {
		return false
	}
	return s.words[idx/64].Load()&(1<<(idx&63)) != 0
}

// Union marks every chunk marked in o. Both sets must share dimensions.
func (s *ChunkSet) Union(o *ChunkSet) {
	if o == nil || o.nx != s.nx || o.ny != s.ny || o.nz != s.nz {
		return
	}
	for i := range s.words {
		s.words[i].Or(o.words[i].Load())
	}
}

// Clear unmarks all chunks.
func (s *ChunkSet) Clear() {
	for i := range s.words {
		s.words[i].Store(0)
	}
}

// IsEmpty reports whether no chunk is marked.
func (s *ChunkSet) IsEmpty() bool {
	for i := range s.words {
		if s.words[i].Load() != 0 {
			return false
		}
	}
	return true
}

// Len returns the number of marked chunks.
func (s *ChunkSet) Len() int {
	n := 0
	for i := range s.words {
		n += bits.OnesCount64(s.words[i].Load())
	}
	return n
}

// Keys returns the marked chunks in grid order without clearing them.
func (s *ChunkSet) Keys() []ChunkKey {
	var keys []ChunkKey
	s.ForEach(func(k ChunkKey) { keys = append(keys, k) })
	return keys
}

// ForEach calls fn for every marked chunk in grid order.
func (s *ChunkSet) ForEach(fn func(ChunkKey)) {
	for wi := range s.words {
		word := s.words[wi].Load()
		for word != 0 {
			b := bits.TrailingZeros64(word)
			fn(s.key(wi*64 + b))
			word &^= 1 << b
		}
	}
}
