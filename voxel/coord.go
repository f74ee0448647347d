package voxel

import "fmt"

// Coord is an integer voxel position in world space.
type Coord struct {
	X, Y, Z int
}

// C is shorthand for Coord{x, y, z}.
func C(x, y, z int) Coord { return Coord{X: x, Y: y, Z: z} }

// Add returns c + o.
func (c Coord) Add(o Coord) Coord { return Coord{c.X + o.X, c.Y + o.Y, c.Z + o.Z} }

func (c Coord) String() string { return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z) }

// Extent is the size of the world in voxels along each axis.
type Extent struct {
	X, Y, Z int
}

// Contains reports whether c lies inside [0, e).
func (e Extent) Contains(c Coord) bool {
	return c.X >= 0 && c.Y >= 0 && c.Z >= 0 && c.X < e.X && c.Y < e.Y && c.Z < e.Z
}

// Volume returns the number of voxels in the extent.
func (e Extent) Volume() int { return e.X * e.Y * e.Z }

// Valid reports whether all axes are positive.
func (e Extent) Valid() bool { return e.X > 0 && e.Y > 0 && e.Z > 0 }

func (e Extent) String() string { return fmt.Sprintf("%dx%dx%d", e.X, e.Y, e.Z) }

// ChunkKey addresses a chunk in chunk-grid coordinates.
type ChunkKey struct {
	X, Y, Z int
}

func (k ChunkKey) String() string { return fmt.Sprintf("chunk(%d,%d,%d)", k.X, k.Y, k.Z) }

// KeyOf returns the key of the chunk containing c.
func KeyOf(c Coord, chunkSize int) ChunkKey {
	return ChunkKey{floorDiv(c.X, chunkSize), floorDiv(c.Y, chunkSize), floorDiv(c.Z, chunkSize)}
}

// Origin returns the world coordinate of the chunk's minimum corner.
func (k ChunkKey) Origin(chunkSize int) Coord {
	return Coord{k.X * chunkSize, k.Y * chunkSize, k.Z * chunkSize}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
