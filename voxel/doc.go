// Package voxel holds the CPU-side voxel store.
//
// A World is a bounded grid of voxels split into fixed-size chunks. Each chunk
// owns its voxels exclusively and carries its own dirty flag and version
// counter. Writes go through World.Set, World.Fill or World.Apply; they validate
// bounds, serialize per chunk and mark the owning chunk dirty. The store never
// touches device state: the buffer manager (package device) observes dirty
// chunks and clears the flag after a successful upload.
//
// # Coordinates
//
// World coordinates are integer voxel positions in [0, Extent) on each axis.
// Chunk keys are chunk-grid coordinates: key = floor(coord / chunkSize).
// Inside a chunk voxels are stored x-fastest, then y, then z.
//
// # Concurrency
//
// World is safe for concurrent use. Writes to the same chunk are serialized by
// the chunk's mutex. Producers that must not interleave with the frame loop
// should push edits into an EditQueue, which the frame loop drains once per
// frame.
package voxel
