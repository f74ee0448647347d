package voxel

import (
	"fmt"
	"runtime"

	"github.com/alitto/pond/v2"
)

// GeneratorFunc decides the voxel at a world coordinate. Returning false
// leaves the coordinate untouched.
type GeneratorFunc func(c Coord) (Voxel, bool)

// Generate evaluates fn for every coordinate of extent, one chunk per task,
// and returns the resulting edits grouped by chunk in z-y-x chunk order.
// fn must be safe for concurrent use. A panic in fn is returned as an error
// and no edits are produced.
func Generate(extent Extent, chunkSize int, fn GeneratorFunc) ([]Edit, error) {
	if !extent.Valid() || chunkSize <= 0 || fn == nil {
		return nil, nil
	}
	gx := (extent.X + chunkSize - 1) / chunkSize
	gy := (extent.Y + chunkSize - 1) / chunkSize
	gz := (extent.Z + chunkSize - 1) / chunkSize
	perChunk := make([][]Edit, gx*gy*gz)

	pool := pond.NewPool(runtime.NumCPU())
	defer pool.StopAndWait()

	group := pool.NewGroup()
	for kz := 0; kz < gz; kz++ {
		for ky := 0; ky < gy; ky++ {
			for kx := 0; kx < gx; kx++ {
				slot := kx + ky*gx + kz*gx*gy
				o := ChunkKey{kx, ky, kz}.Origin(chunkSize)
				group.Submit(func() {
					var out []Edit
					for z := o.Z; z < min(o.Z+chunkSize, extent.Z); z++ {
						for y := o.Y; y < min(o.Y+chunkSize, extent.Y); y++ {
							for x := o.X; x < min(o.X+chunkSize, extent.X); x++ {
								c := Coord{x, y, z}
								if v, ok := fn(c); ok {
									out = append(out, Edit{Coord: c, Voxel: v})
								}
							}
						}
					}
					perChunk[slot] = out
				})
			}
		}
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("voxel: generate: %w", err)
	}

	n := 0
	for _, e := range perChunk {
		n += len(e)
	}
	edits := make([]Edit, 0, n)
	for _, e := range perChunk {
		edits = append(edits, e...)
	}
	return edits, nil
}
