package voxel

// Volume is a dense voxel grid covering a world extent.
//
// The tracer treats a Volume as read-only. It is assembled by the buffer
// manager from device-resident chunk data, so it reflects what the device
// holds rather than the CPU store. Reads outside the extent return the
// empty voxel.
type Volume struct {
	extent Extent
	voxels []Voxel
}

// NewVolume returns an empty volume.
func NewVolume(extent Extent) *Volume {
	if !extent.Valid() {
		return &Volume{}
	}
	return &Volume{extent: extent, voxels: make([]Voxel, extent.Volume())}
}

// VolumeOf copies the current CPU contents of w into a new volume.
func VolumeOf(w *World) *Volume {
	v := NewVolume(w.extent)
	for _, ch := range w.chunks {
		v.StoreChunk(ch.origin, ch.size, ch.Voxels())
	}
	return v
}

// Extent returns the volume size.
func (v *Volume) Extent() Extent { return v.extent }

// At returns the voxel at (x, y, z).
func (v *Volume) At(x, y, z int) Voxel {
	e := v.extent
	if x < 0 || y < 0 || z < 0 || x >= e.X || y >= e.Y || z >= e.Z {
		return Voxel{}
	}
	return v.voxels[x+y*e.X+z*e.X*e.Y]
}

// Get returns the voxel at c.
func (v *Volume) Get(c Coord) Voxel { return v.At(c.X, c.Y, c.Z) }

// Solid reports whether the voxel at (x, y, z) stops rays.
func (v *Volume) Solid(x, y, z int) bool { return v.At(x, y, z).Solid() }

// Clone returns an independent copy.
func (v *Volume) Clone() *Volume {
	out := &Volume{extent: v.extent, voxels: make([]Voxel, len(v.voxels))}
	copy(out.voxels, v.voxels)
	return out
}

// StoreChunk copies a chunk's voxels (size^3, x fastest) into the volume at
// origin. Voxels falling outside the extent are dropped. Only the volume's
// builder may call StoreChunk; consumers must treat the volume as immutable.
func (v *Volume) StoreChunk(origin Coord, size int, voxels []Voxel) {
	e := v.extent
	for z := 0; z < size; z++ {
		wz := origin.Z + z
		if wz < 0 || wz >= e.Z {
			continue
		}
		for y := 0; y < size; y++ {
			wy := origin.Y + y
			if wy < 0 || wy >= e.Y {
				continue
			}
			row := wy*e.X + wz*e.X*e.Y
			for x := 0; x < size; x++ {
				wx := origin.X + x
				if wx < 0 || wx >= e.X {
					continue
				}
				i := x + y*size + z*size*size
				if i < len(voxels) {
					v.voxels[row+wx] = voxels[i]
				}
			}
		}
	}
}

// Packed returns the volume in device encoding, x fastest.
func (v *Volume) Packed() []byte {
	out := make([]byte, len(v.voxels)*BytesPerVoxel)
	PackInto(out, v.voxels)
	return out
}
