package voxel

// SphereEdits returns edits writing v into every voxel whose center lies
// within radius of center. Edits are ordered z, y, x.
func SphereEdits(center Coord, radius int, v Voxel) []Edit {
	if radius < 0 {
		return nil
	}
	r2 := radius * radius
	var edits []Edit
	for z := -radius; z <= radius; z++ {
		for y := -radius; y <= radius; y++ {
			for x := -radius; x <= radius; x++ {
				if x*x+y*y+z*z > r2 {
					continue
				}
				edits = append(edits, Edit{Coord: center.Add(Coord{x, y, z}), Voxel: v})
			}
		}
	}
	return edits
}

// BoxEdits returns edits writing v into the inclusive box [lo, hi].
func BoxEdits(lo, hi Coord, v Voxel) []Edit {
	lo, hi = Coord{min(lo.X, hi.X), min(lo.Y, hi.Y), min(lo.Z, hi.Z)},
		Coord{max(lo.X, hi.X), max(lo.Y, hi.Y), max(lo.Z, hi.Z)}
	edits := make([]Edit, 0, (hi.X-lo.X+1)*(hi.Y-lo.Y+1)*(hi.Z-lo.Z+1))
	for z := lo.Z; z <= hi.Z; z++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for x := lo.X; x <= hi.X; x++ {
				edits = append(edits, Edit{Coord: Coord{x, y, z}, Voxel: v})
			}
		}
	}
	return edits
}
