package voxel

import (
	"cmp"
	"slices"
)

// fallOffsets are tried in order for every falling voxel: straight down,
// then the four diagonals below.
var fallOffsets = [...]Coord{
	{0, -1, 0},
	{-1, -1, 0},
	{1, -1, 0},
	{0, -1, -1},
	{0, -1, 1},
}

// Automata moves FlagFalling voxels (sand) one cell per step. Down is -Y.
type Automata struct {
	// Diagonal lets voxels slide to a diagonal cell below when the cell
	// straight down is occupied.
	Diagonal bool
}

// Step computes one simulation step and returns the edits that apply it.
// The world is not modified. Voxels are processed bottom-up, then by z and
// x, so the result is deterministic and a settled column falls as a unit.
func (a Automata) Step(w *World) []Edit {
	var falling []Coord
	cs := w.chunkSize
	for _, ch := range w.chunks {
		if ch.SolidCount() == 0 {
			continue
		}
		voxels := ch.Voxels()
		for i, v := range voxels {
			if v.Flags&FlagFalling == 0 || v.IsEmpty() {
				continue
			}
			c := ch.origin.Add(Coord{i % cs, (i / cs) % cs, i / (cs * cs)})
			if c.Y > 0 && w.extent.Contains(c) {
				falling = append(falling, c)
			}
		}
	}
	if len(falling) == 0 {
		return nil
	}
	slices.SortFunc(falling, func(p, q Coord) int {
		return cmp.Or(cmp.Compare(p.Y, q.Y), cmp.Compare(p.Z, q.Z), cmp.Compare(p.X, q.X))
	})

	overlay := make(map[Coord]Voxel)
	at := func(c Coord) Voxel {
		if v, ok := overlay[c]; ok {
			return v
		}
		return w.Get(c)
	}

	offsets := fallOffsets[:1]
	if a.Diagonal {
		offsets = fallOffsets[:]
	}

	var edits []Edit
	for _, c := range falling {
		v := at(c)
		if v.Flags&FlagFalling == 0 {
			continue
		}
		for _, off := range offsets {
			t := c.Add(off)
			if !w.extent.Contains(t) || !at(t).IsEmpty() {
				continue
			}
			overlay[c] = Voxel{}
			overlay[t] = v
			edits = append(edits, Edit{Coord: c}, Edit{Coord: t, Voxel: v})
			break
		}
	}
	return edits
}
