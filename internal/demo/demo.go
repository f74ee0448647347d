// Package demo builds the sample scene used by the commands.
package demo

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/voxrt/trace"
	"github.com/gogpu/voxrt/voxel"
)

// Materials of the default palette.
const (
	Stone voxel.Material = 1
	Dirt  voxel.Material = 2
	Grass voxel.Material = 3
	Sand  voxel.Material = 4
	Water voxel.Material = 5
	Wood  voxel.Material = 6
	Leave voxel.Material = 7
	Lamp  voxel.Material = 8
)

// Terrain returns rolling hills over ext: stone, a dirt layer and a grass
// top, with water filling the valleys up to a quarter of the height.
func Terrain(ext voxel.Extent) voxel.GeneratorFunc {
	sea := ext.Y / 4
	return func(c voxel.Coord) (voxel.Voxel, bool) {
		h := Height(ext, c.X, c.Z)
		switch {
		case c.Y < h-3:
			return voxel.Voxel{Material: Stone}, true
		case c.Y < h-1:
			return voxel.Voxel{Material: Dirt}, true
		case c.Y == h-1:
			if h-1 <= sea {
				return voxel.Voxel{Material: Sand}, true
			}
			return voxel.Voxel{Material: Grass}, true
		case c.Y <= sea:
			return voxel.Voxel{Material: Water}, true
		}
		return voxel.Voxel{}, false
	}
}

// Height returns the terrain surface height at column (x, z).
func Height(ext voxel.Extent, x, z int) int {
	fx := float64(x) / float64(ext.X) * 2 * math.Pi
	fz := float64(z) / float64(ext.Z) * 2 * math.Pi
	n := math.Sin(fx*1.5)*0.5 + math.Cos(fz*2+fx*0.5)*0.35 + math.Sin(fx*4+fz*3)*0.15
	h := float64(ext.Y) * (0.3 + 0.12*n)
	return max(1, min(ext.Y-1, int(h)))
}

// Tree returns the edits of a tree whose trunk starts at base.
func Tree(base voxel.Coord, height int) []voxel.Edit {
	var edits []voxel.Edit
	top := base.Add(voxel.C(0, height, 0))
	edits = append(edits, voxel.SphereEdits(top, max(2, height/2), voxel.Voxel{Material: Leave})...)
	edits = append(edits, voxel.BoxEdits(base, top, voxel.Voxel{Material: Wood})...)
	return edits
}

// Scene returns trees, lamps and a tower of sand to place on a terrain
// built by Terrain. The sand falls once the automata run.
func Scene(ext voxel.Extent) []voxel.Edit {
	var edits []voxel.Edit
	for i, p := range [][2]int{{1, 1}, {3, 1}, {1, 3}, {3, 3}} {
		x, z := ext.X*p[0]/5, ext.Z*p[1]/5
		edits = append(edits, Tree(voxel.C(x, Height(ext, x, z), z), 5+i)...)
	}
	cx, cz := ext.X/2, ext.Z/2
	for i := range 4 {
		x, z := cx+(i%2*2-1)*ext.X/8, cz+(i/2*2-1)*ext.Z/8
		edits = append(edits, voxel.Edit{
			Coord: voxel.C(x, Height(ext, x, z), z),
			Voxel: voxel.Voxel{Material: Lamp, Flags: voxel.FlagEmissive},
		})
	}
	edits = append(edits, SandColumn(ext, voxel.C(cx, ext.Y-2, cz), ext.Y/4)...)
	return edits
}

// SandColumn drops a column of falling sand from top, n voxels tall.
func SandColumn(ext voxel.Extent, top voxel.Coord, n int) []voxel.Edit {
	var edits []voxel.Edit
	for i := 0; i < n && top.Y-i >= 0; i++ {
		c := voxel.C(top.X, top.Y-i, top.Z)
		if ext.Contains(c) {
			edits = append(edits, voxel.Edit{Coord: c, Voxel: voxel.Voxel{Material: Sand, Flags: voxel.FlagFalling}})
		}
	}
	return edits
}

// Camera orbits the world center at the given frame of a turntable with
// period frames per revolution.
func Camera(ext voxel.Extent, frameNo, period int) trace.Camera {
	center := mgl32.Vec3{float32(ext.X) / 2, float32(ext.Y) / 3, float32(ext.Z) / 2}
	dist := float32(max(ext.X, ext.Z)) * 1.1
	yaw := float32(frameNo%max(1, period)) / float32(max(1, period)) * 360
	return trace.Orbit(center, dist, yaw, 35)
}
