package export

import (
	"image/color"

	lin "github.com/gogpu/voxrt/internal/color"
	"github.com/gogpu/voxrt/voxel"
)

// Mesh is an indexed triangle list of the visible voxel faces.
type Mesh struct {
	Positions [][3]float32
	Normals   [][3]float32
	Colors    [][4]float32 // linear RGB, straight alpha
	Indices   []uint32

	// Translucent is set when any face color has alpha below one.
	Translucent bool
}

// Quads returns the number of merged faces.
func (m *Mesh) Quads() int { return len(m.Indices) / 6 }

// Empty reports whether the mesh has no faces.
func (m *Mesh) Empty() bool { return len(m.Indices) == 0 }

// BuildMesh extracts the faces of solid voxels that border non-solid space
// and merges coplanar neighbors of the same material into rectangles.
//
// One voxel is one unit; the world origin is the minimum corner of voxel
// (0,0,0). Triangles wind counter-clockwise seen from outside.
func BuildMesh(vol *voxel.Volume, pal *voxel.Palette) *Mesh {
	if pal == nil {
		pal = voxel.DefaultPalette()
	}
	ext := vol.Extent()
	dims := [3]int{ext.X, ext.Y, ext.Z}
	m := &Mesh{}

	for axis := range 3 {
		u, v := (axis+1)%3, (axis+2)%3
		for _, sign := range [2]int{1, -1} {
			mask := make([]voxel.Material, dims[u]*dims[v])
			for slice := 0; slice < dims[axis]; slice++ {
				clear(mask)
				var p [3]int
				p[axis] = slice
				for j := 0; j < dims[v]; j++ {
					p[v] = j
					for i := 0; i < dims[u]; i++ {
						p[u] = i
						cur := vol.At(p[0], p[1], p[2])
						if !cur.Solid() {
							continue
						}
						n := p
						n[axis] += sign
						if vol.Solid(n[0], n[1], n[2]) {
							continue
						}
						mask[i+j*dims[u]] = cur.Material
					}
				}
				m.sweep(mask, dims[u], dims[v], axis, sign, slice, pal)
			}
		}
	}
	return m
}

// sweep greedily merges the face mask of one slice into rectangles.
func (m *Mesh) sweep(mask []voxel.Material, nu, nv, axis, sign, slice int, pal *voxel.Palette) {
	for j := 0; j < nv; j++ {
		for i := 0; i < nu; {
			mat := mask[i+j*nu]
			if mat == voxel.Empty {
				i++
				continue
			}
			w := 1
			for i+w < nu && mask[i+w+j*nu] == mat {
				w++
			}
			h := 1
		grow:
			for j+h < nv {
				for k := 0; k < w; k++ {
					if mask[i+k+(j+h)*nu] != mat {
						break grow
					}
				}
				h++
			}
			for dj := 0; dj < h; dj++ {
				for k := 0; k < w; k++ {
					mask[i+k+(j+dj)*nu] = voxel.Empty
				}
			}
			m.quad(axis, sign, slice, i, j, w, h, pal.Color(mat))
			i += w
		}
	}
}

func (m *Mesh) quad(axis, sign, slice, i, j, w, h int, c color.RGBA) {
	u, v := (axis+1)%3, (axis+2)%3
	plane := float32(slice)
	if sign > 0 {
		plane++
	}
	corner := func(du, dv int) [3]float32 {
		var p [3]float32
		p[axis] = plane
		p[u] = float32(i + du)
		p[v] = float32(j + dv)
		return p
	}
	// e_u × e_v = e_axis, so this order faces +axis.
	corners := [4][3]float32{corner(0, 0), corner(w, 0), corner(w, h), corner(0, h)}
	if sign < 0 {
		corners[1], corners[3] = corners[3], corners[1]
	}

	var normal [3]float32
	normal[axis] = float32(sign)
	col := lin.ToLinear(c)
	if c.A < 255 {
		m.Translucent = true
	}

	base := uint32(len(m.Positions)) //nolint:gosec // vertex count fits uint32
	for _, p := range corners {
		m.Positions = append(m.Positions, p)
		m.Normals = append(m.Normals, normal)
		m.Colors = append(m.Colors, col)
	}
	m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
}
