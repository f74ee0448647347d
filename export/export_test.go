package export

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/voxrt/voxel"
)

func volume(t *testing.T, ext voxel.Extent, set map[voxel.Coord]voxel.Voxel) *voxel.Volume {
	t.Helper()
	w, err := voxel.NewWorld(ext, 4)
	require.NoError(t, err)
	for c, v := range set {
		require.NoError(t, w.Set(c, v))
	}
	return voxel.VolumeOf(w)
}

func cross(a, b [3]float32) [3]float32 {
	return [3]float32{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func sub(a, b [3]float32) [3]float32 { return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

// =============================================================================
// Meshing
// =============================================================================

func TestBuildMesh_Quads(t *testing.T) {
	stone := voxel.Voxel{Material: 1}
	dirt := voxel.Voxel{Material: 2}
	glass := voxel.Voxel{Material: 1, Flags: voxel.FlagTransparent}

	tests := []struct {
		name  string
		set   map[voxel.Coord]voxel.Voxel
		quads int
	}{
		{"empty", nil, 0},
		{"single voxel", map[voxel.Coord]voxel.Voxel{voxel.C(1, 1, 1): stone}, 6},
		{"merged pair", map[voxel.Coord]voxel.Voxel{voxel.C(1, 1, 1): stone, voxel.C(2, 1, 1): stone}, 6},
		{"two materials", map[voxel.Coord]voxel.Voxel{voxel.C(1, 1, 1): stone, voxel.C(2, 1, 1): dirt}, 10},
		{"transparent neighbor", map[voxel.Coord]voxel.Voxel{voxel.C(1, 1, 1): stone, voxel.C(2, 1, 1): glass}, 6},
		{"diagonal", map[voxel.Coord]voxel.Voxel{voxel.C(0, 0, 0): stone, voxel.C(1, 1, 1): stone}, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := BuildMesh(volume(t, voxel.Extent{X: 4, Y: 4, Z: 4}, tt.set), nil)
			require.Equal(t, tt.quads, m.Quads())
			require.Len(t, m.Positions, tt.quads*4)
			require.Len(t, m.Normals, tt.quads*4)
			require.Len(t, m.Colors, tt.quads*4)
		})
	}
}

func TestBuildMesh_FilledSlab(t *testing.T) {
	w, err := voxel.NewWorld(voxel.Extent{X: 8, Y: 8, Z: 8}, 4)
	require.NoError(t, err)
	w.Apply(voxel.BoxEdits(voxel.C(0, 0, 0), voxel.C(7, 1, 7), voxel.Voxel{Material: 3}))

	m := BuildMesh(voxel.VolumeOf(w), nil)
	require.Equal(t, 6, m.Quads(), "a uniform box merges to one quad per side")
	require.False(t, m.Translucent)
}

func TestBuildMesh_WindingFacesOutward(t *testing.T) {
	m := BuildMesh(volume(t, voxel.Extent{X: 3, Y: 3, Z: 3}, map[voxel.Coord]voxel.Voxel{
		voxel.C(1, 1, 1): {Material: 1},
	}), nil)
	require.Equal(t, 6, m.Quads())

	for q := range m.Quads() {
		i0, i1, i2 := m.Indices[q*6], m.Indices[q*6+1], m.Indices[q*6+2]
		p0, p1, p2 := m.Positions[i0], m.Positions[i1], m.Positions[i2]
		n := cross(sub(p1, p0), sub(p2, p0))
		want := m.Normals[i0]
		dot := n[0]*want[0] + n[1]*want[1] + n[2]*want[2]
		require.Positive(t, dot, "quad %d with normal %v", q, want)

		// Every face lies on the voxel's boundary.
		for axis := range 3 {
			if want[axis] > 0 {
				require.Equal(t, float32(2), p0[axis])
			} else if want[axis] < 0 {
				require.Equal(t, float32(1), p0[axis])
			}
		}
	}
}

func TestBuildMesh_Translucent(t *testing.T) {
	m := BuildMesh(volume(t, voxel.Extent{X: 2, Y: 2, Z: 2}, map[voxel.Coord]voxel.Voxel{
		voxel.C(0, 0, 0): {Material: 5},
	}), nil)
	require.True(t, m.Translucent)
	require.Less(t, m.Colors[0][3], float32(1))
}

func TestBuildMesh_LinearColors(t *testing.T) {
	pal := voxel.DefaultPalette()
	m := BuildMesh(volume(t, voxel.Extent{X: 1, Y: 1, Z: 1}, map[voxel.Coord]voxel.Voxel{
		voxel.C(0, 0, 0): {Material: 1},
	}), pal)
	c := pal.Color(1)
	got := m.Colors[0]
	for i, b := range []uint8{c.R, c.G, c.B} {
		if b > 0 && b < 255 {
			require.Less(t, got[i], float32(b)/255, "channel %d is decoded from sRGB", i)
		}
	}
	require.Equal(t, float32(1), got[3])
}

// =============================================================================
// GLB
// =============================================================================

func TestWriteGLB(t *testing.T) {
	vol := volume(t, voxel.Extent{X: 4, Y: 4, Z: 4}, map[voxel.Coord]voxel.Voxel{
		voxel.C(1, 1, 1): {Material: 1},
		voxel.C(2, 1, 1): {Material: 2},
	})

	var buf bytes.Buffer
	require.NoError(t, WriteGLB(&buf, vol, nil))
	require.Equal(t, "glTF", buf.String()[:4])

	doc := new(gltf.Document)
	require.NoError(t, gltf.NewDecoder(bytes.NewReader(buf.Bytes())).Decode(doc))
	require.Equal(t, Generator, doc.Asset.Generator)
	require.Len(t, doc.Meshes, 1)
	require.Len(t, doc.Meshes[0].Primitives, 1)

	prim := doc.Meshes[0].Primitives[0]
	pos := doc.Accessors[prim.Attributes[gltf.POSITION]]
	require.EqualValues(t, 10*4, pos.Count)
	require.NotNil(t, prim.Indices)
	require.EqualValues(t, 10*6, doc.Accessors[*prim.Indices].Count)
	require.Equal(t, gltf.AlphaOpaque, doc.Materials[0].AlphaMode)
}

func TestWriteGLB_Empty(t *testing.T) {
	vol := volume(t, voxel.Extent{X: 2, Y: 2, Z: 2}, nil)
	var buf bytes.Buffer
	require.ErrorIs(t, WriteGLB(&buf, vol, nil), ErrEmpty)
	require.Zero(t, buf.Len())
}

func TestSaveGLB(t *testing.T) {
	vol := volume(t, voxel.Extent{X: 2, Y: 2, Z: 2}, map[voxel.Coord]voxel.Voxel{
		voxel.C(0, 0, 0): {Material: 1},
	})
	path := filepath.Join(t.TempDir(), "world.glb")
	require.NoError(t, SaveGLB(path, vol, nil))

	doc, err := gltf.Open(path)
	require.NoError(t, err)
	require.Len(t, doc.Nodes, 1)
}
