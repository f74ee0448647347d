package demo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gogpu/voxrt/voxel"
)

func TestTerrain(t *testing.T) {
	ext := voxel.Extent{X: 32, Y: 32, Z: 32}
	w, err := voxel.NewWorld(ext, 8)
	require.NoError(t, err)

	edits, err := voxel.Generate(ext, 8, Terrain(ext))
	require.NoError(t, err)
	res := w.Apply(edits)
	require.NoError(t, res.Err)
	require.Positive(t, res.Changed)

	for _, col := range [][2]int{{0, 0}, {7, 19}, {31, 31}} {
		x, z := col[0], col[1]
		h := Height(ext, x, z)
		require.GreaterOrEqual(t, h, 1)
		require.Less(t, h, ext.Y)
		require.Equal(t, Stone, w.Material(voxel.C(x, 0, z)), "column %v", col)
		top := w.Material(voxel.C(x, h-1, z))
		require.Contains(t, []voxel.Material{Grass, Sand, Dirt, Stone}, top)
	}
}

func TestScene_InBounds(t *testing.T) {
	ext := voxel.Extent{X: 48, Y: 32, Z: 48}
	w, err := voxel.NewWorld(ext, 16)
	require.NoError(t, err)
	edits, err := voxel.Generate(ext, 16, Terrain(ext))
	require.NoError(t, err)
	w.Apply(edits)

	res := w.Apply(Scene(ext))
	require.Empty(t, res.Rejected)
	require.Positive(t, res.Changed)
}

func TestSandColumnFalls(t *testing.T) {
	ext := voxel.Extent{X: 8, Y: 8, Z: 8}
	w, err := voxel.NewWorld(ext, 4)
	require.NoError(t, err)
	w.Apply(SandColumn(ext, voxel.C(4, 7, 4), 3))
	require.Equal(t, 3, w.SolidCount())

	a := voxel.Automata{}
	for range 16 {
		w.Apply(a.Step(w))
	}
	for y := 0; y < 3; y++ {
		require.Equal(t, Sand, w.Material(voxel.C(4, y, 4)))
	}
	require.Equal(t, 3, w.SolidCount())
}

func TestCamera(t *testing.T) {
	ext := voxel.Extent{X: 64, Y: 64, Z: 64}
	a := Camera(ext, 0, 8)
	b := Camera(ext, 8, 8)
	require.Equal(t, a.Eye, b.Eye, "a full period returns to the start")
	require.NotEqual(t, a.Eye, Camera(ext, 2, 8).Eye)
	require.Greater(t, a.Eye.Y(), a.Target.Y())
}
