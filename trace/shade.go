package trace

import (
	"image/color"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/gogpu/voxrt/voxel"
)

// shadowBias lifts shadow ray origins off the surface they start on.
const shadowBias = 1e-4

// Settings control traversal and shading.
type Settings struct {
	// MaxSteps bounds voxels visited per ray; <= 0 means unbounded within
	// the volume.
	MaxSteps int

	// Shadows casts a second ray toward the sun from every hit.
	Shadows bool

	// ShowRaySteps replaces shading with a heat map of voxels visited.
	ShowRaySteps bool

	// Sun is the direction toward the light. Zero selects the default.
	Sun mgl64.Vec3

	// Ambient is the light fraction every lit surface receives, in [0, 1].
	Ambient float64

	// Palette maps materials to colors. Nil selects voxel.DefaultPalette.
	Palette *voxel.Palette

	SkyHorizon color.RGBA
	SkyZenith  color.RGBA
}

var defaultPalette = voxel.DefaultPalette()

// DefaultSettings returns settings with shadows off, a high sun and a
// blue sky.
func DefaultSettings() Settings {
	return Settings{
		Sun:        mgl64.Vec3{0.4, 0.8, 0.3}.Normalize(),
		Ambient:    0.3,
		Palette:    defaultPalette,
		SkyHorizon: color.RGBA{200, 220, 255, 255},
		SkyZenith:  color.RGBA{90, 140, 220, 255},
	}
}

// normalized fills zero fields with defaults.
func (s Settings) normalized() Settings {
	def := DefaultSettings()
	if s.Sun.Len() == 0 {
		s.Sun = def.Sun
	} else {
		s.Sun = s.Sun.Normalize()
	}
	if s.Palette == nil {
		s.Palette = def.Palette
	}
	if s.SkyHorizon == (color.RGBA{}) && s.SkyZenith == (color.RGBA{}) {
		s.SkyHorizon, s.SkyZenith = def.SkyHorizon, def.SkyZenith
	}
	s.Ambient = clamp01(s.Ambient)
	return s
}

// Sample is the shaded result of one primary ray.
type Sample struct {
	Color    color.RGBA
	Depth    float32
	Normal   mgl64.Vec3
	Material voxel.Material
}

// Shade traces r through vol and shades the result.
func Shade(vol *voxel.Volume, r Ray, s Settings) Sample {
	return shade(vol, r, s.normalized())
}

func shade(vol *voxel.Volume, r Ray, s Settings) Sample {
	hit := Traverse(vol, r, s.MaxSteps)
	if s.ShowRaySteps {
		limit := s.MaxSteps
		if limit <= 0 {
			limit = MaxStepsFor(vol.Extent())
		}
		out := Sample{Color: heat(float64(hit.Steps) / float64(limit)), Depth: float32(math.Inf(1))}
		if hit.Hit {
			out.Depth = float32(hit.T)
			out.Material = hit.Voxel.Material
			out.Normal = surfaceNormal(vol, hit, r)
		}
		return out
	}
	if !hit.Hit {
		return Sample{Color: sky(r.Dir, s), Depth: float32(math.Inf(1))}
	}

	n := surfaceNormal(vol, hit, r)
	base := s.Palette.Color(hit.Voxel.Material)
	out := Sample{
		Depth:    float32(hit.T),
		Normal:   n,
		Material: hit.Voxel.Material,
	}
	if hit.Voxel.Flags&voxel.FlagEmissive != 0 {
		out.Color = color.RGBA{base.R, base.G, base.B, 255}
		return out
	}

	diffuse := max(0, n.Dot(s.Sun))
	if s.Shadows && diffuse > 0 && hit.Face != FaceNone {
		origin := r.At(hit.T).Add(hit.Face.Normal().Mul(shadowBias))
		if Traverse(vol, NewRay(origin, s.Sun), s.MaxSteps).Hit {
			diffuse = 0
		}
	}
	light := s.Ambient + (1-s.Ambient)*diffuse
	out.Color = color.RGBA{
		R: scale(base.R, light),
		G: scale(base.G, light),
		B: scale(base.B, light),
		A: 255,
	}
	return out
}

// surfaceNormal estimates the normal from the occupancy gradient around the
// hit voxel. Flat or back-facing gradients fall back to the entry face.
func surfaceNormal(vol *voxel.Volume, hit Hit, r Ray) mgl64.Vec3 {
	c := hit.Coord
	occ := func(x, y, z int) float64 {
		if vol.Solid(x, y, z) {
			return 1
		}
		return 0
	}
	g := mgl64.Vec3{
		occ(c.X-1, c.Y, c.Z) - occ(c.X+1, c.Y, c.Z),
		occ(c.X, c.Y-1, c.Z) - occ(c.X, c.Y+1, c.Z),
		occ(c.X, c.Y, c.Z-1) - occ(c.X, c.Y, c.Z+1),
	}
	if g.Len() > 0 && g.Dot(r.Dir) < 0 {
		return g.Normalize()
	}
	if hit.Face != FaceNone {
		return hit.Face.Normal()
	}
	return r.Dir.Mul(-1)
}

// sky blends from horizon to zenith with the ray's elevation.
func sky(dir mgl64.Vec3, s Settings) color.RGBA {
	t := clamp01(dir[1])
	lerp := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
	}
	return color.RGBA{
		R: lerp(s.SkyHorizon.R, s.SkyZenith.R),
		G: lerp(s.SkyHorizon.G, s.SkyZenith.G),
		B: lerp(s.SkyHorizon.B, s.SkyZenith.B),
		A: 255,
	}
}

// heat maps t in [0, 1] from blue through green to red.
func heat(t float64) color.RGBA {
	t = clamp01(t)
	var r, g, b float64
	if t < 0.5 {
		g, b = t*2, 1-t*2
	} else {
		r, g = (t-0.5)*2, 1-(t-0.5)*2
	}
	return color.RGBA{uint8(r * 255), uint8(g * 255), uint8(b * 255), 255}
}

func scale(c uint8, f float64) uint8 {
	return uint8(math.Round(float64(c) * clamp01(f)))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
