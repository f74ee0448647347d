package voxel

import (
	"encoding/binary"
	"image/color"
)

// Palette maps materials to colors. Entry 0 belongs to Empty and is never
// drawn.
type Palette [256]color.RGBA

// DefaultPalette returns a palette with a few named materials followed by
// a deterministic hue ramp.
//
//	1 stone, 2 dirt, 3 grass, 4 sand, 5 water, 6 wood, 7 leaves, 8 lamp
func DefaultPalette() *Palette {
	p := &Palette{}
	named := []color.RGBA{
		{0, 0, 0, 0},
		{128, 128, 132, 255},
		{121, 85, 58, 255},
		{86, 150, 62, 255},
		{219, 196, 128, 255},
		{64, 112, 200, 160},
		{150, 110, 70, 255},
		{60, 120, 48, 255},
		{255, 220, 150, 255},
	}
	copy(p[:], named)
	for i := len(named); i < len(p); i++ {
		p[i] = hueRamp(float64(i-len(named)) / float64(len(p)-len(named)))
	}
	return p
}

// Color returns the color of m.
func (p *Palette) Color(m Material) color.RGBA { return p[m] }

// Set assigns the color of m.
func (p *Palette) Set(m Material, c color.RGBA) { p[m] = c }

// Bytes returns the palette as 256 packed RGBA8 words, the layout used by
// the GPU tracer.
func (p *Palette) Bytes() []byte {
	out := make([]byte, len(p)*4)
	for i, c := range p {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(c.R)|uint32(c.G)<<8|uint32(c.B)<<16|uint32(c.A)<<24)
	}
	return out
}

func hueRamp(h float64) color.RGBA {
	h6 := h * 6
	sector := int(h6) % 6
	f := h6 - float64(int(h6))
	const v, s = 0.85, 0.6
	pv := v * (1 - s)
	qv := v * (1 - s*f)
	tv := v * (1 - s*(1-f))
	var r, g, b float64
	switch sector {
	case 0:
		r, g, b = v, tv, pv
	case 1:
		r, g, b = qv, v, pv
	case 2:
		r, g, b = pv, v, tv
	case 3:
		r, g, b = pv, qv, v
	case 4:
		r, g, b = tv, pv, v
	default:
		r, g, b = v, pv, qv
	}
	return color.RGBA{uint8(r * 255), uint8(g * 255), uint8(b * 255), 255}
}
