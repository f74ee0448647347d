// Package color converts palette colors between sRGB bytes and linear light.
//
// Palettes store sRGB. glTF vertex colors and material factors are linear,
// so exported meshes decode every palette entry through ToLinear.
package color

import (
	"image/color"
	"math"
)

// encodeSteps is the resolution of the linear to sRGB table. 4096 entries
// round-trip every 8-bit value.
const encodeSteps = 4096

var (
	decodeLUT [256]float32
	encodeLUT [encodeSteps]uint8
)

func init() {
	for i := range decodeLUT {
		decodeLUT[i] = float32(decode(float64(i) / 255))
	}
	for i := range encodeLUT {
		s := encode(float64(i) / (encodeSteps - 1))
		encodeLUT[i] = uint8(math.Max(0, math.Min(255, math.Round(s*255))))
	}
}

func decode(s float64) float64 {
	if s <= 0.04045 {
		return s / 12.92
	}
	return math.Pow((s+0.055)/1.055, 2.4)
}

func encode(l float64) float64 {
	if l <= 0.0031308 {
		return l * 12.92
	}
	return 1.055*math.Pow(l, 1/2.4) - 0.055
}

// Decode returns the linear intensity of an sRGB byte.
func Decode(s uint8) float32 { return decodeLUT[s] }

// Encode returns the sRGB byte closest to linear intensity l. l is clamped
// to [0, 1].
func Encode(l float32) uint8 {
	if !(l > 0) {
		return 0
	}
	if l >= 1 {
		return 255
	}
	return encodeLUT[int(l*(encodeSteps-1)+0.5)]
}

// ToLinear decodes c to linear RGB. Alpha is already linear and is only
// rescaled to [0, 1].
func ToLinear(c color.RGBA) [4]float32 {
	return [4]float32{Decode(c.R), Decode(c.G), Decode(c.B), float32(c.A) / 255}
}

// FromLinear encodes linear RGBA in [0, 1] to an sRGB color.
func FromLinear(l [4]float32) color.RGBA {
	a := l[3]
	return color.RGBA{Encode(l[0]), Encode(l[1]), Encode(l[2]), uint8(math.Round(float64(max(0, min(1, a))) * 255))}
}
