package voxel

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Material is a palette index. Material 0 is reserved for empty space.
type Material uint8

// Empty is the material of unoccupied space.
const Empty Material = 0

// Flags are per-voxel property bits.
type Flags uint8

const (
	// FlagEmissive marks a voxel as a light source. Emissive voxels are shaded
	// with their palette color and ignore lighting.
	FlagEmissive Flags = 1 << iota

	// FlagAnimated marks voxels that belong to animated geometry.
	FlagAnimated

	// FlagFalling marks voxels moved by the falling-voxel automata (sand).
	FlagFalling

	// FlagTransparent makes a voxel invisible to rays while keeping its
	// material. Transparent voxels are not solid.
	FlagTransparent
)

// String returns a '|' separated list of set flags.
func (f Flags) String() string {
	if f == 0 {
		return "None"
	}
	var parts []string
	if f&FlagEmissive != 0 {
		parts = append(parts, "Emissive")
	}
	if f&FlagAnimated != 0 {
		parts = append(parts, "Animated")
	}
	if f&FlagFalling != 0 {
		parts = append(parts, "Falling")
	}
	if f&FlagTransparent != 0 {
		parts = append(parts, "Transparent")
	}
	if rest := f &^ (FlagEmissive | FlagAnimated | FlagFalling | FlagTransparent); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%02x", uint8(rest)))
	}
	return strings.Join(parts, "|")
}

// Voxel is the smallest unit of the world: a material plus flags.
type Voxel struct {
	Material Material
	Flags    Flags
}

// Solid reports whether rays stop at this voxel.
func (v Voxel) Solid() bool {
	return v.Material != Empty && v.Flags&FlagTransparent == 0
}

// IsEmpty reports whether the voxel holds no material.
func (v Voxel) IsEmpty() bool {
	return v.Material == Empty
}

// Packed returns the 16-bit device encoding: material in the low byte, flags
// in the high byte.
func (v Voxel) Packed() uint16 {
	return uint16(v.Material) | uint16(v.Flags)<<8
}

// Unpack decodes a 16-bit device encoding.
func Unpack(p uint16) Voxel {
	return Voxel{Material: Material(p & 0xFF), Flags: Flags(p >> 8)} //nolint:gosec // masked to 8 bits
}

// BytesPerVoxel is the size of one voxel in device memory.
const BytesPerVoxel = 2

// PackInto writes voxels into dst in device encoding (little-endian uint16).
// dst must hold at least len(voxels)*BytesPerVoxel bytes.
func PackInto(dst []byte, voxels []Voxel) {
	for i, v := range voxels {
		binary.LittleEndian.PutUint16(dst[i*BytesPerVoxel:], v.Packed())
	}
}

// UnpackFrom decodes device-encoded bytes into dst.
func UnpackFrom(dst []Voxel, src []byte) {
	n := len(src) / BytesPerVoxel
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = Unpack(binary.LittleEndian.Uint16(src[i*BytesPerVoxel:]))
	}
}
