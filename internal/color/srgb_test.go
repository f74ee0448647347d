package color

import (
	"image/color"
	"math"
	"testing"
)

func TestDecode_Endpoints(t *testing.T) {
	if Decode(0) != 0 || Decode(255) != 1 {
		t.Errorf("Decode(0), Decode(255) = %v, %v; want 0, 1", Decode(0), Decode(255))
	}
	// Mid grey is far darker than half in linear light.
	if got := Decode(128); math.Abs(float64(got)-0.2158605) > 1e-5 {
		t.Errorf("Decode(128) = %v, want ~0.2159", got)
	}
}

func TestDecode_MatchesFormula(t *testing.T) {
	for i := 0; i < 256; i++ {
		want := decode(float64(i) / 255)
		if got := float64(Decode(uint8(i))); math.Abs(got-want) > 1e-6 {
			t.Fatalf("Decode(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		if got := Encode(Decode(uint8(i))); got != uint8(i) {
			t.Fatalf("Encode(Decode(%d)) = %d", i, got)
		}
	}
}

func TestEncode_Clamps(t *testing.T) {
	tests := []struct {
		in   float32
		want uint8
	}{
		{-1, 0},
		{0, 0},
		{float32(math.NaN()), 0},
		{1, 255},
		{3, 255},
		{float32(math.Inf(1)), 255},
	}
	for _, tt := range tests {
		if got := Encode(tt.in); got != tt.want {
			t.Errorf("Encode(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestToLinear(t *testing.T) {
	c := color.RGBA{R: 255, G: 128, B: 0, A: 51}
	l := ToLinear(c)
	if l[0] != 1 || l[2] != 0 {
		t.Errorf("ToLinear(%v) = %v", c, l)
	}
	if math.Abs(float64(l[3])-0.2) > 1e-6 {
		t.Errorf("alpha = %v, want 0.2", l[3])
	}
	if back := FromLinear(l); back != c {
		t.Errorf("FromLinear(ToLinear(%v)) = %v", c, back)
	}
}
