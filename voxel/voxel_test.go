package voxel

import (
	"errors"
	"sync"
	"testing"
)

func TestVoxel_Solid(t *testing.T) {
	tests := []struct {
		name string
		v    Voxel
		want bool
	}{
		{"empty", Voxel{}, false},
		{"stone", Voxel{Material: 1}, true},
		{"emissive", Voxel{Material: 8, Flags: FlagEmissive}, true},
		{"transparent", Voxel{Material: 5, Flags: FlagTransparent}, false},
		{"flags without material", Voxel{Flags: FlagFalling}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Solid(); got != tt.want {
				t.Errorf("Solid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVoxel_PackedLayout(t *testing.T) {
	v := Voxel{Material: 0x2A, Flags: FlagEmissive | FlagFalling}
	if got := v.Packed(); got != 0x052A {
		t.Errorf("Packed() = %#04x, want 0x052a", got)
	}
	buf := make([]byte, 2*BytesPerVoxel)
	PackInto(buf, []Voxel{v, {Material: 1}})
	if buf[0] != 0x2A || buf[1] != 0x05 || buf[2] != 0x01 || buf[3] != 0 {
		t.Errorf("PackInto bytes = % x", buf)
	}
	out := make([]Voxel, 2)
	UnpackFrom(out, buf)
	if out[0] != v || out[1] != (Voxel{Material: 1}) {
		t.Errorf("UnpackFrom = %+v", out)
	}
}

func TestFlags_String(t *testing.T) {
	if got := (FlagEmissive | FlagTransparent).String(); got != "Emissive|Transparent" {
		t.Errorf("String() = %q", got)
	}
	if got := Flags(0).String(); got != "None" {
		t.Errorf("String() = %q", got)
	}
}

func TestKeyOf(t *testing.T) {
	tests := []struct {
		c    Coord
		want ChunkKey
	}{
		{C(0, 0, 0), ChunkKey{0, 0, 0}},
		{C(7, 7, 7), ChunkKey{0, 0, 0}},
		{C(8, 0, 15), ChunkKey{1, 0, 1}},
		{C(-1, 0, 0), ChunkKey{-1, 0, 0}},
	}
	for _, tt := range tests {
		if got := KeyOf(tt.c, 8); got != tt.want {
			t.Errorf("KeyOf(%s) = %v, want %v", tt.c, got, tt.want)
		}
	}
}

// =============================================================================
// EditQueue
// =============================================================================

func TestEditQueue_Overflow(t *testing.T) {
	q := NewEditQueue(3)
	for i := 0; i < 3; i++ {
		if err := q.Push(Edit{Coord: C(i, 0, 0)}); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}
	if err := q.Push(Edit{}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Push over limit err = %v, want ErrQueueFull", err)
	}
	if q.Len() != 3 {
		t.Errorf("Len = %d, want 3", q.Len())
	}

	got := q.Drain()
	for i, e := range got {
		if e.Coord.X != i {
			t.Errorf("Drain order: [%d] = %s", i, e.Coord)
		}
	}
	if q.Len() != 0 {
		t.Error("queue should be empty after Drain")
	}
}

func TestEditQueue_PushAllAtomic(t *testing.T) {
	q := NewEditQueue(4)
	_ = q.Push(Edit{})
	if err := q.PushAll(make([]Edit, 4)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
	if q.Len() != 1 {
		t.Errorf("failed PushAll must not enqueue anything, Len = %d", q.Len())
	}
	if err := q.PushAll(make([]Edit, 3)); err != nil {
		t.Errorf("PushAll within limit: %v", err)
	}
}

func TestEditQueue_ConcurrentProducers(t *testing.T) {
	q := NewEditQueue(0)
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = q.Push(Edit{})
			}
		}()
	}
	wg.Wait()
	if got := len(q.Drain()); got != 1000 {
		t.Errorf("drained %d edits, want 1000", got)
	}
}

// =============================================================================
// Shapes and generation
// =============================================================================

func TestSphereEdits(t *testing.T) {
	if got := len(SphereEdits(C(0, 0, 0), 0, Voxel{Material: 1})); got != 1 {
		t.Errorf("radius 0 sphere has %d voxels, want 1", got)
	}
	if got := len(SphereEdits(C(0, 0, 0), 1, Voxel{Material: 1})); got != 7 {
		t.Errorf("radius 1 sphere has %d voxels, want 7", got)
	}
	if SphereEdits(C(0, 0, 0), -1, Voxel{}) != nil {
		t.Error("negative radius should produce no edits")
	}
}

func TestBoxEdits(t *testing.T) {
	edits := BoxEdits(C(2, 2, 2), C(0, 0, 0), Voxel{Material: 1})
	if len(edits) != 27 {
		t.Fatalf("len = %d, want 27", len(edits))
	}
	if edits[0].Coord != C(0, 0, 0) || edits[26].Coord != C(2, 2, 2) {
		t.Errorf("box order: first %s last %s", edits[0].Coord, edits[26].Coord)
	}
}

func TestGenerate_PanicIsError(t *testing.T) {
	edits, err := Generate(Extent{16, 16, 16}, 8, func(c Coord) (Voxel, bool) {
		if c == C(9, 9, 9) {
			panic("bad coordinate")
		}
		return Voxel{Material: 1}, true
	})
	if err == nil {
		t.Fatal("want error from panicking generator")
	}
	if edits != nil {
		t.Errorf("got %d edits, want none", len(edits))
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	ground := func(c Coord) (Voxel, bool) {
		if c.Y <= (c.X+c.Z)%4 {
			return Voxel{Material: 2}, true
		}
		return Voxel{}, false
	}
	e := Extent{20, 8, 12}
	a, err := Generate(e, 8, ground)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Generate(e, 8, ground)
	if len(a) == 0 || len(a) != len(b) {
		t.Fatalf("len(a) = %d, len(b) = %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("edit %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
	for _, ed := range a {
		if !e.Contains(ed.Coord) {
			t.Fatalf("edit outside extent: %s", ed.Coord)
		}
	}
	// Edits are grouped by chunk in z-y-x chunk order.
	prev := -1
	for _, ed := range a {
		k := KeyOf(ed.Coord, 8)
		idx := k.X + k.Y*3 + k.Z*3
		if idx < prev {
			t.Fatalf("edit %s out of chunk order", ed.Coord)
		}
		prev = idx
	}
}

// =============================================================================
// Automata
// =============================================================================

func TestAutomata_Fall(t *testing.T) {
	w, _ := NewWorld(Extent{4, 4, 4}, 4)
	sand := Voxel{Material: 4, Flags: FlagFalling}
	_ = w.Set(C(1, 3, 1), sand)
	_ = w.Set(C(1, 2, 1), sand)

	a := Automata{}
	for i := 0; i < 5; i++ {
		w.Apply(a.Step(w))
	}
	if w.Get(C(1, 0, 1)) != sand || w.Get(C(1, 1, 1)) != sand {
		t.Errorf("sand column did not settle at the floor")
	}
	if !w.Get(C(1, 2, 1)).IsEmpty() || !w.Get(C(1, 3, 1)).IsEmpty() {
		t.Errorf("sand left behind")
	}
	if edits := a.Step(w); len(edits) != 0 {
		t.Errorf("settled world produced %d edits", len(edits))
	}
}

func TestAutomata_DiagonalDeterministic(t *testing.T) {
	build := func() *World {
		w, _ := NewWorld(Extent{5, 5, 5}, 5)
		_ = w.Set(C(2, 0, 2), Voxel{Material: 1})
		_ = w.Set(C(2, 1, 2), Voxel{Material: 4, Flags: FlagFalling})
		return w
	}
	a := Automata{Diagonal: true}
	w1, w2 := build(), build()
	e1, e2 := a.Step(w1), a.Step(w2)
	if len(e1) != 2 || len(e1) != len(e2) {
		t.Fatalf("edits: %d vs %d", len(e1), len(e2))
	}
	for i := range e1 {
		if e1[i] != e2[i] {
			t.Errorf("edit %d differs", i)
		}
	}
	// -X diagonal is tried first.
	if e1[1].Coord != C(1, 0, 2) {
		t.Errorf("sand slid to %s, want (1,0,2)", e1[1].Coord)
	}
}

// =============================================================================
// Volume / ChunkSet / Palette
// =============================================================================

func TestVolumeOf(t *testing.T) {
	w, _ := NewWorld(Extent{10, 10, 10}, 8)
	_ = w.Set(C(9, 9, 9), Voxel{Material: 3})
	_ = w.Set(C(0, 0, 0), Voxel{Material: 1})
	vol := VolumeOf(w)
	if vol.At(9, 9, 9).Material != 3 || vol.At(0, 0, 0).Material != 1 {
		t.Error("volume does not match world")
	}
	if !vol.At(10, 0, 0).IsEmpty() || !vol.At(-1, 0, 0).IsEmpty() {
		t.Error("out-of-range reads must be empty")
	}
	c := vol.Clone()
	c.StoreChunk(C(0, 0, 0), 1, []Voxel{{Material: 9}})
	if vol.At(0, 0, 0).Material != 1 {
		t.Error("Clone must not alias the original")
	}
}

func TestChunkSet_KeysAndClear(t *testing.T) {
	s := NewChunkSet(3, 2, 2)
	if s == nil || !s.IsEmpty() {
		t.Fatal("new set should be empty")
	}
	s.Add(ChunkKey{2, 1, 1})
	s.Add(ChunkKey{0, 0, 0})
	s.Add(ChunkKey{9, 9, 9})
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	keys := s.Keys()
	if len(keys) != 2 || keys[0] != (ChunkKey{}) || keys[1] != (ChunkKey{2, 1, 1}) {
		t.Errorf("Keys = %v", keys)
	}
	s.Clear()
	if !s.IsEmpty() {
		t.Error("Clear should empty the set")
	}
	if NewChunkSet(0, 1, 1) != nil {
		t.Error("NewChunkSet with zero dim should be nil")
	}
}

func TestDefaultPalette(t *testing.T) {
	p := DefaultPalette()
	if p.Color(Empty).A != 0 {
		t.Error("empty material should be transparent")
	}
	for m := 1; m < 256; m++ {
		if p.Color(Material(m)).A == 0 {
			t.Errorf("material %d has zero alpha", m)
		}
	}
	if len(p.Bytes()) != 1024 {
		t.Errorf("Bytes len = %d", len(p.Bytes()))
	}
}
