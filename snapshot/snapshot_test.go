package snapshot

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/voxrt/voxel"
)

func testWorld(t *testing.T) *voxel.World {
	t.Helper()
	w, err := voxel.NewWorld(voxel.Extent{X: 20, Y: 12, Z: 9}, 8)
	require.NoError(t, err)
	w.Apply(voxel.BoxEdits(voxel.C(0, 0, 0), voxel.C(19, 1, 8), voxel.Voxel{Material: 1}))
	w.Apply(voxel.SphereEdits(voxel.C(10, 6, 4), 3, voxel.Voxel{Material: 4, Flags: voxel.FlagFalling}))
	require.NoError(t, w.Set(voxel.C(18, 11, 8), voxel.Voxel{Material: 8, Flags: voxel.FlagEmissive}))
	return w
}

func encode(t *testing.T, h header, body []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	copy(h.Magic[:], Magic)
	require.NoError(t, binary.Write(&out, binary.LittleEndian, &h))
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	out.Write(enc.EncodeAll(body, nil))
	return out.Bytes()
}

func record(key voxel.ChunkKey, data []byte, corrupt bool) []byte {
	var k [12]byte
	putKey(k[:], key)
	sum := xxhash.Sum64(append(append([]byte{}, k[:]...), data...))
	if corrupt {
		sum++
	}
	out := append(k[:], data...)
	return binary.LittleEndian.AppendUint64(out, sum)
}

// =============================================================================
// Round trip
// =============================================================================

func TestSaveLoad(t *testing.T) {
	w := testWorld(t)

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, w))

	info, err := ReadInfo(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, Version, info.Version)
	require.Equal(t, w.Extent(), info.Extent)
	require.Equal(t, 8, info.ChunkSize)

	got, err := Load(&buf)
	require.NoError(t, err)
	require.Equal(t, w.Extent(), got.Extent())
	require.Equal(t, w.ChunkSize(), got.ChunkSize())
	require.Equal(t, w.SolidCount(), got.SolidCount())
	require.Equal(t, Fingerprint(w), Fingerprint(got))

	require.Equal(t, voxel.Voxel{Material: 8, Flags: voxel.FlagEmissive}, got.Get(voxel.C(18, 11, 8)))
	require.Equal(t, voxel.Voxel{Material: 4, Flags: voxel.FlagFalling}, got.Get(voxel.C(10, 6, 4)))

	nonEmpty := 0
	for _, ch := range w.Chunks() {
		if hasContent(ch.Snapshot().Data) {
			nonEmpty++
		}
	}
	require.Equal(t, nonEmpty, info.Chunks)
	require.Len(t, got.DirtyChunks(), nonEmpty)
}

func TestSaveLoad_EmptyWorld(t *testing.T) {
	w, err := voxel.NewWorld(voxel.Extent{X: 4, Y: 4, Z: 4}, 4)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, w))

	info, err := ReadInfo(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Zero(t, info.Chunks)

	got, err := Load(&buf)
	require.NoError(t, err)
	require.Zero(t, got.SolidCount())
	require.Empty(t, got.DirtyChunks())
}

func TestSaveLoadFile(t *testing.T) {
	w := testWorld(t)
	path := filepath.Join(t.TempDir(), "world.vxrt")

	require.NoError(t, SaveFile(path, w))
	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, Fingerprint(w), Fingerprint(got))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.vxrt"))
	require.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	a := testWorld(t)
	b := testWorld(t)
	require.Equal(t, Fingerprint(a), Fingerprint(b))

	require.NoError(t, b.Set(voxel.C(0, 5, 0), voxel.Voxel{Material: 2}))
	require.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

// =============================================================================
// Corruption
// =============================================================================

func TestLoad_Corrupt(t *testing.T) {
	var valid bytes.Buffer
	require.NoError(t, Save(&valid, testWorld(t)))

	chunk := make([]byte, 4*4*4*voxel.BytesPerVoxel)
	chunk[0] = 1
	small := header{Version: Version, Extent: [3]uint32{8, 8, 8}, ChunkSize: 4}

	withRecords := func(h header, n uint32) header {
		h.Records = n
		return h
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty input", nil},
		{"short header", []byte("VXRT\x01")},
		{"bad magic", append([]byte("NOPE"), valid.Bytes()[4:]...)},
		{"truncated body", valid.Bytes()[:valid.Len()-12]},
		{"zero chunk size", encode(t, header{Version: Version, Extent: [3]uint32{8, 8, 8}}, nil)},
		{"zero extent", encode(t, header{Version: Version, ChunkSize: 4}, nil)},
		{"too many records", encode(t, withRecords(small, 9), nil)},
		{"huge extent", encode(t, header{Version: Version, Extent: [3]uint32{1 << 16, 1 << 16, 1 << 16}, ChunkSize: 256}, nil)},
		{"max extent", encode(t, header{Version: Version, Extent: [3]uint32{1<<32 - 1, 1<<32 - 1, 1<<32 - 1}, ChunkSize: 1}, nil)},
		{"missing record", encode(t, withRecords(small, 2), record(voxel.ChunkKey{}, chunk, false))},
		{"checksum mismatch", encode(t, withRecords(small, 1), record(voxel.ChunkKey{}, chunk, true))},
		{"key outside grid", encode(t, withRecords(small, 1), record(voxel.ChunkKey{X: 5}, chunk, false))},
		{"duplicate key", encode(t, withRecords(small, 2), append(
			record(voxel.ChunkKey{X: 1}, chunk, false),
			record(voxel.ChunkKey{X: 1}, chunk, false)...))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(bytes.NewReader(tt.data))
			require.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestReadInfo_WorldSizeLimit(t *testing.T) {
	// 512^3 voxels at two bytes each is 256 MiB.
	ok := header{Version: Version, Extent: [3]uint32{512, 512, 512}, ChunkSize: 64}
	info, err := ReadInfo(bytes.NewReader(encode(t, ok, nil)))
	require.NoError(t, err)
	require.Equal(t, voxel.Extent{X: 512, Y: 512, Z: 512}, info.Extent)

	// 401x1000x1000 fits unpadded; padded to 600 columns it does not.
	padded := header{Version: Version, Extent: [3]uint32{401, 1000, 1000}, ChunkSize: 200}
	_, err = ReadInfo(bytes.NewReader(encode(t, padded, nil)))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestLoad_HandBuiltRecord(t *testing.T) {
	chunk := make([]byte, 4*4*4*voxel.BytesPerVoxel)
	binary.LittleEndian.PutUint16(chunk[2:], voxel.Voxel{Material: 3, Flags: voxel.FlagAnimated}.Packed())
	h := header{Version: Version, Extent: [3]uint32{8, 8, 8}, ChunkSize: 4, Records: 1}

	w, err := Load(bytes.NewReader(encode(t, h, record(voxel.ChunkKey{X: 1, Y: 0, Z: 1}, chunk, false))))
	require.NoError(t, err)
	require.Equal(t, voxel.Voxel{Material: 3, Flags: voxel.FlagAnimated}, w.Get(voxel.C(5, 0, 4)))
	require.Equal(t, 1, w.SolidCount())
}

func TestLoad_Version(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Save(&buf, testWorld(t)))
	data := buf.Bytes()

	binary.LittleEndian.PutUint16(data[4:], Version+1)
	_, err := Load(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrVersion)

	binary.LittleEndian.PutUint16(data[4:], 0)
	_, err = Load(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrVersion)
}
