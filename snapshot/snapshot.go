// Package snapshot persists voxel worlds.
//
// A snapshot is a small uncompressed header followed by a zstd stream of
// chunk records:
//
//	header  "VXRT" | version u16 | reserved u16 | extent 3×u32 | chunk size u32 | records u32
//	record  key 3×i32 | packed voxels (size³ × 2 bytes) | xxhash64 of key and voxels
//
// All integers are little-endian. Only chunks holding at least one non-empty
// voxel are written; all other chunks load empty.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/gogpu/voxrt/voxel"
)

// Magic identifies snapshot files.
const Magic = "VXRT"

// Version is the format version written by Save.
const Version = 1

// maxChunkSize bounds the chunk size a snapshot may declare.
const maxChunkSize = 256

// MaxWorldBytes bounds the voxel memory a snapshot may declare, counting
// edge chunks at full size. Larger headers are rejected before any world
// is allocated.
const MaxWorldBytes = 1 << 30

var (
	// ErrCorrupt is returned when a snapshot fails validation.
	ErrCorrupt = errors.New("snapshot: corrupt data")

	// ErrVersion is returned for snapshots written by a newer format.
	ErrVersion = errors.New("snapshot: unsupported version")
)

type header struct {
	Magic     [4]byte
	Version   uint16
	Reserved  uint16
	Extent    [3]uint32
	ChunkSize uint32
	Records   uint32
}

// Info describes a snapshot without its voxel data.
type Info struct {
	Version   int
	Extent    voxel.Extent
	ChunkSize int
	Chunks    int
}

func (i Info) String() string {
	return fmt.Sprintf("Snapshot[v%d %s chunk=%d records=%d]", i.Version, i.Extent, i.ChunkSize, i.Chunks)
}

// Save writes w to out. Chunks are written in world order, so equal worlds
// produce equal snapshots.
func Save(out io.Writer, w *voxel.World) error {
	var records []voxel.ChunkSnapshot
	for _, ch := range w.Chunks() {
		s := ch.Snapshot()
		if hasContent(s.Data) {
			records = append(records, s)
		}
	}

	ext := w.Extent()
	h := header{
		Version:   Version,
		Extent:    [3]uint32{uint32(ext.X), uint32(ext.Y), uint32(ext.Z)}, //nolint:gosec // extents are positive
		ChunkSize: uint32(w.ChunkSize()),                                  //nolint:gosec // chunk size is positive
		Records:   uint32(len(records)),                                   //nolint:gosec // bounded by chunk count
	}
	copy(h.Magic[:], Magic)
	if err := binary.Write(out, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("snapshot: write header: %w", err)
	}

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return fmt.Errorf("snapshot: create encoder: %w", err)
	}
	var key [12]byte
	var sum [8]byte
	for _, r := range records {
		putKey(key[:], r.Key)
		d := xxhash.New()
		_, _ = d.Write(key[:])
		_, _ = d.Write(r.Data)
		binary.LittleEndian.PutUint64(sum[:], d.Sum64())
		for _, part := range [][]byte{key[:], r.Data, sum[:]} {
			if _, err := enc.Write(part); err != nil {
				_ = enc.Close()
				return fmt.Errorf("snapshot: write %s: %w", r.Key, err)
			}
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("snapshot: finish stream: %w", err)
	}
	return nil
}

// Load reads a snapshot into a new world. Every loaded chunk is dirty, so
// the next sync uploads the whole world.
func Load(in io.Reader) (*voxel.World, error) {
	info, err := readHeader(in)
	if err != nil {
		return nil, err
	}
	w, err := voxel.NewWorld(info.Extent, info.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	dec, err := zstd.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer dec.Close()

	size := info.ChunkSize
	data := make([]byte, size*size*size*voxel.BytesPerVoxel)
	voxels := make([]voxel.Voxel, size*size*size)
	var key [12]byte
	var sum [8]byte
	seen := make(map[voxel.ChunkKey]bool, info.Chunks)
	for i := range info.Chunks {
		for _, part := range [][]byte{key[:], data, sum[:]} {
			if _, err := io.ReadFull(dec, part); err != nil {
				return nil, fmt.Errorf("%w: record %d of %d: %w", ErrCorrupt, i, info.Chunks, err)
			}
		}
		d := xxhash.New()
		_, _ = d.Write(key[:])
		_, _ = d.Write(data)
		if d.Sum64() != binary.LittleEndian.Uint64(sum[:]) {
			return nil, fmt.Errorf("%w: record %d checksum mismatch", ErrCorrupt, i)
		}
		k := getKey(key[:])
		if seen[k] {
			return nil, fmt.Errorf("%w: duplicate record for %s", ErrCorrupt, k)
		}
		seen[k] = true
		voxel.UnpackFrom(voxels, data)
		if err := w.LoadChunk(k, voxels); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}
	return w, nil
}

// ReadInfo reads only the snapshot header.
func ReadInfo(in io.Reader) (Info, error) {
	return readHeader(in)
}

func readHeader(in io.Reader) (Info, error) {
	var h header
	if err := binary.Read(in, binary.LittleEndian, &h); err != nil {
		return Info{}, fmt.Errorf("%w: header: %w", ErrCorrupt, err)
	}
	if string(h.Magic[:]) != Magic {
		return Info{}, fmt.Errorf("%w: bad magic %q", ErrCorrupt, h.Magic[:])
	}
	if h.Version == 0 || h.Version > Version {
		return Info{}, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	if h.ChunkSize == 0 || h.ChunkSize > maxChunkSize {
		return Info{}, fmt.Errorf("%w: chunk size %d", ErrCorrupt, h.ChunkSize)
	}
	info := Info{
		Version:   int(h.Version),
		Extent:    voxel.Extent{X: int(h.Extent[0]), Y: int(h.Extent[1]), Z: int(h.Extent[2])},
		ChunkSize: int(h.ChunkSize),
		Chunks:    int(h.Records),
	}
	if !info.Extent.Valid() {
		return Info{}, fmt.Errorf("%w: extent %s", ErrCorrupt, info.Extent)
	}
	if !fits(info.Extent, info.ChunkSize) {
		return Info{}, fmt.Errorf("%w: extent %s exceeds %d bytes", ErrCorrupt, info.Extent, MaxWorldBytes)
	}
	grid := ceilDiv(info.Extent.X, info.ChunkSize) * ceilDiv(info.Extent.Y, info.ChunkSize) * ceilDiv(info.Extent.Z, info.ChunkSize)
	if info.Chunks > grid {
		return Info{}, fmt.Errorf("%w: %d records for %d chunks", ErrCorrupt, info.Chunks, grid)
	}
	return info, nil
}

// fits reports whether a world of ext, padded to whole chunks, stays within
// MaxWorldBytes.
func fits(ext voxel.Extent, chunkSize int) bool {
	total := uint64(voxel.BytesPerVoxel)
	for _, n := range [3]int{ext.X, ext.Y, ext.Z} {
		padded := uint64(ceilDiv(n, chunkSize) * chunkSize) //nolint:gosec // positive after Valid
		if padded > MaxWorldBytes/total {
			return false
		}
		total *= padded
	}
	return true
}

// SaveFile writes w to path.
func SaveFile(path string, w *voxel.World) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := Save(bw, w); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("snapshot: %w", err)
	}
	return f.Close()
}

// LoadFile reads a world from path.
func LoadFile(path string) (*voxel.World, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer f.Close()
	return Load(bufio.NewReader(f))
}

// Fingerprint returns a content hash of the world: extent, chunk size and
// every voxel. Worlds with equal contents have equal fingerprints.
func Fingerprint(w *voxel.World) uint64 {
	var buf bytes.Buffer
	ext := w.Extent()
	_ = binary.Write(&buf, binary.LittleEndian, [4]int32{int32(ext.X), int32(ext.Y), int32(ext.Z), int32(w.ChunkSize())}) //nolint:gosec // world sizes fit int32
	d := xxhash.New()
	_, _ = d.Write(buf.Bytes())
	for _, ch := range w.Chunks() {
		_, _ = d.Write(ch.Snapshot().Data)
	}
	return d.Sum64()
}

func hasContent(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return true
		}
	}
	return false
}

func putKey(dst []byte, k voxel.ChunkKey) {
	binary.LittleEndian.PutUint32(dst[0:], uint32(int32(k.X))) //nolint:gosec // chunk keys fit int32
	binary.LittleEndian.PutUint32(dst[4:], uint32(int32(k.Y))) //nolint:gosec // chunk keys fit int32
	binary.LittleEndian.PutUint32(dst[8:], uint32(int32(k.Z))) //nolint:gosec // chunk keys fit int32
}

func getKey(src []byte) voxel.ChunkKey {
	return voxel.ChunkKey{
		X: int(int32(binary.LittleEndian.Uint32(src[0:]))), //nolint:gosec // round trip of putKey
		Y: int(int32(binary.LittleEndian.Uint32(src[4:]))), //nolint:gosec // round trip of putKey
		Z: int(int32(binary.LittleEndian.Uint32(src[8:]))), //nolint:gosec // round trip of putKey
	}
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }
