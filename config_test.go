package voxrt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gogpu/voxrt/voxel"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, voxel.Extent{X: 128, Y: 128, Z: 128}, cfg.Extent())
	require.Equal(t, BackendAuto, cfg.Backend)
	require.Zero(t, cfg.Interval())
	require.True(t, cfg.Settings().Shadows)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{
		"world_extent": [64, 32, 16],
		"chunk_size": 8,
		"max_gpu_buffer_bytes": 1048576,
		"backend": "host",
		"width": 320,
		"height": 200,
		"max_steps": 96,
		"shadows": false,
		"show_ray_steps": true,
		"automata": true,
		"workers": 2,
		"fps": 50
	}`))
	require.NoError(t, err)
	require.Equal(t, voxel.Extent{X: 64, Y: 32, Z: 16}, cfg.Extent())
	require.Equal(t, 8, cfg.ChunkSize)
	require.Equal(t, uint64(1<<20), cfg.MaxGPUBufferBytes)
	require.Equal(t, BackendHost, cfg.Backend)
	require.Equal(t, 20*time.Millisecond, cfg.Interval())
	require.True(t, cfg.Automata)

	// Keys missing from the document keep their defaults.
	require.Equal(t, DefaultConfig().MaxPendingEdits, cfg.MaxPendingEdits)
	require.Equal(t, DefaultConfig().ExhaustionThreshold, cfg.ExhaustionThreshold)

	s := cfg.Settings()
	require.Equal(t, 96, s.MaxSteps)
	require.False(t, s.Shadows)
	require.True(t, s.ShowRaySteps)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"syntax", `{"chunk_size": }`},
		{"wrong type", `{"chunk_size": "big"}`},
		{"zero extent", `{"world_extent": [0, 16, 16]}`},
		{"negative chunk", `{"chunk_size": -8}`},
		{"negative queue", `{"max_pending_edits": -1}`},
		{"negative threshold", `{"exhaustion_threshold": -1}`},
		{"zero width", `{"width": 0}`},
		{"negative steps", `{"max_steps": -5}`},
		{"negative workers", `{"workers": -1}`},
		{"negative fps", `{"fps": -30}`},
		{"unknown backend", `{"backend": "metal"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.json))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxrt.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backend": "host", "width": 64, "height": 48}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 64, cfg.Width)
	require.Equal(t, 48, cfg.Height)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
