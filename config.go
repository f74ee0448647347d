package voxrt

import (
	"fmt"
	"os"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/gogpu/voxrt/frame"
	"github.com/gogpu/voxrt/trace"
	"github.com/gogpu/voxrt/voxel"
)

// Backend selects the device the renderer uploads chunks to.
type Backend string

const (
	// BackendHost keeps chunk buffers in host memory and traces on the CPU.
	BackendHost Backend = "host"

	// BackendVulkan opens a Vulkan device and traces with the compute
	// shader. Creation fails when no adapter is available.
	BackendVulkan Backend = "vulkan"

	// BackendAuto tries Vulkan and falls back to the host device.
	BackendAuto Backend = "auto"
)

// Config describes a renderer. The zero value is not valid; start from
// DefaultConfig.
type Config struct {
	WorldExtent [3]int `json:"world_extent"`
	ChunkSize   int    `json:"chunk_size"`

	// MaxGPUBufferBytes caps device memory used for chunk buffers; 0 is
	// unlimited.
	MaxGPUBufferBytes uint64 `json:"max_gpu_buffer_bytes"`

	// MaxPendingEdits bounds the edit queue; 0 is unbounded.
	MaxPendingEdits int `json:"max_pending_edits"`

	// ExhaustionThreshold is the number of consecutive exhausted frames
	// before the render scale is lowered.
	ExhaustionThreshold int `json:"exhaustion_threshold"`

	Backend Backend `json:"backend"`

	Width  int `json:"width"`
	Height int `json:"height"`

	// MaxSteps bounds voxels visited per ray; 0 derives it from the extent.
	MaxSteps     int  `json:"max_steps"`
	Shadows      bool `json:"shadows"`
	ShowRaySteps bool `json:"show_ray_steps"`

	// Automata steps the falling-voxel automata once per frame.
	Automata bool `json:"automata"`

	// Workers is the CPU tracer's worker count; 0 uses GOMAXPROCS.
	Workers int `json:"workers"`

	// FPS paces Run; 0 renders frames back to back.
	FPS int `json:"fps"`
}

// DefaultConfig returns a 128³ world in 16³ chunks rendered at 640x360.
func DefaultConfig() Config {
	return Config{
		WorldExtent:         [3]int{128, 128, 128},
		ChunkSize:           16,
		MaxPendingEdits:     1 << 16,
		ExhaustionThreshold: frame.DefaultExhaustionThreshold,
		Backend:             BackendAuto,
		Width:               640,
		Height:              360,
		Shadows:             true,
	}
}

// LoadConfig reads a JSON config file. Keys missing from the file keep
// their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("voxrt: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes JSON over DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.WorldExtent[0] <= 0 || c.WorldExtent[1] <= 0 || c.WorldExtent[2] <= 0:
		return fmt.Errorf("%w: world_extent %v must be positive", ErrInvalidConfig, c.WorldExtent)
	case c.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk_size %d must be positive", ErrInvalidConfig, c.ChunkSize)
	case c.MaxPendingEdits < 0:
		return fmt.Errorf("%w: max_pending_edits %d is negative", ErrInvalidConfig, c.MaxPendingEdits)
	case c.ExhaustionThreshold < 0:
		return fmt.Errorf("%w: exhaustion_threshold %d is negative", ErrInvalidConfig, c.ExhaustionThreshold)
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: size %dx%d must be positive", ErrInvalidConfig, c.Width, c.Height)
	case c.MaxSteps < 0:
		return fmt.Errorf("%w: max_steps %d is negative", ErrInvalidConfig, c.MaxSteps)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers %d is negative", ErrInvalidConfig, c.Workers)
	case c.FPS < 0:
		return fmt.Errorf("%w: fps %d is negative", ErrInvalidConfig, c.FPS)
	}
	switch c.Backend {
	case BackendHost, BackendVulkan, BackendAuto:
	default:
		return fmt.Errorf("%w: backend %q (want host, vulkan or auto)", ErrInvalidConfig, c.Backend)
	}
	return nil
}

// Extent returns WorldExtent as a voxel extent.
func (c Config) Extent() voxel.Extent {
	return voxel.Extent{X: c.WorldExtent[0], Y: c.WorldExtent[1], Z: c.WorldExtent[2]}
}

// Settings returns the trace settings the config selects.
func (c Config) Settings() trace.Settings {
	s := trace.DefaultSettings()
	s.MaxSteps = c.MaxSteps
	s.Shadows = c.Shadows
	s.ShowRaySteps = c.ShowRaySteps
	return s
}

// Interval returns the frame interval for FPS.
func (c Config) Interval() time.Duration {
	if c.FPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.FPS)
}
