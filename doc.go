// Package voxrt renders large, editable voxel worlds by raytracing chunks
// that live in device memory.
//
// # Overview
//
// A world is a fixed extent of voxels split into chunks. Edits are queued
// from any goroutine and applied at the start of each frame. Every chunk
// an edit touched is uploaded to the device before the tracer runs, so a
// frame always sees a consistent world. When device memory runs out the
// previous contents of a chunk keep being rendered and the upload is
// retried; when that persists the render resolution drops until memory is
// available again.
//
// # Quick Start
//
//	cfg := voxrt.DefaultConfig()
//	cfg.Backend = voxrt.BackendHost
//
//	r, err := voxrt.New(cfg, voxrt.WithPresenter(&frame.PNGPresenter{Dir: "out"}))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	r.Submit(voxel.SphereEdits(voxel.C(64, 64, 64), 20, voxel.Voxel{Material: 1})...)
//	cam := trace.Orbit(mgl32.Vec3{64, 64, 64}, 160, 35, 30)
//	if _, err := r.Frame(ctx, cam); err != nil {
//	    log.Fatal(err)
//	}
//
// # Architecture
//
// The library is organized into:
//   - voxel: world, chunks, edits, generation and the falling-voxel automata
//   - device: devices, memory budget and the chunk buffer manager
//   - trace: camera, voxel traversal, shading and the CPU and GPU tracers
//   - frame: the per-frame state machine, presenters and metrics
//   - snapshot, export: world persistence and GLB export
//
// # Coordinate System
//
// Voxel (x, y, z) occupies the unit cube [x, x+1) × [y, y+1) × [z, z+1).
// Y is up. Frames have their origin at the top-left.
package voxrt

// Version is the current version of the library.
const Version = "0.1.0"
