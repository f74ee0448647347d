// Package trace casts primary rays through a voxel volume.
//
// Traversal is a 3D DDA over unit voxels: each ray is clipped to the volume
// bounds and then stepped one voxel boundary at a time until it reaches a
// solid voxel or leaves the volume. Hits are shaded with the material palette,
// a gradient normal and a directional sun; misses sample a sky gradient.
//
// Frames are produced by a Dispatcher. CPUDispatcher splits the image into
// tiles on a worker pool; GPUDispatcher runs the same traversal as a WGSL
// compute shader on a wgpu HAL device:
//
//	d := trace.NewCPUDispatcher(0)
//	defer d.Close()
//	f, err := d.Dispatch(ctx, trace.Request{
//		Scene:    manager,
//		Camera:   trace.LookAt(eye, target),
//		Width:    640,
//		Height:   360,
//		Settings: trace.DefaultSettings(),
//	})
//
// All traversal decisions, including boundary ties, are deterministic:
// identical volumes and cameras give identical frames.
package trace
