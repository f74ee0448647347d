// Package export converts voxel volumes to triangle meshes and writes them
// as binary glTF (GLB).
//
// Only faces between a solid voxel and non-solid space are emitted, and
// coplanar faces of the same material are merged:
//
//	vol := voxel.VolumeOf(world)
//	if err := export.SaveGLB("world.glb", vol, nil); err != nil {
//		return err
//	}
package export
