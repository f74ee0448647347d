package trace

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/gogpu/voxrt/voxel"
)

// Ray is a half line with a unit direction.
type Ray struct {
	Origin mgl64.Vec3
	Dir    mgl64.Vec3
}

// NewRay returns a ray from origin along dir. dir is normalized; a zero
// direction yields a ray that hits nothing.
func NewRay(origin, dir mgl64.Vec3) Ray {
	if l := dir.Len(); l > 0 {
		dir = dir.Mul(1 / l)
	}
	return Ray{Origin: origin, Dir: dir}
}

// At returns the point at distance t along the ray.
func (r Ray) At(t float64) mgl64.Vec3 {
	return r.Origin.Add(r.Dir.Mul(t))
}

// Face identifies the voxel face a ray entered through.
type Face uint8

const (
	// FaceNone is reported when the ray starts inside the hit voxel.
	FaceNone Face = iota
	FaceNegX
	FacePosX
	FaceNegY
	FacePosY
	FaceNegZ
	FacePosZ
)

var faceNormals = [...]mgl64.Vec3{
	FaceNone: {},
	FaceNegX: {-1, 0, 0},
	FacePosX: {1, 0, 0},
	FaceNegY: {0, -1, 0},
	FacePosY: {0, 1, 0},
	FaceNegZ: {0, 0, -1},
	FacePosZ: {0, 0, 1},
}

// Normal returns the outward unit normal of the face.
func (f Face) Normal() mgl64.Vec3 {
	if int(f) >= len(faceNormals) {
		return mgl64.Vec3{}
	}
	return faceNormals[f]
}

func (f Face) String() string {
	switch f {
	case FaceNegX:
		return "-X"
	case FacePosX:
		return "+X"
	case FaceNegY:
		return "-Y"
	case FacePosY:
		return "+Y"
	case FaceNegZ:
		return "-Z"
	case FacePosZ:
		return "+Z"
	default:
		return "none"
	}
}

// entryFace is the face crossed when stepping along axis in direction step.
func entryFace(axis, step int) Face {
	f := Face(1 + 2*axis)
	if step < 0 {
		return f + 1
	}
	return f
}

// Hit is the result of traversing one ray.
type Hit struct {
	Hit   bool
	Voxel voxel.Voxel
	Coord voxel.Coord
	// T is the distance from the ray origin to the entry point of the voxel.
	T    float64
	Face Face
	// Steps counts the voxels visited, including the hit voxel.
	Steps int
}

// Material returns the hit material, or voxel.Empty on a miss.
func (h Hit) Material() voxel.Material {
	if !h.Hit {
		return voxel.Empty
	}
	return h.Voxel.Material
}

// MaxStepsFor returns the most voxels a ray can visit in a volume of the
// given extent.
func MaxStepsFor(e voxel.Extent) int {
	return e.X + e.Y + e.Z
}

// Traverse walks r through vol with a 3D DDA and returns the first solid
// voxel. maxSteps bounds the number of voxels visited; values <= 0 use
// MaxStepsFor.
//
// Ties are broken deterministically. A start point on a voxel boundary
// belongs to the voxel the ray enters, or to the lower voxel if the ray runs
// parallel to the boundary. When the next boundaries of several axes are at
// the same distance, x steps before y and y before z.
func Traverse(vol *voxel.Volume, r Ray, maxSteps int) Hit {
	ext := vol.Extent()
	if maxSteps <= 0 {
		maxSteps = MaxStepsFor(ext)
	}
	size := [3]float64{float64(ext.X), float64(ext.Y), float64(ext.Z)}
	o, d := r.Origin, r.Dir

	tEnter, tExit, axis, ok := intersectBox(o, d, size)
	if !ok {
		return Hit{}
	}

	p := r.At(tEnter)
	face := FaceNone
	if axis >= 0 {
		if d[axis] > 0 {
			p[axis] = 0
		} else {
			p[axis] = size[axis]
		}
		face = entryFace(axis, sign(d[axis]))
	}

	var cell, step [3]int
	var tMax, tDelta [3]float64
	for i := range 3 {
		f := math.Floor(p[i])
		cell[i] = int(f)
		if p[i] == f && d[i] <= 0 {
			cell[i]--
		}
		step[i] = sign(d[i])
		switch {
		case d[i] > 0:
			tMax[i] = (float64(cell[i]+1) - o[i]) / d[i]
			tDelta[i] = 1 / d[i]
		case d[i] < 0:
			tMax[i] = (float64(cell[i]) - o[i]) / d[i]
			tDelta[i] = -1 / d[i]
		default:
			tMax[i] = math.Inf(1)
			tDelta[i] = math.Inf(1)
		}
	}

	c := voxel.C(cell[0], cell[1], cell[2])
	if !ext.Contains(c) {
		return Hit{}
	}

	t := tEnter
	for steps := 1; steps <= maxSteps; steps++ {
		if v := vol.At(cell[0], cell[1], cell[2]); v.Solid() {
			return Hit{
				Hit:   true,
				Voxel: v,
				Coord: voxel.C(cell[0], cell[1], cell[2]),
				T:     t,
				Face:  face,
				Steps: steps,
			}
		}

		a := 0
		if tMax[1] < tMax[a] {
			a = 1
		}
		if tMax[2] < tMax[a] {
			a = 2
		}
		if math.IsInf(tMax[a], 1) || tMax[a] > tExit {
			return Hit{Steps: steps}
		}
		t = tMax[a]
		cell[a] += step[a]
		tMax[a] += tDelta[a]
		face = entryFace(a, step[a])
		if cell[a] < 0 || float64(cell[a]) >= size[a] {
			return Hit{Steps: steps}
		}
	}
	return Hit{Steps: maxSteps}
}

// intersectBox clips the ray against [0, size] with the slab method. axis is
// the axis whose slab was entered last, or -1 when the origin is inside.
func intersectBox(o, d mgl64.Vec3, size [3]float64) (tEnter, tExit float64, axis int, ok bool) {
	tEnter, tExit, axis = 0, math.Inf(1), -1
	for i := range 3 {
		if d[i] == 0 {
			if o[i] < 0 || o[i] > size[i] {
				return 0, 0, -1, false
			}
			continue
		}
		t0 := -o[i] / d[i]
		t1 := (size[i] - o[i]) / d[i]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tEnter {
			tEnter, axis = t0, i
		}
		tExit = min(tExit, t1)
	}
	if tEnter > tExit {
		return 0, 0, -1, false
	}
	return tEnter, tExit, axis, true
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
