// Package shadow fits directional-light cascades and lays out point-light
// cube shadows.
package shadow

import (
	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	CascadeCount = 5
	SplitCount   = CascadeCount - 1

	// zMult pushes the light-space depth bounds out so off-frustum casters
	// still land in the map.
	zMult = 10
)

// CascadeSplits derives the split distances from the camera far plane.
func CascadeSplits(far float32) [SplitCount]float32 {
	return [SplitCount]float32{far / 80, far / 40, far / 20, far / 10}
}

// CascadeRanges returns [near, far] per cascade. The first starts at near,
// the last ends at far, and each boundary is shared by its neighbours.
func CascadeRanges(near, far float32, splits [SplitCount]float32) [CascadeCount][2]float32 {
	var r [CascadeCount][2]float32
	prev := near
	for i := 0; i < SplitCount; i++ {
		s := min(max(splits[i], prev), far)
		r[i] = [2]float32{prev, s}
		prev = s
	}
	r[CascadeCount-1] = [2]float32{prev, far}
	return r
}

// FrustumCorners returns the 8 world-space corners of the camera frustum
// clipped to [near, far].
func FrustumCorners(cam *core.Camera, near, far float32) [8]mgl32.Vec3 {
	inv := cam.SubProjection(near, far).Mul4(cam.View()).Inv()
	var corners [8]mgl32.Vec3
	i := 0
	for _, z := range [2]float32{0, 1} {
		for _, y := range [2]float32{-1, 1} {
			for _, x := range [2]float32{-1, 1} {
				corners[i] = core.Unproject(inv, mgl32.Vec3{x, y, z})
				i++
			}
		}
	}
	return corners
}

// LightView looks at center from one unit along forward.
func LightView(center, forward mgl32.Vec3) mgl32.Mat4 {
	up := mgl32.Vec3{0, 1, 0}
	if absf(forward.Normalize().Y()) > 0.99 {
		up = mgl32.Vec3{0, 0, 1}
	}
	return core.LookAt(center.Add(forward), center, up)
}

// FitCascade fits an orthographic light view-projection around the
// [near, far] slice of the camera frustum.
func FitCascade(cam *core.Camera, forward mgl32.Vec3, near, far float32, reversed bool) mgl32.Mat4 {
	corners := FrustumCorners(cam, near, far)

	var center mgl32.Vec3
	for _, c := range corners {
		center = center.Add(c)
	}
	center = center.Mul(1.0 / float32(len(corners)))

	if forward.Len() == 0 {
		forward = mgl32.Vec3{0, -1, 0}
	}
	view := LightView(center, forward.Normalize())

	minV := mgl32.Vec3{maxFloat, maxFloat, maxFloat}
	maxV := mgl32.Vec3{-maxFloat, -maxFloat, -maxFloat}
	for _, c := range corners {
		p := view.Mul4x1(c.Vec4(1)).Vec3()
		for a := 0; a < 3; a++ {
			minV[a] = min(minV[a], p[a])
			maxV[a] = max(maxV[a], p[a])
		}
	}

	minZ, maxZ := minV.Z(), maxV.Z()
	if minZ < 0 {
		minZ *= zMult
	} else {
		minZ /= zMult
	}
	if maxZ < 0 {
		maxZ /= zMult
	} else {
		maxZ *= zMult
	}

	// View looks down -Z: the closest plane is -maxZ.
	nearDist, farDist := -maxZ, -minZ
	var proj mgl32.Mat4
	if reversed {
		proj = core.OrthoZO(minV.X(), maxV.X(), minV.Y(), maxV.Y(), farDist, nearDist)
	} else {
		proj = core.OrthoZO(minV.X(), maxV.X(), minV.Y(), maxV.Y(), nearDist, farDist)
	}
	return proj.Mul4(view)
}

// FitCascades fits every cascade for the given splits.
func FitCascades(cam *core.Camera, forward mgl32.Vec3, splits [SplitCount]float32, reversed bool) [CascadeCount]mgl32.Mat4 {
	var out [CascadeCount]mgl32.Mat4
	for i, r := range CascadeRanges(cam.NearZ, cam.FarZ, splits) {
		out[i] = FitCascade(cam, forward, r[0], r[1], reversed)
	}
	return out
}

const maxFloat = float32(3.4e38)

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
