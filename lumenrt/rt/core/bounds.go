package core

import "github.com/go-gl/mathgl/mgl32"

// SphereInFrustum reports whether a sphere is at least partially inside the planes.
func SphereInFrustum(center mgl32.Vec3, radius float32, planes [6]mgl32.Vec4) bool {
	for _, plane := range planes {
		dist := plane[0]*center[0] + plane[1]*center[1] + plane[2]*center[2] + plane[3]
		if dist < -radius {
			return false
		}
	}
	return true
}

// SphereIntersectsAABB uses the squared distance from the sphere center to
// the closest point of the box. Touching counts as intersecting.
func SphereIntersectsAABB(center mgl32.Vec3, radius float32, aabb [2]mgl32.Vec3) bool {
	var sq float32
	for axis := 0; axis < 3; axis++ {
		c := center[axis]
		if c < aabb[0][axis] {
			d := aabb[0][axis] - c
			sq += d * d
		} else if c > aabb[1][axis] {
			d := c - aabb[1][axis]
			sq += d * d
		}
	}
	return sq <= radius*radius
}
