package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// PerspectiveZO is a right-handed perspective projection mapping view depth
// near..far to NDC depth 0..1. Passing far as near (and near as far) yields the
// reversed-depth variant where the near plane lands on 1.
func PerspectiveZO(fovY, aspect, near, far float32) mgl32.Mat4 {
	f := float32(1.0 / math.Tan(float64(fovY)*0.5))
	return mgl32.Mat4{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, far / (near - far), -1,
		0, 0, -(far * near) / (far - near), 0,
	}
}

// OrthoZO is a right-handed orthographic projection with 0..1 depth.
// near and far are distances along -Z of the view space.
func OrthoZO(left, right, bottom, top, near, far float32) mgl32.Mat4 {
	return mgl32.Mat4{
		2 / (right - left), 0, 0, 0,
		0, 2 / (top - bottom), 0, 0,
		0, 0, -1 / (far - near), 0,
		-(right + left) / (right - left), -(top + bottom) / (top - bottom), -near / (far - near), 1,
	}
}

// LookAt builds a view matrix looking from eye toward center. When the view
// direction is (nearly) parallel to up, a perpendicular up is substituted.
func LookAt(eye, center, up mgl32.Vec3) mgl32.Mat4 {
	dir := center.Sub(eye)
	if dir.Len() == 0 {
		return mgl32.Translate3D(-eye.X(), -eye.Y(), -eye.Z())
	}
	dir = dir.Normalize()
	if up.Len() == 0 || absf(dir.Dot(up.Normalize())) > 0.999 {
		up = mgl32.Vec3{0, 0, 1}
		if absf(dir.Z()) > 0.999 {
			up = mgl32.Vec3{1, 0, 0}
		}
	}
	return mgl32.LookAtV(eye, center, up)
}

// Unproject maps an NDC point (x, y in -1..1, z in 0..1) back through inv.
func Unproject(inv mgl32.Mat4, ndc mgl32.Vec3) mgl32.Vec3 {
	p := inv.Mul4x1(ndc.Vec4(1))
	if p.W() == 0 {
		return p.Vec3()
	}
	return p.Vec3().Mul(1 / p.W())
}

// ProjectDepth returns the NDC depth of a view-space point under proj.
func ProjectDepth(proj mgl32.Mat4, view mgl32.Vec3) float32 {
	c := proj.Mul4x1(view.Vec4(1))
	if c.W() == 0 {
		return 0
	}
	return c.Z() / c.W()
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
