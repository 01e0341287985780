package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	DefaultFovY  = 78.0
	DefaultNearZ = 1.0
	DefaultFarZ  = 100000.0
)

// Camera is a Y-up perspective camera oriented by pitch and yaw in degrees.
type Camera struct {
	Position  mgl32.Vec3
	Up        mgl32.Vec3
	Pitch     float32
	Yaw       float32
	FovY      float32 // degrees
	Aspect    float32
	NearZ     float32
	FarZ      float32
	ReversedZ bool
}

func NewCamera(aspect float32, position mgl32.Vec3) *Camera {
	if aspect <= 0 {
		aspect = 1
	}
	return &Camera{
		Position: position,
		Up:       mgl32.Vec3{0, 1, 0},
		FovY:     DefaultFovY,
		Aspect:   aspect,
		NearZ:    DefaultNearZ,
		FarZ:     DefaultFarZ,
	}
}

func (c *Camera) Forward() mgl32.Vec3 {
	return forwardFromAngles(c.Pitch, c.Yaw)
}

func (c *Camera) Right() mgl32.Vec3 {
	return c.Forward().Cross(c.up()).Normalize()
}

func (c *Camera) View() mgl32.Mat4 {
	return LookAt(c.Position, c.Position.Add(c.Forward()), c.up())
}

// Projection returns the camera projection; reversed maps the near plane to
// depth 1 and the far plane to depth 0.
func (c *Camera) Projection(reversed bool) mgl32.Mat4 {
	if reversed {
		return PerspectiveZO(c.FovYRadians(), c.aspect(), c.FarZ, c.NearZ)
	}
	return PerspectiveZO(c.FovYRadians(), c.aspect(), c.NearZ, c.FarZ)
}

// SubProjection is the non-reversed projection clipped to [near, far].
func (c *Camera) SubProjection(near, far float32) mgl32.Mat4 {
	return PerspectiveZO(c.FovYRadians(), c.aspect(), near, far)
}

func (c *Camera) FovYRadians() float32 {
	return mgl32.DegToRad(c.FovY)
}

// FovX is the horizontal field of view in radians.
func (c *Camera) FovX() float32 {
	v := math.Tan(float64(c.FovYRadians()) * 0.5)
	return float32(2 * math.Atan(float64(c.aspect())*v))
}

// Clamp keeps pitch away from the poles and the depth range valid.
func (c *Camera) Clamp() {
	c.Pitch = mgl32.Clamp(c.Pitch, -89, 89)
	if c.NearZ <= 0 {
		c.NearZ = DefaultNearZ
	}
	if c.FarZ <= c.NearZ {
		c.FarZ = c.NearZ * 2
	}
}

func (c *Camera) aspect() float32 {
	if c.Aspect <= 0 {
		return 1
	}
	return c.Aspect
}

func (c *Camera) up() mgl32.Vec3 {
	if c.Up.Len() == 0 {
		return mgl32.Vec3{0, 1, 0}
	}
	return c.Up
}

func forwardFromAngles(pitch, yaw float32) mgl32.Vec3 {
	p := float64(mgl32.DegToRad(pitch))
	y := float64(mgl32.DegToRad(yaw))
	return mgl32.Vec3{
		float32(math.Cos(y) * math.Cos(p)),
		float32(math.Sin(p)),
		float32(math.Sin(y) * math.Cos(p)),
	}.Normalize()
}

// ExtractFrustum extracts the 6 planes of the frustum from a zero-to-one
// depth view-projection matrix.
// Returns planes in order: Left, Right, Bottom, Top, DepthZero, DepthOne.
// For a reversed projection DepthZero is the far plane.
// Plane is Ax + By + Cz + D = 0 with the normal pointing inside.
func ExtractFrustum(vp mgl32.Mat4) [6]mgl32.Vec4 {
	var planes [6]mgl32.Vec4
	row := func(r int) mgl32.Vec4 {
		return mgl32.Vec4{vp.At(r, 0), vp.At(r, 1), vp.At(r, 2), vp.At(r, 3)}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	planes[0] = r3.Add(r0)
	planes[1] = r3.Sub(r0)
	planes[2] = r3.Add(r1)
	planes[3] = r3.Sub(r1)
	// 0 <= z_ndc <= 1
	planes[4] = r2
	planes[5] = r3.Sub(r2)

	for i := 0; i < 6; i++ {
		length := float32(math.Sqrt(float64(planes[i][0]*planes[i][0] + planes[i][1]*planes[i][1] + planes[i][2]*planes[i][2])))
		if length > 0 {
			planes[i] = planes[i].Mul(1.0 / length)
		}
	}

	return planes
}
