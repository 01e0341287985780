package core

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerspectiveZO_DepthRange(t *testing.T) {
	proj := PerspectiveZO(mgl32.DegToRad(60), 16.0/9.0, 1, 1000)
	assert.InDelta(t, 0, ProjectDepth(proj, mgl32.Vec3{0, 0, -1}), 1e-6)
	assert.InDelta(t, 1, ProjectDepth(proj, mgl32.Vec3{0, 0, -1000}), 1e-5)

	rev := PerspectiveZO(mgl32.DegToRad(60), 16.0/9.0, 1000, 1)
	assert.InDelta(t, 1, ProjectDepth(rev, mgl32.Vec3{0, 0, -1}), 1e-6)
	assert.InDelta(t, 0, ProjectDepth(rev, mgl32.Vec3{0, 0, -1000}), 1e-5)

	// Same point, complementary depths.
	for _, z := range []float32{-2, -10, -123, -900} {
		d := ProjectDepth(proj, mgl32.Vec3{0, 0, z})
		r := ProjectDepth(rev, mgl32.Vec3{0, 0, z})
		assert.InDelta(t, 1, d+r, 1e-4, "z=%v", z)
	}
}

func TestOrthoZO(t *testing.T) {
	proj := OrthoZO(-10, 10, -5, 5, 2, 50)
	assert.InDelta(t, 0, ProjectDepth(proj, mgl32.Vec3{0, 0, -2}), 1e-6)
	assert.InDelta(t, 1, ProjectDepth(proj, mgl32.Vec3{0, 0, -50}), 1e-6)

	c := proj.Mul4x1(mgl32.Vec4{10, -5, -10, 1})
	assert.InDelta(t, 1, c.X(), 1e-6)
	assert.InDelta(t, -1, c.Y(), 1e-6)
}

func TestLookAt_PoleSafe(t *testing.T) {
	m := LookAt(mgl32.Vec3{0, 10, 0}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0})
	for i, v := range m {
		require.False(t, math.IsNaN(float64(v)), "element %d is NaN", i)
	}
	p := m.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, -10, p.Z(), 1e-5)
}

func TestUnprojectRoundTrip(t *testing.T) {
	proj := PerspectiveZO(mgl32.DegToRad(78), 1.5, 1, 500)
	inv := proj.Inv()
	near := Unproject(inv, mgl32.Vec3{0, 0, 0})
	far := Unproject(inv, mgl32.Vec3{0, 0, 1})
	assert.InDelta(t, -1, near.Z(), 1e-4)
	assert.InDelta(t, -500, far.Z(), 0.5)
}

func TestCamera_ForwardAndFov(t *testing.T) {
	cam := NewCamera(2, mgl32.Vec3{})
	cam.Yaw = 90
	f := cam.Forward()
	assert.InDelta(t, 0, f.X(), 1e-6)
	assert.InDelta(t, 1, f.Z(), 1e-6)

	cam.Yaw, cam.Pitch = 0, 90
	cam.Clamp()
	assert.Equal(t, float32(89), cam.Pitch)

	cam.FovY = 90
	cam.Aspect = 1
	assert.InDelta(t, math.Pi/2, cam.FovX(), 1e-5)

	cam.Aspect = 2
	want := 2 * math.Atan(2*math.Tan(math.Pi/4))
	assert.InDelta(t, want, cam.FovX(), 1e-5)
}
