package shadow

import (
	"math"
	"testing"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCamera() *core.Camera {
	cam := core.NewCamera(16.0/9.0, mgl32.Vec3{5, 20, -3})
	cam.Yaw, cam.Pitch = 35, -15
	cam.NearZ, cam.FarZ = 1, 2000
	return cam
}

func TestCascadeSplits(t *testing.T) {
	s := CascadeSplits(100000)
	assert.Equal(t, [SplitCount]float32{1250, 2500, 5000, 10000}, s)
}

func TestCascadeRanges_TileCameraRange(t *testing.T) {
	cam := testCamera()
	r := CascadeRanges(cam.NearZ, cam.FarZ, CascadeSplits(cam.FarZ))
	assert.Equal(t, cam.NearZ, r[0][0])
	assert.Equal(t, cam.FarZ, r[CascadeCount-1][1])
	for i := 0; i < CascadeCount; i++ {
		assert.Less(t, r[i][0], r[i][1], "cascade %d", i)
		if i > 0 {
			assert.Equal(t, r[i-1][1], r[i][0], "no gap or overlap at %d", i)
		}
	}

	// Out-of-order splits still tile without overlap.
	r = CascadeRanges(1, 100, [SplitCount]float32{50, 10, 200, 60})
	assert.Equal(t, float32(1), r[0][0])
	assert.Equal(t, float32(100), r[4][1])
	for i := 1; i < CascadeCount; i++ {
		assert.Equal(t, r[i-1][1], r[i][0])
		assert.LessOrEqual(t, r[i][0], r[i][1])
	}
}

func project(m mgl32.Mat4, p mgl32.Vec3) mgl32.Vec3 {
	c := m.Mul4x1(p.Vec4(1))
	return c.Vec3().Mul(1 / c.W())
}

func TestFitCascade_ContainsSubFrustum(t *testing.T) {
	cam := testCamera()
	forwards := []mgl32.Vec3{
		core.NewLightEnvironment().Forward(),
		{0, -1, 0},
		{0.3, -0.2, 0.9},
	}
	const eps = 1e-3
	for _, fwd := range forwards {
		for _, reversed := range []bool{false, true} {
			mats := FitCascades(cam, fwd, CascadeSplits(cam.FarZ), reversed)
			for i, r := range CascadeRanges(cam.NearZ, cam.FarZ, CascadeSplits(cam.FarZ)) {
				for _, c := range FrustumCorners(cam, r[0], r[1]) {
					p := project(mats[i], c)
					assert.InDelta(t, 0, p.X(), 1+eps, "cascade %d x", i)
					assert.InDelta(t, 0, p.Y(), 1+eps, "cascade %d y", i)
					assert.GreaterOrEqual(t, p.Z(), float32(0))
					assert.LessOrEqual(t, p.Z(), float32(1))
				}
			}
		}
	}
}

func TestFitCascade_ReversedDepthSymmetry(t *testing.T) {
	cam := testCamera()
	fwd := core.NewLightEnvironment().Forward()
	std := FitCascade(cam, fwd, 1, 25, false)
	rev := FitCascade(cam, fwd, 1, 25, true)

	points := FrustumCorners(cam, 2, 20)
	for i := range points {
		a := project(std, points[i])
		b := project(rev, points[i])
		assert.InDelta(t, a.X(), b.X(), 1e-5)
		assert.InDelta(t, a.Y(), b.Y(), 1e-5)
		assert.InDelta(t, 1, a.Z()+b.Z(), 1e-4)
		for j := range points {
			aj, bj := project(std, points[j]), project(rev, points[j])
			if a.Z()+1e-4 < aj.Z() {
				assert.Greater(t, b.Z(), bj.Z(), "depth order must flip")
			}
		}
	}
}

func TestLightView_Pole(t *testing.T) {
	m := LightView(mgl32.Vec3{1, 2, 3}, mgl32.Vec3{0, -1, 0})
	for _, v := range m {
		require.False(t, math.IsNaN(float64(v)))
	}
}
