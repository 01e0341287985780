package ao

import (
	"testing"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDither_Cycle(t *testing.T) {
	assert.Equal(t, float32(0), OffsetFor(0))
	assert.Equal(t, float32(0.5), OffsetFor(6))
	assert.Equal(t, float32(0.75), OffsetFor(23))
	assert.Equal(t, float32(0), OffsetFor(24))
	assert.InDelta(t, 60.0/360, RotationFor(0), 1e-7)
	assert.Equal(t, float32(0), RotationFor(5))

	seen := map[[2]float32]bool{}
	for f := uint64(0); f < uint64(DitherPeriod); f++ {
		key := [2]float32{OffsetFor(f), RotationFor(f)}
		assert.False(t, seen[key], "frame %d repeats within the period", f)
		seen[key] = true
		assert.Equal(t, key, [2]float32{OffsetFor(f + 24), RotationFor(f + 24)})
	}
}

func TestDownsampleDepth_KeepsClosest(t *testing.T) {
	src := NewImage(4, 2)
	copy(src.Pix, []float32{
		0.2, 0.9, 0.5, 0.6,
		0.4, 0.1, 0.7, 0.8,
	})

	std := DownsampleDepth(src, false)
	require.Equal(t, 2, std.Width)
	require.Equal(t, 1, std.Height)
	assert.Equal(t, []float32{0.1, 0.5}, std.Pix)

	rev := DownsampleDepth(src, true)
	assert.Equal(t, []float32{0.9, 0.8}, rev.Pix)
}

func TestMipCount(t *testing.T) {
	assert.Equal(t, 1, MipCount(1, 1))
	assert.Equal(t, 3, MipCount(8, 4))
	assert.Equal(t, 11, MipCount(1920, 1080))
}

func testView(reversed bool) View {
	proj := core.PerspectiveZO(mgl32.DegToRad(90), 1, 1, 100)
	if reversed {
		proj = core.PerspectiveZO(mgl32.DegToRad(90), 1, 100, 1)
	}
	return View{
		Projection:    proj,
		ProjectionInv: proj.Inv(),
		View:          mgl32.Ident4(),
		LastView:      mgl32.Ident4(),
		Reversed:      reversed,
	}
}

// planeDepth fills a depth image with a wall at distance z, and a closer
// wall at near for columns >= split.
func planeDepth(v View, w, h int, z, near float32, split int) *Image {
	img := NewImage(w, h)
	far := core.ProjectDepth(v.Projection, mgl32.Vec3{0, 0, -z})
	close := core.ProjectDepth(v.Projection, mgl32.Vec3{0, 0, -near})
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x >= split {
				img.Set(x, y, close)
			} else {
				img.Set(x, y, far)
			}
		}
	}
	return img
}

func defaultParams() Params {
	return Params{Radius: 4, FalloffNear: 1, FalloffFar: 2000, Samples: 4, Slices: 4}
}

func TestEstimate_FlatWallUnoccluded(t *testing.T) {
	for _, reversed := range []bool{false, true} {
		v := testView(reversed)
		depth := planeDepth(v, 32, 32, 10, 10, 32)
		out := Estimate(depth, v, defaultParams())
		// Stay clear of the borders, where clamped taps skew the horizons.
		for y := 8; y < 24; y++ {
			for x := 8; x < 24; x++ {
				require.InDelta(t, 1, out.At(x, y), 1e-4, "pixel %d,%d reversed=%v", x, y, reversed)
			}
		}
	}
}

func TestEstimate_CreaseOccludes(t *testing.T) {
	for _, reversed := range []bool{false, true} {
		v := testView(reversed)
		depth := planeDepth(v, 64, 32, 10, 6, 32)
		out := Estimate(depth, v, defaultParams())
		assert.Less(t, out.At(30, 16), float32(0.95), "far side next to the step (reversed=%v)", reversed)
		assert.InDelta(t, 1, out.At(14, 16), 1e-4, "far from the step")
	}
}

func TestEstimate_BackgroundIsVisible(t *testing.T) {
	v := testView(true)
	depth := NewImage(8, 8)
	depth.Fill(v.ClearDepth())
	out := Estimate(depth, v, defaultParams())
	for _, a := range out.Pix {
		assert.Equal(t, float32(1), a)
	}
}

func TestDenoise_PreservesDepthEdges(t *testing.T) {
	v := testView(false)
	depth := planeDepth(v, 16, 8, 50, 5, 8)
	src := NewImage(16, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			if x < 8 {
				src.Set(x, y, 1)
			}
		}
	}
	out := Denoise(src, depth, v)
	assert.InDelta(t, 1, out.At(7, 4), 1e-3)
	assert.InDelta(t, 0, out.At(8, 4), 1e-3)

	flat := NewImage(16, 8)
	flat.Fill(0.6)
	out = Denoise(flat, depth, v)
	for _, a := range out.Pix {
		assert.InDelta(t, 0.6, a, 1e-5)
	}
}

func TestAccumulate(t *testing.T) {
	v := testView(true)
	depth := planeDepth(v, 16, 16, 20, 20, 16)

	cur := NewImage(16, 16)
	cur.Fill(0.4)
	hist := NewImage(16, 16)
	hist.Fill(0.8)

	t.Run("invalid history passes through", func(t *testing.T) {
		out := Accumulate(cur, hist, depth, depth, v, false)
		assert.Equal(t, cur.Pix, out.Pix)
	})

	t.Run("static camera blends", func(t *testing.T) {
		out := Accumulate(cur, hist, depth, depth, v, true)
		for _, a := range out.Pix {
			assert.InDelta(t, 0.8*HistoryWeight+0.4*(1-HistoryWeight), a, 1e-5)
		}
	})

	t.Run("converged history is a fixed point", func(t *testing.T) {
		out := Accumulate(cur, cur, depth, depth, v, true)
		assert.InDeltaSlice(t, cur.Pix, out.Pix, 1e-6)
	})

	t.Run("disocclusion rejects history", func(t *testing.T) {
		moved := planeDepth(v, 16, 16, 40, 40, 16)
		out := Accumulate(cur, hist, depth, moved, v, true)
		assert.Equal(t, cur.Pix, out.Pix)
	})

	t.Run("camera move reprojects", func(t *testing.T) {
		mv := v
		mv.LastView = mgl32.Translate3D(0, 0, -5)
		// History was rendered 5 units further away.
		prevDepth := planeDepth(v, 16, 16, 25, 25, 16)
		out := Accumulate(cur, hist, depth, prevDepth, mv, true)
		assert.InDelta(t, 0.8*HistoryWeight+0.4*(1-HistoryWeight), out.At(8, 8), 1e-5)
	})
}
