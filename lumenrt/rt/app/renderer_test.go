package app

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/lumen/lumenrt/rt/ao"
	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu/soft"
	"github.com/gekko3d/lumen/lumenrt/rt/shadow"
)

const (
	testWidth  = 32
	testHeight = 16
)

func newTestRenderer(t *testing.T) (*Renderer, *soft.Device) {
	t.Helper()
	dev := soft.New(testWidth, testHeight)
	r := NewRenderer(dev, Options{Width: testWidth, Height: testHeight, Workers: 2, CsmSize: 16, CubeSize: 8})
	require.NoError(t, r.Init())
	require.True(t, r.Ready())
	dev.ResetLog()
	return r, dev
}

func testContext(casters int) core.FrameContext {
	ctx := core.FrameContext{
		Camera:           core.NewCamera(float32(testWidth)/testHeight, mgl32.Vec3{0, 2, 10}),
		LightEnvironment: core.NewLightEnvironment(),
		Settings:         core.DefaultSettings(),
	}
	for i := 0; i < 3; i++ {
		l := core.NewLightPoint(mgl32.Vec3{float32(i) * 2, 1, 0}, mgl32.Vec3{1, 1, 1}, 5)
		l.CastShadows = i < casters
		ctx.LightPoints = append(ctx.LightPoints, l)
	}
	return ctx
}

// flatDepth fills every texel with a constant in front of the background.
func flatDepth(w, h int, _ gpu.CameraBlock, reversed bool) []float32 {
	v := float32(0.5)
	if reversed {
		v = 0.9
	}
	pix := make([]float32, w*h)
	for i := range pix {
		pix[i] = v
	}
	return pix
}

func repeat(name string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = name
	}
	return out
}

// sequence renders the log with barriers as "|".
func sequence(dev *soft.Device) []string {
	var out []string
	for _, rec := range dev.Log() {
		if rec.Barrier {
			out = append(out, "|")
			continue
		}
		out = append(out, rec.Pass.Name)
	}
	return out
}

func passes(dev *soft.Device, name string) []gpu.Pass {
	var out []gpu.Pass
	for _, rec := range dev.Log() {
		if !rec.Barrier && rec.Pass.Name == name {
			out = append(out, rec.Pass)
		}
	}
	return out
}

func uniform(t *testing.T, p gpu.Pass, loc int) gpu.Uniform {
	t.Helper()
	u, ok := p.Uniform(loc)
	require.True(t, ok, "pass %s has no uniform %d", p.Name, loc)
	return u
}

func TestUpdate_PassOrder(t *testing.T) {
	r, dev := newTestRenderer(t)
	require.NoError(t, r.Update(testContext(1)))

	var want []string
	want = append(want, repeat(ProgramShadowCsm, 5)...)
	want = append(want, repeat(ProgramShadowCube, 6)...)
	want = append(want, ProgramDepth)
	want = append(want, repeat(ProgramDownsampleDepth, ao.MipCount(testWidth, testHeight)-1)...)
	want = append(want, ProgramGtao, ProgramGtaoSpatial, ProgramGtaoTemporal, "|", ProgramLighting, ProgramScreen)
	assert.Equal(t, want, sequence(dev))
	assert.Equal(t, 1, dev.Presents())
	assert.Equal(t, uint64(1), r.FrameCount())

	for _, name := range []string{ProgramDepth, "cluster", "light_culling", ProgramScreen, "frame"} {
		assert.Equal(t, 1, r.Profiler().Samples(name), name)
	}
	assert.Equal(t, 3, r.Profiler().Count("lights"))
	assert.Equal(t, 1, r.Profiler().Count("shadow casters"))
}

func TestUpdate_CascadeAndFaceUniforms(t *testing.T) {
	r, dev := newTestRenderer(t)
	require.NoError(t, r.Update(testContext(2)))

	csm := passes(dev, ProgramShadowCsm)
	require.Len(t, csm, 5)
	for i, p := range csm {
		assert.Equal(t, int32(i), uniform(t, p, 0).Int())
		assert.Equal(t, int32(1), uniform(t, p, 1).Int(), "reversed depth")
		assert.Equal(t, r.csm.layers[i], p.Color[0].View)
		assert.Equal(t, [4]float32{1, 1, 0, 0}, p.Color[0].ClearValue, "far-plane moments")
		assert.Equal(t, gpu.CompareGreaterEqual, p.Raster.DepthFunc)
	}

	cube := passes(dev, ProgramShadowCube)
	require.Len(t, cube, 12)
	for i, p := range cube {
		assert.Equal(t, int32(i/6), uniform(t, p, 0).Int(), "light index")
		assert.Equal(t, int32(i%6), uniform(t, p, 1).Int(), "face")
		assert.Equal(t, r.cube.layers[i], p.Color[0].View)
		assert.Equal(t, [4]float32{1, 1, 0, 0}, p.Color[0].ClearValue)
	}

	for _, view := range []gpu.ViewID{r.csm.array, r.cube.array} {
		desc, ok := dev.TextureDesc(view)
		require.True(t, ok)
		assert.Equal(t, gpu.FormatRG32Float, desc.Format, "shadow maps hold two depth moments")
	}
}

func TestUpdate_HistoryParity(t *testing.T) {
	r, dev := newTestRenderer(t)
	ctx := testContext(0)

	var lit, occ [3]gpu.ViewID
	var history [3]gpu.ViewID
	for i := range lit {
		dev.ResetLog()
		require.NoError(t, r.Update(ctx))
		lit[i] = passes(dev, ProgramLighting)[0].Color[0].View
		temporal := passes(dev, ProgramGtaoTemporal)[0]
		occ[i] = temporal.Color[0].View
		history[i] = temporal.Textures[1].View
	}

	assert.NotEqual(t, lit[0], lit[1])
	assert.Equal(t, lit[0], lit[2])
	assert.NotEqual(t, occ[0], occ[1])
	assert.Equal(t, occ[0], history[1], "frame 2 reads frame 1 output as history")
	assert.Equal(t, occ[1], history[2])
}

func TestUpdate_TemporalHistoryValidity(t *testing.T) {
	r, dev := newTestRenderer(t)
	dev.DepthSource = flatDepth
	ctx := testContext(0)

	valid := func() bool {
		return uniform(t, passes(dev, ProgramGtaoTemporal)[0], 1).Int() == 1
	}

	require.NoError(t, r.Update(ctx))
	assert.False(t, valid(), "first frame has no history")

	dev.ResetLog()
	require.NoError(t, r.Update(ctx))
	assert.True(t, valid())

	out := passes(dev, ProgramGtaoTemporal)[0].Color[0].View
	w, h, pix := dev.Pixels(out)
	assert.Equal(t, testWidth/2, w)
	assert.Equal(t, testHeight/2, h)
	for _, v := range pix {
		assert.True(t, v >= 0 && v <= 1, "visibility %v out of range", v)
	}
	_, _, history := dev.Pixels(r.ao.Previous().view)
	require.Len(t, history, len(pix))
	for i := range pix {
		assert.InDelta(t, history[i], pix[i], 0.1, "static scene converges at texel %d", i)
	}

	dev.ResetLog()
	ctx.Settings.EnableReverseZ = false
	require.NoError(t, r.Update(ctx))
	assert.False(t, valid(), "depth convention changed")

	dev.ResetLog()
	require.NoError(t, r.Update(ctx))
	assert.True(t, valid())

	dev.ResetLog()
	require.NoError(t, r.Resize(40, 20))
	require.NoError(t, r.Update(ctx))
	assert.False(t, valid(), "resize drops history")
}

func TestUpdate_CameraHistory(t *testing.T) {
	r, dev := newTestRenderer(t)
	ctx := testContext(0)

	require.NoError(t, r.Update(ctx))
	first, ok := gpu.UnmarshalCamera(dev.BufferData(r.buf.camera))
	require.True(t, ok)
	assert.Equal(t, first.View, first.LastView)
	assert.NotEqual(t, first.Projection, first.ProjectionNonReversed)

	ctx.Camera.Position = ctx.Camera.Position.Add(mgl32.Vec3{1, 0, 0})
	require.NoError(t, r.Update(ctx))
	second, ok := gpu.UnmarshalCamera(dev.BufferData(r.buf.camera))
	require.True(t, ok)
	assert.Equal(t, first.View, second.LastView)
	assert.NotEqual(t, second.View, second.LastView)
}

func TestUpdate_SkipsWithoutCamera(t *testing.T) {
	r, dev := newTestRenderer(t)
	ctx := testContext(1)
	ctx.Camera = nil

	require.NoError(t, r.Update(ctx))
	assert.Empty(t, dev.Log())
	assert.Zero(t, dev.Presents())
	assert.Zero(t, r.FrameCount())
}

func TestUpdate_WithoutLightEnvironment(t *testing.T) {
	r, dev := newTestRenderer(t)
	ctx := testContext(0)
	ctx.LightEnvironment = nil

	require.NoError(t, r.Update(ctx))
	assert.Empty(t, passes(dev, ProgramShadowCsm))
	assert.Empty(t, passes(dev, ProgramShadowCube))
	assert.Zero(t, uniform(t, passes(dev, ProgramLighting)[0], 7).Int())
}

func TestUpdate_AmbientOcclusionDisabled(t *testing.T) {
	r, dev := newTestRenderer(t)
	ctx := testContext(0)
	ctx.Settings.EnableAmbientOcclusion = false
	ctx.Settings.DrawOutput = core.DrawAmbientOcclusion

	require.NoError(t, r.Update(ctx))
	assert.Empty(t, passes(dev, ProgramGtao))
	assert.Empty(t, passes(dev, ProgramGtaoSpatial))
	assert.Empty(t, passes(dev, ProgramGtaoTemporal))

	screen := passes(dev, ProgramScreen)[0]
	assert.Equal(t, int32(core.DrawLighting), uniform(t, screen, 0).Int())
	assert.Equal(t, r.lighting.Current().view, screen.Textures[0].View)
	assert.Zero(t, uniform(t, passes(dev, ProgramLighting)[0], 0).Int())
}

func TestUpdate_DrawOutputAmbientOcclusion(t *testing.T) {
	r, dev := newTestRenderer(t)
	ctx := testContext(0)
	ctx.Settings.DrawOutput = core.DrawAmbientOcclusion

	require.NoError(t, r.Update(ctx))
	screen := passes(dev, ProgramScreen)[0]
	assert.Equal(t, int32(core.DrawAmbientOcclusion), uniform(t, screen, 0).Int())
	assert.Equal(t, r.ao.Current().view, screen.Textures[0].View)
}

func TestUpdate_ClampsLightCount(t *testing.T) {
	r, dev := newTestRenderer(t)
	ctx := testContext(0)
	for len(ctx.LightPoints) < core.MaxLightPoints+10 {
		ctx.LightPoints = append(ctx.LightPoints, core.NewLightPoint(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1}, 1))
	}

	require.NoError(t, r.Update(ctx))
	assert.Equal(t, int32(core.MaxLightPoints), uniform(t, passes(dev, ProgramLighting)[0], 2).Int())
}

func TestUpdate_GrowsCubeArray(t *testing.T) {
	r, dev := newTestRenderer(t)
	require.NoError(t, r.Update(testContext(0)))
	assert.Empty(t, passes(dev, ProgramShadowCube))
	desc, ok := dev.TextureDesc(r.cube.array)
	require.True(t, ok)
	assert.Equal(t, 6, desc.Layers)

	dev.ResetLog()
	require.NoError(t, r.Update(testContext(3)))
	cube := passes(dev, ProgramShadowCube)
	assert.Len(t, cube, 18)
	desc, ok = dev.TextureDesc(r.cube.array)
	require.True(t, ok)
	assert.Equal(t, 18, desc.Layers)
	assert.Equal(t, r.cube.array, passes(dev, ProgramLighting)[0].Textures[2].View)

	dev.ResetLog()
	require.NoError(t, r.Update(testContext(1)))
	desc, ok = dev.TextureDesc(r.cube.array)
	require.True(t, ok)
	assert.Equal(t, 18, desc.Layers, "the array never shrinks")
}

// hiddenLimit enforces the soft device's layer cap without reporting it.
type hiddenLimit struct{ *soft.Device }

func (hiddenLimit) MaxArrayLayers() int { return 0 }

func TestUpdate_FailedCubeGrowKeepsArray(t *testing.T) {
	dev := soft.New(testWidth, testHeight)
	dev.MaxLayers = 12
	r := NewRenderer(hiddenLimit{dev}, Options{Width: testWidth, Height: testHeight, Workers: 2, CsmSize: 16, CubeSize: 8})
	require.NoError(t, r.Init())
	require.Equal(t, shadow.MaxShadowCubes, r.opts.MaxShadowCubes)
	array := r.cube.array
	live := dev.LiveTextures()

	// The grow is retried, and refused, every frame.
	for range 2 {
		dev.ResetLog()
		err := r.Update(testContext(3))
		var de *gpu.DeviceError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, ProgramShadowCube, de.Pass)
		assert.ErrorIs(t, err, gpu.ErrOutOfRange)

		require.NotNil(t, r.cube)
		assert.Equal(t, array, r.cube.array)
		assert.Equal(t, 6, r.cubes.Layers())
		assert.Equal(t, live, dev.LiveTextures())
		assert.Empty(t, passes(dev, ProgramShadowCube))
	}

	dev.ResetLog()
	require.NoError(t, r.Update(testContext(1)))
	assert.Len(t, passes(dev, ProgramShadowCube), 6)
	assert.Equal(t, array, passes(dev, ProgramLighting)[0].Textures[2].View)
}

func TestNewRenderer_CapsCubesAtDeviceLimit(t *testing.T) {
	dev := soft.New(testWidth, testHeight)
	dev.MaxLayers = 12
	r := NewRenderer(dev, Options{Width: testWidth, Height: testHeight, Workers: 2, CsmSize: 16, CubeSize: 8})
	require.NoError(t, r.Init())
	assert.Equal(t, 2, r.opts.MaxShadowCubes)

	require.NoError(t, r.Update(testContext(3)))
	assert.Len(t, passes(dev, ProgramShadowCube), 12, "the third caster is clamped")
	desc, ok := dev.TextureDesc(r.cube.array)
	require.True(t, ok)
	assert.Equal(t, 12, desc.Layers)
	assert.Equal(t, 2, r.Profiler().Count("shadow casters"))
}

func TestUpdate_PropagatesPassFailure(t *testing.T) {
	r, dev := newTestRenderer(t)
	dev.FailPass = ProgramGtao

	err := r.Update(testContext(0))
	require.Error(t, err)
	var de *gpu.DeviceError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, ProgramGtao, de.Pass)

	names := dev.PassNames()
	assert.Equal(t, ProgramGtao, names[len(names)-1])
	assert.Zero(t, dev.Presents())
	assert.Zero(t, r.FrameCount())

	dev.FailPass = ""
	require.NoError(t, r.Update(testContext(0)))
	assert.Equal(t, uint64(1), r.FrameCount())
}

func TestUpdate_NotReady(t *testing.T) {
	dev := soft.New(testWidth, testHeight)
	r := NewRenderer(dev, Options{Width: testWidth, Height: testHeight})

	require.NoError(t, r.Update(testContext(1)))
	assert.Empty(t, dev.Log())
	assert.ErrorIs(t, r.LoadGeometry(Geometry{}), ErrNotReady)
}

func TestInit_LinkFailure(t *testing.T) {
	dev := soft.New(testWidth, testHeight)
	dev.FailLink[ProgramGtaoTemporal] = true
	r := NewRenderer(dev, Options{Width: testWidth, Height: testHeight})

	err := r.Init()
	require.ErrorIs(t, err, gpu.ErrProgramLink)
	assert.Contains(t, err.Error(), ProgramGtaoTemporal)
	assert.False(t, r.Ready())
	assert.Zero(t, dev.LiveTextures())

	require.NoError(t, r.Update(testContext(1)))
	assert.Empty(t, dev.Log())
}

func TestUpdate_VSyncForwarded(t *testing.T) {
	r, dev := newTestRenderer(t)
	ctx := testContext(0)

	ctx.Settings.EnableVSync = true
	require.NoError(t, r.Update(ctx))
	assert.True(t, dev.VSync())

	ctx.Settings.EnableVSync = false
	require.NoError(t, r.Update(ctx))
	assert.False(t, dev.VSync())
}

func TestUpdate_WireframeAndDrawCount(t *testing.T) {
	r, dev := newTestRenderer(t)
	require.NoError(t, r.LoadGeometry(Geometry{
		Meshes: []Mesh{
			{Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, Indices: []uint32{0, 1, 2}},
			{Positions: []mgl32.Vec3{{0, 0, 1}, {1, 0, 1}, {0, 1, 1}}, Indices: []uint32{0, 1, 2}, Material: 1},
		},
		Materials: []Material{{Diffuse: true}, {}},
	}))
	ctx := testContext(0)
	ctx.Settings.EnableWireframe = true

	require.NoError(t, r.Update(ctx))
	depth := passes(dev, ProgramDepth)[0]
	assert.Equal(t, 2, depth.DrawCount)
	assert.True(t, depth.Raster.Wireframe)

	lighting := passes(dev, ProgramLighting)[0]
	assert.Equal(t, 2, lighting.DrawCount)
	assert.Equal(t, gpu.CompareEqual, lighting.Raster.DepthFunc)
	assert.False(t, lighting.Raster.DepthWrite)
}

func TestRelease(t *testing.T) {
	r, dev := newTestRenderer(t)
	require.NoError(t, r.Update(testContext(1)))

	r.Release()
	assert.False(t, r.Ready())
	assert.Zero(t, dev.LiveTextures())

	dev.ResetLog()
	require.NoError(t, r.Update(testContext(1)))
	assert.Empty(t, dev.Log())
}

func TestRelease_InitAgain(t *testing.T) {
	r, dev := newTestRenderer(t)
	require.NoError(t, r.Update(testContext(2)))
	indices := r.Profiler().Count("light indices")

	r.Release()
	assert.Nil(t, r.culler, "culling pool stopped")
	assert.Zero(t, dev.LiveBuffers())

	require.NoError(t, r.Init())
	dev.ResetLog()
	require.NoError(t, r.Update(testContext(2)))
	assert.Len(t, passes(dev, ProgramShadowCube), 12)
	assert.Equal(t, indices, r.Profiler().Count("light indices"))
	assert.Equal(t, uint64(2), r.FrameCount())
}
