package cluster

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlice_ReferenceCamera(t *testing.T) {
	assert.Equal(t, 0, Slice(1, 1, 100000))
	assert.Equal(t, GridZ-1, Slice(100000, 1, 100000))
	assert.Equal(t, 0, Slice(0.5, 1, 100000), "clamped below near")
	assert.Equal(t, GridZ-1, Slice(1e7, 1, 100000), "clamped beyond far")
}

func TestSlice_Monotonic(t *testing.T) {
	ranges := [][2]float32{{1, 100000}, {0.1, 1000}, {0.5, 300}, {2, 50}}
	for _, r := range ranges {
		near, far := r[0], r[1]
		assert.Equal(t, 0, Slice(near, near, far))
		assert.Equal(t, GridZ-1, Slice(far, near, far))

		prev := 0
		for i := 0; i <= 2000; i++ {
			z := near + (far-near)*float32(i)/2000
			s := Slice(z, near, far)
			require.GreaterOrEqual(t, s, prev, "near=%v far=%v z=%v", near, far, z)
			prev = s
		}
	}
}

func TestSliceDepth_Boundaries(t *testing.T) {
	near, far := float32(1), float32(100000)
	assert.InDelta(t, near, SliceDepth(0, near, far), 1e-4)
	assert.InDelta(t, far, SliceDepth(GridZ, near, far), 1)
	for k := 0; k < GridZ; k++ {
		mid := (SliceDepth(k, near, far) + SliceDepth(k+1, near, far)) / 2
		assert.Equal(t, k, Slice(mid, near, far))
	}
}

func TestIndexCoords(t *testing.T) {
	for _, c := range [][3]int{{0, 0, 0}, {15, 7, 23}, {3, 5, 11}} {
		x, y, z := Coords(Index(c[0], c[1], c[2]))
		assert.Equal(t, c, [3]int{x, y, z})
	}
	assert.Equal(t, GridSize-1, Index(GridX-1, GridY-1, GridZ-1))
}

func testCamera() *core.Camera {
	cam := core.NewCamera(16.0/9.0, mgl32.Vec3{})
	cam.NearZ, cam.FarZ = 1, 1000
	return cam
}

func TestBuild_SliceDepths(t *testing.T) {
	cam := testCamera()
	clusters := Build(ParamsFromCamera(cam))
	require.Len(t, clusters, GridSize)

	for z := 0; z < GridZ; z++ {
		c := clusters[Index(GridX/2, GridY/2, z)]
		assert.InDelta(t, -SliceDepth(z+1, cam.NearZ, cam.FarZ), c.Min.Z(), 0.05*float64(SliceDepth(z+1, cam.NearZ, cam.FarZ)))
		assert.InDelta(t, -SliceDepth(z, cam.NearZ, cam.FarZ), c.Max.Z(), 0.05*float64(SliceDepth(z, cam.NearZ, cam.FarZ)))
		assert.True(t, c.Min.X() < c.Max.X())
		assert.True(t, c.Min.Y() < c.Max.Y())
	}

	// A view-space point lands in the cluster its tile and slice name.
	proj := cam.Projection(false)
	for _, p := range []mgl32.Vec3{{0, 0, -5}, {3, -1, -40}, {-100, 50, -600}} {
		clip := proj.Mul4x1(p.Vec4(1))
		ndc := clip.Vec3().Mul(1 / clip.W())
		tx := int((ndc.X()*0.5 + 0.5) * GridX)
		ty := int((ndc.Y()*0.5 + 0.5) * GridY)
		tz := Slice(-p.Z(), cam.NearZ, cam.FarZ)
		c := clusters[Index(tx, ty, tz)]
		assert.True(t, core.SphereIntersectsAABB(p, 0, c.AABB()), "point %v", p)
	}
}

func TestBuilder_CachesUntilCameraChanges(t *testing.T) {
	cam := testCamera()
	var b Builder
	_, changed := b.Update(ParamsFromCamera(cam))
	assert.True(t, changed)
	_, changed = b.Update(ParamsFromCamera(cam))
	assert.False(t, changed)
	cam.FovY = 60
	_, changed = b.Update(ParamsFromCamera(cam))
	assert.True(t, changed)

	b.Reset()
	_, changed = b.Update(ParamsFromCamera(cam))
	assert.True(t, changed, "reset drops the cache")
}

func bucket(res Result, ci int) []uint32 {
	g := res.Grid[ci]
	out := append([]uint32(nil), res.Indices[g.Offset:g.Offset+g.Count]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestCuller_Completeness(t *testing.T) {
	clusters := []gpu.ClusterBlock{{Min: mgl32.Vec3{-1, -1, -10}, Max: mgl32.Vec3{1, 1, -5}}}
	proj := core.PerspectiveZO(mgl32.DegToRad(90), 1, 1, 100)
	lights := []core.LightPoint{
		core.NewLightPoint(mgl32.Vec3{0, 0, -7}, mgl32.Vec3{1, 1, 1}, 1),
		core.NewLightPoint(mgl32.Vec3{5, 0, -7}, mgl32.Vec3{1, 1, 1}, 1),
		core.NewLightPoint(mgl32.Vec3{2.5, 0, -7}, mgl32.Vec3{1, 1, 1}, 2),
	}

	c := NewCuller(2, 0)
	res := c.Cull(clusters, mgl32.Ident4(), proj, lights)
	assert.Equal(t, []uint32{0, 2}, bucket(res, 0))
	assert.Zero(t, res.Dropped)
}

func TestCuller_MatchesSerialReference(t *testing.T) {
	cam := testCamera()
	cam.Position = mgl32.Vec3{10, 5, -20}
	cam.Yaw, cam.Pitch = 30, -10
	clusters := Build(ParamsFromCamera(cam))
	view := cam.View()
	proj := cam.Projection(false)

	rng := rand.New(rand.NewSource(7))
	lights := make([]core.LightPoint, 200)
	for i := range lights {
		pos := mgl32.Vec3{rng.Float32()*400 - 200, rng.Float32()*100 - 50, rng.Float32()*400 - 200}
		lights[i] = core.NewLightPoint(pos, mgl32.Vec3{1, 1, 1}, 1+rng.Float32()*30)
	}

	res := NewCuller(4, 0).Cull(clusters, view, proj, lights)
	require.Len(t, res.Grid, GridSize)

	planes := core.ExtractFrustum(proj)
	total := 0
	for ci, cl := range clusters {
		var want []uint32
		for li, l := range lights {
			center := view.Mul4x1(l.Position.Vec4(1)).Vec3()
			if core.SphereInFrustum(center, l.Radius, planes) && core.SphereIntersectsAABB(center, l.Radius, cl.AABB()) {
				want = append(want, uint32(li))
			}
		}
		got := bucket(res, ci)
		if len(want) == 0 {
			assert.Empty(t, got, "cluster %d", ci)
		} else {
			assert.Equal(t, want, got, "cluster %d", ci)
		}
		total += len(want)
	}
	assert.Len(t, res.Indices, total)
	assert.Positive(t, total)
}

func TestCuller_ClampsAtCapacity(t *testing.T) {
	clusters := make([]gpu.ClusterBlock, 8)
	for i := range clusters {
		clusters[i] = gpu.ClusterBlock{Min: mgl32.Vec3{-1, -1, -10}, Max: mgl32.Vec3{1, 1, -5}}
	}
	proj := core.PerspectiveZO(mgl32.DegToRad(90), 1, 1, 100)
	lights := make([]core.LightPoint, 5)
	for i := range lights {
		lights[i] = core.NewLightPoint(mgl32.Vec3{0, 0, -7}, mgl32.Vec3{1, 1, 1}, 3)
	}

	capacity := 12
	res := NewCuller(3, capacity).Cull(clusters, mgl32.Ident4(), proj, lights)
	assert.Len(t, res.Indices, capacity)
	assert.Equal(t, 8*5-capacity, res.Dropped)

	sum := 0
	for _, g := range res.Grid {
		assert.LessOrEqual(t, int(g.Offset+g.Count), capacity)
		sum += int(g.Count)
	}
	assert.Equal(t, capacity, sum)
}

func TestCuller_Close(t *testing.T) {
	cam := testCamera()
	clusters := Build(ParamsFromCamera(cam))
	view := cam.View()
	proj := cam.Projection(false)

	rng := rand.New(rand.NewSource(11))
	lights := make([]core.LightPoint, 64)
	for i := range lights {
		pos := mgl32.Vec3{rng.Float32()*100 - 50, rng.Float32()*20 - 10, -rng.Float32() * 200}
		lights[i] = core.NewLightPoint(pos, mgl32.Vec3{1, 1, 1}, 1+rng.Float32()*10)
	}

	c := NewCuller(4, 0)
	res := c.Cull(clusters, view, proj, lights)
	want := make([][]uint32, len(clusters))
	for ci := range clusters {
		want[ci] = bucket(res, ci)
	}

	c.Close()
	c.Close()
	res = c.Cull(clusters, view, proj, lights)
	for ci := range clusters {
		assert.Equal(t, want[ci], bucket(res, ci), "cluster %d", ci)
	}
}
