package cluster

import (
	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

// Params are the camera inputs clusters depend on. ProjectionInv is the
// inverse of the non-reversed projection.
type Params struct {
	ProjectionInv mgl32.Mat4
	NearZ         float32
	FarZ          float32
}

func ParamsFromCamera(cam *core.Camera) Params {
	return Params{
		ProjectionInv: cam.Projection(false).Inv(),
		NearZ:         cam.NearZ,
		FarZ:          cam.FarZ,
	}
}

// Build computes the view-space AABB of every cluster. Each tile's corners
// are un-projected on the near plane, then pushed along their eye rays to
// the slice's near and far depths.
func Build(p Params) []gpu.ClusterBlock {
	var depths [GridZ + 1]float32
	for k := range depths {
		depths[k] = SliceDepth(k, p.NearZ, p.FarZ)
	}

	var tiles [GridX * GridY][4]mgl32.Vec3
	for t := range tiles {
		x, y, _ := Coords(t)
		x0 := -1 + 2*float32(x)/GridX
		x1 := -1 + 2*float32(x+1)/GridX
		y0 := -1 + 2*float32(y)/GridY
		y1 := -1 + 2*float32(y+1)/GridY
		tiles[t] = [4]mgl32.Vec3{
			core.Unproject(p.ProjectionInv, mgl32.Vec3{x0, y0, 0}),
			core.Unproject(p.ProjectionInv, mgl32.Vec3{x1, y0, 0}),
			core.Unproject(p.ProjectionInv, mgl32.Vec3{x0, y1, 0}),
			core.Unproject(p.ProjectionInv, mgl32.Vec3{x1, y1, 0}),
		}
	}

	clusters := make([]gpu.ClusterBlock, GridSize)
	for i := range clusters {
		x, y, z := Coords(i)
		minV := mgl32.Vec3{inf, inf, inf}
		maxV := mgl32.Vec3{-inf, -inf, -inf}
		for _, d := range [2]float32{depths[z], depths[z+1]} {
			for _, c := range tiles[Index(x, y, 0)] {
				pt := c.Mul(d / -c.Z())
				minV = minVec(minV, pt)
				maxV = maxVec(maxV, pt)
			}
		}
		clusters[i] = gpu.ClusterBlock{Min: minV, Max: maxV}
	}
	return clusters
}

// Builder caches the grid until the camera parameters change.
type Builder struct {
	params   Params
	clusters []gpu.ClusterBlock
}

// Update returns the clusters for p and whether they were rebuilt.
func (b *Builder) Update(p Params) ([]gpu.ClusterBlock, bool) {
	if b.clusters != nil && b.params == p {
		return b.clusters, false
	}
	b.params = p
	b.clusters = Build(p)
	return b.clusters, true
}

// Reset drops the cached grid so the next Update rebuilds it.
func (b *Builder) Reset() {
	b.params = Params{}
	b.clusters = nil
}

const inf = float32(3.4e38)

func minVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{min(a[0], b[0]), min(a[1], b[1]), min(a[2], b[2])}
}

func maxVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{max(a[0], b[0]), max(a[1], b[1]), max(a[2], b[2])}
}
