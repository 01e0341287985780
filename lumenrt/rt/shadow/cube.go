package shadow

import (
	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	FacesPerCube = 6
	// MaxShadowCubes caps shadow-casting point lights per frame.
	MaxShadowCubes = 128
)

// cubeFaces is the canonical +X, -X, +Y, -Y, +Z, -Z look set with the
// up vectors cube-map sampling expects.
var cubeFaces = [FacesPerCube]struct{ dir, up mgl32.Vec3 }{
	{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, -1, 0}},
	{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, -1, 0}},
	{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, 1}},
	{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{0, 0, -1}},
	{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, -1, 0}},
	{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, -1, 0}},
}

// CubeNear is the near plane used for a light of the given radius.
func CubeNear(radius float32) float32 {
	if radius <= 1 {
		return radius * 0.01
	}
	return 1
}

// CubeViewProjections returns one 90 degree view-projection per cube face,
// with the light radius as the far plane.
func CubeViewProjections(pos mgl32.Vec3, radius float32, reversed bool) [FacesPerCube]mgl32.Mat4 {
	radius = max(radius, 1e-3)
	near := CubeNear(radius)
	proj := core.PerspectiveZO(mgl32.DegToRad(90), 1, near, radius)
	if reversed {
		proj = core.PerspectiveZO(mgl32.DegToRad(90), 1, radius, near)
	}

	var out [FacesPerCube]mgl32.Mat4
	for i, f := range cubeFaces {
		view := mgl32.LookAtV(pos, pos.Add(f.dir), f.up)
		out[i] = proj.Mul4(view)
	}
	return out
}

// Assignment maps one frame's light snapshot to cube slots.
type Assignment struct {
	// Slots holds the cube slot per light, -1 for lights without one.
	Slots []int32
	// Casters lists light indices in slot order.
	Casters []int
	// Layers is the array layer count this assignment needs.
	Layers int
	// Grew is set when the array must be reallocated before use.
	Grew bool
	// Clamped counts casters beyond the cap that got no slot.
	Clamped int
}

// CubeAllocator tracks the size of the cube shadow array. Slots are handed
// out in list order every frame and carry no identity across frames. The
// array size only changes through Commit, once the caller has the storage.
type CubeAllocator struct {
	layers   int
	maxCubes int
}

func NewCubeAllocator(maxCubes int) *CubeAllocator {
	if maxCubes <= 0 {
		maxCubes = MaxShadowCubes
	}
	return &CubeAllocator{layers: FacesPerCube, maxCubes: maxCubes}
}

func (a *CubeAllocator) Layers() int { return a.layers }

// Cubes is the number of cube views the array holds.
func (a *CubeAllocator) Cubes() int { return a.layers / FacesPerCube }

func (a *CubeAllocator) Assign(lights []core.LightPoint) Assignment {
	as := Assignment{Slots: make([]int32, len(lights))}
	for i, l := range lights {
		as.Slots[i] = -1
		if !l.CastShadows {
			continue
		}
		if len(as.Casters) == a.maxCubes {
			as.Clamped++
			continue
		}
		as.Slots[i] = int32(len(as.Casters))
		as.Casters = append(as.Casters, i)
	}

	need := max(len(as.Casters)*FacesPerCube, FacesPerCube)
	as.Layers = max(a.layers, need)
	as.Grew = need > a.layers
	return as
}

// Commit records that the array now holds layers layers. It never shrinks.
func (a *CubeAllocator) Commit(layers int) {
	a.layers = max(a.layers, layers)
}

// MaxCubes is the per-frame caster cap.
func (a *CubeAllocator) MaxCubes() int { return a.maxCubes }
