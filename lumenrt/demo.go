package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/lumen/lumenrt/rt/app"
	"github.com/gekko3d/lumen/lumenrt/rt/core"
)

// demo is a ground plane with a ring of boxes and orbiting point lights.
type demo struct {
	*core.Scene
	camera   *core.Camera
	lights   []core.Handle
	geometry app.Geometry
	time     float32
}

func demoScene(aspect float32, lights, casters int) *demo {
	d := &demo{Scene: core.NewScene()}
	d.camera = core.NewCamera(aspect, mgl32.Vec3{0, 12, 30})
	d.camera.Pitch = -20
	d.camera.Yaw = -90
	d.AddCamera(d.camera)
	d.AddLightEnvironment(core.NewLightEnvironment())

	lights = min(max(lights, 0), core.MaxLightPoints)
	for i := 0; i < lights; i++ {
		hue := float64(i) / float64(max(lights, 1))
		color := mgl32.Vec3{
			float32(0.5 + 0.5*math.Cos(2*math.Pi*hue)),
			float32(0.5 + 0.5*math.Cos(2*math.Pi*(hue+1.0/3))),
			float32(0.5 + 0.5*math.Cos(2*math.Pi*(hue+2.0/3))),
		}
		l := core.NewLightPoint(mgl32.Vec3{}, color, 6)
		l.CastShadows = i < casters
		d.lights = append(d.lights, d.AddLightPoint(l))
	}

	d.geometry.Materials = []app.Material{{Diffuse: true}, {Diffuse: true, Roughness: true}}
	d.geometry.Meshes = append(d.geometry.Meshes, quad(40, 0))
	for i := 0; i < 12; i++ {
		a := float64(i) / 12 * 2 * math.Pi
		center := mgl32.Vec3{float32(12 * math.Cos(a)), 1, float32(12 * math.Sin(a))}
		d.geometry.Meshes = append(d.geometry.Meshes, box(center, 1, 1))
	}
	d.step(0)
	return d
}

// step advances the light orbits by dt seconds.
func (d *demo) step(dt float32) {
	d.time += dt
	for i, h := range d.lights {
		l, ok := d.LightPoint(h)
		if !ok {
			continue
		}
		a := float64(d.time)*0.3 + float64(i)/float64(len(d.lights))*2*math.Pi
		r := 6 + 8*float64(i%4)/3
		l.Position = mgl32.Vec3{float32(r * math.Cos(a)), 1.5, float32(r * math.Sin(a))}
	}
}

func quad(half float32, material int) app.Mesh {
	up := mgl32.Vec3{0, 1, 0}
	return app.Mesh{
		Positions: []mgl32.Vec3{{-half, 0, -half}, {half, 0, -half}, {half, 0, half}, {-half, 0, half}},
		Normals:   []mgl32.Vec3{up, up, up, up},
		Texcoords: []mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
		Indices:   []uint32{0, 2, 1, 0, 3, 2},
		Material:  material,
	}
}

// box emits 24 vertices so every face keeps a flat normal.
func box(center mgl32.Vec3, half float32, material int) app.Mesh {
	faces := [6][2]mgl32.Vec3{
		{{1, 0, 0}, {0, 1, 0}}, {{-1, 0, 0}, {0, 1, 0}},
		{{0, 1, 0}, {0, 0, 1}}, {{0, -1, 0}, {0, 0, 1}},
		{{0, 0, 1}, {0, 1, 0}}, {{0, 0, -1}, {0, 1, 0}},
	}
	m := app.Mesh{Material: material}
	for _, f := range faces {
		n, up := f[0], f[1]
		right := up.Cross(n)
		base := uint32(len(m.Positions))
		for _, c := range [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}} {
			p := center.Add(n.Mul(half)).Add(right.Mul(c[0] * half)).Add(up.Mul(c[1] * half))
			m.Positions = append(m.Positions, p)
			m.Normals = append(m.Normals, n)
			m.Texcoords = append(m.Texcoords, mgl32.Vec2{(c[0] + 1) / 2, (c[1] + 1) / 2})
		}
		m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return m
}
