package app

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
)

// Mesh is one indexed triangle list. Normals and Texcoords are optional
// and, when present, parallel Positions.
type Mesh struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Texcoords []mgl32.Vec2
	Indices   []uint32
	Material  int
}

// Material records which texture maps a material provides. Layers are
// handed out per map kind in material order.
type Material struct {
	Diffuse   bool
	Metalness bool
	Normal    bool
	Roughness bool
}

// Geometry is the already-decoded draw list.
type Geometry struct {
	Meshes    []Mesh
	Materials []Material
}

// packed is Geometry flattened into the storage buffer layouts.
type packed struct {
	vertices  []gpu.VertexBlock
	indices   []uint32
	draws     []gpu.DrawIndirectCommand
	materials []gpu.MaterialBlock
}

func (g Geometry) pack() (packed, error) {
	var p packed
	for mi, m := range g.Meshes {
		if m.Material < 0 || (len(g.Materials) > 0 && m.Material >= len(g.Materials)) {
			return p, fmt.Errorf("mesh %d: material %d out of range", mi, m.Material)
		}
		base := uint32(len(p.vertices))
		first := uint32(len(p.indices))
		for vi, pos := range m.Positions {
			v := gpu.VertexBlock{Position: pos, Material: uint32(m.Material)}
			if vi < len(m.Normals) {
				v.Normal = m.Normals[vi]
			}
			if vi < len(m.Texcoords) {
				v.Texcoord = m.Texcoords[vi]
			}
			p.vertices = append(p.vertices, v)
		}
		for _, idx := range m.Indices {
			if int(idx) >= len(m.Positions) {
				return p, fmt.Errorf("mesh %d: index %d beyond %d vertices", mi, idx, len(m.Positions))
			}
			p.indices = append(p.indices, base+idx)
		}
		p.draws = append(p.draws, gpu.DrawIndirectCommand{
			VertexCount:   uint32(len(m.Indices)),
			InstanceCount: 1,
			FirstVertex:   first,
			FirstInstance: uint32(m.Material),
		})
	}

	var diffuse, metalness, normal, roughness int32
	layer := func(present bool, counter *int32) int32 {
		if !present {
			return -1
		}
		l := *counter
		*counter++
		return l
	}
	for _, m := range g.Materials {
		p.materials = append(p.materials, gpu.MaterialBlock{
			Diffuse:   layer(m.Diffuse, &diffuse),
			Metalness: layer(m.Metalness, &metalness),
			Normal:    layer(m.Normal, &normal),
			Roughness: layer(m.Roughness, &roughness),
		})
	}
	return p, nil
}
