package app

import (
	"fmt"

	"github.com/gekko3d/lumen/lumenrt/rt/ao"
	"github.com/gekko3d/lumen/lumenrt/rt/cluster"
	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
	"github.com/gekko3d/lumen/lumenrt/rt/shadow"
)

// target is a single-mip, single-layer render target with its view.
type target struct {
	tex  gpu.TextureID
	view gpu.ViewID
}

// depthTarget is a depth texture with one view per mip.
type depthTarget struct {
	tex  gpu.TextureID
	mips []gpu.ViewID
}

// layered is an array texture with one render view per layer and the
// sampling views over it.
type layered struct {
	tex    gpu.TextureID
	layers []gpu.ViewID
	array  gpu.ViewID
	depth  target
}

type buffers struct {
	camera      gpu.BufferID
	environment gpu.BufferID
	points      gpu.BufferID
	grid        gpu.BufferID
	indices     gpu.BufferID

	vertices  gpu.BufferID
	drawIndex gpu.BufferID
	materials gpu.BufferID
	indirect  gpu.BufferID
}

func (r *Renderer) createBuffer(label string, size int, usage gpu.BufferUsage) (gpu.BufferID, error) {
	id, err := r.dev.CreateBuffer(label, size, usage|gpu.BufferCopyDst)
	if err != nil {
		return 0, fmt.Errorf("create buffer %s: %w", label, err)
	}
	return id, nil
}

func (r *Renderer) createFrameBuffers() error {
	var err error
	b := &r.buf
	specs := []struct {
		id    *gpu.BufferID
		label string
		size  int
	}{
		{&b.camera, "camera", gpu.CameraBlockSize},
		{&b.environment, "light environment", gpu.LightEnvironmentBlockSize},
		{&b.points, "light points", core.MaxLightPoints * gpu.LightPointBlockSize},
		{&b.grid, "light grid", cluster.GridSize * gpu.LightGridBlockSize},
		{&b.indices, "light indices", r.culler.Capacity() * 4},
	}
	for _, s := range specs {
		if *s.id, err = r.createBuffer(s.label, s.size, gpu.BufferStorage); err != nil {
			return err
		}
	}
	return r.uploadGeometry(packed{})
}

func (r *Renderer) createTarget(label string, w, h int, format gpu.Format) (target, error) {
	tex, err := r.dev.CreateTexture(gpu.TextureDesc{Label: label, Kind: gpu.Texture2D, Width: w, Height: h, Format: format})
	if err != nil {
		return target{}, fmt.Errorf("create texture %s: %w", label, err)
	}
	view, err := r.dev.CreateView(tex, gpu.ViewDesc{Label: label, Dimension: gpu.View2D})
	if err != nil {
		return target{}, fmt.Errorf("create view %s: %w", label, err)
	}
	return target{tex: tex, view: view}, nil
}

func (r *Renderer) createDepth(label string, w, h int) (*depthTarget, error) {
	mips := ao.MipCount(w, h)
	tex, err := r.dev.CreateTexture(gpu.TextureDesc{
		Label: label, Kind: gpu.Texture2D, Width: w, Height: h, MipLevels: mips, Format: gpu.FormatDepth32Float,
	})
	if err != nil {
		return nil, fmt.Errorf("create texture %s: %w", label, err)
	}
	d := &depthTarget{tex: tex}
	for m := 0; m < mips; m++ {
		v, err := r.dev.CreateView(tex, gpu.ViewDesc{Label: fmt.Sprintf("%s mip %d", label, m), Dimension: gpu.View2D, BaseMip: m, MipCount: 1})
		if err != nil {
			return nil, fmt.Errorf("create view %s mip %d: %w", label, m, err)
		}
		d.mips = append(d.mips, v)
	}
	return d, nil
}

// createScreenTargets allocates every screen-sized texture, both history
// roles included. History content starts invalid.
func (r *Renderer) createScreenTargets() error {
	w, h := r.width, r.height
	hw, hh := max(w/2, 1), max(h/2, 1)

	var depth [2]*depthTarget
	var lit, occ [2]target
	var err error
	for i, slot := range [2]string{"a", "b"} {
		if depth[i], err = r.createDepth("depth "+slot, w, h); err != nil {
			return err
		}
		if lit[i], err = r.createTarget("lighting "+slot, w, h, gpu.FormatRGBA16Float); err != nil {
			return err
		}
		if occ[i], err = r.createTarget("ao history "+slot, hw, hh, gpu.FormatR16Float); err != nil {
			return err
		}
	}
	r.depth = gpu.NewHistory(depth[0], depth[1])
	r.lighting = gpu.NewHistory(lit[0], lit[1])
	r.ao = gpu.NewHistory(occ[0], occ[1])

	if r.aoRaw, err = r.createTarget("ao raw", hw, hh, gpu.FormatR16Float); err != nil {
		return err
	}
	if r.aoSpatial, err = r.createTarget("ao spatial", hw, hh, gpu.FormatR16Float); err != nil {
		return err
	}
	r.historyValid = false
	return nil
}

func (r *Renderer) releaseScreenTargets() {
	if r.depth == nil {
		return
	}
	for _, d := range r.depth.Slots() {
		r.dev.DestroyTexture(d.tex)
	}
	for _, t := range r.lighting.Slots() {
		r.dev.DestroyTexture(t.tex)
	}
	for _, t := range r.ao.Slots() {
		r.dev.DestroyTexture(t.tex)
	}
	r.dev.DestroyTexture(r.aoRaw.tex)
	r.dev.DestroyTexture(r.aoSpatial.tex)
	r.depth, r.lighting, r.ao = nil, nil, nil
}

// createLayered allocates a two-moment colour array with per-layer render
// views, an array (or cube-array) view for sampling and a shared depth
// buffer. Nothing is left allocated when it fails.
func (r *Renderer) createLayered(label string, size, layers int, cube bool) (_ *layered, err error) {
	kind, dim := gpu.Texture2DArray, gpu.View2DArray
	if cube {
		kind, dim = gpu.TextureCubeArray, gpu.ViewCubeArray
	}
	tex, err := r.dev.CreateTexture(gpu.TextureDesc{Label: label, Kind: kind, Width: size, Height: size, Layers: layers, Format: gpu.FormatRG32Float})
	if err != nil {
		return nil, fmt.Errorf("create texture %s: %w", label, err)
	}
	l := &layered{tex: tex}
	defer func() {
		if err != nil {
			r.releaseLayered(l)
		}
	}()
	for i := 0; i < layers; i++ {
		v, err := r.dev.CreateView(tex, gpu.ViewDesc{Label: fmt.Sprintf("%s layer %d", label, i), Dimension: gpu.View2D, BaseLayer: i, LayerCount: 1})
		if err != nil {
			return nil, fmt.Errorf("create view %s layer %d: %w", label, i, err)
		}
		l.layers = append(l.layers, v)
	}
	if l.array, err = r.dev.CreateView(tex, gpu.ViewDesc{Label: label, Dimension: dim}); err != nil {
		return nil, fmt.Errorf("create view %s: %w", label, err)
	}
	depthTex, err := r.dev.CreateTexture(gpu.TextureDesc{Label: label + " depth", Kind: gpu.Texture2D, Width: size, Height: size, Format: gpu.FormatDepth32Float})
	if err != nil {
		return nil, fmt.Errorf("create texture %s depth: %w", label, err)
	}
	l.depth.tex = depthTex
	if l.depth.view, err = r.dev.CreateView(depthTex, gpu.ViewDesc{Label: label + " depth", Dimension: gpu.View2D}); err != nil {
		return nil, fmt.Errorf("create view %s depth: %w", label, err)
	}
	return l, nil
}

func (r *Renderer) releaseLayered(l *layered) {
	if l == nil {
		return
	}
	r.dev.DestroyTexture(l.tex)
	if l.depth.tex != 0 {
		r.dev.DestroyTexture(l.depth.tex)
	}
}

// growCubes swaps in a cube array of the given layer count and commits it
// to the allocator. On failure the old array and count stay in place.
// Old contents are dropped; every face is redrawn each frame.
func (r *Renderer) growCubes(layers int) error {
	cube, err := r.createLayered("shadow cube", r.opts.CubeSize, layers, true)
	if err != nil {
		return err
	}
	r.releaseLayered(r.cube)
	r.cube = cube
	r.cubes.Commit(layers)
	r.log.Infof("cube shadow array grown to %d layers (%d cubes)", layers, layers/shadow.FacesPerCube)
	return nil
}

// uploadGeometry replaces the draw list buffers. Empty lists keep
// one-element buffers so bindings stay valid. The previous buffers stay
// bound until every new one is written.
func (r *Renderer) uploadGeometry(p packed) error {
	vertices := p.vertices
	if len(vertices) == 0 {
		vertices = []gpu.VertexBlock{{}}
	}
	indices := p.indices
	if len(indices) == 0 {
		indices = []uint32{0}
	}
	materials := p.materials
	if len(materials) == 0 {
		materials = []gpu.MaterialBlock{{Diffuse: -1, Metalness: -1, Normal: -1, Roughness: -1}}
	}
	draws := p.draws
	if len(draws) == 0 {
		draws = []gpu.DrawIndirectCommand{{}}
	}

	b := &r.buf
	uploads := []struct {
		id    *gpu.BufferID
		label string
		usage gpu.BufferUsage
		data  []byte
	}{
		{&b.vertices, "vertices", gpu.BufferStorage, gpu.MarshalSlice(vertices)},
		{&b.drawIndex, "indices", gpu.BufferStorage, gpu.Uint32sToBytes(indices)},
		{&b.materials, "materials", gpu.BufferStorage, gpu.MarshalSlice(materials)},
		{&b.indirect, "draw commands", gpu.BufferIndirect, gpu.MarshalSlice(draws)},
	}
	fresh := make([]gpu.BufferID, 0, len(uploads))
	abandon := func(err error) error {
		for _, id := range fresh {
			r.dev.DestroyBuffer(id)
		}
		return err
	}
	for _, u := range uploads {
		id, err := r.createBuffer(u.label, len(u.data), u.usage)
		if err != nil {
			return abandon(err)
		}
		fresh = append(fresh, id)
		if err := r.dev.WriteBuffer(id, 0, u.data); err != nil {
			return abandon(fmt.Errorf("upload %s: %w", u.label, err))
		}
	}
	for i, u := range uploads {
		if *u.id != 0 {
			r.dev.DestroyBuffer(*u.id)
		}
		*u.id = fresh[i]
	}
	r.drawCount = len(p.draws)
	return nil
}
