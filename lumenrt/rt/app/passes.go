package app

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/lumen/lumenrt/rt/ao"
	"github.com/gekko3d/lumen/lumenrt/rt/cluster"
	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
	"github.com/gekko3d/lumen/lumenrt/rt/shadow"
)

// Storage slots shared by every program.
const (
	slotCamera = iota
	slotEnvironment
	slotPoints
	slotGrid
	slotIndices
	slotVertices
	slotDrawIndex
	slotMaterials
)

// frame is the per-Update snapshot every pass reads.
type frame struct {
	settings core.Settings
	cam      core.Camera
	env      *core.LightEnvironment
	lights   []core.LightPoint
	assign   shadow.Assignment
	clusters []gpu.ClusterBlock

	reversed     bool
	view         mgl32.Mat4
	proj         mgl32.Mat4
	projStandard mgl32.Mat4
	historyValid bool
}

func (f *frame) clearDepth() float32 {
	if f.reversed {
		return 0
	}
	return 1
}

func (f *frame) depthFunc() gpu.CompareFunc {
	if f.reversed {
		return gpu.CompareGreaterEqual
	}
	return gpu.CompareLessEqual
}

// prepare snapshots ctx and uploads the camera, environment and light
// blocks.
func (r *Renderer) prepare(ctx core.FrameContext, settings core.Settings) (*frame, error) {
	f := &frame{settings: settings, cam: *ctx.Camera, reversed: settings.EnableReverseZ}
	f.cam.ReversedZ = f.reversed
	f.cam.Clamp()

	n := len(ctx.LightPoints)
	if n > core.MaxLightPoints {
		r.log.Debugf("frame %d: %d point lights clamped to %d", r.frame, n, core.MaxLightPoints)
		n = core.MaxLightPoints
	}
	f.lights = append([]core.LightPoint(nil), ctx.LightPoints[:n]...)
	if ctx.LightEnvironment != nil {
		env := *ctx.LightEnvironment
		f.env = &env
	}

	f.view = f.cam.View()
	f.proj = f.cam.Projection(f.reversed)
	f.projStandard = f.cam.Projection(false)
	if !r.hasLastView {
		r.lastView = f.view
	}
	f.historyValid = r.historyValid && r.lastReversed == f.reversed

	if err := r.uploadCamera(f); err != nil {
		return nil, err
	}
	if err := r.uploadEnvironment(f); err != nil {
		return nil, err
	}
	if err := r.uploadLights(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *Renderer) uploadCamera(f *frame) error {
	scale, bias := cluster.SliceFactors(f.cam.NearZ, f.cam.FarZ)
	norm := mgl32.Vec2{1.0 / cluster.GridX, 1.0 / cluster.GridY}
	block := gpu.CameraBlock{
		LastView:                 r.lastView,
		Projection:               f.proj,
		ProjectionInv:            f.proj.Inv(),
		ProjectionNonReversed:    f.projStandard,
		ProjectionNonReversedInv: f.projStandard.Inv(),
		View:                     f.view,
		Position:                 f.cam.Position,
		NormTileDim:              norm,
		TileSizeInv: mgl32.Vec2{
			1 / (float32(r.width) * norm.X()),
			1 / (float32(r.height) * norm.Y()),
		},
		FarZ:       f.cam.FarZ,
		NearZ:      f.cam.NearZ,
		FovX:       f.cam.FovX(),
		FovY:       f.cam.FovYRadians(),
		SliceBias:  bias,
		SliceScale: scale,
	}
	return gpu.Wrap("frame", "upload camera", r.dev.WriteBuffer(r.buf.camera, 0, block.Marshal()))
}

func (r *Renderer) uploadEnvironment(f *frame) error {
	if f.env == nil {
		return nil
	}
	splits := shadow.CascadeSplits(f.cam.FarZ)
	block := gpu.LightEnvironmentBlock{
		ViewProjections:  shadow.FitCascades(&f.cam, f.env.Forward(), splits, f.reversed),
		CascadeDistances: splits,
		Ambient:          f.env.AmbientColor,
		Base:             f.env.BaseColor,
		Direction:        f.env.Forward(),
	}
	return gpu.Wrap("frame", "upload light environment", r.dev.WriteBuffer(r.buf.environment, 0, block.Marshal()))
}

func (r *Renderer) uploadLights(f *frame) error {
	f.assign = r.cubes.Assign(f.lights)
	if f.assign.Clamped > 0 {
		r.log.Debugf("frame %d: %d shadow casters beyond %d cubes get no shadow", r.frame, f.assign.Clamped, r.opts.MaxShadowCubes)
	}
	if f.assign.Grew {
		if err := r.growCubes(f.assign.Layers); err != nil {
			return gpu.Wrap(ProgramShadowCube, "grow", err)
		}
	}
	r.profiler.SetCount("lights", len(f.lights))
	r.profiler.SetCount("shadow casters", len(f.assign.Casters))

	if len(f.lights) == 0 {
		return nil
	}
	blocks := make([]gpu.LightPointBlock, len(f.lights))
	for i, l := range f.lights {
		blocks[i] = gpu.LightPointBlock{
			Position:    l.Position,
			Radius:      l.Radius,
			Color:       l.BaseColor,
			ShadowIndex: f.assign.Slots[i],
		}
		if f.assign.Slots[i] >= 0 {
			blocks[i].ViewProjections = shadow.CubeViewProjections(l.Position, l.Radius, f.reversed)
		}
	}
	return gpu.Wrap("frame", "upload light points", r.dev.WriteBuffer(r.buf.points, 0, gpu.MarshalSlice(blocks)))
}

func (r *Renderer) execute(p *gpu.Pass) error {
	return gpu.Wrap(p.Name, "execute", r.dev.Execute(p))
}

func (r *Renderer) storage(slots ...int) []gpu.StorageBinding {
	ids := [...]gpu.BufferID{
		slotCamera:      r.buf.camera,
		slotEnvironment: r.buf.environment,
		slotPoints:      r.buf.points,
		slotGrid:        r.buf.grid,
		slotIndices:     r.buf.indices,
		slotVertices:    r.buf.vertices,
		slotDrawIndex:   r.buf.drawIndex,
		slotMaterials:   r.buf.materials,
	}
	out := make([]gpu.StorageBinding, len(slots))
	for i, s := range slots {
		out[i] = gpu.StorageBinding{Slot: s, Buffer: ids[s]}
	}
	return out
}

// farMoments clears a shadow layer to the first two depth moments of an
// occluder at the far plane.
var farMoments = [4]float32{1, 1, 0, 0}

func (r *Renderer) shadowCascades(f *frame) error {
	if f.env == nil {
		return nil
	}
	for i := 0; i < shadow.CascadeCount; i++ {
		err := r.execute(&gpu.Pass{
			Name:    ProgramShadowCsm,
			Program: r.programs[ProgramShadowCsm],
			Kind:    gpu.PassDrawIndirect,
			Storage: r.storage(slotEnvironment, slotVertices, slotDrawIndex),
			Color: []gpu.ColorAttachment{{
				View: r.csm.layers[i], Clear: true,
				ClearValue: farMoments,
			}},
			Depth:    &gpu.DepthAttachment{View: r.csm.depth.view, Clear: true, ClearValue: f.clearDepth()},
			Raster:   gpu.RasterState{DepthTest: true, DepthWrite: true, DepthFunc: f.depthFunc()},
			Viewport: gpu.Viewport{Width: r.opts.CsmSize, Height: r.opts.CsmSize},
			Uniforms: []gpu.Uniform{
				gpu.UniformInt(0, int32(i)),
				gpu.UniformBool(1, f.reversed),
			},
			Indirect:  r.buf.indirect,
			DrawCount: r.drawCount,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) shadowCubes(f *frame) error {
	for slot, light := range f.assign.Casters {
		for face := 0; face < shadow.FacesPerCube; face++ {
			err := r.execute(&gpu.Pass{
				Name:    ProgramShadowCube,
				Program: r.programs[ProgramShadowCube],
				Kind:    gpu.PassDrawIndirect,
				Storage: r.storage(slotPoints, slotVertices, slotDrawIndex),
				Color: []gpu.ColorAttachment{{
					View: r.cube.layers[slot*shadow.FacesPerCube+face], Clear: true,
					ClearValue: farMoments,
				}},
				Depth:    &gpu.DepthAttachment{View: r.cube.depth.view, Clear: true, ClearValue: f.clearDepth()},
				Raster:   gpu.RasterState{DepthTest: true, DepthWrite: true, DepthFunc: f.depthFunc()},
				Viewport: gpu.Viewport{Width: r.opts.CubeSize, Height: r.opts.CubeSize},
				Uniforms: []gpu.Uniform{
					gpu.UniformInt(0, int32(light)),
					gpu.UniformInt(1, int32(face)),
				},
				Indirect:  r.buf.indirect,
				DrawCount: r.drawCount,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Renderer) depthPrepass(f *frame) error {
	return r.execute(&gpu.Pass{
		Name:    ProgramDepth,
		Program: r.programs[ProgramDepth],
		Kind:    gpu.PassDrawIndirect,
		Storage: r.storage(slotCamera, slotVertices, slotDrawIndex),
		Depth:   &gpu.DepthAttachment{View: r.depth.Current().mips[0], Clear: true, ClearValue: f.clearDepth()},
		Raster: gpu.RasterState{
			DepthTest: true, DepthWrite: true, DepthFunc: f.depthFunc(),
			CullBack: true, Wireframe: f.settings.EnableWireframe,
		},
		Viewport:  gpu.Viewport{Width: r.width, Height: r.height},
		Indirect:  r.buf.indirect,
		DrawCount: r.drawCount,
	})
}

func mipExtent(size, mip int) int {
	return max(size>>mip, 1)
}

func (r *Renderer) downsampleDepth(f *frame) error {
	mips := r.depth.Current().mips
	for m := 1; m < len(mips); m++ {
		err := r.execute(&gpu.Pass{
			Name:     ProgramDownsampleDepth,
			Program:  r.programs[ProgramDownsampleDepth],
			Kind:     gpu.PassFullscreen,
			Textures: []gpu.TextureBinding{{Slot: 0, View: mips[m-1], Sampler: gpu.SamplerClamp}},
			Depth:    &gpu.DepthAttachment{View: mips[m], Clear: true, ClearValue: f.clearDepth()},
			Raster:   gpu.RasterState{DepthTest: true, DepthWrite: true, DepthFunc: gpu.CompareAlways},
			Viewport: gpu.Viewport{Width: mipExtent(r.width, m), Height: mipExtent(r.height, m)},
			Uniforms: []gpu.Uniform{gpu.UniformBool(0, f.reversed)},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) halfViewport() gpu.Viewport {
	return gpu.Viewport{Width: mipExtent(r.width, 1), Height: mipExtent(r.height, 1)}
}

func aoTarget(view gpu.ViewID) []gpu.ColorAttachment {
	return []gpu.ColorAttachment{{View: view, Clear: true, ClearValue: [4]float32{1, 1, 1, 1}}}
}

func (r *Renderer) gtao(f *frame) error {
	if !f.settings.EnableAmbientOcclusion {
		return nil
	}
	s := f.settings
	return r.execute(&gpu.Pass{
		Name:     ProgramGtao,
		Program:  r.programs[ProgramGtao],
		Kind:     gpu.PassFullscreen,
		Storage:  r.storage(slotCamera),
		Textures: []gpu.TextureBinding{{Slot: 0, View: r.depth.Current().mips[1], Sampler: gpu.SamplerClamp}},
		Color:    aoTarget(r.aoRaw.view),
		Viewport: r.halfViewport(),
		Uniforms: []gpu.Uniform{
			gpu.UniformFloat(0, s.AOFalloffFar),
			gpu.UniformFloat(1, s.AOFalloffNear),
			gpu.UniformInt(2, s.AOSamples),
			gpu.UniformInt(3, s.AOSlices),
			gpu.UniformFloat(4, ao.OffsetFor(r.frame)),
			gpu.UniformFloat(5, s.AORadius),
			gpu.UniformFloat(6, ao.RotationFor(r.frame)),
			gpu.UniformBool(7, f.reversed),
		},
	})
}

func (r *Renderer) gtaoSpatial(f *frame) error {
	if !f.settings.EnableAmbientOcclusion {
		return nil
	}
	return r.execute(&gpu.Pass{
		Name:    ProgramGtaoSpatial,
		Program: r.programs[ProgramGtaoSpatial],
		Kind:    gpu.PassFullscreen,
		Storage: r.storage(slotCamera),
		Textures: []gpu.TextureBinding{
			{Slot: 0, View: r.aoRaw.view, Sampler: gpu.SamplerClamp},
			{Slot: 1, View: r.depth.Current().mips[1], Sampler: gpu.SamplerClamp},
		},
		Color:    aoTarget(r.aoSpatial.view),
		Viewport: r.halfViewport(),
		Uniforms: []gpu.Uniform{gpu.UniformBool(0, f.reversed)},
	})
}

func (r *Renderer) gtaoTemporal(f *frame) error {
	if !f.settings.EnableAmbientOcclusion {
		return nil
	}
	return r.execute(&gpu.Pass{
		Name:    ProgramGtaoTemporal,
		Program: r.programs[ProgramGtaoTemporal],
		Kind:    gpu.PassFullscreen,
		Storage: r.storage(slotCamera),
		Textures: []gpu.TextureBinding{
			{Slot: 0, View: r.aoSpatial.view, Sampler: gpu.SamplerClamp},
			{Slot: 1, View: r.ao.Previous().view, Sampler: gpu.SamplerClamp},
			{Slot: 2, View: r.depth.Current().mips[1], Sampler: gpu.SamplerClamp},
			{Slot: 3, View: r.depth.Previous().mips[1], Sampler: gpu.SamplerClamp},
		},
		Color:    aoTarget(r.ao.Current().view),
		Viewport: r.halfViewport(),
		Uniforms: []gpu.Uniform{
			gpu.UniformBool(0, f.reversed),
			gpu.UniformBool(1, f.historyValid),
		},
	})
}

// buildClusters refreshes the cluster grid when the camera intrinsics
// changed. The AABBs stay on the CPU, where the culler reads them.
func (r *Renderer) buildClusters(f *frame) error {
	clusters, changed := r.builder.Update(cluster.ParamsFromCamera(&f.cam))
	if changed {
		r.log.Debugf("frame %d: cluster grid rebuilt", r.frame)
	}
	f.clusters = clusters
	return nil
}

func (r *Renderer) cullLights(f *frame) error {
	res := r.culler.Cull(f.clusters, f.view, f.projStandard, f.lights)
	if res.Dropped > 0 {
		r.log.Debugf("frame %d: %d light-cluster pairs beyond index capacity %d dropped", r.frame, res.Dropped, r.culler.Capacity())
	}
	r.profiler.SetCount("light indices", len(res.Indices))

	if err := r.dev.WriteBuffer(r.buf.grid, 0, gpu.MarshalSlice(res.Grid)); err != nil {
		return gpu.Wrap("light_culling", "upload grid", err)
	}
	if len(res.Indices) > 0 {
		if err := r.dev.WriteBuffer(r.buf.indices, 0, gpu.Uint32sToBytes(res.Indices)); err != nil {
			return gpu.Wrap("light_culling", "upload indices", err)
		}
	}
	return gpu.Wrap("light_culling", "barrier", r.dev.Barrier())
}

func (r *Renderer) shade(f *frame) error {
	s := f.settings
	return r.execute(&gpu.Pass{
		Name:    ProgramLighting,
		Program: r.programs[ProgramLighting],
		Kind:    gpu.PassDrawIndirect,
		Storage: r.storage(slotCamera, slotEnvironment, slotPoints, slotGrid, slotIndices, slotVertices, slotDrawIndex, slotMaterials),
		Textures: []gpu.TextureBinding{
			{Slot: 0, View: r.ao.Current().view, Sampler: gpu.SamplerClamp},
			{Slot: 1, View: r.csm.array, Sampler: gpu.SamplerBorderWhite},
			{Slot: 2, View: r.cube.array, Sampler: gpu.SamplerBorderWhite},
			{Slot: 3, View: r.diffuse.array, Sampler: gpu.SamplerRepeat},
		},
		Color: []gpu.ColorAttachment{{View: r.lighting.Current().view, Clear: true, ClearValue: [4]float32{0, 0, 0, 1}}},
		Depth: &gpu.DepthAttachment{View: r.depth.Current().mips[0]},
		Raster: gpu.RasterState{
			DepthTest: true, DepthFunc: gpu.CompareEqual,
			CullBack: true, Wireframe: s.EnableWireframe,
		},
		Viewport: gpu.Viewport{Width: r.width, Height: r.height},
		Uniforms: []gpu.Uniform{
			gpu.UniformBool(0, s.EnableAmbientOcclusion),
			gpu.UniformBool(1, f.reversed),
			gpu.UniformInt(2, int32(len(f.lights))),
			gpu.UniformFloat(3, s.ShadowCsmFilterRadius/float32(r.opts.CsmSize)),
			gpu.UniformFloat(4, s.ShadowCsmVarianceMax),
			gpu.UniformFloat(5, s.ShadowCubeFilterRadius/float32(r.opts.CubeSize)),
			gpu.UniformFloat(6, s.ShadowCubeVarianceMax),
			gpu.UniformBool(7, f.env != nil),
		},
		Indirect:  r.buf.indirect,
		DrawCount: r.drawCount,
	})
}

// composite draws the selected image to the screen and presents it. The AO
// view falls back to the lit image while AO is disabled.
func (r *Renderer) composite(f *frame) error {
	source, output := r.lighting.Current().view, core.DrawLighting
	if f.settings.DrawOutput == core.DrawAmbientOcclusion && f.settings.EnableAmbientOcclusion {
		source, output = r.ao.Current().view, core.DrawAmbientOcclusion
	}
	err := r.execute(&gpu.Pass{
		Name:     ProgramScreen,
		Program:  r.programs[ProgramScreen],
		Kind:     gpu.PassFullscreen,
		Textures: []gpu.TextureBinding{{Slot: 0, View: source, Sampler: gpu.SamplerClamp}},
		Color:    []gpu.ColorAttachment{{View: gpu.ScreenView, Clear: true, ClearValue: [4]float32{0, 0, 0, 1}}},
		Viewport: gpu.Viewport{Width: r.width, Height: r.height},
		Uniforms: []gpu.Uniform{gpu.UniformInt(0, int32(output))},
	})
	if err != nil {
		return err
	}
	return gpu.Wrap(ProgramScreen, "present", r.dev.Present())
}
