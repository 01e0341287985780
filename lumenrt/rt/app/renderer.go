// Package app drives the per-frame pass sequence over a gpu.Device.
package app

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/lumen"
	"github.com/gekko3d/lumen/lumenrt/rt/cluster"
	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
	"github.com/gekko3d/lumen/lumenrt/rt/shaders"
	"github.com/gekko3d/lumen/lumenrt/rt/shadow"
)

// ErrNotReady is returned by calls that need a successful Init.
var ErrNotReady = errors.New("renderer not initialized")

// Program names, shared with the device backends.
const (
	ProgramShadowCsm       = "shadow_csm"
	ProgramShadowCube      = "shadow_cube"
	ProgramDepth           = "depth"
	ProgramDownsampleDepth = "downsample_depth"
	ProgramGtao            = "gtao"
	ProgramGtaoSpatial     = "gtao_spatial"
	ProgramGtaoTemporal    = "gtao_temporal"
	ProgramLighting        = "lighting"
	ProgramScreen          = "screen"
)

var programSources = []struct {
	name   string
	source string
}{
	{ProgramShadowCsm, shaders.ShadowCsmWGSL},
	{ProgramShadowCube, shaders.ShadowCubeWGSL},
	{ProgramDepth, shaders.DepthWGSL},
	{ProgramDownsampleDepth, shaders.DownsampleDepthWGSL},
	{ProgramGtao, shaders.GtaoWGSL},
	{ProgramGtaoSpatial, shaders.GtaoSpatialWGSL},
	{ProgramGtaoTemporal, shaders.GtaoTemporalWGSL},
	{ProgramLighting, shaders.LightingWGSL},
	{ProgramScreen, shaders.ScreenWGSL},
}

// Options configure a Renderer. Zero values take defaults.
type Options struct {
	Width  int
	Height int
	Logger lumen.Logger
	// Workers sizes the light culling pool.
	Workers int
	// CsmSize and CubeSize are shadow map extents in texels.
	CsmSize  int
	CubeSize int
	// MaxShadowCubes caps shadow casters per frame. Devices that report an
	// array layer limit lower it to what one cube array can hold.
	MaxShadowCubes int
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 720
	}
	if o.CsmSize <= 0 {
		o.CsmSize = 2048
	}
	if o.CubeSize <= 0 {
		o.CubeSize = 512
	}
	if o.MaxShadowCubes <= 0 {
		o.MaxShadowCubes = shadow.MaxShadowCubes
	}
	o.Logger = lumen.OrNop(o.Logger)
	return o
}

// Renderer is the frame orchestrator. It is not safe for concurrent use;
// Update runs once per frame on one goroutine.
type Renderer struct {
	dev  gpu.Device
	log  lumen.Logger
	opts Options

	ready    bool
	programs map[string]gpu.ProgramID

	width, height int
	buf           buffers
	drawCount     int

	depth     *gpu.History[*depthTarget]
	lighting  *gpu.History[target]
	ao        *gpu.History[target]
	aoRaw     target
	aoSpatial target
	csm       *layered
	cube      *layered
	diffuse   layered

	builder cluster.Builder
	culler  *cluster.Culler
	cubes   *shadow.CubeAllocator

	lastView     mgl32.Mat4
	hasLastView  bool
	lastReversed bool
	historyValid bool
	vsync        bool
	vsyncKnown   bool

	frame    uint64
	profiler *Profiler
}

func NewRenderer(dev gpu.Device, opts Options) *Renderer {
	opts = opts.withDefaults()
	if l, ok := dev.(gpu.ArrayLayerLimiter); ok {
		if limit := l.MaxArrayLayers(); limit > 0 {
			capped := max(limit/shadow.FacesPerCube, 1)
			if capped < opts.MaxShadowCubes {
				opts.Logger.Infof("device allows %d array layers, shadow cubes capped at %d", limit, capped)
				opts.MaxShadowCubes = capped
			}
		}
	}
	return &Renderer{
		dev:      dev,
		log:      opts.Logger,
		opts:     opts,
		programs: make(map[string]gpu.ProgramID),
		width:    max(opts.Width, 2),
		height:   max(opts.Height, 2),
		cubes:    shadow.NewCubeAllocator(opts.MaxShadowCubes),
		profiler: NewProfiler(),
	}
}

// Init links every program and allocates the frame resources. A link
// failure leaves the renderer not ready and Update a no-op.
func (r *Renderer) Init() error {
	for _, p := range programSources {
		id, err := r.dev.LinkProgram(gpu.ProgramDesc{
			Name:          p.name,
			Source:        p.source,
			VertexEntry:   "vs_main",
			FragmentEntry: "fs_main",
		})
		if err != nil {
			r.releasePrograms()
			if !errors.Is(err, gpu.ErrProgramLink) {
				err = fmt.Errorf("%w: %w", gpu.ErrProgramLink, err)
			}
			return fmt.Errorf("link %s: %w", p.name, err)
		}
		r.programs[p.name] = id
	}
	r.log.Debugf("linked %d programs", len(r.programs))

	if r.culler == nil {
		r.culler = cluster.NewCuller(r.opts.Workers, 0)
	}
	r.builder.Reset()
	if err := r.createFrameBuffers(); err != nil {
		return err
	}
	if err := r.createScreenTargets(); err != nil {
		return err
	}
	var err error
	if r.csm, err = r.createLayered("shadow csm", r.opts.CsmSize, shadow.CascadeCount, false); err != nil {
		return err
	}
	if r.cube, err = r.createLayered("shadow cube", r.opts.CubeSize, r.cubes.Layers(), true); err != nil {
		return err
	}
	if err := r.createDiffusePlaceholder(); err != nil {
		return err
	}

	r.ready = true
	r.log.Infof("renderer ready: %dx%d, csm %d, cube %d", r.width, r.height, r.opts.CsmSize, r.opts.CubeSize)
	return nil
}

// createDiffusePlaceholder stands in for the material texture array.
func (r *Renderer) createDiffusePlaceholder() error {
	tex, err := r.dev.CreateTexture(gpu.TextureDesc{Label: "diffuse placeholder", Kind: gpu.Texture2DArray, Width: 1, Height: 1, Layers: 1, Format: gpu.FormatRGBA8Unorm})
	if err != nil {
		return fmt.Errorf("create texture diffuse placeholder: %w", err)
	}
	view, err := r.dev.CreateView(tex, gpu.ViewDesc{Label: "diffuse placeholder", Dimension: gpu.View2DArray})
	if err != nil {
		return fmt.Errorf("create view diffuse placeholder: %w", err)
	}
	r.diffuse = layered{tex: tex, array: view}
	return nil
}

func (r *Renderer) releasePrograms() {
	for name, id := range r.programs {
		r.dev.DestroyProgram(id)
		delete(r.programs, name)
	}
}

// LoadGeometry replaces the draw list.
func (r *Renderer) LoadGeometry(g Geometry) error {
	if !r.ready {
		return ErrNotReady
	}
	p, err := g.pack()
	if err != nil {
		return fmt.Errorf("load geometry: %w", err)
	}
	if err := r.uploadGeometry(p); err != nil {
		return err
	}
	r.log.Debugf("geometry loaded: %d meshes, %d vertices, %d indices, %d materials",
		len(p.draws), len(p.vertices), len(p.indices), len(p.materials))
	return nil
}

// Resize reallocates every screen-sized target. History restarts.
func (r *Renderer) Resize(w, h int) error {
	w, h = max(w, 2), max(h, 2)
	if w == r.width && h == r.height {
		return nil
	}
	r.width, r.height = w, h
	if !r.ready {
		return nil
	}
	r.releaseScreenTargets()
	if err := r.createScreenTargets(); err != nil {
		r.ready = false
		return err
	}
	r.log.Debugf("resized to %dx%d", w, h)
	return nil
}

// Release frees every device resource. The renderer must be re-initialized
// before further use.
func (r *Renderer) Release() {
	r.releaseScreenTargets()
	r.releaseLayered(r.csm)
	r.releaseLayered(r.cube)
	r.csm, r.cube = nil, nil
	if r.diffuse.tex != 0 {
		r.dev.DestroyTexture(r.diffuse.tex)
		r.diffuse = layered{}
	}
	b := r.buf
	for _, id := range []gpu.BufferID{b.camera, b.environment, b.points, b.grid, b.indices, b.vertices, b.drawIndex, b.materials, b.indirect} {
		if id != 0 {
			r.dev.DestroyBuffer(id)
		}
	}
	r.buf = buffers{}
	r.drawCount = 0
	if r.culler != nil {
		r.culler.Close()
		r.culler = nil
	}
	r.releasePrograms()
	r.ready = false
}

func (r *Renderer) Ready() bool { return r.ready }

// FrameCount is the number of completed frames.
func (r *Renderer) FrameCount() uint64 { return r.frame }

func (r *Renderer) Profiler() *Profiler { return r.profiler }

func (r *Renderer) Size() (int, int) { return r.width, r.height }

func (r *Renderer) applyVSync(enabled bool) {
	if r.vsyncKnown && r.vsync == enabled {
		return
	}
	r.dev.SetVSync(enabled)
	r.vsync, r.vsyncKnown = enabled, true
}

type step struct {
	name string
	run  func(*frame) error
}

// Update renders one frame from ctx. It is a no-op before Init succeeds and
// when ctx has no camera. The first failing pass aborts the frame and its
// *gpu.DeviceError is returned.
func (r *Renderer) Update(ctx core.FrameContext) error {
	if !r.ready {
		return nil
	}
	if ctx.Camera == nil {
		r.log.Debugf("frame %d: no active camera, skipped", r.frame)
		return nil
	}

	r.profiler.Begin("frame")
	defer r.profiler.End("frame")

	settings := ctx.Settings.Sanitize()
	r.applyVSync(settings.EnableVSync)

	f, err := r.prepare(ctx, settings)
	if err != nil {
		r.log.Errorf("frame %d: %v", r.frame, err)
		return err
	}

	r.depth.Swap()
	r.lighting.Swap()
	r.ao.Swap()

	steps := []step{
		{ProgramShadowCsm, r.shadowCascades},
		{ProgramShadowCube, r.shadowCubes},
		{ProgramDepth, r.depthPrepass},
		{ProgramDownsampleDepth, r.downsampleDepth},
		{ProgramGtao, r.gtao},
		{ProgramGtaoSpatial, r.gtaoSpatial},
		{ProgramGtaoTemporal, r.gtaoTemporal},
		{"cluster", r.buildClusters},
		{"light_culling", r.cullLights},
		{ProgramLighting, r.shade},
		{ProgramScreen, r.composite},
	}
	for _, s := range steps {
		r.profiler.Begin(s.name)
		err := s.run(f)
		r.profiler.End(s.name)
		if err != nil {
			r.log.Errorf("frame %d: %v", r.frame, err)
			return err
		}
	}

	r.lastView = f.view
	r.hasLastView = true
	r.lastReversed = f.reversed
	r.historyValid = f.settings.EnableAmbientOcclusion
	r.frame++
	return nil
}
