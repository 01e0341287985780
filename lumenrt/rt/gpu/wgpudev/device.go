// Package wgpudev implements gpu.Device on WebGPU.
package wgpudev

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/gekko3d/lumen"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
)

// ErrMissingFeature is returned when the adapter cannot draw with a
// non-zero first instance from an indirect buffer.
var ErrMissingFeature = errors.New("adapter lacks indirect-first-instance")

type textureEntry struct {
	tex   *wgpu.Texture
	desc  gpu.TextureDesc
	views []gpu.ViewID
}

type viewEntry struct {
	view   *wgpu.TextureView
	tex    gpu.TextureID
	desc   gpu.ViewDesc
	format gpu.Format
}

type programEntry struct {
	desc   gpu.ProgramDesc
	module *wgpu.ShaderModule
}

// Device owns the WebGPU instance, surface and every resource it hands out.
type Device struct {
	mu     sync.Mutex
	logger lumen.Logger

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	surface  *wgpu.Surface
	config   *wgpu.SurfaceConfiguration

	nextID    uint32
	buffers   map[gpu.BufferID]*wgpu.Buffer
	textures  map[gpu.TextureID]*textureEntry
	views     map[gpu.ViewID]*viewEntry
	programs  map[gpu.ProgramID]*programEntry
	layouts   map[string]*layout
	pipelines map[pipelineKey]*wgpu.RenderPipeline
	samplers  map[samplerKey]*wgpu.Sampler
	uniforms  *wgpu.Buffer
	maxLayers int

	// Acquired lazily by the first pass drawing to gpu.ScreenView.
	frame     *wgpu.Texture
	frameView *wgpu.TextureView
}

// New opens a device presenting to window.
func New(window *glfw.Window, logger lumen.Logger) (*Device, error) {
	d := &Device{
		logger:    lumen.OrNop(logger),
		buffers:   make(map[gpu.BufferID]*wgpu.Buffer),
		textures:  make(map[gpu.TextureID]*textureEntry),
		views:     make(map[gpu.ViewID]*viewEntry),
		programs:  make(map[gpu.ProgramID]*programEntry),
		layouts:   make(map[string]*layout),
		pipelines: make(map[pipelineKey]*wgpu.RenderPipeline),
		samplers:  make(map[samplerKey]*wgpu.Sampler),
	}

	d.instance = wgpu.CreateInstance(nil)
	d.surface = d.instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(window))

	var err error
	d.adapter, err = d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: d.surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	if !d.adapter.HasFeature(wgpu.FeatureNameIndirectFirstInstance) {
		return nil, ErrMissingFeature
	}

	// Default limits cap array textures at 256 layers. Ask for the adapter's
	// own limit so more shadow cubes fit.
	limits := wgpu.DefaultLimits()
	limits.MaxTextureArrayLayers = max(limits.MaxTextureArrayLayers, d.adapter.GetLimits().Limits.MaxTextureArrayLayers)
	d.device, err = d.adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:            "lumen",
		RequiredFeatures: []wgpu.FeatureName{wgpu.FeatureNameIndirectFirstInstance},
		RequiredLimits:   &wgpu.RequiredLimits{Limits: limits},
	})
	if err != nil {
		return nil, fmt.Errorf("request device: %w", err)
	}
	d.queue = d.device.GetQueue()
	d.maxLayers = int(limits.MaxTextureArrayLayers)

	width, height := window.GetFramebufferSize()
	caps := d.surface.GetCapabilities(d.adapter)
	d.config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(max(width, 1)),
		Height:      uint32(max(height, 1)),
		PresentMode: wgpu.PresentModeImmediate,
		AlphaMode:   caps.AlphaModes[0],
	}
	d.surface.Configure(d.adapter, d.device, d.config)

	d.uniforms, err = d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "pass uniforms",
		Size:  gpu.MaxUniforms * 4,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("uniform buffer: %w", err)
	}
	d.logger.Infof("webgpu device ready, surface %dx%d format %v", d.config.Width, d.config.Height, d.config.Format)
	return d, nil
}

// MaxArrayLayers is the layer limit the device was opened with.
func (d *Device) MaxArrayLayers() int { return d.maxLayers }

func (d *Device) id() uint32 {
	d.nextID++
	return d.nextID
}

// ResizeSurface reconfigures the swapchain.
func (d *Device) ResizeSurface(w, h int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w <= 0 || h <= 0 {
		return
	}
	d.config.Width, d.config.Height = uint32(w), uint32(h)
	d.surface.Configure(d.adapter, d.device, d.config)
}

func (d *Device) SetVSync(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mode := wgpu.PresentModeImmediate
	if enabled {
		mode = wgpu.PresentModeFifo
	}
	if d.config.PresentMode == mode {
		return
	}
	d.config.PresentMode = mode
	d.surface.Configure(d.adapter, d.device, d.config)
}

func bufferUsage(u gpu.BufferUsage) wgpu.BufferUsage {
	var out wgpu.BufferUsage
	if u&gpu.BufferStorage != 0 {
		out |= wgpu.BufferUsageStorage
	}
	if u&gpu.BufferIndirect != 0 {
		out |= wgpu.BufferUsageIndirect
	}
	if u&gpu.BufferCopyDst != 0 {
		out |= wgpu.BufferUsageCopyDst
	}
	return out
}

func (d *Device) CreateBuffer(label string, size int, usage gpu.BufferUsage) (gpu.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if size <= 0 {
		return 0, fmt.Errorf("buffer %q: invalid size %d", label, size)
	}
	// Storage bindings need 4-byte aligned sizes.
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  uint64((size + 3) &^ 3),
		Usage: bufferUsage(usage) | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return 0, fmt.Errorf("buffer %q: %w", label, err)
	}
	id := gpu.BufferID(d.id())
	d.buffers[id] = buf
	return id, nil
}

func (d *Device) WriteBuffer(id gpu.BufferID, offset int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("buffer %d: %w", id, gpu.ErrNotFound)
	}
	if offset < 0 || uint64(offset+len(data)) > buf.GetSize() {
		return fmt.Errorf("buffer %d: %d bytes at %d: %w", id, len(data), offset, gpu.ErrOutOfRange)
	}
	if len(data) == 0 {
		return nil
	}
	// Queue writes must be a multiple of 4 bytes.
	if pad := len(data) % 4; pad != 0 && uint64(offset+len(data)+4-pad) <= buf.GetSize() {
		data = append(data[:len(data):len(data)], make([]byte, 4-pad)...)
	}
	return d.queue.WriteBuffer(buf, uint64(offset), data)
}

func (d *Device) DestroyBuffer(id gpu.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if buf, ok := d.buffers[id]; ok {
		buf.Release()
		delete(d.buffers, id)
	}
}

func textureFormat(f gpu.Format) wgpu.TextureFormat {
	switch f {
	case gpu.FormatR16Float:
		return wgpu.TextureFormatR16Float
	case gpu.FormatR32Float:
		return wgpu.TextureFormatR32Float
	case gpu.FormatRG32Float:
		return wgpu.TextureFormatRG32Float
	case gpu.FormatRGBA8Unorm:
		return wgpu.TextureFormatRGBA8Unorm
	case gpu.FormatRGBA16Float:
		return wgpu.TextureFormatRGBA16Float
	case gpu.FormatDepth16Unorm:
		return wgpu.TextureFormatDepth16Unorm
	case gpu.FormatDepth32Float:
		return wgpu.TextureFormatDepth32Float
	}
	return wgpu.TextureFormatUndefined
}

func viewDimension(v gpu.ViewDimension) wgpu.TextureViewDimension {
	switch v {
	case gpu.View2DArray:
		return wgpu.TextureViewDimension2DArray
	case gpu.ViewCube:
		return wgpu.TextureViewDimensionCube
	case gpu.ViewCubeArray:
		return wgpu.TextureViewDimensionCubeArray
	}
	return wgpu.TextureViewDimension2D
}

func (d *Device) CreateTexture(desc gpu.TextureDesc) (gpu.TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc.Layers = max(desc.Layers, 1)
	desc.MipLevels = max(desc.MipLevels, 1)
	if desc.Kind == gpu.TextureCubeArray && desc.Layers%6 != 0 {
		return 0, fmt.Errorf("texture %q: cube array needs a multiple of 6 layers, got %d", desc.Label, desc.Layers)
	}
	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         desc.Label,
		Size:          wgpu.Extent3D{Width: uint32(desc.Width), Height: uint32(desc.Height), DepthOrArrayLayers: uint32(desc.Layers)},
		MipLevelCount: uint32(desc.MipLevels),
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        textureFormat(desc.Format),
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return 0, fmt.Errorf("texture %q: %w", desc.Label, err)
	}
	id := gpu.TextureID(d.id())
	d.textures[id] = &textureEntry{tex: tex, desc: desc}
	return id, nil
}

func (d *Device) CreateView(tex gpu.TextureID, desc gpu.ViewDesc) (gpu.ViewID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[tex]
	if !ok {
		return 0, fmt.Errorf("texture %d: %w", tex, gpu.ErrNotFound)
	}
	if desc.MipCount == 0 {
		desc.MipCount = t.desc.MipLevels - desc.BaseMip
	}
	if desc.LayerCount == 0 {
		desc.LayerCount = t.desc.Layers - desc.BaseLayer
	}
	if desc.BaseMip+desc.MipCount > t.desc.MipLevels || desc.BaseLayer+desc.LayerCount > t.desc.Layers {
		return 0, fmt.Errorf("view %q of %q: %w", desc.Label, t.desc.Label, gpu.ErrOutOfRange)
	}
	view, err := t.tex.CreateView(&wgpu.TextureViewDescriptor{
		Label:           desc.Label,
		Format:          textureFormat(t.desc.Format),
		Dimension:       viewDimension(desc.Dimension),
		BaseMipLevel:    uint32(desc.BaseMip),
		MipLevelCount:   uint32(desc.MipCount),
		BaseArrayLayer:  uint32(desc.BaseLayer),
		ArrayLayerCount: uint32(desc.LayerCount),
		Aspect:          wgpu.TextureAspectAll,
	})
	if err != nil {
		return 0, fmt.Errorf("view %q: %w", desc.Label, err)
	}
	id := gpu.ViewID(d.id())
	d.views[id] = &viewEntry{view: view, tex: tex, desc: desc, format: t.desc.Format}
	t.views = append(t.views, id)
	return id, nil
}

func (d *Device) DestroyTexture(id gpu.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return
	}
	for _, v := range t.views {
		if e, ok := d.views[v]; ok {
			e.view.Release()
			delete(d.views, v)
		}
	}
	t.tex.Release()
	delete(d.textures, id)
}

func (d *Device) LinkProgram(desc gpu.ProgramDesc) (gpu.ProgramID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          desc.Name,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: desc.Source},
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %v: %w", desc.Name, err, gpu.ErrProgramLink)
	}
	id := gpu.ProgramID(d.id())
	d.programs[id] = &programEntry{desc: desc, module: module}
	return id, nil
}

func (d *Device) DestroyProgram(id gpu.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.programs[id]
	if !ok {
		return
	}
	for key, pipe := range d.pipelines {
		if key.program == id {
			pipe.Release()
			delete(d.pipelines, key)
		}
	}
	p.module.Release()
	delete(d.programs, id)
}

// Barrier is a no-op: every Execute is its own queue submission and the
// queue orders submissions and buffer writes.
func (d *Device) Barrier() error { return nil }

func (d *Device) Present() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frame == nil {
		return nil
	}
	d.surface.Present()
	d.frameView.Release()
	d.frame.Release()
	d.frame, d.frameView = nil, nil
	return nil
}

// acquireFrame returns the current swapchain view, fetching it once per frame.
func (d *Device) acquireFrame() (*wgpu.TextureView, error) {
	if d.frameView != nil {
		return d.frameView, nil
	}
	tex, err := d.surface.GetCurrentTexture()
	if err != nil {
		return nil, fmt.Errorf("acquire surface texture: %w", err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("surface view: %w", err)
	}
	d.frame, d.frameView = tex, view
	return view, nil
}

// Release frees every resource and the device itself.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.pipelines {
		p.Release()
	}
	for _, l := range d.layouts {
		l.release()
	}
	for _, s := range d.samplers {
		s.Release()
	}
	for _, v := range d.views {
		v.view.Release()
	}
	for _, t := range d.textures {
		t.tex.Release()
	}
	for _, b := range d.buffers {
		b.Release()
	}
	for _, p := range d.programs {
		p.module.Release()
	}
	if d.frameView != nil {
		d.frameView.Release()
		d.frame.Release()
	}
	d.uniforms.Release()
	d.queue.Release()
	d.device.Release()
	d.adapter.Release()
	d.surface.Release()
	d.instance.Release()
}
