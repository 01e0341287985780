package wgpudev

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
)

// Bind groups: 0 storage buffers at their slot, 1 textures at slot*2 with
// a sampler at slot*2+1, 2 the uniform block at binding 0.
const (
	groupStorage  = 0
	groupTextures = 1
	groupUniforms = 2
	groupCount    = 3

	wireframeWord = gpu.MaxUniforms - 1
)

type layout struct {
	groups   [groupCount]*wgpu.BindGroupLayout
	pipeline *wgpu.PipelineLayout
}

func (l *layout) release() {
	l.pipeline.Release()
	for _, g := range l.groups {
		g.Release()
	}
}

type pipelineKey struct {
	program gpu.ProgramID
	layout  string
	colors  string
	depth   wgpu.TextureFormat
	raster  gpu.RasterState
}

type samplerKey struct {
	kind      gpu.SamplerKind
	filtering bool
}

// filterable reports whether a format may be sampled with linear filtering.
func filterable(f gpu.Format) bool {
	return f != gpu.FormatR32Float && f != gpu.FormatRG32Float && !f.IsDepth()
}

type textureSlot struct {
	binding gpu.TextureBinding
	view    *viewEntry
}

func (d *Device) textureSlots(p *gpu.Pass) ([]textureSlot, error) {
	slots := make([]textureSlot, 0, len(p.Textures))
	for _, t := range p.Textures {
		v, ok := d.views[t.View]
		if !ok {
			return nil, fmt.Errorf("texture slot %d: view %d: %w", t.Slot, t.View, gpu.ErrNotFound)
		}
		slots = append(slots, textureSlot{binding: t, view: v})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].binding.Slot < slots[j].binding.Slot })
	return slots, nil
}

// signature identifies the bind group layouts a pass needs.
func signature(p *gpu.Pass, textures []textureSlot) string {
	var b strings.Builder
	storage := make([]int, 0, len(p.Storage))
	for _, s := range p.Storage {
		storage = append(storage, s.Slot)
	}
	sort.Ints(storage)
	fmt.Fprintf(&b, "s%v", storage)
	for _, t := range textures {
		fmt.Fprintf(&b, "|t%d:%d:%t", t.binding.Slot, t.view.desc.Dimension, filterable(t.view.format))
	}
	return b.String()
}

func (d *Device) layoutFor(sig string, p *gpu.Pass, textures []textureSlot) (*layout, error) {
	if l, ok := d.layouts[sig]; ok {
		return l, nil
	}
	visibility := wgpu.ShaderStageVertex | wgpu.ShaderStageFragment

	var storage []wgpu.BindGroupLayoutEntry
	for _, s := range p.Storage {
		storage = append(storage, wgpu.BindGroupLayoutEntry{
			Binding:    uint32(s.Slot),
			Visibility: visibility,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
		})
	}

	var tex []wgpu.BindGroupLayoutEntry
	for _, t := range textures {
		sampleType := wgpu.TextureSampleTypeFloat
		samplerType := wgpu.SamplerBindingTypeFiltering
		if !filterable(t.view.format) {
			sampleType = wgpu.TextureSampleTypeUnfilterableFloat
			samplerType = wgpu.SamplerBindingTypeNonFiltering
		}
		tex = append(tex,
			wgpu.BindGroupLayoutEntry{
				Binding:    uint32(t.binding.Slot * 2),
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    sampleType,
					ViewDimension: viewDimension(t.view.desc.Dimension),
				},
			},
			wgpu.BindGroupLayoutEntry{
				Binding:    uint32(t.binding.Slot*2 + 1),
				Visibility: wgpu.ShaderStageFragment,
				Sampler:    wgpu.SamplerBindingLayout{Type: samplerType},
			},
		)
	}

	uniforms := []wgpu.BindGroupLayoutEntry{{
		Binding:    0,
		Visibility: visibility,
		Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
	}}

	l := &layout{}
	for i, entries := range [groupCount][]wgpu.BindGroupLayoutEntry{storage, tex, uniforms} {
		bgl, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s group %d", sig, i),
			Entries: entries,
		})
		if err != nil {
			return nil, fmt.Errorf("bind group layout %d: %w", i, err)
		}
		l.groups[i] = bgl
	}
	pl, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            sig,
		BindGroupLayouts: l.groups[:],
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline layout: %w", err)
	}
	l.pipeline = pl
	d.layouts[sig] = l
	return l, nil
}

func compareFunction(c gpu.CompareFunc) wgpu.CompareFunction {
	switch c {
	case gpu.CompareLess:
		return wgpu.CompareFunctionLess
	case gpu.CompareLessEqual:
		return wgpu.CompareFunctionLessEqual
	case gpu.CompareEqual:
		return wgpu.CompareFunctionEqual
	case gpu.CompareGreaterEqual:
		return wgpu.CompareFunctionGreaterEqual
	case gpu.CompareGreater:
		return wgpu.CompareFunctionGreater
	}
	return wgpu.CompareFunctionAlways
}

func (d *Device) pipelineFor(key pipelineKey, prog *programEntry, l *layout, colors []wgpu.TextureFormat) (*wgpu.RenderPipeline, error) {
	if pipe, ok := d.pipelines[key]; ok {
		return pipe, nil
	}

	targets := make([]wgpu.ColorTargetState, len(colors))
	for i, f := range colors {
		targets[i] = wgpu.ColorTargetState{Format: f, WriteMask: wgpu.ColorWriteMaskAll}
	}

	cull := wgpu.CullModeNone
	if key.raster.CullBack {
		cull = wgpu.CullModeBack
	}

	var depth *wgpu.DepthStencilState
	if key.depth != wgpu.TextureFormatUndefined {
		compare := wgpu.CompareFunctionAlways
		if key.raster.DepthTest {
			compare = compareFunction(key.raster.DepthFunc)
		}
		depth = &wgpu.DepthStencilState{
			Format:            key.depth,
			DepthWriteEnabled: key.raster.DepthWrite,
			DepthCompare:      compare,
			StencilFront:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:       wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		}
	}

	desc := &wgpu.RenderPipelineDescriptor{
		Label:  prog.desc.Name,
		Layout: l.pipeline,
		Vertex: wgpu.VertexState{
			Module:     prog.module,
			EntryPoint: prog.desc.VertexEntry,
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  cull,
		},
		DepthStencil: depth,
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
		// Depth-only programs keep their fragment stage for discard.
		Fragment: &wgpu.FragmentState{
			Module:     prog.module,
			EntryPoint: prog.desc.FragmentEntry,
			Targets:    targets,
		},
	}
	pipe, err := d.device.CreateRenderPipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", prog.desc.Name, err)
	}
	d.pipelines[key] = pipe
	return pipe, nil
}

func (d *Device) sampler(kind gpu.SamplerKind, filtering bool) (*wgpu.Sampler, error) {
	key := samplerKey{kind: kind, filtering: filtering}
	if s, ok := d.samplers[key]; ok {
		return s, nil
	}
	address := wgpu.AddressModeClampToEdge
	if kind == gpu.SamplerRepeat {
		address = wgpu.AddressModeRepeat
	}
	filter := wgpu.FilterModeNearest
	if filtering {
		filter = wgpu.FilterModeLinear
	}
	s, err := d.device.CreateSampler(&wgpu.SamplerDescriptor{
		AddressModeU:  address,
		AddressModeV:  address,
		AddressModeW:  address,
		MagFilter:     filter,
		MinFilter:     filter,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}
	d.samplers[key] = s
	return s, nil
}

func (d *Device) bindGroups(p *gpu.Pass, l *layout, textures []textureSlot) ([groupCount]*wgpu.BindGroup, error) {
	var groups [groupCount]*wgpu.BindGroup

	var storage []wgpu.BindGroupEntry
	for _, s := range p.Storage {
		buf, ok := d.buffers[s.Buffer]
		if !ok {
			return groups, fmt.Errorf("storage slot %d: buffer %d: %w", s.Slot, s.Buffer, gpu.ErrNotFound)
		}
		storage = append(storage, wgpu.BindGroupEntry{Binding: uint32(s.Slot), Buffer: buf, Size: wgpu.WholeSize})
	}

	var tex []wgpu.BindGroupEntry
	for _, t := range textures {
		s, err := d.sampler(t.binding.Sampler, filterable(t.view.format))
		if err != nil {
			return groups, err
		}
		tex = append(tex,
			wgpu.BindGroupEntry{Binding: uint32(t.binding.Slot * 2), TextureView: t.view.view},
			wgpu.BindGroupEntry{Binding: uint32(t.binding.Slot*2 + 1), Sampler: s},
		)
	}

	uniforms := []wgpu.BindGroupEntry{{Binding: 0, Buffer: d.uniforms, Size: wgpu.WholeSize}}

	for i, entries := range [groupCount][]wgpu.BindGroupEntry{storage, tex, uniforms} {
		bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   fmt.Sprintf("%s group %d", p.Name, i),
			Layout:  l.groups[i],
			Entries: entries,
		})
		if err != nil {
			releaseGroups(groups)
			return groups, fmt.Errorf("bind group %d: %w", i, err)
		}
		groups[i] = bg
	}
	return groups, nil
}

func releaseGroups(groups [groupCount]*wgpu.BindGroup) {
	for _, g := range groups {
		if g != nil {
			g.Release()
		}
	}
}

func (d *Device) uniformBytes(p *gpu.Pass) []byte {
	var words [gpu.MaxUniforms]uint32
	for _, u := range p.Uniforms {
		if u.Location >= 0 && u.Location < wireframeWord {
			words[u.Location] = u.Bits
		}
	}
	if p.Raster.Wireframe {
		words[wireframeWord] = 1
	}
	return gpu.Uint32sToBytes(words[:])
}

func loadOp(clear bool) wgpu.LoadOp {
	if clear {
		return wgpu.LoadOpClear
	}
	return wgpu.LoadOpLoad
}

// Execute records the pass into its own command buffer and submits it.
func (d *Device) Execute(p *gpu.Pass) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	prog, ok := d.programs[p.Program]
	if !ok {
		return fmt.Errorf("program %d: %w", p.Program, gpu.ErrNotFound)
	}
	if len(p.Uniforms) > gpu.MaxUniforms {
		return fmt.Errorf("%d uniforms: %w", len(p.Uniforms), gpu.ErrOutOfRange)
	}
	textures, err := d.textureSlots(p)
	if err != nil {
		return err
	}

	var (
		colorFormats []wgpu.TextureFormat
		colorNames   []string
		attachments  []wgpu.RenderPassColorAttachment
	)
	for _, c := range p.Color {
		var (
			view   *wgpu.TextureView
			format wgpu.TextureFormat
		)
		if c.View == gpu.ScreenView {
			if view, err = d.acquireFrame(); err != nil {
				return err
			}
			format = d.config.Format
		} else {
			v, ok := d.views[c.View]
			if !ok {
				return fmt.Errorf("color attachment: view %d: %w", c.View, gpu.ErrNotFound)
			}
			view, format = v.view, textureFormat(v.format)
		}
		colorFormats = append(colorFormats, format)
		colorNames = append(colorNames, fmt.Sprint(format))
		attachments = append(attachments, wgpu.RenderPassColorAttachment{
			View:    view,
			LoadOp:  loadOp(c.Clear),
			StoreOp: wgpu.StoreOpStore,
			ClearValue: wgpu.Color{
				R: float64(c.ClearValue[0]), G: float64(c.ClearValue[1]),
				B: float64(c.ClearValue[2]), A: float64(c.ClearValue[3]),
			},
		})
	}

	var depthAttachment *wgpu.RenderPassDepthStencilAttachment
	depthFormat := wgpu.TextureFormatUndefined
	if p.Depth != nil {
		v, ok := d.views[p.Depth.View]
		if !ok {
			return fmt.Errorf("depth attachment: view %d: %w", p.Depth.View, gpu.ErrNotFound)
		}
		depthFormat = textureFormat(v.format)
		depthAttachment = &wgpu.RenderPassDepthStencilAttachment{
			View:            v.view,
			DepthLoadOp:     loadOp(p.Depth.Clear),
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: p.Depth.ClearValue,
		}
	}

	sig := signature(p, textures)
	l, err := d.layoutFor(sig, p, textures)
	if err != nil {
		return err
	}
	key := pipelineKey{
		program: p.Program,
		layout:  sig,
		colors:  strings.Join(colorNames, ","),
		depth:   depthFormat,
		raster:  p.Raster,
	}
	pipe, err := d.pipelineFor(key, prog, l, colorFormats)
	if err != nil {
		return err
	}

	if err := d.queue.WriteBuffer(d.uniforms, 0, d.uniformBytes(p)); err != nil {
		return fmt.Errorf("uniforms: %w", err)
	}
	groups, err := d.bindGroups(p, l, textures)
	if err != nil {
		return err
	}
	defer releaseGroups(groups)

	var indirect *wgpu.Buffer
	if p.Kind == gpu.PassDrawIndirect && p.DrawCount > 0 {
		if indirect, ok = d.buffers[p.Indirect]; !ok {
			return fmt.Errorf("indirect buffer %d: %w", p.Indirect, gpu.ErrNotFound)
		}
	}

	encoder, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: p.Name})
	if err != nil {
		return fmt.Errorf("command encoder: %w", err)
	}
	defer encoder.Release()

	rp := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label:                  p.Name,
		ColorAttachments:       attachments,
		DepthStencilAttachment: depthAttachment,
	})
	rp.SetPipeline(pipe)
	for i, g := range groups {
		rp.SetBindGroup(uint32(i), g, nil)
	}
	if p.Viewport.Width > 0 && p.Viewport.Height > 0 {
		rp.SetViewport(0, 0, float32(p.Viewport.Width), float32(p.Viewport.Height), 0, 1)
	}
	switch p.Kind {
	case gpu.PassFullscreen:
		rp.Draw(3, 1, 0, 0)
	case gpu.PassDrawIndirect:
		for i := 0; i < p.DrawCount && indirect != nil; i++ {
			rp.DrawIndirect(indirect, uint64(i*gpu.DrawIndirectCommandSize))
		}
	}
	if err := rp.End(); err != nil {
		return fmt.Errorf("end pass: %w", err)
	}
	rp.Release()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	defer cmd.Release()
	d.queue.Submit(cmd)
	return nil
}
