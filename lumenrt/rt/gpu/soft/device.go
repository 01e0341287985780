// Package soft is an in-memory gpu.Device. It records every pass, runs the
// ambient-occlusion programs and the screen composite on the CPU, and leaves
// rasterizing programs to an optional depth source.
package soft

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
)

// DepthSource fills the depth prepass target. w and h are the target
// extent; cam is the camera block bound to the pass.
type DepthSource func(w, h int, cam gpu.CameraBlock, reversed bool) []float32

// Record is one entry of the submission log.
type Record struct {
	Barrier bool
	Program string
	Pass    gpu.Pass
}

type buffer struct {
	label string
	usage gpu.BufferUsage
	data  []byte
}

type plane struct {
	w, h, ch int
	pix      []float32
}

type texture struct {
	desc gpu.TextureDesc
	// levels[mip][layer]
	levels [][]*plane
	views  []gpu.ViewID
}

type view struct {
	tex  gpu.TextureID
	desc gpu.ViewDesc
}

type program struct {
	desc gpu.ProgramDesc
}

// Device implements gpu.Device in memory.
type Device struct {
	mu sync.Mutex

	nextID   uint32
	buffers  map[gpu.BufferID]*buffer
	textures map[gpu.TextureID]*texture
	views    map[gpu.ViewID]*view
	programs map[gpu.ProgramID]*program

	width, height int
	surface       *image.RGBA

	log      []Record
	writes   int
	presents int
	vsync    bool

	// DepthSource, when set, provides the depth prepass output.
	DepthSource DepthSource
	// FailLink makes LinkProgram fail for the named programs.
	FailLink map[string]bool
	// FailPass makes Execute fail for the named pass.
	FailPass string
	// FailBuffer makes CreateBuffer fail for labels with this prefix.
	FailBuffer string
	// MaxLayers caps the layer count of one texture. Zero is unlimited.
	MaxLayers int
}

// New creates a device whose screen surface is w by h pixels.
func New(w, h int) *Device {
	d := &Device{
		buffers:  make(map[gpu.BufferID]*buffer),
		textures: make(map[gpu.TextureID]*texture),
		views:    make(map[gpu.ViewID]*view),
		programs: make(map[gpu.ProgramID]*program),
		FailLink: make(map[string]bool),
	}
	d.ResizeSurface(w, h)
	return d
}

func (d *Device) id() uint32 {
	d.nextID++
	return d.nextID
}

// ResizeSurface reallocates the presentable image.
func (d *Device) ResizeSurface(w, h int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.width, d.height = max(w, 1), max(h, 1)
	d.surface = image.NewRGBA(image.Rect(0, 0, d.width, d.height))
}

func (d *Device) CreateBuffer(label string, size int, usage gpu.BufferUsage) (gpu.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if size <= 0 {
		return 0, fmt.Errorf("buffer %q: invalid size %d", label, size)
	}
	if d.FailBuffer != "" && strings.HasPrefix(label, d.FailBuffer) {
		return 0, fmt.Errorf("buffer %q: allocation refused", label)
	}
	id := gpu.BufferID(d.id())
	d.buffers[id] = &buffer{label: label, usage: usage, data: make([]byte, size)}
	return id, nil
}

func (d *Device) WriteBuffer(id gpu.BufferID, offset int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("buffer %d: %w", id, gpu.ErrNotFound)
	}
	if offset < 0 || offset+len(data) > len(b.data) {
		return fmt.Errorf("buffer %q: %d bytes at %d of %d: %w", b.label, len(data), offset, len(b.data), gpu.ErrOutOfRange)
	}
	copy(b.data[offset:], data)
	d.writes++
	return nil
}

func (d *Device) DestroyBuffer(id gpu.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
}

func channels(f gpu.Format) int {
	switch f {
	case gpu.FormatRGBA8Unorm, gpu.FormatRGBA16Float:
		return 4
	case gpu.FormatRG32Float:
		return 2
	default:
		return 1
	}
}

func (d *Device) CreateTexture(desc gpu.TextureDesc) (gpu.TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if desc.Width <= 0 || desc.Height <= 0 {
		return 0, fmt.Errorf("texture %q: invalid extent %dx%d", desc.Label, desc.Width, desc.Height)
	}
	desc.Layers = max(desc.Layers, 1)
	desc.MipLevels = max(desc.MipLevels, 1)
	if desc.Kind == gpu.TextureCubeArray && desc.Layers%6 != 0 {
		return 0, fmt.Errorf("texture %q: cube array needs a multiple of 6 layers, got %d", desc.Label, desc.Layers)
	}
	if d.MaxLayers > 0 && desc.Layers > d.MaxLayers {
		return 0, fmt.Errorf("texture %q: %d layers, device allows %d: %w", desc.Label, desc.Layers, d.MaxLayers, gpu.ErrOutOfRange)
	}

	t := &texture{desc: desc, levels: make([][]*plane, desc.MipLevels)}
	w, h, ch := desc.Width, desc.Height, channels(desc.Format)
	for m := range t.levels {
		t.levels[m] = make([]*plane, desc.Layers)
		for l := range t.levels[m] {
			t.levels[m][l] = &plane{w: w, h: h, ch: ch, pix: make([]float32, w*h*ch)}
		}
		w, h = max(w/2, 1), max(h/2, 1)
	}
	id := gpu.TextureID(d.id())
	d.textures[id] = t
	return id, nil
}

// MaxArrayLayers reports MaxLayers.
func (d *Device) MaxArrayLayers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.MaxLayers
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
	id := gpu.ViewID(d.id())
	d.views[id] = &view{tex: tex, desc: desc}
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
		delete(d.views, v)
	}
	delete(d.textures, id)
}

func (d *Device) LinkProgram(desc gpu.ProgramDesc) (gpu.ProgramID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailLink[desc.Name] {
		return 0, fmt.Errorf("%s: %w", desc.Name, gpu.ErrProgramLink)
	}
	for _, entry := range []string{desc.VertexEntry, desc.FragmentEntry} {
		if entry == "" || !strings.Contains(desc.Source, "fn "+entry) {
			return 0, fmt.Errorf("%s: missing entry point %q: %w", desc.Name, entry, gpu.ErrProgramLink)
		}
	}
	id := gpu.ProgramID(d.id())
	d.programs[id] = &program{desc: desc}
	return id, nil
}

func (d *Device) DestroyProgram(id gpu.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.programs, id)
}

func (d *Device) Barrier() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = append(d.log, Record{Barrier: true})
	return nil
}

func (d *Device) SetVSync(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vsync = enabled
}

func (d *Device) Present() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presents++
	return nil
}

var errInjected = errors.New("injected device failure")

// Execute validates the pass, clears its attachments and runs the CPU
// kernel for its program.
func (d *Device) Execute(p *gpu.Pass) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	prog, ok := d.programs[p.Program]
	if !ok {
		return fmt.Errorf("program %d: %w", p.Program, gpu.ErrNotFound)
	}
	if err := d.validate(p); err != nil {
		return err
	}
	rec := *p
	rec.Storage = append([]gpu.StorageBinding(nil), p.Storage...)
	rec.Textures = append([]gpu.TextureBinding(nil), p.Textures...)
	rec.Color = append([]gpu.ColorAttachment(nil), p.Color...)
	rec.Uniforms = append([]gpu.Uniform(nil), p.Uniforms...)
	if p.Depth != nil {
		depth := *p.Depth
		rec.Depth = &depth
	}
	d.log = append(d.log, Record{Program: prog.desc.Name, Pass: rec})

	if d.FailPass != "" && d.FailPass == p.Name {
		return errInjected
	}

	d.clear(p)
	return d.run(prog.desc.Name, p)
}

func (d *Device) validate(p *gpu.Pass) error {
	if len(p.Uniforms) > gpu.MaxUniforms {
		return fmt.Errorf("%d uniforms: %w", len(p.Uniforms), gpu.ErrOutOfRange)
	}
	for _, s := range p.Storage {
		if _, ok := d.buffers[s.Buffer]; !ok {
			return fmt.Errorf("storage slot %d: buffer %d: %w", s.Slot, s.Buffer, gpu.ErrNotFound)
		}
	}
	for _, t := range p.Textures {
		if _, ok := d.views[t.View]; !ok {
			return fmt.Errorf("texture slot %d: view %d: %w", t.Slot, t.View, gpu.ErrNotFound)
		}
	}
	for _, c := range p.Color {
		if c.View == gpu.ScreenView {
			continue
		}
		if _, ok := d.views[c.View]; !ok {
			return fmt.Errorf("color attachment: view %d: %w", c.View, gpu.ErrNotFound)
		}
	}
	if p.Depth != nil {
		v, ok := d.views[p.Depth.View]
		if !ok {
			return fmt.Errorf("depth attachment: view %d: %w", p.Depth.View, gpu.ErrNotFound)
		}
		if !d.textures[v.tex].desc.Format.IsDepth() {
			return fmt.Errorf("depth attachment %q is not a depth format", v.desc.Label)
		}
	}
	if p.Kind == gpu.PassDrawIndirect && p.DrawCount > 0 {
		b, ok := d.buffers[p.Indirect]
		if !ok {
			return fmt.Errorf("indirect buffer %d: %w", p.Indirect, gpu.ErrNotFound)
		}
		if p.DrawCount*gpu.DrawIndirectCommandSize > len(b.data) {
			return fmt.Errorf("%d indirect draws: %w", p.DrawCount, gpu.ErrOutOfRange)
		}
	}
	return nil
}

// planes returns every subresource a view covers.
func (d *Device) planes(id gpu.ViewID) []*plane {
	v := d.views[id]
	t := d.textures[v.tex]
	var out []*plane
	for m := v.desc.BaseMip; m < v.desc.BaseMip+v.desc.MipCount; m++ {
		out = append(out, t.levels[m][v.desc.BaseLayer:v.desc.BaseLayer+v.desc.LayerCount]...)
	}
	return out
}

// first is the base mip, base layer plane of a view.
func (d *Device) first(id gpu.ViewID) *plane {
	v := d.views[id]
	return d.textures[v.tex].levels[v.desc.BaseMip][v.desc.BaseLayer]
}

func (d *Device) clear(p *gpu.Pass) {
	for _, c := range p.Color {
		if !c.Clear || c.View == gpu.ScreenView {
			continue
		}
		for _, pl := range d.planes(c.View) {
			for i := range pl.pix {
				pl.pix[i] = c.ClearValue[i%pl.ch]
			}
		}
	}
	if p.Depth != nil && p.Depth.Clear {
		for _, pl := range d.planes(p.Depth.View) {
			for i := range pl.pix {
				pl.pix[i] = p.Depth.ClearValue
			}
		}
	}
}

// Log returns a copy of the submission log.
func (d *Device) Log() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Record(nil), d.log...)
}

// ResetLog clears the submission log.
func (d *Device) ResetLog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = nil
}

// PassNames lists executed pass names in order, without barriers.
func (d *Device) PassNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var names []string
	for _, r := range d.log {
		if !r.Barrier {
			names = append(names, r.Pass.Name)
		}
	}
	return names
}

func (d *Device) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

func (d *Device) Presents() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.presents
}

func (d *Device) VSync() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vsync
}

// BufferData returns a copy of a buffer's contents.
func (d *Device) BufferData(id gpu.BufferID) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil
	}
	return append([]byte(nil), b.data...)
}

// Pixels returns the first channel of a view's base subresource.
func (d *Device) Pixels(id gpu.ViewID) (w, h int, pix []float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.views[id]; !ok {
		return 0, 0, nil
	}
	pl := d.first(id)
	out := make([]float32, pl.w*pl.h)
	for i := range out {
		out[i] = pl.pix[i*pl.ch]
	}
	return pl.w, pl.h, out
}

// TextureDesc reports the descriptor of the texture behind a view.
func (d *Device) TextureDesc(id gpu.ViewID) (gpu.TextureDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.views[id]
	if !ok {
		return gpu.TextureDesc{}, false
	}
	return d.textures[v.tex].desc, true
}

// LiveTextures counts allocated textures.
func (d *Device) LiveTextures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.textures)
}

func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// Surface returns the presentable image.
func (d *Device) Surface() *image.RGBA {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.surface
}
