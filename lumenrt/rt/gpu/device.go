package gpu

import "math"

// Opaque handles into a Device. The zero value is never a live resource.
type (
	BufferID  uint32
	TextureID uint32
	ViewID    uint32
	ProgramID uint32
)

// ScreenView is the presentable surface; only valid as a colour attachment.
const ScreenView ViewID = math.MaxUint32

type BufferUsage uint32

const (
	BufferStorage BufferUsage = 1 << iota
	BufferIndirect
	BufferCopyDst
)

type Format int

const (
	FormatUndefined Format = iota
	FormatR16Float
	FormatR32Float
	FormatRG32Float
	FormatRGBA8Unorm
	FormatRGBA16Float
	FormatDepth16Unorm
	FormatDepth32Float
)

func (f Format) IsDepth() bool {
	return f == FormatDepth16Unorm || f == FormatDepth32Float
}

type TextureKind int

const (
	Texture2D TextureKind = iota
	Texture2DArray
	TextureCubeArray
)

type ViewDimension int

const (
	View2D ViewDimension = iota
	View2DArray
	ViewCube
	ViewCubeArray
)

type TextureDesc struct {
	Label     string
	Kind      TextureKind
	Width     int
	Height    int
	Layers    int
	MipLevels int
	Format    Format
}

// ViewDesc selects a mip and layer range. Zero counts mean "the rest".
type ViewDesc struct {
	Label      string
	Dimension  ViewDimension
	BaseMip    int
	MipCount   int
	BaseLayer  int
	LayerCount int
}

// ProgramDesc names a vertex+fragment program. Source is WGSL.
type ProgramDesc struct {
	Name          string
	Source        string
	VertexEntry   string
	FragmentEntry string
}

type CompareFunc int

const (
	CompareAlways CompareFunc = iota
	CompareLess
	CompareLessEqual
	CompareEqual
	CompareGreaterEqual
	CompareGreater
)

type SamplerKind int

const (
	SamplerClamp SamplerKind = iota
	SamplerRepeat
	SamplerBorderWhite
)

type PassKind int

const (
	// PassDrawIndirect issues DrawCount indirect draws from Indirect.
	PassDrawIndirect PassKind = iota
	// PassFullscreen draws a single screen-covering triangle.
	PassFullscreen
)

type StorageBinding struct {
	Slot   int
	Buffer BufferID
}

type TextureBinding struct {
	Slot    int
	View    ViewID
	Sampler SamplerKind
}

type ColorAttachment struct {
	View       ViewID
	Clear      bool
	ClearValue [4]float32
}

type DepthAttachment struct {
	View       ViewID
	Clear      bool
	ClearValue float32
}

type RasterState struct {
	DepthTest  bool
	DepthWrite bool
	DepthFunc  CompareFunc
	CullBack   bool
	Wireframe  bool
}

// Uniform is a 32-bit scalar at Location of the pass uniform block.
type Uniform struct {
	Location int
	Bits     uint32
}

func UniformFloat(loc int, v float32) Uniform {
	return Uniform{Location: loc, Bits: math.Float32bits(v)}
}

func UniformInt(loc int, v int32) Uniform {
	return Uniform{Location: loc, Bits: uint32(v)}
}

func UniformBool(loc int, v bool) Uniform {
	if v {
		return Uniform{Location: loc, Bits: 1}
	}
	return Uniform{Location: loc}
}

func (u Uniform) Float() float32 { return math.Float32frombits(u.Bits) }
func (u Uniform) Int() int32     { return int32(u.Bits) }

const MaxUniforms = 16

// Viewport is the render area in pixels.
type Viewport struct {
	Width  int
	Height int
}

// Pass is one draw submission with its complete binding and raster state.
type Pass struct {
	Name     string
	Program  ProgramID
	Kind     PassKind
	Storage  []StorageBinding
	Textures []TextureBinding
	Color    []ColorAttachment
	Depth    *DepthAttachment
	Raster   RasterState
	Viewport Viewport
	Uniforms []Uniform

	Indirect  BufferID
	DrawCount int
}

// Uniform returns the uniform at loc, if the pass sets one.
func (p *Pass) Uniform(loc int) (Uniform, bool) {
	for _, u := range p.Uniforms {
		if u.Location == loc {
			return u, true
		}
	}
	return Uniform{}, false
}

// Device is the resource layer the renderer drives. Implementations
// execute passes in submission order; Barrier makes all prior writes
// visible to later passes.
type Device interface {
	CreateBuffer(label string, size int, usage BufferUsage) (BufferID, error)
	WriteBuffer(id BufferID, offset int, data []byte) error
	DestroyBuffer(id BufferID)

	CreateTexture(desc TextureDesc) (TextureID, error)
	CreateView(tex TextureID, desc ViewDesc) (ViewID, error)
	// DestroyTexture also releases every view of the texture.
	DestroyTexture(id TextureID)

	LinkProgram(desc ProgramDesc) (ProgramID, error)
	DestroyProgram(id ProgramID)

	Execute(pass *Pass) error
	Barrier() error

	SetVSync(enabled bool)
	Present() error
}

// ArrayLayerLimiter is implemented by devices that cap the layer count of a
// single array texture.
type ArrayLayerLimiter interface {
	MaxArrayLayers() int
}
