package gpu

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Block sizes in bytes. Layouts follow WGSL storage rules: vec3 aligns to 16,
// mat4x4<f32> is 64 bytes column-major.
const (
	CameraBlockSize           = 448
	LightEnvironmentBlockSize = 384
	LightPointBlockSize       = 416
	ClusterBlockSize          = 32
	LightGridBlockSize        = 16
	MaterialBlockSize         = 16
	DrawIndirectCommandSize   = 16
	VertexBlockSize           = 48
)

// Block is a fixed-layout struct uploaded verbatim to a storage buffer.
type Block interface {
	Size() int
	Marshal() []byte
}

// MarshalSlice concatenates the encodings of items.
func MarshalSlice[T Block](items []T) []byte {
	if len(items) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(items)*items[0].Size())
	for _, it := range items {
		buf = append(buf, it.Marshal()...)
	}
	return buf
}

// CameraBlock mirrors the shader Camera struct.
type CameraBlock struct {
	LastView                 mgl32.Mat4 // offset   0
	Projection               mgl32.Mat4 // offset  64
	ProjectionInv            mgl32.Mat4 // offset 128
	ProjectionNonReversed    mgl32.Mat4 // offset 192
	ProjectionNonReversedInv mgl32.Mat4 // offset 256
	View                     mgl32.Mat4 // offset 320
	Position                 mgl32.Vec3 // offset 384 (+pad)
	NormTileDim              mgl32.Vec2 // offset 400
	TileSizeInv              mgl32.Vec2 // offset 408
	FarZ                     float32    // offset 416
	NearZ                    float32    // offset 420
	FovX                     float32    // offset 424
	FovY                     float32    // offset 428
	SliceBias                float32    // offset 432
	SliceScale               float32    // offset 436 (+8 pad)
}

func (c CameraBlock) Size() int { return CameraBlockSize }

func (c CameraBlock) Marshal() []byte {
	buf := make([]byte, 0, CameraBlockSize)
	buf = append(buf, mat4ToBytes(c.LastView)...)
	buf = append(buf, mat4ToBytes(c.Projection)...)
	buf = append(buf, mat4ToBytes(c.ProjectionInv)...)
	buf = append(buf, mat4ToBytes(c.ProjectionNonReversed)...)
	buf = append(buf, mat4ToBytes(c.ProjectionNonReversedInv)...)
	buf = append(buf, mat4ToBytes(c.View)...)
	buf = append(buf, vec3ToBytesPadded(c.Position)...)
	buf = append(buf, vec2ToBytes(c.NormTileDim)...)
	buf = append(buf, vec2ToBytes(c.TileSizeInv)...)
	buf = append(buf, float32ToBytes(c.FarZ)...)
	buf = append(buf, float32ToBytes(c.NearZ)...)
	buf = append(buf, float32ToBytes(c.FovX)...)
	buf = append(buf, float32ToBytes(c.FovY)...)
	buf = append(buf, float32ToBytes(c.SliceBias)...)
	buf = append(buf, float32ToBytes(c.SliceScale)...)
	return append(buf, make([]byte, 8)...)
}

// LightEnvironmentBlock mirrors the shader LightEnvironment struct.
type LightEnvironmentBlock struct {
	ViewProjections  [5]mgl32.Mat4 // offset   0
	CascadeDistances [4]float32    // offset 320
	Ambient          mgl32.Vec3    // offset 336 (+pad)
	Base             mgl32.Vec3    // offset 352 (+pad)
	Direction        mgl32.Vec3    // offset 368 (+pad)
}

func (l LightEnvironmentBlock) Size() int { return LightEnvironmentBlockSize }

func (l LightEnvironmentBlock) Marshal() []byte {
	buf := make([]byte, 0, LightEnvironmentBlockSize)
	for _, m := range l.ViewProjections {
		buf = append(buf, mat4ToBytes(m)...)
	}
	buf = append(buf, vec4ToBytes(l.CascadeDistances)...)
	buf = append(buf, vec3ToBytesPadded(l.Ambient)...)
	buf = append(buf, vec3ToBytesPadded(l.Base)...)
	buf = append(buf, vec3ToBytesPadded(l.Direction)...)
	return buf
}

// LightPointBlock mirrors the shader LightPoint struct. ShadowIndex is the
// cube slot or -1.
type LightPointBlock struct {
	ViewProjections [6]mgl32.Mat4 // offset   0
	Position        mgl32.Vec3    // offset 384
	Radius          float32       // offset 396
	Color           mgl32.Vec3    // offset 400
	ShadowIndex     int32         // offset 412
}

func (l LightPointBlock) Size() int { return LightPointBlockSize }

func (l LightPointBlock) Marshal() []byte {
	buf := make([]byte, 0, LightPointBlockSize)
	for _, m := range l.ViewProjections {
		buf = append(buf, mat4ToBytes(m)...)
	}
	buf = append(buf, vec3ToBytes(l.Position)...)
	buf = append(buf, float32ToBytes(l.Radius)...)
	buf = append(buf, vec3ToBytes(l.Color)...)
	buf = append(buf, int32ToBytes(l.ShadowIndex)...)
	return buf
}

// ClusterBlock is a view-space AABB.
type ClusterBlock struct {
	Min mgl32.Vec3 // offset  0 (+pad)
	Max mgl32.Vec3 // offset 16 (+pad)
}

func (c ClusterBlock) Size() int { return ClusterBlockSize }

func (c ClusterBlock) Marshal() []byte {
	buf := make([]byte, 0, ClusterBlockSize)
	buf = append(buf, vec3ToBytesPadded(c.Min)...)
	return append(buf, vec3ToBytesPadded(c.Max)...)
}

// AABB returns the bounds in [min, max] form.
func (c ClusterBlock) AABB() [2]mgl32.Vec3 { return [2]mgl32.Vec3{c.Min, c.Max} }

// LightGridBlock locates one cluster's bucket in the light index list.
type LightGridBlock struct {
	Count  uint32 // offset 0
	Offset uint32 // offset 4 (+8 pad)
}

func (g LightGridBlock) Size() int { return LightGridBlockSize }

func (g LightGridBlock) Marshal() []byte {
	buf := make([]byte, LightGridBlockSize)
	binary.LittleEndian.PutUint32(buf[0:4], g.Count)
	binary.LittleEndian.PutUint32(buf[4:8], g.Offset)
	return buf
}

// MaterialBlock holds texture-array layers per map kind, -1 when absent.
type MaterialBlock struct {
	Diffuse   int32
	Metalness int32
	Normal    int32
	Roughness int32
}

func (m MaterialBlock) Size() int { return MaterialBlockSize }

func (m MaterialBlock) Marshal() []byte {
	buf := make([]byte, 0, MaterialBlockSize)
	buf = append(buf, int32ToBytes(m.Diffuse)...)
	buf = append(buf, int32ToBytes(m.Metalness)...)
	buf = append(buf, int32ToBytes(m.Normal)...)
	return append(buf, int32ToBytes(m.Roughness)...)
}

// DrawIndirectCommand matches the non-indexed indirect draw arguments.
// FirstInstance carries the material index shaders look materials up by.
type DrawIndirectCommand struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

func (d DrawIndirectCommand) Size() int { return DrawIndirectCommandSize }

func (d DrawIndirectCommand) Marshal() []byte {
	buf := make([]byte, DrawIndirectCommandSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.VertexCount)
	binary.LittleEndian.PutUint32(buf[4:8], d.InstanceCount)
	binary.LittleEndian.PutUint32(buf[8:12], d.FirstVertex)
	binary.LittleEndian.PutUint32(buf[12:16], d.FirstInstance)
	return buf
}

// VertexBlock is one pulled vertex. Material indexes the material buffer.
type VertexBlock struct {
	Position mgl32.Vec3 // offset  0
	Material uint32     // offset 12
	Normal   mgl32.Vec3 // offset 16 (+pad)
	Texcoord mgl32.Vec2 // offset 32 (+8 pad)
}

func (v VertexBlock) Size() int { return VertexBlockSize }

func (v VertexBlock) Marshal() []byte {
	buf := make([]byte, 0, VertexBlockSize)
	buf = append(buf, vec3ToBytes(v.Position)...)
	buf = append(buf, uint32ToBytes(v.Material)...)
	buf = append(buf, vec3ToBytesPadded(v.Normal)...)
	buf = append(buf, vec2ToBytes(v.Texcoord)...)
	return append(buf, make([]byte, 8)...)
}

// UnmarshalCamera decodes the fields backends need from a CameraBlock.
func UnmarshalCamera(b []byte) (CameraBlock, bool) {
	var c CameraBlock
	if len(b) < CameraBlockSize {
		return c, false
	}
	c.LastView = bytesToMat4(b[0:])
	c.Projection = bytesToMat4(b[64:])
	c.ProjectionInv = bytesToMat4(b[128:])
	c.ProjectionNonReversed = bytesToMat4(b[192:])
	c.ProjectionNonReversedInv = bytesToMat4(b[256:])
	c.View = bytesToMat4(b[320:])
	for i := 0; i < 3; i++ {
		c.Position[i] = bytesToFloat32(b[384+i*4:])
	}
	c.NormTileDim = mgl32.Vec2{bytesToFloat32(b[400:]), bytesToFloat32(b[404:])}
	c.TileSizeInv = mgl32.Vec2{bytesToFloat32(b[408:]), bytesToFloat32(b[412:])}
	c.FarZ = bytesToFloat32(b[416:])
	c.NearZ = bytesToFloat32(b[420:])
	c.FovX = bytesToFloat32(b[424:])
	c.FovY = bytesToFloat32(b[428:])
	c.SliceBias = bytesToFloat32(b[432:])
	c.SliceScale = bytesToFloat32(b[436:])
	return c, true
}

func mat4ToBytes(m [16]float32) []byte {
	buf := make([]byte, 64)
	for i, v := range m {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func bytesToMat4(b []byte) mgl32.Mat4 {
	var m mgl32.Mat4
	for i := range m {
		m[i] = bytesToFloat32(b[i*4:])
	}
	return m
}

func vec2ToBytes(v [2]float32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(v[1]))
	return buf
}

func vec3ToBytes(v [3]float32) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(v[2]))
	return buf
}

func vec3ToBytesPadded(v [3]float32) []byte {
	return append(vec3ToBytes(v), 0, 0, 0, 0)
}

func vec4ToBytes(v [4]float32) []byte {
	buf := make([]byte, 16)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func float32ToBytes(ff float32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(ff))
	return buf
}

func bytesToFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func int32ToBytes(v int32) []byte {
	return uint32ToBytes(uint32(v))
}

func uint32ToBytes(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

// Uint32sToBytes encodes an index list.
func Uint32sToBytes(vs []uint32) []byte {
	buf := make([]byte, len(vs)*4)
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}
