// Package ao implements the ambient-occlusion chain on the CPU: depth
// downsample, horizon-based estimate, depth-aware denoise and temporal
// accumulation. The WGSL programs mirror these kernels.
package ao

import "github.com/go-gl/mathgl/mgl32"

// Image is a single-channel float image, row-major from the top-left.
type Image struct {
	Width  int
	Height int
	Pix    []float32
}

func NewImage(w, h int) *Image {
	w, h = max(w, 1), max(h, 1)
	return &Image{Width: w, Height: h, Pix: make([]float32, w*h)}
}

// Fill sets every pixel to v.
func (m *Image) Fill(v float32) {
	for i := range m.Pix {
		m.Pix[i] = v
	}
}

// At reads with clamp-to-edge addressing.
func (m *Image) At(x, y int) float32 {
	x = min(max(x, 0), m.Width-1)
	y = min(max(y, 0), m.Height-1)
	return m.Pix[y*m.Width+x]
}

func (m *Image) Set(x, y int, v float32) {
	m.Pix[y*m.Width+x] = v
}

// Sample reads the nearest texel at a 0..1 coordinate.
func (m *Image) Sample(uv mgl32.Vec2) float32 {
	return m.At(int(uv.X()*float32(m.Width)), int(uv.Y()*float32(m.Height)))
}

// UV is the centre of pixel (x, y).
func (m *Image) UV(x, y int) mgl32.Vec2 {
	return mgl32.Vec2{(float32(x) + 0.5) / float32(m.Width), (float32(y) + 0.5) / float32(m.Height)}
}

// View carries the camera matrices the kernels reconstruct positions from.
type View struct {
	Projection    mgl32.Mat4 // as rendered, possibly reversed
	ProjectionInv mgl32.Mat4
	View          mgl32.Mat4
	LastView      mgl32.Mat4
	Reversed      bool
}

// Position reconstructs a view-space point from a texture coordinate and
// its stored depth.
func (v View) Position(uv mgl32.Vec2, depth float32) mgl32.Vec3 {
	ndc := mgl32.Vec4{uv.X()*2 - 1, 1 - uv.Y()*2, depth, 1}
	p := v.ProjectionInv.Mul4x1(ndc)
	return p.Vec3().Mul(1 / p.W())
}

// LinearDepth is the positive view distance along -Z.
func (v View) LinearDepth(uv mgl32.Vec2, depth float32) float32 {
	return -v.Position(uv, depth).Z()
}

// IsBackground reports a depth that was never written.
func (v View) IsBackground(depth float32) bool {
	if v.Reversed {
		return depth <= 0
	}
	return depth >= 1
}

// ClearDepth is the depth buffer clear value.
func (v View) ClearDepth() float32 {
	if v.Reversed {
		return 0
	}
	return 1
}

// Closer returns the depth nearer the camera.
func (v View) Closer(a, b float32) float32 {
	if v.Reversed {
		return max(a, b)
	}
	return min(a, b)
}
