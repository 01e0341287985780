package ao

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Params tune the estimate. Falloff distances are view-space units.
type Params struct {
	Radius      float32
	FalloffNear float32
	FalloffFar  float32
	Samples     int
	Slices      int
	Offset      float32 // step jitter, 0..1
	Rotation    float32 // slice rotation in turns
}

// DownsampleDepth halves src keeping the depth closest to the camera.
func DownsampleDepth(src *Image, reversed bool) *Image {
	v := View{Reversed: reversed}
	dst := NewImage(src.Width/2, src.Height/2)
	for y := 0; y < dst.Height; y++ {
		for x := 0; x < dst.Width; x++ {
			d := v.Closer(
				v.Closer(src.At(2*x, 2*y), src.At(2*x+1, 2*y)),
				v.Closer(src.At(2*x, 2*y+1), src.At(2*x+1, 2*y+1)),
			)
			dst.Set(x, y, d)
		}
	}
	return dst
}

// MipCount is the number of levels until one extent reaches 1.
func MipCount(w, h int) int {
	n := 1
	for w > 1 && h > 1 {
		w, h = w/2, h/2
		n++
	}
	return n
}

// Estimate computes raw visibility (1 = unoccluded) per depth pixel. Each
// slice marches both directions and keeps the highest horizon; opposite
// horizons cancel on flat surfaces.
func Estimate(depth *Image, v View, p Params) *Image {
	out := NewImage(depth.Width, depth.Height)
	samples := max(p.Samples, 1)
	slices := max(p.Slices, 1)
	falloff := max(p.FalloffFar-p.FalloffNear, 1e-4)
	focal := v.Projection[0] * 0.5 * float32(depth.Width)

	for y := 0; y < depth.Height; y++ {
		for x := 0; x < depth.Width; x++ {
			d := depth.At(x, y)
			if v.IsBackground(d) {
				out.Set(x, y, 1)
				continue
			}
			uv := depth.UV(x, y)
			pos := v.Position(uv, d)
			toEye := pos.Mul(-1).Normalize()
			radiusPx := p.Radius * focal / max(-pos.Z(), 1e-4)
			if radiusPx < 1 {
				out.Set(x, y, 1)
				continue
			}

			var occlusion float32
			for s := 0; s < slices; s++ {
				angle := (float64(s)/float64(slices) + float64(p.Rotation)) * math.Pi
				dir := mgl32.Vec2{float32(math.Cos(angle)), float32(math.Sin(angle))}

				horizons := [2]float32{-1, -1}
				for side, sign := range [2]float32{1, -1} {
					for j := 0; j < samples; j++ {
						step := (float32(j) + 1 - p.Offset) / float32(samples) * radiusPx
						sx := x + int(math.Round(float64(dir.X()*step*sign)))
						sy := y + int(math.Round(float64(dir.Y()*step*sign)))
						if sx == x && sy == y {
							continue
						}
						sd := depth.At(sx, sy)
						if v.IsBackground(sd) {
							continue
						}
						sp := v.Position(depth.UV(sx, sy), sd)
						delta := sp.Sub(pos)
						dist := delta.Len()
						if dist == 0 {
							continue
						}
						cos := delta.Mul(1 / dist).Dot(toEye)
						w := mgl32.Clamp((p.FalloffFar-dist)/falloff, 0, 1)
						horizons[side] = max(horizons[side], -1+(cos+1)*w)
					}
				}
				occlusion += max((horizons[0]+horizons[1])*0.5, 0)
			}
			out.Set(x, y, mgl32.Clamp(1-occlusion/float32(slices), 0, 1))
		}
	}
	return out
}

// Denoise is a 5x5 cross-bilateral blur weighted by relative linear depth.
func Denoise(src, depth *Image, v View) *Image {
	out := NewImage(src.Width, src.Height)
	const sharpness = 8
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			d := depth.At(x, y)
			if v.IsBackground(d) {
				out.Set(x, y, src.At(x, y))
				continue
			}
			center := v.LinearDepth(depth.UV(x, y), d)
			var sum, weight float32
			for oy := -2; oy <= 2; oy++ {
				for ox := -2; ox <= 2; ox++ {
					sx, sy := x+ox, y+oy
					sd := depth.At(sx, sy)
					if v.IsBackground(sd) {
						continue
					}
					z := v.LinearDepth(depth.UV(sx, sy), sd)
					rel := absf(z-center) / max(center, 1e-4)
					w := float32(math.Exp(float64(-rel * rel * sharpness * sharpness)))
					sum += src.At(sx, sy) * w
					weight += w
				}
			}
			out.Set(x, y, sum/max(weight, 1e-6))
		}
	}
	return out
}

// Temporal blending constants.
const (
	HistoryWeight  = 0.9
	DepthTolerance = 0.1
)

// Accumulate blends current with history reprojected through v.LastView.
// Pixels whose reprojected depth disagrees with the history depth by more
// than DepthTolerance (relative) keep the current value.
func Accumulate(current, history, depth, historyDepth *Image, v View, historyValid bool) *Image {
	out := NewImage(current.Width, current.Height)
	invView := v.View.Inv()
	for y := 0; y < current.Height; y++ {
		for x := 0; x < current.Width; x++ {
			cur := current.At(x, y)
			out.Set(x, y, cur)
			if !historyValid {
				continue
			}
			d := depth.At(x, y)
			if v.IsBackground(d) {
				continue
			}
			uv := depth.UV(x, y)
			world := invView.Mul4x1(v.Position(uv, d).Vec4(1))
			prev := v.LastView.Mul4x1(world)
			clip := v.Projection.Mul4x1(prev)
			if clip.W() <= 0 {
				continue
			}
			ndc := clip.Vec3().Mul(1 / clip.W())
			puv := mgl32.Vec2{ndc.X()*0.5 + 0.5, 0.5 - ndc.Y()*0.5}
			if puv.X() < 0 || puv.X() > 1 || puv.Y() < 0 || puv.Y() > 1 {
				continue
			}
			hd := historyDepth.Sample(puv)
			if v.IsBackground(hd) {
				continue
			}
			expected := -prev.Z()
			got := v.LinearDepth(puv, hd)
			if absf(got-expected) > DepthTolerance*max(expected, 1e-4) {
				continue
			}
			h := history.Sample(puv)
			out.Set(x, y, h*HistoryWeight+cur*(1-HistoryWeight))
		}
	}
	return out
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
