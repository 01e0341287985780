package soft

import (
	"fmt"
	"image"
	"image/color"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"

	"github.com/gekko3d/lumen/lumenrt/rt/ao"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
)

// Program names with a CPU kernel. Others only clear their targets.
const (
	ProgramDepth           = "depth"
	ProgramDownsampleDepth = "downsample_depth"
	ProgramGtao            = "gtao"
	ProgramGtaoSpatial     = "gtao_spatial"
	ProgramGtaoTemporal    = "gtao_temporal"
	ProgramLighting        = "lighting"
	ProgramScreen          = "screen"
)

func (d *Device) run(program string, p *gpu.Pass) error {
	switch program {
	case ProgramDepth:
		return d.runDepth(p)
	case ProgramDownsampleDepth:
		src, err := d.texture(p, 0)
		if err != nil {
			return err
		}
		dst, err := d.depthTarget(p)
		if err != nil {
			return err
		}
		d.store(dst, ao.DownsampleDepth(src, flag(p, 0)))
	case ProgramGtao:
		return d.runGtao(p)
	case ProgramGtaoSpatial:
		raw, err := d.texture(p, 0)
		if err != nil {
			return err
		}
		depth, err := d.texture(p, 1)
		if err != nil {
			return err
		}
		v, err := d.view(p, flag(p, 0))
		if err != nil {
			return err
		}
		return d.storeColor(p, ao.Denoise(raw, depth, v))
	case ProgramGtaoTemporal:
		return d.runTemporal(p)
	case ProgramLighting:
		return d.runLighting(p)
	case ProgramScreen:
		return d.runScreen(p)
	}
	return nil
}

func flag(p *gpu.Pass, loc int) bool {
	u, ok := p.Uniform(loc)
	return ok && u.Bits != 0
}

func scalar(p *gpu.Pass, loc int) float32 {
	u, _ := p.Uniform(loc)
	return u.Float()
}

func count(p *gpu.Pass, loc int) int {
	u, _ := p.Uniform(loc)
	return int(u.Int())
}

// image wraps the first channel of a plane without copying when possible.
func (pl *plane) image() *ao.Image {
	if pl.ch == 1 {
		return &ao.Image{Width: pl.w, Height: pl.h, Pix: pl.pix}
	}
	img := ao.NewImage(pl.w, pl.h)
	for i := range img.Pix {
		img.Pix[i] = pl.pix[i*pl.ch]
	}
	return img
}

func (d *Device) texture(p *gpu.Pass, slot int) (*ao.Image, error) {
	for _, t := range p.Textures {
		if t.Slot == slot {
			return d.first(t.View).image(), nil
		}
	}
	return nil, fmt.Errorf("%s: texture slot %d unbound: %w", p.Name, slot, gpu.ErrNotFound)
}

func (d *Device) camera(p *gpu.Pass) (gpu.CameraBlock, error) {
	for _, s := range p.Storage {
		if s.Slot == 0 {
			cam, ok := gpu.UnmarshalCamera(d.buffers[s.Buffer].data)
			if !ok {
				return gpu.CameraBlock{}, fmt.Errorf("%s: camera buffer too small: %w", p.Name, gpu.ErrOutOfRange)
			}
			return cam, nil
		}
	}
	return gpu.CameraBlock{}, fmt.Errorf("%s: camera slot unbound: %w", p.Name, gpu.ErrNotFound)
}

func (d *Device) view(p *gpu.Pass, reversed bool) (ao.View, error) {
	cam, err := d.camera(p)
	if err != nil {
		return ao.View{}, err
	}
	return ao.View{
		Projection:    cam.Projection,
		ProjectionInv: cam.ProjectionInv,
		View:          cam.View,
		LastView:      cam.LastView,
		Reversed:      reversed,
	}, nil
}

func (d *Device) depthTarget(p *gpu.Pass) (*plane, error) {
	if p.Depth == nil {
		return nil, fmt.Errorf("%s: no depth attachment: %w", p.Name, gpu.ErrNotFound)
	}
	return d.first(p.Depth.View), nil
}

func (d *Device) store(dst *plane, src *ao.Image) {
	for y := 0; y < dst.h; y++ {
		for x := 0; x < dst.w; x++ {
			v := src.At(x, y)
			for c := 0; c < dst.ch; c++ {
				dst.pix[(y*dst.w+x)*dst.ch+c] = v
			}
		}
	}
}

func (d *Device) storeColor(p *gpu.Pass, src *ao.Image) error {
	if len(p.Color) == 0 || p.Color[0].View == gpu.ScreenView {
		return fmt.Errorf("%s: no color target: %w", p.Name, gpu.ErrNotFound)
	}
	d.store(d.first(p.Color[0].View), src)
	return nil
}

func (d *Device) runDepth(p *gpu.Pass) error {
	dst, err := d.depthTarget(p)
	if err != nil {
		return err
	}
	if d.DepthSource == nil {
		return nil
	}
	cam, err := d.camera(p)
	if err != nil {
		return err
	}
	reversed := cam.Projection != cam.ProjectionNonReversed
	pix := d.DepthSource(dst.w, dst.h, cam, reversed)
	if len(pix) != dst.w*dst.h {
		return fmt.Errorf("%s: depth source returned %d texels for %dx%d: %w", p.Name, len(pix), dst.w, dst.h, gpu.ErrOutOfRange)
	}
	copy(dst.pix, pix)
	return nil
}

func (d *Device) runGtao(p *gpu.Pass) error {
	depth, err := d.texture(p, 0)
	if err != nil {
		return err
	}
	v, err := d.view(p, flag(p, 7))
	if err != nil {
		return err
	}
	params := ao.Params{
		FalloffFar:  scalar(p, 0),
		FalloffNear: scalar(p, 1),
		Samples:     count(p, 2),
		Slices:      count(p, 3),
		Offset:      scalar(p, 4),
		Radius:      scalar(p, 5),
		Rotation:    scalar(p, 6),
	}
	return d.storeColor(p, ao.Estimate(depth, v, params))
}

func (d *Device) runTemporal(p *gpu.Pass) error {
	var imgs [4]*ao.Image
	for slot := range imgs {
		img, err := d.texture(p, slot)
		if err != nil {
			return err
		}
		imgs[slot] = img
	}
	v, err := d.view(p, flag(p, 0))
	if err != nil {
		return err
	}
	return d.storeColor(p, ao.Accumulate(imgs[0], imgs[1], imgs[2], imgs[3], v, flag(p, 1)))
}

// runLighting writes the ambient visibility term only: white where the
// depth target holds geometry, scaled by AO when enabled.
func (d *Device) runLighting(p *gpu.Pass) error {
	if len(p.Color) == 0 || p.Color[0].View == gpu.ScreenView {
		return fmt.Errorf("%s: no color target: %w", p.Name, gpu.ErrNotFound)
	}
	dst := d.first(p.Color[0].View)
	depth, err := d.depthTarget(p)
	if err != nil {
		return err
	}
	var occlusion *ao.Image
	if flag(p, 0) {
		if occlusion, err = d.texture(p, 0); err != nil {
			return err
		}
	}
	bg := ao.View{Reversed: flag(p, 1)}
	depthImg := depth.image()
	for y := 0; y < dst.h; y++ {
		for x := 0; x < dst.w; x++ {
			uv := mgl32.Vec2{(float32(x) + 0.5) / float32(dst.w), (float32(y) + 0.5) / float32(dst.h)}
			if bg.IsBackground(depthImg.Sample(uv)) {
				continue
			}
			v := float32(1)
			if occlusion != nil {
				v = occlusion.Sample(uv)
			}
			i := (y*dst.w + x) * dst.ch
			for c := 0; c < min(dst.ch, 3); c++ {
				dst.pix[i+c] = v
			}
			if dst.ch == 4 {
				dst.pix[i+3] = 1
			}
		}
	}
	return nil
}

func (d *Device) runScreen(p *gpu.Pass) error {
	src, err := d.rgba(p, 0, count(p, 0) == 1)
	if err != nil {
		return err
	}
	draw.BiLinear.Scale(d.surface, d.surface.Bounds(), src, src.Bounds(), draw.Src, nil)
	return nil
}

// rgba converts a bound texture to 8-bit colour. gray replicates the
// first channel.
func (d *Device) rgba(p *gpu.Pass, slot int, gray bool) (*image.RGBA, error) {
	for _, t := range p.Textures {
		if t.Slot != slot {
			continue
		}
		pl := d.first(t.View)
		out := image.NewRGBA(image.Rect(0, 0, pl.w, pl.h))
		for y := 0; y < pl.h; y++ {
			for x := 0; x < pl.w; x++ {
				i := (y*pl.w + x) * pl.ch
				r := pl.pix[i]
				g, b, a := r, r, float32(1)
				if pl.ch == 4 && !gray {
					g, b, a = pl.pix[i+1], pl.pix[i+2], pl.pix[i+3]
				}
				out.SetRGBA(x, y, color.RGBA{unorm(r), unorm(g), unorm(b), unorm(a)})
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: texture slot %d unbound: %w", p.Name, slot, gpu.ErrNotFound)
}

func unorm(v float32) uint8 {
	return uint8(min(max(v, 0), 1)*255 + 0.5)
}
