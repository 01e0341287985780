package main

import (
	"fmt"
	"image/png"
	"os"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/urfave/cli"

	"github.com/gekko3d/lumen"
	"github.com/gekko3d/lumen/lumenrt/rt/app"
	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu/soft"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu/wgpudev"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	a := cli.NewApp()
	a.Name = "lumenrt"
	a.Usage = "render a lit demo scene with clustered lights, shadows and temporal AO"
	a.Flags = []cli.Flag{
		cli.IntFlag{Name: "width", Value: 1280, Usage: "frame width"},
		cli.IntFlag{Name: "height", Value: 720, Usage: "frame height"},
		cli.IntFlag{Name: "lights", Value: 64, Usage: "point light count"},
		cli.IntFlag{Name: "shadow-lights", Value: 4, Usage: "point lights casting cube shadows"},
		cli.BoolFlag{Name: "no-ao", Usage: "disable ambient occlusion"},
		cli.BoolFlag{Name: "no-reverse-z", Usage: "use the standard depth convention"},
		cli.BoolFlag{Name: "vsync", Usage: "synchronize presentation to the display"},
		cli.BoolFlag{Name: "wireframe", Usage: "draw triangle edges only"},
		cli.StringFlag{Name: "draw", Value: "lighting", Usage: "output to display: lighting or ao"},
		cli.BoolFlag{Name: "headless", Usage: "render on the CPU device and write a PNG"},
		cli.IntFlag{Name: "frames", Value: 8, Usage: "frames to render in headless mode"},
		cli.StringFlag{Name: "out, o", Value: "frame.png", Usage: "headless output image"},
		cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
	}
	a.Action = run

	if err := a.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func settingsFrom(ctx *cli.Context) core.Settings {
	s := core.DefaultSettings()
	s.EnableAmbientOcclusion = !ctx.Bool("no-ao")
	s.EnableReverseZ = !ctx.Bool("no-reverse-z")
	s.EnableVSync = ctx.Bool("vsync")
	s.EnableWireframe = ctx.Bool("wireframe")
	if ctx.String("draw") == "ao" {
		s.DrawOutput = core.DrawAmbientOcclusion
	}
	return s
}

func run(ctx *cli.Context) error {
	logger := lumen.NewDefaultLogger("lumenrt", ctx.Bool("debug"))
	w, h := ctx.Int("width"), ctx.Int("height")
	settings := settingsFrom(ctx)
	scene := demoScene(float32(w)/float32(h), ctx.Int("lights"), ctx.Int("shadow-lights"))

	if ctx.Bool("headless") {
		return runHeadless(ctx, logger, scene, settings, w, h)
	}
	return runWindowed(logger, scene, settings, w, h)
}

func runHeadless(ctx *cli.Context, logger lumen.Logger, scene *demo, settings core.Settings, w, h int) error {
	dev := soft.New(w, h)
	dev.DepthSource = groundDepth
	r := app.NewRenderer(dev, app.Options{Width: w, Height: h, Logger: logger})
	if err := r.Init(); err != nil {
		return err
	}
	defer r.Release()
	if err := r.LoadGeometry(scene.geometry); err != nil {
		return err
	}

	for i := 0; i < ctx.Int("frames"); i++ {
		scene.step(1.0 / 60)
		if err := r.Update(scene.Publish(settings)); err != nil {
			return err
		}
	}
	logger.Debugf("\n%s", r.Profiler())

	f, err := os.Create(ctx.String("out"))
	if err != nil {
		return err
	}
	defer f.Close()
	if err := png.Encode(f, dev.Surface()); err != nil {
		return err
	}
	logger.Infof("wrote %s after %d frames", ctx.String("out"), r.FrameCount())
	return nil
}

func runWindowed(logger lumen.Logger, scene *demo, settings core.Settings, w, h int) error {
	if err := glfw.Init(); err != nil {
		return err
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(w, h, "lumenrt", nil, nil)
	if err != nil {
		return err
	}
	defer window.Destroy()

	dev, err := wgpudev.New(window, logger)
	if err != nil {
		return err
	}
	defer dev.Release()

	r := app.NewRenderer(dev, app.Options{Width: w, Height: h, Logger: logger})
	if err := r.Init(); err != nil {
		return err
	}
	defer r.Release()
	if err := r.LoadGeometry(scene.geometry); err != nil {
		return err
	}

	var resizeErr error
	window.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		if width == 0 || height == 0 {
			return
		}
		dev.ResizeSurface(width, height)
		scene.camera.Aspect = float32(width) / float32(height)
		resizeErr = r.Resize(width, height)
	})
	window.SetKeyCallback(func(win *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyEscape:
			win.SetShouldClose(true)
		case glfw.KeyO:
			settings.EnableAmbientOcclusion = !settings.EnableAmbientOcclusion
		case glfw.KeyZ:
			settings.EnableReverseZ = !settings.EnableReverseZ
		case glfw.KeyF:
			settings.EnableWireframe = !settings.EnableWireframe
		case glfw.KeyV:
			settings.EnableVSync = !settings.EnableVSync
		case glfw.KeyTab:
			if settings.DrawOutput == core.DrawLighting {
				settings.DrawOutput = core.DrawAmbientOcclusion
			} else {
				settings.DrawOutput = core.DrawLighting
			}
		case glfw.KeyP:
			logger.Infof("\n%s", r.Profiler())
		}
	})

	last := glfw.GetTime()
	for !window.ShouldClose() {
		glfw.PollEvents()
		if resizeErr != nil {
			return resizeErr
		}
		now := glfw.GetTime()
		scene.step(float32(now - last))
		last = now
		if err := r.Update(scene.Publish(settings)); err != nil {
			return err
		}
	}
	return nil
}

// groundDepth ray-casts the y=0 plane for the CPU device's depth prepass.
func groundDepth(w, h int, cam gpu.CameraBlock, reversed bool) []float32 {
	background := float32(1)
	if reversed {
		background = 0
	}
	normal := cam.View.Mul4x1(mgl32.Vec4{0, 1, 0, 0}).Vec3()
	origin := cam.View.Mul4x1(mgl32.Vec4{0, 0, 0, 1}).Vec3()
	d := normal.Dot(origin)

	pix := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ndc := mgl32.Vec3{
				2*(float32(x)+0.5)/float32(w) - 1,
				1 - 2*(float32(y)+0.5)/float32(h),
				0.5,
			}
			dir := core.Unproject(cam.ProjectionInv, ndc)
			i := y*w + x
			pix[i] = background
			denom := normal.Dot(dir)
			if denom == 0 {
				continue
			}
			t := d / denom
			if t <= 0 {
				continue
			}
			hit := dir.Mul(t)
			if -hit.Z() > cam.FarZ {
				continue
			}
			pix[i] = core.ProjectDepth(cam.Projection, hit)
		}
	}
	return pix
}
