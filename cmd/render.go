package cmd

import (
	"image"
	"image/png"
	"os"
	"time"

	"github.com/achilleasa/hybridtrace/asset"
	"github.com/urfave/cli"
)

// Render a scene for a number of frames and save the accumulated result as
// a png image.
func RenderFrame(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	models, transforms, cam, err := loadScene(ctx.String("obj"))
	if err != nil {
		return err
	}

	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	h, err := setupRenderer(cfg, dev, ctx.String("backend"))
	if err != nil {
		return err
	}
	defer h.Close()

	settings := h.Settings()
	if ctx.IsSet("exposure") {
		settings.Exposure = float32(ctx.Float64("exposure"))
	}
	if envFile := ctx.String("envmap"); envFile != "" {
		envTex, err := asset.LoadTextureFile(dev, envFile)
		if err != nil {
			return err
		}
		defer dev.ReleaseTexture(envTex)

		h.SetEnvironmentMap(envTex)
		settings.UseEnvironmentMap = true
	}
	h.SetSettings(settings)

	if err = h.BuildScene(models, transforms); err != nil {
		return err
	}

	frameW, frameH := cfg.Hybrid.Width, cfg.Hybrid.Height
	cam.SetupProjection(float32(frameW) / float32(frameH))

	frames := ctx.Int("frames")
	if frames < 1 {
		frames = 1
	}
	logger.Noticef("rendering %d frame(s) at %dx%d using %s", frames, frameW, frameH, h.BackendName())

	start := time.Now()
	for frame := 1; frame < frames; frame++ {
		if _, err = h.Render(cam); err != nil {
			return err
		}
	}
	img := image.NewRGBA(image.Rect(0, 0, int(frameW), int(frameH)))
	if err = h.RenderToFramebuffer(cam, img); err != nil {
		return err
	}
	logger.Noticef("rendered %d frame(s) in %d ms", frames, time.Since(start).Nanoseconds()/1e6)

	h.LogStats()

	imgFile := ctx.String("out")
	f, err := os.Create(imgFile)
	if err != nil {
		return err
	}
	defer f.Close()

	if err = png.Encode(f, img); err != nil {
		return err
	}
	logger.Noticef("wrote frame to %s", imgFile)
	return nil
}
