package cmd

import (
	"github.com/urfave/cli"
)

// Compare the frame times of the available backends.
func Benchmark(ctx *cli.Context) error {
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

	h, err := setupRenderer(cfg, dev, "")
	if err != nil {
		return err
	}
	defer h.Close()

	if err = h.BuildScene(models, transforms); err != nil {
		return err
	}
	cam.SetupProjection(float32(cfg.Hybrid.Width) / float32(cfg.Hybrid.Height))

	res, err := h.Benchmark(cam, ctx.Int("frames"))
	if err != nil {
		return err
	}

	logger.Noticef("benchmark results\n%s", res.Table())
	return nil
}
