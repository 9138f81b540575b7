package cmd

import (
	"fmt"

	"github.com/achilleasa/hybridtrace/asset"
	"github.com/achilleasa/hybridtrace/capability"
	"github.com/achilleasa/hybridtrace/config"
	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/renderer"
	"github.com/achilleasa/hybridtrace/scene"
	"github.com/achilleasa/hybridtrace/tracer"
	"github.com/achilleasa/hybridtrace/types"
	"github.com/urfave/cli"
)

// Load the config file passed via --config and apply command flag overrides.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := ctx.GlobalString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if ctx.IsSet("width") {
		cfg.Hybrid.Width = uint32(ctx.Int("width"))
	}
	if ctx.IsSet("height") {
		cfg.Hybrid.Height = uint32(ctx.Int("height"))
	}
	if ctx.IsSet("preset") {
		cfg.Hybrid.Preset = ctx.String("preset")
	}
	if ctx.IsSet("features") {
		cfg.Device.Features = ctx.String("features")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setupLogging(ctx, cfg)
	return cfg, nil
}

// Create the software device described by cfg.
func openDevice(cfg *config.Config) (*device.SoftDevice, error) {
	opts, err := cfg.SoftOptions()
	if err != nil {
		return nil, err
	}
	return device.NewSoftDevice(opts), nil
}

// Create and initialize a hybrid renderer. If backend is not empty, the
// named backend is activated after initialization.
func setupRenderer(cfg *config.Config, dev device.Device, backend string) (*renderer.Hybrid, error) {
	target, err := tracer.ParseBackendType(backend)
	if err != nil {
		return nil, err
	}

	h := renderer.NewHybrid(dev, capability.NewDetector(dev), cfg.RendererConfig())
	if err = h.Init(cfg.Hybrid.Width, cfg.Hybrid.Height); err != nil {
		return nil, err
	}
	if err = cfg.ApplyPresets(h); err != nil {
		h.Close()
		return nil, err
	}
	if target != tracer.None {
		if err = h.SwitchBackend(target); err != nil {
			h.Close()
			return nil, err
		}
	}
	h.LogBackendInfo()
	return h, nil
}

// Load the scene from a wavefront file or fall back to the built-in demo
// scene. Wavefront files without camera directives use the demo camera.
func loadScene(objFile string) ([]*scene.Model, []types.Mat4, *scene.Camera, error) {
	models, transforms, cam := scene.DemoScene()
	if objFile == "" {
		return models, transforms, cam, nil
	}

	sc, err := asset.ReadWavefrontFile(objFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load %s: %w", objFile, err)
	}
	if sc.Camera != nil {
		cam = sc.Camera
	}
	return sc.Models, sc.Transforms, cam, nil
}
