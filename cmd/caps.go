package cmd

import (
	"github.com/achilleasa/hybridtrace/capability"
	"github.com/urfave/cli"
)

// Print the ray tracing capabilities of the configured device.
func ListCapabilities(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	detector := capability.NewDetector(dev)
	if _, err = detector.Initialize(); err != nil {
		return err
	}

	logger.Noticef("device capabilities\n%s", detector.Capabilities().Table())
	return nil
}
