package cmd

import (
	"github.com/achilleasa/hybridtrace/config"
	"github.com/achilleasa/hybridtrace/log"
	"github.com/urfave/cli"
)

var logger = log.New("hybridtrace")

func setupLogging(ctx *cli.Context, cfg *config.Config) {
	log.SetLevel(cfg.Level())

	if ctx.GlobalBool("v") {
		log.SetLevel(log.Info)
	}

	if ctx.GlobalBool("vv") {
		log.SetLevel(log.Debug)
	}
}
