package main

import (
	"fmt"
	"os"

	"github.com/achilleasa/hybridtrace/cmd"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	frameFlags := []cli.Flag{
		cli.IntFlag{
			Name:  "width",
			Value: 512,
			Usage: "frame width",
		},
		cli.IntFlag{
			Name:  "height",
			Value: 512,
			Usage: "frame height",
		},
		cli.StringFlag{
			Name:  "preset, p",
			Usage: "quality preset (Low, Medium, High, Ultra or a preset from the config file)",
		},
		cli.StringFlag{
			Name:  "features",
			Usage: "device feature set (full, rt, inline, compute)",
		},
		cli.StringFlag{
			Name:  "obj",
			Usage: "render a wavefront obj file instead of the demo scene",
		},
	}

	app := cli.NewApp()
	app.Name = "hybridtrace"
	app.Usage = "path trace scenes using hardware ray tracing with a compute fallback"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
		cli.StringFlag{
			Name:  "config, c",
			Usage: "load configuration from a yaml file",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "caps",
			Usage: "print the ray tracing capabilities of the device",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "features",
					Usage: "device feature set (full, rt, inline, compute)",
				},
			},
			Action: cmd.ListCapabilities,
		},
		{
			Name:  "render",
			Usage: "render a scene",
			Description: `
Render the built-in demo scene (or a wavefront obj file) and save the
accumulated frame as a png image. Each additional frame adds one more
sample set to the accumulation buffer.`,
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "frames, f",
					Value: 16,
					Usage: "number of frames to accumulate",
				},
				cli.StringFlag{
					Name:  "backend, b",
					Usage: "force a backend (rtx or compute)",
				},
				cli.Float64Flag{
					Name:  "exposure",
					Value: 1.0,
					Usage: "camera exposure for tone-mapping",
				},
				cli.StringFlag{
					Name:  "envmap",
					Usage: "equirectangular environment map image (png, jpeg, bmp, tiff or webp)",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "frame.png",
					Usage: "image filename for the rendered frame",
				},
			}, frameFlags...),
			Action: cmd.RenderFrame,
		},
		{
			Name:  "bench",
			Usage: "compare the frame times of the available backends",
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "frames, f",
					Value: 8,
					Usage: "number of frames to render on each backend",
				},
			}, frameFlags...),
			Action: cmd.Benchmark,
		},
		{
			Name:      "scene",
			Usage:     "display scene information",
			ArgsUsage: "[scene_file.obj]",
			Action:    cmd.ShowSceneInfo,
		},
		{
			Name:   "presets",
			Usage:  "list the available quality presets",
			Action: cmd.ListPresets,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
