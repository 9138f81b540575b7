package cmd

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/achilleasa/hybridtrace/renderer"
	"github.com/achilleasa/hybridtrace/tracer"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// List the built-in and configured quality presets.
func ListPresets(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	presets := renderer.BuiltinPresets()
	for name, settings := range cfg.Presets {
		presets[name] = settings
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Preset", "Bounces", "SPP", "Shadows", "GI", "AO", "Denoise", "Active"})
	for _, name := range sortedNames(presets) {
		s := presets[name]
		active := ""
		if name == cfg.Hybrid.Preset {
			active = "*"
		}
		table.Append([]string{
			name,
			fmt.Sprint(s.MaxBounces),
			fmt.Sprint(s.SamplesPerPixel),
			fmt.Sprint(s.EnableShadows),
			fmt.Sprint(s.EnableGI),
			fmt.Sprint(s.EnableAO),
			fmt.Sprint(s.EnableDenoise),
			active,
		})
	}
	table.Render()

	logger.Noticef("quality presets\n%s", buf.String())
	return nil
}

func sortedNames(presets map[string]tracer.Settings) []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
