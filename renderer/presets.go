package renderer

import (
	"sort"
	"strings"

	"github.com/achilleasa/hybridtrace/tracer"
)

// Get the built-in quality presets keyed by name.
func BuiltinPresets() map[string]tracer.Settings {
	low := tracer.DefaultSettings()
	low.MaxBounces = 1
	low.SamplesPerPixel = 1
	low.EnableGI = false
	low.EnableAO = false

	medium := tracer.DefaultSettings()
	medium.MaxBounces = 2
	medium.SamplesPerPixel = 1
	medium.EnableGI = true

	high := tracer.DefaultSettings()
	high.MaxBounces = 4
	high.SamplesPerPixel = 2
	high.EnableGI = true
	high.EnableDenoise = true

	ultra := tracer.DefaultSettings()
	ultra.MaxBounces = 8
	ultra.SamplesPerPixel = 4
	ultra.EnableGI = true
	ultra.EnableDenoise = true

	return map[string]tracer.Settings{
		"Low":    low,
		"Medium": medium,
		"High":   high,
		"Ultra":  ultra,
	}
}

// A case insensitive set of named presets.
type presetSet map[string]tracer.Settings

func newPresetSet() presetSet {
	ps := make(presetSet)
	for name, settings := range BuiltinPresets() {
		ps.register(name, settings)
	}
	return ps
}

func (ps presetSet) register(name string, settings tracer.Settings) {
	// Replace an existing preset keeping its original spelling.
	for existing := range ps {
		if strings.EqualFold(existing, name) {
			ps[existing] = settings
			return
		}
	}
	ps[name] = settings
}

func (ps presetSet) lookup(name string) (tracer.Settings, bool) {
	for existing, settings := range ps {
		if strings.EqualFold(existing, name) {
			return settings, true
		}
	}
	return tracer.Settings{}, false
}

func (ps presetSet) names() []string {
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
