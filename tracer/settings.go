package tracer

import "github.com/achilleasa/hybridtrace/types"

// Path tracing settings shared by all backends. Settings are plain values;
// every write through a backend resets accumulation.
type Settings struct {
	// Max number of bounces per path. The first hit counts as one bounce.
	MaxBounces uint32 `yaml:"max_bounces"`

	SamplesPerPixel uint32 `yaml:"samples_per_pixel"`

	EnableShadows bool    `yaml:"shadows"`
	EnableGI      bool    `yaml:"gi"`
	EnableAO      bool    `yaml:"ao"`
	AORadius      float32 `yaml:"ao_radius"`

	// Direction the directional light travels in.
	LightDir       types.Vec3 `yaml:"light_dir,flow"`
	LightColor     types.Vec3 `yaml:"light_color,flow"`
	LightIntensity float32    `yaml:"light_intensity"`

	BackgroundColor   types.Vec3 `yaml:"background,flow"`
	UseEnvironmentMap bool       `yaml:"environment_map"`

	MaxTraceDistance float32 `yaml:"max_distance"`

	EnableDenoise bool `yaml:"denoise"`

	// The exposure value controls HDR -> LDR mapping.
	Exposure float32 `yaml:"exposure"`
}

// Get the default settings.
func DefaultSettings() Settings {
	return Settings{
		MaxBounces:       4,
		SamplesPerPixel:  1,
		EnableShadows:    true,
		EnableGI:         true,
		EnableAO:         false,
		AORadius:         1.0,
		LightDir:         types.Vec3{-0.4, -1, -0.3},
		LightColor:       types.Vec3{1, 0.96, 0.9},
		LightIntensity:   2.5,
		BackgroundColor:  types.Vec3{0.5, 0.65, 0.85},
		MaxTraceDistance: 1000,
		Exposure:         1.0,
	}
}

// Replace zero values that would produce an unusable frame with defaults.
func (s Settings) normalized() Settings {
	def := DefaultSettings()
	if s.MaxBounces == 0 {
		s.MaxBounces = 1
	}
	if s.SamplesPerPixel == 0 {
		s.SamplesPerPixel = 1
	}
	if !(s.MaxTraceDistance > 0) {
		s.MaxTraceDistance = def.MaxTraceDistance
	}
	if !(s.Exposure > 0) {
		s.Exposure = def.Exposure
	}
	if s.LightDir.Len() == 0 {
		s.LightDir = def.LightDir
	}
	s.LightDir = s.LightDir.Normalize()
	return s
}
