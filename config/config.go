// Package config loads the renderer configuration from YAML documents.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/log"
	"github.com/achilleasa/hybridtrace/renderer"
	"github.com/achilleasa/hybridtrace/tracer"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidFrameSize = errors.New("config: frame width and height must be positive")
)

// Hybrid renderer options.
type Hybrid struct {
	PreferRTX     bool   `yaml:"prefer_rtx"`
	AllowFallback bool   `yaml:"allow_fallback"`
	Width         uint32 `yaml:"width"`
	Height        uint32 `yaml:"height"`

	// Quality preset applied after initialization.
	Preset string `yaml:"preset"`
}

// Software device options.
type Device struct {
	Name string `yaml:"name"`

	// Memory budget in MiB. Zero selects the device default.
	MemoryBudgetMB uint64 `yaml:"memory_budget_mb"`

	// Dispatch workers. Zero selects GOMAXPROCS.
	Workers int `yaml:"workers"`

	// Feature set name (full, rt, inline, compute).
	Features string `yaml:"features"`

	// Pipeline kinds (rt, compute) that should fail to link.
	FailPipelines []string `yaml:"fail_pipelines"`
}

// The renderer configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	Hybrid   Hybrid `yaml:"hybrid"`
	Device   Device `yaml:"device"`

	// Presets that extend or override the built-in quality presets. Fields
	// omitted from a preset keep the value of the built-in preset with the
	// same name or the default settings.
	Presets map[string]tracer.Settings `yaml:"-"`
}

// The on-disk layout. Presets are decoded on top of their base settings.
type document struct {
	LogLevel string               `yaml:"log_level"`
	Hybrid   Hybrid               `yaml:"hybrid"`
	Device   Device               `yaml:"device"`
	Presets  map[string]yaml.Node `yaml:"presets"`
}

// Get a configuration that works without a config file.
func Default() *Config {
	return &Config{
		LogLevel: log.Notice.String(),
		Hybrid: Hybrid{
			PreferRTX:     true,
			AllowFallback: true,
			Width:         512,
			Height:        512,
			Preset:        "Medium",
		},
		Device: Device{
			Name:     "soft-rtx",
			Features: device.FeaturesFullRT.String(),
		},
		Presets: make(map[string]tracer.Settings),
	}
}

// Load a configuration file. Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse a YAML configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	doc := document{
		LogLevel: cfg.LogLevel,
		Hybrid:   cfg.Hybrid,
		Device:   cfg.Device,
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.LogLevel, cfg.Hybrid, cfg.Device = doc.LogLevel, doc.Hybrid, doc.Device

	builtin := renderer.BuiltinPresets()
	for name, node := range doc.Presets {
		settings, exists := builtin[name]
		if !exists {
			settings = tracer.DefaultSettings()
		}
		if err := node.Decode(&settings); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		cfg.Presets[name] = settings
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Check the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Hybrid.Width == 0 || c.Hybrid.Height == 0 {
		return ErrInvalidFrameSize
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := c.SoftOptions(); err != nil {
		return err
	}
	return nil
}

// Get the configured log level.
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.Notice
	}
	return level
}

// Get the software device options.
func (c *Config) SoftOptions() (device.SoftOptions, error) {
	opts := device.SoftOptions{
		Name:         c.Device.Name,
		MemoryBudget: c.Device.MemoryBudgetMB << 20,
		Workers:      c.Device.Workers,
	}

	var err error
	if c.Device.Features != "" {
		if opts.Features, err = device.ParseFeatureSet(c.Device.Features); err != nil {
			return opts, err
		}
	}
	for _, name := range c.Device.FailPipelines {
		kind, err := device.ParsePipelineKind(name)
		if err != nil {
			return opts, err
		}
		opts.FailPipelines = append(opts.FailPipelines, kind)
	}
	return opts, nil
}

// Get the hybrid renderer configuration.
func (c *Config) RendererConfig() renderer.Config {
	return renderer.Config{
		PreferRTX:     c.Hybrid.PreferRTX,
		AllowFallback: c.Hybrid.AllowFallback,
	}
}

// Register the configured presets with a hybrid renderer and apply the
// configured preset.
func (c *Config) ApplyPresets(h *renderer.Hybrid) error {
	for name, settings := range c.Presets {
		h.RegisterPreset(name, settings)
	}
	if c.Hybrid.Preset == "" {
		return nil
	}
	return h.ApplyQualityPreset(c.Hybrid.Preset)
}
