package renderer

import (
	"github.com/achilleasa/hybridtrace/tracer"
	"github.com/achilleasa/hybridtrace/tracer/compute"
	"github.com/achilleasa/hybridtrace/tracer/hardware"
)

// Options for a single backend path tracer.
type Options struct {
	// Force a backend. With None the backend is selected from the detected
	// capabilities.
	Backend tracer.BackendType

	// Initial render settings. DefaultSettings are used if nil.
	Settings *tracer.Settings

	Hardware hardware.Options
	Compute  compute.Options
}

// Configuration for the hybrid path tracer.
type Config struct {
	// Try the hardware backend before the compute backend.
	PreferRTX bool

	// If set, failing to initialize the preferred backend falls back to the
	// other one instead of failing Init.
	AllowFallback bool

	// Initial render settings. DefaultSettings are used if nil.
	Settings *tracer.Settings

	Hardware hardware.Options
	Compute  compute.Options
}

// Get the default hybrid configuration.
func DefaultConfig() Config {
	return Config{
		PreferRTX:     true,
		AllowFallback: true,
	}
}
