package capability

import (
	"sync"

	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/log"
)

// A Detector probes a device for ray tracing support. The first successful
// call to Initialize caches the result which is then shared by every
// component that receives the detector.
type Detector struct {
	logger log.Logger
	dev    device.Device

	mu          sync.Mutex
	initialized bool
	caps        Capabilities
}

// Create a new detector for the given device.
func NewDetector(dev device.Device) *Detector {
	return &Detector{
		logger: log.New("capability detector"),
		dev:    dev,
	}
}

// Query the device once and cache the capabilities. It returns true if any
// ray tracing capability was detected. Subsequent calls return the cached
// result without querying the device. An error is returned only if the device
// could not be queried.
func (d *Detector) Initialize() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return d.caps.AnyRayTracing(), nil
	}

	caps, err := d.query()
	if err != nil {
		d.logger.Errorf("capability query failed: %v", err)
		return false, err
	}

	d.caps = caps
	d.initialized = true

	if caps.AnyRayTracing() {
		d.logger.Noticef("hardware ray tracing available on %s (tier %s)", caps.DeviceName, caps.Tier)
	} else {
		d.logger.Noticef("no hardware ray tracing support on %s", caps.DeviceName)
	}

	return caps.AnyRayTracing(), nil
}

// Perform a fresh device query without touching the cached snapshot.
func (d *Detector) Query() (Capabilities, error) {
	return d.query()
}

// Get the cached capabilities. It returns the zero value if Initialize has
// not completed successfully.
func (d *Detector) Capabilities() Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

// Get the cached capabilities or ErrNotInitialized if Initialize has not
// completed successfully.
func (d *Detector) Snapshot() (Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return Capabilities{}, ErrNotInitialized
	}
	return d.caps, nil
}

// Check whether Initialize completed successfully.
func (d *Detector) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

// Get the device this detector probes.
func (d *Detector) Device() device.Device {
	return d.dev
}

func (d *Detector) query() (Capabilities, error) {
	if d.dev == nil {
		return Capabilities{}, ErrNoDevice
	}

	info, err := d.dev.Info()
	if err != nil {
		return Capabilities{}, err
	}

	return fromInfo(info), nil
}
