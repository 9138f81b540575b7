package renderer

import (
	"fmt"
	"time"

	"github.com/achilleasa/hybridtrace/scene"
	"github.com/achilleasa/hybridtrace/tracer"
)

// Render frames on each available backend and compare the average frame
// times. Accumulation is reset before and after each backend run. The call
// runs to completion; it cannot be interrupted.
func (h *Hybrid) Benchmark(cam *scene.Camera, frames int) (BenchmarkResult, error) {
	var res BenchmarkResult
	if h.active == tracer.None {
		return res, ErrNotInitialized
	}
	if cam == nil {
		return res, ErrCameraNotDefined
	}
	if frames <= 0 {
		return res, ErrInvalidFrameCount
	}
	res.Frames = frames

	for _, target := range []tracer.BackendType{tracer.Hardware, tracer.Compute} {
		pt := h.tracers[target]
		if pt == nil {
			continue
		}

		frameTime, raysPerSec, err := h.benchmarkBackend(target, pt, cam, frames)
		if err != nil {
			return BenchmarkResult{}, fmt.Errorf("benchmark %s: %w", target, err)
		}
		h.logger.Infof("%s: %d frames, %d ms/frame", target, frames, frameTime.Nanoseconds()/1e6)

		if target == tracer.Hardware {
			res.RTXFrameTime, res.RTXRaysPerSecond = frameTime, raysPerSec
		} else {
			res.ComputeFrameTime, res.ComputeRaysPerSecond = frameTime, raysPerSec
		}
	}

	res.SpeedupFactor = 1.0
	if res.RTXFrameTime > 0 && res.ComputeFrameTime > 0 {
		res.SpeedupFactor = float64(res.ComputeFrameTime) / float64(res.RTXFrameTime)
	}
	return res, nil
}

func (h *Hybrid) benchmarkBackend(target tracer.BackendType, pt *PathTracer, cam *scene.Camera, frames int) (time.Duration, float64, error) {
	if err := h.syncScene(target); err != nil {
		return 0, 0, err
	}

	pt.ResetAccumulation()
	defer pt.ResetAccumulation()

	raysBefore := pt.Stats().TotalRays()
	start := time.Now()
	for frame := 0; frame < frames; frame++ {
		if _, err := pt.Render(cam); err != nil {
			return 0, 0, err
		}
	}
	elapsed := time.Since(start)
	rays := pt.Stats().TotalRays() - raysBefore

	var raysPerSec float64
	if elapsed > 0 {
		raysPerSec = float64(rays) / elapsed.Seconds()
	}
	frameTime := elapsed / time.Duration(frames)
	if frameTime == 0 {
		frameTime = 1
	}
	return frameTime, raysPerSec, nil
}
