package tracer

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Path tracer statistics. Counters and timings accumulate across frames
// until they are explicitly reset.
type Stats struct {
	// Duration of the last rendered frame.
	FrameTime time.Duration

	// Total time spent tracing rays.
	RayTracingTime time.Duration

	// Total time spent building and updating the scene.
	SceneBuildTime time.Duration

	// Total time spent resolving and denoising the accumulation buffer.
	ResolveTime time.Duration

	PrimaryRays   uint64
	ShadowRays    uint64
	SecondaryRays uint64

	// Number of frames in the accumulation buffer.
	AccumulatedFrames uint32

	FramesRendered uint64

	// Device memory held by the backend (render targets, scene buffers and
	// acceleration structures).
	MemoryUsage uint64
}

// Get the total number of traced rays.
func (s Stats) TotalRays() uint64 {
	return s.PrimaryRays + s.ShadowRays + s.SecondaryRays
}

// Get the ray throughput. It returns 0 if no rays have been traced.
func (s Stats) RaysPerSecond() float64 {
	if s.RayTracingTime <= 0 {
		return 0
	}
	return float64(s.TotalRays()) / s.RayTracingTime.Seconds()
}

// Build a tabular representation of the statistics.
func (s Stats) Table(backend string) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Backend", "Frames", "Accumulated", "Primary rays", "Shadow rays", "Secondary rays", "Last frame", "Trace time", "Mrays/sec"})
	table.Append([]string{
		backend,
		fmt.Sprintf("%d", s.FramesRendered),
		fmt.Sprintf("%d", s.AccumulatedFrames),
		fmt.Sprintf("%d", s.PrimaryRays),
		fmt.Sprintf("%d", s.ShadowRays),
		fmt.Sprintf("%d", s.SecondaryRays),
		fmt.Sprintf("%d ms", s.FrameTime.Nanoseconds()/1e6),
		fmt.Sprintf("%d ms", s.RayTracingTime.Nanoseconds()/1e6),
		fmt.Sprintf("%.2f", s.RaysPerSecond()/1e6),
	})
	table.Render()
	return buf.String()
}

// Ray counters updated concurrently by kernel invocations.
type RayCounters struct {
	Primary   atomic.Uint64
	Shadow    atomic.Uint64
	Secondary atomic.Uint64
}

// Add the counter values to stats and zero the counters.
func (c *RayCounters) Drain(stats *Stats) {
	stats.PrimaryRays += c.Primary.Swap(0)
	stats.ShadowRays += c.Shadow.Swap(0)
	stats.SecondaryRays += c.Secondary.Swap(0)
}

// Start a timer that adds the elapsed time to acc when the returned
// function is invoked. It is meant to be used with defer.
func ScopedTimer(acc *time.Duration) func() {
	start := time.Now()
	return func() {
		*acc += time.Since(start)
	}
}
