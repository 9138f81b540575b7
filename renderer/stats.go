package renderer

import (
	"bytes"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Per-backend results of a benchmark run. Fields of a backend that is not
// available are left zero.
type BenchmarkResult struct {
	// Number of frames rendered on each backend.
	Frames int

	// Average wall time per frame.
	RTXFrameTime     time.Duration
	ComputeFrameTime time.Duration

	RTXRaysPerSecond     float64
	ComputeRaysPerSecond float64

	// ComputeFrameTime / RTXFrameTime or 1.0 if only one backend was
	// benchmarked.
	SpeedupFactor float64
}

// Build a tabular representation of the benchmark result.
func (r BenchmarkResult) Table() string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Backend", "Frames", "Frame time", "Mrays/sec"})
	table.Append(benchmarkRow("RTX_Hardware", r.Frames, r.RTXFrameTime, r.RTXRaysPerSecond))
	table.Append(benchmarkRow("Compute_Shader", r.Frames, r.ComputeFrameTime, r.ComputeRaysPerSecond))
	table.SetFooter([]string{"", "", "Speedup", fmt.Sprintf("%.2fx", r.SpeedupFactor)})
	table.Render()

	return buf.String()
}

func benchmarkRow(backend string, frames int, frameTime time.Duration, raysPerSec float64) []string {
	if frameTime == 0 {
		return []string{backend, "-", "-", "-"}
	}
	return []string{
		backend,
		fmt.Sprint(frames),
		fmt.Sprintf("%.2f ms", float64(frameTime.Nanoseconds())/1e6),
		fmt.Sprintf("%.2f", raysPerSec/1e6),
	}
}
