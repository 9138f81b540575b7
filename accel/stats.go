package accel

import (
	"bytes"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Accumulated acceleration structure build statistics. Values grow
// monotonically until ResetStats is called.
type BuildStats struct {
	BLASBuildTime  time.Duration
	TLASBuildTime  time.Duration
	UpdateTime     time.Duration
	CompactionTime time.Duration
	MeshingTime    time.Duration

	BLASBuilds    uint32
	TLASBuilds    uint32
	BLASUpdates   uint32
	TLASUpdates   uint32
	Compactions   uint32
	TriangleCount uint64
	AABBCount     uint64
	InstanceCount uint64

	// Device memory currently held by live structures.
	BLASMemory uint64
	TLASMemory uint64

	// Largest scratch buffer used by a single build.
	PeakScratch uint64

	// Sizes before and after compaction, summed over all compacted BLAS.
	OriginalSize  uint64
	CompactedSize uint64
}

// Get the ratio of compacted to original size. It returns 1.0 if nothing
// has been compacted.
func (s BuildStats) CompressionRatio() float64 {
	if s.OriginalSize == 0 {
		return 1.0
	}
	return float64(s.CompactedSize) / float64(s.OriginalSize)
}

// Get the total device memory held by acceleration structures.
func (s BuildStats) TotalMemory() uint64 {
	return s.BLASMemory + s.TLASMemory
}

// Render the stats as a table.
func (s BuildStats) Table() string {
	buf := &bytes.Buffer{}
	table := tablewriter.NewWriter(buf)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Stat", "Value"})
	table.Append([]string{"BLAS builds", fmt.Sprintf("%d (%s)", s.BLASBuilds, s.BLASBuildTime)})
	table.Append([]string{"TLAS builds", fmt.Sprintf("%d (%s)", s.TLASBuilds, s.TLASBuildTime)})
	table.Append([]string{"Updates", fmt.Sprintf("%d BLAS, %d TLAS (%s)", s.BLASUpdates, s.TLASUpdates, s.UpdateTime)})
	table.Append([]string{"Compactions", fmt.Sprintf("%d (%s)", s.Compactions, s.CompactionTime)})
	table.Append([]string{"SDF meshing", s.MeshingTime.String()})
	table.Append([]string{"Triangles", fmt.Sprintf("%d", s.TriangleCount)})
	table.Append([]string{"AABBs", fmt.Sprintf("%d", s.AABBCount)})
	table.Append([]string{"Instances", fmt.Sprintf("%d", s.InstanceCount)})
	table.Append([]string{"BLAS memory", fmtBytes(s.BLASMemory)})
	table.Append([]string{"TLAS memory", fmtBytes(s.TLASMemory)})
	table.Append([]string{"Peak scratch", fmtBytes(s.PeakScratch)})
	table.Append([]string{"Compression ratio", fmt.Sprintf("%.3f", s.CompressionRatio())})
	table.SetFooter([]string{"Total memory", fmtBytes(s.TotalMemory())})
	table.Render()

	return buf.String()
}

func fmtBytes(v uint64) string {
	switch {
	case v >= 1<<20:
		return fmt.Sprintf("%.2f MiB", float64(v)/float64(1<<20))
	case v >= 1<<10:
		return fmt.Sprintf("%.2f KiB", float64(v)/float64(1<<10))
	}
	return fmt.Sprintf("%d B", v)
}
