package capability

import (
	"bytes"
	"fmt"

	"github.com/achilleasa/hybridtrace/device"
	"github.com/olekukonko/tablewriter"
)

// The ray tracing tier supported by a device.
type Tier uint8

const (
	// No hardware ray tracing.
	TierNone Tier = iota

	// Ray tracing pipelines.
	Tier1_0

	// Ray tracing pipelines and inline ray queries.
	Tier1_1
)

func (t Tier) String() string {
	switch t {
	case Tier1_0:
		return "1.0"
	case Tier1_1:
		return "1.1"
	}
	return "none"
}

// A snapshot of the ray tracing capabilities exposed by a device.
type Capabilities struct {
	HasRayTracing           bool
	HasInlineRayTracing     bool
	HasRayQuery             bool
	HasMotionBlur           bool
	HasOpacityMicromap      bool
	HasDisplacementMicromap bool
	HasShaderReordering     bool

	Tier Tier

	MaxRecursionDepth uint32
	MaxInstanceCount  uint32
	MaxGeometryCount  uint32
	MaxASSize         uint64

	ShaderGroupHandleSize    uint32
	ShaderGroupBaseAlignment uint32
	ScratchAlignment         uint32

	DeviceName    string
	DriverVersion string
	API           string
}

// Returns true if the device supports any form of hardware ray tracing.
func (c Capabilities) AnyRayTracing() bool {
	return c.HasRayTracing || c.HasInlineRayTracing || c.HasRayQuery
}

// Build a capability snapshot from device information. Missing extensions
// clear the corresponding flags; they are never treated as errors.
func fromInfo(info device.Info) Capabilities {
	hasAS := info.HasExtension(device.ExtAccelerationStructure)

	caps := Capabilities{
		HasRayTracing:           hasAS && info.HasExtension(device.ExtRayTracingPipeline),
		HasRayQuery:             hasAS && info.HasExtension(device.ExtRayQuery),
		HasMotionBlur:           info.HasExtension(device.ExtRayTracingMotionBlur),
		HasOpacityMicromap:      info.HasExtension(device.ExtOpacityMicromap),
		HasDisplacementMicromap: info.HasExtension(device.ExtDisplacementMicromap),
		HasShaderReordering:     info.HasExtension(device.ExtInvocationReorder),
		DeviceName:              info.Name,
		DriverVersion:           info.DriverVersion,
		API:                     info.API,
	}
	caps.HasInlineRayTracing = caps.HasRayQuery

	if caps.HasRayTracing {
		caps.Tier = Tier1_0
		if caps.HasInlineRayTracing {
			caps.Tier = Tier1_1
		}
	}

	// Limits are only meaningful when acceleration structures are supported
	if hasAS {
		caps.MaxRecursionDepth = info.Limits.MaxRecursionDepth
		caps.MaxInstanceCount = info.Limits.MaxInstanceCount
		caps.MaxGeometryCount = info.Limits.MaxGeometryCount
		caps.MaxASSize = info.Limits.MaxASSize
		caps.ShaderGroupHandleSize = info.Limits.ShaderGroupHandleSize
		caps.ShaderGroupBaseAlignment = info.Limits.ShaderGroupBaseAlignment
		caps.ScratchAlignment = info.Limits.ScratchAlignment
	}

	return caps
}

// Implements Stringer.
func (c Capabilities) String() string {
	return fmt.Sprintf(
		"%s (%s %s): rt=%t inline=%t tier=%s",
		c.DeviceName, c.API, c.DriverVersion, c.HasRayTracing, c.HasInlineRayTracing, c.Tier,
	)
}

// Build a tabular representation of the capability snapshot.
func (c Capabilities) Table() string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Capability", "Value"})
	table.Append([]string{"Device", c.DeviceName})
	table.Append([]string{"Driver", c.DriverVersion})
	table.Append([]string{"API", c.API})
	table.Append([]string{"Tier", c.Tier.String()})
	table.Append([]string{" ", " "})
	table.Append([]string{"Ray tracing pipeline", fmt.Sprint(c.HasRayTracing)})
	table.Append([]string{"Inline ray tracing", fmt.Sprint(c.HasInlineRayTracing)})
	table.Append([]string{"Ray query", fmt.Sprint(c.HasRayQuery)})
	table.Append([]string{"Motion blur", fmt.Sprint(c.HasMotionBlur)})
	table.Append([]string{"Opacity micromap", fmt.Sprint(c.HasOpacityMicromap)})
	table.Append([]string{"Displacement micromap", fmt.Sprint(c.HasDisplacementMicromap)})
	table.Append([]string{"Shader reordering", fmt.Sprint(c.HasShaderReordering)})
	table.Append([]string{" ", " "})
	table.Append([]string{"Max recursion depth", fmt.Sprint(c.MaxRecursionDepth)})
	table.Append([]string{"Max instances", fmt.Sprint(c.MaxInstanceCount)})
	table.Append([]string{"Max geometries", fmt.Sprint(c.MaxGeometryCount)})
	table.Append([]string{"Max AS size", fmt.Sprintf("%d MiB", c.MaxASSize>>20)})
	table.Append([]string{"Shader group handle", fmt.Sprintf("%d bytes", c.ShaderGroupHandleSize)})
	table.Append([]string{"Shader group alignment", fmt.Sprintf("%d bytes", c.ShaderGroupBaseAlignment)})
	table.Append([]string{"Scratch alignment", fmt.Sprintf("%d bytes", c.ScratchAlignment)})
	table.Render()
	return buf.String()
}
