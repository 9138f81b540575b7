package device

import (
	"fmt"
	"strings"
)

// The kind of a device pipeline.
type PipelineKind uint8

const (
	// A ray tracing pipeline (ray generation, miss and hit groups).
	RayTracingPipeline PipelineKind = iota

	// A compute pipeline with a single kernel.
	ComputePipeline
)

func (k PipelineKind) String() string {
	switch k {
	case RayTracingPipeline:
		return "raytracing"
	case ComputePipeline:
		return "compute"
	}
	return fmt.Sprintf("pipeline(%d)", uint8(k))
}

// Parse a pipeline kind name.
func ParsePipelineKind(name string) (PipelineKind, error) {
	switch strings.ToLower(name) {
	case "raytracing", "rt":
		return RayTracingPipeline, nil
	case "compute":
		return ComputePipeline, nil
	}
	return 0, fmt.Errorf("device: unknown pipeline kind %q", name)
}

// A programmable pipeline stage.
type ShaderStage uint8

const (
	StageRayGen ShaderStage = iota
	StageMiss
	StageClosestHit
	StageAnyHit
	StageIntersection
	StageCompute
)

func (s ShaderStage) String() string {
	switch s {
	case StageRayGen:
		return "raygen"
	case StageMiss:
		return "miss"
	case StageClosestHit:
		return "closesthit"
	case StageAnyHit:
		return "anyhit"
	case StageIntersection:
		return "intersection"
	case StageCompute:
		return "compute"
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// A shader stage entry point.
type StageDesc struct {
	Stage ShaderStage
	Entry string
}

// Pipeline creation parameters.
type PipelineDesc struct {
	Name   string
	Kind   PipelineKind
	Stages []StageDesc

	// Max trace recursion depth for ray tracing pipelines.
	MaxRecursionDepth uint32
}

// Count stages of a particular type.
func (d PipelineDesc) count(stage ShaderStage) int {
	n := 0
	for _, s := range d.Stages {
		if s.Stage == stage {
			n++
		}
	}
	return n
}

// Validate the stage layout for the pipeline kind.
func (d PipelineDesc) validate(limits Limits) error {
	switch d.Kind {
	case RayTracingPipeline:
		if d.count(StageRayGen) != 1 {
			return fmt.Errorf("%w: %s: expected exactly one raygen stage; got %d", ErrPipelineLink, d.Name, d.count(StageRayGen))
		}
		if d.count(StageMiss) == 0 {
			return fmt.Errorf("%w: %s: at least one miss stage is required", ErrPipelineLink, d.Name)
		}
		if d.count(StageClosestHit)+d.count(StageAnyHit)+d.count(StageIntersection) == 0 {
			return fmt.Errorf("%w: %s: at least one hit group stage is required", ErrPipelineLink, d.Name)
		}
		if d.count(StageCompute) != 0 {
			return fmt.Errorf("%w: %s: compute stages cannot be linked into a ray tracing pipeline", ErrPipelineLink, d.Name)
		}
		if d.MaxRecursionDepth > limits.MaxRecursionDepth {
			return fmt.Errorf("%w: %s: recursion depth %d exceeds device limit %d", ErrPipelineLink, d.Name, d.MaxRecursionDepth, limits.MaxRecursionDepth)
		}
	case ComputePipeline:
		if len(d.Stages) != 1 || d.Stages[0].Stage != StageCompute {
			return fmt.Errorf("%w: %s: expected a single compute stage", ErrPipelineLink, d.Name)
		}
	default:
		return fmt.Errorf("%w: %s: unknown pipeline kind %d", ErrPipelineLink, d.Name, d.Kind)
	}

	for _, s := range d.Stages {
		if s.Entry == "" {
			return fmt.Errorf("%w: %s: %s stage has no entry point", ErrPipelineLink, d.Name, s.Stage)
		}
	}
	return nil
}

// A linked pipeline.
type Pipeline struct {
	id     uint64
	device Device
	desc   PipelineDesc

	// Number of shader groups (raygen, miss and hit groups).
	groupCount uint32

	// Balances dispatch rows across workers using timings from previous dispatches.
	scheduler *blockScheduler
}

// Get pipeline name.
func (p *Pipeline) Name() string {
	return p.desc.Name
}

// Get pipeline kind.
func (p *Pipeline) Kind() PipelineKind {
	return p.desc.Kind
}

// Get the number of shader groups that need a shader binding table record.
func (p *Pipeline) GroupCount() uint32 {
	return p.groupCount
}

// Get the max recursion depth the pipeline was linked with.
func (p *Pipeline) MaxRecursionDepth() uint32 {
	return p.desc.MaxRecursionDepth
}
