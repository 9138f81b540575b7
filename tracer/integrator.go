package tracer

import (
	"math/rand/v2"

	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/scene"
	"github.com/achilleasa/hybridtrace/types"
	"github.com/chewxy/math32"
)

// Offset applied along the surface normal when spawning secondary rays.
const rayEpsilon float32 = 1e-3

// A surface intersection returned by an Intersector.
type SurfaceHit struct {
	T        float32
	Position types.Vec3

	// World space normal facing the incoming ray.
	Normal types.Vec3

	Material scene.Material
}

// An Intersector traces rays against a scene. Backends provide their own
// implementation; calls may run concurrently.
type Intersector interface {
	// Find the closest hit along the ray within (0, tMax).
	Intersect(origin, dir types.Vec3, tMax float32) (SurfaceHit, bool)

	// Check whether anything blocks the ray within (0, tMax).
	Occluded(origin, dir types.Vec3, tMax float32) bool
}

// The Integrator estimates the radiance arriving along camera rays. It
// supports a directional light with optional shadows, ambient occlusion,
// diffuse global illumination and a constant or environment background.
type Integrator struct {
	Settings Settings

	// The scene; a nil intersector renders the background only.
	Scene Intersector

	// Optional environment map.
	Environment *device.Texture

	Counters *RayCounters
}

// Estimate the radiance arriving at origin from direction dir.
func (in *Integrator) Radiance(origin, dir types.Vec3, rng *rand.Rand) types.Vec3 {
	settings := &in.Settings
	throughput := types.Vec3{1, 1, 1}
	var radiance types.Vec3

	toLight := settings.LightDir.Neg()
	lightRadiance := settings.LightColor.Mul(settings.LightIntensity)

	for bounce := uint32(0); ; bounce++ {
		if bounce == 0 {
			in.Counters.Primary.Add(1)
		} else {
			in.Counters.Secondary.Add(1)
		}

		var hit SurfaceHit
		found := false
		if in.Scene != nil {
			hit, found = in.Scene.Intersect(origin, dir, settings.MaxTraceDistance)
		}
		if !found {
			radiance = radiance.Add(throughput.MulVec(in.background(dir)))
			break
		}

		albedo := hit.Material.Albedo
		radiance = radiance.Add(throughput.MulVec(hit.Material.Emissive))
		surfacePoint := hit.Position.Add(hit.Normal.Mul(rayEpsilon))

		// Direct lighting from the directional light.
		if nDotL := hit.Normal.Dot(toLight); nDotL > 0 {
			visible := true
			if settings.EnableShadows {
				in.Counters.Shadow.Add(1)
				visible = !in.Scene.Occluded(surfacePoint, toLight, settings.MaxTraceDistance)
			}
			if visible {
				direct := albedo.MulVec(lightRadiance).Mul(nDotL / math32.Pi)
				radiance = radiance.Add(throughput.MulVec(direct))
			}
		}

		// Without GI the sky contributes a single ambient term that is
		// optionally attenuated by an occlusion probe.
		if !settings.EnableGI {
			ambient := albedo.MulVec(in.background(hit.Normal)).Mul(0.5)
			if settings.EnableAO {
				in.Counters.Shadow.Add(1)
				if in.Scene.Occluded(surfacePoint, cosineSample(hit.Normal, rng), settings.AORadius) {
					ambient = types.Vec3{}
				}
			}
			radiance = radiance.Add(throughput.MulVec(ambient))
			break
		}

		if bounce+1 >= settings.MaxBounces {
			break
		}

		// Cosine weighted sampling cancels the lambert term and pdf so the
		// throughput is scaled by the albedo alone.
		throughput = throughput.MulVec(albedo)
		if throughput.MaxComponent() <= 0 {
			break
		}
		origin = surfacePoint
		dir = cosineSample(hit.Normal, rng)
	}

	return radiance
}

func (in *Integrator) background(dir types.Vec3) types.Vec3 {
	if in.Settings.UseEnvironmentMap && in.Environment != nil {
		return in.Environment.SampleDirection(dir)
	}
	return in.Settings.BackgroundColor
}

// Trace one frame into acc. Each pixel receives SamplesPerPixel jittered
// primary rays whose average is added to the accumulator. The rng stream
// for every pixel is derived from the frame index and pixel coordinates.
func TraceFrame(dev device.Device, pipeline *device.Pipeline, acc *Accumulator, cam *scene.Camera, in *Integrator, frame uint64) error {
	width, height := acc.Size()
	spp := in.Settings.SamplesPerPixel
	invW, invH := 1.0/float32(width), 1.0/float32(height)
	invSpp := 1.0 / float32(spp)

	err := dev.Dispatch(pipeline, width, height, func(x, y uint32) {
		rng := rand.New(rand.NewPCG(frame, uint64(y)<<32|uint64(x)))

		var sum types.Vec3
		for s := uint32(0); s < spp; s++ {
			u := (float32(x) + rng.Float32()) * invW
			v := (float32(y) + rng.Float32()) * invH
			sum = sum.Add(in.Radiance(cam.Position, cam.Ray(u, v), rng))
		}
		acc.Add(x, y, sum.Mul(invSpp))
	})
	if err != nil {
		return err
	}

	acc.EndFrame()
	return nil
}

// Sample a cosine weighted direction in the hemisphere around n.
func cosineSample(n types.Vec3, rng *rand.Rand) types.Vec3 {
	r1 := 2 * math32.Pi * rng.Float32()
	r2 := rng.Float32()
	r2s := math32.Sqrt(r2)

	var axis types.Vec3
	if math32.Abs(n[0]) > 0.1 {
		axis = types.Vec3{0, 1, 0}
	} else {
		axis = types.Vec3{1, 0, 0}
	}
	u := axis.Cross(n).Normalize()
	v := n.Cross(u)

	return u.Mul(math32.Cos(r1) * r2s).
		Add(v.Mul(math32.Sin(r1) * r2s)).
		Add(n.Mul(math32.Sqrt(1 - r2))).
		Normalize()
}
