package tracer

import (
	"fmt"

	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/types"
	"github.com/chewxy/math32"
)

const invGamma float32 = 1.0 / 2.2

// The Accumulator owns a float accumulation texture and a display texture.
// Kernels add one sample per pixel and frame with Add; Resolve averages the
// accumulated samples and tonemaps them into the display texture.
type Accumulator struct {
	dev  device.Device
	name string

	width, height uint32

	accumTex   device.TextureID
	displayTex device.TextureID

	accum   *device.Texture
	display *device.Texture

	// Number of frames summed into the accumulation texture.
	frames uint32

	// Averaged HDR colors used as the denoiser input.
	hdr []types.Vec3
}

// Allocate accumulation and display textures for a width x height frame.
func NewAccumulator(dev device.Device, name string, width, height uint32) (*Accumulator, error) {
	a := &Accumulator{dev: dev, name: name}
	if err := a.Resize(width, height); err != nil {
		return nil, err
	}
	return a, nil
}

// Reallocate the textures for a new frame size. It resets accumulation.
func (a *Accumulator) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}

	accumTex, err := a.dev.NewTexture(a.name+"-accumulator", width, height, device.FormatRGBA32F)
	if err != nil {
		return err
	}
	displayTex, err := a.dev.NewTexture(a.name+"-display", width, height, device.FormatRGBA8)
	if err != nil {
		a.dev.ReleaseTexture(accumTex)
		return err
	}

	a.release()
	a.accumTex, a.displayTex = accumTex, displayTex
	a.accum, a.display = a.dev.Texture(accumTex), a.dev.Texture(displayTex)
	a.width, a.height = width, height
	a.hdr = make([]types.Vec3, int(width)*int(height))
	a.frames = 0
	return nil
}

// Get frame size.
func (a *Accumulator) Size() (width, height uint32) {
	return a.width, a.height
}

// Get the number of accumulated frames.
func (a *Accumulator) Frames() uint32 {
	return a.frames
}

// Get the display texture id.
func (a *Accumulator) DisplayTexture() device.TextureID {
	return a.displayTex
}

// Get the device memory held by the accumulator textures.
func (a *Accumulator) MemoryUsage() uint64 {
	if a.accum == nil || a.display == nil {
		return 0
	}
	return a.accum.SizeBytes() + a.display.SizeBytes()
}

// Zero the accumulation texture and frame counter.
func (a *Accumulator) Reset() {
	if a.accum != nil {
		a.accum.Clear()
	}
	a.frames = 0
}

// Add a sample to pixel (x, y). Concurrent calls must target different pixels.
func (a *Accumulator) Add(x, y uint32, color types.Vec3) {
	if a.accum == nil || x >= a.width || y >= a.height {
		return
	}
	offset := (y*a.width + x) * 4
	a.accum.Float[offset] += color[0]
	a.accum.Float[offset+1] += color[1]
	a.accum.Float[offset+2] += color[2]
	a.accum.Float[offset+3] += 1
}

// Mark the end of a frame whose samples have all been added.
func (a *Accumulator) EndFrame() {
	a.frames++
}

// Average the accumulated samples, optionally denoise them and write the
// tonemapped result to the display texture using pipeline for dispatching.
func (a *Accumulator) Resolve(pipeline *device.Pipeline, exposure float32, denoise bool) error {
	accum, display := a.accum, a.display
	if accum == nil || display == nil {
		return device.ErrInvalidTexture
	}

	scale := float32(0)
	if a.frames > 0 {
		scale = 1.0 / float32(a.frames)
	}

	err := a.dev.Dispatch(pipeline, a.width, a.height, func(x, y uint32) {
		index := y*a.width + x
		offset := index * 4
		a.hdr[index] = types.Vec3{accum.Float[offset], accum.Float[offset+1], accum.Float[offset+2]}.Mul(scale)
	})
	if err != nil {
		return err
	}

	return a.dev.Dispatch(pipeline, a.width, a.height, func(x, y uint32) {
		color := a.hdr[y*a.width+x]
		if denoise {
			color = a.filter(x, y)
		}
		writeTexel(display, (y*a.width+x)*4, tonemap(color, exposure))
	})
}

// Apply a 3x3 edge aware filter around (x, y). Neighbors are weighted by
// their luminance distance to the center pixel.
func (a *Accumulator) filter(x, y uint32) types.Vec3 {
	center := a.hdr[y*a.width+x]
	centerLum := luminance(center)

	var sum types.Vec3
	var weightSum float32
	for dy := -1; dy <= 1; dy++ {
		ny := int(y) + dy
		if ny < 0 || ny >= int(a.height) {
			continue
		}
		for dx := -1; dx <= 1; dx++ {
			nx := int(x) + dx
			if nx < 0 || nx >= int(a.width) {
				continue
			}
			sample := a.hdr[ny*int(a.width)+nx]
			diff := luminance(sample) - centerLum
			weight := math32.Exp(-(diff * diff) / 0.02)
			if dx != 0 && dy != 0 {
				weight *= 0.5
			}
			sum = sum.Add(sample.Mul(weight))
			weightSum += weight
		}
	}
	return sum.Mul(1 / weightSum)
}

// Release the accumulator textures.
func (a *Accumulator) Close() {
	a.release()
	a.hdr = nil
}

func (a *Accumulator) release() {
	if a.accumTex != 0 {
		a.dev.ReleaseTexture(a.accumTex)
		a.accumTex = 0
	}
	if a.displayTex != 0 {
		a.dev.ReleaseTexture(a.displayTex)
		a.displayTex = 0
	}
	a.accum, a.display = nil, nil
}

// Map an HDR color to display range using the simple Reinhard operator
// followed by gamma correction.
func tonemap(color types.Vec3, exposure float32) types.Vec3 {
	var out types.Vec3
	for i := 0; i < 3; i++ {
		c := math32.Max(0, color[i]) * exposure
		out[i] = math32.Pow(c/(1+c), invGamma)
	}
	return out
}

func luminance(c types.Vec3) float32 {
	return 0.2126*c[0] + 0.7152*c[1] + 0.0722*c[2]
}

func writeTexel(tex *device.Texture, offset uint32, color types.Vec3) {
	for i := uint32(0); i < 3; i++ {
		tex.Pix[offset+i] = uint8(math32.Min(1, color[i])*255 + 0.5)
	}
	tex.Pix[offset+3] = 255
}
