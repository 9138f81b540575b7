package device

import (
	"image"

	"github.com/achilleasa/hybridtrace/types"
	"github.com/chewxy/math32"
)

// A handle to a device texture. The zero value never refers to a texture.
type TextureID uint32

// Supported texture formats.
type TextureFormat uint8

const (
	// 8-bit per channel RGBA; used for display-ready output.
	FormatRGBA8 TextureFormat = iota

	// 32-bit float per channel RGBA; used for accumulation and HDR data.
	FormatRGBA32F
)

// Get the size in bytes of a single texel.
func (f TextureFormat) TexelSize() uint64 {
	if f == FormatRGBA32F {
		return 16
	}
	return 4
}

func (f TextureFormat) String() string {
	if f == FormatRGBA32F {
		return "RGBA32F"
	}
	return "RGBA8"
}

// A 2D texture stored in device memory.
type Texture struct {
	ID     TextureID
	Name   string
	Width  uint32
	Height uint32
	Format TextureFormat

	// Texel storage. Only the slice matching the format is allocated.
	Pix   []uint8
	Float []float32
}

// Get the texture storage size in bytes.
func (t *Texture) SizeBytes() uint64 {
	return uint64(t.Width) * uint64(t.Height) * t.Format.TexelSize()
}

// Zero texture contents.
func (t *Texture) Clear() {
	clear(t.Pix)
	clear(t.Float)
}

// Get an image view over an RGBA8 texture. The returned image shares storage
// with the texture. It returns nil for other formats.
func (t *Texture) Image() *image.RGBA {
	if t.Format != FormatRGBA8 {
		return nil
	}

	return &image.RGBA{
		Pix:    t.Pix,
		Stride: int(t.Width) * 4,
		Rect:   image.Rect(0, 0, int(t.Width), int(t.Height)),
	}
}

// Fetch the RGB value of a texel.
func (t *Texture) Texel(x, y uint32) types.Vec3 {
	offset := (y*t.Width + x) * 4
	if t.Format == FormatRGBA32F {
		return types.Vec3{t.Float[offset], t.Float[offset+1], t.Float[offset+2]}
	}
	return types.Vec3{
		float32(t.Pix[offset]) / 255.0,
		float32(t.Pix[offset+1]) / 255.0,
		float32(t.Pix[offset+2]) / 255.0,
	}
}

// Sample the texture using wrapped UV coordinates and nearest filtering.
func (t *Texture) Sample(u, v float32) types.Vec3 {
	if t.Width == 0 || t.Height == 0 {
		return types.Vec3{}
	}

	u -= math32.Floor(u)
	v -= math32.Floor(v)
	x := uint32(u * float32(t.Width))
	y := uint32(v * float32(t.Height))
	if x >= t.Width {
		x = t.Width - 1
	}
	if y >= t.Height {
		y = t.Height - 1
	}
	return t.Texel(x, y)
}

// Sample the texture as an equirectangular environment map along direction dir.
func (t *Texture) SampleDirection(dir types.Vec3) types.Vec3 {
	d := dir.Normalize()
	u := 0.5 + math32.Atan2(d[0], -d[2])/(2*math32.Pi)
	v := math32.Acos(math32.Max(-1, math32.Min(1, d[1]))) / math32.Pi
	return t.Sample(u, v)
}
