package asset

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/achilleasa/hybridtrace/device"
	"github.com/achilleasa/hybridtrace/log"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode an image resource and upload it to a device texture. Images with
// 16-bit channels are stored as RGBA32F textures; everything else is stored
// as RGBA8. Supported formats are png, jpeg, bmp, tiff and webp.
func LoadTexture(dev device.Device, res *Resource) (device.TextureID, error) {
	logger := log.New("texture loader")
	start := time.Now()

	img, imgFmt, err := image.Decode(res)
	if err != nil {
		return 0, fmt.Errorf("texture: could not decode %s: %w", res.Path(), err)
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return 0, fmt.Errorf("texture: %s: %w", res.Path(), device.ErrInvalidTexture)
	}

	format := device.FormatRGBA8
	switch img.(type) {
	case *image.RGBA64, *image.NRGBA64, *image.Gray16:
		format = device.FormatRGBA32F
	}

	id, err := dev.NewTexture(res.Path(), uint32(bounds.Dx()), uint32(bounds.Dy()), format)
	if err != nil {
		return 0, err
	}
	tex := dev.Texture(id)

	if format == device.FormatRGBA8 {
		draw.Draw(tex.Image(), tex.Image().Bounds(), img, bounds.Min, draw.Src)
	} else {
		offset := 0
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				c := color.RGBA64Model.Convert(img.At(x, y)).(color.RGBA64)
				tex.Float[offset] = float32(c.R) / 0xffff
				tex.Float[offset+1] = float32(c.G) / 0xffff
				tex.Float[offset+2] = float32(c.B) / 0xffff
				tex.Float[offset+3] = float32(c.A) / 0xffff
				offset += 4
			}
		}
	}

	logger.Infof("loaded %dx%d %s texture from %s (%s) in %d ms", bounds.Dx(), bounds.Dy(), format, res.Path(), imgFmt, time.Since(start).Nanoseconds()/1e6)
	return id, nil
}

// Load a texture from a local path or http(s) URL.
func LoadTextureFile(dev device.Device, path string) (device.TextureID, error) {
	res, err := NewResource(path, nil)
	if err != nil {
		return 0, err
	}
	defer res.Close()

	return LoadTexture(dev, res)
}
