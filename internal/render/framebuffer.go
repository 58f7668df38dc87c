// Package render rasterizes projected meshes and imagery into frames.
package render

import (
	"image"
	"image/color"
)

// Framebuffer is an RGBA render target reduced by a downsample factor.
type Framebuffer struct {
	img        *image.RGBA
	downsample int
}

// NewFramebuffer allocates a ceil(width/d) x ceil(height/d) framebuffer.
func NewFramebuffer(width, height, downsample int) *Framebuffer {
	if downsample < 1 {
		downsample = 1
	}
	w := (max(width, 1) + downsample - 1) / downsample
	h := (max(height, 1) + downsample - 1) / downsample
	return &Framebuffer{
		img:        image.NewRGBA(image.Rect(0, 0, w, h)),
		downsample: downsample,
	}
}

// Image returns the backing image.
func (fb *Framebuffer) Image() *image.RGBA { return fb.img }

// Width returns the framebuffer width in pixels.
func (fb *Framebuffer) Width() int { return fb.img.Rect.Dx() }

// Height returns the framebuffer height in pixels.
func (fb *Framebuffer) Height() int { return fb.img.Rect.Dy() }

// Downsample returns the reduction factor of the framebuffer.
func (fb *Framebuffer) Downsample() int { return fb.downsample }

// Clear resets every pixel to transparent.
func (fb *Framebuffer) Clear() {
	clear(fb.img.Pix)
}

// blend composites a straight-alpha colour over the pixel at (x, y).
func (fb *Framebuffer) blend(x, y int, c color.NRGBA) {
	if c.A == 0 {
		return
	}
	i := fb.img.PixOffset(x, y)
	p := fb.img.Pix[i : i+4 : i+4]

	sa := uint32(c.A)
	if sa == 255 {
		p[0], p[1], p[2], p[3] = c.R, c.G, c.B, 255
		return
	}
	inv := 255 - sa
	p[0] = uint8((uint32(c.R)*sa + uint32(p[0])*inv + 127) / 255)
	p[1] = uint8((uint32(c.G)*sa + uint32(p[1])*inv + 127) / 255)
	p[2] = uint8((uint32(c.B)*sa + uint32(p[2])*inv + 127) / 255)
	p[3] = uint8((sa*255 + uint32(p[3])*inv + 127) / 255)
}
