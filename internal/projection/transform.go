package projection

import (
	"math"

	"github.com/jobrunner/climap/internal/domain"
)

// Transform maps between projection units and render pixels for one view.
// The projection bounds are fitted into Width x Height, then zoomed by Scale
// about the center and shifted by the offset.
type Transform struct {
	Width   float64
	Height  float64
	Scale   float64
	OffsetX float64
	OffsetY float64
}

// NewTransform builds a transform for a render surface and view.
func NewTransform(width, height float64, view domain.ViewState) Transform {
	scale := view.Scale
	if scale <= 0 || math.IsNaN(scale) {
		scale = domain.MinScale
	}
	return Transform{
		Width:   width,
		Height:  height,
		Scale:   scale,
		OffsetX: view.Offset.X,
		OffsetY: view.Offset.Y,
	}
}

// Fit returns the pixels per projection unit at scale 1.
func (t Transform) Fit() float64 {
	return Fit(t.Width, t.Height)
}

// Fit returns the pixels per projection unit that fit the bounds into a
// width x height surface.
func Fit(width, height float64) float64 {
	return math.Min(width/Bounds.Width, height/Bounds.Height)
}

// ProjectionToPixel maps projection units to pixels.
func (t Transform) ProjectionToPixel(x, y float64) (px, py float64) {
	k := t.Fit() * t.Scale
	px = t.Width/2 + x*k + t.OffsetX
	py = t.Height/2 - y*k + t.OffsetY
	return px, py
}

// PixelToProjection maps pixels to projection units.
func (t Transform) PixelToProjection(px, py float64) (x, y float64) {
	k := t.Fit() * t.Scale
	if k == 0 {
		return math.NaN(), math.NaN()
	}
	x = (px - t.Width/2 - t.OffsetX) / k
	y = -(py - t.Height/2 - t.OffsetY) / k
	return x, y
}

// GeographicToPixel projects a geographic point to pixels.
func (t Transform) GeographicToPixel(lon, lat float64) (px, py float64) {
	x, y := Forward(lon, lat)
	return t.ProjectionToPixel(x, y)
}

// PixelToGeographic resolves the geographic point under a pixel. It returns
// false when the pixel is outside the projected globe.
func (t Transform) PixelToGeographic(px, py float64) (domain.GeoPoint, bool) {
	x, y := t.PixelToProjection(px, py)
	return Inverse(x, y)
}

// Downsample returns the transform for a surface reduced by factor d.
func (t Transform) Downsample(d int) Transform {
	if d <= 1 {
		return t
	}
	f := float64(d)
	return Transform{
		Width:   t.Width / f,
		Height:  t.Height / f,
		Scale:   t.Scale,
		OffsetX: t.OffsetX / f,
		OffsetY: t.OffsetY / f,
	}
}

// EllipseRadiiPx returns the pixel half extents of the projected bounds.
func (t Transform) EllipseRadiiPx() (rx, ry float64) {
	k := t.Fit() * t.Scale
	return Bounds.Width / 2 * k, Bounds.Height / 2 * k
}

// InFootprint reports whether a projected point lies inside the outline
// ellipse with the given slack.
func InFootprint(x, y, slack float64) bool {
	return Bounds.InFootprint(x, y, slack)
}
