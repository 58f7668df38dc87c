package render

import (
	"image/color"
	"math"
)

// cullFraction is the largest triangle extent, relative to the larger frame
// dimension, that is still drawn. Larger triangles straddle a projection
// discontinuity.
const cullFraction = 0.5

type point struct {
	x, y float64
}

func (p point) valid() bool {
	return !math.IsNaN(p.x) && !math.IsNaN(p.y) && !math.IsInf(p.x, 0) && !math.IsInf(p.y, 0)
}

// shader returns the colour at barycentric weights (b0, b1, b2).
type shader func(b0, b1, b2 float64) color.NRGBA

// edge is twice the signed area of (a, b, p).
func edge(a, b, p point) float64 {
	return (b.x-a.x)*(p.y-a.y) - (b.y-a.y)*(p.x-a.x)
}

// topLeft reports whether a->b is a top or left edge of a positively
// oriented triangle. Pixels exactly on such edges belong to the triangle.
func topLeft(a, b point) bool {
	return (a.y == b.y && b.x > a.x) || b.y < a.y
}

func covers(w float64, a, b point) bool {
	return w > 0 || (w == 0 && topLeft(a, b))
}

// fillTriangle rasterizes a triangle by sampling pixel centres against its
// edge functions. It reports whether the triangle was drawn.
func fillTriangle(fb *Framebuffer, v0, v1, v2 point, shade shader) bool {
	if !v0.valid() || !v1.valid() || !v2.valid() {
		return false
	}

	area := edge(v0, v1, v2)
	if area == 0 {
		return false
	}
	swapped := false
	if area < 0 {
		v1, v2 = v2, v1
		area = -area
		swapped = true
	}

	minX := math.Min(v0.x, math.Min(v1.x, v2.x))
	maxX := math.Max(v0.x, math.Max(v1.x, v2.x))
	minY := math.Min(v0.y, math.Min(v1.y, v2.y))
	maxY := math.Max(v0.y, math.Max(v1.y, v2.y))

	w, h := fb.Width(), fb.Height()
	limit := cullFraction * float64(max(w, h))
	if maxX-minX > limit || maxY-minY > limit {
		return false
	}

	x0 := max(0, int(math.Floor(minX)))
	x1 := min(w-1, int(math.Ceil(maxX)))
	y0 := max(0, int(math.Floor(minY)))
	y1 := min(h-1, int(math.Ceil(maxY)))

	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			p := point{float64(x) + 0.5, float64(y) + 0.5}
			w0 := edge(v1, v2, p)
			w1 := edge(v2, v0, p)
			w2 := edge(v0, v1, p)
			if !covers(w0, v1, v2) || !covers(w1, v2, v0) || !covers(w2, v0, v1) {
				continue
			}
			b0, b1, b2 := w0/area, w1/area, w2/area
			if swapped {
				b1, b2 = b2, b1
			}
			fb.blend(x, y, shade(b0, b1, b2))
		}
	}
	return true
}

// lerpColors interpolates three straight-alpha colours barycentrically.
func lerpColors(c0, c1, c2 color.NRGBA, b0, b1, b2 float64) color.NRGBA {
	mix := func(a, b, c uint8) uint8 {
		v := float64(a)*b0 + float64(b)*b1 + float64(c)*b2
		return uint8(math.Max(0, math.Min(255, math.Round(v))))
	}
	return color.NRGBA{
		R: mix(c0.R, c1.R, c2.R),
		G: mix(c0.G, c1.G, c2.G),
		B: mix(c0.B, c1.B, c2.B),
		A: mix(c0.A, c1.A, c2.A),
	}
}
