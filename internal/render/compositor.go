package render

import (
	"image"
	"image/color"
	"math"

	"github.com/jobrunner/climap/internal/colormap"
	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/projection"
)

// Lattice subdivisions used to warp an overlay into the projection.
const (
	latticeCols = 64
	latticeRows = 32
)

// Overlay is a georeferenced image draped over the map.
type Overlay struct {
	Image   image.Image
	West    float64
	South   float64
	East    float64
	North   float64
	Opacity float64
}

// Extent returns the geographic rectangle of the overlay.
func (o *Overlay) Extent() domain.Extent {
	return domain.Extent{West: o.West, South: o.South, East: o.East, North: o.North}
}

// GlobalOverlay covers the whole globe with img.
func GlobalOverlay(img image.Image, opacity float64) *Overlay {
	e := domain.GlobalExtent
	return &Overlay{Image: img, West: e.West, South: e.South, East: e.East, North: e.North, Opacity: opacity}
}

// Scene is everything one frame draws. Layers are composited in order:
// base imagery, the data mesh, then overlays.
type Scene struct {
	Width    int
	Height   int
	View     domain.ViewState
	Base     *Overlay
	Mesh     *domain.RasterMesh
	Overlays []*Overlay
}

// Transform returns the full-resolution pixel transform of the scene.
func (s Scene) Transform() projection.Transform {
	return projection.NewTransform(float64(s.Width), float64(s.Height), s.View)
}

// Compose draws a scene into fb using tr, which must already match the
// framebuffer's downsample factor. It returns the number of triangles drawn.
func Compose(fb *Framebuffer, tr projection.Transform, scene Scene) int {
	drawn := 0
	if scene.Base != nil {
		drawn += DrawOverlay(fb, tr, scene.Base)
	}
	drawn += DrawMesh(fb, tr, scene.Mesh)
	for _, o := range scene.Overlays {
		drawn += DrawOverlay(fb, tr, o)
	}
	return drawn
}

// DrawMesh projects every mesh vertex and rasterizes its triangles with
// interpolated vertex colours. Triangles reaching past the antimeridian are
// drawn twice, once on each side, and clamped to ±180 so the seam closes.
func DrawMesh(fb *Framebuffer, tr projection.Transform, m *domain.RasterMesh) int {
	drawn := 0
	for _, part := range m.Parts() {
		n := part.VertexCount()
		pts := make([]point, n)
		var east, west []point // copies shifted by -360 and +360
		for i := 0; i < n; i++ {
			lon, lat := part.Positions[i*2], part.Positions[i*2+1]
			pts[i] = projectClamped(tr, lon, lat)
			switch {
			case lon > 180 && east == nil:
				east = shiftedPoints(tr, part.Positions, -360)
			case lon < -180 && west == nil:
				west = shiftedPoints(tr, part.Positions, 360)
			}
		}

		vertexColor := func(i uint32) color.NRGBA {
			c := part.Colors[i*4 : i*4+4]
			return color.NRGBA{R: c[0], G: c[1], B: c[2], A: c[3]}
		}

		for t := 0; t+2 < len(part.Indices); t += 3 {
			i0, i1, i2 := part.Indices[t], part.Indices[t+1], part.Indices[t+2]
			c0, c1, c2 := vertexColor(i0), vertexColor(i1), vertexColor(i2)
			shade := func(b0, b1, b2 float64) color.NRGBA {
				return lerpColors(c0, c1, c2, b0, b1, b2)
			}
			if fillTriangle(fb, pts[i0], pts[i1], pts[i2], shade) {
				drawn++
			}

			lo, hi := lonRange(part.Positions, i0, i1, i2)
			if hi > 180 && east != nil {
				fillTriangle(fb, east[i0], east[i1], east[i2], shade)
			}
			if lo < -180 && west != nil {
				fillTriangle(fb, west[i0], west[i1], west[i2], shade)
			}
		}
	}
	return drawn
}

func projectClamped(tr projection.Transform, lon, lat float64) point {
	px, py := tr.GeographicToPixel(math.Max(-180, math.Min(180, lon)), lat)
	return point{px, py}
}

func shiftedPoints(tr projection.Transform, positions []float64, shift float64) []point {
	out := make([]point, len(positions)/2)
	for i := range out {
		out[i] = projectClamped(tr, positions[i*2]+shift, positions[i*2+1])
	}
	return out
}

func lonRange(positions []float64, idx ...uint32) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, i := range idx {
		lon := positions[i*2]
		lo, hi = math.Min(lo, lon), math.Max(hi, lon)
	}
	return lo, hi
}

// DrawOverlay warps an image into the projection through a lon/lat lattice
// and samples it with nearest-neighbour lookup.
func DrawOverlay(fb *Framebuffer, tr projection.Transform, o *Overlay) int {
	if o == nil || o.Image == nil || !o.Extent().IsValid() {
		return 0
	}
	bounds := o.Image.Bounds()
	if bounds.Empty() {
		return 0
	}
	opacity := min(o.Opacity, 1)
	if opacity <= 0 {
		return 0
	}

	type node struct {
		p    point
		u, v float64
	}
	nodes := make([]node, (latticeRows+1)*(latticeCols+1))
	for j := 0; j <= latticeRows; j++ {
		v := float64(j) / latticeRows
		lat := o.North - (o.North-o.South)*v
		for i := 0; i <= latticeCols; i++ {
			u := float64(i) / latticeCols
			lon := o.West + (o.East-o.West)*u
			px, py := tr.GeographicToPixel(lon, lat)
			nodes[j*(latticeCols+1)+i] = node{p: point{px, py}, u: u, v: v}
		}
	}

	sample := func(u, v float64) color.NRGBA {
		x := bounds.Min.X + min(bounds.Dx()-1, max(0, int(u*float64(bounds.Dx()))))
		y := bounds.Min.Y + min(bounds.Dy()-1, max(0, int(v*float64(bounds.Dy()))))
		c := color.NRGBAModel.Convert(o.Image.At(x, y)).(color.NRGBA)
		return colormap.WithOpacity(c, opacity)
	}

	drawn := 0
	tri := func(a, b, c node) {
		shade := func(b0, b1, b2 float64) color.NRGBA {
			return sample(a.u*b0+b.u*b1+c.u*b2, a.v*b0+b.v*b1+c.v*b2)
		}
		if fillTriangle(fb, a.p, b.p, c.p, shade) {
			drawn++
		}
	}
	for j := 0; j < latticeRows; j++ {
		for i := 0; i < latticeCols; i++ {
			n0 := nodes[j*(latticeCols+1)+i]
			n1 := nodes[j*(latticeCols+1)+i+1]
			n2 := nodes[(j+1)*(latticeCols+1)+i]
			n3 := nodes[(j+1)*(latticeCols+1)+i+1]
			tri(n0, n2, n1)
			tri(n1, n2, n3)
		}
	}
	return drawn
}
