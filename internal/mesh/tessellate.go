package mesh

import (
	"image/color"
	"math"

	"github.com/jobrunner/climap/internal/colormap"
	"github.com/jobrunner/climap/internal/domain"
)

// span is an inclusive vertex range of the processed field.
type span struct {
	rowStart, rowEnd int
	colStart, colEnd int
}

func (s span) rows() int { return s.rowEnd - s.rowStart + 1 }
func (s span) cols() int { return s.colEnd - s.colStart + 1 }

// painter maps values to vertex colours.
type painter struct {
	stops    []color.NRGBA
	min, max float64
	opacity  float64
}

func (p painter) color(v float64) color.NRGBA {
	if math.IsNaN(v) {
		return color.NRGBA{}
	}
	return colormap.WithOpacity(colormap.MapValueToRGBA(v, p.min, p.max, p.stops), p.opacity)
}

// tessellate builds the geometry of one span.
func tessellate(f *field, s span, shading domain.Shading, p painter) domain.RasterMeshTile {
	if shading == domain.ShadingFlat {
		return tessellateFlat(f, s, p)
	}
	return tessellateSmooth(f, s, p)
}

// tessellateSmooth emits one vertex per grid point and two triangles per
// quad. Triangles whose three vertices are all transparent are skipped.
func tessellateSmooth(f *field, s span, p painter) domain.RasterMeshTile {
	w, h := s.cols(), s.rows()
	t := domain.RasterMeshTile{
		Positions: make([]float64, 0, w*h*2),
		Colors:    make([]uint8, 0, w*h*4),
		Indices:   make([]uint32, 0, (w-1)*(h-1)*6),
		RowStart:  s.rowStart,
		RowEnd:    s.rowEnd,
		ColStart:  s.colStart,
		ColEnd:    s.colEnd,
	}

	for r := s.rowStart; r <= s.rowEnd; r++ {
		for c := s.colStart; c <= s.colEnd; c++ {
			col := p.color(f.at(r, c))
			t.Positions = append(t.Positions, f.lon[c], f.lat[r])
			t.Colors = append(t.Colors, col.R, col.G, col.B, col.A)
		}
	}

	alpha := func(i uint32) uint8 { return t.Colors[i*4+3] }
	for r := 0; r < h-1; r++ {
		for c := 0; c < w-1; c++ {
			i0 := uint32(r*w + c)
			i1 := i0 + 1
			i2 := i0 + uint32(w)
			i3 := i2 + 1
			if alpha(i0)|alpha(i2)|alpha(i1) != 0 {
				t.Indices = append(t.Indices, i0, i2, i1)
			}
			if alpha(i1)|alpha(i2)|alpha(i3) != 0 {
				t.Indices = append(t.Indices, i1, i2, i3)
			}
		}
	}
	return t
}

// tessellateFlat emits four vertices per quad sharing the colour of the mean
// of its corners. A quad with any invalid corner is transparent and gets no
// triangles.
func tessellateFlat(f *field, s span, p painter) domain.RasterMeshTile {
	quads := (s.rows() - 1) * (s.cols() - 1)
	t := domain.RasterMeshTile{
		Positions: make([]float64, 0, quads*8),
		Colors:    make([]uint8, 0, quads*16),
		Indices:   make([]uint32, 0, quads*6),
		RowStart:  s.rowStart,
		RowEnd:    s.rowEnd,
		ColStart:  s.colStart,
		ColEnd:    s.colEnd,
	}

	for r := s.rowStart; r < s.rowEnd; r++ {
		for c := s.colStart; c < s.colEnd; c++ {
			v := (f.at(r, c) + f.at(r, c+1) + f.at(r+1, c) + f.at(r+1, c+1)) / 4
			col := p.color(v)

			base := uint32(len(t.Positions) / 2)
			t.Positions = append(t.Positions,
				f.lon[c], f.lat[r],
				f.lon[c+1], f.lat[r],
				f.lon[c], f.lat[r+1],
				f.lon[c+1], f.lat[r+1],
			)
			for k := 0; k < 4; k++ {
				t.Colors = append(t.Colors, col.R, col.G, col.B, col.A)
			}
			if col.A != 0 {
				t.Indices = append(t.Indices, base, base+2, base+1, base+1, base+2, base+3)
			}
		}
	}
	return t
}

// vertexCount returns the vertices a span produces in the given mode.
func vertexCount(rows, cols int, shading domain.Shading) int {
	if shading == domain.ShadingFlat {
		return 4 * (rows - 1) * (cols - 1)
	}
	return rows * cols
}
