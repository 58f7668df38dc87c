package domain

import (
	"fmt"
	"math"
)

// RasterGrid is a row-major grid of scientific values indexed by latitude
// (rows) and longitude (columns). Values[row*cols+col] holds the sample for
// Lat[row], Lon[col]. Mask[i] == 0 marks a no-data cell; a nil Mask means
// every finite value is valid.
type RasterGrid struct {
	ID      string
	Version int64
	Units   string
	Lat     []float64
	Lon     []float64
	Values  []float64
	Mask    []uint8
	Min     float64
	Max     float64
}

// GridKey identifies one immutable revision of a grid.
type GridKey struct {
	ID      string
	Version int64
}

// Key returns the grid identity used for mesh caching.
func (g *RasterGrid) Key() GridKey {
	return GridKey{ID: g.ID, Version: g.Version}
}

// Rows returns the number of latitude rows.
func (g *RasterGrid) Rows() int {
	return len(g.Lat)
}

// Cols returns the number of longitude columns.
func (g *RasterGrid) Cols() int {
	return len(g.Lon)
}

// IsDegenerate reports whether the grid is too small to tessellate.
func (g *RasterGrid) IsDegenerate() bool {
	return g.Rows() < 2 || g.Cols() < 2
}

// Valid reports whether cell i carries usable data.
func (g *RasterGrid) Valid(i int) bool {
	if i < 0 || i >= len(g.Values) {
		return false
	}
	if g.Mask != nil && g.Mask[i] == 0 {
		return false
	}
	v := g.Values[i]
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Value returns the value at (row, col) and whether it is valid.
func (g *RasterGrid) Value(row, col int) (float64, bool) {
	i := row*g.Cols() + col
	if row < 0 || col < 0 || row >= g.Rows() || col >= g.Cols() || !g.Valid(i) {
		return 0, false
	}
	return g.Values[i], true
}

// Validate checks the structural invariants of the grid.
func (g *RasterGrid) Validate() error {
	n := g.Rows() * g.Cols()
	if len(g.Values) != n {
		return fmt.Errorf("%w: %d values for %dx%d grid", ErrInvalidGrid, len(g.Values), g.Rows(), g.Cols())
	}
	if g.Mask != nil && len(g.Mask) != n {
		return fmt.Errorf("%w: mask length %d, want %d", ErrInvalidGrid, len(g.Mask), n)
	}
	if !isMonotonic(g.Lat) {
		return fmt.Errorf("%w: latitudes are not monotonic", ErrInvalidGrid)
	}
	if !isMonotonic(g.Lon) {
		return fmt.Errorf("%w: longitudes are not monotonic", ErrInvalidGrid)
	}
	return nil
}

// ComputeRange sets Min and Max from the valid values. It leaves them
// untouched when no value is valid.
func (g *RasterGrid) ComputeRange() {
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, v := range g.Values {
		if !g.Valid(i) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo <= hi {
		g.Min, g.Max = lo, hi
	}
}

// NewGridFromFloat32 builds a grid from single precision values.
func NewGridFromFloat32(id string, lat, lon []float64, values []float32, mask []uint8) *RasterGrid {
	v := make([]float64, len(values))
	for i, f := range values {
		v[i] = float64(f)
	}
	g := &RasterGrid{ID: id, Lat: lat, Lon: lon, Values: v, Mask: mask}
	g.ComputeRange()
	return g
}

func isMonotonic(xs []float64) bool {
	if len(xs) < 2 {
		return true
	}
	asc := xs[1] > xs[0]
	for i := 1; i < len(xs); i++ {
		if asc && !(xs[i] > xs[i-1]) {
			return false
		}
		if !asc && !(xs[i] < xs[i-1]) {
			return false
		}
	}
	return true
}
