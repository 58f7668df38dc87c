package mesh

import (
	"math"
	"sort"

	"github.com/jobrunner/climap/internal/domain"
)

// seamSpan is the longitude span above which a grid is treated as global
// and gets a duplicated seam column.
const seamSpan = 300.0

// field is the working copy of a grid during mesh building. Invalid cells
// hold NaN so the filters need not consult a separate mask.
type field struct {
	lat    []float64
	lon    []float64
	values []float64
}

func (f *field) rows() int { return len(f.lat) }
func (f *field) cols() int { return len(f.lon) }

func (f *field) at(r, c int) float64 {
	return f.values[r*f.cols()+c]
}

func newField(g *domain.RasterGrid) *field {
	f := &field{
		lat:    append([]float64(nil), g.Lat...),
		lon:    append([]float64(nil), g.Lon...),
		values: make([]float64, len(g.Values)),
	}
	for i := range g.Values {
		if g.Valid(i) {
			f.values[i] = g.Values[i]
		} else {
			f.values[i] = math.NaN()
		}
	}
	return f
}

// wrapLongitudes folds longitudes above 180 into [-180, 180) and reorders
// the columns to stay monotonic. A closing column equal to the first one
// plus 360 is dropped first.
func wrapLongitudes(f *field) {
	n := f.cols()
	if n >= 2 && math.Abs(math.Abs(f.lon[n-1]-f.lon[0])-360) < 1e-9 {
		f.keepColumns(identity(n - 1))
	}

	wrapped := false
	for _, lon := range f.lon {
		if lon > 180 {
			wrapped = true
			break
		}
	}
	if !wrapped {
		return
	}

	for i, lon := range f.lon {
		if lon > 180 {
			f.lon[i] = lon - 360
		}
	}
	order := identity(f.cols())
	sort.SliceStable(order, func(a, b int) bool {
		return f.lon[order[a]] < f.lon[order[b]]
	})
	f.keepColumns(order)
}

// normalizeAscending reverses descending latitude and longitude axes.
func normalizeAscending(f *field) {
	if r := f.rows(); r >= 2 && f.lat[0] > f.lat[r-1] {
		order := make([]int, r)
		for i := range order {
			order[i] = r - 1 - i
		}
		f.keepRows(order)
	}
	if c := f.cols(); c >= 2 && f.lon[0] > f.lon[c-1] {
		order := make([]int, c)
		for i := range order {
			order[i] = c - 1 - i
		}
		f.keepColumns(order)
	}
}

// expandSeam appends a copy of the first column shifted by 360 degrees so a
// global grid closes across the antimeridian. It reports whether it did.
func expandSeam(f *field) bool {
	c := f.cols()
	if c < 2 || f.lon[c-1]-f.lon[0] <= seamSpan {
		return false
	}
	order := append(identity(c), 0)
	f.keepColumns(order)
	f.lon[c] = f.lon[0] + 360
	return true
}

// keepColumns rebuilds the field from the given source column order.
func (f *field) keepColumns(order []int) {
	rows, cols := f.rows(), f.cols()
	lon := make([]float64, len(order))
	values := make([]float64, rows*len(order))
	for j, src := range order {
		lon[j] = f.lon[src]
		for r := 0; r < rows; r++ {
			values[r*len(order)+j] = f.values[r*cols+src]
		}
	}
	f.lon, f.values = lon, values
}

// keepRows rebuilds the field from the given source row order.
func (f *field) keepRows(order []int) {
	cols := f.cols()
	lat := make([]float64, len(order))
	values := make([]float64, len(order)*cols)
	for i, src := range order {
		lat[i] = f.lat[src]
		copy(values[i*cols:(i+1)*cols], f.values[src*cols:(src+1)*cols])
	}
	f.lat, f.values = lat, values
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
