package mesh

import (
	"math"

	"github.com/jobrunner/climap/internal/domain"
)

// SampleValue returns the value of the grid cell nearest to (lon, lat).
// It reports false for masked cells and for points more than half a cell
// outside the grid. Grids covering the full circle accept any longitude.
func SampleValue(grid *domain.RasterGrid, lon, lat float64) (float64, bool) {
	if grid == nil || grid.Rows() == 0 || grid.Cols() == 0 {
		return 0, false
	}
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return 0, false
	}

	row, dLat := nearest(grid.Lat, lat, linearDistance)
	if dLat > halfStep(grid.Lat) {
		return 0, false
	}

	col, dLon := nearest(grid.Lon, lon, circularDistance)
	if !isGlobal(grid.Lon) && dLon > halfStep(grid.Lon) {
		return 0, false
	}

	return grid.Value(row, col)
}

func nearest(axis []float64, v float64, dist func(a, b float64) float64) (int, float64) {
	best, bestD := 0, math.Inf(1)
	for i, a := range axis {
		if d := dist(a, v); d < bestD {
			best, bestD = i, d
		}
	}
	return best, bestD
}

func linearDistance(a, b float64) float64 {
	return math.Abs(a - b)
}

func circularDistance(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	return math.Min(d, 360-d)
}

// halfStep is half the mean axis spacing, with a small tolerance. A single
// coordinate accepts only exact matches.
func halfStep(axis []float64) float64 {
	n := len(axis)
	if n < 2 {
		return 1e-9
	}
	return math.Abs(axis[n-1]-axis[0])/float64(n-1)/2 + 1e-9
}

func isGlobal(lon []float64) bool {
	n := len(lon)
	if n < 2 {
		return false
	}
	step := math.Abs(lon[n-1]-lon[0]) / float64(n-1)
	return math.Abs(lon[n-1]-lon[0])+step >= 360-1e-6
}
