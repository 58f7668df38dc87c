// Package mesh converts value grids into drawable triangle meshes.
package mesh

import (
	"github.com/jobrunner/climap/internal/colormap"
	"github.com/jobrunner/climap/internal/domain"
)

// Options controls mesh building. It is comparable and used as part of the
// cache key.
type Options struct {
	Ramp         string
	// Transparency is one minus the mesh opacity.
	Transparency float64
	Shading      domain.Shading
	Smooth       bool
	BlockStep    int
	VertexBudget int
}

// OptionsFor derives build options from a layer selection.
func OptionsFor(params domain.RenderParams, budget int) Options {
	return Options{
		Ramp:         params.Ramp,
		Transparency: 1 - params.Alpha(),
		Shading:      params.Shading,
		Smooth:       params.Smooth,
		BlockStep:    params.BlockStep,
		VertexBudget: budget,
	}
}

// Build runs the full mesh pipeline on a grid. The grid is not modified.
// Degenerate, malformed or nil grids produce an empty mesh.
func Build(grid *domain.RasterGrid, opts Options) *domain.RasterMesh {
	out := &domain.RasterMesh{Shading: opts.Shading}
	if grid == nil || grid.IsDegenerate() || grid.Validate() != nil {
		return out
	}

	f := newField(grid)
	wrapLongitudes(f)
	normalizeAscending(f)
	seam := expandSeam(f)
	if opts.Smooth {
		smooth(f, seam)
	}
	blockAverage(f, opts.BlockStep)

	out.Rows, out.Cols = f.rows(), f.cols()
	if f.rows() < 2 || f.cols() < 2 {
		return out
	}

	stops, _ := colormap.Stops(opts.Ramp)
	p := painter{stops: stops, min: grid.Min, max: grid.Max, opacity: opacity(opts.Transparency)}

	budget := opts.VertexBudget
	if budget <= 0 {
		budget = DefaultVertexBudget
	}

	full := span{rowEnd: f.rows() - 1, colEnd: f.cols() - 1}
	if vertexCount(f.rows(), f.cols(), opts.Shading) <= budget {
		t := tessellate(f, full, opts.Shading, p)
		out.Positions, out.Colors, out.Indices = t.Positions, t.Colors, t.Indices
		return out
	}

	for _, s := range planTiles(f.rows(), f.cols(), budget, opts.Shading) {
		out.Tiles = append(out.Tiles, tessellate(f, s, opts.Shading, p))
	}
	return out
}

func opacity(transparency float64) float64 {
	return max(0, min(1, 1-transparency))
}
