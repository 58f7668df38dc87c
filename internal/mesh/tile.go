package mesh

import (
	"math"

	"github.com/jobrunner/climap/internal/domain"
)

// DefaultVertexBudget is the largest vertex count of one drawable buffer.
const DefaultVertexBudget = 32000

// planTiles splits a rows x cols vertex grid into spans that each fit the
// budget. Neighbouring spans share exactly one row or column.
func planTiles(rows, cols, budget int, shading domain.Shading) []span {
	perVertex := 1
	if shading == domain.ShadingFlat {
		perVertex = 4
	}
	cells := max(4, budget/perVertex)

	side := max(2, int(math.Sqrt(float64(cells))))
	tileCols := min(cols, side)
	tileRows := min(rows, max(2, cells/tileCols))

	rowRanges := ranges(rows, tileRows)
	colRanges := ranges(cols, tileCols)

	spans := make([]span, 0, len(rowRanges)*len(colRanges))
	for _, rr := range rowRanges {
		for _, cr := range colRanges {
			spans = append(spans, span{
				rowStart: rr[0], rowEnd: rr[1],
				colStart: cr[0], colEnd: cr[1],
			})
		}
	}
	return spans
}

// ranges covers [0, n-1] with inclusive ranges of at most size entries that
// overlap by one.
func ranges(n, size int) [][2]int {
	var out [][2]int
	for start := 0; ; start += size - 1 {
		end := min(start+size-1, n-1)
		out = append(out, [2]int{start, end})
		if end == n-1 {
			return out
		}
	}
}
