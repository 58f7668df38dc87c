package domain

import "fmt"

// Shading selects how a grid is tessellated.
type Shading int

// Shading modes.
const (
	// ShadingSmooth emits one vertex per grid point and interpolates colour.
	ShadingSmooth Shading = iota
	// ShadingFlat emits four vertices per cell sharing one colour.
	ShadingFlat
)

// String returns the configuration name of the shading mode.
func (s Shading) String() string {
	switch s {
	case ShadingSmooth:
		return "smooth"
	case ShadingFlat:
		return "flat"
	default:
		return "unknown"
	}
}

// ParseShading parses a shading mode name.
func ParseShading(s string) (Shading, error) {
	switch s {
	case "smooth", "":
		return ShadingSmooth, nil
	case "flat":
		return ShadingFlat, nil
	default:
		return ShadingSmooth, fmt.Errorf("shading %q: %w", s, ErrInvalidInput)
	}
}

// RasterMeshTile is one independently tessellated sub-grid. The ranges are
// inclusive vertex indices into the processed grid. Neighbouring tiles share
// exactly one row or column of vertices.
type RasterMeshTile struct {
	Positions []float64 // lon, lat pairs
	Colors    []uint8   // RGBA per vertex, not premultiplied
	Indices   []uint32  // three per triangle
	RowStart  int
	RowEnd    int
	ColStart  int
	ColEnd    int
}

// VertexCount returns the number of vertices in the tile.
func (t *RasterMeshTile) VertexCount() int {
	return len(t.Positions) / 2
}

// TriangleCount returns the number of triangles in the tile.
func (t *RasterMeshTile) TriangleCount() int {
	return len(t.Indices) / 3
}

// RasterMesh is drawable geometry derived from a RasterGrid. When the grid
// exceeds the vertex budget the geometry lives in Tiles and the top-level
// buffers are empty.
type RasterMesh struct {
	Positions []float64
	Colors    []uint8
	Indices   []uint32
	Rows      int
	Cols      int
	Shading   Shading
	Tiles     []RasterMeshTile
}

// IsEmpty reports whether there is nothing to draw.
func (m *RasterMesh) IsEmpty() bool {
	if m == nil {
		return true
	}
	if len(m.Tiles) > 0 {
		return false
	}
	return len(m.Indices) == 0
}

// IsTiled reports whether the mesh was split into tiles.
func (m *RasterMesh) IsTiled() bool {
	return m != nil && len(m.Tiles) > 0
}

// Parts returns the drawable pieces of the mesh. An untiled mesh is returned
// as a single part covering the full grid, sharing the mesh buffers.
func (m *RasterMesh) Parts() []RasterMeshTile {
	if m == nil || (len(m.Tiles) == 0 && len(m.Positions) == 0) {
		return nil
	}
	if len(m.Tiles) > 0 {
		return m.Tiles
	}
	return []RasterMeshTile{{
		Positions: m.Positions,
		Colors:    m.Colors,
		Indices:   m.Indices,
		RowStart:  0,
		RowEnd:    m.Rows - 1,
		ColStart:  0,
		ColEnd:    m.Cols - 1,
	}}
}

// VertexCount returns the total vertex count over all parts.
func (m *RasterMesh) VertexCount() int {
	n := 0
	for _, p := range m.Parts() {
		n += p.VertexCount()
	}
	return n
}
