package boundary

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"

	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/projection"
)

const (
	// FootprintSlack widens the outline ellipse test by 5%.
	FootprintSlack = 1.05
	// PixelJumpFraction of the larger frame dimension breaks a segment.
	PixelJumpFraction = 0.04
	// DefaultTolerance is the Douglas-Peucker tolerance in pixels.
	DefaultTolerance = 0.5
)

// Project converts features into SVG paths for one view. Lines are split at
// the dateline, at the edge of the projected globe and at projection
// discontinuities, then simplified in pixel space. Features with nothing
// left to draw produce no path.
func Project(features []domain.BoundaryFeature, tr projection.Transform, tolerance float64) []domain.Path {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	simplifier := simplify.DouglasPeucker(tolerance)
	jump := PixelJumpFraction * math.Max(tr.Width, tr.Height)

	var out []domain.Path
	for _, f := range features {
		var d strings.Builder
		for _, part := range SplitDateline(f.Coordinates) {
			for _, seg := range projectSegment(part, tr, jump) {
				if !visible(seg, tr) {
					continue
				}
				if s, ok := simplifier.Simplify(seg).(orb.LineString); ok {
					seg = s
				}
				writeSegment(&d, seg)
			}
		}
		if d.Len() > 0 {
			out = append(out, domain.Path{FeatureID: f.ID, Kind: f.Kind, D: d.String()})
		}
	}
	return out
}

// projectSegment projects a dateline-safe run of points and splits it where
// points leave the footprint or jump too far in pixels. Only runs of at
// least two points are returned.
func projectSegment(points []domain.GeoPoint, tr projection.Transform, jump float64) []orb.LineString {
	var out []orb.LineString
	var cur orb.LineString
	flush := func() {
		if len(cur) >= 2 {
			out = append(out, cur)
		}
		cur = nil
	}

	for _, p := range points {
		x, y := projection.Forward(p.Lon, p.Lat)
		if !projection.InFootprint(x, y, FootprintSlack) {
			flush()
			continue
		}
		px, py := tr.ProjectionToPixel(x, y)
		if n := len(cur); n > 0 && math.Hypot(px-cur[n-1][0], py-cur[n-1][1]) > jump {
			flush()
		}
		cur = append(cur, orb.Point{px, py})
	}
	flush()
	return out
}

// visible reports whether a pixel segment's bounds touch the frame.
func visible(ls orb.LineString, tr projection.Transform) bool {
	b := ls.Bound()
	return b.Max[0] >= 0 && b.Min[0] <= tr.Width && b.Max[1] >= 0 && b.Min[1] <= tr.Height
}

func writeSegment(d *strings.Builder, ls orb.LineString) {
	buf := make([]byte, 0, 16)
	for i, p := range ls {
		if d.Len() > 0 {
			d.WriteByte(' ')
		}
		if i == 0 {
			d.WriteString("M ")
		} else {
			d.WriteString("L ")
		}
		buf = strconv.AppendFloat(buf[:0], p[0], 'f', 1, 64)
		buf = append(buf, ',')
		buf = strconv.AppendFloat(buf, p[1], 'f', 1, 64)
		d.Write(buf)
	}
}
