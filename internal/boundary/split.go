package boundary

import (
	"math"

	"github.com/jobrunner/climap/internal/domain"
)

// Largest step between consecutive vertices, in degrees, that is drawn as a
// continuous line.
const (
	MaxLonJump = 30.0
	MaxLatJump = 30.0
)

// SplitDateline wraps longitudes into [-180, 180] and breaks the line
// wherever consecutive points jump across the antimeridian or further than
// the jump thresholds. Segments may hold a single point.
func SplitDateline(coords []domain.GeoPoint) [][]domain.GeoPoint {
	if len(coords) == 0 {
		return nil
	}

	var out [][]domain.GeoPoint
	cur := []domain.GeoPoint{coords[0].Wrapped()}
	for _, c := range coords[1:] {
		p := c.Wrapped()
		prev := cur[len(cur)-1]
		dLon := math.Abs(p.Lon - prev.Lon)
		dLat := math.Abs(p.Lat - prev.Lat)
		if dLon > 180 || dLon > MaxLonJump || dLat > MaxLatJump {
			out = append(out, cur)
			cur = nil
		}
		cur = append(cur, p)
	}
	return append(out, cur)
}
