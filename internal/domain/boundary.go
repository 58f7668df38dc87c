package domain

// FeatureKind distinguishes physical boundaries from reference lines.
type FeatureKind string

// Feature kinds.
const (
	KindBoundary        FeatureKind = "boundary"
	KindGeographicLines FeatureKind = "geographicLines"
)

// BoundaryFeature is a single polyline loaded from a boundary source. It is
// immutable after load.
type BoundaryFeature struct {
	ID          string
	Coordinates []GeoPoint
	Kind        FeatureKind
}

// Tier is a boundary resolution level.
type Tier string

// Resolution tiers.
const (
	TierCoarse Tier = "coarse"
	TierMedium Tier = "medium"
	TierFine   Tier = "fine"
)

// Tiers lists all tiers from coarse to fine.
var Tiers = []Tier{TierCoarse, TierMedium, TierFine}

// TierFor picks a tier from the effective rendered width in pixels.
func TierFor(renderWidth, scale float64) Tier {
	effective := renderWidth * scale
	switch {
	case effective < 1600:
		return TierCoarse
	case effective < 4000:
		return TierMedium
	default:
		return TierFine
	}
}

// Path is a projected boundary segment ready for drawing.
type Path struct {
	FeatureID string      `json:"id"`
	Kind      FeatureKind `json:"kind"`
	D         string      `json:"d"`
}
