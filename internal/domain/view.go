package domain

import "math"

// Default zoom limits.
const (
	MinScale = 1.0
	MaxScale = 12.0
)

// Offset is a pan offset in render pixels.
type Offset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ViewState is the zoom and pan state of a map view. It is passed by value.
type ViewState struct {
	Scale  float64 `json:"scale"`
	Offset Offset  `json:"offset"`
}

// DefaultView is the unzoomed, centered view.
func DefaultView() ViewState {
	return ViewState{Scale: MinScale}
}

// ClampScale limits a scale to [minScale, maxScale]. NaN maps to minScale.
func ClampScale(scale, minScale, maxScale float64) float64 {
	if math.IsNaN(scale) {
		return minScale
	}
	return math.Max(minScale, math.Min(maxScale, scale))
}

// Quality is the fidelity level of a render request.
type Quality int

// Render qualities.
const (
	// QualityPreview is a cheap, heavily downsampled frame drawn during gestures.
	QualityPreview Quality = iota
	// QualityFull is the progressive full-fidelity render run once idle.
	QualityFull
)

// String returns the metric label of the quality.
func (q Quality) String() string {
	if q == QualityFull {
		return "full"
	}
	return "preview"
}

// RenderParams selects what a map view draws. It is passed by value.
type RenderParams struct {
	DatasetID string   `json:"dataset_id"`
	Ramp      string   `json:"ramp"`
	Opacity   *float64 `json:"opacity,omitempty"`
	Shading   Shading  `json:"-"`
	Smooth    bool     `json:"smooth"`
	BlockStep int      `json:"block_step"`
	ShowBase  bool     `json:"show_base"`

	// Overlays are drawn over the dataset in order.
	Overlays []OverlayRef `json:"overlays,omitempty"`
}

// Alpha returns the dataset opacity. An unset opacity is fully opaque.
func (p RenderParams) Alpha() float64 {
	if p.Opacity == nil {
		return 1
	}
	return *p.Opacity
}

// MaxOverlays limits the overlay images of one layer.
const MaxOverlays = 8

// OverlayRef names a global image in storage drawn over the dataset, such
// as a historical raster.
type OverlayRef struct {
	Key     string   `json:"key"`
	Opacity *float64 `json:"opacity,omitempty"`
}

// Alpha returns the overlay opacity. An unset opacity is fully opaque.
func (r OverlayRef) Alpha() float64 {
	if r.Opacity == nil {
		return 1
	}
	return *r.Opacity
}

// RegionInfo is emitted for a completed click on the map.
type RegionInfo struct {
	Lat   float64  `json:"lat"`
	Lon   float64  `json:"lon"`
	Value *float64 `json:"value"`
	Units string   `json:"units"`
}
