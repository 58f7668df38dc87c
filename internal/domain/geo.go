// Package domain contains the core entities and value objects of the map engine.
package domain

import (
	"fmt"
	"math"
)

// GeoPoint is a geographic position in degrees.
// Longitudes may arrive unwrapped; consumers call WrapLon where it matters.
type GeoPoint struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Validate checks that the point lies on the globe.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) || p.Lon < -180 || p.Lon > 180 {
		return &ValidationError{
			Field:      "lon",
			Value:      p.Lon,
			Constraint: "[-180, 180]",
			Message:    "longitude must be between -180 and 180",
		}
	}
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return &ValidationError{
			Field:      "lat",
			Value:      p.Lat,
			Constraint: "[-90, 90]",
			Message:    "latitude must be between -90 and 90",
		}
	}
	return nil
}

// Wrapped returns the point with its longitude wrapped into [-180, 180].
func (p GeoPoint) Wrapped() GeoPoint {
	return GeoPoint{Lon: WrapLon(p.Lon), Lat: p.Lat}
}

// String returns a string representation of the point.
func (p GeoPoint) String() string {
	return fmt.Sprintf("(%.4f, %.4f)", p.Lon, p.Lat)
}

// WrapLon wraps a longitude into [-180, 180]. Values already in range are
// returned unchanged so that both +180 and -180 survive.
func WrapLon(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	w := math.Mod(lon+180, 360)
	if w < 0 {
		w += 360
	}
	return w - 180
}

// Extent is a geographic bounding box in degrees.
type Extent struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// GlobalExtent covers the whole globe.
var GlobalExtent = Extent{West: -180, South: -90, East: 180, North: 90}

// Contains checks if a point is within the extent.
func (e Extent) Contains(p GeoPoint) bool {
	return p.Lon >= e.West && p.Lon <= e.East && p.Lat >= e.South && p.Lat <= e.North
}

// IsValid checks if the extent has valid dimensions.
func (e Extent) IsValid() bool {
	return e.West < e.East && e.South < e.North
}

// Width returns the longitudinal span in degrees.
func (e Extent) Width() float64 {
	return math.Abs(e.East - e.West)
}

// Height returns the latitudinal span in degrees.
func (e Extent) Height() float64 {
	return math.Abs(e.North - e.South)
}

// ProjectionBounds is the extent of a projection's output in normalized
// projection units. It is immutable for a given projection.
type ProjectionBounds struct {
	XMin   float64
	XMax   float64
	YMin   float64
	YMax   float64
	Width  float64
	Height float64
}

// NewProjectionBounds builds bounds from the half extents of the footprint.
func NewProjectionBounds(halfWidth, halfHeight float64) ProjectionBounds {
	return ProjectionBounds{
		XMin:   -halfWidth,
		XMax:   halfWidth,
		YMin:   -halfHeight,
		YMax:   halfHeight,
		Width:  2 * halfWidth,
		Height: 2 * halfHeight,
	}
}

// Center returns the center of the bounds.
func (b ProjectionBounds) Center() (float64, float64) {
	return (b.XMin + b.XMax) / 2, (b.YMin + b.YMax) / 2
}

// FootprintRatio returns (dx/rx)^2 + (dy/ry)^2 for a projected point, where
// the ellipse inscribed in the bounds has radii rx and ry. Values <= 1 lie
// inside the ellipse.
func (b ProjectionBounds) FootprintRatio(x, y float64) float64 {
	cx, cy := b.Center()
	rx, ry := b.Width/2, b.Height/2
	if rx <= 0 || ry <= 0 {
		return math.Inf(1)
	}
	dx := (x - cx) / rx
	dy := (y - cy) / ry
	return dx*dx + dy*dy
}

// InFootprint reports whether a projected point lies within the ellipse,
// allowing the given slack (1.0 means exact).
func (b ProjectionBounds) InFootprint(x, y, slack float64) bool {
	r := b.FootprintRatio(x, y)
	return !math.IsNaN(r) && r <= slack
}
