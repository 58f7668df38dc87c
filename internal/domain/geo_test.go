package domain

import (
	"math"
	"testing"
)

func TestGeoPointValidate(t *testing.T) {
	tests := []struct {
		name    string
		point   GeoPoint
		wantErr bool
	}{
		{"origin", GeoPoint{Lon: 0, Lat: 0}, false},
		{"max bounds", GeoPoint{Lon: 180, Lat: 90}, false},
		{"min bounds", GeoPoint{Lon: -180, Lat: -90}, false},
		{"longitude too large", GeoPoint{Lon: 181, Lat: 0}, true},
		{"latitude too small", GeoPoint{Lon: 0, Lat: -91}, true},
		{"NaN longitude", GeoPoint{Lon: math.NaN(), Lat: 0}, true},
		{"infinite latitude", GeoPoint{Lon: 0, Lat: math.Inf(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.point.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWrapLon(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{180, 180},
		{-180, -180},
		{190, -170},
		{360, 0},
		{359.5, -0.5},
		{-190, 170},
		{540, -180},
		{-720, 0},
	}

	for _, tt := range tests {
		if got := WrapLon(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("WrapLon(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExtent(t *testing.T) {
	e := Extent{West: -10, South: -5, East: 10, North: 5}

	if !e.IsValid() {
		t.Error("extent should be valid")
	}
	if e.Width() != 20 || e.Height() != 10 {
		t.Errorf("Width/Height = %v/%v, want 20/10", e.Width(), e.Height())
	}
	if !e.Contains(GeoPoint{Lon: 0, Lat: 0}) {
		t.Error("extent should contain origin")
	}
	if e.Contains(GeoPoint{Lon: 11, Lat: 0}) {
		t.Error("extent should not contain (11, 0)")
	}
	if (Extent{West: 10, East: -10, South: 0, North: 1}).IsValid() {
		t.Error("inverted extent should be invalid")
	}
}

func TestProjectionBoundsFootprint(t *testing.T) {
	b := NewProjectionBounds(2, 1)

	if b.Width != 4 || b.Height != 2 {
		t.Fatalf("Width/Height = %v/%v, want 4/2", b.Width, b.Height)
	}

	tests := []struct {
		name  string
		x, y  float64
		slack float64
		want  bool
	}{
		{"center", 0, 0, 1, true},
		{"on x axis edge", 2, 0, 1, true},
		{"outside corner", 2, 1, 1, false},
		{"just outside without slack", 2.04, 0, 1, false},
		{"just outside with slack", 2.04, 0, 1.05, true},
		{"NaN", math.NaN(), 0, 1.05, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.InFootprint(tt.x, tt.y, tt.slack); got != tt.want {
				t.Errorf("InFootprint(%v, %v, %v) = %v, want %v", tt.x, tt.y, tt.slack, got, tt.want)
			}
		})
	}
}
