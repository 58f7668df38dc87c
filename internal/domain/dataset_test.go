package domain

import (
	"math"
	"testing"
)

func TestDatasetIsReady(t *testing.T) {
	tests := []struct {
		name string
		ds   Dataset
		want bool
	}{
		{
			name: "no grid",
			ds:   Dataset{ID: "empty"},
			want: false,
		},
		{
			name: "degenerate grid",
			ds: Dataset{Grid: &RasterGrid{
				Lat: []float64{0}, Lon: []float64{0, 1}, Values: []float64{1, 2},
			}},
			want: false,
		},
		{
			name: "2x2 grid",
			ds: Dataset{Grid: &RasterGrid{
				Lat: []float64{-10, 10}, Lon: []float64{-10, 10}, Values: []float64{1, 2, 3, 4},
			}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ds.IsReady(); got != tt.want {
				t.Errorf("IsReady() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDatasetExtentDescending(t *testing.T) {
	ds := Dataset{Grid: &RasterGrid{
		Lat:    []float64{60, 30, 0},
		Lon:    []float64{10, 20},
		Values: make([]float64, 6),
	}}

	got := ds.Extent()
	want := Extent{West: 10, South: 0, East: 20, North: 60}
	if got != want {
		t.Errorf("Extent() = %+v, want %+v", got, want)
	}
}

func TestLicense(t *testing.T) {
	tests := []struct {
		name      string
		license   License
		wantEmpty bool
		wantStr   string
	}{
		{"empty", License{}, true, ""},
		{"name only", License{Name: "CC BY 4.0"}, false, "CC BY 4.0"},
		{"attribution wins", License{Name: "CC BY 4.0", Attribution: "(c) ERA5"}, false, "(c) ERA5"},
		{"url only", License{URL: "https://example.com/license"}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.license.IsEmpty(); got != tt.wantEmpty {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.wantEmpty)
			}
			if got := tt.license.String(); got != tt.wantStr {
				t.Errorf("String() = %q, want %q", got, tt.wantStr)
			}
		})
	}
}

func TestRasterGridValidate(t *testing.T) {
	tests := []struct {
		name    string
		grid    RasterGrid
		wantErr bool
	}{
		{
			name: "valid ascending",
			grid: RasterGrid{Lat: []float64{0, 1}, Lon: []float64{0, 1, 2}, Values: make([]float64, 6)},
		},
		{
			name: "valid descending latitude",
			grid: RasterGrid{Lat: []float64{1, 0}, Lon: []float64{0, 1}, Values: make([]float64, 4)},
		},
		{
			name:    "wrong value count",
			grid:    RasterGrid{Lat: []float64{0, 1}, Lon: []float64{0, 1}, Values: make([]float64, 3)},
			wantErr: true,
		},
		{
			name:    "wrong mask length",
			grid:    RasterGrid{Lat: []float64{0, 1}, Lon: []float64{0, 1}, Values: make([]float64, 4), Mask: []uint8{1}},
			wantErr: true,
		},
		{
			name:    "non-monotonic longitude",
			grid:    RasterGrid{Lat: []float64{0, 1}, Lon: []float64{0, 2, 1}, Values: make([]float64, 6)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.grid.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRasterGridValidAndRange(t *testing.T) {
	g := &RasterGrid{
		Lat:    []float64{0, 1},
		Lon:    []float64{0, 1},
		Values: []float64{5, math.NaN(), -2, 100},
		Mask:   []uint8{1, 1, 1, 0},
	}

	want := []bool{true, false, true, false}
	for i, w := range want {
		if got := g.Valid(i); got != w {
			t.Errorf("Valid(%d) = %v, want %v", i, got, w)
		}
	}

	g.ComputeRange()
	if g.Min != -2 || g.Max != 5 {
		t.Errorf("range = [%v, %v], want [-2, 5]", g.Min, g.Max)
	}

	if _, ok := g.Value(1, 1); ok {
		t.Error("masked cell should not be valid")
	}
	if v, ok := g.Value(1, 0); !ok || v != -2 {
		t.Errorf("Value(1, 0) = %v, %v; want -2, true", v, ok)
	}
}

func TestNewGridFromFloat32(t *testing.T) {
	g := NewGridFromFloat32("f32", []float64{0, 1}, []float64{0, 1}, []float32{1.5, 2.5, 3.5, 4.5}, nil)

	if g.Min != 1.5 || g.Max != 4.5 {
		t.Errorf("range = [%v, %v], want [1.5, 4.5]", g.Min, g.Max)
	}
	if g.Key() != (GridKey{ID: "f32"}) {
		t.Errorf("Key() = %+v", g.Key())
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		width, scale float64
		want         Tier
	}{
		{800, 1, TierCoarse},
		{1200, 1.2, TierCoarse},
		{1200, 2, TierMedium},
		{1920, 1, TierMedium},
		{1920, 3, TierFine},
	}

	for _, tt := range tests {
		if got := TierFor(tt.width, tt.scale); got != tt.want {
			t.Errorf("TierFor(%v, %v) = %s, want %s", tt.width, tt.scale, got, tt.want)
		}
	}
}

func TestParseShading(t *testing.T) {
	for _, s := range []Shading{ShadingSmooth, ShadingFlat} {
		got, err := ParseShading(s.String())
		if err != nil || got != s {
			t.Errorf("ParseShading(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseShading("gouraud"); err == nil {
		t.Error("expected error for unknown shading")
	}
}
