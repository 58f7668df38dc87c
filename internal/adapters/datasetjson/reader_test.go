package datasetjson

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/ports/output"
)

var _ output.DatasetReader = (*Reader)(nil)

func TestReader_Read(t *testing.T) {
	doc := `{
		"id": "t2m",
		"name": "2 m temperature",
		"units": "K",
		"lat": [-45, 45],
		"lon": [-90, 0, 90],
		"values": [[250, 260, 270], [280, null, 300]],
		"license": {"name": "CC BY 4.0"}
	}`

	ds, err := NewReader().Read(context.Background(), "era5/t2m.json", strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if ds.ID != "t2m" || ds.Name != "2 m temperature" || ds.Units != "K" {
		t.Errorf("Read() = %+v", ds)
	}
	if ds.License.Name != "CC BY 4.0" {
		t.Errorf("License.Name = %q", ds.License.Name)
	}

	g := ds.Grid
	if g.Rows() != 2 || g.Cols() != 3 {
		t.Fatalf("grid is %dx%d, want 2x3", g.Rows(), g.Cols())
	}
	if g.Min != 250 || g.Max != 300 {
		t.Errorf("range = [%v, %v], want [250, 300]", g.Min, g.Max)
	}
	if _, ok := g.Value(1, 1); ok {
		t.Error("null cell should be invalid")
	}
	if !math.IsNaN(g.Values[4]) {
		t.Errorf("null cell = %v, want NaN", g.Values[4])
	}
	if v, ok := g.Value(1, 2); !ok || v != 300 {
		t.Errorf("Value(1, 2) = %v, %v", v, ok)
	}
	if !ds.IsReady() {
		t.Error("dataset should be ready")
	}
}

func TestReader_Read_Defaults(t *testing.T) {
	doc := `{"lat": [0, 1], "lon": [0, 1], "values": [1, 2, 3, 4], "min": 0, "max": 10}`

	ds, err := NewReader().Read(context.Background(), "data/precip.json", strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if ds.ID != "precip" || ds.Name != "precip" {
		t.Errorf("ID, Name = %q, %q, want precip", ds.ID, ds.Name)
	}
	if ds.Grid.Min != 0 || ds.Grid.Max != 10 {
		t.Errorf("range = [%v, %v], want [0, 10]", ds.Grid.Min, ds.Grid.Max)
	}
	if ds.Grid.Mask != nil {
		t.Errorf("Mask = %v, want nil", ds.Grid.Mask)
	}
}

func TestReader_Read_Mask(t *testing.T) {
	doc := `{"lat": [0, 1], "lon": [0, 1], "values": [1, null, 3, 4], "mask": [[1, 1], [0, 1]]}`

	ds, err := NewReader().Read(context.Background(), "m.json", strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	want := []uint8{1, 0, 0, 1}
	for i, m := range ds.Grid.Mask {
		if m != want[i] {
			t.Fatalf("Mask = %v, want %v", ds.Grid.Mask, want)
		}
	}
	if ds.Grid.Min != 1 || ds.Grid.Max != 4 {
		t.Errorf("range = [%v, %v], want [1, 4]", ds.Grid.Min, ds.Grid.Max)
	}
}

func TestReader_Read_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{"malformed", `{"lat": [`, domain.ErrUnsupportedFormat},
		{"missing values", `{"lat": [0, 1], "lon": [0, 1]}`, domain.ErrInvalidInput},
		{"size mismatch", `{"lat": [0, 1], "lon": [0, 1], "values": [1, 2, 3]}`, domain.ErrInvalidInput},
		{"not numbers", `{"lat": [0, 1], "lon": [0, 1], "values": "abc"}`, domain.ErrInvalidInput},
		{"mask mismatch", `{"lat": [0, 1], "lon": [0, 1], "values": [1, 2, 3, 4], "mask": [1]}`, domain.ErrInvalidInput},
		{"not monotonic", `{"lat": [0, 0], "lon": [0, 1], "values": [1, 2, 3, 4]}`, domain.ErrInvalidGrid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader().Read(context.Background(), "x.json", strings.NewReader(tt.doc))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Read() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReader_Read_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doc := `{"lat": [0, 1], "lon": [0, 1], "values": [1, 2, 3, 4]}`
	if _, err := NewReader().Read(ctx, "x.json", strings.NewReader(doc)); !errors.Is(err, context.Canceled) {
		t.Errorf("Read() error = %v, want context.Canceled", err)
	}
}

func TestIDFromKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"t2m.json", "t2m"},
		{"era5/monthly/t2m.json", "t2m"},
		{`era5\precip.json`, "precip"},
		{"noext", "noext"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := IDFromKey(tt.key); got != tt.want {
			t.Errorf("IDFromKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
