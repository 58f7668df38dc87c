package boundary

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/projection"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func pts(coords ...float64) []domain.GeoPoint {
	out := make([]domain.GeoPoint, 0, len(coords)/2)
	for i := 0; i+1 < len(coords); i += 2 {
		out = append(out, domain.GeoPoint{Lon: coords[i], Lat: coords[i+1]})
	}
	return out
}

func TestSplitDateline(t *testing.T) {
	tests := []struct {
		name     string
		coords   []domain.GeoPoint
		wantLens []int
	}{
		{"empty", nil, nil},
		{"single point", pts(10, 10), []int{1}},
		{"continuous", pts(0, 0, 5, 1, 10, 2), []int{3}},
		{"dateline crossing", pts(179, 10, -179, 10), []int{1, 1}},
		{"lon jump", pts(0, 0, 40, 0, 41, 0), []int{1, 2}},
		{"lat jump", pts(0, 0, 0, 35), []int{1, 1}},
		{"wrapped input", pts(178, 0, 182, 0), []int{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitDateline(tt.coords)
			if len(got) != len(tt.wantLens) {
				t.Fatalf("got %d segments, want %d", len(got), len(tt.wantLens))
			}
			for i, seg := range got {
				if len(seg) != tt.wantLens[i] {
					t.Errorf("segment %d has %d points, want %d", i, len(seg), tt.wantLens[i])
				}
			}
		})
	}

	if got := SplitDateline(pts(190, 0)); got[0][0].Lon != -170 {
		t.Errorf("longitude not wrapped: %v", got[0][0])
	}
}

func testTransform() projection.Transform {
	return projection.NewTransform(1000, 500, domain.DefaultView())
}

func TestProjectDatelineScenario(t *testing.T) {
	f := domain.BoundaryFeature{ID: "x", Coordinates: pts(179, 10, -179, 10), Kind: domain.KindBoundary}
	if paths := Project([]domain.BoundaryFeature{f}, testTransform(), 0); len(paths) != 0 {
		t.Errorf("dateline-crossing line produced %d paths: %+v", len(paths), paths)
	}
}

func TestProjectLine(t *testing.T) {
	f := domain.BoundaryFeature{
		ID:          "equator",
		Coordinates: pts(-20, 0, -10, 0.01, 0, 0, 10, 8, 20, 10),
		Kind:        domain.KindGeographicLines,
	}
	paths := Project([]domain.BoundaryFeature{f}, testTransform(), 0.5)
	if len(paths) != 1 {
		t.Fatalf("got %d paths, want 1", len(paths))
	}
	p := paths[0]
	if p.FeatureID != "equator" || p.Kind != domain.KindGeographicLines {
		t.Errorf("path metadata = %+v", p)
	}
	if !strings.HasPrefix(p.D, "M ") || !strings.Contains(p.D, " L ") {
		t.Errorf("D = %q, want M ... L ...", p.D)
	}
	if strings.Count(p.D, "M ") != 1 {
		t.Errorf("D = %q, want a single subpath", p.D)
	}
	// The nearly collinear point at -10 is dropped by simplification.
	if got := strings.Count(p.D, "L "); got != 3 {
		t.Errorf("D = %q has %d line commands, want 3", p.D, got)
	}
}

func TestProjectPixelFormat(t *testing.T) {
	f := domain.BoundaryFeature{ID: "o", Coordinates: pts(0, 0, 1, 0)}
	paths := Project([]domain.BoundaryFeature{f}, testTransform(), 0.5)
	if len(paths) != 1 {
		t.Fatalf("got %d paths", len(paths))
	}
	if !strings.HasPrefix(paths[0].D, "M 500.0,250.0 L ") {
		t.Errorf("D = %q", paths[0].D)
	}
}

func TestProjectOffscreen(t *testing.T) {
	tr := projection.NewTransform(1000, 500, domain.ViewState{Scale: 12})
	f := domain.BoundaryFeature{ID: "far", Coordinates: pts(120, 40, 121, 41)}
	if paths := Project([]domain.BoundaryFeature{f}, tr, 0.5); len(paths) != 0 {
		t.Errorf("off-screen line produced paths: %+v", paths)
	}
}

func TestProjectPixelJumpSplits(t *testing.T) {
	// Consecutive points 25 degrees apart exceed 4% of the frame width.
	f := domain.BoundaryFeature{ID: "j", Coordinates: pts(0, 0, 25, 0, 26, 0)}
	paths := Project([]domain.BoundaryFeature{f}, testTransform(), 0.5)
	if len(paths) != 1 {
		t.Fatalf("got %d paths", len(paths))
	}
	if got := strings.Count(paths[0].D, "M "); got != 1 {
		t.Errorf("D = %q, want only the trailing two-point segment", paths[0].D)
	}
}

const featureCollection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "coast-1", "properties": {},
     "geometry": {"type": "LineString", "coordinates": [[0,0],[1,1],[2,0]]}},
    {"type": "Feature", "properties": {"name": "island"},
     "geometry": {"type": "Polygon", "coordinates": [[[10,10],[11,10],[11,11],[10,10]],[[10.2,10.2],[10.4,10.2],[10.3,10.4],[10.2,10.2]]]}},
    {"type": "Feature", "properties": {},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[20,20],[21,20],[21,21],[20,20]]],[[[30,30],[31,30],[31,31],[30,30]]]]}},
    {"type": "Feature", "properties": {},
     "geometry": {"type": "MultiLineString", "coordinates": [[[0,5],[1,5]],[[0,6],[1,6]]]}},
    {"type": "Feature", "properties": {},
     "geometry": {"type": "Point", "coordinates": [5,5]}}
  ]
}`

func TestParseGeoJSON(t *testing.T) {
	src, err := Parse("coastline", domain.KindBoundary, []byte(featureCollection))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if src.Format != FormatGeoJSON {
		t.Errorf("Format = %v, want geojson", src.Format)
	}

	features := src.Features()
	// 1 line + 2 rings + 2 polygons + 2 lines; the point contributes nothing.
	if len(features) != 7 {
		t.Fatalf("got %d features, want 7", len(features))
	}
	if features[0].ID != "coastline/coast-1/0" {
		t.Errorf("first ID = %q", features[0].ID)
	}
	if features[1].ID != "coastline/island/0" {
		t.Errorf("named feature ID = %q", features[1].ID)
	}
	for _, f := range features {
		if f.Kind != domain.KindBoundary {
			t.Errorf("feature %s kind = %q", f.ID, f.Kind)
		}
	}
	if len(features[0].Coordinates) != 3 || features[0].Coordinates[1] != (domain.GeoPoint{Lon: 1, Lat: 1}) {
		t.Errorf("coordinates = %+v", features[0].Coordinates)
	}
}

func TestParseFeatureAndGeometry(t *testing.T) {
	feature := `{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]}}`
	src, err := Parse("f", domain.KindBoundary, []byte(feature))
	if err != nil || len(src.Features()) != 1 {
		t.Errorf("Feature: err=%v features=%d", err, len(src.Features()))
	}

	geometry := `{"type":"MultiLineString","coordinates":[[[0,0],[1,1]],[[2,2],[3,3]]]}`
	src, err = Parse("g", domain.KindBoundary, []byte(geometry))
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	if src.Format != FormatGeometries || len(src.Features()) != 2 {
		t.Errorf("geometry: format=%v features=%d", src.Format, len(src.Features()))
	}
}

func TestParseParallelArrays(t *testing.T) {
	doc := `{"lon": [[0, 1, 2], [10, 11]], "lat": [[5, 6, 7], [20, 21, 22]]}`
	src, err := Parse("rivers", domain.KindBoundary, []byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if src.Format != FormatParallelArrays {
		t.Errorf("Format = %v", src.Format)
	}
	features := src.Features()
	if len(features) != 2 {
		t.Fatalf("got %d features, want 2", len(features))
	}
	if len(features[1].Coordinates) != 2 {
		t.Errorf("uneven line truncated to %d points, want 2", len(features[1].Coordinates))
	}
	if features[0].Coordinates[2] != (domain.GeoPoint{Lon: 2, Lat: 7}) {
		t.Errorf("coordinate = %+v", features[0].Coordinates[2])
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"not json", `nope`, nil},
		{"unknown document", `{"foo": 1}`, domain.ErrUnsupportedFormat},
		{"mismatched arrays", `{"lon": [[0]], "lat": []}`, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("x", domain.KindBoundary, []byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFromGeometries(t *testing.T) {
	src := FromGeometries("lakes", domain.KindBoundary, []orb.Geometry{
		orb.Collection{orb.LineString{{0, 0}, {1, 1}}, orb.Ring{{0, 0}, {1, 0}, {0, 1}, {0, 0}}},
		orb.Point{1, 1},
	})
	if got := len(src.Features()); got != 2 {
		t.Errorf("got %d features, want 2", got)
	}
}

func TestLoader(t *testing.T) {
	storage := &mockStorage{files: map[string][]byte{
		"boundaries/coarse/coastline.geojson": []byte(featureCollection),
		"boundaries/coarse/lakes.json":        []byte(`{"lon": [[0, 1]], "lat": [[0, 1]]}`),
		"boundaries/coarse/rivers.json":       []byte(`{broken`),
		"boundaries/coarse/graticule.gpkg":    []byte("gpkg"),
	}}
	geoms := &mockGeometryReader{geoms: []orb.Geometry{orb.LineString{{0, 0}, {0, 10}}}}
	metrics := newMockMetrics()

	loader := NewLoader(storage, geoms, metrics, LoaderConfig{
		Prefix:   "boundaries",
		CacheDir: t.TempDir(),
	}, testLogger())

	features := loader.Features(context.Background(), domain.TierCoarse)
	// 7 from GeoJSON, 1 from arrays, 1 from the GeoPackage; rivers fails.
	if len(features) != 9 {
		t.Fatalf("got %d features, want 9", len(features))
	}
	if metrics.loads["coarse"] != 3 || metrics.failure["coarse"] != 1 {
		t.Errorf("loads = %v, failures = %v", metrics.loads, metrics.failure)
	}
	if len(geoms.paths) != 1 {
		t.Errorf("GeoPackage reader called %d times", len(geoms.paths))
	}

	var graticule int
	for _, f := range features {
		if f.Kind == domain.KindGeographicLines {
			graticule++
		}
	}
	if graticule != 1 {
		t.Errorf("graticule features = %d, want 1", graticule)
	}

	calls := storage.existsCalls
	loader.Features(context.Background(), domain.TierCoarse)
	if storage.existsCalls != calls {
		t.Error("second request should be served from cache")
	}
	if !loader.Loaded(domain.TierCoarse) || loader.Loaded(domain.TierFine) {
		t.Error("unexpected Loaded state")
	}

	if got := loader.Features(context.Background(), domain.TierFine); len(got) != 0 {
		t.Errorf("missing tier returned %d features", len(got))
	}

	loader.Invalidate()
	if loader.Loaded(domain.TierCoarse) {
		t.Error("Invalidate should drop cached tiers")
	}
}

func TestLoaderWithoutGeometryReader(t *testing.T) {
	storage := &mockStorage{files: map[string][]byte{
		"coarse/coastline.gpkg": []byte("gpkg"),
	}}
	metrics := newMockMetrics()
	loader := NewLoader(storage, nil, metrics, LoaderConfig{
		Files: []FileSpec{{Name: "coastline", Kind: domain.KindBoundary}},
	}, testLogger())

	if got := loader.Features(context.Background(), domain.TierCoarse); len(got) != 0 {
		t.Errorf("got %d features", len(got))
	}
	if metrics.failure["coarse"] != 1 {
		t.Errorf("failures = %v", metrics.failure)
	}
}

func TestLoaderStorageError(t *testing.T) {
	storage := &mockStorage{existsErr: errors.New("boom")}
	loader := NewLoader(storage, nil, nil, LoaderConfig{}, testLogger())
	if got := loader.Features(context.Background(), domain.TierMedium); len(got) != 0 {
		t.Errorf("got %d features", len(got))
	}
}
