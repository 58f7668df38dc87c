// Package boundary loads vector boundary data and turns it into projected,
// dateline-safe SVG path strings.
package boundary

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/climap/internal/domain"
)

// Format identifies the encoding a Source was read from.
type Format int

// Source formats.
const (
	FormatGeoJSON Format = iota
	FormatParallelArrays
	FormatGeometries
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatGeoJSON:
		return "geojson"
	case FormatParallelArrays:
		return "arrays"
	case FormatGeometries:
		return "geometries"
	default:
		return "unknown"
	}
}

// Source is one boundary file in any supported encoding. Exactly one of the
// payload fields is set, matching Format.
type Source struct {
	Name   string
	Kind   domain.FeatureKind
	Format Format

	collection *geojson.FeatureCollection
	lon, lat   [][]float64
	geometries []orb.Geometry
}

// FromGeoJSON wraps a decoded feature collection.
func FromGeoJSON(name string, kind domain.FeatureKind, fc *geojson.FeatureCollection) Source {
	return Source{Name: name, Kind: kind, Format: FormatGeoJSON, collection: fc}
}

// FromArrays wraps parallel longitude and latitude arrays, one pair of
// slices per polyline.
func FromArrays(name string, kind domain.FeatureKind, lon, lat [][]float64) Source {
	return Source{Name: name, Kind: kind, Format: FormatParallelArrays, lon: lon, lat: lat}
}

// FromGeometries wraps geometries read from a vector file.
func FromGeometries(name string, kind domain.FeatureKind, geoms []orb.Geometry) Source {
	return Source{Name: name, Kind: kind, Format: FormatGeometries, geometries: geoms}
}

// Parse decodes a JSON boundary document. GeoJSON (collection, feature or
// bare geometry) and {"lon": [[...]], "lat": [[...]]} documents are accepted.
func Parse(name string, kind domain.FeatureKind, data []byte) (Source, error) {
	var head struct {
		Type string      `json:"type"`
		Lon  [][]float64 `json:"lon"`
		Lat  [][]float64 `json:"lat"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Source{}, fmt.Errorf("%s: %w", name, err)
	}

	switch head.Type {
	case "":
		if head.Lon == nil || head.Lat == nil {
			return Source{}, fmt.Errorf("%s: %w: neither GeoJSON nor lon/lat arrays", name, domain.ErrUnsupportedFormat)
		}
		if len(head.Lon) != len(head.Lat) {
			return Source{}, fmt.Errorf("%s: %w: %d lon lines, %d lat lines", name, domain.ErrInvalidInput, len(head.Lon), len(head.Lat))
		}
		return FromArrays(name, kind, head.Lon, head.Lat), nil

	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return Source{}, fmt.Errorf("%s: %w", name, err)
		}
		return FromGeoJSON(name, kind, fc), nil

	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return Source{}, fmt.Errorf("%s: %w", name, err)
		}
		fc := geojson.NewFeatureCollection()
		fc.Append(f)
		return FromGeoJSON(name, kind, fc), nil

	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return Source{}, fmt.Errorf("%s: %w", name, err)
		}
		return FromGeometries(name, kind, []orb.Geometry{g.Geometry()}), nil
	}
}

// Features normalizes the source into polylines.
func (s Source) Features() []domain.BoundaryFeature {
	var out []domain.BoundaryFeature
	add := func(id string, ls orb.LineString) {
		if len(ls) == 0 {
			return
		}
		coords := make([]domain.GeoPoint, len(ls))
		for i, p := range ls {
			coords[i] = domain.GeoPoint{Lon: p.Lon(), Lat: p.Lat()}
		}
		out = append(out, domain.BoundaryFeature{ID: id, Coordinates: coords, Kind: s.Kind})
	}

	switch s.Format {
	case FormatGeoJSON:
		if s.collection == nil {
			return nil
		}
		for i, f := range s.collection.Features {
			id := featureID(s.Name, i, f)
			for j, ls := range lines(f.Geometry) {
				add(id+"/"+strconv.Itoa(j), ls)
			}
		}

	case FormatParallelArrays:
		for i := range s.lon {
			n := min(len(s.lon[i]), len(s.lat[i]))
			ls := make(orb.LineString, n)
			for k := 0; k < n; k++ {
				ls[k] = orb.Point{s.lon[i][k], s.lat[i][k]}
			}
			add(s.Name+"/"+strconv.Itoa(i), ls)
		}

	case FormatGeometries:
		for i, g := range s.geometries {
			for j, ls := range lines(g) {
				add(s.Name+"/"+strconv.Itoa(i)+"/"+strconv.Itoa(j), ls)
			}
		}
	}
	return out
}

func featureID(name string, index int, f *geojson.Feature) string {
	if f.ID != nil {
		return fmt.Sprintf("%s/%v", name, f.ID)
	}
	if v, ok := f.Properties["name"].(string); ok && v != "" {
		return name + "/" + v
	}
	return name + "/" + strconv.Itoa(index)
}

// lines flattens a geometry into its polylines. Polygon rings become closed
// lines; points carry no lines.
func lines(g orb.Geometry) []orb.LineString {
	switch g := g.(type) {
	case orb.LineString:
		return []orb.LineString{g}
	case orb.MultiLineString:
		return []orb.LineString(g)
	case orb.Ring:
		return []orb.LineString{orb.LineString(g)}
	case orb.Polygon:
		out := make([]orb.LineString, 0, len(g))
		for _, r := range g {
			out = append(out, orb.LineString(r))
		}
		return out
	case orb.MultiPolygon:
		var out []orb.LineString
		for _, p := range g {
			out = append(out, lines(p)...)
		}
		return out
	case orb.Collection:
		var out []orb.LineString
		for _, c := range g {
			out = append(out, lines(c)...)
		}
		return out
	default:
		return nil
	}
}
