// Package geopackage reads boundary geometries from GeoPackage feature
// tables.
package geopackage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/jobrunner/climap/internal/domain"
)

// Geographic SRS ids accepted for boundary layers. 0 and -1 are the
// GeoPackage "undefined" systems and are assumed to be WGS 84.
var geographicSRS = map[int]bool{4326: true, 0: true, -1: true}

// Layer describes one feature table.
type Layer struct {
	Name           string
	GeometryColumn string
	GeometryType   string
	SRID           int
}

// Reader implements output.GeometryReader for GeoPackage files.
type Reader struct {
	logger *slog.Logger
}

// NewReader creates a GeoPackage reader.
func NewReader(logger *slog.Logger) *Reader {
	return &Reader{logger: logger.With("component", "geopackage")}
}

// ReadGeometries returns the geometries of every geographic feature table.
// Rows with empty or undecodable geometries are skipped.
func (r *Reader) ReadGeometries(ctx context.Context, path string) ([]orb.Geometry, error) {
	db, err := open(ctx, path)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	defer func() { _ = db.Close() }()

	layers, err := readLayers(ctx, db)
	if err != nil {
		return nil, err
	}

	var geoms []orb.Geometry
	for _, l := range layers {
		if !geographicSRS[l.SRID] {
			r.logger.Warn("skipping projected layer", "path", path, "layer", l.Name, "srid", l.SRID)
			continue
		}
		g, skipped, err := readLayer(ctx, db, l)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", l.Name, err)
		}
		if skipped > 0 {
			r.logger.Debug("skipped geometries", "path", path, "layer", l.Name, "count", skipped)
		}
		geoms = append(geoms, g...)
	}
	return geoms, nil
}

// Layers lists the feature tables of a GeoPackage.
func (r *Reader) Layers(ctx context.Context, path string) ([]Layer, error) {
	db, err := open(ctx, path)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	defer func() { _ = db.Close() }()
	return readLayers(ctx, db)
}

func open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := "file:" + (&url.URL{Path: path}).EscapedPath() + "?mode=ro&immutable=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func readLayers(ctx context.Context, db *sql.DB) ([]Layer, error) {
	const query = `
		SELECT c.table_name, g.column_name, g.geometry_type_name, g.srs_id
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON c.table_name = g.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading layers: %w: %w", domain.ErrUnsupportedFormat, err)
	}
	defer func() { _ = rows.Close() }()

	var layers []Layer
	for rows.Next() {
		var l Layer
		if err := rows.Scan(&l.Name, &l.GeometryColumn, &l.GeometryType, &l.SRID); err != nil {
			return nil, fmt.Errorf("scanning layer: %w", err)
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

func readLayer(ctx context.Context, db *sql.DB, l Layer) ([]orb.Geometry, int, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s`, quoteIdent(l.GeometryColumn), quoteIdent(l.Name)) //#nosec G201 -- identifiers are quoted
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var (
		geoms   []orb.Geometry
		skipped int
	)
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, 0, err
		}
		g, err := DecodeGeometry(blob)
		if err != nil || g == nil {
			skipped++
			continue
		}
		geoms = append(geoms, g)
	}
	return geoms, skipped, rows.Err()
}

// GeoPackage binary header flags.
const (
	flagByteOrder = 0x01
	flagEnvelope  = 0x0e
	flagEmpty     = 0x10
)

var errBadHeader = errors.New("invalid GeoPackage geometry header")

// DecodeGeometry strips the GeoPackage binary header and decodes the WKB
// body. Empty geometries decode to nil without error.
func DecodeGeometry(blob []byte) (orb.Geometry, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, errBadHeader
	}
	flags := blob[3]
	if flags&flagEmpty != 0 {
		return nil, nil
	}

	var envelope int
	switch (flags & flagEnvelope) >> 1 {
	case 0:
	case 1:
		envelope = 32
	case 2, 3:
		envelope = 48
	case 4:
		envelope = 64
	default:
		return nil, errBadHeader
	}
	start := 8 + envelope
	if len(blob) <= start {
		return nil, errBadHeader
	}
	return wkb.Unmarshal(blob[start:])
}

// EncodeGeometry wraps a geometry in a GeoPackage binary header without an
// envelope.
func EncodeGeometry(g orb.Geometry, srid int32) ([]byte, error) {
	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	header := make([]byte, 8, 8+len(body))
	header[0], header[1] = 'G', 'P'
	header[3] = flagByteOrder
	binary.LittleEndian.PutUint32(header[4:], uint32(srid))
	return append(header, body...), nil
}

// DeriveID returns the file name of path without its extension.
func DeriveID(path string) string {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
