// Package datasetjson decodes gridded dataset documents.
//
// A document carries latitude and longitude axes and the values either as a
// flat row-major array or as one array per latitude row:
//
//	{
//	  "id": "t2m", "name": "2 m temperature", "units": "K",
//	  "lat": [-89.5, ..., 89.5], "lon": [-179.5, ..., 179.5],
//	  "values": [[...], ...], "mask": [[1, 0, ...], ...],
//	  "min": 200, "max": 320,
//	  "license": {"name": "CC BY 4.0", "attribution": "..."}
//	}
//
// null values are treated as no-data. min and max default to the range of
// the valid values.
package datasetjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path"
	"strings"

	"github.com/jobrunner/climap/internal/domain"
)

// document is the wire form of a dataset.
type document struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Units       string          `json:"units"`
	Description string          `json:"description"`
	Lat         []float64       `json:"lat"`
	Lon         []float64       `json:"lon"`
	Values      json.RawMessage `json:"values"`
	Mask        json.RawMessage `json:"mask"`
	Min         *float64        `json:"min"`
	Max         *float64        `json:"max"`
	License     domain.License  `json:"license"`
}

// Reader implements output.DatasetReader.
type Reader struct{}

// NewReader creates a dataset document reader.
func NewReader() *Reader {
	return &Reader{}
}

// Read decodes a dataset document. The ID falls back to the file name of
// key and the name to the ID.
func (Reader) Read(ctx context.Context, key string, r io.Reader) (*domain.Dataset, error) {
	var doc document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decoding dataset %s: %w", domain.ErrUnsupportedFormat, key, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if doc.ID == "" {
		doc.ID = IDFromKey(key)
	}
	if doc.Name == "" {
		doc.Name = doc.ID
	}

	rows, cols := len(doc.Lat), len(doc.Lon)
	values, valid, err := decodeValues(doc.Values, rows, cols)
	if err != nil {
		return nil, &domain.ValidationError{Field: "values", Value: key, Constraint: "rows x cols", Message: err.Error()}
	}
	mask, err := decodeMask(doc.Mask, rows*cols, valid)
	if err != nil {
		return nil, &domain.ValidationError{Field: "mask", Value: key, Constraint: "rows x cols", Message: err.Error()}
	}

	grid := &domain.RasterGrid{
		ID:     doc.ID,
		Units:  doc.Units,
		Lat:    doc.Lat,
		Lon:    doc.Lon,
		Values: values,
		Mask:   mask,
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	grid.ComputeRange()
	if doc.Min != nil {
		grid.Min = *doc.Min
	}
	if doc.Max != nil {
		grid.Max = *doc.Max
	}

	return &domain.Dataset{
		ID:          doc.ID,
		Name:        doc.Name,
		Units:       doc.Units,
		Description: doc.Description,
		License:     doc.License,
		Grid:        grid,
	}, nil
}

// IDFromKey derives a dataset ID from an object key.
func IDFromKey(key string) string {
	base := path.Base(strings.ReplaceAll(key, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// decodeValues accepts a flat or a nested array. It returns the values in
// row-major order with nulls as NaN, and whether any null was seen.
func decodeValues(raw json.RawMessage, rows, cols int) ([]float64, []bool, error) {
	flat, err := flatten(raw, rows, cols)
	if err != nil {
		return nil, nil, err
	}
	values := make([]float64, len(flat))
	valid := make([]bool, len(flat))
	for i, v := range flat {
		if v == nil {
			values[i] = math.NaN()
			continue
		}
		values[i] = *v
		valid[i] = true
	}
	return values, valid, nil
}

// decodeMask merges an explicit mask with the null positions of the values.
// The result is nil when every cell is valid.
func decodeMask(raw json.RawMessage, n int, valid []bool) ([]uint8, error) {
	var mask []uint8
	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		flat, err := flattenAny(raw)
		if err != nil {
			return nil, err
		}
		if len(flat) != n {
			return nil, fmt.Errorf("mask has %d cells, want %d", len(flat), n)
		}
		mask = make([]uint8, n)
		for i, v := range flat {
			if v != nil && *v != 0 {
				mask[i] = 1
			}
		}
	}

	for i, ok := range valid {
		if ok {
			continue
		}
		if mask == nil {
			mask = make([]uint8, n)
			for j := range mask {
				mask[j] = 1
			}
		}
		mask[i] = 0
	}
	return mask, nil
}

func flatten(raw json.RawMessage, rows, cols int) ([]*float64, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("no values")
	}
	flat, err := flattenAny(raw)
	if err != nil {
		return nil, err
	}
	if len(flat) != rows*cols {
		return nil, fmt.Errorf("%d values for %dx%d grid", len(flat), rows, cols)
	}
	return flat, nil
}

// flattenAny decodes a one or two dimensional number array.
func flattenAny(raw json.RawMessage) ([]*float64, error) {
	var flat []*float64
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}
	var nested [][]*float64
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("expected a number array: %w", err)
	}
	for _, row := range nested {
		flat = append(flat, row...)
	}
	return flat, nil
}
