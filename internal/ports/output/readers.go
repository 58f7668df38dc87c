package output

import (
	"context"
	"io"

	"github.com/paulmach/orb"

	"github.com/jobrunner/climap/internal/domain"
)

// DatasetReader decodes dataset documents into domain datasets.
type DatasetReader interface {
	// Read decodes one dataset document. key is used to derive an ID when
	// the document does not carry one.
	Read(ctx context.Context, key string, r io.Reader) (*domain.Dataset, error)
}

// GeometryReader reads line geometries from a local vector file.
type GeometryReader interface {
	// ReadGeometries returns every geometry of every feature table.
	ReadGeometries(ctx context.Context, path string) ([]orb.Geometry, error)
}
