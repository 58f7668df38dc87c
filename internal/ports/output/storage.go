// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
	"path"
	"strings"
)

// ObjectStorage defines the secondary port for object storage operations.
type ObjectStorage interface {
	// List returns the supported objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]StorageObject, error)

	// Download copies an object to the local filesystem.
	Download(ctx context.Context, key string, dest string) error

	// GetReader returns a reader for the given object.
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)
}

// StorageObject represents a file in object storage.
type StorageObject struct {
	Key          string // Object key/path
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp
	ETag         string // Content hash
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeHTTP  StorageType = "http"
	StorageTypeLocal StorageType = "local"
)

// supportedExtensions are the object types the service reads: dataset and
// boundary documents, GeoPackages, and base imagery.
var supportedExtensions = map[string]bool{
	".json":    true,
	".geojson": true,
	".gpkg":    true,
	".png":     true,
	".jpg":     true,
	".jpeg":    true,
	".webp":    true,
}

// IsSupportedObject reports whether a key has a readable extension.
func IsSupportedObject(key string) bool {
	return supportedExtensions[strings.ToLower(path.Ext(key))]
}

// HasPrefix reports whether key lies under prefix. An empty prefix matches
// every key.
func HasPrefix(key, prefix string) bool {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return true
	}
	key = strings.TrimLeft(key, "/")
	return key == prefix || strings.HasPrefix(key, prefix+"/")
}
