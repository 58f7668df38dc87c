package boundary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/ports/output"
)

// FileSpec names one boundary file looked up in every tier.
type FileSpec struct {
	Name string
	Kind domain.FeatureKind
}

// DefaultFiles are the boundary files loaded when none are configured.
var DefaultFiles = []FileSpec{
	{Name: "coastline", Kind: domain.KindBoundary},
	{Name: "lakes", Kind: domain.KindBoundary},
	{Name: "rivers", Kind: domain.KindBoundary},
	{Name: "graticule", Kind: domain.KindGeographicLines},
}

// extensions are tried in order for every file.
var extensions = []string{".geojson", ".json", ".gpkg"}

// LoaderConfig configures where boundary files are found.
type LoaderConfig struct {
	Prefix   string
	CacheDir string
	Files    []FileSpec
}

// Loader lazily loads boundary tiers from object storage and caches them.
// Concurrent requests for the same tier share one load.
type Loader struct {
	storage  output.ObjectStorage
	geometry output.GeometryReader
	metrics  output.MetricsCollector
	config   LoaderConfig
	logger   *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	tiers map[domain.Tier][]domain.BoundaryFeature
}

// NewLoader creates a boundary loader. geometry may be nil, in which case
// GeoPackage files are skipped.
func NewLoader(
	storage output.ObjectStorage,
	geometry output.GeometryReader,
	metrics output.MetricsCollector,
	config LoaderConfig,
	logger *slog.Logger,
) *Loader {
	if len(config.Files) == 0 {
		config.Files = DefaultFiles
	}
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &Loader{
		storage:  storage,
		geometry: geometry,
		metrics:  metrics,
		config:   config,
		logger:   logger.With("component", "boundaries"),
		tiers:    make(map[domain.Tier][]domain.BoundaryFeature),
	}
}

// Features returns the features of a tier, loading it on first use. Files
// that fail to load are logged and left out.
func (l *Loader) Features(ctx context.Context, tier domain.Tier) []domain.BoundaryFeature {
	l.mu.RLock()
	features, ok := l.tiers[tier]
	l.mu.RUnlock()
	if ok {
		return features
	}

	v, _, _ := l.group.Do(string(tier), func() (interface{}, error) {
		features := l.loadTier(ctx, tier)
		if ctx.Err() == nil {
			l.mu.Lock()
			l.tiers[tier] = features
			l.mu.Unlock()
		}
		return features, nil
	})
	return v.([]domain.BoundaryFeature)
}

// Loaded reports whether a tier is cached.
func (l *Loader) Loaded(tier domain.Tier) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.tiers[tier]
	return ok
}

// Invalidate drops all cached tiers.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tiers = make(map[domain.Tier][]domain.BoundaryFeature)
}

func (l *Loader) loadTier(ctx context.Context, tier domain.Tier) []domain.BoundaryFeature {
	var all []domain.BoundaryFeature
	for _, spec := range l.config.Files {
		features, err := l.loadFile(ctx, tier, spec)
		if err != nil {
			l.logger.Warn("boundary file skipped",
				"tier", tier,
				"name", spec.Name,
				"error", err,
			)
			l.metrics.IncBoundaryLoads(string(tier), false)
			continue
		}
		if features == nil {
			continue
		}
		l.metrics.IncBoundaryLoads(string(tier), true)
		all = append(all, features...)
	}

	l.logger.Info("boundary tier loaded", "tier", tier, "features", len(all))
	return all
}

// loadFile loads the first existing encoding of a file. A file missing in
// every encoding yields nil without error.
func (l *Loader) loadFile(ctx context.Context, tier domain.Tier, spec FileSpec) ([]domain.BoundaryFeature, error) {
	for _, ext := range extensions {
		key := path.Join(l.config.Prefix, string(tier), spec.Name+ext)
		exists, err := l.storage.Exists(ctx, key)
		if err != nil {
			return nil, &domain.LoadError{Kind: "boundary", Key: key, Err: err}
		}
		if !exists {
			continue
		}

		var src Source
		if ext == ".gpkg" {
			src, err = l.readGeoPackage(ctx, key, tier, spec)
		} else {
			src, err = l.readJSON(ctx, key, spec)
		}
		if err != nil {
			return nil, &domain.LoadError{Kind: "boundary", Key: key, Err: err}
		}
		return src.Features(), nil
	}

	l.logger.Debug("boundary file not found", "tier", tier, "name", spec.Name)
	return nil, nil
}

func (l *Loader) readJSON(ctx context.Context, key string, spec FileSpec) (Source, error) {
	rc, err := l.storage.GetReader(ctx, key)
	if err != nil {
		return Source{}, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return Source{}, fmt.Errorf("reading: %w", err)
	}
	return Parse(spec.Name, spec.Kind, data)
}

func (l *Loader) readGeoPackage(ctx context.Context, key string, tier domain.Tier, spec FileSpec) (Source, error) {
	if l.geometry == nil {
		return Source{}, errors.New("no GeoPackage reader configured")
	}

	dir := l.config.CacheDir
	if dir == "" {
		dir = os.TempDir()
	}
	dest := filepath.Join(dir, string(tier), spec.Name+".gpkg")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Source{}, fmt.Errorf("creating cache dir: %w", err)
	}
	if err := l.storage.Download(ctx, key, dest); err != nil {
		return Source{}, fmt.Errorf("downloading: %w", err)
	}

	geoms, err := l.geometry.ReadGeometries(ctx, dest)
	if err != nil {
		return Source{}, err
	}
	return FromGeometries(spec.Name, spec.Kind, geoms), nil
}
