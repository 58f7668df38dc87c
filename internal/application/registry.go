// Package application contains the application services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/ports/output"
)

// DefaultLoadConcurrency bounds parallel dataset loads in LoadAll and Sync.
const DefaultLoadConcurrency = 4

// DatasetRegistry manages loaded datasets.
type DatasetRegistry struct {
	mu       sync.RWMutex
	datasets map[string]*datasetEntry
	byKey    map[string]string // object key -> dataset ID
	reader   output.DatasetReader
	storage  output.ObjectStorage
	metrics  output.MetricsCollector
	logger   *slog.Logger
	prefix   string
	version  atomic.Int64

	listenersMu sync.RWMutex
	listeners   []func(id string)
}

type datasetEntry struct {
	Dataset *domain.Dataset
	Key     string
	Status  domain.DatasetStatus
}

// NewDatasetRegistry creates a registry reading dataset documents below
// prefix in storage.
func NewDatasetRegistry(
	reader output.DatasetReader,
	storage output.ObjectStorage,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	prefix string,
) *DatasetRegistry {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &DatasetRegistry{
		datasets: make(map[string]*datasetEntry),
		byKey:    make(map[string]string),
		reader:   reader,
		storage:  storage,
		metrics:  metrics,
		logger:   logger.With("component", "registry"),
		prefix:   prefix,
	}
}

// OnChange registers fn to be called with the dataset ID whenever a dataset
// is replaced or unloaded.
func (r *DatasetRegistry) OnChange(fn func(id string)) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *DatasetRegistry) notify(id string) {
	r.listenersMu.RLock()
	listeners := r.listeners
	r.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(id)
	}
}

// LoadDataset reads the dataset document at key and registers it. Loading
// a dataset whose ID is already registered replaces it with a new grid
// version.
func (r *DatasetRegistry) LoadDataset(ctx context.Context, key string) error {
	r.logger.Info("loading dataset", "key", key)

	rc, err := r.storage.GetReader(ctx, key)
	if err != nil {
		r.logger.Error("failed to open dataset", "key", key, "error", err)
		return &domain.LoadError{Kind: "dataset", Key: key, Err: err}
	}
	defer func() { _ = rc.Close() }()

	ds, err := r.reader.Read(ctx, key, rc)
	if err != nil {
		r.logger.Error("failed to read dataset", "key", key, "error", err)
		return &domain.LoadError{Kind: "dataset", Key: key, Err: err}
	}
	ds.Path = key
	ds.LoadedAt = time.Now()
	if ds.Grid != nil {
		ds.Grid.ID = ds.ID
		ds.Grid.Version = r.version.Add(1)
		ds.Size = int64(len(ds.Grid.Values))
	}

	status := domain.StatusReady
	if !ds.IsReady() {
		status = domain.StatusError
		r.logger.Warn("dataset grid is not drawable", "id", ds.ID, "key", key)
	}

	r.mu.Lock()
	_, replaced := r.datasets[ds.ID]
	if prev, ok := r.byKey[key]; ok && prev != ds.ID {
		delete(r.datasets, prev)
	}
	r.datasets[ds.ID] = &datasetEntry{Dataset: ds, Key: key, Status: status}
	r.byKey[key] = ds.ID
	r.mu.Unlock()

	r.updateMetrics()
	if replaced {
		r.notify(ds.ID)
	}
	r.logger.Info("dataset loaded", "id", ds.ID, "status", status, "cells", ds.Size)
	return nil
}

// UnloadDataset removes a dataset.
func (r *DatasetRegistry) UnloadDataset(_ context.Context, id string) error {
	r.logger.Info("unloading dataset", "id", id)

	r.mu.Lock()
	entry, ok := r.datasets[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrDatasetNotFound
	}
	entry.Status = domain.StatusUnloading
	delete(r.datasets, id)
	delete(r.byKey, entry.Key)
	r.mu.Unlock()

	r.updateMetrics()
	r.notify(id)
	return nil
}

// UnloadKey removes the dataset loaded from an object key.
func (r *DatasetRegistry) UnloadKey(ctx context.Context, key string) error {
	r.mu.RLock()
	id, ok := r.byKey[key]
	r.mu.RUnlock()
	if !ok {
		return domain.ErrDatasetNotFound
	}
	return r.UnloadDataset(ctx, id)
}

// ListDatasets returns all registered datasets ordered by ID.
func (r *DatasetRegistry) ListDatasets(_ context.Context) ([]domain.Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	datasets := make([]domain.Dataset, 0, len(r.datasets))
	for _, entry := range r.datasets {
		datasets = append(datasets, *entry.Dataset)
	}
	sort.Slice(datasets, func(i, j int) bool { return datasets[i].ID < datasets[j].ID })
	return datasets, nil
}

// GetDataset returns a dataset by ID.
func (r *DatasetRegistry) GetDataset(_ context.Context, id string) (*domain.Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.datasets[id]
	if !ok {
		return nil, domain.ErrDatasetNotFound
	}
	return entry.Dataset, nil
}

// GetDatasetStatus returns the status of a dataset.
func (r *DatasetRegistry) GetDatasetStatus(_ context.Context, id string) (domain.DatasetStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.datasets[id]
	if !ok {
		return "", domain.ErrDatasetNotFound
	}
	return entry.Status, nil
}

// IsReady returns true if a dataset can be drawn.
func (r *DatasetRegistry) IsReady(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.datasets[id]
	return ok && entry.Status == domain.StatusReady
}

// DatasetCount returns the number of loaded datasets.
func (r *DatasetRegistry) DatasetCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.datasets)
}

// ReadyCount returns the number of drawable datasets.
func (r *DatasetRegistry) ReadyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ready := 0
	for _, entry := range r.datasets {
		if entry.Status == domain.StatusReady {
			ready++
		}
	}
	return ready
}

func (r *DatasetRegistry) updateMetrics() {
	r.metrics.SetDatasetsLoaded(r.DatasetCount())
	r.metrics.SetDatasetsReady(r.ReadyCount())
}

// LoadAll loads every dataset document in storage. Individual failures are
// logged and skipped.
func (r *DatasetRegistry) LoadAll(ctx context.Context) error {
	r.logger.Info("loading all datasets from storage", "prefix", r.prefix)

	keys, err := r.listKeys(ctx)
	if err != nil {
		return err
	}
	r.loadKeys(ctx, keys)
	return nil
}

// SyncStats contains statistics from a sync operation.
type SyncStats struct {
	Added   int
	Removed int
}

// Sync loads dataset documents that appeared in storage and unloads
// datasets whose documents are gone. Already loaded keys are not re-read.
func (r *DatasetRegistry) Sync(ctx context.Context) (SyncStats, error) {
	r.logger.Info("syncing datasets from storage")

	keys, err := r.listKeys(ctx)
	if err != nil {
		return SyncStats{}, err
	}

	remote := make(map[string]bool, len(keys))
	var added []string
	r.mu.RLock()
	for _, key := range keys {
		remote[key] = true
		if _, ok := r.byKey[key]; !ok {
			added = append(added, key)
		}
	}
	var removed []string
	for key, id := range r.byKey {
		if !remote[key] {
			removed = append(removed, id)
		}
	}
	r.mu.RUnlock()

	stats := SyncStats{Added: r.loadKeys(ctx, added)}
	for _, id := range removed {
		if err := r.UnloadDataset(ctx, id); err != nil {
			r.logger.Error("failed to unload removed dataset", "id", id, "error", err)
			continue
		}
		stats.Removed++
	}

	r.logger.Info("sync completed", "added", stats.Added, "removed", stats.Removed, "total", r.DatasetCount())
	return stats, nil
}

func (r *DatasetRegistry) listKeys(ctx context.Context) ([]string, error) {
	objects, err := r.storage.List(ctx, r.prefix)
	if err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		if isDatasetKey(obj.Key) {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// loadKeys loads keys in parallel and returns the number that succeeded.
func (r *DatasetRegistry) loadKeys(ctx context.Context, keys []string) int {
	var loaded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultLoadConcurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if err := r.LoadDataset(gctx, key); err != nil {
				return nil //nolint:nilerr // failures are logged by LoadDataset
			}
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(loaded.Load())
}

// isDatasetKey reports whether an object key names a dataset document.
func isDatasetKey(key string) bool {
	return strings.EqualFold(path.Ext(key), ".json")
}
