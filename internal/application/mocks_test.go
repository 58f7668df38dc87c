package application

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockReader implements output.DatasetReader. Datasets are looked up by
// key and copied so every read yields a fresh grid.
type mockReader struct {
	mu       sync.Mutex
	datasets map[string]*domain.Dataset
	readErr  error
	reads    int
}

func (m *mockReader) Read(_ context.Context, key string, _ io.Reader) (*domain.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	ds, ok := m.datasets[key]
	if !ok {
		return nil, domain.ErrUnsupportedFormat
	}
	cp := *ds
	if ds.Grid != nil {
		g := *ds.Grid
		cp.Grid = &g
	}
	return &cp, nil
}

// mockStorage implements output.ObjectStorage for testing.
type mockStorage struct {
	mu          sync.Mutex
	objects     []output.StorageObject
	content     map[string][]byte
	listErr     error
	readErr     error
	downloadErr error
	gets        int
}

func (m *mockStorage) setObjects(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = nil
	for _, k := range keys {
		m.objects = append(m.objects, output.StorageObject{Key: k})
	}
}

func (m *mockStorage) List(_ context.Context, prefix string) ([]output.StorageObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []output.StorageObject
	for _, o := range m.objects {
		if output.HasPrefix(o.Key, prefix) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockStorage) Download(_ context.Context, _, _ string) error {
	return m.downloadErr
}

func (m *mockStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.readErr != nil {
		return nil, m.readErr
	}
	if data, ok := m.content[key]; ok {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return io.NopCloser(strings.NewReader("{}")), nil
}

func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error) {
	return true, nil
}

// mockBoundaries implements BoundaryProvider and records requested tiers.
type mockBoundaries struct {
	mu       sync.Mutex
	features []domain.BoundaryFeature
	tiers    []domain.Tier
}

func (m *mockBoundaries) Features(_ context.Context, tier domain.Tier) []domain.BoundaryFeature {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers = append(m.tiers, tier)
	return m.features
}

func (m *mockBoundaries) requested() []domain.Tier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Tier(nil), m.tiers...)
}

// recordingMetrics keeps the gauges the registry and map service set.
type recordingMetrics struct {
	output.NoOpMetrics
	mu       sync.Mutex
	loaded   int
	ready    int
	sessions int
}

func (m *recordingMetrics) SetDatasetsLoaded(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = n
}

func (m *recordingMetrics) SetDatasetsReady(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = n
}

func (m *recordingMetrics) SetActiveSessions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = n
}

// constantDataset is a 4x4 grid holding one value everywhere.
func constantDataset(id string, value float64) *domain.Dataset {
	values := make([]float64, 16)
	for i := range values {
		values[i] = value
	}
	return &domain.Dataset{
		ID:    id,
		Name:  id,
		Units: "K",
		Grid: &domain.RasterGrid{
			Lat:    []float64{-60, -20, 20, 60},
			Lon:    []float64{-135, -45, 45, 135},
			Values: values,
			Min:    value,
			Max:    value,
		},
	}
}

func newTestRegistry() *DatasetRegistry {
	return NewDatasetRegistry(&mockReader{}, &mockStorage{}, &output.NoOpMetrics{}, testLogger(), "datasets")
}
