package boundary

import (
	"bytes"
	"context"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/ports/output"
)

// mockStorage implements output.ObjectStorage over an in-memory map.
type mockStorage struct {
	mu          sync.Mutex
	files       map[string][]byte
	existsCalls int
	existsErr   error
}

func (m *mockStorage) List(_ context.Context, prefix string) ([]output.StorageObject, error) {
	var out []output.StorageObject
	for k, v := range m.files {
		if strings.HasPrefix(k, prefix) {
			out = append(out, output.StorageObject{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *mockStorage) Download(_ context.Context, key, dest string) error {
	data, ok := m.files[key]
	if !ok {
		return domain.ErrNotFound
	}
	return os.WriteFile(dest, data, 0o644)
}

func (m *mockStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.files[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockStorage) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	m.existsCalls++
	m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.files[key]
	return ok, nil
}

// mockGeometryReader implements output.GeometryReader.
type mockGeometryReader struct {
	geoms []orb.Geometry
	paths []string
}

func (m *mockGeometryReader) ReadGeometries(_ context.Context, path string) ([]orb.Geometry, error) {
	m.paths = append(m.paths, path)
	return m.geoms, nil
}

// mockMetrics records boundary load counts.
type mockMetrics struct {
	output.NoOpMetrics
	mu      sync.Mutex
	loads   map[string]int
	failure map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{loads: make(map[string]int), failure: make(map[string]int)}
}

func (m *mockMetrics) IncBoundaryLoads(tier string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.loads[tier]++
	} else {
		m.failure[tier]++
	}
}
