package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jobrunner/climap/internal/ports/output"
)

var _ output.MetricsCollector = (*Collector)(nil)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestCollectorRecords(t *testing.T) {
	c := NewCollectorWithRegistry("test", prometheus.NewRegistry())

	c.ObserveRenderDuration("preview", 5*time.Millisecond)
	c.IncFramesCommitted("full")
	c.IncFramesCommitted("full")
	c.IncFramesDiscarded("stale")
	c.IncMeshCache(true)
	c.IncMeshCache(false)
	c.IncBoundaryLoads("coarse", true)
	c.IncBoundaryLoads("fine", false)
	c.SetDatasetsLoaded(3)
	c.SetDatasetsReady(2)
	c.SetActiveSessions(4)
	c.IncStorageOperations("read", true)
	c.ObserveStorageDuration("read", time.Millisecond)

	body := scrape(t, c)
	want := []string{
		`test_render_duration_seconds_count{quality="preview"} 1`,
		`test_frames_committed_total{quality="full"} 2`,
		`test_frames_discarded_total{reason="stale"} 1`,
		`test_mesh_cache_lookups_total{result="hit"} 1`,
		`test_mesh_cache_lookups_total{result="miss"} 1`,
		`test_boundary_loads_total{status="success",tier="coarse"} 1`,
		`test_boundary_loads_total{status="error",tier="fine"} 1`,
		`test_datasets_loaded 3`,
		`test_datasets_ready 2`,
		`test_sessions_active 4`,
		`test_storage_operations_total{operation="read",status="success"} 1`,
		`test_storage_duration_seconds_count{operation="read"} 1`,
	}
	for _, line := range want {
		if !strings.Contains(body, line) {
			t.Errorf("scrape missing %q", line)
		}
	}
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	c := NewCollectorWithRegistry("", prometheus.NewRegistry())

	r := mux.NewRouter()
	r.Use(c.Middleware)
	r.HandleFunc("/api/v1/datasets/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/datasets/"+id, nil))
	}

	body := scrape(t, c)
	line := `climap_http_requests_total{method="GET",path="/api/v1/datasets/{id}",status="4xx"} 3`
	if !strings.Contains(body, line) {
		t.Errorf("scrape missing %q\n%s", line, body)
	}
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		101: "1xx",
		200: "2xx",
		304: "3xx",
		422: "4xx",
		503: "5xx",
		0:   "unknown",
		700: "unknown",
	}
	for code, want := range tests {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}
