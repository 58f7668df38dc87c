// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	gatherer prometheus.Gatherer

	renderDuration      *prometheus.HistogramVec
	framesCommitted     *prometheus.CounterVec
	framesDiscarded     *prometheus.CounterVec
	meshCache           *prometheus.CounterVec
	boundaryLoads       *prometheus.CounterVec
	datasetsLoaded      prometheus.Gauge
	datasetsReady       prometheus.Gauge
	activeSessions      prometheus.Gauge
	storageOperations   *prometheus.CounterVec
	storageDuration     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(namespace string) *Collector {
	return newCollector(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewCollectorWithRegistry creates a collector registered with reg.
func NewCollectorWithRegistry(namespace string, reg *prometheus.Registry) *Collector {
	return newCollector(namespace, reg, reg)
}

func newCollector(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	if namespace == "" {
		namespace = "climap"
	}
	f := promauto.With(reg)

	return &Collector{
		gatherer: gatherer,

		renderDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "render_duration_seconds",
				Help:      "Render pass duration in seconds",
				Buckets:   []float64{.002, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"quality"},
		),
		framesCommitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_committed_total",
				Help:      "Frames delivered to map sessions",
			},
			[]string{"quality"},
		),
		framesDiscarded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_discarded_total",
				Help:      "Frames dropped before delivery",
			},
			[]string{"reason"},
		),
		meshCache: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mesh_cache_lookups_total",
				Help:      "Mesh cache lookups",
			},
			[]string{"result"},
		),
		boundaryLoads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "boundary_loads_total",
				Help:      "Boundary file loads per tier",
			},
			[]string{"tier", "status"},
		),
		datasetsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "datasets_loaded",
			Help:      "Number of loaded datasets",
		}),
		datasetsReady: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "datasets_ready",
			Help:      "Number of ready datasets",
		}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open map sessions",
		}),
		storageOperations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),
		storageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// ObserveRenderDuration records one render pass.
func (c *Collector) ObserveRenderDuration(quality string, d time.Duration) {
	c.renderDuration.WithLabelValues(quality).Observe(d.Seconds())
}

// IncFramesCommitted counts a delivered frame.
func (c *Collector) IncFramesCommitted(quality string) {
	c.framesCommitted.WithLabelValues(quality).Inc()
}

// IncFramesDiscarded counts a dropped frame.
func (c *Collector) IncFramesDiscarded(reason string) {
	c.framesDiscarded.WithLabelValues(reason).Inc()
}

// IncMeshCache counts a mesh cache lookup.
func (c *Collector) IncMeshCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.meshCache.WithLabelValues(result).Inc()
}

// IncBoundaryLoads counts a boundary file load.
func (c *Collector) IncBoundaryLoads(tier string, success bool) {
	c.boundaryLoads.WithLabelValues(tier, status(success)).Inc()
}

// SetDatasetsLoaded sets the number of loaded datasets.
func (c *Collector) SetDatasetsLoaded(count int) {
	c.datasetsLoaded.Set(float64(count))
}

// SetDatasetsReady sets the number of ready datasets.
func (c *Collector) SetDatasetsReady(count int) {
	c.datasetsReady.Set(float64(count))
}

// SetActiveSessions sets the number of open sessions.
func (c *Collector) SetActiveSessions(count int) {
	c.activeSessions.Set(float64(count))
}

// IncStorageOperations increments storage operation counter.
func (c *Collector) IncStorageOperations(operation string, success bool) {
	c.storageOperations.WithLabelValues(operation, status(success)).Inc()
}

// ObserveStorageDuration records storage operation duration.
func (c *Collector) ObserveStorageDuration(operation string, duration time.Duration) {
	c.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler returns the exposition handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and durations. Paths are labelled with
// the matched route template to keep cardinality bounded.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := routePath(r)
		c.httpRequestsTotal.WithLabelValues(r.Method, path, statusClass(wrapped.statusCode)).Inc()
		c.httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
