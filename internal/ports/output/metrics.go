package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// ObserveRenderDuration records how long one render pass took.
	ObserveRenderDuration(quality string, duration time.Duration)

	// IncFramesCommitted counts frames delivered to a session.
	IncFramesCommitted(quality string)

	// IncFramesDiscarded counts frames dropped before delivery.
	IncFramesDiscarded(reason string)

	// IncMeshCache counts mesh cache lookups.
	IncMeshCache(hit bool)

	// IncBoundaryLoads counts boundary file loads per tier.
	IncBoundaryLoads(tier string, success bool)

	// SetDatasetsLoaded sets the number of loaded datasets.
	SetDatasetsLoaded(count int)

	// SetDatasetsReady sets the number of ready datasets.
	SetDatasetsReady(count int)

	// SetActiveSessions sets the number of open map sessions.
	SetActiveSessions(count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// ObserveRenderDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveRenderDuration(_ string, _ time.Duration) {}

// IncFramesCommitted implements MetricsCollector.
func (n *NoOpMetrics) IncFramesCommitted(_ string) {}

// IncFramesDiscarded implements MetricsCollector.
func (n *NoOpMetrics) IncFramesDiscarded(_ string) {}

// IncMeshCache implements MetricsCollector.
func (n *NoOpMetrics) IncMeshCache(_ bool) {}

// IncBoundaryLoads implements MetricsCollector.
func (n *NoOpMetrics) IncBoundaryLoads(_ string, _ bool) {}

// SetDatasetsLoaded implements MetricsCollector.
func (n *NoOpMetrics) SetDatasetsLoaded(_ int) {}

// SetDatasetsReady implements MetricsCollector.
func (n *NoOpMetrics) SetDatasetsReady(_ int) {}

// SetActiveSessions implements MetricsCollector.
func (n *NoOpMetrics) SetActiveSessions(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
