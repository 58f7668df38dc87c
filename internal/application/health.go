package application

import (
	"context"

	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/ports/input"
)

// SessionCounter reports the number of open map sessions.
type SessionCounter interface {
	SessionCount() int
}

// HealthService provides health check functionality.
type HealthService struct {
	registry *DatasetRegistry
	sessions SessionCounter
}

// NewHealthService creates a new health service. sessions may be nil.
func NewHealthService(registry *DatasetRegistry, sessions SessionCounter) *HealthService {
	return &HealthService{
		registry: registry,
		sessions: sessions,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady reports whether at least one dataset can be drawn, or no dataset
// is configured at all.
func (s *HealthService) IsReady(_ context.Context) bool {
	return s.registry.ReadyCount() > 0 || s.registry.DatasetCount() == 0
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	components := map[string]string{
		"storage":  "ok",
		"registry": "ok",
	}
	if s.registry.DatasetCount() > 0 && s.registry.ReadyCount() == 0 {
		components["registry"] = "no drawable datasets"
	}

	sessions := 0
	if s.sessions != nil {
		sessions = s.sessions.SessionCount()
	}

	return input.HealthDetails{
		Healthy:        s.IsHealthy(ctx),
		Ready:          s.IsReady(ctx),
		DatasetsLoaded: s.registry.DatasetCount(),
		DatasetsReady:  s.registry.ReadyCount(),
		Sessions:       sessions,
		Components:     components,
	}
}

// DatasetHealth contains health info for a single dataset.
type DatasetHealth struct {
	ID     string
	Status domain.DatasetStatus
	Ready  bool
}

// GetDatasetHealth returns health info for all datasets.
func (s *HealthService) GetDatasetHealth(ctx context.Context) []DatasetHealth {
	datasets, _ := s.registry.ListDatasets(ctx)

	health := make([]DatasetHealth, len(datasets))
	for i, ds := range datasets {
		status, _ := s.registry.GetDatasetStatus(ctx, ds.ID)
		health[i] = DatasetHealth{
			ID:     ds.ID,
			Status: status,
			Ready:  status == domain.StatusReady,
		}
	}
	return health
}
