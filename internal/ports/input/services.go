// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/render"
	"github.com/jobrunner/climap/internal/viewport"
)

// DatasetRegistry defines the primary port for dataset management.
type DatasetRegistry interface {
	// ListDatasets returns all registered datasets.
	ListDatasets(ctx context.Context) ([]domain.Dataset, error)

	// GetDataset returns a specific dataset by ID.
	GetDataset(ctx context.Context, id string) (*domain.Dataset, error)

	// GetDatasetStatus returns the status of a dataset.
	GetDatasetStatus(ctx context.Context, id string) (domain.DatasetStatus, error)
}

// MapService defines the primary port for interactive map sessions.
type MapService interface {
	// CreateSession opens a new map session and queues its first frame.
	CreateSession(ctx context.Context, opts SessionOptions) (MapSession, error)

	// Session returns an open session by ID.
	Session(id string) (MapSession, error)

	// CloseSession closes and forgets a session.
	CloseSession(id string) error
}

// SessionOptions configures a new map session. Zero values take the
// service defaults.
type SessionOptions struct {
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	PixelRatio float64              `json:"pixel_ratio"`
	Layer      *domain.RenderParams `json:"layer,omitempty"`
}

// MapSession is one interactive map view.
type MapSession interface {
	// ID returns the session identifier.
	ID() string

	// View returns the most recent view.
	View() domain.ViewState

	// Layer returns the current layer selection.
	Layer() domain.RenderParams

	// SetLayer replaces the layer selection and re-renders.
	SetLayer(ctx context.Context, params domain.RenderParams) error

	// SetView jumps to a view and re-renders.
	SetView(ctx context.Context, view domain.ViewState) error

	// Resize changes the render surface and re-renders.
	Resize(ctx context.Context, width, height int) error

	// HandleEvent applies one pointer or wheel event.
	HandleEvent(ctx context.Context, e viewport.Event) error

	// Frame returns the latest committed frame.
	Frame() (render.Frame, bool)

	// Boundaries returns the boundary paths of the latest full frame.
	Boundaries() []domain.Path

	// Query returns the value under a client pixel.
	Query(ctx context.Context, x, y float64) (domain.RegionInfo, error)

	// Subscribe returns a channel of session updates and a function that
	// ends the subscription.
	Subscribe() (<-chan MapUpdate, func())
}

// MapUpdate is pushed to subscribers. Exactly one field is set.
type MapUpdate struct {
	Frame      *render.Frame
	Boundaries []domain.Path
	Region     *domain.RegionInfo
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy        bool              // Overall health status
	Ready          bool              // Ready to accept requests
	DatasetsLoaded int               // Number of loaded datasets
	DatasetsReady  int               // Number of drawable datasets
	Sessions       int               // Number of open map sessions
	Components     map[string]string // Component statuses
}
