package application

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/climap/internal/colormap"
	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/mesh"
	"github.com/jobrunner/climap/internal/ports/input"
	"github.com/jobrunner/climap/internal/ports/output"
	"github.com/jobrunner/climap/internal/render"
	"github.com/jobrunner/climap/internal/viewport"
)

// Map session defaults.
const (
	DefaultWidth             = 1024
	DefaultHeight            = 512
	MaxDimension             = 8192
	DefaultMaxSessions       = 64
	DefaultPreviewDownsample = 4
)

// DefaultFullDownsamples are the progressive passes of a settled frame.
var DefaultFullDownsamples = []int{4, 2, 1}

// MapConfig configures map sessions.
type MapConfig struct {
	Width             int
	Height            int
	PixelRatio        float64
	MaxSessions       int
	PreviewDownsample int
	FullDownsamples   []int
	VertexBudget      int
	BoundaryTolerance float64
	MinScale          float64
	MaxScale          float64
	SettleDelay       time.Duration
	FrameInterval     time.Duration
	DefaultLayer      domain.RenderParams
}

func (c MapConfig) withDefaults() MapConfig {
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}
	if c.PixelRatio <= 0 {
		c.PixelRatio = 1
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.PreviewDownsample <= 0 {
		c.PreviewDownsample = DefaultPreviewDownsample
	}
	if len(c.FullDownsamples) == 0 {
		c.FullDownsamples = DefaultFullDownsamples
	}
	if c.VertexBudget <= 0 {
		c.VertexBudget = mesh.DefaultVertexBudget
	}
	if c.MinScale <= 0 {
		c.MinScale = domain.MinScale
	}
	if c.MaxScale < c.MinScale {
		c.MaxScale = math.Max(domain.MaxScale, c.MinScale)
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = viewport.DefaultFrameInterval
	}
	if c.DefaultLayer.Ramp == "" {
		c.DefaultLayer.Ramp = colormap.DefaultRamp
	}
	return c
}

// BoundaryProvider supplies the boundary features of a resolution tier.
type BoundaryProvider interface {
	Features(ctx context.Context, tier domain.Tier) []domain.BoundaryFeature
}

// MapService owns the open map sessions and the resources they share.
type MapService struct {
	registry   *DatasetRegistry
	meshes     *mesh.Cache
	boundaries BoundaryProvider
	imagery    *ImageryLoader
	metrics    output.MetricsCollector
	logger     *slog.Logger
	config     MapConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMapService creates a map service. boundaries and imagery may be nil;
// without imagery neither base images nor overlays are drawn.
func NewMapService(
	registry *DatasetRegistry,
	meshes *mesh.Cache,
	boundaries BoundaryProvider,
	imagery *ImageryLoader,
	metrics output.MetricsCollector,
	config MapConfig,
	logger *slog.Logger,
) *MapService {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	s := &MapService{
		registry:   registry,
		meshes:     meshes,
		boundaries: boundaries,
		imagery:    imagery,
		metrics:    metrics,
		logger:     logger.With("component", "maps"),
		config:     config.withDefaults(),
		sessions:   make(map[string]*Session),
	}
	registry.OnChange(s.datasetChanged)
	return s
}

// Config returns the effective session configuration.
func (s *MapService) Config() MapConfig {
	return s.config
}

// CreateSession opens a session and queues its first full frame.
func (s *MapService) CreateSession(ctx context.Context, opts input.SessionOptions) (input.MapSession, error) {
	sess, err := s.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Open is CreateSession returning the concrete session.
func (s *MapService) Open(ctx context.Context, opts input.SessionOptions) (*Session, error) {
	width, height, err := s.surface(opts.Width, opts.Height)
	if err != nil {
		return nil, err
	}
	ratio := opts.PixelRatio
	if ratio == 0 {
		ratio = s.config.PixelRatio
	}
	if ratio < 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return nil, &domain.ValidationError{Field: "pixel_ratio", Value: ratio, Constraint: "> 0", Message: "invalid pixel ratio"}
	}

	layer := s.config.DefaultLayer
	if opts.Layer != nil {
		layer = *opts.Layer
	}
	layer, err = s.resolveLayer(ctx, layer)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if len(s.sessions) >= s.config.MaxSessions {
		s.mu.Unlock()
		return nil, domain.ErrTooManySessions
	}
	sess := newSession(s, uuid.NewString(), width, height, ratio, layer)
	s.sessions[sess.id] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	s.metrics.SetActiveSessions(count)
	s.logger.Info("session opened",
		"session", sess.id,
		"width", width,
		"height", height,
		"dataset", layer.DatasetID,
	)
	sess.start()
	return sess, nil
}

// Session returns an open session.
func (s *MapService) Session(id string) (input.MapSession, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns an open session.
func (s *MapService) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

// CloseSession closes a session and waits for its workers to stop.
func (s *MapService) CloseSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}

	sess.close()
	s.metrics.SetActiveSessions(count)
	s.logger.Info("session closed", "session", id)
	return nil
}

// SessionCount returns the number of open sessions.
func (s *MapService) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close closes every session.
func (s *MapService) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
	s.metrics.SetActiveSessions(0)
}

// RenderImage renders one full-resolution frame without a session.
func (s *MapService) RenderImage(
	ctx context.Context,
	params domain.RenderParams,
	view domain.ViewState,
	width, height int,
) (*image.RGBA, error) {
	width, height, err := s.surface(width, height)
	if err != nil {
		return nil, err
	}
	layer, err := s.resolveLayer(ctx, params)
	if err != nil {
		return nil, err
	}
	if layer.ShowBase && s.imagery.Enabled() {
		_, _ = s.imagery.Load(ctx)
	}
	for _, ref := range layer.Overlays {
		if _, err := s.imagery.LoadOverlay(ctx, ref.Key); err != nil {
			return nil, err
		}
	}
	view.Scale = domain.ClampScale(view.Scale, s.config.MinScale, s.config.MaxScale)

	r := render.NewRenderer(s.metrics, s.logger)
	var img *image.RGBA
	err = r.Render(ctx, r.Begin(), s.scene(ctx, width, height, view, layer), render.FullPasses(nil), func(f render.Frame) {
		img = f.Image
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// scene assembles what one frame draws. A missing or undrawable dataset
// leaves the mesh empty.
func (s *MapService) scene(ctx context.Context, width, height int, view domain.ViewState, layer domain.RenderParams) render.Scene {
	scene := render.Scene{Width: width, Height: height, View: view}
	if layer.ShowBase {
		scene.Base = s.imagery.Cached()
	}
	scene.Overlays = s.imagery.Overlays(layer.Overlays)
	if layer.DatasetID == "" {
		return scene
	}
	ds, err := s.registry.GetDataset(ctx, layer.DatasetID)
	if err != nil || !ds.IsReady() {
		return scene
	}
	scene.Mesh = s.meshes.Mesh(ds.Grid, mesh.OptionsFor(layer, s.config.VertexBudget))
	return scene
}

// regionInfo samples the layer's dataset at p.
func (s *MapService) regionInfo(ctx context.Context, datasetID string, p domain.GeoPoint) domain.RegionInfo {
	info := domain.RegionInfo{Lat: p.Lat, Lon: p.Lon}
	if datasetID == "" {
		return info
	}
	ds, err := s.registry.GetDataset(ctx, datasetID)
	if err != nil || ds.Grid == nil {
		return info
	}
	info.Units = ds.Units
	if v, ok := mesh.SampleValue(ds.Grid, p.Lon, p.Lat); ok {
		info.Value = &v
	}
	return info
}

func (s *MapService) surface(width, height int) (int, int, error) {
	if width == 0 {
		width = s.config.Width
	}
	if height == 0 {
		height = s.config.Height
	}
	if width < 1 || width > MaxDimension {
		return 0, 0, &domain.ValidationError{
			Field:      "width",
			Value:      width,
			Constraint: fmt.Sprintf("1-%d", MaxDimension),
			Message:    "width out of range",
		}
	}
	if height < 1 || height > MaxDimension {
		return 0, 0, &domain.ValidationError{
			Field:      "height",
			Value:      height,
			Constraint: fmt.Sprintf("1-%d", MaxDimension),
			Message:    "height out of range",
		}
	}
	return width, height, nil
}

// resolveLayer validates a layer selection and fills in the default ramp.
func (s *MapService) resolveLayer(ctx context.Context, p domain.RenderParams) (domain.RenderParams, error) {
	if p.Ramp == "" {
		p.Ramp = s.config.DefaultLayer.Ramp
	}
	if _, err := colormap.Ramp(p.Ramp); err != nil {
		return p, err
	}
	if p.Opacity != nil {
		if o := *p.Opacity; math.IsNaN(o) || o < 0 || o > 1 {
			return p, &domain.ValidationError{Field: "opacity", Value: o, Constraint: "0-1", Message: "opacity out of range"}
		}
	}
	if len(p.Overlays) > domain.MaxOverlays {
		return p, &domain.ValidationError{
			Field:      "overlays",
			Value:      len(p.Overlays),
			Constraint: fmt.Sprintf("<= %d", domain.MaxOverlays),
			Message:    "too many overlays",
		}
	}
	for _, ref := range p.Overlays {
		if ref.Key == "" || strings.Contains(ref.Key, "..") {
			return p, &domain.ValidationError{Field: "overlays.key", Value: ref.Key, Constraint: "storage key", Message: "invalid overlay key"}
		}
		if ref.Opacity != nil {
			if o := *ref.Opacity; math.IsNaN(o) || o < 0 || o > 1 {
				return p, &domain.ValidationError{Field: "overlays.opacity", Value: o, Constraint: "0-1", Message: "opacity out of range"}
			}
		}
	}
	if p.BlockStep < 0 {
		return p, &domain.ValidationError{Field: "block_step", Value: p.BlockStep, Constraint: ">= 0", Message: "negative block step"}
	}
	if p.DatasetID != "" {
		if _, err := s.registry.GetDataset(ctx, p.DatasetID); err != nil {
			return p, err
		}
	}
	return p, nil
}

// datasetChanged drops cached meshes of a replaced or removed dataset and
// redraws the sessions showing it.
func (s *MapService) datasetChanged(id string) {
	s.meshes.Invalidate(id)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.Layer().DatasetID == id {
			sess.refresh()
		}
	}
}
