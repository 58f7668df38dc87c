package application

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/jobrunner/climap/internal/boundary"
	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/ports/input"
	"github.com/jobrunner/climap/internal/render"
	"github.com/jobrunner/climap/internal/viewport"
)

// subscriberBuffer is the number of updates a subscriber may lag behind
// before frames are dropped for it.
const subscriberBuffer = 8

// Session is one interactive map view. Its controller runs on a dedicated
// interaction loop; rendering runs on a separate worker fed through a
// single-slot mailbox where a newer request replaces a pending one.
type Session struct {
	id      string
	service *MapService
	logger  *slog.Logger
	ratio   float64

	loop     *viewport.Loop
	ctrl     *viewport.Controller // loop only
	width    int                  // loop only
	height   int                  // loop only
	renderer *render.Renderer
	requests chan renderRequest
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.RWMutex
	view     domain.ViewState
	layer    domain.RenderParams
	frame    render.Frame
	hasFrame bool
	paths    []domain.Path
	subs     map[int]chan input.MapUpdate
	nextSub  int
	closed   bool
}

// renderRequest is a snapshot of everything one render needs.
type renderRequest struct {
	token   render.Token
	width   int
	height  int
	view    domain.ViewState
	layer   domain.RenderParams
	quality domain.Quality
}

func newSession(svc *MapService, id string, width, height int, ratio float64, layer domain.RenderParams) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	logger := svc.logger.With("session", id)
	cfg := svc.config

	s := &Session{
		id:       id,
		service:  svc,
		logger:   logger,
		ratio:    ratio,
		loop:     viewport.NewLoop(cfg.FrameInterval),
		width:    width,
		height:   height,
		renderer: render.NewRenderer(svc.metrics, logger),
		requests: make(chan renderRequest, 1),
		ctx:      ctx,
		cancel:   cancel,
		view:     domain.DefaultView(),
		layer:    layer,
		subs:     make(map[int]chan input.MapUpdate),
	}
	s.ctrl = viewport.NewController(viewport.Config{
		Width:       float64(width),
		Height:      float64(height),
		MinScale:    cfg.MinScale,
		MaxScale:    cfg.MaxScale,
		SettleDelay: cfg.SettleDelay,
		PixelRatio:  ratio,
	}, s.loop, sessionListener{s})
	return s
}

func (s *Session) start() {
	s.wg.Add(1)
	go s.renderLoop()

	s.ensureImagery(s.layer)
	s.loop.Post(func() {
		s.ctrl.SetView(domain.DefaultView())
	})
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// View returns the latest view of the controller.
func (s *Session) View() domain.ViewState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Layer returns the current layer selection.
func (s *Session) Layer() domain.RenderParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layer
}

// SetLayer validates and applies a layer selection, then redraws at full
// quality.
func (s *Session) SetLayer(ctx context.Context, params domain.RenderParams) error {
	layer, err := s.service.resolveLayer(ctx, params)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	s.layer = layer
	s.mu.Unlock()

	s.ensureImagery(layer)
	return s.do(ctx, func() {
		s.ctrl.SetView(s.ctrl.View())
	})
}

// SetView jumps to a view. Scale and offset are clamped.
func (s *Session) SetView(ctx context.Context, view domain.ViewState) error {
	if !finite(view.Scale) || !finite(view.Offset.X) || !finite(view.Offset.Y) {
		return &domain.ValidationError{Field: "view", Value: view, Constraint: "finite", Message: "non-finite view"}
	}
	return s.do(ctx, func() {
		s.ctrl.SetView(view)
	})
}

// Resize changes the render surface.
func (s *Session) Resize(ctx context.Context, width, height int) error {
	width, height, err := s.service.surface(width, height)
	if err != nil {
		return err
	}
	return s.do(ctx, func() {
		s.width, s.height = width, height
		s.ctrl.Resize(float64(width), float64(height))
	})
}

// HandleEvent applies one pointer or wheel event in client pixels.
func (s *Session) HandleEvent(ctx context.Context, e viewport.Event) error {
	var handleErr error
	if err := s.do(ctx, func() {
		handleErr = s.ctrl.Handle(e)
		// previews lag one frame behind the controller
		s.mu.Lock()
		s.view = s.ctrl.View()
		s.mu.Unlock()
	}); err != nil {
		return err
	}
	return handleErr
}

// Frame returns the latest committed frame.
func (s *Session) Frame() (render.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.hasFrame
}

// Boundaries returns the boundary paths of the latest full frame.
func (s *Session) Boundaries() []domain.Path {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paths
}

// Query returns the region under client pixel (x, y).
func (s *Session) Query(ctx context.Context, x, y float64) (domain.RegionInfo, error) {
	if !finite(x) || !finite(y) {
		return domain.RegionInfo{}, &domain.ValidationError{Field: "x,y", Value: []float64{x, y}, Constraint: "finite", Message: "non-finite pixel"}
	}
	var (
		p  domain.GeoPoint
		ok bool
	)
	if err := s.do(ctx, func() {
		p, ok = s.ctrl.Transform().PixelToGeographic(x*s.ratio, y*s.ratio)
	}); err != nil {
		return domain.RegionInfo{}, err
	}
	if !ok {
		return domain.RegionInfo{}, domain.ErrNoGeographicPoint
	}
	return s.service.regionInfo(ctx, s.Layer().DatasetID, p), nil
}

// Subscribe registers for frame, boundary and click updates. The returned
// function ends the subscription and closes the channel. Frames are
// dropped for subscribers that fall behind.
func (s *Session) Subscribe() (<-chan input.MapUpdate, func()) {
	ch := make(chan input.MapUpdate, subscriberBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// do runs fn on the interaction loop.
func (s *Session) do(ctx context.Context, fn func()) error {
	if err := s.loop.Do(ctx, fn); err != nil {
		if errors.Is(err, viewport.ErrLoopClosed) {
			return domain.ErrSessionClosed
		}
		return err
	}
	return nil
}

// refresh redraws at full quality unless a gesture is in progress; the
// gesture's own settle will redraw.
func (s *Session) refresh() {
	s.loop.Post(func() {
		if _, idle := s.ctrl.State().(viewport.Idle); idle {
			s.request(s.ctrl.View(), domain.QualityFull)
		}
	})
}

// ensureImagery loads the base image and overlays of layer in the
// background and redraws once they are available.
func (s *Session) ensureImagery(layer domain.RenderParams) {
	imagery := s.service.imagery
	if imagery == nil {
		return
	}
	base := layer.ShowBase && imagery.Enabled() && imagery.Cached() == nil
	missing := imagery.Missing(layer.Overlays)
	if !base && len(missing) == 0 {
		return
	}
	go func() {
		loaded := false
		if base {
			if _, err := imagery.Load(s.ctx); err == nil {
				loaded = true
			}
		}
		for _, key := range missing {
			if _, err := imagery.LoadOverlay(s.ctx, key); err == nil {
				loaded = true
			}
		}
		if loaded {
			s.refresh()
		}
	}()
}

// request queues a render. It runs on the interaction loop, which is the
// only producer, so the mailbox always has room after it was drained.
func (s *Session) request(view domain.ViewState, quality domain.Quality) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.view = view
	layer := s.layer
	token := s.renderer.Begin()
	s.mu.Unlock()

	req := renderRequest{
		token:   token,
		width:   s.width,
		height:  s.height,
		view:    view,
		layer:   layer,
		quality: quality,
	}
	select {
	case <-s.requests:
		s.service.metrics.IncFramesDiscarded("superseded")
	default:
	}
	s.requests <- req
}

func (s *Session) renderLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.requests:
			s.render(req)
		}
	}
}

func (s *Session) render(req renderRequest) {
	if !s.renderer.IsCurrent(req.token) {
		s.service.metrics.IncFramesDiscarded("stale")
		return
	}

	scene := s.service.scene(s.ctx, req.width, req.height, req.view, req.layer)
	passes := render.PreviewPasses(s.service.config.PreviewDownsample)
	if req.quality == domain.QualityFull {
		passes = render.FullPasses(s.service.config.FullDownsamples)
	}

	if err := s.renderer.Render(s.ctx, req.token, scene, passes, s.commit); err != nil {
		if s.ctx.Err() == nil {
			s.logger.Error("render failed", "error", err)
		}
		return
	}
	if req.quality != domain.QualityFull || !s.renderer.IsCurrent(req.token) {
		return
	}
	s.updateBoundaries(req, scene)
}

// updateBoundaries projects the boundary tier matching the settled view.
func (s *Session) updateBoundaries(req renderRequest, scene render.Scene) {
	provider := s.service.boundaries
	if provider == nil {
		return
	}
	tier := domain.TierFor(float64(req.width), req.view.Scale)
	features := provider.Features(s.ctx, tier)
	paths := boundary.Project(features, scene.Transform(), s.service.config.BoundaryTolerance)
	if !s.renderer.IsCurrent(req.token) {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.paths = paths
	s.mu.Unlock()
	s.publish(input.MapUpdate{Boundaries: paths})
}

// commit stores and publishes a finished pass. Tokens are issued under
// s.mu, so a frame still current here cannot overwrite a newer request's.
func (s *Session) commit(f render.Frame) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.renderer.IsCurrent(f.Token) {
		s.mu.Unlock()
		s.service.metrics.IncFramesDiscarded("stale")
		return
	}
	s.frame = f
	s.hasFrame = true
	s.mu.Unlock()
	s.publish(input.MapUpdate{Frame: &f})
}

// click runs on the interaction loop.
func (s *Session) click(p domain.GeoPoint) {
	info := s.service.regionInfo(s.ctx, s.Layer().DatasetID, p)
	s.logger.Debug("region queried", "lat", info.Lat, "lon", info.Lon)
	s.publish(input.MapUpdate{Region: &info})
}

func (s *Session) publish(u input.MapUpdate) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
			if u.Frame != nil {
				s.service.metrics.IncFramesDiscarded("slow_subscriber")
			}
		}
	}
}

func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	s.loop.Close()
	s.cancel()
	s.wg.Wait()
}

// sessionListener forwards controller callbacks to the session.
type sessionListener struct {
	s *Session
}

func (l sessionListener) Preview(v domain.ViewState) { l.s.request(v, domain.QualityPreview) }
func (l sessionListener) Settled(v domain.ViewState) { l.s.request(v, domain.QualityFull) }
func (l sessionListener) Click(p domain.GeoPoint)    { l.s.click(p) }

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
