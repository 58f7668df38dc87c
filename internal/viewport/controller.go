package viewport

import (
	"math"
	"time"

	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/projection"
)

// Interaction constants.
const (
	ZoomInFactor  = 1.2
	ZoomOutFactor = 0.9
	// ClickSlop is the largest pointer travel, in render pixels, that still
	// counts as a click.
	ClickSlop = 4.0
	// MinOverlap is the fraction of each viewport axis the globe's bounding
	// box must keep covering.
	MinOverlap         = 0.08
	DefaultSettleDelay = 220 * time.Millisecond
)

// Config holds the controller settings.
type Config struct {
	Width       float64
	Height      float64
	MinScale    float64
	MaxScale    float64
	SettleDelay time.Duration
	// PixelRatio converts event coordinates to render pixels.
	PixelRatio float64
}

func (c Config) withDefaults() Config {
	if c.MinScale <= 0 {
		c.MinScale = domain.MinScale
	}
	if c.MaxScale < c.MinScale {
		c.MaxScale = math.Max(domain.MaxScale, c.MinScale)
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.PixelRatio <= 0 {
		c.PixelRatio = 1
	}
	return c
}

// Listener receives the controller's render and query requests. Calls are
// made on the scheduler's goroutine.
type Listener interface {
	// Preview asks for a cheap frame during a gesture.
	Preview(view domain.ViewState)
	// Settled asks for a full-quality frame once interaction stopped.
	Settled(view domain.ViewState)
	// Click reports a completed click on the globe.
	Click(p domain.GeoPoint)
}

// Controller turns pointer and wheel events into view changes. It is not
// safe for concurrent use; every method must run on the scheduler's
// goroutine.
type Controller struct {
	cfg       Config
	sched     Scheduler
	listener  Listener
	view      domain.ViewState
	state     State
	settleGen uint64
	// frameGen invalidates preview frames queued before a settle.
	frameGen uint64
}

// NewController creates a controller at the default view.
func NewController(cfg Config, sched Scheduler, listener Listener) *Controller {
	return &Controller{
		cfg:      cfg.withDefaults(),
		sched:    sched,
		listener: listener,
		view:     domain.ViewState{Scale: cfg.withDefaults().MinScale},
		state:    Idle{},
	}
}

// View returns the current view.
func (c *Controller) View() domain.ViewState { return c.view }

// State returns the current gesture state.
func (c *Controller) State() State { return c.state }

// Config returns the controller settings.
func (c *Controller) Config() Config { return c.cfg }

// Transform returns the pixel transform of the current view.
func (c *Controller) Transform() projection.Transform {
	return projection.NewTransform(c.cfg.Width, c.cfg.Height, c.view)
}

// SetView replaces the view, clamps it, ends any gesture and asks for a
// full-quality frame.
func (c *Controller) SetView(v domain.ViewState) {
	c.cancelSettle()
	c.state = Idle{}
	c.view = c.clampView(v)
	c.settled()
}

// Resize changes the render surface and re-clamps the view.
func (c *Controller) Resize(width, height float64) {
	c.cfg.Width, c.cfg.Height = width, height
	c.SetView(c.view)
}

// Handle applies one event.
func (c *Controller) Handle(e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	p := Point{X: e.X * c.cfg.PixelRatio, Y: e.Y * c.cfg.PixelRatio}

	switch e.Type {
	case PointerDown:
		_, zooming := c.state.(Zooming)
		c.cancelSettle()
		c.state = Panning{Origin: p, StartOffset: c.view.Offset, Interrupted: zooming}

	case PointerMove:
		pan, ok := c.state.(Panning)
		if !ok {
			return nil
		}
		if !pan.Moved && p.dist(pan.Origin) > ClickSlop {
			pan.Moved = true
		}
		if pan.Moved {
			c.view.Offset = c.clampOffset(domain.Offset{
				X: pan.StartOffset.X + p.X - pan.Origin.X,
				Y: pan.StartOffset.Y + p.Y - pan.Origin.Y,
			}, c.view.Scale)
			c.requestPreview()
		}
		c.state = pan

	case PointerUp:
		pan, ok := c.state.(Panning)
		c.state = Idle{}
		if !ok {
			return nil
		}
		if pan.Moved || pan.Interrupted {
			c.settled()
		}
		if pan.Moved {
			return nil
		}
		if g, ok := c.Transform().PixelToGeographic(p.X, p.Y); ok {
			c.listener.Click(g)
		}

	case PointerCancel:
		pan, ok := c.state.(Panning)
		c.state = Idle{}
		if ok && (pan.Moved || pan.Interrupted) {
			c.settled()
		}

	case Wheel:
		c.zoom(p, e.DeltaY)
	}
	return nil
}

// zoom scales the view by one wheel step. Zooming in keeps the geographic
// point under the cursor fixed; zooming out pulls the view toward the
// centre.
func (c *Controller) zoom(p Point, deltaY float64) {
	if deltaY == 0 {
		return
	}
	if _, panning := c.state.(Panning); panning {
		return
	}

	oldScale := c.view.Scale
	zoomIn := deltaY < 0
	factor := ZoomOutFactor
	if zoomIn {
		factor = ZoomInFactor
	}
	newScale := domain.ClampScale(oldScale*factor, c.cfg.MinScale, c.cfg.MaxScale)

	var off domain.Offset
	switch {
	case zoomIn:
		tr := c.Transform()
		var x, y float64
		if g, ok := tr.PixelToGeographic(p.X, p.Y); ok {
			x, y = projection.Forward(g.Lon, g.Lat)
		} else {
			x, y = tr.PixelToProjection(p.X, p.Y)
		}
		k := tr.Fit() * newScale
		off.X = p.X - c.cfg.Width/2 - x*k
		off.Y = p.Y - c.cfg.Height/2 + y*k
	case newScale > c.cfg.MinScale:
		ratio := newScale / oldScale
		off.X = c.view.Offset.X * ratio
		off.Y = c.view.Offset.Y * ratio
	}

	c.view = domain.ViewState{Scale: newScale, Offset: c.clampOffset(off, newScale)}
	c.armSettle(p)
	c.requestPreview()
}

func (c *Controller) armSettle(target Point) {
	c.cancelSettle()
	gen := c.settleGen
	timer := c.sched.AfterFunc(c.cfg.SettleDelay, func() {
		if gen != c.settleGen {
			return
		}
		c.settle()
	})
	c.state = Zooming{Target: target, settle: timer}
}

// cancelSettle stops a pending settle timer and invalidates any callback
// already in flight.
func (c *Controller) cancelSettle() {
	c.settleGen++
	if z, ok := c.state.(Zooming); ok && z.settle != nil {
		z.settle.Stop()
	}
}

func (c *Controller) settle() {
	if _, ok := c.state.(Zooming); !ok {
		return
	}
	c.state = Idle{}
	c.settled()
}

// settled asks for the full-quality frame and drops any queued preview so
// it cannot supersede it.
func (c *Controller) settled() {
	c.frameGen++
	c.listener.Settled(c.view)
}

func (c *Controller) requestPreview() {
	gen := c.frameGen
	c.sched.RequestFrame(func() {
		if gen != c.frameGen {
			return
		}
		c.listener.Preview(c.view)
	})
}

func (c *Controller) clampView(v domain.ViewState) domain.ViewState {
	scale := domain.ClampScale(v.Scale, c.cfg.MinScale, c.cfg.MaxScale)
	return domain.ViewState{Scale: scale, Offset: c.clampOffset(v.Offset, scale)}
}

func (c *Controller) clampOffset(off domain.Offset, scale float64) domain.Offset {
	tr := projection.NewTransform(c.cfg.Width, c.cfg.Height, domain.ViewState{Scale: scale})
	return ClampOffset(off, tr)
}

// ClampOffset limits a pan offset so the globe's pixel bounding box keeps
// covering at least MinOverlap of the viewport on each axis.
func ClampOffset(off domain.Offset, tr projection.Transform) domain.Offset {
	rx, ry := tr.EllipseRadiiPx()
	limX := math.Max(0, rx+tr.Width/2-MinOverlap*tr.Width)
	limY := math.Max(0, ry+tr.Height/2-MinOverlap*tr.Height)
	return domain.Offset{
		X: clamp(off.X, -limX, limX),
		Y: clamp(off.Y, -limY, limY),
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
