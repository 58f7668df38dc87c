// Package viewport implements the interactive zoom and pan state machine.
package viewport

import (
	"fmt"
	"math"

	"github.com/jobrunner/climap/internal/domain"
)

// Point is a position in render pixels.
type Point struct {
	X float64
	Y float64
}

func (p Point) dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// State is the gesture state of a controller. It is one of Idle, Panning
// or Zooming.
type State interface {
	Name() string
	isState()
}

// Idle means no gesture is in progress.
type Idle struct{}

// Panning is an active pointer drag.
type Panning struct {
	Origin      Point
	StartOffset domain.Offset
	// Moved is set once the pointer travelled beyond the click slop.
	Moved bool
	// Interrupted is set when the press cut a zoom short before it settled.
	Interrupted bool
}

// Zooming lasts from a wheel event until the settle delay passes without
// further wheel input.
type Zooming struct {
	Target Point
	settle Timer
}

// Name implements State.
func (Idle) Name() string { return "idle" }

// Name implements State.
func (Panning) Name() string { return "panning" }

// Name implements State.
func (Zooming) Name() string { return "zooming" }

func (Idle) isState()    {}
func (Panning) isState() {}
func (Zooming) isState() {}

// EventType is the kind of a pointer event.
type EventType string

// Pointer event types.
const (
	PointerDown   EventType = "pointerdown"
	PointerMove   EventType = "pointermove"
	PointerUp     EventType = "pointerup"
	PointerCancel EventType = "pointercancel"
	Wheel         EventType = "wheel"
)

// Event is a pointer or wheel event in client pixels.
type Event struct {
	Type   EventType `json:"type"`
	X      float64   `json:"x"`
	Y      float64   `json:"y"`
	DeltaY float64   `json:"deltaY,omitempty"`
}

// Validate checks the event type and coordinates.
func (e Event) Validate() error {
	switch e.Type {
	case PointerDown, PointerMove, PointerUp, PointerCancel, Wheel:
	default:
		return fmt.Errorf("%w: unknown type %q", domain.ErrInvalidEvent, e.Type)
	}
	if math.IsNaN(e.X) || math.IsNaN(e.Y) || math.IsInf(e.X, 0) || math.IsInf(e.Y, 0) {
		return fmt.Errorf("%w: non-finite coordinates", domain.ErrInvalidEvent)
	}
	if math.IsNaN(e.DeltaY) || math.IsInf(e.DeltaY, 0) {
		return fmt.Errorf("%w: non-finite wheel delta", domain.ErrInvalidEvent)
	}
	return nil
}
