package viewport

import (
	"time"

	"github.com/jobrunner/climap/internal/domain"
)

// manualScheduler queues frames and timers until the test runs them.
type manualScheduler struct {
	frame  func()
	frames int
	timers []*manualTimer
}

type manualTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (s *manualScheduler) RequestFrame(fn func()) {
	s.frame = fn
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	t := &manualTimer{delay: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// flushFrame runs the pending frame, if any.
func (s *manualScheduler) flushFrame() {
	if s.frame == nil {
		return
	}
	fn := s.frame
	s.frame = nil
	s.frames++
	fn()
}

// fireTimers runs every timer that was not stopped.
func (s *manualScheduler) fireTimers() {
	timers := s.timers
	s.timers = nil
	for _, t := range timers {
		if !t.stopped {
			t.stopped = true
			t.fn()
		}
	}
}

// mockListener records controller callbacks.
type mockListener struct {
	previews []domain.ViewState
	settled  []domain.ViewState
	clicks   []domain.GeoPoint
}

func (m *mockListener) Preview(v domain.ViewState) { m.previews = append(m.previews, v) }
func (m *mockListener) Settled(v domain.ViewState) { m.settled = append(m.settled, v) }
func (m *mockListener) Click(p domain.GeoPoint)    { m.clicks = append(m.clicks, p) }
