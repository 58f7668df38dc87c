package viewport

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLoopClosed is returned for work posted to a closed loop.
var ErrLoopClosed = errors.New("interaction loop closed")

// Timer is a cancellable delayed callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs controller callbacks. RequestFrame coalesces requests made
// before the next frame into one callback, keeping the latest.
type Scheduler interface {
	RequestFrame(fn func())
	AfterFunc(d time.Duration, fn func()) Timer
}

// DefaultFrameInterval is the frame tick of the interaction loop.
const DefaultFrameInterval = 16 * time.Millisecond

// Loop is a single goroutine that runs every posted task in order. It
// implements Scheduler; RequestFrame must be called from a task running on
// the loop.
type Loop struct {
	tasks         chan func()
	done          chan struct{}
	closeOnce     sync.Once
	frameInterval time.Duration

	// Touched only on the loop goroutine.
	frame      func()
	frameArmed bool
}

// NewLoop starts an interaction loop.
func NewLoop(frameInterval time.Duration) *Loop {
	if frameInterval <= 0 {
		frameInterval = DefaultFrameInterval
	}
	l := &Loop{
		tasks:         make(chan func(), 64),
		done:          make(chan struct{}),
		frameInterval: frameInterval,
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	for {
		select {
		case <-l.done:
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post queues fn to run on the loop. It reports false once the loop is
// closed.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopClosed
	}
}

// RequestFrame implements Scheduler.
func (l *Loop) RequestFrame(fn func()) {
	l.frame = fn
	if l.frameArmed {
		return
	}
	l.frameArmed = true
	time.AfterFunc(l.frameInterval, func() {
		l.Post(l.runFrame)
	})
}

func (l *Loop) runFrame() {
	fn := l.frame
	l.frame = nil
	l.frameArmed = false
	if fn != nil {
		fn()
	}
}

// AfterFunc implements Scheduler. fn runs on the loop.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() {
		l.Post(fn)
	})
}

// Close stops the loop. Pending tasks are dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}
