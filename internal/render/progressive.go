package render

import (
	"context"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jobrunner/climap/internal/domain"
)

// Token identifies one render request. Only frames carrying the current
// token may be committed.
type Token uint64

// Pass is one step of a progressive render.
type Pass struct {
	Downsample int
	Quality    domain.Quality
}

// PreviewPasses returns the single coarse pass drawn during gestures.
func PreviewPasses(downsample int) []Pass {
	return []Pass{{Downsample: max(1, downsample), Quality: domain.QualityPreview}}
}

// FullPasses returns the progressive full-quality passes, coarsest first.
// Factors that do not refine the previous pass are skipped and a final
// full-resolution pass is appended when missing.
func FullPasses(downsamples []int) []Pass {
	passes := make([]Pass, 0, len(downsamples)+1)
	for _, d := range downsamples {
		d = max(1, d)
		if n := len(passes); n > 0 && d >= passes[n-1].Downsample {
			continue
		}
		passes = append(passes, Pass{Downsample: d, Quality: domain.QualityFull})
	}
	if n := len(passes); n == 0 || passes[n-1].Downsample != 1 {
		passes = append(passes, Pass{Downsample: 1, Quality: domain.QualityFull})
	}
	return passes
}

// Frame is a committed render result at full surface size.
type Frame struct {
	Image      *image.RGBA
	Token      Token
	Quality    domain.Quality
	Downsample int
	// Final marks the last pass of a request.
	Final     bool
	View      domain.ViewState
	Triangles int
	Duration  time.Duration
}

// Observer receives render metrics.
type Observer interface {
	ObserveRenderDuration(quality string, d time.Duration)
	IncFramesCommitted(quality string)
	IncFramesDiscarded(reason string)
}

// Renderer runs progressive renders and discards superseded ones.
type Renderer struct {
	token    atomic.Uint64
	observer Observer
	logger   *slog.Logger
}

// NewRenderer creates a renderer. observer may be nil.
func NewRenderer(observer Observer, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{observer: observer, logger: logger.With("component", "renderer")}
}

// Begin starts a new render request and supersedes all earlier ones.
func (r *Renderer) Begin() Token {
	return Token(r.token.Add(1))
}

// Current returns the most recent token.
func (r *Renderer) Current() Token {
	return Token(r.token.Load())
}

// IsCurrent reports whether t is still the latest token.
func (r *Renderer) IsCurrent(t Token) bool {
	return r.Current() == t
}

// Render runs passes coarsest first and hands each finished frame to
// onFrame. A pass whose token went stale is dropped without error. A
// cancelled context stops rendering and returns its error.
func (r *Renderer) Render(ctx context.Context, token Token, scene Scene, passes []Pass, onFrame func(Frame)) error {
	tr := scene.Transform()

	for i, pass := range passes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.IsCurrent(token) {
			r.discard("stale")
			return nil
		}

		start := time.Now()
		fb := NewFramebuffer(scene.Width, scene.Height, pass.Downsample)
		triangles := Compose(fb, tr.Downsample(pass.Downsample), scene)
		img := fb.Image()
		if pass.Downsample > 1 {
			img = Upscale(img, scene.Width, scene.Height)
		}
		elapsed := time.Since(start)

		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.IsCurrent(token) {
			r.discard("stale")
			return nil
		}

		onFrame(Frame{
			Image:      img,
			Token:      token,
			Quality:    pass.Quality,
			Downsample: pass.Downsample,
			Final:      i == len(passes)-1,
			View:       scene.View,
			Triangles:  triangles,
			Duration:   elapsed,
		})

		if r.observer != nil {
			r.observer.ObserveRenderDuration(pass.Quality.String(), elapsed)
			r.observer.IncFramesCommitted(pass.Quality.String())
		}
		r.logger.Debug("frame rendered",
			"token", uint64(token),
			"quality", pass.Quality.String(),
			"downsample", pass.Downsample,
			"triangles", triangles,
			"duration", elapsed,
		)
	}
	return nil
}

func (r *Renderer) discard(reason string) {
	if r.observer != nil {
		r.observer.IncFramesDiscarded(reason)
	}
}
