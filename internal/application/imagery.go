package application

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/ports/output"
	"github.com/jobrunner/climap/internal/render"
)

// ImageryLoader loads global images once and shares them between sessions:
// the configured base image and any overlay images a layer names. A failed
// load is retried on the next request.
type ImageryLoader struct {
	storage output.ObjectStorage
	key     string
	opacity float64
	logger  *slog.Logger

	group  singleflight.Group
	mu     sync.RWMutex
	images map[string]*render.Overlay
}

// NewImageryLoader creates a loader whose base image is at key. An empty
// key disables base imagery; overlays can still be loaded.
func NewImageryLoader(storage output.ObjectStorage, key string, opacity float64, logger *slog.Logger) *ImageryLoader {
	return &ImageryLoader{
		storage: storage,
		key:     key,
		opacity: opacity,
		logger:  logger.With("component", "imagery"),
		images:  make(map[string]*render.Overlay),
	}
}

// Enabled reports whether a base image is configured.
func (l *ImageryLoader) Enabled() bool {
	return l != nil && l.key != ""
}

// Cached returns the base overlay if it has been loaded.
func (l *ImageryLoader) Cached() *render.Overlay {
	if !l.Enabled() {
		return nil
	}
	return l.cached(l.key)
}

// Load returns the base overlay, reading it from storage on first use.
func (l *ImageryLoader) Load(ctx context.Context) (*render.Overlay, error) {
	if !l.Enabled() {
		return nil, nil
	}
	return l.load(ctx, l.key)
}

// Overlays returns the loaded overlays of refs in order, each with its own
// opacity. Overlays that are not loaded yet are skipped.
func (l *ImageryLoader) Overlays(refs []domain.OverlayRef) []*render.Overlay {
	if l == nil || len(refs) == 0 {
		return nil
	}
	out := make([]*render.Overlay, 0, len(refs))
	for _, ref := range refs {
		o := l.cached(ref.Key)
		if o == nil {
			continue
		}
		c := *o
		c.Opacity = ref.Alpha()
		out = append(out, &c)
	}
	return out
}

// Missing returns the keys of refs that are not loaded yet.
func (l *ImageryLoader) Missing(refs []domain.OverlayRef) []string {
	if l == nil {
		return nil
	}
	var keys []string
	for _, ref := range refs {
		if l.cached(ref.Key) == nil {
			keys = append(keys, ref.Key)
		}
	}
	return keys
}

// LoadOverlay reads the overlay image at key on first use. A nil loader
// loads nothing.
func (l *ImageryLoader) LoadOverlay(ctx context.Context, key string) (*render.Overlay, error) {
	if l == nil {
		return nil, nil
	}
	return l.load(ctx, key)
}

func (l *ImageryLoader) cached(key string) *render.Overlay {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.images[key]
}

func (l *ImageryLoader) load(ctx context.Context, key string) (*render.Overlay, error) {
	if o := l.cached(key); o != nil {
		return o, nil
	}

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		rc, err := l.storage.GetReader(ctx, key)
		if err != nil {
			return nil, &domain.LoadError{Kind: "imagery", Key: key, Err: err}
		}
		defer func() { _ = rc.Close() }()

		img, format, err := render.DecodeImage(rc)
		if err != nil {
			return nil, &domain.LoadError{Kind: "imagery", Key: key, Err: err}
		}
		o := render.GlobalOverlay(img, l.opacity)

		l.mu.Lock()
		l.images[key] = o
		l.mu.Unlock()

		b := img.Bounds()
		l.logger.Info("imagery loaded", "key", key, "format", format, "width", b.Dx(), "height", b.Dy())
		return o, nil
	})
	if err != nil {
		l.logger.Warn("imagery unavailable", "key", key, "error", err)
		return nil, err
	}
	return v.(*render.Overlay), nil
}
