// Package watcher hot-reloads a local dataset directory.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Operation is the kind of a debounced file change.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the log label of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a debounced change to one file below the watched root.
type Event struct {
	Path      string    // absolute path
	Key       string    // slash-separated path relative to the root
	Operation Operation // effective operation after debouncing
}

// Handler is called once per debounced event.
type Handler func(ctx context.Context, event Event) error

// Config holds watcher configuration.
type Config struct {
	Root       string
	Extensions []string // default: .json
	Debounce   time.Duration
}

// Watcher watches a directory tree and reports changes to files with the
// configured extensions. Bursts of events for the same file collapse into
// one handler call after the debounce delay.
type Watcher struct {
	fs         *fsnotify.Watcher
	handler    Handler
	logger     *slog.Logger
	root       string
	extensions map[string]bool
	debounce   time.Duration

	mu      sync.Mutex
	pending map[string]*pending
	wg      sync.WaitGroup
}

type pending struct {
	op    Operation
	timer *time.Timer
}

// New creates a watcher. Nothing is watched until Start.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".json"}
	}
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(e)] = true
	}

	return &Watcher{
		fs:         fsw,
		handler:    handler,
		logger:     logger.With("component", "watcher"),
		root:       root,
		extensions: exts,
		debounce:   cfg.Debounce,
		pending:    make(map[string]*pending),
	}, nil
}

// Start watches the root and all its subdirectories until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.logger.Info("watching directory", "path", w.root)
	go w.loop(ctx)
	return nil
}

// Stop closes the watcher and waits for running handlers.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	err := w.fs.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fs.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
			}
			return
		}
	}
	if !w.matches(ev.Name) {
		return
	}
	w.logger.Debug("file event", "path", ev.Name, "op", ev.Op.String())
	w.schedule(ctx, ev.Name, toOperation(ev.Op))
}

// schedule records op for path and (re)starts its debounce timer.
func (w *Watcher) schedule(ctx context.Context, path string, op Operation) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok {
		p.op = merge(p.op, op)
		p.timer.Reset(w.debounce)
		return
	}
	w.pending[path] = &pending{
		op: op,
		timer: time.AfterFunc(w.debounce, func() {
			w.fire(ctx, path)
		}),
	}
}

func (w *Watcher) fire(ctx context.Context, path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
	}
	w.mu.Unlock()
	if !ok || ctx.Err() != nil {
		return
	}

	event := Event{Path: path, Key: w.key(path), Operation: p.op}
	w.logger.Info("processing file event", "key", event.Key, "operation", event.Operation.String())

	w.wg.Add(1)
	defer w.wg.Done()
	if err := w.handler(ctx, event); err != nil {
		w.logger.Error("handler error",
			"key", event.Key,
			"operation", event.Operation.String(),
			"error", err,
		)
	}
}

func (w *Watcher) key(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) matches(path string) bool {
	return w.extensions[strings.ToLower(filepath.Ext(path))]
}

// merge combines a pending operation with a newer one. A delete wins
// unless the file is recreated afterwards.
func merge(prev, next Operation) Operation {
	switch {
	case next == OpDelete:
		return OpDelete
	case prev == OpDelete && next == OpCreate:
		return OpCreate
	case prev == OpCreate:
		return OpCreate
	default:
		return next
	}
}

func toOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}
