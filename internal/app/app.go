// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/jobrunner/climap/internal/adapters/datasetjson"
	"github.com/jobrunner/climap/internal/adapters/geopackage"
	httpAdapter "github.com/jobrunner/climap/internal/adapters/http"
	"github.com/jobrunner/climap/internal/adapters/metrics"
	"github.com/jobrunner/climap/internal/adapters/storage"
	tlsAdapter "github.com/jobrunner/climap/internal/adapters/tls"
	"github.com/jobrunner/climap/internal/adapters/watcher"
	"github.com/jobrunner/climap/internal/application"
	"github.com/jobrunner/climap/internal/boundary"
	"github.com/jobrunner/climap/internal/config"
	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/mesh"
	"github.com/jobrunner/climap/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Storage       output.ObjectStorage
	Registry      *application.DatasetRegistry
	SyncService   *application.SyncService
	Boundaries    *boundary.Loader
	Maps          *application.MapService
	HealthService *application.HealthService
	HTTPServer    *httpAdapter.Server
	TLSManager    *tlsAdapter.Manager
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector
	MetricsServer *metrics.Server

	cancel context.CancelFunc
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("climap")
		app.MetricsServer = metrics.NewServer(
			cfg.Metrics.Port,
			cfg.Metrics.Path,
			app.Metrics.Handler(),
			logger,
		)
		metricsCollector = app.Metrics
	}

	// Initialize storage adapter
	store, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = storage.NewInstrumented(store, metricsCollector)

	// Initialize dataset registry
	app.Registry = application.NewDatasetRegistry(
		datasetjson.NewReader(),
		app.Storage,
		metricsCollector,
		logger,
		cfg.Datasets.Prefix,
	)

	// Remote backends are polled, local storage is watched
	if cfg.Storage.Type != string(output.StorageTypeLocal) && cfg.Datasets.SyncInterval > 0 {
		app.SyncService = application.NewSyncService(app.Registry, cfg.Datasets.SyncInterval, logger)
	}

	// Initialize boundary loader
	files := make([]boundary.FileSpec, 0, len(cfg.Boundaries.Files))
	for _, f := range cfg.Boundaries.Files {
		kind := domain.FeatureKind(f.Kind)
		if kind == "" {
			kind = domain.KindBoundary
		}
		files = append(files, boundary.FileSpec{Name: f.Name, Kind: kind})
	}
	app.Boundaries = boundary.NewLoader(
		app.Storage,
		geopackage.NewReader(logger),
		metricsCollector,
		boundary.LoaderConfig{
			Prefix:   cfg.Boundaries.Prefix,
			CacheDir: cfg.Boundaries.CacheDir,
			Files:    files,
		},
		logger,
	)

	// Initialize map service
	shading, err := domain.ParseShading(cfg.Render.Shading)
	if err != nil {
		return nil, fmt.Errorf("parsing shading: %w", err)
	}
	defaultLayer := domain.RenderParams{
		Ramp:     cfg.Render.DefaultRamp,
		Shading:  shading,
		ShowBase: cfg.Render.BaseImage != "",
	}

	imagery := application.NewImageryLoader(app.Storage, cfg.Render.BaseImage, cfg.Render.BaseOpacity, logger)

	app.Maps = application.NewMapService(
		app.Registry,
		mesh.NewCache(cfg.Render.MeshCacheSize, metricsCollector),
		app.Boundaries,
		imagery,
		metricsCollector,
		application.MapConfig{
			Width:             cfg.Render.Width,
			Height:            cfg.Render.Height,
			PixelRatio:        cfg.Render.PixelRatio,
			MaxSessions:       cfg.Viewport.MaxSessions,
			PreviewDownsample: cfg.Render.PreviewDownsample,
			FullDownsamples:   cfg.Render.FullDownsamples,
			VertexBudget:      cfg.Render.VertexBudget,
			BoundaryTolerance: cfg.Boundaries.Tolerance,
			MinScale:          cfg.Viewport.MinScale,
			MaxScale:          cfg.Viewport.MaxScale,
			SettleDelay:       cfg.Viewport.SettleDelay,
			FrameInterval:     cfg.Viewport.FrameInterval,
			DefaultLayer:      defaultLayer,
		},
		logger,
	)

	// Initialize health service
	app.HealthService = application.NewHealthService(app.Registry, app.Maps)

	// Initialize TLS if enabled
	var opts []httpAdapter.Option
	if cfg.TLS.Enabled {
		manager, err := tlsAdapter.NewManager(
			tlsAdapter.Config{
				Domains:  cfg.TLS.Domains,
				Email:    cfg.TLS.Email,
				CacheDir: cfg.TLS.CacheDir,
				Staging:  cfg.TLS.Staging,
				DNS: tlsAdapter.DNSConfig{
					SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
					ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
					ClientID:          cfg.TLS.DNS.ClientID,
				},
			},
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSManager = manager
		opts = append(opts, httpAdapter.WithTLS(manager.TLSConfig()))
	}
	if app.Metrics != nil {
		opts = append(opts, httpAdapter.WithMiddleware(app.Metrics.Middleware))
	}

	// Initialize HTTP server
	services := httpAdapter.Services{
		Registry:     app.Registry,
		Maps:         app.Maps,
		Health:       app.HealthService,
		Renderer:     app.Maps,
		DefaultLayer: defaultLayer,
	}
	if app.SyncService != nil {
		services.Sync = app.SyncService
	}
	app.HTTPServer = httpAdapter.NewServer(cfg.Server, services, logger, opts...)

	// Initialize file watcher for hot-reload
	if cfg.Storage.Type == string(output.StorageTypeLocal) && cfg.Datasets.Watch {
		w, err := watcher.New(
			watcher.Config{
				Root:     cfg.Storage.LocalPath,
				Debounce: cfg.Datasets.WatchDebounce,
			},
			app.handleFileEvent,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Load reads every dataset from storage.
func (a *App) Load(ctx context.Context) error {
	if err := a.Registry.LoadAll(ctx); err != nil {
		return fmt.Errorf("loading datasets: %w", err)
	}
	return nil
}

// Start starts all application components and blocks while the HTTP
// server runs.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.Load(ctx); err != nil {
		a.Logger.Warn("failed to load datasets", "error", err)
	}

	if a.SyncService != nil {
		a.SyncService.Start(ctx)
	}

	// Start file watcher
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	if a.TLSManager != nil {
		if err := a.TLSManager.ManageCertificates(ctx); err != nil {
			return fmt.Errorf("managing certificates: %w", err)
		}
	}

	// Start metrics server in background
	if a.MetricsServer != nil {
		go func() {
			if err := a.MetricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("metrics server error", "error", err)
			}
		}()
	}

	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.cancel != nil {
		a.cancel()
	}

	if a.SyncService != nil {
		a.SyncService.Stop()
	}

	// Stop watcher
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	// Shutdown metrics server
	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(ctx); err != nil {
			a.Logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Shutdown HTTP server before sessions so open streams end first
	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	a.Maps.Close()
	return nil
}

// handleFileEvent reloads or unloads the dataset behind a changed file.
// Files outside the dataset prefix are ignored.
func (a *App) handleFileEvent(ctx context.Context, event watcher.Event) error {
	if !isDatasetKey(a.Config.Datasets.Prefix, event.Key) {
		return nil
	}
	a.Logger.Info("file event", "key", event.Key, "operation", event.Operation.String())

	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		return a.Registry.LoadDataset(ctx, event.Key)

	case watcher.OpDelete:
		if err := a.Registry.UnloadKey(ctx, event.Key); err != nil && !errors.Is(err, domain.ErrDatasetNotFound) {
			a.Logger.Warn("failed to unload deleted dataset", "key", event.Key, "error", err)
		}
		return nil
	}

	return nil
}

// isDatasetKey reports whether key is a dataset document below prefix.
func isDatasetKey(prefix, key string) bool {
	if path.Ext(key) != ".json" {
		return false
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return true
	}
	return strings.HasPrefix(key, prefix+"/")
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch output.StorageType(cfg.Type) {
	case output.StorageTypeLocal:
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case output.StorageTypeS3:
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case output.StorageTypeAzure:
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	case output.StorageTypeHTTP:
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
