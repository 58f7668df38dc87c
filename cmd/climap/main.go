// Package main provides the entry point for the climap map server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/climap/internal/app"
	"github.com/jobrunner/climap/internal/config"
	"github.com/jobrunner/climap/internal/domain"
	"github.com/jobrunner/climap/internal/render"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "climap",
	Short: "climap - interactive climate map server",
	Long: `climap renders gridded climate datasets on an equal-area Winkel-Tripel
world map.

Browsers open a map session, send pointer and wheel events and receive
progressively refined frames over a WebSocket.

Features:
  - Pan and zoom with low-resolution previews and full-quality settle frames
  - Smooth and flat shading with several color ramps
  - Coastline, lake, river and graticule overlays by zoom level
  - Multiple storage backends (local, AWS S3, Azure, HTTP)
  - Hot-reload of datasets
  - TLS with automatic certificate management
  - Prometheus metrics`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("climap %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render one map to a PNG file",
	Args:  cobra.NoArgs,
	RunE:  runRender,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("storage-type", "local", "storage type (local, s3, azure, http)")
	rootCmd.PersistentFlags().String("storage-path", "./data", "local storage path")

	// Server flags
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("port", 8080, "server port")
	rootCmd.Flags().Bool("tls", false, "enable TLS")
	rootCmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
	rootCmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")
	rootCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")
	rootCmd.Flags().Bool("no-frontend", false, "disable the built-in map viewer")

	// Render flags
	renderCmd.Flags().String("dataset", "", "dataset ID")
	renderCmd.Flags().StringP("output", "o", "map.png", "output PNG file")
	renderCmd.Flags().Int("width", 0, "image width in pixels (default: render.width)")
	renderCmd.Flags().Int("height", 0, "image height in pixels (default: render.height)")
	renderCmd.Flags().String("ramp", "", "color ramp (default: render.default_ramp)")
	renderCmd.Flags().String("shading", "", "smooth or flat (default: render.shading)")
	renderCmd.Flags().Float64("opacity", 1, "dataset opacity")
	renderCmd.Flags().Float64("scale", domain.MinScale, "zoom scale")
	renderCmd.Flags().Float64("offset-x", 0, "pan offset in pixels")
	renderCmd.Flags().Float64("offset-y", 0, "pan offset in pixels")
	renderCmd.Flags().StringSlice("overlay", nil, "overlay image keys drawn over the dataset, in order")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("storage.type", rootCmd.PersistentFlags().Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", rootCmd.PersistentFlags().Lookup("storage-path"))
	_ = viper.BindPFlag("server.host", rootCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("tls.enabled", rootCmd.Flags().Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", rootCmd.Flags().Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", rootCmd.Flags().Lookup("tls-email"))
	_ = viper.BindPFlag("server.cors.allowed_origins", rootCmd.Flags().Lookup("cors"))

	rootCmd.AddCommand(versionCmd, renderCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	if noFrontend, _ := cmd.Flags().GetBool("no-frontend"); noFrontend {
		viper.Set("server.frontend_enabled", false)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting climap",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage_type", cfg.Storage.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize application
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := application.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down server")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func runRender(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	flags := cmd.Flags()
	datasetID, _ := flags.GetString("dataset")
	output, _ := flags.GetString("output")
	width, _ := flags.GetInt("width")
	height, _ := flags.GetInt("height")
	ramp, _ := flags.GetString("ramp")
	shadingName, _ := flags.GetString("shading")
	opacity, _ := flags.GetFloat64("opacity")
	scale, _ := flags.GetFloat64("scale")
	offsetX, _ := flags.GetFloat64("offset-x")
	offsetY, _ := flags.GetFloat64("offset-y")
	overlayKeys, _ := flags.GetStringSlice("overlay")

	if datasetID == "" {
		return errors.New("--dataset is required")
	}
	if ramp == "" {
		ramp = cfg.Render.DefaultRamp
	}
	if shadingName == "" {
		shadingName = cfg.Render.Shading
	}
	shading, err := domain.ParseShading(shadingName)
	if err != nil {
		return err
	}
	overlays := make([]domain.OverlayRef, len(overlayKeys))
	for i, key := range overlayKeys {
		overlays[i] = domain.OverlayRef{Key: key}
	}

	// metrics and the watcher are not needed for one image
	cfg.Metrics.Enabled = false
	cfg.Datasets.Watch = false
	cfg.TLS.Enabled = false

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer application.Maps.Close()

	if err := application.Load(ctx); err != nil {
		return err
	}

	start := time.Now()
	img, err := application.Maps.RenderImage(ctx,
		domain.RenderParams{
			DatasetID: datasetID,
			Ramp:      ramp,
			Opacity:   &opacity,
			Shading:   shading,
			ShowBase:  cfg.Render.BaseImage != "",
		},
		domain.ViewState{Scale: scale, Offset: domain.Offset{X: offsetX, Y: offsetY}},
		width, height,
	)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", datasetID, err)
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	if err := render.EncodePNG(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encoding PNG: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	logger.Info("map rendered",
		"dataset", datasetID,
		"output", output,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy(),
		"duration", time.Since(start),
	)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
