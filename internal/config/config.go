// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/climap/internal/colormap"
	"github.com/jobrunner/climap/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Datasets   DatasetsConfig   `mapstructure:"datasets"`
	Boundaries BoundariesConfig `mapstructure:"boundaries"`
	Render     RenderConfig     `mapstructure:"render"`
	Viewport   ViewportConfig   `mapstructure:"viewport"`
	TLS        TLSConfig        `mapstructure:"tls"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	FrontendEnabled bool          `mapstructure:"frontend_enabled"` // serve the map viewer at /
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // s3, azure, http, local
	LocalPath string      `mapstructure:"local_path"`
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
	HTTP      HTTPConfig  `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// DatasetsConfig controls where datasets are found and how they refresh.
type DatasetsConfig struct {
	Prefix        string        `mapstructure:"prefix"`
	SyncInterval  time.Duration `mapstructure:"sync_interval"` // remote storage only, 0 disables
	Watch         bool          `mapstructure:"watch"`         // local storage only
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
}

// BoundariesConfig controls boundary file lookup.
type BoundariesConfig struct {
	Prefix    string         `mapstructure:"prefix"`
	CacheDir  string         `mapstructure:"cache_dir"`
	Tolerance float64        `mapstructure:"tolerance"` // Douglas-Peucker, pixels
	Files     []BoundaryFile `mapstructure:"files"`
}

// BoundaryFile names a boundary file looked up in every tier.
type BoundaryFile struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"` // boundary, geographicLines
}

// RenderConfig holds frame rendering settings.
type RenderConfig struct {
	Width             int     `mapstructure:"width"`
	Height            int     `mapstructure:"height"`
	PixelRatio        float64 `mapstructure:"pixel_ratio"`
	PreviewDownsample int     `mapstructure:"preview_downsample"`
	FullDownsamples   []int   `mapstructure:"full_downsamples"`
	VertexBudget      int     `mapstructure:"vertex_budget"`
	MeshCacheSize     int     `mapstructure:"mesh_cache_size"`
	DefaultRamp       string  `mapstructure:"default_ramp"`
	Shading           string  `mapstructure:"shading"` // smooth, flat
	BaseImage         string  `mapstructure:"base_image"`
	BaseOpacity       float64 `mapstructure:"base_opacity"`
}

// ViewportConfig holds interaction settings.
type ViewportConfig struct {
	MinScale      float64       `mapstructure:"min_scale"`
	MaxScale      float64       `mapstructure:"max_scale"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	FrameInterval time.Duration `mapstructure:"frame_interval"`
	MaxSessions   int           `mapstructure:"max_sessions"`
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool         `mapstructure:"enabled"`
	Domains  []string     `mapstructure:"domains"`
	Email    string       `mapstructure:"email"`
	CacheDir string       `mapstructure:"cache_dir"`
	Staging  bool         `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      TLSDNSConfig `mapstructure:"dns"`
}

// TLSDNSConfig selects the Azure DNS-01 challenge.
type TLSDNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"` // user-assigned managed identity
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.frontend_enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// Storage defaults
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "./data")
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	// Dataset defaults
	viper.SetDefault("datasets.prefix", "datasets")
	viper.SetDefault("datasets.sync_interval", 5*time.Minute)
	viper.SetDefault("datasets.watch", true)
	viper.SetDefault("datasets.watch_debounce", 500*time.Millisecond)

	// Boundary defaults
	viper.SetDefault("boundaries.prefix", "boundaries")
	viper.SetDefault("boundaries.cache_dir", "./.cache/boundaries")
	viper.SetDefault("boundaries.tolerance", 0.5)

	// Render defaults
	viper.SetDefault("render.width", 1024)
	viper.SetDefault("render.height", 512)
	viper.SetDefault("render.pixel_ratio", 1.0)
	viper.SetDefault("render.preview_downsample", 4)
	viper.SetDefault("render.full_downsamples", []int{4, 2, 1})
	viper.SetDefault("render.vertex_budget", 32000)
	viper.SetDefault("render.mesh_cache_size", 16)
	viper.SetDefault("render.default_ramp", colormap.DefaultRamp)
	viper.SetDefault("render.shading", "smooth")
	viper.SetDefault("render.base_image", "")
	viper.SetDefault("render.base_opacity", 1.0)

	// Viewport defaults
	viper.SetDefault("viewport.min_scale", domain.MinScale)
	viper.SetDefault("viewport.max_scale", domain.MaxScale)
	viper.SetDefault("viewport.settle_delay", 220*time.Millisecond)
	viper.SetDefault("viewport.frame_interval", 16*time.Millisecond)
	viper.SetDefault("viewport.max_sessions", 64)

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	viper.SetEnvPrefix("CLIMAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/climap")
	}

	// the config file is optional
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &domain.ConfigError{Field: "server.port", Message: fmt.Sprintf("invalid port %d", c.Server.Port)}
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return &domain.ConfigError{Field: "metrics.port", Message: fmt.Sprintf("invalid port %d", c.Metrics.Port)}
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return &domain.ConfigError{Field: "tls.domains", Message: "TLS enabled but no domains specified"}
		}
		if c.TLS.Email == "" {
			return &domain.ConfigError{Field: "tls.email", Message: "TLS enabled but no email specified"}
		}
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Render.validate(); err != nil {
		return err
	}
	if err := c.Viewport.validate(); err != nil {
		return err
	}

	for i, f := range c.Boundaries.Files {
		if f.Name == "" {
			return &domain.ConfigError{Field: fmt.Sprintf("boundaries.files[%d].name", i), Message: "name is required"}
		}
		switch domain.FeatureKind(f.Kind) {
		case "", domain.KindBoundary, domain.KindGeographicLines:
		default:
			return &domain.ConfigError{Field: fmt.Sprintf("boundaries.files[%d].kind", i), Message: fmt.Sprintf("unknown kind %q", f.Kind)}
		}
	}

	return nil
}

func (s *StorageConfig) validate() error {
	switch s.Type {
	case "local":
		if s.LocalPath == "" {
			return &domain.ConfigError{Field: "storage.local_path", Message: "local storage path is required"}
		}
	case "s3":
		if s.S3.Bucket == "" {
			return &domain.ConfigError{Field: "storage.s3.bucket", Message: "S3 bucket is required"}
		}
		if s.S3.Region == "" {
			return &domain.ConfigError{Field: "storage.s3.region", Message: "S3 region is required"}
		}
	case "azure":
		if s.Azure.Container == "" {
			return &domain.ConfigError{Field: "storage.azure.container", Message: "azure container is required"}
		}
		if s.Azure.AccountName == "" && s.Azure.ConnectionString == "" {
			return &domain.ConfigError{Field: "storage.azure", Message: "azure account name or connection string is required"}
		}
	case "http":
		if s.HTTP.BaseURL == "" {
			return &domain.ConfigError{Field: "storage.http.base_url", Message: "HTTP base URL is required"}
		}
	default:
		return &domain.ConfigError{Field: "storage.type", Message: fmt.Sprintf("unknown storage type %q", s.Type)}
	}
	return nil
}

func (r *RenderConfig) validate() error {
	if r.Width < 1 || r.Height < 1 {
		return &domain.ConfigError{Field: "render.width", Message: fmt.Sprintf("invalid surface %dx%d", r.Width, r.Height)}
	}
	if r.PixelRatio <= 0 {
		return &domain.ConfigError{Field: "render.pixel_ratio", Message: "pixel ratio must be positive"}
	}
	for _, d := range append([]int{r.PreviewDownsample}, r.FullDownsamples...) {
		if d < 1 {
			return &domain.ConfigError{Field: "render.downsample", Message: fmt.Sprintf("invalid downsample factor %d", d)}
		}
	}
	for i := 1; i < len(r.FullDownsamples); i++ {
		if r.FullDownsamples[i] >= r.FullDownsamples[i-1] {
			return &domain.ConfigError{
				Field:   "render.full_downsamples",
				Message: fmt.Sprintf("passes must refine: %v", r.FullDownsamples),
			}
		}
	}
	if n := len(r.FullDownsamples); n > 0 && r.FullDownsamples[n-1] != 1 {
		return &domain.ConfigError{
			Field:   "render.full_downsamples",
			Message: fmt.Sprintf("last pass must be full resolution: %v", r.FullDownsamples),
		}
	}
	if _, err := colormap.Ramp(r.DefaultRamp); err != nil {
		return &domain.ConfigError{Field: "render.default_ramp", Message: err.Error()}
	}
	if _, err := domain.ParseShading(r.Shading); err != nil {
		return &domain.ConfigError{Field: "render.shading", Message: err.Error()}
	}
	if r.BaseOpacity < 0 || r.BaseOpacity > 1 {
		return &domain.ConfigError{Field: "render.base_opacity", Message: "opacity must be within 0-1"}
	}
	return nil
}

func (v *ViewportConfig) validate() error {
	if v.MinScale <= 0 || v.MaxScale < v.MinScale {
		return &domain.ConfigError{
			Field:   "viewport.max_scale",
			Message: fmt.Sprintf("invalid scale range [%v, %v]", v.MinScale, v.MaxScale),
		}
	}
	if v.MaxSessions < 1 {
		return &domain.ConfigError{Field: "viewport.max_sessions", Message: "at least one session is required"}
	}
	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
