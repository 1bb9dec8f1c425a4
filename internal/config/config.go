// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
)

// EnvPrefix namespaces environment overrides, e.g. SCREENSHOT_SERVER_PORT.
const EnvPrefix = "SCREENSHOT"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Target      TargetConfig      `mapstructure:"target"`
	Probe       ProbeConfig       `mapstructure:"probe"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Compression CompressionConfig `mapstructure:"compression"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	EnqueueTimeout  time.Duration `mapstructure:"enqueue_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// CORSOrigins enables CORS on /api for the listed origins. Empty disables it.
	CORSOrigins []string `mapstructure:"cors_allowed_origins"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// TargetConfig maps project ids onto deployed application hosts.
type TargetConfig struct {
	Scheme    string `mapstructure:"scheme"`
	AppPrefix string `mapstructure:"app_prefix"`
	Domain    string `mapstructure:"domain"`
}

// ProbeConfig configures the availability probe.
type ProbeConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// HeadlessConfig configures browser sessions.
type HeadlessConfig struct {
	MaxParallel     int           `mapstructure:"max_parallel"`
	NoSandbox       bool          `mapstructure:"no_sandbox"`
	ExecPath        string        `mapstructure:"exec_path"`
	UserAgent       string        `mapstructure:"user_agent"`
	ViewportWidth   int           `mapstructure:"viewport_width"`
	ViewportHeight  int           `mapstructure:"viewport_height"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout"`
	NavTimeout      time.Duration `mapstructure:"nav_timeout"`
	CaptureTimeout  time.Duration `mapstructure:"capture_timeout"`
	NetworkIdle     time.Duration `mapstructure:"network_idle"`
	SettleTimeout   time.Duration `mapstructure:"settle_timeout"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	SettleSelectors []string      `mapstructure:"settle_selectors"`
}

// CompressionConfig holds the two-pass encoding parameters.
type CompressionConfig struct {
	CeilingBytes       int `mapstructure:"ceiling_bytes"`
	FirstQuality       int `mapstructure:"first_quality"`
	FirstMaxDimension  int `mapstructure:"first_max_dimension"`
	SecondQuality      int `mapstructure:"second_quality"`
	SecondMaxDimension int `mapstructure:"second_max_dimension"`
}

// PipelineConfig governs the worker pool and artifact spool.
type PipelineConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	QueueDepth  int    `mapstructure:"queue_depth"`
	ArtifactDir string `mapstructure:"artifact_dir"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Backend       string      `mapstructure:"backend"`
	Bucket        string      `mapstructure:"bucket"`
	Prefix        string      `mapstructure:"prefix"`
	PublicBaseURL string      `mapstructure:"public_base_url"`
	CacheBust     bool        `mapstructure:"cache_bust"`
	S3            S3Config    `mapstructure:"s3"`
	Local         LocalConfig `mapstructure:"local"`
}

// S3Config configures S3-compatible object storage.
type S3Config struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// LocalConfig configures the filesystem object store.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls access to the project record store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Insecure     bool   `mapstructure:"insecure"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Fly and Cloud Run inject PORT.
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.enqueue_timeout", 2*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("target.scheme", "https")
	v.SetDefault("target.app_prefix", "preview")
	v.SetDefault("target.domain", "fly.dev")
	v.SetDefault("probe.timeout", 10*time.Second)
	v.SetDefault("probe.user_agent", "fly-screenshotter/1.0")
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.no_sandbox", true)
	v.SetDefault("headless.viewport_width", 1920)
	v.SetDefault("headless.viewport_height", 1080)
	v.SetDefault("headless.launch_timeout", 20*time.Second)
	v.SetDefault("headless.nav_timeout", 30*time.Second)
	v.SetDefault("headless.capture_timeout", 30*time.Second)
	v.SetDefault("headless.network_idle", 500*time.Millisecond)
	v.SetDefault("headless.settle_timeout", 5*time.Second)
	v.SetDefault("headless.settle_delay", 2*time.Second)
	v.SetDefault("headless.settle_selectors", []string{".loading", ".spinner", "[data-loading]"})
	v.SetDefault("compression.ceiling_bytes", 30*1024)
	v.SetDefault("compression.first_quality", 80)
	v.SetDefault("compression.first_max_dimension", 800)
	v.SetDefault("compression.second_quality", 60)
	v.SetDefault("compression.second_max_dimension", 600)
	v.SetDefault("pipeline.concurrency", 2)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.artifact_dir", "screenshots")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "screenshots")
	v.SetDefault("storage.cache_bust", true)
	v.SetDefault("storage.s3.region", "auto")
	v.SetDefault("storage.local.base_dir", "data/objects")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.table", "projects")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "fly-screenshotter")
}

// Validate enforces required values and reasonable limits.
//
//nolint:gocyclo // flat list of independent checks
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.EnqueueTimeout <= 0 {
		return fmt.Errorf("server.enqueue_timeout must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Target.AppPrefix == "" || c.Target.Domain == "" {
		return fmt.Errorf("target.app_prefix and target.domain are required")
	}
	if c.Target.Scheme != "http" && c.Target.Scheme != "https" {
		return fmt.Errorf("target.scheme must be http or https")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe.timeout must be > 0")
	}
	if c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0")
	}
	if c.Headless.ViewportWidth <= 0 || c.Headless.ViewportHeight <= 0 {
		return fmt.Errorf("headless.viewport_width and headless.viewport_height must be > 0")
	}
	if c.Headless.LaunchTimeout <= 0 || c.Headless.NavTimeout <= 0 || c.Headless.CaptureTimeout <= 0 {
		return fmt.Errorf("headless launch, nav and capture timeouts must be > 0")
	}
	if c.Headless.NetworkIdle < 0 || c.Headless.SettleTimeout < 0 || c.Headless.SettleDelay < 0 {
		return fmt.Errorf("headless settle durations must be >= 0")
	}
	if err := c.Compression.validate(); err != nil {
		return err
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.QueueDepth <= 0 {
		return fmt.Errorf("pipeline.queue_depth must be > 0")
	}
	if c.Pipeline.ArtifactDir == "" {
		return fmt.Errorf("pipeline.artifact_dir is required")
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	return c.Database.validate()
}

func (c CompressionConfig) validate() error {
	if c.CeilingBytes <= 0 {
		return fmt.Errorf("compression.ceiling_bytes must be > 0")
	}
	for name, q := range map[string]int{
		"compression.first_quality":  c.FirstQuality,
		"compression.second_quality": c.SecondQuality,
	} {
		if q < 1 || q > 100 {
			return fmt.Errorf("%s must be within 1..100", name)
		}
	}
	if c.FirstMaxDimension <= 0 || c.SecondMaxDimension <= 0 {
		return fmt.Errorf("compression max dimensions must be > 0")
	}
	return nil
}

func (c StorageConfig) validate() error {
	switch c.Backend {
	case "memory":
	case "local":
		if c.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case "gcs", "s3":
		if c.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the %s backend", c.Backend)
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs, s3 (got %q)", c.Backend)
	}
	return nil
}

func (c DatabaseConfig) validate() error {
	switch c.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.DSN == "" {
			return fmt.Errorf("database.dsn is required for the %s driver", c.Driver)
		}
	default:
		return fmt.Errorf("database.driver must be one of memory, postgres, sqlite (got %q)", c.Driver)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Spec converts the target section into a screenshot.TargetSpec.
func (t TargetConfig) Spec() screenshot.TargetSpec {
	return screenshot.TargetSpec{Scheme: t.Scheme, AppPrefix: t.AppPrefix, Domain: t.Domain}
}
