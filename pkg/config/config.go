package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/platinummonkey/trellis/pkg/softdelete"
	"github.com/platinummonkey/trellis/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Observability ObservabilityConfig
	Access        AccessConfig
	Purge         PurgeConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// AccessConfig tunes the access layer.
type AccessConfig struct {
	// AllowAnonymous lets requests without a token through as the anonymous
	// user, who can only read public workspaces.
	AllowAnonymous bool
	// AuditTimeout bounds each background audit write.
	AuditTimeout time.Duration
}

// PurgeConfig drives cmd/trellis-purger.
type PurgeConfig struct {
	Schedule  string
	Retention time.Duration
}

// Overlay is the YAML file shape. Only the settings that are safe to change
// at runtime are read from it; anything absent keeps its current value.
type Overlay struct {
	LogLevel       *string        `yaml:"log_level"`
	CacheMode      *string        `yaml:"cache_mode"`
	CacheTTL       *time.Duration `yaml:"cache_ttl"`
	AllowAnonymous *bool          `yaml:"allow_anonymous"`
	PurgeSchedule  *string        `yaml:"purge_schedule"`
	PurgeRetention *time.Duration `yaml:"purge_retention"`
}

// LoadConfig loads configuration from environment variables, then applies
// the overlay named by TRELLIS_CONFIG_FILE when set.
func LoadConfig() (*Config, error) {
	return Load(os.Getenv("TRELLIS_CONFIG_FILE"))
}

// Load is LoadConfig with an explicit overlay path. An empty path skips the
// overlay.
func Load(overlayPath string) (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
		Access:        loadAccessConfig(),
		Purge:         loadPurgeConfig(),
	}

	if overlayPath != "" {
		overlay, err := ReadOverlay(overlayPath)
		if err != nil {
			return nil, err
		}
		cfg.Apply(overlay)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// ReadOverlay parses the YAML overlay at path.
func ReadOverlay(path string) (*Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var overlay Overlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &overlay, nil
}

// Apply copies the fields set in o onto c.
func (c *Config) Apply(o *Overlay) {
	if o == nil {
		return
	}
	if o.LogLevel != nil {
		c.Observability.LogLevel = observability.ParseLogLevel(*o.LogLevel)
	}
	if o.CacheMode != nil {
		c.Storage.CacheMode = storage.CacheMode(*o.CacheMode)
	}
	if o.CacheTTL != nil {
		c.Storage.CacheTTL = *o.CacheTTL
	}
	if o.AllowAnonymous != nil {
		c.Access.AllowAnonymous = *o.AllowAnonymous
	}
	if o.PurgeSchedule != nil {
		c.Purge.Schedule = *o.PurgeSchedule
	}
	if o.PurgeRetention != nil {
		c.Purge.Retention = *o.PurgeRetention
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TRELLIS_HOST", "0.0.0.0"),
		Port:            getEnv("TRELLIS_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TRELLIS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TRELLIS_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TRELLIS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TRELLIS_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    int64(getEnvInt("TRELLIS_MAX_BODY_BYTES", 1<<20)),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.PostgresURL = getEnv("TRELLIS_POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresReplicaURLs = getEnv("TRELLIS_POSTGRES_REPLICA_URLS", cfg.PostgresReplicaURLs)
	if n := getEnvInt("TRELLIS_POSTGRES_MAX_CONNS", 0); n > 0 {
		cfg.PostgresMaxConns = n
	}
	if n := getEnvInt("TRELLIS_POSTGRES_MIN_CONNS", 0); n > 0 {
		cfg.PostgresMinConns = n
	}
	cfg.PostgresTimeout = getEnvDuration("TRELLIS_POSTGRES_TIMEOUT", cfg.PostgresTimeout)

	cfg.RedisURL = getEnv("TRELLIS_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("TRELLIS_REDIS_PASSWORD", cfg.RedisPassword)
	if db := getEnvInt("TRELLIS_REDIS_DB", -1); db >= 0 {
		cfg.RedisDB = db
	}
	if n := getEnvInt("TRELLIS_REDIS_MAX_RETRIES", 0); n > 0 {
		cfg.RedisMaxRetries = n
	}
	if n := getEnvInt("TRELLIS_REDIS_POOL_SIZE", 0); n > 0 {
		cfg.RedisPoolSize = n
	}

	cfg.CacheMode = storage.CacheMode(strings.ToLower(getEnv("TRELLIS_CACHE_MODE", string(cfg.CacheMode))))
	cfg.CacheTTL = getEnvDuration("TRELLIS_CACHE_TTL", cfg.CacheTTL)
	if n := getEnvInt("TRELLIS_CACHE_SIZE", 0); n > 0 {
		cfg.CacheSize = n
	}

	cfg.S3Endpoint = getEnv("TRELLIS_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("TRELLIS_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("TRELLIS_S3_BUCKET", cfg.S3Bucket)
	cfg.S3Prefix = getEnv("TRELLIS_S3_PREFIX", cfg.S3Prefix)
	cfg.S3AccessKey = getEnv("TRELLIS_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("TRELLIS_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3ForcePathStyle = getEnvBool("TRELLIS_S3_FORCE_PATH_STYLE", cfg.S3ForcePathStyle)

	return cfg
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TRELLIS_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TRELLIS_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TRELLIS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TRELLIS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TRELLIS_OTEL_SERVICE_NAME", "trellis"),
		OTelServiceVersion: getEnv("TRELLIS_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TRELLIS_OTEL_INSECURE", true),
	}
}

func loadAccessConfig() AccessConfig {
	return AccessConfig{
		AllowAnonymous: getEnvBool("TRELLIS_ALLOW_ANONYMOUS", true),
		AuditTimeout:   getEnvDuration("TRELLIS_AUDIT_TIMEOUT", 5*time.Second),
	}
}

func loadPurgeConfig() PurgeConfig {
	return PurgeConfig{
		Schedule:  getEnv("TRELLIS_PURGE_SCHEDULE", "0 3 * * *"),
		Retention: getEnvDuration("TRELLIS_PURGE_RETENTION", softdelete.DefaultRetention),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	if c.Purge.Retention <= 0 {
		return fmt.Errorf("purge retention must be positive")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
