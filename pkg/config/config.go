package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML config files can use
// human-readable values like "15s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration
	Redis RedisConfig `yaml:"redis"`

	// Blob storage configuration for assessment images
	Blob BlobConfig `yaml:"blob"`

	// Auth configuration
	Auth AuthConfig `yaml:"auth"`

	// Janitor configuration
	Janitor JanitorConfig `yaml:"janitor"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            string   `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds persistent store configuration.
type DatabaseConfig struct {
	// Type selects the backing store: memory or postgres.
	Type string `yaml:"type"`

	PostgresURL      string   `yaml:"postgres_url"`
	PostgresMaxConns int      `yaml:"postgres_max_conns"`
	PostgresMinConns int      `yaml:"postgres_min_conns"`
	PostgresTimeout  Duration `yaml:"postgres_timeout"`
}

// RedisConfig holds the optional redis cache configuration.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// BlobConfig holds image blob storage configuration.
type BlobConfig struct {
	// Type selects the blob backend: filesystem or s3.
	Type string `yaml:"type"`

	FilesystemRoot string `yaml:"filesystem_root"`

	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
}

// AuthConfig holds principal authentication configuration.
type AuthConfig struct {
	// TokenFile points at a YAML file mapping bearer tokens to
	// principal IDs. Empty means no static tokens are loaded.
	TokenFile string `yaml:"token_file"`

	// Tokens maps bearer tokens to principal IDs inline. Merged
	// over the token file when both are set.
	Tokens map[string]string `yaml:"tokens"`
}

// JanitorConfig holds background sweep configuration.
type JanitorConfig struct {
	// Schedule is a cron expression for the consistency sweep.
	Schedule string `yaml:"schedule"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// DefaultConfig returns a configuration populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			Type:             "memory",
			PostgresMaxConns: 20,
			PostgresMinConns: 2,
			PostgresTimeout:  Duration(5 * time.Second),
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Blob: BlobConfig{
			Type:           "filesystem",
			FilesystemRoot: "/var/lib/retrofit/images",
			S3Region:       "us-east-1",
		},
		Janitor: JanitorConfig{
			Schedule: "*/15 * * * *",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			MetricsEnabled:     true,
			OTelEnabled:        false,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "retrofit",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and environment variables, in that order of precedence (env wins).
// The file path comes from RETROFIT_CONFIG_FILE when path is empty.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("RETROFIT_CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile merges YAML file contents over the current configuration.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// loadEnv merges environment variables over the current configuration.
func (c *Config) loadEnv() {
	// Server
	c.Server.Host = getEnv("RETROFIT_HOST", c.Server.Host)
	c.Server.Port = getEnv("RETROFIT_PORT", c.Server.Port)
	c.Server.HealthPort = getEnv("RETROFIT_HEALTH_PORT", c.Server.HealthPort)
	c.Server.ReadTimeout = getEnvDuration("RETROFIT_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("RETROFIT_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("RETROFIT_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("RETROFIT_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	// Database
	c.Database.Type = getEnv("RETROFIT_DB_TYPE", c.Database.Type)
	c.Database.PostgresURL = getEnv("RETROFIT_POSTGRES_URL", c.Database.PostgresURL)
	c.Database.PostgresMaxConns = getEnvInt("RETROFIT_POSTGRES_MAX_CONNS", c.Database.PostgresMaxConns)
	c.Database.PostgresMinConns = getEnvInt("RETROFIT_POSTGRES_MIN_CONNS", c.Database.PostgresMinConns)
	c.Database.PostgresTimeout = getEnvDuration("RETROFIT_POSTGRES_TIMEOUT", c.Database.PostgresTimeout)

	// Redis
	c.Redis.Enabled = getEnvBool("RETROFIT_REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnv("RETROFIT_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("RETROFIT_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("RETROFIT_REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvInt("RETROFIT_REDIS_POOL_SIZE", c.Redis.PoolSize)

	// Blob storage
	c.Blob.Type = getEnv("RETROFIT_BLOB_TYPE", c.Blob.Type)
	c.Blob.FilesystemRoot = getEnv("RETROFIT_BLOB_ROOT", c.Blob.FilesystemRoot)
	c.Blob.S3Endpoint = getEnv("RETROFIT_S3_ENDPOINT", c.Blob.S3Endpoint)
	c.Blob.S3Region = getEnv("RETROFIT_S3_REGION", c.Blob.S3Region)
	c.Blob.S3Bucket = getEnv("RETROFIT_S3_BUCKET", c.Blob.S3Bucket)
	c.Blob.S3AccessKey = getEnv("RETROFIT_S3_ACCESS_KEY", c.Blob.S3AccessKey)
	c.Blob.S3SecretKey = getEnv("RETROFIT_S3_SECRET_KEY", c.Blob.S3SecretKey)
	c.Blob.S3UsePathStyle = getEnvBool("RETROFIT_S3_USE_PATH_STYLE", c.Blob.S3UsePathStyle)

	// Auth
	c.Auth.TokenFile = getEnv("RETROFIT_AUTH_TOKEN_FILE", c.Auth.TokenFile)

	// Janitor
	c.Janitor.Schedule = getEnv("RETROFIT_JANITOR_SCHEDULE", c.Janitor.Schedule)

	// Observability
	c.Observability.LogLevel = getEnv("RETROFIT_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = getEnv("RETROFIT_LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsEnabled = getEnvBool("RETROFIT_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("RETROFIT_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("RETROFIT_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("RETROFIT_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("RETROFIT_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("RETROFIT_OTEL_INSECURE", c.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate database config based on type
	switch c.Database.Type {
	case "memory":
		// No further settings required.
	case "postgres":
		if c.Database.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres database")
		}
	default:
		return fmt.Errorf("invalid database type: %s (must be memory or postgres)", c.Database.Type)
	}

	// Validate blob config based on type
	switch c.Blob.Type {
	case "filesystem":
		if c.Blob.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem blob storage")
		}
	case "s3":
		if c.Blob.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 blob storage")
		}
		if c.Blob.S3Region == "" {
			return fmt.Errorf("S3 region is required for s3 blob storage")
		}
	default:
		return fmt.Errorf("invalid blob storage type: %s (must be filesystem or s3)", c.Blob.Type)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
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
func getEnvDuration(key string, defaultValue Duration) Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return Duration(duration)
		}
	}
	return defaultValue
}
