package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, Duration(15*time.Second), cfg.Server.ReadTimeout)
	assert.Equal(t, "memory", cfg.Database.Type)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "filesystem", cfg.Blob.Type)
	assert.Equal(t, "json", cfg.Observability.LogFormat)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RETROFIT_PORT", "7070")
	t.Setenv("RETROFIT_DB_TYPE", "postgres")
	t.Setenv("RETROFIT_POSTGRES_URL", "postgres://localhost/retrofit_test")
	t.Setenv("RETROFIT_POSTGRES_MAX_CONNS", "42")
	t.Setenv("RETROFIT_REDIS_ENABLED", "true")
	t.Setenv("RETROFIT_REDIS_ADDR", "cache:6379")
	t.Setenv("RETROFIT_READ_TIMEOUT", "45s")
	t.Setenv("RETROFIT_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "postgres://localhost/retrofit_test", cfg.Database.PostgresURL)
	assert.Equal(t, 42, cfg.Database.PostgresMaxConns)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, Duration(45*time.Second), cfg.Server.ReadTimeout)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: "6060"
  read_timeout: 5s
database:
  type: postgres
  postgres_url: postgres://db/retrofit
blob:
  type: s3
  s3_bucket: retrofit-images
  s3_region: eu-west-1
auth:
  tokens:
    tok-alice: alice
observability:
  log_level: warn
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "6060", cfg.Server.Port)
	assert.Equal(t, Duration(5*time.Second), cfg.Server.ReadTimeout)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "s3", cfg.Blob.Type)
	assert.Equal(t, "retrofit-images", cfg.Blob.S3Bucket)
	assert.Equal(t, "eu-west-1", cfg.Blob.S3Region)
	assert.Equal(t, map[string]string{"tok-alice": "alice"}, cfg.Auth.Tokens)
	assert.Equal(t, "warn", cfg.Observability.LogLevel)

	// Untouched sections keep their defaults.
	assert.Equal(t, "9090", cfg.Server.HealthPort)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: "6060"
`)
	t.Setenv("RETROFIT_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing server port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "port collision with health port",
			mutate:  func(c *Config) { c.Server.HealthPort = c.Server.Port },
			wantErr: "must be different",
		},
		{
			name:    "postgres without URL",
			mutate:  func(c *Config) { c.Database.Type = "postgres" },
			wantErr: "postgres URL is required",
		},
		{
			name:    "unknown database type",
			mutate:  func(c *Config) { c.Database.Type = "cassandra" },
			wantErr: "invalid database type",
		},
		{
			name:    "filesystem blob without root",
			mutate:  func(c *Config) { c.Blob.FilesystemRoot = "" },
			wantErr: "filesystem root is required",
		},
		{
			name: "s3 blob without bucket",
			mutate: func(c *Config) {
				c.Blob.Type = "s3"
				c.Blob.S3Bucket = ""
			},
			wantErr: "S3 bucket is required",
		},
		{
			name: "otel enabled without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = ""
			},
			wantErr: "OpenTelemetry endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadTokens(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "tokens.yaml")
	require.NoError(t, os.WriteFile(tokenFile, []byte("tok-alice: alice\ntok-bob: bob\n"), 0o600))

	auth := AuthConfig{
		TokenFile: tokenFile,
		Tokens:    map[string]string{"tok-bob": "robert", "tok-carol": "carol"},
	}

	tokens, err := auth.LoadTokens()
	require.NoError(t, err)

	// Inline entries win over file entries.
	assert.Equal(t, map[string]string{
		"tok-alice": "alice",
		"tok-bob":   "robert",
		"tok-carol": "carol",
	}, tokens)
}

func TestLoadTokensMissingFile(t *testing.T) {
	auth := AuthConfig{TokenFile: filepath.Join(t.TempDir(), "absent.yaml")}
	_, err := auth.LoadTokens()
	require.Error(t, err)
}

func TestWatcherReload(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: "6060"
`)

	log := logrus.New()
	log.SetOutput(io.Discard)

	w, err := NewWatcher(path, log)
	require.NoError(t, err)
	defer w.Close()

	reloaded := make(chan *Config, 1)
	w.OnReload(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"6061\"\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "6061", cfg.Server.Port)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcherKeepsConfigOnBadFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: "6060"
`)

	log := logrus.New()
	log.SetOutput(io.Discard)

	w, err := NewWatcher(path, log)
	require.NoError(t, err)
	defer w.Close()

	called := make(chan struct{}, 1)
	w.OnReload(func(*Config) { called <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Invalid yaml must not reach the callbacks.
	require.NoError(t, os.WriteFile(path, []byte(":::not yaml"), 0o600))

	select {
	case <-called:
		t.Fatal("reload callback fired for invalid config")
	case <-time.After(500 * time.Millisecond):
	}
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}
