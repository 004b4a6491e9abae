// Package config loads and validates application configuration.
//
// Configuration comes from three layers, lowest precedence first:
// built-in defaults, an optional YAML file, and RETROFIT_* environment
// variables. The file path is passed to Load directly or read from
// RETROFIT_CONFIG_FILE.
//
// Server settings:
//
//	RETROFIT_HOST="0.0.0.0"
//	RETROFIT_PORT="8080"
//	RETROFIT_HEALTH_PORT="9090"
//	RETROFIT_READ_TIMEOUT="15s"
//	RETROFIT_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	RETROFIT_DB_TYPE="postgres"  # memory, postgres
//	RETROFIT_POSTGRES_URL="postgres://localhost/retrofit"
//	RETROFIT_POSTGRES_MAX_CONNS="20"
//
// Redis settings:
//
//	RETROFIT_REDIS_ENABLED="true"
//	RETROFIT_REDIS_ADDR="localhost:6379"
//
// Blob storage settings for assessment images:
//
//	RETROFIT_BLOB_TYPE="s3"  # filesystem, s3
//	RETROFIT_BLOB_ROOT="/var/lib/retrofit/images"
//	RETROFIT_S3_BUCKET="retrofit-images"
//	RETROFIT_S3_REGION="us-east-1"
//
// Observability settings:
//
//	RETROFIT_LOG_LEVEL="info"  # debug, info, warn, error
//	RETROFIT_LOG_FORMAT="json"  # json, text
//	RETROFIT_METRICS_ENABLED="true"
//	RETROFIT_OTEL_ENABLED="true"
//	RETROFIT_OTEL_ENDPOINT="otel-collector:4317"
//
// Watcher reloads the YAML file on change via fsnotify, so log levels
// and token tables can be adjusted without a restart.
package config
