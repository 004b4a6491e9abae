// Package observability bundles the operational concerns shared by the
// binaries: structured logging, Prometheus metrics, OpenTelemetry
// tracing, health probes and graceful shutdown.
package observability
