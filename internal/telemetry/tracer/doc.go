// Package tracer provides OpenTelemetry tracing for the metastore server.
//
//   - otel.go: provider setup (OTLP gRPC exporter, sampler, resource)
//   - span.go: span helpers used by the storage layer
//
// When tracing is disabled every helper falls back to a no-op tracer, so
// storage code can create spans unconditionally.
package tracer
