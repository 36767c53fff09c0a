// Package logger builds the process-wide slog logger.
//
//   - logger.go: handler construction and the dynamic level
//   - context.go: request and trace id propagation
//   - redact.go: masking of credentials in attributes
package logger
