// Package config defines the metastore-server configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: validation (addresses, backend settings, retention bounds)
//   - sanitize.go: copy with secrets masked for logging
//
// Configuration is loaded via internal/infra/confloader from a YAML file,
// METASTORE_ environment variables and flags.
package config
