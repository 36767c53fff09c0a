package config

import "strings"

// Sanitize returns a copy of the config with sensitive fields masked.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg
	sanitized.Admin.AllowList = append([]string(nil), cfg.Admin.AllowList...)

	sanitized.Admin.Token = maskSecret(sanitized.Admin.Token)
	sanitized.Remote.S3.SecretAccessKey = maskSecret(sanitized.Remote.S3.SecretAccessKey)
	sanitized.Storage.Encryption.Key = maskSecret(sanitized.Storage.Encryption.Key)
	sanitized.Storage.Encryption.Passphrase = maskSecret(sanitized.Storage.Encryption.Passphrase)

	return &sanitized
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
