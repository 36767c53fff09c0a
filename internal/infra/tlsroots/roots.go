// Package tlsroots builds TLS configurations for the metastore HTTP API,
// the CLI and the S3 backend.
//
// Server certificates are hot-reloaded by Watcher; client configurations
// trust the system roots plus an optional PEM bundle.
package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

var (
	// ErrNoCertsFound is returned when no certificates are found in a PEM file.
	ErrNoCertsFound = errors.New("tlsroots: no certificates found in PEM file")

	// ErrMissingKeyPair is returned when TLS is enabled without cert or key.
	ErrMissingKeyPair = errors.New("tlsroots: cert_file and key_file are required")

	// ErrClientAuthWithoutCA is returned when client auth is requested
	// without a CA to verify client certificates.
	ErrClientAuthWithoutCA = errors.New("tlsroots: client_auth requires ca_file")
)

// Config configures server-side TLS.
type Config struct {
	Enabled    bool   `koanf:"enabled"`
	CertFile   string `koanf:"cert_file"`
	KeyFile    string `koanf:"key_file"`
	CAFile     string `koanf:"ca_file"`
	ClientAuth bool   `koanf:"client_auth"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return ErrMissingKeyPair
	}
	if c.ClientAuth && c.CAFile == "" {
		return ErrClientAuthWithoutCA
	}
	return nil
}

// Pool manages a pool of trusted root certificates.
type Pool struct {
	certPool *x509.CertPool
}

// NewPool creates a pool seeded with the system roots, or an empty pool
// where the system roots are unavailable.
func NewPool() *Pool {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	return &Pool{certPool: pool}
}

// NewEmptyPool creates a new empty certificate pool without system roots.
func NewEmptyPool() *Pool {
	return &Pool{certPool: x509.NewCertPool()}
}

// AddCertFile adds certificates from a PEM file.
func (p *Pool) AddCertFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read cert file %s: %w", path, err)
	}
	return p.AddCertPEM(data)
}

// AddCertPEM adds every CERTIFICATE block of pemData.
func (p *Pool) AddCertPEM(pemData []byte) error {
	added := 0
	for len(pemData) > 0 {
		var block *pem.Block
		block, pemData = pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		p.certPool.AddCert(cert)
		added++
	}
	if added == 0 {
		return ErrNoCertsFound
	}
	return nil
}

// Pool returns the underlying x509.CertPool.
func (p *Pool) Pool() *x509.CertPool {
	return p.certPool
}

// ClientConfig returns a client TLS config trusting the system roots and
// the certificates in caFile, if set.
func ClientConfig(caFile string, insecureSkipVerify bool) (*tls.Config, error) {
	pool := NewPool()
	if caFile != "" {
		if err := pool.AddCertFile(caFile); err != nil {
			return nil, err
		}
	}
	return &tls.Config{
		RootCAs:            pool.Pool(),
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecureSkipVerify, //nolint:gosec // opt-in for test clusters
	}, nil
}

// ServerConfig returns a server TLS config whose certificate is served by
// a started Watcher. The caller stops the watcher on shutdown. It returns
// nil values when TLS is disabled.
func ServerConfig(cfg Config, logger *slog.Logger) (*tls.Config, *Watcher, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	w, err := NewWatcher(cfg.CertFile, cfg.KeyFile, WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	tlsCfg := &tls.Config{
		GetCertificate: w.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	if cfg.ClientAuth {
		pool := NewEmptyPool()
		if err := pool.AddCertFile(cfg.CAFile); err != nil {
			return nil, nil, err
		}
		tlsCfg.ClientCAs = pool.Pool()
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	w.StartAsync()
	return tlsCfg, w, nil
}
