// Package config holds the metastore-cli configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultServer is the server address used when none is configured.
const DefaultServer = "127.0.0.1:7480"

// ErrUnknownKey is returned by Set and Get for an unsupported key.
var ErrUnknownKey = errors.New("config: unknown key")

// CLIConfig is the configuration for metastore-cli.
type CLIConfig struct {
	Server   string `json:"server" yaml:"server"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`
	Output   string `json:"output" yaml:"output"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
	Insecure bool   `json:"insecure,omitempty" yaml:"insecure,omitempty"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Server: DefaultServer,
		Output: "table",
	}
}

// DefaultPath returns ~/.metastore/cli.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".metastore", "cli.yaml")
	}
	return filepath.Join(home, ".metastore", "cli.yaml")
}

// Load reads the configuration at path. A missing file yields Default.
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cli config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse cli config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path with mode 0600.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create cli config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode cli config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cli config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write cli config: %w", err)
	}
	return nil
}

// Keys returns the settable keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var setters = map[string]func(*CLIConfig, string) error{
	"server": func(c *CLIConfig, v string) error { c.Server = v; return nil },
	"token":  func(c *CLIConfig, v string) error { c.Token = v; return nil },
	"output": func(c *CLIConfig, v string) error {
		switch v {
		case "table", "json", "yaml":
			c.Output = v
			return nil
		}
		return fmt.Errorf("config: invalid output %q", v)
	},
	"ca_file": func(c *CLIConfig, v string) error { c.CAFile = v; return nil },
	"insecure": func(c *CLIConfig, v string) error {
		switch v {
		case "true":
			c.Insecure = true
		case "false":
			c.Insecure = false
		default:
			return fmt.Errorf("config: invalid bool %q", v)
		}
		return nil
	},
}

// Set assigns key from its string form.
func (c *CLIConfig) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return set(c, value)
}

// Masked returns a copy with the token hidden.
func (c *CLIConfig) Masked() *CLIConfig {
	out := *c
	if out.Token != "" {
		out.Token = "******"
	}
	return &out
}
