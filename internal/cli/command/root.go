// Package command provides the metastore-cli commands.
//
// Global settings resolve in order: flag, environment, the CLI config
// file, then built-in defaults.
package command

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/metastore-go/internal/cli/config"
	"github.com/yndnr/metastore-go/internal/cli/connection"
	"github.com/yndnr/metastore-go/internal/cli/output"
	"github.com/yndnr/metastore-go/internal/infra/buildinfo"
	"github.com/yndnr/metastore-go/internal/infra/tlsroots"
)

const cliConfigKey = "cliConfig"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "metastore-cli",
		Usage:   "metastore server management tool",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			KVCommand(),
			SnapshotCommand(),
			SystemCommand(),
			ConfigCommand(),
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if c.App.Metadata == nil {
				c.App.Metadata = make(map[string]any)
			}
			c.App.Metadata[cliConfigKey] = cfg
			return nil
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "server address (e.g. 127.0.0.1:7480 or https://host:7480)",
			EnvVars: []string{"METASTORE_SERVER"},
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "admin bearer token",
			EnvVars: []string{"METASTORE_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "show more columns",
		},
		&cli.StringFlag{
			Name:  "ca-file",
			Usage: "CA bundle used to verify the server certificate",
		},
		&cli.BoolFlag{
			Name:  "insecure",
			Usage: "skip server certificate verification",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "request timeout",
			Value: connection.DefaultTimeout,
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI config file",
			EnvVars: []string{"METASTORE_CLI_CONFIG"},
			Value:   config.DefaultPath(),
		},
	}
}

// GlobalFlags is the resolved global configuration.
type GlobalFlags struct {
	Server   string
	Token    string
	Output   string
	Wide     bool
	CAFile   string
	Insecure bool
	Timeout  time.Duration
}

// ParseGlobalFlags merges flags over the loaded CLI config.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	cfg, ok := c.App.Metadata[cliConfigKey].(*config.CLIConfig)
	if !ok {
		cfg = config.Default()
	}
	f := &GlobalFlags{
		Server:   cfg.Server,
		Token:    cfg.Token,
		Output:   cfg.Output,
		Wide:     c.Bool("wide"),
		CAFile:   cfg.CAFile,
		Insecure: cfg.Insecure,
		Timeout:  c.Duration("timeout"),
	}
	if c.IsSet("server") {
		f.Server = c.String("server")
	}
	if c.IsSet("token") {
		f.Token = c.String("token")
	}
	if c.IsSet("output") {
		f.Output = c.String("output")
	}
	if c.IsSet("ca-file") {
		f.CAFile = c.String("ca-file")
	}
	if c.IsSet("insecure") {
		f.Insecure = c.Bool("insecure")
	}
	return f
}

// NewClient creates an HTTP client from the global flags.
func NewClient(c *cli.Context) (*connection.HTTPClient, error) {
	flags := ParseGlobalFlags(c)
	opts := connection.Options{
		Server:  flags.Server,
		Token:   flags.Token,
		Timeout: flags.Timeout,
	}
	if flags.CAFile != "" || flags.Insecure || strings.HasPrefix(flags.Server, "https://") {
		tlsCfg, err := tlsroots.ClientConfig(flags.CAFile, flags.Insecure)
		if err != nil {
			return nil, fmt.Errorf("load ca file: %w", err)
		}
		opts.TLS = tlsCfg
	}
	return connection.NewHTTPClient(opts), nil
}

// requestContext bounds one command by the global timeout.
func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, ParseGlobalFlags(c).Timeout)
}

// render writes data in the selected output format.
func render(c *cli.Context, data any) error {
	flags := ParseGlobalFlags(c)
	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		return err
	}
	return output.NewFormatter(format, flags.Wide).Format(c.App.Writer, data)
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
