// Package main is the entry point of metastore-server.
//
// metastore-server keeps the metastore and cachestore in local Badger
// engines, publishes them as snapshots plus WAL chunks to a remote object
// store, and bootstraps from the latest published snapshot on start.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/yndnr/metastore-go/internal/infra/buildinfo"
	"github.com/yndnr/metastore-go/internal/infra/confloader"
	"github.com/yndnr/metastore-go/internal/server/config"
	"github.com/yndnr/metastore-go/internal/telemetry/logger"
	"github.com/yndnr/metastore-go/pkg/token"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "path to configuration file")
		addr        = flag.String("addr", "", "HTTP listen address (overrides server.http.addr)")
		dataDir     = flag.String("data-dir", "", "local data directory (overrides storage.data_dir)")
		checkConfig = flag.Bool("check-config", false, "validate the configuration and exit")
		genToken    = flag.Bool("gen-admin-token", false, "print a new admin token and its admin.token_hash, then exit")
		showVersion = flag.Bool("version", false, "show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("metastore-server %s\n", buildinfo.String())
		return nil
	}

	if *genToken {
		tok, err := token.Generate()
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		fmt.Printf("token:      %s\ntoken_hash: %s\n", tok, token.Hash(tok))
		return nil
	}

	overrides := map[string]any{}
	if *addr != "" {
		overrides["server.http.addr"] = *addr
	}
	if *dataDir != "" {
		overrides["storage.data_dir"] = *dataDir
	}
	loader := confloader.NewLoader(
		confloader.WithConfigFile(*configFile),
		confloader.WithOverrides(overrides),
	)

	cfg, err := loadConfig(loader)
	if err != nil {
		return err
	}
	if *checkConfig {
		fmt.Println("configuration OK")
		return nil
	}

	log := logger.Setup(cfg.Log)
	info := buildinfo.Get()
	log.Info("starting metastore-server", "build", info, "config_file", loader.FilePath())
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	srv, err := newServer(ctx, cfg, loader, log)
	if err != nil {
		return err
	}
	if err := srv.start(cancel); err != nil {
		return errors.Join(err, srv.shutdown.Shutdown())
	}

	if err := srv.shutdown.Wait(ctx); err != nil {
		log.Error("shutdown finished with errors", "error", err)
		return err
	}
	log.Info("metastore-server stopped")
	return nil
}

// loadConfig reads defaults, the config file, env and flag overrides, then
// verifies the result.
func loadConfig(loader *confloader.Loader) (*config.ServerConfig, error) {
	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
