// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package cli implements the preflight-mcp commands and the composition root
// that wires config, logging, telemetry, the tool runtime and the routes.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	preflight "github.com/jommar/preflight-mcp"
	"github.com/jommar/preflight-mcp/internal/api"
	"github.com/jommar/preflight-mcp/internal/config"
	"github.com/jommar/preflight-mcp/internal/logging"
	"github.com/jommar/preflight-mcp/internal/system"
	"github.com/jommar/preflight-mcp/internal/tools"
	preflightotel "github.com/jommar/preflight-mcp/otel"
)

const instrumentationName = "github.com/jommar/preflight-mcp"

// app is everything a command needs. It is the only place tools are
// registered; nothing else mutates the registry.
type app struct {
	cfg        config.Config
	configPath string
	logger     *slog.Logger
	observer   preflight.Observer
	service    *system.Service
	runtime    *preflight.Runtime
}

// newApp loads config and builds the runtime with every tool registered.
// A build version replaces the config's default "dev" version.
func newApp(cmd *cobra.Command, stderr io.Writer, version string) (*app, error) {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	if cfg.Server.Version == config.Default().Server.Version && version != "" {
		cfg.Server.Version = version
	}

	logger, err := logging.New(stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	if path != "" {
		logger.Debug("loaded config", "path", path)
	}

	observer, err := preflightotel.NewDispatchObserver(
		otelapi.GetMeterProvider().Meter(instrumentationName),
		otelapi.GetTracerProvider().Tracer(instrumentationName),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing dispatch observability: %w", err)
	}

	svc := system.New(time.Now)
	rt := preflight.New(&preflight.Implementation{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, &preflight.Options{
		Logger:      logger,
		Observer:    observer,
		CallTimeout: cfg.CallTimeout,
	})
	if err := tools.Register(rt, svc, tools.Config{DefaultTimezone: cfg.DefaultTimezone}); err != nil {
		return nil, exitError(exitConfig, "registering tools: %v", err)
	}
	if err := rt.AddToolCatalog(); err != nil {
		return nil, exitError(exitConfig, "registering tool catalog: %v", err)
	}

	return &app{
		cfg:        cfg,
		configPath: path,
		logger:     logger,
		observer:   observer,
		service:    svc,
		runtime:    rt,
	}, nil
}

// routes builds the secondary HTTP route layer over the same service.
func (a *app) routes() (*api.Server, error) {
	return api.NewServer(api.ServerConfig{
		Service:         a.service,
		DefaultTimezone: a.cfg.DefaultTimezone,
		Logger:          a.logger,
		Observer:        a.observer,
	})
}

// loadConfig resolves the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	explicit, _ := cmd.Flags().GetString("config")
	cfg, path, err := config.Load(explicit)
	if err != nil {
		return config.Config{}, "", err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("timezone") {
		cfg.DefaultTimezone, _ = flags.GetString("timezone")
	}
	if f := flags.Lookup("http-addr"); f != nil && f.Changed {
		cfg.HTTP.Addr = f.Value.String()
	}
	if f := flags.Lookup("call-timeout"); f != nil && f.Changed {
		cfg.CallTimeout, _ = flags.GetDuration("call-timeout")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, "", err
	}
	return cfg, path, nil
}
