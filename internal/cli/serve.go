// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	preflight "github.com/jommar/preflight-mcp"
	"github.com/jommar/preflight-mcp/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tools over MCP stdio, and optionally HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, version)
		},
	}

	cmd.Flags().String("http-addr", "", "Also serve HTTP routes and MCP streamable HTTP on this address")
	cmd.Flags().Duration("call-timeout", 0, "Per-call timeout for MCP tool calls (0 disables)")
	cmd.Flags().Bool("no-stdio", false, "Do not serve MCP over stdio (requires --http-addr)")

	return cmd
}

func runServe(cmd *cobra.Command, version string) error {
	a, err := newApp(cmd, cmd.ErrOrStderr(), version)
	if err != nil {
		return err
	}
	noStdio, _ := cmd.Flags().GetBool("no-stdio")
	if noStdio && a.cfg.HTTP.Addr == "" {
		return exitError(exitConfig, "--no-stdio requires --http-addr")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       a.cfg.Telemetry.Endpoint,
		Insecure:       a.cfg.Telemetry.Insecure,
		ServiceName:    a.cfg.Server.Name,
		ServiceVersion: a.cfg.Server.Version,
	})
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			a.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	// Registration is over; nothing may change the registry from here on.
	a.runtime.Seal()

	errCh := make(chan error, 2)
	running := 0

	var httpServer *http.Server
	if a.cfg.HTTP.Addr != "" {
		routes, err := a.routes()
		if err != nil {
			return exitError(exitConfig, "%v", err)
		}
		mux := http.NewServeMux()
		routes.RegisterRoutes(mux)
		mux.Handle("/mcp", a.runtime.HTTPHandler(nil))

		httpServer = &http.Server{
			Addr:         a.cfg.HTTP.Addr,
			Handler:      routes.Wrap(mux),
			ReadTimeout:  a.cfg.HTTP.ReadTimeout,
			WriteTimeout: a.cfg.HTTP.WriteTimeout,
		}
		running++
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
				return
			}
			errCh <- nil
		}()
	}

	if noStdio {
		a.runtime.LogStartup(httpEndpoint(a.cfg.HTTP.Addr))
	} else {
		stdio := preflight.StdioTransport()
		if httpServer != nil {
			stdio.Also = []string{httpEndpoint(a.cfg.HTTP.Addr)}
		}
		running++
		go func() {
			errCh <- a.runtime.Serve(ctx, stdio)
		}()
	}

	// The first transport to finish ends the process.
	var firstErr error
	select {
	case firstErr = <-errCh:
		running--
	case <-ctx.Done():
	}
	stop()

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("http shutdown failed", "error", err)
		}
	}
	for ; running > 0; running-- {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return exitError(exitRuntime, "server error: %v", firstErr)
	}
	a.logger.Info("shut down")
	return nil
}

func httpEndpoint(addr string) string {
	return "http " + addr
}
