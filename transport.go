// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// closeTimeout bounds how long Serve waits for a session to wind down after a
// graceful close.
const closeTimeout = 2 * time.Second

// Transport is a primary transport the runtime can be served over.
//
// SupportsGracefulClose states whether the session over this transport
// should be closed explicitly on shutdown. Transports without that
// capability are simply abandoned when the serving context ends.
type Transport struct {
	mcp.Transport
	Name                  string
	SupportsGracefulClose bool

	// Also names endpoints served next to this transport, such as an HTTP
	// listener. They are reported on the startup line.
	Also []string
}

// StdioTransport serves MCP over the process's stdin and stdout.
func StdioTransport() Transport {
	return Transport{
		Transport:             &mcp.StdioTransport{},
		Name:                  "stdio",
		SupportsGracefulClose: true,
	}
}

// InMemoryTransports returns a connected pair: a client transport and a
// server Transport for [Runtime.Serve].
func InMemoryTransports() (*mcp.InMemoryTransport, Transport) {
	client, server := mcp.NewInMemoryTransports()
	return client, Transport{
		Transport:             server,
		Name:                  "memory",
		SupportsGracefulClose: true,
	}
}

// Serve connects the runtime to t and blocks until the client disconnects or
// ctx is done. It seals the registry and logs a single startup line.
//
// A client disconnect returns nil. Context cancellation returns nil after a
// graceful close when t supports it.
func (r *Runtime) Serve(ctx context.Context, t Transport) error {
	if t.Transport == nil {
		return errors.New("preflight: nil transport")
	}
	r.Seal()

	session, err := r.server.Connect(ctx, t.Transport, nil)
	if err != nil {
		return NewToolError(CodeTransport, fmt.Sprintf("connecting %s transport", t.Name), err)
	}
	r.LogStartup(append([]string{t.Name}, t.Also...)...)

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
			return NewToolError(CodeTransport, fmt.Sprintf("%s session ended", t.Name), err)
		}
		r.logger.Info("client disconnected", "transport", t.Name)
		return nil
	case <-ctx.Done():
	}

	if !t.SupportsGracefulClose {
		return nil
	}
	r.logger.Info("closing session", "transport", t.Name)
	if err := session.Close(); err != nil {
		r.logger.Warn("closing session failed", "transport", t.Name, "error", err)
	}
	select {
	case <-done:
	case <-time.After(closeTimeout):
		r.logger.Warn("session did not finish after close", "transport", t.Name, "timeout", closeTimeout)
	}
	return nil
}

// LogStartup logs the single startup line naming where the server listens.
// Serve calls it; hosts that serve only HTTP call it themselves.
func (r *Runtime) LogStartup(endpoints ...string) {
	r.logger.Info(fmt.Sprintf("%s %s running on %s", r.impl.Name, r.impl.Version, strings.Join(endpoints, " and ")),
		"tools", r.ToolCount())
}

// ServeStdio is shorthand for Serve(ctx, StdioTransport()).
func (r *Runtime) ServeStdio(ctx context.Context) error {
	return r.Serve(ctx, StdioTransport())
}

// HTTPHandler returns an http.Handler serving MCP over the streamable HTTP
// transport. It seals the registry.
func (r *Runtime) HTTPHandler(opts *mcp.StreamableHTTPOptions) http.Handler {
	r.Seal()
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return r.server
	}, opts)
}

// InMemorySession connects an in-process MCP client to the runtime. It is
// meant for tests that check library mode and MCP mode behave identically.
// The caller closes the returned client session.
func (r *Runtime) InMemorySession(ctx context.Context) (*mcp.ServerSession, *mcp.ClientSession, error) {
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	serverSession, err := r.server.Connect(ctx, serverTransport, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting server: %w", err)
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    r.impl.Name + "-client",
		Version: r.impl.Version,
	}, nil)
	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		_ = serverSession.Close()
		return nil, nil, fmt.Errorf("connecting client: %w", err)
	}
	return serverSession, clientSession, nil
}
