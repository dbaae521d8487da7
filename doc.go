// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package preflight exposes named, schema-validated tools over MCP and
// returns a uniformly-shaped [Envelope] for every invocation.
//
// preflight wraps the official MCP Go SDK (github.com/modelcontextprotocol/go-sdk).
// A tool is registered once and can then be dispatched either directly as a
// library call or by an MCP client over stdio, HTTP or an in-memory session.
// Both paths run the same lookup, validation, execution and wrapping, so a
// client sees the same envelope either way.
//
// # Envelopes
//
// Every invocation, successful or not, produces:
//
//	{"ok": true,  "data": {...}, "meta": {"ts": "2025-01-02T03:04:05.000Z"}, "error": null}
//	{"ok": false, "data": null,  "meta": {"ts": "..."},                      "error": "tool not found: x.y"}
//
// [Success] and [Failure] build envelopes. Transports serialize them; the
// codec never does.
//
// # Registering tools
//
// Tool names are dot-namespaced ("system.ping") and unique. Parameters are
// declared as [Params]; validation happens before the handler runs, and an
// invalid call never reaches it.
//
//	type EchoInput struct {
//		Text *string `json:"text"`
//	}
//
//	rt := preflight.New(&mcp.Implementation{Name: "demo", Version: "v1.0.0"}, nil)
//	preflight.AddTool(rt, preflight.ToolSpec{
//		Name:   "demo.echo",
//		Params: preflight.Params{{Name: "text", Type: preflight.TypeString}},
//	}, func(ctx context.Context, in EchoInput) (EchoInput, error) {
//		return in, nil
//	})
//
//	// Library mode
//	env := rt.Dispatch(ctx, "demo.echo", map[string]any{"text": "hi"})
//
//	// Server mode
//	err := rt.ServeStdio(ctx)
//
// # Errors
//
// Unknown tools, invalid parameters and handler failures (including panics)
// all become failure envelopes carrying a [ToolError] message. Nothing a
// handler does can drop the client connection.
//
// # Transports
//
//   - [Runtime.Serve] / [Runtime.ServeStdio] for line-oriented stdio
//   - [Runtime.HTTPHandler] for streamable HTTP
//   - [Runtime.InMemorySession] for tests
//   - [Runtime.MCPServer] to access the underlying mcp.Server directly
package preflight
