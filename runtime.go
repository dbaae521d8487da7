// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package preflight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Implementation is an alias for the MCP SDK's server identity.
type Implementation = mcp.Implementation

// Runtime is the core type for preflight. It owns the tool registry, wraps an
// MCP Server for transport-based dispatch, and dispatches tools directly in
// library mode.
//
// A Runtime should be created with [New], have its tools registered, and then
// be served. Serving seals the registry; it is read-only from then on.
type Runtime struct {
	server   *mcp.Server
	impl     *mcp.Implementation
	opts     *Options
	logger   *slog.Logger
	codec    Codec
	observer Observer

	mu        sync.RWMutex
	sealed    bool
	tools     map[string]toolEntry
	resources map[string]resourceEntry
}

// toolEntry holds a registered tool and its compiled parameter validator.
type toolEntry struct {
	desc      ToolDescriptor
	tool      *mcp.Tool
	validator *validator
}

// resourceEntry holds a resource and its handler for direct invocation.
type resourceEntry struct {
	resource *mcp.Resource
	handler  mcp.ResourceHandler
}

// Options configures a Runtime.
type Options struct {
	// Logger for runtime activity. If nil, slog.Default is used.
	Logger *slog.Logger

	// Observer receives one observation per invocation. May be nil.
	Observer Observer

	// Now overrides the envelope clock. Tests only.
	Now func() time.Time

	// CallTimeout bounds each tool call arriving over MCP. Zero means no
	// timeout. Library-mode Dispatch is never bounded.
	CallTimeout time.Duration

	// ServerOptions are passed directly to the underlying mcp.Server.
	ServerOptions *mcp.ServerOptions
}

// New creates a new Runtime with the given implementation info and options.
//
// The implementation parameter must not be nil and describes the server
// identity reported to MCP clients. The options parameter may be nil.
func New(impl *mcp.Implementation, opts *Options) *Runtime {
	if impl == nil {
		panic("preflight: nil Implementation")
	}
	if opts == nil {
		opts = &Options{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runtime{
		server:    mcp.NewServer(impl, opts.ServerOptions),
		impl:      impl,
		opts:      opts,
		logger:    logger,
		codec:     Codec{Now: opts.Now},
		observer:  opts.Observer,
		tools:     make(map[string]toolEntry),
		resources: make(map[string]resourceEntry),
	}
	r.server.AddReceivingMiddleware(r.unknownToolMiddleware)
	return r
}

// MCPServer returns the underlying mcp.Server.
//
// Tools must be registered through the Runtime. A tools/call naming anything
// outside the registry, including tools added to the mcp.Server directly, is
// answered with a not-found envelope.
func (r *Runtime) MCPServer() *mcp.Server {
	return r.server
}

// Implementation returns the server's implementation info.
func (r *Runtime) Implementation() *mcp.Implementation {
	return r.impl
}

// Seal makes the registry read-only. It is idempotent.
func (r *Runtime) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether the registry is read-only.
func (r *Runtime) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// InvocationRequest is one call of a tool by name. It lives for a single call.
type InvocationRequest struct {
	ToolName   string
	Parameters map[string]any
	// Transport labels the caller in observations; empty means library mode.
	Transport string

	// raw holds undecoded wire arguments; when set it replaces Parameters.
	raw json.RawMessage
}

// Dispatch invokes a tool by name in library mode.
//
// Dispatch never panics and never returns a Go error: every outcome,
// including an unknown tool name, bad parameters or a failing handler, is a
// failure Envelope.
func (r *Runtime) Dispatch(ctx context.Context, name string, params map[string]any) Envelope {
	return r.Invoke(ctx, InvocationRequest{ToolName: name, Parameters: params})
}

// Invoke runs req end-to-end: lookup, validation, execution, wrapping.
func (r *Runtime) Invoke(ctx context.Context, req InvocationRequest) Envelope {
	start := time.Now()
	env, outcome, code := r.invoke(ctx, req)

	transport := req.Transport
	if transport == "" {
		transport = TransportLibrary
	}
	obs := DispatchObservation{
		ToolName:  req.ToolName,
		Transport: transport,
		Outcome:   outcome,
		Duration:  time.Since(start),
	}
	if !env.OK {
		obs.ErrorCode = code
		if obs.ErrorCode == "" {
			obs.ErrorCode = errorCodeFor(outcome)
		}
	}
	r.observe(obs)
	return env
}

// invoke returns the envelope, the outcome and, on failure, the code of the
// ToolError behind it.
func (r *Runtime) invoke(ctx context.Context, req InvocationRequest) (Envelope, Outcome, string) {
	r.mu.RLock()
	entry, ok := r.tools[req.ToolName]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("tool not found", "tool", req.ToolName)
		return r.codec.Failure(notFoundError(req.ToolName), nil), OutcomeNotFound, CodeNotFound
	}

	params := req.Parameters
	if req.raw != nil {
		decoded, err := decodeArguments(req.raw)
		if err != nil {
			return r.codec.Failure(err, nil), OutcomeValidationFailed, CodeValidation
		}
		params = decoded
	}

	validated, err := entry.validator.validate(params)
	if err != nil {
		r.logger.Debug("tool parameters rejected", "tool", req.ToolName, "error", err)
		return r.codec.Failure(err, nil), OutcomeValidationFailed, CodeOf(err)
	}

	data, err := r.execute(ctx, entry, validated)
	if err != nil {
		r.logger.Debug("tool failed", "tool", req.ToolName, "error", err)
		te := executionError(err)
		return r.codec.Failure(te, nil), OutcomeExecutionFailed, te.Code
	}
	return r.codec.Success(data, nil), OutcomeSucceeded, ""
}

// execute runs the handler, converting a panic into an execution error.
func (r *Runtime) execute(ctx context.Context, entry toolEntry, params map[string]any) (data any, err error) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("tool handler panicked",
				"tool", entry.desc.Name,
				"panic", v,
				"stack", string(debug.Stack()))
			data = nil
			err = NewToolError(CodeExecution,
				fmt.Sprintf("internal error in %s", entry.desc.Name),
				fmt.Errorf("panic: %v", v))
		}
	}()
	return entry.desc.Handler(ctx, params)
}

func (r *Runtime) observe(o DispatchObservation) {
	if r.observer == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			r.logger.Warn("observer panicked", "tool", o.ToolName, "panic", v)
		}
	}()
	r.observer.ObserveDispatch(o)
}

func errorCodeFor(o Outcome) string {
	switch o {
	case OutcomeNotFound:
		return CodeNotFound
	case OutcomeValidationFailed:
		return CodeValidation
	default:
		return CodeExecution
	}
}

// ReadResource reads a resource by URI.
//
// This is the library-mode entry point for resource reading. It bypasses
// MCP JSON-RPC transport and directly invokes the resource handler.
//
// Returns ErrResourceNotFound if no resource with the given URI exists.
func (r *Runtime) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	r.mu.RLock()
	entry, ok := r.resources[uri]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
	}

	req := &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{
			URI: uri,
		},
	}

	return entry.handler(ctx, req)
}

// ListTools returns all registered tools sorted by name.
func (r *Runtime) ListTools() []*mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*mcp.Tool, 0, len(r.tools))
	for _, entry := range r.tools {
		tools = append(tools, entry.tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// ListResources returns all registered resources.
func (r *Runtime) ListResources() []*mcp.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resources := make([]*mcp.Resource, 0, len(r.resources))
	for _, entry := range r.resources {
		resources = append(resources, entry.resource)
	}
	return resources
}
