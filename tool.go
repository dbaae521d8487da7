// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HandlerFunc is the low-level tool handler. It receives validated, defaulted
// parameters, with numbers as json.Number, and returns JSON-encodable data or
// an error.
type HandlerFunc func(ctx context.Context, params map[string]any) (any, error)

// ToolDescriptor binds a unique tool name to its parameter contract and
// handler.
type ToolDescriptor struct {
	Name        string
	Description string
	Params      Params
	Handler     HandlerFunc
}

// ToolSpec is the metadata half of a ToolDescriptor, used by [AddTool].
type ToolSpec struct {
	Name        string
	Description string
	Params      Params
}

var toolNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*(\.[A-Za-z][A-Za-z0-9_-]*)+$`)

// Register adds a tool to the runtime.
//
// Registration fails if the name is not dot-namespaced (for example
// "system.ping"), the name is already taken, the parameter contract is
// malformed, or the runtime has been sealed. Re-registering a name never
// overwrites the existing tool.
func (r *Runtime) Register(desc ToolDescriptor) error {
	if !toolNamePattern.MatchString(desc.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidToolName, desc.Name)
	}
	if desc.Handler == nil {
		return fmt.Errorf("tool %q: nil handler", desc.Name)
	}
	v, err := newValidator(desc.Params)
	if err != nil {
		return fmt.Errorf("tool %q: %w", desc.Name, err)
	}
	t := &mcp.Tool{
		Name:        desc.Name,
		Description: desc.Description,
		InputSchema: v.schema,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register %q", ErrRegistrySealed, desc.Name)
	}
	if _, exists := r.tools[desc.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, desc.Name)
	}

	// Register with underlying MCP server
	r.server.AddTool(t, r.mcpHandler(desc.Name))

	r.tools[desc.Name] = toolEntry{desc: desc, tool: t, validator: v}
	r.logger.Debug("registered tool", "name", desc.Name, "params", len(desc.Params))
	return nil
}

// MustRegister is like Register but panics on error. Use it from composition
// roots where a bad registration must stop the process from starting.
func (r *Runtime) MustRegister(desc ToolDescriptor) {
	if err := r.Register(desc); err != nil {
		panic("preflight: " + err.Error())
	}
}

// RegisterTool adds a typed tool to the runtime.
//
// Validated parameters are decoded into In before h runs, and h's output
// becomes the envelope data. At registration time every declared Param must
// match a JSON field of In with a compatible type.
//
// Example:
//
//	type EchoInput struct {
//		Text *string `json:"text"`
//	}
//
//	err := preflight.RegisterTool(rt, preflight.ToolSpec{
//		Name:   "demo.echo",
//		Params: preflight.Params{{Name: "text", Type: preflight.TypeString}},
//	}, func(ctx context.Context, in EchoInput) (EchoInput, error) {
//		return in, nil
//	})
func RegisterTool[In, Out any](r *Runtime, spec ToolSpec, h func(context.Context, In) (Out, error)) error {
	if h == nil {
		return fmt.Errorf("tool %q: nil handler", spec.Name)
	}
	if err := checkShape[In](spec.Params); err != nil {
		return fmt.Errorf("tool %q: %w", spec.Name, err)
	}
	return r.Register(ToolDescriptor{
		Name:        spec.Name,
		Description: spec.Description,
		Params:      spec.Params,
		Handler:     wrapTypedHandler(h),
	})
}

// AddTool is like [RegisterTool] but panics on error, mirroring mcp.AddTool.
func AddTool[In, Out any](r *Runtime, spec ToolSpec, h func(context.Context, In) (Out, error)) {
	if err := RegisterTool(r, spec, h); err != nil {
		panic("preflight: " + err.Error())
	}
}

// wrapTypedHandler creates a low-level HandlerFunc from a typed handler.
func wrapTypedHandler[In, Out any](h func(context.Context, In) (Out, error)) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		var input In
		b, err := json.Marshal(params)
		if err == nil {
			err = json.Unmarshal(b, &input)
		}
		if err != nil {
			return nil, NewToolError(CodeValidation, "decoding parameters: "+err.Error(), err)
		}
		out, err := h(ctx, input)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// mcpHandler adapts a registered tool to the MCP SDK. The envelope is returned
// both as structured content and as JSON text; tool failures never surface
// as protocol errors.
func (r *Runtime) mcpHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if r.opts.CallTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.opts.CallTimeout)
			defer cancel()
		}

		logger := r.logger.With("tool", name, "call_id", uuid.NewString())
		logger.Debug("mcp tool call")

		raw := json.RawMessage("{}")
		if req != nil && req.Params != nil && req.Params.Arguments != nil {
			raw = req.Params.Arguments
		}
		env := r.Invoke(ctx, InvocationRequest{
			ToolName:  name,
			Transport: TransportMCP,
			raw:       raw,
		})
		if !env.OK && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Warn("tool call timed out", "timeout", r.opts.CallTimeout)
		}
		logger.Debug("mcp tool call finished", "ok", env.OK)
		return envelopeResult(env), nil
	}
}

// unknownToolMiddleware answers tools/call for names outside the registry
// with a not-found envelope, so MCP clients see the same result as library
// callers instead of a JSON-RPC error.
func (r *Runtime) unknownToolMiddleware(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		if method != "tools/call" {
			return next(ctx, method, req)
		}
		call, ok := req.(*mcp.CallToolRequest)
		if !ok || call.Params == nil || r.HasTool(call.Params.Name) {
			return next(ctx, method, req)
		}
		return envelopeResult(r.Invoke(ctx, InvocationRequest{
			ToolName:  call.Params.Name,
			Transport: TransportMCP,
			raw:       call.Params.Arguments,
		})), nil
	}
}

func envelopeResult(env Envelope) *mcp.CallToolResult {
	b := env.JSON()
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(b)}},
		StructuredContent: json.RawMessage(b),
		IsError:           !env.OK,
	}
}

// RemoveTools removes tools with the given names. It is a no-op once the
// runtime is sealed.
func (r *Runtime) RemoveTools(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		r.logger.Warn("ignoring tool removal on sealed registry", "tools", names)
		return
	}

	r.server.RemoveTools(names...)
	for _, name := range names {
		delete(r.tools, name)
	}
}

// HasTool reports whether a tool with the given name is registered.
func (r *Runtime) HasTool(name string) bool {
	r.mu.RLock()
	_, ok := r.tools[name]
	r.mu.RUnlock()
	return ok
}

// ToolCount returns the number of registered tools.
func (r *Runtime) ToolCount() int {
	r.mu.RLock()
	n := len(r.tools)
	r.mu.RUnlock()
	return n
}
