// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package preflight

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes carried by ToolError.
const (
	// CodeValidation marks bad or missing tool parameters.
	CodeValidation = "VALIDATION_ERROR"
	// CodeNotFound marks an unknown tool name.
	CodeNotFound = "NOT_FOUND"
	// CodeExecution marks a failure raised by a tool handler.
	CodeExecution = "EXECUTION_ERROR"
	// CodeTransport marks connection or protocol failures. The registry never
	// produces it; transports may.
	CodeTransport = "TRANSPORT_ERROR"
)

// ErrToolNotFound is returned when attempting to call a tool that doesn't exist.
var ErrToolNotFound = errors.New("tool not found")

// ErrResourceNotFound is returned when attempting to read a resource that doesn't exist.
var ErrResourceNotFound = errors.New("resource not found")

// ErrDuplicateTool is returned when a tool name is registered twice.
var ErrDuplicateTool = errors.New("tool already registered")

// ErrInvalidToolName is returned when a tool name is not dot-namespaced.
var ErrInvalidToolName = errors.New("invalid tool name")

// ErrRegistrySealed is returned when registering after the runtime was sealed.
var ErrRegistrySealed = errors.New("registry sealed")

// ToolError is a structured dispatch failure. Message is what the client sees;
// Cause is kept for logs and errors.Is/errors.As.
type ToolError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

// NewToolError builds a ToolError. An empty message falls back to the cause.
func NewToolError(code, message string, cause error) *ToolError {
	code = strings.TrimSpace(code)
	if code == "" {
		code = CodeExecution
	}
	message = strings.TrimSpace(message)
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Code: code, Message: message, Cause: cause}
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message == "":
		return e.Code
	case e.Code == "":
		return e.Message
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// UserMessage renders the message placed in a failure Envelope.
func (e *ToolError) UserMessage() string {
	if e == nil {
		return unknownErrorMessage
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return unknownErrorMessage
}

// CodeOf returns the ToolError code found in err's chain, or "" if none.
func CodeOf(err error) string {
	var te *ToolError
	if errors.As(err, &te) && te != nil {
		return te.Code
	}
	return ""
}

func notFoundError(name string) *ToolError {
	return &ToolError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s: %s", ErrToolNotFound, name),
		Cause:   ErrToolNotFound,
		Details: map[string]any{"tool": name},
	}
}

func validationError(format string, args ...any) *ToolError {
	return &ToolError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// executionError converts anything a handler raised into a ToolError. Handlers
// that already return a ToolError keep their code.
func executionError(err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) && te != nil {
		return te
	}
	return NewToolError(CodeExecution, MessageOf(err), err)
}
