// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package preflight

import "time"

// Transport labels reported in observations.
const (
	TransportLibrary = "library"
	TransportMCP     = "mcp"
	TransportHTTP    = "http"
)

// Outcome is the terminal state of one invocation.
type Outcome string

const (
	OutcomeSucceeded        Outcome = "succeeded"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeValidationFailed Outcome = "validation_failed"
	OutcomeExecutionFailed  Outcome = "execution_failed"
)

// DispatchObservation describes one finished invocation.
type DispatchObservation struct {
	ToolName  string
	Transport string
	Outcome   Outcome
	ErrorCode string
	Duration  time.Duration
}

// Observer receives one observation per invocation. Implementations must be
// safe for concurrent use.
type Observer interface {
	ObserveDispatch(DispatchObservation)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(DispatchObservation)

// ObserveDispatch calls f(o).
func (f ObserverFunc) ObserveDispatch(o DispatchObservation) { f(o) }
