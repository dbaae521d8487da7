// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package otel records preflight dispatch observations into OpenTelemetry.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	preflight "github.com/jommar/preflight-mcp"
)

// Instrument names.
const (
	MetricInvocations = "preflight.tool.invocations"
	MetricFailures    = "preflight.tool.failures"
	MetricLatency     = "preflight.tool.latency"
)

// DispatchObserver implements preflight.Observer on top of a meter and an
// optional tracer.
type DispatchObserver struct {
	tracer trace.Tracer

	invocations metric.Int64Counter
	failures    metric.Int64Counter
	latency     metric.Float64Histogram
}

var _ preflight.Observer = (*DispatchObserver)(nil)

// NewDispatchObserver creates an observer bound to the provided meter/tracer.
// tracer may be nil.
func NewDispatchObserver(meter metric.Meter, tracer trace.Tracer) (*DispatchObserver, error) {
	invocations, err := meter.Int64Counter(
		MetricInvocations,
		metric.WithDescription("Number of tool invocations"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(
		MetricFailures,
		metric.WithDescription("Number of tool invocations that produced a failure envelope"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		MetricLatency,
		metric.WithDescription("Tool dispatch latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &DispatchObserver{
		tracer:      tracer,
		invocations: invocations,
		failures:    failures,
		latency:     latency,
	}, nil
}

// ObserveDispatch records one invocation.
func (o *DispatchObserver) ObserveDispatch(obs preflight.DispatchObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", obs.ToolName),
		attribute.String("transport", obs.Transport),
		attribute.String("outcome", string(obs.Outcome)),
	}
	if obs.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", obs.ErrorCode))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.invocations.Add(ctx, 1, options)
	if obs.Outcome != preflight.OutcomeSucceeded {
		o.failures.Add(ctx, 1, options)
	}
	o.latency.Record(ctx, obs.Duration.Seconds(), options)

	if o.tracer == nil {
		return
	}
	end := time.Now()
	_, span := o.tracer.Start(ctx, "tool.dispatch",
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(end.Add(-obs.Duration)),
	)
	if obs.Outcome != preflight.OutcomeSucceeded {
		span.SetStatus(codes.Error, obs.ErrorCode)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(end))
}
