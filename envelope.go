// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package preflight

import (
	"encoding/json"
	"errors"
	"time"
)

// MetaTimestamp is the meta key always present in an Envelope.
const MetaTimestamp = "ts"

// TimestampLayout is the ISO-8601 layout used for MetaTimestamp.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const unknownErrorMessage = "unknown error"

// Envelope is the uniform result of every tool invocation, on every transport.
//
// Exactly one of the following holds:
//
//   - OK is true and Error is nil
//   - OK is false, Data is nil and Error is non-nil
type Envelope struct {
	OK    bool           `json:"ok"`
	Data  any            `json:"data"`
	Meta  map[string]any `json:"meta"`
	Error *string        `json:"error"`
}

// JSON returns the wire encoding of the envelope. Data that cannot be encoded
// yields a failure envelope instead, so the result is always valid JSON.
func (e Envelope) JSON() []byte {
	b, err := json.Marshal(e)
	if err == nil {
		return b
	}
	fallback := Failure(NewToolError(CodeExecution, "encoding result: "+err.Error(), err), e.Meta)
	b, err = json.Marshal(fallback)
	if err != nil {
		// Meta itself is not encodable; drop it.
		b, _ = json.Marshal(Failure(err, nil))
	}
	return b
}

// ErrorMessage returns the failure message, or "" for a success envelope.
func (e Envelope) ErrorMessage() string {
	if e.Error == nil {
		return ""
	}
	return *e.Error
}

// Codec builds envelopes against a clock. The zero value uses time.Now.
type Codec struct {
	Now func() time.Time
}

var defaultCodec Codec

// Success wraps data in a success envelope using the wall clock.
func Success(data any, meta map[string]any) Envelope {
	return defaultCodec.Success(data, meta)
}

// Failure wraps err in a failure envelope using the wall clock.
func Failure(err error, meta map[string]any) Envelope {
	return defaultCodec.Failure(err, meta)
}

// Success returns ok=true, error=nil. The timestamp is written first and the
// caller's meta is overlaid afterwards, so callers may replace "ts".
func (c Codec) Success(data any, meta map[string]any) Envelope {
	return Envelope{
		OK:   true,
		Data: data,
		Meta: c.meta(meta),
	}
}

// Failure returns ok=false, data=nil and the rendered message of err.
func (c Codec) Failure(err error, meta map[string]any) Envelope {
	msg := MessageOf(err)
	return Envelope{
		OK:    false,
		Data:  nil,
		Meta:  c.meta(meta),
		Error: &msg,
	}
}

func (c Codec) meta(extra map[string]any) map[string]any {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	m := make(map[string]any, len(extra)+1)
	m[MetaTimestamp] = now().UTC().Format(TimestampLayout)
	for k, v := range extra {
		m[k] = v
	}
	return m
}

// MessageOf renders err as a client-facing message. It never panics.
func MessageOf(err error) (msg string) {
	if err == nil {
		return unknownErrorMessage
	}
	defer func() {
		if recover() != nil {
			msg = unknownErrorMessage
		}
	}()
	var te *ToolError
	if errors.As(err, &te) && te != nil {
		return te.UserMessage()
	}
	if msg = err.Error(); msg == "" {
		return unknownErrorMessage
	}
	return msg
}
