// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package system holds the transport-agnostic system operations exposed as
// tools and HTTP routes.
package system

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// Output layouts for DateTime.
const (
	DateTimeLayout = "2006-01-02T15:04:05"
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05"
)

// ErrInvalidTimezone is returned for timezone names the tz database does not know.
var ErrInvalidTimezone = errors.New("invalid timezone")

// Service implements the system operations. It keeps no state between calls
// and is safe for concurrent use.
type Service struct {
	now func() time.Time
}

// New returns a Service reading the given clock. A nil clock means time.Now.
func New(now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{now: now}
}

// PingInput is the input of Ping.
type PingInput struct {
	Message *string `json:"message"`
}

// PingResult echoes the optional message.
type PingResult struct {
	Pong    bool    `json:"pong"`
	Message *string `json:"message"`
}

// Ping reports liveness and echoes the message, which stays null when absent.
func (s *Service) Ping(_ context.Context, in PingInput) (PingResult, error) {
	return PingResult{Pong: true, Message: in.Message}, nil
}

// DateTimeInput is the input of DateTime.
type DateTimeInput struct {
	Timezone string `json:"timezone"`
}

// DateTimeResult is the current wall-clock time in a timezone.
type DateTimeResult struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
}

// DateTime formats the current time in the requested IANA timezone.
func (s *Service) DateTime(ctx context.Context, in DateTimeInput) (DateTimeResult, error) {
	if err := ctx.Err(); err != nil {
		return DateTimeResult{}, err
	}
	loc, err := LoadTimezone(in.Timezone)
	if err != nil {
		return DateTimeResult{}, err
	}
	now := s.now().In(loc)
	return DateTimeResult{
		DateTime: now.Format(DateTimeLayout),
		Date:     now.Format(DateLayout),
		Time:     now.Format(TimeLayout),
		Timezone: loc.String(),
	}, nil
}

// LoadTimezone resolves an IANA timezone name. Empty names are rejected
// rather than silently meaning UTC.
func LoadTimezone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: timezone is empty", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}
