// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the system service functions as versioned HTTP routes.
// It does its own parameter extraction and envelope wrapping and shares only
// the service functions with the MCP tools.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	preflight "github.com/jommar/preflight-mcp"
	"github.com/jommar/preflight-mcp/internal/system"
)

// RequestIDHeader carries the per-request id, echoed in meta.requestId.
const RequestIDHeader = "X-Request-Id"

// MetaRequestID is the envelope meta key holding the request id.
const MetaRequestID = "requestId"

// Route names reported to the observer.
const (
	routePing     = "system.ping"
	routeDateTime = "system.dateTime"
	routeHealth   = "healthz"
)

// ServerConfig configures the route layer.
type ServerConfig struct {
	Service *system.Service
	// DefaultTimezone is used when the timezone query parameter is absent.
	DefaultTimezone string
	Logger          *slog.Logger
	Observer        preflight.Observer
	// Now overrides the envelope clock. Tests only.
	Now func() time.Time
}

// Server serves the HTTP routes.
type Server struct {
	svc             *system.Service
	defaultTimezone string
	logger          *slog.Logger
	observer        preflight.Observer
	codec           preflight.Codec
}

// NewServer validates cfg and builds a Server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("api: service is nil")
	}
	if _, err := system.LoadTimezone(cfg.DefaultTimezone); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:             cfg.Service,
		defaultTimezone: strings.TrimSpace(cfg.DefaultTimezone),
		logger:          logger,
		observer:        cfg.Observer,
		codec:           preflight.Codec{Now: cfg.Now},
	}, nil
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.Wrap(mux)
}

// RegisterRoutes mounts the routes onto an existing mux. Wrap the mux with
// [Server.Wrap] to honor client-supplied request ids.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/system/ping", s.handlePing)
	mux.HandleFunc("GET /api/v1/system/datetime", s.handleDateTime)
	// Same paths without a method catch the other methods.
	for _, path := range []string{"/healthz", "/api/v1/system/ping", "/api/v1/system/datetime"} {
		mux.HandleFunc(path, s.handleMethodNotAllowed)
	}
	mux.HandleFunc("/api/", s.handleNotFound)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET, HEAD")
	env := s.codec.Failure(fmt.Errorf("method not allowed: %s %s", r.Method, r.URL.Path),
		map[string]any{MetaRequestID: requestIDFrom(r)})
	writeEnvelope(w, http.StatusMethodNotAllowed, env)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	env := s.codec.Failure(fmt.Errorf("route not found: %s %s", r.Method, r.URL.Path),
		map[string]any{MetaRequestID: requestIDFrom(r)})
	writeEnvelope(w, http.StatusNotFound, env)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, routeHealth, time.Now(), map[string]string{"status": "ok"}, nil)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var in system.PingInput
	if q := r.URL.Query(); q.Has("message") {
		msg := q.Get("message")
		in.Message = &msg
	}
	out, err := s.svc.Ping(r.Context(), in)
	s.respond(w, r, routePing, start, out, err)
}

func (s *Server) handleDateTime(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tz := strings.TrimSpace(r.URL.Query().Get("timezone"))
	if tz == "" {
		tz = s.defaultTimezone
	}
	out, err := s.svc.DateTime(r.Context(), system.DateTimeInput{Timezone: tz})
	s.respond(w, r, routeDateTime, start, out, err)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, route string, start time.Time, data any, err error) {
	meta := map[string]any{MetaRequestID: requestIDFrom(r)}

	obs := preflight.DispatchObservation{
		ToolName:  route,
		Transport: preflight.TransportHTTP,
		Outcome:   preflight.OutcomeSucceeded,
	}
	var env preflight.Envelope
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		obs.Outcome = preflight.OutcomeExecutionFailed
		obs.ErrorCode = preflight.CodeExecution
		env = s.codec.Failure(err, meta)
		s.logger.Debug("route failed", "route", route, "status", status, "error", err)
	} else {
		env = s.codec.Success(data, meta)
	}
	obs.Duration = time.Since(start)
	if s.observer != nil {
		s.observer.ObserveDispatch(obs)
	}
	writeEnvelope(w, status, env)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, system.ErrInvalidTimezone):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeEnvelope(w http.ResponseWriter, status int, env preflight.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(env.JSON())
}

type requestIDKey struct{}

// Wrap adds request-id handling: a client-supplied uuid in X-Request-Id is
// reused, anything else is replaced by a fresh one.
func (s *Server) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
