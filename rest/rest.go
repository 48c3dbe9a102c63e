// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rest generates CRUD endpoints out of the registered models.
// Every model with an active auto route gets a router mounted under its route
// prefix. Handlers speak JSON maps, the schema registry validates payloads before
// they reach the orm and errors leave as an {"error":"#CODE"} envelope.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/patrickascher/dotorm/logger"
	"github.com/patrickascher/dotorm/orm"
	"github.com/patrickascher/dotorm/query"
	"github.com/patrickascher/dotorm/schema"
	"github.com/segmentio/ksuid"
)

// Error messages.
var (
	ErrGuard = errors.New("rest: no identity")
)

// Error codes of the envelope.
const (
	CodeNotFound     = "#NOT_FOUND"
	CodeAccessDenied = "#ACCESS_DENIED"
	CodeUnauthorized = "#UNAUTHORIZED"
	CodeFields       = "#FIELDS_NOT_FOUND"
	CodeInternal     = "#INTERNAL"
)

// requestIDKey is the context key of the request id.
type requestIDKey struct{}

// Guard authenticates a request before it reaches a handler. The returned context
// replaces the request context, so a guard can attach the identity for the access
// checker.
type Guard interface {
	Verify(r *http.Request) (context.Context, error)
}

// Server mounts one router per registered model.
type Server struct {
	models  *orm.Registry
	schemas *schema.Registry
	guard   Guard
	logger  logger.Manager
	router  chi.Router
}

// Option configures the server.
type Option func(*Server)

// WithGuard sets the authentication guard.
func WithGuard(g Guard) Option {
	return func(s *Server) { s.guard = g }
}

// WithLogger sets the request logger.
func WithLogger(l logger.Manager) Option {
	return func(s *Server) { s.logger = l }
}

// New creates the server and mounts the routers of all models with an active auto
// route.
func New(models *orm.Registry, schemas *schema.Registry, opts ...Option) (*Server, error) {
	s := &Server{models: models, schemas: schemas, router: chi.NewRouter()}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(s.requestID)
	if s.logger != nil {
		s.router.Use(s.logRequest)
	}

	all, err := models.Models()
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if !m.AutoRoute() {
			continue
		}
		set, err := schemas.Set(m.Name())
		if err != nil {
			return nil, err
		}
		h := &modelHandler{server: s, model: m, set: set}
		s.router.Mount(m.RoutePrefix(), h.routes())
	}
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the chi router for additional mounts.
func (s *Server) Router() chi.Router {
	return s.router
}

// Registry exposes the model registry behind the server.
func (s *Server) Registry() *orm.Registry {
	return s.models
}

// requestID attaches a unique id to the request context and response header.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ksuid.New().String()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestID returns the request id of the context.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// logRequest logs method, path and request id on debug level.
func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.WithTimer().WithFields(logger.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"id":     RequestID(r.Context()),
		}).Debug("rest: request")
		next.ServeHTTP(w, r)
	})
}

// verify runs the guard and swaps the request context on success.
func (s *Server) verify(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	if s.guard == nil {
		return r, true
	}
	ctx, err := s.guard.Verify(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized)
		return nil, false
	}
	return r.WithContext(ctx), true
}

// writeJSON writes the value with the given status.
func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// writeError writes the error envelope.
func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeORMError maps the orm and query sentinel errors to their envelope codes.
func writeORMError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orm.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound)
	case errors.Is(err, orm.ErrAccessDenied):
		writeError(w, http.StatusForbidden, CodeAccessDenied)
	case errors.Is(err, query.ErrFilter):
		writeError(w, http.StatusBadRequest, CodeFields)
	default:
		writeError(w, http.StatusInternalServerError, CodeInternal)
	}
}
