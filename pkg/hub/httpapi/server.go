// Copyright 2026 © The Hubnet Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi exposes a hub over HTTP and implements the client side
// of the same protocol for peer forwarding and remote searches.
package httpapi

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/hubnet/pkg/errors"
	"github.com/jllopis/hubnet/pkg/hub"
	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/registry"
	"github.com/jllopis/hubnet/pkg/search"
	"github.com/jllopis/hubnet/pkg/telemetry"
)

// Admission decides who may search a hub.
type Admission string

const (
	// AdmissionOpen serves every caller.
	AdmissionOpen Admission = "open"
	// AdmissionKnown serves callers whose name and address are registered
	// in any partition.
	AdmissionKnown Admission = "known"
)

// ParseAdmission accepts "open" (or empty) and "known".
func ParseAdmission(s string) (Admission, error) {
	switch Admission(strings.ToLower(strings.TrimSpace(s))) {
	case "", AdmissionOpen:
		return AdmissionOpen, nil
	case AdmissionKnown:
		return AdmissionKnown, nil
	default:
		return "", fmt.Errorf("httpapi: unknown admission mode %q", s)
	}
}

// Server serves one hub node.
type Server struct {
	node      *hub.Node
	admission Admission
	logger    *slog.Logger
	tracer    trace.Tracer
	router    chi.Router
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAdmission sets the admission mode.
func WithAdmission(a Admission) ServerOption {
	return func(s *Server) { s.admission = a }
}

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer builds the HTTP surface of node.
func NewServer(node *hub.Node, opts ...ServerOption) *Server {
	s := &Server{
		node:      node,
		admission: AdmissionOpen,
		tracer:    otel.Tracer("hubnet/httpapi"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = telemetry.Component("httpapi")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.traceMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Post("/search_agent", s.handleSearch)
	r.Post("/add_agent", s.handleAddAgent)
	r.Put("/activation_status", s.handleActivation)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.Start(ctx, "http."+strings.TrimPrefix(r.URL.Path, "/"),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.DebugContext(r.Context(), "httpapi.request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := r.URL.Query()
	prompt := strings.TrimSpace(params.Get("prompt"))
	name := strings.TrimSpace(params.Get("name_agent"))
	if prompt == "" {
		writeError(w, errors.New(errors.CodeInvalidInput, "prompt is required", nil))
		return
	}
	ip := remoteIP(r)

	if s.admission == AdmissionKnown {
		known, err := s.node.Store().Lookup(ctx, name, ip)
		if err != nil {
			writeError(w, errors.New(errors.CodeStore, "registry lookup failed", err))
			return
		}
		if len(known) == 0 {
			s.logger.InfoContext(ctx, "httpapi.search.rejected",
				slog.String("name", name), slog.String("ip", ip))
			writeError(w, errors.New(errors.CodeUnauthorized, "requester is not registered", nil).
				WithContext("name", name))
			return
		}
	}

	var body searchRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, errors.New(errors.CodeInvalidInput, "invalid search body", err))
		return
	}

	q := search.Query{
		Text:      prompt,
		Requester: identity.New(name, ip, ""),
		ID:        strings.TrimSpace(r.Header.Get(SearchIDHeader)),
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	st := search.State{
		Visited: identity.FromFriends(body.HubUserSearch),
		Blocked: identity.FromFriends(body.AgentBlock),
	}

	res := s.node.Search(ctx, q, st)
	w.Header().Set(SearchIDHeader, q.ID)
	writeJSON(w, http.StatusOK, encodeResult(res))
}

func (s *Server) handleAddAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := r.URL.Query()
	name := strings.TrimSpace(params.Get("name_agent"))
	if name == "" {
		writeError(w, errors.New(errors.CodeInvalidInput, "name_agent is required", nil))
		return
	}
	kind, err := registry.ParseKind(params.Get("type_agent"))
	if err != nil {
		writeError(w, errors.New(errors.CodeInvalidInput, "invalid type_agent", err))
		return
	}

	var extra map[string]any
	if err := decodeBody(r, &extra); err != nil {
		writeError(w, errors.New(errors.CodeInvalidInput, "invalid extra columns", err))
		return
	}
	cells := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		cells[k] = cellString(v)
	}
	ip := remoteIP(r)
	cells[registry.ColName] = name
	cells[registry.ColHost] = ip
	delete(cells, "Name")

	existing, err := s.node.Store().Lookup(ctx, name, ip)
	if err != nil {
		writeError(w, errors.New(errors.CodeStore, "registry lookup failed", err))
		return
	}
	for _, rec := range existing {
		if rec.Kind == kind {
			writeError(w, errors.New(errors.CodeAlreadyExists, "agent already registered", nil).
				WithContext("name", name).
				WithContext("type", string(kind)))
			return
		}
	}

	rec, err := registry.RecordFromColumns(kind, cells)
	if err == nil {
		err = rec.Validate()
	}
	if err != nil {
		writeError(w, errors.New(errors.CodeInvalidInput, "invalid agent record", err))
		return
	}
	if err := s.node.Store().Add(ctx, rec); err != nil {
		if stderrors.Is(err, registry.ErrExists) {
			writeError(w, errors.New(errors.CodeAlreadyExists, "agent already registered", err))
			return
		}
		writeError(w, errors.New(errors.CodeStore, "registry add failed", err))
		return
	}
	s.logger.InfoContext(ctx, "httpapi.agent.added",
		slog.String("agent", rec.Identity.String()),
		slog.String("kind", string(rec.Kind)))
	writeJSON(w, http.StatusCreated, map[string]string{"message": "agent " + name + " added"})
}

func (s *Server) handleActivation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := r.URL.Query()
	name := strings.TrimSpace(params.Get("name_agent"))
	active, err := strconv.ParseBool(strings.TrimSpace(params.Get("boolean")))
	if name == "" || err != nil {
		writeError(w, errors.New(errors.CodeInvalidInput, "name_agent and boolean are required", err))
		return
	}
	wantPort := strings.TrimSpace(params.Get("port"))
	ip := remoteIP(r)

	recs, err := s.node.Store().Lookup(ctx, name, ip)
	if err != nil {
		writeError(w, errors.New(errors.CodeStore, "registry lookup failed", err))
		return
	}
	seen := identity.Set{}
	for _, rec := range recs {
		if wantPort != "" && rec.Identity.Port != wantPort {
			continue
		}
		if seen.Contains(rec.Identity) {
			continue
		}
		seen = seen.With(rec.Identity)
		if err := s.node.Store().SetActive(ctx, rec.Identity, active); err != nil {
			writeError(w, errors.New(errors.CodeStore, "activation failed", err))
			return
		}
	}
	if seen.Len() == 0 {
		// Unknown agents answer 400, as registration clients expect.
		writeJSONError(w, http.StatusBadRequest,
			errors.New(errors.CodeNotFound, "agent not found", nil).WithContext("name", name))
		return
	}
	s.logger.InfoContext(ctx, "httpapi.agent.activation",
		slog.String("name", name), slog.Bool("active", active), slog.Int("records", seen.Len()))
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("agent %s active=%t", name, active)})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decodeBody decodes a JSON body into v. An empty body is not an error.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if stderrors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, _ := json.Marshal(t)
		return string(data)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	herr := errors.Wrap(err)
	writeJSONError(w, herr.StatusCode, herr)
}

func writeJSONError(w http.ResponseWriter, status int, herr *errors.HubnetError) {
	writeJSON(w, status, map[string]any{"detail": herr})
}
