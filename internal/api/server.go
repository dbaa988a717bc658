// Package api serves the recipients resolver over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/austindbirch/harbor_connect/internal/auth"
	"github.com/austindbirch/harbor_connect/internal/logging"
	"github.com/austindbirch/harbor_connect/internal/recipients"
)

// Resolver is satisfied by *recipients.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, orgID string) (*recipients.Set, error)
}

type ResolveRequest struct {
	OrgID string `json:"org_id"`
}

type ResolveResponse struct {
	OrgID      string                 `json:"org_id"`
	Provider   string                 `json:"provider"`
	Recipients []recipients.Recipient `json:"recipients"`
}

// Server holds the dependencies of the REST handlers.
type Server struct {
	resolver Resolver
	logger   *logging.Logger
}

func New(resolver Resolver, logger *logging.Logger) *Server {
	return &Server{resolver: resolver, logger: logger}
}

// Mount registers the API routes under the given router.
func (s *Server) Mount(r chi.Router) {
	r.Post("/recipients", s.handleResolve)
}

// RouterOptions configures NewRouter. Auth may be nil, in which case the org
// id is taken from the request body alone.
type RouterOptions struct {
	Auth           *auth.JWTValidator
	Health         http.Handler
	Metrics        http.Handler
	RequestTimeout time.Duration
}

// NewRouter builds the full handler: unauthenticated /healthz and /metrics,
// and the API under /v1.
func NewRouter(s *Server, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)

	if opts.Health != nil {
		r.Method(http.MethodGet, "/healthz", opts.Health)
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth.HTTPMiddleware)
		}
		if opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(opts.RequestTimeout))
		}
		s.Mount(r)
	})
	return r
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	callerOrg, authenticated := auth.OrgIDFromContext(r.Context())
	switch {
	case req.OrgID == "" && authenticated:
		req.OrgID = callerOrg
	case req.OrgID == "":
		writeError(w, http.StatusBadRequest, "org_id is required")
		return
	case authenticated && req.OrgID != callerOrg:
		writeError(w, http.StatusForbidden, "org_id does not match the authenticated org")
		return
	}

	set, err := s.resolver.Resolve(r.Context(), req.OrgID)
	if err != nil {
		status := statusFor(err)
		s.logger.WithContext(r.Context()).
			WithOrg(req.OrgID).
			WithField("status", status).
			WithError(err).
			Warn("recipients resolution request failed")
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ResolveResponse{
		OrgID:      req.OrgID,
		Provider:   set.Source,
		Recipients: set.Items(),
	})
}

// statusFor maps a resolution failure to the response status.
func statusFor(err error) int {
	var re *recipients.ResolutionError
	if !errors.As(err, &re) {
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
	switch re.Cause {
	case recipients.Timeout:
		return http.StatusGatewayTimeout
	case recipients.Unauthorized:
		return http.StatusUnauthorized
	case recipients.BackendUnavailable:
		return http.StatusServiceUnavailable
	case recipients.Malformed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// requestLogger is a chi middleware that logs each incoming request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		s.logger.WithContext(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Info("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
