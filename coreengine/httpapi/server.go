// Package httpapi exposes the procurement engine as a JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeeves-cluster-organization/procurement/commbus"
	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
	"github.com/jeeves-cluster-organization/procurement/coreengine/envelope"
	"github.com/jeeves-cluster-organization/procurement/coreengine/errs"
	"github.com/jeeves-cluster-organization/procurement/coreengine/kernel"
	"github.com/jeeves-cluster-organization/procurement/coreengine/observability"
)

// MaxRequestBytes bounds the size of a submitted request body.
const MaxRequestBytes = 1 << 20

// Executor runs one procurement request to a terminal state.
type Executor interface {
	Execute(ctx context.Context, req domain.ProcurementRequest) *envelope.RunState
}

// Server holds the handlers' collaborators.
type Server struct {
	engine  Executor
	bus     commbus.CommBus
	limiter *kernel.RateLimiter
	logger  observability.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithBus enables GET /v1/config, answered by a GetEngineConfig query.
func WithBus(bus commbus.CommBus) Option {
	return func(s *Server) { s.bus = bus }
}

// WithRateLimiter limits run submissions per requester.
func WithRateLimiter(l *kernel.RateLimiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l observability.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewHandler creates the HTTP handler for engine.
func NewHandler(engine Executor, opts ...Option) http.Handler {
	s := &Server{
		engine: engine,
		logger: observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recordRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Post("/runs", s.CreateRun)
		api.Get("/config", s.GetConfig)
	})
	return r
}

// CreateRun handles POST /v1/runs. The body is a procurement request; the
// response is the run snapshot. Runs that fail validation answer 422, every
// other terminal run answers 200.
func (s *Server) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req domain.ProcurementRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.logger.Warn("http_invalid_body", "error", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if s.limiter != nil {
		key := kernel.RequesterKey(req.Requester)
		if res := s.limiter.Allow(key); !res.Allowed {
			observability.RecordRateLimited("http", res.LimitType)
			s.logger.Warn("http_rate_limited",
				"requester", key,
				"window", res.LimitType,
				"retry_after_ms", res.RetryAfter.Milliseconds(),
			)
			w.Header().Set("Retry-After", retryAfterSeconds(res.RetryAfter))
			writeError(w, http.StatusTooManyRequests,
				fmt.Sprintf("rate limit exceeded: %d per %s", res.Limit, res.LimitType))
			return
		}
	}

	state := s.engine.Execute(r.Context(), req)
	code := http.StatusOK
	if c := state.Cause(); c != nil && c.Kind == errs.KindInvalidRequest {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, state)
}

// GetConfig handles GET /v1/config.
func (s *Server) GetConfig(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "configuration query is not available")
		return
	}
	res, err := s.bus.QuerySync(r.Context(), &commbus.GetEngineConfig{})
	if err != nil {
		s.logger.Error("http_config_query_failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	resp, ok := res.(*commbus.EngineConfigResponse)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("unexpected config response %T", res))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// recordRequests counts responses by route pattern and status code.
func (s *Server) recordRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observability.RecordHTTPRequest(route, strconv.Itoa(status))
			s.logger.Debug("http_request_completed",
				"method", r.Method,
				"route", route,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// =============================================================================
// HELPERS
// =============================================================================

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
