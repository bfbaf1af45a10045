// Package api exposes the operator HTTP interface: search-query CRUD, manual
// run triggers, run inspection, and company master-data import/export.
package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobradar/internal/clock"
	"jobradar/internal/config"
	"jobradar/internal/metrics"
	"jobradar/internal/model"
	"jobradar/internal/orchestrator"
	"jobradar/internal/store"
)

// Store is the persistence surface the handlers need.
type Store interface {
	CreateQuery(ctx context.Context, q model.SearchQuery) error
	UpdateQuery(ctx context.Context, q model.SearchQuery) error
	DeleteQuery(ctx context.Context, id uuid.UUID) error
	GetQuery(ctx context.Context, id uuid.UUID) (model.SearchQuery, error)
	ListQueries(ctx context.Context, activeOnly bool) ([]model.SearchQuery, error)
	ListRuns(ctx context.Context, includeArchived bool, offset, limit int) ([]model.ScrapeRun, error)
	GetRun(ctx context.Context, id uuid.UUID) (model.ScrapeRun, error)
	UpdateRun(ctx context.Context, id uuid.UUID, patch store.RunPatch) error
	CountTriggersSince(ctx context.Context, since time.Time) (int, error)
	ListCompanies(ctx context.Context, offset, limit int) ([]model.Company, error)
	UpsertCompany(ctx context.Context, name string, ids store.VendorIDs, logoURL, industry, website *string) (uuid.UUID, error)
}

// Runner drives scrape runs for manual triggers.
type Runner interface {
	ExecuteScrapeRun(ctx context.Context, p orchestrator.Params) (orchestrator.RunResult, error)
}

// Registrar keeps the scheduler in sync with query changes. May be nil when
// the process runs without a scheduler.
type Registrar interface {
	Register(ctx context.Context, q model.SearchQuery) error
	Deregister(queryID uuid.UUID)
}

// Server wires HTTP handlers to the store, the orchestrator, and the
// scheduler.
type Server struct {
	router    chi.Router
	store     Store
	runner    Runner
	sched     Registrar
	clock     clock.Clock
	logger    *zap.Logger
	cfg       config.Config
	runBudget time.Duration
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	st Store,
	runner Runner,
	sched Registrar,
	clk clock.Clock,
	logger *zap.Logger,
	cfg config.Config,
) *Server {
	s := &Server{
		store:  st,
		runner: runner,
		sched:  sched,
		clock:  clk,
		logger: logger,
		cfg:    cfg,
		// A detached manual run gets the snapshot deadline plus headroom
		// for record processing.
		runBudget: cfg.SnapshotDeadline() + 10*time.Minute,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Admin.Username != "" {
			r.Use(basicAuthMiddleware(cfg.Admin))
		}
		r.Route("/queries", func(r chi.Router) {
			r.Post("/", s.createQuery)
			r.Get("/", s.listQueries)
			r.Route("/{query_id}", func(r chi.Router) {
				r.Get("/", s.getQuery)
				r.Put("/", s.updateQuery)
				r.Delete("/", s.deleteQuery)
			})
		})
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.triggerRun)
			r.Get("/", s.listRuns)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Post("/stop", s.stopRun)
				r.Post("/archive", s.archiveRun)
			})
		})
		r.Route("/companies", func(r chi.Router) {
			r.Get("/export", s.exportCompanies)
			r.Post("/import", s.importCompanies)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.store.CountTriggersSince(ctx, s.clock.Now()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func parsePathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, defLimit, maxLimit int) (limit, offset int) {
	limit = defLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func basicAuthMiddleware(admin config.AdminConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(admin.Username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(admin.Password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="jobradar"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
