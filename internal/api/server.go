// ABOUTME: HTTP surface of the job subsystem: /api/jobs/* endpoints plus
// ABOUTME: /healthz and /metrics, assembled on a chi router.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jimmitchell/vibereader/internal/config"
	"github.com/jimmitchell/vibereader/internal/jobs"
	"github.com/jimmitchell/vibereader/internal/store"
)

// JobStore is the slice of store behavior the HTTP handlers need.
// *store.Store implements it; tests substitute an in-memory fake.
type JobStore interface {
	Stats(ctx context.Context) (store.JobStats, error)
	EnqueueJob(ctx context.Context, jobType jobs.Type, payload json.RawMessage, feedID *int64, maxAttempts int) (int64, error)
}

// Server holds the dependencies for the HTTP layer.
type Server struct {
	store    JobStore
	db       *pgxpool.Pool // nil in handler-only tests; healthz reports degraded
	cfg      *config.Config
	registry *prometheus.Registry
}

// NewServer creates a Server. db may be nil in tests that don't need a DB.
func NewServer(st JobStore, db *pgxpool.Pool, cfg *config.Config) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newJobStatsCollector(st),
	)
	return &Server{store: st, db: db, cfg: cfg, registry: reg}
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Security headers first so they appear on every response including errors.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// 1 MB global body limit; the cleanup form is tiny.
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.healthzHandler)
	r.Handle("/metrics", promhttp.HandlerFor(srv.registry, promhttp.HandlerOpts{}))

	r.Route("/api/jobs", func(r chi.Router) {
		r.Use(srv.requireToken)
		r.Use(srv.requireJobsEnabled)
		r.Get("/stats", srv.jobStatsHandler)
		r.Post("/cleanup", srv.enqueueCleanupHandler)
	})

	return r
}

// requireToken authenticates requests with Authorization: Bearer <API_TOKEN>.
// Session authentication belongs to the surrounding application; this layer
// only supports the deployment token.
func (srv *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if srv.cfg.APIToken == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(srv.cfg.APIToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireJobsEnabled rejects job endpoints when background jobs are disabled
// by configuration.
func (srv *Server) requireJobsEnabled(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !srv.cfg.JobsEnabled {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "background jobs are disabled",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// healthResponse is the JSON body for /healthz.
type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db,omitempty"`
}

func (srv *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	statusCode := http.StatusOK

	if srv.db == nil {
		resp.Status = "degraded"
		resp.DB = "unavailable"
		statusCode = http.StatusServiceUnavailable
	} else if err := srv.db.Ping(r.Context()); err != nil {
		slog.WarnContext(r.Context(), "healthz: db ping failed", "error", err)
		resp.Status = "degraded"
		resp.DB = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response", "error", err)
	}
}
