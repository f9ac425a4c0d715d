// Package httpapi exposes the admin and observability HTTP surface: manual
// stage triggers, job/dead-letter inspection, the settings and API-key
// pass-through, and the healthz/readyz/metrics endpoints.
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
	"github.com/joeumn/etsy-gen-sub000/internal/kv"
	"github.com/joeumn/etsy-gen-sub000/internal/metrics"
	"github.com/joeumn/etsy-gen-sub000/internal/orchestrator"
)

// Runner triggers pipeline stages. Satisfied by *orchestrator.Orchestrator.
type Runner interface {
	RunStage(ctx context.Context, stage domain.Stage, opts orchestrator.Options) (*domain.Job, error)
	ChainPipelineFrom(ctx context.Context, stage domain.Stage, opts orchestrator.Options) (*domain.Job, error)
}

// JobFinder looks up persisted jobs for status polling.
type JobFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
}

// DeadLetters lists archived failures for a queue.
type DeadLetters interface {
	List(ctx context.Context, queue string) ([]domain.DeadLetterEntry, error)
}

// ReadyCheck probes one dependency for the readiness endpoint.
type ReadyCheck func(ctx context.Context) error

type Server struct {
	orch       Runner
	jobs       JobFinder
	dlq        DeadLetters
	cache      kv.KV
	adminToken string
	ready      map[string]ReadyCheck
	logger     *slog.Logger
}

func New(orch Runner, jobs JobFinder, dlq DeadLetters, cache kv.KV, adminToken string, ready map[string]ReadyCheck, logger *slog.Logger) *Server {
	return &Server{
		orch:       orch,
		jobs:       jobs,
		dlq:        dlq,
		cache:      cache,
		adminToken: adminToken,
		ready:      ready,
		logger:     logger,
	}
}

// Routes builds the full handler. Admin routes sit behind the shared-secret
// middleware; health and metrics stay open.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", metrics.Handler())

	admin := http.NewServeMux()
	admin.HandleFunc("POST /api/admin/run/{stage}", s.handleRunStage)
	admin.HandleFunc("GET /api/admin/jobs/{id}", s.handleGetJob)
	admin.HandleFunc("GET /api/admin/dlq/{stage}", s.handleListDeadLetters)
	admin.HandleFunc("GET /api/admin/settings", s.handleGetSettings)
	admin.HandleFunc("POST /api/admin/settings", s.handlePutSettings)
	admin.HandleFunc("GET /api/admin/keys/meta", s.handleKeysMeta)
	admin.HandleFunc("POST /api/admin/keys", s.handlePutKey)
	mux.Handle("/api/admin/", s.requireToken(admin))

	return mux
}

// requireToken rejects admin requests without the shared secret. When no
// secret is configured the surface is open, matching single-tenant deploys
// behind their own ingress auth.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken != "" {
			got := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid admin token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.ready))
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, checks)
}
