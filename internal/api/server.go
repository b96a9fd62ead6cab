// Package api wires the HTTP surface of the triage service: routes,
// middleware and server lifecycle.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tipline/backend/internal/audit"
	"github.com/tipline/backend/internal/config"
	"github.com/tipline/backend/internal/events"
	"github.com/tipline/backend/internal/handlers"
	"github.com/tipline/backend/internal/ingest"
	"github.com/tipline/backend/internal/legal"
	"github.com/tipline/backend/internal/metrics"
	"github.com/tipline/backend/internal/store"
)

// Deps carries everything the HTTP layer serves. Gatherer may be nil, in
// which case /metrics falls back to the default Prometheus registry.
type Deps struct {
	Config   *config.Config
	Repo     store.TipRepository
	Audit    audit.Log
	Bus      *events.Bus
	Queue    ingest.Queue
	Ingest   *ingest.Service
	Scanner  *ingest.Scanner
	Legal    *legal.Reference
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Resets   []handlers.Resettable
}

// Server is the HTTP front of the triage service.
type Server struct {
	deps       Deps
	limiter    *ipLimiter
	http       *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc
	startedAt  time.Time
}

// NewServer builds the server. Nothing listens until Start.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:      deps,
		limiter:   newIPLimiter(ingestRefillPerSec, ingestBurst),
		startedAt: time.Now(),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", deps.Config.Server.Port),
		Handler:      s.Router(),
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return s.baseCtx },
	}
	return s
}

// Router builds the full route table. Exposed so tests can drive the API
// through httptest without binding a port.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware, requestLogger, recoverPanic)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Liveness and scrape endpoints.
	r.HandleFunc("/health", handlers.HandleHealth(s.deps.Config, s.startedAt)).Methods("GET")
	r.Handle("/metrics", s.metricsHandler()).Methods("GET")

	// Intake. The token bucket guards this route only.
	r.Handle("/api/ingest", s.limiter.Middleware(handlers.HandleIngest(s.deps.Ingest))).Methods("POST")

	// Queue and dashboards.
	r.HandleFunc("/api/queue", handlers.HandleQueue(s.deps.Repo)).Methods("GET")
	r.HandleFunc("/api/stats", handlers.HandleStats(s.deps.Repo, s.deps.Queue)).Methods("GET")
	r.HandleFunc("/api/crisis", handlers.HandleCrisis(s.deps.Repo)).Methods("GET")
	r.HandleFunc("/api/clusters", handlers.HandleClusters(s.deps.Repo)).Methods("GET")
	r.HandleFunc("/api/bundles/stats", handlers.HandleBundleStats(s.deps.Repo)).Methods("GET")
	r.HandleFunc("/api/jobs/cluster-scan", handlers.HandleClusterScan(s.deps.Scanner)).Methods("POST")

	// Tip detail and human actions.
	r.HandleFunc("/api/tips/{id}", handlers.HandleGetTip(s.deps.Repo, s.deps.Audit)).Methods("GET")
	r.HandleFunc("/api/tips/{id}/assign", handlers.HandleAssignTip(s.deps.Repo)).Methods("POST")
	r.HandleFunc("/api/tips/{id}/warrant/{fileId}", handlers.HandleWarrant(s.deps.Repo, s.deps.Metrics)).Methods("POST")
	r.HandleFunc("/api/tips/{id}/stream", handlers.HandleStream(s.deps.Repo, s.deps.Bus, s.deps.Metrics)).Methods("GET")
	r.HandleFunc("/api/tips/{id}/mlat", handlers.HandleMLAT(s.deps.Repo)).Methods("GET")
	r.HandleFunc("/api/tips/{id}/handoff", handlers.HandleHandoff(s.deps.Repo)).Methods("POST")
	r.HandleFunc("/api/tips/{id}/handoffs", handlers.HandleListHandoffs(s.deps.Repo)).Methods("GET")
	r.HandleFunc("/api/preservation/{id}/issue", handlers.HandleIssuePreservation(s.deps.Repo)).Methods("POST")

	// Legal reference.
	r.HandleFunc("/api/legal/circuit/{state}", handlers.HandleCircuitLookup(s.deps.Legal)).Methods("GET")
	r.HandleFunc("/api/legal/precedents", handlers.HandleListPrecedents(s.deps.Legal)).Methods("GET")
	r.HandleFunc("/api/legal/precedents", handlers.HandleAddPrecedent(s.deps.Legal, s.deps.Audit)).Methods("POST")

	// Test support. The handler 404s outside the test environment.
	r.HandleFunc("/api/test/reset", handlers.HandleTestReset(s.deps.Config, s.deps.Resets)).Methods("POST")

	return r
}

func (s *Server) metricsHandler() http.Handler {
	if s.deps.Gatherer != nil {
		return promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Printf("🚀 triage API listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the rate limiter, cancels request contexts so open SSE
// streams end, and drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.close()
	s.cancelBase()
	return s.http.Shutdown(ctx)
}
