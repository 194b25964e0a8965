// Package httpapi exposes the minimal status surface spec §4.11 names:
// GET /health, GET /metrics, GET /stats. Grounded on the teacher's
// infrastructure/service health/probe handlers and infrastructure/
// middleware's shutdown-on-signal shape, rebuilt on go-chi/chi/v5
// instead of gorilla/mux (the teacher declares both chi and gin but
// calls neither; chi is the lighter of the two for this surface, see
// DESIGN.md).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/r3e-network/mev-searcher/internal/diskguard"
	"github.com/r3e-network/mev-searcher/internal/engine"
	"github.com/r3e-network/mev-searcher/internal/lifecycle"
	"github.com/r3e-network/mev-searcher/internal/rpcpool"
	"github.com/r3e-network/mev-searcher/internal/schedule"
	"github.com/r3e-network/mev-searcher/internal/statssink"
	"github.com/r3e-network/mev-searcher/internal/timeguard"
	"github.com/r3e-network/mev-searcher/pkg/logger"
	"github.com/r3e-network/mev-searcher/pkg/metrics"
)

// Checker reports whether a subsystem is healthy, in the shape every
// lifecycle.Base-embedding package already satisfies.
type Checker interface {
	Ready(ctx context.Context) error
	Name() string
}

// Deps bundles the collaborators /stats reports on. Any field may be
// nil; the handler reports only what it is given.
type Deps struct {
	Engine    *engine.Engine
	Pool      *rpcpool.Pool
	TimeGuard *timeguard.TimeGuard
	DiskGuard *diskguard.DiskGuard
	Scheduler *schedule.Scheduler
	Sink      statssink.Sink
	Checks    []Checker
}

// Server is the status/health HTTP surface.
type Server struct {
	*lifecycle.Base

	addr string
	srv  *http.Server
	log  *logger.Logger
	deps Deps
}

// New builds a Server bound to addr, with routes wired against deps.
func New(addr string, deps Deps, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	s := &Server{
		Base: lifecycle.NewBase("httpapi"),
		addr: addr,
		log:  log,
		deps: deps,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/stats", s.handleStats)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start launches the HTTP server in a background goroutine. A bind
// failure is logged, not returned, since http.Server.ListenAndServe
// only reports it asynchronously once the listener is attempted.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http status server stopped unexpectedly")
			s.MarkFailed(err)
		}
	}()
	s.MarkStarted()
	s.log.WithField("addr", s.addr).Info("http status server started")
	return nil
}

// Stop gracefully shuts the server down, giving in-flight requests up
// to 10 seconds to finish.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("http status server did not shut down cleanly")
	}
	s.MarkStopped()
	s.log.Info("http status server stopped")
}

type healthResponse struct {
	Status  string            `json:"status"`
	Details map[string]string `json:"details,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := make(map[string]string)
	healthy := true
	for _, c := range s.deps.Checks {
		if err := c.Ready(r.Context()); err != nil {
			healthy = false
			details[c.Name()] = err.Error()
		} else {
			details[c.Name()] = "ready"
		}
	}

	resp := healthResponse{Status: "healthy", Details: details}
	code := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type statsResponse struct {
	Engine    any            `json:"engine,omitempty"`
	Gate      any            `json:"gate,omitempty"`
	RPCPool   map[string]any `json:"rpc_pool,omitempty"`
	TimeGuard any            `json:"time_guard,omitempty"`
	DiskGuard any            `json:"disk_guard,omitempty"`
	Schedule  any            `json:"schedule,omitempty"`
	Recent    any            `json:"recent_snapshots,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{}

	if s.deps.Engine != nil {
		resp.Engine = s.deps.Engine.Stats()
		g := s.deps.Engine.Gate()
		resp.Gate = map[string]any{
			"queue_len": g.QueueLen(),
			"in_flight": g.InFlight(),
			"resource":  g.ResourceStatus(),
		}
	}
	if s.deps.Pool != nil {
		endpoints := s.deps.Pool.Endpoints()
		out := make(map[string]any, len(endpoints))
		for name, health := range endpoints {
			out[name] = health
		}
		resp.RPCPool = out
	}
	if s.deps.TimeGuard != nil {
		resp.TimeGuard = map[string]any{
			"tier":            s.deps.TimeGuard.Tier().String(),
			"time_safe":       s.deps.TimeGuard.TimeSafe(),
			"signing_blocked": s.deps.TimeGuard.SigningBlocked(),
			"stats":           s.deps.TimeGuard.Stats(),
		}
	}
	if s.deps.DiskGuard != nil {
		resp.DiskGuard = "see /metrics for reclaim counters by action"
	}
	if s.deps.Scheduler != nil {
		resp.Schedule = scheduleSummary(s.deps.Scheduler)
	}
	if s.deps.Sink != nil {
		resp.Recent = s.deps.Sink.Recent(20)
	}

	writeJSON(w, http.StatusOK, resp)
}

func scheduleSummary(sch *schedule.Scheduler) map[string]any {
	tasks := []string{"disk_guard_sweep", "stats_snapshot"}
	out := make(map[string]any, len(tasks))
	for _, name := range tasks {
		at, err, ok := sch.LastRun(name)
		if !ok {
			out[name] = "not yet run"
			continue
		}
		entry := map[string]any{"last_run": at}
		if err != nil {
			entry["last_error"] = err.Error()
		}
		out[name] = entry
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
