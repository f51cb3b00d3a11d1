// Package gateway assembles the HTTP surface: the WebSocket upgrade
// endpoint, health and readiness probes, the Prometheus scrape endpoint, and
// the admin API. It also owns the drain sequence on shutdown.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wsprism/wsprism/internal/config"
	"github.com/wsprism/wsprism/internal/obs"
	"github.com/wsprism/wsprism/internal/session"
	"github.com/wsprism/wsprism/internal/tenant"
	"github.com/wsprism/wsprism/internal/ticket"
	"github.com/wsprism/wsprism/internal/transport"
)

// Server is the HTTP front of the gateway.
type Server struct {
	cfg      config.GatewayConfig
	tenants  *tenant.Map
	tickets  ticket.Store
	metrics  *obs.Metrics
	ws       *transport.Handler
	reload   func() error
	log      *slog.Logger
	draining *atomic.Bool

	server *http.Server
}

// New builds a Server around an already-wired transport handler. The reload
// callback re-reads configuration from disk; it is invoked by the admin API.
func New(cfg config.GatewayConfig, tenants *tenant.Map, tickets ticket.Store,
	metrics *obs.Metrics, ws *transport.Handler, reload func() error,
	draining *atomic.Bool, log *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		tenants:  tenants,
		tickets:  tickets,
		metrics:  metrics,
		ws:       ws,
		reload:   reload,
		log:      log.With("component", "gateway"),
		draining: draining,
	}
	s.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Handle("/v1/ws", s.ws)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.adminAuth)
		r.Get("/sessions", s.handleListSessions)
		r.Delete("/sessions/{id}", s.handleKillSession)
		r.Get("/rooms", s.handleListRooms)
		r.Post("/config/reload", s.handleReload)
		r.Post("/tickets", s.handleIssueTicket)
	})

	return r
}

// Reload re-reads the config file and applies the tenant sections.
func (s *Server) Reload() error {
	return s.reload()
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("listening", "addr", s.cfg.Listen)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Drain runs the shutdown sequence: flip the draining flag so readyz fails
// and new handshakes are refused, notify every live session, wait up to the
// grace period for them to leave on their own, then force-close the rest and
// stop the HTTP server.
func (s *Server) Drain(ctx context.Context) error {
	s.draining.Store(true)
	s.metrics.Draining.Set(1)
	s.log.Info("draining", "grace_ms", s.cfg.DrainGraceMs)

	s.notifyShutdown()

	grace := time.Duration(s.cfg.DrainGraceMs) * time.Millisecond
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

wait:
	for s.liveSessions() > 0 {
		select {
		case <-deadline.C:
			break wait
		case <-ctx.Done():
			break wait
		case <-tick.C:
		}
	}

	if n := s.liveSessions(); n > 0 {
		s.log.Info("grace expired, force closing", "sessions", n)
		s.forceCloseAll()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) notifyShutdown() {
	for _, st := range s.tenants.All() {
		for _, sess := range st.Registry().Snapshot() {
			sess.Outbound.Offer(shutdownNotice())
		}
	}
}

func (s *Server) liveSessions() int {
	n := 0
	for _, st := range s.tenants.All() {
		n += st.Registry().Len()
	}
	return n
}

func (s *Server) forceCloseAll() {
	for _, st := range s.tenants.All() {
		for _, sess := range st.Registry().Snapshot() {
			sess.RequestClose(session.ReasonPolicyShutdown)
		}
	}
}
