// Package transport terminates WebSocket connections: the upgrade handshake,
// the per-connection read and write pumps, and the session lifecycle from
// handshake to terminal cleanup.
package transport

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wsprism/wsprism/internal/clock"
	"github.com/wsprism/wsprism/internal/config"
	"github.com/wsprism/wsprism/internal/defender"
	"github.com/wsprism/wsprism/internal/dispatch"
	"github.com/wsprism/wsprism/internal/obs"
	"github.com/wsprism/wsprism/internal/outbound"
	"github.com/wsprism/wsprism/internal/session"
	"github.com/wsprism/wsprism/internal/tenant"
	"github.com/wsprism/wsprism/internal/ticket"
)

// Handler upgrades /v1/ws requests and runs the connection loop until the
// socket dies. Handshake failures are answered with plain HTTP statuses so
// no session state is ever allocated for them.
type Handler struct {
	Tenants    *tenant.Map
	Tickets    ticket.Store
	Defender   *defender.Defender
	Dispatcher *dispatch.Dispatcher
	Metrics    *obs.Metrics
	Tracer     trace.Tracer
	Log        *slog.Logger
	Clock      clock.Clock
	Gateway    config.GatewayConfig

	// Draining is set by the shutdown coordinator; new handshakes are
	// refused while it is true.
	Draining *atomic.Bool
}

// ServeHTTP implements the upgrade endpoint.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Draining.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	tenantID := q.Get("tenant")
	tick := q.Get("ticket")
	if tenantID == "" || tick == "" {
		http.Error(w, "tenant and ticket are required", http.StatusBadRequest)
		return
	}

	st, ok := h.Tenants.Lookup(tenantID)
	if !ok {
		http.Error(w, "unknown tenant", http.StatusNotFound)
		return
	}

	if !h.Defender.Allow(remoteIP(r)) {
		h.Metrics.HandshakeRejections.WithLabelValues("handshake_rate_limited").Inc()
		w.Header().Set("Retry-After", "1")
		http.Error(w, "too many handshakes", http.StatusTooManyRequests)
		return
	}

	id, err := h.Tickets.Consume(r.Context(), tick)
	if err != nil {
		if errors.Is(err, ticket.ErrUnknownTicket) {
			h.Metrics.HandshakeRejections.WithLabelValues("invalid_ticket").Inc()
			http.Error(w, "invalid ticket", http.StatusUnauthorized)
			return
		}
		h.Log.Error("ticket store failure", "error", err)
		http.Error(w, "ticket store unavailable", http.StatusInternalServerError)
		return
	}
	if id.Tenant != tenantID {
		h.Metrics.HandshakeRejections.WithLabelValues("invalid_ticket").Inc()
		http.Error(w, "invalid ticket", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.Log.Warn("websocket accept failed", "error", err)
		return
	}
	h.Metrics.WsUpgrades.WithLabelValues(tenantID).Inc()

	connBucket := st.NewConnBucket()
	caps := outbound.Caps{
		Control:  h.Gateway.Outbound.ControlCap,
		Reliable: h.Gateway.Outbound.ReliableCap,
		Lossy:    h.Gateway.Outbound.LossyCap,
	}
	sess := session.New(id.User, tenantID, r.RemoteAddr,
		outbound.NewQueue(caps, h.Clock), st.NewPipeline(connBucket), h.Clock.Now())

	ctx, span := h.Tracer.Start(r.Context(), "ws.session", trace.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("user", id.User),
		attribute.String("session", sess.ID.String()),
	))
	defer span.End()

	loop := &Loop{
		conn:       conn,
		sess:       sess,
		tenant:     st,
		dispatcher: h.Dispatcher,
		metrics:    h.Metrics,
		clk:        h.Clock,
		gateway:    h.Gateway,
		draining:   h.Draining,
		log: h.Log.With(
			"component", "transport",
			"tenant", tenantID,
			"user", id.User,
			"session", sess.ID.String(),
		),
	}
	loop.Run(ctx)
}

// remoteIP extracts the peer address without the port.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
