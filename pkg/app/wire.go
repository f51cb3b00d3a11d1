package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/wsprism/wsprism/internal/clock"
	"github.com/wsprism/wsprism/internal/config"
	"github.com/wsprism/wsprism/internal/defender"
	"github.com/wsprism/wsprism/internal/dispatch"
	"github.com/wsprism/wsprism/internal/gateway"
	"github.com/wsprism/wsprism/internal/obs"
	"github.com/wsprism/wsprism/internal/reload"
	"github.com/wsprism/wsprism/internal/services"
	"github.com/wsprism/wsprism/internal/tenant"
	"github.com/wsprism/wsprism/internal/ticket"
	"github.com/wsprism/wsprism/internal/transport"
)

// wiring is the fully assembled gateway, ready to serve.
type wiring struct {
	server  *gateway.Server
	tracing *obs.Tracing
	tickets ticket.Store
}

// wire builds every component from a validated config. Construction order
// follows the dependency chain: observability, tenants, auth, dispatch,
// transport, HTTP.
func wire(ctx context.Context, cfgPath string, cfg *config.Config, log *slog.Logger) (*wiring, error) {
	tracing, err := obs.NewTracing(ctx, cfg.Observability.Tracing.Enabled, cfg.Observability.Tracing.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("app: init tracing: %w", err)
	}
	metrics := obs.NewMetrics()
	clk := clock.System()

	tenants, err := tenant.NewMap(cfg.Tenants, clk)
	if err != nil {
		return nil, fmt.Errorf("app: build tenants: %w", err)
	}

	tickets, err := buildTicketStore(ctx, cfg.Auth, log)
	if err != nil {
		return nil, err
	}

	registry := dispatch.NewRegistry()
	if cfg.Services.Chat.Enabled {
		registry.RegisterExt(services.NewChat())
	}
	if cfg.Services.EchoBinary.Enabled {
		registry.RegisterHot(services.NewEchoBinary(cfg.Services.EchoBinary.SvcID))
	}
	dispatcher := dispatch.New(registry, metrics, log)

	draining := &atomic.Bool{}
	ws := &transport.Handler{
		Tenants:    tenants,
		Tickets:    tickets,
		Defender:   defender.New(cfg.Gateway.HandshakeLimit),
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Tracer:     tracing.Tracer,
		Log:        log,
		Clock:      clk,
		Gateway:    cfg.Gateway,
		Draining:   draining,
	}

	reloader := reload.NewHandler(cfgPath, cfg.Gateway.Listen, tenants, log)
	server := gateway.New(cfg.Gateway, tenants, tickets, metrics, ws, reloader.Reload, draining, log)

	return &wiring{server: server, tracing: tracing, tickets: tickets}, nil
}

// buildTicketStore selects the configured backend and seeds dev tickets.
func buildTicketStore(ctx context.Context, cfg config.AuthConfig, log *slog.Logger) (ticket.Store, error) {
	var store ticket.Store
	switch cfg.TicketStore {
	case "sqlite":
		s, err := ticket.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("app: open ticket store: %w", err)
		}
		store = s
	default:
		store = ticket.NewMemoryStore()
	}

	for _, dt := range cfg.DevTickets {
		if err := store.Issue(ctx, dt.Ticket, ticket.Identity{User: dt.User, Tenant: dt.Tenant}); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("app: seed dev ticket: %w", err)
		}
	}
	if n := len(cfg.DevTickets); n > 0 {
		log.Warn("dev tickets seeded, do not use in production", "count", n)
	}
	return store, nil
}
