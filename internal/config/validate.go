package config

import (
	"errors"
	"fmt"

	"github.com/wsprism/wsprism/internal/policy"
	"github.com/wsprism/wsprism/internal/session"
)

// Validate checks the structural validity of a Config. All problems are
// reported at once via errors.Join so operators fix a broken file in one
// round trip.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	errs = append(errs, validateGateway(&cfg.Gateway)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)

	if len(cfg.Tenants) == 0 {
		errs = append(errs, errors.New("config: at least one tenant must be configured"))
	}
	seen := make(map[string]struct{}, len(cfg.Tenants))
	for i := range cfg.Tenants {
		t := &cfg.Tenants[i]
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("config: tenants[%d]: id is required", i))
			continue
		}
		if _, dup := seen[t.ID]; dup {
			errs = append(errs, fmt.Errorf("config: duplicate tenant id %q", t.ID))
		}
		seen[t.ID] = struct{}{}
		errs = append(errs, validateTenant(t)...)
	}

	return errors.Join(errs...)
}

func validateGateway(g *GatewayConfig) []error {
	var errs []error
	if g.Listen == "" {
		errs = append(errs, errors.New("config: gateway.listen is required"))
	}
	if g.PingIntervalMs <= 0 {
		errs = append(errs, errors.New("config: gateway.ping_interval_ms must be positive"))
	}
	if g.IdleTimeoutMs <= g.PingIntervalMs {
		errs = append(errs, errors.New("config: gateway.idle_timeout_ms must exceed ping_interval_ms"))
	}
	if g.WriterSendTimeoutMs <= 0 {
		errs = append(errs, errors.New("config: gateway.writer_send_timeout_ms must be positive"))
	}
	if g.DrainGraceMs < 0 {
		errs = append(errs, errors.New("config: gateway.drain_grace_ms must not be negative"))
	}

	h := &g.HandshakeLimit
	if h.Enabled {
		if h.GlobalRPS <= 0 || h.GlobalBurst <= 0 {
			errs = append(errs, errors.New("config: gateway.handshake_limit: global_rps and global_burst must be positive"))
		}
		if h.PerIPRPS <= 0 || h.PerIPBurst <= 0 {
			errs = append(errs, errors.New("config: gateway.handshake_limit: per_ip_rps and per_ip_burst must be positive"))
		}
		if h.MaxIPEntries <= 0 {
			errs = append(errs, errors.New("config: gateway.handshake_limit.max_ip_entries must be positive"))
		}
	}

	o := &g.Outbound
	if o.ControlCap < 0 || o.ReliableCap < 0 || o.LossyCap < 0 {
		errs = append(errs, errors.New("config: gateway.outbound caps must not be negative"))
	}
	return errs
}

func validateAuth(a *AuthConfig) []error {
	var errs []error
	switch a.TicketStore {
	case "memory":
	case "sqlite":
		if a.SQLitePath == "" {
			errs = append(errs, errors.New("config: auth.sqlite_path is required for the sqlite ticket store"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: auth.ticket_store: unknown store %q (supported: memory, sqlite)", a.TicketStore))
	}
	for i, d := range a.DevTickets {
		if d.Ticket == "" || d.User == "" || d.Tenant == "" {
			errs = append(errs, fmt.Errorf("config: auth.dev_tickets[%d]: ticket, user, and tenant are required", i))
		}
	}
	return errs
}

func validateTenant(t *TenantConfig) []error {
	var errs []error
	id := t.ID

	if t.Limits.MaxFrameBytes <= 0 {
		errs = append(errs, fmt.Errorf("config: tenant %q: limits.max_frame_bytes must be positive", id))
	}

	p := &t.Policy
	if p.RateLimitRPS < 0 || p.RateLimitBurst < 0 {
		errs = append(errs, fmt.Errorf("config: tenant %q: rate limit values must not be negative", id))
	}
	if _, ok := policy.ParseScope(p.RateLimitScope); !ok {
		errs = append(errs, fmt.Errorf("config: tenant %q: unknown rate_limit_scope %q", id, p.RateLimitScope))
	}
	if _, ok := policy.ParseHotErrorMode(p.HotErrorMode); !ok {
		errs = append(errs, fmt.Errorf("config: tenant %q: unknown hot_error_mode %q", id, p.HotErrorMode))
	}
	if _, ok := session.ParseMode(p.Sessions.Mode); !ok {
		errs = append(errs, fmt.Errorf("config: tenant %q: unknown sessions.mode %q", id, p.Sessions.Mode))
	}
	if _, ok := session.ParseOnExceed(p.Sessions.OnExceed); !ok {
		errs = append(errs, fmt.Errorf("config: tenant %q: unknown sessions.on_exceed %q", id, p.Sessions.OnExceed))
	}
	if p.Sessions.MaxSessionsPerUser < 0 {
		errs = append(errs, fmt.Errorf("config: tenant %q: sessions.max_sessions_per_user must not be negative", id))
	}

	if _, err := policy.Compile(p.ExtAllowlist, p.HotAllowlist); err != nil {
		errs = append(errs, fmt.Errorf("config: tenant %q: %w", id, err))
	}
	return errs
}
