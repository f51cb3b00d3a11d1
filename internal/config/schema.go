// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for wsprism.
package config

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Gateway holds listener and connection lifecycle settings.
	Gateway GatewayConfig `yaml:"gateway"`

	// Auth configures the handshake ticket store.
	Auth AuthConfig `yaml:"auth,omitempty"`

	// Observability configures tracing. Metrics are always on.
	Observability ObsConfig `yaml:"observability,omitempty"`

	// Services enables the built-in service handlers.
	Services ServicesConfig `yaml:"services,omitempty"`

	// Tenants lists the tenant configurations. At least one is required.
	Tenants []TenantConfig `yaml:"tenants"`
}

// GatewayConfig holds the listener and per-connection timer settings.
type GatewayConfig struct {
	// Listen is the HTTP listen address (e.g. ":8080"). Requires restart.
	Listen string `yaml:"listen"`

	PingIntervalMs      int `yaml:"ping_interval_ms"`
	IdleTimeoutMs       int `yaml:"idle_timeout_ms"`
	WriterSendTimeoutMs int `yaml:"writer_send_timeout_ms"`
	DrainGraceMs        int `yaml:"drain_grace_ms"`

	// AdminToken protects the /admin endpoints with bearer auth. When empty
	// the endpoints are open; set it in any real deployment.
	AdminToken string `yaml:"admin_token,omitempty"`

	// HandshakeLimit rate-limits upgrades before any session state exists.
	HandshakeLimit HandshakeLimitConfig `yaml:"handshake_limit"`

	// Outbound bounds the per-session send queue tiers.
	Outbound OutboundConfig `yaml:"outbound,omitempty"`
}

// HandshakeLimitConfig configures the pre-upgrade defender.
type HandshakeLimitConfig struct {
	Enabled      bool    `yaml:"enabled"`
	GlobalRPS    float64 `yaml:"global_rps"`
	GlobalBurst  int     `yaml:"global_burst"`
	PerIPRPS     float64 `yaml:"per_ip_rps"`
	PerIPBurst   int     `yaml:"per_ip_burst"`
	MaxIPEntries int     `yaml:"max_ip_entries"`
}

// OutboundConfig caps the outbound queue tiers. Zero values use defaults.
type OutboundConfig struct {
	ControlCap  int `yaml:"control_cap"`
	ReliableCap int `yaml:"reliable_cap"`
	LossyCap    int `yaml:"lossy_cap"`
}

// AuthConfig selects and parameterizes the ticket store.
type AuthConfig struct {
	// TicketStore is "memory" (default) or "sqlite".
	TicketStore string `yaml:"ticket_store,omitempty"`

	// SQLitePath is the database file for the sqlite store.
	SQLitePath string `yaml:"sqlite_path,omitempty"`

	// DevTickets pre-seeds tickets at startup. Development only.
	DevTickets []DevTicket `yaml:"dev_tickets,omitempty"`
}

// DevTicket is a pre-seeded handshake ticket.
type DevTicket struct {
	Ticket string `yaml:"ticket"`
	User   string `yaml:"user"`
	Tenant string `yaml:"tenant"`
}

// ObsConfig holds observability settings.
type ObsConfig struct {
	Tracing TracingConfig `yaml:"tracing,omitempty"`
}

// TracingConfig enables the OTLP trace exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// ServicesConfig enables built-in services.
type ServicesConfig struct {
	Chat       ChatServiceConfig `yaml:"chat,omitempty"`
	EchoBinary EchoServiceConfig `yaml:"echo_binary,omitempty"`
}

// ChatServiceConfig enables the chat Ext service.
type ChatServiceConfig struct {
	Enabled bool `yaml:"enabled"`
}

// EchoServiceConfig enables the binary echo Hot service.
type EchoServiceConfig struct {
	Enabled bool  `yaml:"enabled"`
	SvcID   uint8 `yaml:"svc_id"`
}

// TenantConfig is one tenant's limits and admission policy.
type TenantConfig struct {
	ID     string       `yaml:"id"`
	Limits LimitsConfig `yaml:"limits"`
	Policy PolicyConfig `yaml:"policy"`
}

// LimitsConfig bounds per-tenant resource usage. Zero means unlimited except
// max_frame_bytes, which is required.
type LimitsConfig struct {
	MaxFrameBytes    int `yaml:"max_frame_bytes"`
	MaxSessionsTotal int `yaml:"max_sessions_total"`
	MaxRoomsTotal    int `yaml:"max_rooms_total"`
	MaxUsersPerRoom  int `yaml:"max_users_per_room"`
	MaxRoomsPerUser  int `yaml:"max_rooms_per_user"`
}

// PolicyConfig is the per-tenant admission policy.
type PolicyConfig struct {
	RateLimitRPS          float64        `yaml:"rate_limit_rps"`
	RateLimitBurst        int            `yaml:"rate_limit_burst"`
	RateLimitScope        string         `yaml:"rate_limit_scope"`
	Sessions              SessionsConfig `yaml:"sessions"`
	HotErrorMode          string         `yaml:"hot_error_mode"`
	HotRequiresActiveRoom bool           `yaml:"hot_requires_active_room"`
	ExtAllowlist          []string       `yaml:"ext_allowlist"`
	HotAllowlist          []string       `yaml:"hot_allowlist"`
}

// SessionsConfig bounds per-user session concurrency.
type SessionsConfig struct {
	Mode               string `yaml:"mode"`
	MaxSessionsPerUser int    `yaml:"max_sessions_per_user"`
	OnExceed           string `yaml:"on_exceed"`
}

// Timer defaults applied to zero-valued fields after parsing.
const (
	defaultPingIntervalMs      = 20000
	defaultIdleTimeoutMs       = 60000
	defaultWriterSendTimeoutMs = 5000
	defaultDrainGraceMs        = 10000
)

// applyDefaults fills zero-valued optional fields in place.
func (c *Config) applyDefaults() {
	g := &c.Gateway
	if g.PingIntervalMs == 0 {
		g.PingIntervalMs = defaultPingIntervalMs
	}
	if g.IdleTimeoutMs == 0 {
		g.IdleTimeoutMs = defaultIdleTimeoutMs
	}
	if g.WriterSendTimeoutMs == 0 {
		g.WriterSendTimeoutMs = defaultWriterSendTimeoutMs
	}
	if g.DrainGraceMs == 0 {
		g.DrainGraceMs = defaultDrainGraceMs
	}
	if c.Auth.TicketStore == "" {
		c.Auth.TicketStore = "memory"
	}
	for i := range c.Tenants {
		p := &c.Tenants[i].Policy
		if p.RateLimitScope == "" {
			p.RateLimitScope = "tenant"
		}
		if p.Sessions.Mode == "" {
			p.Sessions.Mode = "single"
		}
		if p.Sessions.OnExceed == "" {
			p.Sessions.OnExceed = "deny"
		}
		if p.HotErrorMode == "" {
			p.HotErrorMode = "sys_error"
		}
	}
}
