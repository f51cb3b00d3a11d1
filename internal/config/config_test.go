package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
version: "1"
gateway:
  listen: ":8080"
tenants:
  - id: acme
    limits:
      max_frame_bytes: 65536
    policy:
      rate_limit_rps: 100
      rate_limit_burst: 200
      ext_allowlist: ["chat:send", "game:*"]
      hot_allowlist: ["7:1", "9:*"]
`

func TestParseValidConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.Gateway.Listen != ":8080" {
		t.Fatalf("listen = %q", cfg.Gateway.Listen)
	}
	// Timer defaults.
	if cfg.Gateway.PingIntervalMs != 20000 || cfg.Gateway.IdleTimeoutMs != 60000 {
		t.Fatalf("timer defaults not applied: %+v", cfg.Gateway)
	}
	if cfg.Gateway.WriterSendTimeoutMs != 5000 || cfg.Gateway.DrainGraceMs != 10000 {
		t.Fatalf("timer defaults not applied: %+v", cfg.Gateway)
	}
	if cfg.Auth.TicketStore != "memory" {
		t.Fatalf("ticket store default = %q", cfg.Auth.TicketStore)
	}

	p := cfg.Tenants[0].Policy
	if p.RateLimitScope != "tenant" || p.Sessions.Mode != "single" ||
		p.Sessions.OnExceed != "deny" || p.HotErrorMode != "sys_error" {
		t.Fatalf("policy defaults not applied: %+v", p)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	in := strings.Replace(validYAML, "listen: \":8080\"", "listen: \":8080\"\n  tls: true", 1)
	if _, err := Parse([]byte(in)); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantMsg string
	}{
		{
			name:    "missing version",
			mutate:  func(c *Config) { c.Version = "" },
			wantMsg: "version field is required",
		},
		{
			name:    "unsupported version",
			mutate:  func(c *Config) { c.Version = "2" },
			wantMsg: "unsupported version",
		},
		{
			name:    "missing listen",
			mutate:  func(c *Config) { c.Gateway.Listen = "" },
			wantMsg: "gateway.listen is required",
		},
		{
			name:    "idle not exceeding ping",
			mutate:  func(c *Config) { c.Gateway.IdleTimeoutMs = c.Gateway.PingIntervalMs },
			wantMsg: "idle_timeout_ms must exceed",
		},
		{
			name:    "no tenants",
			mutate:  func(c *Config) { c.Tenants = nil },
			wantMsg: "at least one tenant",
		},
		{
			name: "duplicate tenant",
			mutate: func(c *Config) {
				c.Tenants = append(c.Tenants, c.Tenants[0])
			},
			wantMsg: "duplicate tenant id",
		},
		{
			name:    "missing frame limit",
			mutate:  func(c *Config) { c.Tenants[0].Limits.MaxFrameBytes = 0 },
			wantMsg: "max_frame_bytes must be positive",
		},
		{
			name:    "bad scope",
			mutate:  func(c *Config) { c.Tenants[0].Policy.RateLimitScope = "global" },
			wantMsg: "unknown rate_limit_scope",
		},
		{
			name:    "bad hot error mode",
			mutate:  func(c *Config) { c.Tenants[0].Policy.HotErrorMode = "loud" },
			wantMsg: "unknown hot_error_mode",
		},
		{
			name:    "bad session mode",
			mutate:  func(c *Config) { c.Tenants[0].Policy.Sessions.Mode = "triple" },
			wantMsg: "unknown sessions.mode",
		},
		{
			name:    "bad allowlist pattern",
			mutate:  func(c *Config) { c.Tenants[0].Policy.ExtAllowlist = []string{"nocolon"} },
			wantMsg: "allowlist pattern",
		},
		{
			name: "sqlite without path",
			mutate: func(c *Config) {
				c.Auth.TicketStore = "sqlite"
				c.Auth.SQLitePath = ""
			},
			wantMsg: "sqlite_path is required",
		},
		{
			name: "defender enabled without rates",
			mutate: func(c *Config) {
				c.Gateway.HandshakeLimit.Enabled = true
			},
			wantMsg: "handshake_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Parse([]byte(validYAML))
			if err != nil {
				t.Fatalf("base config invalid: %v", err)
			}
			tt.mutate(cfg)
			err = Validate(cfg)
			if err == nil {
				t.Fatal("validation passed, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestValidateReportsAllErrorsAtOnce(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Version = ""
	cfg.Gateway.Listen = ""
	cfg.Tenants[0].Limits.MaxFrameBytes = 0

	verr := Validate(cfg)
	if verr == nil {
		t.Fatal("validation passed")
	}
	for _, want := range []string{"version", "listen", "max_frame_bytes"} {
		if !strings.Contains(verr.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, verr)
		}
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("WSPRISM_TEST_LISTEN", ":9999")

	in := strings.Replace(validYAML, ":8080", "${WSPRISM_TEST_LISTEN}", 1)
	in = strings.Replace(in, "max_frame_bytes: 65536", "max_frame_bytes: ${WSPRISM_TEST_FRAME:-32768}", 1)

	path := filepath.Join(t.TempDir(), "wsprism.yaml")
	if err := os.WriteFile(path, []byte(in), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Listen != ":9999" {
		t.Fatalf("listen = %q, want env value", cfg.Gateway.Listen)
	}
	if cfg.Tenants[0].Limits.MaxFrameBytes != 32768 {
		t.Fatalf("max_frame_bytes = %d, want default 32768", cfg.Tenants[0].Limits.MaxFrameBytes)
	}
}

func TestLoadUnresolvedEnvFails(t *testing.T) {
	t.Parallel()

	in := strings.Replace(validYAML, ":8080", "${WSPRISM_DEFINITELY_UNSET_VAR}", 1)
	path := filepath.Join(t.TempDir(), "wsprism.yaml")
	if err := os.WriteFile(path, []byte(in), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unresolved variable") {
		t.Fatalf("err = %v, want unresolved variable error", err)
	}
}
