package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wsprism/wsprism/internal/clock"
	"github.com/wsprism/wsprism/internal/config"
	"github.com/wsprism/wsprism/internal/defender"
	"github.com/wsprism/wsprism/internal/obs"
	"github.com/wsprism/wsprism/internal/tenant"
	"github.com/wsprism/wsprism/internal/ticket"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	clk := clock.NewFake(time.Unix(1000, 0))
	tenants, err := tenant.NewMap([]config.TenantConfig{{
		ID:     "acme",
		Limits: config.LimitsConfig{MaxFrameBytes: 65536, MaxSessionsTotal: 10},
	}}, clk)
	if err != nil {
		t.Fatal(err)
	}

	return &Handler{
		Tenants:  tenants,
		Tickets:  ticket.NewMemoryStore(),
		Defender: defender.New(config.HandshakeLimitConfig{}),
		Metrics:  obs.NewMetrics(),
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:    clk,
		Draining: &atomic.Bool{},
	}
}

func handshake(h *Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "203.0.113.1:50000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandshakeRefusedWhileDraining(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)
	h.Draining.Store(true)
	if rec := handshake(h, "/v1/ws?tenant=acme&ticket=tok"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandshakeMissingParams(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)
	for _, target := range []string{"/v1/ws", "/v1/ws?tenant=acme", "/v1/ws?ticket=tok"} {
		if rec := handshake(h, target); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestHandshakeUnknownTenant(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)
	if rec := handshake(h, "/v1/ws?tenant=nope&ticket=tok"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandshakeRateLimited(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)
	h.Defender = defender.New(config.HandshakeLimitConfig{
		Enabled:      true,
		GlobalRPS:    1,
		GlobalBurst:  1,
		PerIPRPS:     1,
		PerIPBurst:   1,
		MaxIPEntries: 4,
	})

	// The first attempt passes the defender but fails on the unknown ticket.
	if rec := handshake(h, "/v1/ws?tenant=acme&ticket=tok"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("first attempt = %d, want 401", rec.Code)
	}
	if rec := handshake(h, "/v1/ws?tenant=acme&ticket=tok"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second attempt = %d, want 429", rec.Code)
	}
}

func TestHandshakeInvalidTicket(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)
	if rec := handshake(h, "/v1/ws?tenant=acme&ticket=never-issued"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHandshakeTicketTenantMismatch(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)
	if err := h.Tickets.Issue(context.Background(), "tok", ticket.Identity{User: "alice", Tenant: "globex"}); err != nil {
		t.Fatal(err)
	}
	if rec := handshake(h, "/v1/ws?tenant=acme&ticket=tok"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	// The mismatched ticket is still consumed; a replay stays rejected.
	if _, err := h.Tickets.Consume(context.Background(), "tok"); err == nil {
		t.Fatal("mismatched ticket was not consumed")
	}
}

func TestRemoteIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want string
	}{
		{"203.0.113.1:50000", "203.0.113.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"no-port-here", "no-port-here"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/v1/ws", nil)
		req.RemoteAddr = tt.addr
		if got := remoteIP(req); got != tt.want {
			t.Fatalf("remoteIP(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
