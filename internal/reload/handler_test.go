package reload

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wsprism/wsprism/internal/clock"
	"github.com/wsprism/wsprism/internal/config"
	"github.com/wsprism/wsprism/internal/tenant"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, path, frameBytes string, tenantIDs ...string) {
	t.Helper()
	body := "version: \"1\"\ngateway:\n  listen: \":8080\"\ntenants:\n"
	for _, id := range tenantIDs {
		body += "  - id: " + id + "\n    limits:\n      max_frame_bytes: " + frameBytes + "\n"
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func testMap(t *testing.T) *tenant.Map {
	t.Helper()
	m, err := tenant.NewMap([]config.TenantConfig{{
		ID:     "acme",
		Limits: config.LimitsConfig{MaxFrameBytes: 65536},
	}}, clock.NewFake(time.Unix(1000, 0)))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestHandlerReloadAppliesNewConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wsprism.yaml")
	writeConfig(t, path, "1024", "acme", "globex")

	m := testMap(t)
	h := NewHandler(path, ":8080", m, testLogger())
	if err := h.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	st, ok := m.Lookup("acme")
	if !ok {
		t.Fatal("acme missing after reload")
	}
	if got := st.NewPipeline(nil).MaxFrameBytes; got != 1024 {
		t.Fatalf("frame limit = %d after reload, want 1024", got)
	}
	if _, ok := m.Lookup("globex"); !ok {
		t.Fatal("new tenant not created on reload")
	}
}

func TestHandlerReloadMissingFile(t *testing.T) {
	t.Parallel()

	h := NewHandler(filepath.Join(t.TempDir(), "absent.yaml"), ":8080", testMap(t), testLogger())
	if err := h.Reload(); err == nil {
		t.Fatal("reload of a missing file succeeded")
	}
}

func TestHandlerReloadInvalidConfigKeepsOld(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wsprism.yaml")
	writeConfig(t, path, "0", "acme") // max_frame_bytes must be positive

	m := testMap(t)
	h := NewHandler(path, ":8080", m, testLogger())
	if err := h.Reload(); err == nil {
		t.Fatal("invalid config accepted")
	}

	st, ok := m.Lookup("acme")
	if !ok {
		t.Fatal("tenant lost after failed reload")
	}
	if got := st.NewPipeline(nil).MaxFrameBytes; got != 65536 {
		t.Fatalf("frame limit = %d, want previous 65536", got)
	}
}
