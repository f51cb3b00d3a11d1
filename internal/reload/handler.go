package reload

import (
	"fmt"
	"log/slog"

	"github.com/wsprism/wsprism/internal/config"
	"github.com/wsprism/wsprism/internal/tenant"
)

// Handler re-reads the config file and applies tenant policy to the running
// gateway. Gateway-level settings (listen address, timeouts) are fixed at
// startup; only the tenant sections take effect on reload.
type Handler struct {
	path    string
	listen  string
	tenants *tenant.Map
	log     *slog.Logger
}

// NewHandler creates a reload handler bound to a config path. The listen
// address the gateway started with is remembered so a changed one can be
// called out on reload.
func NewHandler(path, listen string, tenants *tenant.Map, log *slog.Logger) *Handler {
	return &Handler{
		path:    path,
		listen:  listen,
		tenants: tenants,
		log:     log.With("component", "reload"),
	}
}

// Reload loads and validates the file, then swaps every tenant's compiled
// policy. A file that fails validation changes nothing.
func (h *Handler) Reload() error {
	cfg, err := config.Load(h.path)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if cfg.Gateway.Listen != h.listen {
		h.log.Warn("gateway.listen changed in config, restart required to apply",
			"running", h.listen, "configured", cfg.Gateway.Listen)
	}
	if err := h.tenants.Reload(cfg.Tenants); err != nil {
		return fmt.Errorf("reload: apply tenants: %w", err)
	}
	h.log.Info("configuration reloaded", "tenants", len(cfg.Tenants))
	return nil
}
