package gateway

import (
	"net/http"

	"github.com/wsprism/wsprism/internal/outbound"
	"github.com/wsprism/wsprism/internal/protocol"
)

// handleHealthz reports process liveness. It stays 200 through a drain so
// orchestrators do not kill the process before the grace period runs out.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz flips to 503 as soon as draining starts, which pulls the
// instance out of the load balancer rotation.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"draining"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// shutdownNotice is the frame every live session receives when a drain
// begins.
func shutdownNotice() outbound.Item {
	return outbound.Item{
		Priority: outbound.Control,
		Payload:  protocol.SysFrame("shutdown", nil),
	}
}
