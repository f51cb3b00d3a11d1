package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wsprism/wsprism/internal/session"
	"github.com/wsprism/wsprism/internal/ticket"
)

// adminAuth enforces bearer auth on the admin API when admin_token is set.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminToken)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type sessionInfo struct {
	ID         string   `json:"id"`
	User       string   `json:"user"`
	Tenant     string   `json:"tenant"`
	RemoteAddr string   `json:"remote_addr"`
	ActiveRoom string   `json:"active_room,omitempty"`
	Rooms      []string `json:"rooms,omitempty"`
}

// handleListSessions reports every live session across all tenants.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	out := make([]sessionInfo, 0, 64)
	for _, st := range s.tenants.All() {
		for _, sess := range st.Registry().Snapshot() {
			out = append(out, sessionInfo{
				ID:         sess.ID.String(),
				User:       sess.User,
				Tenant:     sess.Tenant,
				RemoteAddr: sess.RemoteAddr,
				ActiveRoom: sess.ActiveRoom(),
				Rooms:      sess.JoinedRooms(),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// handleKillSession requests close of one session by id.
func (s *Server) handleKillSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	for _, st := range s.tenants.All() {
		if sess, ok := st.Registry().Lookup(id); ok {
			sess.RequestClose(session.ReasonPolicyShutdown)
			s.log.Info("session closed by admin", "session", id.String(), "tenant", sess.Tenant)
			writeJSON(w, http.StatusOK, map[string]any{"status": "closing"})
			return
		}
	}
	http.Error(w, "unknown session", http.StatusNotFound)
}

type roomInfo struct {
	Tenant  string `json:"tenant"`
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// handleListRooms reports every live room and its member count.
func (s *Server) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	out := make([]roomInfo, 0, 64)
	for _, st := range s.tenants.All() {
		tenantID := st.Config().ID
		for name, members := range st.Presence().Rooms() {
			out = append(out, roomInfo{Tenant: tenantID, Name: name, Members: members})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleReload re-reads the config file and applies it to every tenant.
// Validation failures leave the running configuration untouched.
func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	if err := s.reload(); err != nil {
		s.log.Error("config reload failed", "error", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.log.Info("config reloaded")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"reloaded"}`))
}

type issueTicketRequest struct {
	Ticket string `json:"ticket"`
	User   string `json:"user"`
	Tenant string `json:"tenant"`
}

// handleIssueTicket registers a handshake ticket. In production this sits
// behind the platform's own auth service; the endpoint exists so operators
// and integration tests can mint tickets directly.
func (s *Server) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	var req issueTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Ticket == "" || req.User == "" || req.Tenant == "" {
		http.Error(w, "ticket, user and tenant are required", http.StatusBadRequest)
		return
	}
	if _, ok := s.tenants.Lookup(req.Tenant); !ok {
		http.Error(w, "unknown tenant", http.StatusNotFound)
		return
	}
	if err := s.tickets.Issue(r.Context(), req.Ticket, ticket.Identity{User: req.User, Tenant: req.Tenant}); err != nil {
		s.log.Error("ticket issue failed", "error", err)
		http.Error(w, "ticket store unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"status":"issued"}`))
}
