package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// ─── Middleware ────────────────────────────────────────────────────────────

// adminAuth enforces HTTP Basic Auth using WEB_ADMIN as the password.
// Username is ignored — any value is accepted.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.WebAdminPassword)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="gathernet admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Handlers ──────────────────────────────────────────────────────────────

const defaultAuditLogLimit = 100

// handleAdminAuditLog returns recent inbox rejections and delivery terminal
// failures, newest first.
func (s *Server) handleAdminAuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.GetAuditLog(defaultAuditLogLimit)
	if err != nil {
		slog.Error("admin audit log query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, entries, http.StatusOK)
}

// handleAdminLogSnapshot returns the current ring-buffer contents as a JSON
// array of raw log lines. The client refreshes on demand instead of streaming.
func (s *Server) handleAdminLogSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.logBroadcaster == nil {
		jsonResponse(w, []string{}, http.StatusOK)
		return
	}
	lines := s.logBroadcaster.Lines()
	if lines == nil {
		lines = []string{}
	}
	jsonResponse(w, lines, http.StatusOK)
}

// handleAdminStats returns instance-wide aggregate counts for the operator
// dashboard.
func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.InstanceStats()
	if err != nil {
		slog.Error("admin stats query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]interface{}{
		"local_users":       stats.LocalUserCount,
		"remote_users":      stats.RemoteUserCount,
		"events":            stats.EventCount,
		"comments":          stats.CommentCount,
		"pending_deliveries": stats.PendingDeliveryCount,
		"failed_deliveries":  stats.FailedDeliveryCount,
		"started_at":         s.startedAt.Unix(),
		"version":            version,
	}, http.StatusOK)
}
