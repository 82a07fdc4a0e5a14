package server

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"plexguard/internal/configstore"
	"plexguard/internal/models"
)

type enrichedSession struct {
	SessionKey   string            `json:"session_key"`
	SessionID    string            `json:"session_id"`
	UserID       string            `json:"user_id"`
	Username     string            `json:"username"`
	Title        string            `json:"title"`
	DeviceStatus string            `json:"device_status"`
	SessionCount int64             `json:"session_count"`
	Address      string            `json:"address"`
	Geo          *models.GeoResult `json:"geo,omitempty"`
}

// handleListSessions returns the current enriched session snapshot: the
// upstream's raw sessions annotated with each device's registry state, so
// the admin UI doesn't need a second round trip per row.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.upstream.FetchSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "fetching sessions failed")
		return
	}

	out := make([]enrichedSession, 0, len(snapshot.Sessions))
	for _, session := range snapshot.Sessions {
		row := enrichedSession{
			SessionKey: session.SessionKey,
			SessionID:  session.SessionID,
			UserID:     session.User.ID,
			Username:   session.User.Name,
			Title:      session.Content.Title,
			Address:    session.Player.Address,
		}
		if device, err := s.registry.Get(session.User.ID, session.Player.MachineID); err == nil && device != nil {
			row.DeviceStatus = string(device.Status)
			row.SessionCount = device.SessionCount
		}
		if s.geo != nil {
			if ip := net.ParseIP(session.Player.Address); ip != nil {
				row.Geo = s.geo.Lookup(ip)
			}
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTerminateSession is admin-initiated termination with a
// caller-supplied reason, bypassing policy evaluation entirely.
func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	var req struct {
		Reason string `json:"reason"`
	}
	_ = decodeJSON(r, &req)
	if req.Reason == "" {
		req.Reason = s.config.GetString(configstore.KeyMsgDeviceRejected, "Terminated by administrator.")
	}

	if err := s.upstream.TerminateSession(r.Context(), sessionID, req.Reason); err != nil {
		writeError(w, http.StatusBadGateway, "termination failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
