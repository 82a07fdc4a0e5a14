package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"plexguard/internal/eventbus"
	"plexguard/internal/models"
)

// portalUserID resolves which Plex user id the caller is scoped to: the
// portal account's name is used as the Plex user id, so an account whose
// name matches no Plex user sees an empty device/rule set.
func portalUserID(r *http.Request) string {
	user := UserFromContext(r.Context())
	if user == nil {
		return ""
	}
	return user.Name
}

func (s *Server) handleUserPortalDevices(w http.ResponseWriter, r *http.Request) {
	userID := portalUserID(r)
	devices, err := s.registry.ListForUser(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleUserPortalRules(w http.ResponseWriter, r *http.Request) {
	userID := portalUserID(r)
	rules, err := s.store.ListTimeRulesForUser(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleUserPortalSettings(w http.ResponseWriter, r *http.Request) {
	userID := portalUserID(r)
	pref, err := s.store.GetPreference(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	cfg := s.config.LoadPolicyConfig()
	writeJSON(w, http.StatusOK, map[string]any{
		"preference": pref,
		"policy": map[string]any{
			"concurrent_stream_limit": cfg.ConcurrentStreamLimit,
			"timezone":                cfg.Timezone,
		},
	})
}

// handleUserPortalDeviceRequest lets a caller submit the one-time note on
// one of their own devices (spec.md §4.2's DeviceNote), whatever its status,
// asking an
// administrator to reconsider it. A second submission is rejected; the
// caller must wait for an admin to act or mark it read.
func (s *Server) handleUserPortalDeviceRequest(w http.ResponseWriter, r *http.Request) {
	userID := portalUserID(r)
	deviceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	device, err := s.store.GetDeviceByID(deviceID)
	if err != nil {
		writeDeviceErr(w, err)
		return
	}
	if device.UserID != userID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if device.Note.Submitted() {
		writeError(w, http.StatusConflict, "a request has already been submitted for this device")
		return
	}

	var req struct {
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	if err := s.store.SubmitDeviceNote(deviceID, req.Description, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type:    eventbus.EventDeviceNoteSubmitted,
			Payload: models.DeviceNoteSubmittedEvent{Device: *device, Description: req.Description},
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
