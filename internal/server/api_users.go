package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"plexguard/internal/models"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.store.ListPreferences()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) getOrCreatePreference(userID string) (models.UserPreference, error) {
	pref, err := s.store.GetPreference(userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return models.UserPreference{}, err
	}
	pref.UserID = userID
	return pref, nil
}

func (s *Server) handleUpdateUserPreference(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	var req struct {
		DefaultBlock *bool `json:"default_block"`
		Hidden       *bool `json:"hidden"`
		NetworkPolicy *models.NetworkPolicy `json:"network_policy"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	pref, err := s.getOrCreatePreference(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if req.DefaultBlock != nil {
		pref.DefaultBlock = req.DefaultBlock
	}
	if req.Hidden != nil {
		pref.Hidden = *req.Hidden
	}
	if req.NetworkPolicy != nil {
		if !req.NetworkPolicy.Valid() {
			writeError(w, http.StatusBadRequest, "invalid network_policy")
			return
		}
		pref.NetworkPolicy = *req.NetworkPolicy
	}
	if err := s.store.UpsertPreference(&pref); err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

func (s *Server) handleUpdateUserIPPolicy(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	var req struct {
		IPAccessPolicy models.IPAccessPolicy `json:"ip_access_policy"`
		AllowedIPs     []string              `json:"allowed_ips"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !req.IPAccessPolicy.Valid() {
		writeError(w, http.StatusBadRequest, "invalid ip_access_policy")
		return
	}

	pref, err := s.getOrCreatePreference(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	pref.IPAccessPolicy = req.IPAccessPolicy
	pref.AllowedIPs = req.AllowedIPs
	if err := s.store.UpsertPreference(&pref); err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

func (s *Server) handleUpdateUserConcurrentLimit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	var req struct {
		ConcurrentStreamLimit *int `json:"concurrent_stream_limit"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	pref, err := s.getOrCreatePreference(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	pref.ConcurrentStreamLimit = req.ConcurrentStreamLimit
	if err := s.store.UpsertPreference(&pref); err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

func (s *Server) setUserHidden(w http.ResponseWriter, r *http.Request, hidden bool) {
	userID := chi.URLParam(r, "id")
	pref, err := s.getOrCreatePreference(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	pref.Hidden = hidden
	if err := s.store.UpsertPreference(&pref); err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

func (s *Server) handleHideUser(w http.ResponseWriter, r *http.Request) { s.setUserHidden(w, r, true) }
func (s *Server) handleShowUser(w http.ResponseWriter, r *http.Request) { s.setUserHidden(w, r, false) }
