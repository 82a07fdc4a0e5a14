package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"plexguard/internal/models"
)

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func parseDeviceID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// handlePatchDevice applies whichever of the admin-editable device fields
// spec.md §6 groups under PATCH /devices/:id are present in the request:
// rename, status transition, concurrent-exclusion flag, temp-access
// grant/revoke, and marking a submitted note read.
func (s *Server) handlePatchDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseDeviceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	var req struct {
		DisplayName     *string           `json:"display_name"`
		Status          *models.DeviceStatus `json:"status"`
		ExcludeFromCap  *bool             `json:"exclude_from_concurrent_limit"`
		GrantTempAccess *struct {
			DurationMinutes int  `json:"duration_minutes"`
			BypassPolicies  bool `json:"bypass_policies"`
		} `json:"grant_temp_access"`
		RevokeTempAccess bool `json:"revoke_temp_access"`
		MarkNoteRead     bool `json:"mark_note_read"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	now := time.Now().UTC()

	if req.DisplayName != nil {
		if err := s.store.SetDeviceDisplayName(id, *req.DisplayName); err != nil {
			writeError(w, http.StatusInternalServerError, "internal")
			return
		}
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		if err := s.store.SetDeviceStatus(id, *req.Status); err != nil {
			writeDeviceErr(w, err)
			return
		}
	}
	if req.ExcludeFromCap != nil {
		if err := s.store.SetDeviceConcurrentExclusion(id, *req.ExcludeFromCap); err != nil {
			writeError(w, http.StatusInternalServerError, "internal")
			return
		}
	}
	if req.GrantTempAccess != nil {
		until := now.Add(time.Duration(req.GrantTempAccess.DurationMinutes) * time.Minute)
		if err := s.store.GrantTempAccess(id, now, until, req.GrantTempAccess.DurationMinutes, req.GrantTempAccess.BypassPolicies); err != nil {
			writeError(w, http.StatusInternalServerError, "internal")
			return
		}
	}
	if req.RevokeTempAccess {
		if err := s.store.RevokeTempAccess(id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal")
			return
		}
	}
	if req.MarkNoteRead {
		if err := s.store.MarkDeviceNoteRead(id, now); err != nil {
			writeError(w, http.StatusInternalServerError, "internal")
			return
		}
	}

	device, err := s.store.GetDeviceByID(id)
	if err != nil {
		writeDeviceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func writeDeviceErr(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal")
}
