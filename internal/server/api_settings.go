package server

import (
	"net/http"

	"plexguard/internal/configstore"
)

// privateSettingKeys never appear in an Export() response to the admin UI's
// settings list, even though they're admin-editable via PATCH.
var privateSettingKeys = map[string]bool{
	configstore.KeyPlexToken: true,
}

// handleGetSettings returns every non-private setting row plus the
// resolved policy defaults, so the admin UI can show effective values
// even for keys that have never been explicitly set.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.config.Export()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settings": settings,
		"policy":   s.config.LoadPolicyConfig(),
	})
}

// handlePatchSettings writes each key/value pair present in the request
// body. Values are stored as strings; configstore's typed getters parse
// them lazily on read, matching how the settings table has always worked.
func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	for key, value := range req {
		if err := s.config.SetString(key, value, privateSettingKeys[key]); err != nil {
			writeError(w, http.StatusInternalServerError, "internal")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
