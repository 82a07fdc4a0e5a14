package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"plexguard/internal/auth"
	"plexguard/internal/models"
)

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)

	s.router.Route("/api/auth", func(r chi.Router) {
		r.Use(RateLimitAuth)
		r.Get("/status", s.authManager.HandleGetStatus)
		r.Get("/providers", s.authManager.HandleGetProviders)
		r.Post("/setup", s.handleSetup)
		r.With(RequireSetupComplete(s.authManager)).Post("/login/{provider}", s.handleProviderLogin)
		r.With(RequireSetupComplete(s.authManager)).Get("/callback/{provider}", s.handleProviderCallback)
		r.Post("/logout", s.authManager.HandleLogout)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(RequireAuthManager(s.authManager))

		r.Get("/me", s.handleMe)

		r.Get("/sessions", s.handleListSessions)
		r.With(RequireRole(models.RoleAdmin)).Post("/sessions/{id}/terminate", s.handleTerminateSession)

		r.With(RequireRole(models.RoleAdmin)).Get("/users", s.handleListUsers)
		r.With(RequireRole(models.RoleAdmin)).Post("/users/{id}/preference", s.handleUpdateUserPreference)
		r.With(RequireRole(models.RoleAdmin)).Post("/users/{id}/ip-policy", s.handleUpdateUserIPPolicy)
		r.With(RequireRole(models.RoleAdmin)).Post("/users/{id}/concurrent-stream-limit", s.handleUpdateUserConcurrentLimit)
		r.With(RequireRole(models.RoleAdmin)).Post("/users/{id}/hide", s.handleHideUser)
		r.With(RequireRole(models.RoleAdmin)).Post("/users/{id}/show", s.handleShowUser)

		r.With(RequireRole(models.RoleAdmin)).Get("/users/{id}/rules", s.handleListTimeRules)
		r.With(RequireRole(models.RoleAdmin)).Post("/users/{id}/rules", s.handleCreateTimeRule)
		r.With(RequireRole(models.RoleAdmin)).Put("/users/{id}/rules/{ruleID}", s.handleUpdateTimeRule)
		r.With(RequireRole(models.RoleAdmin)).Delete("/users/{id}/rules/{ruleID}", s.handleDeleteTimeRule)

		r.With(RequireRole(models.RoleAdmin)).Get("/devices", s.handleListDevices)
		r.With(RequireRole(models.RoleAdmin)).Patch("/devices/{id}", s.handlePatchDevice)

		r.With(RequireRole(models.RoleAdmin)).Get("/settings", s.handleGetSettings)
		r.With(RequireRole(models.RoleAdmin)).Patch("/settings", s.handlePatchSettings)

		r.Get("/user-portal/devices", s.handleUserPortalDevices)
		r.Get("/user-portal/rules", s.handleUserPortalRules)
		r.Get("/user-portal/settings", s.handleUserPortalSettings)
		r.Post("/user-portal/devices/{id}/request", s.handleUserPortalDeviceRequest)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.authManager.GetProvider(auth.ProviderLocal)
	if !ok {
		writeError(w, http.StatusNotFound, "local auth not available")
		return
	}
	local, ok := provider.(*auth.LocalProvider)
	if !ok {
		writeError(w, http.StatusNotFound, "local auth not available")
		return
	}
	RequireSetup(s.authManager)(http.HandlerFunc(local.HandleSetup)).ServeHTTP(w, r)
}

func (s *Server) handleProviderLogin(w http.ResponseWriter, r *http.Request) {
	name := auth.ProviderType(chi.URLParam(r, "provider"))
	provider, ok := s.authManager.GetProvider(name)
	if !ok || !provider.Enabled() {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}
	provider.HandleLogin(w, r)
}

func (s *Server) handleProviderCallback(w http.ResponseWriter, r *http.Request) {
	name := auth.ProviderType(chi.URLParam(r, "provider"))
	provider, ok := s.authManager.GetProvider(name)
	if !ok || !provider.Enabled() {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}
	provider.HandleCallback(w, r)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
