package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"plexguard/internal/auth"
	"plexguard/internal/models"
)

func contextWithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

func TestRequireAuthManager_NoCookie_Returns401(t *testing.T) {
	st := newEmptyStore(t)
	mgr := auth.NewManager(st)

	mw := RequireAuthManager(mgr)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestRequireAuthManager_ValidSession(t *testing.T) {
	st := newEmptyStore(t)
	mgr := auth.NewManager(st)

	user, err := st.CreateLocalUser("testuser", "", "hash", models.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	token, err := st.CreateSession(user.ID, time.Now().UTC().Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	mw := RequireAuthManager(mgr)
	var gotUser *models.User
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if gotUser == nil {
		t.Fatal("expected user in context")
	}
	if gotUser.Name != "testuser" {
		t.Errorf("expected testuser, got %s", gotUser.Name)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	mw := RequireRole(models.RoleAdmin)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestRequireRole_Allowed(t *testing.T) {
	mw := RequireRole(models.RoleAdmin)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	ctx := contextWithUser(req.Context(), &models.User{Name: "admin", Role: models.RoleAdmin})
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestRequireSetup_AllowsWhenNoUsers(t *testing.T) {
	st := newEmptyStore(t)
	mgr := auth.NewManager(st)

	mw := RequireSetup(mgr)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 when no users exist, got %d", w.Code)
	}
}

func TestRequireSetup_BlocksWhenUsersExist(t *testing.T) {
	st := newEmptyStore(t)
	mgr := auth.NewManager(st)

	if _, err := st.CreateLocalUser("existing_user", "", "hash", models.RoleAdmin); err != nil {
		t.Fatal(err)
	}

	mw := RequireSetup(mgr)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 when users exist, got %d", w.Code)
	}
}

func TestRequireSetupComplete_BlocksWhenNoUsers(t *testing.T) {
	st := newEmptyStore(t)
	mgr := auth.NewManager(st)

	mw := RequireSetupComplete(mgr)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 when no users exist, got %d", w.Code)
	}
}

func TestRequireSetupComplete_AllowsWhenUsersExist(t *testing.T) {
	st := newEmptyStore(t)
	mgr := auth.NewManager(st)

	if _, err := st.CreateLocalUser("existing_user", "", "hash", models.RoleAdmin); err != nil {
		t.Fatal(err)
	}

	mw := RequireSetupComplete(mgr)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 when users exist, got %d", w.Code)
	}
}
