package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"plexguard/internal/auth"
	"plexguard/internal/models"
)

type contextKey string

const userContextKey contextKey = "user"

func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userContextKey).(*models.User)
	return u
}

// RequireAuthManager creates auth middleware using the auth.Manager
// SECURITY: No fallback to default admin - auth is always required
func RequireAuthManager(mgr *auth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(auth.CookieName)
			if err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			user, err := mgr.Store().GetSessionUser(cookie.Value)
			if err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			// Update session activity
			_ = mgr.Store().UpdateSessionActivity(cookie.Value)

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSetup allows access only when setup is required (no users exist)
func RequireSetup(mgr *auth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			required, err := mgr.IsSetupRequired()
			if err != nil {
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				return
			}
			if !required {
				http.Error(w, `{"error":"setup already complete"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSetupComplete is RequireSetup's complement: it allows access only
// once at least one admin account exists, for routes that would otherwise
// be reachable mid-setup (e.g. provider login before any admin exists).
func RequireSetupComplete(mgr *auth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			required, err := mgr.IsSetupRequired()
			if err != nil {
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				return
			}
			if required {
				http.Error(w, `{"error":"setup required"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func RequireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil || user.Role != role {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limiterEntry pairs a per-IP token bucket with its last-touched time, so
// cleanup can evict IPs that haven't attempted a login in a while.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// authRateLimiter tracks login attempts per IP using a token bucket per IP:
// burst attempts are allowed immediately, then refill at r per window.
type authRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	r        rate.Limit
	burst    int
	window   time.Duration
}

func newAuthRateLimiter(burst int, window time.Duration) *authRateLimiter {
	rl := &authRateLimiter{
		limiters: make(map[string]*limiterEntry),
		r:        rate.Every(window / time.Duration(burst)),
		burst:    burst,
		window:   window,
	}
	go rl.cleanupLoop()
	return rl
}

// cleanupLoop periodically evicts IPs idle longer than the limiter window,
// bounding map growth under churn from many distinct source IPs.
func (l *authRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.cleanup()
	}
}

func (l *authRateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

func (l *authRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.r, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// Global rate limiter for auth endpoints: burst of 10 attempts, refilling
// over a 15 minute window.
var globalAuthRateLimiter = newAuthRateLimiter(10, 15*time.Minute)

// RateLimitAuth applies rate limiting to authentication endpoints
// NOTE: Uses RemoteAddr only. If behind a trusted reverse proxy that sets
// X-Forwarded-For, configure the proxy to set RemoteAddr correctly instead.
func RateLimitAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Use RemoteAddr directly - don't trust X-Forwarded-For which can be spoofed.
		// For deployments behind reverse proxies, configure the proxy to strip
		// client-provided X-Forwarded-For headers and set RemoteAddr correctly.
		ip := r.RemoteAddr

		// Strip port if present
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}

		if !globalAuthRateLimiter.allow(ip) {
			w.Header().Set("Retry-After", "900") // 15 minutes
			http.Error(w, `{"error":"too many login attempts, try again later"}`, http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
