package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"plexguard/internal/auth"
	"plexguard/internal/configstore"
	"plexguard/internal/eventbus"
	"plexguard/internal/geoip"
	"plexguard/internal/media"
	"plexguard/internal/registry"
	"plexguard/internal/store"
	"plexguard/internal/version"
)

// Server is the JSON HTTP surface spec.md §6 describes: the admin surface
// and the scoped user portal, both backed directly by the same store,
// registry, and config the polling core uses.
type Server struct {
	router      chi.Router
	store       *store.Store
	upstream    media.MediaServer
	registry    *registry.Registry
	config      *configstore.Store
	bus         *eventbus.Bus
	authManager *auth.Manager
	geo         *geoip.Resolver
	corsOrigin  string
	version     *version.Checker
	appCtx      context.Context
}

func NewServer(s *store.Store, opts ...Option) *Server {
	srv := &Server{
		router: chi.NewRouter(),
		store:  s,
		appCtx: context.Background(),
	}
	for _, o := range opts {
		o(srv)
	}
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(securityHeaders)
	if srv.corsOrigin != "" {
		srv.router.Use(corsMiddleware(srv.corsOrigin))
	}
	srv.routes()
	return srv
}

type Option func(*Server)

func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

func WithUpstream(m media.MediaServer) Option {
	return func(s *Server) { s.upstream = m }
}

func WithRegistry(r *registry.Registry) Option {
	return func(s *Server) { s.registry = r }
}

func WithConfig(c *configstore.Store) Option {
	return func(s *Server) { s.config = c }
}

func WithEventBus(b *eventbus.Bus) Option {
	return func(s *Server) { s.bus = b }
}

func WithAuthManager(m *auth.Manager) Option {
	return func(s *Server) { s.authManager = m }
}

func WithGeoResolver(g *geoip.Resolver) Option {
	return func(s *Server) { s.geo = g }
}

func WithVersion(v *version.Checker) Option {
	return func(s *Server) { s.version = v }
}

func WithAppContext(ctx context.Context) Option {
	return func(s *Server) { s.appCtx = ctx }
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StopRateLimiter and StopAuthRateLimiter are hooks for a graceful-shutdown
// sequence that has nothing background to stop in this build; the
// authRateLimiter's cleanup goroutine is tied to process lifetime like the
// rest of the daemon's background loops.
func StopRateLimiter()     {}
func StopAuthRateLimiter() {}
