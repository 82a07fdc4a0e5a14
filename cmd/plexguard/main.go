package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"plexguard/internal/auth"
	"plexguard/internal/configstore"
	"plexguard/internal/crypto"
	"plexguard/internal/eventbus"
	"plexguard/internal/geoip"
	"plexguard/internal/media"
	"plexguard/internal/media/plex"
	"plexguard/internal/orchestrator"
	"plexguard/internal/policy"
	"plexguard/internal/registry"
	"plexguard/internal/scheduler"
	"plexguard/internal/server"
	"plexguard/internal/store"
	"plexguard/internal/version"
)

var Version = "dev"

func main() {
	dbPath := envOr("DB_PATH", "./data/plexguard.db")
	listenAddr := envOr("LISTEN_ADDR", ":7935")
	migrationsDir := envOr("MIGRATIONS_DIR", "./migrations")
	corsOrigin := os.Getenv("CORS_ORIGIN")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatal(err)
	}

	var storeOpts []store.Option
	if encKey := os.Getenv("TOKEN_ENCRYPTION_KEY"); encKey != "" {
		enc, err := crypto.NewEncryptor(encKey)
		if err != nil {
			log.Fatalf("invalid TOKEN_ENCRYPTION_KEY: %v", err)
		}
		storeOpts = append(storeOpts, store.WithEncryptor(enc))
		log.Println("private setting encryption enabled")
	} else {
		log.Println("TOKEN_ENCRYPTION_KEY not set, private settings (Plex token) stored in cleartext")
	}

	s, err := store.New(dbPath, storeOpts...)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(migrationsDir); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	config := configstore.New(s)
	if err := config.Warm(); err != nil {
		log.Fatalf("warming config cache: %v", err)
	}

	bus := eventbus.New()
	reg := registry.New(s, bus, config)

	upstream := media.NewMediaServer(plex.Config{
		URL:             plexURL(config),
		Token:           config.GetString(configstore.KeyPlexToken, ""),
		IgnoreSSLErrors: config.GetBool(configstore.KeyIgnoreSSLErrs, false),
	})

	policyEngine := policy.New(s, config, bus)
	orch := orchestrator.New(upstream, reg, s, policyEngine, bus)

	var schedOpts []scheduler.Option
	if sub, ok := upstream.(media.RealtimeSubscriber); ok {
		schedOpts = append(schedOpts, scheduler.WithRealtime(sub))
	}
	sch := scheduler.New(orch, config, schedOpts...)

	geoDBPath := envOr("GEOIP_DB", "./geoip/GeoLite2-City.mmdb")
	geoResolver := geoip.NewResolver(geoDBPath)
	defer geoResolver.Close()
	geoUpdater := geoip.NewUpdater(config, geoResolver, geoDBPath)

	authMgr := auth.NewManager(s)
	authMgr.RegisterProvider(auth.NewLocalProvider(s, authMgr))

	oidcCfg := auth.Config{
		Issuer:       os.Getenv("OIDC_ISSUER"),
		ClientID:     os.Getenv("OIDC_CLIENT_ID"),
		ClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
		RedirectURL:  os.Getenv("OIDC_REDIRECT_URL"),
	}
	oidcProvider, err := auth.NewOIDCProvider(oidcCfg, s, authMgr)
	if err != nil {
		log.Printf("OIDC init failed: %v", err)
	} else {
		authMgr.RegisterProvider(oidcProvider)
		if oidcProvider.Enabled() {
			log.Println("OIDC authentication enabled")
		}
	}
	log.Printf("auth providers enabled: %v", authMgr.GetEnabledProviders())

	vc := version.NewChecker(Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []server.Option{
		server.WithUpstream(upstream),
		server.WithRegistry(reg),
		server.WithConfig(config),
		server.WithEventBus(bus),
		server.WithAuthManager(authMgr),
		server.WithGeoResolver(geoResolver),
		server.WithVersion(vc),
		server.WithAppContext(ctx),
	}
	if corsOrigin != "" {
		opts = append(opts, server.WithCORSOrigin(corsOrigin))
	}
	srv := server.NewServer(s, opts...)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	go vc.Start(ctx)
	go geoUpdater.Start(ctx)
	sch.Start(ctx)

	go func() {
		log.Printf("plexguard %s listening on %s", Version, listenAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")
	sch.Stop()
	server.StopRateLimiter()
	server.StopAuthRateLimiter()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func plexURL(config *configstore.Store) string {
	ip := config.GetString(configstore.KeyPlexServerIP, "")
	port := config.GetString(configstore.KeyPlexServerPort, "32400")
	scheme := "http"
	if config.GetBool(configstore.KeyUseSSL, false) {
		scheme = "https"
	}
	if ip == "" {
		return ""
	}
	return scheme + "://" + ip + ":" + port
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
