package media

import (
	"plexguard/internal/media/plex"
)

// NewMediaServer builds the single upstream client this daemon enforces
// against. Unlike the multi-backend media hubs this package was modeled on,
// PlexGuard targets exactly one Plex Media Server per deployment.
func NewMediaServer(cfg plex.Config) MediaServer {
	return plex.New(cfg)
}
