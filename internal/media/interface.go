package media

import (
	"context"

	"plexguard/internal/models"
)

// MediaServer is the upstream client contract: fetch the current session
// snapshot, terminate a session, and resolve the server's own identity.
type MediaServer interface {
	Name() string
	FetchSessions(ctx context.Context) (models.SessionSnapshot, error)
	TerminateSession(ctx context.Context, sessionID, reason string) error
	ServerIdentity(ctx context.Context) (string, error)
}

// RealtimeSubscriber is optionally implemented by adapters that support
// persistent WebSocket connections for real-time state updates.
type RealtimeSubscriber interface {
	Subscribe(ctx context.Context) (<-chan models.SessionUpdate, error)
}
