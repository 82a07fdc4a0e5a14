// Package orchestrator serializes one full poll tick: fetch sessions,
// update the device registry, reconcile session history, evaluate policy,
// and terminate blocked sessions.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"plexguard/internal/eventbus"
	"plexguard/internal/media"
	"plexguard/internal/models"
	"plexguard/internal/registry"
)

// maxConcurrentTerminations bounds the termination fan-out's worker count,
// independent of how many distinct sessions a tick needs to stop.
const maxConcurrentTerminations = 8

// HistoryStore is the session_history persistence the Session History
// Writer step reconciles against. Satisfied by *store.Store.
type HistoryStore interface {
	InsertHistory(entry *models.SessionHistoryEntry) error
	EndSession(sessionKey string, endedAt time.Time) error
	GetBySessionKey(sessionKey string) (*models.SessionHistoryEntry, error)
}

// PolicyEngine evaluates a snapshot into per-session decisions. Satisfied
// by *policy.Engine.
type PolicyEngine interface {
	Evaluate(snapshot models.SessionSnapshot, now time.Time) map[string]models.Decision
}

// Orchestrator is the Session Orchestrator component (spec.md §4.4).
type Orchestrator struct {
	upstream media.MediaServer
	registry *registry.Registry
	history  HistoryStore
	policy   PolicyEngine
	bus      *eventbus.Bus

	// openSessionKeys tracks which session_keys had an open history row as
	// of the previous tick, so Tick can classify this tick's keys as
	// newly-started vs. already in progress without re-querying the store
	// per session.
	openSessionKeys map[string]struct{}
}

func New(upstream media.MediaServer, reg *registry.Registry, history HistoryStore, policy PolicyEngine, bus *eventbus.Bus) *Orchestrator {
	return &Orchestrator{
		upstream:        upstream,
		registry:        reg,
		history:         history,
		policy:          policy,
		bus:             bus,
		openSessionKeys: make(map[string]struct{}),
	}
}

// Tick performs the six steps of spec.md §4.4. Per-step errors are logged
// and swallowed; one failing session or policy branch never prevents the
// rest of the tick from proceeding.
func (o *Orchestrator) Tick(ctx context.Context) {
	now := time.Now().UTC()

	// 1. Fetch sessions.
	snapshot, err := o.upstream.FetchSessions(ctx)
	if err != nil {
		slog.Error("orchestrator: fetch_sessions failed, retrying next tick", "error", err)
		return
	}

	currentKeys := make(map[string]struct{}, len(snapshot.Sessions))
	for _, session := range snapshot.Sessions {
		currentKeys[session.SessionKey] = struct{}{}
	}

	// 3 happens logically between ingest and policy, but the "newly
	// started" classification it produces is needed by step 2's registry
	// ingest (spec.md §4.2's session_count rule), so it runs first here.
	newlyStarted := o.reconcileHistory(snapshot, currentKeys, now)

	// 2. Registry ingest.
	o.registry.Ingest(snapshot, newlyStarted, now)

	// 4. Policy evaluation.
	decisions := o.policy.Evaluate(snapshot, now)

	// 5. Terminate blocked sessions, at most once per session_id.
	o.terminateBlocked(ctx, snapshot, decisions)
}

// reconcileHistory is the Session History Writer (spec.md §4.4 step 3): it
// opens a row for every session_key newly present this tick and closes
// rows for every session_key no longer present. It returns a
// registry.StartedKeyChecker reporting which keys were newly opened.
func (o *Orchestrator) reconcileHistory(snapshot models.SessionSnapshot, currentKeys map[string]struct{}, now time.Time) registry.StartedKeyChecker {
	newlyStarted := make(map[string]struct{})

	for _, session := range snapshot.Sessions {
		if _, wasOpen := o.openSessionKeys[session.SessionKey]; wasOpen {
			continue
		}
		entry := &models.SessionHistoryEntry{
			SessionKey:       session.SessionKey,
			UserID:           session.User.ID,
			DeviceAddress:    session.Player.Address,
			Title:            session.Content.Title,
			GrandparentTitle: session.Content.GrandparentTitle,
			MediaType:        session.Content.Type,
			StartedAt:        now,
		}
		if device, err := o.deviceFor(session); err == nil && device != nil {
			entry.DeviceID = device.ID
		}
		if err := o.history.InsertHistory(entry); err != nil {
			slog.Error("orchestrator: opening session history failed", "session_key", session.SessionKey, "error", err)
			delete(currentKeys, session.SessionKey)
			continue
		}
		newlyStarted[session.SessionKey] = struct{}{}
	}

	for key := range o.openSessionKeys {
		if _, stillPresent := currentKeys[key]; stillPresent {
			continue
		}
		if err := o.history.EndSession(key, now); err != nil {
			slog.Error("orchestrator: closing session history failed", "session_key", key, "error", err)
		}
	}

	o.openSessionKeys = currentKeys
	return func(sessionKey string) bool {
		_, ok := newlyStarted[sessionKey]
		return ok
	}
}

func (o *Orchestrator) deviceFor(session models.Session) (*models.Device, error) {
	if session.User.ID == "" || session.Player.MachineID == "" {
		return nil, nil
	}
	return o.registry.Get(session.User.ID, session.Player.MachineID)
}

// terminateBlocked calls the upstream terminate API for every blocked
// decision, deduplicated by session_id, and emits stream_blocked on
// success. Distinct sessions are terminated concurrently since each is an
// independent upstream call; the per-session_id dedup pass above this
// still runs sequentially so "at most once" holds regardless of ordering.
func (o *Orchestrator) terminateBlocked(ctx context.Context, snapshot models.SessionSnapshot, decisions map[string]models.Decision) {
	type blocked struct {
		session  models.Session
		decision models.Decision
	}

	terminated := make(map[string]struct{})
	var toTerminate []blocked
	for _, session := range snapshot.Sessions {
		decision, ok := decisions[session.SessionKey]
		if !ok || decision.Allow {
			continue
		}
		if _, already := terminated[session.SessionID]; already {
			continue
		}
		terminated[session.SessionID] = struct{}{}
		toTerminate = append(toTerminate, blocked{session: session, decision: decision})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTerminations)
	for _, b := range toTerminate {
		b := b
		g.Go(func() error {
			o.terminateOne(gctx, b.session, b.decision)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) terminateOne(ctx context.Context, session models.Session, decision models.Decision) {
	if err := o.upstream.TerminateSession(ctx, session.SessionID, decision.ReasonText); err != nil {
		slog.Error("orchestrator: terminate_session failed", "session_id", session.SessionID, "stop_code", decision.StopCode, "error", err)
		return
	}

	device, err := o.deviceFor(session)
	if err != nil {
		slog.Warn("orchestrator: device lookup for stream_blocked event failed", "session_key", session.SessionKey, "error", err)
	}
	var deviceID int64
	if device != nil {
		deviceID = device.ID
	}
	o.bus.Publish(eventbus.Event{
		Type: eventbus.EventStreamBlocked,
		Payload: models.StreamBlockedEvent{
			UserID:     session.User.ID,
			DeviceID:   deviceID,
			SessionKey: session.SessionKey,
			IP:         session.Player.Address,
			StopCode:   decision.StopCode,
		},
	})
}
