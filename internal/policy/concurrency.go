package policy

import (
	"log/slog"
	"sort"
	"time"

	"plexguard/internal/configstore"
	"plexguard/internal/models"
)

// selectConcurrentCapTerminations implements spec.md §4.3.2: for each user
// with sessions in the snapshot, resolve their stream limit, filter to
// countable sessions, and if over the limit select the newest excess for
// termination. Returns the set of session_keys selected.
func (e *Engine) selectConcurrentCapTerminations(snapshot models.SessionSnapshot, cfg configstore.PolicyConfig, now time.Time) map[string]struct{} {
	selected := map[string]struct{}{}

	byUser := map[string][]models.Session{}
	for _, session := range snapshot.Sessions {
		byUser[session.User.ID] = append(byUser[session.User.ID], session)
	}

	for userID, sessions := range byUser {
		limit := cfg.ConcurrentStreamLimit
		pref, err := e.store.GetPreference(userID)
		if err != nil {
			slog.Warn("policy: preference lookup failed for concurrent cap, using global limit", "user_id", userID, "error", err)
		} else if pref.ConcurrentStreamLimit != nil {
			limit = *pref.ConcurrentStreamLimit
		}
		if limit == 0 {
			continue
		}

		countable := e.countableSessions(sessions, cfg, now)
		if len(countable) <= limit {
			continue
		}

		started, err := e.store.ActiveForUser(userID)
		if err != nil {
			slog.Warn("policy: session history lookup failed, skipping concurrent cap", "user_id", userID, "error", err)
			continue
		}
		startedAt := make(map[string]int64, len(started))
		for _, entry := range started {
			startedAt[entry.SessionKey] = entry.StartedAt.UnixNano()
		}

		sort.Slice(countable, func(i, j int) bool {
			a, b := countable[i], countable[j]
			if startedAt[a.SessionKey] != startedAt[b.SessionKey] {
				return startedAt[a.SessionKey] > startedAt[b.SessionKey]
			}
			return a.SessionKey > b.SessionKey
		})

		excess := len(countable) - limit
		for _, session := range countable[:excess] {
			selected[session.SessionKey] = struct{}{}
		}
	}
	return selected
}

// countableSessions drops sessions that never count toward the cap:
// Plexamp, devices excluded from the limit, and (unless configured
// otherwise) sessions with an active temp-access grant.
func (e *Engine) countableSessions(sessions []models.Session, cfg configstore.PolicyConfig, now time.Time) []models.Session {
	countable := make([]models.Session, 0, len(sessions))
	for _, session := range sessions {
		if session.Player.Product == plexampProduct {
			continue
		}
		device, err := e.store.GetDevice(session.User.ID, session.Player.MachineID)
		if err != nil {
			device = nil
		}
		if device != nil && device.ExcludeFromConcurrentLimit {
			continue
		}
		if device != nil && !cfg.ConcurrentLimitIncludesTemp && device.TempAccess.Active(now) {
			continue
		}
		countable = append(countable, session)
	}
	return countable
}
