package policy

import (
	"log/slog"
	"time"

	"plexguard/internal/eventbus"
	"plexguard/internal/models"
)

// recentLocationWindow is the travel-time budget for impossible-travel:
// two sessions of the same tick farther apart than maxPlausibleSpeedKmh
// times this window are flagged.
const recentLocationWindow = 6 * time.Hour

// maxPlausibleSpeedKmh is the velocity above which two sightings from one
// user, from different locations, are flagged as impossible travel.
const maxPlausibleSpeedKmh = 800.0

// emitAdvisorySignals publishes informational-only RuleSignal events for a
// future notifier to consume. These never affect a Decision (spec.md §8
// property 7 still holds for Plexamp, and this function runs after
// Evaluate has already committed every Decision for the tick).
func (e *Engine) emitAdvisorySignals(snapshot models.SessionSnapshot, now time.Time) {
	byUser := map[string][]models.Session{}
	for _, session := range snapshot.Sessions {
		if session.User.ID == "" || session.Player.Address == "" {
			continue
		}
		byUser[session.User.ID] = append(byUser[session.User.ID], session)
	}

	addresses := make([]string, 0, len(snapshot.Sessions))
	seen := map[string]struct{}{}
	for _, session := range snapshot.Sessions {
		if session.Player.Address == "" {
			continue
		}
		if _, ok := seen[session.Player.Address]; ok {
			continue
		}
		seen[session.Player.Address] = struct{}{}
		addresses = append(addresses, session.Player.Address)
	}
	geos, err := e.store.GetCachedGeos(addresses)
	if err != nil {
		slog.Warn("policy: geo cache lookup failed, skipping advisory signals", "error", err)
		geos = map[string]*models.GeoResult{}
	}

	for userID, sessions := range byUser {
		if len(sessions) < 2 {
			continue
		}
		e.emitSimultaneousLocation(userID, sessions)
		e.emitImpossibleTravel(userID, sessions, geos, now)
	}
}

// emitSimultaneousLocation flags when one user has two or more concurrent
// sessions from distinct source addresses.
func (e *Engine) emitSimultaneousLocation(userID string, sessions []models.Session) {
	distinct := map[string]struct{}{}
	for _, session := range sessions {
		distinct[session.Player.Address] = struct{}{}
	}
	if len(distinct) < 2 {
		return
	}
	confidence := models.CalculateConfidence([]models.ViolationSignal{
		{Name: "distinct_addresses", Weight: 1, Value: float64(len(distinct)) * 25},
	})
	e.bus.Publish(eventbus.Event{
		Type: eventbus.EventRuleSignal,
		Payload: models.RuleSignal{
			Type:       models.SignalSimultaneousLocation,
			UserID:     userID,
			Confidence: confidence,
			Detail:     "concurrent sessions from distinct source addresses",
		},
	})
}

// emitImpossibleTravel flags a pair of sessions whose geo-resolved
// distance could not plausibly be covered between their addresses at
// maxPlausibleSpeedKmh.
func (e *Engine) emitImpossibleTravel(userID string, sessions []models.Session, geos map[string]*models.GeoResult, now time.Time) {
	for i := 0; i < len(sessions); i++ {
		for j := i + 1; j < len(sessions); j++ {
			a, b := geos[sessions[i].Player.Address], geos[sessions[j].Player.Address]
			if a == nil || b == nil {
				continue
			}
			distanceKm := models.HaversineDistance(a.Lat, a.Lng, b.Lat, b.Lng)
			if distanceKm < 50 {
				continue
			}
			// Both sightings are within this tick, so treat the available
			// window as recentLocationWindow worth of travel time budget.
			maxPlausibleKm := maxPlausibleSpeedKmh * recentLocationWindow.Hours()
			if distanceKm <= maxPlausibleKm {
				continue
			}
			confidence := models.CalculateConfidence([]models.ViolationSignal{
				{Name: "distance_km", Weight: 1, Value: distanceKm},
			})
			e.bus.Publish(eventbus.Event{
				Type: eventbus.EventRuleSignal,
				Payload: models.RuleSignal{
					Type:       models.SignalImpossibleTravel,
					UserID:     userID,
					SessionKey: sessions[j].SessionKey,
					Confidence: confidence,
					Detail:     "sessions from geographically distant addresses in the same tick",
				},
			})
		}
	}
}
