// Package policy is the pure evaluator that turns one session snapshot,
// plus point-in-time reads of devices, preferences, time rules, and
// settings, into a per-session allow/block decision. It never mutates
// state; the orchestrator acts on its output.
package policy

import (
	"log/slog"
	"net"
	"strings"
	"time"

	"plexguard/internal/configstore"
	"plexguard/internal/eventbus"
	"plexguard/internal/models"
)

const plexampProduct = "Plexamp"

// Store is the read surface the engine consults. Satisfied by *store.Store.
type Store interface {
	GetDevice(userID, deviceIdentifier string) (*models.Device, error)
	GetPreference(userID string) (models.UserPreference, error)
	ListTimeRulesForUser(userID string) ([]models.TimeRule, error)
	ActiveForUser(userID string) ([]models.SessionHistoryEntry, error)
	GetCachedGeos(ips []string) (map[string]*models.GeoResult, error)
}

// Engine is the Policy Engine component (spec.md §4.3).
type Engine struct {
	store  Store
	config *configstore.Store
	bus    *eventbus.Bus
}

func New(store Store, config *configstore.Store, bus *eventbus.Bus) *Engine {
	return &Engine{store: store, config: config, bus: bus}
}

// Evaluate returns one Decision per session in the snapshot, keyed by
// session_key. The concurrent-stream cap is resolved first across the
// whole snapshot (per §4.3.2's closing note) so that a session already
// selected by the cap is never re-evaluated by the per-session steps 1-5.
func (e *Engine) Evaluate(snapshot models.SessionSnapshot, now time.Time) map[string]models.Decision {
	cfg := e.config.LoadPolicyConfig()
	decisions := make(map[string]models.Decision, len(snapshot.Sessions))

	capped := e.selectConcurrentCapTerminations(snapshot, cfg, now)
	for key := range capped {
		decisions[key] = models.Block(cfg.MsgConcurrentLimit, models.StopCodeConcurrentCap)
	}

	for _, session := range snapshot.Sessions {
		if _, alreadyCapped := capped[session.SessionKey]; alreadyCapped {
			continue
		}
		decisions[session.SessionKey] = e.evaluateSession(session, cfg, now)
	}

	e.emitAdvisorySignals(snapshot, now)
	return decisions
}

// evaluateSession runs steps 1-5 of §4.3.1 for a single session.
func (e *Engine) evaluateSession(session models.Session, cfg configstore.PolicyConfig, now time.Time) models.Decision {
	// 1. Product bypass.
	if session.Player.Product == plexampProduct {
		return models.Allow()
	}

	device, err := e.store.GetDevice(session.User.ID, session.Player.MachineID)
	if err != nil {
		slog.Warn("policy: device lookup failed, evaluating as absent", "session_key", session.SessionKey, "error", err)
		device = nil
	}

	// 2. Temporary access with bypass.
	if device != nil && device.TempAccess.Active(now) && device.TempAccess.BypassPolicies {
		return models.Allow()
	}

	pref, err := e.store.GetPreference(session.User.ID)
	if err != nil {
		slog.Warn("policy: preference lookup failed, using defaults", "user_id", session.User.ID, "error", err)
	}

	// 3. IP policy.
	if decision, blocked := e.evaluateIPPolicy(session, pref, cfg); blocked {
		return decision
	}

	// 4. Time policy.
	if decision, blocked := e.evaluateTimePolicy(session, device, cfg, now); blocked {
		return decision
	}

	// 5. Device approval.
	return e.evaluateApproval(device, pref, cfg, now)
}

func (e *Engine) evaluateIPPolicy(session models.Session, pref models.UserPreference, cfg configstore.PolicyConfig) (models.Decision, bool) {
	policy := pref.NetworkPolicy
	if policy == "" {
		policy = models.NetworkPolicyBoth
	}
	if policy != models.NetworkPolicyBoth {
		location := locationOf(session.Player.Address)
		if string(policy) != location {
			if policy == models.NetworkPolicyLAN {
				return models.Block(cfg.MsgIPLANOnly, models.StopCodeLANOnly), true
			}
			return models.Block(cfg.MsgIPWANOnly, models.StopCodeWANOnly), true
		}
	}

	if pref.IPAccessPolicy == models.IPAccessPolicyRestricted {
		if !addressAllowed(session.Player.Address, pref.AllowedIPs) {
			return models.Block(cfg.MsgIPNotAllowed, models.StopCodeIPNotAllowed), true
		}
	}
	return models.Decision{}, false
}

// locationOf classifies a source address as "lan" (RFC1918/loopback/
// link-local) or "wan" (everything else).
func locationOf(address string) string {
	ip := net.ParseIP(address)
	if ip == nil {
		return "wan"
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsPrivate() {
		return "lan"
	}
	return "wan"
}

func addressAllowed(address string, allowed []string) bool {
	ip := net.ParseIP(address)
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err == nil && ip != nil && network.Contains(ip) {
				return true
			}
			continue
		}
		if entry == address {
			return true
		}
	}
	return false
}

func (e *Engine) evaluateTimePolicy(session models.Session, device *models.Device, cfg configstore.PolicyConfig, now time.Time) (models.Decision, bool) {
	rules, err := e.store.ListTimeRulesForUser(session.User.ID)
	if err != nil {
		slog.Warn("policy: time rule lookup failed, allowing", "user_id", session.User.ID, "error", err)
		return models.Decision{}, false
	}
	if len(rules) == 0 {
		return models.Decision{}, false
	}

	loc := offsetLocation(cfg.Timezone)
	local := now.In(loc)
	day := int(local.Weekday())
	minute := local.Hour()*60 + local.Minute()

	var deviceRules, userRules []models.TimeRule
	for _, rule := range rules {
		if !rule.Enabled || rule.DayOfWeek != day {
			continue
		}
		if rule.DeviceIdentifier != "" {
			if device != nil && rule.DeviceIdentifier == device.DeviceIdentifier {
				deviceRules = append(deviceRules, rule)
			}
			continue
		}
		userRules = append(userRules, rule)
	}

	// Device-specific rules for this day take precedence over user-wide
	// rules for this same day; other days are unaffected by this override.
	applicable := deviceRules
	if len(applicable) == 0 {
		applicable = userRules
	}

	for _, rule := range applicable {
		if minuteInWindow(minute, rule.StartTime, rule.EndTime) {
			return models.Block(cfg.MsgTimeRestricted, models.StopCodeTimeRestricted), true
		}
	}
	return models.Decision{}, false
}

// offsetLocation parses a "+HH:MM"/"-HH:MM" string into a fixed UTC offset
// location, falling back to UTC for anything it can't parse.
func offsetLocation(offset string) *time.Location {
	offset = strings.TrimSpace(offset)
	if len(offset) != 6 || (offset[0] != '+' && offset[0] != '-') {
		return time.UTC
	}
	hh := int(offset[1]-'0')*10 + int(offset[2]-'0')
	mm := int(offset[4]-'0')*10 + int(offset[5]-'0')
	if hh > 23 || mm > 59 {
		return time.UTC
	}
	seconds := hh*3600 + mm*60
	if offset[0] == '-' {
		seconds = -seconds
	}
	return time.FixedZone(offset, seconds)
}

func minuteInWindow(minute int, start, end string) bool {
	startMin, ok1 := parseHHMM(start)
	endMin, ok2 := parseHHMM(end)
	if !ok1 || !ok2 {
		return false
	}
	if startMin <= endMin {
		return minute >= startMin && minute < endMin
	}
	// Overnight window, e.g. 22:00-02:00.
	return minute >= startMin || minute < endMin
}

func parseHHMM(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	hh := int(s[0]-'0')*10 + int(s[1]-'0')
	mm := int(s[3]-'0')*10 + int(s[4]-'0')
	if hh > 23 || mm > 59 {
		return 0, false
	}
	return hh*60 + mm, true
}

func (e *Engine) evaluateApproval(device *models.Device, pref models.UserPreference, cfg configstore.PolicyConfig, now time.Time) models.Decision {
	if device == nil {
		return e.evaluatePendingOrMissing(nil, pref, cfg, now)
	}
	switch device.Status {
	case models.DeviceStatusRejected:
		if device.TempAccess.Active(now) {
			return models.Allow()
		}
		return models.Block(cfg.MsgDeviceRejected, models.StopCodeDeviceRejected)
	case models.DeviceStatusPending:
		return e.evaluatePendingOrMissing(device, pref, cfg, now)
	default: // approved
		return models.Allow()
	}
}

func (e *Engine) evaluatePendingOrMissing(device *models.Device, pref models.UserPreference, cfg configstore.PolicyConfig, now time.Time) models.Decision {
	if device != nil && device.TempAccess.Active(now) {
		return models.Allow()
	}
	effectiveDefaultBlock := cfg.DefaultBlock
	if pref.DefaultBlock != nil {
		effectiveDefaultBlock = *pref.DefaultBlock
	}
	if effectiveDefaultBlock {
		return models.Block(cfg.MsgDevicePending, models.StopCodeDevicePending)
	}
	return models.Allow()
}
