package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plexguard/internal/configstore"
	"plexguard/internal/eventbus"
	"plexguard/internal/models"
)

type fakeSettingStore struct {
	rows map[string]models.Setting
}

func newFakeSettingStore() *fakeSettingStore { return &fakeSettingStore{rows: map[string]models.Setting{}} }

func (f *fakeSettingStore) GetSetting(key string) (models.Setting, error) {
	if set, ok := f.rows[key]; ok {
		return set, nil
	}
	return models.Setting{Key: key, Type: models.SettingTypeString}, nil
}
func (f *fakeSettingStore) SetSetting(set models.Setting) error { f.rows[set.Key] = set; return nil }
func (f *fakeSettingStore) DeleteSetting(key string) error      { delete(f.rows, key); return nil }
func (f *fakeSettingStore) ListSettings() ([]models.Setting, error) {
	out := make([]models.Setting, 0, len(f.rows))
	for _, v := range f.rows {
		out = append(out, v)
	}
	return out, nil
}

type fakePolicyStore struct {
	devices     map[string]models.Device
	preferences map[string]models.UserPreference
	timeRules   map[string][]models.TimeRule
	active      map[string][]models.SessionHistoryEntry
	geos        map[string]*models.GeoResult
}

func newFakePolicyStore() *fakePolicyStore {
	return &fakePolicyStore{
		devices:     map[string]models.Device{},
		preferences: map[string]models.UserPreference{},
		timeRules:   map[string][]models.TimeRule{},
		active:      map[string][]models.SessionHistoryEntry{},
		geos:        map[string]*models.GeoResult{},
	}
}

func (f *fakePolicyStore) GetDevice(userID, deviceIdentifier string) (*models.Device, error) {
	d, ok := f.devices[userID+"/"+deviceIdentifier]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := d
	return &copied, nil
}
func (f *fakePolicyStore) GetPreference(userID string) (models.UserPreference, error) {
	if p, ok := f.preferences[userID]; ok {
		return p, nil
	}
	return models.UserPreference{UserID: userID}, nil
}
func (f *fakePolicyStore) ListTimeRulesForUser(userID string) ([]models.TimeRule, error) {
	return f.timeRules[userID], nil
}
func (f *fakePolicyStore) ActiveForUser(userID string) ([]models.SessionHistoryEntry, error) {
	return f.active[userID], nil
}
func (f *fakePolicyStore) GetCachedGeos(ips []string) (map[string]*models.GeoResult, error) {
	out := map[string]*models.GeoResult{}
	for _, ip := range ips {
		if g, ok := f.geos[ip]; ok {
			out[ip] = g
		}
	}
	return out, nil
}

func newTestEngine(store *fakePolicyStore) (*Engine, *configstore.Store) {
	cfg := configstore.New(newFakeSettingStore())
	return New(store, cfg, eventbus.New()), cfg
}

func session(userID, machineID, product, address string) models.Session {
	return models.Session{
		SessionKey: "s-" + machineID,
		SessionID:  "s-" + machineID,
		User:       models.SessionUser{ID: userID},
		Player:     models.PlayerInfo{MachineID: machineID, Product: product, Address: address},
	}
}

// S1: pending device blocked by global default.
func TestS1PendingDeviceBlockedByGlobalDefault(t *testing.T) {
	store := newFakePolicyStore()
	engine, cfg := newTestEngine(store)
	cfg.SetBool(configstore.KeyDefaultBlock, true, false)
	cfg.SetInt(configstore.KeyConcurrentStreamLimit, 0, false)

	snapshot := models.SessionSnapshot{Sessions: []models.Session{session("42", "AAA", "Plex Web", "203.0.113.5")}}
	decisions := engine.Evaluate(snapshot, time.Now().UTC())

	decision := decisions["s-AAA"]
	assert.False(t, decision.Allow)
	assert.Equal(t, models.StopCodeDevicePending, decision.StopCode)
}

// S2: approved device passes.
func TestS2ApprovedDevicePasses(t *testing.T) {
	store := newFakePolicyStore()
	store.devices["42/AAA"] = models.Device{ID: 1, UserID: "42", DeviceIdentifier: "AAA", Status: models.DeviceStatusApproved}
	engine, cfg := newTestEngine(store)
	cfg.SetBool(configstore.KeyDefaultBlock, true, false)

	snapshot := models.SessionSnapshot{Sessions: []models.Session{session("42", "AAA", "Plex Web", "203.0.113.5")}}
	decisions := engine.Evaluate(snapshot, time.Now().UTC())

	assert.True(t, decisions["s-AAA"].Allow)
}

// S3: LAN-only violation.
func TestS3LANOnlyViolation(t *testing.T) {
	store := newFakePolicyStore()
	store.devices["42/AAA"] = models.Device{ID: 1, UserID: "42", DeviceIdentifier: "AAA", Status: models.DeviceStatusApproved}
	store.preferences["42"] = models.UserPreference{UserID: "42", NetworkPolicy: models.NetworkPolicyLAN}
	engine, _ := newTestEngine(store)

	snapshot := models.SessionSnapshot{Sessions: []models.Session{session("42", "AAA", "Plex Web", "198.51.100.7")}}
	decisions := engine.Evaluate(snapshot, time.Now().UTC())

	decision := decisions["s-AAA"]
	assert.False(t, decision.Allow)
	assert.Equal(t, models.StopCodeLANOnly, decision.StopCode)
}

// S4: time rule active.
func TestS4TimeRuleActive(t *testing.T) {
	store := newFakePolicyStore()
	store.devices["42/AAA"] = models.Device{ID: 1, UserID: "42", DeviceIdentifier: "AAA", Status: models.DeviceStatusApproved}
	now := time.Date(2026, 7, 31, 21, 0, 0, 0, time.UTC) // Friday
	store.timeRules["42"] = []models.TimeRule{
		{UserID: "42", DayOfWeek: int(now.Weekday()), StartTime: "20:00", EndTime: "22:00", Enabled: true},
	}
	engine, cfg := newTestEngine(store)
	cfg.SetString(configstore.KeyTimezone, "+00:00", false)

	snapshot := models.SessionSnapshot{Sessions: []models.Session{session("42", "AAA", "Plex Web", "203.0.113.5")}}
	decisions := engine.Evaluate(snapshot, now)

	decision := decisions["s-AAA"]
	assert.False(t, decision.Allow)
	assert.Equal(t, models.StopCodeTimeRestricted, decision.StopCode)
}

// S5: concurrent cap terminates newest.
func TestS5ConcurrentCapTerminatesNewest(t *testing.T) {
	store := newFakePolicyStore()
	for _, id := range []string{"a", "b", "c"} {
		store.devices["42/"+id] = models.Device{ID: 1, UserID: "42", DeviceIdentifier: id, Status: models.DeviceStatusApproved}
	}
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	store.active["42"] = []models.SessionHistoryEntry{
		{SessionKey: "s-a", StartedAt: base},
		{SessionKey: "s-b", StartedAt: base.Add(5 * time.Minute)},
		{SessionKey: "s-c", StartedAt: base.Add(10 * time.Minute)},
	}
	engine, cfg := newTestEngine(store)
	cfg.SetInt(configstore.KeyConcurrentStreamLimit, 2, false)

	snapshot := models.SessionSnapshot{Sessions: []models.Session{
		session("42", "a", "Plex Web", "10.0.0.1"),
		session("42", "b", "Plex Web", "10.0.0.2"),
		session("42", "c", "Plex Web", "10.0.0.3"),
	}}
	decisions := engine.Evaluate(snapshot, base.Add(15*time.Minute))

	assert.True(t, decisions["s-a"].Allow)
	assert.True(t, decisions["s-b"].Allow)
	require.False(t, decisions["s-c"].Allow)
	assert.Equal(t, models.StopCodeConcurrentCap, decisions["s-c"].StopCode)
}

// S6: temp access with bypass wins over rejected.
func TestS6TempAccessBypassWinsOverRejected(t *testing.T) {
	store := newFakePolicyStore()
	until := time.Now().Add(time.Hour)
	store.devices["42/AAA"] = models.Device{
		ID: 1, UserID: "42", DeviceIdentifier: "AAA", Status: models.DeviceStatusRejected,
		TempAccess: models.TempAccess{Until: &until, BypassPolicies: true},
	}
	store.preferences["42"] = models.UserPreference{UserID: "42", NetworkPolicy: models.NetworkPolicyLAN}
	engine, _ := newTestEngine(store)

	snapshot := models.SessionSnapshot{Sessions: []models.Session{session("42", "AAA", "Plex Web", "198.51.100.7")}}
	decisions := engine.Evaluate(snapshot, time.Now().UTC())

	assert.True(t, decisions["s-AAA"].Allow)
}

func TestPlexampAlwaysAllowedRegardlessOfPolicy(t *testing.T) {
	store := newFakePolicyStore()
	store.devices["42/AAA"] = models.Device{ID: 1, UserID: "42", DeviceIdentifier: "AAA", Status: models.DeviceStatusRejected}
	store.preferences["42"] = models.UserPreference{UserID: "42", NetworkPolicy: models.NetworkPolicyLAN}
	engine, _ := newTestEngine(store)

	snapshot := models.SessionSnapshot{Sessions: []models.Session{session("42", "AAA", "Plexamp", "198.51.100.7")}}
	decisions := engine.Evaluate(snapshot, time.Now().UTC())

	assert.True(t, decisions["s-AAA"].Allow)
}

func TestRestrictedIPAccessPolicyBlocksUnlistedAddress(t *testing.T) {
	store := newFakePolicyStore()
	store.devices["42/AAA"] = models.Device{ID: 1, UserID: "42", DeviceIdentifier: "AAA", Status: models.DeviceStatusApproved}
	store.preferences["42"] = models.UserPreference{
		UserID: "42", IPAccessPolicy: models.IPAccessPolicyRestricted, AllowedIPs: []string{"203.0.113.0/24"},
	}
	engine, _ := newTestEngine(store)

	snapshot := models.SessionSnapshot{Sessions: []models.Session{session("42", "AAA", "Plex Web", "198.51.100.7")}}
	decisions := engine.Evaluate(snapshot, time.Now().UTC())

	decision := decisions["s-AAA"]
	assert.False(t, decision.Allow)
	assert.Equal(t, models.StopCodeIPNotAllowed, decision.StopCode)
}

func TestMissingDeviceDefaultsToPendingHandling(t *testing.T) {
	store := newFakePolicyStore()
	engine, cfg := newTestEngine(store)
	cfg.SetBool(configstore.KeyDefaultBlock, false, false)

	snapshot := models.SessionSnapshot{Sessions: []models.Session{session("42", "AAA", "Plex Web", "203.0.113.5")}}
	decisions := engine.Evaluate(snapshot, time.Now().UTC())

	assert.True(t, decisions["s-AAA"].Allow)
}

func TestUserDefaultBlockOverrideTakesPrecedenceOverGlobal(t *testing.T) {
	store := newFakePolicyStore()
	override := true
	store.preferences["42"] = models.UserPreference{UserID: "42", DefaultBlock: &override}
	engine, cfg := newTestEngine(store)
	cfg.SetBool(configstore.KeyDefaultBlock, false, false)

	snapshot := models.SessionSnapshot{Sessions: []models.Session{session("42", "AAA", "Plex Web", "203.0.113.5")}}
	decisions := engine.Evaluate(snapshot, time.Now().UTC())

	decision := decisions["s-AAA"]
	assert.False(t, decision.Allow)
	assert.Equal(t, models.StopCodeDevicePending, decision.StopCode)
}

func TestDeviceSpecificTimeRuleOverridesUserWideRuleForSameDay(t *testing.T) {
	store := newFakePolicyStore()
	store.devices["42/AAA"] = models.Device{ID: 1, UserID: "42", DeviceIdentifier: "AAA", Status: models.DeviceStatusApproved}
	now := time.Date(2026, 7, 31, 21, 0, 0, 0, time.UTC)
	store.timeRules["42"] = []models.TimeRule{
		{UserID: "42", DayOfWeek: int(now.Weekday()), StartTime: "20:00", EndTime: "22:00", Enabled: true},
		{UserID: "42", DeviceIdentifier: "AAA", DayOfWeek: int(now.Weekday()), StartTime: "00:00", EndTime: "00:01", Enabled: true},
	}
	engine, _ := newTestEngine(store)

	snapshot := models.SessionSnapshot{Sessions: []models.Session{session("42", "AAA", "Plex Web", "203.0.113.5")}}
	decisions := engine.Evaluate(snapshot, now)

	assert.True(t, decisions["s-AAA"].Allow)
}

func TestConcurrentLimitUnlimitedWhenZero(t *testing.T) {
	store := newFakePolicyStore()
	for _, id := range []string{"a", "b", "c"} {
		store.devices["42/"+id] = models.Device{ID: 1, UserID: "42", DeviceIdentifier: id, Status: models.DeviceStatusApproved}
	}
	engine, cfg := newTestEngine(store)
	cfg.SetInt(configstore.KeyConcurrentStreamLimit, 0, false)

	snapshot := models.SessionSnapshot{Sessions: []models.Session{
		session("42", "a", "Plex Web", "10.0.0.1"),
		session("42", "b", "Plex Web", "10.0.0.2"),
		session("42", "c", "Plex Web", "10.0.0.3"),
	}}
	decisions := engine.Evaluate(snapshot, time.Now().UTC())

	for _, d := range decisions {
		assert.True(t, d.Allow)
	}
}

func TestConcurrentCapExcludesExcludedDeviceAndPlexamp(t *testing.T) {
	store := newFakePolicyStore()
	store.devices["42/a"] = models.Device{ID: 1, UserID: "42", DeviceIdentifier: "a", Status: models.DeviceStatusApproved}
	store.devices["42/b"] = models.Device{ID: 2, UserID: "42", DeviceIdentifier: "b", Status: models.DeviceStatusApproved, ExcludeFromConcurrentLimit: true}
	engine, cfg := newTestEngine(store)
	cfg.SetInt(configstore.KeyConcurrentStreamLimit, 1, false)

	snapshot := models.SessionSnapshot{Sessions: []models.Session{
		session("42", "a", "Plex Web", "10.0.0.1"),
		session("42", "b", "Plex Web", "10.0.0.2"),
		session("42", "amp", "Plexamp", "10.0.0.3"),
	}}
	decisions := engine.Evaluate(snapshot, time.Now().UTC())

	assert.True(t, decisions["s-a"].Allow)
	assert.True(t, decisions["s-b"].Allow)
	assert.True(t, decisions["s-amp"].Allow)
}
