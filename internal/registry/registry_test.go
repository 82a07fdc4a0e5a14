package registry

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

type fakeDeviceStore struct {
	devices     map[string]*models.Device
	preferences map[string]models.UserPreference
	nextID      int64
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{devices: map[string]*models.Device{}, preferences: map[string]models.UserPreference{}}
}

func key(userID, deviceIdentifier string) string { return userID + "/" + deviceIdentifier }

func (f *fakeDeviceStore) GetDevice(userID, deviceIdentifier string) (*models.Device, error) {
	d, ok := f.devices[key(userID, deviceIdentifier)]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (f *fakeDeviceStore) InsertDevice(d *models.Device) error {
	f.nextID++
	d.ID = f.nextID
	d.SessionCount = 1
	copied := *d
	f.devices[key(d.UserID, d.DeviceIdentifier)] = &copied
	return nil
}

func (f *fakeDeviceStore) TouchDevice(id int64, platform, product, version, lastIP string, lastSeen time.Time, incrementSessionCount bool) error {
	for k, d := range f.devices {
		if d.ID == id {
			d.Platform, d.Product, d.Version = platform, product, version
			d.LastIP = lastIP
			d.LastSeen = lastSeen
			if incrementSessionCount {
				d.SessionCount++
			}
			f.devices[k] = d
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakeDeviceStore) ListDevicesForUser(userID string) ([]models.Device, error) {
	var out []models.Device
	for _, d := range f.devices {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDeviceStore) ListDevices() ([]models.Device, error) {
	var out []models.Device
	for _, d := range f.devices {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeDeviceStore) DeleteDevice(id int64) error {
	for k, d := range f.devices {
		if d.ID == id {
			delete(f.devices, k)
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakeDeviceStore) GetPreference(userID string) (models.UserPreference, error) {
	if p, ok := f.preferences[userID]; ok {
		return p, nil
	}
	return models.UserPreference{UserID: userID}, nil
}

func (f *fakeDeviceStore) UpsertPreference(p *models.UserPreference) error {
	if p.ID == 0 {
		p.ID = int64(len(f.preferences) + 1)
	}
	f.preferences[p.UserID] = *p
	return nil
}

func newTestRegistry() (*Registry, *fakeDeviceStore, *eventbus.Bus) {
	store := newFakeDeviceStore()
	bus := eventbus.New()
	cfg := configstore.New(newFakeSettingStore())
	return New(store, bus, cfg), store, bus
}

func testSession(userID, machineID, address string) models.Session {
	return models.Session{
		SessionKey: "sess-" + machineID,
		User:       models.SessionUser{ID: userID, Name: "alice"},
		Player:     models.PlayerInfo{MachineID: machineID, Platform: "Roku", Product: "Plex for Roku", Address: address},
	}
}

func TestIngestCreatesNewDeviceAndPreference(t *testing.T) {
	r, store, bus := newTestRegistry()
	var events []eventbus.Event
	bus.Subscribe(eventbus.EventNewDevice, func(e eventbus.Event) { events = append(events, e) })

	snapshot := models.SessionSnapshot{Sessions: []models.Session{testSession("1", "dev-1", "10.0.0.5")}}
	r.Ingest(snapshot, func(string) bool { return true }, time.Now().UTC())

	require.Len(t, events, 1)
	payload := events[0].Payload.(models.NewDeviceEvent)
	assert.Equal(t, "dev-1", payload.Device.DeviceIdentifier)
	assert.Equal(t, models.DeviceStatusPending, payload.Device.Status)

	devices, err := r.ListForUser("1")
	require.NoError(t, err)
	require.Len(t, devices, 1)

	pref, err := store.GetPreference("1")
	require.NoError(t, err)
	assert.Equal(t, "alice", pref.Username)
}

func TestIngestSkipsSessionsMissingUserOrDevice(t *testing.T) {
	r, store, _ := newTestRegistry()
	snapshot := models.SessionSnapshot{Sessions: []models.Session{
		{SessionKey: "no-user", Player: models.PlayerInfo{MachineID: "dev-1"}},
		{SessionKey: "no-device", User: models.SessionUser{ID: "1"}},
	}}
	r.Ingest(snapshot, func(string) bool { return true }, time.Now().UTC())

	devices, err := r.ListForUser("1")
	require.NoError(t, err)
	assert.Empty(t, devices)
	assert.Empty(t, store.devices)
}

func TestIngestEmitsLocationChangeOnIPChange(t *testing.T) {
	r, _, bus := newTestRegistry()
	var changes []models.LocationChangeEvent
	bus.Subscribe(eventbus.EventLocationChange, func(e eventbus.Event) {
		changes = append(changes, e.Payload.(models.LocationChangeEvent))
	})

	now := time.Now().UTC()
	r.Ingest(models.SessionSnapshot{Sessions: []models.Session{testSession("1", "dev-1", "10.0.0.5")}}, func(string) bool { return true }, now)
	r.Ingest(models.SessionSnapshot{Sessions: []models.Session{testSession("1", "dev-1", "10.0.0.9")}}, func(string) bool { return false }, now.Add(time.Minute))

	require.Len(t, changes, 1)
	assert.Equal(t, "10.0.0.5", changes[0].OldIP)
	assert.Equal(t, "10.0.0.9", changes[0].NewIP)
}

func TestIngestEmitsReturnedDeviceAfterInactivity(t *testing.T) {
	r, _, bus := newTestRegistry()
	var returned int
	bus.Subscribe(eventbus.EventReturnedDevice, func(eventbus.Event) { returned++ })

	now := time.Now().UTC()
	r.Ingest(models.SessionSnapshot{Sessions: []models.Session{testSession("1", "dev-1", "10.0.0.5")}}, func(string) bool { return true }, now)
	r.Ingest(models.SessionSnapshot{Sessions: []models.Session{testSession("1", "dev-1", "10.0.0.5")}}, func(string) bool { return false }, now.Add(48*time.Hour))

	assert.Equal(t, 1, returned)
}

func TestIngestIncrementsSessionCountOnlyForNewlyStartedKeys(t *testing.T) {
	r, store, _ := newTestRegistry()
	now := time.Now().UTC()
	r.Ingest(models.SessionSnapshot{Sessions: []models.Session{testSession("1", "dev-1", "10.0.0.5")}}, func(string) bool { return true }, now)
	r.Ingest(models.SessionSnapshot{Sessions: []models.Session{testSession("1", "dev-1", "10.0.0.5")}}, func(string) bool { return false }, now.Add(time.Minute))

	d, err := store.GetDevice("1", "dev-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, d.SessionCount)
}

func TestCleanupInactiveSkipsUnreadNoteAndActiveTempGrant(t *testing.T) {
	r, store, _ := newTestRegistry()
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -60)

	store.InsertDevice(&models.Device{UserID: "1", DeviceIdentifier: "stale", FirstSeen: old, LastSeen: old})
	noted := &models.Device{UserID: "1", DeviceIdentifier: "noted", FirstSeen: old, LastSeen: old}
	noted.Note.Description = "please keep"
	noted.Note.SubmittedAt = &old
	store.InsertDevice(noted)
	granted := &models.Device{UserID: "1", DeviceIdentifier: "granted", FirstSeen: old, LastSeen: old}
	until := now.Add(time.Hour)
	granted.TempAccess.Until = &until
	store.InsertDevice(granted)

	require.NoError(t, r.CleanupInactive(now))

	devices, err := r.ListForUser("1")
	require.NoError(t, err)
	identifiers := map[string]bool{}
	for _, d := range devices {
		identifiers[d.DeviceIdentifier] = true
	}
	assert.False(t, identifiers["stale"])
	assert.True(t, identifiers["noted"])
	assert.True(t, identifiers["granted"])
}

func TestIsTempAccessValid(t *testing.T) {
	r, _, _ := newTestRegistry()
	now := time.Now().UTC()
	future := now.Add(time.Hour)
	d := models.Device{TempAccess: models.TempAccess{Until: &future}}
	assert.True(t, r.IsTempAccessValid(d, now))

	past := now.Add(-time.Hour)
	d2 := models.Device{TempAccess: models.TempAccess{Until: &past}}
	assert.False(t, r.IsTempAccessValid(d2, now))
}
