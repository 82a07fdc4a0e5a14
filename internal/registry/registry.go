// Package registry materializes devices observed in a session snapshot,
// tracking approval state and emitting lifecycle events on the event bus.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"plexguard/internal/configstore"
	"plexguard/internal/eventbus"
	"plexguard/internal/models"
)

// DefaultReturnedThreshold is how long a device must have been unseen
// before its next observation is treated as a "returned" event.
const DefaultReturnedThreshold = 24 * time.Hour

// Store is the persistence surface the registry drives. Satisfied by
// *store.Store.
type Store interface {
	GetDevice(userID, deviceIdentifier string) (*models.Device, error)
	InsertDevice(d *models.Device) error
	TouchDevice(id int64, platform, product, version, lastIP string, lastSeen time.Time, incrementSessionCount bool) error
	ListDevicesForUser(userID string) ([]models.Device, error)
	ListDevices() ([]models.Device, error)
	DeleteDevice(id int64) error

	GetPreference(userID string) (models.UserPreference, error)
	UpsertPreference(p *models.UserPreference) error
}

// Registry is the Device Registry component (spec.md §4.2).
type Registry struct {
	store             Store
	bus               *eventbus.Bus
	config            *configstore.Store
	returnedThreshold time.Duration
}

func New(store Store, bus *eventbus.Bus, config *configstore.Store) *Registry {
	return &Registry{
		store:             store,
		bus:               bus,
		config:            config,
		returnedThreshold: DefaultReturnedThreshold,
	}
}

// StartedKeyChecker reports whether sessionKey is one the Session History
// Writer classifies as newly started this tick, vs. one already in
// progress from a prior tick. Only newly-started sessions increment a
// device's session_count.
type StartedKeyChecker func(sessionKey string) bool

// Ingest materializes every session in snapshot against the device table,
// upserting UserPreference rows and emitting new_device/location_change/
// returned_device events as appropriate. Per-session errors are logged and
// skipped; Ingest never aborts partway through a snapshot.
func (r *Registry) Ingest(snapshot models.SessionSnapshot, isNewlyStarted StartedKeyChecker, now time.Time) {
	for _, session := range snapshot.Sessions {
		if session.User.ID == "" || session.Player.MachineID == "" {
			continue
		}
		if err := r.ingestOne(session, isNewlyStarted, now); err != nil {
			slog.Error("registry: ingest failed", "session_key", session.SessionKey, "error", err)
		}
	}
}

func (r *Registry) ingestOne(session models.Session, isNewlyStarted StartedKeyChecker, now time.Time) error {
	if err := r.ensurePreference(session); err != nil {
		return fmt.Errorf("ensuring preference: %w", err)
	}

	device, err := r.store.GetDevice(session.User.ID, session.Player.MachineID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("getting device: %w", err)
	}

	if device == nil {
		return r.insertNewDevice(session, now)
	}
	return r.touchExistingDevice(device, session, isNewlyStarted, now)
}

func (r *Registry) ensurePreference(session models.Session) error {
	pref, err := r.store.GetPreference(session.User.ID)
	if err != nil {
		return err
	}
	if pref.ID != 0 && pref.Username != "" {
		return nil
	}
	pref.UserID = session.User.ID
	if pref.Username == "" {
		pref.Username = session.User.Name
	}
	if pref.AvatarURL == "" {
		pref.AvatarURL = session.User.Thumb
	}
	return r.store.UpsertPreference(&pref)
}

func (r *Registry) insertNewDevice(session models.Session, now time.Time) error {
	status := models.DeviceStatusPending
	cfg := r.config.LoadPolicyConfig()
	if cfg.StrictMode && !cfg.DefaultBlock {
		status = models.DeviceStatusApproved
	}

	device := &models.Device{
		UserID:           session.User.ID,
		DeviceIdentifier: session.Player.MachineID,
		DisplayName:      session.Player.Platform,
		Platform:         session.Player.Platform,
		Product:          session.Player.Product,
		Version:          session.Player.Version,
		Status:           status,
		FirstSeen:        now,
		LastSeen:         now,
		LastIP:           session.Player.Address,
	}
	if err := r.store.InsertDevice(device); err != nil {
		return err
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.EventNewDevice, Payload: models.NewDeviceEvent{Device: *device}})
	return nil
}

func (r *Registry) touchExistingDevice(device *models.Device, session models.Session, isNewlyStarted StartedKeyChecker, now time.Time) error {
	oldIP := device.LastIP
	newIP := session.Player.Address
	wasInactive := device.LastSeen.Before(now.Add(-r.returnedThreshold))

	increment := isNewlyStarted != nil && isNewlyStarted(session.SessionKey)
	if err := r.store.TouchDevice(device.ID, session.Player.Platform,
		session.Player.Product, session.Player.Version, newIP, now, increment); err != nil {
		return err
	}

	if newIP != "" && oldIP != "" && newIP != oldIP {
		r.bus.Publish(eventbus.Event{
			Type: eventbus.EventLocationChange,
			Payload: models.LocationChangeEvent{
				Device: *device, OldIP: oldIP, NewIP: newIP,
			},
		})
	}
	if wasInactive {
		r.bus.Publish(eventbus.Event{
			Type: eventbus.EventReturnedDevice,
			Payload: models.ReturnedDeviceEvent{
				Device: *device, PreviousSeen: device.LastSeen,
			},
		})
	}
	return nil
}

// CleanupInactive deletes devices unseen for longer than
// cfg.DeviceCleanupIntervalDays,
// skipping any with an unread note or an active temp grant. No-op if
// disabled in config.
func (r *Registry) CleanupInactive(now time.Time) error {
	cfg := r.config.LoadPolicyConfig()
	if !cfg.DeviceCleanupEnabled {
		return nil
	}
	cutoff := now.AddDate(0, 0, -cfg.DeviceCleanupIntervalDays)

	devices, err := r.store.ListDevices()
	if err != nil {
		return fmt.Errorf("listing devices for cleanup: %w", err)
	}
	for _, d := range devices {
		if d.LastSeen.After(cutoff) {
			continue
		}
		if d.Note.Submitted() && d.Note.ReadAt == nil {
			continue
		}
		if d.TempAccess.Active(now) {
			continue
		}
		if err := r.store.DeleteDevice(d.ID); err != nil {
			slog.Error("registry: cleanup delete failed", "device_id", d.ID, "error", err)
		}
	}
	return nil
}

// Get returns the device for (userID, deviceIdentifier), or nil if never
// observed.
func (r *Registry) Get(userID, deviceIdentifier string) (*models.Device, error) {
	d, err := r.store.GetDevice(userID, deviceIdentifier)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return d, err
}

// ListForUser returns every device observed for a user.
func (r *Registry) ListForUser(userID string) ([]models.Device, error) {
	return r.store.ListDevicesForUser(userID)
}

// IsTempAccessValid reports whether d currently has an active temp-access
// grant, as of now.
func (r *Registry) IsTempAccessValid(d models.Device, now time.Time) bool {
	return d.TempAccess.Active(now)
}
