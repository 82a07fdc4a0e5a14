package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"plexguard/internal/models"
)

const deviceColumns = `id, user_id, device_identifier, display_name, platform, product, version,
	status, exclude_from_concurrent_limit, first_seen, last_seen, last_ip, session_count,
	temp_access_until, temp_access_granted_at, temp_access_duration_minutes, temp_access_bypass_policies,
	note_description, note_submitted_at, note_read_at`

func scanDevice(scanner interface{ Scan(...any) error }) (models.Device, error) {
	var d models.Device
	var tempUntil, tempGrantedAt, noteSubmittedAt, noteReadAt sql.NullTime
	var tempDuration sql.NullInt64
	var noteDescription sql.NullString
	err := scanner.Scan(
		&d.ID, &d.UserID, &d.DeviceIdentifier, &d.DisplayName, &d.Platform, &d.Product, &d.Version,
		&d.Status, &d.ExcludeFromConcurrentLimit, &d.FirstSeen, &d.LastSeen, &d.LastIP, &d.SessionCount,
		&tempUntil, &tempGrantedAt, &tempDuration, &d.TempAccess.BypassPolicies,
		&noteDescription, &noteSubmittedAt, &noteReadAt,
	)
	if tempUntil.Valid {
		d.TempAccess.Until = &tempUntil.Time
	}
	if tempGrantedAt.Valid {
		d.TempAccess.GrantedAt = &tempGrantedAt.Time
	}
	if tempDuration.Valid {
		n := int(tempDuration.Int64)
		d.TempAccess.DurationMinutes = &n
	}
	d.Note.Description = noteDescription.String
	if noteSubmittedAt.Valid {
		d.Note.SubmittedAt = &noteSubmittedAt.Time
	}
	if noteReadAt.Valid {
		d.Note.ReadAt = &noteReadAt.Time
	}
	return d, err
}

// InsertDevice records a device's first observation. The Device Registry
// decides the initial status (pending, or approved under strict-mode +
// default-allow) before calling this.
func (s *Store) InsertDevice(d *models.Device) error {
	_, err := s.db.Exec(`
		INSERT INTO devices (user_id, device_identifier, display_name, platform, product, version,
			status, first_seen, last_seen, last_ip, session_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		d.UserID, d.DeviceIdentifier, d.DisplayName, d.Platform, d.Product, d.Version,
		d.Status, d.FirstSeen, d.LastSeen, d.LastIP,
	)
	if err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}
	got, err := s.GetDevice(d.UserID, d.DeviceIdentifier)
	if err != nil {
		return err
	}
	*d = *got
	return nil
}

// TouchDevice updates a previously-seen device's upstream-reported fields,
// last-seen time, and last-seen IP. display_name is deliberately untouched:
// it defaults to the upstream platform name at InsertDevice time but is
// user-editable afterward (SetDeviceDisplayName), and a poll tick must never
// revert an admin's rename. session_count is only incremented when
// incrementSessionCount is true — the Device Registry sets this based on
// whether the Session History Writer classifies the observed session_key
// as newly started, not on every poll tick that still sees the device.
func (s *Store) TouchDevice(id int64, platform, product, version, lastIP string, lastSeen time.Time, incrementSessionCount bool) error {
	query := `UPDATE devices SET platform = ?, product = ?, version = ?,
		last_ip = ?, last_seen = ?`
	args := []any{platform, product, version, lastIP, lastSeen}
	if incrementSessionCount {
		query += `, session_count = session_count + 1`
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	_, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("touching device %d: %w", id, err)
	}
	return nil
}

// GetDevice retrieves a device by its natural key.
func (s *Store) GetDevice(userID, deviceIdentifier string) (*models.Device, error) {
	d, err := scanDevice(s.db.QueryRow(
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = ? AND device_identifier = ?`,
		userID, deviceIdentifier,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s/%s: %w", userID, deviceIdentifier, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting device: %w", err)
	}
	return &d, nil
}

// GetDeviceByID retrieves a device by surrogate ID, for admin handlers that
// operate off a row ID from a listing.
func (s *Store) GetDeviceByID(id int64) (*models.Device, error) {
	d, err := scanDevice(s.db.QueryRow(`SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting device by id: %w", err)
	}
	return &d, nil
}

// ListDevicesForUser returns all devices observed for a user, newest first.
func (s *Store) ListDevicesForUser(userID string) ([]models.Device, error) {
	rows, err := s.db.Query(
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = ? ORDER BY last_seen DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing devices for user: %w", err)
	}
	defer rows.Close()

	devices := []models.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// ListDevices returns every device, for the admin approval queue.
func (s *Store) ListDevices() ([]models.Device, error) {
	rows, err := s.db.Query(`SELECT ` + deviceColumns + ` FROM devices ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	devices := []models.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// SetDeviceStatus approves/rejects a device from the admin portal.
func (s *Store) SetDeviceStatus(id int64, status models.DeviceStatus) error {
	result, err := s.db.Exec(`UPDATE devices SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("setting device status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("device %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// SetDeviceDisplayName renames a device for the admin portal.
func (s *Store) SetDeviceDisplayName(id int64, name string) error {
	_, err := s.db.Exec(`UPDATE devices SET display_name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("setting device display name: %w", err)
	}
	return nil
}

// SetDeviceConcurrentExclusion toggles whether a device counts toward the
// concurrent-stream cap.
func (s *Store) SetDeviceConcurrentExclusion(id int64, excluded bool) error {
	_, err := s.db.Exec(`UPDATE devices SET exclude_from_concurrent_limit = ? WHERE id = ?`, excluded, id)
	if err != nil {
		return fmt.Errorf("setting device concurrent exclusion: %w", err)
	}
	return nil
}

// GrantTempAccess time-boxes a policy override for a device.
func (s *Store) GrantTempAccess(id int64, grantedAt, until time.Time, durationMinutes int, bypassPolicies bool) error {
	_, err := s.db.Exec(
		`UPDATE devices SET temp_access_granted_at = ?, temp_access_until = ?,
			temp_access_duration_minutes = ?, temp_access_bypass_policies = ? WHERE id = ?`,
		grantedAt, until, durationMinutes, bypassPolicies, id,
	)
	if err != nil {
		return fmt.Errorf("granting temp access: %w", err)
	}
	return nil
}

// RevokeTempAccess clears any active temp-access grant on a device.
func (s *Store) RevokeTempAccess(id int64) error {
	_, err := s.db.Exec(
		`UPDATE devices SET temp_access_granted_at = NULL, temp_access_until = NULL,
			temp_access_duration_minutes = NULL, temp_access_bypass_policies = 0 WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("revoking temp access: %w", err)
	}
	return nil
}

// SubmitDeviceNote records the at-most-one user-submitted note for a device.
func (s *Store) SubmitDeviceNote(id int64, description string, submittedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE devices SET note_description = ?, note_submitted_at = ?, note_read_at = NULL WHERE id = ?`,
		description, submittedAt, id,
	)
	if err != nil {
		return fmt.Errorf("submitting device note: %w", err)
	}
	return nil
}

// MarkDeviceNoteRead clears the unread flag on a device's note.
func (s *Store) MarkDeviceNoteRead(id int64, readAt time.Time) error {
	_, err := s.db.Exec(`UPDATE devices SET note_read_at = ? WHERE id = ?`, readAt, id)
	if err != nil {
		return fmt.Errorf("marking device note read: %w", err)
	}
	return nil
}

// DeleteDevice removes a device row; the registry's CleanupInactive uses it
// to remove inactive devices.
func (s *Store) DeleteDevice(id int64) error {
	result, err := s.db.Exec(`DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("device %d: %w", id, models.ErrNotFound)
	}
	return nil
}
