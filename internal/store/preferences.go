package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"plexguard/internal/models"
)

const preferenceColumns = `id, user_id, username, avatar_url, hidden, default_block,
	network_policy, ip_access_policy, allowed_ips, concurrent_stream_limit`

func scanPreference(scanner interface{ Scan(...any) error }) (models.UserPreference, error) {
	var p models.UserPreference
	var defaultBlock sql.NullBool
	var allowedIPs sql.NullString
	var concurrentLimit sql.NullInt64
	err := scanner.Scan(
		&p.ID, &p.UserID, &p.Username, &p.AvatarURL, &p.Hidden, &defaultBlock,
		&p.NetworkPolicy, &p.IPAccessPolicy, &allowedIPs, &concurrentLimit,
	)
	if err != nil {
		return p, err
	}
	if defaultBlock.Valid {
		p.DefaultBlock = &defaultBlock.Bool
	}
	if allowedIPs.Valid && allowedIPs.String != "" {
		if err := json.Unmarshal([]byte(allowedIPs.String), &p.AllowedIPs); err != nil {
			return p, fmt.Errorf("decoding allowed_ips for user %s: %w", p.UserID, err)
		}
	}
	if concurrentLimit.Valid {
		n := int(concurrentLimit.Int64)
		p.ConcurrentStreamLimit = &n
	}
	return p, nil
}

// GetPreference returns the stored preference row for userID, or a
// zero-value preference (no error) if none has been written yet — callers
// resolve missing fields against global settings themselves.
func (s *Store) GetPreference(userID string) (models.UserPreference, error) {
	p, err := scanPreference(s.db.QueryRow(
		`SELECT `+preferenceColumns+` FROM user_preferences WHERE user_id = ?`, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserPreference{UserID: userID}, nil
	}
	if err != nil {
		return models.UserPreference{}, fmt.Errorf("getting preference for user %s: %w", userID, err)
	}
	return p, nil
}

// UpsertPreference inserts or fully replaces a user's preference row.
func (s *Store) UpsertPreference(p *models.UserPreference) error {
	allowedIPs, err := json.Marshal(p.AllowedIPs)
	if err != nil {
		return fmt.Errorf("encoding allowed_ips: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO user_preferences (user_id, username, avatar_url, hidden, default_block,
			network_policy, ip_access_policy, allowed_ips, concurrent_stream_limit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			avatar_url = excluded.avatar_url,
			hidden = excluded.hidden,
			default_block = excluded.default_block,
			network_policy = excluded.network_policy,
			ip_access_policy = excluded.ip_access_policy,
			allowed_ips = excluded.allowed_ips,
			concurrent_stream_limit = excluded.concurrent_stream_limit`,
		p.UserID, p.Username, p.AvatarURL, p.Hidden, p.DefaultBlock,
		p.NetworkPolicy, p.IPAccessPolicy, string(allowedIPs), p.ConcurrentStreamLimit,
	)
	if err != nil {
		return fmt.Errorf("upserting preference for user %s: %w", p.UserID, err)
	}
	got, err := s.GetPreference(p.UserID)
	if err != nil {
		return err
	}
	*p = got
	return nil
}

// ListPreferences returns every user's preference row, for the admin
// portal's user management view.
func (s *Store) ListPreferences() ([]models.UserPreference, error) {
	rows, err := s.db.Query(`SELECT ` + preferenceColumns + ` FROM user_preferences ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("listing preferences: %w", err)
	}
	defer rows.Close()

	items := []models.UserPreference{}
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// DeletePreference removes a user's preference row, reverting them to
// global-default policy on next evaluation.
func (s *Store) DeletePreference(userID string) error {
	_, err := s.db.Exec(`DELETE FROM user_preferences WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting preference for user %s: %w", userID, err)
	}
	return nil
}
