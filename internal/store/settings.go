package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"plexguard/internal/models"
)

const encryptedPrefix = "enc:"

// GetSetting returns the raw row for key, or a zero Setting (no error) if
// the key has never been written. Private-typed secret values are
// transparently decrypted when the store has an encryptor configured.
func (s *Store) GetSetting(key string) (models.Setting, error) {
	var set models.Setting
	err := s.db.QueryRow(
		`SELECT key, value, value_type, private FROM settings WHERE key = ?`, key,
	).Scan(&set.Key, &set.Value, &set.Type, &set.Private)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Setting{Key: key, Type: models.SettingTypeString}, nil
	}
	if err != nil {
		return models.Setting{}, fmt.Errorf("getting setting %q: %w", key, err)
	}
	if set.Private && strings.HasPrefix(set.Value, encryptedPrefix) {
		if s.encryptor == nil {
			return models.Setting{}, fmt.Errorf("setting %q is encrypted but no encryption key configured", key)
		}
		plain, err := s.encryptor.Decrypt(strings.TrimPrefix(set.Value, encryptedPrefix))
		if err != nil {
			return models.Setting{}, fmt.Errorf("decrypting setting %q: %w", key, err)
		}
		set.Value = plain
	}
	return set, nil
}

const settingUpsert = `
	INSERT INTO settings (key, value, value_type, private) VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, value_type = excluded.value_type, private = excluded.private`

// SetSetting upserts a row. Private settings are encrypted at rest when the
// store has an encryptor configured; otherwise they are stored in the clear
// (main logs a warning at startup when no encryption key is configured).
func (s *Store) SetSetting(set models.Setting) error {
	value := set.Value
	if set.Private && value != "" && s.encryptor != nil {
		encrypted, err := s.encryptor.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypting setting %q: %w", set.Key, err)
		}
		value = encryptedPrefix + encrypted
	}
	_, err := s.db.Exec(settingUpsert, set.Key, value, set.Type, set.Private)
	if err != nil {
		return fmt.Errorf("setting %q: %w", set.Key, err)
	}
	return nil
}

func (s *Store) DeleteSetting(key string) error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting setting %q: %w", key, err)
	}
	return nil
}

// ListSettings returns every row, for the Config Store's initial cache fill.
// Callers that must not leak secrets (e.g. a settings export endpoint)
// should filter on Private themselves rather than rely on this to do it.
func (s *Store) ListSettings() ([]models.Setting, error) {
	rows, err := s.db.Query(`SELECT key, value, value_type, private FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer rows.Close()

	settings := []models.Setting{}
	for rows.Next() {
		var set models.Setting
		if err := rows.Scan(&set.Key, &set.Value, &set.Type, &set.Private); err != nil {
			return nil, err
		}
		if set.Private && strings.HasPrefix(set.Value, encryptedPrefix) {
			if s.encryptor != nil {
				if plain, err := s.encryptor.Decrypt(strings.TrimPrefix(set.Value, encryptedPrefix)); err == nil {
					set.Value = plain
				}
			}
		}
		settings = append(settings, set)
	}
	return settings, rows.Err()
}
