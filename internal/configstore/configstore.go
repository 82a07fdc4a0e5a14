// Package configstore is a read-through cache over the settings table,
// giving the rest of PlexGuard typed access to admin-editable runtime
// configuration (Plex connection, policy defaults) without every caller
// hitting SQLite directly.
package configstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"plexguard/internal/models"
)

// SettingStore is the persistence layer this cache fronts. Satisfied by
// *store.Store.
type SettingStore interface {
	GetSetting(key string) (models.Setting, error)
	SetSetting(set models.Setting) error
	DeleteSetting(key string) error
	ListSettings() ([]models.Setting, error)
}

// Store is a read-through, write-invalidate cache of settings.
type Store struct {
	backing SettingStore

	mu    sync.RWMutex
	cache map[string]models.Setting
}

func New(backing SettingStore) *Store {
	return &Store{backing: backing, cache: make(map[string]models.Setting)}
}

// Warm fills the cache from the backing store. Call once at startup;
// reads work without it too, just with a store round-trip on first miss.
func (s *Store) Warm() error {
	settings, err := s.backing.ListSettings()
	if err != nil {
		return fmt.Errorf("warming config cache: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range settings {
		s.cache[set.Key] = set
	}
	slog.Debug("configstore: cache warmed", "count", len(settings))
	return nil
}

func (s *Store) get(key string) (models.Setting, error) {
	s.mu.RLock()
	set, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return set, nil
	}

	set, err := s.backing.GetSetting(key)
	if err != nil {
		return models.Setting{}, err
	}
	s.mu.Lock()
	s.cache[key] = set
	s.mu.Unlock()
	return set, nil
}

func (s *Store) invalidate(key string, set models.Setting) {
	s.mu.Lock()
	s.cache[key] = set
	s.mu.Unlock()
}

// GetString returns a setting's raw string value, or def if unset.
func (s *Store) GetString(key, def string) string {
	set, err := s.get(key)
	if err != nil || set.Value == "" {
		return def
	}
	return set.Value
}

// GetInt parses a setting as an integer, or returns def on any error.
func (s *Store) GetInt(key string, def int) int {
	set, err := s.get(key)
	if err != nil || set.Value == "" {
		return def
	}
	n, err := strconv.Atoi(set.Value)
	if err != nil {
		slog.Warn("configstore: non-integer value, using default", "key", key, "value", set.Value)
		return def
	}
	return n
}

// GetBool parses a setting as a boolean, or returns def on any error.
func (s *Store) GetBool(key string, def bool) bool {
	set, err := s.get(key)
	if err != nil || set.Value == "" {
		return def
	}
	b, err := strconv.ParseBool(set.Value)
	if err != nil {
		slog.Warn("configstore: non-boolean value, using default", "key", key, "value", set.Value)
		return def
	}
	return b
}

// GetJSON unmarshals a setting's value into dest. Returns false if the key
// is unset; any decode error is returned.
func (s *Store) GetJSON(key string, dest any) (bool, error) {
	set, err := s.get(key)
	if err != nil {
		return false, err
	}
	if set.Value == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(set.Value), dest); err != nil {
		return false, fmt.Errorf("decoding setting %q: %w", key, err)
	}
	return true, nil
}

// SetString, SetInt, SetBool, SetJSON write through to the backing store
// and refresh the cache entry.

func (s *Store) SetString(key, value string, private bool) error {
	return s.set(models.Setting{Key: key, Value: value, Type: models.SettingTypeString, Private: private})
}

func (s *Store) SetInt(key string, value int, private bool) error {
	return s.set(models.Setting{Key: key, Value: strconv.Itoa(value), Type: models.SettingTypeInt, Private: private})
}

func (s *Store) SetBool(key string, value bool, private bool) error {
	return s.set(models.Setting{Key: key, Value: strconv.FormatBool(value), Type: models.SettingTypeBool, Private: private})
}

func (s *Store) SetJSON(key string, value any, private bool) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding setting %q: %w", key, err)
	}
	return s.set(models.Setting{Key: key, Value: string(encoded), Type: models.SettingTypeJSON, Private: private})
}

func (s *Store) set(set models.Setting) error {
	if err := s.backing.SetSetting(set); err != nil {
		return err
	}
	s.invalidate(set.Key, set)
	return nil
}

// Delete removes a setting and its cache entry.
func (s *Store) Delete(key string) error {
	if err := s.backing.DeleteSetting(key); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	return nil
}

// Export returns every non-private setting, for an admin settings-export
// endpoint that must never leak secrets (Plex token, OIDC client secret).
func (s *Store) Export() ([]models.Setting, error) {
	all, err := s.backing.ListSettings()
	if err != nil {
		return nil, err
	}
	public := make([]models.Setting, 0, len(all))
	for _, set := range all {
		if !set.Private {
			public = append(public, set)
		}
	}
	return public, nil
}
