package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"plexguard/internal/models"
)

const historyColumns = `id, session_key, user_id, device_id, device_address, title,
	grandparent_title, media_type, started_at, ended_at`

func scanHistoryEntry(scanner interface{ Scan(...any) error }) (models.SessionHistoryEntry, error) {
	var e models.SessionHistoryEntry
	var grandparentTitle sql.NullString
	var endedAt sql.NullTime
	err := scanner.Scan(&e.ID, &e.SessionKey, &e.UserID, &e.DeviceID, &e.DeviceAddress, &e.Title,
		&grandparentTitle, &e.MediaType, &e.StartedAt, &endedAt)
	e.GrandparentTitle = grandparentTitle.String
	if endedAt.Valid {
		e.EndedAt = &endedAt.Time
	}
	return e, err
}

// InsertHistory records the start of a newly observed session. The row
// stays open (EndedAt nil) until EndSession closes it.
func (s *Store) InsertHistory(entry *models.SessionHistoryEntry) error {
	result, err := s.db.Exec(
		`INSERT INTO session_history (session_key, user_id, device_id, device_address, title,
			grandparent_title, media_type, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionKey, entry.UserID, entry.DeviceID, entry.DeviceAddress, entry.Title,
		entry.GrandparentTitle, entry.MediaType, entry.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session history: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// EndSession closes the open history row for sessionKey.
func (s *Store) EndSession(sessionKey string, endedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE session_history SET ended_at = ? WHERE session_key = ? AND ended_at IS NULL`,
		endedAt, sessionKey,
	)
	if err != nil {
		return fmt.Errorf("ending session history %q: %w", sessionKey, err)
	}
	return nil
}

// ActiveForUser returns a user's currently open sessions, ordered newest
// first by started_at with a lexicographic session_key tiebreak — the exact
// order the Policy Engine's concurrent-stream cap selects from.
func (s *Store) ActiveForUser(userID string) ([]models.SessionHistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+historyColumns+` FROM session_history
		WHERE user_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC, session_key DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active sessions for user: %w", err)
	}
	defer rows.Close()

	items := []models.SessionHistoryEntry{}
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// GetBySessionKey finds the open (or most recently closed) history row for
// a session key. It is part of the orchestrator's HistoryStore interface;
// the orchestrator's Tick does not call it.
func (s *Store) GetBySessionKey(sessionKey string) (*models.SessionHistoryEntry, error) {
	e, err := scanHistoryEntry(s.db.QueryRow(
		`SELECT `+historyColumns+` FROM session_history
		WHERE session_key = ? ORDER BY started_at DESC LIMIT 1`, sessionKey,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting session history %q: %w", sessionKey, err)
	}
	return &e, nil
}

// ListForUser returns a user's history (open and closed), newest first, for
// the admin portal's per-user history view.
func (s *Store) ListForUser(userID string, limit int) ([]models.SessionHistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+historyColumns+` FROM session_history
		WHERE user_id = ? ORDER BY started_at DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing history for user: %w", err)
	}
	defer rows.Close()

	items := []models.SessionHistoryEntry{}
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
