package store

import (
	"database/sql"
	"errors"
	"fmt"

	"plexguard/internal/models"
)

const timeRuleColumns = `id, user_id, device_identifier, day_of_week, start_time, end_time, enabled, rule_name`

func scanTimeRule(scanner interface{ Scan(...any) error }) (models.TimeRule, error) {
	var r models.TimeRule
	var deviceIdentifier sql.NullString
	err := scanner.Scan(&r.ID, &r.UserID, &deviceIdentifier, &r.DayOfWeek, &r.StartTime, &r.EndTime, &r.Enabled, &r.RuleName)
	r.DeviceIdentifier = deviceIdentifier.String
	return r, err
}

// CreateTimeRule inserts a new weekly block window.
func (s *Store) CreateTimeRule(r *models.TimeRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	result, err := s.db.Exec(
		`INSERT INTO time_rules (user_id, device_identifier, day_of_week, start_time, end_time, enabled, rule_name)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, nullIfEmpty(r.DeviceIdentifier), r.DayOfWeek, r.StartTime, r.EndTime, r.Enabled, r.RuleName,
	)
	if err != nil {
		return fmt.Errorf("creating time rule: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

// UpdateTimeRule replaces an existing rule's fields by ID.
func (s *Store) UpdateTimeRule(r *models.TimeRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	result, err := s.db.Exec(
		`UPDATE time_rules SET user_id = ?, device_identifier = ?, day_of_week = ?,
			start_time = ?, end_time = ?, enabled = ?, rule_name = ? WHERE id = ?`,
		r.UserID, nullIfEmpty(r.DeviceIdentifier), r.DayOfWeek, r.StartTime, r.EndTime, r.Enabled, r.RuleName, r.ID,
	)
	if err != nil {
		return fmt.Errorf("updating time rule %d: %w", r.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("time rule %d: %w", r.ID, models.ErrNotFound)
	}
	return nil
}

// DeleteTimeRule removes a rule by ID.
func (s *Store) DeleteTimeRule(id int64) error {
	result, err := s.db.Exec(`DELETE FROM time_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting time rule %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("time rule %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// ListTimeRulesForUser returns every rule — device-specific and
// user-wide — that applies to a user, for the Policy Engine's schedule check.
func (s *Store) ListTimeRulesForUser(userID string) ([]models.TimeRule, error) {
	rows, err := s.db.Query(
		`SELECT `+timeRuleColumns+` FROM time_rules WHERE user_id = ? AND enabled = 1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing time rules for user: %w", err)
	}
	defer rows.Close()

	rules := []models.TimeRule{}
	for rows.Next() {
		r, err := scanTimeRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ListTimeRules returns every rule regardless of enabled state, for the
// admin portal's rule management view.
func (s *Store) ListTimeRules() ([]models.TimeRule, error) {
	rows, err := s.db.Query(`SELECT ` + timeRuleColumns + ` FROM time_rules ORDER BY user_id, day_of_week, start_time`)
	if err != nil {
		return nil, fmt.Errorf("listing time rules: %w", err)
	}
	defer rows.Close()

	rules := []models.TimeRule{}
	for rows.Next() {
		r, err := scanTimeRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
