package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"plexguard/internal/models"
)

// GetUserByUsername retrieves a user by username along with password hash
func (s *Store) GetUserByUsername(username string) (*models.User, string, error) {
	var u models.User
	var passwordHash sql.NullString
	err := s.db.QueryRow(
		`SELECT id, name, email, role, thumb_url, created_at, updated_at, password_hash
		 FROM users WHERE name = ?`, username,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.ThumbURL, &u.CreatedAt, &u.UpdatedAt, &passwordHash)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("user %q: %w", username, models.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting user by username: %w", err)
	}
	return &u, passwordHash.String, nil
}

// GetUserByProvider retrieves a user by provider type and provider-specific ID
func (s *Store) GetUserByProvider(provider, providerID string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(
		`SELECT `+userColumns+` FROM users WHERE provider = ? AND provider_id = ?`,
		provider, providerID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by provider: %w", err)
	}
	return &u, nil
}

// GetUserByEmail retrieves a user by email address
func (s *Store) GetUserByEmail(email string) (*models.User, error) {
	if email == "" {
		return nil, fmt.Errorf("user: %w", models.ErrNotFound)
	}
	u, err := scanUser(s.db.QueryRow(
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return &u, nil
}

// CreateLocalUser creates a new local user with password
func (s *Store) CreateLocalUser(username, email, passwordHash string, role models.Role) (*models.User, error) {
	result, err := s.db.Exec(
		`INSERT INTO users (name, email, password_hash, role, provider, provider_id)
		 VALUES (?, ?, ?, ?, 'local', ?)`,
		username, email, passwordHash, role, email,
	)
	if err != nil {
		return nil, fmt.Errorf("creating local user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting last insert id: %w", err)
	}

	return &models.User{
		ID:        id,
		Name:      username,
		Email:     email,
		Role:      role,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// UpdatePassword updates a user's password hash
func (s *Store) UpdatePassword(userID int64, passwordHash string) error {
	result, err := s.db.Exec(
		`UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		passwordHash, userID,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %d: %w", userID, models.ErrNotFound)
	}
	return nil
}

// LinkProviderAccount links a provider identity to an existing user
func (s *Store) LinkProviderAccount(userID int64, provider, providerID string) error {
	_, err := s.db.Exec(
		`UPDATE users SET provider = ?, provider_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		provider, providerID, userID,
	)
	if err != nil {
		return fmt.Errorf("linking provider account: %w", err)
	}
	return nil
}

// ErrNoPassword is returned when trying to unlink a user with no password set
var ErrNoPassword = errors.New("user has no password set")

// UnlinkUserProvider removes the provider link from a user, allowing re-linking.
// Returns ErrNoPassword if the user has no password (would be locked out).
func (s *Store) UnlinkUserProvider(userID int64) error {
	var hasPassword bool
	err := s.db.QueryRow(
		`SELECT password_hash != '' AND password_hash IS NOT NULL FROM users WHERE id = ?`, userID,
	).Scan(&hasPassword)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user %d: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("checking user password: %w", err)
	}
	if !hasPassword {
		return ErrNoPassword
	}

	result, err := s.db.Exec(
		`UPDATE users SET provider = '', provider_id = '', updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("unlinking provider: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %d: %w", userID, models.ErrNotFound)
	}
	return nil
}

// IsSetupRequired returns true if no users exist (first run)
func (s *Store) IsSetupRequired() (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking user count: %w", err)
	}
	return count == 0, nil
}

// CreateFirstAdmin atomically creates the first admin user if no users exist.
// Returns ErrSetupComplete if setup is already complete.
var ErrSetupComplete = errors.New("setup already complete")

func (s *Store) CreateFirstAdmin(username, email, passwordHash, provider, providerID, thumbURL string) (*models.User, error) {
	// Use INSERT ... WHERE NOT EXISTS for atomic check-and-insert
	// This prevents race conditions without needing IMMEDIATE transactions
	result, err := s.db.Exec(
		`INSERT INTO users (name, email, password_hash, role, provider, provider_id, thumb_url)
		 SELECT ?, ?, ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (SELECT 1 FROM users LIMIT 1)`,
		username, email, passwordHash, models.RoleAdmin, provider, providerID, thumbURL,
	)
	if err != nil {
		return nil, fmt.Errorf("creating first admin: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrSetupComplete
	}

	id, _ := result.LastInsertId()
	return &models.User{
		ID:        id,
		Name:      username,
		Email:     email,
		Role:      models.RoleAdmin,
		ThumbURL:  thumbURL,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// ErrEmailInUse is returned when a user tries to set an email already used by another user
var ErrEmailInUse = errors.New("email already in use")

// GetPasswordHashByUserID retrieves just the password hash for a user by ID
func (s *Store) GetPasswordHashByUserID(userID int64) (string, error) {
	var passwordHash sql.NullString
	err := s.db.QueryRow(
		`SELECT password_hash FROM users WHERE id = ?`, userID,
	).Scan(&passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("user %d: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting password hash: %w", err)
	}
	return passwordHash.String, nil
}

// UpdateUserEmail updates a user's email address.
// Returns ErrEmailInUse if another user already has this email.
func (s *Store) UpdateUserEmail(userID int64, email string) error {
	result, err := s.db.Exec(
		`UPDATE users SET email = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		email, userID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrEmailInUse
		}
		return fmt.Errorf("updating email: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %d: %w", userID, models.ErrNotFound)
	}
	return nil
}

// UpdateSessionActivity updates the last_used_at timestamp for a session
func (s *Store) UpdateSessionActivity(token string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET last_used_at = ? WHERE id = ?`,
		time.Now().UTC(), token,
	)
	return err
}
