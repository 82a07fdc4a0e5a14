package store

import (
	"database/sql"
	"errors"
	"fmt"

	"plexguard/internal/models"
)

const userColumns = `id, name, email, role, thumb_url, created_at, updated_at`
const userColumnsWithProvider = `id, name, email, role, thumb_url, created_at, updated_at, provider, provider_id`

func scanUser(scanner interface{ Scan(...any) error }) (models.User, error) {
	var u models.User
	err := scanner.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.ThumbURL, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// AdminUser extends User with the linked-provider identity, for the admin
// account management screen.
type AdminUser struct {
	models.User
	Provider   string `json:"provider"`
	ProviderID string `json:"provider_id"`
}

func scanAdminUser(scanner interface{ Scan(...any) error }) (AdminUser, error) {
	var u AdminUser
	err := scanner.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.ThumbURL, &u.CreatedAt, &u.UpdatedAt, &u.Provider, &u.ProviderID)
	return u, err
}

// GetUserByID retrieves an admin portal account by ID.
func (s *Store) GetUserByID(id int64) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by id: %w", err)
	}
	return &u, nil
}

// ListAdminUsers returns every admin portal account with provider information.
func (s *Store) ListAdminUsers() ([]AdminUser, error) {
	rows, err := s.db.Query(`SELECT ` + userColumnsWithProvider + ` FROM users ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing admin users: %w", err)
	}
	defer rows.Close()

	users := []AdminUser{}
	for rows.Next() {
		u, err := scanAdminUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetAdminUserByID retrieves a single admin portal account with provider information.
func (s *Store) GetAdminUserByID(id int64) (*AdminUser, error) {
	u, err := scanAdminUser(s.db.QueryRow(
		`SELECT `+userColumnsWithProvider+` FROM users WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting admin user by id: %w", err)
	}
	return &u, nil
}

// ErrLastAdmin is returned when trying to delete or demote the last admin.
var ErrLastAdmin = errors.New("cannot remove the last admin")

// checkLastAdmin verifies the account exists and reports whether removing
// its admin role would leave the portal with zero admins.
func checkLastAdmin(tx *sql.Tx, id int64) (models.Role, error) {
	var role models.Role
	err := tx.QueryRow(`SELECT role FROM users WHERE id = ?`, id).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("checking user role: %w", err)
	}

	if role == models.RoleAdmin {
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM users WHERE role = ?`, models.RoleAdmin).Scan(&count); err != nil {
			return role, fmt.Errorf("counting admins: %w", err)
		}
		if count <= 1 {
			return role, ErrLastAdmin
		}
	}
	return role, nil
}

// DeleteUser deletes an admin portal account by ID, including its sessions.
// Returns ErrLastAdmin if this is the last admin account.
func (s *Store) DeleteUser(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := checkLastAdmin(tx, id); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM sessions WHERE user_id = ?`, id); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}

	return tx.Commit()
}

// CountAdmins returns the number of admin portal accounts.
func (s *Store) CountAdmins() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE role = ?`, models.RoleAdmin).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return count, nil
}

// UpdateUserRoleByIDSafe updates an account's role with last-admin protection.
// Returns ErrLastAdmin if the change would demote the last admin.
func (s *Store) UpdateUserRoleByIDSafe(id int64, newRole models.Role) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = checkLastAdmin(tx, id)
	if err != nil && !(errors.Is(err, ErrLastAdmin) && newRole == models.RoleAdmin) {
		return err
	}

	result, err := tx.Exec(
		`UPDATE users SET role = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, newRole, id,
	)
	if err != nil {
		return fmt.Errorf("updating user role: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}

	return tx.Commit()
}
