package store

import (
	"database/sql"
	"errors"
)

// CreateUser inserts a new user account.
func (s *Store) CreateUser(email, passwordHash string, isAdmin bool) (*User, error) {
	now := s.now()
	res, err := s.db.Exec(
		`INSERT INTO users (email, password_hash, is_admin, created_at) VALUES (?, ?, ?, ?)`,
		email, passwordHash, isAdmin, now,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &User{ID: id, Email: email, PasswordHash: passwordHash, IsAdmin: isAdmin, CreatedAt: now}, nil
}

// UserByEmail looks a user up by email. Returns ErrNotFound if absent.
func (s *Store) UserByEmail(email string) (*User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, email, password_hash, mfa_secret, mfa_enabled, is_admin, created_at
		 FROM users WHERE email = ?`, email))
}

// UserByID looks a user up by id. Returns ErrNotFound if absent.
func (s *Store) UserByID(id int64) (*User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, email, password_hash, mfa_secret, mfa_enabled, is_admin, created_at
		 FROM users WHERE id = ?`, id))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.MFASecret, &u.MFAEnabled, &u.IsAdmin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SetMFASecret stores a freshly generated TOTP secret and clears the enabled
// flag until the user confirms a code against it.
func (s *Store) SetMFASecret(userID int64, secret string) error {
	_, err := s.db.Exec(`UPDATE users SET mfa_secret = ?, mfa_enabled = 0 WHERE id = ?`, secret, userID)
	return err
}

// EnableMFA marks the user's second factor as confirmed.
func (s *Store) EnableMFA(userID int64) error {
	_, err := s.db.Exec(`UPDATE users SET mfa_enabled = 1 WHERE id = ?`, userID)
	return err
}

// CreateRole inserts a role, returning the existing one if the name is taken.
func (s *Store) CreateRole(name string) (*Role, error) {
	res, err := s.db.Exec(`INSERT OR IGNORE INTO roles (name) VALUES (?)`, name)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		return &Role{ID: id, Name: name}, nil
	}
	var r Role
	if err := s.db.QueryRow(`SELECT id, name FROM roles WHERE name = ?`, name).Scan(&r.ID, &r.Name); err != nil {
		return nil, err
	}
	return &r, nil
}

// RoleByID looks a role up by id. Returns ErrNotFound if absent.
func (s *Store) RoleByID(id int64) (*Role, error) {
	var r Role
	err := s.db.QueryRow(`SELECT id, name FROM roles WHERE id = ?`, id).Scan(&r.ID, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRoles returns all roles ordered by name.
func (s *Store) ListRoles() ([]Role, error) {
	rows, err := s.db.Query(`SELECT id, name FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := make([]Role, 0)
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// AssignRole grants a role to a user.
func (s *Store) AssignRole(userID, roleID int64) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO user_roles (user_id, role_id) VALUES (?, ?)`, userID, roleID)
	return err
}

// UserRoleNames returns the names of the roles held by a user.
func (s *Store) UserRoleNames(userID int64) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT r.name FROM roles r JOIN user_roles ur ON ur.role_id = r.id WHERE ur.user_id = ? ORDER BY r.name`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
