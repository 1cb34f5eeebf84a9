// Package users persists GachaHub accounts and notification
// subscriptions. Passwords are stored as bcrypt hashes; the plaintext
// never leaves auth.HashPassword.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gachahub/gachahub/auth"
	"github.com/gachahub/gachahub/idgen"
	"github.com/gachahub/gachahub/notify"
)

const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'USER',
    notification_enabled INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`

const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

var (
	ErrNotFound      = errors.New("users: not found")
	ErrDuplicate     = errors.New("users: username or email already taken")
	ErrInvalidInput  = errors.New("users: invalid input")
	ErrLastAdmin     = errors.New("users: cannot remove the last admin")
	ErrBadCredential = errors.New("users: bad credentials")
)

type User struct {
	ID                  string `json:"id"`
	Username            string `json:"username"`
	Email               string `json:"email"`
	PasswordHash        string `json:"-"`
	Role                string `json:"role"`
	NotificationEnabled bool   `json:"notificationEnabled"`
	CreatedAt           int64  `json:"createdAt"`
	UpdatedAt           int64  `json:"updatedAt"`
}

type Store struct {
	DB    *sql.DB
	newID idgen.Generator
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, newID: idgen.Prefixed("usr_", idgen.UUIDv7())}
}

func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

const userColumns = `id, username, email, password_hash, role, notification_enabled, created_at, updated_at`

// Create hashes the password and inserts a new account.
func (s *Store) Create(ctx context.Context, username, email, password, role string) (*User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" {
		return nil, fmt.Errorf("%w: username and email required", ErrInvalidInput)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	if role != RoleAdmin && role != RoleUser {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	u := &User{
		ID:                  s.newID(),
		Username:            username,
		Email:               email,
		PasswordHash:        hash,
		Role:                role,
		NotificationEnabled: true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	_, err = s.DB.ExecContext(ctx, `
        INSERT INTO users (`+userColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role,
		boolToInt(u.NotificationEnabled), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (s *Store) List(ctx context.Context) ([]*User, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUserRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Delete removes an account. The last remaining admin cannot be deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	u, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrNotFound
	}
	if u.Role == RoleAdmin {
		var admins int
		if err := s.DB.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM users WHERE role = ?`, RoleAdmin).Scan(&admins); err != nil {
			return fmt.Errorf("count admins: %w", err)
		}
		if admins <= 1 {
			return ErrLastAdmin
		}
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Authenticate verifies a username/password pair. A missing user and a
// wrong password return the same error.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrBadCredential
	}
	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		return nil, ErrBadCredential
	}
	return u, nil
}

// ToggleNotification flips a user's digest subscription and returns the
// new state.
func (s *Store) ToggleNotification(ctx context.Context, id string) (bool, error) {
	u, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if u == nil {
		return false, ErrNotFound
	}
	next := !u.NotificationEnabled
	_, err = s.DB.ExecContext(ctx, `
        UPDATE users SET notification_enabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(next), time.Now().UnixMilli(), id)
	if err != nil {
		return false, fmt.Errorf("toggle notification: %w", err)
	}
	return next, nil
}

// ListNotificationEnabled returns digest recipients. It satisfies
// notify.UserSource.
func (s *Store) ListNotificationEnabled(ctx context.Context) ([]notify.Recipient, error) {
	rows, err := s.DB.QueryContext(ctx, `
        SELECT email, username FROM users
        WHERE notification_enabled = 1
        ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []notify.Recipient
	for rows.Next() {
		var r notify.Recipient
		if err := rows.Scan(&r.Email, &r.Username); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SeedAdmin creates the initial admin account when no admin exists yet.
// Returns the created user, or nil when an admin is already present.
func (s *Store) SeedAdmin(ctx context.Context, username, email, password string) (*User, error) {
	var admins int
	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE role = ?`, RoleAdmin).Scan(&admins); err != nil {
		return nil, fmt.Errorf("count admins: %w", err)
	}
	if admins > 0 {
		return nil, nil
	}
	return s.Create(ctx, username, email, password, RoleAdmin)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var enabled int
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role,
		&enabled, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.NotificationEnabled = enabled != 0
	return &u, nil
}

func scanUserRows(rows *sql.Rows) (*User, error) {
	var u User
	var enabled int
	err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role,
		&enabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.NotificationEnabled = enabled != 0
	return &u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
