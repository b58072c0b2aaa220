package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/go-while/go-bolts/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

const userColumns = `id, username, email, password_hash, display_name, admin,
	login_attempts, locked_until, created_at, updated_at`

// UserStore reads and writes the users table.
type UserStore struct {
	db  *Database
	now func() time.Time
}

// NewUserStore returns a user store backed by d.
func NewUserStore(d *Database) *UserStore {
	return &UserStore{db: d, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                        models.User
		admin                    int
		locked, created, updated int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.DisplayName, &admin,
		&u.LoginAttempts, &locked, &created, &updated)
	if err != nil {
		return nil, err
	}
	u.Admin = admin != 0
	if locked > 0 {
		u.LockedUntil = time.Unix(locked, 0)
	}
	u.CreatedAt = time.Unix(created, 0)
	u.UpdatedAt = time.Unix(updated, 0)
	return &u, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Create inserts u and sets its ID and timestamps.
func (s *UserStore) Create(ctx context.Context, u *models.User) error {
	now := s.now()
	res, err := s.db.retryableExec(ctx, `INSERT INTO users
		(username, email, password_hash, display_name, admin, login_attempts, locked_until, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, u.DisplayName, u.Admin, now.Unix(), now.Unix())
	if err != nil {
		var serr sqlite3.Error
		if errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: %s", ErrUserExists, u.Username)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	u.CreatedAt = time.Unix(now.Unix(), 0)
	u.UpdatedAt = u.CreatedAt
	return nil
}

func (s *UserStore) getOne(ctx context.Context, where string, arg any) (*models.User, error) {
	rows, err := s.db.retryableQuery(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrUserNotFound
	}
	return scanUser(rows)
}

// GetByID returns the user with id.
func (s *UserStore) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return s.getOne(ctx, `id = ?`, id)
}

// GetByUsername returns the user named username.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getOne(ctx, `username = ?`, username)
}

// List returns all users ordered by username.
func (s *UserStore) List(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.retryableQuery(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()
	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Delete removes the user named username.
func (s *UserStore) Delete(ctx context.Context, username string) error {
	return s.expectOne(s.db.retryableExec(ctx, `DELETE FROM users WHERE username = ?`, username))
}

// SetPasswordHash replaces the password hash and clears any lockout.
func (s *UserStore) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return s.expectOne(s.db.retryableExec(ctx, `UPDATE users SET
		password_hash = ?, login_attempts = 0, locked_until = 0, updated_at = ?
		WHERE id = ?`, hash, s.now().Unix(), id))
}

// RecordLoginFailure stores the failed attempt counter and lockout end.
func (s *UserStore) RecordLoginFailure(ctx context.Context, id int64, attempts int, lockedUntil time.Time) error {
	return s.expectOne(s.db.retryableExec(ctx, `UPDATE users SET
		login_attempts = ?, locked_until = ?, updated_at = ?
		WHERE id = ?`, attempts, unixOrZero(lockedUntil), s.now().Unix(), id))
}

// ResetLoginAttempts clears the failed login counter and lockout.
func (s *UserStore) ResetLoginAttempts(ctx context.Context, id int64) error {
	return s.expectOne(s.db.retryableExec(ctx, `UPDATE users SET
		login_attempts = 0, locked_until = 0, updated_at = ?
		WHERE id = ?`, s.now().Unix(), id))
}

func (s *UserStore) expectOne(res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
