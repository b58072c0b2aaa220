package models

import "time"

// User is an account that can log in through a session.
type User struct {
	ID            int64     `json:"id" db:"id"`
	Username      string    `json:"username" db:"username"`
	Email         string    `json:"email" db:"email"`
	PasswordHash  string    `json:"-" db:"password_hash"`
	DisplayName   string    `json:"display_name" db:"display_name"`
	Admin         bool      `json:"admin" db:"admin"`
	LoginAttempts int       `json:"-" db:"login_attempts"` // failed logins since the last success
	LockedUntil   time.Time `json:"-" db:"locked_until"`   // zero when not locked
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Locked reports whether the account is locked out at now.
func (u *User) Locked(now time.Time) bool {
	return !u.LockedUntil.IsZero() && now.Before(u.LockedUntil)
}
