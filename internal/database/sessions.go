package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-while/go-bolts/session"
)

// SessionStore keeps sessions in the sessions table.
type SessionStore struct {
	db  *Database
	now func() time.Time
}

var _ session.Store = (*SessionStore)(nil)

// NewSessionStore returns a session.Store backed by d.
func NewSessionStore(d *Database) *SessionStore {
	return &SessionStore{db: d, now: time.Now}
}

type sessionData struct {
	Values map[string]string `json:"values,omitempty"`
	Flash  []session.Flash   `json:"flash,omitempty"`
}

// Load returns the session if it exists and has not expired
func (s *SessionStore) Load(ctx context.Context, id string) (*session.Session, error) {
	var (
		userID           int64
		raw              string
		created, expires int64
	)
	err := s.db.retryableQueryRowScan(ctx,
		`SELECT user_id, data, created_at, expires_at FROM sessions WHERE id = ? AND expires_at > ?`,
		[]any{id, s.now().Unix()}, &userID, &raw, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var data sessionData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("failed to decode session data: %w", err)
	}
	if data.Values == nil {
		data.Values = make(map[string]string)
	}
	return &session.Session{
		ID:        id,
		UserID:    userID,
		Values:    data.Values,
		Flash:     data.Flash,
		CreatedAt: time.Unix(created, 0),
		ExpiresAt: time.Unix(expires, 0),
	}, nil
}

// Save inserts or updates the session
func (s *SessionStore) Save(ctx context.Context, sess *session.Session) error {
	raw, err := json.Marshal(sessionData{Values: sess.Values, Flash: sess.Flash})
	if err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}
	created := sess.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = s.db.retryableExec(ctx, `INSERT INTO sessions (id, user_id, data, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			data = excluded.data,
			expires_at = excluded.expires_at`,
		sess.ID, sess.UserID, string(raw), created.Unix(), sess.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes one session
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.retryableExec(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes expired sessions from the database
func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.retryableExec(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// DeleteForUser invalidates every session of a user, used when a user is
// deleted or changes password.
func (s *SessionStore) DeleteForUser(ctx context.Context, userID int64) error {
	if _, err := s.db.retryableExec(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}
