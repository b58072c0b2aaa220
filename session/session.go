// Package session keeps per-visitor state behind an opaque cookie.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// IDLength is the length of a session id in hex characters.
const IDLength = 64

var ErrNotFound = errors.New("session not found")

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Session is the state of one visitor. Mutate it through its methods so
// the manager knows it must be saved.
type Session struct {
	ID        string
	UserID    int64
	Values    map[string]string
	Flash     []Flash
	CreatedAt time.Time
	ExpiresAt time.Time

	isNew     bool
	dirty     bool
	destroyed bool
	previous  string // id replaced by Rotate
}

// GenerateID creates a cryptographically secure session id.
func GenerateID() (string, error) {
	b := make([]byte, IDLength/2) // hex encoding doubles the length
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secure session ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func newSession(now time.Time, ttl time.Duration) (*Session, error) {
	id, err := GenerateID()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        id,
		Values:    make(map[string]string),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		isNew:     true,
	}, nil
}

func (s *Session) Get(key string) string {
	return s.Values[key]
}

func (s *Session) Set(key, value string) {
	if s.Values == nil {
		s.Values = make(map[string]string)
	}
	if old, ok := s.Values[key]; ok && old == value {
		return
	}
	s.Values[key] = value
	s.dirty = true
}

func (s *Session) Delete(key string) {
	if _, ok := s.Values[key]; ok {
		delete(s.Values, key)
		s.dirty = true
	}
}

// SetUser binds the session to a user id; 0 logs out.
func (s *Session) SetUser(id int64) {
	if s.UserID != id {
		s.UserID = id
		s.dirty = true
	}
}

// AddFlash queues a message for the next page.
func (s *Session) AddFlash(kind, msg string) {
	s.Flash = append(s.Flash, Flash{Kind: kind, Message: msg})
	s.dirty = true
}

// Flashes returns and clears the queued messages.
func (s *Session) Flashes() []Flash {
	if len(s.Flash) == 0 {
		return nil
	}
	out := s.Flash
	s.Flash = nil
	s.dirty = true
	return out
}

// Rotate gives the session a fresh id, keeping its data. Call it when the
// privilege level changes (login, logout).
func (s *Session) Rotate() error {
	id, err := GenerateID()
	if err != nil {
		return err
	}
	if s.previous == "" && !s.isNew {
		s.previous = s.ID
	}
	s.ID = id
	s.dirty = true
	return nil
}

// Destroy marks the session for deletion at commit.
func (s *Session) Destroy() {
	s.destroyed = true
}

func (s *Session) IsNew() bool   { return s.isNew }
func (s *Session) IsDirty() bool { return s.dirty }

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
