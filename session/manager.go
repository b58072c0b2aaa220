package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Manager loads sessions from the request cookie and writes them back.
type Manager struct {
	store  Store
	cookie string
	ttl    time.Duration
	now    func() time.Time
}

// NewManager returns a manager storing sessions in store under the cookie
// name. ttl is a sliding timeout: each committed request extends it.
func NewManager(store Store, cookie string, ttl time.Duration) *Manager {
	return &Manager{store: store, cookie: cookie, ttl: ttl, now: time.Now}
}

func (m *Manager) CookieName() string { return m.cookie }
func (m *Manager) Store() Store       { return m.store }

// Start returns the session named by the request cookie or a fresh one.
// Fresh sessions are only stored once something is written to them.
func (m *Manager) Start(ctx context.Context, r *http.Request) (*Session, error) {
	if c, err := r.Cookie(m.cookie); err == nil && len(c.Value) == IDLength {
		s, err := m.store.Load(ctx, c.Value)
		switch {
		case err == nil:
			return s, nil
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}
	return newSession(m.now(), m.ttl)
}

// Commit persists s and sets or clears the cookie. It must run before the
// response body is written.
func (m *Manager) Commit(ctx context.Context, w http.ResponseWriter, r *http.Request, s *Session) error {
	if s.destroyed {
		for _, id := range []string{s.previous, s.ID} {
			if id == "" {
				continue
			}
			if err := m.store.Delete(ctx, id); err != nil {
				return err
			}
		}
		m.clearCookie(w, r)
		return nil
	}
	if s.isNew && !s.dirty {
		return nil
	}
	if s.previous != "" {
		if err := m.store.Delete(ctx, s.previous); err != nil {
			return err
		}
		s.previous = ""
	}
	s.ExpiresAt = m.now().Add(m.ttl)
	if err := m.store.Save(ctx, s); err != nil {
		return err
	}
	s.isNew, s.dirty = false, false
	m.setCookie(w, r, s.ID)
	return nil
}

// Cleanup removes expired sessions from the store.
func (m *Manager) Cleanup(ctx context.Context) (int64, error) {
	return m.store.DeleteExpired(ctx)
}

// isHTTPS detects HTTPS from the current request perspective only: actual
// TLS or a reverse proxy header.
func isHTTPS(r *http.Request) bool {
	return r != nil && (r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https"))
}

func (m *Manager) setCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(m.ttl / time.Second),
	})
}

func (m *Manager) clearCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1, // delete cookie
	})
}
