package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() (*Manager, *MemoryStore) {
	store := NewMemoryStore()
	return NewManager(store, "sid", time.Hour), store
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sid" {
			return c
		}
	}
	return nil
}

func TestGenerateID(t *testing.T) {
	a, err := GenerateID()
	require.NoError(t, err)
	b, err := GenerateID()
	require.NoError(t, err)
	assert.Len(t, a, IDLength)
	assert.NotEqual(t, a, b)
}

func TestUntouchedNewSessionIsNotStored(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	s, err := m.Start(ctx, req)
	require.NoError(t, err)
	assert.True(t, s.IsNew())

	rec := httptest.NewRecorder()
	require.NoError(t, m.Commit(ctx, rec, req, s))
	assert.Nil(t, sessionCookie(t, rec))
	assert.Equal(t, 0, store.Len())
}

func TestSessionRoundTrip(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	s, err := m.Start(ctx, req)
	require.NoError(t, err)
	s.Set("cart", "3")
	s.AddFlash("success", "saved")
	rec := httptest.NewRecorder()
	require.NoError(t, m.Commit(ctx, rec, req, s))

	c := sessionCookie(t, rec)
	require.NotNil(t, c)
	assert.True(t, c.HttpOnly)
	assert.False(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 3600, c.MaxAge)

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.AddCookie(c)
	loaded, err := m.Start(ctx, req2)
	require.NoError(t, err)
	assert.False(t, loaded.IsNew())
	assert.Equal(t, "3", loaded.Get("cart"))
	assert.Equal(t, []Flash{{Kind: "success", Message: "saved"}}, loaded.Flashes())
	assert.Empty(t, loaded.Flashes(), "flashes are read once")
}

func TestSecureCookieBehindProxy(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	s, err := m.Start(ctx, req)
	require.NoError(t, err)
	s.Set("k", "v")
	rec := httptest.NewRecorder()
	require.NoError(t, m.Commit(ctx, rec, req, s))
	assert.True(t, sessionCookie(t, rec).Secure)
}

func TestUnknownCookieStartsFreshSession(t *testing.T) {
	m, _ := newTestManager()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	id, _ := GenerateID()
	req.AddCookie(&http.Cookie{Name: "sid", Value: id})
	s, err := m.Start(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, s.IsNew())
	assert.NotEqual(t, id, s.ID)
}

func TestRotateDropsOldID(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	s, _ := m.Start(ctx, req)
	s.Set("k", "v")
	require.NoError(t, m.Commit(ctx, httptest.NewRecorder(), req, s))
	oldID := s.ID

	loaded, err := store.Load(ctx, oldID)
	require.NoError(t, err)
	require.NoError(t, loaded.Rotate())
	loaded.SetUser(7)
	require.NoError(t, m.Commit(ctx, httptest.NewRecorder(), req, loaded))

	_, err = store.Load(ctx, oldID)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := store.Load(ctx, loaded.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, "v", got.Get("k"))
}

func TestDestroyClearsCookie(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	s, _ := m.Start(ctx, req)
	s.Set("k", "v")
	require.NoError(t, m.Commit(ctx, httptest.NewRecorder(), req, s))
	require.Equal(t, 1, store.Len())

	s.Destroy()
	rec := httptest.NewRecorder()
	require.NoError(t, m.Commit(ctx, rec, req, s))
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, -1, sessionCookie(t, rec).MaxAge)
}

func TestCleanupRemovesExpired(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.Save(ctx, &Session{ID: "old", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, store.Save(ctx, &Session{ID: "fresh", ExpiresAt: now.Add(time.Minute)}))

	_, err := store.Load(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := m.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, store.Len())
}

func TestSetSameValueIsNotDirty(t *testing.T) {
	s := &Session{Values: map[string]string{"a": "1"}}
	s.Set("a", "1")
	assert.False(t, s.IsDirty())
	s.Delete("missing")
	assert.False(t, s.IsDirty())
	s.Set("a", "2")
	assert.True(t, s.IsDirty())
}
