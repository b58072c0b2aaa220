package csrf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-while/go-bolts/session"
)

func TestTokenIsStable(t *testing.T) {
	s := &session.Session{}
	a, err := Token(s)
	require.NoError(t, err)
	assert.Len(t, a, 2*tokenBytes)
	assert.True(t, s.IsDirty())

	b, err := Token(s)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestVerify(t *testing.T) {
	s := &session.Session{}
	assert.ErrorIs(t, Verify(s, "anything"), ErrInvalidToken, "no token issued yet")

	tok, err := Token(s)
	require.NoError(t, err)
	assert.NoError(t, Verify(s, tok))
	assert.ErrorIs(t, Verify(s, ""), ErrInvalidToken)
	assert.ErrorIs(t, Verify(s, tok[:10]), ErrInvalidToken)
	assert.ErrorIs(t, Verify(&session.Session{}, tok), ErrInvalidToken, "token of another session")
}

func TestRequired(t *testing.T) {
	p := New(true, []string{"/api/"})
	assert.False(t, p.Required("GET", "/form"))
	assert.False(t, p.Required("head", "/form"))
	assert.True(t, p.Required("POST", "/form"))
	assert.True(t, p.Required("DELETE", "/items/1"))
	assert.False(t, p.Required("POST", "/api/items"))

	off := New(false, nil)
	assert.False(t, off.Required("POST", "/form"))
}
