// Package csrf protects state changing requests with a per-session token.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/go-while/go-bolts/session"
)

const (
	// SessionKey is where the token lives in the session.
	SessionKey = "_csrf"
	// FieldName is the form field checked on unsafe requests.
	FieldName = "_csrf"
	// HeaderName is checked when the form field is absent.
	HeaderName = "X-CSRF-Token"

	tokenBytes = 32
)

var ErrInvalidToken = errors.New("invalid or missing CSRF token")

// Token returns the session token, creating it on first use.
func Token(s *session.Session) (string, error) {
	if t := s.Get(SessionKey); t != "" {
		return t, nil
	}
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate CSRF token: %w", err)
	}
	t := hex.EncodeToString(b)
	s.Set(SessionKey, t)
	return t, nil
}

// Verify compares the presented token with the session token in constant time.
func Verify(s *session.Session, presented string) error {
	want := s.Get(SessionKey)
	if want == "" || presented == "" {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(presented)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Protector decides which requests need a token.
type Protector struct {
	enabled bool
	exempt  []string
}

// New returns a Protector. Paths starting with one of the exempt prefixes
// are never checked.
func New(enabled bool, exemptPrefixes []string) *Protector {
	return &Protector{enabled: enabled, exempt: exemptPrefixes}
}

func (p *Protector) Enabled() bool { return p.enabled }

// Required reports whether a request with method on path must carry a token.
func (p *Protector) Required(method, path string) bool {
	if !p.enabled {
		return false
	}
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "OPTIONS", "TRACE":
		return false
	}
	for _, prefix := range p.exempt {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}
