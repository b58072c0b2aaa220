package router

import (
	"errors"
	"strings"
)

var (
	ErrLeadingSlash   = errors.New("route path must start with '/'")
	ErrEmptySegment   = errors.New("route path contains an empty segment")
	ErrInvalidSegment = errors.New("route path contains an invalid segment")
	ErrInvalidVarName = errors.New("route variable name must be non-empty [A-Za-z0-9_]")
	ErrDuplicateVar   = errors.New("route variable declared twice")
	ErrInvalidDomain  = errors.New("invalid route domain")
	ErrDuplicateRoute = errors.New("route already registered")
	ErrUnknownVerb    = errors.New("unknown http verb")
	ErrNotFound       = errors.New("no route matches")
)

// MethodNotAllowedError is returned by Find when the path exists but only
// for other verbs.
type MethodNotAllowedError struct {
	Allowed []Verb
}

func (e *MethodNotAllowedError) Error() string {
	return "method not allowed, allowed: " + e.AllowHeader()
}

// AllowHeader formats the allowed verbs for an HTTP Allow header.
func (e *MethodNotAllowedError) AllowHeader() string {
	names := make([]string, len(e.Allowed))
	for i, v := range e.Allowed {
		names[i] = v.String()
	}
	return strings.Join(names, ", ")
}
