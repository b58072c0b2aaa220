package router

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// PartKind tells how a single path segment is matched.
type PartKind uint8

const (
	PathPart   PartKind = iota // literal text
	IntPart                    // ":name"
	FloatPart                  // ";name"
	StringPart                 // "#name"
)

func (k PartKind) String() string {
	switch k {
	case PathPart:
		return "path"
	case IntPart:
		return "int"
	case FloatPart:
		return "float"
	case StringPart:
		return "string"
	}
	return fmt.Sprintf("PartKind(%d)", uint8(k))
}

// sigil returns the prefix used in route patterns for a variable kind.
func (k PartKind) sigil() byte {
	switch k {
	case IntPart:
		return ':'
	case FloatPart:
		return ';'
	case StringPart:
		return '#'
	}
	return 0
}

func kindForSigil(b byte) (PartKind, bool) {
	switch b {
	case ':':
		return IntPart, true
	case ';':
		return FloatPart, true
	case '#':
		return StringPart, true
	}
	return PathPart, false
}

// RoutePart is one segment of a parsed route. Literal is only set for PathPart.
type RoutePart struct {
	Kind    PartKind
	Literal string
}

// Path builds a literal part.
func Path(literal string) RoutePart {
	return RoutePart{Kind: PathPart, Literal: literal}
}

// Var builds a variable part of the given kind.
func Var(kind PartKind) RoutePart {
	return RoutePart{Kind: kind}
}

// RouteVar is a named, typed variable declared in a route pattern.
type RouteVar struct {
	Kind PartKind
	Name string
}

// RouteKey identifies a route. Variable names are not part of the key:
// "/a/:id" and "/a/:num" collide.
type RouteKey struct {
	Verb   Verb
	Domain string // "" matches any host
	Parts  []RoutePart
}

// NewRouteKey parses path and validates domain for verb.
func NewRouteKey(verb Verb, path, domain string) (RouteKey, error) {
	parts, _, err := parsePath(path)
	if err != nil {
		return RouteKey{}, err
	}
	d, err := NormalizeDomain(domain)
	if err != nil {
		return RouteKey{}, err
	}
	return RouteKey{Verb: verb, Domain: d, Parts: parts}, nil
}

// RouteKeyFromPath builds a key that is not bound to a domain.
func RouteKeyFromPath(verb Verb, path string) (RouteKey, error) {
	return NewRouteKey(verb, path, "")
}

// String renders the key in a canonical form suitable as a map key.
func (k RouteKey) String() string {
	var b strings.Builder
	b.WriteString(k.Verb.String())
	b.WriteByte(' ')
	b.WriteString(k.Domain)
	b.WriteByte(' ')
	b.WriteString(joinParts(k.Parts))
	return b.String()
}

func joinParts(parts []RoutePart) string {
	if len(parts) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteByte('/')
		if p.Kind == PathPart {
			b.WriteString(p.Literal)
		} else {
			b.WriteByte(p.Kind.sigil())
		}
	}
	return b.String()
}

// parsePath splits a route pattern into its parts and declared variables.
func parsePath(path string) ([]RoutePart, []RouteVar, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, nil, fmt.Errorf("%w: %q", ErrLeadingSlash, path)
	}
	if path == "/" {
		return nil, nil, nil
	}
	body := strings.TrimSuffix(path[1:], "/")
	if body == "" {
		return nil, nil, fmt.Errorf("%w: %q", ErrEmptySegment, path)
	}

	segments := strings.Split(body, "/")
	parts := make([]RoutePart, 0, len(segments))
	var vars []RouteVar
	seen := make(map[string]struct{})
	for _, seg := range segments {
		if seg == "" {
			return nil, nil, fmt.Errorf("%w: %q", ErrEmptySegment, path)
		}
		if kind, ok := kindForSigil(seg[0]); ok {
			name := seg[1:]
			if !validVarName(name) {
				return nil, nil, fmt.Errorf("%w: %q in %q", ErrInvalidVarName, seg, path)
			}
			if _, dup := seen[name]; dup {
				return nil, nil, fmt.Errorf("%w: %q in %q", ErrDuplicateVar, name, path)
			}
			seen[name] = struct{}{}
			parts = append(parts, Var(kind))
			vars = append(vars, RouteVar{Kind: kind, Name: name})
			continue
		}
		if strings.ContainsRune(seg, '?') || strings.IndexFunc(seg, unicode.IsSpace) >= 0 {
			return nil, nil, fmt.Errorf("%w: %q in %q", ErrInvalidSegment, seg, path)
		}
		// literals are compared with decoded, NFC-normalized request segments
		lit, err := url.PathUnescape(seg)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %q in %q: %v", ErrInvalidSegment, seg, path, err)
		}
		if strings.Contains(lit, "/") {
			return nil, nil, fmt.Errorf("%w: %q in %q", ErrInvalidSegment, seg, path)
		}
		parts = append(parts, Path(norm.NFC.String(lit)))
	}
	return parts, vars, nil
}

func validVarName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}
