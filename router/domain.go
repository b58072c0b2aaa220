package router

import (
	"fmt"
	"net"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

const wildcardLabel = "*"

// NormalizeDomain validates a route domain and returns its lower-case ASCII
// form. An empty domain is valid and means "any host". The first label may
// be "*" to match one or more leading labels.
func NormalizeDomain(domain string) (string, error) {
	if domain == "" {
		return "", nil
	}
	wildcard := strings.HasPrefix(domain, wildcardLabel+".")
	name := domain
	if wildcard {
		name = domain[len(wildcardLabel)+1:]
	}
	if !isASCII(name) {
		ascii, err := idna.Lookup.ToASCII(name)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidDomain, domain, err)
		}
		name = ascii
	}
	name = strings.ToLower(name)
	if len(name) > 253 {
		return "", fmt.Errorf("%w: %q is too long", ErrInvalidDomain, domain)
	}

	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return "", fmt.Errorf("%w: %q needs at least two labels", ErrInvalidDomain, domain)
	}
	for _, l := range labels {
		if !validLabel(l) {
			return "", fmt.Errorf("%w: %q has invalid label %q", ErrInvalidDomain, domain, l)
		}
	}
	if wildcard {
		return wildcardLabel + "." + name, nil
	}
	return name, nil
}

func validLabel(l string) bool {
	if l == "" || len(l) > 63 || l[0] == '-' || l[len(l)-1] == '-' {
		return false
	}
	for i := 0; i < len(l); i++ {
		c := l[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
			return false
		}
	}
	return true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// isWildcard reports whether a normalized domain starts with "*.".
func isWildcard(domain string) bool {
	return strings.HasPrefix(domain, wildcardLabel+".")
}

// wildcardMatches reports whether host is covered by a "*." pattern.
// The wildcard stands for at least one label.
func wildcardMatches(pattern, host string) bool {
	suffix := pattern[len(wildcardLabel):] // keeps the leading dot
	return len(host) > len(suffix) && strings.HasSuffix(host, suffix)
}

// normalizeHost strips the port and a trailing dot from a request host.
func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if !isASCII(host) {
		if ascii, err := idna.Lookup.ToASCII(host); err == nil {
			host = ascii
		}
	}
	return strings.ToLower(host)
}
