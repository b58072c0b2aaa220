package router

import (
	"fmt"
	"strings"
)

// Verb is an HTTP request method understood by the router.
type Verb uint8

const (
	Get Verb = iota + 1
	Post
	Put
	Patch
	Delete
	Head
	Options
)

var verbNames = map[Verb]string{
	Get:     "GET",
	Post:    "POST",
	Put:     "PUT",
	Patch:   "PATCH",
	Delete:  "DELETE",
	Head:    "HEAD",
	Options: "OPTIONS",
}

// Verbs returns every supported verb in declaration order.
func Verbs() []Verb {
	return []Verb{Get, Post, Put, Patch, Delete, Head, Options}
}

// ParseVerb maps a method name (any case) to a Verb.
func ParseVerb(method string) (Verb, error) {
	upper := strings.ToUpper(strings.TrimSpace(method))
	for v, name := range verbNames {
		if name == upper {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownVerb, method)
}

func (v Verb) String() string {
	if name, ok := verbNames[v]; ok {
		return name
	}
	return fmt.Sprintf("Verb(%d)", uint8(v))
}

// Safe reports whether requests with this verb must not change server state.
func (v Verb) Safe() bool {
	return v == Get || v == Head || v == Options
}
