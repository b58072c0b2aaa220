// Package router maps a verb, a request path and a host to a registered
// target. Route patterns carry typed variables:
//
//	/users/:id        int
//	/scores/;value    float
//	/tags/#name       string
//
// A route may be bound to a host name or to a "*." wildcard host.
package router

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Route is a registered route. Target is whatever the owner dispatches to.
type Route[T any] struct {
	Verb   Verb
	Domain string
	Path   string
	Parts  []RoutePart
	Vars   []RouteVar
	Target T
}

// Key returns the identity of the route.
func (r *Route[T]) Key() RouteKey {
	return RouteKey{Verb: r.Verb, Domain: r.Domain, Parts: r.Parts}
}

func (r *Route[T]) String() string {
	domain := r.Domain
	if domain == "" {
		domain = "*"
	}
	return fmt.Sprintf("%-7s %s %s", r.Verb, domain, r.Path)
}

// Match is the result of a successful Find.
type Match[T any] struct {
	Route  *Route[T]
	Params URLParams
}

// Router is a routing table. Routes may be added while Find runs
// concurrently.
type Router[T any] struct {
	mu        sync.RWMutex
	tables    map[string]*node[T] // by normalized domain, "" for any host
	wildcards []string            // wildcard domains, most labels first
	keys      map[string]struct{}
	routes    []*Route[T]
}

// New returns an empty router.
func New[T any]() *Router[T] {
	return &Router[T]{
		tables: make(map[string]*node[T]),
		keys:   make(map[string]struct{}),
	}
}

// Route registers target for verb and path, optionally bound to domain.
// A path that differs from an existing one only by variable names or by a
// trailing slash is a duplicate.
func (r *Router[T]) Route(domain string, verb Verb, path string, target T) error {
	if _, ok := verbNames[verb]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownVerb, uint8(verb))
	}
	parts, vars, err := parsePath(path)
	if err != nil {
		return err
	}
	d, err := NormalizeDomain(domain)
	if err != nil {
		return err
	}
	rt := &Route[T]{
		Verb:   verb,
		Domain: d,
		Path:   path,
		Parts:  parts,
		Vars:   vars,
		Target: target,
	}
	key := rt.Key().String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.keys[key]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateRoute, key)
	}
	root, ok := r.tables[d]
	if !ok {
		root = newNode[T]()
		r.tables[d] = root
		if isWildcard(d) {
			r.wildcards = append(r.wildcards, d)
			sort.SliceStable(r.wildcards, func(i, j int) bool {
				return strings.Count(r.wildcards[i], ".") > strings.Count(r.wildcards[j], ".")
			})
		}
	}
	term := root.insert(parts)
	if term.routes == nil {
		term.routes = make(map[Verb]*Route[T])
	}
	term.routes[verb] = rt
	r.keys[key] = struct{}{}
	r.routes = append(r.routes, rt)
	return nil
}

// Routes returns a snapshot of the registered routes in registration order.
func (r *Router[T]) Routes() []Route[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route[T], len(r.routes))
	for i, rt := range r.routes {
		out[i] = *rt
	}
	return out
}

func (r *Router[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Find resolves a request. host may carry a port; an empty host only sees
// routes without a domain. Routes bound to the exact host are tried first,
// then matching wildcard hosts (most specific first), then unbound routes.
func (r *Router[T]) Find(verb Verb, path, host string) (*Match[T], error) {
	segs, err := splitRequestPath(path)
	if err != nil {
		return nil, err
	}
	host = normalizeHost(host)

	r.mu.RLock()
	defer r.mu.RUnlock()

	allowed := make(map[Verb]struct{})
	for _, root := range r.candidates(host) {
		rt, vals := root.match(segs, verb, make([]URLParam, 0, len(segs)), allowed)
		if rt == nil {
			continue
		}
		m := &Match[T]{Route: rt}
		for i, v := range rt.Vars {
			m.Params.Add(v.Name, vals[i])
		}
		return m, nil
	}
	if len(allowed) > 0 {
		e := &MethodNotAllowedError{}
		for _, v := range Verbs() {
			if _, ok := allowed[v]; ok {
				e.Allowed = append(e.Allowed, v)
			}
		}
		return nil, e
	}
	return nil, fmt.Errorf("%w: %s %s", ErrNotFound, verb, path)
}

// candidates lists the tables to search for host, in priority order.
func (r *Router[T]) candidates(host string) []*node[T] {
	var out []*node[T]
	if host != "" {
		if root, ok := r.tables[host]; ok {
			out = append(out, root)
		}
		for _, w := range r.wildcards {
			if wildcardMatches(w, host) {
				out = append(out, r.tables[w])
			}
		}
	}
	if root, ok := r.tables[""]; ok {
		out = append(out, root)
	}
	return out
}

// splitRequestPath splits an escaped request path into decoded segments.
// A single trailing slash is ignored.
func splitRequestPath(path string) ([]string, error) {
	if path == "" || path == "/" {
		return nil, nil
	}
	if path[0] != '/' {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	body := strings.TrimSuffix(path[1:], "/")
	if body == "" {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	raw := strings.Split(body, "/")
	segs := make([]string, len(raw))
	for i, s := range raw {
		if s == "" {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
		}
		dec, err := url.PathUnescape(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrNotFound, path, err)
		}
		segs[i] = dec
	}
	return segs, nil
}

// Builder assembles a route step by step:
//
//	r.Path("/hello/world").Domain("example.com").Verb(router.Post).Route(target)
type Builder[T any] struct {
	router *Router[T]
	path   string
	domain string
	verb   Verb
}

// Path starts a builder for path. The verb defaults to GET.
func (r *Router[T]) Path(path string) *Builder[T] {
	return &Builder[T]{router: r, path: path, verb: Get}
}

func (b *Builder[T]) Domain(domain string) *Builder[T] {
	b.domain = domain
	return b
}

func (b *Builder[T]) Verb(v Verb) *Builder[T] {
	b.verb = v
	return b
}

func (b *Builder[T]) Get() *Builder[T]    { return b.Verb(Get) }
func (b *Builder[T]) Post() *Builder[T]   { return b.Verb(Post) }
func (b *Builder[T]) Put() *Builder[T]    { return b.Verb(Put) }
func (b *Builder[T]) Patch() *Builder[T]  { return b.Verb(Patch) }
func (b *Builder[T]) Delete() *Builder[T] { return b.Verb(Delete) }

// Route registers the built route with target.
func (b *Builder[T]) Route(target T) error {
	return b.router.Route(b.domain, b.verb, b.path, target)
}
