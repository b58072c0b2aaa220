package router

import (
	"math"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// node is one level of the segment tree. Each domain table owns one root.
// Terminal nodes keep the routes ending there, per verb.
type node[T any] struct {
	literal     map[string]*node[T]
	intChild    *node[T]
	floatChild  *node[T]
	stringChild *node[T]
	routes      map[Verb]*Route[T]
}

func newNode[T any]() *node[T] {
	return &node[T]{}
}

// insert walks or creates the path for parts and returns the terminal node.
func (n *node[T]) insert(parts []RoutePart) *node[T] {
	cur := n
	for _, p := range parts {
		var next **node[T]
		switch p.Kind {
		case IntPart:
			next = &cur.intChild
		case FloatPart:
			next = &cur.floatChild
		case StringPart:
			next = &cur.stringChild
		default:
			if cur.literal == nil {
				cur.literal = make(map[string]*node[T])
			}
			child, ok := cur.literal[p.Literal]
			if !ok {
				child = newNode[T]()
				cur.literal[p.Literal] = child
			}
			cur = child
			continue
		}
		if *next == nil {
			*next = newNode[T]()
		}
		cur = *next
	}
	return cur
}

// routeFor returns the route for verb, letting HEAD fall back to GET.
func (n *node[T]) routeFor(verb Verb) *Route[T] {
	if r, ok := n.routes[verb]; ok {
		return r
	}
	if verb == Head {
		return n.routes[Get]
	}
	return nil
}

// match resolves segs below n. Literal children win over int, int over
// float and float over string; a branch that dead-ends is abandoned for
// the next one. Verbs seen on terminals that matched the path but not the
// verb are collected into allowed.
func (n *node[T]) match(segs []string, verb Verb, vals []URLParam, allowed map[Verb]struct{}) (*Route[T], []URLParam) {
	if len(segs) == 0 {
		if len(n.routes) == 0 {
			return nil, nil
		}
		if r := n.routeFor(verb); r != nil {
			return r, vals
		}
		for v := range n.routes {
			allowed[v] = struct{}{}
			if v == Get {
				allowed[Head] = struct{}{}
			}
		}
		return nil, nil
	}

	seg, rest := norm.NFC.String(segs[0]), segs[1:]
	if child, ok := n.literal[seg]; ok {
		if r, out := child.match(rest, verb, vals, allowed); r != nil {
			return r, out
		}
	}
	if n.intChild != nil {
		if i, err := strconv.ParseInt(seg, 10, 64); err == nil {
			if r, out := n.intChild.match(rest, verb, append(vals, IntParam(i)), allowed); r != nil {
				return r, out
			}
		}
	}
	if n.floatChild != nil {
		if f, err := strconv.ParseFloat(seg, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			if r, out := n.floatChild.match(rest, verb, append(vals, FloatParam(f)), allowed); r != nil {
				return r, out
			}
		}
	}
	if n.stringChild != nil {
		if r, out := n.stringChild.match(rest, verb, append(vals, StringParam(seg)), allowed); r != nil {
			return r, out
		}
	}
	return nil, nil
}
