package web

import (
	"net/http"
)

type renderKind uint8

const (
	kindPlain renderKind = iota
	kindHTML
	kindJSON
	kindTemplate
	kindRedirect
	kindEmpty
)

// Render describes the response a handler wants written. Build one with
// Plain, HTML, JSON, Template, Redirect or Empty and adjust it with the
// With* methods.
type Render struct {
	kind     renderKind
	status   int
	text     string
	value    any
	template string
	location string
	header   http.Header
	cookies  []*http.Cookie
}

// Plain responds with text/plain.
func Plain(text string) Render {
	return Render{kind: kindPlain, status: http.StatusOK, text: text}
}

// HTML responds with a literal html document.
func HTML(html string) Render {
	return Render{kind: kindHTML, status: http.StatusOK, text: html}
}

// JSON responds with v encoded as JSON.
func JSON(v any) Render {
	return Render{kind: kindJSON, status: http.StatusOK, value: v}
}

// Template renders the view name with data. The view receives a
// TemplateData whose Data field holds data.
func Template(name string, data any) Render {
	return Render{kind: kindTemplate, status: http.StatusOK, template: name, value: data}
}

// Redirect sends the client to url with 303 See Other.
func Redirect(url string) Render {
	return Render{kind: kindRedirect, status: http.StatusSeeOther, location: url}
}

// Empty responds with status and no body.
func Empty(status int) Render {
	return Render{kind: kindEmpty, status: status}
}

func (r Render) WithStatus(code int) Render {
	r.status = code
	return r
}

// WithHeader sets a response header.
func (r Render) WithHeader(key, value string) Render {
	h := make(http.Header, len(r.header)+1)
	for k, v := range r.header {
		h[k] = v
	}
	h.Set(key, value)
	r.header = h
	return r
}

// WithCookie adds a Set-Cookie to the response.
func (r Render) WithCookie(c *http.Cookie) Render {
	r.cookies = append(append([]*http.Cookie(nil), r.cookies...), c)
	return r
}

func (r Render) Status() int { return r.status }

// Location is the redirect target, empty for other renders.
func (r Render) Location() string { return r.location }
