// Package routesfile registers routes declared in a YAML file.
//
//	routes:
//	  - path: /hello/#name
//	    text: "Hello {name}"
//	  - verb: GET
//	    domain: "*.example.com"
//	    path: /
//	    template: home
//	  - path: /old
//	    redirect: /new
//	  - path: /api/items/:id
//	    json: {id: "{id}"}
//
// {name} placeholders are replaced with the matching path variable. In
// redirect targets the value is path-escaped.
package routesfile

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/go-while/go-bolts/router"
	"github.com/go-while/go-bolts/web"
)

// Entry is one declared route.
type Entry struct {
	Verb     string `yaml:"verb"`
	Domain   string `yaml:"domain"`
	Path     string `yaml:"path"`
	Status   int    `yaml:"status"`
	Text     string `yaml:"text"`
	HTML     string `yaml:"html"`
	Template string `yaml:"template"`
	Redirect string `yaml:"redirect"`
	JSON     any    `yaml:"json"`
}

// File is the parsed routes file.
type File struct {
	Routes []Entry `yaml:"routes"`
}

// Load reads and parses path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a routes document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse routes: %w", err)
	}
	for i := range f.Routes {
		if err := f.Routes[i].validate(); err != nil {
			return nil, fmt.Errorf("route %d (%s): %w", i+1, f.Routes[i].Path, err)
		}
	}
	return &f, nil
}

func (e *Entry) validate() error {
	if e.Path == "" {
		return errors.New("path is required")
	}
	if e.Verb == "" {
		e.Verb = "GET"
	}
	if _, err := router.ParseVerb(e.Verb); err != nil {
		return err
	}
	kinds := 0
	for _, set := range []bool{e.Text != "", e.HTML != "", e.Template != "", e.Redirect != "", e.JSON != nil} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return errors.New("exactly one of text, html, template, redirect or json is required")
	}
	if e.Status != 0 && (e.Status < 100 || e.Status > 599) {
		return fmt.Errorf("invalid status %d", e.Status)
	}
	return nil
}

// Register adds every route of f to app.
func (f *File) Register(app *web.App) error {
	for _, e := range f.Routes {
		verb, err := router.ParseVerb(e.Verb)
		if err != nil {
			return err
		}
		if err := app.HandleDomain(e.Domain, verb, e.Path, e.Handler()); err != nil {
			return fmt.Errorf("route %s %s: %w", e.Verb, e.Path, err)
		}
	}
	return nil
}

// Handler builds the handler answering e.
func (e Entry) Handler() web.Handler {
	return func(c *web.Context) web.Render {
		var r web.Render
		switch {
		case e.Text != "":
			r = web.Plain(substitute(e.Text, c.URL, nil))
		case e.HTML != "":
			r = web.HTML(substitute(e.HTML, c.URL, html.EscapeString))
		case e.Template != "":
			r = web.Template(e.Template, paramMap(c.URL))
		case e.Redirect != "":
			r = redirect(substitute(e.Redirect, c.URL, url.PathEscape))
		default:
			r = web.JSON(substituteValue(e.JSON, c.URL))
		}
		if e.Status != 0 {
			r = r.WithStatus(e.Status)
		}
		return r
	}
}

// redirect refuses protocol-relative targets, which would leave the host.
func redirect(location string) web.Render {
	if strings.HasPrefix(location, "//") || strings.HasPrefix(location, `/\`) {
		return web.Plain("400 bad request").WithStatus(http.StatusBadRequest)
	}
	return web.Redirect(location)
}

func paramMap(p router.URLParams) map[string]string {
	m := make(map[string]string, p.Len())
	for _, name := range p.Names() {
		m[name] = p.Value(name)
	}
	return m
}

// substitute replaces {name} with the path variable name. Unknown
// placeholders are left alone.
func substitute(s string, p router.URLParams, escape func(string) string) string {
	if p.Len() == 0 || !strings.Contains(s, "{") {
		return s
	}
	pairs := make([]string, 0, 2*p.Len())
	for _, name := range p.Names() {
		v := p.Value(name)
		if escape != nil {
			v = escape(v)
		}
		pairs = append(pairs, "{"+name+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

func substituteValue(v any, p router.URLParams) any {
	switch t := v.(type) {
	case string:
		return substitute(t, p, nil)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = substituteValue(val, p)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = substituteValue(val, p)
		}
		return out
	}
	return v
}
