// Package templates loads html/template views from a directory.
//
// A view named "users/show" is read from <dir>/users/show.html. When
// <dir>/layout.html exists, views defining a "content" block are executed
// through it; other views are executed on their own. Parsed views are
// cached until Clear is called.
package templates

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	Ext    = ".html"
	Layout = "layout" + Ext
)

var ErrInvalidName = errors.New("invalid template name")

// Set is a cache of parsed views rooted at one directory.
type Set struct {
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*template.Template
}

func New(dir string, logger *zap.Logger) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Set{dir: dir, logger: logger, cache: make(map[string]*template.Template)}
}

func (s *Set) Dir() string { return s.dir }

// Funcs are available in every view.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"csrf_field": CSRFField,
		"upper":      strings.ToUpper,
		"lower":      strings.ToLower,
	}
}

// CSRFField renders the hidden form input carrying token.
func CSRFField(token string) template.HTML {
	return template.HTML(`<input type="hidden" name="_csrf" value="` + template.HTMLEscapeString(token) + `">`)
}

// Render executes the view name with data into w.
func (s *Set) Render(w io.Writer, name string, data any) error {
	t, err := s.Lookup(name)
	if err != nil {
		return err
	}
	entry := filepath.Base(name) + Ext
	if t.Lookup(Layout) != nil {
		entry = Layout
	}
	if err := t.ExecuteTemplate(w, entry, data); err != nil {
		return fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return nil
}

// Lookup returns the parsed view, parsing it on first use.
func (s *Set) Lookup(name string) (*template.Template, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	s.mu.RLock()
	t, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := s.parse(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[name] = t
	s.mu.Unlock()
	return t, nil
}

func (s *Set) parse(name string) (*template.Template, error) {
	view := filepath.Join(s.dir, filepath.FromSlash(name)+Ext)
	t, err := template.New(filepath.Base(view)).Funcs(Funcs()).ParseFiles(view)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	// views without a content block stand alone
	if t.Lookup("content") == nil {
		return t, nil
	}
	layout := filepath.Join(s.dir, Layout)
	if _, err := os.Stat(layout); err != nil {
		return t, nil
	}
	t, err = template.New(Layout).Funcs(Funcs()).ParseFiles(layout, view)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return t, nil
}

// Clear drops every cached view.
func (s *Set) Clear() {
	s.mu.Lock()
	s.cache = make(map[string]*template.Template)
	s.mu.Unlock()
}

// Cached reports how many views are parsed.
func (s *Set) Cached() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

// Watch clears the cache whenever a file below the views directory
// changes. It blocks until ctx is done.
func (s *Set) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create template watcher: %w", err)
	}
	defer w.Close()

	err = filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}
	s.logger.Debug("watching templates", zap.String("dir", s.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := w.Add(ev.Name); err != nil {
						s.logger.Warn("failed to watch new directory", zap.String("dir", ev.Name), zap.Error(err))
					}
				}
			}
			s.Clear()
			s.logger.Debug("templates changed, cache cleared", zap.String("file", ev.Name))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("template watcher error", zap.Error(err))
		}
	}
}
