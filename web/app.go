// Package web serves routed handlers through gin with sessions, CSRF
// protection and templates.
package web

import (
	"errors"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/go-while/go-bolts/internal/auth"
	"github.com/go-while/go-bolts/internal/config"
	"github.com/go-while/go-bolts/internal/csrf"
	"github.com/go-while/go-bolts/internal/database"
	"github.com/go-while/go-bolts/internal/templates"
	"github.com/go-while/go-bolts/router"
	"github.com/go-while/go-bolts/session"
	"github.com/go-while/go-bolts/tasks"
)

// ErrNoDatabase is returned by account helpers when the app has no database.
var ErrNoDatabase = errors.New("app has no database")

// Handler answers one request.
type Handler func(c *Context) Render

// Target is a handler that only looks at the request parameters.
type Target func(url router.URLParams, get, post router.VerbParams) Render

// FromTarget adapts t to a Handler.
func FromTarget(t Target) Handler {
	return func(c *Context) Render {
		return t(c.URL, c.Get, c.Post)
	}
}

// App is a go-bolts web application.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	router   *router.Router[Handler]
	db       *database.Database
	auth     *auth.Service
	store    session.Store
	sessions *session.Manager
	csrf     *csrf.Protector
	views    *templates.Set
	tasks    *tasks.Registry

	engineOnce sync.Once
	engine     *gin.Engine
}

// Option configures an App.
type Option func(*App)

// WithDatabase stores sessions in db and enables accounts.
func WithDatabase(db *database.Database) Option {
	return func(a *App) { a.db = db }
}

// WithSessionStore overrides where sessions are kept.
func WithSessionStore(store session.Store) Option {
	return func(a *App) { a.store = store }
}

func WithTasks(r *tasks.Registry) Option {
	return func(a *App) { a.tasks = r }
}

func WithTemplates(s *templates.Set) Option {
	return func(a *App) { a.views = s }
}

// New builds an App from cfg.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("web: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		router: router.New[Handler](),
		csrf:   csrf.New(cfg.CSRF.Enabled, cfg.CSRF.ExemptPrefixes),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.db != nil {
		a.auth = auth.NewService(a.db, logger.Named("auth"))
		if a.store == nil {
			a.store = database.NewSessionStore(a.db)
		}
	}
	if a.store == nil {
		a.store = session.NewMemoryStore()
	}
	a.sessions = session.NewManager(a.store, cfg.Session.CookieName, cfg.Session.TTL)
	if a.views == nil {
		a.views = templates.New(cfg.Web.ViewsDir, logger.Named("templates"))
	}
	if a.tasks == nil {
		a.tasks = tasks.NewRegistry()
	}
	return a, nil
}

func (a *App) Config() *config.Config          { return a.cfg }
func (a *App) Logger() *zap.Logger             { return a.logger }
func (a *App) Router() *router.Router[Handler] { return a.router }
func (a *App) Database() *database.Database    { return a.db }
func (a *App) Sessions() *session.Manager      { return a.sessions }
func (a *App) Templates() *templates.Set       { return a.views }
func (a *App) Tasks() *tasks.Registry          { return a.tasks }

// Auth returns the account service, nil without a database.
func (a *App) Auth() *auth.Service { return a.auth }

// Handle registers h for verb and path on any host.
func (a *App) Handle(verb router.Verb, path string, h Handler) error {
	return a.router.Route("", verb, path, h)
}

// HandleDomain registers h for verb and path on domain ("*.example.com" allowed).
func (a *App) HandleDomain(domain string, verb router.Verb, path string, h Handler) error {
	return a.router.Route(domain, verb, path, h)
}

func (a *App) GET(path string, h Handler) error    { return a.Handle(router.Get, path, h) }
func (a *App) POST(path string, h Handler) error   { return a.Handle(router.Post, path, h) }
func (a *App) PUT(path string, h Handler) error    { return a.Handle(router.Put, path, h) }
func (a *App) PATCH(path string, h Handler) error  { return a.Handle(router.Patch, path, h) }
func (a *App) DELETE(path string, h Handler) error { return a.Handle(router.Delete, path, h) }

// Path starts a route builder.
func (a *App) Path(path string) *router.Builder[Handler] {
	return a.router.Path(path)
}

// Routes lists the registered routes in registration order.
func (a *App) Routes() []router.Route[Handler] {
	return a.router.Routes()
}
